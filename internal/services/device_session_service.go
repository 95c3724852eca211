package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/skillup-labs/skillup-live/internal/models"
	"github.com/skillup-labs/skillup-live/internal/realtime"
	"github.com/skillup-labs/skillup-live/pkg/crypto"
	apperrors "github.com/skillup-labs/skillup-live/pkg/errors"
	"github.com/skillup-labs/skillup-live/pkg/logger"
	"github.com/skillup-labs/skillup-live/pkg/metrics"
)

// CredentialRevoker invalidates refresh credentials bound to device sessions.
// Revoking a device without cutting its credentials would leave a zombie login.
type CredentialRevoker interface {
	RevokeDevice(ctx context.Context, deviceSessionID string) (int64, error)
	RevokeUser(ctx context.Context, userID string, keep ...string) (int64, error)
}

// UpsertDeviceInput carries the login-time device registration fields.
type UpsertDeviceInput struct {
	UserID     string
	DeviceID   string
	DeviceName string
	Platform   string
	UserAgent  string
	IPAddress  string
}

// DeviceView annotates a device record with whether it is the caller's own.
type DeviceView struct {
	models.DeviceSession
	IsCurrent bool `json:"is_current"`
}

// DeviceSessionService owns the per-user device registry: liveness, the single
// push token bound to each device, and revocation. Mutations for one
// (user, device) pair are serialised.
type DeviceSessionService struct {
	db          *gorm.DB
	bus         realtime.Bus
	credentials CredentialRevoker
	locks       *keyedMutex
	now         func() time.Time
	log         *zap.Logger
}

// NewDeviceSessionService constructs the device registry service. bus and
// credentials may be nil in tests.
func NewDeviceSessionService(db *gorm.DB, bus realtime.Bus, credentials CredentialRevoker, clock func() time.Time) (*DeviceSessionService, error) {
	if db == nil {
		return nil, errors.New("device session service: db is required")
	}

	if clock == nil {
		clock = time.Now
	}

	return &DeviceSessionService{
		db:          db,
		bus:         bus,
		credentials: credentials,
		locks:       newKeyedMutex(),
		now:         clock,
		log:         logger.WithModule("devices"),
	}, nil
}

func deviceKey(userID, deviceID string) string {
	return userID + "|" + deviceID
}

// tokenKey serialises rebinds of one push token across device keys. Always
// acquired after the device key to keep lock ordering acyclic.
func tokenKey(token string) string {
	return "token|" + token
}

// Upsert registers a device at login, reactivating a previously revoked
// record for the same (user, device) pair instead of duplicating it.
func (s *DeviceSessionService) Upsert(ctx context.Context, input UpsertDeviceInput) (*models.DeviceSession, error) {
	ctx = ensureContext(ctx)

	input.UserID = strings.TrimSpace(input.UserID)
	input.DeviceID = strings.TrimSpace(input.DeviceID)
	if input.UserID == "" {
		return nil, apperrors.NewBadRequest("user id is required")
	}
	if input.DeviceID == "" {
		return nil, apperrors.ErrDeviceIDRequired
	}

	unlock := s.locks.Lock(deviceKey(input.UserID, input.DeviceID))
	defer unlock()

	now := s.now()

	var device models.DeviceSession
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND device_id = ?", input.UserID, input.DeviceID).
		Take(&device).Error

	switch {
	case err == nil:
		device.IsActive = true
		device.RevokedAt = nil
		device.LastActiveAt = now
		device.UserAgent = input.UserAgent
		device.IPAddress = input.IPAddress
		if name := strings.TrimSpace(input.DeviceName); name != "" {
			device.DeviceName = name
		}
		if platform := strings.TrimSpace(input.Platform); platform != "" {
			device.Platform = models.NormalizePlatform(platform)
		}
		if err := s.db.WithContext(ctx).Save(&device).Error; err != nil {
			return nil, apperrors.ErrPersistence.WithInternal(err)
		}

	case errors.Is(err, gorm.ErrRecordNotFound):
		device = models.DeviceSession{
			UserID:       input.UserID,
			DeviceID:     input.DeviceID,
			DeviceName:   defaultIfEmpty(input.DeviceName, "Unknown Device"),
			Platform:     models.NormalizePlatform(input.Platform),
			UserAgent:    input.UserAgent,
			IPAddress:    input.IPAddress,
			LastActiveAt: now,
			IsActive:     true,
		}
		if err := s.db.WithContext(ctx).Create(&device).Error; err != nil {
			return nil, apperrors.ErrPersistence.WithInternal(err)
		}

	default:
		return nil, apperrors.ErrPersistence.WithInternal(err)
	}

	return &device, nil
}

// BindPushToken binds a push token to one of the user's devices. The token is
// first cleared from every record that holds it, anywhere in the system, so a
// token never follows a user between accounts or devices. Missing devices are
// tolerated; the binding degrades to the most recently active device or a
// minimal legacy record.
func (s *DeviceSessionService) BindPushToken(ctx context.Context, userID, deviceID, token string) (*models.DeviceSession, error) {
	ctx = ensureContext(ctx)

	userID = strings.TrimSpace(userID)
	deviceID = strings.TrimSpace(deviceID)
	token = strings.TrimSpace(token)
	if userID == "" {
		return nil, apperrors.NewBadRequest("user id is required")
	}
	if token == "" {
		return nil, apperrors.NewBadRequest("push token is required")
	}

	unlock := s.locks.Lock(deviceKey(userID, deviceID))
	defer unlock()
	unlockToken := s.locks.Lock(tokenKey(token))
	defer unlockToken()

	now := s.now()

	var device models.DeviceSession
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// The clear and the new binding must land together or a concurrent
		// rebind can leave the token on two rows.
		if err := tx.Model(&models.DeviceSession{}).
			Where("fcm_token = ?", token).
			Update("fcm_token", nil).Error; err != nil {
			return err
		}

		err := gorm.ErrRecordNotFound
		if deviceID != "" {
			err = tx.Where("user_id = ? AND device_id = ? AND is_active = ?", userID, deviceID, true).
				Take(&device).Error
		}
		if errors.Is(err, gorm.ErrRecordNotFound) {
			err = tx.Where("user_id = ? AND is_active = ?", userID, true).
				Order("last_active_at DESC").
				Take(&device).Error
		}

		if errors.Is(err, gorm.ErrRecordNotFound) {
			suffix, randErr := crypto.RandomHex(4)
			if randErr != nil {
				return fmt.Errorf("generate legacy device id: %w", randErr)
			}
			device = models.DeviceSession{
				UserID:       userID,
				DeviceID:     fmt.Sprintf("legacy-%s", suffix),
				DeviceName:   "Unknown Device",
				Platform:     models.PlatformWeb,
				FCMToken:     &token,
				LastActiveAt: now,
				IsActive:     true,
			}
			return tx.Create(&device).Error
		}
		if err != nil {
			return err
		}

		device.FCMToken = &token
		device.LastActiveAt = now
		// Targeted columns only; a full-row write could resurrect state a
		// concurrent revocation just changed.
		return tx.Model(&device).Updates(map[string]any{
			"fcm_token":      token,
			"last_active_at": now,
		}).Error
	})
	if err != nil {
		return nil, apperrors.ErrPersistence.WithInternal(err)
	}
	return &device, nil
}

// UnbindPushToken clears a token from the user's records, matching by device
// id or by token value, whichever the caller supplied.
func (s *DeviceSessionService) UnbindPushToken(ctx context.Context, userID, deviceID, token string) error {
	ctx = ensureContext(ctx)

	userID = strings.TrimSpace(userID)
	deviceID = strings.TrimSpace(deviceID)
	token = strings.TrimSpace(token)
	if userID == "" {
		return apperrors.NewBadRequest("user id is required")
	}
	if deviceID == "" && token == "" {
		return apperrors.NewBadRequest("device id or push token is required")
	}

	query := s.db.WithContext(ctx).
		Model(&models.DeviceSession{}).
		Where("user_id = ?", userID)
	switch {
	case deviceID != "" && token != "":
		query = query.Where("device_id = ? OR fcm_token = ?", deviceID, token)
	case deviceID != "":
		query = query.Where("device_id = ?", deviceID)
	default:
		query = query.Where("fcm_token = ?", token)
	}

	if err := query.Update("fcm_token", nil).Error; err != nil {
		return apperrors.ErrPersistence.WithInternal(err)
	}
	return nil
}

// ListActive returns the user's active devices, most recently active first,
// annotated with which record belongs to the presented device id.
func (s *DeviceSessionService) ListActive(ctx context.Context, userID, currentDeviceID string) ([]DeviceView, error) {
	ctx = ensureContext(ctx)

	var devices []models.DeviceSession
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND is_active = ?", strings.TrimSpace(userID), true).
		Order("last_active_at DESC").
		Find(&devices).Error
	if err != nil {
		return nil, apperrors.ErrPersistence.WithInternal(err)
	}

	views := make([]DeviceView, len(devices))
	for i, device := range devices {
		views[i] = DeviceView{
			DeviceSession: device,
			IsCurrent:     currentDeviceID != "" && device.DeviceID == currentDeviceID,
		}
	}
	return views, nil
}

// Revoke deactivates one of the user's other devices, cuts its refresh
// credentials and notifies the device over the realtime bus. The caller's own
// device is rejected; logging out is the way to drop it.
func (s *DeviceSessionService) Revoke(ctx context.Context, userID, deviceID, currentDeviceID string) error {
	ctx = ensureContext(ctx)

	userID = strings.TrimSpace(userID)
	deviceID = strings.TrimSpace(deviceID)
	if userID == "" {
		return apperrors.NewBadRequest("user id is required")
	}
	if deviceID == "" {
		return apperrors.ErrDeviceIDRequired
	}
	if currentDeviceID != "" && deviceID == currentDeviceID {
		return apperrors.ErrCannotRevokeCurrentDevice
	}

	unlock := s.locks.Lock(deviceKey(userID, deviceID))
	defer unlock()

	var device models.DeviceSession
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND device_id = ? AND is_active = ?", userID, deviceID, true).
		Take(&device).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return apperrors.ErrNotFound.WithMessage("Device not found")
	}
	if err != nil {
		return apperrors.ErrPersistence.WithInternal(err)
	}

	now := s.now()
	updates := map[string]any{
		"is_active":  false,
		"revoked_at": now,
		"fcm_token":  nil,
	}
	if err := s.db.WithContext(ctx).Model(&device).Updates(updates).Error; err != nil {
		return apperrors.ErrPersistence.WithInternal(err)
	}

	s.revokeCredentialsForDevice(ctx, device.ID)
	metrics.DeviceRevocations.WithLabelValues("single").Inc()

	s.emitToUser(userID, realtime.EventDeviceRevoked, map[string]any{
		"device_id": deviceID,
	})
	return nil
}

// RevokeAllExceptCurrent deactivates every active device of the user except
// the one the caller presented.
func (s *DeviceSessionService) RevokeAllExceptCurrent(ctx context.Context, userID, currentDeviceID string) (int64, error) {
	ctx = ensureContext(ctx)

	userID = strings.TrimSpace(userID)
	currentDeviceID = strings.TrimSpace(currentDeviceID)
	if userID == "" {
		return 0, apperrors.NewBadRequest("user id is required")
	}
	if currentDeviceID == "" {
		return 0, apperrors.ErrDeviceIDRequired
	}

	now := s.now()

	// Collect targets first; their record ids drive credential revocation.
	var targets []models.DeviceSession
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND is_active = ? AND device_id <> ?", userID, true, currentDeviceID).
		Find(&targets).Error
	if err != nil {
		return 0, apperrors.ErrPersistence.WithInternal(err)
	}
	if len(targets) == 0 {
		return 0, nil
	}

	ids := make([]string, 0, len(targets))
	keys := make([]string, 0, len(targets))
	for _, target := range targets {
		ids = append(ids, target.ID)
		keys = append(keys, deviceKey(userID, target.DeviceID))
	}

	// Hold every target's device lock so single-device mutations cannot
	// interleave; sorted order keeps concurrent revoke-alls deadlock free.
	sort.Strings(keys)
	for _, key := range keys {
		unlock := s.locks.Lock(key)
		defer unlock()
	}

	result := s.db.WithContext(ctx).
		Model(&models.DeviceSession{}).
		Where("id IN ? AND is_active = ?", ids, true).
		Updates(map[string]any{
			"is_active":  false,
			"revoked_at": now,
			"fcm_token":  nil,
		})
	if result.Error != nil {
		return 0, apperrors.ErrPersistence.WithInternal(result.Error)
	}

	var keep []string
	var current models.DeviceSession
	if err := s.db.WithContext(ctx).
		Where("user_id = ? AND device_id = ?", userID, currentDeviceID).
		Take(&current).Error; err == nil {
		keep = append(keep, current.ID)
	}
	if s.credentials != nil {
		if _, err := s.credentials.RevokeUser(ctx, userID, keep...); err != nil {
			s.log.Error("revoke user credentials failed",
				zap.String("user_id", userID), zap.Error(err))
		}
	}

	metrics.DeviceRevocations.WithLabelValues("all").Add(float64(result.RowsAffected))

	s.emitToUser(userID, realtime.EventAllDevicesRevoked, map[string]any{
		"except_device_id": currentDeviceID,
	})
	return result.RowsAffected, nil
}

// Touch refreshes a device's last activity timestamp. Best effort; failures
// are logged and never surfaced.
func (s *DeviceSessionService) Touch(ctx context.Context, userID, deviceID string) {
	ctx = ensureContext(ctx)

	userID = strings.TrimSpace(userID)
	deviceID = strings.TrimSpace(deviceID)
	if userID == "" || deviceID == "" {
		return
	}

	err := s.db.WithContext(ctx).
		Model(&models.DeviceSession{}).
		Where("user_id = ? AND device_id = ? AND is_active = ?", userID, deviceID, true).
		Update("last_active_at", s.now()).Error
	if err != nil {
		s.log.Debug("device touch failed",
			zap.String("user_id", userID),
			zap.String("device_id", deviceID),
			zap.Error(err))
	}
}

// DeactivateIdle marks devices inactive after a period without activity.
// Used by the maintenance sweep.
func (s *DeviceSessionService) DeactivateIdle(ctx context.Context, idleFor time.Duration) (int64, error) {
	ctx = ensureContext(ctx)

	if idleFor <= 0 {
		return 0, apperrors.NewBadRequest("idle duration must be positive")
	}

	cutoff := s.now().Add(-idleFor)
	result := s.db.WithContext(ctx).
		Model(&models.DeviceSession{}).
		Where("is_active = ? AND last_active_at < ?", true, cutoff).
		Updates(map[string]any{
			"is_active": false,
			"fcm_token": nil,
		})
	if result.Error != nil {
		return 0, apperrors.ErrPersistence.WithInternal(result.Error)
	}
	return result.RowsAffected, nil
}

func (s *DeviceSessionService) revokeCredentialsForDevice(ctx context.Context, deviceSessionID string) {
	if s.credentials == nil {
		return
	}
	if _, err := s.credentials.RevokeDevice(ctx, deviceSessionID); err != nil {
		s.log.Error("revoke device credentials failed",
			zap.String("device_session_id", deviceSessionID), zap.Error(err))
	}
}

func (s *DeviceSessionService) emitToUser(userID, event string, payload any) {
	if s.bus == nil {
		return
	}
	s.bus.EmitToUser(userID, event, payload)
}
