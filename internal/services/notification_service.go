package services

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/skillup-labs/skillup-live/internal/models"
	"github.com/skillup-labs/skillup-live/internal/push"
	"github.com/skillup-labs/skillup-live/internal/realtime"
	apperrors "github.com/skillup-labs/skillup-live/pkg/errors"
	"github.com/skillup-labs/skillup-live/pkg/logger"
	"github.com/skillup-labs/skillup-live/pkg/metrics"
)

// defaultPushTimeout bounds one multicast round trip to the push provider.
const defaultPushTimeout = 10 * time.Second

// SendNotificationInput describes one fanout request.
type SendNotificationInput struct {
	Title         string
	Body          string
	Target        string
	TargetUserIDs []string
	Kind          string
	ImageURL      string
	Data          map[string]string
	SenderID      string
}

// SendResult summarises one fanout: how many devices were addressed and how
// the multicast went. NoDevices marks the not-an-error case of zero resolved
// push targets.
type SendResult struct {
	NotificationID  string `json:"notification_id"`
	Recipients      int    `json:"recipients"`
	TokensAttempted int    `json:"tokens_attempted"`
	SuccessCount    int    `json:"success_count"`
	FailureCount    int    `json:"failure_count"`
	Status          string `json:"status"`
	NoDevices       bool   `json:"no_devices"`
}

// NotificationConfig tunes the fanout engine.
type NotificationConfig struct {
	PushTimeout time.Duration
	Clock       func() time.Time

	// Classifier decides which per-token errors retire a token for good.
	// Defaults to the FCM classification.
	Classifier push.ErrorClassifier
}

// NotificationService resolves logical delivery targets into device tokens,
// persists a history record, mirrors the payload to connected clients and
// multicasts to the push provider, retiring tokens that are dead for good.
type NotificationService struct {
	db          *gorm.DB
	bus         realtime.Bus
	provider    push.Provider
	classifier  push.ErrorClassifier
	pushTimeout time.Duration
	now         func() time.Time
	log         *zap.Logger
}

// NewNotificationService constructs the fanout engine. bus and provider may
// be nil; the corresponding fanout steps are skipped.
func NewNotificationService(db *gorm.DB, bus realtime.Bus, provider push.Provider, cfg NotificationConfig) (*NotificationService, error) {
	if db == nil {
		return nil, errors.New("notification service: db is required")
	}

	timeout := cfg.PushTimeout
	if timeout <= 0 {
		timeout = defaultPushTimeout
	}

	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}

	classifier := cfg.Classifier
	if classifier == nil {
		classifier = push.IsPermanentTokenError
	}

	return &NotificationService{
		db:          db,
		bus:         bus,
		provider:    provider,
		classifier:  classifier,
		pushTimeout: timeout,
		now:         clock,
		log:         logger.WithModule("notifications"),
	}, nil
}

// Send runs the full fanout pipeline. Push-provider failures degrade to a
// partial result; they never invalidate the persisted record or the in-app
// event that already went out.
func (s *NotificationService) Send(ctx context.Context, input SendNotificationInput) (*SendResult, error) {
	ctx = ensureContext(ctx)

	input.Title = strings.TrimSpace(input.Title)
	input.Body = strings.TrimSpace(input.Body)
	if input.Title == "" || input.Body == "" {
		return nil, apperrors.NewBadRequest("title and body are required")
	}

	target := strings.ToLower(strings.TrimSpace(input.Target))
	if target == "" {
		target = models.NotificationTargetAll
	}
	if target != models.NotificationTargetAll && target != models.NotificationTargetSpecific {
		return nil, apperrors.NewBadRequest("target must be all or specific")
	}
	if target == models.NotificationTargetSpecific && len(dedupeStrings(input.TargetUserIDs)) == 0 {
		return nil, apperrors.NewBadRequest("target_user_ids is required for specific targets")
	}

	devices, err := s.resolveDevices(ctx, target, input.TargetUserIDs)
	if err != nil {
		return nil, err
	}

	userIDs := make([]string, 0, len(devices))
	tokens := make([]string, 0, len(devices))
	for _, device := range devices {
		userIDs = append(userIDs, device.UserID)
		if device.HasPushToken() {
			tokens = append(tokens, *device.FCMToken)
		}
	}
	userIDs = dedupeStrings(userIDs)
	tokens = dedupeStrings(tokens)

	record, err := s.persistRecord(ctx, input, target, userIDs)
	if err != nil {
		return nil, err
	}

	s.emitInApp(record, target, userIDs, input)

	result := &SendResult{
		NotificationID: record.ID,
		Recipients:     len(userIDs),
		Status:         models.NotificationStatusSent,
		NoDevices:      len(tokens) == 0,
	}
	if len(tokens) == 0 {
		return result, nil
	}

	result.TokensAttempted = len(tokens)
	success, failure, stale := s.multicast(ctx, input, tokens)
	result.SuccessCount = success
	result.FailureCount = failure

	status := models.NotificationStatusSent
	if success == 0 && failure > 0 {
		status = models.NotificationStatusFailed
	}
	result.Status = status

	updates := map[string]any{
		"success_count": success,
		"failure_count": failure,
		"status":        status,
	}
	if err := s.db.WithContext(ctx).Model(record).Updates(updates).Error; err != nil {
		s.log.Error("update delivery stats failed",
			zap.String("notification_id", record.ID), zap.Error(err))
	}

	s.retireTokens(ctx, stale)
	return result, nil
}

// History returns persisted notification records, newest first.
func (s *NotificationService) History(ctx context.Context, limit, offset int) ([]models.Notification, error) {
	ctx = ensureContext(ctx)

	if limit <= 0 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}

	var records []models.Notification
	err := s.db.WithContext(ctx).
		Order("created_at DESC").
		Limit(limit).
		Offset(offset).
		Find(&records).Error
	if err != nil {
		return nil, apperrors.ErrPersistence.WithInternal(err)
	}
	return records, nil
}

func (s *NotificationService) resolveDevices(ctx context.Context, target string, targetUserIDs []string) ([]models.DeviceSession, error) {
	query := s.db.WithContext(ctx).
		Where("is_active = ? AND fcm_token IS NOT NULL", true)
	if target == models.NotificationTargetSpecific {
		query = query.Where("user_id IN ?", dedupeStrings(targetUserIDs))
	}

	var devices []models.DeviceSession
	if err := query.Find(&devices).Error; err != nil {
		return nil, apperrors.ErrPersistence.WithInternal(err)
	}
	return devices, nil
}

func (s *NotificationService) persistRecord(ctx context.Context, input SendNotificationInput, target string, userIDs []string) (*models.Notification, error) {
	record := &models.Notification{
		Title:    input.Title,
		Body:     input.Body,
		Target:   target,
		SentByID: input.SenderID,
		Status:   models.NotificationStatusSent,
	}

	if len(userIDs) > 0 {
		encoded, err := json.Marshal(userIDs)
		if err != nil {
			return nil, apperrors.Wrap(err, "encode recipient ids")
		}
		record.TargetUserIDs = datatypes.JSON(encoded)
	}
	if len(input.Data) > 0 {
		encoded, err := json.Marshal(input.Data)
		if err != nil {
			return nil, apperrors.Wrap(err, "encode notification data")
		}
		record.Data = datatypes.JSON(encoded)
	}

	if err := s.db.WithContext(ctx).Create(record).Error; err != nil {
		return nil, apperrors.ErrPersistence.WithInternal(err)
	}
	return record, nil
}

// emitInApp mirrors the push payload to currently connected clients. Delivery
// here is independent of push delivery.
func (s *NotificationService) emitInApp(record *models.Notification, target string, userIDs []string, input SendNotificationInput) {
	if s.bus == nil {
		return
	}

	payload := map[string]any{
		"id":    record.ID,
		"title": record.Title,
		"body":  record.Body,
		"kind":  defaultIfEmpty(input.Kind, push.KindUpdate),
		"data":  cloneStringMap(input.Data),
	}

	if target == models.NotificationTargetSpecific {
		for _, userID := range userIDs {
			s.bus.EmitToUser(userID, realtime.EventNotification, payload)
		}
		return
	}
	s.bus.EmitToAll(realtime.EventNotification, payload)
}

// multicast sends to the provider and classifies per-token outcomes. A
// provider-level failure counts every token as failed without retiring any.
func (s *NotificationService) multicast(ctx context.Context, input SendNotificationInput, tokens []string) (success, failure int, stale []string) {
	if s.provider == nil {
		return 0, 0, nil
	}

	sendCtx, cancel := context.WithTimeout(ctx, s.pushTimeout)
	defer cancel()

	message := push.Message{
		Title:    input.Title,
		Body:     input.Body,
		ImageURL: input.ImageURL,
		Kind:     defaultIfEmpty(input.Kind, push.KindUpdate),
		Data:     cloneStringMap(input.Data),
	}

	outcomes, err := s.provider.SendMulticast(sendCtx, message, tokens)
	if err != nil {
		s.log.Error("push multicast failed", zap.Int("tokens", len(tokens)), zap.Error(err))
		metrics.PushDeliveries.WithLabelValues("failure").Add(float64(len(tokens)))
		return 0, len(tokens), nil
	}

	var deliveryErrs error
	for _, outcome := range outcomes {
		if outcome.OK() {
			success++
			continue
		}
		failure++
		deliveryErrs = multierr.Append(deliveryErrs, outcome.Err)
		if s.classifier(outcome.Err) {
			stale = append(stale, outcome.Token)
		}
	}

	metrics.PushDeliveries.WithLabelValues("success").Add(float64(success))
	metrics.PushDeliveries.WithLabelValues("failure").Add(float64(failure))

	if deliveryErrs != nil {
		s.log.Warn("push deliveries failed",
			zap.Int("failed", failure),
			zap.Int("stale", len(stale)),
			zap.Error(deliveryErrs))
	}
	return success, failure, stale
}

// retireTokens clears permanently invalid tokens from their device records.
func (s *NotificationService) retireTokens(ctx context.Context, tokens []string) {
	if len(tokens) == 0 {
		return
	}

	err := s.db.WithContext(ctx).
		Model(&models.DeviceSession{}).
		Where("fcm_token IN ?", tokens).
		Update("fcm_token", nil).Error
	if err != nil {
		s.log.Error("retire stale tokens failed", zap.Int("tokens", len(tokens)), zap.Error(err))
		return
	}

	metrics.StaleTokensRetired.Add(float64(len(tokens)))
}
