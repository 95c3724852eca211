package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/skillup-labs/skillup-live/internal/models"
	"github.com/skillup-labs/skillup-live/pkg/crypto"
)

// DefaultRefreshTokenTTL is the fallback refresh token lifetime.
const DefaultRefreshTokenTTL = 30 * 24 * time.Hour

// RefreshConfig describes tunable behaviour for the RefreshService.
type RefreshConfig struct {
	RefreshTokenTTL time.Duration
	TokenLength     int
	Clock           func() time.Time
}

// TokenPair represents an access token and refresh token pair.
type TokenPair struct {
	AccessToken  string
	RefreshToken string
}

var (
	// ErrRefreshNotFound indicates that no record matches the provided token.
	ErrRefreshNotFound = errors.New("refresh: not found")
	// ErrRefreshRevoked marks a token revoked by the user or by a device revocation.
	ErrRefreshRevoked = errors.New("refresh: revoked")
	// ErrRefreshExpired signals that a refresh token has reached its expiry.
	ErrRefreshExpired = errors.New("refresh: expired")
	// ErrRefreshInvalidToken is returned when the supplied refresh token is malformed.
	ErrRefreshInvalidToken = errors.New("refresh: invalid token")
)

// RefreshService manages issuance, rotation, and revocation of refresh tokens.
// Every token is bound to the device session it was issued on so that revoking
// a device also invalidates its credentials.
type RefreshService struct {
	db       *gorm.DB
	jwt      *JWTService
	ttl      time.Duration
	tokenLen int
	now      func() time.Time
}

// NewRefreshService constructs a refresh token manager backed by the provided database.
func NewRefreshService(db *gorm.DB, jwtService *JWTService, cfg RefreshConfig) (*RefreshService, error) {
	if db == nil {
		return nil, errors.New("refresh service: db is required")
	}
	if jwtService == nil {
		return nil, errors.New("refresh service: jwt service is required")
	}

	ttl := cfg.RefreshTokenTTL
	if ttl <= 0 {
		ttl = DefaultRefreshTokenTTL
	}

	length := cfg.TokenLength
	if length <= 0 {
		length = 48
	}

	clock := time.Now
	if cfg.Clock != nil {
		clock = cfg.Clock
	}

	return &RefreshService{
		db:       db,
		jwt:      jwtService,
		ttl:      ttl,
		tokenLen: length,
		now:      clock,
	}, nil
}

// Issue creates a refresh token bound to the device session and returns it
// together with a fresh access token for the user.
func (s *RefreshService) Issue(user *models.User, deviceSessionID string) (TokenPair, error) {
	if user == nil || strings.TrimSpace(user.ID) == "" {
		return TokenPair{}, errors.New("refresh service: user is required")
	}

	refreshToken, err := crypto.GenerateToken(s.tokenLen)
	if err != nil {
		return TokenPair{}, fmt.Errorf("refresh service: generate token: %w", err)
	}

	now := s.now()
	record := &models.RefreshToken{
		UserID:          user.ID,
		DeviceSessionID: strings.TrimSpace(deviceSessionID),
		Token:           refreshToken,
		ExpiresAt:       now.Add(s.ttl),
		LastUsedAt:      now,
	}

	if err := s.db.Create(record).Error; err != nil {
		return TokenPair{}, fmt.Errorf("refresh service: create token: %w", err)
	}

	accessToken, err := s.jwt.GenerateAccessToken(AccessTokenInput{
		UserID:          user.ID,
		Email:           user.Email,
		Name:            user.Name,
		Role:            user.Role,
		DeviceSessionID: record.DeviceSessionID,
	})
	if err != nil {
		return TokenPair{}, fmt.Errorf("refresh service: generate access token: %w", err)
	}

	return TokenPair{AccessToken: accessToken, RefreshToken: refreshToken}, nil
}

// Rotate exchanges a valid refresh token for a new pair, invalidating the old token.
func (s *RefreshService) Rotate(ctx context.Context, refreshToken string) (TokenPair, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	refreshToken = strings.TrimSpace(refreshToken)
	if refreshToken == "" {
		return TokenPair{}, ErrRefreshInvalidToken
	}

	var record models.RefreshToken
	err := s.db.WithContext(ctx).Where("token = ?", refreshToken).Take(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return TokenPair{}, ErrRefreshNotFound
	}
	if err != nil {
		return TokenPair{}, fmt.Errorf("refresh service: find token: %w", err)
	}

	now := s.now()
	if record.RevokedAt != nil {
		return TokenPair{}, ErrRefreshRevoked
	}
	if record.ExpiresAt.Before(now) {
		return TokenPair{}, ErrRefreshExpired
	}

	newToken, err := crypto.GenerateToken(s.tokenLen)
	if err != nil {
		return TokenPair{}, fmt.Errorf("refresh service: generate token: %w", err)
	}

	updates := map[string]any{
		"token":        newToken,
		"expires_at":   now.Add(s.ttl),
		"last_used_at": now,
	}
	if err := s.db.WithContext(ctx).Model(&record).Updates(updates).Error; err != nil {
		return TokenPair{}, fmt.Errorf("refresh service: rotate token: %w", err)
	}

	var user models.User
	if err := s.db.WithContext(ctx).Take(&user, "id = ?", record.UserID).Error; err != nil {
		return TokenPair{}, fmt.Errorf("refresh service: load user: %w", err)
	}

	accessToken, err := s.jwt.GenerateAccessToken(AccessTokenInput{
		UserID:          user.ID,
		Email:           user.Email,
		Name:            user.Name,
		Role:            user.Role,
		DeviceSessionID: record.DeviceSessionID,
	})
	if err != nil {
		return TokenPair{}, fmt.Errorf("refresh service: generate access token: %w", err)
	}

	return TokenPair{AccessToken: accessToken, RefreshToken: newToken}, nil
}

// RevokeDevice revokes every active refresh token bound to a device session.
func (s *RefreshService) RevokeDevice(ctx context.Context, deviceSessionID string) (int64, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	deviceSessionID = strings.TrimSpace(deviceSessionID)
	if deviceSessionID == "" {
		return 0, ErrRefreshInvalidToken
	}

	result := s.db.WithContext(ctx).Model(&models.RefreshToken{}).
		Where("device_session_id = ? AND revoked_at IS NULL", deviceSessionID).
		Update("revoked_at", s.now())
	if result.Error != nil {
		return 0, fmt.Errorf("refresh service: revoke device tokens: %w", result.Error)
	}
	return result.RowsAffected, nil
}

// RevokeUser revokes active refresh tokens for a user. Device session ids in
// keep are spared, which supports revoking every device except the current one.
func (s *RefreshService) RevokeUser(ctx context.Context, userID string, keep ...string) (int64, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if strings.TrimSpace(userID) == "" {
		return 0, ErrRefreshInvalidToken
	}

	query := s.db.WithContext(ctx).Model(&models.RefreshToken{}).
		Where("user_id = ? AND revoked_at IS NULL", userID)
	kept := make([]string, 0, len(keep))
	for _, id := range keep {
		if id = strings.TrimSpace(id); id != "" {
			kept = append(kept, id)
		}
	}
	if len(kept) > 0 {
		query = query.Where("device_session_id NOT IN ?", kept)
	}

	result := query.Update("revoked_at", s.now())
	if result.Error != nil {
		return 0, fmt.Errorf("refresh service: revoke user tokens: %w", result.Error)
	}
	return result.RowsAffected, nil
}

// CleanupExpired deletes expired and revoked refresh tokens.
func (s *RefreshService) CleanupExpired(ctx context.Context) (int64, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	result := s.db.WithContext(ctx).
		Where("expires_at < ?", s.now()).
		Or("revoked_at IS NOT NULL").
		Delete(&models.RefreshToken{})
	if result.Error != nil {
		return 0, fmt.Errorf("refresh service: cleanup tokens: %w", result.Error)
	}
	return result.RowsAffected, nil
}
