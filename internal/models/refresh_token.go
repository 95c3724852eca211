package models

import (
	"time"
)

// RefreshToken is a long-lived credential bound to a device session. Revoking
// the device revokes every token issued to it; that check is the enforcement
// mechanism behind remote logout, the realtime event is only a latency
// optimization.
type RefreshToken struct {
	BaseModel

	UserID          string `gorm:"type:uuid;not null;index" json:"user_id"`
	DeviceSessionID string `gorm:"type:uuid;not null;index" json:"device_session_id"`

	Token      string    `gorm:"uniqueIndex;not null" json:"-"`
	ExpiresAt  time.Time `gorm:"index;not null" json:"expires_at"`
	LastUsedAt time.Time `json:"last_used_at"`

	RevokedAt *time.Time `json:"revoked_at,omitempty"`
}
