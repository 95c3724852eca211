package models

import (
	"time"
)

// Supported device platforms.
const (
	PlatformAndroid = "android"
	PlatformIOS     = "ios"
	PlatformWeb     = "web"
)

// NormalizePlatform maps unknown platform strings to the web default.
func NormalizePlatform(platform string) string {
	switch platform {
	case PlatformAndroid, PlatformIOS, PlatformWeb:
		return platform
	}
	return PlatformWeb
}

// DeviceSession binds a user to one physical or browser device and at most
// one push token. Revocation deactivates the record until the next login.
type DeviceSession struct {
	BaseModel

	UserID   string `gorm:"type:uuid;not null;uniqueIndex:idx_device_sessions_user_device;index:idx_device_sessions_user_active" json:"user_id"`
	DeviceID string `gorm:"type:varchar(128);not null;uniqueIndex:idx_device_sessions_user_device" json:"device_id"`

	DeviceName string `gorm:"type:varchar(255);default:'Unknown Device'" json:"device_name"`
	Platform   string `gorm:"type:varchar(16);default:'web'" json:"platform"`
	UserAgent  string `gorm:"type:text" json:"user_agent,omitempty"`
	IPAddress  string `gorm:"type:varchar(64)" json:"ip_address,omitempty"`

	// FCMToken holds the single push token bound to this device, if any.
	FCMToken *string `gorm:"type:text;index" json:"-"`

	LastActiveAt time.Time  `gorm:"not null;index" json:"last_active_at"`
	IsActive     bool       `gorm:"not null;default:true;index:idx_device_sessions_user_active" json:"is_active"`
	RevokedAt    *time.Time `json:"revoked_at,omitempty"`
}

// HasPushToken reports whether a push token is currently bound to the device.
func (d *DeviceSession) HasPushToken() bool {
	return d != nil && d.FCMToken != nil && *d.FCMToken != ""
}
