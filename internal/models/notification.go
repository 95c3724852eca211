package models

import (
	"gorm.io/datatypes"
)

// Notification delivery targets.
const (
	NotificationTargetAll      = "all"
	NotificationTargetSpecific = "specific"
)

// Notification delivery statuses. A record is "failed" only when every
// attempted token failed.
const (
	NotificationStatusSent   = "sent"
	NotificationStatusFailed = "failed"
)

// Notification is the persisted history record of one fanout. It is created
// the moment a send is requested and updated exactly once with final counts.
type Notification struct {
	BaseModel

	Title string `gorm:"type:varchar(255);not null" json:"title"`
	Body  string `gorm:"type:text;not null" json:"body"`

	Target        string         `gorm:"type:varchar(16);not null;default:'all'" json:"target"`
	TargetUserIDs datatypes.JSON `gorm:"type:json" json:"target_user_ids,omitempty"`

	SentByID string `gorm:"type:uuid;index" json:"sent_by_id,omitempty"`

	Status       string `gorm:"type:varchar(16);not null;default:'sent'" json:"status"`
	SuccessCount int    `gorm:"not null;default:0" json:"success_count"`
	FailureCount int    `gorm:"not null;default:0" json:"failure_count"`

	Data datatypes.JSON `gorm:"type:json" json:"data,omitempty"`
}
