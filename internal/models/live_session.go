package models

import (
	"time"
)

// Session types bind a live session to exactly one catalog entity.
const (
	SessionTypeCourse     = "COURSE"
	SessionTypeProject    = "PROJECT"
	SessionTypeInternship = "INTERNSHIP"
)

// Session lifecycle states. Transitions are enforced by the lifecycle service.
const (
	SessionStatusScheduled = "SCHEDULED"
	SessionStatusLive      = "LIVE"
	SessionStatusEnded     = "ENDED"
	SessionStatusCancelled = "CANCELLED"
)

// ValidSessionType reports whether the supplied type is one of the known kinds.
func ValidSessionType(sessionType string) bool {
	switch sessionType {
	case SessionTypeCourse, SessionTypeProject, SessionTypeInternship:
		return true
	}
	return false
}

// LiveSession represents a scheduled, time-bounded realtime event tied to a
// course, project or internship.
type LiveSession struct {
	BaseModel

	Title       string `gorm:"type:varchar(255);not null" json:"title"`
	Description string `gorm:"type:text" json:"description"`

	SessionType   string `gorm:"type:varchar(16);not null;index:idx_sessions_type_reference" json:"session_type"`
	ReferenceID   string `gorm:"type:uuid;not null;index:idx_sessions_type_reference" json:"reference_id"`
	ReferenceName string `gorm:"type:varchar(255)" json:"reference_name"`

	HostID   string `gorm:"type:uuid;index" json:"host_id"`
	HostName string `gorm:"type:varchar(255)" json:"host_name"`

	ScheduledAt     time.Time `gorm:"not null;index" json:"scheduled_at"`
	DurationMinutes int       `gorm:"not null;default:60" json:"duration_minutes"`

	Status string `gorm:"type:varchar(16);not null;index" json:"status"`

	// RoomID is generated once at first persist and never regenerated.
	RoomID string `gorm:"uniqueIndex" json:"room_id"`

	// MaxParticipants is a monotone high-water mark of concurrently active participants.
	MaxParticipants int `gorm:"not null;default:0" json:"max_participants"`

	StartedAt *time.Time `gorm:"index" json:"started_at,omitempty"`
	EndedAt   *time.Time `gorm:"index" json:"ended_at,omitempty"`

	Participants []SessionParticipant `gorm:"foreignKey:SessionID" json:"participants,omitempty"`
}

// SessionParticipant is one entry of the append-only participant log of a
// session. Entries are never deleted, only marked left.
type SessionParticipant struct {
	BaseModel

	SessionID string `gorm:"type:uuid;not null;index:idx_participants_session_left" json:"session_id"`

	// ParticipantID is the hashed identity shared by all devices of one human.
	ParticipantID string `gorm:"type:varchar(32);not null;index" json:"participant_id"`

	Name     string `gorm:"type:varchar(255)" json:"name"`
	Email    string `gorm:"type:varchar(255)" json:"email"`
	DeviceID string `gorm:"type:varchar(128)" json:"device_id"`
	Platform string `gorm:"type:varchar(16);default:'web'" json:"platform"`

	JoinedAt time.Time  `gorm:"not null" json:"joined_at"`
	LeftAt   *time.Time `gorm:"index:idx_participants_session_left" json:"left_at,omitempty"`
}
