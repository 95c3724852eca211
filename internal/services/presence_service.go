package services

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/skillup-labs/skillup-live/internal/identity"
	"github.com/skillup-labs/skillup-live/internal/models"
	"github.com/skillup-labs/skillup-live/internal/realtime"
	apperrors "github.com/skillup-labs/skillup-live/pkg/errors"
	"github.com/skillup-labs/skillup-live/pkg/logger"
	"github.com/skillup-labs/skillup-live/pkg/metrics"
)

// DeviceInfo describes the device a participant joins from.
type DeviceInfo struct {
	DeviceID string
	Platform string
}

// JoinResult reports the outcome of a join. AlreadyActive marks the
// idempotent no-op path taken when the participant holds an open entry.
type JoinResult struct {
	AlreadyActive bool                       `json:"already_active"`
	ParticipantID string                     `json:"participant_id"`
	ActiveCount   int64                      `json:"active_count"`
	Entry         *models.SessionParticipant `json:"entry,omitempty"`
}

// LeaveResult reports the outcome of a leave. WasActive is false when the
// participant had no open entry, which is a no-op rather than an error.
type LeaveResult struct {
	WasActive     bool   `json:"was_active"`
	ParticipantID string `json:"participant_id"`
	ActiveCount   int64  `json:"active_count"`
}

// PresenceService owns the participant roster of live sessions. It shares the
// per-session lock with the lifecycle service so roster mutations never
// interleave with state transitions.
type PresenceService struct {
	db       *gorm.DB
	bus      realtime.Bus
	sessions *LiveSessionService
	now      func() time.Time
	log      *zap.Logger
}

// NewPresenceService constructs the presence tracker.
func NewPresenceService(db *gorm.DB, bus realtime.Bus, sessions *LiveSessionService, clock func() time.Time) (*PresenceService, error) {
	if db == nil {
		return nil, errors.New("presence service: db is required")
	}
	if sessions == nil {
		return nil, errors.New("presence service: session service is required")
	}

	if clock == nil {
		clock = time.Now
	}

	return &PresenceService{
		db:       db,
		bus:      bus,
		sessions: sessions,
		now:      clock,
		log:      logger.WithModule("presence"),
	}, nil
}

// Join marks the caller present in a live session. Repeated joins by the same
// human, from any device, collapse into one active entry.
func (s *PresenceService) Join(ctx context.Context, sessionID string, caller Principal, device DeviceInfo) (*JoinResult, error) {
	ctx = ensureContext(ctx)

	participantID := identity.Participant(caller.Email, caller.ID)
	if participantID == "" {
		return nil, apperrors.NewBadRequest("caller identity is required")
	}

	unlock := s.sessions.locks.Lock(sessionID)
	defer unlock()

	session, err := s.sessions.load(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if session.Status != models.SessionStatusLive {
		return nil, apperrors.ErrSessionNotLive
	}

	var existing models.SessionParticipant
	err = s.db.WithContext(ctx).
		Where("session_id = ? AND participant_id = ? AND left_at IS NULL", sessionID, participantID).
		Take(&existing).Error
	if err == nil {
		count, countErr := s.activeCount(ctx, sessionID)
		if countErr != nil {
			return nil, countErr
		}
		return &JoinResult{
			AlreadyActive: true,
			ParticipantID: participantID,
			ActiveCount:   count,
			Entry:         &existing,
		}, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperrors.ErrPersistence.WithInternal(err)
	}

	now := s.now()

	// Close residual open entries left behind by crashes before appending.
	// This keeps the roster permissive for re-joins instead of rejecting them.
	if err := s.db.WithContext(ctx).
		Model(&models.SessionParticipant{}).
		Where("session_id = ? AND participant_id = ? AND left_at IS NULL", sessionID, participantID).
		Update("left_at", now).Error; err != nil {
		return nil, apperrors.ErrPersistence.WithInternal(err)
	}

	entry := &models.SessionParticipant{
		SessionID:     sessionID,
		ParticipantID: participantID,
		Name:          caller.Name,
		Email:         caller.Email,
		DeviceID:      strings.TrimSpace(device.DeviceID),
		Platform:      models.NormalizePlatform(device.Platform),
		JoinedAt:      now,
	}
	if err := s.db.WithContext(ctx).Create(entry).Error; err != nil {
		return nil, apperrors.ErrPersistence.WithInternal(err)
	}

	count, err := s.activeCount(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	if int(count) > session.MaxParticipants {
		if err := s.db.WithContext(ctx).
			Model(session).
			Update("max_participants", count).Error; err != nil {
			return nil, apperrors.ErrPersistence.WithInternal(err)
		}
	}

	metrics.ActiveParticipants.Inc()

	s.emitToSession(sessionID, realtime.EventParticipantJoined, map[string]any{
		"session_id":     sessionID,
		"participant_id": participantID,
		"name":           caller.Name,
		"active_count":   count,
	})
	s.emitToUser(participantID, realtime.EventActiveSessionChanged, map[string]any{
		"has_active_session": true,
		"session":            sessionEventPayload(session, count),
		"device": map[string]any{
			"device_id": entry.DeviceID,
			"platform":  entry.Platform,
		},
	})

	return &JoinResult{
		ParticipantID: participantID,
		ActiveCount:   count,
		Entry:         entry,
	}, nil
}

// Leave closes the caller's active entry if one exists.
func (s *PresenceService) Leave(ctx context.Context, sessionID string, caller Principal) (*LeaveResult, error) {
	ctx = ensureContext(ctx)

	participantID := identity.Participant(caller.Email, caller.ID)
	if participantID == "" {
		return nil, apperrors.NewBadRequest("caller identity is required")
	}

	unlock := s.sessions.locks.Lock(sessionID)
	defer unlock()

	session, err := s.sessions.load(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	var entry models.SessionParticipant
	err = s.db.WithContext(ctx).
		Where("session_id = ? AND participant_id = ? AND left_at IS NULL", sessionID, participantID).
		Take(&entry).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return &LeaveResult{ParticipantID: participantID}, nil
	}
	if err != nil {
		return nil, apperrors.ErrPersistence.WithInternal(err)
	}

	now := s.now()
	if err := s.db.WithContext(ctx).
		Model(&entry).
		Update("left_at", now).Error; err != nil {
		return nil, apperrors.ErrPersistence.WithInternal(err)
	}

	count, err := s.activeCount(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	metrics.ActiveParticipants.Dec()

	s.emitToSession(sessionID, realtime.EventParticipantLeft, map[string]any{
		"session_id":     sessionID,
		"participant_id": participantID,
		"name":           entry.Name,
		"active_count":   count,
	})
	s.emitToUser(participantID, realtime.EventActiveSessionChanged, map[string]any{
		"has_active_session": false,
		"session":            sessionEventPayload(session, count),
	})

	return &LeaveResult{
		WasActive:     true,
		ParticipantID: participantID,
		ActiveCount:   count,
	}, nil
}

// Roster returns the full participant log of a session, active entries first.
func (s *PresenceService) Roster(ctx context.Context, sessionID string) ([]models.SessionParticipant, error) {
	ctx = ensureContext(ctx)

	if _, err := s.sessions.load(ctx, sessionID); err != nil {
		return nil, err
	}

	var entries []models.SessionParticipant
	err := s.db.WithContext(ctx).
		Where("session_id = ?", sessionID).
		Order("left_at IS NULL DESC, joined_at ASC").
		Find(&entries).Error
	if err != nil {
		return nil, apperrors.ErrPersistence.WithInternal(err)
	}
	return entries, nil
}

func (s *PresenceService) activeCount(ctx context.Context, sessionID string) (int64, error) {
	var count int64
	err := s.db.WithContext(ctx).
		Model(&models.SessionParticipant{}).
		Where("session_id = ? AND left_at IS NULL", sessionID).
		Count(&count).Error
	if err != nil {
		return 0, apperrors.ErrPersistence.WithInternal(err)
	}
	return count, nil
}

func (s *PresenceService) emitToSession(sessionID, event string, payload any) {
	if s.bus == nil {
		return
	}
	s.bus.EmitToSession(sessionID, event, payload)
}

func (s *PresenceService) emitToUser(participantID, event string, payload any) {
	if s.bus == nil {
		return
	}
	s.bus.EmitToUser(participantID, event, payload)
}
