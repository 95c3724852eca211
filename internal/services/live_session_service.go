package services

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/skillup-labs/skillup-live/internal/models"
	"github.com/skillup-labs/skillup-live/internal/push"
	"github.com/skillup-labs/skillup-live/internal/realtime"
	"github.com/skillup-labs/skillup-live/pkg/crypto"
	apperrors "github.com/skillup-labs/skillup-live/pkg/errors"
	"github.com/skillup-labs/skillup-live/pkg/logger"
	"github.com/skillup-labs/skillup-live/pkg/metrics"
)

// DefaultSessionDurationMinutes applies when a session is created without one.
const DefaultSessionDurationMinutes = 60

// defaultFanoutTimeout bounds the detached post-commit fanout work.
const defaultFanoutTimeout = 10 * time.Second

// Principal is the authenticated caller identity handed down by the transport.
type Principal struct {
	ID       string
	Email    string
	Name     string
	Role     string
	DeviceID string
}

// Notifier is the slice of the notification engine lifecycle transitions use.
type Notifier interface {
	Send(ctx context.Context, input SendNotificationInput) (*SendResult, error)
}

// LiveSessionConfig tunes the lifecycle service.
type LiveSessionConfig struct {
	Clock         func() time.Time
	FanoutTimeout time.Duration
}

// LiveSessionService owns the session state machine. All mutations for one
// session id are serialised through a per-session lock shared with the
// presence tracker.
type LiveSessionService struct {
	db            *gorm.DB
	bus           realtime.Bus
	notifier      Notifier
	locks         *keyedMutex
	now           func() time.Time
	fanoutTimeout time.Duration
	log           *zap.Logger
}

// NewLiveSessionService constructs the lifecycle service. bus and notifier may
// be nil in tests; fanout steps are skipped for nil collaborators.
func NewLiveSessionService(db *gorm.DB, bus realtime.Bus, notifier Notifier, cfg LiveSessionConfig) (*LiveSessionService, error) {
	if db == nil {
		return nil, errors.New("live session service: db is required")
	}

	clock := time.Now
	if cfg.Clock != nil {
		clock = cfg.Clock
	}

	timeout := cfg.FanoutTimeout
	if timeout <= 0 {
		timeout = defaultFanoutTimeout
	}

	return &LiveSessionService{
		db:            db,
		bus:           bus,
		notifier:      notifier,
		locks:         newKeyedMutex(),
		now:           clock,
		fanoutTimeout: timeout,
		log:           logger.WithModule("live_sessions"),
	}, nil
}

// CreateSessionInput carries the admin-supplied fields for a new session.
type CreateSessionInput struct {
	Title           string
	Description     string
	SessionType     string
	ReferenceID     string
	ScheduledAt     time.Time
	DurationMinutes int
	Host            Principal
}

// UpdateSessionInput is a partial update; nil fields are left untouched.
type UpdateSessionInput struct {
	Title           *string
	Description     *string
	ScheduledAt     *time.Time
	DurationMinutes *int
}

// SessionView is a session read model enriched with the derived active count.
type SessionView struct {
	models.LiveSession
	ActiveParticipantsCount int64 `json:"active_participants_count"`
}

// ListSessionsFilter narrows List results. Zero values mean "no filter";
// ended sessions are excluded unless IncludeEnded is set.
type ListSessionsFilter struct {
	SessionType  string
	ReferenceID  string
	Status       string
	IncludeEnded bool
}

// Create validates the catalog reference and persists a SCHEDULED session with
// a freshly generated, immutable room id.
func (s *LiveSessionService) Create(ctx context.Context, input CreateSessionInput) (*SessionView, error) {
	ctx = ensureContext(ctx)

	input.SessionType = strings.ToUpper(strings.TrimSpace(input.SessionType))
	if !models.ValidSessionType(input.SessionType) {
		return nil, apperrors.NewBadRequest("session_type must be one of COURSE, PROJECT or INTERNSHIP")
	}
	if strings.TrimSpace(input.ReferenceID) == "" {
		return nil, apperrors.NewBadRequest("reference_id is required")
	}
	if input.ScheduledAt.IsZero() {
		return nil, apperrors.NewBadRequest("scheduled_at is required")
	}
	if input.DurationMinutes <= 0 {
		input.DurationMinutes = DefaultSessionDurationMinutes
	}

	referenceName, err := s.resolveReference(ctx, input.SessionType, input.ReferenceID)
	if err != nil {
		return nil, err
	}

	roomID, err := s.generateRoomID(input.SessionType)
	if err != nil {
		return nil, apperrors.Wrap(err, "generate room id")
	}

	session := &models.LiveSession{
		Title:           defaultIfEmpty(input.Title, referenceName+" Live Session"),
		Description:     input.Description,
		SessionType:     input.SessionType,
		ReferenceID:     input.ReferenceID,
		ReferenceName:   referenceName,
		HostID:          input.Host.ID,
		HostName:        input.Host.Name,
		ScheduledAt:     input.ScheduledAt,
		DurationMinutes: input.DurationMinutes,
		Status:          models.SessionStatusScheduled,
		RoomID:          roomID,
	}

	if err := s.db.WithContext(ctx).Create(session).Error; err != nil {
		return nil, apperrors.ErrPersistence.WithInternal(err)
	}

	return &SessionView{LiveSession: *session}, nil
}

// Start moves a SCHEDULED session to LIVE, then announces it to every
// connected client and every registered device.
func (s *LiveSessionService) Start(ctx context.Context, id string) (*SessionView, error) {
	ctx = ensureContext(ctx)

	unlock := s.locks.Lock(id)
	defer unlock()

	session, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if session.Status != models.SessionStatusScheduled {
		return nil, apperrors.ErrInvalidTransition.
			WithMessage(fmt.Sprintf("Cannot start session in state %s", session.Status))
	}

	now := s.now()
	session.Status = models.SessionStatusLive
	session.StartedAt = &now

	if err := s.db.WithContext(ctx).Save(session).Error; err != nil {
		return nil, apperrors.ErrPersistence.WithInternal(err)
	}

	metrics.LiveSessions.Inc()

	snapshot := *session
	s.dispatch(func(ctx context.Context) {
		s.emitToAll(realtime.EventSessionStarted, sessionEventPayload(&snapshot, 0))
		s.announce(ctx, &snapshot, "session_started",
			snapshot.Title+" is live", "Join now, the session has started.")
	})

	return &SessionView{LiveSession: *session}, nil
}

// End moves a LIVE session to ENDED, closing every still-active participant
// entry and sealing the high-water mark.
func (s *LiveSessionService) End(ctx context.Context, id string) (*SessionView, error) {
	ctx = ensureContext(ctx)

	unlock := s.locks.Lock(id)
	defer unlock()

	session, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if session.Status != models.SessionStatusLive {
		return nil, apperrors.ErrInvalidTransition.
			WithMessage(fmt.Sprintf("Cannot end session in state %s", session.Status))
	}

	now := s.now()
	var activeCount int64

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&models.SessionParticipant{}).
			Where("session_id = ? AND left_at IS NULL", id).
			Count(&activeCount).Error; err != nil {
			return err
		}

		if err := tx.Model(&models.SessionParticipant{}).
			Where("session_id = ? AND left_at IS NULL", id).
			Update("left_at", now).Error; err != nil {
			return err
		}

		session.Status = models.SessionStatusEnded
		session.EndedAt = &now
		if int(activeCount) > session.MaxParticipants {
			session.MaxParticipants = int(activeCount)
		}
		return tx.Save(session).Error
	})
	if err != nil {
		return nil, apperrors.ErrPersistence.WithInternal(err)
	}

	metrics.LiveSessions.Dec()
	metrics.ActiveParticipants.Sub(float64(activeCount))

	snapshot := *session
	s.dispatch(func(ctx context.Context) {
		s.emitToAll(realtime.EventSessionEnded, sessionEventPayload(&snapshot, 0))
		s.announce(ctx, &snapshot, "session_ended",
			snapshot.Title+" has ended", "Thanks for joining, the session is over.")
	})

	return &SessionView{LiveSession: *session}, nil
}

// Cancel moves a session to CANCELLED from any state except ENDED. Open
// participant entries of a live session are closed just as End closes them.
func (s *LiveSessionService) Cancel(ctx context.Context, id string) (*SessionView, error) {
	ctx = ensureContext(ctx)

	unlock := s.locks.Lock(id)
	defer unlock()

	session, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if session.Status == models.SessionStatusEnded {
		return nil, apperrors.ErrInvalidTransition.
			WithMessage("Cannot cancel a session that already ended")
	}

	wasLive := session.Status == models.SessionStatusLive
	now := s.now()
	var activeCount int64

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if wasLive {
			if err := tx.Model(&models.SessionParticipant{}).
				Where("session_id = ? AND left_at IS NULL", id).
				Count(&activeCount).Error; err != nil {
				return err
			}

			if err := tx.Model(&models.SessionParticipant{}).
				Where("session_id = ? AND left_at IS NULL", id).
				Update("left_at", now).Error; err != nil {
				return err
			}
		}

		session.Status = models.SessionStatusCancelled
		if int(activeCount) > session.MaxParticipants {
			session.MaxParticipants = int(activeCount)
		}
		return tx.Save(session).Error
	})
	if err != nil {
		return nil, apperrors.ErrPersistence.WithInternal(err)
	}

	if wasLive {
		metrics.LiveSessions.Dec()
		metrics.ActiveParticipants.Sub(float64(activeCount))
	}

	snapshot := *session
	s.dispatch(func(ctx context.Context) {
		s.emitToAll(realtime.EventSessionCancelled, sessionEventPayload(&snapshot, 0))
	})

	return &SessionView{LiveSession: *session}, nil
}

// Update applies a partial edit; allowed only while the session is SCHEDULED.
func (s *LiveSessionService) Update(ctx context.Context, id string, input UpdateSessionInput) (*SessionView, error) {
	ctx = ensureContext(ctx)

	unlock := s.locks.Lock(id)
	defer unlock()

	session, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if session.Status != models.SessionStatusScheduled {
		return nil, apperrors.ErrInvalidTransition.
			WithMessage("Only scheduled sessions can be edited")
	}

	if input.Title != nil {
		if strings.TrimSpace(*input.Title) == "" {
			return nil, apperrors.NewBadRequest("title must not be empty")
		}
		session.Title = *input.Title
	}
	if input.Description != nil {
		session.Description = *input.Description
	}
	if input.ScheduledAt != nil {
		if input.ScheduledAt.IsZero() {
			return nil, apperrors.NewBadRequest("scheduled_at must be a valid timestamp")
		}
		session.ScheduledAt = *input.ScheduledAt
	}
	if input.DurationMinutes != nil {
		if *input.DurationMinutes <= 0 {
			return nil, apperrors.NewBadRequest("duration_minutes must be positive")
		}
		session.DurationMinutes = *input.DurationMinutes
	}

	if err := s.db.WithContext(ctx).Save(session).Error; err != nil {
		return nil, apperrors.ErrPersistence.WithInternal(err)
	}

	snapshot := *session
	s.dispatch(func(ctx context.Context) {
		s.emitToAll(realtime.EventSessionUpdated, sessionEventPayload(&snapshot, 0))
	})

	return &SessionView{LiveSession: *session}, nil
}

// Delete hard-deletes a session and its participant log. Live sessions must
// be ended first.
func (s *LiveSessionService) Delete(ctx context.Context, id string) error {
	ctx = ensureContext(ctx)

	unlock := s.locks.Lock(id)
	defer unlock()

	session, err := s.load(ctx, id)
	if err != nil {
		return err
	}
	if session.Status == models.SessionStatusLive {
		return apperrors.ErrCannotDeleteLive
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("session_id = ?", id).Delete(&models.SessionParticipant{}).Error; err != nil {
			return err
		}
		return tx.Delete(&models.LiveSession{}, "id = ?", id).Error
	})
	if err != nil {
		return apperrors.ErrPersistence.WithInternal(err)
	}
	return nil
}

// Get returns one session enriched with its active participant count.
func (s *LiveSessionService) Get(ctx context.Context, id string) (*SessionView, error) {
	ctx = ensureContext(ctx)

	session, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}

	views, err := s.enrich(ctx, []models.LiveSession{*session})
	if err != nil {
		return nil, err
	}
	return &views[0], nil
}

// List returns sessions matching the filter, scheduled first.
func (s *LiveSessionService) List(ctx context.Context, filter ListSessionsFilter) ([]SessionView, error) {
	ctx = ensureContext(ctx)

	query := s.db.WithContext(ctx).Model(&models.LiveSession{})
	if filter.SessionType != "" {
		query = query.Where("session_type = ?", strings.ToUpper(filter.SessionType))
	}
	if filter.ReferenceID != "" {
		query = query.Where("reference_id = ?", filter.ReferenceID)
	}
	if filter.Status != "" {
		query = query.Where("status = ?", strings.ToUpper(filter.Status))
	} else if !filter.IncludeEnded {
		query = query.Where("status <> ?", models.SessionStatusEnded)
	}

	var sessions []models.LiveSession
	if err := query.Order("scheduled_at ASC").Find(&sessions).Error; err != nil {
		return nil, apperrors.ErrPersistence.WithInternal(err)
	}
	return s.enrich(ctx, sessions)
}

// Live returns sessions currently in the LIVE state, most recently started first.
func (s *LiveSessionService) Live(ctx context.Context) ([]SessionView, error) {
	ctx = ensureContext(ctx)

	var sessions []models.LiveSession
	err := s.db.WithContext(ctx).
		Where("status = ?", models.SessionStatusLive).
		Order("started_at DESC").
		Find(&sessions).Error
	if err != nil {
		return nil, apperrors.ErrPersistence.WithInternal(err)
	}
	return s.enrich(ctx, sessions)
}

// Upcoming returns scheduled sessions from now onward, soonest first.
func (s *LiveSessionService) Upcoming(ctx context.Context, limit int) ([]SessionView, error) {
	ctx = ensureContext(ctx)

	if limit <= 0 {
		limit = 20
	}

	var sessions []models.LiveSession
	err := s.db.WithContext(ctx).
		Where("status = ? AND scheduled_at >= ?", models.SessionStatusScheduled, s.now()).
		Order("scheduled_at ASC").
		Limit(limit).
		Find(&sessions).Error
	if err != nil {
		return nil, apperrors.ErrPersistence.WithInternal(err)
	}
	return s.enrich(ctx, sessions)
}

// History returns ended sessions, most recently ended first.
func (s *LiveSessionService) History(ctx context.Context, limit, offset int) ([]SessionView, error) {
	ctx = ensureContext(ctx)

	if limit <= 0 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}

	var sessions []models.LiveSession
	err := s.db.WithContext(ctx).
		Where("status = ?", models.SessionStatusEnded).
		Order("ended_at DESC").
		Limit(limit).
		Offset(offset).
		Find(&sessions).Error
	if err != nil {
		return nil, apperrors.ErrPersistence.WithInternal(err)
	}
	return s.enrich(ctx, sessions)
}

// ByReference returns the not-ended sessions attached to one catalog entity.
func (s *LiveSessionService) ByReference(ctx context.Context, sessionType, referenceID string) ([]SessionView, error) {
	return s.List(ctx, ListSessionsFilter{SessionType: sessionType, ReferenceID: referenceID})
}

func (s *LiveSessionService) load(ctx context.Context, id string) (*models.LiveSession, error) {
	if strings.TrimSpace(id) == "" {
		return nil, apperrors.NewBadRequest("session id is required")
	}

	var session models.LiveSession
	err := s.db.WithContext(ctx).Take(&session, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperrors.ErrNotFound.WithMessage("Session not found")
	}
	if err != nil {
		return nil, apperrors.ErrPersistence.WithInternal(err)
	}
	return &session, nil
}

func (s *LiveSessionService) enrich(ctx context.Context, sessions []models.LiveSession) ([]SessionView, error) {
	views := make([]SessionView, len(sessions))
	if len(sessions) == 0 {
		return views, nil
	}

	ids := make([]string, len(sessions))
	for i, session := range sessions {
		ids[i] = session.ID
		views[i] = SessionView{LiveSession: session}
	}

	type activeRow struct {
		SessionID string
		Count     int64
	}
	var rows []activeRow
	err := s.db.WithContext(ctx).
		Model(&models.SessionParticipant{}).
		Select("session_id, COUNT(*) AS count").
		Where("session_id IN ? AND left_at IS NULL", ids).
		Group("session_id").
		Scan(&rows).Error
	if err != nil {
		return nil, apperrors.ErrPersistence.WithInternal(err)
	}

	counts := make(map[string]int64, len(rows))
	for _, row := range rows {
		counts[row.SessionID] = row.Count
	}
	for i := range views {
		views[i].ActiveParticipantsCount = counts[views[i].ID]
	}
	return views, nil
}

func (s *LiveSessionService) resolveReference(ctx context.Context, sessionType, referenceID string) (string, error) {
	var (
		name string
		err  error
	)

	switch sessionType {
	case models.SessionTypeCourse:
		var ref models.Course
		err = s.db.WithContext(ctx).Select("name").Take(&ref, "id = ?", referenceID).Error
		name = ref.Name
	case models.SessionTypeProject:
		var ref models.Project
		err = s.db.WithContext(ctx).Select("name").Take(&ref, "id = ?", referenceID).Error
		name = ref.Name
	case models.SessionTypeInternship:
		var ref models.Internship
		err = s.db.WithContext(ctx).Select("name").Take(&ref, "id = ?", referenceID).Error
		name = ref.Name
	}

	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", apperrors.ErrReferenceNotFound
	}
	if err != nil {
		return "", apperrors.ErrPersistence.WithInternal(err)
	}
	return name, nil
}

// generateRoomID builds the immutable room identifier: a session-type prefix,
// a base36 timestamp and a random component.
func (s *LiveSessionService) generateRoomID(sessionType string) (string, error) {
	prefix := strings.ToLower(sessionType)
	if len(prefix) > 3 {
		prefix = prefix[:3]
	}

	random, err := crypto.RandomHex(8)
	if err != nil {
		return "", err
	}

	stamp := strconv.FormatInt(s.now().UnixMilli(), 36)
	return fmt.Sprintf("skillup-%s-%s-%s", prefix, stamp, random), nil
}

// dispatch runs post-commit fanout detached from the caller's request path.
func (s *LiveSessionService) dispatch(fn func(context.Context)) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), s.fanoutTimeout)
		defer cancel()
		fn(ctx)
	}()
}

func (s *LiveSessionService) emitToAll(event string, payload any) {
	if s.bus == nil {
		return
	}
	s.bus.EmitToAll(event, payload)
}

// announce pushes a lifecycle transition to every registered device. Push
// failures never surface to the admin action that triggered them.
func (s *LiveSessionService) announce(ctx context.Context, session *models.LiveSession, kind, title, body string) {
	if s.notifier == nil {
		return
	}

	_, err := s.notifier.Send(ctx, SendNotificationInput{
		Title:  title,
		Body:   body,
		Target: models.NotificationTargetAll,
		Kind:   push.KindAlert,
		Data: map[string]string{
			"type":         kind,
			"session_id":   session.ID,
			"room_id":      session.RoomID,
			"session_type": session.SessionType,
			"reference_id": session.ReferenceID,
		},
	})
	if err != nil {
		s.log.Warn("session announcement failed",
			zap.String("session_id", session.ID),
			zap.String("event", kind),
			zap.Error(err))
	}
}

func sessionEventPayload(session *models.LiveSession, activeCount int64) map[string]any {
	return map[string]any{
		"session_id":     session.ID,
		"room_id":        session.RoomID,
		"title":          session.Title,
		"session_type":   session.SessionType,
		"reference_id":   session.ReferenceID,
		"reference_name": session.ReferenceName,
		"status":         session.Status,
		"scheduled_at":   session.ScheduledAt,
		"started_at":     session.StartedAt,
		"ended_at":       session.EndedAt,
		"active_count":   activeCount,
	}
}
