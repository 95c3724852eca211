package services

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/skillup-labs/skillup-live/internal/database/testutil"
	"github.com/skillup-labs/skillup-live/internal/models"
	"github.com/skillup-labs/skillup-live/internal/realtime"
	apperrors "github.com/skillup-labs/skillup-live/pkg/errors"
)

type lifecycleFixture struct {
	db       *gorm.DB
	bus      *recordingBus
	notifier *recordingNotifier
	sessions *LiveSessionService
	course   *models.Course
}

func newLifecycleFixture(t *testing.T) *lifecycleFixture {
	t.Helper()

	db := testutil.MustOpenTestDB(t)
	bus := &recordingBus{}
	notifier := &recordingNotifier{}

	sessions, err := NewLiveSessionService(db, bus, notifier, LiveSessionConfig{})
	require.NoError(t, err)

	course := &models.Course{Name: "Go Fundamentals"}
	require.NoError(t, db.Create(course).Error)

	return &lifecycleFixture{db: db, bus: bus, notifier: notifier, sessions: sessions, course: course}
}

func (f *lifecycleFixture) createSession(t *testing.T) *SessionView {
	t.Helper()

	view, err := f.sessions.Create(context.Background(), CreateSessionInput{
		Title:       "Weekly standup",
		SessionType: models.SessionTypeCourse,
		ReferenceID: f.course.ID,
		ScheduledAt: time.Now().Add(time.Hour),
		Host:        Principal{ID: "host-1", Name: "Dana"},
	})
	require.NoError(t, err)
	return view
}

var roomIDPattern = regexp.MustCompile(`^skillup-cou-[0-9a-z]+-[0-9a-f]{16}$`)

func TestLiveSessionService_Create(t *testing.T) {
	f := newLifecycleFixture(t)

	view := f.createSession(t)
	require.Equal(t, models.SessionStatusScheduled, view.Status)
	require.Equal(t, "Go Fundamentals", view.ReferenceName)
	require.Equal(t, DefaultSessionDurationMinutes, view.DurationMinutes)
	require.Regexp(t, roomIDPattern, view.RoomID)

	// Room ids are generated once and never collide.
	other := f.createSession(t)
	require.NotEqual(t, view.RoomID, other.RoomID)
}

func TestLiveSessionService_CreateRejectsMissingReference(t *testing.T) {
	f := newLifecycleFixture(t)

	_, err := f.sessions.Create(context.Background(), CreateSessionInput{
		SessionType: models.SessionTypeCourse,
		ReferenceID: "does-not-exist",
		ScheduledAt: time.Now().Add(time.Hour),
	})
	require.ErrorIs(t, err, apperrors.ErrReferenceNotFound)
}

func TestLiveSessionService_CreateRejectsUnknownType(t *testing.T) {
	f := newLifecycleFixture(t)

	_, err := f.sessions.Create(context.Background(), CreateSessionInput{
		SessionType: "WEBINAR",
		ReferenceID: f.course.ID,
		ScheduledAt: time.Now().Add(time.Hour),
	})
	appErr := apperrors.FromError(err)
	require.Equal(t, "BAD_REQUEST", appErr.Code)
}

func TestLiveSessionService_StartOnlyFromScheduled(t *testing.T) {
	f := newLifecycleFixture(t)
	view := f.createSession(t)

	started, err := f.sessions.Start(context.Background(), view.ID)
	require.NoError(t, err)
	require.Equal(t, models.SessionStatusLive, started.Status)
	require.NotNil(t, started.StartedAt)

	// Broadcast and push fanout run detached from the admin action.
	require.Eventually(t, func() bool {
		return f.bus.has("all", realtime.EventSessionStarted) && len(f.notifier.snapshot()) == 1
	}, time.Second, 10*time.Millisecond)

	sends := f.notifier.snapshot()
	require.Equal(t, models.NotificationTargetAll, sends[0].Target)
	require.Equal(t, "session_started", sends[0].Data["type"])

	_, err = f.sessions.Start(context.Background(), view.ID)
	require.ErrorContains(t, err, "Cannot start")
	require.Equal(t, "INVALID_TRANSITION", apperrors.FromError(err).Code)
}

func TestLiveSessionService_EndOnlyFromLive(t *testing.T) {
	f := newLifecycleFixture(t)
	view := f.createSession(t)

	_, err := f.sessions.End(context.Background(), view.ID)
	require.Equal(t, "INVALID_TRANSITION", apperrors.FromError(err).Code)

	_, err = f.sessions.Start(context.Background(), view.ID)
	require.NoError(t, err)

	ended, err := f.sessions.End(context.Background(), view.ID)
	require.NoError(t, err)
	require.Equal(t, models.SessionStatusEnded, ended.Status)
	require.NotNil(t, ended.EndedAt)

	require.Eventually(t, func() bool {
		return f.bus.has("all", realtime.EventSessionEnded)
	}, time.Second, 10*time.Millisecond)
}

func TestLiveSessionService_CancelRejectsEnded(t *testing.T) {
	f := newLifecycleFixture(t)
	view := f.createSession(t)

	_, err := f.sessions.Start(context.Background(), view.ID)
	require.NoError(t, err)
	_, err = f.sessions.End(context.Background(), view.ID)
	require.NoError(t, err)

	_, err = f.sessions.Cancel(context.Background(), view.ID)
	require.Equal(t, "INVALID_TRANSITION", apperrors.FromError(err).Code)
}

func TestLiveSessionService_CancelFromScheduledAndLive(t *testing.T) {
	f := newLifecycleFixture(t)

	scheduled := f.createSession(t)
	cancelled, err := f.sessions.Cancel(context.Background(), scheduled.ID)
	require.NoError(t, err)
	require.Equal(t, models.SessionStatusCancelled, cancelled.Status)

	live := f.createSession(t)
	_, err = f.sessions.Start(context.Background(), live.ID)
	require.NoError(t, err)
	cancelled, err = f.sessions.Cancel(context.Background(), live.ID)
	require.NoError(t, err)
	require.Equal(t, models.SessionStatusCancelled, cancelled.Status)

	require.Eventually(t, func() bool {
		return f.bus.count("all", realtime.EventSessionCancelled) == 2
	}, time.Second, 10*time.Millisecond)
}

func TestLiveSessionService_UpdateOnlyWhileScheduled(t *testing.T) {
	f := newLifecycleFixture(t)
	view := f.createSession(t)

	title := "Renamed"
	duration := 90
	updated, err := f.sessions.Update(context.Background(), view.ID, UpdateSessionInput{
		Title:           &title,
		DurationMinutes: &duration,
	})
	require.NoError(t, err)
	require.Equal(t, "Renamed", updated.Title)
	require.Equal(t, 90, updated.DurationMinutes)
	require.Equal(t, view.RoomID, updated.RoomID)

	_, err = f.sessions.Start(context.Background(), view.ID)
	require.NoError(t, err)

	_, err = f.sessions.Update(context.Background(), view.ID, UpdateSessionInput{Title: &title})
	require.Equal(t, "INVALID_TRANSITION", apperrors.FromError(err).Code)
}

func TestLiveSessionService_DeleteRejectsLive(t *testing.T) {
	f := newLifecycleFixture(t)
	view := f.createSession(t)

	_, err := f.sessions.Start(context.Background(), view.ID)
	require.NoError(t, err)

	err = f.sessions.Delete(context.Background(), view.ID)
	require.ErrorIs(t, err, apperrors.ErrCannotDeleteLive)

	_, err = f.sessions.End(context.Background(), view.ID)
	require.NoError(t, err)

	require.NoError(t, f.sessions.Delete(context.Background(), view.ID))
	_, err = f.sessions.Get(context.Background(), view.ID)
	require.Equal(t, "NOT_FOUND", apperrors.FromError(err).Code)
}

func TestLiveSessionService_ListExcludesEndedByDefault(t *testing.T) {
	f := newLifecycleFixture(t)

	first := f.createSession(t)
	second := f.createSession(t)

	_, err := f.sessions.Start(context.Background(), first.ID)
	require.NoError(t, err)
	_, err = f.sessions.End(context.Background(), first.ID)
	require.NoError(t, err)

	views, err := f.sessions.List(context.Background(), ListSessionsFilter{})
	require.NoError(t, err)
	require.Len(t, views, 1)
	require.Equal(t, second.ID, views[0].ID)

	all, err := f.sessions.List(context.Background(), ListSessionsFilter{IncludeEnded: true})
	require.NoError(t, err)
	require.Len(t, all, 2)
}

func TestLiveSessionService_HistoryIsEndedOnly(t *testing.T) {
	f := newLifecycleFixture(t)

	first := f.createSession(t)
	second := f.createSession(t)

	for _, id := range []string{first.ID, second.ID} {
		_, err := f.sessions.Start(context.Background(), id)
		require.NoError(t, err)
		_, err = f.sessions.End(context.Background(), id)
		require.NoError(t, err)
	}

	history, err := f.sessions.History(context.Background(), 10, 0)
	require.NoError(t, err)
	require.Len(t, history, 2)
	for _, view := range history {
		require.Equal(t, models.SessionStatusEnded, view.Status)
	}
	require.False(t, history[0].EndedAt.Before(*history[1].EndedAt))
}

func TestLiveSessionService_LiveAndUpcoming(t *testing.T) {
	f := newLifecycleFixture(t)

	scheduled := f.createSession(t)
	live := f.createSession(t)
	_, err := f.sessions.Start(context.Background(), live.ID)
	require.NoError(t, err)

	liveViews, err := f.sessions.Live(context.Background())
	require.NoError(t, err)
	require.Len(t, liveViews, 1)
	require.Equal(t, live.ID, liveViews[0].ID)

	upcoming, err := f.sessions.Upcoming(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, upcoming, 1)
	require.Equal(t, scheduled.ID, upcoming[0].ID)
}

func TestLiveSessionService_GetEnrichesActiveCount(t *testing.T) {
	f := newLifecycleFixture(t)
	view := f.createSession(t)

	_, err := f.sessions.Start(context.Background(), view.ID)
	require.NoError(t, err)

	require.NoError(t, f.db.Create(&models.SessionParticipant{
		SessionID:     view.ID,
		ParticipantID: "abc123",
		JoinedAt:      time.Now(),
	}).Error)

	got, err := f.sessions.Get(context.Background(), view.ID)
	require.NoError(t, err)
	require.EqualValues(t, 1, got.ActiveParticipantsCount)
}

func TestLiveSessionService_CancelLiveClosesParticipants(t *testing.T) {
	f := newLifecycleFixture(t)
	view := f.createSession(t)

	_, err := f.sessions.Start(context.Background(), view.ID)
	require.NoError(t, err)

	for _, pid := range []string{"p-1", "p-2"} {
		require.NoError(t, f.db.Create(&models.SessionParticipant{
			SessionID:     view.ID,
			ParticipantID: pid,
			JoinedAt:      time.Now(),
		}).Error)
	}

	cancelled, err := f.sessions.Cancel(context.Background(), view.ID)
	require.NoError(t, err)
	require.Equal(t, models.SessionStatusCancelled, cancelled.Status)
	require.Equal(t, 2, cancelled.MaxParticipants)

	var open int64
	require.NoError(t, f.db.Model(&models.SessionParticipant{}).
		Where("session_id = ? AND left_at IS NULL", view.ID).
		Count(&open).Error)
	require.Zero(t, open)
}
