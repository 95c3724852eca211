package handlers

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/skillup-labs/skillup-live/internal/middleware"
	"github.com/skillup-labs/skillup-live/internal/services"
	appErrors "github.com/skillup-labs/skillup-live/pkg/errors"
	"github.com/skillup-labs/skillup-live/pkg/response"
)

// SessionHandler exposes the live session lifecycle and presence endpoints.
type SessionHandler struct {
	sessions *services.LiveSessionService
	presence *services.PresenceService
}

// NewSessionHandler constructs the session handler.
func NewSessionHandler(sessions *services.LiveSessionService, presence *services.PresenceService) (*SessionHandler, error) {
	if sessions == nil {
		return nil, errors.New("session handler: session service is required")
	}
	if presence == nil {
		return nil, errors.New("session handler: presence service is required")
	}
	return &SessionHandler{sessions: sessions, presence: presence}, nil
}

type createSessionRequest struct {
	Title           string    `json:"title"`
	Description     string    `json:"description"`
	SessionType     string    `json:"session_type" validate:"required"`
	ReferenceID     string    `json:"reference_id" validate:"required"`
	ScheduledAt     time.Time `json:"scheduled_at" validate:"required"`
	DurationMinutes int       `json:"duration_minutes"`
}

// Create schedules a new live session.
func (h *SessionHandler) Create(c *gin.Context) {
	var req createSessionRequest
	if !bindAndValidate(c, &req) {
		return
	}

	principal, _ := middleware.CurrentPrincipal(c)
	view, err := h.sessions.Create(requestContext(c), services.CreateSessionInput{
		Title:           req.Title,
		Description:     req.Description,
		SessionType:     req.SessionType,
		ReferenceID:     req.ReferenceID,
		ScheduledAt:     req.ScheduledAt,
		DurationMinutes: req.DurationMinutes,
		Host:            principal,
	})
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, http.StatusCreated, view)
}

type updateSessionRequest struct {
	Title           *string    `json:"title"`
	Description     *string    `json:"description"`
	ScheduledAt     *time.Time `json:"scheduled_at"`
	DurationMinutes *int       `json:"duration_minutes"`
}

// Update edits a scheduled session.
func (h *SessionHandler) Update(c *gin.Context) {
	var req updateSessionRequest
	if !bindAndValidate(c, &req) {
		return
	}

	view, err := h.sessions.Update(requestContext(c), c.Param("id"), services.UpdateSessionInput{
		Title:           req.Title,
		Description:     req.Description,
		ScheduledAt:     req.ScheduledAt,
		DurationMinutes: req.DurationMinutes,
	})
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, http.StatusOK, view)
}

// Start transitions a scheduled session to live.
func (h *SessionHandler) Start(c *gin.Context) {
	view, err := h.sessions.Start(requestContext(c), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, view)
}

// End transitions a live session to ended.
func (h *SessionHandler) End(c *gin.Context) {
	view, err := h.sessions.End(requestContext(c), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, view)
}

// Cancel transitions a session to cancelled.
func (h *SessionHandler) Cancel(c *gin.Context) {
	view, err := h.sessions.Cancel(requestContext(c), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, view)
}

// Delete removes a session that is not live.
func (h *SessionHandler) Delete(c *gin.Context) {
	if err := h.sessions.Delete(requestContext(c), c.Param("id")); err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"deleted": true})
}

// Get returns one session with its active participant count.
func (h *SessionHandler) Get(c *gin.Context) {
	view, err := h.sessions.Get(requestContext(c), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, view)
}

// List returns sessions filtered by type, reference and status.
func (h *SessionHandler) List(c *gin.Context) {
	views, err := h.sessions.List(requestContext(c), services.ListSessionsFilter{
		SessionType:  c.Query("session_type"),
		ReferenceID:  c.Query("reference_id"),
		Status:       c.Query("status"),
		IncludeEnded: strings.EqualFold(c.Query("include_ended"), "true"),
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.SuccessWithMeta(c, http.StatusOK, views, &response.Meta{Count: len(views)})
}

// Live returns the sessions currently live.
func (h *SessionHandler) Live(c *gin.Context) {
	views, err := h.sessions.Live(requestContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.SuccessWithMeta(c, http.StatusOK, views, &response.Meta{Count: len(views)})
}

// Upcoming returns scheduled sessions from now onward.
func (h *SessionHandler) Upcoming(c *gin.Context) {
	views, err := h.sessions.Upcoming(requestContext(c), parseIntQuery(c, "limit", 20))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.SuccessWithMeta(c, http.StatusOK, views, &response.Meta{Count: len(views)})
}

// History returns ended sessions, most recent first.
func (h *SessionHandler) History(c *gin.Context) {
	views, err := h.sessions.History(requestContext(c),
		parseIntQuery(c, "limit", 20), parseIntQuery(c, "offset", 0))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.SuccessWithMeta(c, http.StatusOK, views, &response.Meta{Count: len(views)})
}

type joinRequest struct {
	Platform string `json:"platform"`
}

// Join marks the caller present in the session.
func (h *SessionHandler) Join(c *gin.Context) {
	principal, ok := middleware.CurrentPrincipal(c)
	if !ok {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	var req joinRequest
	// The body is optional; platform defaults to the device registry value.
	_ = c.ShouldBindJSON(&req)

	result, err := h.presence.Join(requestContext(c), c.Param("id"), principal, services.DeviceInfo{
		DeviceID: principal.DeviceID,
		Platform: req.Platform,
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, result)
}

// Leave closes the caller's active presence entry.
func (h *SessionHandler) Leave(c *gin.Context) {
	principal, ok := middleware.CurrentPrincipal(c)
	if !ok {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	result, err := h.presence.Leave(requestContext(c), c.Param("id"), principal)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, result)
}

// Participants returns the participant log of a session.
func (h *SessionHandler) Participants(c *gin.Context) {
	entries, err := h.presence.Roster(requestContext(c), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.SuccessWithMeta(c, http.StatusOK, entries, &response.Meta{Count: len(entries)})
}
