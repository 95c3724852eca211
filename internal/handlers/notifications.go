package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/skillup-labs/skillup-live/internal/middleware"
	"github.com/skillup-labs/skillup-live/internal/services"
	appErrors "github.com/skillup-labs/skillup-live/pkg/errors"
	"github.com/skillup-labs/skillup-live/pkg/response"
)

// NotificationHandler exposes admin-triggered fanout and history.
type NotificationHandler struct {
	notifications *services.NotificationService
}

// NewNotificationHandler constructs the notification handler.
func NewNotificationHandler(notifications *services.NotificationService) (*NotificationHandler, error) {
	if notifications == nil {
		return nil, errors.New("notification handler: notification service is required")
	}
	return &NotificationHandler{notifications: notifications}, nil
}

type sendNotificationRequest struct {
	Title         string            `json:"title" validate:"required,max=255"`
	Body          string            `json:"body" validate:"required"`
	Target        string            `json:"target" validate:"omitempty,oneof=all specific"`
	TargetUserIDs []string          `json:"target_user_ids"`
	Kind          string            `json:"kind" validate:"omitempty,oneof=alert update promo"`
	ImageURL      string            `json:"image_url" validate:"omitempty,url"`
	Data          map[string]string `json:"data"`
}

// Send runs one notification fanout.
func (h *NotificationHandler) Send(c *gin.Context) {
	principal, ok := middleware.CurrentPrincipal(c)
	if !ok {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	var req sendNotificationRequest
	if !bindAndValidate(c, &req) {
		return
	}

	result, err := h.notifications.Send(requestContext(c), services.SendNotificationInput{
		Title:         req.Title,
		Body:          req.Body,
		Target:        req.Target,
		TargetUserIDs: req.TargetUserIDs,
		Kind:          req.Kind,
		ImageURL:      req.ImageURL,
		Data:          req.Data,
		SenderID:      principal.ID,
	})
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, http.StatusOK, result)
}

// History returns past notification records with delivery stats.
func (h *NotificationHandler) History(c *gin.Context) {
	records, err := h.notifications.History(requestContext(c),
		parseIntQuery(c, "limit", 20), parseIntQuery(c, "offset", 0))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.SuccessWithMeta(c, http.StatusOK, records, &response.Meta{Count: len(records)})
}
