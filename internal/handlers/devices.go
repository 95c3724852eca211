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

// DeviceHandler exposes the device registry: listing, push token binding and
// remote revocation.
type DeviceHandler struct {
	devices *services.DeviceSessionService
}

// NewDeviceHandler constructs the device handler.
func NewDeviceHandler(devices *services.DeviceSessionService) (*DeviceHandler, error) {
	if devices == nil {
		return nil, errors.New("device handler: device service is required")
	}
	return &DeviceHandler{devices: devices}, nil
}

// List returns the caller's active devices, flagging the current one.
func (h *DeviceHandler) List(c *gin.Context) {
	principal, ok := middleware.CurrentPrincipal(c)
	if !ok {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	views, err := h.devices.ListActive(requestContext(c), principal.ID, principal.DeviceID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.SuccessWithMeta(c, http.StatusOK, views, &response.Meta{Count: len(views)})
}

type bindTokenRequest struct {
	Token string `json:"token" validate:"required"`
}

// BindPushToken binds a push token to the caller's device.
func (h *DeviceHandler) BindPushToken(c *gin.Context) {
	principal, ok := middleware.CurrentPrincipal(c)
	if !ok {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	var req bindTokenRequest
	if !bindAndValidate(c, &req) {
		return
	}

	device, err := h.devices.BindPushToken(requestContext(c), principal.ID, principal.DeviceID, req.Token)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, device)
}

type unbindTokenRequest struct {
	Token string `json:"token"`
}

// UnbindPushToken clears a push token from the caller's device.
func (h *DeviceHandler) UnbindPushToken(c *gin.Context) {
	principal, ok := middleware.CurrentPrincipal(c)
	if !ok {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	var req unbindTokenRequest
	_ = c.ShouldBindJSON(&req)

	err := h.devices.UnbindPushToken(requestContext(c), principal.ID, principal.DeviceID, req.Token)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"unbound": true})
}

// Revoke deactivates one of the caller's other devices.
func (h *DeviceHandler) Revoke(c *gin.Context) {
	principal, ok := middleware.CurrentPrincipal(c)
	if !ok {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	err := h.devices.Revoke(requestContext(c), principal.ID, c.Param("deviceId"), principal.DeviceID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"revoked": true})
}

// RevokeAllOthers deactivates every device except the caller's current one.
func (h *DeviceHandler) RevokeAllOthers(c *gin.Context) {
	principal, ok := middleware.CurrentPrincipal(c)
	if !ok {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	count, err := h.devices.RevokeAllExceptCurrent(requestContext(c), principal.ID, principal.DeviceID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"revoked": count})
}
