package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	iauth "github.com/skillup-labs/skillup-live/internal/auth"
	"github.com/skillup-labs/skillup-live/internal/middleware"
	"github.com/skillup-labs/skillup-live/internal/models"
	"github.com/skillup-labs/skillup-live/internal/services"
	appErrors "github.com/skillup-labs/skillup-live/pkg/errors"
	"github.com/skillup-labs/skillup-live/pkg/response"
)

// AuthHandler exposes login, token refresh and logout. Logging in registers
// the presenting device; logging out revokes its credentials and push token.
type AuthHandler struct {
	db      *gorm.DB
	refresh *iauth.RefreshService
	devices *services.DeviceSessionService
}

// NewAuthHandler constructs the auth handler.
func NewAuthHandler(db *gorm.DB, refresh *iauth.RefreshService, devices *services.DeviceSessionService) (*AuthHandler, error) {
	if db == nil {
		return nil, errors.New("auth handler: db is required")
	}
	if refresh == nil {
		return nil, errors.New("auth handler: refresh service is required")
	}
	if devices == nil {
		return nil, errors.New("auth handler: device service is required")
	}
	return &AuthHandler{db: db, refresh: refresh, devices: devices}, nil
}

type loginRequest struct {
	Email      string `json:"email" validate:"required,email"`
	Password   string `json:"password" validate:"required"`
	DeviceName string `json:"device_name"`
	Platform   string `json:"platform"`
}

// Login verifies credentials, upserts the device record and issues tokens.
func (h *AuthHandler) Login(c *gin.Context) {
	var req loginRequest
	if !bindAndValidate(c, &req) {
		return
	}

	deviceID := strings.TrimSpace(c.GetHeader(middleware.HeaderDeviceID))
	if deviceID == "" {
		response.Error(c, appErrors.ErrDeviceIDRequired)
		return
	}

	var user models.User
	err := h.db.WithContext(requestContext(c)).
		Where("email = ?", strings.ToLower(strings.TrimSpace(req.Email))).
		Take(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) || (err == nil && !user.CheckPassword(req.Password)) {
		response.Error(c, appErrors.ErrUnauthorized.WithMessage("Invalid email or password"))
		return
	}
	if err != nil {
		response.Error(c, appErrors.ErrPersistence.WithInternal(err))
		return
	}

	device, err := h.devices.Upsert(requestContext(c), services.UpsertDeviceInput{
		UserID:     user.ID,
		DeviceID:   deviceID,
		DeviceName: req.DeviceName,
		Platform:   req.Platform,
		UserAgent:  c.Request.UserAgent(),
		IPAddress:  c.ClientIP(),
	})
	if err != nil {
		response.Error(c, err)
		return
	}

	pair, err := h.refresh.Issue(&user, device.ID)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{
		"access_token":  pair.AccessToken,
		"refresh_token": pair.RefreshToken,
		"user":          user,
		"device":        device,
	})
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token" validate:"required"`
}

// Refresh rotates a refresh token and returns a new pair.
func (h *AuthHandler) Refresh(c *gin.Context) {
	var req refreshRequest
	if !bindAndValidate(c, &req) {
		return
	}

	pair, err := h.refresh.Rotate(requestContext(c), req.RefreshToken)
	if err != nil {
		switch {
		case errors.Is(err, iauth.ErrRefreshNotFound),
			errors.Is(err, iauth.ErrRefreshRevoked),
			errors.Is(err, iauth.ErrRefreshExpired),
			errors.Is(err, iauth.ErrRefreshInvalidToken):
			response.Error(c, appErrors.ErrUnauthorized.WithMessage("Refresh token is no longer valid"))
		default:
			response.Error(c, err)
		}
		return
	}

	response.Success(c, http.StatusOK, gin.H{
		"access_token":  pair.AccessToken,
		"refresh_token": pair.RefreshToken,
	})
}

// Logout revokes the caller's device credentials and unbinds its push token.
func (h *AuthHandler) Logout(c *gin.Context) {
	principal, ok := middleware.CurrentPrincipal(c)
	if !ok {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	claims, _ := c.Get(middleware.CtxClaimsKey)
	if jwtClaims, ok := claims.(*iauth.Claims); ok && jwtClaims.DeviceSessionID != "" {
		if _, err := h.refresh.RevokeDevice(requestContext(c), jwtClaims.DeviceSessionID); err != nil {
			response.Error(c, err)
			return
		}
	}

	if principal.DeviceID != "" {
		if err := h.devices.UnbindPushToken(requestContext(c), principal.ID, principal.DeviceID, ""); err != nil {
			response.Error(c, err)
			return
		}
	}

	response.Success(c, http.StatusOK, gin.H{"logged_out": true})
}

// Me returns the authenticated principal.
func (h *AuthHandler) Me(c *gin.Context) {
	principal, ok := middleware.CurrentPrincipal(c)
	if !ok {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	var user models.User
	err := h.db.WithContext(requestContext(c)).Take(&user, "id = ?", principal.ID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	if err != nil {
		response.Error(c, appErrors.ErrPersistence.WithInternal(err))
		return
	}

	response.Success(c, http.StatusOK, user)
}
