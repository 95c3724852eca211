package handlers

import (
	"strings"

	"github.com/gin-gonic/gin"

	iauth "github.com/skillup-labs/skillup-live/internal/auth"
	"github.com/skillup-labs/skillup-live/internal/identity"
	"github.com/skillup-labs/skillup-live/internal/models"
	"github.com/skillup-labs/skillup-live/internal/realtime"
	"github.com/skillup-labs/skillup-live/pkg/errors"
	"github.com/skillup-labs/skillup-live/pkg/response"
)

// RealtimeHandler upgrades HTTP connections onto the realtime hub. The
// handshake is optionally authenticated: no credential yields an anonymous
// broadcast-only connection, while a credential that fails validation is
// rejected outright rather than silently downgraded.
type RealtimeHandler struct {
	hub *realtime.Hub
	jwt *iauth.JWTService
}

// NewRealtimeHandler constructs the realtime handler.
func NewRealtimeHandler(hub *realtime.Hub, jwt *iauth.JWTService) *RealtimeHandler {
	return &RealtimeHandler{hub: hub, jwt: jwt}
}

// Stream performs the optional-auth handshake and hands the connection to the hub.
func (h *RealtimeHandler) Stream(c *gin.Context) {
	if h.hub == nil || h.jwt == nil {
		response.Error(c, errors.ErrNotFound)
		return
	}

	token := handshakeToken(c)
	if token == "" {
		h.hub.Serve(nil, c.Writer, c.Request)
		return
	}

	claims, err := h.jwt.ValidateAccessToken(token)
	if err != nil {
		response.Error(c, errors.ErrUnauthorized)
		return
	}

	principal := &realtime.Principal{
		UserID:        claims.UserID,
		ParticipantID: identity.Participant(claims.Email, claims.UserID),
		Admin:         claims.Role == models.RoleAdmin,
	}
	h.hub.Serve(principal, c.Writer, c.Request)
}

func handshakeToken(c *gin.Context) string {
	if token := strings.TrimSpace(c.Query("token")); token != "" {
		return token
	}
	if token := strings.TrimSpace(c.Query("access_token")); token != "" {
		return token
	}
	authz := c.GetHeader("Authorization")
	if strings.HasPrefix(strings.ToLower(authz), "bearer ") {
		return strings.TrimSpace(authz[7:])
	}
	return ""
}
