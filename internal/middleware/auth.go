package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"

	iauth "github.com/skillup-labs/skillup-live/internal/auth"
	"github.com/skillup-labs/skillup-live/internal/models"
	"github.com/skillup-labs/skillup-live/internal/services"
	"github.com/skillup-labs/skillup-live/pkg/errors"
	"github.com/skillup-labs/skillup-live/pkg/response"
)

const (
	CtxClaimsKey    = "authClaims"
	CtxPrincipalKey = "principal"

	// HeaderDeviceID carries the caller's self-assigned device identifier.
	HeaderDeviceID = "x-device-id"
)

// Auth enforces JWT authentication using the supplied JWT service.
func Auth(jwt *iauth.JWTService) gin.HandlerFunc {
	return func(c *gin.Context) {
		authz := c.GetHeader("Authorization")
		if len(authz) < 8 || !strings.EqualFold(authz[:7], "Bearer ") {
			response.Error(c, errors.ErrUnauthorized)
			c.Abort()
			return
		}

		token := strings.TrimSpace(authz[7:])
		claims, err := jwt.ValidateAccessToken(token)
		if err != nil {
			// Normalise all validation failures to 401
			c.Header("WWW-Authenticate", "Bearer")
			response.Error(c, errors.ErrUnauthorized)
			c.Abort()
			return
		}

		c.Set(CtxClaimsKey, claims)
		c.Set(CtxPrincipalKey, services.Principal{
			ID:       claims.UserID,
			Email:    claims.Email,
			Name:     claims.Name,
			Role:     claims.Role,
			DeviceID: strings.TrimSpace(c.GetHeader(HeaderDeviceID)),
		})

		c.Next()
	}
}

// RequireAdmin rejects callers whose role is not administrative. Must run
// after Auth.
func RequireAdmin() gin.HandlerFunc {
	return func(c *gin.Context) {
		principal, ok := CurrentPrincipal(c)
		if !ok || principal.Role != models.RoleAdmin {
			response.Error(c, errors.ErrForbidden)
			c.Abort()
			return
		}
		c.Next()
	}
}

// CurrentPrincipal returns the authenticated caller stored by Auth.
func CurrentPrincipal(c *gin.Context) (services.Principal, bool) {
	value, exists := c.Get(CtxPrincipalKey)
	if !exists {
		return services.Principal{}, false
	}
	principal, ok := value.(services.Principal)
	return principal, ok
}
