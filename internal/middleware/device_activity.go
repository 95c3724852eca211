package middleware

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/skillup-labs/skillup-live/internal/services"
)

const touchTimeout = 5 * time.Second

// DeviceActivity refreshes the caller's device liveness timestamp on every
// authenticated request. Fire and forget; the request never waits on it.
func DeviceActivity(devices *services.DeviceSessionService) gin.HandlerFunc {
	return func(c *gin.Context) {
		if principal, ok := CurrentPrincipal(c); ok && principal.DeviceID != "" {
			go func() {
				ctx, cancel := context.WithTimeout(context.Background(), touchTimeout)
				defer cancel()
				devices.Touch(ctx, principal.ID, principal.DeviceID)
			}()
		}
		c.Next()
	}
}
