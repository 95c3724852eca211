package api

import (
	"fmt"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gorm.io/gorm"

	iauth "github.com/skillup-labs/skillup-live/internal/auth"
	"github.com/skillup-labs/skillup-live/internal/handlers"
	"github.com/skillup-labs/skillup-live/internal/middleware"
	"github.com/skillup-labs/skillup-live/internal/realtime"
	"github.com/skillup-labs/skillup-live/internal/services"
)

// Deps bundles the constructed services the router wires to endpoints.
type Deps struct {
	DB            *gorm.DB
	JWT           *iauth.JWTService
	Refresh       *iauth.RefreshService
	Hub           *realtime.Hub
	Sessions      *services.LiveSessionService
	Presence      *services.PresenceService
	Devices       *services.DeviceSessionService
	Notifications *services.NotificationService
}

// NewRouter builds the Gin engine, wires middleware and registers all routes.
func NewRouter(deps Deps) (*gin.Engine, error) {
	if deps.DB == nil {
		return nil, fmt.Errorf("database handle must be provided")
	}
	if deps.JWT == nil {
		return nil, fmt.Errorf("jwt service must be provided")
	}
	if deps.Refresh == nil {
		return nil, fmt.Errorf("refresh service must be provided")
	}
	if deps.Sessions == nil || deps.Presence == nil || deps.Devices == nil || deps.Notifications == nil {
		return nil, fmt.Errorf("all domain services must be provided")
	}

	r := gin.New()

	// Global middleware
	r.Use(middleware.Recovery())
	r.Use(middleware.Logger())
	r.Use(middleware.Metrics())

	// Health endpoint (public)
	r.GET("/health", handlers.Health(deps.DB))

	authHandler, err := handlers.NewAuthHandler(deps.DB, deps.Refresh, deps.Devices)
	if err != nil {
		return nil, err
	}
	sessionHandler, err := handlers.NewSessionHandler(deps.Sessions, deps.Presence)
	if err != nil {
		return nil, err
	}
	deviceHandler, err := handlers.NewDeviceHandler(deps.Devices)
	if err != nil {
		return nil, err
	}
	notificationHandler, err := handlers.NewNotificationHandler(deps.Notifications)
	if err != nil {
		return nil, err
	}

	// Public auth routes
	auth := r.Group("/api/auth")
	{
		auth.POST("/login", authHandler.Login)
		auth.POST("/refresh", authHandler.Refresh)
	}

	// Realtime handshake (optionally authenticated)
	if deps.Hub != nil {
		realtimeHandler := handlers.NewRealtimeHandler(deps.Hub, deps.JWT)
		r.GET("/ws", realtimeHandler.Stream)
	}

	requireAuth := middleware.Auth(deps.JWT)
	requireAdmin := middleware.RequireAdmin()

	api := r.Group("/api")
	api.Use(requireAuth)
	api.Use(middleware.DeviceActivity(deps.Devices))

	// Authenticated auth routes
	api.GET("/auth/me", authHandler.Me)
	api.POST("/auth/logout", authHandler.Logout)

	// Live sessions
	sessions := api.Group("/sessions")
	{
		sessions.GET("", sessionHandler.List)
		sessions.GET("/live", sessionHandler.Live)
		sessions.GET("/upcoming", sessionHandler.Upcoming)
		sessions.GET("/history", sessionHandler.History)
		sessions.GET("/:id", sessionHandler.Get)
		sessions.GET("/:id/participants", sessionHandler.Participants)
		sessions.POST("/:id/join", sessionHandler.Join)
		sessions.POST("/:id/leave", sessionHandler.Leave)

		sessions.POST("", requireAdmin, sessionHandler.Create)
		sessions.PATCH("/:id", requireAdmin, sessionHandler.Update)
		sessions.POST("/:id/start", requireAdmin, sessionHandler.Start)
		sessions.POST("/:id/end", requireAdmin, sessionHandler.End)
		sessions.POST("/:id/cancel", requireAdmin, sessionHandler.Cancel)
		sessions.DELETE("/:id", requireAdmin, sessionHandler.Delete)
	}

	// Devices
	devices := api.Group("/devices")
	{
		devices.GET("", deviceHandler.List)
		devices.POST("/push-token", deviceHandler.BindPushToken)
		devices.DELETE("/push-token", deviceHandler.UnbindPushToken)
		devices.POST("/revoke/:deviceId", deviceHandler.Revoke)
		devices.POST("/revoke-others", deviceHandler.RevokeAllOthers)
	}

	// Notifications (admin only)
	notifications := api.Group("/notifications")
	notifications.Use(requireAdmin)
	{
		notifications.POST("", notificationHandler.Send)
		notifications.GET("", notificationHandler.History)
	}

	// Metrics endpoint
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// NotFound fallback
	r.NoRoute(middleware.NotFoundHandler)

	return r, nil
}
