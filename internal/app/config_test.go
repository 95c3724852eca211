package app

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig(t.TempDir())
	require.NoError(t, err)

	require.Equal(t, 8000, cfg.Server.Port)
	require.Equal(t, "info", cfg.Server.LogLevel)
	require.Equal(t, "sqlite", cfg.Database.Driver)

	require.Equal(t, "skillup-live", cfg.Auth.JWT.Issuer)
	require.Equal(t, 15*time.Minute, cfg.Auth.JWT.TTL)
	require.Equal(t, 720*time.Hour, cfg.Auth.Refresh.TTL)
	require.Equal(t, 48, cfg.Auth.Refresh.Length)

	require.False(t, cfg.Push.Enabled)
	require.Equal(t, 10*time.Second, cfg.Push.Timeout)

	require.Equal(t, 60, cfg.Sessions.DefaultDurationMinutes)
	require.Equal(t, 10*time.Second, cfg.Sessions.FanoutTimeout)

	require.True(t, cfg.Maintenance.Enabled)
	require.Equal(t, "0 * * * *", cfg.Maintenance.Schedule)
	require.Equal(t, 720*time.Hour, cfg.Maintenance.DeviceIdleFor)

	require.True(t, cfg.Monitoring.PrometheusEnabled)
}

func TestLoadConfigEnvOverride(t *testing.T) {
	t.Setenv("SKILLUP_SERVER_PORT", "9100")
	t.Setenv("SKILLUP_AUTH_JWT_SECRET", "env-secret")

	cfg, err := LoadConfig(t.TempDir())
	require.NoError(t, err)

	require.Equal(t, 9100, cfg.Server.Port)
	require.Equal(t, "env-secret", cfg.Auth.JWT.Secret)
}
