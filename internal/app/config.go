package app

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config represents the runtime configuration for the SkillUp live backend.
type Config struct {
	Server      ServerConfig      `mapstructure:"server"`
	Database    DatabaseConfig    `mapstructure:"database"`
	Auth        AuthConfig        `mapstructure:"auth"`
	Push        PushConfig        `mapstructure:"push"`
	Sessions    SessionsConfig    `mapstructure:"sessions"`
	Maintenance MaintenanceConfig `mapstructure:"maintenance"`
	Monitoring  MonitoringConfig  `mapstructure:"monitoring"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Port     int    `mapstructure:"port"`
	LogLevel string `mapstructure:"log_level"`
}

// DatabaseConfig describes connection options for the supported databases.
type DatabaseConfig struct {
	Driver   string       `mapstructure:"driver"`
	Path     string       `mapstructure:"path"`
	DSN      string       `mapstructure:"dsn"`
	Postgres DBAuthConfig `mapstructure:"postgres"`
	MySQL    DBAuthConfig `mapstructure:"mysql"`
}

// DBAuthConfig represents host based database parameters.
type DBAuthConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Database string `mapstructure:"database"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
}

// AuthConfig captures authentication settings.
type AuthConfig struct {
	JWT     JWTSettings     `mapstructure:"jwt"`
	Refresh RefreshSettings `mapstructure:"refresh"`
}

// JWTSettings configures JWT access tokens.
type JWTSettings struct {
	Secret string        `mapstructure:"secret"`
	Issuer string        `mapstructure:"issuer"`
	TTL    time.Duration `mapstructure:"access_token_ttl"`
}

// RefreshSettings configures refresh token lifetimes.
type RefreshSettings struct {
	TTL    time.Duration `mapstructure:"token_ttl"`
	Length int           `mapstructure:"token_length"`
}

// PushConfig configures the push provider.
type PushConfig struct {
	Enabled         bool          `mapstructure:"enabled"`
	CredentialsFile string        `mapstructure:"credentials_file"`
	Timeout         time.Duration `mapstructure:"timeout"`
}

// SessionsConfig holds live session defaults.
type SessionsConfig struct {
	DefaultDurationMinutes int           `mapstructure:"default_duration_minutes"`
	FanoutTimeout          time.Duration `mapstructure:"fanout_timeout"`
}

// MaintenanceConfig schedules background cleanup sweeps.
type MaintenanceConfig struct {
	Enabled       bool          `mapstructure:"enabled"`
	Schedule      string        `mapstructure:"schedule"`
	DeviceIdleFor time.Duration `mapstructure:"device_idle_for"`
}

// MonitoringConfig enables health checks and metrics.
type MonitoringConfig struct {
	PrometheusEnabled bool `mapstructure:"prometheus_enabled"`
}

// LoadConfig initialises application configuration using Viper with sensible defaults.
func LoadConfig(paths ...string) (*Config, error) {
	v := viper.NewWithOptions(viper.ExperimentalBindStruct())
	v.SetConfigName("config")
	v.SetConfigType("yaml")

	v.AddConfigPath("./config")
	for _, path := range paths {
		v.AddConfigPath(path)
	}

	setDefaults(v)

	v.SetEnvPrefix("SKILLUP")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var cfgErr viper.ConfigFileNotFoundError
		if !errors.As(err, &cfgErr) {
			return nil, fmt.Errorf("config: read file: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}

	return &config, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8000)
	v.SetDefault("server.log_level", "info")

	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.path", "./data/skillup-live.sqlite")

	v.SetDefault("auth.jwt.issuer", "skillup-live")
	v.SetDefault("auth.jwt.access_token_ttl", "15m")
	v.SetDefault("auth.refresh.token_ttl", "720h") // 30 days
	v.SetDefault("auth.refresh.token_length", 48)

	v.SetDefault("push.enabled", false)
	v.SetDefault("push.timeout", "10s")

	v.SetDefault("sessions.default_duration_minutes", 60)
	v.SetDefault("sessions.fanout_timeout", "10s")

	v.SetDefault("maintenance.enabled", true)
	v.SetDefault("maintenance.schedule", "0 * * * *") // hourly
	v.SetDefault("maintenance.device_idle_for", "720h")

	v.SetDefault("monitoring.prometheus_enabled", true)
}
