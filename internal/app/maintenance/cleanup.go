package maintenance

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	iauth "github.com/skillup-labs/skillup-live/internal/auth"
	"github.com/skillup-labs/skillup-live/internal/services"
	"github.com/skillup-labs/skillup-live/pkg/logger"
)

const (
	defaultSchedule      = "0 * * * *"
	defaultDeviceIdleFor = 30 * 24 * time.Hour
)

// Cleaner coordinates background maintenance tasks: purging expired or
// revoked refresh tokens and deactivating devices that have gone idle.
type Cleaner struct {
	refresh *iauth.RefreshService
	devices *services.DeviceSessionService
	cron    *cron.Cron
	log     *zap.Logger

	schedule string
	idleFor  time.Duration
}

// Option customises the Cleaner.
type Option func(*Cleaner)

// WithCron injects a preconfigured cron instance, primarily for testing.
func WithCron(c *cron.Cron) Option {
	return func(cleaner *Cleaner) {
		if c != nil {
			cleaner.cron = c
		}
	}
}

// WithSchedule overrides the cron specification for the sweep.
func WithSchedule(spec string) Option {
	return func(cleaner *Cleaner) {
		if spec != "" {
			cleaner.schedule = spec
		}
	}
}

// WithDeviceIdleFor adjusts how long a device may stay inactive before the
// sweep deactivates it.
func WithDeviceIdleFor(idleFor time.Duration) Option {
	return func(cleaner *Cleaner) {
		if idleFor > 0 {
			cleaner.idleFor = idleFor
		}
	}
}

// NewCleaner constructs a Cleaner with sensible defaults. Any nil dependency
// results in the corresponding sweep being skipped.
func NewCleaner(refresh *iauth.RefreshService, devices *services.DeviceSessionService, opts ...Option) *Cleaner {
	cleaner := &Cleaner{
		refresh:  refresh,
		devices:  devices,
		schedule: defaultSchedule,
		idleFor:  defaultDeviceIdleFor,
		log:      logger.WithModule("maintenance"),
	}

	for _, opt := range opts {
		opt(cleaner)
	}

	if cleaner.cron == nil {
		cleaner.cron = cron.New(cron.WithLogger(cron.DiscardLogger))
	}

	return cleaner
}

// Start registers the sweep with the cron scheduler and launches it if at
// least one dependency is present.
func (c *Cleaner) Start() error {
	if c.refresh == nil && c.devices == nil {
		return nil
	}

	if _, err := c.cron.AddFunc(c.schedule, func() {
		if err := c.RunOnce(context.Background()); err != nil {
			c.log.Warn("maintenance sweep failed", zap.Error(err))
		}
	}); err != nil {
		return err
	}

	c.cron.Start()
	return nil
}

// Stop halts the underlying scheduler, waiting for any running jobs to complete.
func (c *Cleaner) Stop() context.Context {
	if c.cron == nil {
		return context.Background()
	}
	return c.cron.Stop()
}

// RunOnce executes all configured sweeps sequentially. Also used during
// graceful shutdown.
func (c *Cleaner) RunOnce(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	var errs error

	if c.refresh != nil {
		removed, err := c.refresh.CleanupExpired(ctx)
		if err != nil {
			errs = multierr.Append(errs, err)
		} else if removed > 0 {
			c.log.Info("purged refresh tokens", zap.Int64("removed", removed))
		}
	}

	if c.devices != nil && c.idleFor > 0 {
		deactivated, err := c.devices.DeactivateIdle(ctx, c.idleFor)
		if err != nil {
			errs = multierr.Append(errs, err)
		} else if deactivated > 0 {
			c.log.Info("deactivated idle devices", zap.Int64("deactivated", deactivated))
		}
	}

	return errs
}
