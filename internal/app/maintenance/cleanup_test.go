package maintenance

import (
	"context"
	"testing"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	iauth "github.com/skillup-labs/skillup-live/internal/auth"
	testutil "github.com/skillup-labs/skillup-live/internal/database/testutil"
	"github.com/skillup-labs/skillup-live/internal/models"
	"github.com/skillup-labs/skillup-live/internal/services"
)

type fixedClock struct {
	current time.Time
}

func (c *fixedClock) Now() time.Time {
	return c.current
}

func seedUser(t *testing.T, db *gorm.DB, email string) *models.User {
	t.Helper()

	user := &models.User{Name: "Sweep Tester", Email: email}
	require.NoError(t, user.SetPassword("Password123!"))
	require.NoError(t, db.Create(user).Error)
	return user
}

func TestCleanerRunOnce(t *testing.T) {
	db := testutil.MustOpenTestDB(t)
	clock := &fixedClock{current: time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)}

	jwtSvc, err := iauth.NewJWTService(iauth.JWTConfig{
		Secret:         "cleanup-secret",
		Issuer:         "test-suite",
		AccessTokenTTL: time.Hour,
		Clock:          clock.Now,
	})
	require.NoError(t, err)

	refreshSvc, err := iauth.NewRefreshService(db, jwtSvc, iauth.RefreshConfig{
		RefreshTokenTTL: time.Hour,
		TokenLength:     16,
		Clock:           clock.Now,
	})
	require.NoError(t, err)

	deviceSvc, err := services.NewDeviceSessionService(db, nil, nil, clock.Now)
	require.NoError(t, err)

	user := seedUser(t, db, "sweep@example.com")

	// One token expires before the sweep runs, one stays valid.
	expired, err := refreshSvc.Issue(user, "")
	require.NoError(t, err)
	require.NoError(t, db.Model(&models.RefreshToken{}).
		Where("token = ?", expired.RefreshToken).
		Update("expires_at", clock.Now().Add(-2*time.Hour)).Error)

	active, err := refreshSvc.Issue(user, "")
	require.NoError(t, err)

	idleDevice, err := deviceSvc.Upsert(context.Background(), services.UpsertDeviceInput{
		UserID:   user.ID,
		DeviceID: "dev-idle",
		Platform: "android",
	})
	require.NoError(t, err)
	require.NoError(t, db.Model(&models.DeviceSession{}).
		Where("id = ?", idleDevice.ID).
		Update("last_active_at", clock.Now().Add(-60*24*time.Hour)).Error)

	freshDevice, err := deviceSvc.Upsert(context.Background(), services.UpsertDeviceInput{
		UserID:   user.ID,
		DeviceID: "dev-fresh",
		Platform: "ios",
	})
	require.NoError(t, err)

	cleaner := NewCleaner(refreshSvc, deviceSvc,
		WithCron(cron.New(cron.WithLogger(cron.DiscardLogger))),
		WithDeviceIdleFor(30*24*time.Hour),
	)

	require.NoError(t, cleaner.RunOnce(context.Background()))

	var tokenCount int64
	require.NoError(t, db.Model(&models.RefreshToken{}).Count(&tokenCount).Error)
	require.Equal(t, int64(1), tokenCount)

	var remaining models.RefreshToken
	require.NoError(t, db.Where("token = ?", active.RefreshToken).Take(&remaining).Error)

	var idle models.DeviceSession
	require.NoError(t, db.First(&idle, "id = ?", idleDevice.ID).Error)
	require.False(t, idle.IsActive)

	var fresh models.DeviceSession
	require.NoError(t, db.First(&fresh, "id = ?", freshDevice.ID).Error)
	require.True(t, fresh.IsActive)
}

func TestCleanerStartWithoutDependencies(t *testing.T) {
	cleaner := NewCleaner(nil, nil)
	require.NoError(t, cleaner.Start())
	<-cleaner.Stop().Done()
}

func TestCleanerStartRejectsBadSchedule(t *testing.T) {
	db := testutil.MustOpenTestDB(t)

	deviceSvc, err := services.NewDeviceSessionService(db, nil, nil, nil)
	require.NoError(t, err)

	cleaner := NewCleaner(nil, deviceSvc, WithSchedule("not-a-schedule"))
	require.Error(t, cleaner.Start())
}
