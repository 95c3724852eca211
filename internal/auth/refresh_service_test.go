package auth

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/skillup-labs/skillup-live/internal/database/testutil"
	"github.com/skillup-labs/skillup-live/internal/models"
)

func newRefreshFixture(t *testing.T) (*gorm.DB, *RefreshService, *models.User) {
	t.Helper()

	db := testutil.MustOpenTestDB(t)

	jwtSvc, err := NewJWTService(JWTConfig{Secret: "test-secret", Issuer: "skillup-live"})
	require.NoError(t, err)

	svc, err := NewRefreshService(db, jwtSvc, RefreshConfig{RefreshTokenTTL: time.Hour})
	require.NoError(t, err)

	user := &models.User{Name: "Alice", Email: "alice@example.com", Role: "student"}
	require.NoError(t, db.Create(user).Error)

	return db, svc, user
}

func TestRefreshService_IssueAndRotate(t *testing.T) {
	db, svc, user := newRefreshFixture(t)

	pair, err := svc.Issue(user, "dev-1")
	require.NoError(t, err)
	require.NotEmpty(t, pair.AccessToken)
	require.NotEmpty(t, pair.RefreshToken)

	rotated, err := svc.Rotate(context.Background(), pair.RefreshToken)
	require.NoError(t, err)
	require.NotEqual(t, pair.RefreshToken, rotated.RefreshToken)

	// The superseded token no longer resolves.
	_, err = svc.Rotate(context.Background(), pair.RefreshToken)
	require.ErrorIs(t, err, ErrRefreshNotFound)

	var record models.RefreshToken
	require.NoError(t, db.Take(&record, "token = ?", rotated.RefreshToken).Error)
	require.Equal(t, user.ID, record.UserID)
	require.Equal(t, "dev-1", record.DeviceSessionID)
}

func TestRefreshService_RotateRejectsRevoked(t *testing.T) {
	_, svc, user := newRefreshFixture(t)

	pair, err := svc.Issue(user, "dev-1")
	require.NoError(t, err)

	revoked, err := svc.RevokeDevice(context.Background(), "dev-1")
	require.NoError(t, err)
	require.EqualValues(t, 1, revoked)

	_, err = svc.Rotate(context.Background(), pair.RefreshToken)
	require.ErrorIs(t, err, ErrRefreshRevoked)
}

func TestRefreshService_RotateRejectsExpired(t *testing.T) {
	db := testutil.MustOpenTestDB(t)

	jwtSvc, err := NewJWTService(JWTConfig{Secret: "test-secret"})
	require.NoError(t, err)

	current := time.Now()
	svc, err := NewRefreshService(db, jwtSvc, RefreshConfig{
		RefreshTokenTTL: time.Hour,
		Clock:           func() time.Time { return current },
	})
	require.NoError(t, err)

	user := &models.User{Name: "Bob", Email: "bob@example.com"}
	require.NoError(t, db.Create(user).Error)

	pair, err := svc.Issue(user, "dev-1")
	require.NoError(t, err)

	current = current.Add(2 * time.Hour)
	_, err = svc.Rotate(context.Background(), pair.RefreshToken)
	require.ErrorIs(t, err, ErrRefreshExpired)
}

func TestRefreshService_RevokeUserSparesKeptDevice(t *testing.T) {
	_, svc, user := newRefreshFixture(t)

	_, err := svc.Issue(user, "dev-1")
	require.NoError(t, err)
	kept, err := svc.Issue(user, "dev-2")
	require.NoError(t, err)

	revoked, err := svc.RevokeUser(context.Background(), user.ID, "dev-2")
	require.NoError(t, err)
	require.EqualValues(t, 1, revoked)

	_, err = svc.Rotate(context.Background(), kept.RefreshToken)
	require.NoError(t, err)
}

func TestRefreshService_CleanupExpired(t *testing.T) {
	db, svc, user := newRefreshFixture(t)

	pair, err := svc.Issue(user, "dev-1")
	require.NoError(t, err)

	_, err = svc.RevokeDevice(context.Background(), "dev-1")
	require.NoError(t, err)

	removed, err := svc.CleanupExpired(context.Background())
	require.NoError(t, err)
	require.EqualValues(t, 1, removed)

	err = db.Take(&models.RefreshToken{}, "token = ?", pair.RefreshToken).Error
	require.ErrorIs(t, err, gorm.ErrRecordNotFound)
}
