package maintenance

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	iauth "github.com/questlog/questlog/internal/auth"
	"github.com/questlog/questlog/internal/cache"
	testutil "github.com/questlog/questlog/internal/database/testutil"
	"github.com/questlog/questlog/internal/models"
	"github.com/questlog/questlog/internal/monitoring/checks"
	"github.com/questlog/questlog/pkg/crypto"
)

func TestCleanerRunOnce(t *testing.T) {
	db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())

	jwtSvc, err := iauth.NewJWTService(iauth.JWTConfig{
		Secret:         "cleanup-secret",
		Issuer:         "test-suite",
		AccessTokenTTL: time.Hour,
	})
	require.NoError(t, err)

	sessionSvc, err := iauth.NewSessionService(db, jwtSvc, iauth.SessionConfig{
		RefreshTokenTTL: time.Hour,
		RefreshLength:   16,
	})
	require.NoError(t, err)

	user := seedUser(t, db, "cleanup@example.com")

	_, expiredSession, err := sessionSvc.CreateSession(user.ID, iauth.SessionMetadata{})
	require.NoError(t, err)
	require.NoError(t, db.Model(&models.Session{}).Where("id = ?", expiredSession.ID).
		Update("expires_at", time.Now().Add(-2*time.Hour)).Error)

	_, activeSession, err := sessionSvc.CreateSession(user.ID, iauth.SessionMetadata{})
	require.NoError(t, err)

	_, revokedSession, err := sessionSvc.CreateSession(user.ID, iauth.SessionMetadata{})
	require.NoError(t, err)
	require.NoError(t, sessionSvc.RevokeSession(revokedSession.ID))

	store := cache.NewDatabaseStore(db)
	require.NoError(t, db.Create(&models.CacheEntry{
		Key:       "stale",
		Value:     []byte("x"),
		ExpiresAt: time.Now().Add(-time.Hour),
	}).Error)
	require.NoError(t, store.Set(context.Background(), "fresh", []byte("y"), time.Hour))

	c := NewCleaner(sessionSvc, store,
		WithCron(cron.New(cron.WithLogger(cron.DiscardLogger))),
	)

	require.NoError(t, c.RunOnce(context.Background()))

	assertGone := func(id string) {
		var s models.Session
		err := db.First(&s, "id = ?", id).Error
		require.ErrorIs(t, err, gorm.ErrRecordNotFound)
	}

	assertGone(expiredSession.ID)
	assertGone(revokedSession.ID)

	var remaining models.Session
	require.NoError(t, db.First(&remaining, "id = ?", activeSession.ID).Error)

	_, found, err := store.Get(context.Background(), "stale")
	require.NoError(t, err)
	require.False(t, found)

	_, found, err = store.Get(context.Background(), "fresh")
	require.NoError(t, err)
	require.True(t, found)

	statuses := c.JobStatuses()
	require.Len(t, statuses, 2)
	for _, status := range statuses {
		require.Equal(t, uint64(1), status.TotalRuns)
		require.Zero(t, status.ConsecutiveFailures)
		require.Empty(t, status.LastError)
		require.False(t, status.LastRunAt.IsZero())
	}
}

func TestCleanerRecordsFailures(t *testing.T) {
	db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())

	jwtSvc, err := iauth.NewJWTService(iauth.JWTConfig{
		Secret:         "cleanup-secret",
		Issuer:         "test-suite",
		AccessTokenTTL: time.Hour,
	})
	require.NoError(t, err)

	sessionSvc, err := iauth.NewSessionService(db, jwtSvc, iauth.SessionConfig{})
	require.NoError(t, err)

	c := NewCleaner(sessionSvc, failingSweeper{},
		WithCron(cron.New(cron.WithLogger(cron.DiscardLogger))),
	)

	require.Error(t, c.RunOnce(context.Background()))
	require.Error(t, c.RunOnce(context.Background()))

	var sweep *checks.JobStatus
	for _, status := range c.JobStatuses() {
		if status.Job == jobCacheSweep {
			copied := status
			sweep = &copied
		}
	}
	require.NotNil(t, sweep)
	require.Equal(t, uint64(2), sweep.TotalRuns)
	require.Equal(t, 2, sweep.ConsecutiveFailures)
	require.Contains(t, sweep.LastError, "sweep broken")
}

func TestCleanerStartWithoutJobs(t *testing.T) {
	c := NewCleaner(nil, nil)
	require.NoError(t, c.Start())
	require.NoError(t, c.RunOnce(context.Background()))
	require.Empty(t, c.JobStatuses())
}

type failingSweeper struct{}

func (failingSweeper) CleanupExpired(context.Context) (int64, error) {
	return 0, errors.New("sweep broken")
}

func seedUser(t *testing.T, db *gorm.DB, email string) *models.User {
	t.Helper()

	hash, err := crypto.HashPassword("Password123!")
	require.NoError(t, err)

	user := &models.User{
		Email:        &email,
		PasswordHash: &hash,
		Name:         "Cleanup",
	}
	require.NoError(t, db.Create(user).Error)
	return user
}
