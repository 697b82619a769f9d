package auth

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/questlog/questlog/internal/database/testutil"
	"github.com/questlog/questlog/internal/models"
	"github.com/questlog/questlog/pkg/crypto"
)

func TestCreateSessionGeneratesTokens(t *testing.T) {
	db, svc, clock := setupSessionService(t)

	user := createTestUser(t, db, "session-create")

	tokens, session, err := svc.CreateSession(user.ID, SessionMetadata{
		IPAddress: "10.0.0.1 ",
		UserAgent: "unit-test",
		Claims:    map[string]any{"provider": "local"},
	})
	require.NoError(t, err)

	require.NotEmpty(t, tokens.AccessToken)
	require.NotEmpty(t, tokens.RefreshToken)
	require.NotNil(t, session)
	require.Equal(t, user.ID, session.UserID)
	require.Equal(t, "10.0.0.1", session.IPAddress)
	require.Equal(t, "unit-test", session.UserAgent)

	var reloaded models.Session
	require.NoError(t, db.Take(&reloaded, "id = ?", session.ID).Error)
	require.Equal(t, tokens.RefreshToken, reloaded.RefreshToken)
	require.True(t, reloaded.ExpiresAt.After(clock.Now()))
	require.True(t, reloaded.LastUsedAt.Equal(clock.Now()))
}

func TestCreateForSubjectRecordsProvider(t *testing.T) {
	db, svc, _ := setupSessionService(t)
	user := createTestUser(t, db, "session-subject")

	tokens, _, err := svc.CreateForSubject(AuthSubject{
		UserID:     user.ID,
		Provider:   "steam",
		ExternalID: "76561197960287930",
	}, SessionMetadata{})
	require.NoError(t, err)

	claims, err := svc.jwt.ValidateAccessToken(tokens.AccessToken)
	require.NoError(t, err)
	require.Equal(t, "steam", claims.Metadata["provider"])
	require.Equal(t, "76561197960287930", claims.Metadata["provider_subject"])
}

func TestRefreshSessionRotatesToken(t *testing.T) {
	db, svc, clock := setupSessionService(t)
	user := createTestUser(t, db, "session-refresh")

	tokens, session, err := svc.CreateSession(user.ID, SessionMetadata{})
	require.NoError(t, err)

	clock.Advance(5 * time.Minute)

	newTokens, updatedSession, err := svc.RefreshSession(tokens.RefreshToken)
	require.NoError(t, err)
	require.NotEqual(t, tokens.RefreshToken, newTokens.RefreshToken)
	require.NotEqual(t, tokens.AccessToken, newTokens.AccessToken)

	require.Equal(t, session.ID, updatedSession.ID)
	require.Equal(t, newTokens.RefreshToken, updatedSession.RefreshToken)
	require.True(t, updatedSession.LastUsedAt.Equal(clock.Now()))

	_, _, err = svc.RefreshSession(tokens.RefreshToken)
	require.ErrorIs(t, err, ErrSessionNotFound)
}

func TestRefreshSessionExpired(t *testing.T) {
	db, svc, clock := setupSessionService(t)
	user := createTestUser(t, db, "session-expired")

	tokens, session, err := svc.CreateSession(user.ID, SessionMetadata{})
	require.NoError(t, err)

	require.NoError(t, db.Model(&models.Session{}).
		Where("id = ?", session.ID).
		Update("expires_at", clock.Now().Add(-time.Minute)).Error)

	_, _, err = svc.RefreshSession(tokens.RefreshToken)
	require.ErrorIs(t, err, ErrSessionExpired)
}

func TestRevokeSessionPreventsRefresh(t *testing.T) {
	db, svc, _ := setupSessionService(t)

	user := createTestUser(t, db, "session-revoke")

	tokens, session, err := svc.CreateSession(user.ID, SessionMetadata{})
	require.NoError(t, err)

	require.NoError(t, svc.RevokeSession(session.ID))

	err = svc.RevokeSession("non-existent")
	require.ErrorIs(t, err, ErrSessionNotFound)

	_, _, err = svc.RefreshSession(tokens.RefreshToken)
	require.ErrorIs(t, err, ErrSessionRevoked)

	var stored models.Session
	require.NoError(t, db.Take(&stored, "id = ?", session.ID).Error)
	require.NotNil(t, stored.RevokedAt)
}

func TestRevokeUserSessionsRevokesAll(t *testing.T) {
	db, svc, _ := setupSessionService(t)
	user := createTestUser(t, db, "session-revoke-all")

	_, first, err := svc.CreateSession(user.ID, SessionMetadata{})
	require.NoError(t, err)
	_, second, err := svc.CreateSession(user.ID, SessionMetadata{})
	require.NoError(t, err)

	require.NoError(t, svc.RevokeUserSessions(user.ID))

	for _, id := range []string{first.ID, second.ID} {
		var stored models.Session
		require.NoError(t, db.Take(&stored, "id = ?", id).Error)
		require.NotNil(t, stored.RevokedAt, "session %s should be revoked", id)
	}
}

func setupSessionService(t *testing.T) (*gorm.DB, *SessionService, *testClock) {
	t.Helper()

	db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())

	clock := &testClock{current: time.Date(2024, 1, 3, 9, 0, 0, 0, time.UTC)}

	jwtService, err := NewJWTService(JWTConfig{
		Secret:         "session-secret",
		AccessTokenTTL: time.Hour,
		Clock:          clock.Now,
	})
	require.NoError(t, err)

	sessionService, err := NewSessionService(db, jwtService, SessionConfig{
		RefreshTokenTTL: 2 * time.Hour,
		RefreshLength:   24,
		Clock:           clock.Now,
	})
	require.NoError(t, err)

	return db, sessionService, clock
}

func createTestUser(t *testing.T, db *gorm.DB, label string) *models.User {
	t.Helper()

	hashed, err := crypto.HashPassword("password")
	require.NoError(t, err)

	email := label + "-" + uuid.NewString() + "@example.com"
	user := &models.User{
		Email:        &email,
		PasswordHash: &hashed,
		Name:         label,
	}
	require.NoError(t, db.Create(user).Error)
	return user
}

type testClock struct {
	current time.Time
}

func (c *testClock) Now() time.Time {
	return c.current
}

func (c *testClock) Advance(d time.Duration) {
	c.current = c.current.Add(d)
}
