package library

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/questlog/questlog/internal/database/testutil"
	"github.com/questlog/questlog/internal/models"
	"github.com/questlog/questlog/internal/platforms"
	apperrors "github.com/questlog/questlog/pkg/errors"
)

func newTestSealer(t *testing.T) *CredentialSealer {
	t.Helper()

	sealer, err := NewCredentialSealer([]byte("0123456789abcdef"))
	require.NoError(t, err)
	return sealer
}

func newConnectionsService(t *testing.T, db *gorm.DB, gog *platforms.GOGClient, psn *platforms.PSNClient, xbox *platforms.XboxClient) *ConnectionsService {
	t.Helper()

	if gog == nil {
		gog = platforms.NewGOGClient(platforms.GOGConfig{}, nil)
	}
	if psn == nil {
		psn = platforms.NewPSNClient(platforms.PSNConfig{}, nil)
	}
	if xbox == nil {
		xbox = platforms.NewXboxClient(platforms.XboxConfig{}, nil)
	}

	service, err := NewConnectionsService(db, newTestSealer(t), gog, psn, xbox)
	require.NoError(t, err)
	return service
}

func createConnectionsUser(t *testing.T, db *gorm.DB, mutate func(*models.User)) *models.User {
	t.Helper()

	email := fmt.Sprintf("connections-%s@example.com", uuid.NewString())
	user := &models.User{Email: &email, Name: "Connections Tester"}
	if mutate != nil {
		mutate(user)
	}
	require.NoError(t, db.Create(user).Error)
	return user
}

func randomDigits(n int) string {
	raw := strings.ReplaceAll(uuid.NewString(), "-", "")
	var digits strings.Builder
	for _, r := range raw {
		if r >= '0' && r <= '9' {
			digits.WriteRune(r)
		}
		if digits.Len() == n {
			break
		}
	}
	for digits.Len() < n {
		digits.WriteByte('7')
	}
	return digits.String()
}

func randomXUID() string { return "2533" + randomDigits(12) }

// newFakePSN serves the authorize/token dance plus the profile lookup from a
// single server. The NPSSO cookie must match for a code to be issued.
func newFakePSN(t *testing.T, npsso, accountID, onlineID string) *platforms.PSNClient {
	t.Helper()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.HasPrefix(r.URL.Path, "/api/authz/v3/oauth/authorize"):
			location := "com.scee.psxandroid.scecompcall://redirect"
			if strings.Contains(r.Header.Get("Cookie"), "npsso="+npsso) {
				location += "?code=fake-code"
			}
			w.Header().Set("Location", location)
			w.WriteHeader(http.StatusFound)
		case r.URL.Path == "/api/authz/v3/oauth/token":
			_ = json.NewEncoder(w).Encode(map[string]any{
				"access_token": "fake-access-token",
				"expires_in":   3600,
			})
		case strings.HasPrefix(r.URL.Path, "/userProfile/v1/users/me/profile2"):
			require.Equal(t, "Bearer fake-access-token", r.Header.Get("Authorization"))
			_ = json.NewEncoder(w).Encode(map[string]any{
				"profile": map[string]any{"accountId": accountID, "onlineId": onlineID},
			})
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(server.Close)

	return platforms.NewPSNClient(platforms.PSNConfig{
		AuthBaseURL:    server.URL,
		TrophyBaseURL:  server.URL,
		ProfileBaseURL: server.URL,
	}, server.Client())
}

func TestConnectGOGStoresUsername(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Contains(t, r.URL.Path, "/u/gamer-one/games/stats")
		_ = json.NewEncoder(w).Encode(map[string]any{"page": 1, "pages": 1, "total": 0})
	}))
	t.Cleanup(server.Close)

	db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())
	gog := platforms.NewGOGClient(platforms.GOGConfig{BaseURL: server.URL}, server.Client())
	service := newConnectionsService(t, db, gog, nil, nil)
	user := createConnectionsUser(t, db, nil)

	updated, err := service.ConnectGOG(context.Background(), user, "  gamer-one  ")
	require.NoError(t, err)
	require.NotNil(t, updated.GOGUsername)
	require.Equal(t, "gamer-one", *updated.GOGUsername)

	var stored models.User
	require.NoError(t, db.First(&stored, "id = ?", user.ID).Error)
	require.NotNil(t, stored.GOGUsername)
	require.Equal(t, "gamer-one", *stored.GOGUsername)
}

func TestConnectGOGRejectsMissingProfile(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	t.Cleanup(server.Close)

	db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())
	gog := platforms.NewGOGClient(platforms.GOGConfig{BaseURL: server.URL}, server.Client())
	service := newConnectionsService(t, db, gog, nil, nil)
	user := createConnectionsUser(t, db, nil)

	_, err := service.ConnectGOG(context.Background(), user, "ghost")
	appErr := apperrors.FromError(err)
	require.Equal(t, "VALIDATION_ERROR", appErr.Code)
	require.Equal(t, "GOG profile not found or not public", appErr.Message)
}

func TestConnectGOGRequiresUsername(t *testing.T) {
	db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())
	service := newConnectionsService(t, db, nil, nil, nil)
	user := createConnectionsUser(t, db, nil)

	_, err := service.ConnectGOG(context.Background(), user, "   ")
	require.Equal(t, "VALIDATION_ERROR", apperrors.FromError(err).Code)
}

func TestConnectXboxResolvesGamertag(t *testing.T) {
	xuid := randomXUID()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/account/"+xuid, r.URL.Path)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"profileUsers": []map[string]any{
				{"id": xuid, "settings": []map[string]any{{"id": "Gamertag", "value": "NightOwl"}}},
			},
		})
	}))
	t.Cleanup(server.Close)

	db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())
	xbox := platforms.NewXboxClient(platforms.XboxConfig{APIKey: "xbl-key", BaseURL: server.URL}, server.Client())
	service := newConnectionsService(t, db, nil, nil, xbox)
	user := createConnectionsUser(t, db, nil)

	updated, err := service.ConnectXbox(context.Background(), user, xuid)
	require.NoError(t, err)
	require.NotNil(t, updated.XUID)
	require.Equal(t, xuid, *updated.XUID)
	require.Equal(t, "NightOwl", updated.XboxGamertag)
}

func TestConnectXboxValidatesXUID(t *testing.T) {
	db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())
	service := newConnectionsService(t, db, nil, nil, nil)
	user := createConnectionsUser(t, db, nil)

	for _, xuid := range []string{"", "gamertag", "123", "25332748000000000000000000"} {
		_, err := service.ConnectXbox(context.Background(), user, xuid)
		require.Equal(t, "VALIDATION_ERROR", apperrors.FromError(err).Code, "xuid %q", xuid)
	}
}

func TestConnectXboxRejectsUnknownProfile(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"profileUsers": []map[string]any{}})
	}))
	t.Cleanup(server.Close)

	db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())
	xbox := platforms.NewXboxClient(platforms.XboxConfig{APIKey: "xbl-key", BaseURL: server.URL}, server.Client())
	service := newConnectionsService(t, db, nil, nil, xbox)
	user := createConnectionsUser(t, db, nil)

	_, err := service.ConnectXbox(context.Background(), user, randomXUID())
	appErr := apperrors.FromError(err)
	require.Equal(t, "VALIDATION_ERROR", appErr.Code)
	require.Equal(t, "No Xbox profile found for this XUID", appErr.Message)
}

func TestConnectXboxConflictsOnTakenXUID(t *testing.T) {
	db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())
	// No API key configured, so the probe is skipped and no server is needed.
	service := newConnectionsService(t, db, nil, nil, nil)

	xuid := randomXUID()
	first := createConnectionsUser(t, db, nil)
	second := createConnectionsUser(t, db, nil)

	_, err := service.ConnectXbox(context.Background(), first, xuid)
	require.NoError(t, err)

	_, err = service.ConnectXbox(context.Background(), second, xuid)
	appErr := apperrors.FromError(err)
	require.Equal(t, "CONFLICT", appErr.Code)
	require.Equal(t, 409, appErr.StatusCode)
}

func TestConnectPSNExchangesAndSeals(t *testing.T) {
	accountID := randomDigits(18)
	psn := newFakePSN(t, "valid-npsso", accountID, "night_owl")

	db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())
	service := newConnectionsService(t, db, nil, psn, nil)
	user := createConnectionsUser(t, db, nil)

	updated, err := service.ConnectPSN(context.Background(), user, "valid-npsso")
	require.NoError(t, err)
	require.NotNil(t, updated.PSNAccountID)
	require.Equal(t, accountID, *updated.PSNAccountID)
	require.NotNil(t, updated.PSNOnlineID)
	require.Equal(t, "night_owl", *updated.PSNOnlineID)

	// The NPSSO never lands in the database as plaintext.
	require.NotEmpty(t, updated.EncryptedNPSSO)
	require.NotContains(t, updated.EncryptedNPSSO, "valid-npsso")

	opened, err := newTestSealer(t).Open(updated.EncryptedNPSSO)
	require.NoError(t, err)
	require.Equal(t, "valid-npsso", opened)
}

func TestConnectPSNRejectsBadNPSSO(t *testing.T) {
	psn := newFakePSN(t, "valid-npsso", randomDigits(18), "night_owl")

	db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())
	service := newConnectionsService(t, db, nil, psn, nil)
	user := createConnectionsUser(t, db, nil)

	_, err := service.ConnectPSN(context.Background(), user, "expired-npsso")
	appErr := apperrors.FromError(err)
	require.Equal(t, "VALIDATION_ERROR", appErr.Code)
	require.Equal(t, "PlayStation rejected the NPSSO token", appErr.Message)

	var stored models.User
	require.NoError(t, db.First(&stored, "id = ?", user.ID).Error)
	require.Nil(t, stored.PSNAccountID)
	require.Empty(t, stored.EncryptedNPSSO)
}

func TestDisconnectClearsOnlyThatPlatform(t *testing.T) {
	db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())
	service := newConnectionsService(t, db, nil, nil, nil)

	xuid := randomXUID()
	gogName := "gamer-" + randomDigits(6)
	user := createConnectionsUser(t, db, func(u *models.User) {
		u.XUID = &xuid
		u.XboxGamertag = "NightOwl"
		u.GOGUsername = &gogName
	})

	updated, err := service.Disconnect(context.Background(), user, platforms.Xbox)
	require.NoError(t, err)
	require.Nil(t, updated.XUID)
	require.Empty(t, updated.XboxGamertag)
	require.NotNil(t, updated.GOGUsername)

	var stored models.User
	require.NoError(t, db.First(&stored, "id = ?", user.ID).Error)
	require.Nil(t, stored.XUID)
	require.NotNil(t, stored.GOGUsername)
}

func TestDisconnectSteamGuardsLastSignInMethod(t *testing.T) {
	db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())
	service := newConnectionsService(t, db, nil, nil, nil)

	steamID := "7656119" + randomDigits(10)
	steamOnly := createConnectionsUser(t, db, func(u *models.User) {
		u.Email = nil
		u.SteamID = &steamID
		u.PersonaName = "Night Owl"
	})

	_, err := service.Disconnect(context.Background(), steamOnly, platforms.Steam)
	require.Equal(t, "VALIDATION_ERROR", apperrors.FromError(err).Code)

	var stored models.User
	require.NoError(t, db.First(&stored, "id = ?", steamOnly.ID).Error)
	require.NotNil(t, stored.SteamID)
}

func TestDisconnectSteamAllowedWithPassword(t *testing.T) {
	db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())
	service := newConnectionsService(t, db, nil, nil, nil)

	steamID := "7656119" + randomDigits(10)
	hash := "$2a$10$examplehashexamplehashexampleha"
	user := createConnectionsUser(t, db, func(u *models.User) {
		u.PasswordHash = &hash
		u.SteamID = &steamID
		u.PersonaName = "Night Owl"
		u.Avatar = "https://avatars.example.com/owl.jpg"
		u.ProfileURL = "https://steamcommunity.com/id/nightowl"
	})

	updated, err := service.Disconnect(context.Background(), user, platforms.Steam)
	require.NoError(t, err)
	require.Nil(t, updated.SteamID)
	require.Empty(t, updated.PersonaName)
	require.Empty(t, updated.ProfileURL)
	// The avatar stays; it is profile data, not a platform link.
	require.Equal(t, "https://avatars.example.com/owl.jpg", updated.Avatar)
}

func TestDisconnectUnknownPlatform(t *testing.T) {
	db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())
	service := newConnectionsService(t, db, nil, nil, nil)
	user := createConnectionsUser(t, db, nil)

	_, err := service.Disconnect(context.Background(), user, platforms.Platform("origin"))
	require.Equal(t, "VALIDATION_ERROR", apperrors.FromError(err).Code)
}

func TestStatusReportsEveryPlatform(t *testing.T) {
	db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())
	service := newConnectionsService(t, db, nil, nil, nil)

	steamID := "7656119" + randomDigits(10)
	onlineID := "night_owl"
	accountID := randomDigits(18)
	user := createConnectionsUser(t, db, func(u *models.User) {
		u.SteamID = &steamID
		u.PersonaName = "Night Owl"
		u.PSNAccountID = &accountID
		u.PSNOnlineID = &onlineID
	})

	statuses := service.Status(user)
	require.Len(t, statuses, 4)

	byPlatform := make(map[platforms.Platform]ConnectionStatus, len(statuses))
	for _, status := range statuses {
		byPlatform[status.Platform] = status
	}

	require.True(t, byPlatform[platforms.Steam].Connected)
	require.Equal(t, "Night Owl", byPlatform[platforms.Steam].Identifier)
	require.True(t, byPlatform[platforms.PSN].Connected)
	require.Equal(t, "night_owl", byPlatform[platforms.PSN].Identifier)
	require.False(t, byPlatform[platforms.GOG].Connected)
	require.False(t, byPlatform[platforms.Xbox].Connected)
}
