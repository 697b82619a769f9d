package library

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/questlog/questlog/internal/models"
	"github.com/questlog/questlog/internal/platforms"
)

func strPtr(v string) *string { return &v }

func TestSourceConnectedGating(t *testing.T) {
	steamID := "76561198000000001"
	username := "gamer-one"
	xuid := "2533274800000001"
	accountID := "123456789012345678"

	configuredSteam := platforms.NewSteamClient(platforms.SteamConfig{APIKey: "steam-key"}, nil)
	bareSteam := platforms.NewSteamClient(platforms.SteamConfig{}, nil)
	configuredXbox := platforms.NewXboxClient(platforms.XboxConfig{APIKey: "xbl-key"}, nil)
	bareXbox := platforms.NewXboxClient(platforms.XboxConfig{}, nil)
	gog := platforms.NewGOGClient(platforms.GOGConfig{}, nil)
	psn := platforms.NewPSNClient(platforms.PSNConfig{}, nil)
	sealer := newTestSealer(t)

	cases := []struct {
		name      string
		source    Source
		user      *models.User
		connected bool
	}{
		{
			name:      "steam linked and configured",
			source:    &steamSource{client: configuredSteam},
			user:      &models.User{SteamID: &steamID},
			connected: true,
		},
		{
			name:      "steam linked without api key",
			source:    &steamSource{client: bareSteam},
			user:      &models.User{SteamID: &steamID},
			connected: false,
		},
		{
			name:      "steam not linked",
			source:    &steamSource{client: configuredSteam},
			user:      &models.User{},
			connected: false,
		},
		{
			name:      "gog linked",
			source:    &gogSource{client: gog},
			user:      &models.User{GOGUsername: &username},
			connected: true,
		},
		{
			name:      "gog not linked",
			source:    &gogSource{client: gog},
			user:      &models.User{},
			connected: false,
		},
		{
			name:      "xbox linked and configured",
			source:    &xboxSource{client: configuredXbox},
			user:      &models.User{XUID: &xuid},
			connected: true,
		},
		{
			name:      "xbox linked without api key",
			source:    &xboxSource{client: bareXbox},
			user:      &models.User{XUID: &xuid},
			connected: false,
		},
		{
			name:      "psn linked",
			source:    newPSNSource(psn, sealer),
			user:      &models.User{PSNAccountID: &accountID, EncryptedNPSSO: "sealed"},
			connected: true,
		},
		{
			name:      "psn missing stored npsso",
			source:    newPSNSource(psn, sealer),
			user:      &models.User{PSNAccountID: &accountID},
			connected: false,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.connected, tc.source.Connected(tc.user))
		})
	}
}

func TestNewSourcesCoversAllPlatforms(t *testing.T) {
	sources := NewSources(
		platforms.NewSteamClient(platforms.SteamConfig{}, nil),
		platforms.NewGOGClient(platforms.GOGConfig{}, nil),
		platforms.NewXboxClient(platforms.XboxConfig{}, nil),
		platforms.NewPSNClient(platforms.PSNConfig{}, nil),
		newTestSealer(t),
	)

	require.Len(t, sources, len(platforms.All()))
	for i, platform := range platforms.All() {
		require.Equal(t, platform, sources[i].Platform())
	}
}

func TestGOGSourceAchievementsUnavailable(t *testing.T) {
	source := &gogSource{client: platforms.NewGOGClient(platforms.GOGConfig{}, nil)}

	username := "gamer-one"
	_, err := source.Achievements(context.Background(), &models.User{GOGUsername: &username}, "1207658924")
	require.ErrorIs(t, err, platforms.ErrNotFound)
}

func TestPSNSourceExchangesTokenOnce(t *testing.T) {
	var exchanges atomic.Int32

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.HasPrefix(r.URL.Path, "/api/authz/v3/oauth/authorize"):
			exchanges.Add(1)
			w.Header().Set("Location", "com.scee.psxandroid.scecompcall://redirect?code=fake-code")
			w.WriteHeader(http.StatusFound)
		case r.URL.Path == "/api/authz/v3/oauth/token":
			_ = json.NewEncoder(w).Encode(map[string]any{"access_token": "fake-access-token", "expires_in": 3600})
		case strings.HasPrefix(r.URL.Path, "/api/trophy/v1/users/me/trophyTitles"):
			require.Equal(t, "Bearer fake-access-token", r.Header.Get("Authorization"))
			_ = json.NewEncoder(w).Encode(map[string]any{
				"trophyTitles":   []map[string]any{},
				"totalItemCount": 0,
				"nextOffset":     0,
			})
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(server.Close)

	client := platforms.NewPSNClient(platforms.PSNConfig{
		AuthBaseURL:   server.URL,
		TrophyBaseURL: server.URL,
	}, server.Client())

	sealer := newTestSealer(t)
	sealed, err := sealer.Seal("npsso-cookie")
	require.NoError(t, err)

	source := newPSNSource(client, sealer)
	user := &models.User{
		BaseModel:      models.BaseModel{ID: "player-1"},
		PSNAccountID:   strPtr("123456789012345678"),
		EncryptedNPSSO: sealed,
	}

	_, err = source.Games(context.Background(), user)
	require.NoError(t, err)
	_, err = source.Games(context.Background(), user)
	require.NoError(t, err)

	require.Equal(t, int32(1), exchanges.Load())
}

func TestPSNSourceRejectsCorruptCredential(t *testing.T) {
	source := newPSNSource(platforms.NewPSNClient(platforms.PSNConfig{}, nil), newTestSealer(t))
	user := &models.User{
		BaseModel:      models.BaseModel{ID: "player-1"},
		PSNAccountID:   strPtr("123456789012345678"),
		EncryptedNPSSO: "not-a-sealed-value",
	}

	_, err := source.Games(context.Background(), user)
	require.Error(t, err)
	require.Contains(t, err.Error(), "unseal")
}
