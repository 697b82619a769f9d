package handlers_test

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/questlog/questlog/internal/handlers/testutil"
	"github.com/questlog/questlog/internal/library"
	"github.com/questlog/questlog/internal/models"
	"github.com/questlog/questlog/internal/platforms"
)

const testSteamID = "76561198000000001"

func newSteamUser(t *testing.T, env *testutil.Env) (*models.User, string) {
	t.Helper()
	user := env.CreateUser("LibraryPassw0rd!")
	require.NoError(t, env.DB.Model(user).Update("steam_id", testSteamID).Error)
	login := env.Login(*user.Email, "LibraryPassw0rd!")
	return user, login.Tokens.AccessToken
}

func TestLibraryHandler_GamesAggregatesSteam(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/IPlayerService/GetOwnedGames/v1/" {
			http.NotFound(w, r)
			return
		}
		calls.Add(1)
		require.Equal(t, "steam-key", r.URL.Query().Get("key"))
		require.Equal(t, testSteamID, r.URL.Query().Get("steamid"))
		fmt.Fprint(w, `{"response":{"games":[
			{"appid":440,"name":"Team Fortress 2","playtime_forever":5400,"img_icon_url":"e3f595a92552da3d664ad00277fad2107345f743","rtime_last_played":1713000000},
			{"appid":620,"name":"Portal 2","playtime_forever":900,"rtime_last_played":1713100000}
		]}}`)
	}))
	defer srv.Close()

	env := testutil.NewEnv(t, testutil.WithSteamPlatform(platforms.SteamConfig{APIKey: "steam-key", BaseURL: srv.URL}))
	_, token := newSteamUser(t, env)

	w := env.Request(http.MethodGet, "/api/library/games", nil, token)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	resp := testutil.DecodeResponse(t, w)
	var result library.GamesResult
	testutil.DecodeInto(t, resp.Data, &result)

	require.Empty(t, result.Errors)
	require.Len(t, result.Games, 2)

	// Most recently played first.
	require.Equal(t, "Portal 2", result.Games[0].Name)
	require.Equal(t, "Team Fortress 2", result.Games[1].Name)
	require.Equal(t, platforms.Steam, result.Games[0].Platform)
	require.Equal(t, 5400, result.Games[1].PlaytimeMinutes)
	require.NotEmpty(t, result.Games[1].ArtworkURL)

	// The second read must come from the cache.
	again := env.Request(http.MethodGet, "/api/library/games", nil, token)
	require.Equal(t, http.StatusOK, again.Code)
	require.Equal(t, int32(1), calls.Load())
}

func TestLibraryHandler_SyncRefetches(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/IPlayerService/GetOwnedGames/v1/" {
			http.NotFound(w, r)
			return
		}
		if calls.Add(1) == 1 {
			fmt.Fprint(w, `{"response":{"games":[{"appid":440,"name":"Team Fortress 2","playtime_forever":5400}]}}`)
			return
		}
		fmt.Fprint(w, `{"response":{"games":[
			{"appid":440,"name":"Team Fortress 2","playtime_forever":5460},
			{"appid":730,"name":"Counter-Strike 2","playtime_forever":60}
		]}}`)
	}))
	defer srv.Close()

	env := testutil.NewEnv(t, testutil.WithSteamPlatform(platforms.SteamConfig{APIKey: "steam-key", BaseURL: srv.URL}))
	_, token := newSteamUser(t, env)

	first := env.Request(http.MethodGet, "/api/library/games", nil, token)
	require.Equal(t, http.StatusOK, first.Code)
	var initial library.GamesResult
	testutil.DecodeInto(t, testutil.DecodeResponse(t, first).Data, &initial)
	require.Len(t, initial.Games, 1)

	synced := env.Request(http.MethodPost, "/api/library/sync", nil, token)
	require.Equal(t, http.StatusOK, synced.Code, synced.Body.String())

	var refreshed library.GamesResult
	testutil.DecodeInto(t, testutil.DecodeResponse(t, synced).Data, &refreshed)
	require.Len(t, refreshed.Games, 2)
	require.Equal(t, int32(2), calls.Load())

	// Sync repopulates the cache; a follow-up read stays local.
	after := env.Request(http.MethodGet, "/api/library/games", nil, token)
	require.Equal(t, http.StatusOK, after.Code)
	var cached library.GamesResult
	testutil.DecodeInto(t, testutil.DecodeResponse(t, after).Data, &cached)
	require.Len(t, cached.Games, 2)
	require.Equal(t, int32(2), calls.Load())
}

func TestLibraryHandler_GamesReportsPlatformFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upstream down", http.StatusBadGateway)
	}))
	defer srv.Close()

	env := testutil.NewEnv(t, testutil.WithSteamPlatform(platforms.SteamConfig{APIKey: "steam-key", BaseURL: srv.URL}))
	_, token := newSteamUser(t, env)

	w := env.Request(http.MethodGet, "/api/library/games", nil, token)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	resp := testutil.DecodeResponse(t, w)
	var result library.GamesResult
	testutil.DecodeInto(t, resp.Data, &result)

	require.Empty(t, result.Games)
	require.Len(t, result.Errors, 1)
	require.Equal(t, platforms.Steam, result.Errors[0].Platform)
	require.Equal(t, "Steam request failed", result.Errors[0].Message)
}

func TestLibraryHandler_GamesWithNoConnections(t *testing.T) {
	env := testutil.NewEnv(t)
	user := env.CreateUser("LibraryPassw0rd!")
	login := env.Login(*user.Email, "LibraryPassw0rd!")

	w := env.Request(http.MethodGet, "/api/library/games", nil, login.Tokens.AccessToken)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	resp := testutil.DecodeResponse(t, w)
	var result library.GamesResult
	testutil.DecodeInto(t, resp.Data, &result)
	require.Empty(t, result.Games)
	require.Empty(t, result.Errors)
}

func TestLibraryHandler_Achievements(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/ISteamUserStats/GetSchemaForGame/v2/":
			require.Equal(t, "440", r.URL.Query().Get("appid"))
			fmt.Fprint(w, `{"game":{"availableGameStats":{"achievements":[
				{"name":"TF_SCOUT_KILL","displayName":"Batter Up","description":"Score a melee kill","icon":"https://cdn/earned.jpg","icongray":"https://cdn/gray.jpg"},
				{"name":"TF_MEDIC_HEAL","displayName":"Group Health","description":"Heal teammates","icon":"https://cdn/earned2.jpg","icongray":"https://cdn/gray2.jpg"}
			]}}}`)
		case "/ISteamUserStats/GetPlayerAchievements/v1/":
			fmt.Fprint(w, `{"playerstats":{"achievements":[
				{"apiname":"TF_SCOUT_KILL","achieved":1,"unlocktime":1713000000},
				{"apiname":"TF_MEDIC_HEAL","achieved":0,"unlocktime":0}
			]}}`)
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	env := testutil.NewEnv(t, testutil.WithSteamPlatform(platforms.SteamConfig{APIKey: "steam-key", BaseURL: srv.URL}))
	_, token := newSteamUser(t, env)

	w := env.Request(http.MethodGet, "/api/library/games/steam/440/achievements", nil, token)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	resp := testutil.DecodeResponse(t, w)
	var payload struct {
		Platform     platforms.Platform      `json:"platform"`
		GameID       string                  `json:"game_id"`
		Achievements []platforms.Achievement `json:"achievements"`
	}
	testutil.DecodeInto(t, resp.Data, &payload)

	require.Equal(t, platforms.Steam, payload.Platform)
	require.Equal(t, "440", payload.GameID)
	require.Len(t, payload.Achievements, 2)

	earned := payload.Achievements[0]
	require.Equal(t, "Batter Up", earned.Name)
	require.True(t, earned.Earned)
	require.NotNil(t, earned.EarnedAt)
	require.Equal(t, "https://cdn/earned.jpg", earned.IconURL)

	locked := payload.Achievements[1]
	require.False(t, locked.Earned)
	require.Nil(t, locked.EarnedAt)
	require.Equal(t, "https://cdn/gray2.jpg", locked.IconURL)
}

func TestLibraryHandler_AchievementsValidation(t *testing.T) {
	env := testutil.NewEnv(t)
	user := env.CreateUser("LibraryPassw0rd!")
	login := env.Login(*user.Email, "LibraryPassw0rd!")
	token := login.Tokens.AccessToken

	unknown := env.Request(http.MethodGet, "/api/library/games/epic/123/achievements", nil, token)
	require.Equal(t, http.StatusBadRequest, unknown.Code)
	require.Equal(t, "Unknown platform", testutil.DecodeResponse(t, unknown).Error.Message)

	// Steam is a valid platform but this account never linked it.
	unlinked := env.Request(http.MethodGet, "/api/library/games/steam/440/achievements", nil, token)
	require.Equal(t, http.StatusBadRequest, unlinked.Code)
	require.Equal(t, "Steam is not connected", testutil.DecodeResponse(t, unlinked).Error.Message)
}
