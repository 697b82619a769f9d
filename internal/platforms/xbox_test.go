package platforms

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestXboxOwnedGamesMapsTitleHistory(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/player/titleHistory/2533274800000000", r.URL.Path)
		require.Equal(t, "xbl-key", r.Header.Get("X-Authorization"))

		_ = json.NewEncoder(w).Encode(map[string]any{
			"titles": []map[string]any{
				{
					"titleId":      "1144039928",
					"name":         "Halo Infinite",
					"displayImage": "https://images.example.com/halo.png",
					"achievement": map[string]any{
						"currentAchievements": 23,
						"totalAchievements":   119,
					},
					"titleHistory": map[string]any{
						"lastTimePlayed": "2024-02-01T20:15:00Z",
					},
				},
			},
		})
	}))
	t.Cleanup(server.Close)

	client := NewXboxClient(XboxConfig{APIKey: "xbl-key", BaseURL: server.URL}, server.Client())

	games, err := client.OwnedGames(context.Background(), "2533274800000000")
	require.NoError(t, err)
	require.Len(t, games, 1)

	require.Equal(t, Xbox, games[0].Platform)
	require.Equal(t, "1144039928", games[0].ID)
	require.Equal(t, "Halo Infinite", games[0].Name)
	require.Equal(t, 23, games[0].AchievementsEarned)
	require.Equal(t, 119, games[0].AchievementsTotal)
	require.NotNil(t, games[0].LastPlayed)
}

func TestXboxAchievementsMapsProgressState(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/achievements/player/2533274800000000/1144039928", r.URL.Path)

		_ = json.NewEncoder(w).Encode(map[string]any{
			"achievements": []map[string]any{
				{
					"id":            "1",
					"name":          "First Blood",
					"description":   "Won a duel",
					"progressState": "Achieved",
					"progression": map[string]any{
						"timeUnlocked": "2024-01-20T18:00:00Z",
					},
					"mediaAssets": []map[string]any{
						{"type": "Icon", "url": "https://images.example.com/ach1.png"},
					},
				},
				{
					"id":                "2",
					"name":              "Untouchable",
					"description":       "Complete a mission without damage",
					"lockedDescription": "Keep playing to reveal",
					"progressState":     "NotStarted",
				},
			},
		})
	}))
	t.Cleanup(server.Close)

	client := NewXboxClient(XboxConfig{APIKey: "xbl-key", BaseURL: server.URL}, server.Client())

	achievements, err := client.Achievements(context.Background(), "2533274800000000", "1144039928")
	require.NoError(t, err)
	require.Len(t, achievements, 2)

	require.True(t, achievements[0].Earned)
	require.Equal(t, "Won a duel", achievements[0].Description)
	require.Equal(t, "https://images.example.com/ach1.png", achievements[0].IconURL)
	require.NotNil(t, achievements[0].EarnedAt)

	require.False(t, achievements[1].Earned)
	require.Equal(t, "Keep playing to reveal", achievements[1].Description)
	require.Nil(t, achievements[1].EarnedAt)
}

func TestXboxMapsUpstreamStatuses(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	t.Cleanup(server.Close)

	client := NewXboxClient(XboxConfig{APIKey: "revoked", BaseURL: server.URL}, server.Client())

	_, err := client.OwnedGames(context.Background(), "2533274800000000")
	require.ErrorIs(t, err, ErrUnauthorized)

	missingKey := NewXboxClient(XboxConfig{}, nil)
	require.False(t, missingKey.Configured())
	_, err = missingKey.OwnedGames(context.Background(), "2533274800000000")
	require.ErrorIs(t, err, ErrUnauthorized)
}

func TestXboxResolveGamertag(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/account/2533274800000000", r.URL.Path)

		_ = json.NewEncoder(w).Encode(map[string]any{
			"profileUsers": []map[string]any{
				{
					"id": "2533274800000000",
					"settings": []map[string]any{
						{"id": "GameDisplayPicRaw", "value": "https://images.example.com/pic.png"},
						{"id": "Gamertag", "value": "MasterChief117"},
					},
				},
			},
		})
	}))
	t.Cleanup(server.Close)

	client := NewXboxClient(XboxConfig{APIKey: "xbl-key", BaseURL: server.URL}, server.Client())

	gamertag, err := client.ResolveGamertag(context.Background(), "2533274800000000")
	require.NoError(t, err)
	require.Equal(t, "MasterChief117", gamertag)
}

func TestXboxResolveGamertagMissingProfile(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"profileUsers": []map[string]any{}})
	}))
	t.Cleanup(server.Close)

	client := NewXboxClient(XboxConfig{APIKey: "xbl-key", BaseURL: server.URL}, server.Client())

	_, err := client.ResolveGamertag(context.Background(), "2533274800000000")
	require.ErrorIs(t, err, ErrNotFound)
}
