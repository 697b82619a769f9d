package platforms

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

const (
	steamAPIBase   = "https://api.steampowered.com"
	defaultTimeout = 10 * time.Second
)

// SteamConfig carries the Steam Web API settings.
type SteamConfig struct {
	APIKey string
	// BaseURL overrides the API host. Tests point it at a local server.
	BaseURL string
}

// SteamClient talks to the Steam Web API.
type SteamClient struct {
	apiKey  string
	baseURL string
	client  *http.Client
}

// NewSteamClient builds a Steam client. A nil http.Client gets the default
// timeout.
func NewSteamClient(cfg SteamConfig, client *http.Client) *SteamClient {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		baseURL = steamAPIBase
	}
	if client == nil {
		client = &http.Client{Timeout: defaultTimeout}
	}
	return &SteamClient{
		apiKey:  strings.TrimSpace(cfg.APIKey),
		baseURL: baseURL,
		client:  client,
	}
}

// Configured reports whether an API key is present.
func (c *SteamClient) Configured() bool {
	return c.apiKey != ""
}

// OwnedGames fetches the library for a SteamID64 via
// IPlayerService/GetOwnedGames.
func (c *SteamClient) OwnedGames(ctx context.Context, steamID string) ([]Game, error) {
	if c.apiKey == "" {
		return nil, fmt.Errorf("%w: steam api key not configured", ErrUnauthorized)
	}

	var payload struct {
		Response struct {
			Games []struct {
				AppID           int    `json:"appid"`
				Name            string `json:"name"`
				PlaytimeForever int    `json:"playtime_forever"`
				ImgIconURL      string `json:"img_icon_url"`
				RTimeLastPlayed int64  `json:"rtime_last_played"`
			} `json:"games"`
		} `json:"response"`
	}
	query := url.Values{
		"key":                       {c.apiKey},
		"steamid":                   {steamID},
		"include_appinfo":           {"1"},
		"include_played_free_games": {"1"},
		"format":                    {"json"},
	}
	if err := c.getJSON(ctx, "/IPlayerService/GetOwnedGames/v1/", query, &payload); err != nil {
		return nil, err
	}

	games := make([]Game, 0, len(payload.Response.Games))
	for _, g := range payload.Response.Games {
		appID := strconv.Itoa(g.AppID)
		game := Game{
			Platform:        Steam,
			ID:              appID,
			Name:            g.Name,
			PlaytimeMinutes: g.PlaytimeForever,
			ArtworkURL:      "https://cdn.cloudflare.steamstatic.com/steam/apps/" + appID + "/header.jpg",
		}
		if g.ImgIconURL != "" {
			game.IconURL = fmt.Sprintf("https://media.steampowered.com/steamcommunity/public/images/apps/%s/%s.jpg", appID, g.ImgIconURL)
		}
		if g.RTimeLastPlayed > 0 {
			played := time.Unix(g.RTimeLastPlayed, 0).UTC()
			game.LastPlayed = &played
		}
		games = append(games, game)
	}
	return games, nil
}

// Achievements joins the title's achievement schema with the player's earned
// state. Titles without stats return an empty list.
func (c *SteamClient) Achievements(ctx context.Context, steamID, appID string) ([]Achievement, error) {
	if c.apiKey == "" {
		return nil, fmt.Errorf("%w: steam api key not configured", ErrUnauthorized)
	}

	var schema struct {
		Game struct {
			AvailableGameStats struct {
				Achievements []struct {
					Name        string `json:"name"`
					DisplayName string `json:"displayName"`
					Description string `json:"description"`
					Icon        string `json:"icon"`
					IconGray    string `json:"icongray"`
				} `json:"achievements"`
			} `json:"availableGameStats"`
		} `json:"game"`
	}
	schemaQuery := url.Values{"key": {c.apiKey}, "appid": {appID}}
	if err := c.getJSON(ctx, "/ISteamUserStats/GetSchemaForGame/v2/", schemaQuery, &schema); err != nil {
		return nil, err
	}
	defined := schema.Game.AvailableGameStats.Achievements
	if len(defined) == 0 {
		return []Achievement{}, nil
	}

	var earned struct {
		PlayerStats struct {
			Achievements []struct {
				APIName    string `json:"apiname"`
				Achieved   int    `json:"achieved"`
				UnlockTime int64  `json:"unlocktime"`
			} `json:"achievements"`
		} `json:"playerstats"`
	}
	earnedQuery := url.Values{"key": {c.apiKey}, "steamid": {steamID}, "appid": {appID}}
	if err := c.getJSON(ctx, "/ISteamUserStats/GetPlayerAchievements/v1/", earnedQuery, &earned); err != nil {
		return nil, err
	}

	unlockedAt := make(map[string]int64, len(earned.PlayerStats.Achievements))
	for _, a := range earned.PlayerStats.Achievements {
		if a.Achieved == 1 {
			unlockedAt[a.APIName] = a.UnlockTime
		}
	}

	achievements := make([]Achievement, 0, len(defined))
	for _, def := range defined {
		achievement := Achievement{
			ID:          def.Name,
			Name:        def.DisplayName,
			Description: def.Description,
			IconURL:     def.IconGray,
		}
		if ts, ok := unlockedAt[def.Name]; ok {
			achievement.Earned = true
			achievement.IconURL = def.Icon
			if ts > 0 {
				at := time.Unix(ts, 0).UTC()
				achievement.EarnedAt = &at
			}
		}
		achievements = append(achievements, achievement)
	}
	return achievements, nil
}

func (c *SteamClient) getJSON(ctx context.Context, path string, query url.Values, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path+"?"+query.Encode(), nil)
	if err != nil {
		return fmt.Errorf("steam: build request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("steam: request %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return statusError(Steam, resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("steam: decode %s: %w", path, err)
	}
	return nil
}
