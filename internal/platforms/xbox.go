package platforms

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const xboxAPIBase = "https://xbl.io/api/v2"

// XboxConfig carries the OpenXBL API settings.
type XboxConfig struct {
	APIKey string
	// BaseURL overrides the API host. Tests point it at a local server.
	BaseURL string
}

// XboxClient talks to the OpenXBL API, which fronts Xbox Live with a simple
// key header.
type XboxClient struct {
	apiKey  string
	baseURL string
	client  *http.Client
}

// NewXboxClient builds an Xbox client. A nil http.Client gets the default
// timeout.
func NewXboxClient(cfg XboxConfig, client *http.Client) *XboxClient {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		baseURL = xboxAPIBase
	}
	if client == nil {
		client = &http.Client{Timeout: defaultTimeout}
	}
	return &XboxClient{
		apiKey:  strings.TrimSpace(cfg.APIKey),
		baseURL: baseURL,
		client:  client,
	}
}

// Configured reports whether an API key is present.
func (c *XboxClient) Configured() bool {
	return c.apiKey != ""
}

// ResolveGamertag looks up the gamertag attached to a XUID, doubling as an
// existence probe when connecting the platform.
func (c *XboxClient) ResolveGamertag(ctx context.Context, xuid string) (string, error) {
	var payload struct {
		ProfileUsers []struct {
			ID       string `json:"id"`
			Settings []struct {
				ID    string `json:"id"`
				Value string `json:"value"`
			} `json:"settings"`
		} `json:"profileUsers"`
	}
	if err := c.getJSON(ctx, "/account/"+url.PathEscape(xuid), &payload); err != nil {
		return "", err
	}

	for _, profile := range payload.ProfileUsers {
		for _, setting := range profile.Settings {
			if setting.ID == "Gamertag" && setting.Value != "" {
				return setting.Value, nil
			}
		}
	}
	return "", fmt.Errorf("xbox: no gamertag for xuid %s: %w", xuid, ErrNotFound)
}

// OwnedGames fetches the title history for a XUID. OpenXBL's title history
// carries achievement progress but no playtime.
func (c *XboxClient) OwnedGames(ctx context.Context, xuid string) ([]Game, error) {
	var payload struct {
		Titles []struct {
			TitleID      string `json:"titleId"`
			Name         string `json:"name"`
			DisplayImage string `json:"displayImage"`
			Achievement  struct {
				CurrentAchievements int `json:"currentAchievements"`
				TotalAchievements   int `json:"totalAchievements"`
			} `json:"achievement"`
			TitleHistory struct {
				LastTimePlayed string `json:"lastTimePlayed"`
			} `json:"titleHistory"`
		} `json:"titles"`
	}
	if err := c.getJSON(ctx, "/player/titleHistory/"+url.PathEscape(xuid), &payload); err != nil {
		return nil, err
	}

	games := make([]Game, 0, len(payload.Titles))
	for _, title := range payload.Titles {
		game := Game{
			Platform:           Xbox,
			ID:                 title.TitleID,
			Name:               title.Name,
			ArtworkURL:         title.DisplayImage,
			AchievementsEarned: title.Achievement.CurrentAchievements,
			AchievementsTotal:  title.Achievement.TotalAchievements,
		}
		if title.TitleHistory.LastTimePlayed != "" {
			if played, err := time.Parse(time.RFC3339, title.TitleHistory.LastTimePlayed); err == nil {
				played = played.UTC()
				game.LastPlayed = &played
			}
		}
		games = append(games, game)
	}
	return games, nil
}

// Achievements fetches the per-title achievement list with earned state.
func (c *XboxClient) Achievements(ctx context.Context, xuid, titleID string) ([]Achievement, error) {
	var payload struct {
		Achievements []struct {
			ID            string `json:"id"`
			Name          string `json:"name"`
			ProgressState string `json:"progressState"`
			Progression   struct {
				TimeUnlocked string `json:"timeUnlocked"`
			} `json:"progression"`
			MediaAssets []struct {
				Type string `json:"type"`
				URL  string `json:"url"`
			} `json:"mediaAssets"`
			Description       string `json:"description"`
			LockedDescription string `json:"lockedDescription"`
		} `json:"achievements"`
	}
	path := "/achievements/player/" + url.PathEscape(xuid) + "/" + url.PathEscape(titleID)
	if err := c.getJSON(ctx, path, &payload); err != nil {
		return nil, err
	}

	achievements := make([]Achievement, 0, len(payload.Achievements))
	for _, a := range payload.Achievements {
		earned := strings.EqualFold(a.ProgressState, "Achieved")
		achievement := Achievement{
			ID:          a.ID,
			Name:        a.Name,
			Description: a.Description,
			Earned:      earned,
		}
		if !earned && a.LockedDescription != "" {
			achievement.Description = a.LockedDescription
		}
		for _, asset := range a.MediaAssets {
			if strings.EqualFold(asset.Type, "Icon") {
				achievement.IconURL = asset.URL
				break
			}
		}
		if earned && a.Progression.TimeUnlocked != "" {
			if at, err := time.Parse(time.RFC3339, a.Progression.TimeUnlocked); err == nil {
				at = at.UTC()
				achievement.EarnedAt = &at
			}
		}
		achievements = append(achievements, achievement)
	}
	return achievements, nil
}

func (c *XboxClient) getJSON(ctx context.Context, path string, out any) error {
	if c.apiKey == "" {
		return fmt.Errorf("%w: xbox api key not configured", ErrUnauthorized)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("xbox: build request: %w", err)
	}
	req.Header.Set("X-Authorization", c.apiKey)
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("xbox: request %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return statusError(Xbox, resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("xbox: decode %s: %w", path, err)
	}
	return nil
}
