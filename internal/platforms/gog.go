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

const gogBase = "https://www.gog.com"

// gogMaxPages caps pagination so a malformed response cannot loop forever.
const gogMaxPages = 100

// GOGConfig carries the GOG client settings. The public profile endpoint
// needs no credentials; the profile just has to be public.
type GOGConfig struct {
	// BaseURL overrides the site host. Tests point it at a local server.
	BaseURL string
}

// GOGClient reads public GOG profiles.
type GOGClient struct {
	baseURL string
	client  *http.Client
}

// NewGOGClient builds a GOG client. A nil http.Client gets the default
// timeout.
func NewGOGClient(cfg GOGConfig, client *http.Client) *GOGClient {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		baseURL = gogBase
	}
	if client == nil {
		client = &http.Client{Timeout: defaultTimeout}
	}
	return &GOGClient{baseURL: baseURL, client: client}
}

type gogStatsPage struct {
	Page     int `json:"page"`
	Pages    int `json:"pages"`
	Total    int `json:"total"`
	Embedded struct {
		Items []struct {
			Game struct {
				ID                 string `json:"id"`
				Title              string `json:"title"`
				Image              string `json:"image"`
				URL                string `json:"url"`
				AchievementSupport bool   `json:"achievementSupport"`
			} `json:"game"`
			// Stats is keyed by the profile owner's numeric user id.
			Stats map[string]struct {
				Playtime    int `json:"playtime"`
				LastSession any `json:"lastSession"`
			} `json:"stats"`
		} `json:"items"`
	} `json:"_embedded"`
}

// VerifyProfile probes the public games page for a username. ErrNotFound
// means no such profile (or a fully private one).
func (c *GOGClient) VerifyProfile(ctx context.Context, username string) error {
	_, err := c.fetchStatsPage(ctx, username, 1)
	return err
}

// OwnedGames walks every page of the public games/stats listing.
func (c *GOGClient) OwnedGames(ctx context.Context, username string) ([]Game, error) {
	var games []Game
	for page := 1; page <= gogMaxPages; page++ {
		stats, err := c.fetchStatsPage(ctx, username, page)
		if err != nil {
			return nil, err
		}
		for _, item := range stats.Embedded.Items {
			game := Game{
				Platform:   GOG,
				ID:         item.Game.ID,
				Name:       item.Game.Title,
				ArtworkURL: normaliseGOGImage(item.Game.Image),
			}
			for _, owner := range item.Stats {
				game.PlaytimeMinutes = owner.Playtime
				game.LastPlayed = parseGOGSession(owner.LastSession)
				break
			}
			games = append(games, game)
		}
		if stats.Pages <= page {
			break
		}
	}
	if games == nil {
		games = []Game{}
	}
	return games, nil
}

func (c *GOGClient) fetchStatsPage(ctx context.Context, username string, page int) (*gogStatsPage, error) {
	endpoint := fmt.Sprintf("%s/u/%s/games/stats?sort=recent_playtime&order=desc&page=%d",
		c.baseURL, url.PathEscape(strings.TrimSpace(username)), page)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("gog: build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("gog: request stats page %d: %w", page, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, statusError(GOG, resp.StatusCode)
	}

	var stats gogStatsPage
	if err := json.NewDecoder(resp.Body).Decode(&stats); err != nil {
		return nil, fmt.Errorf("gog: decode stats page %d: %w", page, err)
	}
	return &stats, nil
}

// normaliseGOGImage turns GOG's protocol-relative image base into a fetchable
// URL.
func normaliseGOGImage(image string) string {
	image = strings.TrimSpace(image)
	if image == "" {
		return ""
	}
	if strings.HasPrefix(image, "//") {
		image = "https:" + image
	}
	if !strings.HasSuffix(image, ".jpg") && !strings.HasSuffix(image, ".png") && !strings.HasSuffix(image, ".webp") {
		image += ".jpg"
	}
	return image
}

// parseGOGSession copes with the two lastSession encodings seen in the wild:
// a date string or a unix timestamp.
func parseGOGSession(value any) *time.Time {
	switch v := value.(type) {
	case string:
		for _, layout := range []string{time.RFC3339, "2006-01-02"} {
			if parsed, err := time.Parse(layout, v); err == nil {
				parsed = parsed.UTC()
				return &parsed
			}
		}
	case float64:
		if v > 0 {
			parsed := time.Unix(int64(v), 0).UTC()
			return &parsed
		}
	}
	return nil
}
