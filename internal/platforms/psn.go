package platforms

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

const (
	psnAuthBase    = "https://ca.account.sony.com"
	psnTrophyBase  = "https://m.np.playstation.com"
	psnProfileBase = "https://us-prof.np.community.playstation.net"

	// Sony's public mobile-app OAuth client, the same one every NPSSO-based
	// tool authenticates as.
	psnClientID    = "09515159-7237-4370-9b40-3806e67c0891"
	psnBasicAuth   = "Basic MDk1MTUxNTktNzIzNy00MzcwLTliNDAtMzgwNmU2N2MwODkxOnVjUGprYTV0bnRCMktxc1A="
	psnRedirectURI = "com.scee.psxandroid.scecompcall://redirect"

	psnPageLimit = 250
	psnMaxPages  = 40
)

// PSNConfig carries endpoint overrides for tests.
type PSNConfig struct {
	AuthBaseURL    string
	TrophyBaseURL  string
	ProfileBaseURL string
}

// PSNClient talks to the PlayStation Network. Authentication is per user: an
// NPSSO cookie is exchanged for a short-lived bearer token.
type PSNClient struct {
	authBase    string
	trophyBase  string
	profileBase string
	client      *http.Client
}

// NewPSNClient builds a PSN client. A nil http.Client gets the default
// timeout.
func NewPSNClient(cfg PSNConfig, client *http.Client) *PSNClient {
	if client == nil {
		client = &http.Client{Timeout: defaultTimeout}
	}
	return &PSNClient{
		authBase:    baseOrDefault(cfg.AuthBaseURL, psnAuthBase),
		trophyBase:  baseOrDefault(cfg.TrophyBaseURL, psnTrophyBase),
		profileBase: baseOrDefault(cfg.ProfileBaseURL, psnProfileBase),
		client:      client,
	}
}

func baseOrDefault(base, fallback string) string {
	base = strings.TrimRight(strings.TrimSpace(base), "/")
	if base == "" {
		return fallback
	}
	return base
}

// PSNToken is a bearer token obtained from an NPSSO exchange.
type PSNToken struct {
	AccessToken string
	ExpiresAt   time.Time
}

// Valid reports whether the token can still be used at the given time.
func (t *PSNToken) Valid(now time.Time) bool {
	return t != nil && t.AccessToken != "" && now.Before(t.ExpiresAt)
}

// PSNProfile identifies the signed-in PSN account.
type PSNProfile struct {
	AccountID string
	OnlineID  string
}

// ExchangeNPSSO drives Sony's authorize/token dance. A rejected NPSSO (the
// cookie expires roughly every two months) surfaces as ErrUnauthorized.
func (c *PSNClient) ExchangeNPSSO(ctx context.Context, npsso string) (*PSNToken, error) {
	npsso = strings.TrimSpace(npsso)
	if npsso == "" {
		return nil, fmt.Errorf("%w: npsso is empty", ErrUnauthorized)
	}

	code, err := c.authorizationCode(ctx, npsso)
	if err != nil {
		return nil, err
	}
	return c.exchangeCode(ctx, code)
}

func (c *PSNClient) authorizationCode(ctx context.Context, npsso string) (string, error) {
	params := url.Values{
		"access_type":   {"offline"},
		"client_id":     {psnClientID},
		"response_type": {"code"},
		"scope":         {"psn:mobile.v2.core psn:clientapp"},
		"redirect_uri":  {psnRedirectURI},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		c.authBase+"/api/authz/v3/oauth/authorize?"+params.Encode(), nil)
	if err != nil {
		return "", fmt.Errorf("psn: build authorize request: %w", err)
	}
	req.Header.Set("Cookie", "npsso="+npsso)

	// The code rides the redirect Location, so the redirect must not be
	// followed.
	noRedirect := *c.client
	noRedirect.CheckRedirect = func(*http.Request, []*http.Request) error {
		return http.ErrUseLastResponse
	}

	resp, err := noRedirect.Do(req)
	if err != nil {
		return "", fmt.Errorf("psn: authorize request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusFound && resp.StatusCode != http.StatusSeeOther {
		return "", statusError(PSN, resp.StatusCode)
	}

	location, err := url.Parse(resp.Header.Get("Location"))
	if err != nil {
		return "", fmt.Errorf("psn: parse authorize redirect: %w", err)
	}
	code := location.Query().Get("code")
	if code == "" {
		return "", fmt.Errorf("%w: npsso rejected", ErrUnauthorized)
	}
	return code, nil
}

func (c *PSNClient) exchangeCode(ctx context.Context, code string) (*PSNToken, error) {
	form := url.Values{
		"grant_type":   {"authorization_code"},
		"code":         {code},
		"redirect_uri": {psnRedirectURI},
		"token_format": {"jwt"},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.authBase+"/api/authz/v3/oauth/token", strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("psn: build token request: %w", err)
	}
	req.Header.Set("Authorization", psnBasicAuth)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("psn: token request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, statusError(PSN, resp.StatusCode)
	}

	var payload struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int    `json:"expires_in"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("psn: decode token response: %w", err)
	}
	if payload.AccessToken == "" {
		return nil, fmt.Errorf("%w: token response carried no access token", ErrUnauthorized)
	}

	return &PSNToken{
		AccessToken: payload.AccessToken,
		ExpiresAt:   time.Now().Add(time.Duration(payload.ExpiresIn) * time.Second),
	}, nil
}

// Profile resolves the signed-in account's identifiers.
func (c *PSNClient) Profile(ctx context.Context, token *PSNToken) (*PSNProfile, error) {
	var payload struct {
		Profile struct {
			AccountID string `json:"accountId"`
			OnlineID  string `json:"onlineId"`
		} `json:"profile"`
	}
	endpoint := c.profileBase + "/userProfile/v1/users/me/profile2?fields=accountId,onlineId"
	if err := c.getJSON(ctx, token, endpoint, &payload); err != nil {
		return nil, err
	}
	if payload.Profile.AccountID == "" {
		return nil, fmt.Errorf("%w: profile carried no account id", ErrUnauthorized)
	}
	return &PSNProfile{
		AccountID: payload.Profile.AccountID,
		OnlineID:  payload.Profile.OnlineID,
	}, nil
}

type psnTrophyCounts struct {
	Bronze   int `json:"bronze"`
	Silver   int `json:"silver"`
	Gold     int `json:"gold"`
	Platinum int `json:"platinum"`
}

func (t psnTrophyCounts) total() int {
	return t.Bronze + t.Silver + t.Gold + t.Platinum
}

// OwnedGames walks the trophy-title list, which is PSN's closest notion of a
// game library.
func (c *PSNClient) OwnedGames(ctx context.Context, token *PSNToken) ([]Game, error) {
	var games []Game
	offset := 0
	for page := 0; page < psnMaxPages; page++ {
		var payload struct {
			TrophyTitles []struct {
				NPCommunicationID   string          `json:"npCommunicationId"`
				TrophyTitleName     string          `json:"trophyTitleName"`
				TrophyTitleIconURL  string          `json:"trophyTitleIconUrl"`
				DefinedTrophies     psnTrophyCounts `json:"definedTrophies"`
				EarnedTrophies      psnTrophyCounts `json:"earnedTrophies"`
				LastUpdatedDateTime string          `json:"lastUpdatedDateTime"`
			} `json:"trophyTitles"`
			TotalItemCount int `json:"totalItemCount"`
			NextOffset     int `json:"nextOffset"`
		}
		endpoint := fmt.Sprintf("%s/api/trophy/v1/users/me/trophyTitles?limit=%d&offset=%d",
			c.trophyBase, psnPageLimit, offset)
		if err := c.getJSON(ctx, token, endpoint, &payload); err != nil {
			return nil, err
		}

		for _, title := range payload.TrophyTitles {
			game := Game{
				Platform:           PSN,
				ID:                 title.NPCommunicationID,
				Name:               title.TrophyTitleName,
				ArtworkURL:         title.TrophyTitleIconURL,
				AchievementsEarned: title.EarnedTrophies.total(),
				AchievementsTotal:  title.DefinedTrophies.total(),
			}
			if title.LastUpdatedDateTime != "" {
				if at, err := time.Parse(time.RFC3339, title.LastUpdatedDateTime); err == nil {
					at = at.UTC()
					game.LastPlayed = &at
				}
			}
			games = append(games, game)
		}

		if payload.NextOffset <= 0 || len(payload.TrophyTitles) == 0 {
			break
		}
		offset = payload.NextOffset
	}
	if games == nil {
		games = []Game{}
	}
	return games, nil
}

// Achievements joins a title's defined trophies with the account's earned
// state. PS5 titles live under the trophy2 service, so a miss on the classic
// service is retried there.
func (c *PSNClient) Achievements(ctx context.Context, token *PSNToken, npCommunicationID string) ([]Achievement, error) {
	for _, service := range []string{"trophy", "trophy2"} {
		achievements, err := c.titleTrophies(ctx, token, npCommunicationID, service)
		if err == nil {
			return achievements, nil
		}
		if !errors.Is(err, ErrNotFound) {
			return nil, err
		}
	}
	return nil, fmt.Errorf("%w: title %s", ErrNotFound, npCommunicationID)
}

func (c *PSNClient) titleTrophies(ctx context.Context, token *PSNToken, npCommunicationID, service string) ([]Achievement, error) {
	id := url.PathEscape(npCommunicationID)

	var defined struct {
		Trophies []struct {
			TrophyID      int    `json:"trophyId"`
			TrophyName    string `json:"trophyName"`
			TrophyDetail  string `json:"trophyDetail"`
			TrophyIconURL string `json:"trophyIconUrl"`
		} `json:"trophies"`
	}
	definedURL := fmt.Sprintf("%s/api/trophy/v1/npCommunicationIds/%s/trophyGroups/all/trophies?npServiceName=%s",
		c.trophyBase, id, service)
	if err := c.getJSON(ctx, token, definedURL, &defined); err != nil {
		return nil, err
	}

	var earned struct {
		Trophies []struct {
			TrophyID       int    `json:"trophyId"`
			Earned         bool   `json:"earned"`
			EarnedDateTime string `json:"earnedDateTime"`
		} `json:"trophies"`
	}
	earnedURL := fmt.Sprintf("%s/api/trophy/v1/users/me/npCommunicationIds/%s/trophyGroups/all/trophies?npServiceName=%s",
		c.trophyBase, id, service)
	if err := c.getJSON(ctx, token, earnedURL, &earned); err != nil {
		return nil, err
	}

	earnedByID := make(map[int]string, len(earned.Trophies))
	for _, t := range earned.Trophies {
		if t.Earned {
			earnedByID[t.TrophyID] = t.EarnedDateTime
		}
	}

	achievements := make([]Achievement, 0, len(defined.Trophies))
	for _, t := range defined.Trophies {
		achievement := Achievement{
			ID:          strconv.Itoa(t.TrophyID),
			Name:        t.TrophyName,
			Description: t.TrophyDetail,
			IconURL:     t.TrophyIconURL,
		}
		if earnedAt, ok := earnedByID[t.TrophyID]; ok {
			achievement.Earned = true
			if at, err := time.Parse(time.RFC3339, earnedAt); err == nil {
				at = at.UTC()
				achievement.EarnedAt = &at
			}
		}
		achievements = append(achievements, achievement)
	}
	return achievements, nil
}

func (c *PSNClient) getJSON(ctx context.Context, token *PSNToken, endpoint string, out any) error {
	if !token.Valid(time.Now()) {
		return fmt.Errorf("%w: psn token expired", ErrUnauthorized)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return fmt.Errorf("psn: build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token.AccessToken)
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("psn: request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return statusError(PSN, resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("psn: decode response: %w", err)
	}
	return nil
}
