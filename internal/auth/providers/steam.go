package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"
)

const (
	steamLoginURL = "https://steamcommunity.com/openid/login"
	steamAPIBase  = "https://api.steampowered.com"

	openIDNS               = "http://specs.openid.net/auth/2.0"
	openIDIdentifierSelect = "http://specs.openid.net/auth/2.0/identifier_select"
)

// Steam asserts ownership of a claimed_id under this path; the trailing
// digits are the SteamID64.
var steamClaimedIDPattern = regexp.MustCompile(`^https?://steamcommunity\.com/openid/id/(\d+)$`)

// SteamConfig carries the static configuration for the Steam provider.
// Steam speaks OpenID 2.0, not OAuth: there are no client credentials, and
// the only secret is the optional Web API key used to enrich the profile.
type SteamConfig struct {
	RedirectURL string
	Realm       string
	APIKey      string
	// LoginURL and APIBaseURL override the Steam endpoints. Tests point them
	// at a local server.
	LoginURL   string
	APIBaseURL string
}

// SteamOptions tunes HTTP behaviour.
type SteamOptions struct {
	HTTPClient *http.Client
	Timeout    time.Duration
}

type steamProvider struct {
	metadata    Metadata
	redirectURL string
	realm       string
	apiKey      string
	loginURL    string
	apiBaseURL  string
	client      *http.Client
	timeout     time.Duration
}

// NewSteam builds the Steam provider.
func NewSteam(cfg SteamConfig, opts SteamOptions) (Provider, error) {
	redirect := strings.TrimSpace(cfg.RedirectURL)
	if redirect == "" {
		return nil, errors.New("steam provider: redirect url is required")
	}
	parsed, err := url.Parse(redirect)
	if err != nil || !parsed.IsAbs() {
		return nil, fmt.Errorf("steam provider: invalid redirect url %q", redirect)
	}

	realm := strings.TrimSpace(cfg.Realm)
	if realm == "" {
		realm = parsed.Scheme + "://" + parsed.Host
	}

	loginURL := strings.TrimSpace(cfg.LoginURL)
	if loginURL == "" {
		loginURL = steamLoginURL
	}
	apiBaseURL := strings.TrimRight(strings.TrimSpace(cfg.APIBaseURL), "/")
	if apiBaseURL == "" {
		apiBaseURL = steamAPIBase
	}

	client := opts.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return &steamProvider{
		metadata: Metadata{
			Type:        "steam",
			DisplayName: "Steam",
			Icon:        "steam",
			ButtonText:  "Sign in through Steam",
			Order:       20,
			Flow:        "redirect",
		},
		redirectURL: redirect,
		realm:       realm,
		apiKey:      strings.TrimSpace(cfg.APIKey),
		loginURL:    loginURL,
		apiBaseURL:  apiBaseURL,
		client:      client,
		timeout:     timeout,
	}, nil
}

func (p *steamProvider) Metadata() Metadata {
	return p.metadata
}

func (p *steamProvider) Begin(ctx context.Context, req BeginAuthRequest) (*BeginAuthResponse, error) {
	if strings.TrimSpace(req.State) == "" {
		return nil, errors.New("steam provider: state is required")
	}

	returnTo, err := url.Parse(p.redirectURL)
	if err != nil {
		return nil, fmt.Errorf("steam provider: parse redirect url: %w", err)
	}
	query := returnTo.Query()
	query.Set("state", req.State)
	returnTo.RawQuery = query.Encode()

	params := url.Values{
		"openid.ns":         {openIDNS},
		"openid.mode":       {"checkid_setup"},
		"openid.claimed_id": {openIDIdentifierSelect},
		"openid.identity":   {openIDIdentifierSelect},
		"openid.return_to":  {returnTo.String()},
		"openid.realm":      {p.realm},
	}
	return &BeginAuthResponse{RedirectURL: p.loginURL + "?" + params.Encode(), State: req.State}, nil
}

func (p *steamProvider) Callback(ctx context.Context, req CallbackRequest) (*Identity, error) {
	if req.RawHTTPRequest == nil {
		return nil, errors.New("steam provider: request is required")
	}
	query := req.RawHTTPRequest.URL.Query()

	if mode := query.Get("openid.mode"); mode != "id_res" {
		return nil, fmt.Errorf("steam provider: unexpected openid.mode %q", mode)
	}
	if !strings.HasPrefix(query.Get("openid.return_to"), p.redirectURL) {
		return nil, errors.New("steam provider: return_to mismatch")
	}

	claimedID := query.Get("openid.claimed_id")
	match := steamClaimedIDPattern.FindStringSubmatch(claimedID)
	if match == nil {
		return nil, fmt.Errorf("steam provider: unrecognised claimed_id %q", claimedID)
	}
	steamID := match[1]

	if ctx == nil {
		ctx = context.Background()
	}
	valid, err := p.verifyAssertion(ctx, query)
	if err != nil {
		return nil, err
	}
	if !valid {
		return nil, errors.New("steam provider: assertion rejected")
	}

	identity := &Identity{
		Provider:   "steam",
		Subject:    steamID,
		ProfileURL: "https://steamcommunity.com/profiles/" + steamID,
		RawClaims:  map[string]any{"claimed_id": claimedID},
	}

	// Enrichment is best effort; a verified SteamID is enough to sign in.
	if p.apiKey != "" {
		if summary, err := p.playerSummary(ctx, steamID); err == nil && summary != nil {
			identity.DisplayName = summary.PersonaName
			identity.AvatarURL = summary.AvatarFull
			if summary.ProfileURL != "" {
				identity.ProfileURL = summary.ProfileURL
			}
		}
	}

	return identity, nil
}

// verifyAssertion replays the assertion to Steam with
// openid.mode=check_authentication. Steam answers in key:value lines and the
// assertion only counts when is_valid:true is present.
func (p *steamProvider) verifyAssertion(ctx context.Context, query url.Values) (bool, error) {
	form := url.Values{}
	for key, values := range query {
		if strings.HasPrefix(key, "openid.") && len(values) > 0 {
			form.Set(key, values[0])
		}
	}
	form.Set("openid.mode", "check_authentication")

	reqCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(reqCtx, http.MethodPost, p.loginURL, strings.NewReader(form.Encode()))
	if err != nil {
		return false, fmt.Errorf("steam provider: build verification request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return false, fmt.Errorf("steam provider: verification request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return false, fmt.Errorf("steam provider: verification returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if err != nil {
		return false, fmt.Errorf("steam provider: read verification response: %w", err)
	}

	for _, line := range strings.Split(string(body), "\n") {
		if strings.TrimSpace(line) == "is_valid:true" {
			return true, nil
		}
	}
	return false, nil
}

type steamPlayerSummary struct {
	SteamID     string `json:"steamid"`
	PersonaName string `json:"personaname"`
	ProfileURL  string `json:"profileurl"`
	AvatarFull  string `json:"avatarfull"`
}

func (p *steamProvider) playerSummary(ctx context.Context, steamID string) (*steamPlayerSummary, error) {
	endpoint := fmt.Sprintf("%s/ISteamUser/GetPlayerSummaries/v2/?key=%s&steamids=%s",
		p.apiBaseURL, url.QueryEscape(p.apiKey), url.QueryEscape(steamID))

	reqCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(reqCtx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("steam provider: build summary request: %w", err)
	}

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("steam provider: summary request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("steam provider: summary returned status %d", resp.StatusCode)
	}

	var payload struct {
		Response struct {
			Players []steamPlayerSummary `json:"players"`
		} `json:"response"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("steam provider: decode summary response: %w", err)
	}
	if len(payload.Response.Players) == 0 {
		return nil, nil
	}
	return &payload.Response.Players[0], nil
}
