package providers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"golang.org/x/oauth2"
)

// GoogleIssuer is the discovery issuer for Google accounts.
const GoogleIssuer = "https://accounts.google.com"

// GoogleConfig carries the static configuration for the Google provider.
type GoogleConfig struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string
	Scopes       []string
	// Issuer overrides the discovery issuer. Tests point it at a local server.
	Issuer string
}

// GoogleOptions tunes construction-time behaviour.
type GoogleOptions struct {
	HTTPClient *http.Client
	Timeout    time.Duration
}

type googleProvider struct {
	metadata    Metadata
	oauthConfig *oauth2.Config
	verifier    *oidc.IDTokenVerifier
	timeout     time.Duration
}

// NewGoogle builds the Google provider, performing OIDC discovery against the
// configured issuer.
func NewGoogle(cfg GoogleConfig, opts GoogleOptions) (Provider, error) {
	if strings.TrimSpace(cfg.ClientID) == "" {
		return nil, errors.New("google provider: client id is required")
	}
	if strings.TrimSpace(cfg.ClientSecret) == "" {
		return nil, errors.New("google provider: client secret is required")
	}
	if strings.TrimSpace(cfg.RedirectURL) == "" {
		return nil, errors.New("google provider: redirect url is required")
	}

	issuer := strings.TrimSpace(cfg.Issuer)
	if issuer == "" {
		issuer = GoogleIssuer
	}

	scopes := cfg.Scopes
	if len(scopes) == 0 {
		scopes = []string{oidc.ScopeOpenID, "email", "profile"}
	}

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	ctx := context.Background()
	if opts.HTTPClient != nil {
		ctx = oidc.ClientContext(ctx, opts.HTTPClient)
	}
	discoveryCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	discovered, err := oidc.NewProvider(discoveryCtx, issuer)
	if err != nil {
		return nil, fmt.Errorf("google provider: discovery failed: %w", err)
	}

	return &googleProvider{
		metadata: Metadata{
			Type:        "google",
			DisplayName: "Google",
			Icon:        "google",
			ButtonText:  "Continue with Google",
			Order:       10,
			Flow:        "redirect",
		},
		oauthConfig: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			Endpoint:     discovered.Endpoint(),
			RedirectURL:  cfg.RedirectURL,
			Scopes:       scopes,
		},
		verifier: discovered.Verifier(&oidc.Config{ClientID: cfg.ClientID}),
		timeout:  timeout,
	}, nil
}

func (p *googleProvider) Metadata() Metadata {
	return p.metadata
}

func (p *googleProvider) Begin(ctx context.Context, req BeginAuthRequest) (*BeginAuthResponse, error) {
	if strings.TrimSpace(req.State) == "" {
		return nil, errors.New("google provider: state is required")
	}
	if strings.TrimSpace(req.Nonce) == "" {
		return nil, errors.New("google provider: nonce is required")
	}
	if strings.TrimSpace(req.PKCEChallenge) == "" {
		return nil, errors.New("google provider: pkce challenge is required")
	}

	authOpts := []oauth2.AuthCodeOption{
		oauth2.SetAuthURLParam("nonce", req.Nonce),
		oauth2.SetAuthURLParam("code_challenge", req.PKCEChallenge),
		oauth2.SetAuthURLParam("code_challenge_method", "S256"),
	}
	if req.Prompt != "" {
		authOpts = append(authOpts, oauth2.SetAuthURLParam("prompt", req.Prompt))
	}

	url := p.oauthConfig.AuthCodeURL(req.State, authOpts...)
	return &BeginAuthResponse{RedirectURL: url, State: req.State}, nil
}

func (p *googleProvider) Callback(ctx context.Context, req CallbackRequest) (*Identity, error) {
	if req.RawHTTPRequest == nil {
		return nil, errors.New("google provider: request is required")
	}
	query := req.RawHTTPRequest.URL.Query()
	if errStr := query.Get("error"); errStr != "" {
		return nil, fmt.Errorf("google provider: authorization error: %s", errStr)
	}
	code := query.Get("code")
	if code == "" {
		return nil, errors.New("google provider: authorization code missing")
	}
	if strings.TrimSpace(req.PKCEVerifier) == "" {
		return nil, errors.New("google provider: pkce verifier is required")
	}

	tokenCtx := ctx
	if tokenCtx == nil {
		tokenCtx = context.Background()
	}
	tokenCtx, cancel := context.WithTimeout(tokenCtx, p.timeout)
	defer cancel()

	token, err := p.oauthConfig.Exchange(tokenCtx, code, oauth2.SetAuthURLParam("code_verifier", req.PKCEVerifier))
	if err != nil {
		return nil, fmt.Errorf("google provider: exchange failed: %w", err)
	}

	rawIDToken, ok := token.Extra("id_token").(string)
	if !ok || rawIDToken == "" {
		return nil, errors.New("google provider: id token missing")
	}

	idToken, err := p.verifier.Verify(tokenCtx, rawIDToken)
	if err != nil {
		return nil, fmt.Errorf("google provider: verify id token: %w", err)
	}
	if req.ExpectedNonce != "" && idToken.Nonce != req.ExpectedNonce {
		return nil, errors.New("google provider: nonce mismatch")
	}

	var claims map[string]any
	if err := idToken.Claims(&claims); err != nil {
		return nil, fmt.Errorf("google provider: decode claims: %w", err)
	}

	identity := &Identity{
		Provider:    "google",
		Subject:     idToken.Subject,
		DisplayName: stringClaim(claims, "name"),
		AvatarURL:   stringClaim(claims, "picture"),
		RawClaims:   claims,
	}

	// Only addresses Google has verified participate in account matching.
	if email := stringClaim(claims, "email"); email != "" && boolClaim(claims, "email_verified") {
		identity.Email = email
		identity.Emails = []string{email}
	}

	return identity, nil
}

func stringClaim(claims map[string]any, key string) string {
	if v, ok := claims[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

func boolClaim(claims map[string]any, key string) bool {
	if v, ok := claims[key]; ok {
		switch val := v.(type) {
		case bool:
			return val
		case string:
			return strings.EqualFold(val, "true")
		}
	}
	return false
}
