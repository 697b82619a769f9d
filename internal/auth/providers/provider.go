package providers

import (
	"context"
	"net/http"
)

// Metadata describes the static presentation details for a sign-in provider,
// consumed by the login page's provider list.
type Metadata struct {
	Type        string
	DisplayName string
	Icon        string
	ButtonText  string
	Order       int
	Flow        string
}

// BeginAuthRequest captures the contextual information required to start an
// external auth flow. Nonce and PKCEChallenge are only meaningful for OIDC
// providers; OpenID 2.0 providers ignore them.
type BeginAuthRequest struct {
	State         string
	Nonce         string
	PKCEChallenge string
	ReturnURL     string
	Prompt        string
}

// BeginAuthResponse contains the redirect target that continues the flow at
// the provider.
type BeginAuthResponse struct {
	RedirectURL string
	State       string
}

// CallbackRequest captures the raw HTTP details posted back by a provider.
type CallbackRequest struct {
	State          string
	PKCEVerifier   string
	ExpectedNonce  string
	RawHTTPRequest *http.Request
}

// Identity represents the verified claims returned from a provider. Emails
// preserves provider order and carries only addresses the provider vouches
// for; Email mirrors the first entry for convenience.
type Identity struct {
	Provider    string
	Subject     string
	Email       string
	Emails      []string
	DisplayName string
	AvatarURL   string
	ProfileURL  string
	RawClaims   map[string]any
}

// Provider defines the behaviour required of an interactive sign-in provider.
type Provider interface {
	Metadata() Metadata
	Begin(ctx context.Context, req BeginAuthRequest) (*BeginAuthResponse, error)
	Callback(ctx context.Context, req CallbackRequest) (*Identity, error)
}
