package app

import (
	"strings"

	"github.com/questlog/questlog/internal/auth"
	"github.com/questlog/questlog/internal/auth/providers"
)

// JWTServiceConfig converts AuthConfig into the parameters expected by the JWT service.
func (c AuthConfig) JWTServiceConfig() auth.JWTConfig {
	ttl := c.JWT.TTL
	if ttl <= 0 {
		ttl = auth.DefaultAccessTokenTTL
	}

	return auth.JWTConfig{
		Secret:         c.JWT.Secret,
		Issuer:         c.JWT.Issuer,
		AccessTokenTTL: ttl,
	}
}

// SessionServiceConfig converts AuthConfig into SessionService parameters.
func (c AuthConfig) SessionServiceConfig() auth.SessionConfig {
	ttl := c.Session.RefreshTTL
	if ttl <= 0 {
		ttl = auth.DefaultRefreshTokenTTL
	}

	length := c.Session.RefreshLength
	if length <= 0 {
		length = 48
	}

	return auth.SessionConfig{
		RefreshTokenTTL: ttl,
		RefreshLength:   length,
	}
}

// GoogleConfigured reports whether enough settings exist to register the
// Google sign-in provider.
func (c AuthConfig) GoogleConfigured() bool {
	return strings.TrimSpace(c.Google.ClientID) != "" &&
		strings.TrimSpace(c.Google.ClientSecret) != "" &&
		strings.TrimSpace(c.Google.RedirectURL) != ""
}

// GoogleProviderConfig converts AuthConfig into Google provider parameters.
func (c AuthConfig) GoogleProviderConfig() providers.GoogleConfig {
	return providers.GoogleConfig{
		ClientID:     strings.TrimSpace(c.Google.ClientID),
		ClientSecret: c.Google.ClientSecret,
		RedirectURL:  strings.TrimSpace(c.Google.RedirectURL),
		Issuer:       strings.TrimSpace(c.Google.Issuer),
	}
}

// SteamConfigured reports whether Steam sign-in can be registered.
func (c AuthConfig) SteamConfigured() bool {
	return strings.TrimSpace(c.Steam.RedirectURL) != ""
}

// SteamProviderConfig converts AuthConfig into Steam provider parameters. The
// Web API key comes from the platforms section so it is configured once.
func (c AuthConfig) SteamProviderConfig(apiKey string) providers.SteamConfig {
	return providers.SteamConfig{
		RedirectURL: strings.TrimSpace(c.Steam.RedirectURL),
		Realm:       strings.TrimSpace(c.Steam.Realm),
		APIKey:      strings.TrimSpace(apiKey),
	}
}
