package handlers

import (
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/gin-gonic/gin"

	iauth "github.com/questlog/questlog/internal/auth"
	"github.com/questlog/questlog/internal/auth/providers"
	"github.com/questlog/questlog/pkg/crypto"
	apperrors "github.com/questlog/questlog/pkg/errors"
	"github.com/questlog/questlog/pkg/response"
)

// SSOHandler drives the external sign-in flows: provider discovery, the
// redirect out to the provider, and the callback that turns a verified
// provider identity into a session or an account link.
type SSOHandler struct {
	registry   *providers.Registry
	identity   *iauth.IdentityService
	jwt        *iauth.JWTService
	stateCodec *iauth.StateCodec
}

func NewSSOHandler(registry *providers.Registry, identity *iauth.IdentityService, jwt *iauth.JWTService, codec *iauth.StateCodec) *SSOHandler {
	return &SSOHandler{registry: registry, identity: identity, jwt: jwt, stateCodec: codec}
}

// providerInfo is the public shape consumed by the login page's provider list.
type providerInfo struct {
	Type        string `json:"type"`
	DisplayName string `json:"display_name"`
	Icon        string `json:"icon,omitempty"`
	ButtonText  string `json:"button_text,omitempty"`
	Flow        string `json:"flow"`
}

// GET /api/auth/providers
func (h *SSOHandler) Providers(c *gin.Context) {
	meta := h.registry.Metadata()
	infos := make([]providerInfo, 0, len(meta))
	for _, m := range meta {
		infos = append(infos, providerInfo{
			Type:        m.Type,
			DisplayName: m.DisplayName,
			Icon:        m.Icon,
			ButtonText:  m.ButtonText,
			Flow:        m.Flow,
		})
	}
	response.Success(c, http.StatusOK, gin.H{"providers": infos})
}

// GET /api/auth/:provider/begin
func (h *SSOHandler) Begin(c *gin.Context) {
	h.begin(c, c.Param("provider"), "")
}

// GET /api/platforms/steam/link
//
// Steam attaches to an existing account through the same OpenID dance as
// sign-in; the state payload carries the link target so the callback knows
// to attach instead of authenticate.
func (h *SSOHandler) BeginSteamLink(c *gin.Context) {
	userID := currentUserID(c)
	if userID == "" {
		response.Error(c, apperrors.ErrUnauthorized)
		return
	}
	h.begin(c, "steam", userID)
}

func (h *SSOHandler) begin(c *gin.Context, providerType, linkUserID string) {
	providerType = strings.ToLower(strings.TrimSpace(providerType))
	provider, ok := h.registry.Get(providerType)
	if !ok {
		response.Error(c, apperrors.NewValidation("Unknown sign-in provider"))
		return
	}

	pkce, err := iauth.GeneratePKCE()
	if err != nil {
		response.Error(c, err)
		return
	}

	nonce, err := crypto.GenerateToken(32)
	if err != nil {
		response.Error(c, err)
		return
	}

	state, err := h.stateCodec.Encode(iauth.StatePayload{
		Provider:   providerType,
		ReturnURL:  sanitizeRedirect(c.Query("redirect_uri"), "/"),
		ErrorURL:   sanitizeRedirect(c.Query("error_uri"), "/login?error=sso_failed"),
		Nonce:      nonce,
		PKCE:       pkce.Verifier,
		LinkUserID: linkUserID,
	})
	if err != nil {
		response.Error(c, err)
		return
	}

	resp, err := provider.Begin(requestContext(c), providers.BeginAuthRequest{
		State:         state,
		Nonce:         nonce,
		PKCEChallenge: pkce.Challenge,
	})
	if err != nil {
		response.Error(c, apperrors.NewUpstream(provider.Metadata().DisplayName, err))
		return
	}

	c.Redirect(http.StatusFound, resp.RedirectURL)
}

// GET /api/auth/:provider/callback
//
// Error paths redirect back into the SPA rather than rendering JSON: the
// browser is mid-navigation here, not making an API call.
func (h *SSOHandler) Callback(c *gin.Context) {
	stateToken := c.Query("state")
	payload, err := h.stateCodec.Decode(stateToken)
	if err != nil {
		redirectWithError(c, "/login", "sso_state")
		return
	}

	if providerType := strings.ToLower(strings.TrimSpace(c.Param("provider"))); providerType != payload.Provider {
		redirectWithError(c, payload.ErrorURL, "sso_state")
		return
	}

	provider, ok := h.registry.Get(payload.Provider)
	if !ok {
		redirectWithError(c, payload.ErrorURL, "sso_provider")
		return
	}

	identity, err := provider.Callback(requestContext(c), providers.CallbackRequest{
		State:          stateToken,
		PKCEVerifier:   payload.PKCE,
		ExpectedNonce:  payload.Nonce,
		RawHTTPRequest: c.Request,
	})
	if err != nil {
		redirectWithError(c, payload.ErrorURL, "sso_denied")
		return
	}

	cred, err := credentialFor(identity)
	if err != nil {
		redirectWithError(c, payload.ErrorURL, "sso_provider")
		return
	}

	if payload.LinkUserID != "" {
		h.completeLink(c, payload, cred)
		return
	}

	tokens, _, _, err := h.identity.Authenticate(requestContext(c), cred, iauth.SessionMetadata{
		IPAddress: c.ClientIP(),
		UserAgent: c.Request.UserAgent(),
	})
	if err != nil {
		redirectWithError(c, payload.ErrorURL, "sso_failed")
		return
	}

	setSessionCookie(c, tokens.AccessToken, h.jwt.AccessTokenTTL())
	c.Redirect(http.StatusSeeOther, appendTokens(payload.ReturnURL, tokens))
}

func (h *SSOHandler) completeLink(c *gin.Context, payload iauth.StatePayload, cred iauth.Credential) {
	if _, err := h.identity.LinkProvider(requestContext(c), payload.LinkUserID, cred); err != nil {
		code := "link_failed"
		if appErr := apperrors.FromError(err); appErr.StatusCode == http.StatusConflict {
			code = "link_conflict"
		}
		redirectWithError(c, payload.ErrorURL, code)
		return
	}
	c.Redirect(http.StatusSeeOther, payload.ReturnURL)
}

// credentialFor maps a verified provider identity onto the credential union
// the identity service reconciles.
func credentialFor(identity *providers.Identity) (iauth.Credential, error) {
	switch identity.Provider {
	case "google":
		return iauth.GoogleProfile{
			Subject:     identity.Subject,
			DisplayName: identity.DisplayName,
			Emails:      identity.Emails,
			AvatarURL:   identity.AvatarURL,
			Raw:         identity.RawClaims,
		}, nil
	case "steam":
		return iauth.SteamProfile{
			SteamID64:   identity.Subject,
			PersonaName: identity.DisplayName,
			AvatarURL:   identity.AvatarURL,
			ProfileURL:  identity.ProfileURL,
			Raw:         identity.RawClaims,
		}, nil
	default:
		return nil, fmt.Errorf("sso: no credential mapping for provider %q", identity.Provider)
	}
}

// sanitizeRedirect only accepts same-origin paths; anything absolute or
// containing header-splitting characters falls back.
func sanitizeRedirect(input, fallback string) string {
	trimmed := strings.TrimSpace(input)
	if trimmed == "" {
		return fallback
	}

	if strings.ContainsAny(trimmed, "\n\r") {
		return fallback
	}

	if strings.HasPrefix(trimmed, "//") {
		return fallback
	}

	if strings.HasPrefix(trimmed, "/") {
		return trimmed
	}

	return fallback
}

func appendTokens(redirect string, tokens iauth.TokenPair) string {
	parsed, err := url.Parse(redirect)
	if err != nil {
		parsed = &url.URL{Path: "/"}
	}

	q := parsed.Query()
	q.Set("access_token", tokens.AccessToken)
	q.Set("refresh_token", tokens.RefreshToken)
	parsed.RawQuery = q.Encode()
	return parsed.String()
}

func redirectWithError(c *gin.Context, target, code string) {
	parsed, err := url.Parse(target)
	if err != nil || parsed.Path == "" {
		parsed = &url.URL{Path: "/login"}
	}

	q := parsed.Query()
	q.Set("error", code)
	parsed.RawQuery = q.Encode()
	c.Redirect(http.StatusSeeOther, parsed.String())
}
