package testutil

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"

	"github.com/questlog/questlog/internal/api"
	"github.com/questlog/questlog/internal/app"
	iauth "github.com/questlog/questlog/internal/auth"
	"github.com/questlog/questlog/internal/auth/providers"
	"github.com/questlog/questlog/internal/cache"
	sharedtestutil "github.com/questlog/questlog/internal/database/testutil"
	"github.com/questlog/questlog/internal/library"
	"github.com/questlog/questlog/internal/middleware"
	"github.com/questlog/questlog/internal/models"
	"github.com/questlog/questlog/internal/platforms"
	"github.com/questlog/questlog/internal/realtime"
	"github.com/questlog/questlog/pkg/crypto"
	"github.com/questlog/questlog/pkg/response"
)

// testEncryptionKey seals SSO state and stored platform credentials in tests.
const testEncryptionKey = "0123456789abcdef0123456789abcdef"

// Env encapsulates a fully-wired API instance backed by an in-memory database for handler tests.
type Env struct {
	T        *testing.T
	DB       *gorm.DB
	Router   *gin.Engine
	JWT      *iauth.JWTService
	Sessions *iauth.SessionService
	Identity *iauth.IdentityService
	Hub      *realtime.Hub
	Sealer   *library.CredentialSealer

	csrfToken  string
	csrfCookie *http.Cookie
}

// Option adjusts the stack before the router is built.
type Option func(*envConfig)

type envConfig struct {
	providers []providers.Provider
	steam     platforms.SteamConfig
	gog       platforms.GOGConfig
	xbox      platforms.XboxConfig
	psn       platforms.PSNConfig
}

// WithProvider registers an extra sign-in provider. Tests supply providers
// whose endpoints point at local fixtures.
func WithProvider(p providers.Provider) Option {
	return func(cfg *envConfig) {
		cfg.providers = append(cfg.providers, p)
	}
}

// WithSteamPlatform overrides the Steam client settings.
func WithSteamPlatform(cfg platforms.SteamConfig) Option {
	return func(ec *envConfig) { ec.steam = cfg }
}

// WithGOGPlatform overrides the GOG client settings.
func WithGOGPlatform(cfg platforms.GOGConfig) Option {
	return func(ec *envConfig) { ec.gog = cfg }
}

// WithXboxPlatform overrides the Xbox client settings.
func WithXboxPlatform(cfg platforms.XboxConfig) Option {
	return func(ec *envConfig) { ec.xbox = cfg }
}

// WithPSNPlatform overrides the PSN client settings.
func WithPSNPlatform(cfg platforms.PSNConfig) Option {
	return func(ec *envConfig) { ec.psn = cfg }
}

// NewEnv provisions a fresh handler test environment with migrations applied.
func NewEnv(t *testing.T, opts ...Option) *Env {
	t.Helper()

	gin.SetMode(gin.TestMode)

	var ec envConfig
	for _, opt := range opts {
		opt(&ec)
	}

	db := sharedtestutil.MustOpenTestDB(t, sharedtestutil.WithAutoMigrate())

	jwtSecret := "test-suite-super-secret-key-32-bytes!!"
	jwtSvc, err := iauth.NewJWTService(iauth.JWTConfig{
		Secret:         jwtSecret,
		Issuer:         "test-suite",
		AccessTokenTTL: time.Hour,
	})
	require.NoError(t, err)

	cfg := &app.Config{
		Server: app.ServerConfig{
			CSRF: app.CSRFConfig{Enabled: true},
		},
		Auth: app.AuthConfig{
			JWT: app.JWTSettings{
				Secret: jwtSecret,
				Issuer: "test-suite",
				TTL:    time.Hour,
			},
			Session: app.SessionSettings{
				RefreshTTL:    24 * time.Hour,
				RefreshLength: 48,
			},
			EncryptionKey: testEncryptionKey,
		},
		Monitoring: app.MonitoringConfig{
			Prometheus: app.PrometheusConfig{Enabled: true, Endpoint: "/metrics"},
			Health:     app.HealthConfig{Enabled: true},
		},
	}

	sessionSvc, err := iauth.NewSessionService(db, jwtSvc, cfg.Auth.SessionServiceConfig())
	require.NoError(t, err)

	// Min-cost bcrypt keeps the suite fast.
	identitySvc, err := iauth.NewIdentityService(db, sessionSvc, iauth.IdentityConfig{BcryptCost: bcrypt.MinCost})
	require.NoError(t, err)

	stateCodec, err := iauth.NewStateCodec([]byte(testEncryptionKey), 10*time.Minute, nil)
	require.NoError(t, err)

	sealer, err := library.NewCredentialSealer([]byte(testEncryptionKey))
	require.NoError(t, err)

	registry := providers.NewRegistry()
	for _, p := range ec.providers {
		require.NoError(t, registry.Register(p))
	}

	steamClient := platforms.NewSteamClient(ec.steam, nil)
	gogClient := platforms.NewGOGClient(ec.gog, nil)
	xboxClient := platforms.NewXboxClient(ec.xbox, nil)
	psnClient := platforms.NewPSNClient(ec.psn, nil)

	connections, err := library.NewConnectionsService(db, sealer, gogClient, psnClient, xboxClient)
	require.NoError(t, err)

	hub := realtime.NewHub()
	t.Cleanup(hub.Close)

	librarySvc, err := library.NewService(
		library.NewSources(steamClient, gogClient, xboxClient, psnClient, sealer),
		cache.NewDatabaseStore(db),
		hub,
		zap.NewNop(),
		library.Config{CacheTTL: time.Minute},
	)
	require.NoError(t, err)

	router, err := api.NewRouter(api.Deps{
		DB:          db,
		Config:      cfg,
		JWT:         jwtSvc,
		Sessions:    sessionSvc,
		Identity:    identitySvc,
		Providers:   registry,
		StateCodec:  stateCodec,
		Connections: connections,
		Library:     librarySvc,
		Hub:         hub,
		RateStore:   middleware.NewMemoryRateStore(),
	})
	require.NoError(t, err)

	return &Env{
		T:        t,
		DB:       db,
		Router:   router,
		JWT:      jwtSvc,
		Sessions: sessionSvc,
		Identity: identitySvc,
		Hub:      hub,
		Sealer:   sealer,
	}
}

// CreateUser inserts an account with a random email and the given password,
// mirroring what POST /api/auth/register would produce.
func (e *Env) CreateUser(password string) *models.User {
	e.T.Helper()

	email := "player-" + uuid.NewString() + "@example.com"
	hashed, err := crypto.HashPasswordWithCost(password, bcrypt.MinCost)
	require.NoError(e.T, err)

	user := &models.User{
		Email:        &email,
		PasswordHash: &hashed,
		Name:         "Test Player",
	}
	require.NoError(e.T, e.DB.Create(user).Error)
	return user
}

// TokenFor opens a session for the user and returns a bearer access token.
// Used for accounts that cannot log in with a password, like provider-only
// users.
func (e *Env) TokenFor(user *models.User) string {
	e.T.Helper()

	tokens, _, err := e.Sessions.CreateSession(user.ID, iauth.SessionMetadata{})
	require.NoError(e.T, err)
	return tokens.AccessToken
}

// TokenPair mirrors the tokens object embedded in auth responses.
type TokenPair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
}

// UserPayload captures the subset of user fields returned from auth endpoints.
type UserPayload struct {
	ID          string `json:"id"`
	Email       string `json:"email"`
	Name        string `json:"name"`
	SteamID     string `json:"steam_id"`
	GoogleID    string `json:"google_id"`
	PersonaName string `json:"persona_name"`
	Avatar      string `json:"avatar"`
}

// LoginResult bundles the JSON response from POST /api/auth/login.
type LoginResult struct {
	Tokens TokenPair   `json:"tokens"`
	User   UserPayload `json:"user"`
}

// Login authenticates with email and password and returns the issued tokens.
func (e *Env) Login(email, password string) LoginResult {
	e.T.Helper()

	payload := map[string]string{
		"email":    email,
		"password": password,
	}

	w := e.Request(http.MethodPost, "/api/auth/login", payload, "")
	require.Equal(e.T, http.StatusOK, w.Code, w.Body.String())

	resp := DecodeResponse(e.T, w)
	require.True(e.T, resp.Success, w.Body.String())

	var result LoginResult
	DecodeInto(e.T, resp.Data, &result)
	require.NotEmpty(e.T, result.Tokens.AccessToken)
	require.NotEmpty(e.T, result.Tokens.RefreshToken)
	require.Equal(e.T, email, result.User.Email)

	return result
}

// APIResponse represents the canonical API envelope returned by handlers.
type APIResponse struct {
	Success bool                `json:"success"`
	Data    json.RawMessage     `json:"data"`
	Error   *response.ErrorInfo `json:"error"`
	Meta    *response.Meta      `json:"meta"`
}

// DecodeResponse parses the standard API response object from a recorder.
func DecodeResponse(t *testing.T, w *httptest.ResponseRecorder) APIResponse {
	t.Helper()
	var resp APIResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp), w.Body.String())
	return resp
}

// DecodeInto unmarshals the data payload into the provided destination.
func DecodeInto[T any](t *testing.T, raw json.RawMessage, dest *T) {
	t.Helper()
	if dest == nil {
		t.Fatal("destination must not be nil")
	}
	require.NoError(t, json.Unmarshal(raw, dest))
}

// Request executes an HTTP request against the test router, applying JSON encoding and auth headers automatically.
func (e *Env) Request(method, path string, body any, token string) *httptest.ResponseRecorder {
	e.T.Helper()
	return e.request(method, path, body, token, false)
}

func (e *Env) request(method, path string, body any, token string, skipCSRF bool) *httptest.ResponseRecorder {
	e.T.Helper()

	var buf *bytes.Buffer
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(e.T, err)
		buf = bytes.NewBuffer(data)
	} else {
		buf = bytes.NewBuffer(nil)
	}

	req, err := http.NewRequest(method, path, buf)
	require.NoError(e.T, err)

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	if !skipCSRF && requiresCSRFAttestation(method) {
		e.ensureCSRFToken()
		if e.csrfCookie != nil {
			req.AddCookie(e.csrfCookie)
		}
		if e.csrfToken != "" {
			req.Header.Set(middleware.CSRFHeaderName, e.csrfToken)
		}
	}

	w := httptest.NewRecorder()
	e.Router.ServeHTTP(w, req)

	e.captureCSRF(w.Result())
	return w
}

func (e *Env) ensureCSRFToken() {
	if e.csrfToken != "" && e.csrfCookie != nil {
		return
	}
	resp := e.request(http.MethodGet, "/health", nil, "", true)
	require.Equal(e.T, http.StatusOK, resp.Code, resp.Body.String())
}

func (e *Env) captureCSRF(resp *http.Response) {
	if resp == nil {
		return
	}
	defer resp.Body.Close()

	if token := resp.Header.Get(middleware.CSRFHeaderName); token != "" {
		e.csrfToken = token
	}
	for _, c := range resp.Cookies() {
		if c.Name == middleware.CSRFCookieName {
			// Clone to avoid unintended mutations between tests
			e.csrfCookie = &http.Cookie{
				Name:       c.Name,
				Value:      c.Value,
				Path:       c.Path,
				Domain:     c.Domain,
				Expires:    c.Expires,
				Raw:        c.Raw,
				MaxAge:     c.MaxAge,
				Secure:     c.Secure,
				HttpOnly:   c.HttpOnly,
				SameSite:   c.SameSite,
				RawExpires: c.RawExpires,
			}
			break
		}
	}
}

func requiresCSRFAttestation(method string) bool {
	switch method {
	case http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
		return true
	default:
		return false
	}
}
