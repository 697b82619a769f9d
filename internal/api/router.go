package api

import (
	"fmt"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gorm.io/gorm"

	"github.com/questlog/questlog/internal/app"
	iauth "github.com/questlog/questlog/internal/auth"
	"github.com/questlog/questlog/internal/auth/providers"
	"github.com/questlog/questlog/internal/handlers"
	"github.com/questlog/questlog/internal/library"
	"github.com/questlog/questlog/internal/middleware"
	"github.com/questlog/questlog/internal/monitoring"
	"github.com/questlog/questlog/internal/realtime"
)

// Deps carries the services the router wires into handlers. Anything needing
// network discovery or key material (the provider registry, the state codec)
// is constructed during server bootstrap and injected here.
type Deps struct {
	DB          *gorm.DB
	Config      *app.Config
	JWT         *iauth.JWTService
	Sessions    *iauth.SessionService
	Identity    *iauth.IdentityService
	Providers   *providers.Registry
	StateCodec  *iauth.StateCodec
	Connections *library.ConnectionsService
	Library     *library.Service
	Hub         *realtime.Hub

	// Health may be nil; the endpoints then report a plain ok.
	Health *monitoring.HealthManager
	// RateStore may be nil; rate limiting falls back to per-process counters.
	RateStore middleware.RateStore
}

// NewRouter builds the Gin engine, wires middleware and registers all routes.
func NewRouter(deps Deps) (*gin.Engine, error) {
	if deps.DB == nil {
		return nil, fmt.Errorf("database handle must be provided")
	}
	if deps.Config == nil {
		return nil, fmt.Errorf("config must be provided")
	}
	if deps.JWT == nil {
		return nil, fmt.Errorf("jwt service must be provided")
	}
	if deps.Sessions == nil {
		return nil, fmt.Errorf("session service must be provided")
	}
	if deps.Identity == nil {
		return nil, fmt.Errorf("identity service must be provided")
	}
	if deps.Providers == nil {
		return nil, fmt.Errorf("provider registry must be provided")
	}
	if deps.StateCodec == nil {
		return nil, fmt.Errorf("state codec must be provided")
	}
	if deps.Connections == nil {
		return nil, fmt.Errorf("connections service must be provided")
	}
	if deps.Library == nil {
		return nil, fmt.Errorf("library service must be provided")
	}
	if deps.Hub == nil {
		return nil, fmt.Errorf("realtime hub must be provided")
	}

	cfg := deps.Config

	r := gin.New()

	// Global middleware
	r.Use(middleware.Recovery())
	r.Use(middleware.Logger())
	r.Use(middleware.Metrics())
	r.Use(middleware.SecurityHeaders())
	r.Use(middleware.CORS(cfg.Server.AllowedOrigins...))
	if cfg.Server.CSRF.Enabled {
		r.Use(middleware.CSRF())
	}
	// Basic rate limiting: 100 requests/minute per IP+path
	r.Use(middleware.RateLimitWithStore(deps.RateStore, 100, time.Minute, "rl"))

	registerHealthRoutes(r, cfg, handlers.NewHealthHandler(deps.Health))

	authHandler := handlers.NewAuthHandler(deps.Identity, deps.Sessions, deps.JWT)
	ssoHandler := handlers.NewSSOHandler(deps.Providers, deps.Identity, deps.JWT, deps.StateCodec)
	profileHandler := handlers.NewProfileHandler(deps.Identity)

	// Everything registered on the api group requires a valid access token.
	// Public auth routes mount straight on the engine inside registerAuthRoutes.
	api := r.Group("/api")
	api.Use(middleware.Auth(deps.JWT))

	registerAuthRoutes(r, api, authRouteDeps{
		Auth:      authHandler,
		SSO:       ssoHandler,
		Profile:   profileHandler,
		RateStore: deps.RateStore,
	})

	registerPlatformRoutes(api, handlers.NewPlatformsHandler(deps.Identity, deps.Connections), ssoHandler)
	registerLibraryRoutes(api, handlers.NewLibraryHandler(deps.Identity, deps.Library))
	registerRealtimeRoutes(api, handlers.NewRealtimeHandler(deps.Hub))

	// Metrics endpoint
	if cfg.Monitoring.Prometheus.Enabled {
		endpoint := cfg.Monitoring.Prometheus.Endpoint
		if endpoint == "" {
			endpoint = "/metrics"
		}
		r.GET(endpoint, gin.WrapH(promhttp.Handler()))
	}

	// NotFound fallback
	r.NoRoute(middleware.NotFoundHandler)

	return r, nil
}
