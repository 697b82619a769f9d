package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/questlog/questlog/internal/api"
	"github.com/questlog/questlog/internal/app"
	"github.com/questlog/questlog/internal/app/maintenance"
	iauth "github.com/questlog/questlog/internal/auth"
	"github.com/questlog/questlog/internal/auth/providers"
	"github.com/questlog/questlog/internal/cache"
	"github.com/questlog/questlog/internal/database"
	"github.com/questlog/questlog/internal/library"
	"github.com/questlog/questlog/internal/middleware"
	"github.com/questlog/questlog/internal/monitoring"
	"github.com/questlog/questlog/internal/monitoring/checks"
	"github.com/questlog/questlog/internal/platforms"
	"github.com/questlog/questlog/internal/realtime"
	"github.com/questlog/questlog/pkg/logger"
)

// runtimeStack holds the long-lived resources bootstrapRuntime wires together,
// in the order Shutdown must tear them down.
type runtimeStack struct {
	DB      *gorm.DB
	Redis   *cache.RedisClient
	Hub     *realtime.Hub
	Cleaner *maintenance.Cleaner
	Router  *gin.Engine
}

// bootstrapRuntime builds the full service graph: storage, caching, the auth
// stack, sign-in providers, platform clients, the library aggregator, the
// realtime hub, health checks, and finally the router.
func bootstrapRuntime(ctx context.Context, cfg *app.Config, log *zap.Logger) (*runtimeStack, error) {
	stack := &runtimeStack{}

	success := false
	defer func() {
		if !success {
			stack.Shutdown(log)
		}
	}()

	if !strings.EqualFold(os.Getenv("GIN_DEBUG"), "true") {
		gin.SetMode(gin.ReleaseMode)
	}

	db, err := initialiseDatabase(cfg)
	if err != nil {
		return nil, err
	}
	stack.DB = db

	dbStore := cache.NewDatabaseStore(db)
	var cacheStore cache.Store = dbStore
	if cfg.Cache.Redis.Enabled {
		redisClient, err := cache.NewRedisClient(cfg.Cache.RedisClientConfig())
		if err != nil {
			log.Warn("redis unavailable, falling back to database cache", zap.Error(err))
		} else {
			stack.Redis = redisClient
			cacheStore = redisClient
		}
	}

	jwtService, err := iauth.NewJWTService(cfg.Auth.JWTServiceConfig())
	if err != nil {
		return nil, fmt.Errorf("jwt service: %w", err)
	}

	sessionCfg := cfg.Auth.SessionServiceConfig()
	if stack.Redis != nil {
		sessionCfg.Cache = iauth.NewRedisSessionCache(stack.Redis)
	} else {
		sessionCfg.Cache = iauth.NewDatabaseSessionCache(dbStore)
	}

	sessions, err := iauth.NewSessionService(db, jwtService, sessionCfg)
	if err != nil {
		return nil, fmt.Errorf("session service: %w", err)
	}

	identity, err := iauth.NewIdentityService(db, sessions, iauth.IdentityConfig{
		Logger: logger.WithModule("identity"),
	})
	if err != nil {
		return nil, fmt.Errorf("identity service: %w", err)
	}

	encryptionKey, err := app.ResolveEncryptionKey(cfg.Auth.EncryptionKey)
	if err != nil {
		return nil, fmt.Errorf("auth.encryption_key: %w", err)
	}

	purged, err := database.EnsureCredentialKey(ctx, db, encryptionKey)
	if err != nil {
		return nil, fmt.Errorf("credential key check: %w", err)
	}
	if purged {
		log.Warn("encryption key changed; stored platform credentials were cleared and must be re-entered")
	}

	stateCodec, err := iauth.NewStateCodec(encryptionKey, cfg.Auth.StateTTL, nil)
	if err != nil {
		return nil, fmt.Errorf("state codec: %w", err)
	}

	sealer, err := library.NewCredentialSealer(encryptionKey)
	if err != nil {
		return nil, fmt.Errorf("credential sealer: %w", err)
	}

	registry := providers.NewRegistry()
	if cfg.Auth.GoogleConfigured() {
		google, err := providers.NewGoogle(cfg.Auth.GoogleProviderConfig(), providers.GoogleOptions{})
		if err != nil {
			// Discovery needs the network; keep the server usable without Google.
			log.Warn("google sign-in disabled", zap.Error(err))
		} else if err := registry.Register(google); err != nil {
			return nil, fmt.Errorf("register google provider: %w", err)
		}
	}
	if cfg.Auth.SteamConfigured() {
		steam, err := providers.NewSteam(cfg.Auth.SteamProviderConfig(cfg.Platforms.Steam.APIKey), providers.SteamOptions{})
		if err != nil {
			log.Warn("steam sign-in disabled", zap.Error(err))
		} else if err := registry.Register(steam); err != nil {
			return nil, fmt.Errorf("register steam provider: %w", err)
		}
	}

	steamClient := platforms.NewSteamClient(platforms.SteamConfig{APIKey: cfg.Platforms.Steam.APIKey}, nil)
	gogClient := platforms.NewGOGClient(platforms.GOGConfig{}, nil)
	xboxClient := platforms.NewXboxClient(platforms.XboxConfig{APIKey: cfg.Platforms.Xbox.APIKey}, nil)
	psnClient := platforms.NewPSNClient(platforms.PSNConfig{}, nil)

	connections, err := library.NewConnectionsService(db, sealer, gogClient, psnClient, xboxClient)
	if err != nil {
		return nil, fmt.Errorf("connections service: %w", err)
	}

	hub := realtime.NewHub()
	stack.Hub = hub

	sources := library.NewSources(steamClient, gogClient, xboxClient, psnClient, sealer)
	librarySvc, err := library.NewService(sources, cacheStore, hub, logger.WithModule("library"), library.Config{
		CacheTTL: cfg.Library.CacheTTL,
	})
	if err != nil {
		return nil, fmt.Errorf("library service: %w", err)
	}

	cleaner := maintenance.NewCleaner(sessions, dbStore)
	if err := cleaner.Start(); err != nil {
		return nil, fmt.Errorf("maintenance scheduler: %w", err)
	}
	stack.Cleaner = cleaner

	var health *monitoring.HealthManager
	if cfg.Monitoring.Health.Enabled {
		health = monitoring.NewHealthManager()
		health.RegisterReadiness(checks.Database(db, 0))
		health.RegisterReadiness(checks.Cache(cacheStore, 0))
		if stack.Redis != nil {
			health.RegisterReadiness(checks.Redis(stack.Redis, true, 0))
		}
		health.RegisterReadiness(checks.Maintenance(cleaner, 0))
		health.RegisterReadiness(checks.Realtime(hub))
	}

	var rateStore middleware.RateStore
	if stack.Redis != nil {
		rateStore = middleware.NewRedisRateStore(stack.Redis)
	} else {
		rateStore = middleware.NewDatabaseRateStore(dbStore)
	}

	router, err := api.NewRouter(api.Deps{
		DB:          db,
		Config:      cfg,
		JWT:         jwtService,
		Sessions:    sessions,
		Identity:    identity,
		Providers:   registry,
		StateCodec:  stateCodec,
		Connections: connections,
		Library:     librarySvc,
		Hub:         hub,
		Health:      health,
		RateStore:   rateStore,
	})
	if err != nil {
		return nil, fmt.Errorf("router: %w", err)
	}
	stack.Router = router

	success = true
	return stack, nil
}

// Shutdown releases stack resources. Safe to call on a partially built stack.
func (s *runtimeStack) Shutdown(log *zap.Logger) {
	if s.Cleaner != nil {
		select {
		case <-s.Cleaner.Stop().Done():
		case <-time.After(shutdownTimeout):
			log.Warn("maintenance jobs still running at shutdown")
		}

		runCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		if err := s.Cleaner.RunOnce(runCtx); err != nil {
			log.Warn("final maintenance pass failed", zap.Error(err))
		}
		cancel()
	}

	if s.Hub != nil {
		s.Hub.Close()
	}

	if s.Redis != nil {
		if err := s.Redis.Close(); err != nil {
			log.Warn("redis close failed", zap.Error(err))
		}
	}

	closeDatabase(s.DB, log)
}

func initialiseDatabase(cfg *app.Config) (*gorm.DB, error) {
	db, err := database.Open(convertDatabaseConfig(cfg.Database))
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err := database.Migrate(db); err != nil {
		closeDatabase(db, nil)
		return nil, fmt.Errorf("migrate database: %w", err)
	}

	return db, nil
}

func convertDatabaseConfig(cfg app.DatabaseConfig) database.Config {
	out := database.Config{
		Driver: cfg.Driver,
		Path:   cfg.Path,
		DSN:    cfg.DSN,
	}

	switch strings.ToLower(strings.TrimSpace(cfg.Driver)) {
	case "postgres", "postgresql":
		applyDBAuth(&out, cfg.Postgres)
	case "mysql":
		applyDBAuth(&out, cfg.MySQL)
	}

	return out
}

func applyDBAuth(out *database.Config, auth app.DBAuthConfig) {
	out.Host = auth.Host
	out.Port = auth.Port
	out.Name = auth.Database
	out.User = auth.Username
	out.Password = auth.Password
}

func closeDatabase(db *gorm.DB, log *zap.Logger) {
	if db == nil {
		return
	}

	sqlDB, err := db.DB()
	if err != nil {
		return
	}
	if err := sqlDB.Close(); err != nil && log != nil {
		log.Warn("database close failed", zap.Error(err))
	}
}
