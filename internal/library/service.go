package library

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/questlog/questlog/internal/cache"
	"github.com/questlog/questlog/internal/models"
	"github.com/questlog/questlog/internal/platforms"
	"github.com/questlog/questlog/internal/realtime"
	apperrors "github.com/questlog/questlog/pkg/errors"
	"github.com/questlog/questlog/pkg/metrics"
)

const defaultCacheTTL = 10 * time.Minute

// Notifier pushes events to a user's open realtime connections.
type Notifier interface {
	BroadcastToUser(userID string, event realtime.Event)
}

type noopNotifier struct{}

func (noopNotifier) BroadcastToUser(string, realtime.Event) {}

// PlatformError marks a platform that failed during aggregation. The rest of
// the response stays usable.
type PlatformError struct {
	Platform platforms.Platform `json:"platform"`
	Message  string             `json:"message"`
}

// GamesResult is the merged cross-platform library.
type GamesResult struct {
	Games  []platforms.Game `json:"games"`
	Errors []PlatformError  `json:"errors,omitempty"`
}

// Config tunes the aggregation service.
type Config struct {
	CacheTTL time.Duration
	Clock    func() time.Time
}

// Service aggregates owned games and achievements across every platform the
// user has connected.
type Service struct {
	sources  []Source
	store    cache.Store
	notifier Notifier
	logger   *zap.Logger
	cacheTTL time.Duration
	clock    func() time.Time
}

// NewService constructs the aggregation service.
func NewService(sources []Source, store cache.Store, notifier Notifier, logger *zap.Logger, cfg Config) (*Service, error) {
	if store == nil {
		return nil, fmt.Errorf("library: cache store is required")
	}
	if notifier == nil {
		notifier = noopNotifier{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	ttl := cfg.CacheTTL
	if ttl <= 0 {
		ttl = defaultCacheTTL
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}

	return &Service{
		sources:  sources,
		store:    store,
		notifier: notifier,
		logger:   logger,
		cacheTTL: ttl,
		clock:    clock,
	}, nil
}

// Games returns the merged library for every connected platform. A failing
// platform is reported as an error marker, never as a failed aggregate.
func (s *Service) Games(ctx context.Context, user *models.User) *GamesResult {
	return s.collect(ctx, user, false, nil)
}

// Achievements returns the per-title achievement list for one platform.
func (s *Service) Achievements(ctx context.Context, user *models.User, platform platforms.Platform, gameID string) ([]platforms.Achievement, error) {
	if !platform.Valid() {
		return nil, apperrors.NewValidation("Unknown platform")
	}
	if strings.TrimSpace(gameID) == "" {
		return nil, apperrors.NewValidation("Game id is required")
	}

	source := s.source(platform)
	if source == nil || !source.Connected(user) {
		return nil, apperrors.NewValidation(platform.DisplayName() + " is not connected")
	}

	key := achievementsCacheKey(user.ID, platform, gameID)
	if cached, ok := cacheGet[[]platforms.Achievement](ctx, s, key); ok {
		return cached, nil
	}

	achievements, err := source.Achievements(ctx, user, gameID)
	if err != nil {
		metrics.PlatformRequests.WithLabelValues(string(platform), "error").Inc()
		if errors.Is(err, platforms.ErrNotFound) {
			return nil, apperrors.ErrNotFound.WithInternal(err)
		}
		return nil, apperrors.NewUpstream(platform.DisplayName(), err)
	}
	metrics.PlatformRequests.WithLabelValues(string(platform), "success").Inc()

	s.cachePut(ctx, key, achievements)
	return achievements, nil
}

// Sync invalidates the cached library and refetches every connected platform,
// pushing progress events to the user's realtime connections.
func (s *Service) Sync(ctx context.Context, user *models.User) *GamesResult {
	connected := s.connected(user)

	names := make([]string, 0, len(connected))
	keys := make([]string, 0, len(connected))
	for _, source := range connected {
		names = append(names, string(source.Platform()))
		keys = append(keys, gamesCacheKey(user.ID, source.Platform()))
	}

	if len(keys) > 0 {
		if err := s.store.Delete(ctx, keys...); err != nil {
			s.logger.Warn("library cache invalidation failed", zap.String("user_id", user.ID), zap.Error(err))
		}
	}

	s.publish(user.ID, realtime.EventSyncStarted, "", map[string]any{"platforms": names})

	result := s.collect(ctx, user, true, func(platform platforms.Platform, count int, elapsed time.Duration, err error) {
		metrics.LibrarySyncDuration.WithLabelValues(string(platform)).Observe(elapsed.Seconds())

		payload := map[string]any{"games": count}
		if err != nil {
			payload = map[string]any{"error": platformErrorMessage(platform, err)}
		}
		s.publish(user.ID, realtime.EventSyncPlatform, string(platform), payload)
	})

	s.publish(user.ID, realtime.EventSyncCompleted, "", map[string]any{
		"games":  len(result.Games),
		"errors": len(result.Errors),
	})

	return result
}

func (s *Service) collect(ctx context.Context, user *models.User, bypassCache bool, observe func(platforms.Platform, int, time.Duration, error)) *GamesResult {
	result := &GamesResult{Games: []platforms.Game{}}

	connected := s.connected(user)
	if len(connected) == 0 {
		return result
	}

	var (
		wg sync.WaitGroup
		mu sync.Mutex
	)

	for _, source := range connected {
		wg.Add(1)
		go func(source Source) {
			defer wg.Done()

			start := s.clock()
			games, err := s.platformGames(ctx, source, user, bypassCache)
			elapsed := s.clock().Sub(start)

			mu.Lock()
			defer mu.Unlock()

			if err != nil {
				s.logger.Warn("platform fetch failed",
					zap.String("platform", string(source.Platform())),
					zap.String("user_id", user.ID),
					zap.Error(err))
				result.Errors = append(result.Errors, PlatformError{
					Platform: source.Platform(),
					Message:  platformErrorMessage(source.Platform(), err),
				})
			} else {
				result.Games = append(result.Games, games...)
			}

			if observe != nil {
				observe(source.Platform(), len(games), elapsed, err)
			}
		}(source)
	}

	wg.Wait()

	sortGames(result.Games)
	sort.Slice(result.Errors, func(i, j int) bool {
		return result.Errors[i].Platform < result.Errors[j].Platform
	})

	return result
}

func (s *Service) platformGames(ctx context.Context, source Source, user *models.User, bypassCache bool) ([]platforms.Game, error) {
	key := gamesCacheKey(user.ID, source.Platform())
	if !bypassCache {
		if games, ok := cacheGet[[]platforms.Game](ctx, s, key); ok {
			return games, nil
		}
	}

	games, err := source.Games(ctx, user)
	if err != nil {
		metrics.PlatformRequests.WithLabelValues(string(source.Platform()), "error").Inc()
		return nil, err
	}
	metrics.PlatformRequests.WithLabelValues(string(source.Platform()), "success").Inc()

	s.cachePut(ctx, key, games)
	return games, nil
}

func (s *Service) connected(user *models.User) []Source {
	var connected []Source
	for _, source := range s.sources {
		if source.Connected(user) {
			connected = append(connected, source)
		}
	}
	return connected
}

func (s *Service) source(platform platforms.Platform) Source {
	for _, source := range s.sources {
		if source.Platform() == platform {
			return source
		}
	}
	return nil
}

func (s *Service) publish(userID, eventType, platform string, data any) {
	s.notifier.BroadcastToUser(userID, realtime.Event{
		Type:     eventType,
		Platform: platform,
		Data:     data,
		TS:       s.clock().UTC(),
	})
}

func cacheGet[T any](ctx context.Context, s *Service, key string) (T, bool) {
	var value T

	raw, ok, err := s.store.Get(ctx, key)
	if err != nil {
		s.logger.Warn("library cache read failed", zap.String("key", key), zap.Error(err))
		return value, false
	}
	if !ok {
		return value, false
	}

	if err := json.Unmarshal(raw, &value); err != nil {
		s.logger.Warn("library cache entry corrupt", zap.String("key", key), zap.Error(err))
		return value, false
	}
	return value, true
}

func (s *Service) cachePut(ctx context.Context, key string, value any) {
	raw, err := json.Marshal(value)
	if err != nil {
		s.logger.Warn("library cache encode failed", zap.String("key", key), zap.Error(err))
		return
	}
	if err := s.store.Set(ctx, key, raw, s.cacheTTL); err != nil {
		s.logger.Warn("library cache write failed", zap.String("key", key), zap.Error(err))
	}
}

func gamesCacheKey(userID string, platform platforms.Platform) string {
	return fmt.Sprintf("library:games:%s:%s", userID, platform)
}

func achievementsCacheKey(userID string, platform platforms.Platform, gameID string) string {
	return fmt.Sprintf("library:ach:%s:%s:%s", userID, platform, gameID)
}

func platformErrorMessage(platform platforms.Platform, err error) string {
	switch {
	case errors.Is(err, platforms.ErrUnauthorized):
		return platform.DisplayName() + " rejected the stored credentials"
	case errors.Is(err, platforms.ErrNotFound):
		return platform.DisplayName() + " profile was not found"
	default:
		return platform.DisplayName() + " request failed"
	}
}

func sortGames(games []platforms.Game) {
	sort.SliceStable(games, func(i, j int) bool {
		a, b := games[i], games[j]
		switch {
		case a.LastPlayed != nil && b.LastPlayed != nil && !a.LastPlayed.Equal(*b.LastPlayed):
			return a.LastPlayed.After(*b.LastPlayed)
		case a.LastPlayed != nil && b.LastPlayed == nil:
			return true
		case a.LastPlayed == nil && b.LastPlayed != nil:
			return false
		}
		if an, bn := strings.ToLower(a.Name), strings.ToLower(b.Name); an != bn {
			return an < bn
		}
		return a.Platform < b.Platform
	})
}
