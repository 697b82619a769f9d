package library

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/questlog/questlog/internal/models"
	"github.com/questlog/questlog/internal/platforms"
)

// Source adapts one storefront client to the aggregation service. Connected
// reports whether the user has linked the platform and the client is usable;
// Games and Achievements are only called for connected sources.
type Source interface {
	Platform() platforms.Platform
	Connected(user *models.User) bool
	Games(ctx context.Context, user *models.User) ([]platforms.Game, error)
	Achievements(ctx context.Context, user *models.User, gameID string) ([]platforms.Achievement, error)
}

// NewSources wires the default set of sources in display order.
func NewSources(steam *platforms.SteamClient, gog *platforms.GOGClient, xbox *platforms.XboxClient, psn *platforms.PSNClient, sealer *CredentialSealer) []Source {
	return []Source{
		&steamSource{client: steam},
		&gogSource{client: gog},
		&xboxSource{client: xbox},
		newPSNSource(psn, sealer),
	}
}

type steamSource struct {
	client *platforms.SteamClient
}

func (s *steamSource) Platform() platforms.Platform { return platforms.Steam }

func (s *steamSource) Connected(user *models.User) bool {
	return user != nil && user.SteamID != nil && *user.SteamID != "" && s.client.Configured()
}

func (s *steamSource) Games(ctx context.Context, user *models.User) ([]platforms.Game, error) {
	return s.client.OwnedGames(ctx, *user.SteamID)
}

func (s *steamSource) Achievements(ctx context.Context, user *models.User, gameID string) ([]platforms.Achievement, error) {
	return s.client.Achievements(ctx, *user.SteamID, gameID)
}

type gogSource struct {
	client *platforms.GOGClient
}

func (s *gogSource) Platform() platforms.Platform { return platforms.GOG }

func (s *gogSource) Connected(user *models.User) bool {
	return user != nil && user.GOGUsername != nil && *user.GOGUsername != ""
}

func (s *gogSource) Games(ctx context.Context, user *models.User) ([]platforms.Game, error) {
	return s.client.OwnedGames(ctx, *user.GOGUsername)
}

func (s *gogSource) Achievements(ctx context.Context, user *models.User, gameID string) ([]platforms.Achievement, error) {
	// The public stats endpoint only exposes per-title achievement counts.
	return nil, fmt.Errorf("gog: per-title achievement detail is not published: %w", platforms.ErrNotFound)
}

type xboxSource struct {
	client *platforms.XboxClient
}

func (s *xboxSource) Platform() platforms.Platform { return platforms.Xbox }

func (s *xboxSource) Connected(user *models.User) bool {
	return user != nil && user.XUID != nil && *user.XUID != "" && s.client.Configured()
}

func (s *xboxSource) Games(ctx context.Context, user *models.User) ([]platforms.Game, error) {
	return s.client.OwnedGames(ctx, *user.XUID)
}

func (s *xboxSource) Achievements(ctx context.Context, user *models.User, gameID string) ([]platforms.Achievement, error) {
	return s.client.Achievements(ctx, *user.XUID, gameID)
}

// psnSource exchanges the stored NPSSO for a short-lived access token on
// first use and keeps it until it expires. Tokens are keyed by PSN account so
// reconnecting a different account never reuses the previous token.
type psnSource struct {
	client *platforms.PSNClient
	sealer *CredentialSealer
	now    func() time.Time

	mu     sync.Mutex
	tokens map[string]*platforms.PSNToken
}

func newPSNSource(client *platforms.PSNClient, sealer *CredentialSealer) *psnSource {
	return &psnSource{
		client: client,
		sealer: sealer,
		now:    time.Now,
		tokens: make(map[string]*platforms.PSNToken),
	}
}

func (s *psnSource) Platform() platforms.Platform { return platforms.PSN }

func (s *psnSource) Connected(user *models.User) bool {
	return user != nil && user.PSNAccountID != nil && *user.PSNAccountID != "" && user.EncryptedNPSSO != ""
}

func (s *psnSource) Games(ctx context.Context, user *models.User) ([]platforms.Game, error) {
	token, err := s.token(ctx, user)
	if err != nil {
		return nil, err
	}
	return s.client.OwnedGames(ctx, token)
}

func (s *psnSource) Achievements(ctx context.Context, user *models.User, gameID string) ([]platforms.Achievement, error) {
	token, err := s.token(ctx, user)
	if err != nil {
		return nil, err
	}
	return s.client.Achievements(ctx, token, gameID)
}

func (s *psnSource) token(ctx context.Context, user *models.User) (*platforms.PSNToken, error) {
	accountID := *user.PSNAccountID

	s.mu.Lock()
	cached := s.tokens[accountID]
	s.mu.Unlock()

	if cached.Valid(s.now()) {
		return cached, nil
	}

	npsso, err := s.sealer.Open(user.EncryptedNPSSO)
	if err != nil {
		return nil, fmt.Errorf("psn: unseal stored credential: %w", err)
	}

	token, err := s.client.ExchangeNPSSO(ctx, npsso)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.tokens[accountID] = token
	s.mu.Unlock()

	return token, nil
}
