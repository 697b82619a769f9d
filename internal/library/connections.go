package library

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"gorm.io/gorm"

	"github.com/questlog/questlog/internal/database"
	"github.com/questlog/questlog/internal/models"
	"github.com/questlog/questlog/internal/platforms"
	apperrors "github.com/questlog/questlog/pkg/errors"
)

var xuidPattern = regexp.MustCompile(`^\d{10,20}$`)

// ConnectionStatus reports one platform's link state.
type ConnectionStatus struct {
	Platform   platforms.Platform `json:"platform"`
	Connected  bool               `json:"connected"`
	Identifier string             `json:"identifier,omitempty"`
}

// ConnectionsService attaches and detaches storefront accounts on a user.
// Steam is attached through the OpenID link flow instead of here, but it is
// detached here like every other platform.
type ConnectionsService struct {
	db     *gorm.DB
	sealer *CredentialSealer
	gog    *platforms.GOGClient
	psn    *platforms.PSNClient
	xbox   *platforms.XboxClient
}

// NewConnectionsService constructs the connection manager.
func NewConnectionsService(db *gorm.DB, sealer *CredentialSealer, gog *platforms.GOGClient, psn *platforms.PSNClient, xbox *platforms.XboxClient) (*ConnectionsService, error) {
	if db == nil {
		return nil, fmt.Errorf("library: database handle is required")
	}
	if sealer == nil {
		return nil, fmt.Errorf("library: credential sealer is required")
	}
	if gog == nil || psn == nil || xbox == nil {
		return nil, fmt.Errorf("library: platform clients are required")
	}

	return &ConnectionsService{db: db, sealer: sealer, gog: gog, psn: psn, xbox: xbox}, nil
}

// ConnectXbox stores a XUID, resolving the gamertag as an existence probe
// when an API key is configured.
func (s *ConnectionsService) ConnectXbox(ctx context.Context, user *models.User, xuid string) (*models.User, error) {
	xuid = strings.TrimSpace(xuid)
	if !xuidPattern.MatchString(xuid) {
		return nil, apperrors.NewValidation("A numeric XUID is required")
	}

	gamertag := ""
	if s.xbox.Configured() {
		tag, err := s.xbox.ResolveGamertag(ctx, xuid)
		switch {
		case err == nil:
			gamertag = tag
		case errors.Is(err, platforms.ErrNotFound):
			return nil, apperrors.NewValidation("No Xbox profile found for this XUID")
		default:
			return nil, apperrors.NewUpstream("Xbox", err)
		}
	}

	updates := map[string]any{"xuid": xuid, "xbox_gamertag": gamertag}
	if err := s.db.WithContext(ctx).Model(user).Updates(updates).Error; err != nil {
		if database.IsUniqueViolation(err) {
			return nil, apperrors.NewConflict("This Xbox account is already connected to another user")
		}
		return nil, fmt.Errorf("library: connect xbox: %w", err)
	}

	user.XUID = &xuid
	user.XboxGamertag = gamertag
	return user, nil
}

// ConnectPSN exchanges the NPSSO cookie, resolves the account it belongs to
// and stores the cookie sealed for later refreshes.
func (s *ConnectionsService) ConnectPSN(ctx context.Context, user *models.User, npsso string) (*models.User, error) {
	npsso = strings.TrimSpace(npsso)
	if npsso == "" {
		return nil, apperrors.NewValidation("An NPSSO token is required")
	}

	token, err := s.psn.ExchangeNPSSO(ctx, npsso)
	if err != nil {
		return nil, psnConnectError(err)
	}

	profile, err := s.psn.Profile(ctx, token)
	if err != nil {
		return nil, psnConnectError(err)
	}

	sealed, err := s.sealer.Seal(npsso)
	if err != nil {
		return nil, fmt.Errorf("library: seal npsso: %w", err)
	}

	updates := map[string]any{
		"psn_account_id":  profile.AccountID,
		"psn_online_id":   profile.OnlineID,
		"encrypted_npsso": sealed,
	}
	if err := s.db.WithContext(ctx).Model(user).Updates(updates).Error; err != nil {
		if database.IsUniqueViolation(err) {
			return nil, apperrors.NewConflict("This PlayStation account is already connected to another user")
		}
		return nil, fmt.Errorf("library: connect psn: %w", err)
	}

	user.PSNAccountID = &profile.AccountID
	user.PSNOnlineID = &profile.OnlineID
	user.EncryptedNPSSO = sealed
	return user, nil
}

func psnConnectError(err error) error {
	if errors.Is(err, platforms.ErrUnauthorized) {
		return apperrors.NewValidation("PlayStation rejected the NPSSO token")
	}
	return apperrors.NewUpstream("PlayStation Network", err)
}

// ConnectGOG stores a GOG username after probing the public profile.
func (s *ConnectionsService) ConnectGOG(ctx context.Context, user *models.User, username string) (*models.User, error) {
	username = strings.TrimSpace(username)
	if username == "" {
		return nil, apperrors.NewValidation("A GOG username is required")
	}

	if err := s.gog.VerifyProfile(ctx, username); err != nil {
		if errors.Is(err, platforms.ErrNotFound) {
			return nil, apperrors.NewValidation("GOG profile not found or not public")
		}
		return nil, apperrors.NewUpstream("GOG", err)
	}

	if err := s.db.WithContext(ctx).Model(user).Updates(map[string]any{"gog_username": username}).Error; err != nil {
		return nil, fmt.Errorf("library: connect gog: %w", err)
	}

	user.GOGUsername = &username
	return user, nil
}

// Disconnect clears one platform's fields. The account survives; only the
// link goes away. Detaching Steam is refused while it is the sole remaining
// sign-in method.
func (s *ConnectionsService) Disconnect(ctx context.Context, user *models.User, platform platforms.Platform) (*models.User, error) {
	if !platform.Valid() {
		return nil, apperrors.NewValidation("Unknown platform")
	}

	var updates map[string]any
	switch platform {
	case platforms.Steam:
		if !user.HasPassword() && user.GoogleID == nil {
			return nil, apperrors.NewValidation("Steam is the only way to sign in to this account; set a password first")
		}
		updates = map[string]any{"steam_id": nil, "persona_name": "", "profile_url": ""}
	case platforms.Xbox:
		updates = map[string]any{"xuid": nil, "xbox_gamertag": ""}
	case platforms.PSN:
		updates = map[string]any{"psn_account_id": nil, "psn_online_id": nil, "encrypted_npsso": ""}
	case platforms.GOG:
		updates = map[string]any{"gog_username": nil}
	}

	if err := s.db.WithContext(ctx).Model(user).Updates(updates).Error; err != nil {
		return nil, fmt.Errorf("library: disconnect %s: %w", platform, err)
	}

	switch platform {
	case platforms.Steam:
		user.SteamID = nil
		user.PersonaName = ""
		user.ProfileURL = ""
	case platforms.Xbox:
		user.XUID = nil
		user.XboxGamertag = ""
	case platforms.PSN:
		user.PSNAccountID = nil
		user.PSNOnlineID = nil
		user.EncryptedNPSSO = ""
	case platforms.GOG:
		user.GOGUsername = nil
	}
	return user, nil
}

// Status reports the link state of every platform for the user. It reflects
// what is attached to the account, not whether the server holds the API keys
// needed to fetch from it.
func (s *ConnectionsService) Status(user *models.User) []ConnectionStatus {
	statuses := make([]ConnectionStatus, 0, len(platforms.All()))
	for _, platform := range platforms.All() {
		status := ConnectionStatus{Platform: platform}
		switch platform {
		case platforms.Steam:
			if user.SteamID != nil && *user.SteamID != "" {
				status.Connected = true
				status.Identifier = firstNonEmpty(user.PersonaName, *user.SteamID)
			}
		case platforms.GOG:
			if user.GOGUsername != nil && *user.GOGUsername != "" {
				status.Connected = true
				status.Identifier = *user.GOGUsername
			}
		case platforms.Xbox:
			if user.XUID != nil && *user.XUID != "" {
				status.Connected = true
				status.Identifier = firstNonEmpty(user.XboxGamertag, *user.XUID)
			}
		case platforms.PSN:
			if user.PSNAccountID != nil && *user.PSNAccountID != "" {
				status.Connected = true
				if user.PSNOnlineID != nil {
					status.Identifier = *user.PSNOnlineID
				}
			}
		}
		statuses = append(statuses, status)
	}
	return statuses
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if strings.TrimSpace(value) != "" {
			return value
		}
	}
	return ""
}
