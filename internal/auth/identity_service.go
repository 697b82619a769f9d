package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/questlog/questlog/internal/database"
	"github.com/questlog/questlog/internal/models"
	"github.com/questlog/questlog/pkg/crypto"
	apperrors "github.com/questlog/questlog/pkg/errors"
	"github.com/questlog/questlog/pkg/metrics"
)

// MinPasswordLength is enforced on registration and password changes.
const MinPasswordLength = 8

// IdentityConfig tunes an IdentityService. The zero value is usable.
type IdentityConfig struct {
	// Clock supplies the current time. Defaults to time.Now.
	Clock func() time.Time
	// BcryptCost is passed through to password hashing. Values outside the
	// bcrypt range fall back to the library default.
	BcryptCost int
	// Logger receives best-effort failure reports. Defaults to a nop logger.
	Logger *zap.Logger
}

// IdentityService reconciles every sign-in path against the user store.
// All three entry points (local form, Google callback, Steam callback)
// converge on Authenticate, which resolves or provisions a user and then
// establishes a session, so the rest of the application never needs to
// care how the user proved who they are.
type IdentityService struct {
	db         *gorm.DB
	sessions   *SessionService
	clock      func() time.Time
	bcryptCost int
	logger     *zap.Logger
}

// NewIdentityService wires an IdentityService.
func NewIdentityService(db *gorm.DB, sessions *SessionService, cfg IdentityConfig) (*IdentityService, error) {
	if db == nil {
		return nil, errors.New("identity: database handle is required")
	}
	if sessions == nil {
		return nil, errors.New("identity: session service is required")
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}
	return &IdentityService{
		db:         db,
		sessions:   sessions,
		clock:      clock,
		bcryptCost: cfg.BcryptCost,
		logger:     log,
	}, nil
}

// RegisterInput carries a local account registration.
type RegisterInput struct {
	Email    string
	Password string
	Name     string
}

// Register creates a local account and signs it in. Email comparison and
// storage are lowercase throughout, so lookups never depend on the casing
// the client happened to send.
func (s *IdentityService) Register(ctx context.Context, input RegisterInput, meta SessionMetadata) (TokenPair, *models.User, *models.Session, error) {
	email := normaliseEmail(input.Email)
	if email == "" || input.Password == "" {
		return TokenPair{}, nil, nil, apperrors.NewValidation("Email and password are required")
	}
	if len(input.Password) < MinPasswordLength {
		return TokenPair{}, nil, nil, apperrors.NewValidation(fmt.Sprintf("Password must be at least %d characters", MinPasswordLength))
	}

	var existing models.User
	err := s.db.WithContext(ctx).Where("email = ?", email).Take(&existing).Error
	if err == nil {
		return TokenPair{}, nil, nil, apperrors.NewConflict("An account with this email already exists")
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return TokenPair{}, nil, nil, fmt.Errorf("identity: check existing email: %w", err)
	}

	hash, err := crypto.HashPasswordWithCost(input.Password, s.bcryptCost)
	if err != nil {
		return TokenPair{}, nil, nil, fmt.Errorf("identity: hash password: %w", err)
	}

	now := s.clock().UTC()
	user := &models.User{
		Email:        &email,
		PasswordHash: &hash,
		Name:         strings.TrimSpace(input.Name),
		LastLoginAt:  &now,
	}
	if err := s.db.WithContext(ctx).Create(user).Error; err != nil {
		if database.IsUniqueViolation(err) {
			// A concurrent registration won the race for this email.
			return TokenPair{}, nil, nil, apperrors.NewConflict("An account with this email already exists")
		}
		return TokenPair{}, nil, nil, fmt.Errorf("identity: create user: %w", err)
	}

	metrics.AuthAttempts.WithLabelValues("local", "success").Inc()
	return s.establish(ctx, user, "local", "", meta)
}

// Authenticate resolves a credential to a user record and establishes a
// session. Each variant has its own reconciliation rules; they only share
// the final step.
func (s *IdentityService) Authenticate(ctx context.Context, cred Credential, meta SessionMetadata) (TokenPair, *models.User, *models.Session, error) {
	var (
		user     *models.User
		err      error
		external string
	)

	switch c := cred.(type) {
	case LocalCredentials:
		user, err = s.reconcileLocal(ctx, c)
	case GoogleProfile:
		user, err = s.reconcileGoogle(ctx, c)
		external = c.Subject
	case SteamProfile:
		user, err = s.reconcileSteam(ctx, c)
		external = c.SteamID64
	default:
		err = fmt.Errorf("identity: unsupported credential type %T", cred)
	}
	if err != nil {
		metrics.AuthAttempts.WithLabelValues(cred.Provider(), "failure").Inc()
		return TokenPair{}, nil, nil, err
	}

	metrics.AuthAttempts.WithLabelValues(cred.Provider(), "success").Inc()
	return s.establish(ctx, user, cred.Provider(), external, meta)
}

// reconcileLocal verifies an email/password pair. Missing users, accounts
// without a local password, and hash mismatches all surface the same
// generic error so responses never reveal whether an address is registered.
func (s *IdentityService) reconcileLocal(ctx context.Context, cred LocalCredentials) (*models.User, error) {
	email := normaliseEmail(cred.Email)
	if email == "" || cred.Password == "" {
		return nil, apperrors.ErrInvalidCredentials
	}

	var user models.User
	err := s.db.WithContext(ctx).Where("email = ?", email).Take(&user).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		return nil, apperrors.ErrInvalidCredentials
	case err != nil:
		return nil, fmt.Errorf("identity: find user by email: %w", err)
	}

	if !user.HasPassword() {
		return nil, apperrors.ErrInvalidCredentials
	}
	if !crypto.VerifyPassword(*user.PasswordHash, cred.Password) {
		return nil, apperrors.ErrInvalidCredentials
	}

	now := s.clock().UTC()
	if err := s.db.WithContext(ctx).Model(&user).Update("last_login_at", now).Error; err != nil {
		return nil, fmt.Errorf("identity: record login time: %w", err)
	}
	user.LastLoginAt = &now
	return &user, nil
}

// reconcileGoogle resolves a Google identity in priority order: googleId
// match first, then primary-email match (which links the account), then a
// fresh provisioning. Profile fields follow last-login-wins.
func (s *IdentityService) reconcileGoogle(ctx context.Context, profile GoogleProfile) (*models.User, error) {
	subject := strings.TrimSpace(profile.Subject)
	if subject == "" {
		return nil, apperrors.NewValidation("Google profile is missing a subject identifier")
	}

	var user models.User
	err := s.db.WithContext(ctx).Where("google_id = ?", subject).Take(&user).Error
	switch {
	case err == nil:
		return s.refreshGoogleUser(ctx, &user, profile)
	case !errors.Is(err, gorm.ErrRecordNotFound):
		return nil, fmt.Errorf("identity: find user by google id: %w", err)
	}

	email := profile.PrimaryEmail()
	if email == "" {
		return nil, apperrors.NewValidation("Email not provided by Google profile")
	}

	err = s.db.WithContext(ctx).Where("email = ?", email).Take(&user).Error
	switch {
	case err == nil:
		return s.linkGoogleUser(ctx, &user, subject, profile)
	case !errors.Is(err, gorm.ErrRecordNotFound):
		return nil, fmt.Errorf("identity: find user by email: %w", err)
	}

	return s.provisionGoogleUser(ctx, subject, email, profile)
}

// refreshGoogleUser overwrites the mutable profile fields of a user already
// keyed by this googleId. Empty incoming fields are skipped rather than
// clearing stored values.
func (s *IdentityService) refreshGoogleUser(ctx context.Context, user *models.User, profile GoogleProfile) (*models.User, error) {
	now := s.clock().UTC()
	updates := map[string]any{
		"last_login_at":     now,
		"provider_profiles": mergeProviderProfile(user, "google", profile.Raw),
	}
	if name := strings.TrimSpace(profile.DisplayName); name != "" {
		updates["name"] = name
		user.Name = name
	}
	if avatar := strings.TrimSpace(profile.AvatarURL); avatar != "" {
		updates["avatar"] = avatar
		user.Avatar = avatar
	}
	if email := profile.PrimaryEmail(); email != "" && (user.Email == nil || *user.Email != email) {
		updates["email"] = email
		user.Email = &email
	}

	if err := s.db.WithContext(ctx).Model(user).Updates(updates).Error; err != nil {
		if database.IsUniqueViolation(err) {
			// The refreshed primary email already belongs to another account.
			return nil, apperrors.NewConflict("This email is already attached to another account")
		}
		return nil, fmt.Errorf("identity: refresh google profile: %w", err)
	}
	user.LastLoginAt = &now
	return user, nil
}

// linkGoogleUser attaches a googleId to an existing account matched by
// primary email. The stored password hash is left untouched, so a local
// password set before the link keeps working after it.
func (s *IdentityService) linkGoogleUser(ctx context.Context, user *models.User, subject string, profile GoogleProfile) (*models.User, error) {
	now := s.clock().UTC()
	updates := map[string]any{
		"google_id":         subject,
		"last_login_at":     now,
		"provider_profiles": mergeProviderProfile(user, "google", profile.Raw),
	}
	if name := strings.TrimSpace(profile.DisplayName); name != "" {
		updates["name"] = name
		user.Name = name
	}
	if avatar := strings.TrimSpace(profile.AvatarURL); avatar != "" {
		updates["avatar"] = avatar
		user.Avatar = avatar
	}

	if err := s.db.WithContext(ctx).Model(user).Updates(updates).Error; err != nil {
		if database.IsUniqueViolation(err) {
			// Another account claimed this googleId between lookup and update.
			return nil, apperrors.NewConflict("This Google account is already linked to another user")
		}
		return nil, fmt.Errorf("identity: link google account: %w", err)
	}
	user.GoogleID = &subject
	user.LastLoginAt = &now
	return user, nil
}

func (s *IdentityService) provisionGoogleUser(ctx context.Context, subject, email string, profile GoogleProfile) (*models.User, error) {
	now := s.clock().UTC()
	user := &models.User{
		Email:            &email,
		Name:             strings.TrimSpace(profile.DisplayName),
		GoogleID:         &subject,
		Avatar:           strings.TrimSpace(profile.AvatarURL),
		ProviderProfiles: mergeProviderProfile(nil, "google", profile.Raw),
		LastLoginAt:      &now,
	}
	if err := s.db.WithContext(ctx).Create(user).Error; err != nil {
		if database.IsUniqueViolation(err) {
			return nil, apperrors.NewConflict("An account for this Google identity already exists")
		}
		return nil, fmt.Errorf("identity: provision google user: %w", err)
	}
	return user, nil
}

// reconcileSteam resolves a Steam identity by steamId64 alone. Steam never
// supplies an email, so email-based matching or linking does not apply; a
// persona name colliding with an existing user's name is irrelevant.
func (s *IdentityService) reconcileSteam(ctx context.Context, profile SteamProfile) (*models.User, error) {
	steamID := strings.TrimSpace(profile.SteamID64)
	if steamID == "" {
		return nil, apperrors.NewValidation("Steam profile is missing a steamId64")
	}

	var user models.User
	err := s.db.WithContext(ctx).Where("steam_id = ?", steamID).Take(&user).Error
	switch {
	case err == nil:
		return s.refreshSteamUser(ctx, &user, profile)
	case !errors.Is(err, gorm.ErrRecordNotFound):
		return nil, fmt.Errorf("identity: find user by steam id: %w", err)
	}

	now := s.clock().UTC()
	user = models.User{
		SteamID:          &steamID,
		PersonaName:      strings.TrimSpace(profile.PersonaName),
		Avatar:           strings.TrimSpace(profile.AvatarURL),
		ProfileURL:       strings.TrimSpace(profile.ProfileURL),
		ProviderProfiles: mergeProviderProfile(nil, "steam", profile.Raw),
		LastLoginAt:      &now,
	}
	if err := s.db.WithContext(ctx).Create(&user).Error; err != nil {
		if database.IsUniqueViolation(err) {
			return nil, apperrors.NewConflict("An account for this Steam identity already exists")
		}
		return nil, fmt.Errorf("identity: provision steam user: %w", err)
	}
	return &user, nil
}

func (s *IdentityService) refreshSteamUser(ctx context.Context, user *models.User, profile SteamProfile) (*models.User, error) {
	now := s.clock().UTC()
	updates := map[string]any{
		"last_login_at":     now,
		"provider_profiles": mergeProviderProfile(user, "steam", profile.Raw),
	}
	if persona := strings.TrimSpace(profile.PersonaName); persona != "" {
		updates["persona_name"] = persona
		user.PersonaName = persona
	}
	if avatar := strings.TrimSpace(profile.AvatarURL); avatar != "" {
		updates["avatar"] = avatar
		user.Avatar = avatar
	}
	if profileURL := strings.TrimSpace(profile.ProfileURL); profileURL != "" {
		updates["profile_url"] = profileURL
		user.ProfileURL = profileURL
	}

	if err := s.db.WithContext(ctx).Model(user).Updates(updates).Error; err != nil {
		return nil, fmt.Errorf("identity: refresh steam profile: %w", err)
	}
	user.LastLoginAt = &now
	return user, nil
}

// LinkProvider attaches a provider identity to an already signed-in user.
// It is the explicit counterpart to the email-based auto-link: the account
// is chosen by the active session, not by profile matching.
func (s *IdentityService) LinkProvider(ctx context.Context, userID string, cred Credential) (*models.User, error) {
	var user models.User
	err := s.db.WithContext(ctx).Where("id = ?", userID).Take(&user).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		return nil, apperrors.ErrNotFound
	case err != nil:
		return nil, fmt.Errorf("identity: load user: %w", err)
	}

	switch c := cred.(type) {
	case GoogleProfile:
		subject := strings.TrimSpace(c.Subject)
		if subject == "" {
			return nil, apperrors.NewValidation("Google profile is missing a subject identifier")
		}
		if user.GoogleID != nil && *user.GoogleID != subject {
			return nil, apperrors.NewConflict("A different Google account is already linked")
		}
		return s.linkGoogleUser(ctx, &user, subject, c)
	case SteamProfile:
		steamID := strings.TrimSpace(c.SteamID64)
		if steamID == "" {
			return nil, apperrors.NewValidation("Steam profile is missing a steamId64")
		}
		if user.SteamID != nil && *user.SteamID != steamID {
			return nil, apperrors.NewConflict("A different Steam account is already linked")
		}
		now := s.clock().UTC()
		updates := map[string]any{
			"steam_id":          steamID,
			"persona_name":      strings.TrimSpace(c.PersonaName),
			"avatar":            strings.TrimSpace(c.AvatarURL),
			"profile_url":       strings.TrimSpace(c.ProfileURL),
			"provider_profiles": mergeProviderProfile(&user, "steam", c.Raw),
			"last_login_at":     now,
		}
		if err := s.db.WithContext(ctx).Model(&user).Updates(updates).Error; err != nil {
			if database.IsUniqueViolation(err) {
				return nil, apperrors.NewConflict("This Steam account is already linked to another user")
			}
			return nil, fmt.Errorf("identity: link steam account: %w", err)
		}
		user.SteamID = &steamID
		user.LastLoginAt = &now
		return &user, nil
	default:
		return nil, apperrors.NewValidation("This provider cannot be linked")
	}
}

// ChangePasswordInput carries a password change request. CurrentPassword is
// ignored when the account has no local password yet; in that case the call
// sets the initial password for a provider-provisioned account.
type ChangePasswordInput struct {
	CurrentPassword string
	NewPassword     string
}

// ChangePassword rotates or initialises the local password for a user.
func (s *IdentityService) ChangePassword(ctx context.Context, userID string, input ChangePasswordInput) error {
	if len(input.NewPassword) < MinPasswordLength {
		return apperrors.NewValidation(fmt.Sprintf("Password must be at least %d characters", MinPasswordLength))
	}

	var user models.User
	err := s.db.WithContext(ctx).Where("id = ?", userID).Take(&user).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		return apperrors.ErrNotFound
	case err != nil:
		return fmt.Errorf("identity: load user: %w", err)
	}

	if user.HasPassword() {
		// Wrong or missing current password is a credential failure, not a
		// malformed request; it surfaces as 401.
		if input.CurrentPassword == "" {
			return apperrors.NewAuthentication("Current password is required")
		}
		if !crypto.VerifyPassword(*user.PasswordHash, input.CurrentPassword) {
			return apperrors.NewAuthentication("Incorrect current password")
		}
	}

	hash, err := crypto.HashPasswordWithCost(input.NewPassword, s.bcryptCost)
	if err != nil {
		return fmt.Errorf("identity: hash password: %w", err)
	}
	if err := s.db.WithContext(ctx).Model(&user).Update("password_hash", hash).Error; err != nil {
		return fmt.Errorf("identity: store password: %w", err)
	}
	return nil
}

// UpdateProfileInput carries a partial profile edit; nil fields are left
// untouched.
type UpdateProfileInput struct {
	Name   *string
	Avatar *string
}

// UpdateProfile edits the mutable display fields of an account.
func (s *IdentityService) UpdateProfile(ctx context.Context, userID string, input UpdateProfileInput) (*models.User, error) {
	var user models.User
	err := s.db.WithContext(ctx).Where("id = ?", userID).Take(&user).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		return nil, apperrors.ErrNotFound
	case err != nil:
		return nil, fmt.Errorf("identity: load user: %w", err)
	}

	updates := map[string]any{}
	if input.Name != nil {
		name := strings.TrimSpace(*input.Name)
		if name == "" {
			return nil, apperrors.NewValidation("Name cannot be empty")
		}
		updates["name"] = name
		user.Name = name
	}
	if input.Avatar != nil {
		avatar := strings.TrimSpace(*input.Avatar)
		updates["avatar"] = avatar
		user.Avatar = avatar
	}
	if len(updates) == 0 {
		return &user, nil
	}

	if err := s.db.WithContext(ctx).Model(&user).Updates(updates).Error; err != nil {
		return nil, fmt.Errorf("identity: update profile: %w", err)
	}
	return &user, nil
}

// Logout revokes the session and stamps lastLogoutAt. A session that was
// already revoked or expired still counts as a successful logout, and the
// stamp is best-effort: a failed write is logged, never returned.
func (s *IdentityService) Logout(ctx context.Context, userID, sessionID string) error {
	if err := s.sessions.RevokeSession(sessionID); err != nil && !errors.Is(err, ErrSessionNotFound) {
		return fmt.Errorf("identity: revoke session: %w", err)
	}
	now := s.clock().UTC()
	if err := s.db.WithContext(ctx).Model(&models.User{}).Where("id = ?", userID).
		Update("last_logout_at", now).Error; err != nil {
		s.logger.Warn("recording logout time failed",
			zap.String("user_id", userID), zap.Error(err))
	}
	return nil
}

// CurrentUser loads the account behind an authenticated request.
func (s *IdentityService) CurrentUser(ctx context.Context, userID string) (*models.User, error) {
	var user models.User
	err := s.db.WithContext(ctx).Where("id = ?", userID).Take(&user).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		return nil, apperrors.ErrNotFound
	case err != nil:
		return nil, fmt.Errorf("identity: load user: %w", err)
	}
	return &user, nil
}

func (s *IdentityService) establish(ctx context.Context, user *models.User, provider, externalID string, meta SessionMetadata) (TokenPair, *models.User, *models.Session, error) {
	subject := AuthSubject{
		UserID:     user.ID,
		Provider:   provider,
		ExternalID: externalID,
	}
	if user.Email != nil {
		subject.Email = *user.Email
	}

	tokens, session, err := s.sessions.CreateForSubject(subject, meta)
	if err != nil {
		return TokenPair{}, nil, nil, fmt.Errorf("identity: establish session: %w", err)
	}
	return tokens, user, session, nil
}

func normaliseEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// mergeProviderProfile folds a raw provider payload into the stored
// per-provider profile map without dropping entries from other providers.
func mergeProviderProfile(user *models.User, provider string, raw map[string]any) datatypes.JSONMap {
	merged := datatypes.JSONMap{}
	if user != nil {
		for key, value := range user.ProviderProfiles {
			merged[key] = value
		}
	}
	if len(raw) > 0 {
		merged[provider] = raw
	}
	if user != nil {
		user.ProviderProfiles = merged
	}
	return merged
}
