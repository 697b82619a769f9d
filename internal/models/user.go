package models

import (
	"strings"
	"time"

	"gorm.io/datatypes"
)

// User is the single account record that every sign-in path reconciles into.
// Provider linkage columns are nullable so one row can start from an email
// registration, a Google profile, or a bare SteamID and accumulate links over
// time. Each linkage column carries a sparse unique index: NULLs repeat
// freely, values never do.
type User struct {
	BaseModel

	Email        *string `gorm:"uniqueIndex" json:"email,omitempty"`
	PasswordHash *string `gorm:"column:password_hash" json:"-"`
	Name         string  `json:"name"`

	GoogleID *string `gorm:"column:google_id;uniqueIndex" json:"google_id,omitempty"`

	SteamID     *string `gorm:"column:steam_id;uniqueIndex" json:"steam_id,omitempty"`
	PersonaName string  `json:"persona_name,omitempty"`
	Avatar      string  `json:"avatar,omitempty"`
	ProfileURL  string  `json:"profile_url,omitempty"`

	XUID           *string `gorm:"column:xuid;uniqueIndex" json:"xuid,omitempty"`
	XboxGamertag   string  `gorm:"column:xbox_gamertag" json:"xbox_gamertag,omitempty"`
	PSNAccountID   *string `gorm:"column:psn_account_id;uniqueIndex" json:"psn_account_id,omitempty"`
	PSNOnlineID    *string `gorm:"column:psn_online_id" json:"psn_online_id,omitempty"`
	EncryptedNPSSO string  `gorm:"column:encrypted_npsso" json:"-"`
	GOGUsername    *string `gorm:"column:gog_username" json:"gog_username,omitempty"`

	// ProviderProfiles keeps the most recent raw payload per provider for
	// support and debugging. Never exposed through the API.
	ProviderProfiles datatypes.JSONMap `json:"-"`

	LastLoginAt  *time.Time `json:"last_login_at,omitempty"`
	LastLogoutAt *time.Time `json:"last_logout_at,omitempty"`

	Sessions []Session `gorm:"foreignKey:UserID" json:"-"`
}

// HasPassword reports whether the account can be used with local login.
func (u *User) HasPassword() bool {
	return u != nil && u.PasswordHash != nil && *u.PasswordHash != ""
}

// DisplayName picks the best human-readable name available.
func (u *User) DisplayName() string {
	if u == nil {
		return ""
	}
	if name := strings.TrimSpace(u.Name); name != "" {
		return name
	}
	if persona := strings.TrimSpace(u.PersonaName); persona != "" {
		return persona
	}
	if u.Email != nil {
		return *u.Email
	}
	return u.ID
}
