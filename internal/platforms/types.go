package platforms

import "time"

// Platform identifies a storefront the dashboard can aggregate.
type Platform string

const (
	Steam Platform = "steam"
	GOG   Platform = "gog"
	Xbox  Platform = "xbox"
	PSN   Platform = "psn"
)

// All returns every supported platform in display order.
func All() []Platform {
	return []Platform{Steam, GOG, Xbox, PSN}
}

// Valid reports whether p names a supported platform.
func (p Platform) Valid() bool {
	switch p {
	case Steam, GOG, Xbox, PSN:
		return true
	}
	return false
}

// DisplayName returns the human-facing storefront name.
func (p Platform) DisplayName() string {
	switch p {
	case Steam:
		return "Steam"
	case GOG:
		return "GOG"
	case Xbox:
		return "Xbox"
	case PSN:
		return "PlayStation Network"
	}
	return string(p)
}

// Game is the normalized owned-game record every client maps its payload
// into. ID is the platform-native title identifier (Steam appid, Xbox title
// id, PSN npCommunicationId, GOG game id) and is only unique per platform.
type Game struct {
	Platform           Platform   `json:"platform"`
	ID                 string     `json:"id"`
	Name               string     `json:"name"`
	PlaytimeMinutes    int        `json:"playtimeMinutes"`
	IconURL            string     `json:"iconUrl,omitempty"`
	ArtworkURL         string     `json:"artworkUrl,omitempty"`
	LastPlayed         *time.Time `json:"lastPlayed,omitempty"`
	AchievementsEarned int        `json:"achievementsEarned"`
	AchievementsTotal  int        `json:"achievementsTotal"`
}

// Achievement is one unlockable (achievement or trophy) with earned state.
type Achievement struct {
	ID          string     `json:"id"`
	Name        string     `json:"name"`
	Description string     `json:"description,omitempty"`
	IconURL     string     `json:"iconUrl,omitempty"`
	Earned      bool       `json:"earned"`
	EarnedAt    *time.Time `json:"earnedAt,omitempty"`
}
