package auth

// Credential is the tagged union of payloads accepted by
// IdentityService.Authenticate. The set is closed: every variant is
// produced either by request binding (local) or by a provider callback
// (google, steam), never by callers outside this package's flows.
type Credential interface {
	// Provider returns the stable tag used in metrics, logs, and session claims.
	Provider() string

	credential()
}

// LocalCredentials carries an email/password login attempt.
type LocalCredentials struct {
	Email    string
	Password string
}

func (LocalCredentials) Provider() string { return "local" }
func (LocalCredentials) credential()      {}

// GoogleProfile carries the verified identity extracted from a Google OIDC
// callback. Emails preserves provider order; the first entry is the primary
// address.
type GoogleProfile struct {
	Subject     string
	DisplayName string
	Emails      []string
	AvatarURL   string
	Raw         map[string]any
}

func (GoogleProfile) Provider() string { return "google" }
func (GoogleProfile) credential()      {}

// PrimaryEmail returns the first usable address, already lowercased, or "".
func (p GoogleProfile) PrimaryEmail() string {
	for _, email := range p.Emails {
		if normalised := normaliseEmail(email); normalised != "" {
			return normalised
		}
	}
	return ""
}

// SteamProfile carries the verified identity extracted from a Steam OpenID
// callback. Steam never discloses an email address; SteamID64 is the only
// stable key.
type SteamProfile struct {
	SteamID64   string
	PersonaName string
	AvatarURL   string
	ProfileURL  string
	Raw         map[string]any
}

func (SteamProfile) Provider() string { return "steam" }
func (SteamProfile) credential()      {}
