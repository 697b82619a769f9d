package platforms

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrUnauthorized marks a rejected platform credential (stale NPSSO,
	// revoked API key, private profile).
	ErrUnauthorized = errors.New("platforms: unauthorized")
	// ErrNotFound marks an unknown profile or title.
	ErrNotFound = errors.New("platforms: not found")
)

// statusError maps an unexpected upstream HTTP status onto the package
// sentinels so callers can distinguish bad credentials from outages.
func statusError(platform Platform, status int) error {
	switch status {
	case http.StatusUnauthorized, http.StatusForbidden:
		return fmt.Errorf("%w: %s returned status %d", ErrUnauthorized, platform, status)
	case http.StatusNotFound:
		return fmt.Errorf("%w: %s returned status %d", ErrNotFound, platform, status)
	default:
		return fmt.Errorf("%s returned status %d", platform, status)
	}
}
