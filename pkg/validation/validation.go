package validation

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
)

// IdentityRegex validates peer identities as they appear in relay paths.
var IdentityRegex = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

const maxIdentityLength = 64

// ValidateIdentity validates a local or remote peer identity.
func ValidateIdentity(identity string) error {
	if identity == "" {
		return fmt.Errorf("identity is required")
	}
	if len(identity) > maxIdentityLength {
		return fmt.Errorf("identity is too long (max %d characters)", maxIdentityLength)
	}
	if !IdentityRegex.MatchString(identity) {
		return fmt.Errorf("invalid identity format (only letters, numbers, _, - allowed)")
	}
	return nil
}

// ValidateRelayHost accepts "host[:port]" optionally prefixed with an
// http, https, ws or wss scheme.
func ValidateRelayHost(host string) error {
	host = strings.TrimSpace(host)
	if host == "" {
		return fmt.Errorf("relay host is required")
	}
	if !strings.Contains(host, "://") {
		host = "ws://" + host
	}
	u, err := url.Parse(host)
	if err != nil {
		return fmt.Errorf("invalid relay host: %w", err)
	}
	switch u.Scheme {
	case "http", "https", "ws", "wss":
	default:
		return fmt.Errorf("invalid relay scheme %q (must be http, https, ws, or wss)", u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("relay host must have a host")
	}
	if u.Path != "" && u.Path != "/" {
		return fmt.Errorf("relay host must not contain a path")
	}
	return nil
}
