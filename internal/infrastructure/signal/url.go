package signal

import (
	"fmt"
	"net/url"
	"strings"

	"peercall/internal/core/domain"
	"peercall/pkg/validation"
)

// RelayURL builds the channel address for id. A scheme on host decides
// between ws and wss; a bare host uses secure.
func RelayURL(host string, secure bool, id domain.Identity) (string, error) {
	if err := validation.ValidateRelayHost(host); err != nil {
		return "", err
	}
	if id.IsZero() {
		return "", fmt.Errorf("identity is required")
	}

	if scheme, rest, ok := strings.Cut(host, "://"); ok {
		switch strings.ToLower(scheme) {
		case "https", "wss":
			secure = true
		case "http", "ws":
			secure = false
		}
		host = rest
	}
	host = strings.TrimSuffix(host, "/")

	u := url.URL{Scheme: "ws", Host: host, Path: "/ws/" + id.String()}
	if secure {
		u.Scheme = "wss"
	}
	return u.String(), nil
}
