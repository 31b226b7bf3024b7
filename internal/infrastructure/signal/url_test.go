package signal

import (
	"testing"

	"peercall/internal/core/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRelayURL(t *testing.T) {
	tests := []struct {
		name   string
		host   string
		secure bool
		want   string
	}{
		{"plain host", "localhost:8081", false, "ws://localhost:8081/ws/alice"},
		{"plain host secure page", "relay.example.com", true, "wss://relay.example.com/ws/alice"},
		{"http scheme", "http://relay.example.com:8081", true, "ws://relay.example.com:8081/ws/alice"},
		{"https scheme", "https://relay.example.com", false, "wss://relay.example.com/ws/alice"},
		{"wss scheme with slash", "wss://relay.example.com/", false, "wss://relay.example.com/ws/alice"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := RelayURL(tt.host, tt.secure, "alice")
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestRelayURL_Errors(t *testing.T) {
	_, err := RelayURL("", false, "alice")
	assert.Error(t, err)

	_, err = RelayURL("ftp://relay", false, "alice")
	assert.Error(t, err)

	_, err = RelayURL("relay:8081/path", false, "alice")
	assert.Error(t, err)

	_, err = RelayURL("relay:8081", false, domain.Identity(""))
	assert.Error(t, err)
}
