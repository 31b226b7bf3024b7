package domain

import (
	"strings"

	"github.com/google/uuid"
)

// Identity names one signaling endpoint. It is the relay routing key and the
// value of the target/sender fields of every signaling message.
type Identity string

const identityLength = 12

// NewIdentity generates a fresh identity for this process.
func NewIdentity() Identity {
	raw := strings.ReplaceAll(uuid.NewString(), "-", "")
	return Identity(raw[:identityLength])
}

func (id Identity) String() string {
	return string(id)
}

func (id Identity) IsZero() bool {
	return id == ""
}
