package ports

import (
	"context"
	"fmt"
)

// Conn is one open signaling channel instance: an ordered, bidirectional,
// message-based text pipe.
type Conn interface {
	// ReadMessage blocks for the next frame. When the remote side closes the
	// channel the error is a *CloseError.
	ReadMessage() ([]byte, error)
	WriteMessage(data []byte) error
	Close() error
}

// Dialer opens signaling channels to a relay address.
type Dialer interface {
	Dial(ctx context.Context, url string) (Conn, error)
}

// CloseError carries the close code and reason of a closed channel.
type CloseError struct {
	Code   int
	Reason string
}

func (e *CloseError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("channel closed (%d)", e.Code)
	}
	return fmt.Sprintf("channel closed (%d): %s", e.Code, e.Reason)
}

// CloseAbnormal is reported when a channel goes away without a close frame.
const CloseAbnormal = 1006
