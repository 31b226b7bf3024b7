package domain

import (
	"fmt"
	"time"

	"github.com/pion/webrtc/v3"
)

// StatusKind classifies a status notification. Observers must rely on the
// kind, never on the human-readable text.
type StatusKind int

const (
	StatusConnecting StatusKind = iota + 1
	StatusConnected
	StatusDisconnected
	StatusError
	StatusCallEnded
)

func (k StatusKind) String() string {
	switch k {
	case StatusConnecting:
		return "connecting"
	case StatusConnected:
		return "connected"
	case StatusDisconnected:
		return "disconnected"
	case StatusError:
		return "error"
	case StatusCallEnded:
		return "call-ended"
	default:
		return "unknown"
	}
}

// StatusSource tells which part of the client produced a notification.
type StatusSource string

const (
	SourceChannel StatusSource = "channel"
	SourceCall    StatusSource = "call"
	SourceMedia   StatusSource = "media"
)

type StatusEvent struct {
	Kind     StatusKind
	Source   StatusSource
	Text     string
	Code     int  // channel close code, when Source is SourceChannel
	Terminal bool // no automatic recovery will follow
	Err      error
	At       time.Time
}

func NewStatusEvent(kind StatusKind, source StatusSource, text string) StatusEvent {
	return StatusEvent{Kind: kind, Source: source, Text: text, At: time.Now()}
}

func (e StatusEvent) String() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s/%s] %s: %v", e.Source, e.Kind, e.Text, e.Err)
	}
	return fmt.Sprintf("[%s/%s] %s", e.Source, e.Kind, e.Text)
}

// ConnectivityStatus maps the engine's aggregate connection state onto the
// status enumeration.
func ConnectivityStatus(state webrtc.PeerConnectionState) StatusKind {
	switch state {
	case webrtc.PeerConnectionStateConnected:
		return StatusConnected
	case webrtc.PeerConnectionStateDisconnected, webrtc.PeerConnectionStateClosed:
		return StatusDisconnected
	case webrtc.PeerConnectionStateFailed:
		return StatusError
	default:
		return StatusConnecting
	}
}
