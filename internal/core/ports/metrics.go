package ports

import (
	"time"

	"peercall/internal/core/domain"

	"github.com/pion/webrtc/v3"
)

type SignalingMetrics interface {
	MessageSent(t domain.MessageType)
	MessageReceived(t domain.MessageType)
	MessageDropped(reason string)
	MessageLost(t domain.MessageType)

	ChannelOpened()
	ChannelClosed(code int)
	ReconnectScheduled(attempt int, delay time.Duration)
	ReconnectExhausted()

	CandidateBuffered()
	CandidatesDrained(attempted, failed int)

	CallStarted(outgoing bool)
	CallEnded(duration time.Duration)
	CaptureFallback()
	ConnectivityChanged(state webrtc.PeerConnectionState)

	// KeyframeRequested counts a PLI or FIR from the remote peer.
	KeyframeRequested(kind string)
}

// RelayMetrics is reported by the relay server.
type RelayMetrics interface {
	RelayConnected(total int)
	RelayDisconnected(total int)
	RelayForwarded(t domain.MessageType, delivered bool)
	RelayRateLimited()
}
