package domain

// NegotiationState tracks one call attempt through the offer/answer exchange.
type NegotiationState int

const (
	NegotiationIdle NegotiationState = iota
	NegotiationLocalOfferSent
	NegotiationRemoteAnswerPending
	NegotiationRemoteOfferReceived
	NegotiationLocalAnswerSent
	NegotiationEstablished
	NegotiationClosed
)

func (s NegotiationState) String() string {
	switch s {
	case NegotiationIdle:
		return "idle"
	case NegotiationLocalOfferSent:
		return "local-offer-sent"
	case NegotiationRemoteAnswerPending:
		return "remote-answer-pending"
	case NegotiationRemoteOfferReceived:
		return "remote-offer-received"
	case NegotiationLocalAnswerSent:
		return "local-answer-sent"
	case NegotiationEstablished:
		return "established"
	case NegotiationClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// ChannelState is the signaling channel lifecycle as seen by its supervisor.
type ChannelState int

const (
	ChannelIdle ChannelState = iota
	ChannelConnecting
	ChannelOpen
	ChannelClosed
	ChannelReconnectScheduled
	ChannelExhausted
	ChannelShutdown
)

func (s ChannelState) String() string {
	switch s {
	case ChannelIdle:
		return "idle"
	case ChannelConnecting:
		return "connecting"
	case ChannelOpen:
		return "open"
	case ChannelClosed:
		return "closed"
	case ChannelReconnectScheduled:
		return "reconnect-scheduled"
	case ChannelExhausted:
		return "exhausted"
	case ChannelShutdown:
		return "shutdown"
	default:
		return "unknown"
	}
}

func (s NegotiationState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s ChannelState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

type ChannelSnapshot struct {
	State    ChannelState `json:"state"`
	Attempts int          `json:"attempts"`
	URL      string       `json:"url"`
}

// SessionSnapshot is a read-only view of the client used by status endpoints.
type SessionSnapshot struct {
	Identity           Identity         `json:"identity"`
	Peer               Identity         `json:"peer,omitempty"`
	Negotiation        NegotiationState `json:"negotiation"`
	Connectivity       string           `json:"connectivity"`
	Generation         uint64           `json:"generation"`
	BufferedCandidates int              `json:"buffered_candidates"`
	CaptureActive      bool             `json:"capture_active"`
	Channel            ChannelSnapshot  `json:"channel"`
}
