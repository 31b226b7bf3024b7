package ports

import "github.com/pion/webrtc/v3"

// EngineHandlers are the engine events the client subscribes to. Engines may
// invoke them from any goroutine.
type EngineHandlers struct {
	OnICECandidate          func(webrtc.ICECandidateInit)
	OnTrack                 func(*webrtc.TrackRemote, *webrtc.RTPReceiver)
	OnConnectionStateChange func(webrtc.PeerConnectionState)
}

// Engine is the media/negotiation engine for one call: it produces and
// consumes session descriptions, ingests remote candidates and reports
// aggregate connectivity.
type Engine interface {
	AddTrack(track webrtc.TrackLocal) error
	// CreateOffer requests an offer able to receive both audio and video.
	CreateOffer() (webrtc.SessionDescription, error)
	CreateAnswer() (webrtc.SessionDescription, error)
	SetLocalDescription(desc webrtc.SessionDescription) error
	SetRemoteDescription(desc webrtc.SessionDescription) error
	HasRemoteDescription() bool
	AddICECandidate(candidate webrtc.ICECandidateInit) error
	ConnectionState() webrtc.PeerConnectionState
	Close() error
}

type EngineFactory interface {
	NewEngine(handlers EngineHandlers) (Engine, error)
}
