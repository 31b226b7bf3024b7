package webrtc

import (
	"fmt"

	"peercall/internal/core/ports"

	"github.com/pion/interceptor"
	"github.com/pion/rtcp"
	"github.com/pion/webrtc/v3"
	"go.uber.org/zap"
)

type EngineConfig struct {
	ICEServers []webrtc.ICEServer
	PortRange  struct {
		Min uint16
		Max uint16
	}
}

// EngineFactory builds pion-backed engines sharing one API instance.
type EngineFactory struct {
	config  EngineConfig
	api     *webrtc.API
	metrics ports.SignalingMetrics
	logger  *zap.SugaredLogger
}

// NewEngineFactory builds the shared pion API. metrics may be nil.
func NewEngineFactory(config EngineConfig, metrics ports.SignalingMetrics, logger *zap.SugaredLogger) (*EngineFactory, error) {
	mediaEngine := &webrtc.MediaEngine{}
	if err := mediaEngine.RegisterDefaultCodecs(); err != nil {
		return nil, fmt.Errorf("failed to register codecs: %w", err)
	}

	registry := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(mediaEngine, registry); err != nil {
		return nil, fmt.Errorf("failed to register interceptors: %w", err)
	}

	settingEngine := webrtc.SettingEngine{}
	if config.PortRange.Min > 0 && config.PortRange.Max > 0 {
		if err := settingEngine.SetEphemeralUDPPortRange(config.PortRange.Min, config.PortRange.Max); err != nil {
			return nil, fmt.Errorf("invalid port range: %w", err)
		}
	}

	api := webrtc.NewAPI(
		webrtc.WithMediaEngine(mediaEngine),
		webrtc.WithInterceptorRegistry(registry),
		webrtc.WithSettingEngine(settingEngine),
	)
	return &EngineFactory{config: config, api: api, metrics: metrics, logger: logger}, nil
}

func (f *EngineFactory) NewEngine(handlers ports.EngineHandlers) (ports.Engine, error) {
	pc, err := f.api.NewPeerConnection(webrtc.Configuration{
		ICEServers:   f.config.ICEServers,
		SDPSemantics: webrtc.SDPSemanticsUnifiedPlan,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create peer connection: %w", err)
	}

	e := &PionEngine{pc: pc, metrics: f.metrics, logger: f.logger}
	e.bind(handlers)
	return e, nil
}

// PionEngine adapts a PeerConnection to ports.Engine.
type PionEngine struct {
	pc      *webrtc.PeerConnection
	metrics ports.SignalingMetrics
	logger  *zap.SugaredLogger
}

func (e *PionEngine) bind(h ports.EngineHandlers) {
	e.pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		// nil marks the end of gathering
		if c == nil || h.OnICECandidate == nil {
			return
		}
		h.OnICECandidate(c.ToJSON())
	})
	e.pc.OnTrack(func(track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver) {
		e.logger.Infow("remote track started",
			"track_id", track.ID(),
			"kind", track.Kind().String(),
			"codec", track.Codec().MimeType,
		)
		if h.OnTrack != nil {
			h.OnTrack(track, receiver)
		}
	})
	e.pc.OnICEConnectionStateChange(func(state webrtc.ICEConnectionState) {
		e.logger.Debugw("ICE connection state changed", "state", state.String())
	})
	e.pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		e.logger.Infow("peer connection state changed", "state", state.String())
		if h.OnConnectionStateChange != nil {
			h.OnConnectionStateChange(state)
		}
	})
}

func (e *PionEngine) AddTrack(track webrtc.TrackLocal) error {
	sender, err := e.pc.AddTrack(track)
	if err != nil {
		return err
	}
	go e.readSenderRTCP(sender)
	return nil
}

// CreateOffer adds a receive-only transceiver for every media kind that has
// no local track, so the offer always asks for audio and video.
func (e *PionEngine) CreateOffer() (webrtc.SessionDescription, error) {
	if err := e.ensureReceive(); err != nil {
		return webrtc.SessionDescription{}, err
	}
	return e.pc.CreateOffer(nil)
}

func (e *PionEngine) CreateAnswer() (webrtc.SessionDescription, error) {
	return e.pc.CreateAnswer(nil)
}

func (e *PionEngine) SetLocalDescription(desc webrtc.SessionDescription) error {
	return e.pc.SetLocalDescription(desc)
}

func (e *PionEngine) SetRemoteDescription(desc webrtc.SessionDescription) error {
	return e.pc.SetRemoteDescription(desc)
}

func (e *PionEngine) HasRemoteDescription() bool {
	return e.pc.RemoteDescription() != nil
}

func (e *PionEngine) AddICECandidate(candidate webrtc.ICECandidateInit) error {
	return e.pc.AddICECandidate(candidate)
}

func (e *PionEngine) ConnectionState() webrtc.PeerConnectionState {
	return e.pc.ConnectionState()
}

func (e *PionEngine) Close() error {
	return e.pc.Close()
}

func (e *PionEngine) ensureReceive() error {
	have := map[webrtc.RTPCodecType]bool{}
	for _, t := range e.pc.GetTransceivers() {
		have[t.Kind()] = true
	}
	for _, kind := range []webrtc.RTPCodecType{webrtc.RTPCodecTypeAudio, webrtc.RTPCodecTypeVideo} {
		if have[kind] {
			continue
		}
		if _, err := e.pc.AddTransceiverFromKind(kind, webrtc.RTPTransceiverInit{
			Direction: webrtc.RTPTransceiverDirectionRecvonly,
		}); err != nil {
			return fmt.Errorf("failed to add %s transceiver: %w", kind, err)
		}
	}
	return nil
}

// readSenderRTCP drains RTCP for one sender until the engine closes. The
// interceptors only run while packets are read.
func (e *PionEngine) readSenderRTCP(sender *webrtc.RTPSender) {
	for {
		packets, _, err := sender.ReadRTCP()
		if err != nil {
			return
		}
		e.handleRTCP(packets)
	}
}

func (e *PionEngine) handleRTCP(packets []rtcp.Packet) {
	for _, packet := range packets {
		switch p := packet.(type) {
		case *rtcp.PictureLossIndication:
			e.keyframeRequested("pli", p.MediaSSRC)
		case *rtcp.FullIntraRequest:
			e.keyframeRequested("fir", p.MediaSSRC)
		case *rtcp.ReceiverReport:
			for _, report := range p.Reports {
				e.logger.Debugw("receiver report",
					"ssrc", report.SSRC,
					"fraction_lost", report.FractionLost,
					"jitter", report.Jitter,
				)
			}
		}
	}
}

func (e *PionEngine) keyframeRequested(kind string, ssrc uint32) {
	if e.metrics != nil {
		e.metrics.KeyframeRequested(kind)
	}
	e.logger.Debugw("keyframe requested", "kind", kind, "ssrc", ssrc)
}
