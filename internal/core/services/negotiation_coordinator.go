package services

import (
	"context"
	"errors"

	"peercall/internal/core/domain"
	"peercall/internal/core/ports"
	apperrors "peercall/pkg/errors"
	"peercall/pkg/logger"
	"peercall/pkg/tracing"
	"peercall/pkg/validation"

	"github.com/pion/webrtc/v3"
	"go.uber.org/zap"
)

type messageSender interface {
	Send(msg domain.SignalMessage) error
}

// NegotiationCoordinator drives the offer/answer/candidate exchange of one
// call and routes inbound signaling messages. Remote candidates are held in
// the CandidateBuffer until the engine has a remote description, and the
// buffer is drained only right after a remote offer or answer is applied.
//
// All methods except the constructor must run on the client's event loop.
type NegotiationCoordinator struct {
	identity domain.Identity
	session  *SessionManager
	buffer   *CandidateBuffer
	sender   messageSender
	observer ports.StatusObserver
	metrics  ports.SignalingMetrics
	log      *logger.ContextLogger
	logger   *zap.SugaredLogger

	peer         domain.Identity
	state        domain.NegotiationState
	connectivity webrtc.PeerConnectionState
	acquiring    bool
}

func NewNegotiationCoordinator(
	identity domain.Identity,
	session *SessionManager,
	buffer *CandidateBuffer,
	sender messageSender,
	observer ports.StatusObserver,
	metrics ports.SignalingMetrics,
	base *zap.Logger,
) *NegotiationCoordinator {
	base = base.With(zap.String("component", "negotiation"))
	c := &NegotiationCoordinator{
		identity:     identity,
		session:      session,
		buffer:       buffer,
		sender:       sender,
		observer:     observer,
		metrics:      metrics,
		log:          logger.NewContextLogger(base),
		logger:       base.Sugar(),
		state:        domain.NegotiationIdle,
		connectivity: webrtc.PeerConnectionStateNew,
	}
	session.bind(c)
	return c
}

func (c *NegotiationCoordinator) State() domain.NegotiationState {
	return c.state
}

func (c *NegotiationCoordinator) Peer() domain.Identity {
	return c.peer
}

func (c *NegotiationCoordinator) Connectivity() webrtc.PeerConnectionState {
	return c.connectivity
}

func (c *NegotiationCoordinator) BufferedCandidates() int {
	return c.buffer.Len()
}

// StartCall begins an outgoing call to peer. The offer is sent once local
// capture is available; failures after this point are reported through the
// status observer and return the session to Idle.
func (c *NegotiationCoordinator) StartCall(peer domain.Identity) error {
	if err := validation.ValidateIdentity(peer.String()); err != nil {
		return apperrors.NewInvalidInputError(err.Error())
	}
	if peer == c.identity {
		return apperrors.NewInvalidInputError("cannot call own identity")
	}
	if c.state == domain.NegotiationClosed {
		return domain.ErrClientDisposed
	}
	if c.state != domain.NegotiationIdle || c.acquiring {
		return apperrors.NewInvalidInputError("call already in progress").
			WithContext("state", c.state.String()).
			WithContext("peer", c.peer.String())
	}

	c.peer = peer
	c.acquiring = true
	c.metrics.CallStarted(true)
	c.session.MarkCallStarted()

	ctx, span := tracing.TraceNegotiation(c.callContext(), "start-call", peer.String())
	tracing.AddSpanAttributes(ctx, tracing.GenerationKey.Int64(int64(c.session.Generation())))
	c.log.LogInfo(ctx, "Starting call")

	c.session.AcquireCapture(func(src ports.MediaSource, err error) {
		defer span.End()
		if errors.Is(err, domain.ErrStaleGeneration) {
			return
		}
		c.acquiring = false

		if err == nil {
			err = c.sendOffer(ctx, src)
		}
		if err != nil {
			c.state = domain.NegotiationIdle
			c.peer = ""
			c.session.abandonCapture()
			c.report(ctx, "start call", err)
		}
	})
	return nil
}

func (c *NegotiationCoordinator) sendOffer(ctx context.Context, src ports.MediaSource) error {
	engine, err := c.session.Engine()
	if err != nil {
		return err
	}
	if err := attachTracks(engine, src); err != nil {
		return err
	}

	offer, err := engine.CreateOffer()
	if err != nil {
		return apperrors.NewNegotiationError(err, "create offer")
	}
	if err := engine.SetLocalDescription(offer); err != nil {
		return apperrors.NewNegotiationError(err, "set local offer")
	}
	c.state = domain.NegotiationLocalOfferSent

	if err := c.sender.Send(domain.NewOfferMessage(c.peer, offer)); err != nil {
		return err
	}
	c.state = domain.NegotiationRemoteAnswerPending
	c.log.LogInfo(ctx, "Offer sent")
	return nil
}

// HandleInbound routes one decoded message. Failures are reported and never
// propagate, so the next message is always handled.
func (c *NegotiationCoordinator) HandleInbound(msg domain.SignalMessage) {
	switch msg.Type {
	case domain.MessageTypeOffer:
		c.handleOffer(msg)
	case domain.MessageTypeAnswer:
		c.handleAnswer(msg)
	case domain.MessageTypeICECandidate:
		c.handleCandidate(msg)
	default:
		c.metrics.MessageDropped("unknown_type")
		c.logger.Debugw("Ignoring signaling message", "type", msg.Type)
	}
}

func (c *NegotiationCoordinator) handleOffer(msg domain.SignalMessage) {
	if msg.Sender.IsZero() {
		c.metrics.MessageDropped("missing_sender")
		c.logger.Debugw("Dropping offer without sender")
		return
	}

	prev := c.state
	c.peer = msg.Sender
	c.metrics.CallStarted(false)
	c.session.MarkCallStarted()
	offer := *msg.Offer

	ctx, span := tracing.TraceSignalMessage(c.callContext(), string(msg.Type), msg.Sender.String())
	c.log.LogInfo(ctx, "Offer received")

	c.session.AcquireCapture(func(src ports.MediaSource, err error) {
		defer span.End()
		if errors.Is(err, domain.ErrStaleGeneration) {
			return
		}
		if err == nil {
			err = c.answerOffer(ctx, src, offer)
		}
		if err != nil {
			c.state = prev
			if prev == domain.NegotiationIdle {
				c.peer = ""
				c.session.abandonCapture()
			}
			c.report(ctx, "answer offer", err)
		}
	})
}

func (c *NegotiationCoordinator) answerOffer(ctx context.Context, src ports.MediaSource, offer webrtc.SessionDescription) error {
	engine, err := c.session.Engine()
	if err != nil {
		return err
	}
	if err := attachTracks(engine, src); err != nil {
		return err
	}

	if err := engine.SetRemoteDescription(offer); err != nil {
		return apperrors.NewNegotiationError(err, "apply remote offer")
	}
	c.state = domain.NegotiationRemoteOfferReceived
	c.drainCandidates(ctx, engine)

	answer, err := engine.CreateAnswer()
	if err != nil {
		return apperrors.NewNegotiationError(err, "create answer")
	}
	if err := engine.SetLocalDescription(answer); err != nil {
		return apperrors.NewNegotiationError(err, "set local answer")
	}
	if err := c.sender.Send(domain.NewAnswerMessage(c.peer, answer)); err != nil {
		return err
	}
	c.state = domain.NegotiationLocalAnswerSent
	if c.connectivity == webrtc.PeerConnectionStateConnected {
		c.state = domain.NegotiationEstablished
	}
	c.log.LogInfo(ctx, "Answer sent")
	return nil
}

func (c *NegotiationCoordinator) handleAnswer(msg domain.SignalMessage) {
	ctx, span := tracing.TraceSignalMessage(c.callContext(), string(msg.Type), msg.Sender.String())
	defer span.End()

	engine, err := c.session.Engine()
	if err != nil {
		c.report(ctx, "apply remote answer", err)
		return
	}
	if err := engine.SetRemoteDescription(*msg.Answer); err != nil {
		c.report(ctx, "apply remote answer", apperrors.NewNegotiationError(err, "apply remote answer"))
		return
	}
	c.drainCandidates(ctx, engine)
	c.state = domain.NegotiationEstablished
	c.log.LogInfo(ctx, "Answer applied")
}

func (c *NegotiationCoordinator) handleCandidate(msg domain.SignalMessage) {
	engine, err := c.session.Engine()
	if err != nil {
		c.logger.Debugw("Dropping candidate, no engine", "error", err)
		return
	}

	if !engine.HasRemoteDescription() {
		c.buffer.Push(*msg.Candidate)
		c.metrics.CandidateBuffered()
		c.logger.Debugw("Buffered remote candidate", "sender", msg.Sender, "buffered", c.buffer.Len())
		return
	}

	if err := engine.AddICECandidate(*msg.Candidate); err != nil {
		ctx := logger.WithPeer(c.callContext(), msg.Sender.String())
		c.report(ctx, "apply remote candidate", apperrors.NewNegotiationError(err, "apply remote candidate"))
	}
}

func (c *NegotiationCoordinator) drainCandidates(ctx context.Context, engine ports.Engine) {
	failed := 0
	attempted, err := c.buffer.Drain(func(candidate webrtc.ICECandidateInit) error {
		err := engine.AddICECandidate(candidate)
		if err != nil {
			failed++
		}
		return err
	})
	if attempted == 0 {
		return
	}

	c.metrics.CandidatesDrained(attempted, failed)
	tracing.AddSpanAttributes(ctx, tracing.BufferedKey.Int(attempted))
	c.log.LogDebug(ctx, "Drained buffered candidates", zap.Int("attempted", attempted), zap.Int("failed", failed))
	if err != nil {
		c.report(ctx, "apply buffered candidates", apperrors.NewNegotiationError(err, "apply buffered candidates"))
	}
}

func (c *NegotiationCoordinator) onLocalCandidate(candidate webrtc.ICECandidateInit) {
	if c.peer.IsZero() {
		c.logger.Debugw("Dropping local candidate, no peer")
		return
	}
	if err := c.sender.Send(domain.NewICECandidateMessage(c.peer, candidate)); err != nil {
		c.logger.Debugw("Local candidate not sent", "peer", c.peer, "error", err)
	}
}

func (c *NegotiationCoordinator) onConnectivity(state webrtc.PeerConnectionState) {
	c.connectivity = state
	c.metrics.ConnectivityChanged(state)

	if state == webrtc.PeerConnectionStateConnected && c.state == domain.NegotiationLocalAnswerSent {
		c.state = domain.NegotiationEstablished
	}

	ev := domain.NewStatusEvent(domain.ConnectivityStatus(state), domain.SourceMedia, "Peer connection "+state.String())
	ev.Terminal = state == webrtc.PeerConnectionStateFailed
	c.notify(ev)
	c.logger.Infow("Peer connection state changed", "state", state.String(), "peer", c.peer)
}

// onSessionEnded discards the ended session. Unless the client is going
// away for good, a fresh Idle session replaces it.
func (c *NegotiationCoordinator) onSessionEnded(final bool) {
	c.buffer.Clear()
	c.peer = ""
	c.acquiring = false
	c.connectivity = webrtc.PeerConnectionStateNew
	c.state = domain.NegotiationClosed
	if !final {
		c.state = domain.NegotiationIdle
	}
}

func (c *NegotiationCoordinator) report(ctx context.Context, step string, err error) {
	appErr := apperrors.GetAppError(err)
	if appErr == nil {
		appErr = apperrors.NewNegotiationError(err, step)
	}

	tracing.RecordError(ctx, appErr)
	c.log.LogError(ctx, appErr, "Negotiation step failed", zap.String("step", step), zap.String("code", string(appErr.Code)))

	ev := domain.NewStatusEvent(domain.StatusError, domain.SourceCall, step+" failed")
	ev.Err = appErr
	ev.Terminal = appErr.Terminal
	c.notify(ev)
}

func (c *NegotiationCoordinator) callContext() context.Context {
	ctx := logger.WithIdentity(context.Background(), c.identity.String())
	if !c.peer.IsZero() {
		ctx = logger.WithPeer(ctx, c.peer.String())
	}
	return ctx
}

func (c *NegotiationCoordinator) notify(ev domain.StatusEvent) {
	if c.observer != nil {
		c.observer.OnStatus(ev)
	}
}

func attachTracks(engine ports.Engine, src ports.MediaSource) error {
	for _, track := range src.Tracks() {
		if err := engine.AddTrack(track); err != nil {
			return apperrors.NewNegotiationError(err, "attach track")
		}
	}
	return nil
}
