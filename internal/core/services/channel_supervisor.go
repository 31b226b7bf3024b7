package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"peercall/internal/core/domain"
	"peercall/internal/core/ports"
	"peercall/pkg/backoff"
	apperrors "peercall/pkg/errors"

	"go.uber.org/zap"
)

const closeNormal = 1000

type ChannelConfig struct {
	URL         string
	Backoff     backoff.Policy
	DialTimeout time.Duration
}

// ChannelSupervisor owns the signaling channel: it dials the relay, pumps
// inbound frames to the registered handler, and reconnects with linear
// backoff after unintentional closes.
//
// All methods except the constructor must run on the client's event loop.
type ChannelSupervisor struct {
	cfg      ChannelConfig
	dialer   ports.Dialer
	exec     ports.Executor
	clock    ports.Scheduler
	observer ports.StatusObserver
	metrics  ports.SignalingMetrics
	logger   *zap.SugaredLogger

	onMessage func(domain.SignalMessage)

	state       domain.ChannelState
	attempts    int
	epoch       uint64
	conn        ports.Conn
	timer       ports.Timer
	dialing     bool
	intentional bool
}

func NewChannelSupervisor(
	cfg ChannelConfig,
	dialer ports.Dialer,
	exec ports.Executor,
	clock ports.Scheduler,
	observer ports.StatusObserver,
	metrics ports.SignalingMetrics,
	logger *zap.SugaredLogger,
) *ChannelSupervisor {
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = 10 * time.Second
	}
	return &ChannelSupervisor{
		cfg:      cfg,
		dialer:   dialer,
		exec:     exec,
		clock:    clock,
		observer: observer,
		metrics:  metrics,
		logger:   logger.With("component", "channel"),
		state:    domain.ChannelIdle,
	}
}

// OnMessage registers the receiver of decoded inbound messages.
func (s *ChannelSupervisor) OnMessage(fn func(domain.SignalMessage)) {
	s.onMessage = fn
}

// Connect opens a fresh channel instance, superseding any previous one.
// It is a no-op after Close or once reconnection is exhausted.
func (s *ChannelSupervisor) Connect() {
	if s.state == domain.ChannelShutdown || s.state == domain.ChannelExhausted {
		return
	}

	s.epoch++
	epoch := s.epoch
	s.stopTimer()
	s.dropConn()

	s.state = domain.ChannelConnecting
	s.dialing = true
	s.notify(domain.NewStatusEvent(domain.StatusConnecting, domain.SourceChannel, "Connecting to signaling server"))
	s.logger.Debugw("Dialing relay", "url", s.cfg.URL, "attempt", s.attempts)

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), s.cfg.DialTimeout)
		conn, err := s.dialer.Dial(ctx, s.cfg.URL)
		cancel()

		if !s.exec.Post(func() { s.onDialed(epoch, conn, err) }) && conn != nil {
			_ = conn.Close()
		}
	}()
}

// Send transmits msg if the channel is open. Otherwise the message is lost,
// the reconnection procedure runs and a SEND_WHILE_DISCONNECTED error is
// returned.
func (s *ChannelSupervisor) Send(msg domain.SignalMessage) error {
	if s.state != domain.ChannelOpen || s.conn == nil {
		s.metrics.MessageLost(msg.Type)
		s.logger.Warnw("Signaling channel not open, message lost",
			"type", msg.Type,
			"target", msg.Target,
			"state", s.state.String(),
		)
		s.reconnect()
		return apperrors.NewSendWhileDisconnectedError(string(msg.Type))
	}

	data, err := domain.EncodeMessage(msg)
	if err != nil {
		return apperrors.NewInvalidInputError(err.Error())
	}
	if err := s.conn.WriteMessage(data); err != nil {
		s.metrics.MessageLost(msg.Type)
		return apperrors.NewTransportError(err, "write signaling message")
	}

	s.metrics.MessageSent(msg.Type)
	return nil
}

// Close shuts the channel down for good. The resulting close does not
// trigger reconnection.
func (s *ChannelSupervisor) Close() {
	if s.state == domain.ChannelShutdown {
		return
	}
	s.intentional = true
	s.epoch++
	s.stopTimer()
	wasOpen := s.conn != nil
	s.dropConn()
	s.dialing = false
	s.state = domain.ChannelShutdown

	if wasOpen {
		s.metrics.ChannelClosed(closeNormal)
	}
	ev := domain.NewStatusEvent(domain.StatusDisconnected, domain.SourceChannel, "Signaling channel closed")
	ev.Code = closeNormal
	ev.Terminal = true
	s.notify(ev)
	s.logger.Infow("Signaling channel closed by client")
}

func (s *ChannelSupervisor) IsOpen() bool {
	return s.state == domain.ChannelOpen
}

func (s *ChannelSupervisor) Attempts() int {
	return s.attempts
}

func (s *ChannelSupervisor) Snapshot() domain.ChannelSnapshot {
	return domain.ChannelSnapshot{
		State:    s.state,
		Attempts: s.attempts,
		URL:      s.cfg.URL,
	}
}

func (s *ChannelSupervisor) onDialed(epoch uint64, conn ports.Conn, err error) {
	if epoch != s.epoch {
		if conn != nil {
			_ = conn.Close()
		}
		return
	}
	s.dialing = false

	if err != nil {
		s.logger.Warnw("Failed to dial relay", "url", s.cfg.URL, "error", err)
		s.onClosed(epoch, nil, err)
		return
	}

	s.conn = conn
	s.state = domain.ChannelOpen
	s.attempts = 0
	s.metrics.ChannelOpened()
	s.notify(domain.NewStatusEvent(domain.StatusConnected, domain.SourceChannel, "Connected to signaling server"))
	s.logger.Infow("Signaling channel open", "url", s.cfg.URL)

	go s.readPump(epoch, conn)
}

func (s *ChannelSupervisor) readPump(epoch uint64, conn ports.Conn) {
	for {
		data, err := conn.ReadMessage()
		if err != nil {
			s.exec.Post(func() { s.onClosed(epoch, conn, err) })
			return
		}
		s.exec.Post(func() { s.onFrame(epoch, data) })
	}
}

func (s *ChannelSupervisor) onFrame(epoch uint64, data []byte) {
	if epoch != s.epoch {
		return
	}

	msg, err := domain.DecodeMessage(data)
	if err != nil {
		s.metrics.MessageDropped("malformed")
		s.logger.Debugw("Dropping malformed signaling message", "error", err, "size", len(data))
		return
	}

	s.metrics.MessageReceived(msg.Type)
	if s.onMessage != nil {
		s.onMessage(msg)
	}
}

// onClosed handles the end of a channel instance. A failure without a close
// frame is reported as an error first, then as an abnormal close.
func (s *ChannelSupervisor) onClosed(epoch uint64, conn ports.Conn, err error) {
	if epoch != s.epoch {
		return
	}
	if conn != nil {
		_ = conn.Close()
	}
	s.conn = nil

	var closeErr *ports.CloseError
	if !errors.As(err, &closeErr) {
		ev := domain.NewStatusEvent(domain.StatusError, domain.SourceChannel, "Signaling channel error")
		ev.Err = apperrors.NewTransportError(err, "signaling channel")
		s.notify(ev)
		closeErr = &ports.CloseError{Code: ports.CloseAbnormal}
	}

	s.state = domain.ChannelClosed
	s.metrics.ChannelClosed(closeErr.Code)

	ev := domain.NewStatusEvent(domain.StatusDisconnected, domain.SourceChannel,
		fmt.Sprintf("Disconnected (%d) %s", closeErr.Code, closeErr.Reason))
	ev.Code = closeErr.Code
	s.notify(ev)
	s.logger.Infow("Signaling channel closed", "code", closeErr.Code, "reason", closeErr.Reason)

	s.reconnect()
}

// reconnect schedules the next attempt, or gives up for good once the
// policy is spent. It never stacks a second timer or dial.
func (s *ChannelSupervisor) reconnect() {
	if s.intentional || s.dialing {
		return
	}
	switch s.state {
	case domain.ChannelReconnectScheduled, domain.ChannelExhausted, domain.ChannelShutdown:
		return
	}

	if !s.cfg.Backoff.Allows(s.attempts) {
		s.state = domain.ChannelExhausted
		s.metrics.ReconnectExhausted()
		err := apperrors.NewReconnectExhaustedError(s.attempts)
		ev := domain.NewStatusEvent(domain.StatusError, domain.SourceChannel, "Unable to reconnect to signaling server")
		ev.Err = err
		ev.Terminal = true
		s.notify(ev)
		s.logger.Errorw("Giving up on signaling channel", "attempts", s.attempts)
		return
	}

	s.attempts++
	delay := s.cfg.Backoff.Delay(s.attempts)
	epoch := s.epoch
	s.state = domain.ChannelReconnectScheduled
	s.timer = s.clock.AfterFunc(delay, func() {
		s.exec.Post(func() { s.onReconnectDue(epoch) })
	})
	s.metrics.ReconnectScheduled(s.attempts, delay)
	s.logger.Infow("Reconnect scheduled", "attempt", s.attempts, "delay", delay)
}

func (s *ChannelSupervisor) onReconnectDue(epoch uint64) {
	if epoch != s.epoch || s.state != domain.ChannelReconnectScheduled {
		return
	}
	s.timer = nil
	s.Connect()
}

func (s *ChannelSupervisor) stopTimer() {
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}

func (s *ChannelSupervisor) dropConn() {
	if s.conn != nil {
		_ = s.conn.Close()
		s.conn = nil
	}
}

func (s *ChannelSupervisor) notify(ev domain.StatusEvent) {
	if s.observer != nil {
		s.observer.OnStatus(ev)
	}
}
