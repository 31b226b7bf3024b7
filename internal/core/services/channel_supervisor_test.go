package services

import (
	"context"
	"testing"
	"time"

	"peercall/internal/core/domain"
	"peercall/pkg/backoff"
	"peercall/pkg/eventloop"
	apperrors "peercall/pkg/errors"

	"github.com/pion/webrtc/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type channelHarness struct {
	loop     *eventloop.Loop
	dialer   *fakeDialer
	clock    *manualScheduler
	observer *statusRecorder
	sup      *ChannelSupervisor
	received chan domain.SignalMessage
}

func newChannelHarness(t *testing.T, dialer *fakeDialer) *channelHarness {
	t.Helper()
	h := &channelHarness{
		loop:     startLoop(t),
		dialer:   dialer,
		clock:    &manualScheduler{},
		observer: &statusRecorder{},
		received: make(chan domain.SignalMessage, 16),
	}
	h.sup = NewChannelSupervisor(
		ChannelConfig{
			URL:         "ws://relay.test/ws/alice",
			Backoff:     backoff.NewLinear(5, time.Second),
			DialTimeout: time.Second,
		},
		dialer, h.loop, h.clock, h.observer, NopMetrics{}, zap.NewNop().Sugar(),
	)
	h.sup.OnMessage(func(msg domain.SignalMessage) { h.received <- msg })
	return h
}

func (h *channelHarness) snapshot() domain.ChannelSnapshot {
	var snap domain.ChannelSnapshot
	_ = h.loop.Call(context.Background(), func() { snap = h.sup.Snapshot() })
	return snap
}

func (h *channelHarness) waitState(t *testing.T, want domain.ChannelState) {
	t.Helper()
	require.Eventually(t, func() bool { return h.snapshot().State == want }, waitFor, 5*time.Millisecond,
		"channel never reached %s", want)
}

func (h *channelHarness) waitTimers(t *testing.T, n int) {
	t.Helper()
	require.Eventually(t, func() bool { return h.clock.Count() == n }, waitFor, 5*time.Millisecond,
		"expected %d reconnect timers", n)
}

func TestChannelSupervisor_ReconnectExhaustion(t *testing.T) {
	h := newChannelHarness(t, &fakeDialer{always: true})
	onLoop(t, h.loop, h.sup.Connect)

	for k := 1; k <= 5; k++ {
		h.waitTimers(t, k)
		assert.Equal(t, time.Duration(k)*time.Second, h.clock.Delays()[k-1], "delay before attempt %d", k)
		assert.Equal(t, k, h.snapshot().Attempts)
		h.clock.Fire(k - 1)
	}

	h.waitState(t, domain.ChannelExhausted)
	assert.Equal(t, 6, h.dialer.Dials(), "initial dial plus five reconnects")
	assert.Equal(t, 5, h.clock.Count())

	ev, ok := h.observer.Last(domain.StatusError)
	require.True(t, ok)
	assert.True(t, ev.Terminal)
	assert.True(t, apperrors.HasCode(ev.Err, apperrors.ErrCodeReconnectExhausted))

	// exhaustion is permanent
	onLoop(t, h.loop, func() {
		_ = h.sup.Send(domain.NewOfferMessage("bob", webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "x"}))
		h.sup.Connect()
	})
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 5, h.clock.Count())
	assert.Equal(t, 6, h.dialer.Dials())

	terminal := 0
	for _, ev := range h.observer.Events() {
		if ev.Terminal && ev.Kind == domain.StatusError {
			terminal++
		}
	}
	assert.Equal(t, 1, terminal)
}

func TestChannelSupervisor_OpenResetsAttempts(t *testing.T) {
	h := newChannelHarness(t, &fakeDialer{failures: 2})
	onLoop(t, h.loop, h.sup.Connect)

	h.waitTimers(t, 1)
	h.clock.Fire(0)
	h.waitTimers(t, 2)
	assert.Equal(t, 2*time.Second, h.clock.Delays()[1])
	h.clock.Fire(1)

	h.waitState(t, domain.ChannelOpen)
	assert.Zero(t, h.snapshot().Attempts)

	// the next loss starts again from the first delay
	h.dialer.Conn(0).remoteClose(1001, "going away")
	h.waitTimers(t, 3)
	assert.Equal(t, time.Second, h.clock.Delays()[2])
	assert.Equal(t, 1, h.snapshot().Attempts)
}

func TestChannelSupervisor_DialFailureReportsErrorThenClose(t *testing.T) {
	h := newChannelHarness(t, &fakeDialer{always: true})
	onLoop(t, h.loop, h.sup.Connect)
	h.waitTimers(t, 1)

	assert.Equal(t, []domain.StatusKind{
		domain.StatusConnecting,
		domain.StatusError,
		domain.StatusDisconnected,
	}, h.observer.Kinds(domain.SourceChannel))

	ev, ok := h.observer.Last(domain.StatusDisconnected)
	require.True(t, ok)
	assert.Equal(t, 1006, ev.Code)
	assert.False(t, ev.Terminal)
}

func TestChannelSupervisor_RemoteClose(t *testing.T) {
	h := newChannelHarness(t, &fakeDialer{})
	onLoop(t, h.loop, h.sup.Connect)
	h.waitState(t, domain.ChannelOpen)

	h.dialer.Conn(0).remoteClose(1001, "going away")
	h.waitTimers(t, 1)

	assert.Equal(t, []domain.StatusKind{
		domain.StatusConnecting,
		domain.StatusConnected,
		domain.StatusDisconnected,
	}, h.observer.Kinds(domain.SourceChannel))

	ev, _ := h.observer.Last(domain.StatusDisconnected)
	assert.Equal(t, 1001, ev.Code)
	assert.Contains(t, ev.Text, "going away")
	assert.Equal(t, domain.ChannelReconnectScheduled, h.snapshot().State)
}

func TestChannelSupervisor_InboundFrames(t *testing.T) {
	h := newChannelHarness(t, &fakeDialer{})
	onLoop(t, h.loop, h.sup.Connect)
	h.waitState(t, domain.ChannelOpen)

	conn := h.dialer.Conn(0)
	conn.inbound <- []byte("not json")
	conn.inbound <- []byte(`{"type":"bogus","target":"alice"}`)
	conn.inbound <- []byte(`{"type":"offer","offer":{"type":"offer","sdp":"v=0"},"target":"alice","sender":"bob"}`)

	select {
	case msg := <-h.received:
		assert.Equal(t, domain.MessageTypeOffer, msg.Type)
		assert.Equal(t, domain.Identity("bob"), msg.Sender)
		require.NotNil(t, msg.Offer)
		assert.Equal(t, "v=0", msg.Offer.SDP)
	case <-time.After(waitFor):
		t.Fatal("valid message was not delivered")
	}

	assert.Empty(t, h.received, "malformed frames must not be delivered")
	assert.Equal(t, domain.ChannelOpen, h.snapshot().State)
	assert.Equal(t, []domain.StatusKind{domain.StatusConnecting, domain.StatusConnected},
		h.observer.Kinds(domain.SourceChannel), "malformed frames are dropped silently")
}

func TestChannelSupervisor_SendWhileOpen(t *testing.T) {
	h := newChannelHarness(t, &fakeDialer{})
	onLoop(t, h.loop, h.sup.Connect)
	h.waitState(t, domain.ChannelOpen)

	var err error
	onLoop(t, h.loop, func() {
		err = h.sup.Send(domain.NewICECandidateMessage("bob", candidate("candidate:1 1 udp 1 10.0.0.1 5000 typ host")))
	})
	require.NoError(t, err)

	written := h.dialer.Conn(0).Written()
	require.Len(t, written, 1)
	msg, err := domain.DecodeMessage(written[0])
	require.NoError(t, err)
	assert.Equal(t, domain.MessageTypeICECandidate, msg.Type)
	assert.Equal(t, domain.Identity("bob"), msg.Target)
	assert.True(t, msg.Sender.IsZero())
}

func TestChannelSupervisor_SendWhileDisconnected(t *testing.T) {
	h := newChannelHarness(t, &fakeDialer{})
	offer := domain.NewOfferMessage("bob", webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "v=0"})

	var first, second error
	onLoop(t, h.loop, func() {
		first = h.sup.Send(offer)
		second = h.sup.Send(offer)
	})

	assert.True(t, apperrors.HasCode(first, apperrors.ErrCodeSendWhileDisconnected))
	assert.True(t, apperrors.HasCode(second, apperrors.ErrCodeSendWhileDisconnected))
	assert.Zero(t, h.dialer.Dials(), "nothing is transmitted")
	assert.Equal(t, 1, h.clock.Count(), "reconnection triggered once, not stacked")
	assert.Equal(t, time.Second, h.clock.Delays()[0])

	h.clock.Fire(0)
	h.waitState(t, domain.ChannelOpen)
	time.Sleep(20 * time.Millisecond)
	assert.Empty(t, h.dialer.Conn(0).Written(), "lost messages are not retransmitted")
}

func TestChannelSupervisor_IntentionalClose(t *testing.T) {
	h := newChannelHarness(t, &fakeDialer{})
	onLoop(t, h.loop, h.sup.Connect)
	h.waitState(t, domain.ChannelOpen)

	onLoop(t, h.loop, h.sup.Close)
	conn := h.dialer.Conn(0)
	assert.True(t, conn.IsClosed())

	time.Sleep(20 * time.Millisecond)
	assert.Zero(t, h.clock.Count(), "intentional close does not reconnect")
	assert.Equal(t, domain.ChannelShutdown, h.snapshot().State)

	onLoop(t, h.loop, h.sup.Connect)
	assert.Equal(t, 1, h.dialer.Dials())

	ev, ok := h.observer.Last(domain.StatusDisconnected)
	require.True(t, ok)
	assert.True(t, ev.Terminal)
}

func TestChannelSupervisor_ConnectSupersedesPreviousChannel(t *testing.T) {
	h := newChannelHarness(t, &fakeDialer{})
	onLoop(t, h.loop, h.sup.Connect)
	h.waitState(t, domain.ChannelOpen)

	onLoop(t, h.loop, h.sup.Connect)
	require.Eventually(t, func() bool { return h.dialer.Conns() == 2 }, waitFor, 5*time.Millisecond)
	h.waitState(t, domain.ChannelOpen)

	assert.True(t, h.dialer.Conn(0).IsClosed())
	assert.False(t, h.dialer.Conn(1).IsClosed())

	time.Sleep(20 * time.Millisecond)
	assert.Zero(t, h.clock.Count(), "close of the superseded channel is ignored")
	assert.Equal(t, domain.ChannelOpen, h.snapshot().State)
}

func TestChannelSupervisor_StaleTimerIgnored(t *testing.T) {
	h := newChannelHarness(t, &fakeDialer{failures: 1})
	onLoop(t, h.loop, h.sup.Connect)
	h.waitTimers(t, 1)

	// a manual connect supersedes the pending reconnect
	onLoop(t, h.loop, h.sup.Connect)
	h.waitState(t, domain.ChannelOpen)

	h.clock.Fire(0)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 2, h.dialer.Dials())
	assert.Equal(t, 1, h.dialer.Conns())
}
