package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"peercall/internal/core/domain"
	"peercall/internal/core/ports"
	"peercall/pkg/eventloop"

	"github.com/pion/webrtc/v3"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const waitFor = 2 * time.Second

func startLoop(t *testing.T) *eventloop.Loop {
	t.Helper()
	loop := eventloop.New(zap.NewNop().Sugar())
	ctx, cancel := context.WithCancel(context.Background())
	go loop.Run(ctx)
	t.Cleanup(cancel)
	return loop
}

// onLoop runs fn on the loop and waits for it.
func onLoop(t *testing.T, loop *eventloop.Loop, fn func()) {
	t.Helper()
	require.NoError(t, loop.Call(context.Background(), fn))
}

// --- engine ---

type fakeEngine struct {
	mu       sync.Mutex
	handlers ports.EngineHandlers

	tracks  []webrtc.TrackLocal
	local   *webrtc.SessionDescription
	remote  *webrtc.SessionDescription
	applied []string
	events  []string
	closed  bool

	failRemote     error
	failOffer      error
	failCandidates map[string]bool
}

func (e *fakeEngine) AddTrack(track webrtc.TrackLocal) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.tracks = append(e.tracks, track)
	return nil
}

func (e *fakeEngine) CreateOffer() (webrtc.SessionDescription, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.failOffer != nil {
		return webrtc.SessionDescription{}, e.failOffer
	}
	return webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "v=0 offer"}, nil
}

func (e *fakeEngine) CreateAnswer() (webrtc.SessionDescription, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.remote == nil || e.remote.Type != webrtc.SDPTypeOffer {
		return webrtc.SessionDescription{}, errors.New("no remote offer")
	}
	return webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: "v=0 answer"}, nil
}

func (e *fakeEngine) SetLocalDescription(desc webrtc.SessionDescription) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.local = &desc
	e.events = append(e.events, "local:"+desc.Type.String())
	return nil
}

func (e *fakeEngine) SetRemoteDescription(desc webrtc.SessionDescription) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.failRemote != nil {
		return e.failRemote
	}
	e.remote = &desc
	e.events = append(e.events, "remote:"+desc.Type.String())
	return nil
}

func (e *fakeEngine) HasRemoteDescription() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.remote != nil
}

func (e *fakeEngine) AddICECandidate(c webrtc.ICECandidateInit) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.remote == nil {
		return errors.New("remote description not set")
	}
	if e.failCandidates[c.Candidate] {
		return fmt.Errorf("bad candidate %q", c.Candidate)
	}
	e.applied = append(e.applied, c.Candidate)
	e.events = append(e.events, "candidate:"+c.Candidate)
	return nil
}

func (e *fakeEngine) ConnectionState() webrtc.PeerConnectionState {
	return webrtc.PeerConnectionStateNew
}

func (e *fakeEngine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closed = true
	return nil
}

func (e *fakeEngine) Applied() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.applied...)
}

func (e *fakeEngine) Events() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.events...)
}

func (e *fakeEngine) Tracks() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.tracks)
}

func (e *fakeEngine) Closed() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.closed
}

type fakeEngineFactory struct {
	mu      sync.Mutex
	engines []*fakeEngine
	err     error
	setup   func(*fakeEngine)
}

func (f *fakeEngineFactory) NewEngine(handlers ports.EngineHandlers) (ports.Engine, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	e := &fakeEngine{handlers: handlers, failCandidates: map[string]bool{}}
	if f.setup != nil {
		f.setup(e)
	}
	f.engines = append(f.engines, e)
	return e, nil
}

func (f *fakeEngineFactory) Current() *fakeEngine {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.engines) == 0 {
		return nil
	}
	return f.engines[len(f.engines)-1]
}

func (f *fakeEngineFactory) Count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.engines)
}

// --- capture ---

type fakeSource struct {
	id     string
	tracks []webrtc.TrackLocal
	stops  atomic.Int32
}

func (s *fakeSource) ID() string                  { return s.id }
func (s *fakeSource) Tracks() []webrtc.TrackLocal { return s.tracks }
func (s *fakeSource) Stop()                       { s.stops.Add(1) }

func newFakeSource(t *testing.T, id string) *fakeSource {
	t.Helper()
	audio, err := webrtc.NewTrackLocalStaticSample(webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus}, "audio", id)
	require.NoError(t, err)
	video, err := webrtc.NewTrackLocalStaticSample(webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8}, "video", id)
	require.NoError(t, err)
	return &fakeSource{id: id, tracks: []webrtc.TrackLocal{audio, video}}
}

type fakeCapturer struct {
	t *testing.T

	mu            sync.Mutex
	failPreferred bool
	failMinimal   bool
	requests      []domain.CaptureConstraints
	sources       []*fakeSource
	gate          chan struct{}
}

func (c *fakeCapturer) Acquire(ctx context.Context, constraints domain.CaptureConstraints) (ports.MediaSource, error) {
	c.mu.Lock()
	gate := c.gate
	c.requests = append(c.requests, constraints)
	c.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if constraints.IsMinimal() && c.failMinimal {
		return nil, errors.New("device not found")
	}
	if !constraints.IsMinimal() && c.failPreferred {
		return nil, errors.New("overconstrained")
	}
	src := newFakeSource(c.t, fmt.Sprintf("capture-%d", len(c.sources)+1))
	c.sources = append(c.sources, src)
	return src, nil
}

func (c *fakeCapturer) Requests() []domain.CaptureConstraints {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]domain.CaptureConstraints(nil), c.requests...)
}

func (c *fakeCapturer) Sources() []*fakeSource {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]*fakeSource(nil), c.sources...)
}

// --- signaling ---

type fakeSender struct {
	mu   sync.Mutex
	sent []domain.SignalMessage
	err  error
}

func (s *fakeSender) Send(msg domain.SignalMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.sent = append(s.sent, msg)
	return nil
}

func (s *fakeSender) Sent() []domain.SignalMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.SignalMessage(nil), s.sent...)
}

func (s *fakeSender) OfType(t domain.MessageType) []domain.SignalMessage {
	var out []domain.SignalMessage
	for _, m := range s.Sent() {
		if m.Type == t {
			out = append(out, m)
		}
	}
	return out
}

type fakeConn struct {
	inbound chan []byte

	mu        sync.Mutex
	written   [][]byte
	closed    bool
	closeOnce sync.Once
	done      chan struct{}
	closeErr  error
}

func newFakeConn() *fakeConn {
	return &fakeConn{inbound: make(chan []byte, 16), done: make(chan struct{})}
}

func (c *fakeConn) ReadMessage() ([]byte, error) {
	select {
	case data := <-c.inbound:
		return data, nil
	case <-c.done:
		c.mu.Lock()
		defer c.mu.Unlock()
		if c.closeErr != nil {
			return nil, c.closeErr
		}
		return nil, &ports.CloseError{Code: ports.CloseAbnormal}
	}
}

func (c *fakeConn) WriteMessage(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return errors.New("use of closed connection")
	}
	c.written = append(c.written, data)
	return nil
}

func (c *fakeConn) Close() error {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closed = true
		c.mu.Unlock()
		close(c.done)
	})
	return nil
}

// remoteClose simulates the relay closing the channel with a close frame.
func (c *fakeConn) remoteClose(code int, reason string) {
	c.mu.Lock()
	c.closeErr = &ports.CloseError{Code: code, Reason: reason}
	c.mu.Unlock()
	_ = c.Close()
}

func (c *fakeConn) Written() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([][]byte(nil), c.written...)
}

func (c *fakeConn) IsClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// fakeDialer fails while failures > 0, then hands out fresh connections.
type fakeDialer struct {
	mu       sync.Mutex
	failures int
	always   bool
	dials    []string
	conns    []*fakeConn
}

func (d *fakeDialer) Dial(ctx context.Context, url string) (ports.Conn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.dials = append(d.dials, url)
	if d.always || d.failures > 0 {
		d.failures--
		return nil, errors.New("connection refused")
	}
	conn := newFakeConn()
	d.conns = append(d.conns, conn)
	return conn, nil
}

func (d *fakeDialer) Dials() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.dials)
}

func (d *fakeDialer) Conn(i int) *fakeConn {
	d.mu.Lock()
	defer d.mu.Unlock()
	if i >= len(d.conns) {
		return nil
	}
	return d.conns[i]
}

func (d *fakeDialer) Conns() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.conns)
}

// --- scheduling ---

type manualTimer struct {
	delay   time.Duration
	fn      func()
	stopped atomic.Bool
	fired   atomic.Bool
}

func (t *manualTimer) Stop() bool {
	return !t.fired.Load() && t.stopped.CompareAndSwap(false, true)
}

type manualScheduler struct {
	mu     sync.Mutex
	timers []*manualTimer
}

func (s *manualScheduler) AfterFunc(d time.Duration, fn func()) ports.Timer {
	s.mu.Lock()
	defer s.mu.Unlock()
	timer := &manualTimer{delay: d, fn: fn}
	s.timers = append(s.timers, timer)
	return timer
}

func (s *manualScheduler) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.timers)
}

func (s *manualScheduler) Delays() []time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]time.Duration, 0, len(s.timers))
	for _, t := range s.timers {
		out = append(out, t.delay)
	}
	return out
}

// Fire runs timer i unless it was stopped.
func (s *manualScheduler) Fire(i int) {
	s.mu.Lock()
	timer := s.timers[i]
	s.mu.Unlock()
	if timer.stopped.Load() {
		return
	}
	timer.fired.Store(true)
	timer.fn()
}

// --- observation ---

type statusRecorder struct {
	mu     sync.Mutex
	events []domain.StatusEvent
}

func (r *statusRecorder) OnStatus(ev domain.StatusEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *statusRecorder) Events() []domain.StatusEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]domain.StatusEvent(nil), r.events...)
}

func (r *statusRecorder) Kinds(source domain.StatusSource) []domain.StatusKind {
	var kinds []domain.StatusKind
	for _, ev := range r.Events() {
		if ev.Source == source {
			kinds = append(kinds, ev.Kind)
		}
	}
	return kinds
}

func (r *statusRecorder) Count(kind domain.StatusKind, source domain.StatusSource) int {
	n := 0
	for _, ev := range r.Events() {
		if ev.Kind == kind && ev.Source == source {
			n++
		}
	}
	return n
}

func (r *statusRecorder) Last(kind domain.StatusKind) (domain.StatusEvent, bool) {
	events := r.Events()
	for i := len(events) - 1; i >= 0; i-- {
		if events[i].Kind == kind {
			return events[i], true
		}
	}
	return domain.StatusEvent{}, false
}

type MockSink struct {
	mock.Mock
}

func (m *MockSink) ShowLocal(source ports.MediaSource) {
	m.Called(source)
}

func (m *MockSink) ShowRemote(track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver) {
	m.Called(track, receiver)
}

func (m *MockSink) Clear() {
	m.Called()
}

func newMockSink() *MockSink {
	sink := &MockSink{}
	sink.On("ShowLocal", mock.Anything).Return()
	sink.On("ShowRemote", mock.Anything, mock.Anything).Return()
	sink.On("Clear").Return()
	return sink
}

func candidate(s string) webrtc.ICECandidateInit {
	return webrtc.ICECandidateInit{Candidate: s}
}
