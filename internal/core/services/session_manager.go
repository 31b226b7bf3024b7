package services

import (
	"context"
	"net/http"
	"time"

	"peercall/internal/core/domain"
	"peercall/internal/core/ports"
	apperrors "peercall/pkg/errors"

	"github.com/pion/webrtc/v3"
	"go.uber.org/zap"
)

// sessionEvents receives engine events of the current session and the
// session-ended notification.
type sessionEvents interface {
	onLocalCandidate(candidate webrtc.ICECandidateInit)
	onConnectivity(state webrtc.PeerConnectionState)
	onSessionEnded(final bool)
}

// SessionManager owns the engine instance and the local capture of the
// current call, and replaces both when the call ends. Every session has a
// generation; continuations started in an older generation are discarded.
//
// All methods except the constructor must run on the client's event loop.
type SessionManager struct {
	factory   ports.EngineFactory
	capturer  ports.Capturer
	sink      ports.PresentationSink
	observer  ports.StatusObserver
	metrics   ports.SignalingMetrics
	exec      ports.Executor
	logger    *zap.SugaredLogger
	preferred domain.CaptureConstraints

	events sessionEvents

	ctx    context.Context
	cancel context.CancelFunc

	engine     ports.Engine
	capture    ports.MediaSource
	generation uint64
	callStart  time.Time
	disposed   bool
}

func NewSessionManager(
	factory ports.EngineFactory,
	capturer ports.Capturer,
	sink ports.PresentationSink,
	observer ports.StatusObserver,
	metrics ports.SignalingMetrics,
	exec ports.Executor,
	preferred domain.CaptureConstraints,
	logger *zap.SugaredLogger,
) *SessionManager {
	ctx, cancel := context.WithCancel(context.Background())
	return &SessionManager{
		factory:   factory,
		capturer:  capturer,
		sink:      sink,
		observer:  observer,
		metrics:   metrics,
		exec:      exec,
		preferred: preferred,
		logger:    logger.With("component", "session"),
		ctx:       ctx,
		cancel:    cancel,
	}
}

func (m *SessionManager) bind(events sessionEvents) {
	m.events = events
}

// Init creates the first engine instance.
func (m *SessionManager) Init() error {
	if m.disposed {
		return domain.ErrClientDisposed
	}
	_, err := m.Engine()
	return err
}

// Engine returns the engine of the current session, creating it if an
// earlier recreation failed.
func (m *SessionManager) Engine() (ports.Engine, error) {
	if m.disposed {
		return nil, domain.ErrClientDisposed
	}
	if m.engine == nil {
		engine, err := m.factory.NewEngine(m.handlersFor(m.generation))
		if err != nil {
			return nil, apperrors.WrapError(err, apperrors.ErrCodeInternal, "create engine", http.StatusInternalServerError)
		}
		m.engine = engine
	}
	return m.engine, nil
}

func (m *SessionManager) Generation() uint64 {
	return m.generation
}

func (m *SessionManager) CaptureActive() bool {
	return m.capture != nil
}

// MarkCallStarted records the start of a call for duration metrics.
func (m *SessionManager) MarkCallStarted() {
	if m.callStart.IsZero() {
		m.callStart = time.Now()
	}
}

// AcquireCapture releases any held capture and acquires a new one off the
// loop, trying the preferred profile and then the minimal one. done runs on
// the loop. If the session ended meanwhile, the new capture is stopped and
// done receives domain.ErrStaleGeneration.
func (m *SessionManager) AcquireCapture(done func(ports.MediaSource, error)) {
	m.releaseCapture()

	if m.disposed {
		done(nil, domain.ErrClientDisposed)
		return
	}

	gen := m.generation
	ctx := m.ctx
	go func() {
		src, err := m.acquireWithFallback(ctx)

		posted := m.exec.Post(func() {
			if gen != m.generation || m.disposed {
				if src != nil {
					src.Stop()
				}
				m.logger.Debugw("Discarding capture from ended session", "generation", gen, "current", m.generation)
				done(nil, domain.ErrStaleGeneration)
				return
			}
			if err != nil {
				done(nil, err)
				return
			}

			m.releaseCapture()
			m.capture = src
			if m.sink != nil {
				m.sink.ShowLocal(src)
			}
			done(src, nil)
		})
		if !posted && src != nil {
			src.Stop()
		}
	}()
}

func (m *SessionManager) acquireWithFallback(ctx context.Context) (ports.MediaSource, error) {
	src, err := m.capturer.Acquire(ctx, m.preferred)
	if err == nil {
		return src, nil
	}
	m.logger.Warnw("Preferred capture profile failed, retrying with minimal constraints", "error", err)
	m.metrics.CaptureFallback()

	src, err = m.capturer.Acquire(ctx, domain.MinimalProfile())
	if err != nil {
		return nil, apperrors.NewCapabilityError(err)
	}
	return src, nil
}

// EndCall stops the capture, replaces the engine with a fresh instance
// wired to the same handlers, clears presentation and buffered candidates
// and reports CallEnded.
func (m *SessionManager) EndCall() error {
	if m.disposed {
		return domain.ErrClientDisposed
	}

	m.releaseCapture()
	m.closeEngine()
	m.generation++

	var engineErr error
	engine, err := m.factory.NewEngine(m.handlersFor(m.generation))
	if err != nil {
		engineErr = apperrors.WrapError(err, apperrors.ErrCodeInternal, "recreate engine", http.StatusInternalServerError)
		m.logger.Errorw("Failed to recreate engine", "error", err)
	} else {
		m.engine = engine
	}

	if m.sink != nil {
		m.sink.Clear()
	}
	if m.events != nil {
		m.events.onSessionEnded(false)
	}
	if !m.callStart.IsZero() {
		m.metrics.CallEnded(time.Since(m.callStart))
		m.callStart = time.Time{}
	}

	ev := domain.NewStatusEvent(domain.StatusCallEnded, domain.SourceCall, "Call ended")
	ev.Terminal = true
	m.notify(ev)
	m.logger.Infow("Call ended", "generation", m.generation)

	return engineErr
}

// Dispose releases everything without recreating the engine.
func (m *SessionManager) Dispose() {
	if m.disposed {
		return
	}
	m.releaseCapture()
	m.closeEngine()
	m.generation++
	m.disposed = true
	m.cancel()
	if m.sink != nil {
		m.sink.Clear()
	}
	if m.events != nil {
		m.events.onSessionEnded(true)
	}
}

// abandonCapture drops the capture of a call attempt that failed before it
// was established and clears the local preview.
func (m *SessionManager) abandonCapture() {
	if m.capture == nil {
		return
	}
	m.releaseCapture()
	if m.sink != nil {
		m.sink.Clear()
	}
}

func (m *SessionManager) releaseCapture() {
	if m.capture != nil {
		m.logger.Debugw("Releasing local capture", "source", m.capture.ID())
		m.capture.Stop()
		m.capture = nil
	}
}

func (m *SessionManager) closeEngine() {
	if m.engine != nil {
		if err := m.engine.Close(); err != nil {
			m.logger.Warnw("Failed to close engine", "error", err)
		}
		m.engine = nil
	}
}

// handlersFor binds engine callbacks to one generation. Callbacks from an
// engine of an older generation are ignored.
func (m *SessionManager) handlersFor(gen uint64) ports.EngineHandlers {
	current := func() bool { return gen == m.generation && !m.disposed && m.events != nil }

	return ports.EngineHandlers{
		OnICECandidate: func(c webrtc.ICECandidateInit) {
			m.exec.Post(func() {
				if current() {
					m.events.onLocalCandidate(c)
				}
			})
		},
		OnTrack: func(track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver) {
			m.exec.Post(func() {
				if !current() || m.sink == nil {
					return
				}
				m.logger.Infow("Remote track received", "kind", track.Kind().String(), "id", track.ID())
				m.sink.ShowRemote(track, receiver)
			})
		},
		OnConnectionStateChange: func(state webrtc.PeerConnectionState) {
			m.exec.Post(func() {
				if current() {
					m.events.onConnectivity(state)
				}
			})
		},
	}
}

func (m *SessionManager) notify(ev domain.StatusEvent) {
	if m.observer != nil {
		m.observer.OnStatus(ev)
	}
}
