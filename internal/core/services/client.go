package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	"peercall/internal/core/domain"
	"peercall/internal/core/ports"
	"peercall/pkg/backoff"
	"peercall/pkg/eventloop"

	"go.uber.org/zap"
)

type ClientConfig struct {
	Identity    domain.Identity
	RelayURL    string
	Backoff     backoff.Policy
	DialTimeout time.Duration
	Capture     domain.CaptureConstraints
}

// ClientDeps are the collaborators the client drives. Sink, Observer,
// Metrics and Scheduler are optional.
type ClientDeps struct {
	Dialer    ports.Dialer
	Engines   ports.EngineFactory
	Capturer  ports.Capturer
	Sink      ports.PresentationSink
	Observer  ports.StatusObserver
	Metrics   ports.SignalingMetrics
	Scheduler ports.Scheduler
}

// Client is one call endpoint. Its components share a single event loop;
// the exported methods are safe for concurrent use and hop onto that loop.
type Client struct {
	identity domain.Identity
	loop     *eventloop.Loop
	logger   *zap.SugaredLogger

	channel     *ChannelSupervisor
	session     *SessionManager
	coordinator *NegotiationCoordinator

	initOnce    sync.Once
	disposeOnce sync.Once
}

func NewClient(cfg ClientConfig, deps ClientDeps, logger *zap.Logger) (*Client, error) {
	if cfg.Identity.IsZero() {
		cfg.Identity = domain.NewIdentity()
	}
	if cfg.RelayURL == "" {
		return nil, fmt.Errorf("relay url is required")
	}
	if err := cfg.Backoff.Validate(); err != nil {
		return nil, fmt.Errorf("invalid backoff policy: %w", err)
	}
	if deps.Dialer == nil || deps.Engines == nil || deps.Capturer == nil {
		return nil, fmt.Errorf("dialer, engine factory and capturer are required")
	}
	if deps.Metrics == nil {
		deps.Metrics = NopMetrics{}
	}
	if deps.Scheduler == nil {
		deps.Scheduler = eventloop.WallClock{}
	}
	if cfg.Capture == (domain.CaptureConstraints{}) {
		cfg.Capture = domain.PreferredProfile()
	}

	logger = logger.With(zap.String("identity", cfg.Identity.String()))
	sugar := logger.Sugar()
	loop := eventloop.New(sugar)

	channel := NewChannelSupervisor(
		ChannelConfig{URL: cfg.RelayURL, Backoff: cfg.Backoff, DialTimeout: cfg.DialTimeout},
		deps.Dialer, loop, deps.Scheduler, deps.Observer, deps.Metrics, sugar,
	)
	session := NewSessionManager(
		deps.Engines, deps.Capturer, deps.Sink, deps.Observer, deps.Metrics, loop, cfg.Capture, sugar,
	)
	coordinator := NewNegotiationCoordinator(
		cfg.Identity, session, NewCandidateBuffer(), channel, deps.Observer, deps.Metrics, logger,
	)
	channel.OnMessage(coordinator.HandleInbound)

	return &Client{
		identity:    cfg.Identity,
		loop:        loop,
		logger:      sugar,
		channel:     channel,
		session:     session,
		coordinator: coordinator,
	}, nil
}

func (c *Client) Identity() domain.Identity {
	return c.identity
}

// Init starts the event loop, creates the first engine and connects to the
// relay. ctx bounds the lifetime of the client.
func (c *Client) Init(ctx context.Context) error {
	var err error
	c.initOnce.Do(func() {
		go c.loop.Run(ctx)
		var initErr error
		if err = c.loop.Call(ctx, func() {
			if initErr = c.session.Init(); initErr != nil {
				return
			}
			c.channel.Connect()
		}); err == nil {
			err = initErr
		}
		if err == nil {
			c.logger.Infow("Client initialized")
		}
	})
	return err
}

func (c *Client) StartCall(ctx context.Context, peer domain.Identity) error {
	var err error
	if callErr := c.loop.Call(ctx, func() { err = c.coordinator.StartCall(peer) }); callErr != nil {
		return callErr
	}
	return err
}

func (c *Client) EndCall(ctx context.Context) error {
	var err error
	if callErr := c.loop.Call(ctx, func() { err = c.session.EndCall() }); callErr != nil {
		return callErr
	}
	return err
}

// Dispose closes the channel without reconnecting, releases media and the
// engine, and stops the event loop.
func (c *Client) Dispose(ctx context.Context) error {
	var err error
	c.disposeOnce.Do(func() {
		err = c.loop.Call(ctx, func() {
			c.channel.Close()
			c.session.Dispose()
		})
		c.loop.Stop()
		c.logger.Infow("Client disposed")
	})
	return err
}

func (c *Client) Snapshot(ctx context.Context) (domain.SessionSnapshot, error) {
	var snap domain.SessionSnapshot
	err := c.loop.Call(ctx, func() {
		snap = domain.SessionSnapshot{
			Identity:           c.identity,
			Peer:               c.coordinator.Peer(),
			Negotiation:        c.coordinator.State(),
			Connectivity:       c.coordinator.Connectivity().String(),
			Generation:         c.session.Generation(),
			BufferedCandidates: c.coordinator.BufferedCandidates(),
			CaptureActive:      c.session.CaptureActive(),
			Channel:            c.channel.Snapshot(),
		}
	})
	return snap, err
}

// ChannelOpen reports whether the signaling channel is currently open.
func (c *Client) ChannelOpen(ctx context.Context) (bool, error) {
	var open bool
	err := c.loop.Call(ctx, func() { open = c.channel.IsOpen() })
	return open, err
}

// Ping measures event loop latency.
func (c *Client) Ping(ctx context.Context) (time.Duration, error) {
	return c.loop.Ping(ctx)
}
