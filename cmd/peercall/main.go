package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"peercall/internal/core/domain"
	"peercall/internal/core/ports"
	"peercall/internal/core/services"
	httphandlers "peercall/internal/handlers/http"
	"peercall/internal/infrastructure/capture"
	"peercall/internal/infrastructure/middleware"
	"peercall/internal/infrastructure/monitoring"
	"peercall/internal/infrastructure/presentation"
	signalinfra "peercall/internal/infrastructure/signal"
	webrtcinfra "peercall/internal/infrastructure/webrtc"
	"peercall/pkg/backoff"
	"peercall/pkg/config"
	"peercall/pkg/logger"
	"peercall/pkg/tracing"

	"github.com/gin-gonic/gin"
	"github.com/pion/webrtc/v3"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

func main() {
	// Try multiple config paths
	configPaths := []string{
		"configs/config.yaml",
		"./configs/config.yaml",
		"/root/configs/config.yaml",
		"config.yaml",
	}

	var cfg *config.Config
	var err error

	for _, path := range configPaths {
		cfg, err = config.Load(path)
		if err == nil {
			break
		}
	}

	if err != nil {
		// Fallback to defaults if config cannot be loaded
		cfg = config.DefaultConfig()
	}

	zapLogger := logger.Must(cfg.Logging.Level, cfg.Logging.Format)
	defer zapLogger.Sync()

	log := zapLogger.Sugar()

	tp, err := tracing.Init(tracing.Config{
		Enabled:     cfg.Tracing.Enabled,
		ServiceName: cfg.Tracing.ServiceName,
		JaegerURL:   cfg.Tracing.JaegerURL,
		Environment: os.Getenv("PEERCALL_ENV"),
		SampleRate:  cfg.Tracing.SampleRate,
	})
	if err != nil {
		log.Fatalw("failed to initialize tracing", "error", err)
	}

	identity := domain.Identity(cfg.Client.Identity)
	if identity.IsZero() {
		identity = domain.NewIdentity()
	}
	relayURL, err := signalinfra.RelayURL(cfg.Client.RelayHost, cfg.Client.Secure, identity)
	if err != nil {
		log.Fatalw("invalid relay address", "host", cfg.Client.RelayHost, "error", err)
	}

	// Monitoring
	var metrics ports.SignalingMetrics = services.NopMetrics{}
	var metricsHandler http.Handler
	if cfg.Monitoring.PrometheusEnabled {
		metrics = monitoring.NewPrometheusCollector(prometheus.DefaultRegisterer)
		metricsHandler = promhttp.Handler()
		log.Info("Prometheus metrics enabled")
	}

	// WebRTC configuration (including STUN/TURN from config)
	var iceServers []webrtc.ICEServer
	for _, s := range cfg.WebRTC.ICEServers {
		iceServers = append(iceServers, webrtc.ICEServer{
			URLs:       s.URLs,
			Username:   s.Username,
			Credential: s.Credential,
		})
	}
	engineConfig := webrtcinfra.EngineConfig{ICEServers: iceServers}
	engineConfig.PortRange.Min = cfg.WebRTC.PortRange.Min
	engineConfig.PortRange.Max = cfg.WebRTC.PortRange.Max

	engines, err := webrtcinfra.NewEngineFactory(engineConfig, metrics, log)
	if err != nil {
		log.Fatalw("failed to create engine factory", "error", err)
	}

	// Presentation
	events := presentation.NewLogObserver(log.Named("status"))
	media := presentation.NewMediaSink(log.Named("media"))

	dialerConfig := signalinfra.DefaultDialerConfig()
	dialerConfig.HandshakeTimeout = cfg.Client.DialTimeout
	dialerConfig.ReadTimeout = cfg.Client.ReadTimeout

	// channelUp is signalled each time the signaling channel opens.
	channelUp := make(chan struct{}, 1)
	observers := ports.StatusFanout{
		events,
		ports.StatusObserverFunc(func(ev domain.StatusEvent) {
			if ev.Source == domain.SourceChannel && ev.Kind == domain.StatusConnected {
				select {
				case channelUp <- struct{}{}:
				default:
				}
			}
		}),
	}

	preferred := cfg.Capture.Preferred
	client, err := services.NewClient(
		services.ClientConfig{
			Identity:    identity,
			RelayURL:    relayURL,
			Backoff:     backoff.NewLinear(cfg.Reconnect.MaxAttempts, cfg.Reconnect.BaseDelay),
			DialTimeout: cfg.Client.DialTimeout,
			Capture: domain.CaptureConstraints{
				Audio: domain.AudioConstraints{
					Enabled:          true,
					EchoCancellation: preferred.EchoCancellation,
					NoiseSuppression: preferred.NoiseSuppression,
					AutoGainControl:  preferred.AutoGainControl,
				},
				Video: domain.VideoConstraints{
					Enabled:   true,
					Width:     preferred.Width,
					Height:    preferred.Height,
					FrameRate: preferred.FrameRate,
				},
			},
		},
		services.ClientDeps{
			Dialer:   signalinfra.NewWebSocketDialer(dialerConfig),
			Engines:  engines,
			Capturer: capture.NewSyntheticCapturer(cfg.Capture.Device, log.Named("capture")),
			Sink:     media,
			Observer: observers,
			Metrics:  metrics,
		},
		zapLogger,
	)
	if err != nil {
		log.Fatalw("failed to create client", "error", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := client.Init(ctx); err != nil {
		log.Fatalw("failed to initialize client", "error", err)
	}
	log.Infow("Client ready", "identity", identity, "relay", relayURL)

	// Health checks
	health := monitoring.NewHealthChecker()
	health.AddChannelCheck(client, 10*time.Second, 2*time.Second)
	health.AddEventLoopCheck(client, 500*time.Millisecond, 10*time.Second, 2*time.Second)
	health.StartBackgroundChecks(ctx)

	if peer := domain.Identity(cfg.Client.AutoCall); !peer.IsZero() {
		go autoCall(ctx, client, peer, channelUp, log)
	}

	// Configure Gin
	if cfg.Logging.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(
		middleware.RecoveryMiddleware(log),
		middleware.TracingMiddleware(),
		middleware.RequestLogMiddleware(logger.NewContextLogger(zapLogger)),
		middleware.NewHTTPRateLimitMiddleware(cfg),
		middleware.ErrorHandlerMiddleware(log),
	)

	handler := httphandlers.NewCallHandler(client, events, media, health, metricsHandler)
	handler.SetupRoutes(router)

	srv := &http.Server{
		Addr:              cfg.Client.ControlAddress,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		log.Infof("Starting control API on %s", cfg.Client.ControlAddress)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
	}()

	// Wait for shutdown signals or server error
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serverErr:
		log.Errorw("Control API failed", "error", err)
	case sig := <-sigChan:
		log.Infow("Received shutdown signal", "signal", sig)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Client.ShutdownTimeout)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Errorw("Error during server shutdown", "error", err)
		if closeErr := srv.Close(); closeErr != nil {
			log.Errorw("Error force closing server", "error", closeErr)
		}
	}

	if err := client.Dispose(shutdownCtx); err != nil {
		log.Errorw("Error disposing client", "error", err)
	}
	cancel()

	if err := tp.Shutdown(shutdownCtx); err != nil {
		log.Errorw("Error shutting down tracer", "error", err)
	}

	log.Info("Client stopped")
}

// autoCall places a call to peer once the signaling channel first opens.
func autoCall(ctx context.Context, client *services.Client, peer domain.Identity, channelUp <-chan struct{}, log *zap.SugaredLogger) {
	select {
	case <-ctx.Done():
		return
	case <-channelUp:
	}
	if err := client.StartCall(ctx, peer); err != nil {
		log.Errorw("auto call failed", "peer", peer, "error", err)
		return
	}
	log.Infow("auto call placed", "peer", peer)
}
