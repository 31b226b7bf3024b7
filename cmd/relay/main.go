package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"peercall/internal/core/ports"
	"peercall/internal/infrastructure/middleware"
	"peercall/internal/infrastructure/monitoring"
	signalinfra "peercall/internal/infrastructure/signal"
	"peercall/pkg/config"
	"peercall/pkg/logger"
	"peercall/pkg/tracing"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
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
		cfg = config.DefaultConfig()
	}

	zapLogger := logger.Must(cfg.Logging.Level, cfg.Logging.Format)
	defer zapLogger.Sync()

	log := zapLogger.Sugar().Named("relay")

	tracingConfig := tracing.DefaultConfig()
	tracingConfig.Enabled = cfg.Tracing.Enabled
	tracingConfig.ServiceName = cfg.Tracing.ServiceName + "-relay"
	tracingConfig.JaegerURL = cfg.Tracing.JaegerURL
	tracingConfig.SampleRate = cfg.Tracing.SampleRate
	if env := os.Getenv("PEERCALL_ENV"); env != "" {
		tracingConfig.Environment = env
	}
	tp, err := tracing.Init(tracingConfig)
	if err != nil {
		log.Fatalw("failed to initialize tracing", "error", err)
	}

	var metrics ports.RelayMetrics
	if cfg.Monitoring.PrometheusEnabled {
		metrics = monitoring.NewPrometheusCollector(prometheus.DefaultRegisterer)
	}

	relay := signalinfra.NewRelayServer(signalinfra.RelayConfig{
		PingInterval:      cfg.Relay.PingInterval,
		PongTimeout:       cfg.Relay.PongTimeout,
		WriteTimeout:      cfg.Relay.WriteTimeout,
		MessagesPerSecond: cfg.Relay.MessagesPerSecond,
		Burst:             cfg.Relay.Burst,
		MaxMessageSize:    cfg.Relay.MaxMessageSizeBytes,
	}, metrics, log)

	if cfg.Logging.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(
		middleware.RecoveryMiddleware(log),
		middleware.TracingMiddleware(),
	)
	relay.RegisterRoutes(router)
	if cfg.Monitoring.PrometheusEnabled {
		router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	}

	srv := &http.Server{
		Addr:              cfg.Relay.Address,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		log.Infof("Starting signaling relay on %s", cfg.Relay.Address)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serverErr:
		log.Fatalw("Relay failed", "error", err)
	case sig := <-sigChan:
		log.Infow("Received shutdown signal", "signal", sig)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Relay.ShutdownTimeout)
	defer shutdownCancel()

	// Hijacked websocket connections are not tracked by Shutdown.
	relay.Close()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Errorw("Error during relay shutdown", "error", err)
		if closeErr := srv.Close(); closeErr != nil {
			log.Errorw("Error force closing relay", "error", closeErr)
		}
	}

	if err := tp.Shutdown(shutdownCtx); err != nil {
		log.Errorw("Error shutting down tracer", "error", err)
	}

	log.Info("Signaling relay stopped")
}
