package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"codecollab/internal/core/ports"
	"codecollab/internal/core/services"
	httphandlers "codecollab/internal/handlers/http"
	"codecollab/internal/infrastructure/assistant"
	"codecollab/internal/infrastructure/middleware"
	"codecollab/internal/infrastructure/monitoring"
	"codecollab/internal/infrastructure/relay"
	"codecollab/internal/infrastructure/reliability"
	repositories "codecollab/internal/infrastructure/repositories"
	"codecollab/pkg/circuitbreaker"
	"codecollab/pkg/config"
	"codecollab/pkg/logger"
	"codecollab/pkg/retry"
	"codecollab/pkg/tracing"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func main() {
	startTime := time.Now()

	// Try multiple config paths
	configPaths := []string{
		"configs/config.yaml",
		"./configs/config.yaml",
		"/etc/codecollab/config.yaml",
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

	// Initialize logger
	zapLogger := logger.New(cfg.Logging.Level)
	defer zapLogger.Sync()

	log := zapLogger.Sugar()

	// Initialize tracing
	if cfg.Tracing.Enabled {
		tp, err := tracing.Init(tracing.Config{
			Enabled:     true,
			ServiceName: "codecollab-relay",
			JaegerURL:   cfg.Tracing.JaegerURL,
			Environment: cfg.Tracing.Environment,
			SampleRate:  cfg.Tracing.SampleRate,
		})
		if err != nil {
			log.Errorw("failed to initialize tracing", "error", err)
		} else {
			defer func() {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				if err := tp.Shutdown(shutdownCtx); err != nil {
					log.Errorw("failed to shut down tracer provider", "error", err)
				}
			}()
		}
	}

	// Initialize repository factory
	repoFactory, err := repositories.NewRepositoryFactory(cfg, log)
	if err != nil {
		log.Fatalw("failed to create repository factory", "error", err)
	}
	defer repoFactory.Close()

	presenceRepo := repoFactory.CreatePresenceRepository()
	roomRepo := repoFactory.CreateRoomRepository()

	// File store calls go through retry plus a circuit breaker so a flapping
	// backend does not stall document persistence.
	fileRepo := reliability.NewFileRepositoryWrapper(
		repoFactory.CreateFileRepository(),
		retry.DefaultConfig(),
		circuitbreaker.DefaultConfig(),
		log,
	)

	// Initialize services
	authService := services.NewAuthService(cfg.Auth.JWTSecret, cfg.Auth.JoinTokenTTL)

	// Initialize monitoring
	prometheusCollector := monitoring.NewPrometheusCollector()

	healthChecker := monitoring.NewHealthChecker()
	healthChecker.AddCheck("presence_store", func(ctx context.Context) (bool, error) {
		if client := repoFactory.RedisClient(); client != nil {
			if err := client.Ping(ctx).Err(); err != nil {
				return false, err
			}
		}
		return true, nil
	}, 10*time.Second, 2*time.Second)

	// Initialize the WebSocket relay
	relayCfg := relay.Config{
		PingInterval:      cfg.Relay.PingInterval,
		PongTimeout:       cfg.Relay.PongTimeout,
		ReadTimeout:       cfg.Relay.ReadTimeout,
		WriteTimeout:      cfg.Relay.WriteTimeout,
		MaxMessage:        cfg.Relay.MaxMessageSizeBytes,
		MessagesPerSecond: cfg.RateLimiting.WebSocket.MessagesPerSecond,
		MessageBurst:      cfg.RateLimiting.WebSocket.Burst,
	}
	if !cfg.RateLimiting.Enabled {
		defaults := relay.DefaultServerConfig()
		relayCfg.MessagesPerSecond = defaults.MessagesPerSecond
		relayCfg.MessageBurst = defaults.MessageBurst
	}

	relayServer := relay.NewWebSocketServer(presenceRepo, authService, relayCfg, log)
	relayServer.SetMetrics(prometheusCollector)

	// Cross-instance fanout only makes sense when presence already lives in
	// Redis; otherwise each instance is its own island.
	var fanout *relay.RedisFanout
	if client := repoFactory.RedisClient(); client != nil {
		fanout = relay.NewRedisFanout(client, log)
		if err := fanout.Start(context.Background()); err != nil {
			log.Errorw("failed to start relay fanout, running single-instance", "error", err)
			fanout = nil
		} else {
			relayServer.SetFanout(fanout)
			defer fanout.Stop()
		}
	}

	// Assistant proxy is optional
	var assistantService ports.Assistant
	if cfg.Assistant.UpstreamURL != "" {
		assistantService = assistant.NewHTTPAssistant(cfg.Assistant.UpstreamURL, cfg.Assistant.RequestTimeout, log)
	}

	// Initialize HTTP handlers
	roomHandler := httphandlers.NewRoomHandler(roomRepo, fileRepo, authService, assistantService)

	// Configure Gin
	if cfg.Logging.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Logger())
	router.Use(middleware.RecoveryMiddleware(log))
	router.Use(middleware.ErrorHandlerMiddleware(log))
	router.Use(middleware.TracingMiddleware())
	router.Use(middleware.NewHTTPRateLimitMiddleware(cfg))

	roomHandler.SetupRoutes(router)

	// Health check endpoint
	router.GET("/health", func(c *gin.Context) {
		status := healthChecker.CheckAll(c.Request.Context())
		code := http.StatusOK
		if status.Status != "healthy" {
			code = http.StatusServiceUnavailable
		}
		c.JSON(code, gin.H{
			"status": status,
			"uptime": time.Since(startTime).String(),
		})
	})

	// Prometheus metrics endpoint on its own port
	if cfg.Monitoring.PrometheusEnabled {
		go func() {
			addr := fmt.Sprintf(":%d", cfg.Monitoring.PrometheusPort)
			mux := http.NewServeMux()
			mux.Handle("/metrics", promhttp.Handler())
			log.Infof("Prometheus metrics listening on %s", addr)
			if err := http.ListenAndServe(addr, mux); err != nil && err != http.ErrServerClosed {
				log.Errorw("metrics server failed", "error", err)
			}
		}()
	}

	// HTTP API server
	apiSrv := &http.Server{
		Addr:         cfg.Server.Address,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	// WebSocket relay server; no write timeout at the server level because
	// connections are long-lived and pings come from the frame loop.
	relayMux := http.NewServeMux()
	relayMux.HandleFunc("/ws", relayServer.HandleWebSocket)
	relaySrv := &http.Server{
		Addr:    cfg.Relay.Address,
		Handler: relayMux,
	}

	serverErr := make(chan error, 2)
	go func() {
		log.Infof("Starting CodeCollab API server on %s", cfg.Server.Address)
		if err := apiSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
	}()
	go func() {
		log.Infof("Starting CodeCollab relay on %s", cfg.Relay.Address)
		if err := relaySrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
	}()

	// Wait for shutdown signals or server error
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serverErr:
		log.Fatalw("Server failed", "error", err)
	case sig := <-sigChan:
		log.Infow("Received shutdown signal", "signal", sig)
	}

	log.Info("Shutting down CodeCollab relay...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Relay.ShutdownTimeout)
	defer shutdownCancel()

	if err := relaySrv.Shutdown(shutdownCtx); err != nil {
		log.Errorw("Error during relay shutdown", "error", err)
		if closeErr := relaySrv.Close(); closeErr != nil {
			log.Errorw("Error force closing relay", "error", closeErr)
		}
	}
	if err := apiSrv.Shutdown(shutdownCtx); err != nil {
		log.Errorw("Error during API server shutdown", "error", err)
		if closeErr := apiSrv.Close(); closeErr != nil {
			log.Errorw("Error force closing API server", "error", closeErr)
		}
	}

	if err := repoFactory.Close(); err != nil {
		log.Errorw("Error closing repository factory", "error", err)
	}

	log.Info("CodeCollab relay stopped")
}
