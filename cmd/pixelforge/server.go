package main

import (
	"context"
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/pixelforge/pixelforge/api/handlers"
	"github.com/pixelforge/pixelforge/auth"
	"github.com/pixelforge/pixelforge/config"
	"github.com/pixelforge/pixelforge/generation"
	"github.com/pixelforge/pixelforge/imagegen"
	"github.com/pixelforge/pixelforge/internal/cache"
	"github.com/pixelforge/pixelforge/internal/server"
	"github.com/pixelforge/pixelforge/internal/telemetry"
	"github.com/pixelforge/pixelforge/store"
)

// Server wires the full PixelForge stack: storage, provider adapters,
// orchestration, submission queue and the two HTTP listeners.
type Server struct {
	cfg    *config.Config
	logger *zap.Logger

	httpManager    *server.Manager
	metricsManager *server.Manager

	store     *store.Store
	taskCache *cache.TaskCache
	authSvc   *auth.Service
	queue     *generation.SubmissionQueue
	telemetry *telemetry.Providers

	healthHandler   *handlers.HealthHandler
	generateHandler *handlers.GenerateHandler
	historyHandler  *handlers.HistoryHandler
	creditsHandler  *handlers.CreditsHandler
	authHandler     *handlers.AuthHandler
	feedHandler     *handlers.FeedHandler

	rateLimiterCancel context.CancelFunc
}

// NewServer creates an unstarted server.
func NewServer(cfg *config.Config, logger *zap.Logger, providers *telemetry.Providers) *Server {
	return &Server{
		cfg:       cfg,
		logger:    logger,
		telemetry: providers,
	}
}

// Start initializes every component and brings up both listeners.
func (s *Server) Start() error {
	if err := s.initStorage(); err != nil {
		return fmt.Errorf("failed to init storage: %w", err)
	}
	if err := s.initServices(); err != nil {
		return fmt.Errorf("failed to init services: %w", err)
	}
	if err := s.startHTTPServer(); err != nil {
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}
	if err := s.startMetricsServer(); err != nil {
		return fmt.Errorf("failed to start metrics server: %w", err)
	}

	s.logger.Info("All servers started",
		zap.Int("http_port", s.cfg.Server.HTTPPort),
		zap.Int("metrics_port", s.cfg.Server.MetricsPort),
	)
	return nil
}

func (s *Server) initStorage() error {
	st, err := store.Open(s.cfg.Database, store.Options{
		Logger:         s.logger,
		InitialBalance: s.cfg.Credits.InitialBalance,
		CacheDir:       s.cfg.Storage.CacheDir,
	})
	if err != nil {
		return err
	}
	if err := st.AutoMigrate(); err != nil {
		return fmt.Errorf("auto-migrate failed: %w", err)
	}
	s.store = st

	if s.cfg.Redis.Enabled {
		taskCache, err := cache.New(s.cfg.Redis, s.logger)
		if err != nil {
			s.logger.Warn("Redis not available, task cache disabled", zap.Error(err))
		} else {
			s.taskCache = taskCache
		}
	}
	return nil
}

func (s *Server) initServices() error {
	s.authSvc = auth.NewService(s.store, s.cfg.Auth, s.logger)
	if err := s.authSvc.Bootstrap(context.Background()); err != nil {
		return fmt.Errorf("auth bootstrap failed: %w", err)
	}

	engines := generation.Engines{
		Gemini:     imagegen.NewGeminiAdapter(s.cfg.Providers.Gemini, s.logger),
		Midjourney: imagegen.NewMidjourneyAdapter(s.cfg.Providers.Midjourney, s.logger),
		Flux:       imagegen.NewFluxAdapter(s.cfg.Providers.Flux, s.logger),
	}

	orch := generation.NewOrchestrator(engines, s.store, s.authSvc, s.logger)
	poller := generation.NewPoller(engines, s.store, s.taskCache, s.logger)

	s.queue = generation.NewSubmissionQueue(orch, poller, s.cfg.Queue, s.logger)
	s.queue.Start()

	s.healthHandler = handlers.NewHealthHandler(s.logger)
	s.healthHandler.RegisterCheck(handlers.NewPingCheck("database", s.pingDatabase))
	if s.taskCache != nil {
		s.healthHandler.RegisterCheck(handlers.NewPingCheck("redis", s.taskCache.Ping))
	}

	s.generateHandler = handlers.NewGenerateHandler(orch, s.queue, poller, s.logger)
	s.historyHandler = handlers.NewHistoryHandler(s.store, s.authSvc, s.logger)
	s.creditsHandler = handlers.NewCreditsHandler(s.store, s.authSvc, s.logger)
	s.authHandler = handlers.NewAuthHandler(s.authSvc, s.logger)
	s.feedHandler = handlers.NewFeedHandler(s.queue, s.cfg.Server.CORSAllowedOrigins, s.logger)

	s.logger.Info("Services initialized")
	return nil
}

func (s *Server) pingDatabase(ctx context.Context) error {
	sqlDB, err := s.store.DB().DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

func (s *Server) startHTTPServer() error {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", s.healthHandler.HandleHealth)
	mux.HandleFunc("GET /healthz", s.healthHandler.HandleHealth)
	mux.HandleFunc("GET /ready", s.healthHandler.HandleReady)
	mux.HandleFunc("GET /readyz", s.healthHandler.HandleReady)
	mux.HandleFunc("GET /version", s.healthHandler.HandleVersion(Version, BuildTime, GitCommit))

	mux.HandleFunc("POST /api/v1/auth/register", s.authHandler.HandleRegister)
	mux.HandleFunc("POST /api/v1/auth/login", s.authHandler.HandleLogin)

	mux.HandleFunc("POST /api/v1/generate", s.generateHandler.HandleGenerate)
	mux.HandleFunc("POST /api/v1/queue-generate", s.generateHandler.HandleQueueGenerate)
	mux.HandleFunc("POST /api/v1/generate/action", s.generateHandler.HandleAction)
	mux.HandleFunc("GET /api/v1/generate/status/{taskId}", s.generateHandler.HandleStatus)

	mux.HandleFunc("GET /api/v1/history", s.historyHandler.HandleList)
	mux.HandleFunc("POST /api/v1/history/delete", s.historyHandler.HandleDelete)
	mux.HandleFunc("POST /api/v1/history/favorite", s.historyHandler.HandleFavorite)

	mux.HandleFunc("GET /api/v1/credits", s.creditsHandler.HandleBalance)

	mux.HandleFunc("GET /api/v1/feed", s.feedHandler.HandleFeed)

	rateLimiterCtx, rateLimiterCancel := context.WithCancel(context.Background())
	s.rateLimiterCancel = rateLimiterCancel

	handler := Chain(mux,
		Recovery(s.logger),
		RequestID(),
		SecurityHeaders(),
		RequestLogger(s.logger),
		OTelTracing(),
		Metrics(),
		CORS(s.cfg.Server.CORSAllowedOrigins),
		RateLimiter(rateLimiterCtx, s.cfg.Server.RateLimitRPS, s.cfg.Server.RateLimitBurst, s.logger),
		s.authSvc.Middleware,
	)

	serverConfig := server.Config{
		Addr:            fmt.Sprintf(":%d", s.cfg.Server.HTTPPort),
		ReadTimeout:     s.cfg.Server.ReadTimeout,
		WriteTimeout:    s.cfg.Server.WriteTimeout,
		IdleTimeout:     2 * s.cfg.Server.ReadTimeout,
		MaxHeaderBytes:  1 << 20,
		ShutdownTimeout: s.cfg.Server.ShutdownTimeout,
	}

	s.httpManager = server.NewManager(handler, serverConfig, s.logger)
	if err := s.httpManager.Start(); err != nil {
		return err
	}

	s.logger.Info("HTTP server started", zap.Int("port", s.cfg.Server.HTTPPort))
	return nil
}

func (s *Server) startMetricsServer() error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	serverConfig := server.Config{
		Addr:            fmt.Sprintf(":%d", s.cfg.Server.MetricsPort),
		ReadTimeout:     s.cfg.Server.ReadTimeout,
		WriteTimeout:    s.cfg.Server.WriteTimeout,
		ShutdownTimeout: s.cfg.Server.ShutdownTimeout,
	}

	s.metricsManager = server.NewManager(mux, serverConfig, s.logger)
	if err := s.metricsManager.Start(); err != nil {
		return err
	}

	s.logger.Info("Metrics server started", zap.Int("port", s.cfg.Server.MetricsPort))
	return nil
}

// WaitForShutdown blocks until a shutdown signal, then tears everything down.
func (s *Server) WaitForShutdown() {
	if s.httpManager != nil {
		s.httpManager.WaitForShutdown()
	}
	s.Shutdown()
}

// Shutdown stops both listeners, then the queue and every backing
// connection. The HTTP server goes first so no handler can enqueue into a
// queue that is already stopping.
func (s *Server) Shutdown() {
	s.logger.Info("Starting graceful shutdown...")
	ctx := context.Background()

	if s.httpManager != nil {
		if err := s.httpManager.Shutdown(ctx); err != nil {
			s.logger.Error("HTTP server shutdown error", zap.Error(err))
		}
	}
	if s.rateLimiterCancel != nil {
		s.rateLimiterCancel()
	}
	if s.queue != nil {
		s.queue.Stop()
	}
	if s.metricsManager != nil {
		if err := s.metricsManager.Shutdown(ctx); err != nil {
			s.logger.Error("Metrics server shutdown error", zap.Error(err))
		}
	}
	if s.taskCache != nil {
		if err := s.taskCache.Close(); err != nil {
			s.logger.Error("Task cache close error", zap.Error(err))
		}
	}
	if s.store != nil {
		if err := s.store.Close(); err != nil {
			s.logger.Error("Store close error", zap.Error(err))
		}
	}
	if s.telemetry != nil {
		if err := s.telemetry.Shutdown(ctx); err != nil {
			s.logger.Error("Telemetry shutdown error", zap.Error(err))
		}
	}

	s.logger.Info("Graceful shutdown completed")
}
