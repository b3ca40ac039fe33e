package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mstefan21/qrelay/internal/auth"
	"github.com/mstefan21/qrelay/internal/config"
	"github.com/mstefan21/qrelay/internal/handlers"
	"github.com/mstefan21/qrelay/internal/middleware"
	"github.com/mstefan21/qrelay/internal/pool"
	"github.com/mstefan21/qrelay/internal/store"
	"github.com/mstefan21/qrelay/internal/upstream"
)

// Version is stamped at build time.
var Version = "dev"

type Server struct {
	config *config.Manager
	logger *slog.Logger

	pool   *pool.Pool
	tokens *auth.Service
	server *http.Server
}

func New(configManager *config.Manager, logger *slog.Logger) *Server {
	return &Server{
		config: configManager,
		logger: logger,
	}
}

func (s *Server) Start() error {
	cfg := s.config.Get()
	if cfg == nil {
		return fmt.Errorf("configuration not loaded")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := s.buildPool(ctx, cfg); err != nil {
		return err
	}

	tokenCache, err := s.buildTokenCache(ctx, cfg)
	if err != nil {
		return err
	}
	exchange := auth.NewExchangeClient(cfg.Upstream.TokenEndpoint)
	s.tokens = auth.NewService(tokenCache, exchange, s.logger)

	upstreamClient := upstream.NewClient(cfg.Upstream.Endpoint)

	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	mux := s.setupRoutes(upstreamClient)

	s.server = &http.Server{
		Addr:    addr,
		Handler: mux,
	}

	// Background maintenance: health auto-recovery and token pre-warming.
	sweeper := pool.NewSweeper(s.pool, time.Duration(cfg.Pool.RecoverSweepSeconds)*time.Second, s.logger)
	go sweeper.Run(ctx)

	refresher := auth.NewRefresher(s.tokens, s.pool, time.Duration(cfg.Pool.TokenRefreshSeconds)*time.Second, s.logger)
	go refresher.Run(ctx)

	s.logger.Info("Starting server", "address", addr, "accounts", len(s.pool.Snapshot()))

	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("Server error", "error", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	s.logger.Info("Server is shutting down...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := s.server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	s.logger.Info("Server exited")
	return nil
}

func (s *Server) Stop() error {
	if s.server == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	return s.server.Shutdown(ctx)
}

// buildPool loads accounts from postgres when DATABASE_URL is set, otherwise
// from the JSON accounts file.
func (s *Server) buildPool(ctx context.Context, cfg *config.Config) error {
	var st pool.Store
	if cfg.DatabaseURL != "" {
		pg, err := store.NewPostgres(cfg.DatabaseURL)
		if err != nil {
			return fmt.Errorf("connect database: %w", err)
		}
		st = pg
	} else {
		if cfg.AccountsFile == "" {
			return fmt.Errorf("no account source: set DATABASE_URL or ACCOUNTS_FILE")
		}
		st = store.NewFile(cfg.AccountsFile)
		s.logger.Warn("running without a database, account state will not persist", "accounts_file", cfg.AccountsFile)
	}

	accounts, err := st.LoadAccounts(ctx)
	if err != nil {
		return fmt.Errorf("load accounts: %w", err)
	}
	if len(accounts) == 0 {
		return fmt.Errorf("no accounts configured")
	}

	s.pool = pool.New(accounts, st, pool.Options{
		ErrorWindow:    time.Duration(cfg.Pool.ErrorWindowMinutes) * time.Minute,
		ErrorThreshold: cfg.Pool.ErrorThreshold,
		RecoverAfter:   time.Duration(cfg.Pool.RecoverAfterMinutes) * time.Minute,
	}, s.logger)

	return nil
}

func (s *Server) buildTokenCache(ctx context.Context, cfg *config.Config) (auth.TokenCache, error) {
	if cfg.RedisURL == "" {
		s.logger.Info("REDIS_URL not set, caching tokens in memory")
		return auth.NewMemoryCache(), nil
	}

	cache, err := auth.NewRedisCache(ctx, cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("connect redis: %w", err)
	}
	return cache, nil
}

func (s *Server) setupRoutes(upstreamClient *upstream.Client) *http.ServeMux {
	mux := http.NewServeMux()

	relayHandler := handlers.NewRelayHandler(s.pool, s.tokens, upstreamClient, s.logger)
	healthHandler := handlers.NewHealthHandler(s.pool, Version)

	middlewareSet := middleware.NewMiddlewareSet(s.config, s.logger)

	mux.Handle("/health", middlewareSet.HealthChain().Handler(healthHandler))
	mux.Handle("/v1/messages", middlewareSet.DefaultChain().Handler(relayHandler.Messages()))
	mux.Handle("/v1/chat/completions", middlewareSet.DefaultChain().Handler(relayHandler.ChatCompletions()))

	return mux
}
