package auth

import (
	"context"
	"log/slog"
	"time"

	"github.com/mstefan21/qrelay/internal/pool"
	"github.com/mstefan21/qrelay/internal/relay"
)

const DefaultRefreshInterval = 5 * time.Minute

// Service resolves bearer tokens for accounts, going through the cache first
// and falling back to a fresh exchange.
type Service struct {
	cache    TokenCache
	exchange *ExchangeClient
	logger   *slog.Logger
}

func NewService(cache TokenCache, exchange *ExchangeClient, logger *slog.Logger) *Service {
	if cache == nil {
		cache = NewMemoryCache()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{cache: cache, exchange: exchange, logger: logger}
}

// TokenFor returns a usable bearer token for the account. A cache miss forces
// an exchange; exchange failures come back as *relay.ExchangeError so the
// orchestrator can charge them to the account.
func (s *Service) TokenFor(ctx context.Context, creds pool.Credentials) (Token, error) {
	if tok, ok := s.cache.Get(ctx, creds.AccountID); ok {
		return tok, nil
	}

	tok, err := s.exchange.Exchange(ctx, creds.RefreshToken, creds.ClientID, creds.ClientSecret)
	if err != nil {
		return Token{}, &relay.ExchangeError{Account: creds.Name, Err: err}
	}

	if err := s.cache.Put(ctx, creds.AccountID, tok); err != nil {
		s.logger.Warn("cache token", "account", creds.Name, "error", err)
	}
	return tok, nil
}

// Invalidate drops the cached token for an account, after a credential
// rotation or an auth failure on a request that used it.
func (s *Service) Invalidate(ctx context.Context, accountID int64) {
	if err := s.cache.Invalidate(ctx, accountID); err != nil {
		s.logger.Warn("invalidate token", "account_id", accountID, "error", err)
	}
}

// Refresher proactively refreshes tokens that are missing or inside the
// safety margin, so foreground requests rarely pay exchange latency.
type Refresher struct {
	service  *Service
	pool     *pool.Pool
	interval time.Duration
	logger   *slog.Logger
}

func NewRefresher(service *Service, p *pool.Pool, interval time.Duration, logger *slog.Logger) *Refresher {
	if interval <= 0 {
		interval = DefaultRefreshInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Refresher{service: service, pool: p, interval: interval, logger: logger}
}

// Run blocks until ctx is cancelled. Each account's refresh failure is logged
// and skipped so one bad account cannot halt the sweep for the rest.
func (r *Refresher) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.sweep(ctx)
		}
	}
}

func (r *Refresher) sweep(ctx context.Context) {
	for _, creds := range r.pool.ActiveCredentials() {
		if _, ok := r.service.cache.Get(ctx, creds.AccountID); ok {
			continue
		}
		if _, err := r.service.TokenFor(ctx, creds); err != nil {
			r.logger.Warn("token pre-refresh failed", "account", creds.Name, "error", err)
			continue
		}
		r.logger.Debug("token pre-refreshed", "account", creds.Name)
	}
}
