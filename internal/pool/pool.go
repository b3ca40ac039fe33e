package pool

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/mstefan21/qrelay/internal/relay"
)

const (
	DefaultErrorWindow    = 10 * time.Minute
	DefaultErrorThreshold = 5
	DefaultRecoverAfter   = 30 * time.Minute

	rpmWindow = time.Minute
)

// Store persists account mutations and usage rows. The pool treats it as a
// write-behind: selection and health decisions run on in-memory state, and
// every mutation is flushed through the store afterwards.
type Store interface {
	LoadAccounts(ctx context.Context) ([]*Account, error)
	SaveAccount(ctx context.Context, a *Account) error
	AppendUsage(ctx context.Context, rec UsageRecord) error
}

// Options tune the health window. Zero values fall back to the defaults.
type Options struct {
	ErrorWindow    time.Duration
	ErrorThreshold int
	RecoverAfter   time.Duration
}

func (o Options) withDefaults() Options {
	if o.ErrorWindow <= 0 {
		o.ErrorWindow = DefaultErrorWindow
	}
	if o.ErrorThreshold <= 0 {
		o.ErrorThreshold = DefaultErrorThreshold
	}
	if o.RecoverAfter <= 0 {
		o.RecoverAfter = DefaultRecoverAfter
	}
	return o
}

// Pool hands out accounts round-robin under rate admission and health
// filtering, and owns the health state machine. One mutex serializes the
// cursor, the counters and the health fields; no two concurrent selections
// can spend the same rate-limit slot twice.
type Pool struct {
	mu       sync.Mutex
	accounts []*Account
	cursor   int

	opts   Options
	store  Store
	logger *slog.Logger
	now    func() time.Time
}

func New(accounts []*Account, store Store, opts Options, logger *slog.Logger) *Pool {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pool{
		accounts: accounts,
		opts:     opts.withDefaults(),
		store:    store,
		logger:   logger,
		now:      time.Now,
	}
}

// Select returns a copy of the next usable account, charging one admission
// slot against it. It fails with relay.ErrPoolExhausted when no active,
// healthy account exists. When every candidate is over its ceiling the
// cursor's account is served anyway and a warning is logged; rejecting would
// trade availability for strictness.
func (p *Pool) Select(ctx context.Context) (Account, error) {
	p.mu.Lock()

	now := p.now()
	p.recoverLocked(now)

	var candidates []*Account
	for _, a := range p.accounts {
		if a.IsActive && a.IsHealthy {
			candidates = append(candidates, a)
		}
	}
	if len(candidates) == 0 {
		p.mu.Unlock()
		return Account{}, relay.ErrPoolExhausted
	}

	start := p.cursor % len(candidates)
	pick := -1
	for i := 0; i < len(candidates); i++ {
		idx := (start + i) % len(candidates)
		if !candidates[idx].rateLimited(now) {
			pick = idx
			break
		}
	}
	if pick == -1 {
		pick = start
		p.logger.Warn("all accounts rate limited, serving over limit",
			"account", candidates[pick].Name,
			"rpm", candidates[pick].CurrentRPM,
			"limit", candidates[pick].RequestsPerMinute,
		)
	}

	chosen := candidates[pick]
	if chosen.RPMResetAt.IsZero() || !now.Before(chosen.RPMResetAt) {
		chosen.CurrentRPM = 0
		chosen.RPMResetAt = now.Add(rpmWindow)
	}
	chosen.CurrentRPM++
	chosen.TotalRequests++
	chosen.LastUsed = now
	p.cursor = pick + 1

	out := *chosen
	p.mu.Unlock()

	p.persist(ctx, &out)
	return out, nil
}

// ReportOutcome feeds a request outcome back into the health state machine.
// Success clears all error state immediately. Failures accumulate inside the
// error window; reaching the threshold trips the breaker until AutoRecoverAt.
func (p *Pool) ReportOutcome(ctx context.Context, accountID int64, success bool, detail string) {
	p.mu.Lock()
	a := p.findLocked(accountID)
	if a == nil {
		p.mu.Unlock()
		return
	}

	now := p.now()
	if success {
		wasUnhealthy := !a.IsHealthy
		a.ErrorCount = 0
		a.FirstErrorTime = time.Time{}
		a.LastErrorTime = time.Time{}
		a.AutoRecoverAt = time.Time{}
		a.HealthCheckError = ""
		a.IsHealthy = true
		if wasUnhealthy {
			p.logger.Info("account recovered on success", "account", a.Name)
		}
	} else {
		p.failLocked(a, detail, now)
	}

	out := *a
	p.mu.Unlock()

	p.persist(ctx, &out)
}

func (p *Pool) failLocked(a *Account, detail string, now time.Time) {
	if a.FirstErrorTime.IsZero() || now.Sub(a.FirstErrorTime) > p.opts.ErrorWindow {
		// Entries older than the window are logically discarded.
		a.ErrorCount = 1
		a.FirstErrorTime = now
	} else {
		a.ErrorCount++
	}
	a.LastErrorTime = now
	a.HealthCheckError = detail

	if a.IsHealthy {
		if a.ErrorCount >= p.opts.ErrorThreshold {
			a.IsHealthy = false
			a.AutoRecoverAt = now.Add(p.opts.RecoverAfter)
			p.logger.Warn("account marked unhealthy",
				"account", a.Name,
				"errors", a.ErrorCount,
				"recover_at", a.AutoRecoverAt,
			)
		}
	} else if a.AutoRecoverAt.IsZero() || !a.AutoRecoverAt.After(now) {
		a.AutoRecoverAt = now.Add(p.opts.RecoverAfter)
	}
}

// RecordUsage adds tokens to an account's monotonic counters.
func (p *Pool) RecordUsage(ctx context.Context, accountID int64, tokens int) {
	p.mu.Lock()
	a := p.findLocked(accountID)
	if a == nil {
		p.mu.Unlock()
		return
	}
	a.TotalTokens += int64(tokens)
	out := *a
	p.mu.Unlock()

	p.persist(ctx, &out)
}

// RecoverSweep restores every unhealthy account whose recovery deadline has
// passed. It runs at the start of every selection and from the background
// sweeper.
func (p *Pool) RecoverSweep(ctx context.Context) int {
	p.mu.Lock()
	recovered := p.recoverLocked(p.now())
	saved := make([]Account, 0, len(recovered))
	for _, a := range recovered {
		saved = append(saved, *a)
	}
	p.mu.Unlock()

	for i := range saved {
		p.persist(ctx, &saved[i])
	}
	return len(saved)
}

func (p *Pool) recoverLocked(now time.Time) []*Account {
	var recovered []*Account
	for _, a := range p.accounts {
		if a.IsHealthy || a.AutoRecoverAt.IsZero() || a.AutoRecoverAt.After(now) {
			continue
		}
		a.IsHealthy = true
		a.ErrorCount = 0
		a.FirstErrorTime = time.Time{}
		a.LastErrorTime = time.Time{}
		a.AutoRecoverAt = time.Time{}
		a.HealthCheckError = ""
		recovered = append(recovered, a)
		p.logger.Info("account auto-recovered", "account", a.Name)
	}
	return recovered
}

// ActiveCredentials snapshots the credentials of every active account for
// the token pre-refresh sweep.
func (p *Pool) ActiveCredentials() []Credentials {
	p.mu.Lock()
	defer p.mu.Unlock()

	creds := make([]Credentials, 0, len(p.accounts))
	for _, a := range p.accounts {
		if !a.IsActive {
			continue
		}
		creds = append(creds, Credentials{
			AccountID:    a.ID,
			Name:         a.Name,
			RefreshToken: a.RefreshToken,
			ClientID:     a.ClientID,
			ClientSecret: a.ClientSecret,
		})
	}
	return creds
}

// Snapshot returns copies of all accounts for status reporting.
func (p *Pool) Snapshot() []Account {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make([]Account, 0, len(p.accounts))
	for _, a := range p.accounts {
		out = append(out, *a)
	}
	return out
}

// LogUsage appends a usage row through the store, if one is configured.
func (p *Pool) LogUsage(ctx context.Context, rec UsageRecord) {
	if p.store == nil {
		return
	}
	if err := p.store.AppendUsage(ctx, rec); err != nil {
		p.logger.Error("append usage log", "account_id", rec.AccountID, "error", err)
	}
}

func (p *Pool) findLocked(id int64) *Account {
	for _, a := range p.accounts {
		if a.ID == id {
			return a
		}
	}
	return nil
}

func (p *Pool) persist(ctx context.Context, a *Account) {
	if p.store == nil {
		return
	}
	if err := p.store.SaveAccount(ctx, a); err != nil {
		p.logger.Error("persist account", "account", a.Name, "error", err)
	}
}
