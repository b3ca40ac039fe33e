package pool

import "time"

// Account is one pool member: an upstream credential set plus its admission,
// health and usage state. All mutable fields are guarded by the pool's mutex;
// callers outside the pool only ever see copies.
type Account struct {
	ID   int64
	Name string

	// Credentials, opaque to the pool beyond being handed to the exchange
	// client.
	RefreshToken string
	ClientID     string
	ClientSecret string
	ProfileARN   string

	// Rate admission. CurrentRPM is only meaningful until RPMResetAt; once
	// that instant passes the counter is logically zero. A nonpositive
	// RequestsPerMinute means unlimited.
	RequestsPerMinute int
	CurrentRPM        int
	RPMResetAt        time.Time

	// Health. IsActive is an administrative switch; IsHealthy is derived
	// from the error window.
	IsActive         bool
	IsHealthy        bool
	ErrorCount       int
	FirstErrorTime   time.Time
	LastErrorTime    time.Time
	AutoRecoverAt    time.Time
	HealthCheckError string

	// Usage counters, monotonic.
	TotalRequests int64
	TotalTokens   int64
	LastUsed      time.Time

	CreatedAt time.Time
}

// rateLimited reports whether the account has no admission capacity left at
// the given instant.
func (a *Account) rateLimited(now time.Time) bool {
	if a.RequestsPerMinute <= 0 {
		return false
	}
	if a.RPMResetAt.IsZero() || !now.Before(a.RPMResetAt) {
		return false
	}
	return a.CurrentRPM >= a.RequestsPerMinute
}

// Credentials is the read-only slice of an account the token refresh sweep
// needs.
type Credentials struct {
	AccountID    int64
	Name         string
	RefreshToken string
	ClientID     string
	ClientSecret string
}

// UsageRecord is one per-request usage log row.
type UsageRecord struct {
	AccountID    int64
	Model        string
	Endpoint     string
	InputTokens  int
	OutputTokens int
	StatusCode   int
	Latency      time.Duration
	ErrorMessage string
	Timestamp    time.Time
}
