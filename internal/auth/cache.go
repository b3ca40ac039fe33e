package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
)

// SafetyMargin is subtracted from a token's expiry: a cached token within the
// margin of expiring is treated as absent.
const SafetyMargin = 5 * time.Minute

// TokenCache stores bearer tokens keyed by account id.
type TokenCache interface {
	Get(ctx context.Context, accountID int64) (Token, bool)
	Put(ctx context.Context, accountID int64, tok Token) error
	Invalidate(ctx context.Context, accountID int64) error
}

func cacheKey(accountID int64) string {
	return fmt.Sprintf("token:account:%d", accountID)
}

func usable(tok Token, now time.Time) bool {
	return now.Before(tok.ExpiresAt.Add(-SafetyMargin))
}

// RedisCache is the primary token cache. Entries expire in Redis at the
// token's own expiry; the safety margin is enforced on read.
type RedisCache struct {
	client *redis.Client
}

func NewRedisCache(ctx context.Context, redisURL string) (*RedisCache, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	return &RedisCache{client: client}, nil
}

func (c *RedisCache) Close() error { return c.client.Close() }

type cachedToken struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token,omitempty"`
	ExpiresAt    time.Time `json:"expires_at"`
}

func (c *RedisCache) Get(ctx context.Context, accountID int64) (Token, bool) {
	val, err := c.client.Get(ctx, cacheKey(accountID)).Result()
	if err != nil {
		return Token{}, false
	}

	var entry cachedToken
	if err := json.Unmarshal([]byte(val), &entry); err != nil {
		return Token{}, false
	}

	tok := Token{
		AccessToken:  entry.AccessToken,
		RefreshToken: entry.RefreshToken,
		ExpiresAt:    entry.ExpiresAt,
	}
	if !usable(tok, time.Now()) {
		return Token{}, false
	}
	return tok, true
}

func (c *RedisCache) Put(ctx context.Context, accountID int64, tok Token) error {
	data, err := json.Marshal(cachedToken{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		ExpiresAt:    tok.ExpiresAt,
	})
	if err != nil {
		return fmt.Errorf("serialize token: %w", err)
	}

	ttl := time.Until(tok.ExpiresAt)
	if ttl <= 0 {
		return nil
	}
	return c.client.Set(ctx, cacheKey(accountID), data, ttl).Err()
}

func (c *RedisCache) Invalidate(ctx context.Context, accountID int64) error {
	return c.client.Del(ctx, cacheKey(accountID)).Err()
}

// MemoryCache is the in-process fallback used when no Redis URL is
// configured, and in tests.
type MemoryCache struct {
	mu     sync.RWMutex
	tokens map[int64]Token
	now    func() time.Time
}

func NewMemoryCache() *MemoryCache {
	return &MemoryCache{tokens: map[int64]Token{}, now: time.Now}
}

func (c *MemoryCache) Get(_ context.Context, accountID int64) (Token, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	tok, ok := c.tokens[accountID]
	if !ok || !usable(tok, c.now()) {
		return Token{}, false
	}
	return tok, true
}

func (c *MemoryCache) Put(_ context.Context, accountID int64, tok Token) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tokens[accountID] = tok
	return nil
}

func (c *MemoryCache) Invalidate(_ context.Context, accountID int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.tokens, accountID)
	return nil
}
