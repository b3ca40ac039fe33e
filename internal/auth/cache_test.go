package auth

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryCache_RoundTrip(t *testing.T) {
	c := NewMemoryCache()
	ctx := context.Background()

	tok := Token{AccessToken: "abc", ExpiresAt: time.Now().Add(time.Hour)}
	require.NoError(t, c.Put(ctx, 1, tok))

	got, ok := c.Get(ctx, 1)
	require.True(t, ok)
	assert.Equal(t, "abc", got.AccessToken)

	_, ok = c.Get(ctx, 2)
	assert.False(t, ok)
}

func TestMemoryCache_SafetyMargin(t *testing.T) {
	c := NewMemoryCache()
	ctx := context.Background()

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }

	// Expires four minutes out: inside the safety margin, treated as absent.
	require.NoError(t, c.Put(ctx, 1, Token{AccessToken: "soon", ExpiresAt: now.Add(4 * time.Minute)}))
	_, ok := c.Get(ctx, 1)
	assert.False(t, ok)

	// Six minutes out clears the margin.
	require.NoError(t, c.Put(ctx, 2, Token{AccessToken: "later", ExpiresAt: now.Add(6 * time.Minute)}))
	_, ok = c.Get(ctx, 2)
	assert.True(t, ok)
}

func TestMemoryCache_Invalidate(t *testing.T) {
	c := NewMemoryCache()
	ctx := context.Background()

	require.NoError(t, c.Put(ctx, 1, Token{AccessToken: "abc", ExpiresAt: time.Now().Add(time.Hour)}))
	require.NoError(t, c.Invalidate(ctx, 1))

	_, ok := c.Get(ctx, 1)
	assert.False(t, ok)
}

func TestCacheKey(t *testing.T) {
	assert.Equal(t, "token:account:42", cacheKey(42))
}
