package auth

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mstefan21/qrelay/internal/pool"
	"github.com/mstefan21/qrelay/internal/relay"
)

func TestService_CacheFirst(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		json.NewEncoder(w).Encode(map[string]any{"accessToken": "at-1", "expiresIn": 3600})
	}))
	defer srv.Close()

	s := NewService(NewMemoryCache(), NewExchangeClient(srv.URL), nil)
	creds := pool.Credentials{AccountID: 1, Name: "alpha", RefreshToken: "rt"}

	tok, err := s.TokenFor(context.Background(), creds)
	require.NoError(t, err)
	assert.Equal(t, "at-1", tok.AccessToken)

	// Second call is served from cache.
	_, err = s.TokenFor(context.Background(), creds)
	require.NoError(t, err)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestService_ExchangeFailureWrapped(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "invalid_grant", http.StatusBadRequest)
	}))
	defer srv.Close()

	s := NewService(NewMemoryCache(), NewExchangeClient(srv.URL), nil)

	_, err := s.TokenFor(context.Background(), pool.Credentials{AccountID: 1, Name: "alpha"})
	require.Error(t, err)

	var xerr *relay.ExchangeError
	require.True(t, errors.As(err, &xerr))
	assert.Equal(t, "alpha", xerr.Account)
}

func TestService_InvalidateForcesExchange(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		json.NewEncoder(w).Encode(map[string]any{"accessToken": "at", "expiresIn": 3600})
	}))
	defer srv.Close()

	s := NewService(NewMemoryCache(), NewExchangeClient(srv.URL), nil)
	creds := pool.Credentials{AccountID: 1, Name: "alpha"}

	_, err := s.TokenFor(context.Background(), creds)
	require.NoError(t, err)

	s.Invalidate(context.Background(), 1)

	_, err = s.TokenFor(context.Background(), creds)
	require.NoError(t, err)
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestToken_UsableWindow(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	assert.False(t, usable(Token{ExpiresAt: now.Add(SafetyMargin - time.Second)}, now))
	assert.True(t, usable(Token{ExpiresAt: now.Add(SafetyMargin + time.Second)}, now))
}
