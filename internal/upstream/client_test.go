package upstream

import (
	"compress/gzip"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mstefan21/qrelay/internal/relay"
)

func testUpstreamRequest() *relay.UpstreamRequest {
	return relay.Render(&relay.Request{
		Model:    "m1",
		Messages: []relay.Message{{Role: relay.RoleUser, Content: "hi"}},
	}, "arn:profile")
}

func TestClient_DispatchHeaders(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer tok-1", r.Header.Get("Authorization"))
		assert.Equal(t, "application/x-amz-json-1.0", r.Header.Get("Content-Type"))
		assert.Equal(t, "AmazonCodeWhispererStreamingService.GenerateAssistantResponse", r.Header.Get("X-Amz-Target"))
		assert.NotEmpty(t, r.Header.Get("Amz-Sdk-Invocation-Id"))

		var req relay.UpstreamRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "MANUAL", req.ConversationState.ChatTriggerType)
		assert.Equal(t, "arn:profile", req.ProfileARN)

		io.WriteString(w, "data: {\"type\":\"message_stop\"}\n")
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	body, err := c.Dispatch(context.Background(), "tok-1", testUpstreamRequest())
	require.NoError(t, err)
	defer body.Close()

	data, err := io.ReadAll(body)
	require.NoError(t, err)
	assert.Contains(t, string(data), "message_stop")
}

func TestClient_DispatchErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "throttled", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	_, err := c.Dispatch(context.Background(), "tok", testUpstreamRequest())
	require.Error(t, err)

	var ue *relay.UpstreamError
	require.True(t, errors.As(err, &ue))
	assert.Equal(t, http.StatusTooManyRequests, ue.StatusCode)
	assert.Contains(t, ue.Body, "throttled")
}

func TestClient_DispatchGzipBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Encoding", "gzip")
		gz := gzip.NewWriter(w)
		io.WriteString(gz, "data: {\"type\":\"message_stop\"}\n")
		gz.Close()
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	body, err := c.Dispatch(context.Background(), "tok", testUpstreamRequest())
	require.NoError(t, err)
	defer body.Close()

	data, err := io.ReadAll(body)
	require.NoError(t, err)
	assert.Contains(t, string(data), "message_stop")
}

func TestClient_DispatchTransportError(t *testing.T) {
	c := NewClient("http://127.0.0.1:1")
	_, err := c.Dispatch(context.Background(), "tok", testUpstreamRequest())

	var ue *relay.UpstreamError
	require.True(t, errors.As(err, &ue))
	assert.Zero(t, ue.StatusCode)
}
