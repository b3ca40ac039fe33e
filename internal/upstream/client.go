package upstream

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/andybalholm/brotli"
	"github.com/google/uuid"

	"github.com/mstefan21/qrelay/internal/relay"
)

const (
	// Streaming completions can run for minutes; the dispatch timeout is
	// generous but still bounded.
	dispatchTimeout = 5 * time.Minute

	amzTarget   = "AmazonCodeWhispererStreamingService.GenerateAssistantResponse"
	contentType = "application/x-amz-json-1.0"
)

// Client dispatches rendered requests to the upstream streaming service.
type Client struct {
	endpoint string
	client   *http.Client
}

func NewClient(endpoint string) *Client {
	return &Client{
		endpoint: endpoint,
		client:   &http.Client{Timeout: dispatchTimeout},
	}
}

// Dispatch posts the rendered request and returns the response body stream,
// already decompressed. Non-2xx statuses and transport failures come back as
// *relay.UpstreamError.
func (c *Client) Dispatch(ctx context.Context, accessToken string, req *relay.UpstreamRequest) (io.ReadCloser, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal upstream request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("create upstream request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+accessToken)
	httpReq.Header.Set("Content-Type", contentType)
	httpReq.Header.Set("X-Amz-Target", amzTarget)
	httpReq.Header.Set("Amz-Sdk-Invocation-Id", uuid.NewString())
	httpReq.Header.Set("Accept", "*/*")
	httpReq.Header.Set("Accept-Encoding", "gzip, br")

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, &relay.UpstreamError{Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 8192))
		resp.Body.Close()
		return nil, &relay.UpstreamError{StatusCode: resp.StatusCode, Body: string(body)}
	}

	reader, err := decompressReader(resp)
	if err != nil {
		resp.Body.Close()
		return nil, &relay.UpstreamError{Err: err}
	}
	return reader, nil
}

type wrappedReader struct {
	io.Reader
	underlying io.Closer
}

func (r *wrappedReader) Close() error { return r.underlying.Close() }

func decompressReader(resp *http.Response) (io.ReadCloser, error) {
	switch resp.Header.Get("Content-Encoding") {
	case "gzip":
		gz, err := gzip.NewReader(resp.Body)
		if err != nil {
			return nil, err
		}
		return &wrappedReader{Reader: gz, underlying: resp.Body}, nil
	case "br":
		return &wrappedReader{Reader: brotli.NewReader(resp.Body), underlying: resp.Body}, nil
	default:
		return resp.Body, nil
	}
}
