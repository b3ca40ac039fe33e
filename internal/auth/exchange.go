package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
)

const (
	exchangeTimeout = 30 * time.Second
	defaultLifetime = time.Hour
)

// Token is a bearer token obtained from the credential exchange endpoint.
type Token struct {
	AccessToken  string
	RefreshToken string
	ExpiresAt    time.Time
}

// ExchangeClient turns a refresh token plus client credentials into a bearer
// token. The endpoint speaks camelCase JSON on both sides.
type ExchangeClient struct {
	endpoint string
	client   *http.Client
}

func NewExchangeClient(endpoint string) *ExchangeClient {
	return &ExchangeClient{
		endpoint: endpoint,
		client:   &http.Client{Timeout: exchangeTimeout},
	}
}

type exchangeRequest struct {
	GrantType    string `json:"grantType"`
	RefreshToken string `json:"refreshToken"`
	ClientID     string `json:"clientId"`
	ClientSecret string `json:"clientSecret"`
}

type exchangeResponse struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
	ExpiresIn    int    `json:"expiresIn"`
}

// Exchange performs one credential exchange. Non-2xx responses and transport
// failures both come back as errors; callers decide whether to charge them to
// the account.
func (c *ExchangeClient) Exchange(ctx context.Context, refreshToken, clientID, clientSecret string) (Token, error) {
	payload, err := json.Marshal(exchangeRequest{
		GrantType:    "refresh_token",
		RefreshToken: refreshToken,
		ClientID:     clientID,
		ClientSecret: clientSecret,
	})
	if err != nil {
		return Token{}, fmt.Errorf("marshal exchange request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(payload))
	if err != nil {
		return Token{}, fmt.Errorf("create exchange request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Amz-Sdk-Invocation-Id", uuid.NewString())
	req.Header.Set("Accept", "*/*")

	resp, err := c.client.Do(req)
	if err != nil {
		return Token{}, fmt.Errorf("exchange request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return Token{}, fmt.Errorf("exchange returned status %d: %s", resp.StatusCode, body)
	}

	var out exchangeResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return Token{}, fmt.Errorf("decode exchange response: %w", err)
	}
	if out.AccessToken == "" {
		return Token{}, fmt.Errorf("exchange response missing access token")
	}

	lifetime := defaultLifetime
	if out.ExpiresIn > 0 {
		lifetime = time.Duration(out.ExpiresIn) * time.Second
	}

	return Token{
		AccessToken:  out.AccessToken,
		RefreshToken: out.RefreshToken,
		ExpiresAt:    time.Now().Add(lifetime),
	}, nil
}
