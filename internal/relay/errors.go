package relay

import (
	"errors"
	"fmt"
)

// ErrPoolExhausted is returned when no active, healthy account exists.
var ErrPoolExhausted = errors.New("no available accounts in pool")

// ExchangeError reports a failed credential exchange for a named account.
type ExchangeError struct {
	Account string
	Err     error
}

func (e *ExchangeError) Error() string {
	return fmt.Sprintf("credential exchange failed for account %s: %v", e.Account, e.Err)
}

func (e *ExchangeError) Unwrap() error { return e.Err }

// UpstreamError reports a failed dispatch: a non-2xx status or a network
// error while talking to the upstream service.
type UpstreamError struct {
	StatusCode int
	Body       string
	Err        error
}

func (e *UpstreamError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("upstream dispatch failed: %v", e.Err)
	}
	return fmt.Sprintf("upstream returned status %d: %s", e.StatusCode, e.Body)
}

func (e *UpstreamError) Unwrap() error { return e.Err }
