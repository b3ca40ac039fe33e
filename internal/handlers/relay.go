package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/pkoukk/tiktoken-go"

	"github.com/mstefan21/qrelay/internal/auth"
	"github.com/mstefan21/qrelay/internal/pool"
	"github.com/mstefan21/qrelay/internal/relay"
	"github.com/mstefan21/qrelay/internal/upstream"
)

// Format selects which public wire format a request speaks.
type Format int

const (
	FormatClaude Format = iota
	FormatOpenAI
)

// RelayHandler is the per-request orchestrator: translate, select an
// account, resolve a token, dispatch, re-frame, and report the outcome back
// to the pool.
type RelayHandler struct {
	pool     *pool.Pool
	tokens   *auth.Service
	upstream *upstream.Client
	logger   *slog.Logger
}

func NewRelayHandler(p *pool.Pool, tokens *auth.Service, up *upstream.Client, logger *slog.Logger) *RelayHandler {
	return &RelayHandler{
		pool:     p,
		tokens:   tokens,
		upstream: up,
		logger:   logger,
	}
}

// Messages serves the Claude-style /v1/messages endpoint.
func (h *RelayHandler) Messages() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h.serve(w, r, FormatClaude)
	})
}

// ChatCompletions serves the OpenAI-style /v1/chat/completions endpoint.
func (h *RelayHandler) ChatCompletions() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h.serve(w, r, FormatOpenAI)
	})
}

func (h *RelayHandler) serve(w http.ResponseWriter, r *http.Request, format Format) {
	start := time.Now()
	ctx := r.Context()

	body, err := io.ReadAll(r.Body)
	if err != nil {
		h.writeError(w, format, http.StatusBadRequest, "failed to read request body")
		return
	}

	var req *relay.Request
	if format == FormatOpenAI {
		req, err = relay.FromOpenAI(body)
	} else {
		req, err = relay.FromClaude(body)
	}
	if err != nil {
		h.writeError(w, format, http.StatusBadRequest, err.Error())
		return
	}

	account, err := h.pool.Select(ctx)
	if err != nil {
		h.writeError(w, format, http.StatusServiceUnavailable, err.Error())
		return
	}

	h.logger.Info("Relaying request",
		"model", req.Model,
		"account", account.Name,
		"stream", req.Stream,
		"rpm", fmt.Sprintf("%d/%d", account.CurrentRPM, account.RequestsPerMinute),
	)

	token, err := h.tokens.TokenFor(ctx, pool.Credentials{
		AccountID:    account.ID,
		Name:         account.Name,
		RefreshToken: account.RefreshToken,
		ClientID:     account.ClientID,
		ClientSecret: account.ClientSecret,
	})
	if err != nil {
		h.pool.ReportOutcome(ctx, account.ID, false, err.Error())
		h.logUsage(ctx, account.ID, format, req, relay.Usage{}, http.StatusServiceUnavailable, start, err.Error())
		h.writeError(w, format, http.StatusServiceUnavailable, err.Error())
		return
	}

	stream, err := h.upstream.Dispatch(ctx, token.AccessToken, relay.Render(req, account.ProfileARN))
	if err != nil {
		var ue *relay.UpstreamError
		if errors.As(err, &ue) && (ue.StatusCode == http.StatusUnauthorized || ue.StatusCode == http.StatusForbidden) {
			h.tokens.Invalidate(ctx, account.ID)
		}
		h.pool.ReportOutcome(ctx, account.ID, false, err.Error())
		h.logUsage(ctx, account.ID, format, req, relay.Usage{}, http.StatusBadGateway, start, err.Error())
		h.writeError(w, format, http.StatusBadGateway, err.Error())
		return
	}
	defer stream.Close()

	decoder := upstream.NewDecoder(stream)

	var (
		usage relay.Usage
		wrote bool
	)
	if req.Stream {
		usage, wrote, err = h.streamResponse(ctx, w, decoder, format)
	} else {
		usage, wrote, err = h.aggregateResponse(ctx, w, decoder, format)
	}

	switch {
	case err == nil:
		h.pool.ReportOutcome(ctx, account.ID, true, "")
		if total := usage.InputTokens + usage.OutputTokens; total > 0 {
			h.pool.RecordUsage(ctx, account.ID, total)
		}
		h.logUsage(ctx, account.ID, format, req, usage, http.StatusOK, start, "")
	case ctx.Err() != nil:
		// Client went away; not an account-attributable failure.
		h.logger.Info("client cancelled mid-stream", "account", account.Name)
	default:
		h.pool.ReportOutcome(ctx, account.ID, false, err.Error())
		h.logUsage(ctx, account.ID, format, req, usage, http.StatusBadGateway, start, err.Error())
		if !wrote {
			h.writeError(w, format, http.StatusBadGateway, err.Error())
		}
	}
}

// streamResponse pumps canonical events to the client as SSE frames,
// preserving upstream order. A malformed event is skipped unless it is the
// very first one.
func (h *RelayHandler) streamResponse(ctx context.Context, w http.ResponseWriter, decoder *upstream.Decoder, format Format) (relay.Usage, bool, error) {
	var (
		usage     relay.Usage
		openai    *relay.OpenAIReframer
		claude    *relay.ClaudeReframer
		delivered int
		wrote     bool
	)
	if format == FormatOpenAI {
		openai = relay.NewOpenAIReframer()
	} else {
		claude = relay.NewClaudeReframer()
	}

	// Headers go out with the first frame so a stream that dies before
	// producing anything can still surface an error status.
	write := func(frames []byte) error {
		if !wrote {
			w.Header().Set("Content-Type", "text/event-stream")
			w.Header().Set("Cache-Control", "no-cache")
			w.Header().Set("Connection", "keep-alive")
			w.WriteHeader(http.StatusOK)
			wrote = true
		}
		if _, err := w.Write(frames); err != nil {
			return err
		}
		h.flush(w)
		return nil
	}

	for {
		if ctx.Err() != nil {
			return usage, wrote, ctx.Err()
		}

		ev, err := decoder.Next()
		if err == io.EOF {
			break
		}
		var malformed *upstream.MalformedEventError
		if errors.As(err, &malformed) {
			if delivered == 0 {
				return usage, wrote, err
			}
			h.logger.Warn("skipping malformed upstream event", "error", err)
			continue
		}
		if err != nil {
			return usage, wrote, err
		}

		if ev.Usage != nil {
			usage = *ev.Usage
		}

		var frames []byte
		if openai != nil {
			frames, err = openai.Frame(ev)
		} else {
			frames, err = claude.Frame(ev)
		}
		if err != nil {
			h.logger.Warn("skipping unframeable event", "kind", ev.Kind, "error", err)
			continue
		}

		delivered++
		if len(frames) > 0 {
			if err := write(frames); err != nil {
				// Write failures almost always mean the client went away; the
				// cancelled context makes that call for us upstream.
				return usage, wrote, err
			}
		}
	}

	// Best effort termination for streams that never sent message_stop.
	if openai != nil {
		if frames := openai.Finish(); len(frames) > 0 {
			write(frames)
		}
	}

	return usage, wrote, nil
}

// aggregateResponse consumes the whole event sequence and writes one
// response object.
func (h *RelayHandler) aggregateResponse(ctx context.Context, w http.ResponseWriter, decoder *upstream.Decoder, format Format) (relay.Usage, bool, error) {
	agg := relay.NewAggregator()
	seen := 0

	for {
		if ctx.Err() != nil {
			return agg.Usage(), false, ctx.Err()
		}

		ev, err := decoder.Next()
		if err == io.EOF {
			break
		}
		var malformed *upstream.MalformedEventError
		if errors.As(err, &malformed) {
			if seen == 0 {
				return agg.Usage(), false, err
			}
			h.logger.Warn("skipping malformed upstream event", "error", err)
			continue
		}
		if err != nil {
			return agg.Usage(), false, err
		}

		seen++
		agg.Add(ev)
	}

	var payload any
	if format == FormatOpenAI {
		payload = agg.OpenAIResponse()
	} else {
		payload = agg.ClaudeResponse()
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		return agg.Usage(), true, err
	}

	return agg.Usage(), true, nil
}

func (h *RelayHandler) logUsage(ctx context.Context, accountID int64, format Format, req *relay.Request, usage relay.Usage, status int, start time.Time, errMsg string) {
	input := usage.InputTokens
	if input == 0 {
		input = estimateTokens(req)
	}

	endpoint := "/v1/messages"
	if format == FormatOpenAI {
		endpoint = "/v1/chat/completions"
	}

	h.pool.LogUsage(ctx, pool.UsageRecord{
		AccountID:    accountID,
		Model:        req.Model,
		Endpoint:     endpoint,
		InputTokens:  input,
		OutputTokens: usage.OutputTokens,
		StatusCode:   status,
		Latency:      time.Since(start),
		ErrorMessage: errMsg,
		Timestamp:    time.Now(),
	})
}

// estimateTokens approximates the prompt size when the upstream did not
// report usage.
func estimateTokens(req *relay.Request) int {
	tke, err := tiktoken.GetEncoding("cl100k_base")
	if err != nil {
		return 0
	}

	total := len(tke.Encode(req.System, nil, nil))
	for _, m := range req.Messages {
		total += len(tke.Encode(m.Content, nil, nil))
		for _, p := range m.Parts {
			if p.Type == relay.ContentTypeText {
				total += len(tke.Encode(p.Text, nil, nil))
			}
		}
	}
	return total
}

func (h *RelayHandler) flush(w http.ResponseWriter) {
	if flusher, ok := w.(http.Flusher); ok {
		flusher.Flush()
	}
}

func (h *RelayHandler) writeError(w http.ResponseWriter, format Format, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	var payload any
	if format == FormatOpenAI {
		payload = map[string]any{
			"error": map[string]any{
				"message": msg,
				"type":    errorType(status),
			},
		}
	} else {
		payload = map[string]any{
			"type": "error",
			"error": map[string]any{
				"type":    errorType(status),
				"message": msg,
			},
		}
	}

	json.NewEncoder(w).Encode(payload)
}

func errorType(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "invalid_request_error"
	case http.StatusServiceUnavailable:
		return "overloaded_error"
	case http.StatusBadGateway:
		return "api_error"
	default:
		return "api_error"
	}
}
