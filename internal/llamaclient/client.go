// Package llamaclient is a thin, stateless protocol client for a local
// llama-server instance: a liveness probe plus streaming and non-streaming
// completion. All resilience policy (retries, backoff) lives with callers.
package llamaclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"
)

const healthProbeTimeout = 5 * time.Second

// completionRequest is the llama-server /completion payload. The prompt is
// a flat string; multi-turn context is rendered into it by the caller.
type completionRequest struct {
	Prompt string `json:"prompt"`
	Stream bool   `json:"stream"`
}

// completionResponse is the non-streaming /completion body.
type completionResponse struct {
	Content string `json:"content"`
}

// Client talks to one llama-server base URL. It holds no request state and
// is safe for concurrent use.
type Client struct {
	baseURL string
	// reqTimeout bounds each completion call independently of the
	// caller's context, so a hung server surfaces as a typed timeout
	// rather than hanging the caller. 0 disables the bound.
	reqTimeout time.Duration
	// Timeout:0 on purpose: deadlines are applied per call via context.
	httpc *http.Client
	log   zerolog.Logger
}

// New constructs a Client for the given base URL (e.g. http://127.0.0.1:8080).
// reqTimeout is the per-request deadline for completion calls.
func New(baseURL string, reqTimeout time.Duration, log zerolog.Logger) *Client {
	return &Client{
		baseURL:    baseURL,
		reqTimeout: reqTimeout,
		httpc:      &http.Client{Timeout: 0},
		log:        log.With().Str("component", "llamaclient").Logger(),
	}
}

// bound applies the per-request deadline on top of the caller's context.
func (c *Client) bound(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.reqTimeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, c.reqTimeout)
}

// BaseURL returns the server base URL this client targets.
func (c *Client) BaseURL() string { return c.baseURL }

// Health performs a single liveness probe with a bounded timeout. It never
// returns an error; any failure means "not healthy".
func (c *Client) Health(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, healthProbeTimeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return false
	}
	resp, err := c.httpc.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode >= 200 && resp.StatusCode < 300
}

// Complete sends prompt and returns the full completion text. The request is
// bounded by the per-request deadline and the caller's context; an expired
// deadline maps to a typed timeout error and a socket failure to a typed
// connection error.
func (c *Client) Complete(ctx context.Context, prompt string) (string, error) {
	ctx, cancel := c.bound(ctx)
	defer cancel()

	body, err := json.Marshal(completionRequest{Prompt: prompt, Stream: false})
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/completion", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpc.Do(req)
	if err != nil {
		return "", c.classify(ctx, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", ErrMalformedResponse(resp.Status + ": " + string(b))
	}
	var out completionResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", ErrMalformedResponse("invalid JSON completion body: " + err.Error())
	}
	return out.Content, nil
}

// StreamCompletion sends prompt with stream=true and returns a Stream of
// incremental chunks in arrival order. The per-request deadline covers the
// whole stream. The caller must Close the stream; closing early releases the
// underlying connection promptly.
func (c *Client) StreamCompletion(ctx context.Context, prompt string) (*Stream, error) {
	sctx, cancel := c.bound(ctx)

	body, err := json.Marshal(completionRequest{Prompt: prompt, Stream: true})
	if err != nil {
		cancel()
		return nil, err
	}
	req, err := http.NewRequestWithContext(sctx, http.MethodPost, c.baseURL+"/completion", bytes.NewReader(body))
	if err != nil {
		cancel()
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpc.Do(req)
	if err != nil {
		cancel()
		return nil, c.classify(sctx, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		resp.Body.Close()
		cancel()
		return nil, ErrMalformedResponse(resp.Status + ": " + string(b))
	}
	return newStream(sctx, cancel, c.baseURL, resp.Body), nil
}

// classify maps a transport error to the typed taxonomy. Context
// cancellation passes through untouched so callers can distinguish a
// user cancel from a failure.
func (c *Client) classify(ctx context.Context, err error) error {
	if errors.Is(err, context.Canceled) && ctx.Err() == context.Canceled {
		return context.Canceled
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ErrTimeout(c.baseURL)
	}
	c.log.Debug().Err(err).Msg("connection failure")
	return ErrConnectionRefused(c.baseURL, err)
}
