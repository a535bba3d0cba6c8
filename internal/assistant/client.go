// SPDX-License-Identifier: MIT

// Package assistant is the HTTP transport boundary to the AI/task backend.
// It exposes exactly two operations: an incrementally readable event stream
// and a single-shot JSON query. Everything above this package is transport
// agnostic.
package assistant

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/danielliaow/assistant-stream/internal/log"
	"github.com/danielliaow/assistant-stream/internal/metrics"
)

const (
	streamPath = "/api/assistant/stream"
	queryPath  = "/api/assistant/query"
)

// Client talks to the assistant backend. Safe for concurrent use.
type Client struct {
	base    string
	token   string
	http    *http.Client
	limiter *rate.Limiter
	logger  zerolog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying http.Client. The streaming path
// requires a client without a global timeout; use context deadlines instead.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithRateLimit installs a client-side request limiter. rps <= 0 disables it.
func WithRateLimit(rps float64, burst int) Option {
	return func(c *Client) {
		if rps > 0 {
			c.limiter = rate.NewLimiter(rate.Limit(rps), burst)
		}
	}
}

// New creates a backend client. The bearer token is attached to every
// request; it is supplied by the authentication layer and treated as opaque.
func New(base, token string, opts ...Option) *Client {
	c := &Client{
		base:   strings.TrimRight(base, "/"),
		token:  token,
		http:   &http.Client{},
		logger: log.WithComponent("assistant"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// StreamBody is an open streaming response. The caller owns Body and must
// close it; Charset is the declared text encoding of the byte stream.
type StreamBody struct {
	Body    io.ReadCloser
	Charset string
}

type queryRequest struct {
	Query     string `json:"query"`
	SessionID string `json:"sessionId,omitempty"`
}

// QueryResult is the non-streaming response shape. Response is the
// display-oriented short text, FullResponse the unabridged one. Data carries
// any structured tool output verbatim.
type QueryResult struct {
	Response     string          `json:"response"`
	FullResponse string          `json:"fullResponse,omitempty"`
	Data         json.RawMessage `json:"data,omitempty"`
	Cached       bool            `json:"cached,omitempty"`
}

// Stream opens the event stream for a query. The returned body delivers
// marker-framed event lines and stays open until the backend finishes or ctx
// is canceled. Callers read it incrementally; this method does not read past
// the response header.
func (c *Client) Stream(ctx context.Context, query, sessionHint string) (*StreamBody, error) {
	if err := c.wait(ctx); err != nil {
		return nil, err
	}
	body, err := json.Marshal(queryRequest{Query: query, SessionID: sessionHint})
	if err != nil {
		return nil, fmt.Errorf("assistant: encode stream request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+streamPath, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("assistant: build stream request: %w", err)
	}
	c.setHeaders(req)
	req.Header.Set("Accept", "text/event-stream")

	resp, err := c.http.Do(req)
	if err != nil {
		metrics.IncBackendRequest("stream", false)
		return nil, &StatusError{Sentinel: ErrBackendUnavailable, Operation: "stream", Err: err}
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close() //nolint:errcheck
		metrics.IncBackendRequest("stream", false)
		return nil, statusError("stream", resp)
	}
	if resp.Body == nil || resp.Body == http.NoBody {
		metrics.IncBackendRequest("stream", false)
		return nil, &StatusError{Sentinel: ErrMissingBody, Operation: "stream", Status: resp.StatusCode}
	}
	metrics.IncBackendRequest("stream", true)
	return &StreamBody{
		Body:    resp.Body,
		Charset: charsetOf(resp.Header.Get("Content-Type")),
	}, nil
}

// Query runs the non-streaming fallback path and parses the single JSON body.
func (c *Client) Query(ctx context.Context, query string) (*QueryResult, error) {
	if err := c.wait(ctx); err != nil {
		return nil, err
	}
	body, err := json.Marshal(queryRequest{Query: query})
	if err != nil {
		return nil, fmt.Errorf("assistant: encode query request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+queryPath, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("assistant: build query request: %w", err)
	}
	c.setHeaders(req)
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		metrics.IncBackendRequest("query", false)
		return nil, &StatusError{Sentinel: ErrBackendUnavailable, Operation: "query", Err: err}
	}
	defer resp.Body.Close() //nolint:errcheck
	if resp.StatusCode != http.StatusOK {
		metrics.IncBackendRequest("query", false)
		return nil, statusError("query", resp)
	}

	var result QueryResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		metrics.IncBackendRequest("query", false)
		return nil, &StatusError{Sentinel: ErrBadResponse, Operation: "query", Status: resp.StatusCode, Err: err}
	}
	metrics.IncBackendRequest("query", true)
	c.logger.Debug().
		Dur("elapsed", time.Since(start)).
		Msg("fallback query completed")
	return &result, nil
}

func (c *Client) wait(ctx context.Context) error {
	if c.limiter == nil {
		return nil
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("assistant: rate limit wait: %w", err)
	}
	return nil
}

func (c *Client) setHeaders(req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
}

const maxErrorBody = 512

func statusError(op string, resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	return &StatusError{
		Sentinel:  sentinelForStatus(resp.StatusCode),
		Operation: op,
		Status:    resp.StatusCode,
		Body:      strings.TrimSpace(string(raw)),
	}
}

func charsetOf(contentType string) string {
	if contentType == "" {
		return ""
	}
	_, params, err := mime.ParseMediaType(contentType)
	if err != nil {
		return ""
	}
	return params["charset"]
}
