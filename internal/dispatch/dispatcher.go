// SPDX-License-Identifier: MIT

// Package dispatch is the single entry point consumers call. It unifies
// cache replay, live streaming and the non-streaming fallback behind the
// session callback contract: the caller registers one callback set and
// never learns which path served it, beyond an explicit cached marker.
package dispatch

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/danielliaow/assistant-stream/internal/assistant"
	"github.com/danielliaow/assistant-stream/internal/event"
	"github.com/danielliaow/assistant-stream/internal/log"
	"github.com/danielliaow/assistant-stream/internal/respcache"
	"github.com/danielliaow/assistant-stream/internal/session"
)

// CommandMarker prefixes queries that invoke a command rather than a
// conversational request. Command execution is always live: such queries
// never consult or populate the cache.
const CommandMarker = "/"

// Backend is the non-streaming query surface of the assistant client.
type Backend interface {
	Query(ctx context.Context, query string) (*assistant.QueryResult, error)
}

// Dispatcher decides cache-hit replay vs. live streaming vs. non-streaming
// fallback. It never blocks the caller past the initial acknowledgment; all
// results arrive via callbacks.
type Dispatcher struct {
	registry  *session.Registry
	cache     respcache.Cache
	backend   Backend
	logger    zerolog.Logger
	streaming bool
	group     singleflight.Group
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithStreamingDisabled routes every query through the non-streaming
// fallback instead of a live stream.
func WithStreamingDisabled() Option {
	return func(d *Dispatcher) { d.streaming = false }
}

// New creates a Dispatcher. registry, cache and backend are constructor
// injected; the Dispatcher holds no ambient state of its own.
func New(registry *session.Registry, cache respcache.Cache, backend Backend, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		registry:  registry,
		cache:     cache,
		backend:   backend,
		logger:    log.WithComponent("dispatch"),
		streaming: true,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// IsCommand reports whether the query starts with the command marker.
func IsCommand(query string) bool {
	return strings.HasPrefix(strings.TrimSpace(query), CommandMarker)
}

// Dispatch routes one query. The returned session id identifies a live
// streaming session; it is empty when the query was served synchronously
// from the cache or handed to the fallback path.
func (d *Dispatcher) Dispatch(ctx context.Context, query string, cb session.Callbacks, sessionHint string) string {
	command := IsCommand(query)

	if !command {
		if cached, ok := d.cache.Get(query); ok {
			d.logger.Debug().
				Str(log.FieldCacheKey, respcache.Normalize(query)).
				Msg("serving query from response cache")
			d.replay(cb, cached)
			return ""
		}
	}

	if !d.streaming {
		go d.fallback(ctx, query, cb, command)
		return ""
	}

	wrapped := cb
	if !command {
		wrapped = d.writeThrough(query, cb)
	}
	return d.registry.Start(ctx, query, wrapped, sessionHint)
}

// Cancel aborts one live session.
func (d *Dispatcher) Cancel(sessionID string) bool {
	return d.registry.Cancel(sessionID)
}

// Close cancels every live session; used during consumer teardown.
func (d *Dispatcher) Close() {
	d.registry.CancelAll()
}

// replay serves a cache hit synchronously: the cached assistant content as
// a single completed response_chunk event, then completion, both annotated
// with the cached marker.
func (d *Dispatcher) replay(cb session.Callbacks, cached assistant.QueryResult) {
	cached.Cached = true
	raw, err := json.Marshal(cached)
	if err != nil {
		// QueryResult is a plain struct; this cannot fail in practice.
		raw = []byte(`{"cached":true}`)
		d.logger.Warn().Err(err).Msg("marshal of cached result failed")
	}

	now := time.Now()
	chunk := event.StreamEvent{
		ID:           uuid.NewString(),
		Timestamp:    now,
		Kind:         event.KindResponseChunk,
		Title:        "Cached response",
		Status:       event.StatusCompleted,
		Response:     cached.Response,
		FullResponse: cached.FullResponse,
		RawPayload:   raw,
	}
	cb.Deliver(d.logger, chunk)
	cb.Respond(d.logger, cached.Response, cached.FullResponse)

	done := event.StreamEvent{
		ID:         uuid.NewString(),
		Timestamp:  now,
		Kind:       event.KindStreamCompleted,
		Title:      "Stream completed",
		Status:     event.StatusCompleted,
		RawPayload: raw,
	}
	cb.Deliver(d.logger, done)
}

// writeThrough wraps the consumer callbacks so a successful completion
// stores the assembled response in the cache. Errors and cancellations
// never write through: OnComplete is the only hook.
func (d *Dispatcher) writeThrough(query string, cb session.Callbacks) session.Callbacks {
	var assembled assistant.QueryResult

	wrapped := cb
	innerResponse := cb.OnResponse
	wrapped.OnResponse = func(short, full string) {
		assembled.Response = short
		assembled.FullResponse = full
		if innerResponse != nil {
			innerResponse(short, full)
		}
	}
	innerComplete := cb.OnComplete
	wrapped.OnComplete = func(ev event.StreamEvent) {
		if assembled.Response != "" || assembled.FullResponse != "" {
			d.cache.Set(query, assembled)
			d.logger.Debug().
				Str(log.FieldCacheKey, respcache.Normalize(query)).
				Msg("stored streamed response in cache")
		}
		if innerComplete != nil {
			innerComplete(ev)
		}
	}
	return wrapped
}

// fallback runs the non-streaming path. Concurrent identical queries share
// one backend call; every caller still receives its own callbacks.
func (d *Dispatcher) fallback(ctx context.Context, query string, cb session.Callbacks, command bool) {
	v, err, shared := d.group.Do(respcache.Normalize(query), func() (any, error) {
		return d.backend.Query(ctx, query)
	})
	if err != nil {
		cb.Fail(d.logger, err)
		return
	}
	result := v.(*assistant.QueryResult)
	if shared {
		d.logger.Debug().Msg("fallback query shared an in-flight backend call")
	}

	if !command {
		d.cache.Set(query, *result)
	}

	now := time.Now()
	raw, _ := json.Marshal(result)
	cb.Deliver(d.logger, event.StreamEvent{
		ID:           uuid.NewString(),
		Timestamp:    now,
		Kind:         event.KindResponseGenerated,
		Title:        "Response ready",
		Status:       event.StatusCompleted,
		Response:     result.Response,
		FullResponse: result.FullResponse,
		RawPayload:   raw,
	})
	cb.Deliver(d.logger, event.StreamEvent{
		ID:         uuid.NewString(),
		Timestamp:  now,
		Kind:       event.KindStreamCompleted,
		Title:      "Stream completed",
		Status:     event.StatusCompleted,
		RawPayload: raw,
	})
}
