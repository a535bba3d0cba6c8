// SPDX-License-Identifier: MIT

package dispatch

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/danielliaow/assistant-stream/internal/assistant"
	"github.com/danielliaow/assistant-stream/internal/event"
	"github.com/danielliaow/assistant-stream/internal/respcache"
	"github.com/danielliaow/assistant-stream/internal/session"
)

// recorder collects callback invocations and signals after each one so
// tests can wait without sleeping.
type recorder struct {
	mu        sync.Mutex
	events    []event.StreamEvent
	errs      []error
	completes []event.StreamEvent
	responses []string
	notify    chan struct{}
}

func newRecorder() *recorder {
	return &recorder{notify: make(chan struct{}, 64)}
}

func (r *recorder) callbacks() session.Callbacks {
	return session.Callbacks{
		OnEvent: func(ev event.StreamEvent) {
			r.mu.Lock()
			r.events = append(r.events, ev)
			r.mu.Unlock()
			r.notify <- struct{}{}
		},
		OnError: func(err error) {
			r.mu.Lock()
			r.errs = append(r.errs, err)
			r.mu.Unlock()
			r.notify <- struct{}{}
		},
		OnComplete: func(ev event.StreamEvent) {
			r.mu.Lock()
			r.completes = append(r.completes, ev)
			r.mu.Unlock()
			r.notify <- struct{}{}
		},
		OnResponse: func(short, full string) {
			r.mu.Lock()
			r.responses = append(r.responses, short)
			r.mu.Unlock()
			r.notify <- struct{}{}
		},
	}
}

func (r *recorder) waitComplete(t *testing.T) {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		r.mu.Lock()
		done := len(r.completes) > 0 || len(r.errs) > 0
		r.mu.Unlock()
		if done {
			return
		}
		select {
		case <-r.notify:
		case <-deadline:
			t.Fatal("timed out waiting for terminal callback")
		}
	}
}

func (r *recorder) kinds() []event.Kind {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]event.Kind, len(r.events))
	for i, ev := range r.events {
		out[i] = ev.Kind
	}
	return out
}

func newDispatcher(t *testing.T, opts ...Option) (*Dispatcher, *assistant.MockServer, *respcache.Memory) {
	t.Helper()
	mock := assistant.NewMockServer()
	t.Cleanup(mock.Close)

	client := assistant.New(mock.URL, "")
	cache := respcache.NewMemory(2*time.Minute, 50)
	d := New(session.NewRegistry(client), cache, client, opts...)
	t.Cleanup(d.Close)
	return d, mock, cache
}

func TestLiveStreamWritesThrough(t *testing.T) {
	d, mock, cache := newDispatcher(t)
	rec := newRecorder()

	id := d.Dispatch(context.Background(), "What meetings do I have today?", rec.callbacks(), "")
	require.NotEmpty(t, id, "a cache miss must start a live session")
	rec.waitComplete(t)

	assert.Equal(t, 1, mock.StreamCalls())
	assert.Equal(t, []string{"No meetings today"}, rec.responses)

	got, ok := cache.Get("What meetings do I have today?")
	require.True(t, ok, "successful completion must write through")
	assert.Equal(t, "No meetings today", got.Response)
	assert.Equal(t, "You have no meetings today.", got.FullResponse)
}

func TestRepeatQueryServedFromCache(t *testing.T) {
	d, mock, _ := newDispatcher(t)

	first := newRecorder()
	id := d.Dispatch(context.Background(), "What meetings do I have today?", first.callbacks(), "")
	require.NotEmpty(t, id)
	first.waitComplete(t)
	require.Equal(t, 1, mock.StreamCalls())

	second := newRecorder()
	id = d.Dispatch(context.Background(), "  what meetings do I have today?  ", second.callbacks(), "")
	assert.Empty(t, id, "cache hits are served synchronously")
	assert.Equal(t, 1, mock.StreamCalls(), "replay must not touch the backend")

	kinds := second.kinds()
	require.Equal(t, []event.Kind{event.KindResponseChunk, event.KindStreamCompleted}, kinds)
	assert.Contains(t, string(second.events[0].RawPayload), `"cached":true`)
	assert.Equal(t, event.StatusCompleted, second.events[0].Status)
	assert.Equal(t, []string{"No meetings today"}, second.responses)
	assert.Len(t, second.completes, 1)
}

func TestCommandBypassesCache(t *testing.T) {
	d, mock, cache := newDispatcher(t)

	// Even a primed cache entry under the command text must be ignored.
	cache.Set("/refresh", assistant.QueryResult{Response: "stale"})

	rec := newRecorder()
	id := d.Dispatch(context.Background(), "/refresh", rec.callbacks(), "")
	require.NotEmpty(t, id, "commands always run live")
	rec.waitComplete(t)

	assert.Equal(t, 1, mock.StreamCalls())
	got, _ := cache.Get("/refresh")
	assert.Equal(t, "stale", got.Response, "command completion must not write through")
}

func TestFailedStreamNotCached(t *testing.T) {
	d, mock, cache := newDispatcher(t)
	mock.SetScript([]string{
		`{"type":"plan_generation_started"}`,
		`{"type":"error","message":"model overloaded"}`,
	})

	rec := newRecorder()
	d.Dispatch(context.Background(), "broken query", rec.callbacks(), "")
	rec.waitComplete(t)

	require.Len(t, rec.errs, 1)
	var serr *session.StreamError
	require.ErrorAs(t, rec.errs[0], &serr)
	assert.Equal(t, 0, cache.Size(), "failures must never populate the cache")
}

func TestFallbackQuery(t *testing.T) {
	d, mock, cache := newDispatcher(t, WithStreamingDisabled())
	mock.SetQueryResult(assistant.QueryResult{Response: "short", FullResponse: "long"})

	rec := newRecorder()
	id := d.Dispatch(context.Background(), "Plain question", rec.callbacks(), "")
	assert.Empty(t, id)
	rec.waitComplete(t)

	assert.Equal(t, 0, mock.StreamCalls())
	assert.Equal(t, 1, mock.QueryCalls())
	assert.Equal(t, []event.Kind{event.KindResponseGenerated, event.KindStreamCompleted}, rec.kinds())
	assert.Equal(t, []string{"short"}, rec.responses)
	assert.Len(t, rec.completes, 1)

	got, ok := cache.Get("Plain question")
	require.True(t, ok)
	assert.Equal(t, "short", got.Response)
}

func TestFallbackBackendError(t *testing.T) {
	d, mock, cache := newDispatcher(t, WithStreamingDisabled())
	mock.SetQueryStatus(500)

	rec := newRecorder()
	d.Dispatch(context.Background(), "doomed", rec.callbacks(), "")
	rec.waitComplete(t)

	require.Len(t, rec.errs, 1)
	assert.ErrorIs(t, rec.errs[0], assistant.ErrBackendError)
	assert.Empty(t, rec.events)
	assert.Equal(t, 0, cache.Size())
}

// gateBackend blocks Query until released and counts invocations.
type gateBackend struct {
	calls   atomic.Int64
	release chan struct{}
}

func (g *gateBackend) Query(ctx context.Context, query string) (*assistant.QueryResult, error) {
	g.calls.Add(1)
	<-g.release
	return &assistant.QueryResult{Response: "shared"}, nil
}

func TestFallbackDeduplicatesConcurrentQueries(t *testing.T) {
	backend := &gateBackend{release: make(chan struct{})}
	cache := respcache.NewMemory(2*time.Minute, 50)
	client := assistant.New("http://127.0.0.1:1", "")
	d := New(session.NewRegistry(client), cache, backend, WithStreamingDisabled())

	recs := []*recorder{newRecorder(), newRecorder(), newRecorder()}
	queries := []string{"Same question", "same question", "  Same Question  "}
	for i, rec := range recs {
		d.Dispatch(context.Background(), queries[i], rec.callbacks(), "")
	}

	// Give all three dispatches time to join the in-flight call, then let
	// the single backend invocation finish.
	require.Eventually(t, func() bool { return backend.calls.Load() >= 1 }, 2*time.Second, 5*time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	close(backend.release)

	for _, rec := range recs {
		rec.waitComplete(t)
		assert.Equal(t, []string{"shared"}, rec.responses)
	}
	assert.Equal(t, int64(1), backend.calls.Load(), "identical concurrent queries share one backend call")
}

func TestReplayIsolatesPanickingConsumer(t *testing.T) {
	d, _, cache := newDispatcher(t)
	cache.Set("primed", assistant.QueryResult{Response: "v", FullResponse: "vv"})

	var completes int
	cb := session.Callbacks{
		OnResponse: func(string, string) {
			panic("misbehaving consumer")
		},
		OnComplete: func(event.StreamEvent) { completes++ },
	}

	// A throwing consumer must never abort the pipeline; the replay path
	// is synchronous, so an escaping panic would surface right here.
	id := d.Dispatch(context.Background(), "primed", cb, "")
	assert.Empty(t, id)
	assert.Equal(t, 1, completes, "delivery continues past the panicking handler")
}

func TestIsCommand(t *testing.T) {
	assert.True(t, IsCommand("/status"))
	assert.True(t, IsCommand("  /refresh cache"))
	assert.False(t, IsCommand("what / means"))
	assert.False(t, IsCommand(""))
}

func TestCancelForwardsToRegistry(t *testing.T) {
	d, mock, _ := newDispatcher(t)
	mock.SetDelay(50 * time.Millisecond)

	rec := newRecorder()
	id := d.Dispatch(context.Background(), "slow query", rec.callbacks(), "")
	require.NotEmpty(t, id)

	assert.True(t, d.Cancel(id))
	assert.False(t, d.Cancel("unknown"))
}
