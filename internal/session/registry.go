// SPDX-License-Identifier: MIT

package session

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/danielliaow/assistant-stream/internal/event"
	"github.com/danielliaow/assistant-stream/internal/log"
	"github.com/danielliaow/assistant-stream/internal/metrics"
)

// Registry is the process-wide table of streaming sessions. The active map
// holds only live sessions and drops them on terminal transition; the index
// map additionally preserves terminal sessions so their history stays
// queryable until an explicit ClearHistory call.
//
// Safe for concurrent Start/Cancel/History calls from independent streams.
type Registry struct {
	opener Opener
	logger zerolog.Logger

	mu     sync.Mutex
	active map[string]*Session
	index  map[string]*Session
}

// NewRegistry creates a Registry that opens streams through the given opener.
func NewRegistry(opener Opener) *Registry {
	return &Registry{
		opener: opener,
		logger: log.WithComponent("registry"),
		active: make(map[string]*Session),
		index:  make(map[string]*Session),
	}
}

// Start opens a streaming session for the query and returns its identifier
// synchronously, before the first byte is read; the caller may cancel
// immediately. All results arrive via the callbacks. sessionHint, when
// non-empty and unused, becomes the session id.
func (r *Registry) Start(ctx context.Context, query string, cb Callbacks, sessionHint string) string {
	sctx, cancel := context.WithCancel(ctx)
	s := &Session{
		query:     query,
		ctx:       sctx,
		cancel:    cancel,
		callbacks: cb,
		started:   time.Now(),
		done:      make(chan struct{}),
	}

	r.mu.Lock()
	id := sessionHint
	if id == "" || r.index[id] != nil {
		id = uuid.NewString()
	}
	s.id = id
	s.logger = log.WithSession("session", id)
	r.active[id] = s
	r.index[id] = s
	r.mu.Unlock()

	metrics.SessionsActive.Inc()
	s.logger.Debug().Msg("session started")

	go s.run(r.opener, sessionHint, func(outcome string) {
		r.finish(s, outcome)
	})
	return id
}

// finish performs the terminal transition: the session leaves the active
// map and can never be resurrected. Its history stays in the index.
func (r *Registry) finish(s *Session, outcome string) {
	r.mu.Lock()
	delete(r.active, s.id)
	r.mu.Unlock()

	metrics.SessionsActive.Dec()
	metrics.ObserveSessionDuration(outcome, time.Since(s.started))
	s.logger.Debug().
		Str("outcome", outcome).
		Int("events", len(s.History())).
		Msg("session finished")
}

// Get returns a live session by id.
func (r *Registry) Get(id string) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.active[id]
	return s, ok
}

// Cancel aborts one live session. Canceling an unknown or already terminal
// session is a no-op and returns false.
func (r *Registry) Cancel(id string) bool {
	r.mu.Lock()
	s, ok := r.active[id]
	r.mu.Unlock()
	if !ok {
		return false
	}
	s.Cancel()
	return true
}

// CancelAll aborts every live session and waits for their read loops to
// stop. Used during consumer teardown.
func (r *Registry) CancelAll() {
	r.mu.Lock()
	sessions := make([]*Session, 0, len(r.active))
	for _, s := range r.active {
		sessions = append(sessions, s)
	}
	r.mu.Unlock()

	for _, s := range sessions {
		s.Cancel()
	}
	for _, s := range sessions {
		<-s.Done()
	}
}

// ActiveCount reports the number of live sessions.
func (r *Registry) ActiveCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.active)
}

// History returns the event history for any known session, live or
// terminal. The second return reports whether the session is known.
func (r *Registry) History(id string) ([]event.StreamEvent, bool) {
	r.mu.Lock()
	s, ok := r.index[id]
	r.mu.Unlock()
	if !ok {
		return nil, false
	}
	return s.History(), true
}

// ClearHistory drops the preserved history of a terminal session. Live
// sessions are left untouched.
func (r *Registry) ClearHistory(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, live := r.active[id]; live {
		return
	}
	delete(r.index, id)
}
