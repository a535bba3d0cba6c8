// SPDX-License-Identifier: MIT

// Package session owns one streaming request end-to-end: it wires the frame
// decoder and event normalizer to the consumer's callbacks, keeps the
// append-only event history, and makes the whole pipeline independently
// cancellable. The Registry is the process-wide table of live sessions.
package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/danielliaow/assistant-stream/internal/assistant"
	"github.com/danielliaow/assistant-stream/internal/event"
	"github.com/danielliaow/assistant-stream/internal/framing"
	"github.com/danielliaow/assistant-stream/internal/log"
)

// ErrTruncatedStream reports a stream that ended before its terminal event.
var ErrTruncatedStream = errors.New("session: stream ended before terminal event")

// StreamError is the terminal error derived from an error-kind event.
type StreamError struct {
	Event event.StreamEvent
}

func (e *StreamError) Error() string {
	if e.Event.Description != "" {
		return fmt.Sprintf("session: backend error: %s", e.Event.Description)
	}
	return "session: backend error"
}

// Session outcome labels, used for logs and metrics.
const (
	OutcomeCompleted = "completed"
	OutcomeFailed    = "failed"
	OutcomeCanceled  = "canceled"
)

// Session is one in-flight streaming request. Created by Registry.Start,
// never constructed directly. History is append-only and remains readable
// from a caller-held reference after the session leaves the registry.
type Session struct {
	id        string
	query     string
	ctx       context.Context
	cancel    context.CancelFunc
	callbacks Callbacks
	logger    zerolog.Logger
	started   time.Time
	done      chan struct{}

	mu      sync.Mutex
	history []event.StreamEvent
	outcome string
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// Query returns the query text this session was started for.
func (s *Session) Query() string { return s.query }

// Done is closed when the session reaches a terminal state and its
// read loop has exited.
func (s *Session) Done() <-chan struct{} { return s.done }

// History returns a snapshot of the events delivered so far, in arrival
// order. Safe to call at any time, including after terminal transition.
func (s *Session) History() []event.StreamEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]event.StreamEvent, len(s.history))
	copy(out, s.history)
	return out
}

// Outcome returns the terminal outcome, or "" while the session is live.
func (s *Session) Outcome() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.outcome
}

// Cancel aborts the session. Cancellation is silent by contract: once it
// takes effect no further callbacks fire, not even OnError.
func (s *Session) Cancel() { s.cancel() }

func (s *Session) canceled() bool { return s.ctx.Err() != nil }

func (s *Session) append(ev event.StreamEvent) {
	s.mu.Lock()
	s.history = append(s.history, ev)
	s.mu.Unlock()
}

func (s *Session) markTerminal(outcome string) {
	s.mu.Lock()
	s.outcome = outcome
	s.mu.Unlock()
}

// run is the session's read loop. It owns the transport body, the decoder
// and the normalizer, and is the only goroutine that touches them. finish
// is invoked exactly once with the terminal outcome.
func (s *Session) run(opener Opener, hint string, finish func(outcome string)) {
	defer close(s.done)

	end := func(outcome string) {
		s.markTerminal(outcome)
		finish(outcome)
	}

	sb, err := opener.Stream(s.ctx, s.query, hint)
	if err != nil {
		if s.canceled() {
			end(OutcomeCanceled)
			return
		}
		s.logger.Warn().Err(err).Msg("stream open failed")
		s.callbacks.Fail(s.logger, err)
		end(OutcomeFailed)
		return
	}
	defer sb.Body.Close() //nolint:errcheck

	// Closing the body on cancellation unblocks a pending Read even when
	// the transport does not watch the request context itself, keeping
	// cancellation effective within one read iteration.
	go func() {
		select {
		case <-s.ctx.Done():
			sb.Body.Close() //nolint:errcheck
		case <-s.done:
		}
	}()

	dec := framing.NewDecoder(sb.Charset)
	norm := event.NewNormalizer(s.id)
	buf := make([]byte, 32*1024)

	for {
		// Cancellation is cooperative and checked at the top of every
		// read iteration; a canceled context also unblocks the pending
		// Read because the transport request shares it.
		if s.canceled() {
			end(OutcomeCanceled)
			return
		}

		n, err := sb.Body.Read(buf)
		if n > 0 {
			for _, line := range dec.Decode(buf[:n]) {
				if s.canceled() {
					end(OutcomeCanceled)
					return
				}
				if outcome, terminal := s.handleLine(norm, line); terminal {
					// Lines still queued behind a terminal event are
					// drained and discarded, never dispatched.
					end(outcome)
					return
				}
			}
		}
		if err != nil {
			switch {
			case s.canceled():
				end(OutcomeCanceled)
			case errors.Is(err, io.EOF):
				if dropped := dec.Finish(); dropped > 0 {
					s.logger.Warn().Int("bytes", dropped).Msg("stream ended with unterminated fragment")
				}
				// The backend always terminates with stream_completed;
				// a bare EOF means the stream was cut short.
				s.callbacks.Fail(s.logger, ErrTruncatedStream)
				end(OutcomeFailed)
			default:
				s.logger.Warn().Err(err).Msg("stream read failed")
				s.callbacks.Fail(s.logger, fmt.Errorf("session: stream read: %w", err))
				end(OutcomeFailed)
			}
			return
		}
	}
}

// handleLine processes one decoded line and reports whether it was terminal.
func (s *Session) handleLine(norm *event.Normalizer, line string) (outcome string, terminal bool) {
	if line == "" {
		return "", false
	}
	payload, ok := event.CutMarker(line)
	if !ok {
		// Unknown framing is tolerated for forward compatibility:
		// logged and dropped, never an error.
		s.logger.Debug().Str(log.FieldLine, line).Msg("ignoring line without event marker")
		return "", false
	}
	ev, ok := norm.Normalize(payload)
	if !ok {
		return "", false
	}

	s.append(ev)
	s.callbacks.Deliver(s.logger, ev)

	switch ev.Kind {
	case event.KindStreamCompleted:
		return OutcomeCompleted, true
	case event.KindError:
		s.callbacks.Fail(s.logger, &StreamError{Event: ev})
		return OutcomeFailed, true
	}
	return "", false
}

// Opener opens the transport stream for a query. *assistant.Client is the
// production implementation; tests substitute their own.
type Opener interface {
	Stream(ctx context.Context, query, sessionHint string) (*assistant.StreamBody, error)
}
