// SPDX-License-Identifier: MIT

package session

import (
	"encoding/json"
	"time"

	"github.com/rs/zerolog"

	"github.com/danielliaow/assistant-stream/internal/event"
)

// Callbacks is the consumer's handler set. Every field is optional: a nil
// handler is simply not invoked, and a consumer registering none of them
// still drives the stream to completion.
//
// For each event OnEvent fires first, then at most one specialized handler
// for the same event.
type Callbacks struct {
	// OnEvent receives every normalized event unconditionally.
	OnEvent func(event.StreamEvent)
	// OnError receives exactly one terminal error: a transport failure or
	// an error-kind event. Never invoked after cancellation.
	OnError func(error)
	// OnComplete receives the terminal success event.
	OnComplete func(event.StreamEvent)
	// OnResponse receives the final assistant response, short and full form.
	OnResponse func(shortText, fullText string)
	// OnToolStart receives a tool invocation with its raw parameters.
	OnToolStart func(name string, params json.RawMessage)
	// OnToolProgress receives a fractional progress update for a tool.
	OnToolProgress func(name string, fraction float64, data json.RawMessage)
	// OnToolComplete receives a tool result and its reported duration.
	OnToolComplete func(name string, result json.RawMessage, duration time.Duration)
}

// Deliver routes one event: OnEvent first, specialized handler second.
// Each invocation is isolated; a panicking consumer never stops delivery or
// session bookkeeping. The dispatcher uses the same routing for cache
// replays so consumers observe one contract regardless of path.
func (c Callbacks) Deliver(logger zerolog.Logger, ev event.StreamEvent) {
	if c.OnEvent != nil {
		safeCall(logger, "OnEvent", func() { c.OnEvent(ev) })
	}

	switch ev.Kind {
	case event.KindResponseGenerated:
		if c.OnResponse != nil {
			safeCall(logger, "OnResponse", func() { c.OnResponse(ev.Response, ev.FullResponse) })
		}
	case event.KindToolStarted:
		if c.OnToolStart != nil {
			safeCall(logger, "OnToolStart", func() { c.OnToolStart(ev.ToolName, ev.Params) })
		}
	case event.KindToolProgress:
		if c.OnToolProgress != nil {
			fraction := 0.0
			if ev.Progress != nil {
				fraction = *ev.Progress
			}
			safeCall(logger, "OnToolProgress", func() { c.OnToolProgress(ev.ToolName, fraction, ev.RawPayload) })
		}
	case event.KindToolCompleted:
		if c.OnToolComplete != nil {
			safeCall(logger, "OnToolComplete", func() { c.OnToolComplete(ev.ToolName, ev.Result, ev.Duration) })
		}
	case event.KindStreamCompleted:
		if c.OnComplete != nil {
			safeCall(logger, "OnComplete", func() { c.OnComplete(ev) })
		}
	}
}

// Respond invokes OnResponse, isolated like every other callback. Used by
// delivery paths that surface a final response outside a response_generated
// event, such as cache replays.
func (c Callbacks) Respond(logger zerolog.Logger, shortText, fullText string) {
	if c.OnResponse != nil {
		safeCall(logger, "OnResponse", func() { c.OnResponse(shortText, fullText) })
	}
}

// Fail invokes OnError once, isolated like every other callback.
func (c Callbacks) Fail(logger zerolog.Logger, err error) {
	if c.OnError != nil {
		safeCall(logger, "OnError", func() { c.OnError(err) })
	}
}

func safeCall(logger zerolog.Logger, name string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error().
				Str("callback", name).
				Any("panic", r).
				Msg("consumer callback panicked, continuing delivery")
		}
	}()
	fn()
}
