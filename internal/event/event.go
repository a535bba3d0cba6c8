// SPDX-License-Identifier: MIT

// Package event defines the closed stream event taxonomy and the normalizer
// that maps heterogeneous wire payloads onto it. Consumers only ever see
// values of this package's types; the backend's raw event vocabulary stays
// confined to the normalizer's mapping table.
package event

import (
	"encoding/json"
	"strings"
	"time"
)

// Marker is the line prefix identifying an event-bearing line on the wire.
const Marker = "data: "

// CutMarker strips the event marker from a decoded line. Lines without the
// marker are not events and must be ignored by the caller.
func CutMarker(line string) (payload string, ok bool) {
	return strings.CutPrefix(line, Marker)
}

// Kind enumerates the closed set of stream event flavors.
type Kind string

const (
	// KindPlanStarted signals that the backend began generating an
	// execution plan for the query.
	KindPlanStarted Kind = "plan_started"
	// KindPlanOverview carries the generated plan summary.
	KindPlanOverview Kind = "plan_overview"
	// KindStepGenerated signals that a plan step was materialized.
	KindStepGenerated Kind = "step_generated"
	// KindStepStarted signals that a plan step began executing.
	KindStepStarted Kind = "step_started"
	// KindStepCompleted signals that a plan step finished successfully.
	KindStepCompleted Kind = "step_completed"
	// KindStepFailed signals that a plan step failed.
	KindStepFailed Kind = "step_failed"
	// KindToolSelected signals that the backend chose a tool for a step.
	KindToolSelected Kind = "tool_selected"
	// KindToolStarted signals that a tool invocation began.
	KindToolStarted Kind = "tool_started"
	// KindToolProgress carries a fractional progress update for a running tool.
	KindToolProgress Kind = "tool_progress"
	// KindToolCompleted signals that a tool invocation finished and carries
	// its result.
	KindToolCompleted Kind = "tool_completed"
	// KindResponseChunk carries an incremental piece of assistant text.
	KindResponseChunk Kind = "response_chunk"
	// KindResponseGenerated carries the final assistant response, both the
	// display-oriented short form and the unabridged full form.
	KindResponseGenerated Kind = "response_generated"
	// KindExecutionCompleted signals that every plan step succeeded.
	KindExecutionCompleted Kind = "execution_completed"
	// KindExecutionCompletedWithErrors signals that execution finished but
	// one or more steps failed.
	KindExecutionCompletedWithErrors Kind = "execution_completed_with_errors"
	// KindStreamCompleted is the terminal success marker. No event may
	// follow it within the same session.
	KindStreamCompleted Kind = "stream_completed"
	// KindError is the terminal failure marker.
	KindError Kind = "error"
	// KindPassthrough preserves a wire event whose type is not in the
	// mapping table. Unrecognized server events are never dropped.
	KindPassthrough Kind = "passthrough"
)

// Status enumerates the closed set of event statuses.
type Status string

const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// StreamEvent is one immutable unit of progress or completion. Every field
// except RawPayload is derived at normalization time; RawPayload is the
// complete, unmodified wire payload for consumers that need full fidelity.
type StreamEvent struct {
	// ID is an opaque unique identifier generated at normalization time.
	ID string
	// Timestamp is the normalization instant.
	Timestamp time.Time
	// Kind classifies the event.
	Kind Kind
	// Title is a short human-readable label. Derived, not authoritative.
	Title string
	// Description is optional longer text.
	Description string
	// Status is the derived lifecycle status.
	Status Status
	// Progress is a fractional completion indicator in [0,1]. Nil for
	// non-progressive kinds.
	Progress *float64
	// ToolName correlates tool events. Empty otherwise.
	ToolName string
	// StepID correlates step events. Empty otherwise.
	StepID string
	// Duration is the reported execution time for completion events.
	Duration time.Duration
	// Response is the display-oriented short response text
	// (response_generated and response_chunk kinds).
	Response string
	// FullResponse is the unabridged response text (response_generated).
	FullResponse string
	// Params carries the tool invocation arguments (tool_started).
	Params json.RawMessage
	// Result carries the tool result payload (tool_completed).
	Result json.RawMessage
	// RawPayload is the complete source payload, never truncated.
	RawPayload json.RawMessage
}

// Terminal reports whether the event ends its session. Nothing may be
// dispatched after a terminal event.
func (e StreamEvent) Terminal() bool {
	return e.Kind == KindStreamCompleted || e.Kind == KindError
}
