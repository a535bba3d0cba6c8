// SPDX-License-Identifier: MIT

package event

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/danielliaow/assistant-stream/internal/log"
	"github.com/danielliaow/assistant-stream/internal/metrics"
)

// rawEvent is the superset of fields the backend may attach to an event
// line. Field names follow the backend's wire format.
type rawEvent struct {
	Type         string          `json:"type"`
	Title        string          `json:"title"`
	Description  string          `json:"description"`
	Message      string          `json:"message"`
	Status       string          `json:"status"`
	Tool         string          `json:"tool"`
	ToolName     string          `json:"toolName"`
	StepID       string          `json:"stepId"`
	Progress     *float64        `json:"progress"`
	Params       json.RawMessage `json:"params"`
	Result       json.RawMessage `json:"result"`
	Response     string          `json:"response"`
	FullResponse string          `json:"fullResponse"`
	DurationMs   int64           `json:"durationMs"`
	Error        string          `json:"error"`
}

// mapping fixes how one wire type translates into the taxonomy. The table is
// static: new backend event types surface as passthrough events until a row
// is added here.
type mapping struct {
	kind   Kind
	title  string
	status Status
}

var kindTable = map[string]mapping{
	"plan_generation_started":         {KindPlanStarted, "Generating plan", StatusInProgress},
	"plan_overview":                   {KindPlanOverview, "Plan ready", StatusInProgress},
	"step_generated":                  {KindStepGenerated, "Step prepared", StatusPending},
	"step_started":                    {KindStepStarted, "Step running", StatusInProgress},
	"step_completed":                  {KindStepCompleted, "Step finished", StatusCompleted},
	"step_failed":                     {KindStepFailed, "Step failed", StatusFailed},
	"tool_selected":                   {KindToolSelected, "Tool selected", StatusPending},
	"tool_started":                    {KindToolStarted, "Tool running", StatusInProgress},
	"tool_progress":                   {KindToolProgress, "Tool progress", StatusInProgress},
	"tool_completed":                  {KindToolCompleted, "Tool finished", StatusCompleted},
	"response_chunk":                  {KindResponseChunk, "Responding", StatusInProgress},
	"response_generated":              {KindResponseGenerated, "Response ready", StatusCompleted},
	"execution_completed":             {KindExecutionCompleted, "Done", StatusCompleted},
	"execution_completed_with_errors": {KindExecutionCompletedWithErrors, "Done with errors", StatusFailed},
	"stream_completed":                {KindStreamCompleted, "Stream completed", StatusCompleted},
	"error":                           {KindError, "Error", StatusFailed},
}

// Normalizer turns decoded event payload lines into StreamEvents.
// Safe for reuse across lines of one stream; stateless apart from its logger.
type Normalizer struct {
	logger zerolog.Logger
	newID  func() string
	now    func() time.Time
}

// NewNormalizer creates a Normalizer logging under the given session id.
func NewNormalizer(sessionID string) *Normalizer {
	return &Normalizer{
		logger: log.WithSession("normalizer", sessionID),
		newID:  func() string { return uuid.NewString() },
		now:    time.Now,
	}
}

// Normalize maps one event payload line (the line with its marker already
// stripped) to exactly one StreamEvent.
//
// Malformed JSON is not a stream error: the line is logged, counted and
// skipped (ok is false), and the stream continues. Unknown wire types yield
// a passthrough event preserving the raw payload.
func (n *Normalizer) Normalize(payload string) (StreamEvent, bool) {
	var raw rawEvent
	if err := json.Unmarshal([]byte(payload), &raw); err != nil {
		metrics.MalformedLinesTotal.Inc()
		n.logger.Warn().
			Err(err).
			Str(log.FieldLine, truncateForLog(payload)).
			Msg("skipping malformed event line")
		return StreamEvent{}, false
	}

	ev := StreamEvent{
		ID:           n.newID(),
		Timestamp:    n.now(),
		Description:  firstNonEmpty(raw.Description, raw.Message),
		Progress:     raw.Progress,
		ToolName:     firstNonEmpty(raw.Tool, raw.ToolName),
		StepID:       raw.StepID,
		Duration:     time.Duration(raw.DurationMs) * time.Millisecond,
		Response:     raw.Response,
		FullResponse: raw.FullResponse,
		Params:       raw.Params,
		Result:       raw.Result,
		RawPayload:   json.RawMessage(payload),
	}

	m, known := kindTable[raw.Type]
	switch {
	case raw.Type == "tool_execution":
		// Legacy combined form: the sub-kind depends on the reported
		// status and, while running, on the presence of a progress number.
		m = resolveToolExecution(raw)
	case !known:
		m = mapping{KindPassthrough, raw.Type, StatusInProgress}
	}

	ev.Kind = m.kind
	ev.Status = m.status
	ev.Title = deriveTitle(m, raw)

	if ev.Kind == KindError && ev.Description == "" {
		ev.Description = raw.Error
	}

	metrics.StreamEventsTotal.WithLabelValues(string(ev.Kind)).Inc()
	return ev, true
}

func resolveToolExecution(raw rawEvent) mapping {
	switch raw.Status {
	case "completed":
		return mapping{KindToolCompleted, "Tool finished", StatusCompleted}
	case "failed":
		return mapping{KindToolCompleted, "Tool failed", StatusFailed}
	default:
		if raw.Progress != nil {
			return mapping{KindToolProgress, "Tool progress", StatusInProgress}
		}
		return mapping{KindToolStarted, "Tool running", StatusInProgress}
	}
}

// deriveTitle prefers the backend-provided title and falls back to the
// table template, qualified with the tool name where one is present.
func deriveTitle(m mapping, raw rawEvent) string {
	if raw.Title != "" {
		return raw.Title
	}
	tool := firstNonEmpty(raw.Tool, raw.ToolName)
	switch m.kind {
	case KindToolSelected, KindToolStarted, KindToolProgress, KindToolCompleted:
		if tool != "" {
			return fmt.Sprintf("%s: %s", m.title, tool)
		}
	}
	return m.title
}

func firstNonEmpty(a, b string) string {
	if a != "" {
		return a
	}
	return b
}

const maxLoggedLine = 256

func truncateForLog(s string) string {
	if len(s) <= maxLoggedLine {
		return s
	}
	return s[:maxLoggedLine] + "..."
}
