// SPDX-License-Identifier: MIT

package event

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testNormalizer() *Normalizer {
	n := NewNormalizer("test-session")
	id := 0
	n.newID = func() string { id++; return string(rune('a' + id - 1)) }
	n.now = func() time.Time { return time.Date(2026, 8, 28, 12, 0, 0, 0, time.UTC) }
	return n
}

func TestNormalizeKnownKinds(t *testing.T) {
	tests := []struct {
		name       string
		payload    string
		wantKind   Kind
		wantStatus Status
	}{
		{"plan started", `{"type":"plan_generation_started"}`, KindPlanStarted, StatusInProgress},
		{"plan overview", `{"type":"plan_overview","description":"3 steps"}`, KindPlanOverview, StatusInProgress},
		{"step generated", `{"type":"step_generated","stepId":"s1"}`, KindStepGenerated, StatusPending},
		{"step started", `{"type":"step_started","stepId":"s1"}`, KindStepStarted, StatusInProgress},
		{"step completed", `{"type":"step_completed","stepId":"s1"}`, KindStepCompleted, StatusCompleted},
		{"step failed", `{"type":"step_failed","stepId":"s1"}`, KindStepFailed, StatusFailed},
		{"tool selected", `{"type":"tool_selected","tool":"getTodaysEvents"}`, KindToolSelected, StatusPending},
		{"tool started", `{"type":"tool_started","tool":"getTodaysEvents"}`, KindToolStarted, StatusInProgress},
		{"tool progress", `{"type":"tool_progress","tool":"getTodaysEvents","progress":0.4}`, KindToolProgress, StatusInProgress},
		{"tool completed", `{"type":"tool_completed","tool":"getTodaysEvents","durationMs":120}`, KindToolCompleted, StatusCompleted},
		{"response chunk", `{"type":"response_chunk","response":"You have"}`, KindResponseChunk, StatusInProgress},
		{"response generated", `{"type":"response_generated","response":"short","fullResponse":"long"}`, KindResponseGenerated, StatusCompleted},
		{"execution completed", `{"type":"execution_completed"}`, KindExecutionCompleted, StatusCompleted},
		{"execution with errors", `{"type":"execution_completed_with_errors"}`, KindExecutionCompletedWithErrors, StatusFailed},
		{"stream completed", `{"type":"stream_completed"}`, KindStreamCompleted, StatusCompleted},
		{"error", `{"type":"error","message":"boom"}`, KindError, StatusFailed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev, ok := testNormalizer().Normalize(tt.payload)
			require.True(t, ok)
			assert.Equal(t, tt.wantKind, ev.Kind)
			assert.Equal(t, tt.wantStatus, ev.Status)
			assert.NotEmpty(t, ev.ID)
			assert.False(t, ev.Timestamp.IsZero())
			assert.JSONEq(t, tt.payload, string(ev.RawPayload), "raw payload must be preserved verbatim")
		})
	}
}

func TestNormalizeMalformedJSON(t *testing.T) {
	ev, ok := testNormalizer().Normalize(`{"type":"tool_started",`)
	assert.False(t, ok)
	assert.Empty(t, ev.ID)
}

func TestNormalizeUnknownTypeIsPassthrough(t *testing.T) {
	payload := `{"type":"quantum_flux","detail":42}`
	ev, ok := testNormalizer().Normalize(payload)
	require.True(t, ok)
	assert.Equal(t, KindPassthrough, ev.Kind)
	assert.Equal(t, StatusInProgress, ev.Status)
	assert.Equal(t, "quantum_flux", ev.Title)
	assert.JSONEq(t, payload, string(ev.RawPayload))
}

func TestNormalizeToolExecutionSubKinds(t *testing.T) {
	n := testNormalizer()

	ev, ok := n.Normalize(`{"type":"tool_execution","tool":"searchDrive","status":"in_progress"}`)
	require.True(t, ok)
	assert.Equal(t, KindToolStarted, ev.Kind, "no progress number means start sub-state")

	ev, ok = n.Normalize(`{"type":"tool_execution","tool":"searchDrive","status":"in_progress","progress":0.6}`)
	require.True(t, ok)
	assert.Equal(t, KindToolProgress, ev.Kind)
	require.NotNil(t, ev.Progress)
	assert.InDelta(t, 0.6, *ev.Progress, 1e-9)

	ev, ok = n.Normalize(`{"type":"tool_execution","tool":"searchDrive","status":"completed","durationMs":300}`)
	require.True(t, ok)
	assert.Equal(t, KindToolCompleted, ev.Kind)
	assert.Equal(t, 300*time.Millisecond, ev.Duration)

	ev, ok = n.Normalize(`{"type":"tool_execution","tool":"searchDrive","status":"failed"}`)
	require.True(t, ok)
	assert.Equal(t, KindToolCompleted, ev.Kind)
	assert.Equal(t, StatusFailed, ev.Status)
}

func TestNormalizeResponseGeneratedPreservesBothTexts(t *testing.T) {
	ev, ok := testNormalizer().Normalize(`{"type":"response_generated","response":"2 meetings today","fullResponse":"You have 2 meetings today: standup at 9 and review at 14."}`)
	require.True(t, ok)
	assert.Equal(t, "2 meetings today", ev.Response)
	assert.Equal(t, "You have 2 meetings today: standup at 9 and review at 14.", ev.FullResponse)
}

func TestNormalizeToolTitleQualified(t *testing.T) {
	ev, ok := testNormalizer().Normalize(`{"type":"tool_started","tool":"getTodaysEvents"}`)
	require.True(t, ok)
	assert.Equal(t, "Tool running: getTodaysEvents", ev.Title)
}

func TestNormalizeBackendTitleWins(t *testing.T) {
	ev, ok := testNormalizer().Normalize(`{"type":"tool_started","tool":"x","title":"Fetching calendar"}`)
	require.True(t, ok)
	assert.Equal(t, "Fetching calendar", ev.Title)
}

func TestTerminal(t *testing.T) {
	assert.True(t, StreamEvent{Kind: KindStreamCompleted}.Terminal())
	assert.True(t, StreamEvent{Kind: KindError}.Terminal())
	assert.False(t, StreamEvent{Kind: KindResponseChunk}.Terminal())
}

func TestCutMarker(t *testing.T) {
	payload, ok := CutMarker(`data: {"type":"x"}`)
	require.True(t, ok)
	assert.Equal(t, `{"type":"x"}`, payload)

	_, ok = CutMarker(`event: ping`)
	assert.False(t, ok)

	_, ok = CutMarker("")
	assert.False(t, ok)
}
