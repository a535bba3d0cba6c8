// SPDX-License-Identifier: MIT

package assistant

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"time"
)

// MockServer is a configurable assistant backend for tests. The stream
// endpoint writes one marker-framed line per scripted event and flushes
// after each, so clients observe real chunk boundaries.
type MockServer struct {
	*httptest.Server
	mu sync.RWMutex

	token       string
	events      []string // JSON payloads emitted as "data: <payload>\n"
	rawTail     string   // written verbatim after the scripted events, unterminated
	extraLines  []string // non-marker lines interleaved before the last event
	delay       time.Duration
	charset     string
	streamCode  int
	queryCode   int
	queryResult QueryResult

	streamCalls int
	queryCalls  int
}

// NewMockServer starts a mock backend with a default script.
func NewMockServer() *MockServer {
	m := &MockServer{
		streamCode: http.StatusOK,
		queryCode:  http.StatusOK,
		queryResult: QueryResult{
			Response:     "ok",
			FullResponse: "ok (full)",
		},
	}
	m.SetDefaultScript()

	mux := http.NewServeMux()
	mux.HandleFunc(streamPath, m.handleStream)
	mux.HandleFunc(queryPath, m.handleQuery)
	m.Server = httptest.NewServer(mux)
	return m
}

// SetDefaultScript installs a realistic end-to-end event sequence.
func (m *MockServer) SetDefaultScript() {
	m.SetScript([]string{
		`{"type":"plan_generation_started"}`,
		`{"type":"tool_started","tool":"getTodaysEvents"}`,
		`{"type":"tool_completed","tool":"getTodaysEvents","durationMs":42,"result":{"events":[]}}`,
		`{"type":"response_generated","response":"No meetings today","fullResponse":"You have no meetings today."}`,
		`{"type":"stream_completed"}`,
	})
}

// SetScript replaces the streamed event payloads.
func (m *MockServer) SetScript(events []string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append([]string(nil), events...)
}

// SetRawTail appends bytes after the scripted events without a terminator.
func (m *MockServer) SetRawTail(tail string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rawTail = tail
}

// SetExtraLines interleaves non-marker lines before the final event.
func (m *MockServer) SetExtraLines(lines []string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.extraLines = append([]string(nil), lines...)
}

// SetDelay inserts a pause between streamed events.
func (m *MockServer) SetDelay(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.delay = d
}

// SetCharset declares a charset on the stream Content-Type.
func (m *MockServer) SetCharset(cs string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.charset = cs
}

// SetToken requires a bearer token on every request.
func (m *MockServer) SetToken(token string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.token = token
}

// SetStreamStatus forces a non-200 status on the stream endpoint.
func (m *MockServer) SetStreamStatus(code int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.streamCode = code
}

// SetQueryStatus forces a non-200 status on the query endpoint.
func (m *MockServer) SetQueryStatus(code int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.queryCode = code
}

// SetQueryResult replaces the fallback query response.
func (m *MockServer) SetQueryResult(r QueryResult) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.queryResult = r
}

// StreamCalls reports how many stream requests were served.
func (m *MockServer) StreamCalls() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.streamCalls
}

// QueryCalls reports how many fallback query requests were served.
func (m *MockServer) QueryCalls() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.queryCalls
}

func (m *MockServer) authorized(r *http.Request) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.token == "" {
		return true
	}
	return r.Header.Get("Authorization") == "Bearer "+m.token
}

func (m *MockServer) handleStream(w http.ResponseWriter, r *http.Request) {
	if !m.authorized(r) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	m.mu.Lock()
	m.streamCalls++
	events := append([]string(nil), m.events...)
	extra := append([]string(nil), m.extraLines...)
	tail := m.rawTail
	delay := m.delay
	charset := m.charset
	code := m.streamCode
	m.mu.Unlock()

	if code != http.StatusOK {
		http.Error(w, "stream unavailable", code)
		return
	}

	ct := "text/event-stream"
	if charset != "" {
		ct += "; charset=" + charset
	}
	w.Header().Set("Content-Type", ct)
	w.WriteHeader(http.StatusOK)

	flusher, _ := w.(http.Flusher)
	write := func(line string) {
		_, _ = w.Write([]byte(line))
		if flusher != nil {
			flusher.Flush()
		}
		if delay > 0 {
			time.Sleep(delay)
		}
	}

	for i, payload := range events {
		if i == len(events)-1 {
			for _, l := range extra {
				write(l + "\n")
			}
		}
		write("data: " + payload + "\n")
	}
	if tail != "" {
		write(tail)
	}
}

func (m *MockServer) handleQuery(w http.ResponseWriter, r *http.Request) {
	if !m.authorized(r) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	m.mu.Lock()
	m.queryCalls++
	code := m.queryCode
	result := m.queryResult
	m.mu.Unlock()

	if code != http.StatusOK {
		http.Error(w, "query unavailable", code)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(result)
}
