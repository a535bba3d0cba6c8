// SPDX-License-Identifier: MIT

// assistant-mock is a standalone development backend. It serves the
// streaming and fallback query endpoints with a scripted tool-calling
// conversation, so streamctl and integration setups can run without a
// real assistant deployment.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/danielliaow/assistant-stream/internal/config"
	"github.com/danielliaow/assistant-stream/internal/log"
)

func main() {
	addr := flag.String("addr", ":8787", "listen address")
	token := flag.String("token", "", "required bearer token (empty disables auth)")
	delay := flag.Duration("delay", 300*time.Millisecond, "pause between streamed events")
	flag.Parse()

	log.Configure(log.Config{
		Level:   config.ParseString("LOG_LEVEL", "info"),
		Service: "assistant-mock",
	})
	logger := log.WithComponent("mock")

	srv := &http.Server{
		Addr:              *addr,
		Handler:           router(logger, *token, *delay),
		ReadHeaderTimeout: 5 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Info().Str("addr", *addr).Bool("auth", *token != "").Msg("mock assistant listening")
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Fatal().Err(err).Msg("server failed")
	}
	logger.Info().Msg("server exiting")
}

func router(logger zerolog.Logger, token string, delay time.Duration) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger(logger))

	r.Handle("/metrics", promhttp.Handler())
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	r.Group(func(r chi.Router) {
		if token != "" {
			r.Use(bearerAuth(token))
		}
		r.Post("/api/assistant/stream", streamHandler(logger, delay))
		r.Post("/api/assistant/query", queryHandler(logger))
	})
	return r
}

func requestLogger(logger zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			next.ServeHTTP(w, r)
			logger.Debug().
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Dur("duration", time.Since(start)).
				Msg("request served")
		})
	}
}

func bearerAuth(token string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Header.Get("Authorization") != "Bearer "+token {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

type queryBody struct {
	Query     string `json:"query"`
	SessionID string `json:"sessionId,omitempty"`
}

// script builds the event sequence streamed for a query. Commands get a
// short two-event script, everything else a full tool-calling round trip.
func script(query string) []string {
	if strings.HasPrefix(strings.TrimSpace(query), "/") {
		return []string{
			`{"type":"plan_generation_started"}`,
			fmt.Sprintf(`{"type":"response_generated","response":"ran %s","fullResponse":"Command %s executed."}`,
				jsonEscape(query), jsonEscape(query)),
			`{"type":"stream_completed"}`,
		}
	}
	short := "No meetings today"
	full := "You have no meetings scheduled for today."
	return []string{
		`{"type":"plan_generation_started"}`,
		`{"type":"plan_overview","title":"Check your calendar","description":"Look up today's events"}`,
		`{"type":"tool_selected","tool":"getTodaysEvents"}`,
		`{"type":"tool_started","tool":"getTodaysEvents","params":{"date":"today"}}`,
		`{"type":"tool_progress","tool":"getTodaysEvents","progress":0.5}`,
		`{"type":"tool_completed","tool":"getTodaysEvents","durationMs":180,"result":{"events":[]}}`,
		fmt.Sprintf(`{"type":"response_generated","response":%q,"fullResponse":%q}`, short, full),
		`{"type":"execution_completed"}`,
		`{"type":"stream_completed"}`,
	}
}

func jsonEscape(s string) string {
	b, _ := json.Marshal(s)
	return strings.Trim(string(b), `"`)
}

func streamHandler(logger zerolog.Logger, delay time.Duration) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body queryBody
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Query == "" {
			http.Error(w, "bad request", http.StatusBadRequest)
			return
		}
		logger.Info().Str("query", body.Query).Msg("streaming scripted response")

		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(http.StatusOK)
		flusher, _ := w.(http.Flusher)

		for _, payload := range script(body.Query) {
			select {
			case <-r.Context().Done():
				return
			case <-time.After(delay):
			}
			if _, err := fmt.Fprintf(w, "data: %s\n", payload); err != nil {
				return
			}
			if flusher != nil {
				flusher.Flush()
			}
		}
	}
}

func queryHandler(logger zerolog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body queryBody
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Query == "" {
			http.Error(w, "bad request", http.StatusBadRequest)
			return
		}
		logger.Info().Str("query", body.Query).Msg("serving fallback query")

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"response":     "No meetings today",
			"fullResponse": "You have no meetings scheduled for today.",
		})
	}
}
