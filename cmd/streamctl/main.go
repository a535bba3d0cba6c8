// SPDX-License-Identifier: MIT

// streamctl sends one query to the assistant backend and prints the
// streamed events as they arrive. It is the reference consumer of the
// dispatch package and doubles as a manual smoke test against a real or
// mocked backend.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/danielliaow/assistant-stream/internal/assistant"
	"github.com/danielliaow/assistant-stream/internal/config"
	"github.com/danielliaow/assistant-stream/internal/dispatch"
	"github.com/danielliaow/assistant-stream/internal/event"
	"github.com/danielliaow/assistant-stream/internal/log"
	"github.com/danielliaow/assistant-stream/internal/respcache"
	"github.com/danielliaow/assistant-stream/internal/session"
	"github.com/danielliaow/assistant-stream/internal/version"
)

func main() {
	showVersion := flag.Bool("version", false, "print version and exit")
	configPath := flag.String("config", "", "path to config file (YAML)")
	noStream := flag.Bool("no-stream", false, "use the non-streaming query endpoint")
	jsonOut := flag.Bool("json", false, "print raw event payloads as JSON lines")
	repeat := flag.Int("repeat", 1, "send the query n times (demonstrates cache replay)")
	flag.Parse()

	if *showVersion {
		fmt.Printf("%s (commit: %s, built: %s)\n", version.Version, version.Commit, version.Date)
		os.Exit(0)
	}

	query := strings.TrimSpace(strings.Join(flag.Args(), " "))
	if query == "" {
		fmt.Fprintln(os.Stderr, "usage: streamctl [flags] <query>")
		flag.PrintDefaults()
		os.Exit(2)
	}

	log.Configure(log.Config{
		Level:   "info",
		Service: "streamctl",
	})
	logger := log.WithComponent("streamctl")

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Fatal().Err(err).Str("config_path", *configPath).Msg("failed to load configuration")
	}
	log.SetLevel(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	client := assistant.New(cfg.BaseURL, cfg.BearerToken,
		assistant.WithRateLimit(cfg.RateLimit, 1),
	)

	var cache respcache.Cache
	if cfg.RedisAddr != "" {
		rc, err := respcache.NewRedis(respcache.RedisConfig{Addr: cfg.RedisAddr}, cfg.CacheTTL)
		if err != nil {
			logger.Fatal().Err(err).Str("addr", cfg.RedisAddr).Msg("redis cache unavailable")
		}
		defer rc.Close() //nolint:errcheck
		cache = rc
	} else {
		cache = respcache.NewMemory(cfg.CacheTTL, cfg.CacheMaxSize)
	}

	var opts []dispatch.Option
	if *noStream {
		opts = append(opts, dispatch.WithStreamingDisabled())
	}
	d := dispatch.New(session.NewRegistry(client), cache, client, opts...)
	defer d.Close()

	for i := 0; i < *repeat; i++ {
		if i > 0 {
			fmt.Println("---")
		}
		if err := runOnce(ctx, d, query, *jsonOut); err != nil {
			logger.Error().Err(err).Msg("query failed")
			os.Exit(1)
		}
		if ctx.Err() != nil {
			return
		}
	}
}

// runOnce dispatches the query and blocks until its terminal callback or
// the interrupt context fires.
func runOnce(ctx context.Context, d *dispatch.Dispatcher, query string, jsonOut bool) error {
	done := make(chan error, 1)

	cb := session.Callbacks{
		OnEvent: func(ev event.StreamEvent) {
			printEvent(ev, jsonOut)
		},
		OnError: func(err error) {
			done <- err
		},
		OnComplete: func(event.StreamEvent) {
			done <- nil
		},
	}

	// Cache replays complete before Dispatch returns; live streams and the
	// fallback path deliver asynchronously. The buffered channel covers both.
	id := d.Dispatch(ctx, query, cb, "")

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		if id != "" {
			d.Cancel(id)
		}
		return nil
	}
}

func printEvent(ev event.StreamEvent, jsonOut bool) {
	if jsonOut {
		line, err := json.Marshal(ev)
		if err == nil {
			fmt.Println(string(line))
		}
		return
	}

	ts := ev.Timestamp.Format(time.TimeOnly)
	switch ev.Kind {
	case event.KindResponseGenerated, event.KindResponseChunk:
		fmt.Printf("[%s] %s\n\n%s\n", ts, ev.Title, ev.FullResponse)
	case event.KindToolCompleted:
		fmt.Printf("[%s] %s (%s)\n", ts, ev.Title, ev.Duration)
	default:
		if ev.Description != "" {
			fmt.Printf("[%s] %s: %s\n", ts, ev.Title, ev.Description)
		} else {
			fmt.Printf("[%s] %s\n", ts, ev.Title)
		}
	}
}
