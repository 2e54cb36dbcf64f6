// Command auricle is the streaming transcription backend: it ingests
// compressed audio from wearable capture devices, streams it to Deepgram,
// and hands accumulated transcript blocks to the analysis service.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/auricle-audio/auricle/internal/analysis"
	"github.com/auricle-audio/auricle/internal/archive"
	"github.com/auricle-audio/auricle/internal/config"
	"github.com/auricle-audio/auricle/internal/health"
	"github.com/auricle-audio/auricle/internal/observe"
	"github.com/auricle-audio/auricle/internal/server"
	"github.com/auricle-audio/auricle/internal/session"
	"github.com/auricle-audio/auricle/internal/transcript"
	"github.com/auricle-audio/auricle/pkg/provider/stt"
	"github.com/auricle-audio/auricle/pkg/provider/stt/deepgram"
)

// version is stamped at build time via -ldflags.
var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "auricle: config file %q not found — copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "auricle: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	logger := newLogger(cfg.Server.LogLevel)
	slog.SetDefault(logger)

	slog.Info("auricle starting",
		"version", version,
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	shutdownTelemetry, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName:    "auricle",
		ServiceVersion: version,
	})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}

	// ── STT provider ──────────────────────────────────────────────────────────
	provider, err := deepgram.New(cfg.Deepgram.APIKey,
		deepgram.WithModel(cfg.Deepgram.Model),
		deepgram.WithLanguage(cfg.Deepgram.Language),
	)
	if err != nil {
		slog.Error("failed to create STT provider", "err", err)
		return 1
	}

	// ── Archival sink ─────────────────────────────────────────────────────────
	var store archive.Store = archive.Discard{}
	if cfg.Archive.Dir != "" {
		dir, err := archive.NewDir(cfg.Archive.Dir)
		if err != nil {
			slog.Error("failed to open archive directory", "err", err)
			return 1
		}
		store = dir
		slog.Info("segment archival enabled", "dir", cfg.Archive.Dir)
	}

	// ── Downstream analysis ───────────────────────────────────────────────────
	var publisher analysis.Publisher = analysis.LogOnly{}
	if cfg.Analysis.Endpoint != "" {
		publisher = analysis.NewClient(cfg.Analysis.Endpoint, cfg.Analysis.Timeout.Std())
		slog.Info("analysis handoff enabled", "endpoint", cfg.Analysis.Endpoint)
	}

	// ── Session registry ──────────────────────────────────────────────────────
	registry := session.NewRegistry(sessionFactory(cfg, provider, publisher, store))

	// ── HTTP server ───────────────────────────────────────────────────────────
	checks := health.New(
		health.Checker{Name: "provider", Check: func(context.Context) error {
			if cfg.Deepgram.APIKey == "" {
				return errors.New("no Deepgram API key configured")
			}
			return nil
		}},
	)
	srv := &http.Server{
		Addr:              cfg.Server.ListenAddr,
		Handler:           server.New(registry, checks).Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.Info("server ready — press Ctrl+C to shut down")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		registry.Sweep(gctx, cfg.Sweep.Interval.Std(), cfg.Sweep.Staleness.Std())
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("run error", "err", err)
		return 1
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	slog.Info("shutdown signal received, stopping…")

	// Tear down every live session so buffered transcript is flushed.
	registry.CloseAll("shutdown")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := shutdownTelemetry(shutdownCtx); err != nil {
		slog.Warn("telemetry shutdown error", "err", err)
	}

	slog.Info("goodbye")
	return 0
}

// sessionFactory builds the per-session aggregate wiring from config.
func sessionFactory(
	cfg *config.Config,
	provider stt.Provider,
	publisher analysis.Publisher,
	store archive.Store,
) session.Factory {
	return func(id string) (*session.Session, error) {
		return session.NewSession(session.SessionConfig{
			ID:       id,
			Provider: provider,
			Stream: stt.StreamConfig{
				SampleRate: cfg.Audio.SampleRate,
				Channels:   cfg.Audio.Channels,
				Language:   cfg.Deepgram.Language,
				Diarize:    true,
			},
			Publisher: publisher,
			Store:     store,
			Supervision: session.SupervisorConfig{
				ConnectTimeout:    cfg.Session.ConnectTimeout.Std(),
				KeepaliveInterval: cfg.Session.KeepaliveInterval.Std(),
				MaxAttempts:       cfg.Session.MaxReconnectAttempts,
				BackoffBase:       cfg.Session.BackoffBase.Std(),
				BackoffCap:        cfg.Session.BackoffCap.Std(),
			},
			Transcript: transcript.Config{
				Dwell:              cfg.Transcript.FlushDwell.Std(),
				DuplicateThreshold: cfg.Transcript.DuplicateThreshold,
				RecentWindow:       cfg.Transcript.RecentWindow,
			},
			SegmentLen:  time.Duration(cfg.Audio.SegmentSeconds) * time.Second,
			IdleTimeout: cfg.Session.InactivityTimeout.Std(),
		})
	}
}

// newLogger builds a text slog.Logger at the configured level.
func newLogger(level config.LogLevel) *slog.Logger {
	var l slog.Level
	switch level {
	case config.LogDebug:
		l = slog.LevelDebug
	case config.LogWarn:
		l = slog.LevelWarn
	case config.LogError:
		l = slog.LevelError
	default:
		l = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: l}))
}
