package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"

	"github.com/wavejoin/signal-relay/internal/config"
	"github.com/wavejoin/signal-relay/internal/httpserver"
	"github.com/wavejoin/signal-relay/internal/metrics"
	"github.com/wavejoin/signal-relay/internal/relay"
	"github.com/wavejoin/signal-relay/internal/signaling"
)

var (
	// Set via -ldflags at build time. Values may be empty in local/dev builds.
	buildCommit = ""
	buildTime   = ""
)

func main() {
	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	logger, err := config.NewLogger(cfg)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	slog.SetDefault(logger)

	logger.Info("starting signal-relay",
		"listen_addr", cfg.ListenAddr,
		"mode", cfg.Mode,
		"static_dir", cfg.StaticDir,
		"max_sessions", cfg.MaxSessions,
		"max_participants_per_session", cfg.MaxParticipantsPerSession,
		"max_queued_messages_per_participant", cfg.MaxQueuedMessagesPerParticipant,
		"max_signal_messages_per_second", cfg.MaxSignalMessagesPerSecond,
		"max_signal_payload_bytes", cfg.MaxSignalPayloadBytes,
		"stream_keepalive_interval", cfg.StreamKeepaliveInterval,
		"allowed_origins", cfg.AllowedOrigins,
	)

	ln, err := net.Listen("tcp", cfg.ListenAddr)
	if err != nil {
		logger.Error("failed to listen", "err", err)
		os.Exit(1)
	}

	commit, built := resolveBuildInfo(buildCommit, buildTime)
	srv := httpserver.New(cfg, logger, httpserver.BuildInfo{Commit: commit, BuildTime: built})

	registry := relay.NewRegistry(relay.Config{
		MaxSessions:                        cfg.MaxSessions,
		MaxParticipantsPerSession:          cfg.MaxParticipantsPerSession,
		MaxQueuedMessagesPerParticipant:    cfg.MaxQueuedMessagesPerParticipant,
		MaxMessagesPerSecondPerParticipant: cfg.MaxSignalMessagesPerSecond,
		KeepaliveInterval:                  cfg.StreamKeepaliveInterval,
	}, nil, nil)

	sig := signaling.NewServer(signaling.Config{
		Registry:        registry,
		Logger:          logger,
		MaxPayloadBytes: cfg.MaxSignalPayloadBytes,
		WSIdleTimeout:   cfg.WSIdleTimeout,
	})
	sig.RegisterRoutes(srv.Mux())

	// Expose internal counters in Prometheus' text format.
	srv.Mux().Handle("GET /metrics", metrics.PrometheusHandler(registry.Metrics()))

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server exited", "err", err)
			os.Exit(1)
		}
		return
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown failed", "err", err)
	}

	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("http server exited after shutdown", "err", err)
		os.Exit(1)
	}
}

func resolveBuildInfo(commit, buildTime string) (string, string) {
	// Prefer ldflags-injected values (production builds) but fall back to the Go
	// build info when available (useful for `go run` / dev builds).
	if bi, ok := debug.ReadBuildInfo(); ok {
		for _, s := range bi.Settings {
			switch s.Key {
			case "vcs.revision":
				if commit == "" {
					commit = s.Value
				}
			case "vcs.time":
				if buildTime == "" {
					buildTime = s.Value
				}
			}
		}
	}

	return commit, buildTime
}
