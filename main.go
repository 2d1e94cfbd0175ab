/*
Segtransfer is a point-to-point file transfer tool that demonstrates
reliable delivery over an unreliable channel. The sender fragments each
file into fixed-size segments, protects every segment with an Internet
checksum, and deliberately corrupts a configurable fraction of
transmissions so the detect-and-retransmit machinery is exercised on
every run.

The program operates in three modes:

1. Server Mode: serves files from a storage directory, one transfer
per connection

2. Client Mode: requests a file, verifies every segment, and saves the
reassembled result

3. Web Mode: a browser front end that starts transfers and streams
their progress over a websocket
*/
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"segtransfer/internal/client"
	"segtransfer/internal/config"
	"segtransfer/internal/logging"
	"segtransfer/internal/metrics"
	"segtransfer/internal/progress"
	"segtransfer/internal/server"
	"segtransfer/internal/session"
	"segtransfer/internal/web"
)

func main() {
	// Setup structured logging first
	if err := logging.SetupLogger(); err != nil {
		slog.Error("Failed to setup logging", "error", err)
		os.Exit(1)
	}

	// Parse command line arguments
	cfg, err := config.ParseFlags()
	if err != nil {
		slog.Error("Configuration error", "error", err)
		os.Exit(1)
	}

	logging.LogConfig(cfg)

	// Shut down cleanly on interrupt
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	switch {
	case cfg.IsServer:
		srv := server.New(cfg, logging.SessionSink("server"))
		if err := srv.Run(ctx); err != nil {
			logging.LogError(err, "server")
			os.Exit(1)
		}
	case cfg.IsWeb:
		if err := web.New(cfg, metrics.New()).Run(ctx); err != nil {
			logging.LogError(err, "web")
			os.Exit(1)
		}
	default:
		sinks := []session.Sink{logging.SessionSink("client")}
		if cfg.ShowProgress {
			sinks = append(sinks, progress.NewReporter(os.Stdout).Sink())
		}
		c := client.New(cfg, session.MultiSink(sinks...))
		if err := c.Run(ctx); err != nil {
			logging.LogError(err, "client")
			os.Exit(1)
		}
	}
}
