package client

import (
	"context"
	"log/slog"
	"net"
	"time"

	"segtransfer/internal/config"
	"segtransfer/internal/errors"
	"segtransfer/internal/filesystem"
	"segtransfer/internal/network"
	"segtransfer/internal/session"
)

// Client requests files from a server and saves them into the
// download directory.
type Client struct {
	cfg  *config.Config
	sink session.Sink
}

// New creates a client. sink receives transfer events and may be nil.
func New(cfg *config.Config, sink session.Sink) *Client {
	return &Client{cfg: cfg, sink: sink}
}

// Run fetches the configured file once.
func (c *Client) Run(ctx context.Context) error {
	path, err := c.Fetch(ctx, c.cfg.Filename)
	if err != nil {
		return err
	}
	slog.Info("File saved", "path", path)
	return nil
}

// Fetch requests filename from the server, verifies and reassembles
// it, and saves it atomically into the download directory. Returns the
// saved path.
func (c *Client) Fetch(ctx context.Context, filename string) (string, error) {
	framed, err := c.dial(ctx)
	if err != nil {
		return "", err
	}
	defer framed.Close()

	receiver := session.NewReceiver(framed, session.Params{
		SegmentSize: c.cfg.SegmentSize,
		MaxRetries:  c.cfg.MaxRetries,
		AckTimeout:  c.cfg.AckTimeout,
	}, c.sink)

	data, err := receiver.Run(ctx, filename, c.cfg.ErrorProbability)
	if err != nil {
		return "", err
	}

	path, err := filesystem.SaveDownload(c.cfg.DownloadDir, filename, data)
	if err != nil {
		return "", err
	}

	stats := receiver.Snapshot()
	slog.Info("Transfer received",
		"filename", filename,
		"segments", stats.TotalSegments,
		"errors_detected", stats.ErrorsDetected,
		"duration_seconds", stats.Elapsed().Seconds())

	return path, nil
}

// CheckConnection dials the server and closes the connection again,
// verifying reachability without starting a transfer.
func (c *Client) CheckConnection(ctx context.Context) error {
	framed, err := c.dial(ctx)
	if err != nil {
		return err
	}
	return framed.Close()
}

// dial connects to the server, retrying with exponential backoff. A
// server that is just starting up gets a few seconds to come alive.
func (c *Client) dial(ctx context.Context) (*network.FramedConn, error) {
	addr := c.cfg.ServerAddress
	backoff := time.Second

	var lastErr error
	for attempt := 1; attempt <= c.cfg.ConnectRetries; attempt++ {
		conn, err := (&net.Dialer{Timeout: c.cfg.ConnectTimeout}).DialContext(ctx, "tcp", addr)
		if err == nil {
			if err := network.OptimizeTCPConnection(conn); err != nil {
				slog.Warn("Failed to optimize TCP connection", "error", err)
			}
			return network.NewFramedConn(conn, c.cfg.BufferSize), nil
		}
		lastErr = err

		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if attempt < c.cfg.ConnectRetries {
			slog.Warn("Connection failed, retrying",
				"address", addr, "attempt", attempt, "backoff", backoff)
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
			backoff *= 2
		}
	}

	return nil, errors.NewNetworkError("dial", addr, lastErr)
}
