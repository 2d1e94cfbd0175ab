package logging

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"segtransfer/internal/config"
	"segtransfer/internal/errors"
	"segtransfer/internal/filesystem"
	"segtransfer/internal/session"
)

// SetupLogger initializes structured logging with file and console output
func SetupLogger() error {
	// Create logs directory if it doesn't exist
	if err := filesystem.EnsureDirectoryExists("logs"); err != nil {
		return err
	}

	// Create log file with timestamp
	logFileName := filepath.Join("logs",
		"segtransfer_"+time.Now().Format("20060102_150405")+".log")

	logFile, err := os.Create(logFileName)
	if err != nil {
		// Continue with console logging only
		slog.Warn("Failed to create log file, using console only", "error", err)
		return nil
	}

	// Create multi-writer to log to both console and file
	multiWriter := io.MultiWriter(os.Stdout, logFile)

	opts := &slog.HandlerOptions{
		Level:     slog.LevelInfo,
		AddSource: false,
	}

	// Use text handler for better console readability
	handler := slog.NewTextHandler(multiWriter, opts)
	slog.SetDefault(slog.New(handler))

	slog.Info("Logging initialized", "session_id", time.Now().Format("20060102_150405"))
	return nil
}

// LogConfig logs the current configuration
func LogConfig(cfg *config.Config) {
	slog.Info("Configuration loaded",
		"mode", cfg.Mode(),
		"segment_size", cfg.SegmentSize,
		"max_retries", cfg.MaxRetries,
		"error_probability", cfg.ErrorProbability,
		"ack_timeout_seconds", cfg.AckTimeout.Seconds())

	switch {
	case cfg.IsServer:
		slog.Info("Server configuration",
			"listen_address", cfg.ListenAddress,
			"storage_dir", cfg.StorageDir,
			"min_file_size", cfg.MinFileSize)
	case cfg.IsWeb:
		slog.Info("Web configuration",
			"web_address", cfg.WebAddress,
			"server_address", cfg.ServerAddress,
			"download_dir", cfg.DownloadDir)
	default:
		slog.Info("Client configuration",
			"server_address", cfg.ServerAddress,
			"filename", cfg.Filename,
			"download_dir", cfg.DownloadDir)
	}
}

// LogError logs an error with appropriate context
func LogError(err error, context string) {
	switch e := err.(type) {
	case *errors.NetworkError:
		slog.Error("Network error",
			"context", context,
			"operation", e.Op,
			"address", e.Addr,
			"error_type", "network")
	case *errors.FileSystemError:
		slog.Error("File system error",
			"context", context,
			"operation", e.Op,
			"path", e.Path,
			"error_type", "filesystem")
	case *errors.ProtocolError:
		slog.Error("Protocol error",
			"context", context,
			"operation", e.Op,
			"message", e.Message,
			"error_type", "protocol")
	case *errors.ValidationError:
		slog.Error("Validation error",
			"context", context,
			"field", e.Field,
			"message", e.Message,
			"error_type", "validation")
	case *errors.SegmentError:
		slog.Error("Segment delivery failed",
			"context", context,
			"seq_num", e.SeqNum,
			"attempts", e.Attempts,
			"error_type", "segment")
	default:
		slog.Error("Unhandled error",
			"context", context,
			"error", err,
			"error_type", "unknown")
	}
}

// LogTransferStart logs the start of a transfer session
func LogTransferStart(role, filename string, totalSegments int, fileSize int64) {
	slog.Info("Transfer started",
		"role", role,
		"filename", filename,
		"total_segments", totalSegments,
		"file_size", fileSize,
		"session_start", time.Now().Format("15:04:05"))
}

// LogTransferEnd logs the outcome of a transfer with its final counters
func LogTransferEnd(role, filename string, success bool, stats session.Stats) {
	status := "SUCCESS"
	if !success {
		status = "FAILED"
	}

	slog.Info("Transfer ended",
		"role", role,
		"filename", filename,
		"status", status,
		"segments_sent", stats.SegmentsSent,
		"segments_acked", stats.SegmentsAcked,
		"errors_detected", stats.ErrorsDetected,
		"retransmissions", stats.Retransmissions,
		"duration_seconds", stats.Elapsed().Seconds(),
		"rate_bytes_per_second", stats.Rate())
}

// SessionSink returns an event sink that mirrors transfer events into
// the structured log.
func SessionSink(role string) session.Sink {
	return func(ev session.Event) {
		switch e := ev.(type) {
		case session.TransferStart:
			LogTransferStart(role, e.Filename, e.TotalSegments, e.FileSize)
		case session.SegmentStatus:
			level := slog.LevelDebug
			if e.Status == session.StatusError {
				level = slog.LevelWarn
			}
			slog.Log(context.Background(), level, "Segment status",
				"role", role,
				"seq_num", e.SeqNum,
				"total_segments", e.TotalSegments,
				"status", string(e.Status),
				"error_simulated", e.ErrorSimulated,
				"message", e.Message)
		case session.TransferComplete:
			LogTransferEnd(role, e.Filename, e.Success, e.Stats)
		}
	}
}
