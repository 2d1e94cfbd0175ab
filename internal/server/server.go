package server

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"net"
	"time"

	"segtransfer/internal/config"
	"segtransfer/internal/errors"
	"segtransfer/internal/fault"
	"segtransfer/internal/filesystem"
	"segtransfer/internal/logging"
	"segtransfer/internal/network"
	"segtransfer/internal/protocol"
	"segtransfer/internal/session"
)

// Server serves files from the storage directory, one transfer per
// connection. The corruption probability comes from each client's
// request, so clients choose how noisy their own channel is.
type Server struct {
	cfg  *config.Config
	sink session.Sink

	ready chan struct{}
	addr  net.Addr
}

// New creates a server. sink receives the events of every transfer the
// server runs and may be nil.
func New(cfg *config.Config, sink session.Sink) *Server {
	return &Server{cfg: cfg, sink: sink, ready: make(chan struct{})}
}

// Ready is closed once the listener is bound. Addr is valid after
// that.
func (s *Server) Ready() <-chan struct{} {
	return s.ready
}

// Addr returns the bound listen address, which differs from the
// configured one when listening on port 0.
func (s *Server) Addr() net.Addr {
	return s.addr
}

// Run starts the server with the given configuration
func (s *Server) Run(ctx context.Context) error {
	slog.Info("Starting server", "address", s.cfg.ListenAddress, "storage_dir", s.cfg.StorageDir)

	// Create storage directory if it doesn't exist
	if err := filesystem.EnsureDirectoryExists(s.cfg.StorageDir); err != nil {
		return err
	}

	listener, err := net.Listen("tcp", s.cfg.ListenAddress)
	if err != nil {
		return errors.NewNetworkError("listen", s.cfg.ListenAddress, err)
	}
	defer listener.Close()

	s.addr = listener.Addr()
	close(s.ready)

	go func() {
		<-ctx.Done()
		listener.Close()
	}()

	slog.Info("Server ready to accept connections")

	for {
		conn, err := listener.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			slog.Error("Failed to accept connection", "error", err)
			continue
		}

		go s.handleConnection(ctx, conn)
	}
}

// handleConnection handles a single client connection
func (s *Server) handleConnection(ctx context.Context, conn net.Conn) {
	defer conn.Close()

	remoteAddr := conn.RemoteAddr().String()
	slog.Info("New connection", "remote_addr", remoteAddr)

	if err := network.OptimizeTCPConnection(conn); err != nil {
		slog.Warn("Failed to optimize TCP connection", "error", err)
	}

	framed := network.NewFramedConn(conn, s.cfg.BufferSize)

	request, err := s.readRequest(ctx, framed)
	if err != nil {
		logging.LogError(err, "read_request")
		return
	}

	slog.Info("File requested",
		"remote_addr", remoteAddr,
		"filename", request.Filename,
		"error_probability", request.ErrorProbability)

	fileData, err := filesystem.ReadServedFile(s.cfg.StorageDir, request.Filename, s.cfg.MinFileSize)
	if err != nil {
		s.refuse(framed, request.Filename, err)
		return
	}

	injector := fault.NewSeeded(request.ErrorProbability, time.Now().UnixNano())

	sender := session.NewSender(framed, injector, session.Params{
		SegmentSize: s.cfg.SegmentSize,
		MaxRetries:  s.cfg.MaxRetries,
		AckTimeout:  s.cfg.AckTimeout,
	}, s.sink)

	if err := sender.Run(ctx, request.Filename, fileData); err != nil {
		logging.LogError(err, "transfer")
		return
	}

	stats := sender.Snapshot()
	slog.Info("Transfer served",
		"remote_addr", remoteAddr,
		"filename", request.Filename,
		"segments", stats.TotalSegments,
		"retransmissions", stats.Retransmissions)
}

// readRequest reads and validates the opening request frame.
func (s *Server) readRequest(ctx context.Context, framed *network.FramedConn) (protocol.Control, error) {
	waitCtx, cancel := context.WithTimeout(ctx, s.cfg.ConnectTimeout)
	defer cancel()

	frame, err := framed.ReadFrame(waitCtx)
	if err != nil {
		return protocol.Control{}, err
	}

	control, err := protocol.DecodeControl(frame)
	if err != nil {
		return protocol.Control{}, err
	}
	if control.Type != protocol.TypeRequest {
		return protocol.Control{}, errors.NewProtocolError("read_request",
			fmt.Sprintf("expected request frame, got %q", control.Type), nil)
	}
	if err := filesystem.ValidateFilename(control.Filename); err != nil {
		s.refuse(framed, control.Filename, err)
		return protocol.Control{}, err
	}

	return control, nil
}

// refuse answers a request with a classified error frame.
func (s *Server) refuse(framed *network.FramedConn, filename string, cause error) {
	code := protocol.CodeInternal
	switch {
	case stderrors.Is(cause, errors.ErrFileNotFound):
		code = protocol.CodeNotFound
	case stderrors.Is(cause, errors.ErrEmptyFilename):
		code = protocol.CodeBadRequest
	case stderrors.Is(cause, errors.ErrValidation):
		var ve *errors.ValidationError
		if stderrors.As(cause, &ve) && ve.Field == "file_size" {
			code = protocol.CodeTooSmall
		} else {
			code = protocol.CodeBadRequest
		}
	}

	slog.Warn("Refusing request", "filename", filename, "code", code, "error", cause)

	if frame, err := protocol.EncodeControl(protocol.NewError(code, cause.Error())); err == nil {
		_ = framed.WriteFrame(frame)
	}
}
