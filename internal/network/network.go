package network

import (
	"bufio"
	"context"
	"encoding/binary"
	stderrors "errors"
	"io"
	"log/slog"
	"net"
	"sync"
	"time"

	"segtransfer/internal/errors"
)

const (
	// FrameHeaderSize is the length prefix preceding every frame.
	FrameHeaderSize = 4

	// MaxFrameSize bounds a single frame. A data packet is at most a
	// base64-encoded segment plus JSON overhead, so 64KB leaves ample
	// headroom while rejecting garbage prefixes.
	MaxFrameSize = 64 * 1024
)

// FramedConn carries length-prefixed JSON frames over a byte-stream
// connection: a 4-byte big-endian length followed by the frame body.
// One FramedConn is owned by exactly one transfer session.
//
// A single long-lived goroutine owns the read side. A ReadFrame whose
// context expires abandons only the wait; a frame arriving later is
// handed to the next ReadFrame call instead of being lost.
type FramedConn struct {
	conn   net.Conn
	reader *bufio.Reader
	writer *bufio.Writer

	readOnce  sync.Once
	closeOnce sync.Once
	frames    chan readResult
	done      chan struct{}
}

type readResult struct {
	body []byte
	err  error
}

// NewFramedConn wraps conn with buffered framing.
func NewFramedConn(conn net.Conn, bufferSize int) *FramedConn {
	if bufferSize <= 0 {
		bufferSize = 4 * 1024
	}
	return &FramedConn{
		conn:   conn,
		reader: bufio.NewReaderSize(conn, bufferSize),
		writer: bufio.NewWriterSize(conn, bufferSize),
		frames: make(chan readResult),
		done:   make(chan struct{}),
	}
}

// RemoteAddr returns the peer address for logging.
func (fc *FramedConn) RemoteAddr() string {
	return fc.conn.RemoteAddr().String()
}

// Close closes the underlying connection and releases the read loop.
func (fc *FramedConn) Close() error {
	fc.closeOnce.Do(func() { close(fc.done) })
	return fc.conn.Close()
}

// WriteFrame writes one length-prefixed frame and flushes it.
func (fc *FramedConn) WriteFrame(body []byte) error {
	var header [FrameHeaderSize]byte
	binary.BigEndian.PutUint32(header[:], uint32(len(body)))

	if _, err := fc.writer.Write(header[:]); err != nil {
		return errors.NewNetworkError("write_frame", fc.RemoteAddr(), errors.ErrConnectionLost)
	}
	if _, err := fc.writer.Write(body); err != nil {
		return errors.NewNetworkError("write_frame", fc.RemoteAddr(), errors.ErrConnectionLost)
	}
	if err := fc.writer.Flush(); err != nil {
		return errors.NewNetworkError("flush_frame", fc.RemoteAddr(), errors.ErrConnectionLost)
	}
	return nil
}

// readLoop is the sole reader of the underlying connection. The frames
// channel is unbuffered, so a frame nobody has asked for yet stays
// pending here rather than piling up. The loop exits, closing the
// channel, on the first read error.
func (fc *FramedConn) readLoop() {
	defer close(fc.frames)
	for {
		var header [FrameHeaderSize]byte
		if _, err := io.ReadFull(fc.reader, header[:]); err != nil {
			fc.deliver(readResult{nil, err})
			return
		}

		length := binary.BigEndian.Uint32(header[:])
		if length == 0 || length > MaxFrameSize {
			fc.deliver(readResult{nil, errors.NewMalformedPacketError("read_frame", "frame length out of range")})
			return
		}

		body := make([]byte, length)
		if _, err := io.ReadFull(fc.reader, body); err != nil {
			fc.deliver(readResult{nil, err})
			return
		}
		if !fc.deliver(readResult{body, nil}) {
			return
		}
	}
}

// deliver hands a result to ReadFrame, giving up if the connection is
// closed with nobody left to read it.
func (fc *FramedConn) deliver(result readResult) bool {
	select {
	case fc.frames <- result:
		return true
	case <-fc.done:
		return false
	}
}

// ReadFrame delivers one length-prefixed frame, honouring ctx for
// cancellation and deadlines. A cancelled context surfaces as
// ctx.Err() and leaves the in-flight read pending for the next call; a
// closed or broken connection surfaces as a network error wrapping
// ErrConnectionLost.
func (fc *FramedConn) ReadFrame(ctx context.Context) ([]byte, error) {
	fc.readOnce.Do(func() { go fc.readLoop() })

	select {
	case result, open := <-fc.frames:
		if !open {
			return nil, errors.NewNetworkError("read_frame", fc.RemoteAddr(), errors.ErrConnectionLost)
		}
		if result.err != nil {
			if stderrors.Is(result.err, errors.ErrMalformedPacket) {
				return nil, result.err
			}
			return nil, errors.NewNetworkError("read_frame", fc.RemoteAddr(), errors.ErrConnectionLost)
		}
		return result.body, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// OptimizeTCPConnection applies TCP tuning appropriate for a lockstep
// request/response protocol.
func OptimizeTCPConnection(conn net.Conn) error {
	tcpConn, isTCP := conn.(*net.TCPConn)
	if !isTCP {
		return nil // Not a TCP connection, skip optimizations
	}

	// Enable keep-alive to detect dead connections
	if err := tcpConn.SetKeepAlive(true); err != nil {
		return errors.NewNetworkError("set_keepalive", conn.RemoteAddr().String(), err)
	}

	if err := tcpConn.SetKeepAlivePeriod(30 * time.Second); err != nil {
		slog.Warn("Failed to set TCP keepalive period", "error", err)
	}

	// Small frames exchanged in lockstep suffer badly under Nagle
	if err := tcpConn.SetNoDelay(true); err != nil {
		slog.Warn("Failed to disable Nagle's algorithm", "error", err)
	}

	return nil
}
