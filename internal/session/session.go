package session

import (
	"context"
	"time"
)

// Transport is the frame pipe a session runs over. A session is bound
// to exactly one transport for its whole lifetime and is the only
// logical flow touching it.
type Transport interface {
	WriteFrame(body []byte) error
	ReadFrame(ctx context.Context) ([]byte, error)
}

// Params are the protocol knobs a session honours.
type Params struct {
	SegmentSize int
	MaxRetries  int
	AckTimeout  time.Duration
}

// State identifies where a session is in its lifecycle.
type State int

const (
	StateIdle State = iota
	StateAwaitingRequest
	StateFragmenting
	StateSendingSegment
	StateAwaitingAck
	StateSegmentAcked
	StateSegmentNacked
	StateCompleted
	StateAborted
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateAwaitingRequest:
		return "awaiting_request"
	case StateFragmenting:
		return "fragmenting"
	case StateSendingSegment:
		return "sending_segment"
	case StateAwaitingAck:
		return "awaiting_ack"
	case StateSegmentAcked:
		return "segment_acked"
	case StateSegmentNacked:
		return "segment_nacked"
	case StateCompleted:
		return "completed"
	case StateAborted:
		return "aborted"
	default:
		return "unknown"
	}
}

// Stats are the counters a single session owns. They are mutated only
// from the session's own loop; Snapshot hands out copies, so the
// reporting layer never touches live state.
type Stats struct {
	TotalSegments   int
	FileSize        int64
	SegmentsSent    int
	SegmentsAcked   int
	ErrorsDetected  int
	Retransmissions int
	StartTime       time.Time
}

// Elapsed returns the time since the transfer started.
func (s Stats) Elapsed() time.Duration {
	if s.StartTime.IsZero() {
		return 0
	}
	return time.Since(s.StartTime)
}

// Rate returns the effective transfer rate in bytes per second.
func (s Stats) Rate() float64 {
	elapsed := s.Elapsed().Seconds()
	if elapsed <= 0 {
		return 0
	}
	return float64(s.FileSize) / elapsed
}
