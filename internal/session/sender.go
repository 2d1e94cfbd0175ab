package session

import (
	"context"
	stderrors "errors"
	"fmt"
	"time"

	"segtransfer/internal/checksum"
	"segtransfer/internal/errors"
	"segtransfer/internal/fault"
	"segtransfer/internal/fragment"
	"segtransfer/internal/protocol"
)

var errVerdictTimeout = stderrors.New("verdict timed out")

// Sender drives the serving side of one transfer: fragment the file,
// push each segment through the error injector, transmit it, and wait
// for the receiver's verdict before moving on. No segment is in
// flight while an earlier one is unresolved.
type Sender struct {
	transport Transport
	injector  *fault.Injector
	params    Params
	sink      Sink
	state     State
	stats     Stats
}

// NewSender creates a sender session bound to transport. The injector
// decides per transmission attempt whether to corrupt the outgoing
// payload.
func NewSender(transport Transport, injector *fault.Injector, params Params, sink Sink) *Sender {
	if params.SegmentSize <= 0 {
		params.SegmentSize = protocol.DefaultSegmentSize
	}
	return &Sender{
		transport: transport,
		injector:  injector,
		params:    params,
		sink:      sink,
		state:     StateIdle,
	}
}

// State returns the sender's current lifecycle state.
func (s *Sender) State() State {
	return s.state
}

// Snapshot returns a copy of the session counters.
func (s *Sender) Snapshot() Stats {
	return s.stats
}

// Run transfers fileData to the peer segment by segment. It returns
// nil once every segment is acknowledged, or the error that forced the
// abort. On abort the peer is notified and no further segments are
// sent.
func (s *Sender) Run(ctx context.Context, filename string, fileData []byte) error {
	s.state = StateFragmenting
	segments := fragment.Split(fileData, s.params.SegmentSize)

	s.stats = Stats{
		TotalSegments: len(segments),
		FileSize:      int64(len(fileData)),
		StartTime:     time.Now(),
	}

	if err := s.announce(ctx, len(segments), int64(len(fileData))); err != nil {
		return s.abort(filename, err)
	}

	emit(s.sink, TransferStart{
		Filename:      filename,
		TotalSegments: len(segments),
		FileSize:      int64(len(fileData)),
	})

	for seq, segment := range segments {
		if err := s.sendSegment(ctx, seq, len(segments), segment); err != nil {
			return s.abort(filename, err)
		}
	}

	s.state = StateCompleted
	emit(s.sink, TransferComplete{
		Filename:      filename,
		TotalSegments: len(segments),
		Success:       true,
		Stats:         s.stats,
	})
	return nil
}

// announce sends the transfer metadata and waits for the receiver to
// signal readiness.
func (s *Sender) announce(ctx context.Context, segmentCount int, fileSize int64) error {
	frame, err := protocol.EncodeControl(protocol.NewMeta(segmentCount, fileSize))
	if err != nil {
		return err
	}
	if err := s.transport.WriteFrame(frame); err != nil {
		return err
	}

	waitCtx, cancel := context.WithTimeout(ctx, s.params.AckTimeout)
	defer cancel()

	reply, err := s.transport.ReadFrame(waitCtx)
	if err != nil {
		return err
	}

	control, err := protocol.DecodeControl(reply)
	if err != nil {
		return err
	}
	if control.Type != protocol.TypeReady {
		return errors.NewProtocolError("announce",
			fmt.Sprintf("expected ready frame, got %q", control.Type), nil)
	}
	return nil
}

// sendSegment delivers one segment, retrying on nacks and verdict
// timeouts. The checksum is computed over the original payload before
// corruption is injected, so injected corruption stays detectable at
// the receiver. The transfer aborts once MaxRetries transmission
// attempts for this segment have failed.
func (s *Sender) sendSegment(ctx context.Context, seq, total int, segment []byte) error {
	sum := checksum.Sum(segment)

	for attempt := 1; attempt <= s.params.MaxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		// Each attempt re-rolls error injection independently
		wirePayload, injected := s.injector.MaybeCorrupt(segment)

		s.state = StateSendingSegment
		frame, err := protocol.EncodePacket(protocol.Packet{
			SeqNum:         seq,
			Payload:        wirePayload,
			Checksum:       sum,
			ErrorSimulated: injected,
		})
		if err != nil {
			return err
		}
		if err := s.transport.WriteFrame(frame); err != nil {
			return err
		}
		s.stats.SegmentsSent++

		s.state = StateAwaitingAck
		acked, err := s.awaitVerdict(ctx, seq)
		switch {
		case err == errVerdictTimeout:
			// Lost verdict is handled like a nack, against the same budget
			s.state = StateSegmentNacked
			if attempt < s.params.MaxRetries {
				s.stats.Retransmissions++
			}
			emit(s.sink, SegmentStatus{
				SeqNum:         seq,
				TotalSegments:  total,
				Status:         StatusError,
				Message:        fmt.Sprintf("no verdict for segment %d within %s", seq, s.params.AckTimeout),
				ErrorSimulated: injected,
			})
			continue
		case err != nil:
			return err
		case acked:
			s.state = StateSegmentAcked
			s.stats.SegmentsAcked++
			status := StatusSuccess
			message := fmt.Sprintf("segment %d delivered", seq)
			if attempt > 1 {
				status = StatusRetry
				message = fmt.Sprintf("segment %d delivered on attempt %d", seq, attempt)
			}
			emit(s.sink, SegmentStatus{
				SeqNum:         seq,
				TotalSegments:  total,
				Status:         status,
				Message:        message,
				ErrorSimulated: injected,
			})
			return nil
		default:
			s.state = StateSegmentNacked
			message := fmt.Sprintf("segment %d rejected by receiver", seq)
			// The final attempt is never retransmitted, so it does not
			// count as a retransmission.
			if attempt < s.params.MaxRetries {
				s.stats.Retransmissions++
				message += ", retransmitting"
			}
			emit(s.sink, SegmentStatus{
				SeqNum:         seq,
				TotalSegments:  total,
				Status:         StatusError,
				Message:        message,
				ErrorSimulated: injected,
			})
		}
	}

	return errors.NewSegmentError(seq, s.params.MaxRetries)
}

// awaitVerdict blocks until the receiver's ack or nack for seq
// arrives, the ack timeout fires, or the context is cancelled. This is
// the sender's only suspension point. Verdicts for earlier segments
// are discarded: after a verdict timeout the late verdict and the
// re-ack of the retransmission both arrive, and the second one is
// stale by the time it is read.
func (s *Sender) awaitVerdict(ctx context.Context, seq int) (bool, error) {
	waitCtx, cancel := context.WithTimeout(ctx, s.params.AckTimeout)
	defer cancel()

	for {
		frame, err := s.transport.ReadFrame(waitCtx)
		if err != nil {
			if ctx.Err() != nil {
				return false, ctx.Err()
			}
			if stderrors.Is(waitCtx.Err(), context.DeadlineExceeded) {
				return false, errVerdictTimeout
			}
			return false, err
		}

		control, err := protocol.DecodeControl(frame)
		if err != nil {
			// An unreadable verdict counts as a failed round trip
			return false, nil
		}

		switch control.Type {
		case protocol.TypeAck:
			if control.SeqNum == seq {
				return true, nil
			}
			if control.SeqNum < seq {
				continue
			}
			return false, errors.NewProtocolError("await_verdict",
				fmt.Sprintf("ack for segment %d while awaiting %d", control.SeqNum, seq), nil)
		case protocol.TypeNack:
			if control.SeqNum < seq {
				continue
			}
			return false, nil
		case protocol.TypeAbort:
			return false, errors.NewProtocolError("await_verdict",
				fmt.Sprintf("receiver aborted: %s", control.Message), errors.ErrConnectionLost)
		default:
			return false, errors.NewProtocolError("await_verdict",
				fmt.Sprintf("unexpected %q frame while awaiting verdict", control.Type), nil)
		}
	}
}

// abort moves the session to its terminal failure state, tells the
// peer, and reports the outcome.
func (s *Sender) abort(filename string, cause error) error {
	s.state = StateAborted

	// Best effort: the connection may already be gone
	if frame, err := protocol.EncodeControl(protocol.NewAbort(cause.Error())); err == nil {
		_ = s.transport.WriteFrame(frame)
	}

	emit(s.sink, TransferComplete{
		Filename:      filename,
		TotalSegments: s.stats.TotalSegments,
		Success:       false,
		Reason:        cause.Error(),
		Stats:         s.stats,
	})
	return cause
}
