package session

import (
	"context"
	"fmt"
	"strings"
	"time"

	"segtransfer/internal/checksum"
	"segtransfer/internal/errors"
	"segtransfer/internal/fragment"
	"segtransfer/internal/protocol"
)

// Receiver drives the requesting side of one transfer: ask for a file,
// verify every incoming segment, and acknowledge or reject it. It
// stores verified segments at their sequence position and reassembles
// the file once the final segment is accepted.
type Receiver struct {
	transport Transport
	params    Params
	sink      Sink
	state     State
	stats     Stats
}

// NewReceiver creates a receiver session bound to transport.
func NewReceiver(transport Transport, params Params, sink Sink) *Receiver {
	if params.SegmentSize <= 0 {
		params.SegmentSize = protocol.DefaultSegmentSize
	}
	return &Receiver{
		transport: transport,
		params:    params,
		sink:      sink,
		state:     StateIdle,
	}
}

// State returns the receiver's current lifecycle state.
func (r *Receiver) State() State {
	return r.state
}

// Snapshot returns a copy of the session counters.
func (r *Receiver) Snapshot() Stats {
	return r.stats
}

// Run requests filename from the peer and receives it, returning the
// reassembled file bytes. errorProbability is forwarded so the serving
// side knows how much corruption to simulate. On failure no partial
// data is returned.
func (r *Receiver) Run(ctx context.Context, filename string, errorProbability float64) ([]byte, error) {
	if strings.TrimSpace(filename) == "" {
		return nil, errors.ErrEmptyFilename
	}

	meta, err := r.request(ctx, filename, errorProbability)
	if err != nil {
		r.state = StateAborted
		return nil, err
	}

	r.stats = Stats{
		TotalSegments: meta.SegmentCount,
		FileSize:      meta.FileSize,
		StartTime:     time.Now(),
	}

	emit(r.sink, TransferStart{
		Filename:      filename,
		TotalSegments: meta.SegmentCount,
		FileSize:      meta.FileSize,
	})

	data, err := r.receiveSegments(ctx, meta.SegmentCount)
	if err != nil {
		return nil, r.abort(filename, err)
	}

	r.state = StateCompleted
	emit(r.sink, TransferComplete{
		Filename:      filename,
		TotalSegments: meta.SegmentCount,
		Success:       true,
		Stats:         r.stats,
	})
	return data, nil
}

// request sends the file request and waits for the transfer metadata.
func (r *Receiver) request(ctx context.Context, filename string, errorProbability float64) (protocol.Control, error) {
	frame, err := protocol.EncodeControl(protocol.NewRequest(filename, errorProbability))
	if err != nil {
		return protocol.Control{}, err
	}
	if err := r.transport.WriteFrame(frame); err != nil {
		return protocol.Control{}, err
	}

	r.state = StateAwaitingRequest
	waitCtx, cancel := context.WithTimeout(ctx, r.params.AckTimeout)
	defer cancel()

	reply, err := r.transport.ReadFrame(waitCtx)
	if err != nil {
		return protocol.Control{}, err
	}

	control, err := protocol.DecodeControl(reply)
	if err != nil {
		return protocol.Control{}, err
	}

	switch control.Type {
	case protocol.TypeMeta:
		if control.SegmentCount <= 0 || control.FileSize <= 0 {
			return protocol.Control{}, errors.NewProtocolError("request",
				"metadata with non-positive segment count or file size", nil)
		}
	case protocol.TypeError:
		return protocol.Control{}, serverError(filename, control)
	default:
		return protocol.Control{}, errors.NewProtocolError("request",
			fmt.Sprintf("expected metadata, got %q frame", control.Type), nil)
	}

	ready, err := protocol.EncodeControl(protocol.NewReady())
	if err != nil {
		return protocol.Control{}, err
	}
	if err := r.transport.WriteFrame(ready); err != nil {
		return protocol.Control{}, err
	}

	return control, nil
}

// receiveSegments runs the verify/ack/nack loop until every segment is
// stored, then reassembles the file.
func (r *Receiver) receiveSegments(ctx context.Context, total int) ([]byte, error) {
	segments := make([][]byte, total)
	expected := 0
	rejections := 0 // rejected attempts for the segment currently expected

	for expected < total {
		waitCtx, cancel := context.WithTimeout(ctx, r.params.AckTimeout)
		frame, err := r.transport.ReadFrame(waitCtx)
		cancel()
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, err
		}

		frameType, err := protocol.FrameType(frame)
		if err != nil {
			if err := r.reject(expected, total, "unparsable frame", false); err != nil {
				return nil, err
			}
			rejections++
			continue
		}

		if frameType == protocol.TypeAbort {
			control, _ := protocol.DecodeControl(frame)
			return nil, errors.NewProtocolError("receive",
				fmt.Sprintf("transfer aborted by sender: %s", control.Message), nil)
		}

		packet, err := protocol.DecodePacket(frame, r.params.SegmentSize)
		if err != nil {
			// Malformed packets are corruption events, same as a bad checksum
			if err := r.reject(expected, total, "malformed packet", false); err != nil {
				return nil, err
			}
			rejections++
			continue
		}

		if packet.SeqNum < expected {
			// Duplicate of a segment already accepted: our ack was late
			// or lost and the sender retransmitted. Re-ack so the sender
			// can advance; this is not a corruption event.
			if err := r.verdict(protocol.NewAck(packet.SeqNum)); err != nil {
				return nil, err
			}
			continue
		}

		if packet.SeqNum != expected {
			if err := r.reject(expected, total,
				fmt.Sprintf("expected segment %d, got %d", expected, packet.SeqNum),
				packet.ErrorSimulated); err != nil {
				return nil, err
			}
			rejections++
			continue
		}

		if !checksum.Verify(packet.Payload, packet.Checksum) {
			if err := r.reject(expected, total,
				fmt.Sprintf("%s for segment %d", errors.ErrChecksumMismatch, expected),
				packet.ErrorSimulated); err != nil {
				return nil, err
			}
			rejections++
			continue
		}

		segments[expected] = packet.Payload
		if err := r.verdict(protocol.NewAck(expected)); err != nil {
			return nil, err
		}
		r.state = StateSegmentAcked
		r.stats.SegmentsAcked++

		status := StatusSuccess
		message := fmt.Sprintf("segment %d received", expected)
		if rejections > 0 {
			status = StatusRetry
			message = fmt.Sprintf("segment %d received after %d rejected attempts", expected, rejections)
		}
		emit(r.sink, SegmentStatus{
			SeqNum:         expected,
			TotalSegments:  total,
			Status:         status,
			Message:        message,
			ErrorSimulated: packet.ErrorSimulated,
		})

		expected++
		rejections = 0
	}

	return fragment.Reassemble(segments), nil
}

// reject records a corruption event and asks for a retransmission.
func (r *Receiver) reject(seq, total int, reason string, simulated bool) error {
	r.stats.ErrorsDetected++
	emit(r.sink, SegmentStatus{
		SeqNum:         seq,
		TotalSegments:  total,
		Status:         StatusError,
		Message:        reason,
		ErrorSimulated: simulated,
	})
	if err := r.verdict(protocol.NewNack(seq)); err != nil {
		return err
	}
	r.state = StateSegmentNacked
	return nil
}

func (r *Receiver) verdict(control protocol.Control) error {
	frame, err := protocol.EncodeControl(control)
	if err != nil {
		return err
	}
	return r.transport.WriteFrame(frame)
}

// abort discards partial state, tells the sender to stop, and reports
// the failed outcome. The partially reassembled file is never handed
// to the caller.
func (r *Receiver) abort(filename string, cause error) error {
	r.state = StateAborted

	if frame, err := protocol.EncodeControl(protocol.NewAbort(cause.Error())); err == nil {
		_ = r.transport.WriteFrame(frame)
	}

	emit(r.sink, TransferComplete{
		Filename:      filename,
		TotalSegments: r.stats.TotalSegments,
		Success:       false,
		Reason:        cause.Error(),
		Stats:         r.stats,
	})
	return cause
}

// serverError maps an error frame onto the local error taxonomy.
func serverError(filename string, control protocol.Control) error {
	switch control.Code {
	case protocol.CodeNotFound:
		return errors.NewFileSystemError("request", filename, errors.ErrFileNotFound)
	case protocol.CodeTooSmall, protocol.CodeBadRequest:
		return errors.NewValidationError("request", control.Code, control.Message)
	default:
		return errors.NewProtocolError("request", control.Message, nil)
	}
}
