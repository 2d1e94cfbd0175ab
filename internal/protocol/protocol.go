package protocol

import (
	"encoding/json"
	"fmt"

	"segtransfer/internal/errors"
)

// Frame type discriminators. Every frame on the wire is a single JSON
// document carrying one of these in its "type" field.
const (
	TypeRequest = "request"
	TypeMeta    = "meta"
	TypeReady   = "ready"
	TypeData    = "data"
	TypeAck     = "ack"
	TypeNack    = "nack"
	TypeAbort   = "abort"
	TypeError   = "error"
)

// DefaultSegmentSize is the fixed maximum payload of one data packet.
const DefaultSegmentSize = 512

// Packet is the wire unit for one segment: its sequence number, the
// (possibly corrupted) payload, and the checksum computed over the
// payload before any simulated corruption was applied.
type Packet struct {
	SeqNum         int
	Payload        []byte
	Checksum       uint16
	ErrorSimulated bool
}

// Error codes carried by error frames so the peer can classify the
// failure without parsing the human-readable message.
const (
	CodeNotFound   = "not_found"
	CodeTooSmall   = "too_small"
	CodeBadRequest = "bad_request"
	CodeInternal   = "internal"
)

// Control is the envelope for all non-data frames.
type Control struct {
	Type             string  `json:"type"`
	Filename         string  `json:"filename,omitempty"`
	ErrorProbability float64 `json:"error_probability,omitempty"`
	SegmentCount     int     `json:"segment_count,omitempty"`
	FileSize         int64   `json:"file_size,omitempty"`
	SeqNum           int     `json:"seq_num"`
	Code             string  `json:"code,omitempty"`
	Message          string  `json:"message,omitempty"`
}

// wirePacket uses pointer fields so a missing sequence number or
// checksum is distinguishable from a zero value during decode.
type wirePacket struct {
	Type           string  `json:"type"`
	SeqNum         *int    `json:"seq_num"`
	Data           []byte  `json:"data"`
	Checksum       *uint16 `json:"checksum"`
	ErrorSimulated bool    `json:"error_simulated"`
}

// EncodePacket serializes a data packet into one frame body.
func EncodePacket(p Packet) ([]byte, error) {
	seq := p.SeqNum
	sum := p.Checksum
	body, err := json.Marshal(wirePacket{
		Type:           TypeData,
		SeqNum:         &seq,
		Data:           p.Payload,
		Checksum:       &sum,
		ErrorSimulated: p.ErrorSimulated,
	})
	if err != nil {
		return nil, errors.NewProtocolError("encode_packet", "failed to marshal packet", err)
	}
	return body, nil
}

// DecodePacket parses a data frame back into a Packet. Any structural
// defect (unparsable JSON, wrong frame type, missing fields, a
// negative sequence number, or a payload outside (0, maxPayload])
// yields an error matching errors.ErrMalformedPacket. Decoding is
// lossless for well-formed frames: DecodePacket(EncodePacket(p)) == p.
func DecodePacket(frame []byte, maxPayload int) (Packet, error) {
	if maxPayload <= 0 {
		maxPayload = DefaultSegmentSize
	}

	var wp wirePacket
	if err := json.Unmarshal(frame, &wp); err != nil {
		return Packet{}, errors.NewMalformedPacketError("decode_packet", "unparsable frame")
	}

	switch {
	case wp.Type != TypeData:
		return Packet{}, errors.NewMalformedPacketError("decode_packet",
			fmt.Sprintf("expected data frame, got %q", wp.Type))
	case wp.SeqNum == nil:
		return Packet{}, errors.NewMalformedPacketError("decode_packet", "missing sequence number")
	case *wp.SeqNum < 0:
		return Packet{}, errors.NewMalformedPacketError("decode_packet", "negative sequence number")
	case wp.Checksum == nil:
		return Packet{}, errors.NewMalformedPacketError("decode_packet", "missing checksum")
	case len(wp.Data) == 0:
		return Packet{}, errors.NewMalformedPacketError("decode_packet", "empty payload")
	case len(wp.Data) > maxPayload:
		return Packet{}, errors.NewMalformedPacketError("decode_packet",
			fmt.Sprintf("payload of %d bytes exceeds segment size %d", len(wp.Data), maxPayload))
	}

	return Packet{
		SeqNum:         *wp.SeqNum,
		Payload:        wp.Data,
		Checksum:       *wp.Checksum,
		ErrorSimulated: wp.ErrorSimulated,
	}, nil
}

// EncodeControl serializes a control frame.
func EncodeControl(c Control) ([]byte, error) {
	body, err := json.Marshal(c)
	if err != nil {
		return nil, errors.NewProtocolError("encode_control", "failed to marshal control frame", err)
	}
	return body, nil
}

// DecodeControl parses a control frame.
func DecodeControl(frame []byte) (Control, error) {
	var c Control
	if err := json.Unmarshal(frame, &c); err != nil {
		return Control{}, errors.NewMalformedPacketError("decode_control", "unparsable frame")
	}
	if c.Type == "" {
		return Control{}, errors.NewMalformedPacketError("decode_control", "missing frame type")
	}
	return c, nil
}

// FrameType extracts the type discriminator without fully decoding the
// frame, so the caller can route it to the right decoder.
func FrameType(frame []byte) (string, error) {
	var header struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(frame, &header); err != nil {
		return "", errors.NewMalformedPacketError("frame_type", "unparsable frame")
	}
	return header.Type, nil
}

// Constructors for the control frames each endpoint sends.

func NewRequest(filename string, errorProbability float64) Control {
	return Control{Type: TypeRequest, Filename: filename, ErrorProbability: errorProbability}
}

func NewMeta(segmentCount int, fileSize int64) Control {
	return Control{Type: TypeMeta, SegmentCount: segmentCount, FileSize: fileSize}
}

func NewReady() Control {
	return Control{Type: TypeReady}
}

func NewAck(seqNum int) Control {
	return Control{Type: TypeAck, SeqNum: seqNum}
}

func NewNack(seqNum int) Control {
	return Control{Type: TypeNack, SeqNum: seqNum}
}

func NewAbort(reason string) Control {
	return Control{Type: TypeAbort, Message: reason}
}

func NewError(code, message string) Control {
	return Control{Type: TypeError, Code: code, Message: message}
}
