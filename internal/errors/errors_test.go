package errors

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidationError(t *testing.T) {
	field := "filename"
	value := "../etc/passwd"
	reason := "path traversal"

	err := NewValidationError(field, value, reason)

	assert.Error(t, err)
	assert.Contains(t, err.Error(), field)
	assert.Contains(t, err.Error(), value)
	assert.Contains(t, err.Error(), reason)
	assert.Contains(t, err.Error(), "validation error")
	assert.ErrorIs(t, err, ErrValidation)
}

func TestNetworkError(t *testing.T) {
	operation := "dial"
	address := "localhost:12345"
	cause := errors.New("connection refused")

	err := NewNetworkError(operation, address, cause)

	assert.Error(t, err)
	assert.Contains(t, err.Error(), operation)
	assert.Contains(t, err.Error(), address)
	assert.Contains(t, err.Error(), cause.Error())
	assert.Contains(t, err.Error(), "network error")
	assert.ErrorIs(t, err, ErrNetwork)
}

func TestNetworkError_WrapsConnectionLost(t *testing.T) {
	err := NewNetworkError("read_frame", "", ErrConnectionLost)

	assert.ErrorIs(t, err, ErrNetwork)
	assert.ErrorIs(t, err, ErrConnectionLost)
}

func TestFileSystemError(t *testing.T) {
	operation := "read"
	path := "/storage/report.txt"
	cause := errors.New("permission denied")

	err := NewFileSystemError(operation, path, cause)

	assert.Error(t, err)
	assert.Contains(t, err.Error(), operation)
	assert.Contains(t, err.Error(), path)
	assert.Contains(t, err.Error(), cause.Error())
	assert.Contains(t, err.Error(), "file system error")
}

func TestFileSystemError_WrapsFileNotFound(t *testing.T) {
	err := NewFileSystemError("open", "missing.txt", ErrFileNotFound)

	assert.ErrorIs(t, err, ErrFileSystem)
	assert.ErrorIs(t, err, ErrFileNotFound)
}

func TestProtocolError(t *testing.T) {
	operation := "decode_packet"
	message := "unexpected frame type"
	cause := errors.New("unknown type byte")

	err := NewProtocolError(operation, message, cause)

	assert.Error(t, err)
	assert.Contains(t, err.Error(), operation)
	assert.Contains(t, err.Error(), message)
	assert.Contains(t, err.Error(), cause.Error())
	assert.Contains(t, err.Error(), "protocol error")
}

func TestMalformedPacketError(t *testing.T) {
	err := NewMalformedPacketError("decode_packet", "payload exceeds segment size")

	assert.ErrorIs(t, err, ErrProtocol)
	assert.ErrorIs(t, err, ErrMalformedPacket)
	assert.Contains(t, err.Error(), "payload exceeds segment size")
}

func TestSegmentError(t *testing.T) {
	err := NewSegmentError(3, 5)

	assert.Error(t, err)
	assert.Contains(t, err.Error(), "segment 3")
	assert.Contains(t, err.Error(), "5 attempts")
	assert.ErrorIs(t, err, ErrRetryBudgetExceeded)

	var segErr *SegmentError
	assert.ErrorAs(t, err, &segErr)
	assert.Equal(t, 3, segErr.SeqNum)
	assert.Equal(t, 5, segErr.Attempts)
}
