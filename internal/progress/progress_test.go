package progress

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"

	"segtransfer/internal/session"
)

func TestReporter_SuccessfulTransfer(t *testing.T) {
	var buf bytes.Buffer
	sink := NewReporter(&buf).Sink()

	sink(session.TransferStart{Filename: "report.txt", TotalSegments: 2, FileSize: 1000})
	sink(session.SegmentStatus{SeqNum: 0, TotalSegments: 2, Status: session.StatusSuccess})
	sink(session.SegmentStatus{SeqNum: 1, TotalSegments: 2, Status: session.StatusSuccess})
	sink(session.TransferComplete{Filename: "report.txt", TotalSegments: 2, Success: true})

	out := buf.String()
	assert.Contains(t, out, "Transferring report.txt (1000 bytes, 2 segments)")
	assert.Contains(t, out, "100.0%")
	assert.Contains(t, out, "Transfer of report.txt complete")
}

func TestReporter_ReportsCorruptionAndFailure(t *testing.T) {
	var buf bytes.Buffer
	sink := NewReporter(&buf).Sink()

	sink(session.TransferStart{Filename: "big.bin", TotalSegments: 3, FileSize: 1500})
	sink(session.SegmentStatus{SeqNum: 0, TotalSegments: 3, Status: session.StatusError,
		Message: "checksum verification failed for segment 0"})
	sink(session.SegmentStatus{SeqNum: 0, TotalSegments: 3, Status: session.StatusRetry,
		Message: "segment 0 received after 1 rejected attempts"})
	sink(session.TransferComplete{Filename: "big.bin", TotalSegments: 3, Success: false,
		Reason: "segment 1 undeliverable after 5 attempts: retry budget exceeded"})

	out := buf.String()
	assert.Contains(t, out, "! segment 0: checksum verification failed")
	assert.Contains(t, out, "+ segment 0 recovered")
	assert.Contains(t, out, "1 errors")
	assert.Contains(t, out, "Transfer of big.bin failed: segment 1 undeliverable")
}
