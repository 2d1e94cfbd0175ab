package fragment

import (
	"bytes"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplit_SegmentSizes(t *testing.T) {
	tests := []struct {
		name      string
		fileSize  int
		size      int
		wantCount int
		wantLast  int
	}{
		{
			name:      "exact multiple",
			fileSize:  1024,
			size:      512,
			wantCount: 2,
			wantLast:  512,
		},
		{
			name:      "short final segment",
			fileSize:  2500,
			size:      512,
			wantCount: 5,
			wantLast:  452,
		},
		{
			name:      "single short segment",
			fileSize:  100,
			size:      512,
			wantCount: 1,
			wantLast:  100,
		},
		{
			name:      "one byte over a boundary",
			fileSize:  513,
			size:      512,
			wantCount: 2,
			wantLast:  1,
		},
		{
			name:      "empty input",
			fileSize:  0,
			size:      512,
			wantCount: 0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data := make([]byte, tt.fileSize)
			segments := Split(data, tt.size)

			require.Len(t, segments, tt.wantCount)
			assert.Equal(t, tt.wantCount, Count(int64(tt.fileSize), tt.size))

			for i, segment := range segments {
				if i < len(segments)-1 {
					assert.Len(t, segment, tt.size, "segment %d", i)
				} else {
					assert.Len(t, segment, tt.wantLast, "final segment")
				}
			}
		})
	}
}

func TestSplit_PartitionsWithoutGapOrOverlap(t *testing.T) {
	data := make([]byte, 2500)
	for i := range data {
		data[i] = byte(i)
	}

	segments := Split(data, 512)

	offset := 0
	for i, segment := range segments {
		assert.True(t, bytes.Equal(data[offset:offset+len(segment)], segment),
			"segment %d does not match its byte range", i)
		offset += len(segment)
	}
	assert.Equal(t, len(data), offset)
}

func TestSplit_SegmentsAreCopies(t *testing.T) {
	data := []byte("immutable once produced")
	segments := Split(data, 8)

	data[0] = 'X'

	assert.Equal(t, byte('i'), segments[0][0])
}

func TestReassemble_RoundTrip(t *testing.T) {
	rng := rand.New(rand.NewSource(42))

	for _, size := range []int{1, 511, 512, 513, 2500, 10000} {
		data := make([]byte, size)
		rng.Read(data)

		got := Reassemble(Split(data, 512))

		require.True(t, bytes.Equal(data, got), "round trip failed for %d bytes", size)
	}
}

func TestCount(t *testing.T) {
	assert.Equal(t, 0, Count(0, 512))
	assert.Equal(t, 1, Count(1, 512))
	assert.Equal(t, 1, Count(512, 512))
	assert.Equal(t, 2, Count(513, 512))
	assert.Equal(t, 5, Count(2500, 512))
	assert.Equal(t, 0, Count(100, 0))
}
