package fault

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMaybeCorrupt_ZeroProbabilityNeverMutates(t *testing.T) {
	in := NewSeeded(0.0, 1)
	data := []byte("stable payload")

	for i := 0; i < 10000; i++ {
		out, corrupted := in.MaybeCorrupt(data)
		require.False(t, corrupted)
		require.True(t, bytes.Equal(data, out))
	}
}

func TestMaybeCorrupt_CertainProbabilityAlwaysMutates(t *testing.T) {
	in := NewSeeded(1.0, 2)
	data := []byte("payload under fire")

	for i := 0; i < 10000; i++ {
		out, corrupted := in.MaybeCorrupt(data)
		require.True(t, corrupted)
		require.False(t, bytes.Equal(data, out))
	}
}

func TestMaybeCorrupt_BumpsExactlyOneByte(t *testing.T) {
	in := NewSeeded(1.0, 3)
	data := []byte{10, 20, 30, 40, 50}

	out, corrupted := in.MaybeCorrupt(data)
	require.True(t, corrupted)

	diffs := 0
	for i := range data {
		if out[i] != data[i] {
			diffs++
			assert.Equal(t, data[i]+1, out[i], "corrupted byte must be original+1 mod 256")
		}
	}
	assert.Equal(t, 1, diffs)
}

func TestMaybeCorrupt_ByteValueWrapsAt256(t *testing.T) {
	in := NewSeeded(1.0, 4)
	data := []byte{0xFF}

	out, corrupted := in.MaybeCorrupt(data)

	require.True(t, corrupted)
	assert.Equal(t, byte(0x00), out[0])
}

func TestMaybeCorrupt_NeverMutatesCaller(t *testing.T) {
	in := NewSeeded(1.0, 5)
	data := []byte("copy on write")
	original := append([]byte(nil), data...)

	for i := 0; i < 100; i++ {
		in.MaybeCorrupt(data)
		require.True(t, bytes.Equal(original, data))
	}
}

func TestMaybeCorrupt_EmptyInput(t *testing.T) {
	in := NewSeeded(1.0, 6)

	out, corrupted := in.MaybeCorrupt(nil)

	assert.False(t, corrupted)
	assert.Nil(t, out)
}

func TestMaybeCorrupt_Reproducible(t *testing.T) {
	data := []byte("deterministic corruption")

	a, _ := NewSeeded(0.5, 99).MaybeCorrupt(data)
	b, _ := NewSeeded(0.5, 99).MaybeCorrupt(data)

	assert.True(t, bytes.Equal(a, b))
}

func TestNew_ClampsProbability(t *testing.T) {
	assert.Equal(t, 0.0, NewSeeded(-0.5, 1).Probability())
	assert.Equal(t, 1.0, NewSeeded(1.5, 1).Probability())
	assert.Equal(t, 0.3, NewSeeded(0.3, 1).Probability())
}
