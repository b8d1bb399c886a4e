package compress_test

import (
	"math/bits"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/buildbarn/go-blake3/pkg/blake3/compress"
)

// TestCompressEmptyBlock verifies that compressing the all-zero block with
// CHUNK_START|CHUNK_END|ROOT against the IV reproduces the first 32 bytes
// of the official empty-input BLAKE3 test vector, expressed as chaining
// value words rather than bytes (the byte-level check lives in
// pkg/blake3/blake3_test.go).
func TestCompressEmptyBlock(t *testing.T) {
	var m [16]uint32
	out := compress.Compress(&compress.IV, &m, 0, 0,
		compress.FlagChunkStart|compress.FlagChunkEnd|compress.FlagRoot)
	cv := compress.ChainingValue(out)

	// af1349b9f5f9a1a6a0404dea36dcc9499bcb25c9adc112b7cc9a93cae41f3262
	// is the official 32-byte digest for the empty input; read as 8
	// little-endian uint32 words.
	want := [8]uint32{
		0xb94913af, 0xa6a1f9f5, 0xea4d40a0, 0x49c9dc36,
		0xc925cb9b, 0xb712c1ad, 0xca939acc, 0x62321fe4,
	}
	require.Equal(t, want, cv)
}

// TestCompressDeterministic checks that Compress is a pure function of its
// inputs: calling it twice with identical arguments yields identical
// output.
func TestCompressDeterministic(t *testing.T) {
	h := compress.IV
	m := compress.Block([]byte("determinism check"))
	a := compress.Compress(&h, &m, 7, 18, compress.FlagChunkStart)
	b := compress.Compress(&h, &m, 7, 18, compress.FlagChunkStart)
	require.Equal(t, a, b)
}

// TestCompressDiffusion is a coarse diffusion sanity check: flipping one
// input bit should change roughly half of the output bits, not zero and
// not all of them.
func TestCompressDiffusion(t *testing.T) {
	h := compress.IV
	m := compress.Block([]byte("the quick brown fox jumps over the lazy dog...."))
	base := compress.Compress(&h, &m, 0, compress.BlockLen, 0)

	flipped := m
	flipped[0] ^= 1
	out := compress.Compress(&h, &flipped, 0, compress.BlockLen, 0)

	diff := 0
	for i := range base {
		diff += bits.OnesCount32(base[i] ^ out[i])
	}
	total := len(base) * 32
	// Require diffusion to land in a wide but non-degenerate band
	// around 50%.
	require.Greater(t, diff, total/4)
	require.Less(t, diff, total*3/4)
}

// TestBlockZeroPadsTail verifies that a short tail is zero-padded at word
// granularity rather than reading past the provided slice.
func TestBlockZeroPadsTail(t *testing.T) {
	m := compress.Block([]byte{0x01, 0x02, 0x03})
	require.Equal(t, uint32(0x00030201), m[0])
	for _, w := range m[1:] {
		require.Equal(t, uint32(0), w)
	}
}

func TestParentConcatenatesChainingValues(t *testing.T) {
	var l, r [8]uint32
	for i := range l {
		l[i] = uint32(i)
		r[i] = uint32(i + 100)
	}
	m := compress.Parent(&l, &r)
	require.Equal(t, [16]uint32{0, 1, 2, 3, 4, 5, 6, 7, 100, 101, 102, 103, 104, 105, 106, 107}, m)
}
