package merkle_test

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/buildbarn/go-blake3/pkg/blake3/compress"
	"github.com/buildbarn/go-blake3/pkg/blake3/merkle"
)

// naiveRoot recomputes the root the slow way: compress every chunk serially
// through ChunkCV (never touching the 4-way batched path), then merge
// through a fresh Stack one CV at a time. It exists purely as a reference
// oracle independent of Root's own internal batching decisions.
func naiveRoot(key [8]uint32, modeFlags uint32, input []byte) [8]uint32 {
	numChunks := (len(input) + compress.ChunkLen - 1) / compress.ChunkLen
	if numChunks == 0 {
		numChunks = 1
	}
	if numChunks == 1 {
		return merkle.ChunkCV(key, merkle.Chunk{Data: input, Counter: 0}, modeFlags)
	}

	stack := merkle.NewStack(key, modeFlags)
	for c := 0; c < numChunks-1; c++ {
		start := c * compress.ChunkLen
		chunk := merkle.Chunk{Data: input[start : start+compress.ChunkLen], Counter: uint64(c)}
		stack.PushNonFinal(merkle.ChunkCV(key, chunk, modeFlags))
	}
	lastStart := (numChunks - 1) * compress.ChunkLen
	lastChunk := merkle.Chunk{Data: input[lastStart:], Counter: uint64(numChunks - 1)}
	return stack.FinalizeRoot(merkle.ChunkCV(key, lastChunk, modeFlags)).CV
}

func fill(n int) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = byte(i % 251)
	}
	return b
}

// TestRootMatchesNaiveReference exercises exact chunk multiples (where the
// 4-way batched path in Root engages cleanly) and one-byte-off lengths on
// both sides, confirming the batched loop in Root agrees with the
// always-scalar naiveRoot oracle.
func TestRootMatchesNaiveReference(t *testing.T) {
	lengths := []int{
		0, 1,
		compress.ChunkLen - 1, compress.ChunkLen, compress.ChunkLen + 1,
		2 * compress.ChunkLen,
		4 * compress.ChunkLen, 4*compress.ChunkLen + 1, 4*compress.ChunkLen - 1,
		5 * compress.ChunkLen,
		8 * compress.ChunkLen,
		9 * compress.ChunkLen,
		1024 * 1024 / 17, // an arbitrary non-round multi-chunk length
	}
	for _, n := range lengths {
		n := n
		t.Run(fmt.Sprintf("len=%d", n), func(t *testing.T) {
			input := fill(n)
			got := merkle.Root(compress.IV, 0, input)
			want := naiveRoot(compress.IV, 0, input)
			require.Equal(t, want, got.CV)
		})
	}
}

// TestRootSingleChunkUsesRootFlag confirms the single-chunk fast path marks
// the final block compression of its only chunk with FlagRoot, together
// with FlagChunkStart and FlagChunkEnd.
func TestRootSingleChunkUsesRootFlag(t *testing.T) {
	input := fill(compress.ChunkLen)
	node := merkle.Root(compress.IV, 0, input)
	require.NotZero(t, node.Flags&compress.FlagRoot)
	require.NotZero(t, node.Flags&compress.FlagChunkStart)
	require.NotZero(t, node.Flags&compress.FlagChunkEnd)
}

// TestRootMultiChunkRootFlagOnParentOnly confirms that for a multi-chunk
// input the final, ROOT-flagged compression returned by Root is a PARENT
// compression rather than a chunk compression.
func TestRootMultiChunkRootFlagOnParentOnly(t *testing.T) {
	input := fill(4 * compress.ChunkLen)
	node := merkle.Root(compress.IV, 0, input)
	require.NotZero(t, node.Flags&compress.FlagRoot)
	require.NotZero(t, node.Flags&compress.FlagParent)
}

// TestMergePrecomputedMatchesRootForChunkCVs checks that feeding Root's own
// per-chunk CVs through MergePrecomputed reproduces the same digest as
// Root, which is the guarantee the parallel worker-pool path depends on.
func TestMergePrecomputedMatchesRootForChunkCVs(t *testing.T) {
	const numChunks = 6
	input := fill(numChunks * compress.ChunkLen)

	cvs := make([][8]uint32, numChunks)
	for c := 0; c < numChunks; c++ {
		start := c * compress.ChunkLen
		chunk := merkle.Chunk{Data: input[start : start+compress.ChunkLen], Counter: uint64(c)}
		cvs[c] = merkle.ChunkCV(compress.IV, chunk, 0)
	}

	got := merkle.MergePrecomputed(compress.IV, 0, cvs)
	want := merkle.Root(compress.IV, 0, input).CV
	require.Equal(t, want, got)
}

// TestMergePrecomputedSingleValuePassesThrough checks the degenerate
// single-chaining-value case: the value is returned unchanged, with no
// compression applied.
func TestMergePrecomputedSingleValuePassesThrough(t *testing.T) {
	var cv [8]uint32
	cv[0] = 0xdeadbeef
	got := merkle.MergePrecomputed(compress.IV, 0, [][8]uint32{cv})
	require.Equal(t, cv, got)
}

// TestMergePrecomputedPanicsOnEmpty documents that an empty chaining-value
// slice is a caller error, not a valid degenerate input (there is always at
// least one chunk, even for empty input).
func TestMergePrecomputedPanicsOnEmpty(t *testing.T) {
	require.Panics(t, func() {
		merkle.MergePrecomputed(compress.IV, 0, nil)
	})
}

// TestChunkCVs4MatchesScalarChunkCV is the chunk-level analogue of
// simd4.TestCompress4MatchesCompress1x: batching four full chunks through
// the 4-way path must reproduce the same four chaining values as
// compressing each chunk serially through ChunkCV.
func TestChunkCVs4MatchesScalarChunkCV(t *testing.T) {
	var chunks [4]merkle.Chunk
	var want [4][8]uint32
	for i := 0; i < 4; i++ {
		data := fill(compress.ChunkLen)
		data[0] = byte(i + 1) // perturb each chunk so the four are distinct
		chunks[i] = merkle.Chunk{Data: data, Counter: uint64(i * 3)}
		want[i] = merkle.ChunkCV(compress.IV, chunks[i], 0)
	}

	got := merkle.ChunkCVs4(compress.IV, chunks, 0)
	require.Equal(t, want, got)
}
