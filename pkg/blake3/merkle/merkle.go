// Package merkle implements BLAKE3's chunk engine and tree engine: the
// state machine that consumes input bytes, produces per-chunk chaining
// values, and combines them via the Bao-style binary Merkle tree
// subtree-stack algorithm, with correct CHUNK_START / CHUNK_END / PARENT /
// ROOT flag propagation. It is parameterized by an initial chaining value
// and a mode-wide flag so the same engine serves hash, keyed_hash, and
// derive_key alike.
package merkle

import (
	"github.com/buildbarn/go-blake3/pkg/blake3/compress"
	"github.com/buildbarn/go-blake3/pkg/blake3/simd4"
)

// MaxStackDepth bounds the number of entries ever resident on the subtree
// stack. BLAKE3 chunks are at most compress.ChunkLen bytes, so even an
// input of 2^64-1 bytes produces at most 64 set bits in its chunk count,
// comfortably within this static bound.
const MaxStackDepth = 64

// Chunk holds the attributes needed to compress one BLAKE3 chunk: up to
// compress.ChunkLen bytes, assigned a monotonically increasing 64-bit
// counter.
type Chunk struct {
	Data    []byte
	Counter uint64
}

// RootNode carries everything a digest extractor needs to produce output
// of arbitrary length from a finished hashing run: InputCV and Block are
// the exact (chaining value, message block) that fed the final,
// ROOT-flagged compression; re-running Compress against them with an
// incrementing counter (0, 1, 2, ...) and keeping BlockLen and Flags fixed
// produces successive 64-byte output blocks. CV is that first
// compression's own truncated output, i.e. the first 32 bytes of output,
// returned separately so short (<=32-byte) requests don't need to re-run
// Compress at all.
type RootNode struct {
	CV       [8]uint32
	InputCV  [8]uint32
	Block    [16]uint32
	BlockLen uint32
	Flags    uint32
}

// ChunkCV drives the chunk engine over a single chunk's worth of input and
// returns its chaining value, without ever setting ROOT. modeFlags are
// OR'd into every block compression of the run (KEYED_HASH /
// DERIVE_KEY_*).
func ChunkCV(key [8]uint32, chunk Chunk, modeFlags uint32) [8]uint32 {
	node := compressChunk(key, chunk, modeFlags, false)
	return node.CV
}

// compressChunk runs the per-block compression loop over one chunk. When
// root is true, the final block additionally carries ROOT, and the full
// RootNode (including the pre-image of that final compression) is
// returned so the single-chunk fast path can feed it directly to the
// digest extractor.
func compressChunk(key [8]uint32, chunk Chunk, modeFlags uint32, root bool) RootNode {
	cv := key
	data := chunk.Data

	// A chunk always contains at least one block, even when empty.
	numBlocks := (len(data) + compress.BlockLen - 1) / compress.BlockLen
	if numBlocks == 0 {
		numBlocks = 1
	}

	pos := 0
	for i := 0; i < numBlocks; i++ {
		end := pos + compress.BlockLen
		if end > len(data) {
			end = len(data)
		}
		raw := data[pos:end]
		blockLen := uint32(len(raw))

		flags := modeFlags
		if i == 0 {
			flags |= compress.FlagChunkStart
		}
		last := i == numBlocks-1
		if last {
			flags |= compress.FlagChunkEnd
			if root {
				flags |= compress.FlagRoot
			}
		}

		block := compress.Block(raw)
		out := compress.Compress(&cv, &block, chunk.Counter, blockLen, flags)

		if last {
			return RootNode{
				CV:       compress.ChainingValue(out),
				InputCV:  cv,
				Block:    block,
				BlockLen: blockLen,
				Flags:    flags,
			}
		}
		cv = compress.ChainingValue(out)
		pos = end
	}
	panic("unreachable: a chunk always has at least one block")
}

// Stack implements BLAKE3's subtree (chaining-value) stack, distinguishing
// the eager, never-ROOT merges of the main loop from the final,
// ROOT-reserving drain.
//
// Invariant: heights are strictly decreasing from bottom to top; after N
// pushed chunk CVs the stack corresponds bit-for-bit to the binary
// representation of N.
type Stack struct {
	key       [8]uint32
	modeFlags uint32
	entries   [MaxStackDepth][8]uint32
	depth     int
	pushed    uint64
}

// NewStack creates an empty Stack. key is the mode's initial chaining
// value and modeFlags is OR'd into every PARENT compression performed by
// the stack.
func NewStack(key [8]uint32, modeFlags uint32) *Stack {
	return &Stack{key: key, modeFlags: modeFlags}
}

func (s *Stack) pop() [8]uint32 {
	s.depth--
	return s.entries[s.depth]
}

func (s *Stack) push(cv [8]uint32) {
	s.entries[s.depth] = cv
	s.depth++
}

// merge compresses one parent node, optionally carrying ROOT, and returns
// the full RootNode describing that compression.
func (s *Stack) merge(l, r [8]uint32, root bool) RootNode {
	block := compress.Parent(&l, &r)
	flags := s.modeFlags | compress.FlagParent
	if root {
		flags |= compress.FlagRoot
	}
	out := compress.Compress(&s.key, &block, 0, compress.BlockLen, flags)
	return RootNode{
		CV:       compress.ChainingValue(out),
		InputCV:  s.key,
		Block:    block,
		BlockLen: compress.BlockLen,
		Flags:    flags,
	}
}

// PushNonFinal pushes a non-final chunk's (or precomputed subtree's) CV
// and eagerly merges completed subtrees. Eager merging only happens while
// processing non-final entries, so the ROOT flag remains reserved for the
// very last compression, executed by FinalizeRoot.
func (s *Stack) PushNonFinal(cv [8]uint32) {
	s.push(cv)
	s.pushed++
	for t := s.pushed; t%2 == 0 && s.depth >= 2; t >>= 1 {
		r := s.pop()
		l := s.pop()
		s.push(s.merge(l, r, false).CV)
	}
}

// FinalizeRoot pushes the final chunk's (or precomputed subtree's) CV and
// drains the stack right-to-left, reserving ROOT for the last parent
// compression. If final was the only entry ever pushed, it is returned
// as-is in the result's CV without a ROOT-flagged compression, and the
// other RootNode fields are left zero — callers that need a properly
// rooted single-entry result must not call FinalizeRoot with an otherwise
// empty stack; Root(), MergePrecomputed and the streaming Hasher never do.
func (s *Stack) FinalizeRoot(final [8]uint32) RootNode {
	s.push(final)
	node := RootNode{CV: final}
	for s.depth > 1 {
		r := s.pop()
		l := s.pop()
		isRoot := s.depth == 0
		node = s.merge(l, r, isRoot)
		s.push(node.CV)
	}
	return node
}

// MergePrecomputed merges a sequence of already-computed, range-ordered
// chunk chaining values — e.g. the concatenated results of several
// parallel workers — using the identical stack rule applied by the serial
// tree engine, so the result is bit-identical regardless of how the chunk
// range was partitioned.
func MergePrecomputed(key [8]uint32, modeFlags uint32, cvs [][8]uint32) [8]uint32 {
	if len(cvs) == 0 {
		panic("merkle: MergePrecomputed requires at least one chaining value")
	}
	if len(cvs) == 1 {
		return cvs[0]
	}
	s := NewStack(key, modeFlags)
	for _, cv := range cvs[:len(cvs)-1] {
		s.PushNonFinal(cv)
	}
	return s.FinalizeRoot(cvs[len(cvs)-1]).CV
}

// Root computes the BLAKE3 root node for input under the given mode
// initial chaining value (key) and mode-wide flags, implementing both the
// single-chunk fast path and the general multi-chunk path.
func Root(key [8]uint32, modeFlags uint32, input []byte) RootNode {
	numChunks := (len(input) + compress.ChunkLen - 1) / compress.ChunkLen
	if numChunks == 0 {
		numChunks = 1
	}

	if numChunks == 1 {
		return compressChunk(key, Chunk{Data: input, Counter: 0}, modeFlags, true)
	}

	// Every chunk other than the last is, by construction, exactly
	// compress.ChunkLen bytes — only the final chunk may be short. That
	// makes every group of four non-final chunks eligible for the
	// batched 4-way path without any tail masking: all four lanes
	// always run the same 16-block schedule.
	stack := NewStack(key, modeFlags)
	c := 0
	for ; c+simd4.Lanes <= numChunks-1; c += simd4.Lanes {
		var chunks [simd4.Lanes]Chunk
		for i := 0; i < simd4.Lanes; i++ {
			start := (c + i) * compress.ChunkLen
			chunks[i] = Chunk{Data: input[start : start+compress.ChunkLen], Counter: uint64(c + i)}
		}
		for _, cv := range ChunkCVs4(key, chunks, modeFlags) {
			stack.PushNonFinal(cv)
		}
	}
	for ; c < numChunks-1; c++ {
		start := c * compress.ChunkLen
		chunk := Chunk{Data: input[start : start+compress.ChunkLen], Counter: uint64(c)}
		stack.PushNonFinal(ChunkCV(key, chunk, modeFlags))
	}
	lastStart := (numChunks - 1) * compress.ChunkLen
	lastChunk := Chunk{Data: input[lastStart:], Counter: uint64(numChunks - 1)}
	return stack.FinalizeRoot(ChunkCV(key, lastChunk, modeFlags))
}

// ChunkCVs4 processes four independent, full (exactly compress.ChunkLen
// byte) chunks through the batched 4-way compression path: it maintains
// four per-lane CV registers and advances one block at a time across all
// four chunks, since a full chunk always contains exactly
// compress.ChunkLen/compress.BlockLen blocks.
func ChunkCVs4(key [8]uint32, chunks [simd4.Lanes]Chunk, modeFlags uint32) [simd4.Lanes][8]uint32 {
	const blocksPerChunk = compress.ChunkLen / compress.BlockLen

	var cvs [simd4.Lanes][8]uint32
	for i := range cvs {
		cvs[i] = key
	}

	for b := 0; b < blocksPerChunk; b++ {
		var in simd4.Input
		for i := 0; i < simd4.Lanes; i++ {
			start := b * compress.BlockLen
			in.CV[i] = cvs[i]
			in.Message[i] = compress.Block(chunks[i].Data[start : start+compress.BlockLen])
			in.Counter[i] = chunks[i].Counter
			in.BlockLen[i] = compress.BlockLen

			flags := modeFlags
			if b == 0 {
				flags |= compress.FlagChunkStart
			}
			if b == blocksPerChunk-1 {
				flags |= compress.FlagChunkEnd
			}
			in.Flags[i] = flags
		}
		out := simd4.Compress4(&in)
		cvs = simd4.ChainingValues(out)
	}
	return cvs
}
