// Package blake3 implements the BLAKE3 cryptographic hash function: the
// one-shot hash/keyed_hash/derive_key entry points, a streaming hash.Hash
// implementation, and extendable-output (XOF) reads of arbitrary length.
//
// The chunk/tree engine and the single- and 4-way compression kernels live
// in the sibling pkg/blake3/compress, pkg/blake3/simd4 and
// pkg/blake3/merkle packages; this package wires them into the three
// official BLAKE3 modes and the public API, tracking a genuine per-chunk
// counter throughout.
package blake3

import (
	"context"
	"encoding/binary"
	"hash"
	"io"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/buildbarn/go-blake3/pkg/blake3/compress"
	"github.com/buildbarn/go-blake3/pkg/blake3/merkle"
	"github.com/buildbarn/go-blake3/pkg/blake3/workerpool"
)

// KeySize is the length in bytes of a keyed_hash key.
const KeySize = 32

// BlockSize is the size of one compression block, reported to satisfy
// hash.Hash's BlockSize method.
const BlockSize = compress.BlockLen

// DefaultSize is the length in bytes of BLAKE3's conventional, non-extended
// digest.
const DefaultSize = 32

// wordsFromKey reinterprets a 32-byte key as 8 little-endian words, the
// internal chaining-value representation used throughout compress/merkle.
func wordsFromKey(key [KeySize]byte) (cv [8]uint32) {
	for i := range cv {
		cv[i] = binary.LittleEndian.Uint32(key[i*4 : i*4+4])
	}
	return
}

// Hash computes the hash-mode BLAKE3 digest of input, producing
// outputLen bytes.
func Hash(input []byte, outputLen int) ([]byte, error) {
	return oneShot(compress.IV, 0, input, outputLen)
}

// KeyedHash computes the keyed_hash-mode BLAKE3 digest of input under key,
// producing outputLen bytes.
func KeyedHash(key [KeySize]byte, input []byte, outputLen int) ([]byte, error) {
	return oneShot(wordsFromKey(key), compress.FlagKeyedHash, input, outputLen)
}

// DeriveKey computes the derive_key-mode BLAKE3 output for the given
// context string and key material, producing outputLen bytes.
//
// context is hashed through the same unbounded tree engine as every other
// mode: there is no ceiling on context length, however long the context
// string is.
func DeriveKey(contextString string, keyMaterial []byte, outputLen int) ([]byte, error) {
	contextKey := merkle.Root(compress.IV, compress.FlagDeriveKeyContext, []byte(contextString)).CV
	return oneShot(contextKey, compress.FlagDeriveKeyMaterial, keyMaterial, outputLen)
}

// HashParallel computes the hash-mode BLAKE3 digest of input using the
// optional worker-pool chunk dispatcher, producing outputLen bytes. The
// result is bit-identical to Hash(input, outputLen) regardless of policy or
// GOMAXPROCS, since both paths reduce through the same subtree-stack merge
// rule.
func HashParallel(ctx context.Context, input []byte, outputLen int, policy workerpool.Policy) ([]byte, error) {
	if outputLen <= 0 {
		return nil, status.Errorf(codes.InvalidArgument, "blake3: output length %d must be positive", outputLen)
	}
	node, err := workerpool.HashParallel(ctx, compress.IV, 0, input, policy)
	if err != nil {
		return nil, err
	}
	return extend(node, outputLen), nil
}

func oneShot(key [8]uint32, modeFlags uint32, input []byte, outputLen int) ([]byte, error) {
	if outputLen <= 0 {
		return nil, status.Errorf(codes.InvalidArgument, "blake3: output length %d must be positive", outputLen)
	}
	node := merkle.Root(key, modeFlags, input)
	return extend(node, outputLen), nil
}

// extend runs the digest-extractor loop: every 64-byte output block,
// including the first, is produced by re-running Compress against the
// same (chaining value, block) pair with an incrementing counter starting
// at 0. The first DefaultSize bytes therefore equal node.CV serialized
// little-endian.
func extend(node merkle.RootNode, outputLen int) []byte {
	out := make([]byte, outputLen)
	counter := uint64(0)
	pos := 0
	for pos < outputLen {
		block := compress.Compress(&node.InputCV, &node.Block, counter, node.BlockLen, node.Flags)
		for _, w := range block {
			if pos >= outputLen {
				break
			}
			var buf [4]byte
			binary.LittleEndian.PutUint32(buf[:], w)
			n := copy(out[pos:], buf[:])
			pos += n
		}
		counter++
	}
	return out
}

// Hasher is a streaming BLAKE3 hasher satisfying hash.Hash. It buffers
// input one chunk at a time and drives the same tree engine used by the
// one-shot functions.
type Hasher struct {
	key       [8]uint32
	modeFlags uint32

	stack *merkle.Stack

	// buf holds at most one full chunk (compress.ChunkLen bytes) of
	// input that has not yet been folded into the stack, because it
	// might still turn out to be the final chunk.
	buf     []byte
	counter uint64

	size int
}

// New creates a Hasher in hash mode, with the conventional 32-byte digest
// size. Use Hasher.SetSize or Hasher.OutputReader for other output
// lengths.
func New() *Hasher {
	return newHasher(compress.IV, 0)
}

// NewKeyedFromSlice creates a Hasher in keyed_hash mode. key must be
// exactly KeySize bytes.
func NewKeyedFromSlice(key []byte) (*Hasher, error) {
	if len(key) != KeySize {
		return nil, status.Errorf(codes.InvalidArgument, "blake3: keyed_hash key must be %d bytes, got %d", KeySize, len(key))
	}
	var k [KeySize]byte
	copy(k[:], key)
	return NewKeyed(k), nil
}

// NewKeyed creates a Hasher in keyed_hash mode with a fixed-size key.
func NewKeyed(key [KeySize]byte) *Hasher {
	return newHasher(wordsFromKey(key), compress.FlagKeyedHash)
}

// NewDeriveKey creates a Hasher in derive_key mode. The context string is
// hashed eagerly (it must be supplied up front, unlike the key material
// which may be streamed through Write), since derive_key's two-stage
// construction needs the context key before any key material arrives.
func NewDeriveKey(contextString string) *Hasher {
	contextKey := merkle.Root(compress.IV, compress.FlagDeriveKeyContext, []byte(contextString)).CV
	return newHasher(contextKey, compress.FlagDeriveKeyMaterial)
}

func newHasher(key [8]uint32, modeFlags uint32) *Hasher {
	return &Hasher{
		key:       key,
		modeFlags: modeFlags,
		stack:     merkle.NewStack(key, modeFlags),
		size:      DefaultSize,
	}
}

// SetSize changes the number of bytes a subsequent Sum call produces. It
// has no effect on OutputReader, which always serves however many bytes
// are read from it.
func (h *Hasher) SetSize(n int) {
	h.size = n
}

// Write implements hash.Hash / io.Writer. It folds complete, non-final
// chunks into the subtree stack as they accumulate and retains at most one
// chunk's worth of trailing input, since the final chunk cannot be
// compressed until the caller stops writing.
func (h *Hasher) Write(p []byte) (int, error) {
	n := len(p)
	h.buf = append(h.buf, p...)
	for len(h.buf) > compress.ChunkLen {
		chunk := merkle.Chunk{Data: h.buf[:compress.ChunkLen], Counter: h.counter}
		h.stack.PushNonFinal(merkle.ChunkCV(h.key, chunk, h.modeFlags))
		h.counter++
		remaining := make([]byte, len(h.buf)-compress.ChunkLen)
		copy(remaining, h.buf[compress.ChunkLen:])
		h.buf = remaining
	}
	return n, nil
}

// root finalizes the pending chunk (even if empty, to cover the zero-byte
// input case) without mutating h, so Sum can be called any number of
// times.
func (h *Hasher) root() merkle.RootNode {
	finalChunk := merkle.Chunk{Data: h.buf, Counter: h.counter}
	if h.counter == 0 {
		// Nothing has been folded into the stack yet: this is the
		// single-chunk fast path, handled identically to merkle.Root.
		return finalChunkRoot(h.key, h.modeFlags, finalChunk)
	}
	stackCopy := *h.stack
	return stackCopy.FinalizeRoot(merkle.ChunkCV(h.key, finalChunk, h.modeFlags))
}

func finalChunkRoot(key [8]uint32, modeFlags uint32, chunk merkle.Chunk) merkle.RootNode {
	return merkle.Root(key, modeFlags, chunk.Data)
}

// Sum implements hash.Hash: it appends the hasher's current digest (at the
// size configured by New/NewKeyed/NewDeriveKey/SetSize, default
// DefaultSize) to b and returns the result, without modifying the
// underlying hash state.
func (h *Hasher) Sum(b []byte) []byte {
	out := extend(h.root(), h.size)
	return append(b, out...)
}

// Reset implements hash.Hash, returning the Hasher to its post-construction
// state under the same key and mode.
func (h *Hasher) Reset() {
	h.stack = merkle.NewStack(h.key, h.modeFlags)
	h.buf = nil
	h.counter = 0
}

// Size implements hash.Hash.
func (h *Hasher) Size() int {
	return h.size
}

// BlockSize implements hash.Hash.
func (h *Hasher) BlockSize() int {
	return BlockSize
}

// OutputReader returns an io.Reader serving BLAKE3's extendable output
// starting at position 0, independent of Size/SetSize, for callers that
// need more than a few dozen bytes of digest material.
func (h *Hasher) OutputReader() *OutputReader {
	return &OutputReader{node: h.root()}
}

// OutputReader streams BLAKE3 extendable output (XOF) one 64-byte
// compression block at a time, exposed as an io.Reader instead of a
// single fixed-length call.
type OutputReader struct {
	node    merkle.RootNode
	counter uint64
	block   [compress.BlockLen]byte
	blockN  int // number of valid bytes in block
	blockAt int // read offset into block
}

var _ io.Reader = (*OutputReader)(nil)

// Read implements io.Reader, never returning io.EOF: BLAKE3's output is
// unbounded, so the stream is exhausted only when the caller stops
// reading.
func (r *OutputReader) Read(p []byte) (int, error) {
	n := 0
	for n < len(p) {
		if r.blockAt >= r.blockN {
			r.fillBlock()
		}
		c := copy(p[n:], r.block[r.blockAt:r.blockN])
		r.blockAt += c
		n += c
	}
	return n, nil
}

func (r *OutputReader) fillBlock() {
	words := compress.Compress(&r.node.InputCV, &r.node.Block, r.counter, r.node.BlockLen, r.node.Flags)
	r.counter++
	for i, w := range words {
		binary.LittleEndian.PutUint32(r.block[i*4:i*4+4], w)
	}
	r.blockN = len(r.block)
	r.blockAt = 0
}

var _ hash.Hash = (*Hasher)(nil)
