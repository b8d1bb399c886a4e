// Package simd4 implements BLAKE3's batched 4-way compression path:
// four independent single-block compressions laid out across four lanes,
// used to accelerate chunk processing once at least four chunks remain.
// Lane i of each 4-word vector register holds instance i's corresponding
// word; the four CVs, messages, counters, block lengths, and flag sets are
// transposed in, run through seven rounds of a vectorized G function, and
// untransposed back into four independent 16-word outputs.
package simd4

import (
	"github.com/buildbarn/go-blake3/pkg/blake3/compress"
)

// Lanes is the batch width of this package: four independent
// compressions processed together.
const Lanes = 4

// lane is a 4-wide vector register: lane[i] holds the word belonging to
// instance i. All operations on it are lanewise.
type lane [Lanes]uint32

func (v lane) add(w lane) (out lane) {
	for i := range out {
		out[i] = v[i] + w[i]
	}
	return
}

func (v lane) xor(w lane) (out lane) {
	for i := range out {
		out[i] = v[i] ^ w[i]
	}
	return
}

// rotr implements a lanewise rotate with no dedicated hardware rotate
// assumed: every rotation is shift-or with immediate shift amounts.
func (v lane) rotr(n uint) (out lane) {
	for i := range out {
		out[i] = v[i]>>n | v[i]<<(32-n)
	}
	return
}

func g(a, b, c, d *lane, mx, my lane) {
	*a = a.add(*b).add(mx)
	*d = d.xor(*a).rotr(16)
	*c = c.add(*d)
	*b = b.xor(*c).rotr(12)
	*a = a.add(*b).add(my)
	*d = d.xor(*a).rotr(8)
	*c = c.add(*d)
	*b = b.xor(*c).rotr(7)
}

// Input holds the four independent instances' arguments to Compress4,
// already elementwise-separated: CV[i], Message[i], Counter[i],
// BlockLen[i], and Flags[i] together form one scalar Compress call.
type Input struct {
	CV       [4][8]uint32
	Message  [4][16]uint32
	Counter  [4]uint64
	BlockLen [4]uint32
	Flags    [4]uint32
}

// Compress4 runs Compress-4x: four independent single-block compressions
// laid out so lane i of each vector holds instance i's word. It transposes
// the four CVs and messages in, broadcasts the IV, packs the per-instance
// counters/lengths/flags one per lane, runs the vector G function for seven rounds, and
// untransposes the result back into four independent outputs.
func Compress4(in *Input) (out [4][16]uint32) {
	// Step 1: transpose the four 8-word CVs into eight 4-word vectors.
	var h [8]lane
	for w := 0; w < 8; w++ {
		for i := 0; i < Lanes; i++ {
			h[w][i] = in.CV[i][w]
		}
	}

	// Step 2: transpose the four 16-word messages into sixteen 4-word
	// vectors.
	var m [16]lane
	for w := 0; w < 16; w++ {
		for i := 0; i < Lanes; i++ {
			m[w][i] = in.Message[i][w]
		}
	}

	// Step 3: broadcast the four IV constants across their lanes.
	var iv [4]lane
	for w := 0; w < 4; w++ {
		for i := range iv[w] {
			iv[w][i] = compress.IV[w]
		}
	}

	// Step 4: pack the per-instance scalars into four vectors.
	var counterLo, counterHi, blockLen, flags lane
	for i := 0; i < Lanes; i++ {
		counterLo[i] = uint32(in.Counter[i])
		counterHi[i] = uint32(in.Counter[i] >> 32)
		blockLen[i] = in.BlockLen[i]
		flags[i] = in.Flags[i]
	}

	v := [16]lane{
		h[0], h[1], h[2], h[3], h[4], h[5], h[6], h[7],
		iv[0], iv[1], iv[2], iv[3],
		counterLo, counterHi, blockLen, flags,
	}

	// Step 5: run the G function with vector add/xor/rotate, for all
	// seven rounds, using the same message permutation schedule as the
	// scalar path.
	round := func(mm [16]lane) {
		g(&v[0], &v[4], &v[8], &v[12], mm[0], mm[1])
		g(&v[1], &v[5], &v[9], &v[13], mm[2], mm[3])
		g(&v[2], &v[6], &v[10], &v[14], mm[4], mm[5])
		g(&v[3], &v[7], &v[11], &v[15], mm[6], mm[7])
		g(&v[0], &v[5], &v[10], &v[15], mm[8], mm[9])
		g(&v[1], &v[6], &v[11], &v[12], mm[10], mm[11])
		g(&v[2], &v[7], &v[8], &v[13], mm[12], mm[13])
		g(&v[3], &v[4], &v[9], &v[14], mm[14], mm[15])
	}

	schedules := [7][16]int{
		{0, 1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15},
		{2, 6, 3, 10, 7, 0, 4, 13, 1, 11, 12, 5, 9, 14, 15, 8},
		{3, 4, 10, 12, 13, 2, 7, 14, 6, 5, 9, 0, 11, 15, 8, 1},
		{10, 7, 12, 9, 14, 3, 13, 15, 4, 0, 11, 2, 5, 8, 1, 6},
		{12, 13, 9, 11, 15, 10, 14, 8, 7, 2, 5, 3, 0, 1, 6, 4},
		{9, 14, 11, 5, 8, 12, 15, 1, 13, 3, 0, 10, 2, 6, 4, 7},
		{11, 15, 5, 0, 1, 9, 8, 6, 14, 10, 2, 12, 3, 4, 7, 13},
	}
	for _, schedule := range schedules {
		var permuted [16]lane
		for i, idx := range schedule {
			permuted[i] = m[idx]
		}
		round(permuted)
	}

	// Finalization and untranspose: output word i is v[i] XOR v[i+8],
	// and the second half is v[i+8] XOR the original CV word i.
	for w := 0; w < 8; w++ {
		first := v[w].xor(v[w+8])
		second := v[w+8].xor(h[w])
		for i := 0; i < Lanes; i++ {
			out[i][w] = first[i]
			out[i][w+8] = second[i]
		}
	}
	return
}

// ChainingValues truncates each of the four outputs of Compress4 to its
// 256-bit chaining value.
func ChainingValues(out [4][16]uint32) (cvs [4][8]uint32) {
	for i := range cvs {
		copy(cvs[i][:], out[i][:8])
	}
	return
}
