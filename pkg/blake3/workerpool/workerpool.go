// Package workerpool implements an optional parallel chunk-range
// dispatcher: it partitions [0, num_chunks) into contiguous ranges and
// dispatches each range to a worker, then feeds the concatenated,
// range-ordered chunk chaining values into the same subtree-stack merge
// used by the serial tree engine.
package workerpool

import (
	"context"
	"runtime"

	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/buildbarn/go-blake3/pkg/blake3/compress"
	"github.com/buildbarn/go-blake3/pkg/blake3/merkle"
)

// Policy controls how many chunks each worker is assigned per range:
// a minimum, default, and maximum chunk count per worker.
type Policy struct {
	minimumChunksPerWorker int
	defaultChunksPerWorker int
	maximumChunksPerWorker int
}

// ChunksPerWorkerExactly requests that every worker (other than possibly
// the last) process exactly n chunks.
func ChunksPerWorkerExactly(n int) Policy {
	return Policy{minimumChunksPerWorker: n, defaultChunksPerWorker: n, maximumChunksPerWorker: n}
}

// ChunksPerWorkerAtLeast requests that every worker process at least n
// chunks, growing without upper bound when dividing the input evenly
// across the workers gives each more than n, to avoid dispatching ranges
// so small that scheduling overhead dominates.
func ChunksPerWorkerAtLeast(n int) Policy {
	return Policy{minimumChunksPerWorker: n, defaultChunksPerWorker: n, maximumChunksPerWorker: int(^uint(0) >> 1)}
}

// DefaultPolicy divides the input as evenly as possible across
// runtime.GOMAXPROCS(0) workers, with a floor of 4 chunks per worker so
// that small inputs are not split finely enough to make the parallel path
// slower than the serial one.
func DefaultPolicy() Policy {
	return Policy{
		minimumChunksPerWorker: 4,
		defaultChunksPerWorker: 4,
		maximumChunksPerWorker: int(^uint(0) >> 1),
	}
}

// chunksPerWorker resolves how many chunks each of up to workerCount
// workers should handle for a run of numChunks chunks, honoring the
// policy's bounds.
func (p Policy) chunksPerWorker(numChunks, workerCount int) int {
	n := p.defaultChunksPerWorker
	if workerCount > 0 {
		if perWorker := (numChunks + workerCount - 1) / workerCount; perWorker > n {
			n = perWorker
		}
	}
	if n < p.minimumChunksPerWorker {
		n = p.minimumChunksPerWorker
	}
	if n > p.maximumChunksPerWorker {
		n = p.maximumChunksPerWorker
	}
	if n < 1 {
		n = 1
	}
	return n
}

type chunkRange struct {
	start, end int // chunk indices, [start, end)
}

// HashParallel computes the BLAKE3 root node of input under the given mode
// initial CV and mode-wide flags, partitioning the non-final chunk range
// across runtime.GOMAXPROCS(0) workers per policy and merging their
// results through the identical subtree-stack rule that
// merkle.MergePrecomputed applies to a precomputed CV sequence. If ctx is
// cancelled, in-flight workers are abandoned and no partial result is
// returned. The final chunk is merged in separately so the returned
// RootNode retains the pre-image needed for extended output. The result
// is bit-identical to the equivalent serial merkle.Root computation
// regardless of how the range was partitioned.
func HashParallel(ctx context.Context, key [8]uint32, modeFlags uint32, input []byte, policy Policy) (merkle.RootNode, error) {
	numChunks := (len(input) + compress.ChunkLen - 1) / compress.ChunkLen
	if numChunks == 0 {
		numChunks = 1
	}
	if numChunks == 1 {
		return merkle.Root(key, modeFlags, input), nil
	}

	// The final chunk is handled by the serial tree engine after all
	// non-final ranges are merged in, so workers only ever see
	// non-final, full chunks and never need to reason about ROOT.
	nonFinalChunks := numChunks - 1

	perWorker := policy.chunksPerWorker(nonFinalChunks, runtime.GOMAXPROCS(0))
	var ranges []chunkRange
	for start := 0; start < nonFinalChunks; start += perWorker {
		end := start + perWorker
		if end > nonFinalChunks {
			end = nonFinalChunks
		}
		ranges = append(ranges, chunkRange{start: start, end: end})
	}

	results := make([][][8]uint32, len(ranges))
	g, groupCtx := errgroup.WithContext(ctx)
	for i, r := range ranges {
		i, r := i, r
		g.Go(func() error {
			select {
			case <-groupCtx.Done():
				return groupCtx.Err()
			default:
			}
			cvs := make([][8]uint32, 0, r.end-r.start)
			for c := r.start; c < r.end; c++ {
				offset := c * compress.ChunkLen
				chunk := merkle.Chunk{Data: input[offset : offset+compress.ChunkLen], Counter: uint64(c)}
				cvs = append(cvs, merkle.ChunkCV(key, chunk, modeFlags))
			}
			results[i] = cvs
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return merkle.RootNode{}, status.Errorf(codes.Aborted, "blake3: parallel chunk dispatch failed: %s", err)
	}

	// results is indexed by dispatch order, which matches ranges'
	// increasing start order, so concatenating it directly reassembles
	// the chunk CVs in chunk order.
	allCVs := make([][8]uint32, 0, nonFinalChunks)
	for _, cvs := range results {
		allCVs = append(allCVs, cvs...)
	}

	lastStart := (numChunks - 1) * compress.ChunkLen
	lastChunk := merkle.Chunk{Data: input[lastStart:], Counter: uint64(numChunks - 1)}
	lastCV := merkle.ChunkCV(key, lastChunk, modeFlags)

	if len(allCVs) == 0 {
		return merkle.Root(key, modeFlags, input), nil
	}

	stack := merkle.NewStack(key, modeFlags)
	for _, cv := range allCVs {
		stack.PushNonFinal(cv)
	}
	return stack.FinalizeRoot(lastCV), nil
}
