package metaspace

const (
	// minAllocWords is the smallest raw block size the allocator deals in.
	// Anything smaller could not be tracked once deallocated.
	minAllocWords = 2

	// maxBinWords is the largest block size served from the size-indexed
	// bins; larger blocks go to the sorted overflow list.
	maxBinWords = 32

	numBins = maxBinWords - minAllocWords + 1
)

// binList keeps small free blocks in per-size stacks for O(1) add and
// near-O(1) remove. Slot i holds blocks of exactly minAllocWords+i words.
type binList struct {
	bins       [numBins][][]uint64
	numBlocks  int
	totalWords uint64
}

func (l *binList) add(p []uint64) {
	n := len(p)
	if n < minAllocWords || n > maxBinWords {
		panic("metaspace: block size out of bin range")
	}
	i := n - minAllocWords
	l.bins[i] = append(l.bins[i], p)
	l.numBlocks++
	l.totalWords += uint64(n)
}

// removeAtLeast pops a block of at least words, preferring the tightest
// fit. Returns nil when no bin can serve the size.
func (l *binList) removeAtLeast(words uint64) []uint64 {
	if words > maxBinWords {
		return nil
	}
	start := int(words) - minAllocWords
	if start < 0 {
		start = 0
	}
	for i := start; i < numBins; i++ {
		if n := len(l.bins[i]); n > 0 {
			p := l.bins[i][n-1]
			l.bins[i][n-1] = nil
			l.bins[i] = l.bins[i][:n-1]
			l.numBlocks--
			l.totalWords -= uint64(len(p))
			return p
		}
	}
	return nil
}
