package metaspace

import "sort"

// freeBlocks is an arena's store of deallocated and salvaged blocks. Small
// blocks live in size-indexed bins, larger ones in a slice kept sorted by
// size. Blocks never leave the arena through this structure; they are only
// recycled into later allocations.
//
// Every stored block has len == cap, which is how block sizes survive the
// round trip through the caller.
type freeBlocks struct {
	bins       binList
	large      [][]uint64
	largeWords uint64
}

func newFreeBlocks() *freeBlocks {
	return &freeBlocks{}
}

func (f *freeBlocks) add(p []uint64) {
	n := len(p)
	if n < minAllocWords {
		panic("metaspace: free block below minimum size")
	}
	if n <= maxBinWords {
		f.bins.add(p)
		return
	}
	i := sort.Search(len(f.large), func(i int) bool { return len(f.large[i]) >= n })
	f.large = append(f.large, nil)
	copy(f.large[i+1:], f.large[i:])
	f.large[i] = p
	f.largeWords += uint64(n)
}

// removeBlock returns a block of exactly rawWords, or nil. A larger donor
// block is split, with remainders of at least minAllocWords re-added; a
// sub-minimum remainder stays absorbed in the returned block's shadow and
// is written off.
func (f *freeBlocks) removeBlock(rawWords uint64) []uint64 {
	if rawWords < minAllocWords {
		panic("metaspace: block request below minimum size")
	}

	block := f.bins.removeAtLeast(rawWords)
	if block == nil && len(f.large) > 0 {
		i := sort.Search(len(f.large), func(i int) bool {
			return uint64(len(f.large[i])) >= rawWords
		})
		if i < len(f.large) {
			block = f.large[i]
			copy(f.large[i:], f.large[i+1:])
			f.large[len(f.large)-1] = nil
			f.large = f.large[:len(f.large)-1]
			f.largeWords -= uint64(len(block))
		}
	}
	if block == nil {
		return nil
	}

	if rem := uint64(len(block)) - rawWords; rem >= minAllocWords {
		f.add(block[rawWords:])
	}
	return block[:rawWords:rawWords]
}

func (f *freeBlocks) totalWords() uint64 {
	return f.bins.totalWords + f.largeWords
}

func (f *freeBlocks) numBlocks() int {
	return f.bins.numBlocks + len(f.large)
}

func (f *freeBlocks) isEmpty() bool {
	return f.numBlocks() == 0
}
