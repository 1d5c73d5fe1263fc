// Package chunklevel defines the geometric ladder of chunk sizes used by the
// metaspace allocator.
//
// Chunk sizes are powers of two between a smallest and a largest bound. Each
// rung of the ladder is a Level: level 0 is the smallest chunk size, and every
// following level doubles it, up to the root level (the largest chunk, the
// unit in which address space is carved out of a reservation).
package chunklevel

import (
	"errors"
	"fmt"
	"math/bits"
)

// Level indexes the chunk size ladder. Level 0 is the smallest chunk size;
// levels ascend by doubling up to the root (largest) chunk.
type Level int

// Default ladder bounds, in 8-byte words: 1 KiB up to 4 MiB chunks.
const (
	DefaultSmallestChunkWords uint64 = 128
	DefaultLargestChunkWords  uint64 = 512 * 1024
)

// ErrBadBounds indicates ladder bounds that are not powers of two or are
// mis-ordered.
var ErrBadBounds = errors.New("chunklevel: bounds must be powers of two with smallest <= largest")

// Ladder maps levels to chunk word sizes. It is immutable after construction.
type Ladder struct {
	smallestWords uint64
	numLevels     int
}

// NewLadder builds a ladder from the smallest and largest chunk sizes in
// words. Both must be powers of two, smallest at least 64 words.
func NewLadder(smallestWords, largestWords uint64) (Ladder, error) {
	switch {
	case smallestWords < 64,
		bits.OnesCount64(smallestWords) != 1,
		bits.OnesCount64(largestWords) != 1,
		largestWords < smallestWords:
		return Ladder{}, fmt.Errorf("%w: smallest=%d largest=%d",
			ErrBadBounds, smallestWords, largestWords)
	}
	num := bits.Len64(largestWords/smallestWords-1) + 1
	return Ladder{smallestWords: smallestWords, numLevels: num}, nil
}

// DefaultLadder returns the 13-level default ladder (1 KiB .. 4 MiB chunks).
func DefaultLadder() Ladder {
	l, err := NewLadder(DefaultSmallestChunkWords, DefaultLargestChunkWords)
	if err != nil {
		panic(err)
	}
	return l
}

// NumLevels returns the number of rungs in the ladder.
func (l Ladder) NumLevels() int { return l.numLevels }

// RootLevel returns the level of the largest chunk.
func (l Ladder) RootLevel() Level { return Level(l.numLevels - 1) }

// SmallestChunkWords returns the word size of a level-0 chunk.
func (l Ladder) SmallestChunkWords() uint64 { return l.smallestWords }

// LargestChunkWords returns the word size of a root chunk.
func (l Ladder) LargestChunkWords() uint64 { return l.WordSize(l.RootLevel()) }

// IsValidLevel reports whether lv is a rung of this ladder.
func (l Ladder) IsValidLevel(lv Level) bool {
	return lv >= 0 && int(lv) < l.numLevels
}

// WordSize returns the chunk word size at level lv. Panics when lv is not a
// rung of this ladder.
func (l Ladder) WordSize(lv Level) uint64 {
	if !l.IsValidLevel(lv) {
		panic(fmt.Sprintf("chunklevel: level %d outside ladder [0..%d]", lv, l.numLevels-1))
	}
	return l.smallestWords << uint(lv)
}

// LevelFitting returns the smallest level whose chunk holds words. The second
// return is false when words exceeds the root chunk size.
func (l Ladder) LevelFitting(words uint64) (Level, bool) {
	if words > l.LargestChunkWords() {
		return 0, false
	}
	if words <= l.smallestWords {
		return 0, true
	}
	q := (words + l.smallestWords - 1) / l.smallestWords
	return Level(bits.Len64(q - 1)), true
}
