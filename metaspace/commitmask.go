package metaspace

import (
	"fmt"

	"github.com/RoaringBitmap/roaring/v2"
)

// commitMask tracks which commit granules of one virtual space node are
// committed. One bit per granule; bit set means committed. The mask is the
// single source of truth for granule state, so commit charges stay idempotent
// when chunks sharing a granule commit independently.
//
// Not synchronized; the owning node serializes access.
type commitMask struct {
	bits         *roaring.Bitmap
	granuleWords uint64
	numGranules  uint32
}

func newCommitMask(sizeWords, granuleWords uint64) commitMask {
	if sizeWords%granuleWords != 0 {
		panic(fmt.Sprintf("metaspace: node size %d not granule aligned", sizeWords))
	}
	return commitMask{
		bits:         roaring.New(),
		granuleWords: granuleWords,
		numGranules:  uint32(sizeWords / granuleWords),
	}
}

// granuleRange converts a word range to the granule index range covering it.
func (m *commitMask) granuleRange(offsetWords, lenWords uint64) (first, last uint32) {
	first = uint32(offsetWords / m.granuleWords)
	last = uint32((offsetWords + lenWords + m.granuleWords - 1) / m.granuleWords)
	if last > m.numGranules {
		panic(fmt.Sprintf("metaspace: word range [%d +%d) beyond node mask",
			offsetWords, lenWords))
	}
	return first, last
}

func (m *commitMask) markCommitted(first, last uint32) {
	m.bits.AddRange(uint64(first), uint64(last))
}

func (m *commitMask) markUncommitted(first, last uint32) {
	m.bits.RemoveRange(uint64(first), uint64(last))
}

func (m *commitMask) isCommitted(g uint32) bool {
	return m.bits.Contains(g)
}

// committedInRange counts committed granules in [first, last).
func (m *commitMask) committedInRange(first, last uint32) uint32 {
	if first >= last {
		return 0
	}
	n := m.bits.Rank(last - 1)
	if first > 0 {
		n -= m.bits.Rank(first - 1)
	}
	return uint32(n)
}

// committedWords returns the total committed words in the node.
func (m *commitMask) committedWords() uint64 {
	return m.bits.GetCardinality() * m.granuleWords
}

// committedPrefixWords returns the length of the committed prefix of the word
// range [offsetWords, offsetWords+lenWords), capped at lenWords. The prefix is
// measured granule-wise: the range owns any leading granules whose bits are
// set, including a partial first granule.
func (m *commitMask) committedPrefixWords(offsetWords, lenWords uint64) uint64 {
	first, last := m.granuleRange(offsetWords, lenWords)
	g := first
	for g < last && m.isCommitted(g) {
		g++
	}
	if g == first {
		return 0
	}
	prefixEnd := uint64(g) * m.granuleWords
	if end := offsetWords + lenWords; prefixEnd > end {
		prefixEnd = end
	}
	return prefixEnd - offsetWords
}
