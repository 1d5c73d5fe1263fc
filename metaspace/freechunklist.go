package metaspace

import "github.com/joshuapare/metakit/metaspace/chunklevel"

// freeChunkList holds the free chunks of one level. Chunks with committed
// words sit at the front, fully uncommitted chunks at the back, so takers
// that care about committed content find it first.
//
// A chunk's committed watermark never changes while it is listed.
type freeChunkList struct {
	first, last    *Metachunk
	numChunks      int
	committedWords uint64
}

func (l *freeChunkList) add(c *Metachunk) {
	if c.committedWords > 0 {
		c.prev = nil
		c.next = l.first
		if l.first != nil {
			l.first.prev = c
		}
		l.first = c
		if l.last == nil {
			l.last = c
		}
	} else {
		c.next = nil
		c.prev = l.last
		if l.last != nil {
			l.last.next = c
		}
		l.last = c
		if l.first == nil {
			l.first = c
		}
	}
	l.numChunks++
	l.committedWords += c.committedWords
}

func (l *freeChunkList) remove(c *Metachunk) {
	if c.prev != nil {
		c.prev.next = c.next
	} else {
		l.first = c.next
	}
	if c.next != nil {
		c.next.prev = c.prev
	} else {
		l.last = c.prev
	}
	c.prev, c.next = nil, nil
	l.numChunks--
	l.committedWords -= c.committedWords
}

// firstWithCommittedAtLeast returns the first chunk whose committed watermark
// covers words, or nil.
func (l *freeChunkList) firstWithCommittedAtLeast(words uint64) *Metachunk {
	for c := l.first; c != nil; c = c.next {
		if c.committedWords >= words {
			return c
		}
		if c.committedWords == 0 {
			// Committed chunks sit in front; nothing further can match.
			return nil
		}
	}
	return nil
}

// freeChunkListVector indexes free chunk lists by level.
type freeChunkListVector struct {
	geo   *geometry
	lists []freeChunkList
}

func newFreeChunkListVector(geo *geometry) freeChunkListVector {
	return freeChunkListVector{
		geo:   geo,
		lists: make([]freeChunkList, geo.ladder.NumLevels()),
	}
}

func (v *freeChunkListVector) add(c *Metachunk) {
	c.state = chunkFree
	v.lists[c.level].add(c)
}

func (v *freeChunkListVector) remove(c *Metachunk) {
	v.lists[c.level].remove(c)
}

// takeFirstAtLevel removes and returns any free chunk at exactly lv.
func (v *freeChunkListVector) takeFirstAtLevel(lv chunklevel.Level) *Metachunk {
	l := &v.lists[lv]
	c := l.first
	if c != nil {
		l.remove(c)
	}
	return c
}

// searchCommitted scans levels from preferred down to minLevel for a free
// chunk with at least wanted committed words, removing and returning the
// first hit. Larger acceptable chunks win ties.
func (v *freeChunkListVector) searchCommitted(preferred, minLevel chunklevel.Level, wanted uint64) *Metachunk {
	for lv := preferred; lv >= minLevel; lv-- {
		if c := v.lists[lv].firstWithCommittedAtLeast(wanted); c != nil {
			v.lists[lv].remove(c)
			return c
		}
	}
	return nil
}

// takeSplittableAbove removes and returns a free chunk at the smallest level
// above lv, or nil if none exists.
func (v *freeChunkListVector) takeSplittableAbove(lv chunklevel.Level) *Metachunk {
	for above := lv + 1; int(above) < len(v.lists); above++ {
		if c := v.takeFirstAtLevel(above); c != nil {
			return c
		}
	}
	return nil
}

func (v *freeChunkListVector) numChunks() int {
	n := 0
	for i := range v.lists {
		n += v.lists[i].numChunks
	}
	return n
}

func (v *freeChunkListVector) totalWords() uint64 {
	var words uint64
	for i := range v.lists {
		words += uint64(v.lists[i].numChunks) * v.geo.ladder.WordSize(chunklevel.Level(i))
	}
	return words
}

func (v *freeChunkListVector) totalCommittedWords() uint64 {
	var words uint64
	for i := range v.lists {
		words += v.lists[i].committedWords
	}
	return words
}

func (v *freeChunkListVector) chunksAtLevel(lv chunklevel.Level) int {
	if int(lv) >= len(v.lists) {
		return 0
	}
	return v.lists[lv].numChunks
}

// forEach visits every listed chunk. The callback must not add or remove
// chunks; collect first if mutation is needed.
func (v *freeChunkListVector) forEach(fn func(*Metachunk)) {
	for i := range v.lists {
		for c := v.lists[i].first; c != nil; c = c.next {
			fn(c)
		}
	}
}
