package metaspace

import (
	"fmt"
	"sync"

	"github.com/joshuapare/metakit/metaspace/chunklevel"
)

// chunkState tracks where a chunk header is in its lifecycle.
type chunkState uint8

const (
	chunkDead  chunkState = iota // header pooled, no backing range
	chunkFree                    // on a free list, used == 0
	chunkInUse                   // owned by exactly one arena
)

func (s chunkState) String() string {
	switch s {
	case chunkDead:
		return "dead"
	case chunkFree:
		return "free"
	case chunkInUse:
		return "in-use"
	}
	return "invalid"
}

// Metachunk is one power-of-two slice of a virtual space node. Its identity
// is (node, base offset, level); capacity is implied by the level. Two
// watermarks track its content: used grows only by allocation, committed
// grows granule-wise and never shrinks while the chunk is in use.
//
// Invariant: used <= committed <= capacity.
type Metachunk struct {
	node *virtualSpaceNode
	area *rootChunkArea

	baseWords uint64
	level     chunklevel.Level
	state     chunkState

	usedWords      uint64
	committedWords uint64

	// Linkage in whichever list holds the chunk: a per-level free list when
	// free, the owning arena's chunk list when in use.
	prev, next *Metachunk

	// Address-ordered neighbors within the root chunk area. The chunks of an
	// area tile its range with no holes.
	prevInArea, nextInArea *Metachunk
}

// Level returns the chunk's rung on the size ladder.
func (c *Metachunk) Level() chunklevel.Level { return c.level }

// Capacity returns the chunk size in words.
func (c *Metachunk) Capacity() uint64 {
	return c.node.geo.ladder.WordSize(c.level)
}

// UsedWords returns the allocation watermark.
func (c *Metachunk) UsedWords() uint64 { return c.usedWords }

// CommittedWords returns the committed prefix length.
func (c *Metachunk) CommittedWords() uint64 { return c.committedWords }

// FreeWords returns capacity minus used.
func (c *Metachunk) FreeWords() uint64 { return c.Capacity() - c.usedWords }

// FreeBelowCommittedWords returns the committed words not yet allocated.
func (c *Metachunk) FreeBelowCommittedWords() uint64 {
	return c.committedWords - c.usedWords
}

// IsFree reports whether the chunk sits on a free list.
func (c *Metachunk) IsFree() bool { return c.state == chunkFree }

// IsInUse reports whether an arena owns the chunk.
func (c *Metachunk) IsInUse() bool { return c.state == chunkInUse }

func (c *Metachunk) String() string {
	return fmt.Sprintf("chunk[base=%d lv=%d cap=%d used=%d committed=%d %s]",
		c.baseWords, c.level, c.Capacity(), c.usedWords, c.committedWords, c.state)
}

// endWords returns the word offset one past the chunk in its node.
func (c *Metachunk) endWords() uint64 { return c.baseWords + c.Capacity() }

// isLeader reports whether the chunk is the lower half of its buddy pair.
// Root chunks have no buddy and are never leaders.
func (c *Metachunk) isLeader() bool {
	if c.level == c.node.geo.rootLevel() {
		return false
	}
	return (c.baseWords-c.area.baseWords)%(2*c.Capacity()) == 0
}

// words returns the chunk's full backing range. Only the committed prefix may
// be touched.
func (c *Metachunk) words() []uint64 {
	return c.node.view(c.baseWords, c.Capacity())
}

// allocate bumps the used watermark by raw words and returns the block. The
// caller guarantees fit and commit coverage; violations are bugs.
func (c *Metachunk) allocate(raw uint64) []uint64 {
	if c.state != chunkInUse {
		panic("metaspace: allocate from " + c.String())
	}
	if c.usedWords+raw > c.committedWords {
		panic(fmt.Sprintf("metaspace: allocate %d beyond committed watermark of %s", raw, c))
	}
	block := c.words()[c.usedWords : c.usedWords+raw : c.usedWords+raw]
	c.usedWords += raw
	return block
}

// ensureCommitted extends the committed prefix to cover at least targetWords
// (capped at capacity). The commit happens in whole granules through the
// node; on success the watermark advances to the granule boundary actually
// reached.
func (c *Metachunk) ensureCommitted(targetWords uint64) error {
	capWords := c.Capacity()
	if targetWords > capWords {
		targetWords = capWords
	}
	if targetWords <= c.committedWords {
		return nil
	}
	if err := c.node.ensureRangeCommitted(c.baseWords, targetWords); err != nil {
		return err
	}
	reached := alignUpWords(c.baseWords+targetWords, c.node.geo.granuleWords)
	if end := c.endWords(); reached > end {
		reached = end
	}
	c.committedWords = reached - c.baseWords
	return nil
}

// ensureCommittedAdditional extends the committed prefix far enough for raw
// more words of allocation.
func (c *Metachunk) ensureCommittedAdditional(raw uint64) error {
	return c.ensureCommitted(c.usedWords + raw)
}

// commitShortfallWords returns the words the limiter would be charged to
// extend the committed prefix to targetWords. Unlike ensureCommitted it does
// not cap the target at the current capacity, so callers can ask about a
// pending enlargement.
func (c *Metachunk) commitShortfallWords(targetWords uint64) uint64 {
	if targetWords <= c.committedWords {
		return 0
	}
	return c.node.commitShortfallWords(c.baseWords, targetWords)
}

// uncommitWhole releases the chunk's physical memory. Only valid for free
// chunks whose range is granule-aligned.
func (c *Metachunk) uncommitWhole() {
	if c.state != chunkFree || c.usedWords != 0 {
		panic("metaspace: uncommit of " + c.String())
	}
	c.node.uncommitRange(c.baseWords, c.Capacity())
	c.committedWords = 0
}

// committedGranuleWords returns the committed words anywhere in the chunk's
// range. The committed watermark is a prefix measure and can read zero while
// interior granules still hold memory, for example after a merge behind an
// uncommitted leader; reclaim decisions must ask the mask, not the watermark.
func (c *Metachunk) committedGranuleWords() uint64 {
	return c.node.committedWordsInRange(c.baseWords, c.Capacity())
}

// refreshCommittedWatermark recomputes the committed prefix from the node's
// commit mask. Used after split, merge and enlarge, where the range changes.
func (c *Metachunk) refreshCommittedWatermark() {
	c.committedWords = c.node.committedPrefixWords(c.baseWords, c.Capacity())
}

// ============================================================================
// Header pool
// ============================================================================

// chunkHeaderPool recycles Metachunk headers across split and merge cycles.
type chunkHeaderPool struct {
	pool sync.Pool
}

func newChunkHeaderPool() *chunkHeaderPool {
	return &chunkHeaderPool{pool: sync.Pool{
		New: func() any { return &Metachunk{} },
	}}
}

func (p *chunkHeaderPool) get() *Metachunk {
	c, ok := p.pool.Get().(*Metachunk)
	if !ok {
		return &Metachunk{}
	}
	return c
}

func (p *chunkHeaderPool) put(c *Metachunk) {
	*c = Metachunk{state: chunkDead}
	p.pool.Put(c)
}

// ============================================================================
// Owned-chunk list
// ============================================================================

// chunkList is the arena-side list of owned chunks. The head is the current
// chunk; retired chunks follow in reverse acquisition order.
type chunkList struct {
	first *Metachunk
	count int
}

func (l *chunkList) add(c *Metachunk) {
	c.prev = nil
	c.next = l.first
	if l.first != nil {
		l.first.prev = c
	}
	l.first = c
	l.count++
}

// removeAll unlinks every chunk and hands it to fn.
func (l *chunkList) removeAll(fn func(*Metachunk)) {
	for c := l.first; c != nil; {
		next := c.next
		c.prev, c.next = nil, nil
		fn(c)
		c = next
	}
	l.first = nil
	l.count = 0
}

func (l *chunkList) forEach(fn func(*Metachunk)) {
	for c := l.first; c != nil; c = c.next {
		fn(c)
	}
}
