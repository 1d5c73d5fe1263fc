package metaspace

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/joshuapare/metakit/metaspace/chunklevel"
	"github.com/joshuapare/metakit/vmem"
)

// ChunkManager hands out metachunks to arenas and takes them back. It owns
// the reserved node list and the free chunk lists and is safe for use from
// multiple arenas at once.
//
// Chunks are handed out with a best effort commit: GetChunk tries to commit
// the wanted number of words but never fails because of the commit limit.
// Callers that need the words guaranteed check CommittedWords on the result
// and commit the remainder themselves, returning the chunk if that fails.
type ChunkManager struct {
	mu sync.Mutex

	geo                     *geometry
	uncommitFreeChunks      bool
	newChunksFullyCommitted bool

	vslist  *virtualSpaceList
	fcl     freeChunkListVector
	pool    *chunkHeaderPool
	limiter *CommitLimiter
	log     *slog.Logger
	stats   *internalStats
}

func newChunkManager(geo *geometry, mapper vmem.Mapper, limiter *CommitLimiter,
	s Settings, log *slog.Logger, stats *internalStats) *ChunkManager {

	pool := newChunkHeaderPool()
	return &ChunkManager{
		geo:                     geo,
		uncommitFreeChunks:      s.UncommitFreeChunks,
		newChunksFullyCommitted: s.NewChunksFullyCommitted,
		vslist:                  newVirtualSpaceList(geo, mapper, limiter, pool, log, stats),
		fcl:                     newFreeChunkListVector(geo),
		pool:                    pool,
		limiter:                 limiter,
		log:                     log,
		stats:                   stats,
	}
}

// GetChunk returns an in-use chunk with a level in [minLevel, preferred],
// trying to have at least wantedCommittedWords committed. The search order:
//
//  1. a free chunk between preferred and minLevel that already has the
//     wanted words committed
//  2. a free chunk of exactly the preferred level, any commit state
//  3. a free chunk above the preferred level, split down to preferred
//  4. a root chunk from a fresh or partly used node, split down to preferred
//
// Only reservation failure produces an error. A short commit does not: the
// returned chunk may carry fewer committed words than wanted when the commit
// limit is tight, and the caller decides whether that is fatal.
func (m *ChunkManager) GetChunk(preferred, minLevel chunklevel.Level, wantedCommittedWords uint64) (*Metachunk, error) {
	if !m.geo.ladder.IsValidLevel(preferred) || !m.geo.ladder.IsValidLevel(minLevel) ||
		preferred < minLevel {
		panic(fmt.Sprintf("metaspace: bad chunk request, preferred %d min %d", preferred, minLevel))
	}
	if wantedCommittedWords > m.geo.ladder.WordSize(minLevel) {
		panic(fmt.Sprintf("metaspace: wanted %d words exceed level %d capacity",
			wantedCommittedWords, minLevel))
	}

	c, err := m.getChunkLocked(preferred, minLevel, wantedCommittedWords)
	if err != nil {
		return nil, err
	}

	// Commit outside the manager lock. The chunk is in use and owned by the
	// caller now, so only the node mask lock is needed.
	target := wantedCommittedWords
	if m.newChunksFullyCommitted {
		target = c.Capacity()
	}
	if c.CommittedWords() < target {
		err := c.ensureCommitted(target)
		if err != nil && target > wantedCommittedWords {
			err = c.ensureCommitted(wantedCommittedWords)
		}
		if err != nil {
			m.log.Debug("metaspace: chunk handed out short of wanted commit",
				"level", c.Level(), "committed", c.CommittedWords(),
				"wanted", wantedCommittedWords)
		}
	}
	return c, nil
}

func (m *ChunkManager) getChunkLocked(preferred, minLevel chunklevel.Level, wantedCommittedWords uint64) (*Metachunk, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	c := m.fcl.searchCommitted(preferred, minLevel, wantedCommittedWords)
	if c == nil {
		c = m.fcl.takeFirstAtLevel(preferred)
	}
	if c == nil {
		if above := m.fcl.takeSplittableAbove(preferred); above != nil {
			above.area.split(above, preferred, &m.fcl)
			c = above
		}
	}
	if c == nil {
		root, err := m.vslist.allocateRootChunk()
		if err != nil {
			return nil, err
		}
		if preferred < m.geo.rootLevel() {
			root.area.split(root, preferred, &m.fcl)
		}
		c = root
	}

	c.state = chunkInUse
	m.stats.chunksTaken.Add(1)
	return c, nil
}

// ReturnChunk takes back a chunk an arena no longer needs. The chunk is
// merged with free buddies as far as possible and, if the result spans at
// least one commit granule and uncommit of free chunks is enabled, its
// memory is returned to the system.
func (m *ChunkManager) ReturnChunk(c *Metachunk) {
	if !c.IsInUse() {
		panic("metaspace: returning a chunk that is not in use")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	c.state = chunkFree
	c.usedWords = 0

	merged := c.area.merge(c, &m.fcl)
	if m.uncommitFreeChunks && merged.Capacity() >= m.geo.granuleWords &&
		merged.committedGranuleWords() > 0 {
		merged.uncommitWhole()
	}
	m.fcl.add(merged)
	m.stats.chunksReturned.Add(1)
}

// AttemptEnlargeChunk tries to double an in-use chunk in place by absorbing
// its free buddy. Returns true on success; the chunk's capacity has doubled,
// its used words are unchanged, and its committed watermark is recomputed
// over the doubled range, so it can rise when the absorbed buddy's granules
// were already committed.
func (m *ChunkManager) AttemptEnlargeChunk(c *Metachunk) bool {
	if !c.IsInUse() {
		panic("metaspace: enlarging a chunk that is not in use")
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	return c.area.attemptEnlarge(c, &m.fcl)
}

// Purge returns as much memory to the system as possible: every free chunk
// spanning at least one granule is uncommitted regardless of settings, and
// every node that no longer carries in-use chunks, except the active one,
// is unmapped entirely.
func (m *ChunkManager) Purge() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	// Uncommit free chunks first. Delist before touching the watermark so
	// the free list ordering invariant holds.
	var candidates []*Metachunk
	m.fcl.forEach(func(c *Metachunk) {
		if c.Capacity() >= m.geo.granuleWords && c.committedGranuleWords() > 0 {
			candidates = append(candidates, c)
		}
	})
	for _, c := range candidates {
		m.fcl.remove(c)
		c.uncommitWhole()
		m.fcl.add(c)
	}

	// Unmap nodes that hold no in-use chunks. The head node stays: it is the
	// one new root chunks come from.
	var releasable []*virtualSpaceNode
	m.vslist.forEach(func(n *virtualSpaceNode) {
		if n == m.vslist.first {
			return
		}
		idle := true
		for i := range n.areas {
			if !n.areas[i].isFullyFree() {
				idle = false
				break
			}
		}
		if idle {
			releasable = append(releasable, n)
		}
	})

	var firstErr error
	for _, n := range releasable {
		m.retireNodeChunks(n)
		m.vslist.remove(n)
		if err := n.release(); err != nil && firstErr == nil {
			firstErr = err
		}
	}

	m.stats.purges.Add(1)
	return firstErr
}

// TotalFreeWords returns the summed capacity of all free chunks.
func (m *ChunkManager) TotalFreeWords() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.fcl.totalWords()
}

// TotalCommittedFreeWords returns the committed words held in free chunks.
func (m *ChunkManager) TotalCommittedFreeWords() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.fcl.totalCommittedWords()
}

// NumFreeChunks returns the number of chunks in the free lists.
func (m *ChunkManager) NumFreeChunks() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.fcl.numChunks()
}

// FreeChunksAtLevel returns the number of free chunks of the given level.
func (m *ChunkManager) FreeChunksAtLevel(lv chunklevel.Level) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.fcl.chunksAtLevel(lv)
}

// ReservedWords returns the total reserved address space in words.
func (m *ChunkManager) ReservedWords() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.vslist.reservedWords()
}

// CommittedWords returns the total committed words across all nodes.
func (m *ChunkManager) CommittedWords() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.vslist.committedWords()
}

// NumNodes returns the number of reserved nodes.
func (m *ChunkManager) NumNodes() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.vslist.numNodes
}

// retireNodeChunks delists and recycles every chunk header of a node about
// to be unmapped. All of them must be free.
func (m *ChunkManager) retireNodeChunks(n *virtualSpaceNode) {
	for i := range n.areas {
		var headers []*Metachunk
		n.areas[i].forEachChunk(func(c *Metachunk) {
			if c.IsInUse() {
				panic("metaspace: unmapping a node with in-use chunks")
			}
			headers = append(headers, c)
		})
		for _, c := range headers {
			m.fcl.remove(c)
			m.pool.put(c)
		}
		n.areas[i].first = nil
	}
}

func (m *ChunkManager) releaseAll() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.vslist.forEach(func(n *virtualSpaceNode) { m.retireNodeChunks(n) })
	return m.vslist.releaseAll()
}
