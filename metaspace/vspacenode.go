package metaspace

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/joshuapare/metakit/vmem"
)

// virtualSpaceNode is one reserved address range, carved into root chunk
// areas. It owns the commit mask for its range; every commit and uncommit of
// words inside the node funnels through here so granule state, the mapper and
// the commit limiter stay consistent.
//
// The node mutex guards the mask and mapper calls. Structural fields (areas,
// nextArea, list linkage) are guarded by the chunk manager's lock.
type virtualSpaceNode struct {
	geo     *geometry
	res     vmem.Reservation
	limiter *CommitLimiter
	pool    *chunkHeaderPool
	log     *slog.Logger
	stats   *internalStats

	mu   sync.Mutex
	mask commitMask

	areas    []rootChunkArea
	nextArea int

	next *virtualSpaceNode
}

func newVirtualSpaceNode(geo *geometry, mapper vmem.Mapper, limiter *CommitLimiter,
	pool *chunkHeaderPool, log *slog.Logger, stats *internalStats) (*virtualSpaceNode, error) {

	res, err := mapper.Reserve(geo.nodeWords)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrReserveFailed, err)
	}

	n := &virtualSpaceNode{
		geo:     geo,
		res:     res,
		limiter: limiter,
		pool:    pool,
		log:     log,
		stats:   stats,
		mask:    newCommitMask(geo.nodeWords, geo.granuleWords),
		areas:   make([]rootChunkArea, geo.nodeWords/geo.rootChunkWords()),
	}
	for i := range n.areas {
		n.areas[i] = rootChunkArea{
			node:      n,
			baseWords: uint64(i) * geo.rootChunkWords(),
		}
	}
	stats.nodesCreated.Add(1)
	log.Debug("metaspace: reserved node",
		"words", geo.nodeWords, "rootChunks", len(n.areas))
	return n, nil
}

// allocateRootChunk hands out the next untouched root area's chunk, or nil
// when the node is exhausted. Runs under the chunk manager lock.
func (n *virtualSpaceNode) allocateRootChunk() *Metachunk {
	if n.nextArea >= len(n.areas) {
		return nil
	}
	area := &n.areas[n.nextArea]
	n.nextArea++
	return area.allocRootChunkHeader(n.pool)
}

// view returns the word slice for [offsetWords, offsetWords+lenWords).
func (n *virtualSpaceNode) view(offsetWords, lenWords uint64) []uint64 {
	return n.res.Words()[offsetWords : offsetWords+lenWords]
}

// ensureRangeCommitted commits every granule overlapping [offsetWords,
// offsetWords+lenWords) that is not committed yet. The limiter is charged for
// exactly the missing granules, all-or-nothing.
func (n *virtualSpaceNode) ensureRangeCommitted(offsetWords, lenWords uint64) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	gw := n.geo.granuleWords
	first, last := n.mask.granuleRange(offsetWords, lenWords)
	missing := uint64(last-first) - uint64(n.mask.committedInRange(first, last))
	if missing == 0 {
		return nil
	}
	needWords := missing * gw

	if !n.limiter.TryCommit(needWords) {
		n.log.Debug("metaspace: commit limit refused expansion",
			"wantedWords", needWords,
			"possibleWords", n.limiter.PossibleExpansionWords())
		return fmt.Errorf("%w: %d more words wanted, %d available",
			ErrCommitLimit, needWords, n.limiter.PossibleExpansionWords())
	}

	var committedRun uint64
	for g := first; g < last; {
		if n.mask.isCommitted(g) {
			g++
			continue
		}
		runEnd := g + 1
		for runEnd < last && !n.mask.isCommitted(runEnd) {
			runEnd++
		}
		if err := n.res.Commit(uint64(g)*gw, uint64(runEnd-g)*gw); err != nil {
			// Keep the charge for what was committed, refund the rest.
			n.limiter.Uncommit(needWords - committedRun)
			return fmt.Errorf("metaspace: commit of %d words failed: %w",
				uint64(runEnd-g)*gw, err)
		}
		n.mask.markCommitted(g, runEnd)
		committedRun += uint64(runEnd-g) * gw
		n.stats.commits.Add(1)
		g = runEnd
	}
	return nil
}

// uncommitRange returns the physical memory of a granule-aligned range and
// refunds the limiter. Failures here are invariant violations: the range is
// valid, reserved and owned.
func (n *virtualSpaceNode) uncommitRange(offsetWords, lenWords uint64) {
	if offsetWords%n.geo.granuleWords != 0 || lenWords%n.geo.granuleWords != 0 {
		panic(fmt.Sprintf("metaspace: uncommit range [%d +%d) not granule aligned",
			offsetWords, lenWords))
	}

	n.mu.Lock()
	defer n.mu.Unlock()

	gw := n.geo.granuleWords
	first, last := n.mask.granuleRange(offsetWords, lenWords)
	var freedWords uint64
	for g := first; g < last; {
		if !n.mask.isCommitted(g) {
			g++
			continue
		}
		runEnd := g + 1
		for runEnd < last && n.mask.isCommitted(runEnd) {
			runEnd++
		}
		if err := n.res.Uncommit(uint64(g)*gw, uint64(runEnd-g)*gw); err != nil {
			panic(fmt.Sprintf("metaspace: uncommit of granules [%d,%d) failed: %v",
				g, runEnd, err))
		}
		n.mask.markUncommitted(g, runEnd)
		freedWords += uint64(runEnd-g) * gw
		n.stats.uncommits.Add(1)
		g = runEnd
	}
	if freedWords > 0 {
		n.limiter.Uncommit(freedWords)
	}
}

// commitShortfallWords returns how many words the limiter would be charged
// to commit [offsetWords, offsetWords+lenWords).
func (n *virtualSpaceNode) commitShortfallWords(offsetWords, lenWords uint64) uint64 {
	n.mu.Lock()
	defer n.mu.Unlock()
	first, last := n.mask.granuleRange(offsetWords, lenWords)
	missing := uint64(last-first) - uint64(n.mask.committedInRange(first, last))
	return missing * n.geo.granuleWords
}

// committedWordsInRange returns the committed words inside [offsetWords,
// offsetWords+lenWords), counting whole granules anywhere in the range, not
// just the leading prefix.
func (n *virtualSpaceNode) committedWordsInRange(offsetWords, lenWords uint64) uint64 {
	n.mu.Lock()
	defer n.mu.Unlock()
	first, last := n.mask.granuleRange(offsetWords, lenWords)
	return uint64(n.mask.committedInRange(first, last)) * n.geo.granuleWords
}

// committedPrefixWords answers watermark recomputation queries from chunks.
func (n *virtualSpaceNode) committedPrefixWords(offsetWords, lenWords uint64) uint64 {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.mask.committedPrefixWords(offsetWords, lenWords)
}

// committedWords returns the node's total committed words.
func (n *virtualSpaceNode) committedWords() uint64 {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.mask.committedWords()
}

func (n *virtualSpaceNode) reservedWords() uint64 {
	return n.res.Size()
}

// release unmaps the node and refunds any words still charged. Runs under
// the chunk manager lock when the node's chunks are all free and delisted.
func (n *virtualSpaceNode) release() error {
	n.mu.Lock()
	remaining := n.mask.committedWords()
	if remaining > 0 {
		n.mask.markUncommitted(0, n.mask.numGranules)
		n.limiter.Uncommit(remaining)
	}
	n.mu.Unlock()

	n.stats.nodesReleased.Add(1)
	n.log.Debug("metaspace: released node", "words", n.reservedWords())
	if err := n.res.Release(); err != nil {
		return fmt.Errorf("metaspace: node release: %w", err)
	}
	return nil
}
