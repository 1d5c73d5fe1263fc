package metaspace

import (
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
)

// SpaceManager is an arena allocator over metachunks. It serves word-granular
// allocations from a current chunk, pulls progressively larger chunks from
// the chunk manager as demand grows, and recycles deallocated blocks and
// retired chunk tails through a free block store.
//
// A space manager is tied to one owner and serializes itself on the lock the
// owner hands in at creation, so the owner can share that lock with its own
// bookkeeping. All memory the manager ever handed out becomes invalid when
// Destroy returns the chunks to the chunk manager.
//
// Failed allocations have no effect: used, committed and capacity read the
// same before and after.
type SpaceManager struct {
	name string
	lock sync.Locker

	cm             *ChunkManager
	policy         GrowthPolicy
	geo            *geometry
	enlargeInPlace bool

	usedCounter *SizeCounter
	live        *atomic.Int64
	log         *slog.Logger
	stats       *internalStats

	chunks    chunkList
	fbl       *freeBlocks
	guards    *guardLedger
	destroyed bool
}

func newSpaceManager(name string, kind ArenaKind, classData bool, lock sync.Locker,
	usedCounter *SizeCounter, live *atomic.Int64, cm *ChunkManager,
	policies *growthPolicySet, geo *geometry, s Settings,
	log *slog.Logger, stats *internalStats) *SpaceManager {

	sm := &SpaceManager{
		name:           name,
		lock:           lock,
		cm:             cm,
		policy:         policies.policyFor(kind, classData),
		geo:            geo,
		enlargeInPlace: s.EnlargeChunksInPlace,
		usedCounter:    usedCounter,
		live:           live,
		log:            log.With("arena", name),
		stats:          stats,
		fbl:            newFreeBlocks(),
	}
	if s.UseAllocationGuards {
		sm.guards = newGuardLedger()
	}
	stats.arenasCreated.Add(1)
	live.Add(1)
	return sm
}

// Name returns the owner-chosen arena name.
func (s *SpaceManager) Name() string { return s.name }

// rawWordSize is the block size actually carved out for a request: at least
// the tracking minimum, plus one word for the guard canary when guards are on.
func (s *SpaceManager) rawWordSize(words uint64) uint64 {
	raw := words
	if raw < minAllocWords {
		raw = minAllocWords
	}
	if s.guards != nil {
		raw++
	}
	return raw
}

// Allocate returns a block of at least words words. The block stays valid
// until it is deallocated or the arena is destroyed. Allocation fails with
// ErrTooLarge when the request exceeds the largest chunk, or ErrCommitLimit
// when the commit limiter cannot cover it; a failed allocation leaves the
// arena's usage numbers untouched.
func (s *SpaceManager) Allocate(words uint64) ([]uint64, error) {
	s.lock.Lock()
	defer s.lock.Unlock()

	if s.destroyed {
		panic("metaspace: allocate from destroyed arena " + s.name)
	}

	raw := s.rawWordSize(words)
	if raw > s.geo.ladder.LargestChunkWords() {
		s.stats.allocsFailed.Add(1)
		return nil, fmt.Errorf("%w: %d words", ErrTooLarge, words)
	}

	if block := s.fbl.removeBlock(raw); block != nil {
		s.stats.allocs.Add(1)
		s.stats.allocsFromBlocks.Add(1)
		return s.finishBlock(block, words), nil
	}

	block, err := s.allocateFromChunks(raw)
	if err != nil {
		s.stats.allocsFailed.Add(1)
		return nil, err
	}
	s.usedCounter.Add(raw)
	s.stats.allocs.Add(1)
	return s.finishBlock(block, words), nil
}

func (s *SpaceManager) finishBlock(block []uint64, words uint64) []uint64 {
	if s.guards != nil {
		s.guards.arm(block)
	}
	return block[:words]
}

// allocateFromChunks serves raw words from the current chunk, enlarging it
// in place when that is enough, and otherwise moves to a fresh chunk.
func (s *SpaceManager) allocateFromChunks(raw uint64) ([]uint64, error) {
	current := s.chunks.first
	if current != nil {
		if block := s.allocateFromCurrent(current, raw); block != nil {
			return block, nil
		}
	}

	fit, ok := s.geo.ladder.LevelFitting(raw)
	if !ok {
		return nil, fmt.Errorf("%w: %d words", ErrTooLarge, raw)
	}
	preferred := s.policy.LevelAtStep(s.chunks.count)
	if preferred < fit {
		preferred = fit
	}

	c, err := s.cm.GetChunk(preferred, fit, raw)
	if err != nil {
		return nil, err
	}
	if c.CommittedWords() < raw {
		// The manager handed the chunk out short. Without the words under
		// commit the allocation cannot proceed, so give the chunk back and
		// leave the arena exactly as it was.
		if err := c.ensureCommitted(raw); err != nil {
			s.cm.ReturnChunk(c)
			return nil, err
		}
	}

	if current != nil {
		s.retireCurrent(current)
	}
	s.chunks.add(c)
	s.log.Debug("metaspace: took new chunk",
		"level", c.Level(), "capacityWords", c.Capacity(),
		"committedWords", c.CommittedWords(), "numChunks", s.chunks.count)
	return c.allocate(raw), nil
}

func (s *SpaceManager) allocateFromCurrent(c *Metachunk, raw uint64) []uint64 {
	if c.FreeWords() < raw && !s.attemptEnlargeCurrent(c, raw) {
		return nil
	}
	if err := c.ensureCommittedAdditional(raw); err != nil {
		s.log.Debug("metaspace: current chunk commit refused", "err", err)
		return nil
	}
	return c.allocate(raw)
}

// attemptEnlargeCurrent tries to double the current chunk in place instead
// of retiring it. Only worth it when the doubled chunk would actually hold
// the request.
func (s *SpaceManager) attemptEnlargeCurrent(c *Metachunk, raw uint64) bool {
	if !s.enlargeInPlace {
		return false
	}
	if c.Level() == s.geo.rootLevel() {
		return false
	}
	if c.FreeWords()+c.Capacity() < raw {
		return false
	}
	// An enlargement cannot be undone. Skip it when committing the grown
	// range would bounce off the limit, or a failed allocation would leave
	// the arena's capacity changed.
	if c.commitShortfallWords(c.UsedWords()+raw) > s.cm.limiter.PossibleExpansionWords() {
		return false
	}
	if !s.cm.AttemptEnlargeChunk(c) {
		return false
	}
	s.log.Debug("metaspace: enlarged current chunk in place",
		"level", c.Level(), "capacityWords", c.Capacity())
	return true
}

// retireCurrent salvages the committed tail of the outgoing current chunk
// into the free block store so the words are not lost to fragmentation.
func (s *SpaceManager) retireCurrent(c *Metachunk) {
	if rem := c.FreeBelowCommittedWords(); rem >= minAllocWords {
		s.fbl.add(c.allocate(rem))
		s.usedCounter.Add(rem)
	}
	s.stats.chunksRetired.Add(1)
}

// Deallocate returns a block obtained from Allocate for reuse by later
// allocations. The arena's used words do not shrink; the block's words are
// recycled arena-internally.
func (s *SpaceManager) Deallocate(p []uint64) {
	s.lock.Lock()
	defer s.lock.Unlock()

	if s.destroyed {
		panic("metaspace: deallocate into destroyed arena " + s.name)
	}
	if cap(p) == 0 {
		return
	}

	block := p[:s.rawWordSize(uint64(len(p)))]
	if s.guards != nil {
		s.guards.disarm(block)
	}
	s.fbl.add(block)
	s.stats.deallocs.Add(1)
}

// UsageNumbers returns the arena's used, committed and capacity words by
// walking its owned chunks.
func (s *SpaceManager) UsageNumbers() (usedWords, committedWords, capacityWords uint64) {
	s.lock.Lock()
	defer s.lock.Unlock()

	s.chunks.forEach(func(c *Metachunk) {
		usedWords += c.UsedWords()
		committedWords += c.CommittedWords()
		capacityWords += c.Capacity()
	})
	return
}

// VerifyAllocationGuards sweeps all live guarded blocks and returns
// ErrGuardCorrupt if any canary was overwritten. A no-op without guards.
func (s *SpaceManager) VerifyAllocationGuards() error {
	s.lock.Lock()
	defer s.lock.Unlock()

	if s.guards == nil {
		return nil
	}
	return s.guards.verifyAll()
}

// Destroy returns every owned chunk to the chunk manager and invalidates all
// memory the arena ever handed out. Any further use of the arena panics.
func (s *SpaceManager) Destroy() {
	s.lock.Lock()
	defer s.lock.Unlock()

	if s.destroyed {
		panic("metaspace: arena " + s.name + " destroyed twice")
	}
	s.destroyed = true

	var used uint64
	s.chunks.removeAll(func(c *Metachunk) {
		used += c.UsedWords()
		s.cm.ReturnChunk(c)
	})
	if used > 0 {
		s.usedCounter.Sub(used)
	}
	s.fbl = nil
	s.guards = nil
	s.live.Add(-1)
	s.stats.arenasDestroyed.Add(1)
	s.log.Debug("metaspace: destroyed arena", "usedWords", used)
}

// Close destroys the arena if it is still live. It implements io.Closer so
// arenas slot into resource-cleanup helpers.
func (s *SpaceManager) Close() error {
	s.lock.Lock()
	destroyed := s.destroyed
	s.lock.Unlock()

	if !destroyed {
		s.Destroy()
	}
	return nil
}
