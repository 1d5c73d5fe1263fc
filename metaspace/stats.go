package metaspace

import "sync/atomic"

// internalStats counts engine events. Counters are monotonically increasing
// and safe to bump from any goroutine; they exist for tests, the reporter and
// metactl, never for control flow.
type internalStats struct {
	allocs           atomic.Uint64
	allocsFailed     atomic.Uint64
	allocsFromBlocks atomic.Uint64
	deallocs         atomic.Uint64

	chunksTaken    atomic.Uint64
	chunksReturned atomic.Uint64
	chunksSplit    atomic.Uint64
	chunksMerged   atomic.Uint64
	chunksEnlarged atomic.Uint64
	chunksRetired  atomic.Uint64

	commits   atomic.Uint64 // granule-range commit operations
	uncommits atomic.Uint64

	nodesCreated  atomic.Uint64
	nodesReleased atomic.Uint64
	purges        atomic.Uint64

	arenasCreated   atomic.Uint64
	arenasDestroyed atomic.Uint64
}

// InternalStats is a point-in-time snapshot of the engine event counters.
type InternalStats struct {
	Allocs           uint64 // successful arena allocations
	AllocsFailed     uint64 // allocations that returned an error
	AllocsFromBlocks uint64 // allocations served by deallocated-block reuse
	Deallocs         uint64 // Deallocate calls

	ChunksTaken    uint64 // chunks handed to arenas
	ChunksReturned uint64 // chunks returned to the free lists
	ChunksSplit    uint64 // buddy splits
	ChunksMerged   uint64 // buddy merges
	ChunksEnlarged uint64 // in-place enlargements
	ChunksRetired  uint64 // current chunks replaced while partially used

	Commits   uint64 // granule-range commit operations
	Uncommits uint64 // granule-range uncommit operations

	NodesCreated  uint64 // address-space reservations created
	NodesReleased uint64 // reservations released by purge
	Purges        uint64 // Purge calls

	ArenasCreated   uint64
	ArenasDestroyed uint64
}

func (s *internalStats) snapshot() InternalStats {
	return InternalStats{
		Allocs:           s.allocs.Load(),
		AllocsFailed:     s.allocsFailed.Load(),
		AllocsFromBlocks: s.allocsFromBlocks.Load(),
		Deallocs:         s.deallocs.Load(),
		ChunksTaken:      s.chunksTaken.Load(),
		ChunksReturned:   s.chunksReturned.Load(),
		ChunksSplit:      s.chunksSplit.Load(),
		ChunksMerged:     s.chunksMerged.Load(),
		ChunksEnlarged:   s.chunksEnlarged.Load(),
		ChunksRetired:    s.chunksRetired.Load(),
		Commits:          s.commits.Load(),
		Uncommits:        s.uncommits.Load(),
		NodesCreated:     s.nodesCreated.Load(),
		NodesReleased:    s.nodesReleased.Load(),
		Purges:           s.purges.Load(),
		ArenasCreated:    s.arenasCreated.Load(),
		ArenasDestroyed:  s.arenasDestroyed.Load(),
	}
}
