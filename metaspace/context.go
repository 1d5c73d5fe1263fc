package metaspace

import (
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/joshuapare/metakit/vmem"
)

// Context owns one metaspace instance: the reserved address space, the chunk
// manager, the commit limiter and the growth policies. Arenas created from
// the same context compete for its commit budget and recycle chunks through
// its free lists.
//
// A context is safe for concurrent use. Arenas serialize themselves on their
// own locks; the chunk manager and limiter carry their own synchronization.
type Context struct {
	settings Settings
	geo      geometry
	limiter  *CommitLimiter
	cm       *ChunkManager
	policies *growthPolicySet
	log      *slog.Logger
	stats    internalStats

	liveArenas atomic.Int64
	closed     atomic.Bool
}

// NewContext validates the settings and reserves nothing yet; address space
// is reserved lazily when the first chunk is requested.
func NewContext(s Settings) (*Context, error) {
	ladder, err := s.validate()
	if err != nil {
		return nil, err
	}
	if s.Logger == nil {
		s.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if s.Mapper == nil {
		s.Mapper = vmem.NewSystemMapper()
	}

	ctx := &Context{
		settings: s,
		geo: geometry{
			ladder:       ladder,
			granuleWords: s.CommitGranuleWords,
			nodeWords:    ladder.LargestChunkWords() * uint64(s.NodeRootChunks),
		},
		limiter:  NewCommitLimiter(s.CommitLimitWords),
		policies: newGrowthPolicySet(ladder),
		log:      s.Logger,
	}
	ctx.cm = newChunkManager(&ctx.geo, s.Mapper, ctx.limiter, s, ctx.log, &ctx.stats)

	ctx.log.Debug("metaspace: context ready",
		"granuleWords", ctx.geo.granuleWords,
		"nodeWords", ctx.geo.nodeWords,
		"commitLimitWords", ctx.limiter.CapWords())
	return ctx, nil
}

// ArenaOptions tunes CreateSpaceManager. The zero value gives the arena a
// private lock and a private used counter.
type ArenaOptions struct {
	// Lock serializes the arena's operations. Owners that guard their own
	// metadata with a lock can pass it here so arena calls nest under it.
	Lock sync.Locker

	// UsedCounter receives the arena's used words. Sharing one counter
	// across arenas aggregates their usage.
	UsedCounter *SizeCounter
}

// CreateSpaceManager returns a new arena drawing chunks from this context.
// The kind and classData flag select the growth policy. opts may be nil.
func (ctx *Context) CreateSpaceManager(name string, kind ArenaKind, classData bool, opts *ArenaOptions) (*SpaceManager, error) {
	if ctx.closed.Load() {
		return nil, fmt.Errorf("%w: context", ErrClosed)
	}

	var lock sync.Locker
	var counter *SizeCounter
	if opts != nil {
		lock = opts.Lock
		counter = opts.UsedCounter
	}
	if lock == nil {
		lock = &sync.Mutex{}
	}
	if counter == nil {
		counter = &SizeCounter{}
	}

	sm := newSpaceManager(name, kind, classData, lock, counter, &ctx.liveArenas,
		ctx.cm, ctx.policies, &ctx.geo, ctx.settings, ctx.log, &ctx.stats)
	ctx.log.Debug("metaspace: created arena",
		"name", name, "kind", kind.String(), "classData", classData)
	return sm, nil
}

// ChunkManager exposes the context's chunk manager for inspection.
func (ctx *Context) ChunkManager() *ChunkManager { return ctx.cm }

// Limiter exposes the context's commit limiter.
func (ctx *Context) Limiter() *CommitLimiter { return ctx.limiter }

// InternalStats returns a snapshot of the context's internal counters.
func (ctx *Context) InternalStats() InternalStats { return ctx.stats.snapshot() }

// ReservedWords returns the total reserved address space in words.
func (ctx *Context) ReservedWords() uint64 { return ctx.cm.ReservedWords() }

// CommittedWords returns the total committed words.
func (ctx *Context) CommittedWords() uint64 { return ctx.cm.CommittedWords() }

// Purge returns as much committed memory to the system as possible.
func (ctx *Context) Purge() error {
	if ctx.closed.Load() {
		return fmt.Errorf("%w: context", ErrClosed)
	}
	return ctx.cm.Purge()
}

// Close releases all reserved address space. Every arena must be destroyed
// first; closing with live arenas panics. Closing twice is a no-op.
func (ctx *Context) Close() error {
	if n := ctx.liveArenas.Load(); n > 0 {
		panic(fmt.Sprintf("metaspace: closing context with %d live arenas", n))
	}
	if !ctx.closed.CompareAndSwap(false, true) {
		return nil
	}
	return ctx.cm.releaseAll()
}
