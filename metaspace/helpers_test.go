package metaspace

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/joshuapare/metakit/vmem"
)

// newTestContext builds a context on the heap mapper so tests never touch
// real mappings. capWords of zero means no commit limit.
func newTestContext(t *testing.T, capWords uint64) *Context {
	t.Helper()
	s := DefaultSettings()
	s.CommitLimitWords = capWords
	return newTestContextWith(t, s)
}

func newTestContextWith(t *testing.T, s Settings) *Context {
	t.Helper()
	if s.Mapper == nil {
		s.Mapper = vmem.NewHeapMapper()
	}
	ctx, err := NewContext(s)
	require.NoError(t, err)
	t.Cleanup(func() {
		if ctx.liveArenas.Load() == 0 {
			require.NoError(t, ctx.Close())
		}
	})
	return ctx
}

// testArena pairs an arena with a private used-words counter and the checked
// allocate used throughout these tests: every call verifies the failure and
// success invariants around usage numbers and the commit limiter.
type testArena struct {
	t       *testing.T
	ctx     *Context
	sm      *SpaceManager
	counter *SizeCounter
}

func newTestArena(t *testing.T, ctx *Context, name string, kind ArenaKind, classData bool) *testArena {
	t.Helper()
	counter := &SizeCounter{}
	sm, err := ctx.CreateSpaceManager(name, kind, classData, &ArenaOptions{UsedCounter: counter})
	require.NoError(t, err)
	return &testArena{t: t, ctx: ctx, sm: sm, counter: counter}
}

// usage reads the arena's numbers, checks their ordering and that the owned
// used-words counter mirrors the walked value exactly.
func (a *testArena) usage() (used, committed, capacity uint64) {
	a.t.Helper()
	used, committed, capacity = a.sm.UsageNumbers()
	require.GreaterOrEqual(a.t, committed, used)
	require.GreaterOrEqual(a.t, capacity, committed)
	require.Equal(a.t, a.counter.Get(), used)
	return used, committed, capacity
}

// alloc allocates with invariant checks. A failure must be explained by the
// commit limiter and leave the numbers untouched; a success moves them
// monotonically.
func (a *testArena) alloc(words uint64) ([]uint64, bool) {
	a.t.Helper()

	used, committed, capacity := a.usage()
	possible := a.ctx.Limiter().PossibleExpansionWords()

	p, err := a.sm.Allocate(words)

	used2, committed2, capacity2 := a.usage()

	if err != nil {
		require.Nil(a.t, p)
		require.ErrorIs(a.t, err, ErrCommitLimit)
		require.Less(a.t, possible, words)
		require.Equal(a.t, used, used2)
		require.Equal(a.t, committed, committed2)
		require.Equal(a.t, capacity, capacity2)
		return nil, false
	}

	require.Len(a.t, p, int(words))
	require.GreaterOrEqual(a.t, used2, used)
	require.GreaterOrEqual(a.t, committed2, committed)
	require.GreaterOrEqual(a.t, capacity2, capacity)
	if words > 0 {
		// Prove the words are really writable.
		p[0] = 0x4711
		p[words-1] = 0x4711
	}
	return p, true
}

func (a *testArena) mustAlloc(words uint64) []uint64 {
	a.t.Helper()
	p, ok := a.alloc(words)
	require.True(a.t, ok, "allocation of %d words should have succeeded", words)
	return p
}

func (a *testArena) mustFail(words uint64) {
	a.t.Helper()
	_, ok := a.alloc(words)
	require.False(a.t, ok, "allocation of %d words should have failed", words)
}

// destroy tears the arena down with the usual checks: the used counter drops
// to zero and context-wide committed words never grow. With uncommit of free
// chunks disabled they must stay exactly equal.
func (a *testArena) destroy() {
	a.t.Helper()
	committedBefore := a.ctx.Limiter().CommittedWords()
	a.sm.Destroy()
	require.Zero(a.t, a.counter.Get())
	committedAfter := a.ctx.Limiter().CommittedWords()
	if a.ctx.settings.UncommitFreeChunks {
		require.LessOrEqual(a.t, committedAfter, committedBefore)
	} else {
		require.Equal(a.t, committedBefore, committedAfter)
	}
}
