package metaspace

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/joshuapare/metakit/vmem"
)

// Test_NewContext_RejectsBadSettings walks the settings validation.
func Test_NewContext_RejectsBadSettings(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Settings)
	}{
		{"chunk bounds not power of two", func(s *Settings) { s.SmallestChunkWords = 100 }},
		{"granule not power of two", func(s *Settings) { s.CommitGranuleWords = 1000 }},
		{"granule beyond largest chunk", func(s *Settings) { s.CommitGranuleWords = s.LargestChunkWords * 2 }},
		{"node smaller than root chunk", func(s *Settings) { s.NodeRootChunks = 0 }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			s := DefaultSettings()
			s.Mapper = vmem.NewHeapMapper()
			tc.mutate(&s)
			_, err := NewContext(s)
			require.ErrorIs(t, err, ErrBadSettings)
		})
	}
}

// Test_Context_CloseSemantics pins the closing rules: a closed context
// refuses new arenas and purges, a second Close is a no-op, and closing with
// live arenas is a bug.
func Test_Context_CloseSemantics(t *testing.T) {
	s := DefaultSettings()
	s.Mapper = vmem.NewHeapMapper()
	ctx, err := NewContext(s)
	require.NoError(t, err)

	sm, err := ctx.CreateSpaceManager("tenant", KindStandard, false, nil)
	require.NoError(t, err)
	_, err = sm.Allocate(100)
	require.NoError(t, err)

	require.Panics(t, func() { _ = ctx.Close() })

	sm.Destroy()
	require.NoError(t, ctx.Close())
	require.NoError(t, ctx.Close())

	_, err = ctx.CreateSpaceManager("late", KindStandard, false, nil)
	require.ErrorIs(t, err, ErrClosed)
	require.ErrorIs(t, ctx.Purge(), ErrClosed)
}

// Test_Context_WriteReport smoke-checks the human-readable report against a
// context with some traffic.
func Test_Context_WriteReport(t *testing.T) {
	ctx := newTestContext(t, 1024*1024)
	arena := newTestArena(t, ctx, "reporter", KindStandard, false)
	defer arena.destroy()

	arena.mustAlloc(10_000)

	var sb strings.Builder
	require.NoError(t, ctx.WriteReport(&sb))
	out := sb.String()

	require.Contains(t, out, "reserved")
	require.Contains(t, out, "committed")
	require.Contains(t, out, "commit limit")
	require.Contains(t, out, "arenas")
	t.Logf("report:\n%s", out)
}

// Test_Context_ReservedAndCommittedAccounting checks the context-wide word
// accounting against the node geometry.
func Test_Context_ReservedAndCommittedAccounting(t *testing.T) {
	ctx := newTestContext(t, 0)
	require.Zero(t, ctx.ReservedWords())
	require.Zero(t, ctx.CommittedWords())

	arena := newTestArena(t, ctx, "tenant", KindBoot, false)
	defer arena.destroy()
	arena.mustAlloc(1)

	require.Equal(t, ctx.geo.nodeWords, ctx.ReservedWords())
	require.Equal(t, ctx.geo.granuleWords, ctx.CommittedWords())
	require.Equal(t, ctx.Limiter().CommittedWords(), ctx.CommittedWords())
}
