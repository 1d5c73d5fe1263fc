package metaspace

import (
	"testing"

	"github.com/stretchr/testify/require"
)

// Test_SpaceManager_RecoverFromCommitLimitHit drives three arenas under one
// tight commit limit. Two reflection arenas allocate in an interleaved way,
// filling memory with alternating tiny chunks; the interleaving matters
// since it keeps buddies in use and blocks merging later. A boot arena then
// creeps up on the remaining headroom until commit-on-demand fails. After
// the first reflection arena is destroyed, its committed chunks sit in the
// free lists and the boot arena must recover by allocating from those
// instead of committing new memory.
func Test_SpaceManager_RecoverFromCommitLimitHit(t *testing.T) {
	granule := DefaultSettings().CommitGranuleWords
	ctx := newTestContext(t, granule*10)

	refl1 := newTestArena(t, ctx, "refl-1", KindReflection, false)
	refl2 := newTestArena(t, ctx, "refl-2", KindReflection, false)
	boot := newTestArena(t, ctx, "boot", KindBoot, false)
	defer refl2.destroy()
	defer boot.destroy()

	// Eat headroom until below two granules remain.
	for ctx.Limiter().PossibleExpansionWords() >= granule*2 {
		refl1.mustAlloc(1)
		refl2.mustAlloc(1)
	}

	// Creep up on the limit. The boot arena takes a root chunk and commits
	// it on demand, so the failure happens mid-chunk.
	var creeped uint64
	for creeped < granule*2 {
		if _, ok := boot.alloc(1); !ok {
			break
		}
		creeped++
	}
	require.Less(t, creeped, granule*2, "boot arena should have hit the commit limit")

	// Nothing in the free lists carries commit yet.
	require.Zero(t, ctx.ChunkManager().TotalCommittedFreeWords())

	// Destroying one reflection arena returns its chunks. Their buddies are
	// still in use by the other arena, so they stay small and keep their
	// committed words.
	refl1.destroy()
	require.Greater(t, ctx.ChunkManager().TotalCommittedFreeWords(), uint64(0))

	// The boot arena finds the committed free chunks and works again.
	boot.mustAlloc(1)

	t.Logf("recovered after creeping %d words into the limit", creeped)
}
