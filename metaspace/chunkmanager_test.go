package metaspace

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/joshuapare/metakit/metaspace/chunklevel"
)

// Test_ChunkManager_SplitAndMergeRoundTrip takes one smallest chunk, which
// splits a root chunk all the way down and leaves one free buddy per level,
// then returns it and expects the cascade of merges to rebuild the root.
func Test_ChunkManager_SplitAndMergeRoundTrip(t *testing.T) {
	ctx := newTestContext(t, 0)
	cm := ctx.ChunkManager()
	rootWords := ctx.geo.ladder.LargestChunkWords()
	rootLevel := ctx.geo.rootLevel()

	c, err := cm.GetChunk(0, 0, 1)
	require.NoError(t, err)
	require.Equal(t, chunklevel.Level(0), c.Level())

	require.Equal(t, int(rootLevel), cm.NumFreeChunks())
	require.Equal(t, rootWords-c.Capacity(), cm.TotalFreeWords())

	cm.ReturnChunk(c)
	require.Equal(t, 1, cm.NumFreeChunks())
	require.Equal(t, 1, cm.FreeChunksAtLevel(rootLevel))
	require.Equal(t, rootWords, cm.TotalFreeWords())
}

// Test_ChunkManager_MergeIsOrderIndependent takes a pile of smallest chunks
// and returns them scrambled. Buddy merging has to reassemble the full root
// chunk no matter the order, and the commit ledger has to balance.
func Test_ChunkManager_MergeIsOrderIndependent(t *testing.T) {
	ctx := newTestContext(t, 0)
	cm := ctx.ChunkManager()

	chunks := make([]*Metachunk, 16)
	for i := range chunks {
		c, err := cm.GetChunk(0, 0, ctx.geo.ladder.SmallestChunkWords())
		require.NoError(t, err)
		chunks[i] = c
	}

	rng := rand.New(rand.NewSource(0x5EED))
	rng.Shuffle(len(chunks), func(i, j int) { chunks[i], chunks[j] = chunks[j], chunks[i] })
	for _, c := range chunks {
		cm.ReturnChunk(c)
	}

	require.Equal(t, 1, cm.NumFreeChunks())
	require.Equal(t, 1, cm.FreeChunksAtLevel(ctx.geo.rootLevel()))
	require.Equal(t, ctx.Limiter().CommittedWords(), cm.CommittedWords())
}

// Test_ChunkManager_PrefersCommittedChunks returns a committed chunk and
// asks for a much larger one with a small commit need. The manager should
// hand back the small committed chunk rather than split fresh memory.
func Test_ChunkManager_PrefersCommittedChunks(t *testing.T) {
	ctx := newTestContext(t, 0)
	cm := ctx.ChunkManager()
	smallest := ctx.geo.ladder.SmallestChunkWords()

	c1, err := cm.GetChunk(0, 0, smallest)
	require.NoError(t, err)
	c2, err := cm.GetChunk(0, 0, smallest)
	require.NoError(t, err)

	// c2 keeps c1's buddy in use, so the return cannot merge and c1 stays
	// listed at its level with its committed words.
	cm.ReturnChunk(c1)
	require.Equal(t, smallest, cm.TotalCommittedFreeWords())

	c3, err := cm.GetChunk(5, 0, smallest)
	require.NoError(t, err)
	require.Same(t, c1, c3)
	require.Equal(t, smallest, c3.CommittedWords())

	cm.ReturnChunk(c2)
	cm.ReturnChunk(c3)
}

// Test_ChunkManager_UncommitOnReturn returns a granule-sized chunk and
// expects its memory to go back to the operating system immediately.
func Test_ChunkManager_UncommitOnReturn(t *testing.T) {
	ctx := newTestContext(t, 0)
	cm := ctx.ChunkManager()
	granule := ctx.geo.granuleWords

	lv, ok := ctx.geo.ladder.LevelFitting(granule)
	require.True(t, ok)

	c, err := cm.GetChunk(lv, lv, granule)
	require.NoError(t, err)
	require.Equal(t, granule, ctx.Limiter().CommittedWords())

	cm.ReturnChunk(c)
	require.Zero(t, ctx.Limiter().CommittedWords())
	require.Zero(t, cm.TotalCommittedFreeWords())
	require.GreaterOrEqual(t, ctx.InternalStats().Uncommits, uint64(1))
}

// Test_ChunkManager_ReturnUncommitsGranulesBehindUncommittedLeader builds a
// free chunk whose committed granule hides behind an uncommitted leader: the
// lower buddy is taken with no commit wanted, the upper buddy fully
// committed, and both are returned. The merged chunk's committed prefix
// reads zero, but the interior granule must still be uncommitted and its
// words flow back to the limiter.
func Test_ChunkManager_ReturnUncommitsGranulesBehindUncommittedLeader(t *testing.T) {
	ctx := newTestContext(t, 0)
	cm := ctx.ChunkManager()
	granule := ctx.geo.granuleWords

	lv, ok := ctx.geo.ladder.LevelFitting(granule)
	require.True(t, ok)

	leader, err := cm.GetChunk(lv, lv, 0)
	require.NoError(t, err)
	buddy, err := cm.GetChunk(lv, lv, granule)
	require.NoError(t, err)
	require.Zero(t, leader.CommittedWords())
	require.Equal(t, granule, buddy.CommittedWords())
	require.Equal(t, granule, ctx.Limiter().CommittedWords())

	cm.ReturnChunk(leader)
	cm.ReturnChunk(buddy)

	require.Zero(t, ctx.Limiter().CommittedWords())
	require.Zero(t, cm.CommittedWords())
	require.GreaterOrEqual(t, ctx.InternalStats().Uncommits, uint64(1))
}

// Test_ChunkManager_PurgeUncommitsGranulesBehindUncommittedLeader is the
// same merge shape under no-reclaim settings, where the returns keep the
// commit charge. The purge sweep must find the hidden granule even though
// the free chunk's committed prefix reads zero.
func Test_ChunkManager_PurgeUncommitsGranulesBehindUncommittedLeader(t *testing.T) {
	ctx := newTestContextWith(t, SettingsNoReclaim)
	cm := ctx.ChunkManager()
	granule := ctx.geo.granuleWords

	lv, ok := ctx.geo.ladder.LevelFitting(granule)
	require.True(t, ok)

	leader, err := cm.GetChunk(lv, lv, 0)
	require.NoError(t, err)
	buddy, err := cm.GetChunk(lv, lv, granule)
	require.NoError(t, err)

	cm.ReturnChunk(leader)
	cm.ReturnChunk(buddy)
	require.Equal(t, granule, ctx.Limiter().CommittedWords())

	require.NoError(t, cm.Purge())
	require.Zero(t, ctx.Limiter().CommittedWords())
	require.Equal(t, ctx.Limiter().CommittedWords(), cm.CommittedWords())
}

// Test_ChunkManager_NoReclaimKeepsCommitOnReturn is the same round trip with
// uncommit of free chunks disabled: the commit charge stays.
func Test_ChunkManager_NoReclaimKeepsCommitOnReturn(t *testing.T) {
	ctx := newTestContextWith(t, SettingsNoReclaim)
	cm := ctx.ChunkManager()
	granule := ctx.geo.granuleWords

	lv, ok := ctx.geo.ladder.LevelFitting(granule)
	require.True(t, ok)

	c, err := cm.GetChunk(lv, lv, granule)
	require.NoError(t, err)
	cm.ReturnChunk(c)

	require.Equal(t, granule, ctx.Limiter().CommittedWords())
	require.Greater(t, cm.TotalCommittedFreeWords(), uint64(0))
}

// Test_ChunkManager_PurgeUncommitsAndReleasesNodes fills two single-chunk
// nodes, returns everything and purges. The idle node must be unmapped and
// even under no-reclaim settings the purge must strip commit from free
// chunks.
func Test_ChunkManager_PurgeUncommitsAndReleasesNodes(t *testing.T) {
	s := SettingsNoReclaim
	s.NodeRootChunks = 1
	ctx := newTestContextWith(t, s)
	cm := ctx.ChunkManager()
	rootLevel := ctx.geo.rootLevel()

	r1, err := cm.GetChunk(rootLevel, rootLevel, 1)
	require.NoError(t, err)
	r2, err := cm.GetChunk(rootLevel, rootLevel, 1)
	require.NoError(t, err)
	require.Equal(t, 2, cm.NumNodes())

	cm.ReturnChunk(r1)
	cm.ReturnChunk(r2)
	require.Greater(t, ctx.Limiter().CommittedWords(), uint64(0))

	require.NoError(t, cm.Purge())

	require.Equal(t, 1, cm.NumNodes())
	require.Equal(t, 1, cm.NumFreeChunks())
	require.Zero(t, ctx.Limiter().CommittedWords())
	require.Equal(t, ctx.Limiter().CommittedWords(), cm.CommittedWords())
	require.Equal(t, uint64(1), ctx.InternalStats().NodesReleased)
}

// Test_ChunkManager_EnlargeNeedsFreeLeaderBuddy walks the enlarge rules: a
// leader doubles by absorbing its free buddy, a chunk whose buddy is in use
// cannot grow, and a non-leader can never grow in place.
func Test_ChunkManager_EnlargeNeedsFreeLeaderBuddy(t *testing.T) {
	ctx := newTestContext(t, 0)
	cm := ctx.ChunkManager()
	smallest := ctx.geo.ladder.SmallestChunkWords()

	c1, err := cm.GetChunk(0, 0, smallest)
	require.NoError(t, err)

	require.True(t, cm.AttemptEnlargeChunk(c1))
	require.Equal(t, chunklevel.Level(1), c1.Level())
	require.Equal(t, smallest*2, c1.Capacity())

	require.True(t, cm.AttemptEnlargeChunk(c1))
	require.Equal(t, chunklevel.Level(2), c1.Level())

	// Take c1's buddy at its current level; with the buddy in use c1 is
	// stuck, and the buddy itself is the upper half so it can never lead
	// a merge.
	c2, err := cm.GetChunk(2, 2, smallest)
	require.NoError(t, err)
	require.False(t, cm.AttemptEnlargeChunk(c1))
	require.False(t, cm.AttemptEnlargeChunk(c2))

	cm.ReturnChunk(c1)
	cm.ReturnChunk(c2)
}

// Test_ChunkManager_SharedGranuleChargedOnce places two small chunks in the
// same commit granule and checks the limiter is charged for the granule
// exactly once.
func Test_ChunkManager_SharedGranuleChargedOnce(t *testing.T) {
	ctx := newTestContext(t, 0)
	cm := ctx.ChunkManager()
	smallest := ctx.geo.ladder.SmallestChunkWords()

	c1, err := cm.GetChunk(0, 0, smallest)
	require.NoError(t, err)
	c2, err := cm.GetChunk(0, 0, smallest)
	require.NoError(t, err)

	require.Equal(t, ctx.geo.granuleWords, ctx.Limiter().CommittedWords())

	cm.ReturnChunk(c1)
	cm.ReturnChunk(c2)
}

// Test_ChunkManager_RejectsBadRequests pins the request preconditions.
func Test_ChunkManager_RejectsBadRequests(t *testing.T) {
	ctx := newTestContext(t, 0)
	cm := ctx.ChunkManager()

	require.Panics(t, func() { _, _ = cm.GetChunk(0, 1, 1) })
	require.Panics(t, func() {
		_, _ = cm.GetChunk(1, 1, ctx.geo.ladder.WordSize(1)+1)
	})
	require.Panics(t, func() {
		_, _ = cm.GetChunk(chunklevel.Level(ctx.geo.ladder.NumLevels()), 0, 1)
	})
}
