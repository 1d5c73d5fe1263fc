// Package metaspace implements an arena allocator for long-lived, word-sized
// metadata with elastic physical memory use.
//
// # Overview
//
// This package manages large reserved address ranges and hands out
// word-granular allocations through per-owner arenas. Physical memory is
// committed lazily in fixed granules and returned to the system when chunks
// are freed, so footprint follows live demand instead of peak demand.
//
// # Key Types
//
// The main types provided by this package are:
//
//   - Context: One metaspace instance owning reservations, chunk manager,
//     commit limiter and growth policies
//   - SpaceManager: A per-owner arena serving Allocate and Deallocate
//   - ChunkManager: The shared pool of metachunks backing all arenas
//   - CommitLimiter: The context-wide cap on committed memory
//   - Metachunk: One power-of-two sized slice of a reserved node
//   - Settings: Configuration, with SettingsBalanced as the default
//
// # Memory Structure
//
// Reserved memory is organized in layers:
//
//	[node (reservation)] -> [root chunk areas] -> [buddy chunks] -> [blocks]
//
// Each node spans a fixed number of root chunks. Chunks split in buddy
// fashion down a level ladder, where level 0 is the smallest chunk and the
// root level the largest. Commit state is tracked per granule (64 KiB by
// default), independently of chunk boundaries.
//
// # Creating Arenas
//
// All allocation flows through a Context and its arenas:
//
//	ctx, err := metaspace.NewContext(metaspace.DefaultSettings())
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer ctx.Close()
//
//	sm, err := ctx.CreateSpaceManager("loader-17", metaspace.KindStandard, false, nil)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer sm.Close()
//
//	block, err := sm.Allocate(64)
//	// ... use block ...
//	sm.Deallocate(block)
//
// Destroying an arena returns all its chunks at once, which is the designed
// path for bulk reclamation: owners that go away release everything they
// ever allocated in one call.
//
// # Growth Policies
//
// Arena kinds (KindStandard, KindBoot, KindReflection, KindClassMirrorHolder)
// select how chunk sizes progress as an arena grows. Standard arenas start
// small and grow geometrically; boot arenas start huge; reflection and
// class-mirror-holder arenas stay tiny. Sequences never decrease.
//
// # Commit Limit
//
// A context-wide CommitLimiter caps committed words. When the cap is
// reached, allocations fail with ErrCommitLimit and leave the arena's usage
// numbers untouched. Destroying arenas or purging the context uncommits
// memory and makes headroom that later allocations can use.
//
// # Thread Safety
//
// Context, ChunkManager and CommitLimiter are safe for concurrent use. A
// SpaceManager serializes itself on the lock supplied at creation; by
// default that is a private mutex, making the arena safe too. Blocks
// returned by Allocate are plain []uint64 and follow the usual Go rules.
//
// # Related Packages
//
//   - github.com/joshuapare/metakit/metaspace/chunklevel: The chunk size ladder
//   - github.com/joshuapare/metakit/vmem: Reserve, commit and uncommit primitives
package metaspace
