package metaspace

import (
	"fmt"
	"log/slog"
	"math/bits"

	"github.com/joshuapare/metakit/metaspace/chunklevel"
	"github.com/joshuapare/metakit/vmem"
)

// Settings configures a Context. The zero value is not usable; start from
// DefaultSettings (or one of the predefined variants) and override fields.
type Settings struct {
	// Chunk size ladder bounds, in words. Both must be powers of two.
	SmallestChunkWords uint64
	LargestChunkWords  uint64

	// CommitGranuleWords is the unit of commit and uncommit. Power of two,
	// at most LargestChunkWords. With the system mapper the granule must be
	// a page multiple once converted to bytes.
	CommitGranuleWords uint64

	// NodeRootChunks is how many root chunks one address-space reservation
	// spans.
	NodeRootChunks int

	// CommitLimitWords caps the total committed words across the context.
	// Zero means no cap.
	CommitLimitWords uint64

	// NewChunksFullyCommitted commits chunks over their whole capacity when
	// they are handed out, instead of on demand.
	NewChunksFullyCommitted bool

	// UncommitFreeChunks returns the physical memory of freed chunks that
	// span at least one commit granule.
	UncommitFreeChunks bool

	// EnlargeChunksInPlace lets an arena double its current chunk into a
	// free buddy instead of retiring it.
	EnlargeChunksInPlace bool

	// UseAllocationGuards appends a canary word to every allocation and
	// tracks live blocks for VerifyAllocationGuards. Debug aid; costs one
	// word per allocation plus ledger overhead, and shrinks the largest
	// satisfiable request to LargestChunkWords minus the canary word.
	UseAllocationGuards bool

	// Logger receives debug and error events. Nil means no logging.
	Logger *slog.Logger

	// Mapper reserves backing address space. Nil means the system mapper.
	Mapper vmem.Mapper
}

// Predefined configurations.
var (
	// SettingsBalanced is the default: 64 KiB commit granule, uncommit freed
	// chunks, enlarge in place.
	SettingsBalanced = Settings{
		SmallestChunkWords:   chunklevel.DefaultSmallestChunkWords,
		LargestChunkWords:    chunklevel.DefaultLargestChunkWords,
		CommitGranuleWords:   8 * 1024, // 64 KiB
		NodeRootChunks:       8,
		UncommitFreeChunks:   true,
		EnlargeChunksInPlace: true,
	}

	// SettingsAggressive reclaims with a fine 16 KiB granule. More commit
	// traffic, tighter footprint.
	SettingsAggressive = Settings{
		SmallestChunkWords:   chunklevel.DefaultSmallestChunkWords,
		LargestChunkWords:    chunklevel.DefaultLargestChunkWords,
		CommitGranuleWords:   2 * 1024, // 16 KiB
		NodeRootChunks:       8,
		UncommitFreeChunks:   true,
		EnlargeChunksInPlace: true,
	}

	// SettingsNoReclaim never uncommits freed chunks. Fastest reuse, largest
	// footprint.
	SettingsNoReclaim = Settings{
		SmallestChunkWords:   chunklevel.DefaultSmallestChunkWords,
		LargestChunkWords:    chunklevel.DefaultLargestChunkWords,
		CommitGranuleWords:   8 * 1024,
		NodeRootChunks:       8,
		UncommitFreeChunks:   false,
		EnlargeChunksInPlace: true,
	}
)

// DefaultSettings returns the balanced configuration.
func DefaultSettings() Settings {
	return SettingsBalanced
}

// validate checks field relationships and builds the ladder.
func (s *Settings) validate() (chunklevel.Ladder, error) {
	ladder, err := chunklevel.NewLadder(s.SmallestChunkWords, s.LargestChunkWords)
	if err != nil {
		return ladder, fmt.Errorf("%w: %v", ErrBadSettings, err)
	}
	if s.CommitGranuleWords == 0 || bits.OnesCount64(s.CommitGranuleWords) != 1 {
		return ladder, fmt.Errorf("%w: commit granule %d not a power of two",
			ErrBadSettings, s.CommitGranuleWords)
	}
	if s.CommitGranuleWords > s.LargestChunkWords {
		return ladder, fmt.Errorf("%w: commit granule %d exceeds largest chunk %d",
			ErrBadSettings, s.CommitGranuleWords, s.LargestChunkWords)
	}
	if s.NodeRootChunks < 1 {
		return ladder, fmt.Errorf("%w: node must span at least one root chunk",
			ErrBadSettings)
	}
	return ladder, nil
}

// geometry is the validated size configuration shared by the engine parts.
type geometry struct {
	ladder       chunklevel.Ladder
	granuleWords uint64
	nodeWords    uint64
}

func (g *geometry) rootLevel() chunklevel.Level { return g.ladder.RootLevel() }

func (g *geometry) rootChunkWords() uint64 { return g.ladder.LargestChunkWords() }

// alignUpWords rounds x up to a power-of-two multiple.
func alignUpWords(x, pow2 uint64) uint64 {
	return (x + pow2 - 1) &^ (pow2 - 1)
}

// alignDownWords rounds x down to a power-of-two multiple.
func alignDownWords(x, pow2 uint64) uint64 {
	return x &^ (pow2 - 1)
}
