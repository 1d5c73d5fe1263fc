package metaspace

import (
	"fmt"

	"github.com/joshuapare/metakit/metaspace/chunklevel"
)

// ArenaKind describes the expected allocation profile of an arena's owner.
// The kind picks the growth policy: how large the first chunk is and how
// quickly later chunks grow.
type ArenaKind int

const (
	// KindStandard fits ordinary loaders: start small, grow geometrically.
	KindStandard ArenaKind = iota

	// KindBoot fits the one huge boot-style owner with large upfront demand.
	KindBoot

	// KindReflection fits short-lived owners that load a handful of small
	// classes and disappear.
	KindReflection

	// KindClassMirrorHolder fits one-class owners such as hidden classes.
	KindClassMirrorHolder

	numArenaKinds
)

func (k ArenaKind) String() string {
	switch k {
	case KindStandard:
		return "standard"
	case KindBoot:
		return "boot"
	case KindReflection:
		return "reflection"
	case KindClassMirrorHolder:
		return "class-mirror-holder"
	}
	return fmt.Sprintf("ArenaKind(%d)", int(k))
}

// GrowthPolicy is a sequence of chunk levels indexed by how many chunks an
// arena already owns. Sequences never decrease; once the end is reached the
// last level repeats.
type GrowthPolicy struct {
	levels []chunklevel.Level
}

// LevelAtStep returns the preferred chunk level for the arena's step-th
// chunk, clamping to the final level for steps past the end.
func (p GrowthPolicy) LevelAtStep(step int) chunklevel.Level {
	if step >= len(p.levels) {
		return p.levels[len(p.levels)-1]
	}
	return p.levels[step]
}

// NumSteps returns the length of the explicit sequence.
func (p GrowthPolicy) NumSteps() int { return len(p.levels) }

// Chunk word sizes per growth step, per arena kind, for non-class and class
// data. Class data runs smaller since class-space structures are compact.
var (
	growthBootWords            = []uint64{512 * 1024}
	growthBootClassWords       = []uint64{128 * 1024}
	growthStandardWords        = []uint64{512, 512, 512, 1024, 2048}
	growthStandardClassWords   = []uint64{256, 256, 256, 256, 512, 1024, 2048}
	growthReflectionWords      = []uint64{256}
	growthReflectionClassWords = []uint64{128}
	growthMirrorHolderWords    = []uint64{128}
)

// growthPolicySet holds the resolved policies for one ladder.
type growthPolicySet struct {
	policies [numArenaKinds][2]GrowthPolicy
}

func newGrowthPolicySet(ladder chunklevel.Ladder) *growthPolicySet {
	s := &growthPolicySet{}
	s.policies[KindStandard][0] = policyFromWords(ladder, growthStandardWords)
	s.policies[KindStandard][1] = policyFromWords(ladder, growthStandardClassWords)
	s.policies[KindBoot][0] = policyFromWords(ladder, growthBootWords)
	s.policies[KindBoot][1] = policyFromWords(ladder, growthBootClassWords)
	s.policies[KindReflection][0] = policyFromWords(ladder, growthReflectionWords)
	s.policies[KindReflection][1] = policyFromWords(ladder, growthReflectionClassWords)
	s.policies[KindClassMirrorHolder][0] = policyFromWords(ladder, growthMirrorHolderWords)
	s.policies[KindClassMirrorHolder][1] = policyFromWords(ladder, growthMirrorHolderWords)
	return s
}

func (s *growthPolicySet) policyFor(kind ArenaKind, classData bool) GrowthPolicy {
	if kind < 0 || kind >= numArenaKinds {
		panic(fmt.Sprintf("metaspace: unknown arena kind %d", int(kind)))
	}
	idx := 0
	if classData {
		idx = 1
	}
	return s.policies[kind][idx]
}

// policyFromWords maps a word-size sequence onto ladder levels, clamping
// oversized entries to the root level.
func policyFromWords(ladder chunklevel.Ladder, words []uint64) GrowthPolicy {
	levels := make([]chunklevel.Level, len(words))
	for i, w := range words {
		lv, ok := ladder.LevelFitting(w)
		if !ok {
			lv = ladder.RootLevel()
		}
		levels[i] = lv
		if i > 0 && lv < levels[i-1] {
			panic(fmt.Sprintf("metaspace: growth sequence decreases at step %d", i))
		}
	}
	return GrowthPolicy{levels: levels}
}
