package metaspace

import (
	"encoding/binary"
	"fmt"

	"github.com/cespare/xxhash/v2"
)

// guardLedger tracks live guarded blocks for an arena. Each guarded block
// carries a canary in its final word; the ledger remembers the block so a
// verify pass can sweep all of them for overruns.
type guardLedger struct {
	blocks map[*uint64][]uint64
}

func newGuardLedger() *guardLedger {
	return &guardLedger{blocks: make(map[*uint64][]uint64)}
}

// guardCanary derives the canary word for a block of rawWords size. Tying
// the canary to the size catches both overruns and size confusion.
func guardCanary(rawWords uint64) uint64 {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], rawWords)
	return xxhash.Sum64(b[:])
}

// arm writes the canary into the block's last word and records the block.
func (g *guardLedger) arm(block []uint64) {
	n := uint64(len(block))
	block[n-1] = guardCanary(n)
	g.blocks[&block[0]] = block
}

// disarm forgets a block that is being deallocated.
func (g *guardLedger) disarm(block []uint64) {
	delete(g.blocks, &block[0])
}

func (g *guardLedger) count() int {
	return len(g.blocks)
}

// verifyAll checks every live guarded block and reports corruption.
func (g *guardLedger) verifyAll() error {
	bad := 0
	for _, block := range g.blocks {
		n := uint64(len(block))
		if block[n-1] != guardCanary(n) {
			bad++
		}
	}
	if bad > 0 {
		return fmt.Errorf("%w: %d of %d blocks overwritten", ErrGuardCorrupt, bad, len(g.blocks))
	}
	return nil
}
