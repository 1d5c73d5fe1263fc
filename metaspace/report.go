package metaspace

import (
	"io"
	"math"

	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/joshuapare/metakit/metaspace/chunklevel"
	"github.com/joshuapare/metakit/vmem"
)

// WriteReport writes a human readable snapshot of the context's memory and
// event numbers. One reader-friendly block, thousands separators included;
// tooling that wants structure should use InternalStats instead.
func (ctx *Context) WriteReport(w io.Writer) error {
	p := message.NewPrinter(language.English)
	st := ctx.stats.snapshot()
	cm := ctx.cm

	reserved := cm.ReservedWords()
	committed := cm.CommittedWords()

	var err error
	write := func(format string, args ...any) {
		if err == nil {
			_, err = p.Fprintf(w, format, args...)
		}
	}

	write("metaspace report\n")
	write("  reserved:       %d words (%d KiB) in %d nodes\n",
		reserved, reserved*vmem.WordBytes/1024, cm.NumNodes())
	write("  committed:      %d words (%d KiB)\n",
		committed, committed*vmem.WordBytes/1024)
	if limit := ctx.limiter.CapWords(); limit == math.MaxUint64 {
		write("  commit limit:   none\n")
	} else {
		write("  commit limit:   %d words (%d KiB), %d words headroom\n",
			limit, limit*vmem.WordBytes/1024, ctx.limiter.PossibleExpansionWords())
	}
	write("  commit granule: %d words\n", ctx.geo.granuleWords)

	write("  free chunks:    %d (%d words capacity, %d committed)\n",
		cm.NumFreeChunks(), cm.TotalFreeWords(), cm.TotalCommittedFreeWords())
	for lv := chunklevel.Level(0); ctx.geo.ladder.IsValidLevel(lv); lv++ {
		if n := cm.FreeChunksAtLevel(lv); n > 0 {
			write("    level %2d, %8d words: %d\n", lv, ctx.geo.ladder.WordSize(lv), n)
		}
	}

	write("  arenas:         %d live (%d created, %d destroyed)\n",
		ctx.liveArenas.Load(), st.ArenasCreated, st.ArenasDestroyed)
	write("  allocations:    %d ok, %d from recycled blocks, %d failed, %d deallocs\n",
		st.Allocs, st.AllocsFromBlocks, st.AllocsFailed, st.Deallocs)
	write("  chunk traffic:  %d taken, %d returned, %d retired, %d split, %d merged, %d enlarged\n",
		st.ChunksTaken, st.ChunksReturned, st.ChunksRetired,
		st.ChunksSplit, st.ChunksMerged, st.ChunksEnlarged)
	write("  node traffic:   %d created, %d released, %d purges\n",
		st.NodesCreated, st.NodesReleased, st.Purges)
	write("  commit traffic: %d commits, %d uncommits\n", st.Commits, st.Uncommits)
	return err
}
