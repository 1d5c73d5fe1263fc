package main

import (
	"fmt"
	"math/rand"
	"os"

	"github.com/spf13/cobra"

	"github.com/joshuapare/metakit/metaspace"
)

var (
	reportLimitMB int
	reportSeed    int64
)

func init() {
	cmd := newReportCmd()
	cmd.Flags().IntVar(&reportLimitMB, "commit-limit-mb", 0, "Commit limit in MiB (0 = unlimited)")
	cmd.Flags().Int64Var(&reportSeed, "seed", 1, "Seed for the synthetic workload")
	rootCmd.AddCommand(cmd)
}

func newReportCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "report",
		Short: "Run a synthetic workload and print the context report",
		Long: `The report command loads a context the way a running system would:
one boot arena with large upfront demand, a few standard arenas with mixed
allocation sizes, and short-lived reflection arenas that come and go. It then
prints the context's usage report.

Example:
  metactl report
  metactl report --commit-limit-mb 32 --json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReport()
		},
	}
}

func runReport() error {
	s := metaspace.DefaultSettings()
	s.CommitLimitWords = uint64(reportLimitMB) << 17
	s.Logger = newLogger()

	ms, err := metaspace.NewContext(s)
	if err != nil {
		return err
	}
	rng := rand.New(rand.NewSource(reportSeed))

	boot, err := ms.CreateSpaceManager("boot", metaspace.KindBoot, false, nil)
	if err != nil {
		return err
	}
	for i := 0; i < 64; i++ {
		if _, err := boot.Allocate(uint64(rng.Intn(2000)) + 100); err != nil {
			return err
		}
	}

	for n := 0; n < 3; n++ {
		arena, err := ms.CreateSpaceManager(fmt.Sprintf("standard-%d", n), metaspace.KindStandard, false, nil)
		if err != nil {
			return err
		}
		var blocks [][]uint64
		for i := 0; i < 400; i++ {
			p, err := arena.Allocate(uint64(rng.Intn(200)) + 1)
			if err != nil {
				return err
			}
			blocks = append(blocks, p)
		}
		for i := 0; i < len(blocks); i += 5 {
			arena.Deallocate(blocks[i])
		}
		// The last standard arena unloads again, so the report shows
		// free chunks carrying committed memory.
		if n == 2 {
			arena.Destroy()
		}
	}

	for n := 0; n < 16; n++ {
		arena, err := ms.CreateSpaceManager(fmt.Sprintf("refl-%d", n), metaspace.KindReflection, n%2 == 1, nil)
		if err != nil {
			return err
		}
		for i := 0; i < 20; i++ {
			if _, err := arena.Allocate(uint64(rng.Intn(30)) + 1); err != nil {
				return err
			}
		}
		if n%2 == 0 {
			arena.Destroy()
		}
	}

	if jsonOut {
		return printJSON(struct {
			ReservedWords  uint64
			CommittedWords uint64
			Stats          metaspace.InternalStats
		}{
			ReservedWords:  ms.ReservedWords(),
			CommittedWords: ms.CommittedWords(),
			Stats:          ms.InternalStats(),
		})
	}
	return ms.WriteReport(os.Stdout)
}
