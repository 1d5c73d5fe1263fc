package main

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/joshuapare/metakit/metaspace"
)

var (
	stressArenas       int
	stressDuration     time.Duration
	stressLimitMB      int
	stressKinds        string
	stressRate         int
	stressMaxWords     int
	stressDeallocEvery int
	stressCycleEvery   int
	stressGuards       bool
	stressAggressive   bool
)

func init() {
	cmd := newStressCmd()
	cmd.Flags().IntVar(&stressArenas, "arenas", 8, "Number of concurrent arenas (one goroutine each)")
	cmd.Flags().DurationVar(&stressDuration, "duration", 3*time.Second, "How long to run")
	cmd.Flags().IntVar(&stressLimitMB, "commit-limit-mb", 0, "Commit limit in MiB (0 = unlimited)")
	cmd.Flags().StringVar(&stressKinds, "kinds", "standard,reflection", "Comma-separated arena kinds cycled across workers")
	cmd.Flags().IntVar(&stressRate, "rate", 0, "Total operations per second (0 = unthrottled)")
	cmd.Flags().IntVar(&stressMaxWords, "max-words", 512, "Largest single allocation in words")
	cmd.Flags().IntVar(&stressDeallocEvery, "dealloc-every", 7, "Deallocate one retained block every N allocations (0 = never)")
	cmd.Flags().IntVar(&stressCycleEvery, "cycle-every", 20000, "Destroy and recreate the arena every N allocations (0 = never)")
	cmd.Flags().BoolVar(&stressGuards, "guards", false, "Enable allocation guards and verify them on every cycle")
	cmd.Flags().BoolVar(&stressAggressive, "aggressive", false, "Use the aggressive reclamation settings")
	rootCmd.AddCommand(cmd)
}

func newStressCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stress",
		Short: "Hammer a context with concurrent arena traffic",
		Long: `The stress command runs goroutine-owned arenas against one shared
context: mixed allocations and deallocations, periodic arena destruction,
and optional commit-limit pressure. It finishes with a purge and prints the
context report.

Example:
  metactl stress --arenas 16 --duration 10s
  metactl stress --commit-limit-mb 64 --kinds standard,boot --json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStress()
		},
	}
}

type stressResult struct {
	Allocs      uint64
	Deallocs    uint64
	LimitHits   uint64
	ArenaCycles uint64
}

type stressSummary struct {
	Arenas         int
	Elapsed        string
	Totals         stressResult
	ReservedWords  uint64
	CommittedWords uint64
	Stats          metaspace.InternalStats
}

func runStress() error {
	if stressArenas < 1 {
		return fmt.Errorf("--arenas must be at least 1")
	}
	if stressMaxWords < 1 {
		return fmt.Errorf("--max-words must be at least 1")
	}
	kinds, err := parseKindMix(stressKinds)
	if err != nil {
		return err
	}

	s := metaspace.DefaultSettings()
	if stressAggressive {
		s = metaspace.SettingsAggressive
	}
	s.CommitLimitWords = uint64(stressLimitMB) << 17 // MiB to 8-byte words
	s.UseAllocationGuards = stressGuards
	s.Logger = newLogger()

	ms, err := metaspace.NewContext(s)
	if err != nil {
		return err
	}

	runCtx, cancel := context.WithTimeout(context.Background(), stressDuration)
	defer cancel()

	var lim *rate.Limiter
	if stressRate > 0 {
		lim = rate.NewLimiter(rate.Limit(stressRate), stressRate)
	}

	results := make([]stressResult, stressArenas)
	start := time.Now()
	g, runCtx := errgroup.WithContext(runCtx)
	for i := 0; i < stressArenas; i++ {
		i := i
		kind := kinds[i%len(kinds)]
		classData := i%2 == 1
		g.Go(func() error {
			return stressWorker(runCtx, ms, i, kind, classData, lim, &results[i])
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	elapsed := time.Since(start)

	if err := ms.Purge(); err != nil {
		return err
	}

	var total stressResult
	for _, r := range results {
		total.Allocs += r.Allocs
		total.Deallocs += r.Deallocs
		total.LimitHits += r.LimitHits
		total.ArenaCycles += r.ArenaCycles
	}

	if jsonOut {
		summary := stressSummary{
			Arenas:         stressArenas,
			Elapsed:        elapsed.Round(time.Millisecond).String(),
			Totals:         total,
			ReservedWords:  ms.ReservedWords(),
			CommittedWords: ms.CommittedWords(),
			Stats:          ms.InternalStats(),
		}
		if err := printJSON(summary); err != nil {
			return err
		}
		return ms.Close()
	}

	fmt.Printf("stress: %d arenas over %s\n", stressArenas, elapsed.Round(time.Millisecond))
	fmt.Printf("  %d allocations, %d deallocations, %d commit-limit hits, %d arena cycles\n",
		total.Allocs, total.Deallocs, total.LimitHits, total.ArenaCycles)
	if err := ms.WriteReport(os.Stdout); err != nil {
		return err
	}
	return ms.Close()
}

// stressWorker owns one arena at a time. On commit-limit pressure it first
// recycles its own retained blocks, and once those run out it destroys the
// arena so the chunks flow back to the free lists for everyone else.
func stressWorker(ctx context.Context, ms *metaspace.Context, id int,
	kind metaspace.ArenaKind, classData bool, lim *rate.Limiter, res *stressResult) error {

	name := fmt.Sprintf("stress-%d", id)
	arena, err := ms.CreateSpaceManager(name, kind, classData, nil)
	if err != nil {
		return err
	}
	rng := rand.New(rand.NewSource(int64(id) + 1))
	var retained [][]uint64

	cycle := func() error {
		if stressGuards {
			if err := arena.VerifyAllocationGuards(); err != nil {
				return err
			}
		}
		arena.Destroy()
		retained = retained[:0]
		if arena, err = ms.CreateSpaceManager(name, kind, classData, nil); err != nil {
			return err
		}
		res.ArenaCycles++
		return nil
	}

	for ctx.Err() == nil {
		if lim != nil {
			if err := lim.Wait(ctx); err != nil {
				break
			}
		}

		words := uint64(rng.Intn(stressMaxWords)) + 1
		p, err := arena.Allocate(words)
		switch {
		case errors.Is(err, metaspace.ErrCommitLimit):
			res.LimitHits++
			if len(retained) == 0 {
				if err := cycle(); err != nil {
					return err
				}
				continue
			}
			for _, b := range retained[len(retained)/2:] {
				arena.Deallocate(b)
				res.Deallocs++
			}
			retained = retained[:len(retained)/2]
			continue
		case err != nil:
			return fmt.Errorf("arena %s: %w", name, err)
		}
		res.Allocs++
		p[0] = words
		retained = append(retained, p)

		if stressDeallocEvery > 0 && res.Allocs%uint64(stressDeallocEvery) == 0 {
			last := retained[len(retained)-1]
			retained = retained[:len(retained)-1]
			arena.Deallocate(last)
			res.Deallocs++
		}
		if stressCycleEvery > 0 && res.Allocs%uint64(stressCycleEvery) == 0 {
			if err := cycle(); err != nil {
				return err
			}
		}
	}

	if stressGuards {
		if err := arena.VerifyAllocationGuards(); err != nil {
			return err
		}
	}
	arena.Destroy()
	return nil
}

func parseKindMix(mix string) ([]metaspace.ArenaKind, error) {
	names := map[string]metaspace.ArenaKind{
		"standard":     metaspace.KindStandard,
		"boot":         metaspace.KindBoot,
		"reflection":   metaspace.KindReflection,
		"mirrorholder": metaspace.KindClassMirrorHolder,
	}
	var kinds []metaspace.ArenaKind
	for _, part := range strings.Split(mix, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		kind, ok := names[part]
		if !ok {
			return nil, fmt.Errorf("unknown arena kind %q (want standard, boot, reflection or mirrorholder)", part)
		}
		kinds = append(kinds, kind)
	}
	if len(kinds) == 0 {
		return nil, fmt.Errorf("no arena kinds in %q", mix)
	}
	return kinds, nil
}
