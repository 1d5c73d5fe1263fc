package metaspace

import (
	"testing"

	"github.com/stretchr/testify/require"
)

// Test_GuardLedger_SweepFindsOverruns arms a few blocks, smashes one canary
// and expects the sweep to count it. Disarming the block clears the sweep.
func Test_GuardLedger_SweepFindsOverruns(t *testing.T) {
	g := newGuardLedger()

	b1 := make([]uint64, 8)
	b2 := make([]uint64, 8)
	b3 := make([]uint64, 16)
	g.arm(b1)
	g.arm(b2)
	g.arm(b3)
	require.Equal(t, 3, g.count())
	require.NoError(t, g.verifyAll())

	b2[len(b2)-1] = 0xDEAD
	err := g.verifyAll()
	require.ErrorIs(t, err, ErrGuardCorrupt)
	require.Contains(t, err.Error(), "1 of 3")

	g.disarm(b2)
	require.Equal(t, 2, g.count())
	require.NoError(t, g.verifyAll())
}

// Test_GuardLedger_CanaryDependsOnSize pins that equal-sized blocks share a
// canary while different sizes do not, so a size mixup shows up as
// corruption.
func Test_GuardLedger_CanaryDependsOnSize(t *testing.T) {
	require.Equal(t, guardCanary(8), guardCanary(8))
	require.NotEqual(t, guardCanary(8), guardCanary(16))
}
