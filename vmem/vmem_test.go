package vmem

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func Test_HeapMapper_ReserveAndUse(t *testing.T) {
	m := NewHeapMapper()
	r, err := m.Reserve(1024)
	require.NoError(t, err)
	require.Equal(t, uint64(1024), r.Size())
	require.Len(t, r.Words(), 1024)

	require.NoError(t, r.Commit(0, 512))
	w := r.Words()
	for i := 0; i < 512; i++ {
		w[i] = uint64(i) + 1
	}
	require.Equal(t, uint64(512), w[511])
}

func Test_HeapMapper_UncommitZeroesRange(t *testing.T) {
	m := NewHeapMapper()
	r, err := m.Reserve(256)
	require.NoError(t, err)

	w := r.Words()
	require.NoError(t, r.Commit(0, 256))
	for i := range w {
		w[i] = 0xDEADBEEF
	}

	require.NoError(t, r.Uncommit(64, 64))
	for i := 64; i < 128; i++ {
		require.Zero(t, w[i], "word %d should be zeroed by uncommit", i)
	}
	require.Equal(t, uint64(0xDEADBEEF), w[63])
	require.Equal(t, uint64(0xDEADBEEF), w[128])
}

func Test_HeapMapper_RangeChecks(t *testing.T) {
	m := NewHeapMapper()
	r, err := m.Reserve(100)
	require.NoError(t, err)

	require.ErrorIs(t, r.Commit(101, 1), ErrBadRange)
	require.ErrorIs(t, r.Commit(50, 51), ErrBadRange)
	require.ErrorIs(t, r.Uncommit(100, 1), ErrBadRange)
	require.NoError(t, r.Commit(100, 0))
}

func Test_HeapMapper_ReleaseInvalidatesReservation(t *testing.T) {
	m := NewHeapMapper()
	r, err := m.Reserve(64)
	require.NoError(t, err)

	require.NoError(t, r.Release())
	require.ErrorIs(t, r.Commit(0, 8), ErrReleased)
	require.ErrorIs(t, r.Uncommit(0, 8), ErrReleased)
	require.ErrorIs(t, r.Release(), ErrReleased)
	require.Nil(t, r.Words())
}
