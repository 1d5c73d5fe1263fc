//go:build linux || darwin

package vmem

import (
	"os"
	"testing"

	"github.com/stretchr/testify/require"
)

func Test_SystemMapper_CommitWriteUncommitCycle(t *testing.T) {
	page := uint64(os.Getpagesize())
	pageWords := page / WordBytes

	m := NewSystemMapper()
	r, err := m.Reserve(8 * pageWords)
	require.NoError(t, err)
	defer func() { _ = r.Release() }()

	// Commit two pages and write through the word view.
	require.NoError(t, r.Commit(0, 2*pageWords))
	w := r.Words()
	for i := uint64(0); i < 2*pageWords; i++ {
		w[i] = uint64(i)
	}
	require.Equal(t, uint64(2*pageWords-1), w[2*pageWords-1])

	// Uncommitted-then-recommitted pages read as zero.
	require.NoError(t, r.Uncommit(0, pageWords))
	require.NoError(t, r.Commit(0, pageWords))
	require.Zero(t, w[0])
	require.Zero(t, w[pageWords-1])

	// The second page kept its content.
	require.Equal(t, pageWords, w[pageWords])
}

func Test_SystemMapper_RejectsUnalignedRanges(t *testing.T) {
	page := uint64(os.Getpagesize())
	pageWords := page / WordBytes

	m := NewSystemMapper()
	r, err := m.Reserve(4 * pageWords)
	require.NoError(t, err)
	defer func() { _ = r.Release() }()

	require.ErrorIs(t, r.Commit(1, pageWords), ErrBadRange)
	require.ErrorIs(t, r.Commit(0, pageWords-1), ErrBadRange)
	require.ErrorIs(t, r.Commit(0, 5*pageWords), ErrBadRange)
}

func Test_SystemMapper_ReleaseUnmaps(t *testing.T) {
	page := uint64(os.Getpagesize())
	pageWords := page / WordBytes

	m := NewSystemMapper()
	r, err := m.Reserve(pageWords)
	require.NoError(t, err)

	require.NoError(t, r.Release())
	require.ErrorIs(t, r.Commit(0, pageWords), ErrReleased)
	require.ErrorIs(t, r.Release(), ErrReleased)
}
