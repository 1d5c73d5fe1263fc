// Package vmem supplies reserved address ranges whose sub-ranges can be
// committed and uncommitted on demand.
//
// A Reservation is reserved address space only: no physical memory is charged
// until a range is committed, and uncommitting a range hands its pages back
// to the operating system while the addresses stay reserved. Callers address
// ranges in 8-byte words, never bytes.
//
// Two implementations exist:
//   - the system mapper (mmap-backed on linux and darwin), used in production
//   - the heap mapper, a plain-slice stand-in that works everywhere and keeps
//     tests deterministic
package vmem

import "errors"

// WordBytes is the size of one allocation word.
const WordBytes = 8

var (
	// ErrBadRange indicates a commit or uncommit range that is out of bounds
	// or not aligned as the implementation requires.
	ErrBadRange = errors.New("vmem: bad commit range")

	// ErrReleased indicates use of a reservation after Release.
	ErrReleased = errors.New("vmem: reservation released")

	// ErrReserveFailed indicates the platform refused to reserve the range.
	ErrReserveFailed = errors.New("vmem: reserve failed")
)

// Reservation is one contiguous range of reserved address space.
//
// Commit and Uncommit are not synchronized; the caller serializes access per
// reservation.
type Reservation interface {
	// Words returns the whole range as a word slice. Only committed
	// sub-ranges may be read or written.
	Words() []uint64

	// Size returns the reservation size in words.
	Size() uint64

	// Commit makes [offsetWords, offsetWords+lenWords) usable.
	Commit(offsetWords, lenWords uint64) error

	// Uncommit returns the physical pages of [offsetWords,
	// offsetWords+lenWords) to the OS. The range reads as zero if it is
	// committed again later.
	Uncommit(offsetWords, lenWords uint64) error

	// Release unmaps the whole reservation. The word slice is dead
	// afterwards.
	Release() error
}

// Mapper reserves address space.
type Mapper interface {
	Reserve(words uint64) (Reservation, error)
}

// checkRange validates bounds shared by all implementations.
func checkRange(size, offsetWords, lenWords uint64) error {
	if offsetWords > size || lenWords > size-offsetWords {
		return ErrBadRange
	}
	return nil
}
