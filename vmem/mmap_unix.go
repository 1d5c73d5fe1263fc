//go:build linux || darwin

package vmem

import (
	"fmt"
	"os"
	"unsafe"

	"golang.org/x/sys/unix"
)

// sysMapper reserves with anonymous PROT_NONE mappings and flips protection
// per range on commit. Reservations therefore cost address space only until
// ranges are committed.
type sysMapper struct {
	pageSize uint64
}

// NewSystemMapper returns the mmap-backed Mapper. Commit and uncommit ranges
// must be page-aligned once converted to bytes; the default commit granule
// (64 KiB) satisfies that on every supported platform.
func NewSystemMapper() Mapper {
	return &sysMapper{pageSize: uint64(os.Getpagesize())}
}

func (m *sysMapper) Reserve(words uint64) (Reservation, error) {
	nbytes := words * WordBytes
	if nbytes == 0 || nbytes/WordBytes != words {
		return nil, ErrBadRange
	}
	raw, err := unix.Mmap(-1, 0, int(nbytes), unix.PROT_NONE,
		unix.MAP_ANON|unix.MAP_PRIVATE)
	if err != nil {
		return nil, fmt.Errorf("%w: mmap %d bytes: %v", ErrReserveFailed, nbytes, err)
	}
	return &sysReservation{
		mapper: m,
		raw:    raw,
		words:  unsafe.Slice((*uint64)(unsafe.Pointer(&raw[0])), words),
	}, nil
}

type sysReservation struct {
	mapper *sysMapper
	raw    []byte
	words  []uint64
}

func (r *sysReservation) Words() []uint64 { return r.words }

func (r *sysReservation) Size() uint64 { return uint64(len(r.words)) }

// byteRange converts a word range to the backing byte range, enforcing page
// alignment so mprotect cannot silently widen the range.
func (r *sysReservation) byteRange(offsetWords, lenWords uint64) ([]byte, error) {
	if r.raw == nil {
		return nil, ErrReleased
	}
	if err := checkRange(r.Size(), offsetWords, lenWords); err != nil {
		return nil, err
	}
	off := offsetWords * WordBytes
	n := lenWords * WordBytes
	if off%r.mapper.pageSize != 0 || n%r.mapper.pageSize != 0 {
		return nil, fmt.Errorf("%w: offset %d len %d bytes not page aligned", ErrBadRange, off, n)
	}
	return r.raw[off : off+n], nil
}

func (r *sysReservation) Commit(offsetWords, lenWords uint64) error {
	if lenWords == 0 {
		return nil
	}
	seg, err := r.byteRange(offsetWords, lenWords)
	if err != nil {
		return err
	}
	if err := unix.Mprotect(seg, unix.PROT_READ|unix.PROT_WRITE); err != nil {
		return fmt.Errorf("vmem: mprotect rw: %w", err)
	}
	return nil
}

func (r *sysReservation) Uncommit(offsetWords, lenWords uint64) error {
	if lenWords == 0 {
		return nil
	}
	seg, err := r.byteRange(offsetWords, lenWords)
	if err != nil {
		return err
	}
	if err := unix.Madvise(seg, unix.MADV_DONTNEED); err != nil {
		return fmt.Errorf("vmem: madvise dontneed: %w", err)
	}
	if err := unix.Mprotect(seg, unix.PROT_NONE); err != nil {
		return fmt.Errorf("vmem: mprotect none: %w", err)
	}
	return nil
}

func (r *sysReservation) Release() error {
	if r.raw == nil {
		return ErrReleased
	}
	raw := r.raw
	r.raw = nil
	r.words = nil
	if err := unix.Munmap(raw); err != nil {
		return fmt.Errorf("vmem: munmap: %w", err)
	}
	return nil
}
