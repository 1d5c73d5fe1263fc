package vmem

// heapMapper backs reservations with ordinary Go slices. Commit is
// bookkeeping only; Uncommit zeroes the range so stale content cannot leak
// back in, mirroring the zero-fill guarantee of freshly committed pages.
type heapMapper struct{}

// NewHeapMapper returns a Mapper backed by the Go heap. It is the portable
// fallback and the mapper of choice for tests.
func NewHeapMapper() Mapper {
	return heapMapper{}
}

func (heapMapper) Reserve(words uint64) (Reservation, error) {
	return &heapReservation{words: make([]uint64, words)}, nil
}

type heapReservation struct {
	words    []uint64
	released bool
}

func (r *heapReservation) Words() []uint64 { return r.words }

func (r *heapReservation) Size() uint64 { return uint64(len(r.words)) }

func (r *heapReservation) Commit(offsetWords, lenWords uint64) error {
	if r.released {
		return ErrReleased
	}
	return checkRange(r.Size(), offsetWords, lenWords)
}

func (r *heapReservation) Uncommit(offsetWords, lenWords uint64) error {
	if r.released {
		return ErrReleased
	}
	if err := checkRange(r.Size(), offsetWords, lenWords); err != nil {
		return err
	}
	clear(r.words[offsetWords : offsetWords+lenWords])
	return nil
}

func (r *heapReservation) Release() error {
	if r.released {
		return ErrReleased
	}
	r.released = true
	r.words = nil
	return nil
}
