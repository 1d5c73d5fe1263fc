package metaspace

import "errors"

var (
	// ErrCommitLimit indicates the commit limiter refused the words needed to
	// satisfy an allocation. The failed operation left all usage numbers
	// unchanged; freeing committed space elsewhere makes retries viable.
	ErrCommitLimit = errors.New("metaspace: commit limit reached")

	// ErrTooLarge indicates a single allocation request exceeding the largest
	// chunk size. No chunk growth is attempted for such requests.
	ErrTooLarge = errors.New("metaspace: allocation exceeds largest chunk size")

	// ErrReserveFailed indicates no address space could be obtained for a new
	// chunk: the free lists were empty and reserving a fresh range failed.
	ErrReserveFailed = errors.New("metaspace: cannot reserve address space")

	// ErrBadSettings indicates invalid Settings passed to NewContext.
	ErrBadSettings = errors.New("metaspace: invalid settings")

	// ErrGuardCorrupt indicates a live allocation's guard word was
	// overwritten. Only returned when allocation guards are enabled.
	ErrGuardCorrupt = errors.New("metaspace: allocation guard corrupted")

	// ErrClosed indicates use of a context after Close.
	ErrClosed = errors.New("metaspace: context closed")
)
