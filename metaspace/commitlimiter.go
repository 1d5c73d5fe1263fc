package metaspace

import (
	"fmt"
	"math"
	"sync/atomic"
)

// CommitLimiter arbitrates committed words against a global cap. All virtual
// space nodes of a context charge the same limiter, so the cap bounds the
// context's total physical footprint regardless of how many reservations
// exist.
//
// Methods are safe for concurrent use.
type CommitLimiter struct {
	capWords  uint64
	committed atomic.Uint64
}

// NewCommitLimiter returns a limiter with the given cap in words. A zero cap
// means unlimited.
func NewCommitLimiter(capWords uint64) *CommitLimiter {
	if capWords == 0 {
		capWords = math.MaxUint64
	}
	return &CommitLimiter{capWords: capWords}
}

// PossibleExpansionWords returns how many more words may be committed before
// the cap is reached.
func (l *CommitLimiter) PossibleExpansionWords() uint64 {
	cur := l.committed.Load()
	if cur >= l.capWords {
		return 0
	}
	return l.capWords - cur
}

// TryCommit attempts to reserve words against the cap. It either succeeds
// fully or changes nothing.
func (l *CommitLimiter) TryCommit(words uint64) bool {
	if words == 0 {
		return true
	}
	for {
		cur := l.committed.Load()
		if words > l.capWords-cur || cur+words < cur {
			return false
		}
		if l.committed.CompareAndSwap(cur, cur+words) {
			return true
		}
	}
}

// Uncommit returns words to the budget. Returning more than is committed is a
// bookkeeping bug and panics.
func (l *CommitLimiter) Uncommit(words uint64) {
	if now := l.committed.Add(-words); now > now+words {
		panic(fmt.Sprintf("metaspace: commit limiter underflow (uncommit %d)", words))
	}
}

// CommittedWords returns the words currently charged against the cap.
func (l *CommitLimiter) CommittedWords() uint64 {
	return l.committed.Load()
}

// CapWords returns the cap. Unlimited limiters report the maximum value.
func (l *CommitLimiter) CapWords() uint64 {
	return l.capWords
}
