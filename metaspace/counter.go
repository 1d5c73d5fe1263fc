package metaspace

import (
	"fmt"
	"sync/atomic"
)

// SizeCounter is an atomic word counter. One counter instance is typically
// shared between several arenas so a subsystem can watch its aggregate used
// words without walking arenas.
type SizeCounter struct {
	words atomic.Uint64
}

// Add increases the counter by words.
func (c *SizeCounter) Add(words uint64) {
	c.words.Add(words)
}

// Sub decreases the counter by words. Going below zero is a bookkeeping bug
// and panics.
func (c *SizeCounter) Sub(words uint64) {
	if now := c.words.Add(-words); now > now+words {
		panic(fmt.Sprintf("metaspace: size counter underflow (sub %d)", words))
	}
}

// Get returns the current value in words.
func (c *SizeCounter) Get() uint64 {
	return c.words.Load()
}
