package metaspace

import (
	"log/slog"

	"github.com/joshuapare/metakit/vmem"
)

// virtualSpaceList is the chunk manager's chain of reserved nodes. New root
// chunks come from the head node until it runs dry, then a fresh node is
// reserved and prepended. All methods run under the chunk manager lock.
type virtualSpaceList struct {
	geo     *geometry
	mapper  vmem.Mapper
	limiter *CommitLimiter
	pool    *chunkHeaderPool
	log     *slog.Logger
	stats   *internalStats

	first    *virtualSpaceNode
	numNodes int
}

func newVirtualSpaceList(geo *geometry, mapper vmem.Mapper, limiter *CommitLimiter,
	pool *chunkHeaderPool, log *slog.Logger, stats *internalStats) *virtualSpaceList {
	return &virtualSpaceList{
		geo:     geo,
		mapper:  mapper,
		limiter: limiter,
		pool:    pool,
		log:     log,
		stats:   stats,
	}
}

// allocateRootChunk returns a free root chunk, reserving a new node when the
// active one is exhausted. Reservation failure is the only error.
func (l *virtualSpaceList) allocateRootChunk() (*Metachunk, error) {
	if l.first != nil {
		if c := l.first.allocateRootChunk(); c != nil {
			return c, nil
		}
	}
	node, err := newVirtualSpaceNode(l.geo, l.mapper, l.limiter, l.pool, l.log, l.stats)
	if err != nil {
		return nil, err
	}
	node.next = l.first
	l.first = node
	l.numNodes++
	return node.allocateRootChunk(), nil
}

// remove unlinks a node, typically just before releasing it.
func (l *virtualSpaceList) remove(node *virtualSpaceNode) {
	for p := &l.first; *p != nil; p = &(*p).next {
		if *p == node {
			*p = node.next
			node.next = nil
			l.numNodes--
			return
		}
	}
	panic("metaspace: node not in list")
}

func (l *virtualSpaceList) forEach(fn func(*virtualSpaceNode)) {
	for n := l.first; n != nil; n = n.next {
		fn(n)
	}
}

func (l *virtualSpaceList) reservedWords() uint64 {
	var total uint64
	l.forEach(func(n *virtualSpaceNode) { total += n.reservedWords() })
	return total
}

func (l *virtualSpaceList) committedWords() uint64 {
	var total uint64
	l.forEach(func(n *virtualSpaceNode) { total += n.committedWords() })
	return total
}

// releaseAll unmaps every node. Only valid once no chunk headers are live.
func (l *virtualSpaceList) releaseAll() error {
	var firstErr error
	for n := l.first; n != nil; {
		next := n.next
		if err := n.release(); err != nil && firstErr == nil {
			firstErr = err
		}
		n = next
	}
	l.first = nil
	l.numNodes = 0
	return firstErr
}
