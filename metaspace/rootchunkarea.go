package metaspace

import (
	"fmt"

	"github.com/joshuapare/metakit/metaspace/chunklevel"
)

// rootChunkArea is the buddy tree over one root-chunk-sized range of a
// virtual space node. Its chunks tile the range exactly: splitting replaces a
// chunk with two half-sized neighbors, merging does the reverse. The area
// keeps the address-ordered chunk list those operations need to find buddies.
//
// All mutations run under the chunk manager's lock.
type rootChunkArea struct {
	node      *virtualSpaceNode
	baseWords uint64
	first     *Metachunk
}

// allocRootChunkHeader creates the area's initial root-level chunk.
func (a *rootChunkArea) allocRootChunkHeader(pool *chunkHeaderPool) *Metachunk {
	if a.first != nil {
		panic("metaspace: root chunk area handed out twice")
	}
	c := pool.get()
	c.node = a.node
	c.area = a
	c.baseWords = a.baseWords
	c.level = a.node.geo.rootLevel()
	c.state = chunkFree
	c.refreshCommittedWatermark()
	a.first = c
	return c
}

// split halves c until it reaches target level. Every step's upper half
// becomes a new free chunk on the free lists. c itself stays unlisted and
// keeps its base address.
func (a *rootChunkArea) split(c *Metachunk, target chunklevel.Level, fcl *freeChunkListVector) {
	if target > c.level {
		panic(fmt.Sprintf("metaspace: cannot split %s up to level %d", c, target))
	}
	pool := a.node.pool
	for c.level > target {
		c.level--
		half := c.Capacity()

		buddy := pool.get()
		buddy.node = c.node
		buddy.area = a
		buddy.baseWords = c.baseWords + half
		buddy.level = c.level
		buddy.state = chunkFree

		buddy.prevInArea = c
		buddy.nextInArea = c.nextInArea
		if c.nextInArea != nil {
			c.nextInArea.prevInArea = buddy
		}
		c.nextInArea = buddy

		// The old committed prefix splits at the halfway point.
		if c.committedWords > half {
			c.committedWords = half
		}
		buddy.refreshCommittedWatermark()

		fcl.add(buddy)
		a.node.stats.chunksSplit.Add(1)
	}
}

// merge coalesces c with free buddies as far as possible and returns the
// resulting chunk. c must be free, unlisted and belong to this area; listed
// buddies are pulled off the free lists as they are absorbed.
func (a *rootChunkArea) merge(c *Metachunk, fcl *freeChunkListVector) *Metachunk {
	if c.state != chunkFree || c.usedWords != 0 {
		panic("metaspace: merge of " + c.String())
	}
	pool := a.node.pool
	rootLevel := a.node.geo.rootLevel()

	for c.level < rootLevel {
		var leader, buddy *Metachunk
		if c.isLeader() {
			leader, buddy = c, c.nextInArea
		} else {
			buddy = c.prevInArea
			leader = buddy
		}
		if buddy == nil || buddy.level != c.level || !buddy.IsFree() {
			break
		}

		fcl.remove(buddy)
		follower := leader.nextInArea
		leader.nextInArea = follower.nextInArea
		if follower.nextInArea != nil {
			follower.nextInArea.prevInArea = leader
		}
		pool.put(follower)

		leader.level++
		leader.state = chunkFree
		leader.usedWords = 0
		leader.refreshCommittedWatermark()
		a.node.stats.chunksMerged.Add(1)
		c = leader
	}
	return c
}

// attemptEnlarge doubles c in place by absorbing its buddy. Possible only
// when c is the leader of its pair and the buddy is a free, unsplit chunk of
// the same level. The caller keeps every pointer into c: the base address
// does not move.
func (a *rootChunkArea) attemptEnlarge(c *Metachunk, fcl *freeChunkListVector) bool {
	if c.level >= a.node.geo.rootLevel() || !c.isLeader() {
		return false
	}
	buddy := c.nextInArea
	if buddy == nil || buddy.level != c.level || !buddy.IsFree() {
		return false
	}

	fcl.remove(buddy)
	c.nextInArea = buddy.nextInArea
	if buddy.nextInArea != nil {
		buddy.nextInArea.prevInArea = c
	}
	a.node.pool.put(buddy)

	c.level++
	c.refreshCommittedWatermark()
	a.node.stats.chunksEnlarged.Add(1)
	return true
}

// isFullyFree reports whether the area has collapsed back to one free root
// chunk (or was never handed out).
func (a *rootChunkArea) isFullyFree() bool {
	if a.first == nil {
		return true
	}
	return a.first.nextInArea == nil && a.first.IsFree()
}

// forEachChunk visits the area's chunks in address order.
func (a *rootChunkArea) forEachChunk(fn func(*Metachunk)) {
	for c := a.first; c != nil; c = c.nextInArea {
		fn(c)
	}
}
