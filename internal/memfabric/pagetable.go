// Package memfabric implements the runtime's in-process memory primitives:
// the paged KV store, the per-request arena allocator, resource-limit
// accounting, and the prompt/output caches layered on top of them.
//
// None of these structures model real tensor data — per the backend trait's
// contract, actual key/value tensors live wherever the loaded backend keeps
// them. What lives here is the bookkeeping the spec assigns to the runtime
// itself: page accounting and budget enforcement, not kernel math.
package memfabric

import (
	"errors"
	"sync"
)

// TokensPerPage is the fixed capacity of one KV page, per the spec's data
// model.
const TokensPerPage = 16

// ErrBudgetExceeded is returned by [PageTable.Append] when honoring the
// request would allocate past the table's configured byte budget. The table
// is left unchanged.
var ErrBudgetExceeded = errors.New("memfabric: page table byte budget exceeded")

// pageID is an internal page handle; never exposed outside this package.
type pageID uint64

// page is one fixed-capacity slot of TokensPerPage token positions. It
// tracks only occupancy, not tensor contents.
type page struct {
	id     pageID
	seq    uint64 // owning sequence id; 0 when in the free list
	filled int    // tokens currently occupying this page, 0..TokensPerPage
}

// PageTable maps (sequence_id, logical_token_position) to physical pages of
// TokensPerPage tokens, per the spec's §4.6. Pages are recycled through a
// free list when a sequence terminates, and total allocation is capped by a
// byte budget so a runaway sequence reports back-pressure instead of
// growing without bound.
type PageTable struct {
	bytesPerPage int64
	maxBytes     int64

	mu        sync.Mutex
	usedBytes int64
	nextID    pageID
	freeList  []*page
	sequences map[uint64][]*page
}

// NewPageTable creates a [PageTable] bounded at maxBytes total allocation,
// where each page costs bytesPerToken * TokensPerPage bytes regardless of
// how many of its slots are actually filled (a page is reserved whole, the
// same way the spec's allocator reserves fixed-size pages).
func NewPageTable(maxBytes int64, bytesPerToken int64) *PageTable {
	return &PageTable{
		bytesPerPage: bytesPerToken * TokensPerPage,
		maxBytes:     maxBytes,
		sequences:    make(map[uint64][]*page),
	}
}

// Append reserves capacity for n more tokens in sequenceID's page chain,
// allocating new pages (from the free list first, then fresh) as needed. It
// either fully succeeds or leaves the table completely unchanged — there is
// no partial append.
func (t *PageTable) Append(sequenceID uint64, n int) error {
	if n <= 0 {
		return nil
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	chain := t.sequences[sequenceID]

	pagesNeeded := 0
	tailSpace := 0
	if len(chain) > 0 {
		tailSpace = TokensPerPage - chain[len(chain)-1].filled
	}
	if remaining := n - tailSpace; remaining > 0 {
		pagesNeeded = (remaining + TokensPerPage - 1) / TokensPerPage
	}

	newBytes := int64(pagesNeeded) * t.bytesPerPage
	if t.maxBytes > 0 && t.usedBytes+newBytes > t.maxBytes {
		return ErrBudgetExceeded
	}

	left := n
	if len(chain) > 0 {
		tail := chain[len(chain)-1]
		space := TokensPerPage - tail.filled
		take := min(space, left)
		tail.filled += take
		left -= take
	}
	for left > 0 {
		p := t.allocatePage(sequenceID)
		take := min(TokensPerPage, left)
		p.filled = take
		left -= take
		chain = append(chain, p)
	}
	t.sequences[sequenceID] = chain
	t.usedBytes += newBytes
	return nil
}

// allocatePage pops a page from the free list if one is available,
// otherwise mints a new one. Must be called with t.mu held.
func (t *PageTable) allocatePage(sequenceID uint64) *page {
	n := len(t.freeList)
	if n > 0 {
		p := t.freeList[n-1]
		t.freeList = t.freeList[:n-1]
		p.seq = sequenceID
		p.filled = 0
		return p
	}
	t.nextID++
	return &page{id: t.nextID, seq: sequenceID}
}

// Release returns every page owned by sequenceID to the free list and frees
// its accounted bytes. Safe to call on a sequence with no pages (no-op).
func (t *PageTable) Release(sequenceID uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	chain, ok := t.sequences[sequenceID]
	if !ok {
		return
	}
	delete(t.sequences, sequenceID)
	t.usedBytes -= int64(len(chain)) * t.bytesPerPage
	for _, p := range chain {
		p.seq = 0
		p.filled = 0
		t.freeList = append(t.freeList, p)
	}
}

// UsedBytes reports the table's current total allocation.
func (t *PageTable) UsedBytes() int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.usedBytes
}

// PageCount reports how many pages are currently allocated to sequenceID.
func (t *PageTable) PageCount(sequenceID uint64) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.sequences[sequenceID])
}
