package xpersist

import "fmt"

// pageInfo is the per-dirtied-page bookkeeping record described in the
// spec's data model. One is allocated on the first faulting write of
// its page in a transaction and returned to the pool at commit end.
type pageInfo struct {
	pageNo      int
	pageStart   uintptr
	origTwin    []byte   // PageSize bytes, immutable for the transaction
	tempTwin    []byte   // PageSize bytes, present only if alloced
	wordChanges []uint64 // len = PageSize/wordSize, present only if alloced
	shared      bool
	alloced     bool
}

// pagePool is a bounded, process-local freelist of pageInfo records,
// reused per transaction. It is not safe for concurrent use by
// multiple goroutines in the same process — HandleWrite runs on a
// single logical fault path per process, matching the signal-handler
// assumption the original implementation makes about its allocators.
type pagePool struct {
	free []*pageInfo
	used []*pageInfo
	cap  int
}

func newPagePool(capacity int) *pagePool {
	p := &pagePool{cap: capacity}
	p.free = make([]*pageInfo, 0, capacity)
	for i := 0; i < capacity; i++ {
		p.free = append(p.free, &pageInfo{})
	}
	p.used = make([]*pageInfo, 0, capacity)
	return p
}

// alloc takes a pageInfo off the freelist. Returns an error if the
// pool is exhausted — the host program is expected to choose shorter
// transactions rather than retry.
func (p *pagePool) alloc() (*pageInfo, error) {
	if len(p.free) == 0 {
		return nil, fmt.Errorf("xpersist: page pool: %w (capacity %d)", ErrPoolExhausted, p.cap)
	}
	last := len(p.free) - 1
	pi := p.free[last]
	p.free = p.free[:last]
	*pi = pageInfo{}
	p.used = append(p.used, pi)
	return pi, nil
}

// cleanup returns every entry handed out since the last cleanup to the
// freelist. Called at the end of refresh, once the commit/refresh
// cycle for a transaction is complete.
func (p *pagePool) cleanup() {
	p.free = append(p.free, p.used...)
	p.used = p.used[:0]
}

// twinPool is a bounded, process-local pool of page-sized scratch
// buffers, used for orig_twin and temp_twin snapshots and for the
// per-page word-change counters. Backed by one pre-allocated arena so
// twin pages never trigger a per-page heap allocation.
type twinPool struct {
	pageArena  []byte // backs both orig and temp twins, 2*capacity pages
	pageCursor int
	pageCap    int

	wordArena  []uint64 // backs per-page word-change counters, capacity pages
	wordCursor int
	wordCap    int
}

func newTwinPool(capacity int) *twinPool {
	perPage := PageSize / wordSize
	return &twinPool{
		pageArena: make([]byte, 2*capacity*PageSize),
		pageCap:   2 * capacity,
		wordArena: make([]uint64, capacity*perPage),
		wordCap:   capacity,
	}
}

// allocPage returns a fresh, zeroed PageSize buffer from the arena.
// Each dirtied page consumes at most two (orig twin + temp twin).
func (t *twinPool) allocPage() ([]byte, error) {
	if t.pageCursor >= t.pageCap {
		return nil, fmt.Errorf("xpersist: twin pool: %w", ErrPoolExhausted)
	}
	start := t.pageCursor * PageSize
	buf := t.pageArena[start : start+PageSize]
	clear(buf)
	t.pageCursor++
	return buf, nil
}

// allocWordChanges returns a fresh, zeroed word-change counter slice
// sized for one page. Each dirtied page consumes at most one.
func (t *twinPool) allocWordChanges() ([]uint64, error) {
	if t.wordCursor >= t.wordCap {
		return nil, fmt.Errorf("xpersist: twin pool: %w", ErrPoolExhausted)
	}
	perPage := PageSize / wordSize
	start := t.wordCursor * perPage
	buf := t.wordArena[start : start+perPage]
	clear(buf)
	t.wordCursor++
	return buf, nil
}

// cleanup resets both arena cursors, returning all twin buffers and
// word-change counters to the pool at once. Safe because pageInfo
// entries referencing them are always dropped in the same refresh
// pass.
func (t *twinPool) cleanup() {
	t.pageCursor = 0
	t.wordCursor = 0
}
