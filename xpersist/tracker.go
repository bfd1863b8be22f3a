package xpersist

import "sync/atomic"

// Tracker receives a region's final instrumentation state when the
// caller invokes Region.Finalize; Close does not call it. A Region with no Tracker installed still
// performs all instrumentation bookkeeping; Finalize simply has
// nowhere to send the result.
//
// The core never calls Tracker per-word or per-sample: PeriodicCheck
// and Commit run on whatever cadence the host's interposition layer
// chooses, often per lock acquire/release across many processes, and
// a callback on every sampled word would put attribution-reporter
// code on that hot path. Finalize's Snapshot already carries the full
// word-owner and cache-invalidate tables, which is everything a
// Tracker needs to reconstruct per-word or per-line detail after the
// fact, the way the attribution package's HotspotReporter does.
type Tracker interface {
	// Finalize is called by Region.Finalize with the full snapshot of counters accumulated over the
	// region's lifetime.
	Finalize(snap Snapshot)
}

// Snapshot is the final, read-only view of a region's instrumentation
// state, handed to Tracker.Finalize and encodable with EncodeSnapshot.
type Snapshot struct {
	RegionKind    RegionKind
	Size          int
	NumPages      int
	NumCacheLines int
	NumWords      int

	PageUsers        []uint32
	CacheInvalidates []uint64
	WordOwners       []WordChange
}

// WordChange is one entry of a Snapshot's final word-ownership table.
type WordChange struct {
	WordIndex int
	LineIndex int
	Tid       uint16
	Version   uint16
}

// Snapshot captures the region's current counters into an immutable
// value safe to hand to a Tracker or encode to a file after the
// region itself is closed.
func (r *Region) Snapshot() Snapshot {
	c := r.counters
	snap := Snapshot{
		RegionKind:       r.kind,
		Size:             r.size,
		NumPages:         c.NumPages(),
		NumCacheLines:    c.NumCacheLines(),
		NumWords:         c.NumWords(),
		PageUsers:        make([]uint32, c.NumPages()),
		CacheInvalidates: make([]uint64, c.NumCacheLines()),
	}
	for i := range snap.PageUsers {
		snap.PageUsers[i] = atomic.LoadUint32(&c.pageUsers[i])
	}
	for i := range snap.CacheInvalidates {
		snap.CacheInvalidates[i] = atomic.LoadUint64(&c.cacheInvalidates[i])
	}

	wordsPerLine := CacheLineSize / wordSize
	for w := 0; w < c.NumWords(); w++ {
		tid, version := c.wordOwner(w)
		if version == 0 {
			continue
		}
		snap.WordOwners = append(snap.WordOwners, WordChange{
			WordIndex: w,
			LineIndex: w / wordsPerLine,
			Tid:       tid,
			Version:   version,
		})
	}
	return snap
}

// Finalize reports the region's final snapshot to its installed
// Tracker, if any, and is the last operation a caller should perform
// on a region before Close.
func (r *Region) Finalize() {
	if r.tracker == nil {
		return
	}
	r.tracker.Finalize(r.Snapshot())
}
