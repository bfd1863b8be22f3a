package xpersist

import (
	"sync/atomic"
	"unsafe"
)

// PeriodicCheck implements periodic_check: called between
// transactions (the interposition layer decides cadence — typically
// at each lock acquire/release) to sample every page currently in the
// dirty set for cross-process write activity.
func (r *Region) PeriodicCheck(tid uint32) error {
	for _, pi := range r.dirty.entries() {
		if !pi.shared {
			if atomic.LoadUint32(&r.counters.pageUsers[pi.pageNo]) == 1 {
				continue
			}
			pi.shared = true
		}

		createTemp := false
		if !pi.alloced {
			tempTwin, err := r.twins.allocPage()
			if err != nil {
				return err
			}
			wordChanges, err := r.twins.allocWordChanges()
			if err != nil {
				return err
			}
			pi.tempTwin = tempTwin
			pi.wordChanges = wordChanges
			pi.alloced = true
			createTemp = true
		}

		r.recordChangesAndUpdate(pi, createTemp, tid)
	}
	return nil
}

// recordChangesAndUpdate implements record_changes_and_update(page,
// create_temp).
func (r *Region) recordChangesAndUpdate(pi *pageInfo, createTemp bool, tid uint32) {
	working := unsafe.Slice((*uint64)(unsafe.Pointer(pi.pageStart)), PageSize/wordSize)

	if createTemp {
		copy(sliceAsWords(pi.tempTwin), working)
		return
	}

	twin := sliceAsWords(pi.tempTwin)
	lineBase := pi.pageNo * (PageSize / CacheLineSize)
	lastCacheNo := -1

	for i, w := range working {
		if w == twin[i] {
			continue
		}
		pi.wordChanges[i]++

		cacheNo := i / WordsPerCacheLine
		if cacheNo != lastCacheNo {
			r.counters.recordCacheInvalidates(lineBase+cacheNo, int32(tid))
			lastCacheNo = cacheNo
		}

		twin[i] = w
	}
}

// sliceAsWords reinterprets a page-sized byte buffer as a uint64
// slice, matching the word size used for word-change tracking.
func sliceAsWords(b []byte) []uint64 {
	return unsafe.Slice((*uint64)(unsafe.Pointer(&b[0])), len(b)/wordSize)
}
