package xpersist

import "sync/atomic"

// CleanupHeapObject implements cleanup_heap_object(ptr, size): invoked
// by the heap collaborator when an allocation is freed and about to
// be reused. Returns false (refusing to clear instrumentation) when
// any cache line covering the object already shows enough
// invalidations to be worth keeping for the attribution reporter.
func (r *Region) CleanupHeapObject(ptr uintptr, size int) bool {
	if !r.InRange(ptr) {
		return false
	}

	offset := ptr - r.workingBase
	lineStart := int(offset) / CacheLineSize
	lineEnd := (int(offset) + size + CacheLineSize - 1) / CacheLineSize

	for l := lineStart; l < lineEnd; l++ {
		if atomic.LoadUint64(&r.counters.cacheInvalidates[l]) >= MinInvalidatesCare {
			return false
		}
	}

	wordsPerLine := CacheLineSize / wordSize
	for l := lineStart; l < lineEnd; l++ {
		atomic.StoreUint64(&r.counters.cacheInvalidates[l], 0)
		wordStart := l * wordsPerLine
		for w := wordStart; w < wordStart+wordsPerLine; w++ {
			atomic.StoreUint32(&r.counters.wordChanges[w], 0)
		}
	}
	return true
}
