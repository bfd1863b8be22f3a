package xpersist

import (
	"sync/atomic"
	"unsafe"
)

// tidVersionShift packs a worker id into the high 16 bits of a
// wordChanges entry and a version counter into the low 16 bits, the
// same layout the original implementation uses for its per-word
// owner/version word. SharedMark saturates the tid half once more
// than one worker has touched a word.
const tidVersionShift = 16

// packTidVersion combines a worker id and version counter into one
// uint32. It does no clamping itself: the caller passes SharedMark as
// tid once it has detected a second distinct writer.
func packTidVersion(tid, version uint16) uint32 {
	return uint32(tid)<<tidVersionShift | uint32(version)
}

func unpackTidVersion(w uint32) (tid, version uint16) {
	return uint16(w >> tidVersionShift), uint16(w)
}

// GlobalCounters holds the instrumentation state shared across every
// worker mapped over one region: per-page user counts, per-cache-line
// last-touching worker and invalidation counts, and per-word
// owner/version entries used to detect false sharing at sub-line
// granularity.
//
// Per spec.md §5, these arrays are the region's cross-process shared
// state (alongside master itself): backed by a MAP_SHARED mmap buffer
// rather than plain Go slices, so two processes mapping the same
// backing region observe the same counters. countersBacking retains
// the raw mapping only so it can be unmapped in Close; all access
// goes through the typed slices, using sync/atomic's pointer-based
// functions rather than the atomic.Uint32 wrapper type, since the
// wrapper's layout over externally-owned memory is not part of its
// documented contract.
type GlobalCounters struct {
	countersBacking []byte

	pageUsers        []uint32
	cacheLastThread  []int32
	cacheInvalidates []uint64
	wordChanges      []uint32
}

// countersLayout computes the byte size and offsets of each array
// within the shared counters mapping. cacheInvalidates (8-byte
// elements) is placed first so every slice starts 8-byte aligned
// within a page-aligned mmap buffer.
func countersLayout(numPages, numCacheLines, numWords int) (size, invOff, pageOff, lastOff, wordOff int) {
	invOff = 0
	size = numCacheLines * 8
	pageOff = size
	size += numPages * 4
	lastOff = size
	size += numCacheLines * 4
	wordOff = size
	size += numWords * 4
	return
}

// newGlobalCounters allocates a fresh MAP_SHARED|MAP_ANON buffer sized
// for the given counts and slices it into the four typed arrays. Used
// by OpenRegion, where a single process owns the region and no other
// process will ever attach to it, but the layout stays identical to
// the file-backed form AttachRegion uses so the two code paths share
// one implementation.
func newGlobalCounters(numPages, numCacheLines, numWords int) (*GlobalCounters, error) {
	size, invOff, pageOff, lastOff, wordOff := countersLayout(numPages, numCacheLines, numWords)
	if size == 0 {
		size = 1
	}
	buf, err := mmapCountersFunc(size)
	if err != nil {
		return nil, err
	}
	return countersFromBuf(buf, numPages, numCacheLines, numWords, invOff, pageOff, lastOff, wordOff), nil
}

// newGlobalCountersFromFile maps the counters arrays at byte offset
// fileOffset of f, MAP_SHARED, so every process that attaches to f at
// the same offset observes the same backing bytes. Used by
// AttachRegion for genuine multi-process instrumentation sharing.
func newGlobalCountersFromFile(f fileMapper, fileOffset int64, numPages, numCacheLines, numWords int) (*GlobalCounters, error) {
	size, invOff, pageOff, lastOff, wordOff := countersLayout(numPages, numCacheLines, numWords)
	if size == 0 {
		size = 1
	}
	buf, err := mmapCountersAtFunc(f, fileOffset, size)
	if err != nil {
		return nil, err
	}
	return countersFromBuf(buf, numPages, numCacheLines, numWords, invOff, pageOff, lastOff, wordOff), nil
}

func countersFromBuf(buf []byte, numPages, numCacheLines, numWords, invOff, pageOff, lastOff, wordOff int) *GlobalCounters {
	c := &GlobalCounters{countersBacking: buf}
	if numCacheLines > 0 {
		c.cacheInvalidates = unsafe.Slice((*uint64)(unsafe.Pointer(&buf[invOff])), numCacheLines)
		c.cacheLastThread = unsafe.Slice((*int32)(unsafe.Pointer(&buf[lastOff])), numCacheLines)
	}
	if numPages > 0 {
		c.pageUsers = unsafe.Slice((*uint32)(unsafe.Pointer(&buf[pageOff])), numPages)
	}
	if numWords > 0 {
		c.wordChanges = unsafe.Slice((*uint32)(unsafe.Pointer(&buf[wordOff])), numWords)
	}
	return c
}

// NumPages, NumCacheLines and NumWords report the sizes the counters
// were constructed with, mainly useful to attribution reporters that
// want to walk the full arrays.
func (c *GlobalCounters) NumPages() int      { return len(c.pageUsers) }
func (c *GlobalCounters) NumCacheLines() int { return len(c.cacheInvalidates) }
func (c *GlobalCounters) NumWords() int      { return len(c.wordChanges) }

// recordCacheInvalidates implements the per-cache-line dedup rule from
// periodicCheck/recordChangesAndUpdate: a cache line is only charged
// with an invalidation when the worker recording the write differs
// from the last worker recorded against that line. Consecutive writes
// from the same worker to the same line are free.
func (c *GlobalCounters) recordCacheInvalidates(lineNo int, tid int32) (invalidated bool, count uint64) {
	prev := atomic.SwapInt32(&c.cacheLastThread[lineNo], tid)
	if prev == tid || prev == 0 {
		// Same worker re-touching the line, or the first toucher
		// recorded against it (cacheLastThread is never reset between
		// transactions): no true invalidation to blame on anyone yet.
		return false, atomic.LoadUint64(&c.cacheInvalidates[lineNo])
	}
	return true, atomic.AddUint64(&c.cacheInvalidates[lineNo], 1)
}

// recordWordChanges implements record_word_changes(cell, delta): loads
// the (tid, version) cell, resolves ownership (first writer claims it,
// a second distinct writer saturates it to SharedMark), adds delta to
// version with saturation at the field width, and stores back
// atomically. delta is the caller's local_word_changes[i] count, not a
// fixed increment — the ABA case in Commit calls this with the count
// sampled during the transaction, guarded by a !=0 check at the call
// site.
func (c *GlobalCounters) recordWordChanges(wordNo int, tid uint16, delta uint16) {
	const maxVersion = 1<<16 - 1
	ptr := &c.wordChanges[wordNo]
	for {
		old := atomic.LoadUint32(ptr)
		oldTid, oldVersion := unpackTidVersion(old)

		newTid := oldTid
		switch {
		case oldTid == 0:
			newTid = tid
		case oldTid != tid && oldTid != SharedMark:
			newTid = SharedMark
		}

		newVersion := uint32(oldVersion) + uint32(delta)
		if newVersion > maxVersion {
			newVersion = maxVersion
		}

		next := packTidVersion(newTid, uint16(newVersion))
		if atomic.CompareAndSwapUint32(ptr, old, next) {
			return
		}
	}
}

// wordOwner decodes the current owner/version pair for wordNo.
func (c *GlobalCounters) wordOwner(wordNo int) (tid, version uint16) {
	return unpackTidVersion(atomic.LoadUint32(&c.wordChanges[wordNo]))
}

// reset clears all counters for pages/lines/words in [pageStart,
// pageStart+pageCount). Nothing in the package calls it:
// CleanupHeapObject clears its own cache-line range directly.
func (c *GlobalCounters) reset(pageStart, pageCount int) {
	linesPerPage := PageSize / CacheLineSize
	wordsPerPage := PageSize / wordSize

	for p := pageStart; p < pageStart+pageCount && p < len(c.pageUsers); p++ {
		atomic.StoreUint32(&c.pageUsers[p], 0)
	}
	lineStart := pageStart * linesPerPage
	lineEnd := (pageStart + pageCount) * linesPerPage
	for l := lineStart; l < lineEnd && l < len(c.cacheInvalidates); l++ {
		atomic.StoreInt32(&c.cacheLastThread[l], 0)
		atomic.StoreUint64(&c.cacheInvalidates[l], 0)
	}
	wordStart := pageStart * wordsPerPage
	wordEnd := (pageStart + pageCount) * wordsPerPage
	for w := wordStart; w < wordEnd && w < len(c.wordChanges); w++ {
		atomic.StoreUint32(&c.wordChanges[w], 0)
	}
}
