package xpersist

import (
	"unsafe"

	"golang.org/x/sys/cpu"
)

// Commit implements commit(do_checking): called at a transaction-end
// boundary, merging every page in the dirty set into the master
// mapping. When doChecking is true, pages that were both shared and
// sampled (alloced) go through the full instrumentation path instead
// of the plain diff merge.
func (r *Region) Commit(doChecking bool, tid uint32) {
	for _, pi := range r.dirty.entries() {
		working := unsafe.Slice((*byte)(unsafe.Pointer(pi.pageStart)), PageSize)
		master := r.masterSlice()[pi.pageNo*PageSize : (pi.pageNo+1)*PageSize]

		if doChecking && pi.shared && pi.alloced {
			r.checkCommitPage(pi, working, master, tid)
			continue
		}
		commitPageDiffs(working, pi.origTwin, master)
	}
}

// commitPageDiffs implements commit_page_diffs(local, twin, page): a
// byte-level masked merge into master. Bytes equal between local and
// twin are left untouched in master, preserving concurrent
// other-process writes to bytes this process never modified.
func commitPageDiffs(local, twin, master []byte) {
	if cpu.X86.HasSSE2 {
		commitPageDiffsSSE(local, twin, master)
		return
	}
	commitPageDiffsScalar(local, twin, master)
}

// commitPageDiffsScalar walks byte-by-byte. Kept as the fallback and
// as the reference the SIMD form must agree with.
func commitPageDiffsScalar(local, twin, master []byte) {
	for i := range local {
		if local[i] != twin[i] {
			master[i] = local[i]
		}
	}
}

// commitPageDiffsSSE merges in machine-word lanes on platforms with
// SSE2, matching the original's 16-byte masked-store form in spirit
// without hand-written assembly: Go gives no portable intrinsic for a
// masked SSE store, so this compares a word at a time to skip
// unchanged words quickly, then stores only the differing bytes of a
// changed word, agreeing byte for byte with the scalar form.
func commitPageDiffsSSE(local, twin, master []byte) {
	words := len(local) / wordSize
	localW := unsafe.Slice((*uint64)(unsafe.Pointer(&local[0])), words)
	twinW := unsafe.Slice((*uint64)(unsafe.Pointer(&twin[0])), words)

	for i := 0; i < words; i++ {
		if localW[i] == twinW[i] {
			continue
		}
		for b := i * wordSize; b < (i+1)*wordSize; b++ {
			if local[b] != twin[b] {
				master[b] = local[b]
			}
		}
	}
	for i := words * wordSize; i < len(local); i++ {
		if local[i] != twin[i] {
			master[i] = local[i]
		}
	}
}

// checkCommitPage implements check_commit_page(page): the full
// instrumentation path run when a page was both shared across
// processes and sampled at least once during the transaction.
func (r *Region) checkCommitPage(pi *pageInfo, working, master []byte, tid uint32) {
	workingW := sliceAsWords(working)
	origW := sliceAsWords(pi.origTwin)
	tempW := sliceAsWords(pi.tempTwin)
	masterW := sliceAsWords(master)

	lineBase := pi.pageNo * (PageSize / CacheLineSize)
	lastCacheNo := -1
	worker16 := uint16(tid)

	for i, w := range workingW {
		if w == origW[i] {
			if pi.wordChanges[i] != 0 {
				r.counters.recordWordChanges(globalWordIndex(pi.pageNo, i), worker16, uint16(pi.wordChanges[i]))
			}
			continue
		}

		cacheNo := i / WordsPerCacheLine
		if cacheNo != lastCacheNo {
			r.counters.recordCacheInvalidates(lineBase+cacheNo, int32(tid))
			lastCacheNo = cacheNo
		}

		delta := uint16(pi.wordChanges[i])
		if w != tempW[i] {
			delta++
		}
		r.counters.recordWordChanges(globalWordIndex(pi.pageNo, i), worker16, delta)

		masterW[i] = w
	}
}

func globalWordIndex(pageNo, wordInPage int) int {
	return pageNo*(PageSize/wordSize) + wordInPage
}
