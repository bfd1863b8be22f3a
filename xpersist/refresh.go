package xpersist

import (
	"unsafe"

	"golang.org/x/sys/unix"
)

// Begin implements update_all: called at transaction start. Walks the
// dirty set in page-number order, batches maximal runs of contiguous
// pages, and drops each run's private copy in one madvise+mprotect
// pair before returning twins and page entries to their pools.
//
// Batching is a throughput optimization only; correctness is
// identical to refreshing one page at a time.
func (r *Region) Begin() error {
	pages := r.dirty.sorted()

	i := 0
	for i < len(pages) {
		runStart := pages[i]
		j := i + 1
		for j < len(pages) && pages[j] == pages[j-1]+1 {
			j++
		}
		runLen := j - i

		addr := r.workingBase + uintptr(runStart*PageSize)
		length := runLen * PageSize

		if err := madviseFunc(addr, length, unix.MADV_DONTNEED); err != nil {
			return err
		}
		if err := mprotectFunc(addrSlice(addr, length), unix.PROT_READ); err != nil {
			return err
		}

		i = j
	}

	r.dirty.clear()
	r.pages.cleanup()
	r.twins.cleanup()
	return nil
}

// addrSlice views length bytes starting at addr as a byte slice, for
// handing raw mapped ranges to unix.Mprotect.
func addrSlice(addr uintptr, length int) []byte {
	return unsafe.Slice((*byte)(unsafe.Pointer(addr)), length)
}
