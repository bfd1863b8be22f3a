package xpersist

import (
	"fmt"
	"sync/atomic"
	"unsafe"

	"golang.org/x/sys/unix"
)

// HandleWrite implements handle_write(addr): the operation a SIGSEGV
// handler would invoke after confirming in_range(addr). Since fault
// delivery is an external collaborator's concern (see spec's
// concurrency model), callers invoke this directly with the faulting
// address — a real interposition layer would do the same thing from
// inside its signal handler.
func (r *Region) HandleWrite(addr uintptr, tid uint32) error {
	if !r.InRange(addr) {
		return fmt.Errorf("xpersist: handle write %#x: %w", addr, ErrOutOfRange)
	}

	pageStart := addr &^ uintptr(PageSize-1)
	pageNo := int((pageStart - r.workingBase) / uintptr(PageSize))

	pageBytes := unsafe.Slice((*byte)(unsafe.Pointer(pageStart)), PageSize)

	if err := mprotectFunc(pageBytes, unix.PROT_READ|unix.PROT_WRITE); err != nil {
		return fmt.Errorf("xpersist: handle write: mprotect: %w", err)
	}

	pi, err := r.pages.alloc()
	if err != nil {
		return fmt.Errorf("xpersist: handle write: %w", err)
	}
	pi.pageNo = pageNo
	pi.pageStart = pageStart
	pi.alloced = false

	// Force the kernel's COW fault to resolve now, through an ordering
	// barrier the compiler cannot elide, so the snapshot below reads
	// the materialized private page rather than racing the fault.
	firstWord := (*uint64)(unsafe.Pointer(pageStart))
	atomic.StoreUint64(firstWord, atomic.LoadUint64(firstWord))

	origTwin, err := r.twins.allocPage()
	if err != nil {
		return fmt.Errorf("xpersist: handle write: %w", err)
	}
	copy(origTwin, pageBytes)
	pi.origTwin = origTwin

	origUsers := atomic.AddUint32(&r.counters.pageUsers[pageNo], 1) - 1
	pi.shared = origUsers != 0

	r.dirty.insert(pageNo, pi)
	return nil
}
