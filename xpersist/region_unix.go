//go:build unix

package xpersist

import (
	"errors"
	"fmt"
	"os"
	"runtime"
	"sync/atomic"
	"unsafe"

	"github.com/google/uuid"
	"golang.org/x/sys/unix"
)

// RegionKind distinguishes the two shapes of persistent region the
// spec defines: a heap region created empty, and a globals region
// overlaid on an existing address range.
type RegionKind int

const (
	// HeapRegion is created empty and anonymous.
	HeapRegion RegionKind = iota
	// GlobalsRegion is initialized from an existing address range
	// whose contents are copied into the master mapping before the
	// working mapping overlays (and destroys) the original bytes.
	GlobalsRegion
)

func (k RegionKind) String() string {
	if k == GlobalsRegion {
		return "globals"
	}
	return "heap"
}

// functions can be overridden for testing, mirroring the seam the
// teacher uses for its own syscall wrappers.
var mmapAnonFunc = unix.Mmap
var mmapFixedFunc = mmapFixed
var mprotectFunc = unix.Mprotect
var madviseFunc = madviseAt
var msyncSyscall = msyncAt
var munmapFunc = munmapAt
var regionFinalizerFunc = regionFinalizer
var mmapCountersFunc = mmapCountersAnon
var mmapCountersAtFunc = mmapCountersAt

// fileMapper is the subset of *os.File that counters mapping needs;
// a named interface so newGlobalCountersFromFile doesn't have to
// import os itself.
type fileMapper interface {
	Fd() uintptr
}

// mmapCountersAnon maps an anonymous MAP_SHARED buffer for a region's
// counters. MAP_SHARED (rather than MAP_PRIVATE) is used even for the
// single-process OpenRegion path so the layout and access pattern are
// identical to the AttachRegion, file-backed case.
func mmapCountersAnon(size int) ([]byte, error) {
	return unix.Mmap(-1, 0, pageAlign(size), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED|unix.MAP_ANON)
}

// mmapCountersAt maps a region's counters at byte offset off of f,
// MAP_SHARED, so every process attaching to f at the same offset
// observes the same bytes.
func mmapCountersAt(f fileMapper, off int64, size int) ([]byte, error) {
	return unix.Mmap(int(f.Fd()), off, pageAlign(size), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
}

// pageAlign rounds n up to the nearest page boundary. n <= 0 is
// clamped to one page, since nothing can be mapped with zero length.
func pageAlign(n int) int {
	if n <= 0 {
		return PageSize
	}
	return ((n-1)/PageSize + 1) * PageSize
}

// Region owns the dual mapping over one backing file: a master
// mapping (always shared, RW, kernel-chosen address, mutated only by
// the commit engine) and a working mapping (the program's public
// base, toggled between private-COW and shared across transactions).
//
// OpenRegion creates the backing file with a unique name, truncates
// it to size, and unlinks it immediately; AttachRegion instead keeps
// the caller's path on disk so other processes can open it.
// "Persistent" here means shared across cooperating worker processes,
// not durable across process exit.
type Region struct {
	kind        RegionKind
	backingFile *os.File

	masterBase  uintptr
	workingBase uintptr
	reserveVA   int
	size        int // fixed bound N, chosen at construction

	protected atomic.Bool

	pages    *pagePool
	twins    *twinPool
	counters *GlobalCounters
	dirty    *dirtyPageSet
	tracker  Tracker
}

// OpenRegion creates a backing file of exactly n bytes and establishes
// the master/working dual mapping over it.
//
// If init is non-nil (the globals case), its bytes are copied into the
// master mapping before the working mapping overlays init's own
// address range — which destroys init's original contents, exactly as
// the spec requires. init must come from memory the Go runtime will
// never move or garbage collect out from under the overlay (e.g. a
// slice obtained from another Region, or a raw anonymous mmap); a
// plain heap-allocated []byte is not a valid init argument.
//
// There is no soft recovery path: a mapping failure here means the
// program cannot run, so OpenRegion returns an error for the caller to
// treat as fatal rather than looping or retrying.
func OpenRegion(n int, init []byte, opts ...RegionOption) (*Region, error) {
	if n <= 0 {
		return nil, fmt.Errorf("xpersist: open region: invalid size %d", n)
	}

	cfg := applyRegionOptions(opts)

	f, err := tempBackingFile()
	if err != nil {
		return nil, fmt.Errorf("xpersist: open region: %w", err)
	}
	if err := f.Truncate(int64(n)); err != nil {
		closeErr := f.Close()
		return nil, errors.Join(
			fmt.Errorf("xpersist: truncate backing file: %w", err),
			closeErr,
		)
	}

	master, err := mmapAnonFunc(int(f.Fd()), 0, n, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		closeErr := f.Close()
		return nil, errors.Join(
			fmt.Errorf("xpersist: map master: %w", err),
			closeErr,
		)
	}
	masterBase := uintptr(unsafe.Pointer(&master[0]))

	kind := HeapRegion
	var workingBase uintptr
	reserveVA := cfg.reserveVA

	if init != nil {
		if len(init) < n {
			closeErr := f.Close()
			return nil, errors.Join(
				fmt.Errorf("xpersist: globals init %d bytes too small for region of %d bytes", len(init), n),
				closeErr,
			)
		}
		copy(master, init[:n])
		kind = GlobalsRegion
		workingBase = uintptr(unsafe.Pointer(&init[0]))
	} else {
		aligned := pageAlign(n)
		if reserveVA < aligned {
			reserveVA = aligned
		}
		reserveVA = pageAlign(reserveVA)

		reserved, err := mmapAnonFunc(-1, 0, reserveVA, unix.PROT_NONE, unix.MAP_PRIVATE|unix.MAP_ANON)
		if err != nil {
			closeErr := f.Close()
			return nil, errors.Join(
				fmt.Errorf("xpersist: reserve %d bytes VA: %w", reserveVA, err),
				closeErr,
			)
		}
		workingBase = uintptr(unsafe.Pointer(&reserved[0]))
	}

	if err := mmapFixedFunc(workingBase, n, f, true); err != nil {
		closeErr := f.Close()
		return nil, errors.Join(
			fmt.Errorf("xpersist: map working: %w", err),
			closeErr,
		)
	}

	numPages, numCacheLines, numWords := regionCounterCounts(n)

	counters, err := newGlobalCounters(numPages, numCacheLines, numWords)
	if err != nil {
		closeErr := f.Close()
		return nil, errors.Join(fmt.Errorf("xpersist: open region: counters: %w", err), closeErr)
	}

	r := &Region{
		kind:        kind,
		backingFile: f,
		masterBase:  masterBase,
		workingBase: workingBase,
		reserveVA:   reserveVA,
		size:        n,
		pages:       newPagePool(cfg.maxDirtyPages),
		twins:       newTwinPool(cfg.maxDirtyPages),
		counters:    counters,
		dirty:       newDirtyPageSet(),
		tracker:     cfg.tracker,
	}

	runtime.SetFinalizer(r, regionFinalizerFunc)
	return r, nil
}

// regionCounterCounts derives the instrumentation array sizes from a
// region's fixed byte length n.
func regionCounterCounts(n int) (numPages, numCacheLines, numWords int) {
	numPages = n / PageSize
	if n%PageSize != 0 {
		numPages++
	}
	numCacheLines = numPages * PageSize / CacheLineSize
	numWords = numPages * PageSize / wordSize
	return
}

// AttachRegion opens (creating if necessary) the file at path and
// establishes the same master/working dual mapping OpenRegion does,
// but never unlinks path and places the counters arrays at byte
// offset n within the same file instead of behind an anonymous
// mapping. Every process that calls AttachRegion on the same path
// observes the same master bytes and the same counters — this is
// what lets cmd/sheriffdemo's worker subprocesses cooperate over one
// region the way spec.md §5's "shared state" describes.
//
// The file is truncated to n bytes plus the counters region's size on
// first creation; a second AttachRegion call against an existing file
// just reopens it, trusting the caller to pass the same n each time.
func AttachRegion(path string, n int, opts ...RegionOption) (*Region, error) {
	if n <= 0 {
		return nil, fmt.Errorf("xpersist: attach region: invalid size %d", n)
	}
	cfg := applyRegionOptions(opts)

	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return nil, fmt.Errorf("xpersist: attach region: open %s: %w", path, err)
	}

	numPages, numCacheLines, numWords := regionCounterCounts(n)
	countersSize, _, _, _, _ := countersLayout(numPages, numCacheLines, numWords)
	total := int64(n) + int64(pageAlign(countersSize))

	info, err := f.Stat()
	if err != nil {
		closeErr := f.Close()
		return nil, errors.Join(fmt.Errorf("xpersist: attach region: stat: %w", err), closeErr)
	}
	if info.Size() < total {
		if err := f.Truncate(total); err != nil {
			closeErr := f.Close()
			return nil, errors.Join(fmt.Errorf("xpersist: attach region: truncate: %w", err), closeErr)
		}
	}

	master, err := mmapAnonFunc(int(f.Fd()), 0, n, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		closeErr := f.Close()
		return nil, errors.Join(fmt.Errorf("xpersist: attach region: map master: %w", err), closeErr)
	}
	masterBase := uintptr(unsafe.Pointer(&master[0]))

	aligned := pageAlign(n)
	reserveVA := cfg.reserveVA
	if reserveVA < aligned {
		reserveVA = aligned
	}
	reserveVA = pageAlign(reserveVA)

	reserved, err := mmapAnonFunc(-1, 0, reserveVA, unix.PROT_NONE, unix.MAP_PRIVATE|unix.MAP_ANON)
	if err != nil {
		closeErr := f.Close()
		return nil, errors.Join(fmt.Errorf("xpersist: attach region: reserve VA: %w", err), closeErr)
	}
	workingBase := uintptr(unsafe.Pointer(&reserved[0]))

	if err := mmapFixedFunc(workingBase, n, f, true); err != nil {
		closeErr := f.Close()
		return nil, errors.Join(fmt.Errorf("xpersist: attach region: map working: %w", err), closeErr)
	}

	counters, err := newGlobalCountersFromFile(f, int64(n), numPages, numCacheLines, numWords)
	if err != nil {
		closeErr := f.Close()
		return nil, errors.Join(fmt.Errorf("xpersist: attach region: counters: %w", err), closeErr)
	}

	r := &Region{
		kind:        HeapRegion,
		backingFile: f,
		masterBase:  masterBase,
		workingBase: workingBase,
		reserveVA:   reserveVA,
		size:        n,
		pages:       newPagePool(cfg.maxDirtyPages),
		twins:       newTwinPool(cfg.maxDirtyPages),
		counters:    counters,
		dirty:       newDirtyPageSet(),
		tracker:     cfg.tracker,
	}

	runtime.SetFinalizer(r, regionFinalizerFunc)
	return r, nil
}

// tempBackingFile creates a uniquely named temporary file and unlinks
// it immediately, keeping only the open descriptor alive — the file's
// inode persists for as long as some process holds it mapped or open,
// but no path on disk ever points at it again.
func tempBackingFile() (*os.File, error) {
	name := fmt.Sprintf("sheriff-backing-%s", uuid.NewString())
	path := fmt.Sprintf("%s/%s", os.TempDir(), name)
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0600)
	if err != nil {
		return nil, fmt.Errorf("create backing file: %w", err)
	}
	if err := os.Remove(path); err != nil {
		closeErr := f.Close()
		return nil, errors.Join(fmt.Errorf("unlink backing file: %w", err), closeErr)
	}
	return f, nil
}

// mmapFixed maps f at exactly addr, MAP_SHARED. golang.org/x/sys/unix's
// Mmap always lets the kernel choose the address, so MAP_FIXED goes
// through the raw syscall the way the teacher's mmapFixed does.
func mmapFixed(addr uintptr, length int, f *os.File, writable bool) error {
	prot := uintptr(unix.PROT_READ)
	if writable {
		prot |= unix.PROT_WRITE
	}

	r, _, errno := unix.Syscall6(
		unix.SYS_MMAP,
		addr,
		uintptr(length),
		prot,
		uintptr(unix.MAP_SHARED|unix.MAP_FIXED),
		f.Fd(),
		0,
	)
	if errno != 0 {
		return errno
	}
	if r != addr {
		return fmt.Errorf("xpersist: mmap: expected address %#x, got %#x", addr, r)
	}
	return nil
}

func munmapAt(addr uintptr, length int) error {
	_, _, errno := unix.Syscall(unix.SYS_MUNMAP, addr, uintptr(length), 0)
	if errno != 0 {
		return errno
	}
	return nil
}

func madviseAt(addr uintptr, length int, advice int) error {
	_, _, errno := unix.Syscall(unix.SYS_MADVISE, addr, uintptr(length), uintptr(advice))
	if errno != 0 && errno != unix.ENOSYS {
		return errno
	}
	return nil
}

func msyncAt(addr uintptr, length int, flags int) error {
	_, _, errno := unix.Syscall(unix.SYS_MSYNC, addr, uintptr(length), uintptr(flags))
	if errno != 0 {
		return errno
	}
	return nil
}

// OpenProtection remaps the working view as PROT_READ, MAP_PRIVATE,
// establishing the fault-on-write discipline for the next transaction.
func (r *Region) OpenProtection() error {
	ret, _, errno := unix.Syscall6(
		unix.SYS_MMAP,
		r.workingBase,
		uintptr(r.size),
		uintptr(unix.PROT_READ),
		uintptr(unix.MAP_PRIVATE|unix.MAP_FIXED),
		r.backingFile.Fd(),
		0,
	)
	if errno != 0 {
		return fmt.Errorf("xpersist: open protection: %w", errno)
	}
	if ret != r.workingBase {
		return fmt.Errorf("xpersist: open protection: expected address %#x, got %#x", r.workingBase, ret)
	}
	r.protected.Store(true)
	return nil
}

// CloseProtection remaps the working view as PROT_READ|PROT_WRITE,
// MAP_SHARED, for use when leaving instrumented execution.
func (r *Region) CloseProtection() error {
	if err := mmapFixedFunc(r.workingBase, r.size, r.backingFile, true); err != nil {
		return fmt.Errorf("xpersist: close protection: %w", err)
	}
	r.protected.Store(false)
	return nil
}

// InRange reports whether addr falls within this region's working
// view, [base, base+size).
func (r *Region) InRange(addr uintptr) bool {
	return addr >= r.workingBase && addr < r.workingBase+uintptr(r.size)
}

// Base returns the start of the working view.
func (r *Region) Base() uintptr { return r.workingBase }

// Size returns the region's fixed byte length N.
func (r *Region) Size() int { return r.size }

// Kind reports whether this is a heap or globals region.
func (r *Region) Kind() RegionKind { return r.kind }

// workingSlice returns the full working mapping as a byte slice.
func (r *Region) workingSlice() []byte {
	return unsafe.Slice((*byte)(unsafe.Pointer(r.workingBase)), r.size)
}

// masterSlice returns the full master mapping as a byte slice.
func (r *Region) masterSlice() []byte {
	return unsafe.Slice((*byte)(unsafe.Pointer(r.masterBase)), r.size)
}

// Close tears down both mappings and closes the backing descriptor.
// Safe to call more than once.
func (r *Region) Close() error {
	runtime.SetFinalizer(r, nil)
	if r.backingFile == nil {
		return nil
	}
	var errs []error
	if err := munmapFunc(r.workingBase, r.size); err != nil {
		errs = append(errs, fmt.Errorf("xpersist: unmap working: %w", err))
	}
	if err := munmapFunc(r.masterBase, r.size); err != nil {
		errs = append(errs, fmt.Errorf("xpersist: unmap master: %w", err))
	}
	if len(r.counters.countersBacking) > 0 {
		countersAddr := uintptr(unsafe.Pointer(&r.counters.countersBacking[0]))
		if err := munmapFunc(countersAddr, len(r.counters.countersBacking)); err != nil {
			errs = append(errs, fmt.Errorf("xpersist: unmap counters: %w", err))
		}
	}
	if err := r.backingFile.Close(); err != nil {
		errs = append(errs, fmt.Errorf("xpersist: close backing file: %w", err))
	}
	r.backingFile = nil
	return errors.Join(errs...)
}

func regionFinalizer(r *Region) {
	if r.backingFile != nil {
		_, _ = fmt.Fprintf(os.Stderr, "xpersist: Region was garbage collected without Close()\n")
		_ = r.Close()
	}
}
