package xpersist

import (
	"sync/atomic"
	"unsafe"
)

// SeqBeginWrite marks the start of a write to the 8-byte sequence
// counter at offset in the master mapping, bumping it to an odd
// value. Built on the same sharemem master-bypass contract as
// ReadUint64/WriteUint64: the host uses this when it wants a
// lock-free read-mostly protocol over shared bytes rather than
// relying solely on the commit/refresh transaction boundary.
func (r *Region) SeqBeginWrite(offset uint32) {
	r.seqPtr(offset).Add(1)
}

// SeqEndWrite marks the end of a write, bumping the counter to an
// even value. Caller must have called SeqBeginWrite first.
func (r *Region) SeqEndWrite(offset uint32) {
	r.seqPtr(offset).Add(1)
}

// SeqReadBegin loads the sequence counter at offset. An odd value
// means a write is in progress and the caller should retry.
func (r *Region) SeqReadBegin(offset uint32) uint64 {
	return r.seqPtr(offset).Load()
}

// SeqReadValid reports whether seq was even (no write was in
// progress when read began) and the counter still matches seq (no
// write happened during the read).
func (r *Region) SeqReadValid(offset uint32, seq uint64) bool {
	return seq&1 == 0 && r.seqPtr(offset).Load() == seq
}

func (r *Region) seqPtr(offset uint32) *atomic.Uint64 {
	return (*atomic.Uint64)(unsafe.Pointer(r.masterBase + uintptr(offset)))
}
