package xpersist

import "os"

// PageSize is the machine page size, queried once at startup and reused
// everywhere instead of asking the OS on every fault.
var PageSize = os.Getpagesize()

// CacheLineSize is the assumed width of one cache line. 64 bytes is
// correct for essentially every x86-64 and arm64 part in production.
const CacheLineSize = 64

// wordSize is the width of the machine word the commit engine and the
// sampling loop operate on.
const wordSize = 8

// WordsPerCacheLine is the number of machine words in one cache line.
const WordsPerCacheLine = CacheLineSize / wordSize

// MinInvalidatesCare is the threshold at or above which
// CleanupHeapObject refuses to zero a cache line's counters, so the attribution reporter
// can still see the signal after the object is freed and reused.
const MinInvalidatesCare = 4

// SharedMark is the reserved tid value meaning "this word has been
// written by two or more distinct processes". It must not collide with
// any live pid; pids are masked into 16 bits when packed into a
// wordChange cell, so 0xFFFF is reserved rather than checked against
// /proc.
const SharedMark = 0xFFFF

// DefaultReserveVA is the virtual address headroom reserved for a
// region's dual mapping when the caller doesn't provide one.
const DefaultReserveVA = 1 << 30

// DefaultMaxDirtyPages bounds the write-set of a single transaction
// when the caller doesn't request a different pool size.
const DefaultMaxDirtyPages = 4096

// SnapshotMagic identifies a counters snapshot encoded by
// EncodeSnapshot.
var SnapshotMagic = [4]byte{'S', 'H', 'R', 'F'}

// SnapshotVersion is the on-disk format version for encoded snapshots.
const SnapshotVersion uint32 = 1
