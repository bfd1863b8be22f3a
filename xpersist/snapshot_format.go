package xpersist

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// snapshotHeaderSize is the fixed-width prefix of an encoded snapshot:
// magic, format version, region kind, size, and the three array
// lengths that follow it.
const snapshotHeaderSize = 4 + 4 + 4 + 8 + 8 + 8 + 8

// EncodeSnapshot serializes a Snapshot to a self-describing binary
// form that DecodeSnapshot reads back. The format is
// a fixed header followed by three flat little-endian arrays;
// WordOwners is encoded as 12 bytes per entry (4-byte word index,
// 4-byte line index, 2-byte tid, 2-byte version).
func EncodeSnapshot(s Snapshot) []byte {
	size := snapshotHeaderSize +
		len(s.PageUsers)*4 +
		len(s.CacheInvalidates)*8 +
		len(s.WordOwners)*12

	buf := make([]byte, size)
	off := 0

	copy(buf[off:off+4], SnapshotMagic[:])
	off += 4
	binary.LittleEndian.PutUint32(buf[off:], SnapshotVersion)
	off += 4
	binary.LittleEndian.PutUint32(buf[off:], uint32(s.RegionKind))
	off += 4
	binary.LittleEndian.PutUint64(buf[off:], uint64(s.Size))
	off += 8
	binary.LittleEndian.PutUint64(buf[off:], uint64(len(s.PageUsers)))
	off += 8
	binary.LittleEndian.PutUint64(buf[off:], uint64(len(s.CacheInvalidates)))
	off += 8
	binary.LittleEndian.PutUint64(buf[off:], uint64(len(s.WordOwners)))
	off += 8

	for _, v := range s.PageUsers {
		binary.LittleEndian.PutUint32(buf[off:], v)
		off += 4
	}
	for _, v := range s.CacheInvalidates {
		binary.LittleEndian.PutUint64(buf[off:], v)
		off += 8
	}
	for _, wc := range s.WordOwners {
		binary.LittleEndian.PutUint32(buf[off:], uint32(wc.WordIndex))
		off += 4
		binary.LittleEndian.PutUint32(buf[off:], uint32(wc.LineIndex))
		off += 4
		binary.LittleEndian.PutUint16(buf[off:], wc.Tid)
		off += 2
		binary.LittleEndian.PutUint16(buf[off:], wc.Version)
		off += 2
	}
	return buf
}

// DecodeSnapshot parses a buffer produced by EncodeSnapshot.
func DecodeSnapshot(src []byte) (Snapshot, error) {
	if len(src) < snapshotHeaderSize {
		return Snapshot{}, fmt.Errorf("xpersist: snapshot decode: buffer too small (%d < %d)", len(src), snapshotHeaderSize)
	}
	if !bytes.Equal(src[0:4], SnapshotMagic[:]) {
		return Snapshot{}, fmt.Errorf("xpersist: snapshot decode: %w (got %q)", ErrBadMagic, src[0:4])
	}
	off := 4
	version := binary.LittleEndian.Uint32(src[off:])
	off += 4
	if version != SnapshotVersion {
		return Snapshot{}, fmt.Errorf("xpersist: snapshot decode: %w (got %d)", ErrUnsupportedVer, version)
	}

	s := Snapshot{}
	s.RegionKind = RegionKind(binary.LittleEndian.Uint32(src[off:]))
	off += 4
	s.Size = int(binary.LittleEndian.Uint64(src[off:]))
	off += 8
	numPages := int(binary.LittleEndian.Uint64(src[off:]))
	off += 8
	numLines := int(binary.LittleEndian.Uint64(src[off:]))
	off += 8
	numWords := int(binary.LittleEndian.Uint64(src[off:]))
	off += 8

	want := snapshotHeaderSize + numPages*4 + numLines*8 + numWords*12
	if len(src) < want {
		return Snapshot{}, fmt.Errorf("xpersist: snapshot decode: %w (want %d bytes, got %d)", ErrCorrupted, want, len(src))
	}

	s.NumPages = numPages
	s.NumCacheLines = numLines
	s.NumWords = numWords

	s.PageUsers = make([]uint32, numPages)
	for i := range s.PageUsers {
		s.PageUsers[i] = binary.LittleEndian.Uint32(src[off:])
		off += 4
	}
	s.CacheInvalidates = make([]uint64, numLines)
	for i := range s.CacheInvalidates {
		s.CacheInvalidates[i] = binary.LittleEndian.Uint64(src[off:])
		off += 8
	}
	s.WordOwners = make([]WordChange, numWords)
	for i := range s.WordOwners {
		wc := WordChange{}
		wc.WordIndex = int(binary.LittleEndian.Uint32(src[off:]))
		off += 4
		wc.LineIndex = int(binary.LittleEndian.Uint32(src[off:]))
		off += 4
		wc.Tid = binary.LittleEndian.Uint16(src[off:])
		off += 2
		wc.Version = binary.LittleEndian.Uint16(src[off:])
		off += 2
		s.WordOwners[i] = wc
	}
	return s, nil
}
