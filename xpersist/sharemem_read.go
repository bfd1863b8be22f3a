//go:build unix

package xpersist

import (
	"encoding/binary"
	"fmt"
)

// fieldSlice returns the master-mapping bytes at [offset, offset+n),
// validating that the range falls within the region. sharemem reads
// and writes always go through the master mapping, never the
// process's private working view, so the host can treat them as
// atomics visible to every cooperating process regardless of which
// one currently has the page dirtied.
func (r *Region) fieldSlice(offset uint32, n int) ([]byte, error) {
	if int(offset)+n > r.size {
		return nil, fmt.Errorf("xpersist: sharemem access at offset %d len %d: %w", offset, n, ErrOutOfRange)
	}
	master := r.masterSlice()
	return master[offset : int(offset)+n], nil
}

// ReadByte reads a single byte from the master mapping at offset.
func (r *Region) ReadByte(offset uint32) (byte, error) {
	b, err := r.fieldSlice(offset, 1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

// ReadUint32 reads a little-endian uint32 from the master mapping at
// offset, implementing sharemem_read_word for 32-bit words.
func (r *Region) ReadUint32(offset uint32) (uint32, error) {
	b, err := r.fieldSlice(offset, 4)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b), nil
}

// ReadUint64 reads a little-endian uint64 from the master mapping at
// offset, implementing sharemem_read_word for machine words.
func (r *Region) ReadUint64(offset uint32) (uint64, error) {
	b, err := r.fieldSlice(offset, 8)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(b), nil
}

// ReadBytes returns a copy of n master-mapping bytes at offset. The
// master mapping may be concurrently written by another cooperating
// process, so the result is copied rather than returned zero-copy.
func (r *Region) ReadBytes(offset uint32, n int) ([]byte, error) {
	b, err := r.fieldSlice(offset, n)
	if err != nil {
		return nil, err
	}
	out := make([]byte, n)
	copy(out, b)
	return out, nil
}
