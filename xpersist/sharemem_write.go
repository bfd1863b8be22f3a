//go:build unix

package xpersist

import "encoding/binary"

// WriteByte writes a single byte to the master mapping at offset.
func (r *Region) WriteByte(offset uint32, val byte) error {
	b, err := r.fieldSlice(offset, 1)
	if err != nil {
		return err
	}
	b[0] = val
	return nil
}

// WriteUint32 writes a little-endian uint32 to the master mapping at
// offset, implementing sharemem_write_word for 32-bit words.
func (r *Region) WriteUint32(offset uint32, val uint32) error {
	b, err := r.fieldSlice(offset, 4)
	if err != nil {
		return err
	}
	binary.LittleEndian.PutUint32(b, val)
	return nil
}

// WriteUint64 writes a little-endian uint64 to the master mapping at
// offset, implementing sharemem_write_word for machine words.
func (r *Region) WriteUint64(offset uint32, val uint64) error {
	b, err := r.fieldSlice(offset, 8)
	if err != nil {
		return err
	}
	binary.LittleEndian.PutUint64(b, val)
	return nil
}

// WriteBytes copies val into the master mapping starting at offset.
func (r *Region) WriteBytes(offset uint32, val []byte) error {
	b, err := r.fieldSlice(offset, len(val))
	if err != nil {
		return err
	}
	copy(b, val)
	return nil
}
