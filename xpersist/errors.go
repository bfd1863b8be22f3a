package xpersist

import "errors"

var (
	ErrOutOfRange     = errors.New("xpersist: address out of region range")
	ErrClosed         = errors.New("xpersist: region is closed")
	ErrPoolExhausted  = errors.New("xpersist: page or twin pool exhausted")
	ErrBadMagic       = errors.New("xpersist: invalid snapshot magic")
	ErrCorrupted      = errors.New("xpersist: snapshot corrupted")
	ErrUnsupportedVer = errors.New("xpersist: unsupported snapshot format version")
)
