//go:build unix

package main

import (
	"errors"
	"fmt"
	"os"
	"syscall"
)

// ErrLocked is returned when another sheriffdemo run already holds
// the exclusive lock on a region's backing path.
var ErrLocked = errors.New("sheriffdemo: region path already locked by another run")

// regionLock guards the setup/teardown window of one sheriffdemo run
// against any other run targeting the same region path. It locks a
// dedicated lock file rather than the region's own backing file,
// since every worker keeps that file open and mmap'd for the whole
// run.
type regionLock struct {
	f *os.File
}

// acquireRegionLock opens (creating if needed) the lock file at path
// and takes a non-blocking exclusive flock on it, returning ErrLocked
// if another run already holds it.
func acquireRegionLock(path string) (*regionLock, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return nil, fmt.Errorf("sheriffdemo: open lock file: %w", err)
	}
	if err := flockExclusive(f); err != nil {
		f.Close()
		return nil, err
	}
	return &regionLock{f: f}, nil
}

// Release unlocks and closes the lock file.
func (l *regionLock) Release() error {
	unlockErr := funlock(l.f)
	closeErr := l.f.Close()
	if unlockErr != nil {
		return unlockErr
	}
	return closeErr
}

// flockExclusive acquires a non-blocking exclusive lock on f, giving
// one sheriffdemo process exclusive ownership of a region's lock
// file for the duration of a run. Returns ErrLocked if another run
// already holds it.
func flockExclusive(f *os.File) error {
	err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX|syscall.LOCK_NB)
	if err != nil {
		if err == syscall.EWOULDBLOCK {
			return fmt.Errorf("sheriffdemo: %w", ErrLocked)
		}
		return fmt.Errorf("sheriffdemo: flock exclusive: %w", err)
	}
	return nil
}

// funlock releases the flock on f.
func funlock(f *os.File) error {
	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_UN); err != nil {
		return fmt.Errorf("sheriffdemo: funlock: %w", err)
	}
	return nil
}
