// © 2026 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

// Package filelock guards state directories against concurrent use by several
// processes.
package filelock

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
)

// ErrAlreadyLocked indicates the lock is held by another process.
var ErrAlreadyLocked = errors.New("already locked")

// LockName is the name of the lock file created by [LockDir].
const LockName = ".lock"

// Lock is a held advisory lock.
type Lock struct{ file *os.File }

// LockDir creates dir if needed and locks it for this process, recording the
// process ID in the lock file. If another process holds the lock, the
// returned error wraps [ErrAlreadyLocked] and names that process.
func LockDir(dir string) (*Lock, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	path := filepath.Join(dir, LockName)
	l, err := Acquire(path, strconv.Itoa(os.Getpid())+"\n")
	if errors.Is(err, ErrAlreadyLocked) {
		if pid, readErr := os.ReadFile(path); readErr == nil && len(pid) > 0 {
			return nil, fmt.Errorf("%s: %w by process %s", dir, err, strings.TrimSpace(string(pid)))
		}
		return nil, fmt.Errorf("%s: %w", dir, err)
	}
	return l, err
}

// Acquire takes a non-blocking exclusive lock on path, creating the file if
// needed, and replaces its contents with payload unless it's empty.
func Acquire(path, payload string) (*Lock, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, err
	}
	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		if closeErr := f.Close(); closeErr != nil {
			return nil, errors.Join(err, closeErr)
		}
		if errors.Is(err, syscall.EWOULDBLOCK) || errors.Is(err, syscall.EAGAIN) {
			return nil, ErrAlreadyLocked
		}
		return nil, err
	}

	l := &Lock{file: f}
	if payload == "" {
		return l, nil
	}
	if err := writePayload(f, payload); err != nil {
		return nil, errors.Join(err, l.Release())
	}
	return l, nil
}

func writePayload(f *os.File, payload string) error {
	if err := f.Truncate(0); err != nil {
		return err
	}
	if _, err := f.Seek(0, 0); err != nil {
		return err
	}
	_, err := f.WriteString(payload)
	return err
}

// Release unlocks and closes the lock file. The file itself is left in
// place. It's safe to call Release on a nil Lock.
func (l *Lock) Release() error {
	if l == nil || l.file == nil {
		return nil
	}
	err := syscall.Flock(int(l.file.Fd()), syscall.LOCK_UN)
	err = errors.Join(err, l.file.Close())
	l.file = nil
	return err
}
