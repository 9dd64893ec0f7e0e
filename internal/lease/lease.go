// Package lease provides a cross-process exclusive lease backed by a file
// lock. The drain loop holds one so that only one process replays the
// pending queue at a time.
package lease

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"
)

// ErrHeld is returned when another holder has the lease.
var ErrHeld = errors.New("lease is held by another process")

// Lease is an acquired lease. Release it when done.
type Lease struct {
	path string
	file *os.File
}

// Acquire takes the lease at path without blocking.
func Acquire(path string) (*Lease, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create lease directory: %w", err)
	}

	file, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open lease file: %w", err)
	}

	if err := lockFileExclusiveNonBlocking(file); err != nil {
		file.Close()
		if isWouldBlockError(err) {
			return nil, ErrHeld
		}
		return nil, fmt.Errorf("failed to acquire lease: %w", err)
	}

	// Holder info is informational only; the lock is what counts.
	if err := file.Truncate(0); err == nil {
		_, _ = file.WriteAt([]byte(strconv.Itoa(os.Getpid())+" "+time.Now().UTC().Format(time.RFC3339)+"\n"), 0)
	}

	return &Lease{path: path, file: file}, nil
}

// Path returns the lease file path.
func (l *Lease) Path() string { return l.path }

// Release gives the lease up. It is safe to call more than once.
func (l *Lease) Release() error {
	if l == nil || l.file == nil {
		return nil
	}
	unlockErr := unlockFile(l.file)
	closeErr := l.file.Close()
	l.file = nil
	if unlockErr != nil {
		return unlockErr
	}
	return closeErr
}
