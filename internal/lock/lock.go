// Package lock ties a data directory to a single engine instance. Acquire
// places a marker file named LOCK at the directory root; as long as the
// returned Lock is held, no second engine can open the same directory.
package lock

import (
	"fmt"
	"os"
	"path/filepath"
)

const lockFileName = "LOCK"

// Lock represents ownership of a data directory. Release it exactly once,
// after all segment files are closed
type Lock struct {
	file *os.File
}

// Acquire claims the directory for this process. It fails immediately (never
// blocks) when another live engine owns the directory
func Acquire(dir string) (*Lock, error) {
	file, err := open(filepath.Join(dir, lockFileName))
	if err != nil {
		return nil, fmt.Errorf("directory %s is owned by another engine: %w", dir, err)
	}
	return &Lock{file: file}, nil
}

// Release gives the directory up so another engine may claim it
func (l *Lock) Release() {
	if l.file == nil {
		return
	}
	release(l.file)
	l.file = nil
}
