//go:build unix

package lock

import (
	"os"
	"syscall"
)

// Unix ownership is an exclusive non-blocking flock(2) on the marker file.
// The advisory lock dies with the descriptor, so a crashed process never
// leaves the directory stuck: the next Acquire simply wins the flock on the
// leftover file.
func open(path string) (*os.File, error) {
	file, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return nil, err
	}
	if err := syscall.Flock(int(file.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		file.Close()
		return nil, err
	}
	return file, nil
}

func release(file *os.File) {
	syscall.Flock(int(file.Fd()), syscall.LOCK_UN)
	file.Close()
}
