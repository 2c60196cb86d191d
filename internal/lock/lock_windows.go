//go:build windows

package lock

import "os"

// Windows has no flock equivalent that composes with our create-and-hold
// pattern, so ownership is the marker file itself: O_EXCL creation succeeds
// for exactly one process. Unlike the unix variant this leaves a stale LOCK
// behind after a crash, which the operator must remove by hand.
func open(path string) (*os.File, error) {
	return os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_RDWR, 0644)
}

func release(file *os.File) {
	name := file.Name()
	file.Close()
	os.Remove(name)
}
