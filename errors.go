package caskdb

import (
	"errors"

	"github.com/ananthvk/caskdb/internal/filemanager"
)

var (
	ErrKeyNotFound = errors.New("key not found")
	ErrNotExist    = errors.New("datastore does not exist")
	ErrClosed      = errors.New("datastore is closed")
)

// ErrCorruptSegment is returned by Open when recovery finds structural corruption
// that is not merely a torn tail of the newest segment
var ErrCorruptSegment = filemanager.ErrCorruptSegment
