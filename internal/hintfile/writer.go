package hintfile

import (
	"bufio"
	"encoding/binary"
	"os"

	"github.com/ananthvk/caskdb/internal/constants"
	"github.com/ananthvk/caskdb/internal/record"
	"github.com/spf13/afero"
)

/*
Hint files are used to speed up startup, and are written during the merge & compaction
process.

For every live record rewritten into a merge segment, the compactor appends a hint
record (timestamp, key size, value size, value offset, key) to the matching hint file.

During startup, before scanning a segment file, recovery checks if a corresponding
hint file exists. If it does, the key directory entries are loaded directly from it.

Hint files are advisory: losing one only slows recovery down, it never loses data.
*/

const writerBufferSize = 4 * 1000 * 1000 // 4 MB

type Writer struct {
	file   afero.File
	writer *bufio.Writer
	buf    [HintRecordHeaderSize]byte
}

func NewWriter(fs afero.Fs, path string) (*Writer, error) {
	file, err := fs.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0666)
	if err != nil {
		return nil, err
	}
	return &Writer{
		file:   file,
		writer: bufio.NewWriterSize(file, writerBufferSize),
	}, nil
}

// WriteHintRecord appends the hint to the file
func (w *Writer) WriteHintRecord(h *HintRecord) error {
	if h.KeySize > constants.MaxKeySize {
		return record.ErrKeyTooLarge
	}
	if h.ValueSize != record.Tombstone && h.ValueSize > constants.MaxValueSize {
		return record.ErrValueTooLarge
	}

	binary.LittleEndian.PutUint64(w.buf[0:], h.Timestamp)
	binary.LittleEndian.PutUint32(w.buf[8:], h.KeySize)
	binary.LittleEndian.PutUint32(w.buf[12:], h.ValueSize)
	binary.LittleEndian.PutUint64(w.buf[16:], uint64(h.ValueOffset))

	if _, err := w.writer.Write(w.buf[:]); err != nil {
		return err
	}
	if _, err := w.writer.Write(h.Key); err != nil {
		return err
	}
	return nil
}

// Sync flushes any buffered data to the underlying file. It calls sync() on the file
func (w *Writer) Sync() error {
	if err := w.writer.Flush(); err != nil {
		return err
	}
	return w.file.Sync()
}

// Close closes the underlying file, it also writes any pending changes and syncs the
// changes to the disk
func (w *Writer) Close() error {
	if err := w.writer.Flush(); err != nil {
		return err
	}
	w.writer = nil
	if err := w.file.Sync(); err != nil {
		return err
	}
	return w.file.Close()
}
