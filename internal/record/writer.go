package record

import (
	"io"
	"os"

	"github.com/spf13/afero"
)

// Writer appends log records to a segment file. There are no locks in this
// implementation, so it's unsafe to call Writer methods concurrently
type Writer struct {
	fs   afero.Fs
	file afero.File
	// Reusable scratch buffer for encoding records
	buf            []byte
	currentPos     int64
	syncEveryWrite bool
}

// NewWriter creates a new record Writer that opens the file at the specified path for
// appending. If syncEveryWrite is set, every append is followed by a sync of the file
func NewWriter(fs afero.Fs, path string, syncEveryWrite bool) (*Writer, error) {
	file, err := fs.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0666)
	if err != nil {
		return nil, err
	}

	// Seek to end to find the size of the file (position for the next record)
	pos, err := file.Seek(0, io.SeekEnd)
	if err != nil {
		file.Close()
		return nil, err
	}

	return &Writer{
		fs:             fs,
		file:           file,
		currentPos:     pos,
		syncEveryWrite: syncEveryWrite,
	}, nil
}

// Append encodes the record and writes it to the file in a single write call.
// It returns the offset of the start of the record, measured from the start of
// the file
func (w *Writer) Append(r *Record) (int64, error) {
	w.buf = Encode(w.buf[:0], r)
	return w.AppendEncoded(w.buf)
}

// AppendEncoded writes an already encoded buffer of one or more records to the file.
// It returns the offset at which the first byte of buf was written
func (w *Writer) AppendEncoded(buf []byte) (int64, error) {
	start := w.currentPos
	if _, err := w.file.Write(buf); err != nil {
		return start, err
	}
	w.currentPos += int64(len(buf))
	if w.syncEveryWrite {
		if err := w.file.Sync(); err != nil {
			return start, err
		}
	}
	return start, nil
}

// Position returns the offset at which the next record will be written
func (w *Writer) Position() int64 {
	return w.currentPos
}

// Sync flushes any buffered data to the underlying file. It calls sync() on the file
func (w *Writer) Sync() error {
	return w.file.Sync()
}

// Close closes the underlying file, it also syncs pending changes to the disk
func (w *Writer) Close() error {
	if err := w.file.Sync(); err != nil {
		return err
	}
	return w.file.Close()
}
