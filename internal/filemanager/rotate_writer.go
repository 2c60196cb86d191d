package filemanager

import (
	"time"

	"github.com/ananthvk/caskdb/internal/record"
	"github.com/ananthvk/caskdb/internal/segfile"
	"github.com/spf13/afero"
)

// Position locates a record that was appended by a RotateWriter
type Position struct {
	FileID       int
	RecordOffset int64
}

// RotateWriter appends records to a sequence of segment files. It rolls over to a
// freshly allocated segment when an append would push the current file past the
// size limit. This struct and its associated methods are not safe for concurrent
// use, and do not implement any locking
type RotateWriter struct {
	fs              afero.Fs
	writer          *record.Writer
	segmentMaxBytes int64
	syncEveryWrite  bool
	currentFileID   int
	currentFilePath string
	batchBuf        []byte

	// Callback to allocate the next segment id and return its path.
	// Called whenever the writer rolls over to a new file
	nextSegment func() (int, string)
}

// NewRotateWriter creates a new instance of RotateWriter with the specified parameters.
// No file is created until the first write
func NewRotateWriter(fs afero.Fs, segmentMaxBytes int64, syncEveryWrite bool, nextSegment func() (int, string)) *RotateWriter {
	return &RotateWriter{
		fs:              fs,
		segmentMaxBytes: segmentMaxBytes,
		syncEveryWrite:  syncEveryWrite,
		nextSegment:     nextSegment,
	}
}

// Write appends a single record and returns the position at which it was written
func (r *RotateWriter) Write(rec *record.Record) (Position, error) {
	if err := r.ensureWriter(rec.Size); err != nil {
		return Position{}, err
	}
	offset, err := r.writer.Append(rec)
	return Position{FileID: r.currentFileID, RecordOffset: offset}, err
}

// WriteBatch appends the records in order. Records that fit the active segment's
// remaining budget are encoded into one contiguous buffer and written with a single
// call; the batch is split at a record boundary when it crosses the rollover
// threshold. The returned positions cover every record that reached the file, so on
// error the caller can still account for the durable prefix
func (r *RotateWriter) WriteBatch(recs []*record.Record) ([]Position, error) {
	positions := make([]Position, 0, len(recs))
	i := 0
	for i < len(recs) {
		if err := r.ensureWriter(recs[i].Size); err != nil {
			return positions, err
		}
		base := r.writer.Position()
		buf := r.batchBuf[:0]
		chunkStart := len(positions)
		for i < len(recs) {
			size := recs[i].Size
			if len(buf) > 0 && base+int64(len(buf))+size > r.segmentMaxBytes {
				break
			}
			positions = append(positions, Position{
				FileID:       r.currentFileID,
				RecordOffset: base + int64(len(buf)),
			})
			buf = record.Encode(buf, recs[i])
			i++
		}
		r.batchBuf = buf[:0]
		if _, err := r.writer.AppendEncoded(buf); err != nil {
			return positions[:chunkStart], err
		}
	}
	return positions, nil
}

// ensureWriter opens the writer for a new segment if there is none yet, or if
// appending size more bytes would push the current segment past the limit. A single
// record larger than the limit still goes into one (fresh) segment
func (r *RotateWriter) ensureWriter(size int64) error {
	if r.writer != nil {
		if r.writer.Position()+size <= r.segmentMaxBytes || r.writer.Position() <= segfile.FileHeaderSize {
			return nil
		}
	}
	return r.rotate()
}

func (r *RotateWriter) rotate() error {
	if r.writer != nil {
		if err := r.writer.Close(); err != nil {
			return err
		}
		r.writer = nil
	}
	id, path := r.nextSegment()
	if err := segfile.WriteFileHeader(r.fs, path, time.Now()); err != nil {
		return err
	}
	writer, err := record.NewWriter(r.fs, path, r.syncEveryWrite)
	if err != nil {
		return err
	}
	r.currentFileID = id
	r.currentFilePath = path
	r.writer = writer
	return nil
}

// Sync flushes the active segment to durable storage
func (r *RotateWriter) Sync() error {
	if r.writer != nil {
		return r.writer.Sync()
	}
	return nil
}

// Close syncs and closes the active segment
func (r *RotateWriter) Close() error {
	var err error
	if r.writer != nil {
		err = r.writer.Close()
		r.writer = nil
	}
	return err
}
