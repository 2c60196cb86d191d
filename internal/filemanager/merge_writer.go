package filemanager

import (
	"path/filepath"

	"github.com/ananthvk/caskdb/internal/hintfile"
	"github.com/ananthvk/caskdb/internal/keydir"
	"github.com/ananthvk/caskdb/internal/record"
	"github.com/ananthvk/caskdb/internal/utils"
)

// MergeWriter rewrites live records into freshly allocated segments during
// compaction, appending a matching hint record for every rewritten record.
// It writes to files no other component touches, so it needs no locking of its
// own; it is unsafe for concurrent use
type MergeWriter struct {
	f            *FileManager
	rotateWriter *RotateWriter
	hintWriter   *hintfile.Writer
	hintFileID   int
	fileIDs      []int
}

// NewMergeWriter returns a writer for one compaction cycle. The underlying files are
// written without per-record syncs, so Sync is mandatory before the rewritten
// locations are published
func (f *FileManager) NewMergeWriter(segmentMaxBytes int64) *MergeWriter {
	m := &MergeWriter{f: f, hintFileID: -1}
	m.rotateWriter = NewRotateWriter(f.fs, segmentMaxBytes, false, func() (int, string) {
		id := f.AllocateFileID()
		m.fileIDs = append(m.fileIDs, id)
		return id, filepath.Join(f.dataStoreRootPath, "data", utils.GetSegmentFileName(id))
	})
	return m
}

// AllocateFileID reserves the next segment id without making it the active segment
func (f *FileManager) AllocateFileID() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := f.nextFileID
	f.nextFileID++
	return id
}

// Write appends the record to the current merge segment and its hint file, and
// returns the key directory entry for the new location. The record keeps its
// original timestamp
func (m *MergeWriter) Write(rec *record.Record) (keydir.Record, error) {
	pos, err := m.rotateWriter.Write(rec)
	if err != nil {
		return keydir.Record{}, err
	}
	if pos.FileID != m.hintFileID {
		if err := m.switchHintWriter(pos.FileID); err != nil {
			return keydir.Record{}, err
		}
	}
	valueOffset := record.ValueOffset(pos.RecordOffset, rec.Header.KeySize)
	err = m.hintWriter.WriteHintRecord(&hintfile.HintRecord{
		Timestamp:   rec.Header.Timestamp,
		KeySize:     rec.Header.KeySize,
		ValueSize:   rec.Header.ValueSize,
		ValueOffset: valueOffset,
		Key:         rec.Key,
	})
	if err != nil {
		return keydir.Record{}, err
	}
	return keydir.Record{
		FileID:      pos.FileID,
		ValueSize:   rec.Header.ValueSize,
		ValueOffset: valueOffset,
		Timestamp:   rec.Header.Timestamp,
	}, nil
}

func (m *MergeWriter) switchHintWriter(fileID int) error {
	if m.hintWriter != nil {
		if err := m.hintWriter.Close(); err != nil {
			return err
		}
		m.hintWriter = nil
	}
	path := filepath.Join(m.f.dataStoreRootPath, "data", utils.GetHintFileName(fileID))
	hintWriter, err := hintfile.NewWriter(m.f.fs, path)
	if err != nil {
		return err
	}
	m.hintWriter = hintWriter
	m.hintFileID = fileID
	return nil
}

// FileIDs returns the ids of all segments created by this merge writer so far
func (m *MergeWriter) FileIDs() []int {
	return m.fileIDs
}

// Sync flushes all merge output to durable storage
func (m *MergeWriter) Sync() error {
	if m.hintWriter != nil {
		if err := m.hintWriter.Sync(); err != nil {
			return err
		}
	}
	return m.rotateWriter.Sync()
}

// Close closes the merge segment and hint file
func (m *MergeWriter) Close() error {
	var hintErr error
	if m.hintWriter != nil {
		hintErr = m.hintWriter.Close()
		m.hintWriter = nil
	}
	if err := m.rotateWriter.Close(); err != nil {
		return err
	}
	return hintErr
}
