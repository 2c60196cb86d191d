package filemanager

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ananthvk/caskdb/internal/hintfile"
	"github.com/ananthvk/caskdb/internal/record"
	"github.com/ananthvk/caskdb/internal/segfile"
	"github.com/ananthvk/caskdb/internal/utils"
	"github.com/spf13/afero"
)

const testSegmentMaxBytes = 1024 * 1024

func newTestStoreDir(t *testing.T, fs afero.Fs, path string) {
	t.Helper()
	if err := fs.MkdirAll(filepath.Join(path, "data"), 0755); err != nil {
		t.Fatalf("MkdirAll failed: %v", err)
	}
}

// writeSegment builds a segment file by hand, bypassing the rotating writer, so
// tests control exactly which records land in which segment
func writeSegment(t *testing.T, fs afero.Fs, path string, id int, recs []*record.Record) []int64 {
	t.Helper()
	segmentPath := filepath.Join(path, "data", utils.GetSegmentFileName(id))
	if err := segfile.WriteFileHeader(fs, segmentPath, time.Now()); err != nil {
		t.Fatalf("WriteFileHeader failed: %v", err)
	}
	writer, err := record.NewWriter(fs, segmentPath, false)
	if err != nil {
		t.Fatalf("NewWriter failed: %v", err)
	}
	defer writer.Close()
	offsets := make([]int64, len(recs))
	for i, rec := range recs {
		offset, err := writer.Append(rec)
		if err != nil {
			t.Fatalf("Append failed: %v", err)
		}
		offsets[i] = offset
	}
	return offsets
}

func TestFileManagerWriteAndReadBack(t *testing.T) {
	fs := afero.NewMemMapFs()
	path := "store"
	newTestStoreDir(t, fs, path)

	fm, err := NewFileManager(fs, path, testSegmentMaxBytes, false)
	if err != nil {
		t.Fatalf("NewFileManager failed: %v", err)
	}
	defer fm.Close()

	rec := record.NewPut([]byte("key"), []byte("hello world"), 1)
	pos, err := fm.Write(rec)
	if err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	value, err := fm.ReadValueAt(pos.FileID, record.ValueOffset(pos.RecordOffset, rec.Header.KeySize), rec.Header.ValueSize)
	if err != nil {
		t.Fatalf("ReadValueAt failed: %v", err)
	}
	if string(value) != "hello world" {
		t.Errorf("expected hello world, got %s", value)
	}
}

func TestBuildKeydirReplaysInOrder(t *testing.T) {
	fs := afero.NewMemMapFs()
	path := "store"
	newTestStoreDir(t, fs, path)
	writeSegment(t, fs, path, 1, []*record.Record{
		record.NewPut([]byte("k1"), []byte("v1"), 1),
		record.NewPut([]byte("k2"), []byte("v2"), 2),
		record.NewPut([]byte("k1"), []byte("v3"), 3),
	})
	writeSegment(t, fs, path, 2, []*record.Record{
		record.NewTombstone([]byte("k2"), 4),
		record.NewPut([]byte("k3"), []byte("v4"), 5),
	})

	fm, err := NewFileManager(fs, path, testSegmentMaxBytes, false)
	if err != nil {
		t.Fatalf("NewFileManager failed: %v", err)
	}
	defer fm.Close()
	kd, err := fm.BuildKeydir()
	if err != nil {
		t.Fatalf("BuildKeydir failed: %v", err)
	}

	if kd.Size() != 2 {
		t.Fatalf("expected 2 keys, got %d", kd.Size())
	}
	if _, ok := kd.Get([]byte("k2")); ok {
		t.Error("k2 should have been removed by its tombstone")
	}
	entry, ok := kd.Get([]byte("k1"))
	if !ok {
		t.Fatal("k1 missing")
	}
	value, err := fm.ReadValueAt(entry.FileID, entry.ValueOffset, entry.ValueSize)
	if err != nil {
		t.Fatalf("ReadValueAt failed: %v", err)
	}
	if string(value) != "v3" {
		t.Errorf("expected the latest value v3, got %s", value)
	}
}

func TestBuildKeydirResolvesDeletesByTimestamp(t *testing.T) {
	fs := afero.NewMemMapFs()
	path := "store"
	newTestStoreDir(t, fs, path)
	// Segment 1 holds the put and its tombstone. Segment 2, with a higher id,
	// holds a compacted copy carrying the original (older) timestamp. Replay order
	// alone would resurrect the key
	writeSegment(t, fs, path, 1, []*record.Record{
		record.NewPut([]byte("ghost"), []byte("old"), 10),
		record.NewTombstone([]byte("ghost"), 30),
	})
	writeSegment(t, fs, path, 2, []*record.Record{
		record.NewPut([]byte("ghost"), []byte("old"), 10),
	})

	fm, err := NewFileManager(fs, path, testSegmentMaxBytes, false)
	if err != nil {
		t.Fatalf("NewFileManager failed: %v", err)
	}
	defer fm.Close()
	kd, err := fm.BuildKeydir()
	if err != nil {
		t.Fatalf("BuildKeydir failed: %v", err)
	}
	if _, ok := kd.Get([]byte("ghost")); ok {
		t.Error("deleted key was resurrected by a stale compacted copy")
	}
}

func TestBuildKeydirTruncatesTornTail(t *testing.T) {
	fs := afero.NewMemMapFs()
	path := "store"
	newTestStoreDir(t, fs, path)
	recs := []*record.Record{
		record.NewPut([]byte("a"), []byte("value-a"), 1),
		record.NewPut([]byte("b"), []byte("value-b"), 2),
		record.NewPut([]byte("c"), []byte("value-c"), 3),
	}
	offsets := writeSegment(t, fs, path, 1, recs)

	segmentPath := filepath.Join(path, "data", utils.GetSegmentFileName(1))
	file, err := fs.OpenFile(segmentPath, os.O_RDWR, 0666)
	if err != nil {
		t.Fatalf("OpenFile failed: %v", err)
	}
	if err := file.Truncate(offsets[2] + recs[2].Size - 4); err != nil {
		t.Fatalf("Truncate failed: %v", err)
	}
	file.Close()

	fm, err := NewFileManager(fs, path, testSegmentMaxBytes, false)
	if err != nil {
		t.Fatalf("NewFileManager failed: %v", err)
	}
	defer fm.Close()
	kd, err := fm.BuildKeydir()
	if err != nil {
		t.Fatalf("expected torn tail to be tolerated, got %v", err)
	}
	if kd.Size() != 2 {
		t.Errorf("expected 2 intact keys, got %d", kd.Size())
	}
	if _, ok := kd.Get([]byte("c")); ok {
		t.Error("the torn record must not be recovered")
	}

	info, err := fs.Stat(segmentPath)
	if err != nil {
		t.Fatalf("Stat failed: %v", err)
	}
	if info.Size() != offsets[2] {
		t.Errorf("expected file truncated to %d, got %d", offsets[2], info.Size())
	}
}

func TestBuildKeydirFailsOnMidSegmentCorruption(t *testing.T) {
	fs := afero.NewMemMapFs()
	path := "store"
	newTestStoreDir(t, fs, path)
	offsets := writeSegment(t, fs, path, 1, []*record.Record{
		record.NewPut([]byte("a"), []byte("value-a"), 1),
	})
	writeSegment(t, fs, path, 2, []*record.Record{
		record.NewPut([]byte("b"), []byte("value-b"), 2),
	})

	// Corrupt the value of the record in segment 1, which is not the newest segment
	segmentPath := filepath.Join(path, "data", utils.GetSegmentFileName(1))
	file, err := fs.OpenFile(segmentPath, os.O_RDWR, 0666)
	if err != nil {
		t.Fatalf("OpenFile failed: %v", err)
	}
	if _, err := file.WriteAt([]byte{0xFF, 0xFF}, record.ValueOffset(offsets[0], 1)); err != nil {
		t.Fatalf("WriteAt failed: %v", err)
	}
	file.Close()

	fm, err := NewFileManager(fs, path, testSegmentMaxBytes, false)
	if err != nil {
		t.Fatalf("NewFileManager failed: %v", err)
	}
	defer fm.Close()
	if _, err := fm.BuildKeydir(); !errors.Is(err, ErrCorruptSegment) {
		t.Errorf("expected ErrCorruptSegment, got %v", err)
	}
}

func TestBuildKeydirPrefersHintFiles(t *testing.T) {
	fs := afero.NewMemMapFs()
	path := "store"
	newTestStoreDir(t, fs, path)
	recs := []*record.Record{
		record.NewPut([]byte("hinted"), []byte("value-1"), 1),
		record.NewPut([]byte("unhinted"), []byte("value-2"), 2),
	}
	offsets := writeSegment(t, fs, path, 1, recs)

	// The hint file deliberately covers only the first record: if recovery consults
	// it, the second key must be absent
	hintWriter, err := hintfile.NewWriter(fs, filepath.Join(path, "data", utils.GetHintFileName(1)))
	if err != nil {
		t.Fatalf("hintfile.NewWriter failed: %v", err)
	}
	err = hintWriter.WriteHintRecord(&hintfile.HintRecord{
		Timestamp:   recs[0].Header.Timestamp,
		KeySize:     recs[0].Header.KeySize,
		ValueSize:   recs[0].Header.ValueSize,
		ValueOffset: record.ValueOffset(offsets[0], recs[0].Header.KeySize),
		Key:         recs[0].Key,
	})
	if err != nil {
		t.Fatalf("WriteHintRecord failed: %v", err)
	}
	if err := hintWriter.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	fm, err := NewFileManager(fs, path, testSegmentMaxBytes, false)
	if err != nil {
		t.Fatalf("NewFileManager failed: %v", err)
	}
	defer fm.Close()
	kd, err := fm.BuildKeydir()
	if err != nil {
		t.Fatalf("BuildKeydir failed: %v", err)
	}
	if kd.Size() != 1 {
		t.Fatalf("expected recovery to use the hint file (1 key), got %d keys", kd.Size())
	}
	entry, ok := kd.Get([]byte("hinted"))
	if !ok {
		t.Fatal("hinted key missing")
	}
	value, err := fm.ReadValueAt(entry.FileID, entry.ValueOffset, entry.ValueSize)
	if err != nil {
		t.Fatalf("ReadValueAt failed: %v", err)
	}
	if string(value) != "value-1" {
		t.Errorf("expected value-1, got %s", value)
	}
}

func TestGetImmutableFilesExcludesActive(t *testing.T) {
	fs := afero.NewMemMapFs()
	path := "store"
	newTestStoreDir(t, fs, path)
	writeSegment(t, fs, path, 1, []*record.Record{record.NewPut([]byte("a"), []byte("1"), 1)})
	writeSegment(t, fs, path, 2, []*record.Record{record.NewPut([]byte("b"), []byte("2"), 2)})

	fm, err := NewFileManager(fs, path, testSegmentMaxBytes, false)
	if err != nil {
		t.Fatalf("NewFileManager failed: %v", err)
	}
	defer fm.Close()

	// Before any write, every file found on disk is immutable
	ids, err := fm.GetImmutableFiles()
	if err != nil {
		t.Fatalf("GetImmutableFiles failed: %v", err)
	}
	if len(ids) != 2 {
		t.Fatalf("expected 2 immutable segments, got %v", ids)
	}

	// The first write creates segment 3, which must not be reported immutable
	if _, err := fm.Write(record.NewPut([]byte("c"), []byte("3"), 3)); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	ids, err = fm.GetImmutableFiles()
	if err != nil {
		t.Fatalf("GetImmutableFiles failed: %v", err)
	}
	for _, id := range ids {
		if id == 3 {
			t.Error("active segment reported as immutable")
		}
	}
	if len(ids) != 2 {
		t.Errorf("expected 2 immutable segments, got %v", ids)
	}
}

func TestDeleteSegmentsRemovesDataAndHints(t *testing.T) {
	fs := afero.NewMemMapFs()
	path := "store"
	newTestStoreDir(t, fs, path)
	writeSegment(t, fs, path, 1, []*record.Record{record.NewPut([]byte("a"), []byte("1"), 1)})
	hintPath := filepath.Join(path, "data", utils.GetHintFileName(1))
	if err := afero.WriteFile(fs, hintPath, nil, 0666); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}

	fm, err := NewFileManager(fs, path, testSegmentMaxBytes, false)
	if err != nil {
		t.Fatalf("NewFileManager failed: %v", err)
	}
	defer fm.Close()
	if err := fm.DeleteSegments([]int{1}); err != nil {
		t.Fatalf("DeleteSegments failed: %v", err)
	}
	if exists, _ := afero.Exists(fs, filepath.Join(path, "data", utils.GetSegmentFileName(1))); exists {
		t.Error("segment file still present after delete")
	}
	if exists, _ := afero.Exists(fs, hintPath); exists {
		t.Error("hint file still present after delete")
	}
}
