package record

import (
	"errors"
	"os"
	"testing"

	"github.com/google/uuid"
	"github.com/spf13/afero"
)

func writeTestRecords(t *testing.T, fs afero.Fs, fileName string, recs []*Record) []int64 {
	t.Helper()
	writer, err := NewWriter(fs, fileName, false)
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

func TestReadValueAt(t *testing.T) {
	fs := afero.NewMemMapFs()
	fileName := uuid.NewString()
	recs := []*Record{
		NewPut([]byte("first"), []byte("the quick brown fox"), 1),
		NewPut([]byte("second"), []byte("jumps over"), 2),
	}
	offsets := writeTestRecords(t, fs, fileName, recs)

	reader, err := NewReader(fs, fileName)
	if err != nil {
		t.Fatalf("NewReader failed: %v", err)
	}
	defer reader.Close()

	for i, rec := range recs {
		valueOffset := ValueOffset(offsets[i], rec.Header.KeySize)
		value, err := reader.ReadValueAt(valueOffset, rec.Header.ValueSize)
		if err != nil {
			t.Fatalf("ReadValueAt failed: %v", err)
		}
		if string(value) != string(rec.Value) {
			t.Errorf("expected %s, got %s", rec.Value, value)
		}
	}
}

func TestReadRecordAt(t *testing.T) {
	fs := afero.NewMemMapFs()
	fileName := uuid.NewString()
	recs := []*Record{
		NewPut([]byte("key"), []byte("value"), 7),
		NewTombstone([]byte("key"), 8),
	}
	offsets := writeTestRecords(t, fs, fileName, recs)

	reader, err := NewReader(fs, fileName)
	if err != nil {
		t.Fatalf("NewReader failed: %v", err)
	}
	defer reader.Close()

	got, err := reader.ReadRecordAt(offsets[0])
	if err != nil {
		t.Fatalf("ReadRecordAt failed: %v", err)
	}
	if string(got.Key) != "key" || string(got.Value) != "value" || got.Header.Timestamp != 7 {
		t.Errorf("unexpected record: %+v", got)
	}

	tomb, err := reader.ReadRecordAt(offsets[1])
	if err != nil {
		t.Fatalf("ReadRecordAt failed: %v", err)
	}
	if !tomb.IsTombstone() {
		t.Error("expected a tombstone")
	}
}

func TestReadRecordAtDetectsCorruption(t *testing.T) {
	fs := afero.NewMemMapFs()
	fileName := uuid.NewString()
	rec := NewPut([]byte("key"), []byte("some value bytes"), 1)
	offsets := writeTestRecords(t, fs, fileName, []*Record{rec})

	// Flip one byte inside the value
	file, err := fs.OpenFile(fileName, os.O_RDWR, 0666)
	if err != nil {
		t.Fatalf("OpenFile failed: %v", err)
	}
	if _, err := file.WriteAt([]byte{0xFF}, ValueOffset(offsets[0], rec.Header.KeySize)+2); err != nil {
		t.Fatalf("WriteAt failed: %v", err)
	}
	file.Close()

	reader, err := NewReader(fs, fileName)
	if err != nil {
		t.Fatalf("NewReader failed: %v", err)
	}
	defer reader.Close()

	if _, err := reader.ReadRecordAt(offsets[0]); !errors.Is(err, ErrChecksumMismatch) {
		t.Errorf("expected ErrChecksumMismatch, got %v", err)
	}
}
