package hintfile

import (
	"errors"
	"io"
	"testing"

	"github.com/google/uuid"
	"github.com/spf13/afero"
)

func TestHintFileRoundTrip(t *testing.T) {
	fs := afero.NewMemMapFs()
	fileName := uuid.NewString()

	hints := []*HintRecord{
		{Timestamp: 10, KeySize: 5, ValueSize: 100, ValueOffset: 40, Key: []byte("alpha")},
		{Timestamp: 20, KeySize: 4, ValueSize: 0, ValueOffset: 220, Key: []byte("beta")},
		{Timestamp: 30, KeySize: 5, ValueSize: 7, ValueOffset: 300, Key: []byte("gamma")},
	}

	writer, err := NewWriter(fs, fileName)
	if err != nil {
		t.Fatalf("NewWriter failed: %v", err)
	}
	for _, hint := range hints {
		if err := writer.WriteHintRecord(hint); err != nil {
			t.Fatalf("WriteHintRecord failed: %v", err)
		}
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	scanner, err := NewScanner(fs, fileName)
	if err != nil {
		t.Fatalf("NewScanner failed: %v", err)
	}
	defer scanner.Close()

	for i, want := range hints {
		got, err := scanner.Scan()
		if err != nil {
			t.Fatalf("Scan %d failed: %v", i, err)
		}
		if got.Timestamp != want.Timestamp || got.KeySize != want.KeySize ||
			got.ValueSize != want.ValueSize || got.ValueOffset != want.ValueOffset {
			t.Errorf("hint %d: expected %+v, got %+v", i, want, got)
		}
		if string(got.Key) != string(want.Key) {
			t.Errorf("hint %d: expected key %s, got %s", i, want.Key, got.Key)
		}
	}

	if _, err := scanner.Scan(); !errors.Is(err, io.EOF) {
		t.Errorf("expected io.EOF at end of file, got %v", err)
	}
}

func TestHintWriterRejectsOversizedKey(t *testing.T) {
	fs := afero.NewMemMapFs()
	writer, err := NewWriter(fs, uuid.NewString())
	if err != nil {
		t.Fatalf("NewWriter failed: %v", err)
	}
	defer writer.Close()

	if err := writer.WriteHintRecord(&HintRecord{KeySize: 1 << 20}); err == nil {
		t.Error("expected an error for an oversized key")
	}
}
