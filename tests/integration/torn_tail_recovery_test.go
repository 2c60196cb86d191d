package integration

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"testing"

	"github.com/ananthvk/caskdb"
	"github.com/spf13/afero"
)

// newestSegmentPath returns the path of the data file with the highest id
func newestSegmentPath(t *testing.T, dbPath string) string {
	t.Helper()
	entries, err := os.ReadDir(filepath.Join(dbPath, "data"))
	if err != nil {
		t.Fatalf("ReadDir failed: %v", err)
	}
	var names []string
	for _, entry := range entries {
		if strings.HasSuffix(entry.Name(), ".data") {
			names = append(names, entry.Name())
		}
	}
	if len(names) == 0 {
		t.Fatal("no segment files found")
	}
	sort.Strings(names)
	return filepath.Join(dbPath, "data", names[len(names)-1])
}

func TestTornTailRecovery(t *testing.T) {
	tempDir, err := os.MkdirTemp("", "caskdb_torn_tail_test_*")
	if err != nil {
		t.Fatalf("failed to create temp dir: %v", err)
	}
	defer os.RemoveAll(tempDir)

	fs := afero.NewOsFs()
	dbPath := filepath.Join(tempDir, "test.db")

	store, err := caskdb.Open(fs, dbPath, caskdb.DefaultOptions())
	if err != nil {
		t.Fatalf("failed to open datastore: %v", err)
	}

	const numKeys = 10000
	const chunkSize = 1000
	for start := 0; start < numKeys; start += chunkSize {
		entries := make([]caskdb.KV, chunkSize)
		for i := range chunkSize {
			entries[i] = caskdb.KV{
				Key:   fmt.Appendf(nil, "key%05d", start+i),
				Value: fmt.Appendf(nil, "value%05d", start+i),
			}
		}
		if err := store.BatchPut(entries); err != nil {
			t.Fatalf("BatchPut failed: %v", err)
		}
	}
	if err := store.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	// Simulate a crash mid-append: chop 17 bytes off the newest segment
	segmentPath := newestSegmentPath(t, dbPath)
	info, err := os.Stat(segmentPath)
	if err != nil {
		t.Fatalf("Stat failed: %v", err)
	}
	if err := os.Truncate(segmentPath, info.Size()-17); err != nil {
		t.Fatalf("Truncate failed: %v", err)
	}

	store, err = caskdb.Open(fs, dbPath, caskdb.DefaultOptions())
	if err != nil {
		t.Fatalf("recovery after torn tail must succeed, got: %v", err)
	}
	defer store.Close()

	// Every key except possibly the last written one must read back correctly
	for i := range numKeys - 1 {
		key := fmt.Sprintf("key%05d", i)
		value, err := store.Get([]byte(key))
		if err != nil {
			t.Fatalf("key %s unreadable after recovery: %v", key, err)
		}
		if string(value) != fmt.Sprintf("value%05d", i) {
			t.Errorf("key %s: unexpected value %s", key, value)
		}
	}
	lastKey := fmt.Sprintf("key%05d", numKeys-1)
	if value, err := store.Get([]byte(lastKey)); err != nil {
		if !errors.Is(err, caskdb.ErrKeyNotFound) {
			t.Errorf("last key: expected a clean hit or a miss, got %v", err)
		}
	} else if string(value) != fmt.Sprintf("value%05d", numKeys-1) {
		t.Errorf("last key: unexpected value %s", value)
	}
}
