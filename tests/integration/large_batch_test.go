package integration

import (
	"fmt"
	"math/rand"
	"testing"

	"github.com/ananthvk/caskdb"
	"github.com/spf13/afero"
)

func TestLargeBatchInsertAndRange(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping large batch test in short mode")
	}

	fs := afero.NewMemMapFs()
	opts := caskdb.DefaultOptions()
	opts.SegmentMaxBytes = 1024 * 1024

	store, err := caskdb.Open(fs, "large.db", opts)
	if err != nil {
		t.Fatalf("failed to open datastore: %v", err)
	}
	defer store.Close()

	const numKeys = 100000
	const chunkSize = 10000
	for start := 0; start < numKeys; start += chunkSize {
		entries := make([]caskdb.KV, chunkSize)
		for i := range chunkSize {
			entries[i] = caskdb.KV{
				Key:   fmt.Appendf(nil, "key%08d", start+i),
				Value: fmt.Appendf(nil, "value%08d", start+i),
			}
		}
		if err := store.BatchPut(entries); err != nil {
			t.Fatalf("BatchPut failed: %v", err)
		}
	}
	if store.Size() != numKeys {
		t.Fatalf("expected %d keys, got %d", numKeys, store.Size())
	}

	// Spot check random keys
	rng := rand.New(rand.NewSource(42))
	for range 1000 {
		i := rng.Intn(numKeys)
		value, err := store.Get(fmt.Appendf(nil, "key%08d", i))
		if err != nil {
			t.Fatalf("Get failed: %v", err)
		}
		if string(value) != fmt.Sprintf("value%08d", i) {
			t.Errorf("key %d: unexpected value %s", i, value)
		}
	}

	// An aligned window returns exactly its keys, in order
	pairs, err := store.Range([]byte("key00000100"), []byte("key00000199"))
	if err != nil {
		t.Fatalf("Range failed: %v", err)
	}
	if len(pairs) != 100 {
		t.Fatalf("expected 100 pairs, got %d", len(pairs))
	}
	for i, pair := range pairs {
		want := fmt.Sprintf("key%08d", 100+i)
		if string(pair.Key) != want {
			t.Errorf("position %d: expected %s, got %s", i, want, pair.Key)
		}
	}
}
