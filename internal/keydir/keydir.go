package keydir

import (
	"bytes"
	"sync"

	"github.com/google/btree"
)

const btreeDegree = 32

// Record locates the most recent live value for a key.
//
// ValueOffset is the offset of the first value byte inside the segment file (not the
// start of the record), so a read is a single positional read of exactly ValueSize
// bytes
type Record struct {
	FileID      int
	ValueSize   uint32
	ValueOffset int64
	Timestamp   uint64
}

type item struct {
	key []byte
	rec Record
}

func (a *item) Less(b btree.Item) bool {
	return bytes.Compare(a.key, b.(*item).key) < 0
}

// Keydir is the in-memory ordered directory from key to the on-disk location of its
// latest value. Keys are ordered lexicographically as raw bytes. All methods are safe
// for concurrent use; reads take a shared lock, mutations take the exclusive lock only
// for the duration of the map update
type Keydir struct {
	mu   sync.RWMutex
	tree *btree.BTree
}

// NewKeydir initializes a new empty Keydir
func NewKeydir() *Keydir {
	return &Keydir{
		tree: btree.New(btreeDegree),
	}
}

// Put inserts or updates the entry for key. If the existing entry has a newer
// timestamp the update is ignored, which makes replaying records in any order safe.
// It returns the previous entry, if one existed
func (k *Keydir) Put(key []byte, rec Record) (Record, bool) {
	k.mu.Lock()
	defer k.mu.Unlock()
	probe := &item{key: key}
	if existing := k.tree.Get(probe); existing != nil {
		prev := existing.(*item).rec
		if rec.Timestamp < prev.Timestamp {
			// Ignore stale updates
			return prev, true
		}
		existing.(*item).rec = rec
		return prev, true
	}
	// The key may be backed by a shared scan buffer, keep our own copy
	k.tree.ReplaceOrInsert(&item{key: bytes.Clone(key), rec: rec})
	return Record{}, false
}

// Get retrieves the entry for key
func (k *Keydir) Get(key []byte) (Record, bool) {
	k.mu.RLock()
	defer k.mu.RUnlock()
	if existing := k.tree.Get(&item{key: key}); existing != nil {
		return existing.(*item).rec, true
	}
	return Record{}, false
}

// Delete removes the entry for key and returns it, if one existed
func (k *Keydir) Delete(key []byte) (Record, bool) {
	k.mu.Lock()
	defer k.mu.Unlock()
	if removed := k.tree.Delete(&item{key: key}); removed != nil {
		return removed.(*item).rec, true
	}
	return Record{}, false
}

// UpdateIfMatches points key at rec only if the current entry still references the
// given file and value offset. It returns whether the swap was applied. The compactor
// uses this so that a key superseded by the writer mid-compaction is never overwritten
func (k *Keydir) UpdateIfMatches(key []byte, fileID int, valueOffset int64, rec Record) bool {
	k.mu.Lock()
	defer k.mu.Unlock()
	existing := k.tree.Get(&item{key: key})
	if existing == nil {
		return false
	}
	current := existing.(*item).rec
	if current.FileID != fileID || current.ValueOffset != valueOffset {
		return false
	}
	existing.(*item).rec = rec
	return true
}

// AscendRange calls fn for every entry with start <= key <= end, in ascending key
// order, while holding the shared lock. Iteration stops early if fn returns false.
// The key passed to fn must not be retained or modified
func (k *Keydir) AscendRange(start, end []byte, fn func(key []byte, rec Record) bool) {
	k.mu.RLock()
	defer k.mu.RUnlock()
	k.tree.AscendGreaterOrEqual(&item{key: start}, func(i btree.Item) bool {
		it := i.(*item)
		if bytes.Compare(it.key, end) > 0 {
			return false
		}
		return fn(it.key, it.rec)
	})
}

// Ascend calls fn for every entry in ascending key order while holding the shared
// lock. Iteration stops early if fn returns false. The key passed to fn must not be
// retained or modified
func (k *Keydir) Ascend(fn func(key []byte, rec Record) bool) {
	k.mu.RLock()
	defer k.mu.RUnlock()
	k.tree.Ascend(func(i btree.Item) bool {
		it := i.(*item)
		return fn(it.key, it.rec)
	})
}

// Keys returns a copy of all keys in ascending order
func (k *Keydir) Keys() [][]byte {
	k.mu.RLock()
	defer k.mu.RUnlock()
	keys := make([][]byte, 0, k.tree.Len())
	k.tree.Ascend(func(i btree.Item) bool {
		keys = append(keys, bytes.Clone(i.(*item).key))
		return true
	})
	return keys
}

// Size returns the number of keys present
func (k *Keydir) Size() int {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return k.tree.Len()
}
