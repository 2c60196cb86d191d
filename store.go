package caskdb

import (
	"bytes"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ananthvk/caskdb/internal/constants"
	"github.com/ananthvk/caskdb/internal/filemanager"
	"github.com/ananthvk/caskdb/internal/keydir"
	"github.com/ananthvk/caskdb/internal/lock"
	"github.com/ananthvk/caskdb/internal/metafile"
	"github.com/ananthvk/caskdb/internal/readpool"
	"github.com/ananthvk/caskdb/internal/record"
	"github.com/spf13/afero"
)

const (
	datastoreType = "caskdb" // Type of store
	version       = "1.0.0"  // Version of the application
)

// KV is a single key-value pair, used by batch writes and range reads
type KV struct {
	Key   []byte
	Value []byte
}

// DataStore is an embeddable persistent key-value store. Values live on disk in
// append-only segment files; an in-memory ordered key directory maps every key to
// the location of its most recent value, so point reads are a single positional
// read and range scans walk keys in order.
//
// A DataStore supports many concurrent readers and a single logical writer; a
// background compactor reclaims space from superseded records. One process owns a
// data directory at a time, enforced with a lock file
type DataStore struct {
	fs          afero.Fs
	path        string
	opts        Options
	metaInfo    *metafile.MetaData
	keydir      *keydir.Keydir
	fileManager *filemanager.FileManager
	dirLock     *lock.Lock

	// Serializes the write path (put, batch put, delete)
	writeMu       sync.Mutex
	lastTimestamp atomic.Uint64
	liveBytes     atomic.Int64
	deadBytes     atomic.Int64
	closed        atomic.Bool

	compactor compactor
}

// Create creates a datastore at the given path. If the path is a file, a non-empty
// directory, or already holds a datastore, an error is returned. Otherwise the
// directory is created (along with all its parents) and the datastore is initialized
func Create(fs afero.Fs, path string, opts Options) (*DataStore, error) {
	opts = opts.withDefaults()
	if valid, reason, err := metafile.IsValidPath(fs, path); err != nil || !valid {
		if err != nil {
			return nil, err
		}
		return nil, errors.New(reason)
	}

	if err := fs.MkdirAll(path, os.ModePerm); err != nil {
		return nil, err
	}

	metaInfo := &metafile.MetaData{
		Type:            datastoreType,
		Version:         version,
		Created:         time.Now().String(),
		SegmentMaxBytes: opts.SegmentMaxBytes,
	}
	if err := metafile.WriteMetaFile(fs, path, metaInfo); err != nil {
		return nil, err
	}

	if err := fs.Mkdir(filepath.Join(path, "data"), os.ModePerm); err != nil {
		return nil, err
	}

	return newDataStore(fs, path, opts, metaInfo)
}

// Open opens the datastore at the specified path, creating it first if nothing
// exists there. Open performs recovery of the key directory (using hint files where
// present), acquires the directory lock and starts the background compactor
func Open(fs afero.Fs, path string, opts Options) (*DataStore, error) {
	exists, err := metafile.IsDatastore(fs, path)
	if err != nil {
		return nil, err
	}
	if !exists {
		return Create(fs, path, opts)
	}

	opts = opts.withDefaults()
	metaInfo, err := metafile.ReadMetaFile(fs, path)
	if err != nil {
		return nil, err
	}
	if metaInfo.Type != datastoreType {
		return nil, errors.New("metafile corrupted, not a caskdb datastore")
	}
	// The persisted rollover threshold wins, so every process that opens this store
	// rolls segments at the same size
	if metaInfo.SegmentMaxBytes > 0 {
		opts.SegmentMaxBytes = metaInfo.SegmentMaxBytes
	}

	return newDataStore(fs, path, opts, metaInfo)
}

func newDataStore(fs afero.Fs, path string, opts Options, metaInfo *metafile.MetaData) (*DataStore, error) {
	dataStore := &DataStore{
		fs:       fs,
		path:     path,
		opts:     opts,
		metaInfo: metaInfo,
	}

	// The directory lock needs real file descriptors, so in-memory filesystems
	// skip it. They are process private anyway
	if _, isOsFs := fs.(*afero.OsFs); isOsFs {
		dirLock, err := lock.Acquire(path)
		if err != nil {
			return nil, err
		}
		dataStore.dirLock = dirLock
	}

	fileManager, err := filemanager.NewFileManager(fs, path, opts.SegmentMaxBytes, opts.FsyncPolicy == FsyncEveryWrite)
	if err != nil {
		dataStore.unlock()
		return nil, err
	}
	dataStore.fileManager = fileManager

	start := time.Now()
	kd, err := fileManager.BuildKeydir()
	if err != nil {
		fileManager.Close()
		dataStore.unlock()
		return nil, err
	}
	dataStore.keydir = kd

	var liveBytes int64
	var maxTimestamp uint64
	kd.Ascend(func(key []byte, rec keydir.Record) bool {
		liveBytes += recordSize(len(key), rec.ValueSize)
		if rec.Timestamp > maxTimestamp {
			maxTimestamp = rec.Timestamp
		}
		return true
	})
	dataStore.liveBytes.Store(liveBytes)
	dataStore.lastTimestamp.Store(maxTimestamp)
	if total, err := fileManager.TotalDataBytes(); err == nil && total > liveBytes {
		dataStore.deadBytes.Store(total - liveBytes)
	}
	slog.Info("opened datastore", "path", path, "keys", kd.Size(), "took", time.Since(start))

	if opts.CompactionInterval > 0 {
		dataStore.compactor.start(dataStore, opts.CompactionInterval)
	}
	return dataStore, nil
}

// Get returns the value associated with the key. If the key does not exist,
// ErrKeyNotFound is returned; in case of any other errors, the error is returned
func (dataStore *DataStore) Get(key []byte) ([]byte, error) {
	if dataStore.closed.Load() {
		return nil, ErrClosed
	}
	var lastErr error
	// A compaction may unlink the segment between the directory lookup and the read.
	// The swap is per key, so a second lookup sees the rewritten location
	for range 3 {
		rec, ok := dataStore.keydir.Get(key)
		if !ok {
			return nil, ErrKeyNotFound
		}
		value, err := dataStore.fileManager.ReadValueAt(rec.FileID, rec.ValueOffset, rec.ValueSize)
		if err == nil {
			return value, nil
		}
		lastErr = err
	}
	return nil, lastErr
}

// Range returns all key-value pairs with start <= key <= end, in ascending key
// order. Values are fetched in parallel across segment files; the result is ordered
// by key regardless of fetch completion order. If any value cannot be read, the
// whole call fails, no partial result is returned
func (dataStore *DataStore) Range(start, end []byte) ([]KV, error) {
	if dataStore.closed.Load() {
		return nil, ErrClosed
	}
	var lastErr error
	for range 3 {
		var keys [][]byte
		var requests []readpool.Request
		dataStore.keydir.AscendRange(start, end, func(key []byte, rec keydir.Record) bool {
			keys = append(keys, bytes.Clone(key))
			requests = append(requests, readpool.Request{
				FileID:      rec.FileID,
				ValueOffset: rec.ValueOffset,
				ValueSize:   rec.ValueSize,
			})
			return true
		})

		values, err := readpool.Fetch(dataStore.fileManager, requests, dataStore.opts.ReadParallelism)
		if err != nil {
			// Same race as in Get: retry against a fresh directory snapshot
			lastErr = err
			continue
		}
		results := make([]KV, len(keys))
		for i := range keys {
			results[i] = KV{Key: keys[i], Value: values[i]}
		}
		return results, nil
	}
	return nil, lastErr
}

// Put sets the value for the specified key. The key directory is only updated after
// the record has been handed to the file, so a crash mid-write never leaves the
// directory pointing at a record that is not on disk
func (dataStore *DataStore) Put(key []byte, value []byte) error {
	if err := checkSizes(key, value); err != nil {
		return err
	}
	dataStore.writeMu.Lock()
	defer dataStore.writeMu.Unlock()
	if dataStore.closed.Load() {
		return ErrClosed
	}

	rec := record.NewPut(key, value, dataStore.nextTimestamp())
	pos, err := dataStore.fileManager.Write(rec)
	if err != nil {
		return err
	}
	dataStore.applyWrite(key, rec, pos)
	return nil
}

// BatchPut appends all entries consecutively to the active segment, in input order.
// Records that fit the active segment are written with a single call; rollover may
// occur mid-batch. The batch is not a transaction: a crash mid-batch leaves a prefix
// of the entries durably present
func (dataStore *DataStore) BatchPut(entries []KV) error {
	for _, entry := range entries {
		if err := checkSizes(entry.Key, entry.Value); err != nil {
			return err
		}
	}
	dataStore.writeMu.Lock()
	defer dataStore.writeMu.Unlock()
	if dataStore.closed.Load() {
		return ErrClosed
	}

	recs := make([]*record.Record, len(entries))
	for i, entry := range entries {
		recs[i] = record.NewPut(entry.Key, entry.Value, dataStore.nextTimestamp())
	}
	positions, err := dataStore.fileManager.WriteBatch(recs)
	// Entries that reached the file stay visible even when a later chunk failed
	for i, pos := range positions {
		dataStore.applyWrite(entries[i].Key, recs[i], pos)
	}
	return err
}

// Delete removes the key from the store. If the key is not present, ErrKeyNotFound
// is returned and nothing is written. Otherwise a tombstone record is appended and
// the key directory entry is removed
func (dataStore *DataStore) Delete(key []byte) error {
	dataStore.writeMu.Lock()
	defer dataStore.writeMu.Unlock()
	if dataStore.closed.Load() {
		return ErrClosed
	}
	if _, ok := dataStore.keydir.Get(key); !ok {
		return ErrKeyNotFound
	}

	rec := record.NewTombstone(key, dataStore.nextTimestamp())
	if _, err := dataStore.fileManager.Write(rec); err != nil {
		return err
	}
	if prev, ok := dataStore.keydir.Delete(key); ok {
		dataStore.liveBytes.Add(-recordSize(len(key), prev.ValueSize))
		dataStore.deadBytes.Add(recordSize(len(key), prev.ValueSize))
	}
	// The tombstone itself is dead weight the moment it is written
	dataStore.deadBytes.Add(rec.Size)
	return nil
}

// Keys returns all keys currently present, in ascending order. Note: this is
// intended for debug or inspection
func (dataStore *DataStore) Keys() [][]byte {
	return dataStore.keydir.Keys()
}

// Size returns the number of keys present in the datastore
func (dataStore *DataStore) Size() int {
	return dataStore.keydir.Size()
}

// Sync flushes the active segment to durable storage
func (dataStore *DataStore) Sync() error {
	if dataStore.closed.Load() {
		return ErrClosed
	}
	return dataStore.fileManager.Sync()
}

// Close flushes the active segment, stops and joins the compactor, closes all file
// handles and releases the directory lock. Operations invoked after Close return
// ErrClosed
func (dataStore *DataStore) Close() error {
	if !dataStore.closed.CompareAndSwap(false, true) {
		return ErrClosed
	}
	dataStore.compactor.stop()
	// Wait out any manual Merge still in flight
	dataStore.compactor.mu.Lock()
	defer dataStore.compactor.mu.Unlock()

	dataStore.writeMu.Lock()
	defer dataStore.writeMu.Unlock()
	err := dataStore.fileManager.Close()
	dataStore.unlock()
	return err
}

func (dataStore *DataStore) unlock() {
	if dataStore.dirLock != nil {
		dataStore.dirLock.Release()
		dataStore.dirLock = nil
	}
}

// applyWrite publishes a freshly appended record in the key directory and updates
// the byte accounting. Callers must hold writeMu
func (dataStore *DataStore) applyWrite(key []byte, rec *record.Record, pos filemanager.Position) {
	prev, existed := dataStore.keydir.Put(key, keydir.Record{
		FileID:      pos.FileID,
		ValueSize:   rec.Header.ValueSize,
		ValueOffset: record.ValueOffset(pos.RecordOffset, rec.Header.KeySize),
		Timestamp:   rec.Header.Timestamp,
	})
	dataStore.liveBytes.Add(rec.Size)
	if existed {
		dataStore.liveBytes.Add(-recordSize(len(key), prev.ValueSize))
		dataStore.deadBytes.Add(recordSize(len(key), prev.ValueSize))
	}
}

// nextTimestamp returns a strictly increasing write sequence number. Wall clock
// nanoseconds, bumped by one whenever the clock stalls or steps backwards
func (dataStore *DataStore) nextTimestamp() uint64 {
	for {
		last := dataStore.lastTimestamp.Load()
		next := uint64(time.Now().UnixNano())
		if next <= last {
			next = last + 1
		}
		if dataStore.lastTimestamp.CompareAndSwap(last, next) {
			return next
		}
	}
}

func checkSizes(key []byte, value []byte) error {
	if len(key) > constants.MaxKeySize {
		return fmt.Errorf("%w: %d bytes", record.ErrKeyTooLarge, len(key))
	}
	if len(value) > constants.MaxValueSize {
		return fmt.Errorf("%w: %d bytes", record.ErrValueTooLarge, len(value))
	}
	return nil
}

func recordSize(keyLen int, valueSize uint32) int64 {
	return record.HeaderSize + int64(keyLen) + int64(valueSize)
}
