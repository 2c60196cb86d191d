package filemanager

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/ananthvk/caskdb/internal/hintfile"
	"github.com/ananthvk/caskdb/internal/keydir"
	"github.com/ananthvk/caskdb/internal/record"
	"github.com/ananthvk/caskdb/internal/segfile"
	"github.com/ananthvk/caskdb/internal/utils"
	"github.com/spf13/afero"
)

// ErrCorruptSegment is returned by recovery when a segment other than the newest one
// contains a record that fails structural decode or checksum verification. A decode
// failure at the tail of the newest segment is a torn tail and is truncated instead
var ErrCorruptSegment = errors.New("segment file is corrupted")

// FileManager owns the segment files of one store: it allocates segment ids, serves
// cached read handles, appends through a rotating writer and rebuilds the key
// directory at open
type FileManager struct {
	mu                sync.RWMutex
	fs                afero.Fs
	dataStoreRootPath string
	readers           map[int]*record.Reader
	rotateWriter      *RotateWriter
	activeFileID      int
	nextFileID        int
}

func NewFileManager(fs afero.Fs, path string, segmentMaxBytes int64, syncEveryWrite bool) (*FileManager, error) {
	dataDirPath := filepath.Join(path, "data")
	ids, err := sortedSegmentIDs(fs, dataDirPath)
	if err != nil {
		return nil, err
	}
	maxFileID := 0
	if len(ids) > 0 {
		maxFileID = ids[len(ids)-1]
	}

	// The active segment is created lazily on the first append. Everything found on
	// disk is immutable from here on, which keeps crash recovery simple: a restart
	// never appends to a file that predates it
	fileManager := &FileManager{
		fs:                fs,
		dataStoreRootPath: path,
		readers:           map[int]*record.Reader{},
		activeFileID:      maxFileID + 1,
		nextFileID:        maxFileID + 1,
	}

	fileManager.rotateWriter = NewRotateWriter(fs, segmentMaxBytes, syncEveryWrite, func() (int, string) {
		id := fileManager.nextFileID
		fileManager.nextFileID++
		fileManager.activeFileID = id
		return id, filepath.Join(dataDirPath, utils.GetSegmentFileName(id))
	})

	return fileManager, nil
}

// Write appends a single record to the active segment and returns its position
func (f *FileManager) Write(rec *record.Record) (Position, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.rotateWriter.Write(rec)
}

// WriteBatch appends the records in order, rolling over at record boundaries when
// needed. Positions are returned for every record that reached a file
func (f *FileManager) WriteBatch(recs []*record.Record) ([]Position, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.rotateWriter.WriteBatch(recs)
}

// ReadValueAt reads size bytes at the given value offset in the segment file.
// The read handle is cached for future use
func (f *FileManager) ReadValueAt(fileID int, valueOffset int64, size uint32) ([]byte, error) {
	reader, err := f.GetReader(fileID)
	if err != nil {
		return nil, err
	}
	return reader.ReadValueAt(valueOffset, size)
}

// BuildKeydir scans all segment files in id order and rebuilds the key directory.
// Hint files are preferred where present. A decode error at the tail of the newest
// segment is treated as a torn tail: the file is truncated at the last intact record
// boundary. A decode error anywhere else fails recovery with ErrCorruptSegment
func (f *FileManager) BuildKeydir() (*keydir.Keydir, error) {
	dataDirPath := filepath.Join(f.dataStoreRootPath, "data")
	kd := keydir.NewKeydir()
	ids, err := sortedSegmentIDs(f.fs, dataDirPath)
	if err != nil {
		return nil, err
	}

	// Tombstone timestamps seen during the replay. A compacted copy of a key may live
	// in a higher-numbered segment than the tombstone that killed it, so deletes are
	// resolved by timestamp, not by replay order
	graveyard := map[string]uint64{}

	for i, id := range ids {
		newest := i == len(ids)-1
		hintPath := filepath.Join(dataDirPath, utils.GetHintFileName(id))
		if exists, _ := afero.Exists(f.fs, hintPath); exists {
			if err := f.loadHintFile(kd, hintPath, id, graveyard); err == nil {
				continue
			} else {
				slog.Warn("hint file unreadable, scanning segment instead", "segment", id, "error", err)
			}
		}
		if err := f.replaySegment(kd, id, newest, graveyard); err != nil {
			return nil, err
		}
	}
	return kd, nil
}

func (f *FileManager) loadHintFile(kd *keydir.Keydir, hintPath string, fileID int, graveyard map[string]uint64) error {
	scanner, err := hintfile.NewScanner(f.fs, hintPath)
	if err != nil {
		return err
	}
	defer scanner.Close()
	for {
		hint, err := scanner.Scan()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
		if ts, deleted := graveyard[string(hint.Key)]; deleted && ts > hint.Timestamp {
			continue
		}
		kd.Put(hint.Key, keydir.Record{
			FileID:      fileID,
			ValueSize:   hint.ValueSize,
			ValueOffset: hint.ValueOffset,
			Timestamp:   hint.Timestamp,
		})
	}
}

func (f *FileManager) replaySegment(kd *keydir.Keydir, fileID int, newest bool, graveyard map[string]uint64) error {
	path := filepath.Join(f.dataStoreRootPath, "data", utils.GetSegmentFileName(fileID))
	if _, err := segfile.ReadFileHeader(f.fs, path); err != nil {
		// The header is synced before any record is appended, so a short newest
		// segment means a crash interrupted its creation and the file holds no
		// records yet
		if info, statErr := f.fs.Stat(path); newest && statErr == nil && info.Size() < segfile.FileHeaderSize {
			slog.Warn("dropping newest segment with incomplete header", "segment", fileID, "size", info.Size())
			return f.fs.Remove(path)
		}
		return fmt.Errorf("%w: %s: %s", ErrCorruptSegment, path, err)
	}
	scanner, err := record.NewScanner(f.fs, path, segfile.FileHeaderSize)
	if err != nil {
		return err
	}
	defer scanner.Close()

	for {
		rec, offset, err := scanner.Scan()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			if newest {
				// Torn tail: a crash mid-append left an incomplete record. Discard
				// everything past the last intact boundary
				slog.Warn("truncating torn tail", "segment", fileID, "offset", scanner.Offset(), "error", err)
				return f.truncate(path, scanner.Offset())
			}
			return fmt.Errorf("%w: %s at offset %d: %s", ErrCorruptSegment, path, scanner.Offset(), err)
		}
		if rec.IsTombstone() {
			if ts, ok := graveyard[string(rec.Key)]; !ok || rec.Header.Timestamp > ts {
				graveyard[string(rec.Key)] = rec.Header.Timestamp
			}
			if existing, ok := kd.Get(rec.Key); ok && existing.Timestamp < rec.Header.Timestamp {
				kd.Delete(rec.Key)
			}
			continue
		}
		if ts, deleted := graveyard[string(rec.Key)]; deleted && ts > rec.Header.Timestamp {
			continue
		}
		kd.Put(rec.Key, keydir.Record{
			FileID:      fileID,
			ValueSize:   rec.Header.ValueSize,
			ValueOffset: record.ValueOffset(offset, rec.Header.KeySize),
			Timestamp:   rec.Header.Timestamp,
		})
	}
}

func (f *FileManager) truncate(path string, size int64) error {
	file, err := f.fs.OpenFile(path, os.O_RDWR, 0666)
	if err != nil {
		return err
	}
	defer file.Close()
	if err := file.Truncate(size); err != nil {
		return err
	}
	return file.Sync()
}

// NewSegmentScanner returns a sequential scanner positioned at the first record of
// the given segment
func (f *FileManager) NewSegmentScanner(fileID int) (*record.Scanner, error) {
	path := filepath.Join(f.dataStoreRootPath, "data", utils.GetSegmentFileName(fileID))
	if _, err := segfile.ReadFileHeader(f.fs, path); err != nil {
		return nil, err
	}
	return record.NewScanner(f.fs, path, segfile.FileHeaderSize)
}

// Sync flushes the active segment
func (f *FileManager) Sync() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.rotateWriter.Sync()
}

func (f *FileManager) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	err := f.rotateWriter.Close()
	for _, reader := range f.readers {
		reader.Close()
	}
	f.readers = map[int]*record.Reader{}
	return err
}

// GetReader returns a cached read handle for the given segment, creating one on
// first use. Uses double-checked locking so the common path takes only the read lock
func (f *FileManager) GetReader(fileID int) (*record.Reader, error) {
	f.mu.RLock()
	reader, exists := f.readers[fileID]
	f.mu.RUnlock()
	if exists {
		return reader, nil
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if reader, exists := f.readers[fileID]; exists {
		// Some other goroutine has created a reader before this one acquired the lock
		return reader, nil
	}

	path := filepath.Join(f.dataStoreRootPath, "data", utils.GetSegmentFileName(fileID))
	reader, err := record.NewReader(f.fs, path)
	if err != nil {
		return nil, err
	}
	f.readers[fileID] = reader
	return reader, nil
}

// GetImmutableFiles returns the ids of all segment files that are no longer written
// to. The active segment is never included
func (f *FileManager) GetImmutableFiles() ([]int, error) {
	f.mu.RLock()
	snapshotActiveID := f.activeFileID
	f.mu.RUnlock()
	ids, err := sortedSegmentIDs(f.fs, filepath.Join(f.dataStoreRootPath, "data"))
	if err != nil {
		return nil, err
	}
	immutableIDs := make([]int, 0, len(ids))
	for _, id := range ids {
		if id != snapshotActiveID {
			immutableIDs = append(immutableIDs, id)
		}
	}
	return immutableIDs, nil
}

// DeleteSegments closes any cached readers for the given segments and unlinks their
// data and hint files
func (f *FileManager) DeleteSegments(ids []int) error {
	f.mu.Lock()
	for _, id := range ids {
		if reader, exists := f.readers[id]; exists {
			reader.Close()
			delete(f.readers, id)
		}
	}
	f.mu.Unlock()

	dataDirPath := filepath.Join(f.dataStoreRootPath, "data")
	for _, id := range ids {
		if err := f.fs.Remove(filepath.Join(dataDirPath, utils.GetSegmentFileName(id))); err != nil {
			return err
		}
		hintPath := filepath.Join(dataDirPath, utils.GetHintFileName(id))
		if exists, _ := afero.Exists(f.fs, hintPath); exists {
			if err := f.fs.Remove(hintPath); err != nil {
				return err
			}
		}
	}
	return nil
}

// TotalDataBytes returns the summed size of all segment files, excluding their
// fixed headers
func (f *FileManager) TotalDataBytes() (int64, error) {
	dataDirPath := filepath.Join(f.dataStoreRootPath, "data")
	ids, err := sortedSegmentIDs(f.fs, dataDirPath)
	if err != nil {
		return 0, err
	}
	var total int64
	for _, id := range ids {
		info, err := f.fs.Stat(filepath.Join(dataDirPath, utils.GetSegmentFileName(id)))
		if err != nil {
			continue
		}
		if size := info.Size() - segfile.FileHeaderSize; size > 0 {
			total += size
		}
	}
	return total, nil
}

func sortedSegmentIDs(fs afero.Fs, dataDirPath string) ([]int, error) {
	entries, err := afero.ReadDir(fs, dataDirPath)
	if err != nil {
		return nil, err
	}

	var ids []int
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		filename := entry.Name()
		if filepath.Ext(filename) != ".data" {
			continue
		}
		nameWithoutExt := strings.TrimSuffix(filename, ".data")
		fileID, err := strconv.ParseInt(nameWithoutExt, 10, 32)
		if err != nil {
			continue
		}
		ids = append(ids, int(fileID))
	}
	sort.Ints(ids)
	return ids, nil
}
