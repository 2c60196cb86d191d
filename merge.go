package caskdb

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/ananthvk/caskdb/internal/filemanager"
	"github.com/ananthvk/caskdb/internal/keydir"
	"github.com/ananthvk/caskdb/internal/record"
)

// compactor runs compaction cycles on a background goroutine. A cycle rewrites the
// live records of immutable segments into fresh segments (with hint files) and
// deletes the superseded ones. Compaction never changes user-visible state
type compactor struct {
	cancel context.CancelFunc
	wg     sync.WaitGroup
	// Serializes cycles, shared by the background loop and manual Merge calls
	mu sync.Mutex
}

func (c *compactor) start(dataStore *DataStore, interval time.Duration) {
	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if !dataStore.shouldCompact() {
					continue
				}
				if err := dataStore.Merge(); err != nil && !errors.Is(err, ErrClosed) {
					slog.Error("compaction cycle failed", "error", err)
				}
			}
		}
	}()
}

func (c *compactor) stop() {
	if c.cancel != nil {
		c.cancel()
		c.wg.Wait()
		c.cancel = nil
	}
}

// shouldCompact reports whether enough dead bytes have accumulated to be worth a
// cycle
func (dataStore *DataStore) shouldCompact() bool {
	dead := dataStore.deadBytes.Load()
	if dead == 0 {
		return false
	}
	live := dataStore.liveBytes.Load()
	if live == 0 {
		return true
	}
	return float64(dead)/float64(live) >= dataStore.opts.CompactionTriggerRatio
}

// Merge runs one compaction cycle immediately, regardless of the trigger ratio
func (dataStore *DataStore) Merge() error {
	if dataStore.closed.Load() {
		return ErrClosed
	}
	dataStore.compactor.mu.Lock()
	defer dataStore.compactor.mu.Unlock()
	return dataStore.runCompactionCycle()
}

type keydirSwap struct {
	key            []byte
	old, rewritten keydir.Record
}

func (dataStore *DataStore) runCompactionCycle() error {
	// Snapshot the immutable segments; the active segment is never touched, so
	// there is no race with the writer's cursor
	ids, err := dataStore.fileManager.GetImmutableFiles()
	if err != nil {
		return err
	}
	if len(ids) == 0 {
		return nil
	}
	start := time.Now()

	mergeWriter := dataStore.fileManager.NewMergeWriter(dataStore.opts.SegmentMaxBytes)
	var swaps []keydirSwap
	for _, id := range ids {
		swaps, err = dataStore.rewriteLiveRecords(mergeWriter, id, swaps)
		if err != nil {
			return dataStore.abortCompaction(mergeWriter, err)
		}
	}
	if err := mergeWriter.Sync(); err != nil {
		return dataStore.abortCompaction(mergeWriter, err)
	}
	if err := mergeWriter.Close(); err != nil {
		return dataStore.abortCompaction(mergeWriter, err)
	}

	// Publish the rewritten locations. The swap only applies while the entry still
	// points at the old location, so a key superseded by the writer mid-cycle keeps
	// its newer value; the merge copy simply becomes dead weight for the next cycle
	swapped := 0
	for _, swap := range swaps {
		if dataStore.keydir.UpdateIfMatches(swap.key, swap.old.FileID, swap.old.ValueOffset, swap.rewritten) {
			swapped++
		}
	}
	if err := dataStore.fileManager.DeleteSegments(ids); err != nil {
		return err
	}

	if total, err := dataStore.fileManager.TotalDataBytes(); err == nil {
		dead := total - dataStore.liveBytes.Load()
		if dead < 0 {
			dead = 0
		}
		dataStore.deadBytes.Store(dead)
	}
	slog.Info("compaction cycle finished",
		"segments", len(ids),
		"rewritten", len(swaps),
		"swapped", swapped,
		"took", time.Since(start))
	return nil
}

// rewriteLiveRecords streams one immutable segment and copies every record the key
// directory still points at into the merge output. A record is live iff the
// directory entry for its key references exactly this segment and value offset
func (dataStore *DataStore) rewriteLiveRecords(mergeWriter *filemanager.MergeWriter, fileID int, swaps []keydirSwap) ([]keydirSwap, error) {
	scanner, err := dataStore.fileManager.NewSegmentScanner(fileID)
	if err != nil {
		return swaps, err
	}
	defer scanner.Close()
	for {
		rec, offset, err := scanner.Scan()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return swaps, nil
			}
			return swaps, fmt.Errorf("compaction scan of segment %d failed: %w", fileID, err)
		}
		if rec.IsTombstone() {
			continue
		}
		valueOffset := record.ValueOffset(offset, rec.Header.KeySize)
		current, ok := dataStore.keydir.Get(rec.Key)
		if !ok || current.FileID != fileID || current.ValueOffset != valueOffset {
			continue
		}
		newRec, err := mergeWriter.Write(&rec)
		if err != nil {
			return swaps, err
		}
		swaps = append(swaps, keydirSwap{key: bytes.Clone(rec.Key), old: current, rewritten: newRec})
	}
}

// abortCompaction discards the output of a failed cycle. The key directory has not
// been touched yet, so removing the merge segments restores the pre-cycle state
func (dataStore *DataStore) abortCompaction(mergeWriter *filemanager.MergeWriter, err error) error {
	mergeWriter.Close()
	if ids := mergeWriter.FileIDs(); len(ids) > 0 {
		if deleteErr := dataStore.fileManager.DeleteSegments(ids); deleteErr != nil {
			slog.Warn("could not remove aborted merge segments", "error", deleteErr)
		}
	}
	return err
}
