package internal

import (
	"log/slog"
	"time"

	"github.com/ananthvk/caskdb"
	"github.com/spf13/afero"
)

// Sync every 30s
const syncInterval = time.Second * 30

// KVStore wraps the datastore for serving, adding a periodic background sync so
// that the default fsync-on-rollover policy bounds data loss to a window
type KVStore struct {
	Path     string
	Store    *caskdb.DataStore
	stopSync chan struct{}
}

func NewKVStore(datastorePath string) *KVStore {
	var fs afero.Fs
	if datastorePath == ":memory" {
		fs = afero.NewMemMapFs()
		datastorePath = "in-memory-" + time.Now().Format(time.RFC3339) + "-db"
	} else {
		fs = afero.NewOsFs()
	}

	start := time.Now()
	store, err := caskdb.Open(fs, datastorePath, caskdb.DefaultOptions())
	if err != nil {
		slog.Error("open failed", "error", err)
		return nil
	}
	slog.Info("opened datastore", "path", datastorePath, "took", time.Since(start))
	return &KVStore{
		Path:     datastorePath,
		Store:    store,
		stopSync: make(chan struct{}),
	}
}

func (kv *KVStore) StartBackgroundSync() {
	go func() {
		ticker := time.NewTicker(syncInterval)
		defer ticker.Stop()
		for {
			select {
			case <-kv.stopSync:
				return
			case <-ticker.C:
				if err := kv.Store.Sync(); err != nil {
					slog.Warn("background sync failed", "error", err)
				}
			}
		}
	}()
}

func (kv *KVStore) Close() error {
	close(kv.stopSync)
	if kv.Store != nil {
		slog.Info("closing store", "path", kv.Path)
		return kv.Store.Close()
	}
	return nil
}
