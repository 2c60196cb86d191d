package caskdb

import "time"

// FsyncPolicy controls when appended records are flushed to durable storage
type FsyncPolicy int

const (
	// FsyncOnRollover syncs the active segment only on rollover and close. A crash
	// loses at most the un-flushed suffix of the active segment, which recovery
	// discards as a torn tail
	FsyncOnRollover FsyncPolicy = iota
	// FsyncEveryWrite syncs after every append. Safest, lowest throughput
	FsyncEveryWrite
)

const (
	defaultSegmentMaxBytes        = 128 * 1024 * 1024 // 128 MiB
	defaultCompactionInterval     = time.Minute
	defaultCompactionTriggerRatio = 0.5
	defaultReadParallelism        = 8
)

// Options configures a datastore. The zero value of any field is replaced by its
// default when the store is opened
type Options struct {
	// SegmentMaxBytes is the rollover threshold for the active segment. It is
	// persisted in the store's metafile on Create; on Open the persisted value wins
	SegmentMaxBytes int64

	// FsyncPolicy selects the durability / throughput trade-off for appends
	FsyncPolicy FsyncPolicy

	// CompactionInterval is the minimum time between background compaction cycles.
	// A negative value disables the background compactor; Merge can still be called
	// manually
	CompactionInterval time.Duration

	// CompactionTriggerRatio is the minimum dead/live byte ratio required for the
	// background compactor to run a cycle
	CompactionTriggerRatio float64

	// ReadParallelism is the maximum number of worker goroutines used to fetch
	// values during a range read
	ReadParallelism int
}

// DefaultOptions returns the default configuration
func DefaultOptions() Options {
	return Options{
		SegmentMaxBytes:        defaultSegmentMaxBytes,
		FsyncPolicy:            FsyncOnRollover,
		CompactionInterval:     defaultCompactionInterval,
		CompactionTriggerRatio: defaultCompactionTriggerRatio,
		ReadParallelism:        defaultReadParallelism,
	}
}

func (o Options) withDefaults() Options {
	if o.SegmentMaxBytes <= 0 {
		o.SegmentMaxBytes = defaultSegmentMaxBytes
	}
	if o.CompactionInterval == 0 {
		o.CompactionInterval = defaultCompactionInterval
	}
	if o.CompactionTriggerRatio <= 0 {
		o.CompactionTriggerRatio = defaultCompactionTriggerRatio
	}
	if o.ReadParallelism <= 0 {
		o.ReadParallelism = defaultReadParallelism
	}
	return o
}
