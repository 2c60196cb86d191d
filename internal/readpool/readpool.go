package readpool

import (
	"runtime"
	"sync"
)

// Request identifies one value to fetch: the segment that holds it, the offset of
// its first byte and its length
type Request struct {
	FileID      int
	ValueOffset int64
	ValueSize   uint32
}

// Source issues a positional read against a segment file. Implementations must be
// safe for concurrent use
type Source interface {
	ReadValueAt(fileID int, valueOffset int64, size uint32) ([]byte, error)
}

// Fetch reads all requested values through a bounded worker pool and returns them
// in request order. On SSDs, parallel random reads across segment files saturate
// bandwidth far better than a serial sweep, and placing results by position keeps
// the output ordered regardless of which read finishes first.
//
// If any read fails, the whole fetch fails; no partial result is returned
func Fetch(src Source, requests []Request, parallelism int) ([][]byte, error) {
	n := len(requests)
	if n == 0 {
		return nil, nil
	}
	workers := n
	if parallelism < workers {
		workers = parallelism
	}
	if cpus := runtime.NumCPU(); cpus < workers {
		workers = cpus
	}
	if workers < 1 {
		workers = 1
	}

	results := make([][]byte, n)
	indexes := make(chan int)

	var wg sync.WaitGroup
	var errOnce sync.Once
	var firstErr error

	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range indexes {
				req := requests[i]
				value, err := src.ReadValueAt(req.FileID, req.ValueOffset, req.ValueSize)
				if err != nil {
					errOnce.Do(func() { firstErr = err })
					continue
				}
				results[i] = value
			}
		}()
	}

	for i := range n {
		indexes <- i
	}
	close(indexes)
	wg.Wait()

	if firstErr != nil {
		return nil, firstErr
	}
	return results, nil
}
