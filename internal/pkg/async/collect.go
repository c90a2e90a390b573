// Package async fans a fixed set of independent jobs out over a bounded
// number of goroutines and collects their keyed results.
package async

import (
	"context"
	"sync"
)

// Job is one unit of work identified by a key.
type Job[K comparable, V any] struct {
	Key K
	Run func(ctx context.Context) (V, error)
}

// Collect runs every job with at most workers goroutines and returns the
// results keyed by job key. The first job error cancels the remaining work
// and is returned; results are all-or-nothing. Cancelling ctx aborts the
// collection mid-flight with ctx's error.
func Collect[K comparable, V any](ctx context.Context, workers int, jobs []Job[K, V]) (map[K]V, error) {
	if workers <= 0 || workers > len(jobs) {
		workers = len(jobs)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		firstErr error
	)
	results := make(map[K]V, len(jobs))
	feed := make(chan Job[K, V])

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			// Keep draining after cancellation so the send loop never blocks.
			for job := range feed {
				if ctx.Err() != nil {
					continue
				}
				value, err := job.Run(ctx)
				mu.Lock()
				if err != nil {
					if firstErr == nil {
						firstErr = err
						cancel()
					}
				} else {
					results[job.Key] = value
				}
				mu.Unlock()
			}
		}()
	}

	for _, job := range jobs {
		feed <- job
	}
	close(feed)
	wg.Wait()

	if firstErr != nil {
		return nil, firstErr
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return results, nil
}
