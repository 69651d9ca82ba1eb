// Package dispatcher caps how many instance work units run at once. One Gate
// is shared by the scrape and recovery cycles, so the cap holds across both.
package dispatcher

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/semaphore"

	"github.com/JakeFAU/gradewatch/internal/metrics"
)

// Unit is one instance's sequential work.
type Unit func(ctx context.Context)

// Gate is a fixed-capacity concurrency limiter.
type Gate struct {
	sem      *semaphore.Weighted
	capacity int64
	inFlight atomic.Int64
}

// New creates a Gate admitting capacity units at a time.
func New(capacity int) (*Gate, error) {
	if capacity <= 0 {
		return nil, fmt.Errorf("gate capacity must be positive, got %d", capacity)
	}
	return &Gate{
		sem:      semaphore.NewWeighted(int64(capacity)),
		capacity: int64(capacity),
	}, nil
}

// Capacity returns the configured limit.
func (g *Gate) Capacity() int {
	return int(g.capacity)
}

// InFlight returns the number of units currently holding a slot.
func (g *Gate) InFlight() int {
	return int(g.inFlight.Load())
}

// Dispatch runs every unit through the gate and blocks until all admitted
// units have finished. Units beyond capacity queue for a slot. If ctx ends
// while units are queued, the queued ones are skipped and ctx's error is
// returned once the running ones finish.
func (g *Gate) Dispatch(ctx context.Context, units ...Unit) error {
	var (
		wg      sync.WaitGroup
		waitErr error
	)
	for _, unit := range units {
		if err := g.sem.Acquire(ctx, 1); err != nil {
			waitErr = fmt.Errorf("acquire dispatch slot: %w", err)
			break
		}
		g.inFlight.Add(1)
		metrics.IncInFlight()
		wg.Add(1)
		go func(run Unit) {
			defer func() {
				g.inFlight.Add(-1)
				metrics.DecInFlight()
				g.sem.Release(1)
				wg.Done()
			}()
			run(ctx)
		}(unit)
	}
	wg.Wait()
	return waitErr
}
