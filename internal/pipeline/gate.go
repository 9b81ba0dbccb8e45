package pipeline

import (
	"context"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/snarg/scribe/internal/metrics"
)

// Gate is the execution serializer: a single-slot semaphore guaranteeing
// at most one recognition call runs at any instant, system-wide. Only the
// engine call is gated; normalization, fetching, and encoding run
// concurrently across jobs.
//
// Waiters are served in arrival order. A waiter whose context fires while
// queued is removed without ever holding the slot, and without affecting
// other waiters or the in-flight call.
type Gate struct {
	sem *semaphore.Weighted
}

// NewGate creates the single-slot gate.
func NewGate() *Gate {
	return &Gate{sem: semaphore.NewWeighted(1)}
}

// Acquire blocks until the slot is free or ctx is done. On success the
// caller must Release exactly once.
func (g *Gate) Acquire(ctx context.Context) error {
	start := time.Now()
	if err := g.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	metrics.GateWaitSeconds.Observe(time.Since(start).Seconds())
	metrics.RecognitionInFlight.Inc()
	return nil
}

// Release frees the slot for the next queued caller.
func (g *Gate) Release() {
	metrics.RecognitionInFlight.Dec()
	g.sem.Release(1)
}
