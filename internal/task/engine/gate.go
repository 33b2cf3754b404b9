package engine

import (
	"context"
	"sync"

	"golang.org/x/sync/semaphore"
)

// laneCeiling is the largest lane limit the gate can be resized to.
const laneCeiling = 64

// laneGate admits at most size lanes at once, in arrival order. It holds
// the slots above size of one fixed semaphore. A shrink that cannot take
// its slots yet queues for them like a lane, so lanes arriving after it
// wait until the running ones drop below the new size.
type laneGate struct {
	sem *semaphore.Weighted

	mu       sync.Mutex
	reserved int64
	shrink   context.CancelFunc
	shrunk   chan struct{}
}

func newLaneGate(size int) *laneGate {
	g := &laneGate{sem: semaphore.NewWeighted(laneCeiling)}
	g.reserved = laneCeiling - int64(size)
	_ = g.sem.TryAcquire(g.reserved)
	return g
}

func (g *laneGate) acquire(ctx context.Context) error { return g.sem.Acquire(ctx, 1) }

func (g *laneGate) release() { g.sem.Release(1) }

func (g *laneGate) resize(size int) {
	g.mu.Lock()
	defer g.mu.Unlock()

	// a pending shrink either finished or gets nothing once canceled
	if g.shrink != nil {
		g.shrink()
		g.mu.Unlock()
		<-g.shrunk
		g.mu.Lock()
		g.shrink, g.shrunk = nil, nil
	}

	want := laneCeiling - int64(min(max(size, 1), laneCeiling))
	switch diff := want - g.reserved; {
	case diff < 0:
		g.sem.Release(-diff)
		g.reserved = want
	case diff > 0:
		if g.sem.TryAcquire(diff) {
			g.reserved = want
			return
		}
		ctx, cancel := context.WithCancel(context.Background())
		done := make(chan struct{})
		g.shrink, g.shrunk = cancel, done
		go func() {
			defer close(done)
			if g.sem.Acquire(ctx, diff) == nil {
				g.mu.Lock()
				g.reserved += diff
				g.mu.Unlock()
			}
		}()
	}
}

