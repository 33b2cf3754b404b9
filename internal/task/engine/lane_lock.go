package engine

import (
	"context"
	"sort"
	"strings"
	"sync"
)

// laneLock is a one-token channel semaphore. Holding the token means
// exclusive use of the lane's automation session.
type laneLock struct {
	ch chan struct{}
}

func newLaneLock() *laneLock {
	l := &laneLock{ch: make(chan struct{}, 1)}
	l.ch <- struct{}{}
	return l
}

func (l *laneLock) acquire(ctx context.Context) error {
	select {
	case <-l.ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (l *laneLock) release() {
	select {
	case l.ch <- struct{}{}:
	default:
	}
}

func (l *laneLock) busy() bool { return len(l.ch) == 0 }

// laneLocks holds one lock per lane for the life of the process, so jobs
// from different batches still exclude each other.
type laneLocks struct {
	mu    sync.Mutex
	locks map[string]*laneLock
}

func (s *laneLocks) get(laneID string) *laneLock {
	k := strings.TrimSpace(laneID)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.locks == nil {
		s.locks = make(map[string]*laneLock)
	}
	l := s.locks[k]
	if l == nil {
		l = newLaneLock()
		s.locks[k] = l
	}
	return l
}

func (s *laneLocks) busy() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.locks))
	for id, l := range s.locks {
		if l.busy() {
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out
}
