package engine

import (
	"context"
	"sync"
)

// lease ties a running job to its lane. The executor revokes it before it
// tears down an abandoned job, after which that job must not touch the
// lane again: the next job of the lane may already own the session.
type lease struct {
	mu      sync.Mutex
	revoked bool
}

type leaseKey struct{}

// revoke waits for a Held call that is already running.
func (l *lease) revoke() {
	l.mu.Lock()
	l.revoked = true
	l.mu.Unlock()
}

// Held runs fn only while the job running under ctx still owns its lane,
// and reports whether it ran. Revocation waits for fn to return. Outside a
// job fn always runs.
func Held(ctx context.Context, fn func()) bool {
	l, _ := ctx.Value(leaseKey{}).(*lease)
	if l == nil {
		fn()
		return true
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.revoked {
		return false
	}
	fn()
	return true
}
