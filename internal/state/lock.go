package state

import (
	"context"
	"sync"
)

// fairLock is a mutual-exclusion lock that grants ownership to waiters in the
// order they arrived. Ownership is handed directly to the next waiter on
// unlock, so a goroutine that unlocks and immediately relocks queues behind
// everyone already waiting.
type fairLock struct {
	mu      sync.Mutex
	held    bool
	waiters []chan struct{}
}

func (l *fairLock) lock(ctx context.Context) error {
	l.mu.Lock()
	if !l.held && len(l.waiters) == 0 {
		l.held = true
		l.mu.Unlock()
		return nil
	}
	ready := make(chan struct{})
	l.waiters = append(l.waiters, ready)
	l.mu.Unlock()

	select {
	case <-ready:
		return nil
	case <-ctx.Done():
	}

	l.mu.Lock()
	for i, w := range l.waiters {
		if w == ready {
			l.waiters = append(l.waiters[:i], l.waiters[i+1:]...)
			l.mu.Unlock()
			return ctx.Err()
		}
	}
	l.mu.Unlock()
	// Ownership was handed over while we were giving up; pass it on.
	l.unlock()
	return ctx.Err()
}

func (l *fairLock) unlock() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.waiters) > 0 {
		next := l.waiters[0]
		l.waiters = l.waiters[1:]
		close(next)
		return
	}
	l.held = false
}

func (l *fairLock) waiting() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.waiters)
}
