// Package mailbox hands values from store listeners to worker goroutines.
//
// Store listeners run while the store holds a lock, so they must never block.
// A Mailbox is an unbounded FIFO: Put always returns immediately and the
// worker drains everything queued since its last wake-up.
package mailbox

import "sync"

// Mailbox is an unbounded FIFO with a wake-up channel. The zero value is not
// usable; call New.
type Mailbox[T any] struct {
	mu    sync.Mutex
	queue []T
	ready chan struct{}
}

// New returns an empty mailbox.
func New[T any]() *Mailbox[T] {
	return &Mailbox[T]{ready: make(chan struct{}, 1)}
}

// Put queues v and wakes the reader. It never blocks.
func (m *Mailbox[T]) Put(v T) {
	m.mu.Lock()
	m.queue = append(m.queue, v)
	m.mu.Unlock()
	select {
	case m.ready <- struct{}{}:
	default:
	}
}

// Ready is signalled after Put. One signal may cover many values.
func (m *Mailbox[T]) Ready() <-chan struct{} { return m.ready }

// Drain returns and removes everything queued, oldest first.
func (m *Mailbox[T]) Drain() []T {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := m.queue
	m.queue = nil
	return out
}

// Len returns the number of queued values.
func (m *Mailbox[T]) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.queue)
}
