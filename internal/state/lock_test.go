package state

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func waitForWaiters(t *testing.T, l *fairLock, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for l.waiting() < n {
		if time.Now().After(deadline) {
			t.Fatalf("waiters = %d, want %d", l.waiting(), n)
		}
		time.Sleep(time.Millisecond)
	}
}

func TestFairLock_GrantsInArrivalOrder(t *testing.T) {
	var s Store
	holder := s.NewAccess()
	holder.Obtain(ResourceStatus)

	var (
		mu    sync.Mutex
		order []int
		wg    sync.WaitGroup
	)
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			a := s.NewAccess()
			a.Obtain(ResourceStatus)
			mu.Lock()
			order = append(order, id)
			mu.Unlock()
			a.Release(ResourceStatus)
		}(i)
		waitForWaiters(t, &s.locks[0], i+1)
	}

	holder.Release(ResourceStatus)
	wg.Wait()

	for i, id := range order {
		if id != i {
			t.Fatalf("grant order = %v, want 0..4 in order", order)
		}
	}
}

func TestFairLock_ObtainContextGivesUpCleanly(t *testing.T) {
	var s Store
	holder := s.NewAccess()
	holder.Obtain(ResourceKeyStrokes)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	waiter := s.NewAccess()
	err := waiter.ObtainContext(ctx, ResourceStatus|ResourceKeyStrokes)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("ObtainContext error = %v, want deadline exceeded", err)
	}
	if waiter.Holds(ResourceStatus) || waiter.Holds(ResourceKeyStrokes) {
		t.Fatalf("failed ObtainContext left resources held")
	}
	if n := s.locks[2].waiting(); n != 0 {
		t.Fatalf("waiters after timeout = %d, want 0", n)
	}

	holder.Release(ResourceKeyStrokes)

	// Both locks must be free again.
	other := s.NewAccess()
	done := make(chan struct{})
	go func() {
		other.ObtainAll()
		other.ReleaseAll()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("locks still held after timed-out obtain")
	}
}

func TestFairLock_ConcurrentEnqueuesKeepEveryKeyStroke(t *testing.T) {
	var s Store
	const workers, perWorker = 8, 200

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			a := s.NewAccess()
			for i := 0; i < perWorker; i++ {
				a.Obtain(ResourceKeyStrokes)
				if err := s.EnqueueKeyStroke(a, KeyStroke{Char: 'x', Timestamp: int64(w*perWorker + i + 1)}); err != nil {
					t.Errorf("EnqueueKeyStroke returned error: %v", err)
				}
				a.Release(ResourceKeyStrokes)
			}
		}(w)
	}
	wg.Wait()

	a := s.NewAccess()
	a.Obtain(ResourceKeyStrokes)
	defer a.Release(ResourceKeyStrokes)
	h, _ := s.KeyStrokeHistory(a)
	if len(h) != workers*perWorker {
		t.Fatalf("history size = %d, want %d", len(h), workers*perWorker)
	}
}

func TestResource_String(t *testing.T) {
	tests := []struct {
		r    Resource
		want string
	}{
		{0, "none"},
		{ResourceStatus, "status"},
		{ResourceAll, "status+analysis+keystrokes"},
		{ResourceKeyStrokes | ResourceStatus, "status+keystrokes"},
	}
	for _, tt := range tests {
		if got := tt.r.String(); got != tt.want {
			t.Errorf("Resource(%d).String() = %q, want %q", tt.r, got, tt.want)
		}
	}
}
