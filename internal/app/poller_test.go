package app

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/five82/biokey/internal/controller"
)

func TestCalculateBackoff(t *testing.T) {
	baseInterval := 2 * time.Second

	tests := []struct {
		name     string
		failures int
		want     time.Duration
	}{
		{"zero failures", 0, 2 * time.Second},
		{"negative failures", -1, 2 * time.Second},
		{"one failure", 1, 4 * time.Second},
		{"two failures", 2, 8 * time.Second},
		{"three failures", 3, 16 * time.Second},
		{"four failures capped", 4, 30 * time.Second}, // Would be 32s, capped to 30s
		{"many failures capped", 10, 30 * time.Second},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := calculateBackoff(tt.failures, baseInterval)
			if got != tt.want {
				t.Errorf("calculateBackoff(%d, %v) = %v, want %v", tt.failures, baseInterval, got, tt.want)
			}
		})
	}
}

func TestCalculateBackoff_MaxCap(t *testing.T) {
	baseInterval := 2 * time.Second
	for failures := 0; failures <= 20; failures++ {
		got := calculateBackoff(failures, baseInterval)
		if got > maxBackoff {
			t.Errorf("calculateBackoff(%d, %v) = %v, exceeds maxBackoff %v", failures, baseInterval, got, maxBackoff)
		}
	}
}

type fakeSyncer struct {
	mu      sync.Mutex
	rounds  int
	results []bool // per submitted send, in order; missing entries succeed
	calls   int
}

func (f *fakeSyncer) send(cb controller.Done) bool {
	f.mu.Lock()
	ok := true
	if f.calls < len(f.results) {
		ok = f.results[f.calls]
	}
	f.calls++
	f.mu.Unlock()
	go cb(ok)
	return true
}

func (f *fakeSyncer) SendStatusChange(cb controller.Done) bool {
	f.mu.Lock()
	f.rounds++
	f.mu.Unlock()
	return f.send(cb)
}
func (f *fakeSyncer) SendKeyStrokes(cb controller.Done) bool      { return false }
func (f *fakeSyncer) SendAnalysisResults(cb controller.Done) bool { return f.send(cb) }

func TestSyncRound_ReportsFailure(t *testing.T) {
	ctx := context.Background()
	if !syncRound(ctx, &fakeSyncer{}) {
		t.Fatalf("round with successful sends reported failure")
	}
	if syncRound(ctx, &fakeSyncer{results: []bool{true, false}}) {
		t.Fatalf("round with a failed send reported success")
	}
}

func TestRunSync_StopsOnCancel(t *testing.T) {
	f := &fakeSyncer{}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- RunSync(ctx, f, 5*time.Millisecond, nil) }()

	deadline := time.Now().Add(2 * time.Second)
	for {
		f.mu.Lock()
		rounds := f.rounds
		f.mu.Unlock()
		if rounds >= 3 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("only %d rounds ran", rounds)
		}
		time.Sleep(time.Millisecond)
	}
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("RunSync returned %v", err)
		}
	case <-time.After(time.Second):
		t.Fatalf("RunSync did not stop")
	}
}

func TestAwait(t *testing.T) {
	v, err := await(context.Background(), func(done func(int)) { go done(7) })
	if err != nil || v != 7 {
		t.Fatalf("await = %d, %v", v, err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := await(ctx, func(func(int)) {}); err == nil {
		t.Fatalf("await should fail when ctx is done")
	}
}
