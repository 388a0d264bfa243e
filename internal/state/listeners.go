package state

import (
	"log/slog"
	"sync"
)

// StatusListener observes changes of the current status. old is nil for the
// first status and next is nil after Clear.
type StatusListener func(old, next *ClientStatus)

// KeyStrokeListener observes every keystroke appended to the store.
type KeyStrokeListener func(k KeyStroke)

// AnalysisListener observes every analysis result appended to the store.
type AnalysisListener func(r AnalysisResult)

// Listeners run on the goroutine that mutated the store, while it still holds
// the resource lock. They must not obtain store resources themselves; work
// that needs the store is handed to another goroutine.
type registry struct {
	mu       sync.Mutex
	nextID   int
	status   map[int]StatusListener
	keys     map[int]KeyStrokeListener
	analysis map[int]AnalysisListener
}

// OnStatusChange registers fn and returns a function that removes it.
func (s *Store) OnStatusChange(fn StatusListener) (remove func()) {
	r := &s.listeners
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.status == nil {
		r.status = make(map[int]StatusListener)
	}
	id := r.nextID
	r.nextID++
	r.status[id] = fn
	return func() {
		r.mu.Lock()
		delete(r.status, id)
		r.mu.Unlock()
	}
}

// OnKeyStroke registers fn and returns a function that removes it.
func (s *Store) OnKeyStroke(fn KeyStrokeListener) (remove func()) {
	r := &s.listeners
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.keys == nil {
		r.keys = make(map[int]KeyStrokeListener)
	}
	id := r.nextID
	r.nextID++
	r.keys[id] = fn
	return func() {
		r.mu.Lock()
		delete(r.keys, id)
		r.mu.Unlock()
	}
}

// OnAnalysisResult registers fn and returns a function that removes it.
func (s *Store) OnAnalysisResult(fn AnalysisListener) (remove func()) {
	r := &s.listeners
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.analysis == nil {
		r.analysis = make(map[int]AnalysisListener)
	}
	id := r.nextID
	r.nextID++
	r.analysis[id] = fn
	return func() {
		r.mu.Lock()
		delete(r.analysis, id)
		r.mu.Unlock()
	}
}

func (s *Store) notifyStatus(old, next *ClientStatus) {
	s.listeners.mu.Lock()
	fns := make([]StatusListener, 0, len(s.listeners.status))
	for _, fn := range s.listeners.status {
		fns = append(fns, fn)
	}
	s.listeners.mu.Unlock()

	for _, fn := range fns {
		s.guard("status", func() { fn(old, next) })
	}
}

func (s *Store) notifyKeyStroke(k KeyStroke) {
	s.listeners.mu.Lock()
	fns := make([]KeyStrokeListener, 0, len(s.listeners.keys))
	for _, fn := range s.listeners.keys {
		fns = append(fns, fn)
	}
	s.listeners.mu.Unlock()

	for _, fn := range fns {
		s.guard("keystroke", func() { fn(k) })
	}
}

func (s *Store) notifyAnalysis(res AnalysisResult) {
	s.listeners.mu.Lock()
	fns := make([]AnalysisListener, 0, len(s.listeners.analysis))
	for _, fn := range s.listeners.analysis {
		fns = append(fns, fn)
	}
	s.listeners.mu.Unlock()

	for _, fn := range fns {
		s.guard("analysis", func() { fn(res) })
	}
}

// guard runs one listener, containing a panic so the remaining listeners
// still run and the store stays consistent.
func (s *Store) guard(kind string, call func()) {
	defer func() {
		if r := recover(); r != nil {
			s.log().Error("listener panicked", slog.String("listener", kind), slog.Any("panic", r))
		}
	}()
	call()
}
