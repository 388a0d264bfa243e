package state

import (
	"fmt"
	"log/slog"
	"math"
	"slices"
)

// Store is the client's single source of truth. The zero value is ready to use.
// Every accessor takes the caller's Access and fails with ErrAccessViolation
// when the matching resource is not held.
type Store struct {
	// Logger receives listener failures. Nil uses slog.Default().
	Logger *slog.Logger

	locks     [numResources]fairLock
	listeners registry

	current  *ClientStatus
	statuses []*ClientStatus

	results []AnalysisResult

	batches []KeyStrokeBatch
	history []KeyStroke
}

func (s *Store) log() *slog.Logger {
	if s.Logger != nil {
		return s.Logger
	}
	return slog.Default()
}

func (s *Store) require(a *Access, op string, r Resource) error {
	if a == nil || a.store != s || !a.Holds(r) {
		return fmt.Errorf("%s without %s lock: %w", op, r, ErrAccessViolation)
	}
	return nil
}

// CurrentStatus returns the most recently enqueued status, or nil.
func (s *Store) CurrentStatus(a *Access) (*ClientStatus, error) {
	if err := s.require(a, "current status", ResourceStatus); err != nil {
		return nil, err
	}
	a.statusRead = true
	return s.current, nil
}

// EnqueueStatus appends status to the unsynced queue and makes it current.
// The caller must have read CurrentStatus during its current hold of the
// status lock, unless it holds every resource, so that a status is never
// derived from a stale current value.
func (s *Store) EnqueueStatus(a *Access, status *ClientStatus) error {
	if err := s.require(a, "enqueue status", ResourceStatus); err != nil {
		return err
	}
	if status == nil {
		return fmt.Errorf("enqueue status: nil status: %w", ErrValidation)
	}
	if !a.statusRead && !a.Holds(ResourceAll) {
		return fmt.Errorf("enqueue status before reading current status: %w", ErrAccessViolation)
	}
	old := s.current
	s.statuses = append(s.statuses, status)
	s.current = status
	s.notifyStatus(old, status)
	return nil
}

// DequeueStatus removes the oldest unsynced status. The current status is
// kept even when it is the one removed.
func (s *Store) DequeueStatus(a *Access) (bool, error) {
	if err := s.require(a, "dequeue status", ResourceStatus); err != nil {
		return false, err
	}
	if len(s.statuses) == 0 {
		return false, nil
	}
	s.statuses[0] = nil
	s.statuses = s.statuses[1:]
	return true, nil
}

// OldestStatus returns the oldest unsynced status without removing it.
func (s *Store) OldestStatus(a *Access) (*ClientStatus, error) {
	if err := s.require(a, "oldest status", ResourceStatus); err != nil {
		return nil, err
	}
	if len(s.statuses) == 0 {
		return nil, nil
	}
	return s.statuses[0], nil
}

// PendingStatuses returns the number of unsynced statuses.
func (s *Store) PendingStatuses(a *Access) (int, error) {
	if err := s.require(a, "pending statuses", ResourceStatus); err != nil {
		return 0, err
	}
	return len(s.statuses), nil
}

// EnqueueAnalysisResult appends res to the unsynced result queue.
func (s *Store) EnqueueAnalysisResult(a *Access, res AnalysisResult) error {
	if err := s.require(a, "enqueue analysis result", ResourceAnalysis); err != nil {
		return err
	}
	if res.Timestamp <= 0 {
		return fmt.Errorf("enqueue analysis result: missing timestamp: %w", ErrValidation)
	}
	if math.IsNaN(res.Probability) || res.Probability < 0 || res.Probability > 1 {
		return fmt.Errorf("enqueue analysis result: probability %v outside [0,1]: %w", res.Probability, ErrValidation)
	}
	s.results = append(s.results, res)
	s.notifyAnalysis(res)
	return nil
}

// DequeueAnalysisResult removes the oldest unsynced result.
func (s *Store) DequeueAnalysisResult(a *Access) (bool, error) {
	if err := s.require(a, "dequeue analysis result", ResourceAnalysis); err != nil {
		return false, err
	}
	if len(s.results) == 0 {
		return false, nil
	}
	s.results = s.results[1:]
	return true, nil
}

// OldestAnalysisResult returns the oldest unsynced result without removing it.
func (s *Store) OldestAnalysisResult(a *Access) (AnalysisResult, bool, error) {
	if err := s.require(a, "oldest analysis result", ResourceAnalysis); err != nil {
		return AnalysisResult{}, false, err
	}
	if len(s.results) == 0 {
		return AnalysisResult{}, false, nil
	}
	return s.results[0], true, nil
}

// PendingAnalysisResults returns the number of unsynced results.
func (s *Store) PendingAnalysisResults(a *Access) (int, error) {
	if err := s.require(a, "pending analysis results", ResourceAnalysis); err != nil {
		return 0, err
	}
	return len(s.results), nil
}

// EnqueueKeyStroke appends k to the newest batch, opening one when there is
// none, and to the keystroke history.
func (s *Store) EnqueueKeyStroke(a *Access, k KeyStroke) error {
	if err := s.require(a, "enqueue keystroke", ResourceKeyStrokes); err != nil {
		return err
	}
	if k.Timestamp <= 0 {
		return fmt.Errorf("enqueue keystroke: missing timestamp: %w", ErrValidation)
	}
	if len(s.batches) == 0 {
		s.batches = append(s.batches, KeyStrokeBatch{SyncStatus: Unsynced})
	}
	newest := &s.batches[len(s.batches)-1]
	newest.KeyStrokes = append(newest.KeyStrokes, k)
	s.history = append(s.history, k)
	s.notifyKeyStroke(k)
	return nil
}

// DivideKeyStrokes seals the newest batch by opening an empty one after it.
// Dividing when there is no batch or the newest one is still empty does
// nothing.
func (s *Store) DivideKeyStrokes(a *Access) error {
	if err := s.require(a, "divide keystrokes", ResourceKeyStrokes); err != nil {
		return err
	}
	if n := len(s.batches); n == 0 || len(s.batches[n-1].KeyStrokes) == 0 {
		return nil
	}
	s.batches = append(s.batches, KeyStrokeBatch{SyncStatus: Unsynced})
	return nil
}

// DequeueSyncedKeyStrokes removes the oldest batch. The history is untouched.
func (s *Store) DequeueSyncedKeyStrokes(a *Access) (bool, error) {
	if err := s.require(a, "dequeue synced keystrokes", ResourceKeyStrokes); err != nil {
		return false, err
	}
	if len(s.batches) == 0 {
		return false, nil
	}
	s.batches[0] = KeyStrokeBatch{}
	s.batches = s.batches[1:]
	return true, nil
}

// DequeueAllKeyStrokes removes the oldest keystroke from the history. The
// batches are untouched.
func (s *Store) DequeueAllKeyStrokes(a *Access) (bool, error) {
	if err := s.require(a, "dequeue keystroke history", ResourceKeyStrokes); err != nil {
		return false, err
	}
	if len(s.history) == 0 {
		return false, nil
	}
	s.history = s.history[1:]
	return true, nil
}

// OldestKeyStrokes returns a copy of the oldest batch.
func (s *Store) OldestKeyStrokes(a *Access) (KeyStrokeBatch, bool, error) {
	if err := s.require(a, "oldest keystrokes", ResourceKeyStrokes); err != nil {
		return KeyStrokeBatch{}, false, err
	}
	if len(s.batches) == 0 {
		return KeyStrokeBatch{}, false, nil
	}
	return s.batches[0].clone(), true, nil
}

// NewestKeyStrokes returns a copy of the batch currently receiving keystrokes.
func (s *Store) NewestKeyStrokes(a *Access) (KeyStrokeBatch, bool, error) {
	if err := s.require(a, "newest keystrokes", ResourceKeyStrokes); err != nil {
		return KeyStrokeBatch{}, false, err
	}
	if len(s.batches) == 0 {
		return KeyStrokeBatch{}, false, nil
	}
	return s.batches[len(s.batches)-1].clone(), true, nil
}

// PendingBatches returns the number of batches, including the open one.
func (s *Store) PendingBatches(a *Access) (int, error) {
	if err := s.require(a, "pending batches", ResourceKeyStrokes); err != nil {
		return 0, err
	}
	return len(s.batches), nil
}

// KeyStrokeHistory returns a copy of every recorded keystroke in insertion order.
func (s *Store) KeyStrokeHistory(a *Access) ([]KeyStroke, error) {
	if err := s.require(a, "keystroke history", ResourceKeyStrokes); err != nil {
		return nil, err
	}
	return slices.Clone(s.history), nil
}

// KeyStrokeHistoryLen returns the number of recorded keystrokes.
func (s *Store) KeyStrokeHistoryLen(a *Access) (int, error) {
	if err := s.require(a, "keystroke history", ResourceKeyStrokes); err != nil {
		return 0, err
	}
	return len(s.history), nil
}

// Clear drops every queue and the current status. Requires all resources.
func (s *Store) Clear(a *Access) error {
	if err := s.require(a, "clear", ResourceAll); err != nil {
		return err
	}
	old := s.current
	s.current = nil
	s.statuses = nil
	s.results = nil
	s.batches = nil
	s.history = nil
	if old != nil {
		s.notifyStatus(old, nil)
	}
	return nil
}

// NotifyModelChange tells status listeners about the current status again,
// with old and next both set to it. Requires all resources. It does nothing
// when there is no current status.
func (s *Store) NotifyModelChange(a *Access) error {
	if err := s.require(a, "notify model change", ResourceAll); err != nil {
		return err
	}
	if s.current != nil {
		s.notifyStatus(s.current, s.current)
	}
	return nil
}
