package state

import (
	"fmt"
	"slices"
)

// Snapshot is a deep copy of the whole store, used for persistence and for
// loading state from memory.
type Snapshot struct {
	Current         *ClientStatus
	Statuses        []*ClientStatus
	AnalysisResults []AnalysisResult
	Batches         []KeyStrokeBatch
	History         []KeyStroke
}

// Snapshot copies the store's contents. Requires all resources.
func (s *Store) Snapshot(a *Access) (*Snapshot, error) {
	if err := s.require(a, "snapshot", ResourceAll); err != nil {
		return nil, err
	}
	snap := &Snapshot{
		Current:         s.current.clone(),
		AnalysisResults: slices.Clone(s.results),
		History:         slices.Clone(s.history),
	}
	for _, st := range s.statuses {
		snap.Statuses = append(snap.Statuses, st.clone())
	}
	for _, b := range s.batches {
		snap.Batches = append(snap.Batches, b.clone())
	}
	return snap, nil
}

// LoadStateFromMemory replaces every queue and the current status with the
// contents of snap. Requires all resources, so no reader observes a partial
// load. Status listeners are told about the new current status.
func (s *Store) LoadStateFromMemory(a *Access, snap *Snapshot) error {
	if err := s.require(a, "load state", ResourceAll); err != nil {
		return err
	}
	if snap == nil {
		return fmt.Errorf("load state: nil snapshot: %w", ErrValidation)
	}
	old := s.current
	s.current = snap.Current.clone()
	s.statuses = s.statuses[:0:0]
	for _, st := range snap.Statuses {
		s.statuses = append(s.statuses, st.clone())
	}
	s.results = slices.Clone(snap.AnalysisResults)
	s.batches = s.batches[:0:0]
	for _, b := range snap.Batches {
		s.batches = append(s.batches, b.clone())
	}
	s.history = slices.Clone(snap.History)
	s.notifyStatus(old, s.current)
	return nil
}

// CheckSnapshot reports whether snap is usable as a starting point: it must
// have a current status with a profile, and no queued value may be missing.
func CheckSnapshot(snap *Snapshot) bool {
	if snap == nil || snap.Current == nil || snap.Current.Profile == nil {
		return false
	}
	for _, st := range snap.Statuses {
		if st == nil {
			return false
		}
	}
	for _, k := range snap.History {
		if k.Timestamp <= 0 {
			return false
		}
	}
	return true
}

// Summary is a read-only view of the store for display.
type Summary struct {
	Current         *ClientStatus
	PendingStatuses int
	PendingResults  int
	PendingBatches  int
	OpenBatchSize   int
	HistorySize     int
	LastResult      *AnalysisResult
}

// Summarize obtains each resource in turn and reports queue sizes. Values from
// different resources may come from different moments.
func (s *Store) Summarize() Summary {
	a := s.NewAccess()
	var sum Summary

	a.Obtain(ResourceStatus)
	sum.Current = s.current
	sum.PendingStatuses = len(s.statuses)
	a.Release(ResourceStatus)

	a.Obtain(ResourceAnalysis)
	sum.PendingResults = len(s.results)
	if n := len(s.results); n > 0 {
		last := s.results[n-1]
		sum.LastResult = &last
	}
	a.Release(ResourceAnalysis)

	a.Obtain(ResourceKeyStrokes)
	sum.PendingBatches = len(s.batches)
	if n := len(s.batches); n > 0 {
		sum.OpenBatchSize = len(s.batches[n-1].KeyStrokes)
	}
	sum.HistorySize = len(s.history)
	a.Release(ResourceKeyStrokes)

	return sum
}
