// Package state holds the biokey client's shared state store.
//
// # Overview
//
// The Store is the single source of truth for the agent. It owns four queues
// and the current status pointer:
//
//   - unsynced statuses (the newest is always the current status)
//   - unsynced analysis results
//   - unsynced keystroke batches (the newest batch is open for appends)
//   - the keystroke history, used by the analysis engine
//
// Producers (typing capture, analysis engine, push consumer, UI) append to the
// queues while the synchronization controller drains them to the server.
//
// # Resource Locks
//
// State is split into three lock domains, each guarded by a FIFO-fair lock:
//
//	ResourceStatus      current status + unsynced statuses
//	ResourceAnalysis    unsynced analysis results
//	ResourceKeyStrokes  keystroke batches + keystroke history
//
// Locks are held through an Access handle. Every accessor takes the handle and
// returns ErrAccessViolation when the handle does not hold the matching
// resource, so a missed Obtain is reported instead of racing silently:
//
//	a := store.NewAccess()
//	a.Obtain(state.ResourceKeyStrokes)
//	defer a.Release(state.ResourceKeyStrokes)
//	if err := store.EnqueueKeyStroke(a, k); err != nil {
//		return err
//	}
//
// Holds are re-entrant per handle. A handle belongs to one goroutine; request
// callbacks and workers create their own.
//
// # Lock Ordering
//
// When more than one resource is needed, Obtain acquires them in the fixed
// order status → analysis → keystrokes. Code that already holds a later
// resource must not obtain an earlier one. Listeners run while the mutating
// goroutine holds the lock, so a listener never calls back into the store on
// its own goroutine; it hands the work to a channel or worker instead.
//
// # Listeners
//
// Three kinds of observers can be registered:
//
//	OnStatusChange(func(old, next *ClientStatus))
//	OnKeyStroke(func(KeyStroke))
//	OnAnalysisResult(func(AnalysisResult))
//
// Notification happens after the mutation is applied. A panicking listener is
// recovered and logged; the remaining listeners still run.
//
// # Copy-on-Write Statuses
//
// ClientStatus values are never modified after they are enqueued. Changes are
// expressed with With, which copies the status, refreshes the timestamp and
// marks the copy unsynced:
//
//	next := cur.With(now, func(s *state.ClientStatus) {
//		s.SecurityStatus = state.Locked
//	})
//
// # Snapshots
//
// Snapshot and LoadStateFromMemory move the whole store in and out under all
// three locks. They back local persistence and the startup load path.
// Summarize takes each lock briefly and is meant for display.
package state
