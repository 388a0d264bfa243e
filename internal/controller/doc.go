// Package controller synchronizes the client state store with the server.
//
// Every Send* method follows the same shape: take the needed store locks,
// copy the oldest unsynced unit, release, submit through a server.Submitter,
// and in the callback take the lock again and dequeue on success. A failed
// send leaves the unit queued, so the next call retries the same unit. At most
// one send per queue is in flight at a time.
//
// ClearModel and PassStateToModel start a new generation. Callbacks for
// requests submitted under an older generation do not touch the store.
package controller
