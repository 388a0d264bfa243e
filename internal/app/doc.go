// Package app is the composition root of the biokey client.
//
// # Overview
//
// NewAgent wires configuration, the state store, the synchronization
// controller and the workers that react to it:
//
//   - persist.Autosaver writes the store to SQLite after status changes,
//     analysis results and every N keystrokes
//   - analysis.Engine scores typing against the profile
//   - challenge.Guard challenges or locks the user when scores drop
//   - push.Listener applies server-initiated changes
//   - RunSync drains the outbound queues every sync interval
//   - RunHeartbeat reports liveness while a session exists
//
// # Startup
//
// Restore loads the saved snapshot and hands it to the controller, which
// loads it unauthenticated. The saved token is then confirmed with the
// server; only on success is the session marked authenticated again. A
// corrupted snapshot is deleted and, when a token was supplied, the session
// is rebuilt from the server's copy of the typing profile.
//
// # Sync cadence
//
// The controller never retries on its own. RunSync offers every queue one
// send per round and waits for the results. Consecutive failed rounds
// double the delay up to maxBackoff, and a successful round resets it:
//
//	failures: 0    1    2    3    4+
//	delay:    2s   4s   8s   16s  30s   (2s base interval)
//
// Units stay queued while the server is unreachable; nothing is dropped.
package app
