// Package server talks to the biokey API on behalf of the client.
//
// # Overview
//
// The package has three parts:
//
//   - executor.go: asynchronous request execution with callbacks
//   - endpoints.go: URL construction against the configured server
//   - types.go: wire structures and their mapping onto internal/state types
//
// token.go reads the expiry of access tokens so the client can drop a stale
// session before the server rejects it.
//
// # Request Execution
//
// Executor runs every submission on its own goroutine and invokes the callback
// exactly once. Callers never see a Go error from Submit*; failures arrive in
// the Response:
//
//	exec := server.NewExecutor(nil, logger)
//	exec.SubmitPost(ep.Login(), nil, server.LoginRequest{Email: e, Password: p}, &out,
//		func(r server.Response) {
//			if !r.OK() {
//				logger.Warn("login failed", "status", r.StatusCode)
//				return
//			}
//			// use out.Token
//		})
//
// Every failure is reported with StatusCode FailureStatus (400) and an error
// wrapping ErrNetwork or ErrSerialization. Error statuses from the server
// are named in the error text.
//
// Callbacks run on executor goroutines. They must not assume any store lock
// is held and should obtain what they need through their own state.Access.
//
// # Endpoints
//
//   - POST /api/keystrokes
//   - POST /api/analysisResults
//   - GET  /api/users/me
//   - POST /api/auth/login
//   - POST /api/typingProfiles/machine/{machineID}
//   - POST /api/typingProfiles/{id}/heartbeat
//   - PUT  /api/typingProfiles/{id}
//
// The access token travels in the "authorization" header.
//
// # URL Construction
//
// NewEndpoints accepts "host:port" or a full URL. The scheme defaults to
// http and any path, query or fragment on the configured URL is dropped.
package server
