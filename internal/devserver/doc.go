// Package devserver is an in-memory implementation of the biokey server API.
//
// It serves every endpoint the client uses: login with bcrypt-checked
// passwords, HS256 access tokens, typing profiles created on first use per
// user and machine, keystroke and analysis result sinks, heartbeats, and a
// long-polled push queue per profile. Admin routes add users and publish
// push messages; /metrics exposes request counters for Prometheus.
//
// Nothing is persisted. It exists for local development and for the
// client's integration tests.
package devserver
