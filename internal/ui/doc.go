// Package ui implements the interactive biokey shell using Bubble Tea.
//
// The shell has five views:
//   - Dashboard: session, security and sync state from the agent overview.
//   - Typing: a capture pad that records key-down and key-up events.
//   - Login: email and masked password form.
//   - Challenge: answers a challenge issued after suspicious typing.
//   - Logs: the agent log file, filtered by level.
//
// Key bindings: tab cycles views, esc returns
// to the dashboard, T cycles themes, h or ? toggles help and e or ctrl+c
// quits. Views with a text input capture printable keys, so only control
// keys are global there.
package ui
