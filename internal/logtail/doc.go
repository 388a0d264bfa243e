// Package logtail reads the client's log file for display in the terminal
// shell.
//
// Read returns the last N lines using a ring buffer of N entries, so memory
// stays bounded on large files. Parse splits lines written by slog's text
// handler into time, level, message and the remaining attributes, which the
// shell uses to filter by level and colour the output.
//
// Read returns nil, nil for a missing file. Lines that are not key=value
// records parse to an Entry with only Raw set.
package logtail
