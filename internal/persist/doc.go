// Package persist keeps the client state store on disk between runs.
//
// Snapshots are converted to compact CBOR records with integer keys, encoded
// deterministically, compressed (zstd by default, lz4 or none on request) and
// written to a single-row SQLite table together with a BLAKE3 checksum of the
// uncompressed bytes. Load verifies the checksum and runs state.CheckSnapshot;
// anything that fails is reported as ErrCorrupt so the caller can fall back to
// the server's copy of the profile.
//
// Autosaver attaches to the store's listeners and saves from its own
// goroutine, so listeners never wait on disk I/O or on store locks.
package persist
