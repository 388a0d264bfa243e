package persist

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/five82/biokey/internal/state"

	_ "modernc.org/sqlite" // SQLite driver.
)

var (
	// ErrNotFound means no snapshot has been saved yet.
	ErrNotFound = errors.New("no saved snapshot")

	// ErrCorrupt means the saved snapshot cannot be trusted and the client
	// should reconcile with the server instead.
	ErrCorrupt = errors.New("corrupted local state")
)

// FileName is the database file created inside the data directory.
const FileName = "biokey.db"

// DB stores client state snapshots in SQLite. Only the latest snapshot is
// kept; saves replace it atomically.
type DB struct {
	db          *sql.DB
	compression Compression
	now         func() time.Time
}

// Open opens or creates the database at path and applies migrations.
func Open(path string, c Compression) (*DB, error) {
	if c == "" {
		c = CompressionZstd
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	// One connection serializes writers without SQLITE_BUSY retries.
	db.SetMaxOpenConns(1)
	store := &DB{db: db, compression: c, now: time.Now}
	if err := store.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

// Close closes the underlying database.
func (d *DB) Close() error {
	return d.db.Close()
}

func (d *DB) migrate() error {
	stmts := []string{
		`PRAGMA journal_mode=WAL;`,
		`CREATE TABLE IF NOT EXISTS snapshots (
			id INTEGER PRIMARY KEY CHECK (id = 1),
			saved_at TEXT NOT NULL,
			compression TEXT NOT NULL,
			raw_size INTEGER NOT NULL,
			checksum BLOB NOT NULL,
			payload BLOB NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS save_log (
			id INTEGER PRIMARY KEY,
			saved_at TEXT NOT NULL,
			raw_size INTEGER NOT NULL,
			stored_size INTEGER NOT NULL,
			pending_batches INTEGER NOT NULL,
			history_size INTEGER NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_save_log_saved_at ON save_log(saved_at);`,
	}
	for _, stmt := range stmts {
		if _, err := d.db.Exec(stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

// saveLogLimit bounds the save_log table.
const saveLogLimit = 200

// Save replaces the stored snapshot with snap.
func (d *DB) Save(ctx context.Context, snap *state.Snapshot) (err error) {
	if snap == nil {
		return fmt.Errorf("save snapshot: nil snapshot: %w", state.ErrValidation)
	}
	enc, err := encode(fromSnapshot(snap), d.compression)
	if err != nil {
		return err
	}
	savedAt := d.now().UTC().Format(time.RFC3339Nano)

	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if _, err = tx.ExecContext(ctx,
		`INSERT INTO snapshots (id, saved_at, compression, raw_size, checksum, payload)
		 VALUES (1, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
			saved_at = excluded.saved_at,
			compression = excluded.compression,
			raw_size = excluded.raw_size,
			checksum = excluded.checksum,
			payload = excluded.payload`,
		savedAt, string(enc.compression), enc.size, enc.checksum[:], enc.payload,
	); err != nil {
		return fmt.Errorf("write snapshot: %w", err)
	}
	if _, err = tx.ExecContext(ctx,
		`INSERT INTO save_log (saved_at, raw_size, stored_size, pending_batches, history_size) VALUES (?, ?, ?, ?, ?)`,
		savedAt, enc.size, len(enc.payload), len(snap.Batches), len(snap.History),
	); err != nil {
		return fmt.Errorf("write save log: %w", err)
	}
	if _, err = tx.ExecContext(ctx,
		`DELETE FROM save_log WHERE id NOT IN (SELECT id FROM save_log ORDER BY id DESC LIMIT ?)`, saveLogLimit,
	); err != nil {
		return fmt.Errorf("trim save log: %w", err)
	}
	return tx.Commit()
}

// Load returns the stored snapshot. It fails with ErrNotFound when nothing was
// saved and with ErrCorrupt when the stored bytes do not decode to a usable
// snapshot.
func (d *DB) Load(ctx context.Context) (*state.Snapshot, error) {
	var (
		compression string
		enc         encoded
		sumBytes    []byte
	)
	err := d.db.QueryRowContext(ctx,
		`SELECT compression, raw_size, checksum, payload FROM snapshots WHERE id = 1`,
	).Scan(&compression, &enc.size, &sumBytes, &enc.payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read snapshot: %w", err)
	}
	if len(sumBytes) != len(enc.checksum) {
		return nil, fmt.Errorf("%w: checksum length %d", ErrCorrupt, len(sumBytes))
	}
	copy(enc.checksum[:], sumBytes)
	if enc.compression, err = ParseCompression(compression); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCorrupt, err)
	}

	rec, err := decode(enc)
	if err != nil {
		return nil, err
	}
	snap := rec.snapshot()
	if !state.CheckSnapshot(snap) {
		return nil, fmt.Errorf("%w: snapshot failed consistency checks", ErrCorrupt)
	}
	return snap, nil
}

// Delete removes the stored snapshot.
func (d *DB) Delete(ctx context.Context) error {
	if _, err := d.db.ExecContext(ctx, `DELETE FROM snapshots`); err != nil {
		return fmt.Errorf("delete snapshot: %w", err)
	}
	return nil
}

// SaveInfo describes one recorded save.
type SaveInfo struct {
	SavedAt        time.Time
	RawSize        int
	StoredSize     int
	PendingBatches int
	HistorySize    int
}

// RecentSaves returns up to limit saves, newest first.
func (d *DB) RecentSaves(ctx context.Context, limit int) ([]SaveInfo, error) {
	if limit <= 0 {
		return nil, nil
	}
	rows, err := d.db.QueryContext(ctx,
		`SELECT saved_at, raw_size, stored_size, pending_batches, history_size
		 FROM save_log ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []SaveInfo
	for rows.Next() {
		var (
			info    SaveInfo
			savedAt string
		)
		if err := rows.Scan(&savedAt, &info.RawSize, &info.StoredSize, &info.PendingBatches, &info.HistorySize); err != nil {
			return nil, err
		}
		info.SavedAt, _ = time.Parse(time.RFC3339Nano, savedAt)
		out = append(out, info)
	}
	return out, rows.Err()
}
