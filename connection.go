package kvlite

import (
	"context"
	"database/sql"
)

// Execer is satisfied by both *sql.DB and *sql.Tx, so ConnectionFactory
// methods can run inside or outside a caller-managed transaction.
type Execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// Queryer is the read-side counterpart to Execer.
type Queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// DB is the union of Execer and Queryer plus transaction control; it is
// what ConnectionFactory.Open returns and what StorageEngine drives
// directly.
type DB interface {
	Execer
	Queryer
	BeginTx(ctx context.Context, opts *sql.TxOptions) (*sql.Tx, error)
	Close() error
}

// ConnectionFactory encapsulates SQL dialect (spec §4.6): connection
// acquisition, per-dialect length caps, the can-peek capability flag, and a
// bank of pre-composed statements. The engine never concatenates ad hoc
// SQL; every operation below corresponds to exactly one of the named
// statements spec §4.6 enumerates.
type ConnectionFactory interface {
	// Open yields a connection pool ready for use (schema already
	// applied). Safe to call once and reuse the result.
	Open(ctx context.Context) (DB, error)

	// MaxPartitionLen and MaxKeyLen are the dialect's bounded-text caps;
	// the engine truncates partition/key to these before binding.
	MaxPartitionLen() int
	MaxKeyLen() int

	// CanPeek reports whether this backend supports the peek family
	// (spec §9's "peek" capability flag). Facade operations that require
	// peeking must consult it and return ErrNotSupported when false.
	CanPeek() bool

	// Dialect identifies the SQL dialect for diagnostics.
	Dialect() string

	// UpsertEntry executes the named upsert_entry statement: insert or
	// replace a row by primary identity (partition, key).
	UpsertEntry(ctx context.Context, db Execer, row StoredRow) error

	// DeleteEntrySingle executes delete_entry_single: removes the row
	// identified by (partition, key) and, transitively, every row in
	// partition whose parent-key set contains key (cascade, spec §4.8).
	// Returns the total number of rows removed.
	DeleteEntrySingle(ctx context.Context, db Execer, partition, key string) (int64, error)

	// DeleteEntriesGroup executes delete_entries_group: removes every row
	// matching partition (all partitions if empty) filtered by mode.
	// Returns the number of rows removed.
	DeleteEntriesGroup(ctx context.Context, db Execer, partition string, mode ExpiryMode, now int64) (int64, error)

	// CountEntries executes count_entries.
	CountEntries(ctx context.Context, db Queryer, partition string, mode ExpiryMode, now int64) (int64, error)

	// ContainsEntry executes contains_entry: true iff a live entry exists.
	ContainsEntry(ctx context.Context, db Queryer, partition, key string, now int64) (bool, error)

	// PeekEntry executes peek_entry: the full row for (partition, key),
	// ignoring expiry. ok is false when no such row exists.
	PeekEntry(ctx context.Context, db Queryer, partition, key string) (row StoredRow, ok bool, err error)

	// PeekEntries executes peek_entries: the group variant of PeekEntry
	// over an explicit key set (GetMany/PeekMany), or every row in
	// partition when keys is nil.
	PeekEntries(ctx context.Context, db Queryer, partition string, keys []string) ([]StoredRow, error)

	// UpdateEntryExpiry executes update_entry_expiry: re-stamps a single
	// row's utc_expiry (sliding/static extension on Get).
	UpdateEntryExpiry(ctx context.Context, db Execer, partition, key string, newExpiry int64) error

	// CacheSizeBytes executes cache_size_bytes: sum of payload lengths.
	CacheSizeBytes(ctx context.Context, db Queryer, partition string) (int64, error)
}
