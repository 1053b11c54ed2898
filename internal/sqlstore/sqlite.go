// Package sqlstore implements kvlite.ConnectionFactory against SQLite via
// github.com/mattn/go-sqlite3, the way the teacher repo's internal/store
// package speaks to its own derived index: connect, apply a fixed pragma
// batch, create schema, then expose a small bank of prepared-shape
// statements rather than building SQL ad hoc per call.
package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	_ "github.com/mattn/go-sqlite3" // sqlite3 driver

	"github.com/kvlitecache/kvlite"
)

// schemaVersion is stored in PRAGMA user_version. Bump it when the schema
// changes; a mismatch on Open triggers a drop-and-recreate.
const schemaVersion = 1

// sqliteBusyTimeout is how long SQLite waits on a locked database before
// returning SQLITE_BUSY, in milliseconds.
const sqliteBusyTimeout = 10000

// maxTextLen is the dialect's bounded-text cap for partition/key, matching
// the TEXT columns' practical indexing limit.
const maxTextLen = 4096

// SQLite implements kvlite.ConnectionFactory over a single SQLite database
// file (or ":memory:").
type SQLite struct {
	path string
}

// New returns a SQLite ConnectionFactory for the database at path. Open
// must be called before use.
func New(path string) *SQLite {
	return &SQLite{path: path}
}

// Open connects, applies pragmas, and ensures schema is current.
func (s *SQLite) Open(ctx context.Context) (kvlite.DB, error) {
	db, err := sql.Open("sqlite3", s.path)
	if err != nil {
		return nil, fmt.Errorf("sqlstore: open: %w", err)
	}

	err = db.PingContext(ctx)
	if err != nil {
		_ = db.Close()

		return nil, fmt.Errorf("sqlstore: ping: %w", err)
	}

	err = applyPragmas(ctx, db)
	if err != nil {
		_ = db.Close()

		return nil, err
	}

	err = ensureSchema(ctx, db)
	if err != nil {
		_ = db.Close()

		return nil, err
	}

	return db, nil
}

func applyPragmas(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, fmt.Sprintf(`
		PRAGMA busy_timeout = %d;
		PRAGMA journal_mode = WAL;
		PRAGMA synchronous = FULL;
		PRAGMA mmap_size = 268435456;
		PRAGMA cache_size = -20000;
		PRAGMA temp_store = MEMORY;
	`, sqliteBusyTimeout))
	if err != nil {
		return fmt.Errorf("sqlstore: apply pragmas: %w", err)
	}

	return nil
}

func ensureSchema(ctx context.Context, db *sql.DB) error {
	row := db.QueryRowContext(ctx, "PRAGMA user_version")

	var version int

	err := row.Scan(&version)
	if err != nil {
		return fmt.Errorf("sqlstore: read user_version: %w", err)
	}

	if version == schemaVersion {
		return nil
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlstore: begin schema txn: %w", err)
	}

	committed := false

	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	statements := []string{
		"DROP TABLE IF EXISTS cache_entries",
		`CREATE TABLE cache_entries (
			partition TEXT NOT NULL,
			key TEXT NOT NULL,
			utc_creation INTEGER NOT NULL,
			utc_expiry INTEGER NOT NULL,
			interval INTEGER NOT NULL,
			payload BLOB NOT NULL,
			compressed INTEGER NOT NULL,
			parent_key_0 TEXT NOT NULL DEFAULT '',
			parent_key_1 TEXT NOT NULL DEFAULT '',
			parent_key_2 TEXT NOT NULL DEFAULT '',
			parent_key_3 TEXT NOT NULL DEFAULT '',
			parent_key_4 TEXT NOT NULL DEFAULT '',
			PRIMARY KEY (partition, key)
		) WITHOUT ROWID`,
		"CREATE INDEX idx_cache_expiry ON cache_entries(partition, utc_expiry)",
		"CREATE INDEX idx_cache_parent0 ON cache_entries(partition, parent_key_0)",
		"CREATE INDEX idx_cache_parent1 ON cache_entries(partition, parent_key_1)",
		"CREATE INDEX idx_cache_parent2 ON cache_entries(partition, parent_key_2)",
		"CREATE INDEX idx_cache_parent3 ON cache_entries(partition, parent_key_3)",
		"CREATE INDEX idx_cache_parent4 ON cache_entries(partition, parent_key_4)",
	}

	for i, stmt := range statements {
		_, err = tx.ExecContext(ctx, stmt)
		if err != nil {
			return fmt.Errorf("sqlstore: schema statement %d: %w", i+1, err)
		}
	}

	_, err = tx.ExecContext(ctx, fmt.Sprintf("PRAGMA user_version = %d", schemaVersion))
	if err != nil {
		return fmt.Errorf("sqlstore: set user_version: %w", err)
	}

	err = tx.Commit()
	if err != nil {
		return fmt.Errorf("sqlstore: commit schema txn: %w", err)
	}

	committed = true

	return nil
}

// MaxPartitionLen and MaxKeyLen bound the dialect's TEXT primary-key
// columns.
func (s *SQLite) MaxPartitionLen() int { return maxTextLen }
func (s *SQLite) MaxKeyLen() int       { return maxTextLen }

// CanPeek is true: SQLite's row storage lets Peek read without mutating
// expiry, unlike backends where read and refresh are fused.
func (s *SQLite) CanPeek() bool { return true }

// Dialect identifies this ConnectionFactory for diagnostics.
func (s *SQLite) Dialect() string { return "sqlite3" }

// UpsertEntry implements the named upsert_entry statement.
func (s *SQLite) UpsertEntry(ctx context.Context, db kvlite.Execer, row kvlite.StoredRow) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO cache_entries (
			partition, key, utc_creation, utc_expiry, interval, payload, compressed,
			parent_key_0, parent_key_1, parent_key_2, parent_key_3, parent_key_4
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(partition, key) DO UPDATE SET
			utc_creation = excluded.utc_creation,
			utc_expiry   = excluded.utc_expiry,
			interval     = excluded.interval,
			payload      = excluded.payload,
			compressed   = excluded.compressed,
			parent_key_0 = excluded.parent_key_0,
			parent_key_1 = excluded.parent_key_1,
			parent_key_2 = excluded.parent_key_2,
			parent_key_3 = excluded.parent_key_3,
			parent_key_4 = excluded.parent_key_4`,
		row.Partition, row.Key, row.UTCCreation, row.UTCExpiry, row.Interval, row.Payload, row.Compressed,
		row.ParentKeys[0], row.ParentKeys[1], row.ParentKeys[2], row.ParentKeys[3], row.ParentKeys[4],
	)
	if err != nil {
		return fmt.Errorf("%w: upsert_entry: %w", kvlite.ErrStorageFailure, err)
	}

	return nil
}

// DeleteEntrySingle implements delete_entry_single: a single recursive-CTE
// DELETE that removes key and, transitively, every row whose parent-key set
// names an already-removed key. The recursive term UNIONs (not UNION ALLs)
// against the accumulated victim set, so a parent-key cycle simply stops
// growing the set instead of looping forever.
func (s *SQLite) DeleteEntrySingle(ctx context.Context, db kvlite.Execer, partition, key string) (int64, error) {
	res, err := db.ExecContext(ctx, `
		DELETE FROM cache_entries
		WHERE partition = ?1 AND key IN (
			WITH RECURSIVE victims(key) AS (
				SELECT ?2
				UNION
				SELECT e.key FROM cache_entries e, victims v
				WHERE e.partition = ?1 AND (
					e.parent_key_0 = v.key OR e.parent_key_1 = v.key OR
					e.parent_key_2 = v.key OR e.parent_key_3 = v.key OR
					e.parent_key_4 = v.key
				)
			)
			SELECT key FROM victims
		)`, partition, key)
	if err != nil {
		return 0, fmt.Errorf("%w: delete_entry_single: %w", kvlite.ErrStorageFailure, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("%w: delete_entry_single: %w", kvlite.ErrStorageFailure, err)
	}

	return n, nil
}

// DeleteEntriesGroup implements delete_entries_group: partition is an exact
// match (all partitions if empty) and mode selects whether expiry is
// considered.
func (s *SQLite) DeleteEntriesGroup(ctx context.Context, db kvlite.Execer, partition string, mode kvlite.ExpiryMode, now int64) (int64, error) {
	clauses, args := groupClauses(partition, mode, now)

	query := "DELETE FROM cache_entries"
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}

	res, err := db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("%w: delete_entries_group: %w", kvlite.ErrStorageFailure, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("%w: delete_entries_group: %w", kvlite.ErrStorageFailure, err)
	}

	return n, nil
}

// CountEntries implements count_entries.
func (s *SQLite) CountEntries(ctx context.Context, db kvlite.Queryer, partition string, mode kvlite.ExpiryMode, now int64) (int64, error) {
	clauses, args := groupClauses(partition, mode, now)

	query := "SELECT COUNT(*) FROM cache_entries"
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}

	var n int64

	err := db.QueryRowContext(ctx, query, args...).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("%w: count_entries: %w", kvlite.ErrStorageFailure, err)
	}

	return n, nil
}

// groupClauses builds the shared WHERE-clause fragments for the
// partition/expiry-mode filter used by DeleteEntriesGroup and CountEntries,
// the same dynamic-clause-builder shape the teacher's query.go uses for its
// listing filters.
func groupClauses(partition string, mode kvlite.ExpiryMode, now int64) ([]string, []any) {
	clauses := make([]string, 0, 2)
	args := make([]any, 0, 2)

	if partition != "" {
		clauses = append(clauses, "partition = ?")
		args = append(args, partition)
	}

	if mode == kvlite.ConsiderExpiry {
		clauses = append(clauses, "utc_expiry < ?")
		args = append(args, now)
	}

	return clauses, args
}

// ContainsEntry implements contains_entry: true iff a live row exists.
func (s *SQLite) ContainsEntry(ctx context.Context, db kvlite.Queryer, partition, key string, now int64) (bool, error) {
	var exists int

	err := db.QueryRowContext(ctx, `
		SELECT 1 FROM cache_entries
		WHERE partition = ? AND key = ? AND utc_expiry >= ?
		LIMIT 1`, partition, key, now).Scan(&exists)
	if err == sql.ErrNoRows {
		return false, nil
	}

	if err != nil {
		return false, fmt.Errorf("%w: contains_entry: %w", kvlite.ErrStorageFailure, err)
	}

	return true, nil
}

const selectRowColumns = `partition, key, utc_creation, utc_expiry, interval, payload, compressed,
	parent_key_0, parent_key_1, parent_key_2, parent_key_3, parent_key_4`

func scanRow(scanner interface{ Scan(...any) error }) (kvlite.StoredRow, error) {
	var row kvlite.StoredRow

	var compressed int

	err := scanner.Scan(
		&row.Partition, &row.Key, &row.UTCCreation, &row.UTCExpiry, &row.Interval, &row.Payload, &compressed,
		&row.ParentKeys[0], &row.ParentKeys[1], &row.ParentKeys[2], &row.ParentKeys[3], &row.ParentKeys[4],
	)
	if err != nil {
		return row, err
	}

	row.Compressed = compressed != 0

	return row, nil
}

// PeekEntry implements peek_entry: the full row for (partition, key),
// ignoring expiry.
func (s *SQLite) PeekEntry(ctx context.Context, db kvlite.Queryer, partition, key string) (kvlite.StoredRow, bool, error) {
	r := db.QueryRowContext(ctx, "SELECT "+selectRowColumns+" FROM cache_entries WHERE partition = ? AND key = ?", partition, key)

	row, err := scanRow(r)
	if err == sql.ErrNoRows {
		return kvlite.StoredRow{}, false, nil
	}

	if err != nil {
		return kvlite.StoredRow{}, false, fmt.Errorf("%w: peek_entry: %w", kvlite.ErrStorageFailure, err)
	}

	return row, true, nil
}

// PeekEntries implements peek_entries: every row in partition matching keys
// (or every row in partition, when keys is nil).
func (s *SQLite) PeekEntries(ctx context.Context, db kvlite.Queryer, partition string, keys []string) ([]kvlite.StoredRow, error) {
	query := "SELECT " + selectRowColumns + " FROM cache_entries WHERE partition = ?"
	args := []any{partition}

	if keys != nil {
		placeholders := make([]string, len(keys))
		for i, k := range keys {
			placeholders[i] = "?"
			args = append(args, k)
		}

		if len(keys) == 0 {
			return []kvlite.StoredRow{}, nil
		}

		query += " AND key IN (" + strings.Join(placeholders, ",") + ")"
	}

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: peek_entries: %w", kvlite.ErrStorageFailure, err)
	}

	defer func() { _ = rows.Close() }()

	out := []kvlite.StoredRow{}

	for rows.Next() {
		row, err := scanRow(rows)
		if err != nil {
			return nil, fmt.Errorf("%w: peek_entries: scan: %w", kvlite.ErrStorageFailure, err)
		}

		out = append(out, row)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("%w: peek_entries: %w", kvlite.ErrStorageFailure, err)
	}

	return out, nil
}

// UpdateEntryExpiry implements update_entry_expiry: the sliding/static
// re-stamp on a successful Get.
func (s *SQLite) UpdateEntryExpiry(ctx context.Context, db kvlite.Execer, partition, key string, newExpiry int64) error {
	_, err := db.ExecContext(ctx, "UPDATE cache_entries SET utc_expiry = ? WHERE partition = ? AND key = ?", newExpiry, partition, key)
	if err != nil {
		return fmt.Errorf("%w: update_entry_expiry: %w", kvlite.ErrStorageFailure, err)
	}

	return nil
}

// CacheSizeBytes implements cache_size_bytes: the sum of payload lengths
// in partition (or across every partition, when partition is empty).
func (s *SQLite) CacheSizeBytes(ctx context.Context, db kvlite.Queryer, partition string) (int64, error) {
	query := "SELECT COALESCE(SUM(LENGTH(payload)), 0) FROM cache_entries"
	args := []any{}

	if partition != "" {
		query += " WHERE partition = ?"
		args = append(args, partition)
	}

	var n int64

	err := db.QueryRowContext(ctx, query, args...).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("%w: cache_size_bytes: %w", kvlite.ErrStorageFailure, err)
	}

	return n, nil
}
