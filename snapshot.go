package kvlite

import (
	"bytes"
	"context"
	"fmt"
	"os"

	atomicfile "github.com/natefinch/atomic"
)

// snapshotEnvelope is the on-disk shape written by ExportSnapshot: the raw
// StoredRows for a partition, still compressed/stamped exactly as they sit
// in the backend. ImportSnapshot restores them verbatim, byte for byte.
type snapshotEnvelope struct {
	Partition string
	Rows      []StoredRow
}

// Snapshot implements the raw dump behind CacheFacade.ExportSnapshot: every
// row in partition, untouched by expiry or decode (no extension, no
// tamper check, no decompression) — a faithful copy for backup/restore.
func (e *StorageEngine) Snapshot(ctx context.Context, partition string) ([]StoredRow, error) {
	if err := e.checkOpen(); err != nil {
		return nil, err
	}

	rows, err := e.conn.PeekEntries(ctx, e.db, partition, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: snapshot: %w", ErrStorageFailure, err)
	}

	return rows, nil
}

// Restore implements the inverse of Snapshot: upsert every row verbatim,
// bypassing Upsert's own stamp/compress pipeline since the rows are already
// stamped and (optionally) compressed.
func (e *StorageEngine) Restore(ctx context.Context, rows []StoredRow) error {
	if err := e.checkOpen(); err != nil {
		return err
	}

	return e.retry.Do(ctx, func(ctx context.Context) error {
		tx, err := e.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}

		for _, row := range rows {
			if err := e.conn.UpsertEntry(ctx, tx, row); err != nil {
				_ = tx.Rollback()

				return err
			}
		}

		return tx.Commit()
	})
}

// ExportSnapshot writes every row in partition to path as a single
// msgpack-encoded snapshotEnvelope, using an atomic rename so a reader never
// observes a partially written file — the same write-then-rename discipline
// the teacher's repair/reopen paths use for on-disk state, here delegated to
// github.com/natefinch/atomic instead of hand-rolled temp-file plumbing.
func (f *CacheFacade) ExportSnapshot(ctx context.Context, partition, path string) error {
	partition = f.partitionOrDefault(partition)

	rows, err := f.engine.Snapshot(ctx, partition)
	if err != nil {
		return err
	}

	buf := new(bytes.Buffer)

	err = f.engine.serializer.WriteValue(buf, snapshotEnvelope{Partition: partition, Rows: rows})
	if err != nil {
		return err
	}

	err = atomicfile.WriteFile(path, buf)
	if err != nil {
		return fmt.Errorf("%w: export snapshot: %w", ErrStorageFailure, err)
	}

	return nil
}

// ImportSnapshot reads a file written by ExportSnapshot and restores its
// rows, overwriting any existing entries at the same (partition, key).
func (f *CacheFacade) ImportSnapshot(ctx context.Context, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("%w: import snapshot: %w", ErrStorageFailure, err)
	}

	var env snapshotEnvelope

	err = f.engine.serializer.ReadValue(bytes.NewReader(data), &env)
	if err != nil {
		return err
	}

	return f.engine.Restore(ctx, env.Rows)
}
