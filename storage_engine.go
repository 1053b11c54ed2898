package kvlite

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"
)

// StorageEngine is the item state machine (spec §4.8): insert/update,
// expire, sliding extension, and removal including cascade, over a
// ConnectionFactory. It is the component every CacheFacade operation
// ultimately funnels through.
type StorageEngine struct {
	conn       ConnectionFactory
	clock      Clock
	random     RandomSource
	serializer Serializer
	compressor Compressor
	tamper     AntiTamper
	logger     Logger
	metrics    MetricsCollector
	retry      *RetryExecutor
	cfg        Config

	db DB

	insertCountsMu sync.Mutex
	insertCounts   map[string]int64
}

// EngineOption customizes NewStorageEngine beyond the required
// collaborators: a functional option applied after the defaults are set.
type EngineOption func(*StorageEngine)

// WithLogger overrides the default NopLogger.
func WithLogger(l Logger) EngineOption {
	return func(e *StorageEngine) { e.logger = l }
}

// WithMetrics overrides the default NopMetrics. A nil collector keeps
// NopMetrics.
func WithMetrics(m MetricsCollector) EngineOption {
	return func(e *StorageEngine) {
		if m != nil {
			e.metrics = m
		}
	}
}

// WithRandomSource overrides the default SystemRandom. Tests use this to
// pin the soft-cleanup coin-flip.
func WithRandomSource(r RandomSource) EngineOption {
	return func(e *StorageEngine) { e.random = r }
}

// WithSerializer overrides the default MsgpackSerializer.
func WithSerializer(s Serializer) EngineOption {
	return func(e *StorageEngine) { e.serializer = s }
}

// WithCompressor overrides the default ZstdCompressor.
func WithCompressor(c Compressor) EngineOption {
	return func(e *StorageEngine) { e.compressor = c }
}

// WithAntiTamper overrides the default CRC32AntiTamper.
func WithAntiTamper(a AntiTamper) EngineOption {
	return func(e *StorageEngine) { e.tamper = a }
}

// NewStorageEngine wires an engine polymorphic over ConnectionFactory and
// Clock (both required) plus the optional collaborators in opts. Open must
// be called before use.
func NewStorageEngine(conn ConnectionFactory, clock Clock, cfg Config, opts ...EngineOption) *StorageEngine {
	e := &StorageEngine{
		conn:       conn,
		clock:      clock,
		random:     SystemRandom{},
		serializer: MsgpackSerializer{},
		compressor: NewZstdCompressor(),
		tamper:     CRC32AntiTamper{},
		logger:     NopLogger{},
		metrics:    NopMetrics{},
		retry:        NewRetryExecutor(),
		cfg:          cfg,
		insertCounts: make(map[string]int64),
	}

	for _, opt := range opts {
		opt(e)
	}

	return e
}

// Open acquires the underlying connection pool from the ConnectionFactory.
func (e *StorageEngine) Open(ctx context.Context) error {
	db, err := e.conn.Open(ctx)
	if err != nil {
		return fmt.Errorf("%w: open connection: %w", ErrStorageFailure, err)
	}

	e.db = db

	return nil
}

// Close releases the underlying connection pool.
func (e *StorageEngine) Close() error {
	if e.db == nil {
		return nil
	}

	err := e.db.Close()
	e.db = nil

	return err
}

func (e *StorageEngine) checkOpen() error {
	if e.db == nil {
		return ErrDisposed
	}

	return nil
}

// truncate applies the ConnectionFactory's dialect-specific length caps
// (spec §4.8 step 1).
func (e *StorageEngine) truncate(partition, key string) (string, string) {
	p := partition
	if max := e.conn.MaxPartitionLen(); max > 0 && len(p) > max {
		p = p[:max]
	}

	k := key
	if max := e.conn.MaxKeyLen(); max > 0 && len(k) > max {
		k = k[:max]
	}

	return p, k
}

// upsertInput bundles the parameters funnel into Upsert from AddTimed,
// AddSliding, and AddStatic.
type upsertInput struct {
	Partition  string
	Key        string
	Value      any
	UTCExpiry  int64
	Interval   int64
	ParentKeys []string
}

// Upsert implements spec §4.8's "Upsert" operation: the funnel behind
// AddTimed/AddSliding/AddStatic.
func (e *StorageEngine) Upsert(ctx context.Context, in upsertInput) error {
	if err := e.checkOpen(); err != nil {
		return err
	}

	if in.Partition == "" || in.Key == "" {
		return fmt.Errorf("%w: partition and key are required", ErrInvalidArgument)
	}

	if in.Interval < 0 {
		return fmt.Errorf("%w: interval must be >= 0", ErrInvalidArgument)
	}

	parentKeys, err := parentKeyArray(in.ParentKeys)
	if err != nil {
		return err
	}

	partition, key := e.truncate(in.Partition, in.Key)

	metadata := EntryMetadata{
		Partition:   partition,
		Key:         key,
		UTCCreation: e.clock.NowUnix(),
		UTCExpiry:   in.UTCExpiry,
		Interval:    in.Interval,
		ParentKeys:  parentKeys,
	}

	if metadata.UTCCreation > metadata.UTCExpiry {
		return fmt.Errorf("%w: utc_creation must be <= utc_expiry", ErrInvalidArgument)
	}

	// Step 2-3: stamp + serialize into one buffer.
	buf := new(bytes.Buffer)

	err = e.tamper.WriteStamp(buf, metadata)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidValue, err)
	}

	err = e.serializer.WriteValue(buf, in.Value)
	if err != nil {
		return err // already wrapped in ErrInvalidValue by the serializer
	}

	// Step 4: compress if over threshold.
	payload, compressed, err := compressIfNeeded(e.compressor, buf, e.cfg.MinValueLengthForCompression)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidValue, err)
	}

	if compressed && buf.Len() > 0 {
		e.metrics.ObserveCompressionRatio(partition, float64(len(payload))/float64(buf.Len()))
	}

	row := StoredRow{
		Partition:   partition,
		Key:         key,
		UTCCreation: metadata.UTCCreation,
		UTCExpiry:   metadata.UTCExpiry,
		Interval:    metadata.Interval,
		Payload:     payload,
		Compressed:  compressed,
		ParentKeys:  parentKeys,
	}

	// Step 6: retry-wrapped transaction.
	err = e.retry.Do(ctx, func(ctx context.Context) error {
		tx, txErr := e.db.BeginTx(ctx, nil)
		if txErr != nil {
			return txErr
		}

		upsertErr := e.conn.UpsertEntry(ctx, tx, row)
		if upsertErr != nil {
			_ = tx.Rollback()

			return upsertErr
		}

		return tx.Commit()
	})
	if err != nil {
		return err
	}

	e.metrics.IncUpsert(partition)

	// Step 7: opportunistic soft cleanup, swallowing any error.
	e.maybeAutoCleanup(ctx, partition)

	return nil
}

// maybeAutoCleanup implements CleanupPolicy's soft-cleanup trigger (spec
// §4.9): fires with probability ChancesOfAutoCleanup, or deterministically
// every InsertionCountBeforeAutoClean inserts — two independent,
// unreconciled triggers per spec §9's open question.
func (e *StorageEngine) maybeAutoCleanup(ctx context.Context, partition string) {
	coinLanded := e.cfg.ChancesOfAutoCleanup > 0 && e.random.NextUnit() < e.cfg.ChancesOfAutoCleanup
	counterFired := e.counterTriggered(partition)

	if coinLanded || counterFired {
		e.softCleanup(ctx, partition)
	}
}

// counterTriggered implements the insertion-count trigger: every partition
// keeps its own running insert count, reset to 0 whenever it fires, so a
// partition that never sees ChancesOfAutoCleanup's coin land still gets
// swept deterministically every InsertionCountBeforeAutoClean inserts.
func (e *StorageEngine) counterTriggered(partition string) bool {
	if e.cfg.InsertionCountBeforeAutoClean <= 0 {
		return false
	}

	e.insertCountsMu.Lock()
	defer e.insertCountsMu.Unlock()

	e.insertCounts[partition]++

	if e.insertCounts[partition] < int64(e.cfg.InsertionCountBeforeAutoClean) {
		return false
	}

	e.insertCounts[partition] = 0

	return true
}

func (e *StorageEngine) softCleanup(ctx context.Context, partition string) {
	n, err := e.Clear(ctx, partition, ConsiderExpiry)
	if err != nil {
		e.logger.Warn("soft cleanup failed", map[string]any{"partition": partition, "error": err.Error()})

		return
	}

	if n > 0 {
		e.metrics.IncCleanupSwept(partition, int(n))
	}
}

// getResult carries a successful read back to the facade.
type getResult struct {
	Entry CacheEntry
	Value []byte // decompressed, stamp-stripped, still serializer-encoded
}

// Get implements spec §4.8's "Get": returns the value and, for
// sliding/static entries, extends expiry.
func (e *StorageEngine) Get(ctx context.Context, partition, key string) (*getResult, error) {
	res, err := e.read(ctx, partition, key, true)
	if err != nil {
		return nil, err
	}

	return res, nil
}

// Peek implements spec §4.8's "Peek": like Get but never extends expiry.
func (e *StorageEngine) Peek(ctx context.Context, partition, key string) (*getResult, error) {
	if !e.conn.CanPeek() {
		return nil, ErrNotSupported
	}

	return e.read(ctx, partition, key, false)
}

// read is the shared Get/Peek implementation; extend controls whether
// sliding/static entries are re-stamped (Get) or left untouched (Peek).
func (e *StorageEngine) read(ctx context.Context, partition, key string, extend bool) (*getResult, error) {
	if err := e.checkOpen(); err != nil {
		return nil, err
	}

	if partition == "" || key == "" {
		return nil, fmt.Errorf("%w: partition and key are required", ErrInvalidArgument)
	}

	partition, key = e.truncate(partition, key)

	t := e.clock.NowUnix()

	row, ok, err := e.conn.PeekEntry(ctx, e.db, partition, key)
	if err != nil {
		e.metrics.IncMiss(partition)
		e.logger.Error("read failed, degrading to absent", err, map[string]any{"partition": partition, "key": key})

		return nil, err
	}

	if !ok {
		e.metrics.IncMiss(partition)

		return nil, nil
	}

	if row.UTCExpiry < t {
		_, _ = e.conn.DeleteEntrySingle(ctx, e.db, partition, key)
		e.metrics.IncMiss(partition)

		return nil, nil
	}

	if extend && row.Interval > 0 {
		newExpiry := t + row.Interval

		updErr := e.conn.UpdateEntryExpiry(ctx, e.db, partition, key, newExpiry)
		if updErr == nil {
			row.UTCExpiry = newExpiry
		}
	}

	value, err := e.decode(partition, key, row)
	if err != nil {
		_, _ = e.conn.DeleteEntrySingle(ctx, e.db, partition, key)
		e.logger.Warn("removing row after decode failure", map[string]any{
			"partition": partition, "key": key, "error": err.Error(),
		})

		if errors.Is(err, ErrTamperDetected) {
			e.metrics.IncTamperDetected(partition)
		}

		e.metrics.IncMiss(partition)

		return nil, nil
	}

	e.metrics.IncHit(partition)

	return &getResult{Entry: entryFromMetadata(row.Metadata()), Value: value}, nil
}

// decode reverses Upsert's compress+stamp+serialize pipeline: decompress,
// verify the anti-tamper stamp against row metadata, and return the
// remaining serializer-encoded bytes for the caller to decode into T.
func (e *StorageEngine) decode(partition, key string, row StoredRow) ([]byte, error) {
	raw, err := decompressIfNeeded(e.compressor, row.Payload, row.Compressed)
	if err != nil {
		return nil, err
	}

	buf := bytes.NewReader(raw)

	err = e.tamper.ReadAndVerify(buf, row.Metadata())
	if err != nil {
		return nil, err
	}

	rest := make([]byte, buf.Len())

	_, err = buf.Read(rest)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidValue, err)
	}

	return rest, nil
}

// removeAfterValueDecodeFailure implements the other half of spec §4.8 step
// 7: decode covers the anti-tamper/decompression half of the read pipeline
// and already removes the row on failure in read/readMany, but the generic
// serializer.ReadValue[T] decode happens one layer up in the facade, after
// the row has already been handed back as a getResult. The facade calls
// this when that decode fails, so a row that deserializes into the wrong
// shape is removed exactly like a tamper or decompression failure is.
func (e *StorageEngine) removeAfterValueDecodeFailure(ctx context.Context, partition, key string, cause error) {
	_, _ = e.conn.DeleteEntrySingle(ctx, e.db, partition, key)
	e.logger.Warn("removing row after value decode failure", map[string]any{
		"partition": partition, "key": key, "error": cause.Error(),
	})
}

// keyedResult pairs a key with its decoded getResult for batch reads.
type keyedResult struct {
	Key    string
	Result *getResult
}

// GetMany implements spec §4.8's "GetMany over a partition": a single
// transaction that reads the candidate rows, then for each either deletes
// (expired) or extends (sliding/static), then commits; deserialization
// happens after commit, outside the transaction's lock scope (spec §5:
// "no long-lived lock across deserialization").
func (e *StorageEngine) GetMany(ctx context.Context, partition string, keys []string) ([]keyedResult, error) {
	return e.readMany(ctx, partition, keys, true)
}

// PeekMany implements spec §4.8's "PeekMany": like GetMany but never
// extends expiry and requires CanPeek().
func (e *StorageEngine) PeekMany(ctx context.Context, partition string, keys []string) ([]keyedResult, error) {
	if !e.conn.CanPeek() {
		return nil, ErrNotSupported
	}

	return e.readMany(ctx, partition, keys, false)
}

func (e *StorageEngine) readMany(ctx context.Context, partition string, keys []string, extend bool) ([]keyedResult, error) {
	if err := e.checkOpen(); err != nil {
		return nil, err
	}

	t := e.clock.NowUnix()

	tx, err := e.db.BeginTx(ctx, nil)
	if err != nil {
		e.logger.Error("batch read transaction failed", err, map[string]any{"partition": partition})

		return nil, fmt.Errorf("%w: %w", ErrStorageFailure, err)
	}

	rows, err := e.conn.PeekEntries(ctx, tx, partition, keys)
	if err != nil {
		_ = tx.Rollback()
		e.logger.Error("batch read failed, degrading to empty", err, map[string]any{"partition": partition})

		return nil, err
	}

	live := rows[:0]

	for _, row := range rows {
		if row.UTCExpiry < t {
			_, _ = e.conn.DeleteEntrySingle(ctx, tx, row.Partition, row.Key)

			continue
		}

		if extend && row.Interval > 0 {
			newExpiry := t + row.Interval

			updErr := e.conn.UpdateEntryExpiry(ctx, tx, row.Partition, row.Key, newExpiry)
			if updErr == nil {
				row.UTCExpiry = newExpiry
			}
		}

		live = append(live, row)
	}

	err = tx.Commit()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrStorageFailure, err)
	}

	out := make([]keyedResult, 0, len(live))

	for _, row := range live {
		value, decErr := e.decode(row.Partition, row.Key, row)
		if decErr != nil {
			_, _ = e.conn.DeleteEntrySingle(ctx, e.db, row.Partition, row.Key)
			e.logger.Warn("removing row after decode failure", map[string]any{
				"partition": row.Partition, "key": row.Key, "error": decErr.Error(),
			})

			if errors.Is(decErr, ErrTamperDetected) {
				e.metrics.IncTamperDetected(row.Partition)
			}

			e.metrics.IncMiss(row.Partition)

			continue
		}

		e.metrics.IncHit(row.Partition)

		out = append(out, keyedResult{
			Key:    row.Key,
			Result: &getResult{Entry: entryFromMetadata(row.Metadata()), Value: value},
		})
	}

	return out, nil
}

// Contains implements spec §4.8's "Contains": never extends expiry.
func (e *StorageEngine) Contains(ctx context.Context, partition, key string) (bool, error) {
	if err := e.checkOpen(); err != nil {
		return false, err
	}

	if partition == "" || key == "" {
		return false, fmt.Errorf("%w: partition and key are required", ErrInvalidArgument)
	}

	partition, key = e.truncate(partition, key)

	return e.conn.ContainsEntry(ctx, e.db, partition, key, e.clock.NowUnix())
}

// Count implements spec §4.8's "Count".
func (e *StorageEngine) Count(ctx context.Context, partition string, mode ExpiryMode) (int64, error) {
	if err := e.checkOpen(); err != nil {
		return 0, err
	}

	return e.conn.CountEntries(ctx, e.db, partition, mode, e.clock.NowUnix())
}

// CacheSizeBytes implements the cache_size_bytes statement exposed via the
// CacheFacade's GetCacheSizeBytes.
func (e *StorageEngine) CacheSizeBytes(ctx context.Context, partition string) (int64, error) {
	if err := e.checkOpen(); err != nil {
		return 0, err
	}

	return e.conn.CacheSizeBytes(ctx, e.db, partition)
}

// Remove implements spec §4.8's "Remove": delete_entry_single, cascading
// per §4.8's cascade algorithm. No-op if absent.
func (e *StorageEngine) Remove(ctx context.Context, partition, key string) error {
	if err := e.checkOpen(); err != nil {
		return err
	}

	if partition == "" || key == "" {
		return fmt.Errorf("%w: partition and key are required", ErrInvalidArgument)
	}

	partition, key = e.truncate(partition, key)

	var removed int64

	err := e.retry.Do(ctx, func(ctx context.Context) error {
		n, delErr := e.conn.DeleteEntrySingle(ctx, e.db, partition, key)
		removed = n

		return delErr
	})
	if err != nil {
		return err
	}

	e.metrics.IncRemove(partition)

	if removed > 1 {
		e.metrics.IncCascadeDeleted(partition, int(removed-1))
	}

	return nil
}

// Clear implements spec §4.8's "Clear": delete_entries_group with optional
// partition and expiry_mode. Returns the number of rows removed.
func (e *StorageEngine) Clear(ctx context.Context, partition string, mode ExpiryMode) (int64, error) {
	if err := e.checkOpen(); err != nil {
		return 0, err
	}

	var removed int64

	now := e.clock.NowUnix()

	err := e.retry.Do(ctx, func(ctx context.Context) error {
		n, delErr := e.conn.DeleteEntriesGroup(ctx, e.db, partition, mode, now)
		removed = n

		return delErr
	})

	return removed, err
}
