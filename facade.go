package kvlite

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"
)

// CacheFacade is the public surface (spec §4.10): partition-scoped
// operations with boundary validation (partition/key non-nil, parent-key
// count <= MaxParentKeyCount) and error trapping — internal failures
// produce an absent result for reads and propagate for writes/deletes,
// while LastError is updated and the Logger receives a structured record.
type CacheFacade struct {
	engine *StorageEngine
	cfg    Config

	mu      sync.Mutex
	lastErr error
}

// NewCacheFacade builds a CacheFacade around a StorageEngine constructed
// from conn/clock/cfg/opts, and opens its connection.
func NewCacheFacade(ctx context.Context, conn ConnectionFactory, clock Clock, cfg Config, opts ...EngineOption) (*CacheFacade, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	engine := NewStorageEngine(conn, clock, cfg, opts...)

	err := engine.Open(ctx)
	if err != nil {
		return nil, err
	}

	return &CacheFacade{engine: engine, cfg: cfg}, nil
}

// Close tears down the underlying StorageEngine. Further operations return
// ErrDisposed.
func (f *CacheFacade) Close() error {
	return f.engine.Close()
}

// LastError returns the most recent error recorded by a read operation that
// degraded to absent, or nil if none has occurred (or it was cleared by a
// subsequent successful read). Writes/deletes/clears do not go through
// LastError: they propagate their error directly.
func (f *CacheFacade) LastError() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.lastErr
}

func (f *CacheFacade) recordErr(err error) {
	f.mu.Lock()
	f.lastErr = err
	f.mu.Unlock()
}

func (f *CacheFacade) clearErr() {
	f.mu.Lock()
	f.lastErr = nil
	f.mu.Unlock()
}

func (f *CacheFacade) partitionOrDefault(partition string) string {
	if partition == "" {
		return f.cfg.DefaultPartition
	}

	return partition
}

func validateKey(partition, key string, parentKeys []string) error {
	if partition == "" {
		return fmt.Errorf("%w: partition is required", ErrInvalidArgument)
	}

	if key == "" {
		return fmt.Errorf("%w: key is required", ErrInvalidArgument)
	}

	if len(parentKeys) > MaxParentKeyCount {
		return fmt.Errorf("%w: %d parent keys exceeds max %d", ErrInvalidArgument, len(parentKeys), MaxParentKeyCount)
	}

	return nil
}

// AddTimed implements spec §6's add_timed: caller supplies an absolute
// utc_expiry; interval is 0 (no sliding extension).
func (f *CacheFacade) AddTimed(ctx context.Context, partition, key string, value any, utcExpiry int64, parentKeys ...string) error {
	partition = f.partitionOrDefault(partition)

	if err := validateKey(partition, key, parentKeys); err != nil {
		return err
	}

	return f.engine.Upsert(ctx, upsertInput{
		Partition: partition, Key: key, Value: value,
		UTCExpiry: utcExpiry, Interval: 0, ParentKeys: parentKeys,
	})
}

// AddSliding implements spec §6's add_sliding: utc_expiry = now + interval
// at insert, re-stamped to now + interval on every successful Get.
func (f *CacheFacade) AddSliding(ctx context.Context, partition, key string, value any, interval int64, parentKeys ...string) error {
	partition = f.partitionOrDefault(partition)

	if err := validateKey(partition, key, parentKeys); err != nil {
		return err
	}

	if interval <= 0 {
		return fmt.Errorf("%w: sliding interval must be > 0", ErrInvalidArgument)
	}

	now := f.engine.clock.NowUnix()

	return f.engine.Upsert(ctx, upsertInput{
		Partition: partition, Key: key, Value: value,
		UTCExpiry: now + interval, Interval: interval, ParentKeys: parentKeys,
	})
}

// AddStatic implements spec §6's add_static: sliding expiry with
// Config.StaticIntervalDays as the (long-lived) interval.
func (f *CacheFacade) AddStatic(ctx context.Context, partition, key string, value any, parentKeys ...string) error {
	return f.AddSliding(ctx, partition, key, value, f.cfg.StaticIntervalSeconds(), parentKeys...)
}

// Get implements spec §6's get: returns the decoded value, extending
// expiry for sliding/static entries. ok is false on any miss (absent,
// expired, tamper-detected, or storage failure — all degrade identically
// per spec §7; LastError distinguishes storage failures after the fact).
func Get[T any](ctx context.Context, f *CacheFacade, partition, key string) (value T, ok bool, err error) {
	partition = f.partitionOrDefault(partition)

	if verr := validateKey(partition, key, nil); verr != nil {
		return value, false, verr
	}

	res, rerr := f.engine.Get(ctx, partition, key)

	return decodeResult[T](ctx, f, partition, key, res, rerr)
}

// GetItem implements spec §6's get_item: returns the entry's metadata
// (without decoding the value), extending expiry like Get.
func (f *CacheFacade) GetItem(ctx context.Context, partition, key string) (CacheEntry, bool, error) {
	partition = f.partitionOrDefault(partition)

	if err := validateKey(partition, key, nil); err != nil {
		return CacheEntry{}, false, err
	}

	res, err := f.engine.Get(ctx, partition, key)
	if err != nil {
		f.recordErr(err)

		return CacheEntry{}, false, nil
	}

	if res == nil {
		return CacheEntry{}, false, nil
	}

	f.clearErr()

	return res.Entry, true, nil
}

// Peek implements spec §6's peek: like Get but never extends expiry.
// Returns ErrNotSupported if the backend's CanPeek() is false.
func Peek[T any](ctx context.Context, f *CacheFacade, partition, key string) (value T, ok bool, err error) {
	partition = f.partitionOrDefault(partition)

	if verr := validateKey(partition, key, nil); verr != nil {
		return value, false, verr
	}

	res, rerr := f.engine.Peek(ctx, partition, key)
	if errors.Is(rerr, ErrNotSupported) {
		return value, false, ErrNotSupported
	}

	return decodeResult[T](ctx, f, partition, key, res, rerr)
}

// PeekItem implements spec §6's peek_item.
func (f *CacheFacade) PeekItem(ctx context.Context, partition, key string) (CacheEntry, bool, error) {
	partition = f.partitionOrDefault(partition)

	if err := validateKey(partition, key, nil); err != nil {
		return CacheEntry{}, false, err
	}

	res, err := f.engine.Peek(ctx, partition, key)
	if errors.Is(err, ErrNotSupported) {
		return CacheEntry{}, false, ErrNotSupported
	}

	if err != nil {
		f.recordErr(err)

		return CacheEntry{}, false, nil
	}

	if res == nil {
		return CacheEntry{}, false, nil
	}

	f.clearErr()

	return res.Entry, true, nil
}

func decodeResult[T any](ctx context.Context, f *CacheFacade, partition, key string, res *getResult, err error) (T, bool, error) {
	var zero T

	if err != nil {
		f.recordErr(err)

		return zero, false, nil
	}

	if res == nil {
		return zero, false, nil
	}

	var out T

	decErr := f.engine.serializer.ReadValue(bytes.NewReader(res.Value), &out)
	if decErr != nil {
		f.engine.removeAfterValueDecodeFailure(ctx, partition, key, decErr)
		f.recordErr(decErr)

		return zero, false, nil
	}

	f.clearErr()

	return out, true, nil
}

// GetItems implements spec §6's get_items: the batch variant of Get over
// an explicit key set within partition.
func GetItems[T any](ctx context.Context, f *CacheFacade, partition string, keys []string) (map[string]T, error) {
	return readManyTyped[T](ctx, f, partition, keys, true)
}

// PeekItems implements spec §6's peek_items.
func PeekItems[T any](ctx context.Context, f *CacheFacade, partition string, keys []string) (map[string]T, error) {
	return readManyTyped[T](ctx, f, partition, keys, false)
}

func readManyTyped[T any](ctx context.Context, f *CacheFacade, partition string, keys []string, extend bool) (map[string]T, error) {
	partition = f.partitionOrDefault(partition)

	var (
		rows []keyedResult
		err  error
	)

	if extend {
		rows, err = f.engine.GetMany(ctx, partition, keys)
	} else {
		rows, err = f.engine.PeekMany(ctx, partition, keys)
	}

	if errors.Is(err, ErrNotSupported) {
		return nil, ErrNotSupported
	}

	if err != nil {
		f.recordErr(err)

		return map[string]T{}, nil
	}

	out := make(map[string]T, len(rows))

	for _, r := range rows {
		var v T

		if decErr := f.engine.serializer.ReadValue(bytes.NewReader(r.Result.Value), &v); decErr != nil {
			f.engine.removeAfterValueDecodeFailure(ctx, partition, r.Key, decErr)

			continue
		}

		out[r.Key] = v
	}

	f.clearErr()

	return out, nil
}

// Contains implements spec §6's contains: never extends expiry.
func (f *CacheFacade) Contains(ctx context.Context, partition, key string) (bool, error) {
	partition = f.partitionOrDefault(partition)

	if err := validateKey(partition, key, nil); err != nil {
		return false, err
	}

	return f.engine.Contains(ctx, partition, key)
}

// Remove implements spec §6's remove: delete_entry_single, cascading.
// No-op if absent. Propagates storage failures (spec §7: deletes fail
// loudly).
func (f *CacheFacade) Remove(ctx context.Context, partition, key string) error {
	partition = f.partitionOrDefault(partition)

	if err := validateKey(partition, key, nil); err != nil {
		return err
	}

	return f.engine.Remove(ctx, partition, key)
}

// Clear implements spec §6's clear: explicit hard cleanup when mode is
// IgnoreExpiry, or an on-demand soft sweep when ConsiderExpiry. An empty
// partition clears every partition.
func (f *CacheFacade) Clear(ctx context.Context, partition string, mode ExpiryMode) (int64, error) {
	return f.engine.Clear(ctx, partition, mode)
}

// Count implements spec §6's count/long_count: partition-scoped count of
// rows matching mode.
func (f *CacheFacade) Count(ctx context.Context, partition string, mode ExpiryMode) (int64, error) {
	return f.engine.Count(ctx, partition, mode)
}

// LongCount is an alias for Count kept for parity with spec §6's
// long_count/count pair (both return a 64-bit count; Go has no separate
// 32-bit "int count" API worth exposing).
func (f *CacheFacade) LongCount(ctx context.Context, partition string, mode ExpiryMode) (int64, error) {
	return f.Count(ctx, partition, mode)
}

// GetCacheSizeBytes implements spec §6's get_cache_size_bytes.
func (f *CacheFacade) GetCacheSizeBytes(ctx context.Context, partition string) (int64, error) {
	return f.engine.CacheSizeBytes(ctx, partition)
}

// ValueFactory produces a value to insert on a GetOrAdd miss, along with
// the expiry spec to insert it with.
type ValueFactory[T any] func(ctx context.Context) (T, ExpirySpec, error)

// ExpirySpec selects which of AddTimed/AddSliding/AddStatic GetOrAdd uses
// to store a freshly produced value.
type ExpirySpec struct {
	kind      expiryKind
	utcExpiry int64
	interval  int64
}

type expiryKind int

const (
	expiryTimed expiryKind = iota
	expirySliding
	expiryStatic
)

// Timed builds an ExpirySpec equivalent to AddTimed.
func Timed(utcExpiry int64) ExpirySpec { return ExpirySpec{kind: expiryTimed, utcExpiry: utcExpiry} }

// Sliding builds an ExpirySpec equivalent to AddSliding.
func Sliding(interval int64) ExpirySpec { return ExpirySpec{kind: expirySliding, interval: interval} }

// Static builds an ExpirySpec equivalent to AddStatic.
func Static() ExpirySpec { return ExpirySpec{kind: expiryStatic} }

// GetOrAdd implements spec §6's get_or_add_*: composes a Get with an Add on
// miss. factory is invoked at most once per miss observed by this call.
func GetOrAdd[T any](ctx context.Context, f *CacheFacade, partition, key string, factory ValueFactory[T], parentKeys ...string) (T, error) {
	partition = f.partitionOrDefault(partition)

	value, ok, err := Get[T](ctx, f, partition, key)
	if err != nil {
		var zero T

		return zero, err
	}

	if ok {
		return value, nil
	}

	produced, spec, err := factory(ctx)
	if err != nil {
		var zero T

		return zero, err
	}

	switch spec.kind {
	case expirySliding:
		err = f.AddSliding(ctx, partition, key, produced, spec.interval, parentKeys...)
	case expiryStatic:
		err = f.AddStatic(ctx, partition, key, produced, parentKeys...)
	default:
		err = f.AddTimed(ctx, partition, key, produced, spec.utcExpiry, parentKeys...)
	}

	if err != nil {
		var zero T

		return zero, err
	}

	return produced, nil
}
