package kvlite

import "errors"

// Sentinel errors classifying the taxonomy the cache engine propagates.
//
// Callers MUST classify errors using errors.Is; internals wrap these with
// additional context via fmt.Errorf("...: %w", err).
var (
	// ErrInvalidArgument reports a nil/empty partition or key, a parent-key
	// count above MaxParentKeyCount, a negative interval, or an
	// out-of-range config value. Always propagated synchronously.
	ErrInvalidArgument = errors.New("kvlite: invalid argument")

	// ErrInvalidValue reports that the Serializer rejected a value on
	// write. Never returned from reads; a read that fails to deserialize
	// removes the row and reports absent instead.
	ErrInvalidValue = errors.New("kvlite: invalid value")

	// ErrTamperDetected classifies an anti-tamper hash mismatch on read.
	// The facade never returns it directly: it logs a warning, removes
	// the offending row best-effort, and reports the read as absent. The
	// sentinel exists so internals and tests can assert on the
	// classification with errors.Is.
	ErrTamperDetected = errors.New("kvlite: tamper detected")

	// ErrStorageFailure reports a database error that survived
	// RetryExecutor's retry budget. Propagated from writes, deletes, and
	// clears; reads translate it to an absent result and record LastError.
	ErrStorageFailure = errors.New("kvlite: storage failure")

	// ErrDisposed reports an operation against a closed Cache.
	ErrDisposed = errors.New("kvlite: disposed")

	// ErrNotSupported reports an operation not meaningful for the backend
	// in use, e.g. Peek against a ConnectionFactory with CanPeek() == false.
	ErrNotSupported = errors.New("kvlite: not supported")
)
