// Package kvlite implements a durable, partitioned key-value cache engine
// backed by a relational table.
//
// Values are stored under a two-level identity (partition, key) with
// configurable expiration (timed, sliding, or static), cascading
// invalidation through parent keys, pluggable serialization and
// compression, and tamper-evident storage via a metadata hash stamp.
//
// The engine is polymorphic over its collaborators ([Clock],
// [RandomSource], [Serializer], [Compressor], [ConnectionFactory],
// [Logger], [MetricsCollector]): backends are plugged in by supplying
// concrete implementations, not by subclassing. See package
// internal/sqlstore for the SQLite-backed [ConnectionFactory].
package kvlite
