package kvlite

import "fmt"

// MaxParentKeyCount is the fixed maximum number of parent keys an entry may
// declare (spec §3, §6: "max_parent_key_count_per_item — fixed at 5").
const MaxParentKeyCount = 5

// ExpiryMode selects how Clear and Count treat expiry when scoping rows.
type ExpiryMode int

const (
	// ConsiderExpiry restricts an operation to rows already expired
	// (utc_expiry < now). Used by soft cleanup.
	ConsiderExpiry ExpiryMode = iota
	// IgnoreExpiry matches every row regardless of expiry. Used by hard
	// cleanup and by administrative counts.
	IgnoreExpiry
)

// String implements fmt.Stringer for log fields.
func (m ExpiryMode) String() string {
	switch m {
	case ConsiderExpiry:
		return "consider_expiry"
	case IgnoreExpiry:
		return "ignore_expiry"
	default:
		return fmt.Sprintf("ExpiryMode(%d)", int(m))
	}
}

// EntryMetadata is the fixed identity tuple the AntiTamper hash is computed
// over: (partition, key, utc_creation, utc_expiry, interval, parent_keys).
// It deliberately excludes the payload bytes (see antitamper.go).
type EntryMetadata struct {
	Partition   string
	Key         string
	UTCCreation int64
	UTCExpiry   int64
	Interval    int64
	ParentKeys  [MaxParentKeyCount]string // "" marks an unused slot
}

// StoredRow is the full on-disk representation of a CacheEntry, as moved
// between the StorageEngine and a ConnectionFactory. Unlike EntryMetadata it
// carries the opaque payload bytes and the compression flag.
type StoredRow struct {
	Partition   string
	Key         string
	UTCCreation int64
	UTCExpiry   int64
	Interval    int64
	Payload     []byte
	Compressed  bool
	ParentKeys  [MaxParentKeyCount]string
}

// Metadata extracts the EntryMetadata subset of a StoredRow.
func (r StoredRow) Metadata() EntryMetadata {
	return EntryMetadata{
		Partition:   r.Partition,
		Key:         r.Key,
		UTCCreation: r.UTCCreation,
		UTCExpiry:   r.UTCExpiry,
		Interval:    r.Interval,
		ParentKeys:  r.ParentKeys,
	}
}

// IsLive reports whether the row is live (not expired) at time t, per the
// lifetime semantics in spec §3: "live at time t iff t <= utc_expiry".
func (r StoredRow) IsLive(t int64) bool {
	return t <= r.UTCExpiry
}

// ParentKeySlice returns the populated prefix of ParentKeys, in
// ascending-populated order (invariant I3: no holes).
func (m EntryMetadata) ParentKeySlice() []string {
	out := make([]string, 0, MaxParentKeyCount)

	for _, k := range m.ParentKeys {
		if k == "" {
			break
		}

		out = append(out, k)
	}

	return out
}

// parentKeyArray packs a slice of at most MaxParentKeyCount keys into the
// fixed ascending-populated array, validating invariant I3's count bound.
func parentKeyArray(keys []string) ([MaxParentKeyCount]string, error) {
	var arr [MaxParentKeyCount]string

	if len(keys) > MaxParentKeyCount {
		return arr, fmt.Errorf("%w: %d parent keys exceeds max %d", ErrInvalidArgument, len(keys), MaxParentKeyCount)
	}

	for i, k := range keys {
		if k == "" {
			return arr, fmt.Errorf("%w: parent key %d is empty", ErrInvalidArgument, i)
		}

		arr[i] = k
	}

	return arr, nil
}

// CacheEntry is the public, decoded view of a stored item returned by
// PeekItem/GetItem: metadata without the opaque payload bytes.
type CacheEntry struct {
	Partition   string
	Key         string
	UTCCreation int64
	UTCExpiry   int64
	Interval    int64
	ParentKeys  []string
}

func entryFromMetadata(m EntryMetadata) CacheEntry {
	return CacheEntry{
		Partition:   m.Partition,
		Key:         m.Key,
		UTCCreation: m.UTCCreation,
		UTCExpiry:   m.UTCExpiry,
		Interval:    m.Interval,
		ParentKeys:  m.ParentKeySlice(),
	}
}
