package kvlite

import (
	"bytes"
	"fmt"
	"io"

	"github.com/vmihailenco/msgpack/v5"
)

// Serializer is the bidirectional value <-> byte-stream codec (spec §4.3).
// The encoding must round-trip common aggregate shapes (ordered sequences,
// sets, mappings, tuples, nested records, byte arrays, integers, finite
// floats, and Unicode strings) but is not required to be canonical or
// stable across serializer versions: the anti-tamper hash is computed over
// metadata only, never over the serialized bytes.
type Serializer interface {
	// WriteValue appends a self-describing encoding of value to w.
	WriteValue(w io.Writer, value any) error

	// ReadValue consumes a self-describing encoding from r into out, which
	// must be a pointer. It returns ErrInvalidValue wrapping the underlying cause on
	// malformed input or type incompatibility.
	ReadValue(r io.Reader, out any) error
}

// MsgpackSerializer is the default Serializer, backed by
// github.com/vmihailenco/msgpack/v5. MessagePack already self-describes
// maps, slices, nested structs, byte strings, integers, floats, and
// Unicode text, which covers every aggregate shape spec §4.3 requires
// without hand-rolling a wire format.
type MsgpackSerializer struct{}

// WriteValue implements Serializer.
func (MsgpackSerializer) WriteValue(w io.Writer, value any) error {
	enc := msgpack.NewEncoder(w)

	err := enc.Encode(value)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidValue, err)
	}

	return nil
}

// ReadValue implements Serializer.
func (MsgpackSerializer) ReadValue(r io.Reader, out any) error {
	dec := msgpack.NewDecoder(r)

	err := dec.Decode(out)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidValue, err)
	}

	return nil
}

// encodeValue is a convenience wrapper used by the engine to serialize into
// a fresh buffer, so the buffer length can be measured against
// MinValueLengthForCompression before deciding whether to compress.
func encodeValue(s Serializer, value any) (*bytes.Buffer, error) {
	buf := new(bytes.Buffer)

	err := s.WriteValue(buf, value)
	if err != nil {
		return nil, err
	}

	return buf, nil
}
