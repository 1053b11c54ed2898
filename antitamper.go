package kvlite

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"io"
)

// stampSize is the width of the anti-tamper prefix: a 32-bit CRC32C hash.
// Mirrors the footer-checksum framing the teacher's WAL commit path uses
// (encodeFooter in the teacher's transaction code): a fixed-width
// little-endian checksum prefix around a variable-length body.
const stampSize = 4

var tamperCRCTable = crc32.MakeTable(crc32.Castagnoli)

// AntiTamper computes and verifies a 32-bit hash stamp over an entry's
// identity metadata (spec §4.5). The hash is deliberately computed over
// metadata — partition, key, utc_creation, utc_expiry, interval, and
// parent keys — never over the serialized payload bytes, so the engine can
// detect identity forgery (row resurrection, key swap) without forcing a
// canonical serializer.
type AntiTamper interface {
	// WriteStamp writes the 4-byte hash prefix for metadata to w.
	WriteStamp(w io.Writer, metadata EntryMetadata) error

	// ReadAndVerify reads the 4-byte prefix from r and compares it against
	// the hash recomputed from metadata. It returns ErrTamperDetected on
	// mismatch.
	ReadAndVerify(r io.Reader, metadata EntryMetadata) error
}

// CRC32AntiTamper is the default AntiTamper.
type CRC32AntiTamper struct{}

func metadataDigest(metadata EntryMetadata) uint32 {
	buf := new(bytes.Buffer)

	buf.WriteString(metadata.Partition)
	buf.WriteByte(0)
	buf.WriteString(metadata.Key)
	buf.WriteByte(0)

	var scratch [8]byte
	binary.LittleEndian.PutUint64(scratch[:], uint64(metadata.UTCCreation))
	buf.Write(scratch[:])
	binary.LittleEndian.PutUint64(scratch[:], uint64(metadata.UTCExpiry))
	buf.Write(scratch[:])
	binary.LittleEndian.PutUint64(scratch[:], uint64(metadata.Interval))
	buf.Write(scratch[:])

	for _, k := range metadata.ParentKeys {
		buf.WriteString(k)
		buf.WriteByte(0)
	}

	return crc32.Checksum(buf.Bytes(), tamperCRCTable)
}

// WriteStamp implements AntiTamper.
func (CRC32AntiTamper) WriteStamp(w io.Writer, metadata EntryMetadata) error {
	var prefix [stampSize]byte

	binary.LittleEndian.PutUint32(prefix[:], metadataDigest(metadata))

	_, err := w.Write(prefix[:])
	if err != nil {
		return fmt.Errorf("write anti-tamper stamp: %w", err)
	}

	return nil
}

// ReadAndVerify implements AntiTamper.
func (CRC32AntiTamper) ReadAndVerify(r io.Reader, metadata EntryMetadata) error {
	var prefix [stampSize]byte

	_, err := io.ReadFull(r, prefix[:])
	if err != nil {
		return fmt.Errorf("read anti-tamper stamp: %w", err)
	}

	got := binary.LittleEndian.Uint32(prefix[:])
	want := metadataDigest(metadata)

	if got != want {
		return fmt.Errorf("%w: stamp %08x, expected %08x", ErrTamperDetected, got, want)
	}

	return nil
}
