package kvlite

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCRC32AntiTamper_RoundTrips(t *testing.T) {
	t.Parallel()

	tamper := CRC32AntiTamper{}
	meta := EntryMetadata{
		Partition:   "p",
		Key:         "k",
		UTCCreation: 1,
		UTCExpiry:   2,
		Interval:    3,
		ParentKeys:  [MaxParentKeyCount]string{"a", "b", "", "", ""},
	}

	buf := new(bytes.Buffer)
	require.NoError(t, tamper.WriteStamp(buf, meta))

	require.NoError(t, tamper.ReadAndVerify(buf, meta))
}

func TestCRC32AntiTamper_DetectsMetadataTamper(t *testing.T) {
	t.Parallel()

	tamper := CRC32AntiTamper{}
	original := EntryMetadata{Partition: "p", Key: "k", UTCExpiry: 100}

	buf := new(bytes.Buffer)
	require.NoError(t, tamper.WriteStamp(buf, original))

	tampered := original
	tampered.UTCExpiry = 999

	err := tamper.ReadAndVerify(buf, tampered)
	require.ErrorIs(t, err, ErrTamperDetected)
}

func TestCRC32AntiTamper_DetectsKeySwap(t *testing.T) {
	t.Parallel()

	tamper := CRC32AntiTamper{}
	a := EntryMetadata{Partition: "p", Key: "a", UTCExpiry: 100}
	b := EntryMetadata{Partition: "p", Key: "b", UTCExpiry: 100}

	buf := new(bytes.Buffer)
	require.NoError(t, tamper.WriteStamp(buf, a))

	err := tamper.ReadAndVerify(buf, b)
	require.ErrorIs(t, err, ErrTamperDetected)
}

func TestCRC32AntiTamper_DistinguishesParentKeyOrder(t *testing.T) {
	t.Parallel()

	tamper := CRC32AntiTamper{}
	first := EntryMetadata{Partition: "p", Key: "k", ParentKeys: [MaxParentKeyCount]string{"a", "b", "", "", ""}}
	swapped := EntryMetadata{Partition: "p", Key: "k", ParentKeys: [MaxParentKeyCount]string{"b", "a", "", "", ""}}

	buf := new(bytes.Buffer)
	require.NoError(t, tamper.WriteStamp(buf, first))

	err := tamper.ReadAndVerify(buf, swapped)
	require.ErrorIs(t, err, ErrTamperDetected)
}

func TestCRC32AntiTamper_ReadAndVerify_ShortInput(t *testing.T) {
	t.Parallel()

	tamper := CRC32AntiTamper{}

	err := tamper.ReadAndVerify(bytes.NewReader([]byte{1, 2}), EntryMetadata{})
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrTamperDetected, "a truncated stamp is an I/O error, not a detected tamper")
}
