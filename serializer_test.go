package kvlite

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type serializerFixture struct {
	Name   string
	Count  int
	Tags   []string
	Nested map[string]int
}

func TestMsgpackSerializer_RoundTripsStructs(t *testing.T) {
	t.Parallel()

	s := MsgpackSerializer{}

	in := serializerFixture{
		Name:   "café",
		Count:  42,
		Tags:   []string{"a", "b", "c"},
		Nested: map[string]int{"x": 1, "y": 2},
	}

	buf := new(bytes.Buffer)
	require.NoError(t, s.WriteValue(buf, in))

	var out serializerFixture
	require.NoError(t, s.ReadValue(buf, &out))

	assert.Equal(t, in, out)
}

func TestMsgpackSerializer_RoundTripsScalarsAndBytes(t *testing.T) {
	t.Parallel()

	s := MsgpackSerializer{}

	tests := []any{
		"plain string",
		42,
		3.14159,
		[]byte{0x00, 0x01, 0xff},
		true,
	}

	for _, value := range tests {
		buf := new(bytes.Buffer)
		require.NoError(t, s.WriteValue(buf, value))

		switch value.(type) {
		case string:
			var out string
			require.NoError(t, s.ReadValue(buf, &out))
			assert.Equal(t, value, out)
		case int:
			var out int
			require.NoError(t, s.ReadValue(buf, &out))
			assert.Equal(t, value, out)
		case float64:
			var out float64
			require.NoError(t, s.ReadValue(buf, &out))
			assert.Equal(t, value, out)
		case []byte:
			var out []byte
			require.NoError(t, s.ReadValue(buf, &out))
			assert.Equal(t, value, out)
		case bool:
			var out bool
			require.NoError(t, s.ReadValue(buf, &out))
			assert.Equal(t, value, out)
		}
	}
}

func TestMsgpackSerializer_ReadValue_MalformedInput(t *testing.T) {
	t.Parallel()

	s := MsgpackSerializer{}

	var out string

	err := s.ReadValue(bytes.NewReader([]byte{0xff, 0xff, 0xff}), &out)
	require.ErrorIs(t, err, ErrInvalidValue)
}

func TestEncodeValue_ProducesDecodableBuffer(t *testing.T) {
	t.Parallel()

	s := MsgpackSerializer{}

	buf, err := encodeValue(s, "hello")
	require.NoError(t, err)

	var out string
	require.NoError(t, s.ReadValue(buf, &out))
	assert.Equal(t, "hello", out)
}
