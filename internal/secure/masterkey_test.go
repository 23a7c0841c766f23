package secure

import (
	"bytes"
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testKeyBytes() []byte {
	raw := make([]byte, KeyLength)
	for i := range raw {
		raw[i] = byte(i)
	}
	return raw
}

func TestMasterKey_RoundTrip(t *testing.T) {
	t.Parallel()

	key, err := NewMasterKey(testKeyBytes())
	require.NoError(t, err)

	locked, err := key.Open()
	require.NoError(t, err)
	defer locked.Destroy()
	assert.True(t, bytes.Equal(testKeyBytes(), locked.Bytes()))
}

func TestNewMasterKey_WrongLength(t *testing.T) {
	t.Parallel()

	_, err := NewMasterKey([]byte("too short"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "32 bytes")
}

func TestNewMasterKeyFromBase64(t *testing.T) {
	t.Parallel()

	encoded := base64.StdEncoding.EncodeToString(testKeyBytes())
	key, err := NewMasterKeyFromBase64(encoded + "\n")
	require.NoError(t, err)

	var got []byte
	require.NoError(t, key.Use(func(raw []byte) error {
		got = append(got, raw...)
		return nil
	}))
	assert.True(t, bytes.Equal(testKeyBytes(), got))

	_, err = NewMasterKeyFromBase64("%%%not-base64%%%")
	require.Error(t, err)
}

func TestMasterKey_DestroyIsTerminal(t *testing.T) {
	t.Parallel()

	key, err := NewMasterKey(testKeyBytes())
	require.NoError(t, err)

	key.Destroy()
	key.Destroy()

	_, err = key.Open()
	require.Error(t, err)
}
