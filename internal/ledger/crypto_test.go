package ledger

import (
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/require"
)

func testKey() string {
	return hex.EncodeToString(make([]byte, 32))
}

func TestFileCipherRoundTrip(t *testing.T) {
	cipher, err := NewFileCipher(testKey())
	require.NoError(t, err)

	plaintext := []byte(`{"hash":"abc","algorithm":"sha256"}`)
	sealed, err := cipher.Encrypt(plaintext)
	require.NoError(t, err)
	require.NotEqual(t, plaintext, sealed)

	opened, err := cipher.Decrypt(sealed)
	require.NoError(t, err)
	require.Equal(t, plaintext, opened)
}

func TestFileCipherDetectsTampering(t *testing.T) {
	cipher, err := NewFileCipher(testKey())
	require.NoError(t, err)

	sealed, err := cipher.Encrypt([]byte("certificate"))
	require.NoError(t, err)

	sealed[len(sealed)-1] ^= 0x01
	_, err = cipher.Decrypt(sealed)
	require.Error(t, err)
}

func TestFileCipherMissingKey(t *testing.T) {
	_, err := NewFileCipher("")
	require.ErrorIs(t, err, ErrEncryptionKeyMissing)
}

func TestFileCipherWrongKeyLength(t *testing.T) {
	_, err := NewFileCipher(hex.EncodeToString(make([]byte, 16)))
	require.Error(t, err)
}
