package ledger

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/hex"
	"io"

	"github.com/pkg/errors"
)

// FileCipher encrypts payloads before they leave the platform for the
// ledger file service, AES-256-GCM with a random nonce per payload.
type FileCipher struct {
	aead cipher.AEAD
}

// NewFileCipher builds a cipher from a hex-encoded 32-byte key.
// An empty key returns ErrEncryptionKeyMissing.
func NewFileCipher(hexKey string) (*FileCipher, error) {
	if hexKey == "" {
		return nil, ErrEncryptionKeyMissing
	}
	key, err := hex.DecodeString(hexKey)
	if err != nil {
		return nil, errors.Wrap(err, "invalid encryption key encoding")
	}
	if len(key) != 32 {
		return nil, errors.Errorf("encryption key must be 32 bytes, got %d", len(key))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, errors.Wrap(err, "failed to initialize cipher")
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, errors.Wrap(err, "failed to initialize GCM")
	}
	return &FileCipher{aead: aead}, nil
}

// Encrypt seals plaintext, prepending the nonce to the ciphertext
func (c *FileCipher) Encrypt(plaintext []byte) ([]byte, error) {
	nonce := make([]byte, c.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, errors.Wrap(err, "failed to generate nonce")
	}
	return c.aead.Seal(nonce, nonce, plaintext, nil), nil
}

// Decrypt opens a payload produced by Encrypt
func (c *FileCipher) Decrypt(payload []byte) ([]byte, error) {
	if len(payload) < c.aead.NonceSize() {
		return nil, errors.New("payload shorter than nonce")
	}
	nonce, ciphertext := payload[:c.aead.NonceSize()], payload[c.aead.NonceSize():]
	plaintext, err := c.aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, errors.Wrap(err, "failed to decrypt payload")
	}
	return plaintext, nil
}
