// Package crypto encrypts credential values at rest and generates webhook
// secrets.
//
// Values are sealed with AES-256-GCM under a key derived from
// CONFIG_ENCRYPTION_KEY with PBKDF2. Sealed values carry the "enc:v1:" prefix,
// so rows written in plaintext by other tools are still readable.
//
//	c, err := crypto.NewTokenCipher(os.Getenv("CONFIG_ENCRYPTION_KEY"))
//	sealed, err := c.Encrypt(accessToken)
//	plain, err := c.Decrypt(sealed)
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"io"
	"strings"

	"golang.org/x/crypto/pbkdf2"

	"area-engine/internal/common/errors"
)

const (
	sealedPrefix     = "enc:v1:"
	pbkdf2Iterations = 10000
)

var keySalt = []byte("area-engine-token-salt")

// TokenCipher seals and opens credential values. Safe for concurrent use.
type TokenCipher struct {
	aead cipher.AEAD
}

// NewTokenCipher derives a 32-byte key from passphrase.
func NewTokenCipher(passphrase string) (*TokenCipher, error) {
	if passphrase == "" {
		return nil, errors.ValidationError("encryption key cannot be empty")
	}

	key := pbkdf2.Key([]byte(passphrase), keySalt, pbkdf2Iterations, 32, sha256.New)
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, errors.InternalError("failed to create cipher", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, errors.InternalError("failed to create GCM", err)
	}
	return &TokenCipher{aead: aead}, nil
}

// Encrypt seals plaintext. Empty input stays empty.
func (c *TokenCipher) Encrypt(plaintext string) (string, error) {
	if plaintext == "" {
		return "", nil
	}

	nonce := make([]byte, c.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", errors.InternalError("failed to create nonce", err)
	}
	sealed := c.aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return sealedPrefix + base64.StdEncoding.EncodeToString(sealed), nil
}

// Decrypt opens a value produced by Encrypt. Values without the sealed prefix
// are returned unchanged.
func (c *TokenCipher) Decrypt(value string) (string, error) {
	if !IsSealed(value) {
		return value, nil
	}

	data, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(value, sealedPrefix))
	if err != nil {
		return "", errors.InternalError("failed to decode sealed value", err)
	}
	nonceSize := c.aead.NonceSize()
	if len(data) < nonceSize {
		return "", errors.ValidationError("sealed value too short")
	}

	plaintext, err := c.aead.Open(nil, data[:nonceSize], data[nonceSize:], nil)
	if err != nil {
		return "", errors.InternalError("failed to decrypt", err)
	}
	return string(plaintext), nil
}

// IsSealed reports whether value was produced by Encrypt.
func IsSealed(value string) bool {
	return strings.HasPrefix(value, sealedPrefix)
}

// RandomHex returns n random bytes hex-encoded.
func RandomHex(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", errors.InternalError("failed to read random bytes", err)
	}
	return hex.EncodeToString(buf), nil
}
