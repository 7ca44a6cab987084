package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strings"
)

// Encryptor provides encryption and decryption for sensitive data.
// Used to encrypt provider OAuth tokens and state blobs before they leave the
// process. Uses AES-256-GCM for authenticated encryption.
type Encryptor interface {
	Encrypt(plaintext []byte) (string, error)
	Decrypt(ciphertext string) ([]byte, error)
}

// algTagV1 identifies the current ciphertext format. New formats (e.g. after a
// key rotation scheme lands) get a new tag; decrypt rejects tags it does not
// know.
const algTagV1 = "v1"

var (
	// ErrInvalidCiphertext is returned when the ciphertext is truncated,
	// malformed, or carries an unknown algorithm tag.
	ErrInvalidCiphertext = errors.New("crypto: invalid ciphertext")

	// ErrDecryptFailed is returned on authentication tag mismatch.
	ErrDecryptFailed = errors.New("crypto: decryption failed")
)

// AESEncryptor implements Encryptor using AES-256-GCM.
type AESEncryptor struct {
	key []byte
}

// NewAESEncryptor creates an AES-256-GCM encryptor.
// The key must be exactly 32 bytes for AES-256.
func NewAESEncryptor(key []byte) (*AESEncryptor, error) {
	if len(key) != 32 {
		return nil, fmt.Errorf("encryption key must be 32 bytes for AES-256, got %d", len(key))
	}
	return &AESEncryptor{key: key}, nil
}

// Encrypt seals plaintext with a fresh random nonce. The output format is
// "v1:<base64 nonce>:<base64 ciphertext+tag>" so each part decodes
// independently.
func (e *AESEncryptor) Encrypt(plaintext []byte) (string, error) {
	block, err := aes.NewCipher(e.key)
	if err != nil {
		return "", fmt.Errorf("failed to create cipher: %w", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", fmt.Errorf("failed to create GCM: %w", err)
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}

	sealed := gcm.Seal(nil, nonce, plaintext, nil)

	return algTagV1 + ":" +
		base64.StdEncoding.EncodeToString(nonce) + ":" +
		base64.StdEncoding.EncodeToString(sealed), nil
}

// Decrypt opens a ciphertext produced by Encrypt. Fails closed on an unknown
// tag, a truncated payload, or an authentication tag mismatch.
func (e *AESEncryptor) Decrypt(ciphertext string) ([]byte, error) {
	parts := strings.Split(ciphertext, ":")
	if len(parts) != 3 {
		return nil, ErrInvalidCiphertext
	}
	if parts[0] != algTagV1 {
		return nil, fmt.Errorf("%w: unknown algorithm tag %q", ErrInvalidCiphertext, parts[0])
	}

	nonce, err := base64.StdEncoding.DecodeString(parts[1])
	if err != nil {
		return nil, ErrInvalidCiphertext
	}
	sealed, err := base64.StdEncoding.DecodeString(parts[2])
	if err != nil {
		return nil, ErrInvalidCiphertext
	}

	block, err := aes.NewCipher(e.key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}

	if len(nonce) != gcm.NonceSize() || len(sealed) < gcm.Overhead() {
		return nil, ErrInvalidCiphertext
	}

	plaintext, err := gcm.Open(nil, nonce, sealed, nil)
	if err != nil {
		return nil, ErrDecryptFailed
	}

	return plaintext, nil
}

// GenerateKey generates a cryptographically secure 32-byte key for AES-256.
// Use this to generate a new encryption key, then store it securely.
func GenerateKey() ([]byte, error) {
	key := make([]byte, 32)
	if _, err := io.ReadFull(rand.Reader, key); err != nil {
		return nil, fmt.Errorf("failed to generate key: %w", err)
	}
	return key, nil
}

// EncodeKeyBase64 encodes an encryption key as base64 for storage in env vars.
func EncodeKeyBase64(key []byte) string {
	return base64.StdEncoding.EncodeToString(key)
}

// DecodeKeyBase64 decodes a base64-encoded encryption key from env vars.
func DecodeKeyBase64(encodedKey string) ([]byte, error) {
	key, err := base64.StdEncoding.DecodeString(encodedKey)
	if err != nil {
		return nil, fmt.Errorf("failed to decode key: %w", err)
	}
	if len(key) != 32 {
		return nil, fmt.Errorf("invalid key length after base64 decode: got %d, want 32", len(key))
	}
	return key, nil
}
