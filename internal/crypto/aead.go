// Package crypto implements the AES-256-GCM primitive used for master keys and data keys.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"fmt"
	"io"

	"github.com/devnik/vaultcam/internal/errs"
)

// Params
const (
	KeySize   = 32
	NonceSize = 12
	TagSize   = 16
)

// AEAD encrypts and decrypts with associated data.
// Implementations must be safe for concurrent use.
type AEAD interface {
	// Encrypt seals plaintext bound to associatedData with a fresh random nonce.
	Encrypt(plaintext, associatedData []byte) ([]byte, error)
	// Decrypt opens ciphertext produced by Encrypt with the same associatedData.
	Decrypt(ciphertext, associatedData []byte) ([]byte, error)
}

// RandBytes returns n cryptographically secure random bytes.
func RandBytes(n int) ([]byte, error) {
	b := make([]byte, n)
	if _, err := io.ReadFull(rand.Reader, b); err != nil {
		return nil, err
	}
	return b, nil
}

// AESGCM is an AEAD over a single 256-bit key. Output layout: nonce||ciphertext||tag.
type AESGCM struct {
	gcm cipher.AEAD
}

var _ AEAD = (*AESGCM)(nil)

// NewAESGCM creates the primitive. The key is copied into the cipher schedule,
// so callers may wipe it afterwards.
func NewAESGCM(key []byte) (*AESGCM, error) {
	if len(key) != KeySize {
		return nil, fmt.Errorf("invalid key size: got %d, want %d", len(key), KeySize)
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("aes: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("gcm: %w", err)
	}
	return &AESGCM{gcm: gcm}, nil
}

// Encrypt seals plaintext with a random 96-bit nonce.
func (a *AESGCM) Encrypt(plaintext, associatedData []byte) ([]byte, error) {
	nonce, err := RandBytes(NonceSize)
	if err != nil {
		return nil, fmt.Errorf("nonce: %w", err)
	}
	out := make([]byte, 0, NonceSize+len(plaintext)+TagSize)
	out = append(out, nonce...)
	return a.gcm.Seal(out, nonce, plaintext, associatedData), nil
}

// Decrypt opens nonce||ciphertext||tag. Any failure is reported as errs.ErrAuthFailed.
func (a *AESGCM) Decrypt(ciphertext, associatedData []byte) ([]byte, error) {
	if len(ciphertext) < NonceSize+TagSize {
		return nil, fmt.Errorf("ciphertext too short: %w", errs.ErrAuthFailed)
	}
	pt, err := a.gcm.Open(nil, ciphertext[:NonceSize], ciphertext[NonceSize:], associatedData)
	if err != nil {
		return nil, errs.ErrAuthFailed
	}
	return pt, nil
}
