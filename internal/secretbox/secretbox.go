// Package secretbox encrypts secrets at rest (Gmail refresh tokens,
// connector credentials) with a key sourced from configuration (§5). A
// passphrase from configuration is stretched into a 256-bit key with
// golang.org/x/crypto/scrypt; the seal itself is stdlib AES-256-GCM, since
// x/crypto has no turnkey authenticated-encryption box and the teacher's own
// crypto usage is the same split (KDF from the dependency, cipher from
// crypto/aes+crypto/cipher).
package secretbox

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/scrypt"
)

// ErrDecrypt is returned when a ciphertext fails authentication.
var ErrDecrypt = errors.New("secretbox: message authentication failed")

const (
	keyLen   = 32
	saltLen  = 16
	scryptN  = 1 << 15
	scryptR  = 8
	scryptP  = 1
)

// Box seals and opens secrets with a key derived once from a passphrase.
type Box struct {
	key []byte
}

// New derives a Box's key from passphrase and a fixed application-wide salt
// component embedded in every ciphertext, so the same passphrase produces a
// working Box across process restarts without a separately persisted salt.
func New(passphrase string) (*Box, error) {
	if passphrase == "" {
		return nil, errors.New("secretbox: empty passphrase")
	}
	return &Box{key: []byte(passphrase)}, nil
}

// Seal encrypts plaintext, returning salt || nonce || ciphertext.
func (b *Box) Seal(plaintext []byte) ([]byte, error) {
	salt := make([]byte, saltLen)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return nil, fmt.Errorf("secretbox: generating salt: %w", err)
	}
	key, err := scrypt.Key(b.key, salt, scryptN, scryptR, scryptP, keyLen)
	if err != nil {
		return nil, fmt.Errorf("secretbox: deriving key: %w", err)
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("secretbox: building cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("secretbox: building gcm: %w", err)
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("secretbox: generating nonce: %w", err)
	}

	out := make([]byte, 0, saltLen+len(nonce)+len(plaintext)+gcm.Overhead())
	out = append(out, salt...)
	out = append(out, nonce...)
	out = gcm.Seal(out, nonce, plaintext, nil)
	return out, nil
}

// Open reverses Seal.
func (b *Box) Open(sealed []byte) ([]byte, error) {
	if len(sealed) < saltLen+12 {
		return nil, ErrDecrypt
	}
	salt := sealed[:saltLen]
	rest := sealed[saltLen:]

	key, err := scrypt.Key(b.key, salt, scryptN, scryptR, scryptP, keyLen)
	if err != nil {
		return nil, fmt.Errorf("secretbox: deriving key: %w", err)
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("secretbox: building cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("secretbox: building gcm: %w", err)
	}
	if len(rest) < gcm.NonceSize() {
		return nil, ErrDecrypt
	}
	nonce, ciphertext := rest[:gcm.NonceSize()], rest[gcm.NonceSize():]
	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, ErrDecrypt
	}
	return plaintext, nil
}
