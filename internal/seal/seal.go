package seal

import (
	"crypto/rand"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/chacha20poly1305"
)

// KeySize is the size in bytes of a per-file key.
const KeySize = chacha20poly1305.KeySize

// NonceSize is the size of the random nonce prepended to every sealed chunk.
const NonceSize = chacha20poly1305.NonceSizeX

// Overhead is the number of bytes a sealed chunk adds to its plaintext:
// 24 (XChaCha20-Poly1305 nonce) + 16 (Poly1305 tag).
const Overhead = NonceSize + chacha20poly1305.Overhead

var (
	// ErrDecrypt is returned when a chunk fails authentication.
	ErrDecrypt = errors.New("decryption failed")

	ErrInvalidKey = errors.New("invalid key")
)

// Cipher seals and opens chunks under one symmetric key.
type Cipher struct {
	key []byte
}

// GenerateKey creates a Cipher with a fresh random key.
func GenerateKey() (*Cipher, error) {
	key := make([]byte, KeySize)
	if _, err := io.ReadFull(rand.Reader, key); err != nil {
		return nil, fmt.Errorf("generating key: %w", err)
	}
	return &Cipher{key: key}, nil
}

// ImportKey creates a Cipher from raw key bytes exported by a peer.
func ImportKey(raw []byte) (*Cipher, error) {
	if len(raw) != KeySize {
		return nil, fmt.Errorf("%w: got %d bytes, want %d", ErrInvalidKey, len(raw), KeySize)
	}
	key := make([]byte, KeySize)
	copy(key, raw)
	return &Cipher{key: key}, nil
}

// Export returns a copy of the raw key.
func (c *Cipher) Export() []byte {
	out := make([]byte, len(c.key))
	copy(out, c.key)
	return out
}

// Encrypt returns nonce ++ ciphertext for plaintext, using a fresh nonce on
// every call.
func (c *Cipher) Encrypt(plaintext []byte) ([]byte, error) {
	aead, err := chacha20poly1305.NewX(c.key)
	if err != nil {
		return nil, fmt.Errorf("creating XChaCha20-Poly1305 cipher: %w", err)
	}

	output := make([]byte, NonceSize, NonceSize+len(plaintext)+aead.Overhead())
	if _, err := io.ReadFull(rand.Reader, output); err != nil {
		return nil, fmt.Errorf("generating nonce: %w", err)
	}

	return aead.Seal(output, output[:NonceSize], plaintext, nil), nil
}

// Decrypt opens a chunk produced by Encrypt. Any authentication failure,
// including a truncated chunk, yields ErrDecrypt.
func (c *Cipher) Decrypt(sealed []byte) ([]byte, error) {
	if len(sealed) < Overhead {
		return nil, fmt.Errorf("%w: chunk is %d bytes, minimum is %d", ErrDecrypt, len(sealed), Overhead)
	}

	aead, err := chacha20poly1305.NewX(c.key)
	if err != nil {
		return nil, fmt.Errorf("creating XChaCha20-Poly1305 cipher: %w", err)
	}

	plaintext, err := aead.Open(nil, sealed[:NonceSize], sealed[NonceSize:], nil)
	if err != nil {
		return nil, ErrDecrypt
	}
	return plaintext, nil
}
