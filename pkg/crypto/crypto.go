// Package crypto seals chat text between clients that share a passphrase.
// The server relays sealed text as opaque bytes and never holds a key.
package crypto

import (
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/chacha20poly1305"
)

var (
	ErrInvalidCiphertext = errors.New("crypto: invalid ciphertext")
	ErrDecryptionFailed  = errors.New("crypto: decryption failed")
	ErrEmptyPassphrase   = errors.New("crypto: empty passphrase")
)

// DefaultSalt is used by clients that derive a key from a passphrase alone.
// Every client in a conversation must use the same salt.
var DefaultSalt = []byte("roomchat/secure-text/v1")

// DeriveKey stretches a passphrase into a chacha20poly1305 key with Argon2id.
func DeriveKey(passphrase string, salt []byte) ([]byte, error) {
	if passphrase == "" {
		return nil, ErrEmptyPassphrase
	}
	return argon2.IDKey([]byte(passphrase), salt, 1, 64*1024, 4, chacha20poly1305.KeySize), nil
}

// TextCipher seals UTF-8 text into base64 strings safe to send as a chat line.
// Sealed form: base64(nonce(24) | ciphertext | tag(16)).
type TextCipher struct {
	aead cipher.AEAD
}

// NewTextCipher creates an XChaCha20-Poly1305 cipher from a 32-byte key.
func NewTextCipher(key []byte) (*TextCipher, error) {
	if len(key) != chacha20poly1305.KeySize {
		return nil, fmt.Errorf("crypto: invalid key length: expected %d, got %d", chacha20poly1305.KeySize, len(key))
	}
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("crypto: new cipher: %w", err)
	}
	return &TextCipher{aead: aead}, nil
}

// NewTextCipherFromPassphrase derives the key with DefaultSalt.
func NewTextCipherFromPassphrase(passphrase string) (*TextCipher, error) {
	key, err := DeriveKey(passphrase, DefaultSalt)
	if err != nil {
		return nil, err
	}
	return NewTextCipher(key)
}

// Seal encrypts text under a fresh random nonce.
func (tc *TextCipher) Seal(text string) (string, error) {
	nonce := make([]byte, tc.aead.NonceSize(), tc.aead.NonceSize()+len(text)+tc.aead.Overhead())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("crypto: generate nonce: %w", err)
	}
	sealed := tc.aead.Seal(nonce, nonce, []byte(text), nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// Open reverses Seal.
func (tc *TextCipher) Open(sealed string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(sealed)
	if err != nil {
		return "", ErrInvalidCiphertext
	}
	ns := tc.aead.NonceSize()
	if len(raw) < ns+tc.aead.Overhead() {
		return "", ErrInvalidCiphertext
	}
	plain, err := tc.aead.Open(nil, raw[:ns], raw[ns:], nil)
	if err != nil {
		return "", ErrDecryptionFailed
	}
	return string(plain), nil
}
