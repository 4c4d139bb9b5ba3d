package crypto

import (
	"crypto/cipher"
	"encoding/base64"
	"errors"
	"fmt"

	"golang.org/x/crypto/chacha20poly1305"
)

// ErrUnseal is returned when a sealed value cannot be opened
var ErrUnseal = errors.New("cannot open sealed value")

// maxSealedLen bounds attacker-controlled input before decoding
const maxSealedLen = 8192

// Sealer encrypts and authenticates small values (cookie payloads) with
// XChaCha20-Poly1305. The output is unpadded base64url of nonce||ciphertext.
type Sealer struct {
	aead cipher.AEAD
}

// NewSealer creates a sealer from a 32-byte key
func NewSealer(key []byte) (*Sealer, error) {
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("creating aead: %w", err)
	}
	return &Sealer{aead: aead}, nil
}

// Seal encrypts plaintext, binding it to aad (e.g. the cookie name)
func (s *Sealer) Seal(plaintext, aad []byte) (string, error) {
	nonce, err := GenerateRandomBytes(s.aead.NonceSize())
	if err != nil {
		return "", err
	}
	out := s.aead.Seal(nonce, nonce, plaintext, aad)
	return base64.RawURLEncoding.EncodeToString(out), nil
}

// Open decrypts a value produced by Seal with the same aad
func (s *Sealer) Open(sealed string, aad []byte) ([]byte, error) {
	if len(sealed) == 0 || len(sealed) > maxSealedLen {
		return nil, ErrUnseal
	}
	raw, err := base64.RawURLEncoding.DecodeString(sealed)
	if err != nil {
		return nil, ErrUnseal
	}
	ns := s.aead.NonceSize()
	if len(raw) < ns+s.aead.Overhead() {
		return nil, ErrUnseal
	}
	plain, err := s.aead.Open(nil, raw[:ns], raw[ns:], aad)
	if err != nil {
		return nil, ErrUnseal
	}
	return plain, nil
}
