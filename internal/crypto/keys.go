package crypto

import (
	"crypto/sha256"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

// Key purposes. Every subsystem signs with its own subkey so a value minted
// for one purpose never verifies in another.
const (
	PurposeSession   = "nimbus/session"
	PurposeCSRF      = "nimbus/csrf"
	PurposeChallenge = "nimbus/challenge"
)

// DeriveKey expands master into a 32-byte subkey bound to purpose and keyID.
// Rotating keyID changes every derived key.
func DeriveKey(master []byte, keyID, purpose string) ([]byte, error) {
	if len(master) == 0 {
		return nil, fmt.Errorf("master key is empty")
	}
	r := hkdf.New(sha256.New, master, []byte(keyID), []byte(purpose))
	key := make([]byte, 32)
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, fmt.Errorf("deriving %s key: %w", purpose, err)
	}
	return key, nil
}
