package crypto

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/crypto/scrypt"
)

// scrypt parameters. Changing any of these invalidates every stored hash.
const (
	saltLen = 16
	keyLen  = 64
	scryptN = 16384
	scryptR = 8
	scryptP = 1
)

// ErrMalformedHash is returned by ParseHash when a stored hash is not salt:hash.
var ErrMalformedHash = errors.New("malformed password hash")

// HashPassword derives a storable hash of the form "salt:hex(key)".
// A fresh salt is drawn on every call.
func HashPassword(password string) (string, error) {
	raw := make([]byte, saltLen)
	if _, err := io.ReadFull(rand.Reader, raw); err != nil {
		return "", fmt.Errorf("generating salt: %w", err)
	}
	salt := hex.EncodeToString(raw)
	key, err := deriveKey(password, salt)
	if err != nil {
		return "", err
	}
	return salt + ":" + hex.EncodeToString(key), nil
}

// VerifyPassword reports whether password matches stored. Malformed hashes
// never match.
func VerifyPassword(password, stored string) bool {
	salt, want, err := ParseHash(stored)
	if err != nil {
		return false
	}
	got, err := deriveKey(password, salt)
	if err != nil {
		return false
	}
	return subtle.ConstantTimeCompare(got, want) == 1
}

// ParseHash splits stored on its first ':' and decodes the key part.
func ParseHash(stored string) (salt string, key []byte, err error) {
	salt, encoded, ok := strings.Cut(stored, ":")
	if !ok || salt == "" || encoded == "" {
		return "", nil, ErrMalformedHash
	}
	key, err = hex.DecodeString(encoded)
	if err != nil {
		return "", nil, fmt.Errorf("%w: %v", ErrMalformedHash, err)
	}
	return salt, key, nil
}

func deriveKey(password, salt string) ([]byte, error) {
	key, err := scrypt.Key([]byte(password), []byte(salt), scryptN, scryptR, scryptP, keyLen)
	if err != nil {
		return nil, fmt.Errorf("deriving key: %w", err)
	}
	return key, nil
}
