package engine

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"

	"golang.org/x/crypto/blake2b"
)

const secretBytes = 32

type digest [blake2b.Size256]byte

func digestOf(secret string) digest {
	return blake2b.Sum256([]byte(secret))
}

func (d digest) matches(secret string) bool {
	if secret == "" {
		return false
	}
	got := digestOf(secret)
	return subtle.ConstantTimeCompare(d[:], got[:]) == 1
}

// NewSecret returns a fresh, unguessable slot credential.
func NewSecret() (string, error) {
	b := make([]byte, secretBytes)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// tests stub this to get predictable secrets
var newSecret = NewSecret
