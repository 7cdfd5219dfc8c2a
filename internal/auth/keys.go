package auth

import (
	"crypto/sha256"
	"io"

	"github.com/flurbudurbur/Gramsight/pkg/errors"
	"golang.org/x/crypto/hkdf"
)

const keySize = 32

// deriveKey expands the configured session secret into an independent key
// per purpose.
func deriveKey(secret, purpose string) ([keySize]byte, error) {
	var key [keySize]byte
	if secret == "" {
		return key, errors.New("session_secret is not configured")
	}
	r := hkdf.New(sha256.New, []byte(secret), nil, []byte("gramsight:"+purpose))
	if _, err := io.ReadFull(r, key[:]); err != nil {
		return key, errors.Wrap(err, "could not derive %s key", purpose)
	}
	return key, nil
}
