package auth

import (
	"crypto/rand"
	"io"

	"github.com/flurbudurbur/Gramsight/pkg/errors"
	"golang.org/x/crypto/nacl/secretbox"
)

const nonceSize = 24

var ErrSealedSession = errors.New("stored session could not be opened")

// Sealer encrypts social network sessions before they are stored.
type Sealer struct {
	key [keySize]byte
}

func NewSealer(secret string) (*Sealer, error) {
	key, err := deriveKey(secret, "session")
	if err != nil {
		return nil, err
	}
	return &Sealer{key: key}, nil
}

// Seal returns nonce || box.
func (s *Sealer) Seal(session []byte) ([]byte, error) {
	var nonce [nonceSize]byte
	if _, err := io.ReadFull(rand.Reader, nonce[:]); err != nil {
		return nil, errors.Wrap(err, "could not generate nonce")
	}
	return secretbox.Seal(nonce[:], session, &nonce, &s.key), nil
}

func (s *Sealer) Open(sealed []byte) ([]byte, error) {
	if len(sealed) < nonceSize+secretbox.Overhead {
		return nil, ErrSealedSession
	}
	var nonce [nonceSize]byte
	copy(nonce[:], sealed[:nonceSize])

	out, ok := secretbox.Open(nil, sealed[nonceSize:], &nonce, &s.key)
	if !ok {
		return nil, ErrSealedSession
	}
	return out, nil
}
