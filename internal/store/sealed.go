package store

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"time"

	"golang.org/x/crypto/nacl/secretbox"
)

const nonceSize = 24

var ErrDecrypt = errors.New("decrypting stored value")

// Sealed encrypts values before handing them to the wrapped store. Sessions
// carry cloud credentials, so they are never written in the clear.
type Sealed struct {
	Store
	key [32]byte
}

// NewSealed wraps inner with secretbox encryption keyed by secret.
func NewSealed(inner Store, secret string) (*Sealed, error) {
	if secret == "" {
		return nil, errors.New("encryption secret is required")
	}
	return &Sealed{Store: inner, key: sha256.Sum256([]byte(secret))}, nil
}

func (s *Sealed) Get(ctx context.Context, key string) ([]byte, error) {
	box, err := s.Store.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	if len(box) < nonceSize {
		return nil, fmt.Errorf("%w: %s: value too short", ErrDecrypt, key)
	}

	var nonce [nonceSize]byte
	copy(nonce[:], box[:nonceSize])
	out, ok := secretbox.Open(nil, box[nonceSize:], &nonce, &s.key)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrDecrypt, key)
	}
	return out, nil
}

func (s *Sealed) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	var nonce [nonceSize]byte
	if _, err := io.ReadFull(rand.Reader, nonce[:]); err != nil {
		return fmt.Errorf("generating nonce: %w", err)
	}
	box := secretbox.Seal(nonce[:], value, &nonce, &s.key)
	return s.Store.Set(ctx, key, box, ttl)
}

// Sweep forwards to the wrapped store when it sweeps itself.
func (s *Sealed) Sweep(now time.Time) int {
	if sw, ok := s.Store.(Sweeper); ok {
		return sw.Sweep(now)
	}
	return 0
}
