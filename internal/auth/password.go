package auth

import (
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

// Supported password hashing algorithms.
const (
	AlgorithmBcrypt   = "bcrypt"
	AlgorithmArgon2id = "argon2id"
)

// Hasher hashes and verifies plaintext passwords.
//
// Verify reports false for a mismatch and for any digest it cannot parse.
type Hasher interface {
	Hash(password string) (string, error)
	Verify(password, digest string) bool
}

// BcryptHasher hashes with bcrypt at the configured cost.
type BcryptHasher struct {
	Cost int
}

// Hash hashes plaintext password using bcrypt.
func (b BcryptHasher) Hash(password string) (string, error) {
	if len(password) == 0 {
		return "", errors.New("password is empty")
	}
	cost := b.Cost
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), cost)
	if err != nil {
		return "", fmt.Errorf("bcrypt: %w", err)
	}
	return string(hash), nil
}

// Verify compares plaintext password with stored hash.
func (b BcryptHasher) Verify(password, digest string) bool {
	if digest == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(digest), []byte(password)) == nil
}

func isBcryptDigest(digest string) bool {
	return strings.HasPrefix(digest, "$2a$") ||
		strings.HasPrefix(digest, "$2b$") ||
		strings.HasPrefix(digest, "$2y$")
}

// multiHasher hashes with one algorithm and verifies digests of every
// supported algorithm, so switching algorithms keeps stored digests usable.
type multiHasher struct {
	primary  Hasher
	bcrypt   BcryptHasher
	argon2id Argon2idHasher
}

// NewHasher returns a Hasher for the named algorithm.
func NewHasher(algorithm string, bcryptCost int, params Argon2idParams) (Hasher, error) {
	m := multiHasher{
		bcrypt:   BcryptHasher{Cost: bcryptCost},
		argon2id: Argon2idHasher{Params: params},
	}
	switch strings.ToLower(strings.TrimSpace(algorithm)) {
	case "", AlgorithmBcrypt:
		if bcryptCost != 0 && (bcryptCost < bcrypt.MinCost || bcryptCost > bcrypt.MaxCost) {
			return nil, fmt.Errorf("%w: bcrypt cost %d out of range", ErrInvalidInput, bcryptCost)
		}
		m.primary = m.bcrypt
	case AlgorithmArgon2id:
		if err := params.validate(); err != nil {
			return nil, err
		}
		m.primary = m.argon2id
	default:
		return nil, fmt.Errorf("%w: unsupported password algorithm %q", ErrInvalidInput, algorithm)
	}
	return m, nil
}

func (m multiHasher) Hash(password string) (string, error) {
	return m.primary.Hash(password)
}

func (m multiHasher) Verify(password, digest string) bool {
	switch {
	case strings.HasPrefix(digest, argon2idPrefix):
		return m.argon2id.Verify(password, digest)
	case isBcryptDigest(digest):
		return m.bcrypt.Verify(password, digest)
	default:
		return false
	}
}

// NeedsRehash reports whether digest belongs to a different algorithm than
// the one new digests are produced with.
func (m multiHasher) NeedsRehash(digest string) bool {
	if _, ok := m.primary.(Argon2idHasher); ok {
		return !strings.HasPrefix(digest, argon2idPrefix)
	}
	return !isBcryptDigest(digest)
}

type rehasher interface {
	NeedsRehash(digest string) bool
}
