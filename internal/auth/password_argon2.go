package auth

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/argon2"
)

const argon2idPrefix = "$argon2id$"

// Argon2idParams controls Argon2id hashing cost. MemoryKiB is in KiB as
// required by argon2.IDKey.
type Argon2idParams struct {
	MemoryKiB   uint32
	Iterations  uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32
}

// DefaultArgon2idParams is the baseline used when no explicit params are configured.
func DefaultArgon2idParams() Argon2idParams {
	return Argon2idParams{
		MemoryKiB:   64 * 1024,
		Iterations:  3,
		Parallelism: 2,
		SaltLength:  16,
		KeyLength:   32,
	}
}

func (p Argon2idParams) validate() error {
	if p.MemoryKiB < 8*1024 || p.Iterations == 0 || p.Parallelism == 0 {
		return fmt.Errorf("%w: argon2id params too weak", ErrInvalidInput)
	}
	if p.SaltLength < 8 || p.KeyLength < 16 {
		return fmt.Errorf("%w: argon2id salt/key too short", ErrInvalidInput)
	}
	return nil
}

var errInvalidArgon2Hash = errors.New("invalid argon2id hash")

// Argon2idHasher hashes with Argon2id and encodes the result as
// $argon2id$v=19$m=<mem>,t=<iter>,p=<par>$<salt_b64>$<hash_b64>.
type Argon2idHasher struct {
	Params Argon2idParams
}

func (h Argon2idHasher) params() Argon2idParams {
	if h.Params == (Argon2idParams{}) {
		return DefaultArgon2idParams()
	}
	return h.Params
}

// Hash derives an Argon2id key from password with a random salt.
func (h Argon2idHasher) Hash(password string) (string, error) {
	if len(password) == 0 {
		return "", errors.New("password is empty")
	}
	p := h.params()
	salt := make([]byte, p.SaltLength)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("salt: %w", err)
	}
	key := argon2.IDKey([]byte(password), salt, p.Iterations, p.MemoryKiB, p.Parallelism, p.KeyLength)

	b64 := base64.RawStdEncoding
	return fmt.Sprintf("%sv=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2idPrefix,
		argon2.Version,
		p.MemoryKiB,
		p.Iterations,
		p.Parallelism,
		b64.EncodeToString(salt),
		b64.EncodeToString(key),
	), nil
}

// Verify recomputes the key with the digest's own parameters. Digests whose
// parameters exceed twice the configured ones are rejected so a stored
// digest cannot force pathological work.
func (h Argon2idHasher) Verify(password, digest string) bool {
	got, salt, expected, err := decodeArgon2id(digest)
	if err != nil {
		return false
	}
	limits := h.params()
	if got.MemoryKiB > limits.MemoryKiB*2 || got.Iterations > limits.Iterations*2 || got.Parallelism > limits.Parallelism*2 {
		return false
	}
	key := argon2.IDKey([]byte(password), salt, got.Iterations, got.MemoryKiB, got.Parallelism, uint32(len(expected)))
	return subtle.ConstantTimeCompare(key, expected) == 1
}

func decodeArgon2id(encoded string) (Argon2idParams, []byte, []byte, error) {
	parts := strings.Split(encoded, "$")
	if len(parts) != 6 || parts[0] != "" || parts[1] != "argon2id" {
		return Argon2idParams{}, nil, nil, errInvalidArgon2Hash
	}
	if parts[2] != fmt.Sprintf("v=%d", argon2.Version) {
		return Argon2idParams{}, nil, nil, errInvalidArgon2Hash
	}
	var mem, it, par uint32
	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &mem, &it, &par); err != nil {
		return Argon2idParams{}, nil, nil, errInvalidArgon2Hash
	}
	if mem == 0 || it == 0 || par == 0 || par > 255 {
		return Argon2idParams{}, nil, nil, errInvalidArgon2Hash
	}
	b64 := base64.RawStdEncoding
	salt, err := b64.DecodeString(parts[4])
	if err != nil || len(salt) < 8 || len(salt) > 64 {
		return Argon2idParams{}, nil, nil, errInvalidArgon2Hash
	}
	key, err := b64.DecodeString(parts[5])
	if err != nil || len(key) < 16 || len(key) > 128 {
		return Argon2idParams{}, nil, nil, errInvalidArgon2Hash
	}
	return Argon2idParams{
		MemoryKiB:   mem,
		Iterations:  it,
		Parallelism: uint8(par),
		SaltLength:  uint32(len(salt)),
		KeyLength:   uint32(len(key)),
	}, salt, key, nil
}
