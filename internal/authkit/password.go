package authkit

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/argon2"
)

const (
	argon2SaltLength = 16
	argon2KeyLength  = 32
)

var errMalformedDigest = errors.New("password.malformed_digest")

// PasswordHasher hashes and verifies stored credentials.
type PasswordHasher interface {
	Hash(plaintext string) (string, error)
	// Verify reports whether plaintext matches digest. Malformed digests never match.
	Verify(digest string, plaintext string) bool
}

// Argon2Params are the argon2id cost parameters.
type Argon2Params struct {
	MemoryKiB uint32
	Time      uint32
	Threads   uint8
}

// DefaultArgon2Params bound each hash to 64 MiB and three passes.
var DefaultArgon2Params = Argon2Params{MemoryKiB: 64 * 1024, Time: 3, Threads: 1}

// Argon2Hasher implements PasswordHasher with argon2id PHC-encoded digests.
type Argon2Hasher struct {
	params Argon2Params
}

// NewArgon2Hasher constructs a hasher; zero fields fall back to DefaultArgon2Params.
func NewArgon2Hasher(params Argon2Params) *Argon2Hasher {
	if params.MemoryKiB == 0 {
		params.MemoryKiB = DefaultArgon2Params.MemoryKiB
	}
	if params.Time == 0 {
		params.Time = DefaultArgon2Params.Time
	}
	if params.Threads == 0 {
		params.Threads = DefaultArgon2Params.Threads
	}
	return &Argon2Hasher{params: params}
}

// Hash derives an argon2id digest with a fresh random salt.
func (hasher *Argon2Hasher) Hash(plaintext string) (string, error) {
	salt := make([]byte, argon2SaltLength)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("password.hash.salt: %w", err)
	}
	key := argon2.IDKey([]byte(plaintext), salt, hasher.params.Time, hasher.params.MemoryKiB, hasher.params.Threads, argon2KeyLength)
	return fmt.Sprintf("$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version,
		hasher.params.MemoryKiB,
		hasher.params.Time,
		hasher.params.Threads,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(key),
	), nil
}

// Verify re-derives the key with the digest's own parameters.
func (hasher *Argon2Hasher) Verify(digest string, plaintext string) bool {
	params, salt, expectedKey, err := decodeArgon2Digest(digest)
	if err != nil {
		return false
	}
	derivedKey := argon2.IDKey([]byte(plaintext), salt, params.Time, params.MemoryKiB, params.Threads, uint32(len(expectedKey)))
	return subtle.ConstantTimeCompare(derivedKey, expectedKey) == 1
}

func decodeArgon2Digest(digest string) (Argon2Params, []byte, []byte, error) {
	// "", "argon2id", "v=19", "m=..,t=..,p=..", salt, key
	segments := strings.Split(digest, "$")
	if len(segments) != 6 || segments[0] != "" || segments[1] != "argon2id" {
		return Argon2Params{}, nil, nil, errMalformedDigest
	}
	var version int
	if _, err := fmt.Sscanf(segments[2], "v=%d", &version); err != nil || version != argon2.Version {
		return Argon2Params{}, nil, nil, errMalformedDigest
	}
	var params Argon2Params
	if _, err := fmt.Sscanf(segments[3], "m=%d,t=%d,p=%d", &params.MemoryKiB, &params.Time, &params.Threads); err != nil {
		return Argon2Params{}, nil, nil, errMalformedDigest
	}
	if params.MemoryKiB == 0 || params.Time == 0 || params.Threads == 0 {
		return Argon2Params{}, nil, nil, errMalformedDigest
	}
	salt, saltErr := base64.RawStdEncoding.DecodeString(segments[4])
	if saltErr != nil || len(salt) == 0 {
		return Argon2Params{}, nil, nil, errMalformedDigest
	}
	key, keyErr := base64.RawStdEncoding.DecodeString(segments[5])
	if keyErr != nil || len(key) == 0 {
		return Argon2Params{}, nil, nil, errMalformedDigest
	}
	return params, salt, key, nil
}
