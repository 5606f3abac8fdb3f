package pseudonym

import (
	"crypto/sha256"
	"crypto/sha512"
	"encoding/hex"
	"errors"
	"fmt"
	"hash"
	"sync"

	"golang.org/x/crypto/pbkdf2"
)

// DigestLength is the length in characters of every hashed author id.
// Raw platform ids are far shorter, which keeps the two spaces disjoint.
const DigestLength = 128

const derivedKeyBytes = DigestLength / 2

var (
	// ErrUnknownAlgorithm indicates the configured digest name is not supported.
	ErrUnknownAlgorithm = errors.New("pseudonym: unknown hash algorithm")
	// ErrInvalidIterations indicates a non-positive iteration count.
	ErrInvalidIterations = errors.New("pseudonym: iteration count must be positive")
	// ErrMissingSalt indicates an empty salt.
	ErrMissingSalt = errors.New("pseudonym: salt is required")
)

// Config fixes the key-derivation parameters for the process lifetime.
// The parameters are global, not per guild: the same real id must map to the
// same pseudonym in every guild store.
type Config struct {
	Algorithm  string
	Iterations int
	Salt       string
}

// Hasher derives stable pseudonymous author ids from real platform ids using
// salted iterated PBKDF2. The iterated KDF is deliberate: the platform id
// space is small and enumerable, and a fast hash would be trivially reversible
// by brute force.
type Hasher struct {
	newDigest  func() hash.Hash
	iterations int
	salt       []byte
	cache      sync.Map
}

// NewHasher validates the configuration and returns a ready Hasher.
func NewHasher(cfg Config) (*Hasher, error) {
	newDigest, err := digestConstructor(cfg.Algorithm)
	if err != nil {
		return nil, err
	}
	if cfg.Iterations <= 0 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidIterations, cfg.Iterations)
	}
	if cfg.Salt == "" {
		return nil, ErrMissingSalt
	}
	return &Hasher{
		newDigest:  newDigest,
		iterations: cfg.Iterations,
		salt:       []byte(cfg.Salt),
	}, nil
}

// Hash maps a real author id to its pseudonymous id. Deterministic for a
// fixed configuration. Results are memoized; the cache only short-circuits
// recomputation and never changes an output.
func (h *Hasher) Hash(realID string) string {
	if cached, ok := h.cache.Load(realID); ok {
		if digest, ok := cached.(string); ok {
			return digest
		}
	}

	derived := pbkdf2.Key([]byte(realID), h.salt, h.iterations, derivedKeyBytes, h.newDigest)
	digest := hex.EncodeToString(derived)
	h.cache.Store(realID, digest)
	return digest
}

func digestConstructor(name string) (func() hash.Hash, error) {
	switch name {
	case "sha512", "":
		return sha512.New, nil
	case "sha384":
		return sha512.New384, nil
	case "sha256":
		return sha256.New, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownAlgorithm, name)
	}
}
