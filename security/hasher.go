package security

import (
	"errors"
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

// DefaultCost is the bcrypt cost used when none is configured
const DefaultCost = 12

// Hasher hashes and verifies principal secrets with bcrypt. Plaintext
// secrets must never be logged or persisted.
type Hasher struct {
	cost      int
	dummyHash []byte
}

// NewHasher returns a Hasher with the given cost, clamped to bcrypt's range.
// The dummy hash used by CompareDummy is built here at the same cost, so the
// first unknown-identifier login costs no more than any other.
func NewHasher(cost int) *Hasher {
	cost = clampCost(cost)
	// cannot fail: the cost is in range and the secret is under 72 bytes
	dummy, _ := bcrypt.GenerateFromPassword([]byte("sessionguard-dummy-secret"), cost)
	return &Hasher{cost: cost, dummyHash: dummy}
}

func clampCost(cost int) int {
	if cost <= 0 {
		cost = DefaultCost
	}
	if cost < bcrypt.MinCost {
		cost = bcrypt.MinCost
	}
	if cost > bcrypt.MaxCost {
		cost = bcrypt.MaxCost
	}
	return cost
}

// Cost returns the effective bcrypt cost
func (h *Hasher) Cost() int {
	return h.cost
}

// Hash produces a bcrypt hash suitable for storage
func (h *Hasher) Hash(secret string) (string, error) {
	b, err := bcrypt.GenerateFromPassword([]byte(secret), h.cost)
	if err != nil {
		return "", fmt.Errorf("failed to hash secret: %w", err)
	}
	return string(b), nil
}

// Compare checks secret against a stored hash in constant time.
// A mismatch is (false, nil); a corrupt hash is an error.
func (h *Hasher) Compare(hash, secret string) (bool, error) {
	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(secret))
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, bcrypt.ErrMismatchedHashAndPassword):
		return false, nil
	default:
		return false, fmt.Errorf("failed to compare secret: %w", err)
	}
}

// CompareDummy burns the same work as Compare against a hash that matches
// nothing. Login calls it for unknown identifiers so timing stays uniform.
func (h *Hasher) CompareDummy(secret string) {
	_ = bcrypt.CompareHashAndPassword(h.dummyHash, []byte(secret))
}
