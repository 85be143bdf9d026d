package auth

import (
	"context"
	"errors"
	"fmt"
	"runtime"

	"golang.org/x/crypto/bcrypt"
	"golang.org/x/sync/semaphore"

	"github.com/FACorreiaa/go-credentials-api/internal/types"
)

// MaxPasswordBytes is the longest input bcrypt will hash.
const MaxPasswordBytes = 72

var _ PasswordHasher = (*BcryptHasher)(nil)

// PasswordHasher produces and checks one-way salted password hashes.
type PasswordHasher interface {
	// Hash returns a new salted hash; two calls with the same input differ.
	Hash(ctx context.Context, plaintext string) (string, error)
	// Verify reports whether hash was produced from plaintext. It never fails loudly:
	// corrupt hashes and cancelled contexts both yield false.
	Verify(ctx context.Context, plaintext, hash string) bool
}

// BcryptHasher bounds concurrent bcrypt work so hashing can't starve request handling.
type BcryptHasher struct {
	cost    int
	workers *semaphore.Weighted
}

// NewBcryptHasher builds a hasher. Cost 0 means bcrypt.DefaultCost, workers 0 means GOMAXPROCS.
func NewBcryptHasher(cost, workers int) (*BcryptHasher, error) {
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		return nil, fmt.Errorf("bcrypt cost %d out of range [%d, %d]", cost, bcrypt.MinCost, bcrypt.MaxCost)
	}
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	return &BcryptHasher{
		cost:    cost,
		workers: semaphore.NewWeighted(int64(workers)),
	}, nil
}

// Cost returns the work factor used for new hashes.
func (h *BcryptHasher) Cost() int {
	return h.cost
}

func (h *BcryptHasher) Hash(ctx context.Context, plaintext string) (string, error) {
	if len(plaintext) > MaxPasswordBytes {
		return "", fmt.Errorf("%w: password longer than %d bytes", types.ErrValidation, MaxPasswordBytes)
	}
	if err := h.workers.Acquire(ctx, 1); err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	defer h.workers.Release(1)

	hashed, err := bcrypt.GenerateFromPassword([]byte(plaintext), h.cost)
	if err != nil {
		if errors.Is(err, bcrypt.ErrPasswordTooLong) {
			return "", fmt.Errorf("%w: %v", types.ErrValidation, err)
		}
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(hashed), nil
}

func (h *BcryptHasher) Verify(ctx context.Context, plaintext, hash string) bool {
	if hash == "" {
		return false
	}
	if err := h.workers.Acquire(ctx, 1); err != nil {
		return false
	}
	defer h.workers.Release(1)

	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(plaintext)) == nil
}
