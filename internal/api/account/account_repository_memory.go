package account

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/FACorreiaa/go-credentials-api/internal/types"
)

var _ AccountRepo = (*MemoryAccountRepo)(nil)

// MemoryAccountRepo keeps accounts in process memory. Email uniqueness is checked and
// applied under the same lock, so it holds for concurrent writers. Ids are never reused.
type MemoryAccountRepo struct {
	mu      sync.RWMutex
	nextID  int64
	byID    map[int64]types.Account
	byEmail map[string]int64
	now     func() time.Time
}

func NewMemoryAccountRepo() *MemoryAccountRepo {
	return &MemoryAccountRepo{
		byID:    make(map[int64]types.Account),
		byEmail: make(map[string]int64),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

func (r *MemoryAccountRepo) FindByEmail(_ context.Context, email string) (*types.Account, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	id, ok := r.byEmail[email]
	if !ok {
		return nil, types.ErrNotFound
	}
	a := r.byID[id]
	return &a, nil
}

func (r *MemoryAccountRepo) FindByID(_ context.Context, id int64) (*types.Account, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	a, ok := r.byID[id]
	if !ok {
		return nil, types.ErrNotFound
	}
	return &a, nil
}

func (r *MemoryAccountRepo) List(_ context.Context, search string) ([]types.Account, error) {
	needle := strings.ToLower(search)

	r.mu.RLock()
	accounts := make([]types.Account, 0, len(r.byID))
	for _, a := range r.byID {
		if needle == "" ||
			strings.Contains(strings.ToLower(a.Username), needle) ||
			strings.Contains(strings.ToLower(a.Email), needle) {
			accounts = append(accounts, a)
		}
	}
	r.mu.RUnlock()

	sort.Slice(accounts, func(i, j int) bool { return accounts[i].ID > accounts[j].ID })
	return accounts, nil
}

func (r *MemoryAccountRepo) Insert(_ context.Context, username, email, passwordHash string) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, taken := r.byEmail[email]; taken {
		return 0, types.ErrDuplicateEmail
	}

	r.nextID++
	now := r.now()
	r.byID[r.nextID] = types.Account{
		ID:           r.nextID,
		Username:     username,
		Email:        email,
		PasswordHash: passwordHash,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	r.byEmail[email] = r.nextID
	return r.nextID, nil
}

func (r *MemoryAccountRepo) Update(_ context.Context, id int64, username, email string) (*types.Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	a, ok := r.byID[id]
	if !ok {
		return nil, types.ErrNotFound
	}
	if owner, taken := r.byEmail[email]; taken && owner != id {
		return nil, types.ErrDuplicateEmail
	}

	delete(r.byEmail, a.Email)
	a.Username = username
	a.Email = email
	a.UpdatedAt = r.now()
	r.byID[id] = a
	r.byEmail[email] = id
	return &a, nil
}

func (r *MemoryAccountRepo) Delete(_ context.Context, id int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	a, ok := r.byID[id]
	if !ok {
		return types.ErrNotFound
	}
	delete(r.byID, id)
	delete(r.byEmail, a.Email)
	return nil
}

func (r *MemoryAccountRepo) Ping(context.Context) error {
	return nil
}
