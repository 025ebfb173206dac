package account

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryRepository keeps accounts in process for the memory store mode.
type MemoryRepository struct {
	mu      sync.RWMutex
	byID    map[string]User
	byEmail map[string]string
	byCNIC  map[string]string
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		byID:    make(map[string]User),
		byEmail: make(map[string]string),
		byCNIC:  make(map[string]string),
	}
}

func (r *MemoryRepository) CreateUser(ctx context.Context, params CreateUserParams) (User, error) {
	if err := ctx.Err(); err != nil {
		return User{}, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.byEmail[params.Email]; exists {
		return User{}, ErrDuplicateEmail
	}
	if p := params.Provider; p != nil {
		if _, exists := r.byCNIC[p.CNIC]; exists {
			return User{}, ErrDuplicateCNIC
		}
	}

	now := time.Now().UTC()
	user := User{
		ID:           uuid.NewString(),
		Email:        params.Email,
		FullName:     params.FullName,
		PasswordHash: params.PasswordHash,
		Phone:        params.Phone,
		Role:         params.Role,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if params.Provider != nil {
		p := *params.Provider
		p.VehicleTypes = append([]string(nil), p.VehicleTypes...)
		user.Provider = &p
	}

	r.byID[user.ID] = user
	r.byEmail[user.Email] = user.ID
	if user.Provider != nil {
		r.byCNIC[user.Provider.CNIC] = user.ID
	}
	return copyUser(user), nil
}

func (r *MemoryRepository) GetUserByEmail(ctx context.Context, email string) (User, error) {
	if err := ctx.Err(); err != nil {
		return User{}, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	id, ok := r.byEmail[email]
	if !ok {
		return User{}, ErrUserNotFound
	}
	return copyUser(r.byID[id]), nil
}

func (r *MemoryRepository) GetUserByID(ctx context.Context, userID string) (User, error) {
	if err := ctx.Err(); err != nil {
		return User{}, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	user, ok := r.byID[userID]
	if !ok {
		return User{}, ErrUserNotFound
	}
	return copyUser(user), nil
}

func (r *MemoryRepository) ListByIDs(ctx context.Context, ids []string) ([]User, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]User, 0, len(ids))
	for _, id := range ids {
		if user, ok := r.byID[id]; ok {
			out = append(out, copyUser(user))
		}
	}
	return out, nil
}

func (r *MemoryRepository) SetLive(ctx context.Context, userID string, live bool) (User, error) {
	if err := ctx.Err(); err != nil {
		return User{}, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	user, ok := r.byID[userID]
	if !ok || user.Provider == nil {
		return User{}, ErrUserNotFound
	}
	user = copyUser(user)
	user.Provider.IsLive = live
	user.UpdatedAt = time.Now().UTC()
	r.byID[userID] = user
	return copyUser(user), nil
}

func copyUser(u User) User {
	if u.Provider != nil {
		p := *u.Provider
		p.VehicleTypes = append([]string(nil), u.Provider.VehicleTypes...)
		u.Provider = &p
	}
	return u
}
