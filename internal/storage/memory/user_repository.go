package memory

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/vladislavdragonenkov/shop/internal/domain"
)

// userRepositoryInMemory хранит учётные записи в памяти.
type userRepositoryInMemory struct {
	mu    sync.RWMutex
	items map[string]domain.User
}

// NewUserRepository возвращает in-memory репозиторий пользователей.
func NewUserRepository(seed ...domain.User) domain.UserRepository {
	r := &userRepositoryInMemory{items: make(map[string]domain.User, len(seed))}
	for _, user := range seed {
		if user.ID == "" {
			user.ID = uuid.NewString()
		}
		r.items[user.ID] = cloneUser(user)
	}
	return r
}

func (r *userRepositoryInMemory) Create(ctx context.Context, user domain.User) (domain.User, error) {
	if err := ctx.Err(); err != nil {
		return domain.User{}, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if user.ID == "" {
		user.ID = uuid.NewString()
	}
	if _, exists := r.items[user.ID]; exists || r.taken(user, "") {
		return domain.User{}, domain.ErrUserAlreadyExists
	}
	r.items[user.ID] = cloneUser(user)
	return cloneUser(user), nil
}

func (r *userRepositoryInMemory) Get(ctx context.Context, id string) (domain.User, error) {
	if err := ctx.Err(); err != nil {
		return domain.User{}, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	user, ok := r.items[id]
	if !ok {
		return domain.User{}, domain.ErrUserNotFound
	}
	return cloneUser(user), nil
}

func (r *userRepositoryInMemory) FindByLogin(ctx context.Context, login string) (domain.User, error) {
	if err := ctx.Err(); err != nil {
		return domain.User{}, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, user := range r.items {
		if strings.EqualFold(user.Username, login) || strings.EqualFold(user.Email, login) {
			return cloneUser(user), nil
		}
	}
	return domain.User{}, domain.ErrUserNotFound
}

func (r *userRepositoryInMemory) Save(ctx context.Context, user domain.User) (domain.User, error) {
	if err := ctx.Err(); err != nil {
		return domain.User{}, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	current, ok := r.items[user.ID]
	if !ok {
		return domain.User{}, domain.ErrUserNotFound
	}
	if r.taken(user, user.ID) {
		return domain.User{}, domain.ErrUserAlreadyExists
	}
	user.CreatedAt = current.CreatedAt
	r.items[user.ID] = cloneUser(user)
	return cloneUser(user), nil
}

func (r *userRepositoryInMemory) Delete(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.items[id]; !ok {
		return domain.ErrUserNotFound
	}
	delete(r.items, id)
	return nil
}

func (r *userRepositoryInMemory) List(ctx context.Context, limit int) ([]domain.User, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]domain.User, 0, len(r.items))
	for _, user := range r.items {
		result = append(result, cloneUser(user))
	}
	sort.Slice(result, func(i, j int) bool {
		if !result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].CreatedAt.Before(result[j].CreatedAt)
		}
		return result[i].ID < result[j].ID
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

// taken проверяет занятость username/email другими пользователями (кроме exceptID).
func (r *userRepositoryInMemory) taken(user domain.User, exceptID string) bool {
	for id, existing := range r.items {
		if id == exceptID {
			continue
		}
		if strings.EqualFold(existing.Username, user.Username) || strings.EqualFold(existing.Email, user.Email) {
			return true
		}
	}
	return false
}

func cloneUser(user domain.User) domain.User {
	user.Roles = append([]string(nil), user.Roles...)
	return user
}

var _ domain.UserRepository = (*userRepositoryInMemory)(nil)
