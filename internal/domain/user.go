package domain

import (
	"context"
	"errors"
	"net/mail"
	"strings"
	"time"
)

// Роли пользователей магазина.
const (
	RoleUser  = "user"
	RoleAdmin = "admin"
)

const minUsernameLength = 3

var (
	// ErrUserNotFound возвращается репозиторием, если пользователя нет.
	ErrUserNotFound = errors.New("user not found")
	// ErrUserAlreadyExists — username или email уже заняты.
	ErrUserAlreadyExists = errors.New("user with this username or email already exists")

	// ErrUsernameInvalid — слишком короткое имя пользователя.
	ErrUsernameInvalid = errors.New("username must contain at least 3 characters")
	// ErrUserEmailInvalid — email не разбирается.
	ErrUserEmailInvalid = errors.New("user email is invalid")
)

// User — учётная запись покупателя или администратора.
type User struct {
	ID           string    `json:"id"`
	Username     string    `json:"username"`
	Email        string    `json:"email"`
	FullName     string    `json:"full_name,omitempty"`
	PasswordHash string    `json:"-"`
	Roles        []string  `json:"roles"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// HasRole сообщает, выдана ли пользователю роль.
func (u User) HasRole(role string) bool {
	for _, r := range u.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// Validate проверяет имя и email.
func (u *User) Validate() []error {
	var errs []error
	if len(strings.TrimSpace(u.Username)) < minUsernameLength {
		errs = append(errs, ErrUsernameInvalid)
	}
	if _, err := mail.ParseAddress(u.Email); err != nil || strings.TrimSpace(u.Email) == "" {
		errs = append(errs, ErrUserEmailInvalid)
	}
	return errs
}

// UserRepository хранит учётные записи.
type UserRepository interface {
	// Create сохраняет пользователя; занятые username/email дают ErrUserAlreadyExists.
	Create(ctx context.Context, user User) (User, error)
	// Get возвращает пользователя по ID или ErrUserNotFound.
	Get(ctx context.Context, id string) (User, error)
	// FindByLogin ищет пользователя по username или email без учёта регистра.
	FindByLogin(ctx context.Context, login string) (User, error)
	// Save перезаписывает пользователя или возвращает ErrUserNotFound.
	Save(ctx context.Context, user User) (User, error)
	// Delete удаляет пользователя или возвращает ErrUserNotFound.
	Delete(ctx context.Context, id string) error
	// List возвращает пользователей по дате регистрации; limit<=0 снимает ограничение.
	List(ctx context.Context, limit int) ([]User, error)
}
