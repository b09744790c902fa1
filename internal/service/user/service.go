// Package user реализует регистрацию, вход и управление учётными записями.
package user

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/shop/internal/auth"
	"github.com/vladislavdragonenkov/shop/internal/domain"
)

const (
	defaultCallTimeout = 2 * time.Second
	defaultListLimit   = 100
	minPasswordLength  = 8
)

var (
	// ErrInvalidCredentials — логин не найден или пароль не подходит.
	// Причина намеренно не уточняется.
	ErrInvalidCredentials = errors.New("invalid username, email or password")
	// ErrPasswordConfirmation — пароль и подтверждение различаются.
	ErrPasswordConfirmation = errors.New("password confirmation does not match")
	// ErrPasswordTooShort — пароль короче минимальной длины.
	ErrPasswordTooShort = errors.New("password must contain at least 8 characters")
)

// TokenIssuer выпускает токен доступа для пользователя.
type TokenIssuer interface {
	Issue(subject string, roles ...string) (string, time.Time, error)
}

// SignUpInput — данные регистрации.
type SignUpInput struct {
	Username        string
	Email           string
	FullName        string
	Password        string
	PasswordConfirm string
}

// SignInInput — логин (username или email) и пароль.
type SignInInput struct {
	Login    string
	Password string
}

// ProfileInput — изменяемые поля учётной записи. Nil оставляет текущее значение.
// Roles учитываются только при администраторском обновлении.
type ProfileInput struct {
	Username *string
	Email    *string
	FullName *string
	Password *string
	Roles    []string
}

// Session — выданный токен и пользователь, которому он принадлежит.
type Session struct {
	Token     string
	ExpiresAt time.Time
	User      domain.User
}

// Options задаёт необязательные зависимости сервиса.
type Options struct {
	Logger      *log.Entry
	CallTimeout time.Duration
	Clock       func() time.Time
}

// Option настраивает Service.
type Option func(*Options)

// WithLogger задаёт logger сервиса.
func WithLogger(logger *log.Entry) Option {
	return func(opts *Options) {
		opts.Logger = logger
	}
}

// WithCallTimeout ограничивает каждое обращение к репозиторию.
func WithCallTimeout(timeout time.Duration) Option {
	return func(opts *Options) {
		opts.CallTimeout = timeout
	}
}

// WithClock подменяет источник времени.
func WithClock(clock func() time.Time) Option {
	return func(opts *Options) {
		opts.Clock = clock
	}
}

// Service управляет пользователями и выдаёт токены.
type Service struct {
	repo        domain.UserRepository
	hasher      auth.PasswordHasher
	tokens      TokenIssuer
	logger      *log.Entry
	callTimeout time.Duration
	now         func() time.Time
}

// NewService конструирует сервис пользователей.
func NewService(repo domain.UserRepository, hasher auth.PasswordHasher, tokens TokenIssuer, options ...Option) *Service {
	opts := Options{CallTimeout: defaultCallTimeout}
	for _, option := range options {
		option(&opts)
	}
	if opts.CallTimeout <= 0 {
		opts.CallTimeout = defaultCallTimeout
	}
	if opts.Clock == nil {
		opts.Clock = func() time.Time { return time.Now().UTC() }
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.WithField("component", "user-service")
	}

	return &Service{
		repo:        repo,
		hasher:      hasher,
		tokens:      tokens,
		logger:      logger,
		callTimeout: opts.CallTimeout,
		now:         opts.Clock,
	}
}

// SignUp регистрирует покупателя и сразу выдаёт ему токен.
func (s *Service) SignUp(ctx context.Context, in SignUpInput) (Session, error) {
	const op = "user.signup"

	if in.Password != in.PasswordConfirm {
		return Session{}, domain.WrapError(domain.KindInvalidRequest, op, ErrPasswordConfirmation, "")
	}
	created, err := s.create(ctx, op, domain.User{
		Username: strings.TrimSpace(in.Username),
		Email:    strings.TrimSpace(in.Email),
		FullName: strings.TrimSpace(in.FullName),
		Roles:    []string{domain.RoleUser},
	}, in.Password)
	if err != nil {
		return Session{}, err
	}

	s.logger.WithField("user_id", created.ID).Info("user signed up")
	return s.session(op, created)
}

// SignIn проверяет пароль и выдаёт токен.
func (s *Service) SignIn(ctx context.Context, in SignInInput) (Session, error) {
	const op = "user.signin"
	login := strings.TrimSpace(in.Login)
	if login == "" || in.Password == "" {
		return Session{}, domain.NewError(domain.KindInvalidRequest, op, "login and password are required")
	}

	callCtx, cancel := context.WithTimeout(ctx, s.callTimeout)
	found, err := s.repo.FindByLogin(callCtx, login)
	cancel()
	switch {
	case errors.Is(err, domain.ErrUserNotFound):
		s.logger.WithField("login", login).Debug("sign in for unknown login")
		return Session{}, ErrInvalidCredentials
	case err != nil:
		return Session{}, s.fail(op, "", err)
	}

	if err := s.hasher.Compare(found.PasswordHash, in.Password); err != nil {
		if !errors.Is(err, auth.ErrPasswordMismatch) {
			s.logger.WithError(err).WithField("user_id", found.ID).Warn("stored password hash is unusable")
		}
		return Session{}, ErrInvalidCredentials
	}
	return s.session(op, found)
}

// EnsureAdmin создаёт администратора, если логин ещё не занят. Уже существующая
// запись не меняется.
func (s *Service) EnsureAdmin(ctx context.Context, username, email, password string) (domain.User, error) {
	const op = "user.ensure_admin"

	callCtx, cancel := context.WithTimeout(ctx, s.callTimeout)
	existing, err := s.repo.FindByLogin(callCtx, username)
	cancel()
	switch {
	case err == nil:
		return existing, nil
	case !errors.Is(err, domain.ErrUserNotFound):
		return domain.User{}, s.fail(op, "", err)
	}

	created, err := s.create(ctx, op, domain.User{
		Username: strings.TrimSpace(username),
		Email:    strings.TrimSpace(email),
		Roles:    []string{domain.RoleUser, domain.RoleAdmin},
	}, password)
	if err != nil {
		return domain.User{}, err
	}
	s.logger.WithField("user_id", created.ID).Info("admin account created")
	return created, nil
}

// GetUser возвращает пользователя по ID.
func (s *Service) GetUser(ctx context.Context, id string) (domain.User, error) {
	const op = "user.get"
	if strings.TrimSpace(id) == "" {
		return domain.User{}, domain.NewError(domain.KindInvalidRequest, op, "user id is required")
	}

	callCtx, cancel := context.WithTimeout(ctx, s.callTimeout)
	defer cancel()

	found, err := s.repo.Get(callCtx, id)
	if err != nil {
		return domain.User{}, s.fail(op, id, err)
	}
	return found, nil
}

// ListUsers возвращает пользователей в порядке регистрации.
func (s *Service) ListUsers(ctx context.Context, limit int) ([]domain.User, error) {
	if limit <= 0 || limit > defaultListLimit {
		limit = defaultListLimit
	}

	callCtx, cancel := context.WithTimeout(ctx, s.callTimeout)
	defer cancel()

	users, err := s.repo.List(callCtx, limit)
	if err != nil {
		return nil, s.fail("user.list", "", err)
	}
	return users, nil
}

// UpdateProfile меняет собственные данные пользователя; роли не трогаются.
func (s *Service) UpdateProfile(ctx context.Context, id string, in ProfileInput) (domain.User, error) {
	in.Roles = nil
	return s.update(ctx, "user.update_profile", id, in)
}

// UpdateUser — администраторское обновление, включая роли.
func (s *Service) UpdateUser(ctx context.Context, id string, in ProfileInput) (domain.User, error) {
	return s.update(ctx, "user.update", id, in)
}

// DeleteUser удаляет учётную запись. Заказы пользователя остаются.
func (s *Service) DeleteUser(ctx context.Context, id string) (domain.User, error) {
	const op = "user.delete"
	current, err := s.GetUser(ctx, id)
	if err != nil {
		return domain.User{}, err
	}

	callCtx, cancel := context.WithTimeout(ctx, s.callTimeout)
	err = s.repo.Delete(callCtx, id)
	cancel()
	if err != nil {
		return domain.User{}, s.fail(op, id, err)
	}
	s.logger.WithField("user_id", id).Info("user deleted")
	return current, nil
}

func (s *Service) update(ctx context.Context, op, id string, in ProfileInput) (domain.User, error) {
	current, err := s.GetUser(ctx, id)
	if err != nil {
		return domain.User{}, err
	}

	if in.Username != nil {
		current.Username = strings.TrimSpace(*in.Username)
	}
	if in.Email != nil {
		current.Email = strings.TrimSpace(*in.Email)
	}
	if in.FullName != nil {
		current.FullName = strings.TrimSpace(*in.FullName)
	}
	if in.Roles != nil {
		roles, err := normalizeRoles(in.Roles)
		if err != nil {
			return domain.User{}, domain.WrapError(domain.KindInvalidRequest, op, err, "")
		}
		current.Roles = roles
	}
	if errs := current.Validate(); len(errs) > 0 {
		return domain.User{}, domain.WrapError(domain.KindInvalidRequest, op, errors.Join(errs...), "")
	}
	if in.Password != nil {
		hash, err := s.hashPassword(op, *in.Password)
		if err != nil {
			return domain.User{}, err
		}
		current.PasswordHash = hash
	}
	current.UpdatedAt = s.now()

	callCtx, cancel := context.WithTimeout(ctx, s.callTimeout)
	saved, err := s.repo.Save(callCtx, current)
	cancel()
	if err != nil {
		return domain.User{}, s.fail(op, id, err)
	}
	return saved, nil
}

func (s *Service) create(ctx context.Context, op string, candidate domain.User, password string) (domain.User, error) {
	if errs := candidate.Validate(); len(errs) > 0 {
		return domain.User{}, domain.WrapError(domain.KindInvalidRequest, op, errors.Join(errs...), "")
	}
	hash, err := s.hashPassword(op, password)
	if err != nil {
		return domain.User{}, err
	}
	candidate.PasswordHash = hash
	now := s.now()
	candidate.CreatedAt = now
	candidate.UpdatedAt = now

	callCtx, cancel := context.WithTimeout(ctx, s.callTimeout)
	created, err := s.repo.Create(callCtx, candidate)
	cancel()
	if err != nil {
		return domain.User{}, s.fail(op, "", err)
	}
	return created, nil
}

func (s *Service) hashPassword(op, password string) (string, error) {
	if len(password) < minPasswordLength {
		return "", domain.WrapError(domain.KindInvalidRequest, op, ErrPasswordTooShort, "")
	}
	hash, err := s.hasher.Hash(password)
	if err != nil {
		return "", domain.WrapError(domain.KindTransient, op, err, "password hashing failed")
	}
	return hash, nil
}

func (s *Service) session(op string, u domain.User) (Session, error) {
	token, expiresAt, err := s.tokens.Issue(u.ID, u.Roles...)
	if err != nil {
		s.logger.WithError(err).WithField("user_id", u.ID).Error("failed to issue token")
		return Session{}, domain.WrapError(domain.KindTransient, op, err, "token issuing failed")
	}
	return Session{Token: token, ExpiresAt: expiresAt, User: u}, nil
}

func (s *Service) fail(op, id string, err error) error {
	switch domain.KindOf(err) {
	case domain.KindNotFound:
		return domain.WrapError(domain.KindNotFound, op, err, fmt.Sprintf("user %s not found", id))
	case domain.KindConflict:
		return domain.WrapError(domain.KindConflict, op, err, "username or email already taken")
	default:
		s.logger.WithError(err).WithField("operation", op).Error("user repository call failed")
		return domain.WrapError(domain.KindTransient, op, err, "user repository unavailable")
	}
}

func normalizeRoles(roles []string) ([]string, error) {
	out := make([]string, 0, len(roles))
	for _, role := range roles {
		role = strings.ToLower(strings.TrimSpace(role))
		if role != domain.RoleUser && role != domain.RoleAdmin {
			return nil, fmt.Errorf("unsupported role %q", role)
		}
		if !slices.Contains(out, role) {
			out = append(out, role)
		}
	}
	if !slices.Contains(out, domain.RoleUser) {
		out = append([]string{domain.RoleUser}, out...)
	}
	return out, nil
}
