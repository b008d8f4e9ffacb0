// Package account registers users and checks their credentials.
//
// Passwords are stored only as bcrypt hashes. The package has no notion of
// tokens or login sessions: a successful [Service.Login] just returns the
// stored identity, which callers attach to correction history.
package account

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

var (
	// ErrUserExists is returned by [Store.Create] and [Service.Signup] when
	// the email is already registered.
	ErrUserExists = errors.New("account: user already exists")

	// ErrNotFound is returned by [Store.ByEmail] for an unknown email.
	ErrNotFound = errors.New("account: user not found")

	// ErrInvalidCredentials is returned by [Service.Login] for an unknown
	// email and for a wrong password alike.
	ErrInvalidCredentials = errors.New("account: invalid email or password")
)

// ValidationError reports a signup request that cannot be accepted.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("account: invalid %s: %s", e.Field, e.Reason)
}

// User is a registered account.
type User struct {
	ID           string    `json:"userId"`
	Name         string    `json:"name"`
	Email        string    `json:"email"`
	PasswordHash []byte    `json:"-"`
	CreatedAt    time.Time `json:"createdAt"`
}

// Store persists users. Implementations must be safe for concurrent use.
type Store interface {
	// Create inserts u. It returns ErrUserExists when the email is taken.
	Create(ctx context.Context, u User) error

	// ByEmail returns the user registered under email, or ErrNotFound.
	ByEmail(ctx context.Context, email string) (User, error)
}

// SignupRequest carries the fields of the signup form.
type SignupRequest struct {
	Name            string `json:"name"`
	Email           string `json:"email"`
	Password        string `json:"password"`
	ConfirmPassword string `json:"confirmPassword"`
}

// Service implements signup and login on top of a [Store].
type Service struct {
	store  Store
	cost   int
	now    func() time.Time
	logger *slog.Logger
}

// Option configures a [Service].
type Option func(*Service)

// WithCost sets the bcrypt cost. Values outside bcrypt's accepted range are
// clamped by bcrypt itself.
func WithCost(cost int) Option {
	return func(s *Service) { s.cost = cost }
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// NewService returns a Service over store.
func NewService(store Store, opts ...Option) *Service {
	s := &Service{
		store:  store,
		cost:   bcrypt.DefaultCost,
		now:    time.Now,
		logger: slog.Default(),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Signup validates req, hashes the password and stores a new user.
func (s *Service) Signup(ctx context.Context, req SignupRequest) (User, error) {
	req.Name = strings.TrimSpace(req.Name)
	req.Email = strings.TrimSpace(req.Email)
	if req.Password != req.ConfirmPassword {
		return User{}, &ValidationError{Field: "confirmPassword", Reason: "passwords do not match"}
	}
	if err := validateSignup(req); err != nil {
		return User{}, err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), s.cost)
	if errors.Is(err, bcrypt.ErrPasswordTooLong) {
		return User{}, &ValidationError{Field: "password", Reason: "must be at most 72 bytes"}
	}
	if err != nil {
		return User{}, fmt.Errorf("account: hash password: %w", err)
	}

	u := User{
		ID:           uuid.NewString(),
		Name:         req.Name,
		Email:        req.Email,
		PasswordHash: hash,
		CreatedAt:    s.now().UTC().Truncate(time.Microsecond),
	}
	if err := s.store.Create(ctx, u); err != nil {
		if errors.Is(err, ErrUserExists) {
			return User{}, ErrUserExists
		}
		return User{}, fmt.Errorf("account: signup: %w", err)
	}
	s.logger.Info("account created", "user_id", u.ID, "user_email", u.Email)
	return u, nil
}

// Login returns the user for email when password matches its hash.
func (s *Service) Login(ctx context.Context, email, password string) (User, error) {
	u, err := s.store.ByEmail(ctx, strings.TrimSpace(email))
	if errors.Is(err, ErrNotFound) {
		return User{}, ErrInvalidCredentials
	}
	if err != nil {
		return User{}, fmt.Errorf("account: login: %w", err)
	}
	if err := bcrypt.CompareHashAndPassword(u.PasswordHash, []byte(password)); err != nil {
		s.logger.Debug("login rejected", "user_email", u.Email)
		return User{}, ErrInvalidCredentials
	}
	return u, nil
}

func validateSignup(req SignupRequest) error {
	switch {
	case req.Name == "":
		return &ValidationError{Field: "name", Reason: "must not be empty"}
	case req.Email == "" || !strings.Contains(req.Email, "@"):
		return &ValidationError{Field: "email", Reason: "must be an email address"}
	case req.Password == "":
		return &ValidationError{Field: "password", Reason: "must not be empty"}
	}
	return nil
}
