// Package authpw provides email/password and federated sign-in on top of the
// user store.
package authpw

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"golang.org/x/crypto/bcrypt"

	"lokvidhi/api/internal/store"
	"lokvidhi/api/internal/util"
)

var (
	// ErrEmailTaken is returned when a sign-up email is already registered.
	ErrEmailTaken = errors.New("email already registered")
	// ErrInvalidCredentials is returned for any failed sign-in, without
	// revealing whether the email exists.
	ErrInvalidCredentials = errors.New("invalid email or password")
	// ErrInvalidInput is returned when required fields are missing or malformed.
	ErrInvalidInput = errors.New("invalid input")
)

// UserStore defines the storage interface for auth.
type UserStore interface {
	GetUserByEmail(ctx context.Context, email string) (store.User, error)
	CreateUser(ctx context.Context, user store.User) error
	EnsureFederatedUser(ctx context.Context, id, email, name, image string) (store.User, error)
}

// Service provides account creation and credential checks.
type Service struct {
	store UserStore
}

// NewService creates a new auth service.
func NewService(st UserStore) *Service {
	return &Service{store: st}
}

// SignUpRequest contains sign-up parameters.
type SignUpRequest struct {
	Email    string
	Password string
	Name     string
}

// SignUp creates a new member account with a bcrypt-hashed password.
func (s *Service) SignUp(ctx context.Context, req SignUpRequest) (store.User, error) {
	if req.Email == "" || req.Password == "" || req.Name == "" {
		return store.User{}, fmt.Errorf("%w: email, password, and name are required", ErrInvalidInput)
	}
	if len(req.Password) < 8 {
		return store.User{}, fmt.Errorf("%w: password must be at least 8 characters", ErrInvalidInput)
	}

	_, err := s.store.GetUserByEmail(ctx, req.Email)
	if err == nil {
		return store.User{}, ErrEmailTaken
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return store.User{}, fmt.Errorf("lookup email: %w", err)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return store.User{}, fmt.Errorf("hash password: %w", err)
	}

	user := store.User{
		ID:             util.NewID("usr"),
		Email:          req.Email,
		Name:           req.Name,
		HashedPassword: string(hash),
		Role:           "member",
	}
	if err := s.store.CreateUser(ctx, user); err != nil {
		return store.User{}, fmt.Errorf("create user: %w", err)
	}
	return user, nil
}

// SignIn authenticates a user by email and password.
func (s *Service) SignIn(ctx context.Context, email, password string) (store.User, error) {
	if email == "" || password == "" {
		return store.User{}, fmt.Errorf("%w: email and password are required", ErrInvalidInput)
	}

	user, err := s.store.GetUserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return store.User{}, ErrInvalidCredentials
		}
		return store.User{}, fmt.Errorf("lookup user: %w", err)
	}

	// Accounts created through a federated provider have no local password.
	if user.HashedPassword == "" {
		return store.User{}, ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.HashedPassword), []byte(password)); err != nil {
		return store.User{}, ErrInvalidCredentials
	}
	return user, nil
}

// FederatedProfile is the identity an upstream provider vouches for.
type FederatedProfile struct {
	Email string
	Name  string
	Image string
}

// SignInFederated resolves a provider-verified profile to a local account,
// creating a member account on first contact. The upstream provider has
// already authenticated the user, so no password is involved.
func (s *Service) SignInFederated(ctx context.Context, profile FederatedProfile) (store.User, error) {
	if profile.Email == "" {
		return store.User{}, fmt.Errorf("%w: federated profile missing email", ErrInvalidInput)
	}
	user, err := s.store.EnsureFederatedUser(ctx, util.NewID("usr"), profile.Email, profile.Name, profile.Image)
	if err != nil {
		return store.User{}, fmt.Errorf("ensure federated user: %w", err)
	}
	return user, nil
}
