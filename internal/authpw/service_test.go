package authpw

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	"golang.org/x/crypto/bcrypt"

	"lokvidhi/api/internal/store"
)

type fakeUserStore struct {
	getUserByEmail      func(ctx context.Context, email string) (store.User, error)
	createUser          func(ctx context.Context, user store.User) error
	ensureFederatedUser func(ctx context.Context, id, email, name, image string) (store.User, error)
}

func (f *fakeUserStore) GetUserByEmail(ctx context.Context, email string) (store.User, error) {
	if f.getUserByEmail != nil {
		return f.getUserByEmail(ctx, email)
	}
	return store.User{}, sql.ErrNoRows
}

func (f *fakeUserStore) CreateUser(ctx context.Context, user store.User) error {
	if f.createUser != nil {
		return f.createUser(ctx, user)
	}
	return nil
}

func (f *fakeUserStore) EnsureFederatedUser(ctx context.Context, id, email, name, image string) (store.User, error) {
	if f.ensureFederatedUser != nil {
		return f.ensureFederatedUser(ctx, id, email, name, image)
	}
	return store.User{ID: id, Email: email, Name: name, Image: image, Role: "member"}, nil
}

func TestSignUpCreatesMember(t *testing.T) {
	var created store.User
	svc := NewService(&fakeUserStore{
		createUser: func(_ context.Context, user store.User) error {
			created = user
			return nil
		},
	})

	user, err := svc.SignUp(context.Background(), SignUpRequest{
		Email:    "asha@example.com",
		Password: "correct horse",
		Name:     "Asha",
	})
	if err != nil {
		t.Fatalf("SignUp failed: %v", err)
	}

	if user.Role != "member" {
		t.Errorf("expected role member, got %q", user.Role)
	}
	if created.ID == "" {
		t.Error("expected a generated user id")
	}
	if created.HashedPassword == "" || created.HashedPassword == "correct horse" {
		t.Error("password was not hashed")
	}
	if err := bcrypt.CompareHashAndPassword([]byte(created.HashedPassword), []byte("correct horse")); err != nil {
		t.Errorf("stored hash does not match password: %v", err)
	}
}

func TestSignUpRejectsDuplicateEmail(t *testing.T) {
	svc := NewService(&fakeUserStore{
		getUserByEmail: func(_ context.Context, email string) (store.User, error) {
			return store.User{ID: "usr_1", Email: email}, nil
		},
	})

	_, err := svc.SignUp(context.Background(), SignUpRequest{
		Email:    "asha@example.com",
		Password: "correct horse",
		Name:     "Asha",
	})
	if !errors.Is(err, ErrEmailTaken) {
		t.Errorf("expected ErrEmailTaken, got %v", err)
	}
}

func TestSignUpValidation(t *testing.T) {
	svc := NewService(&fakeUserStore{})

	cases := []SignUpRequest{
		{Email: "", Password: "correct horse", Name: "Asha"},
		{Email: "asha@example.com", Password: "", Name: "Asha"},
		{Email: "asha@example.com", Password: "correct horse", Name: ""},
		{Email: "asha@example.com", Password: "short", Name: "Asha"},
	}
	for _, req := range cases {
		if _, err := svc.SignUp(context.Background(), req); !errors.Is(err, ErrInvalidInput) {
			t.Errorf("SignUp(%+v): expected ErrInvalidInput, got %v", req, err)
		}
	}
}

func TestSignIn(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("correct horse"), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("bcrypt: %v", err)
	}
	svc := NewService(&fakeUserStore{
		getUserByEmail: func(_ context.Context, email string) (store.User, error) {
			if email != "asha@example.com" {
				return store.User{}, sql.ErrNoRows
			}
			return store.User{ID: "usr_1", Email: email, HashedPassword: string(hash), Role: "admin"}, nil
		},
	})

	user, err := svc.SignIn(context.Background(), "asha@example.com", "correct horse")
	if err != nil {
		t.Fatalf("SignIn failed: %v", err)
	}
	if user.Role != "admin" {
		t.Errorf("expected stored role to pass through, got %q", user.Role)
	}

	if _, err := svc.SignIn(context.Background(), "asha@example.com", "wrong"); !errors.Is(err, ErrInvalidCredentials) {
		t.Errorf("wrong password: expected ErrInvalidCredentials, got %v", err)
	}
	if _, err := svc.SignIn(context.Background(), "nobody@example.com", "correct horse"); !errors.Is(err, ErrInvalidCredentials) {
		t.Errorf("unknown email: expected ErrInvalidCredentials, got %v", err)
	}
}

func TestSignInRejectsFederatedOnlyAccount(t *testing.T) {
	svc := NewService(&fakeUserStore{
		getUserByEmail: func(_ context.Context, email string) (store.User, error) {
			return store.User{ID: "usr_1", Email: email, Role: "member"}, nil
		},
	})

	_, err := svc.SignIn(context.Background(), "asha@example.com", "anything")
	if !errors.Is(err, ErrInvalidCredentials) {
		t.Errorf("expected ErrInvalidCredentials for passwordless account, got %v", err)
	}
}

func TestSignInFederated(t *testing.T) {
	svc := NewService(&fakeUserStore{
		ensureFederatedUser: func(_ context.Context, id, email, name, image string) (store.User, error) {
			return store.User{ID: "usr_existing", Email: email, Name: name, Role: "admin"}, nil
		},
	})

	user, err := svc.SignInFederated(context.Background(), FederatedProfile{
		Email: "asha@example.com",
		Name:  "Asha",
	})
	if err != nil {
		t.Fatalf("SignInFederated failed: %v", err)
	}
	if user.Role != "admin" {
		t.Errorf("expected stored role to win for returning users, got %q", user.Role)
	}

	if _, err := svc.SignInFederated(context.Background(), FederatedProfile{}); !errors.Is(err, ErrInvalidInput) {
		t.Errorf("missing email: expected ErrInvalidInput, got %v", err)
	}
}
