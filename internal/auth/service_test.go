package auth

import (
	"context"
	"errors"
	"testing"
	"time"

	"spendtrack/internal/core"
)

type fakeUserStore struct {
	users  map[string]core.User // by id
	hashes map[string]string    // by id
}

func newFakeUserStore() *fakeUserStore {
	return &fakeUserStore{users: map[string]core.User{}, hashes: map[string]string{}}
}

func (f *fakeUserStore) CreateUser(_ context.Context, user core.User, passwordHash string) (core.User, error) {
	f.users[user.ID] = user
	f.hashes[user.ID] = passwordHash
	return user, nil
}

func (f *fakeUserStore) GetUserByEmail(_ context.Context, email string) (core.User, string, error) {
	for id, u := range f.users {
		if u.Email == email {
			return u, f.hashes[id], nil
		}
	}
	return core.User{}, "", core.ErrNotFound
}

func (f *fakeUserStore) GetUserByID(_ context.Context, id string) (core.User, error) {
	u, ok := f.users[id]
	if !ok {
		return core.User{}, core.ErrNotFound
	}
	return u, nil
}

func (f *fakeUserStore) ListUsers(_ context.Context) ([]core.User, error) {
	out := make([]core.User, 0, len(f.users))
	for _, u := range f.users {
		out = append(out, u)
	}
	return out, nil
}

func newTestService(store UserStore) *Service {
	return NewService(store, "0123456789abcdef0123456789abcdef", time.Hour, 4, "")
}

func TestSignUpAndLogin(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(newFakeUserStore())

	user, err := svc.SignUp(ctx, "Alice@Example.com", "secret-password", "Alice")
	if err != nil {
		t.Fatalf("signup: %v", err)
	}
	if user.ID == "" {
		t.Fatal("expected assigned user id")
	}
	if user.Email != "alice@example.com" {
		t.Fatalf("email not normalized: %q", user.Email)
	}

	token, got, err := svc.Login(ctx, "alice@example.com", "secret-password")
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if token == "" || got.ID != user.ID {
		t.Fatalf("unexpected login result: token=%q user=%+v", token, got)
	}

	userID, err := svc.ValidateToken(token)
	if err != nil {
		t.Fatalf("validate token: %v", err)
	}
	if userID != user.ID {
		t.Fatalf("token subject = %q, want %q", userID, user.ID)
	}
}

func TestSignUpRejectsBadInput(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(newFakeUserStore())

	if _, err := svc.SignUp(ctx, "not-an-email", "secret-password", ""); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
	if _, err := svc.SignUp(ctx, "a@b.c", "short", ""); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for short password, got %v", err)
	}
}

func TestSignUpDuplicateEmail(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(newFakeUserStore())

	if _, err := svc.SignUp(ctx, "a@b.c", "secret-password", ""); err != nil {
		t.Fatalf("first signup: %v", err)
	}
	if _, err := svc.SignUp(ctx, "a@b.c", "other-password", ""); !errors.Is(err, ErrDuplicateEmail) {
		t.Fatalf("expected ErrDuplicateEmail, got %v", err)
	}
}

func TestLoginWrongPassword(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(newFakeUserStore())

	if _, err := svc.SignUp(ctx, "a@b.c", "secret-password", ""); err != nil {
		t.Fatalf("signup: %v", err)
	}
	if _, _, err := svc.Login(ctx, "a@b.c", "wrong"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}
	if _, _, err := svc.Login(ctx, "nobody@b.c", "whatever"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials for unknown user, got %v", err)
	}
}

func TestValidateTokenRejectsGarbage(t *testing.T) {
	svc := newTestService(newFakeUserStore())
	if _, err := svc.ValidateToken("not.a.token"); !errors.Is(err, core.ErrUnauthenticated) {
		t.Fatalf("expected ErrUnauthenticated, got %v", err)
	}
}

func TestCurrentUserRestoresSession(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(newFakeUserStore())

	user, err := svc.SignUp(ctx, "a@b.c", "secret-password", "A")
	if err != nil {
		t.Fatalf("signup: %v", err)
	}
	token, _, err := svc.Login(ctx, "a@b.c", "secret-password")
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	got, err := svc.CurrentUser(ctx, token)
	if err != nil {
		t.Fatalf("current user: %v", err)
	}
	if got.ID != user.ID || got.Email != user.Email {
		t.Fatalf("restored %+v, want %+v", got, user)
	}
}
