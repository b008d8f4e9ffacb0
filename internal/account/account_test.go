package account_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"golang.org/x/crypto/bcrypt"

	"github.com/MrWong99/voxfix/internal/account"
)

func newService(t *testing.T) (*account.Service, *account.MemoryStore) {
	t.Helper()
	store := account.NewMemoryStore()
	return account.NewService(store, account.WithCost(bcrypt.MinCost)), store
}

func signup(email string) account.SignupRequest {
	return account.SignupRequest{
		Name:            "Ann",
		Email:           email,
		Password:        "hunter22",
		ConfirmPassword: "hunter22",
	}
}

func TestSignupThenLogin(t *testing.T) {
	t.Parallel()

	svc, store := newService(t)
	ctx := context.Background()

	u, err := svc.Signup(ctx, signup(" ann@example.com "))
	if err != nil {
		t.Fatalf("Signup: %v", err)
	}
	if u.ID == "" || u.Email != "ann@example.com" || u.Name != "Ann" {
		t.Errorf("Signup = %+v", u)
	}

	stored, err := store.ByEmail(ctx, "ann@example.com")
	if err != nil {
		t.Fatalf("ByEmail: %v", err)
	}
	if string(stored.PasswordHash) == "hunter22" {
		t.Error("password stored in plain text")
	}

	got, err := svc.Login(ctx, "ann@example.com", "hunter22")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if got.ID != u.ID {
		t.Errorf("Login id = %q, want %q", got.ID, u.ID)
	}
}

func TestSignup_PasswordMismatch(t *testing.T) {
	t.Parallel()

	svc, store := newService(t)
	req := signup("ann@example.com")
	req.ConfirmPassword = "hunter23"

	_, err := svc.Signup(context.Background(), req)
	var ve *account.ValidationError
	if !errors.As(err, &ve) || ve.Field != "confirmPassword" {
		t.Fatalf("Signup = %v, want ValidationError(confirmPassword)", err)
	}
	if _, err := store.ByEmail(context.Background(), "ann@example.com"); !errors.Is(err, account.ErrNotFound) {
		t.Errorf("user stored despite mismatch: %v", err)
	}
}

func TestSignup_Invalid(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		edit  func(*account.SignupRequest)
		field string
	}{
		{"no name", func(r *account.SignupRequest) { r.Name = "  " }, "name"},
		{"bad email", func(r *account.SignupRequest) { r.Email = "ann" }, "email"},
		{"empty password", func(r *account.SignupRequest) { r.Password, r.ConfirmPassword = "", "" }, "password"},
		{"long password", func(r *account.SignupRequest) {
			r.Password = strings.Repeat("x", 73)
			r.ConfirmPassword = r.Password
		}, "password"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			svc, _ := newService(t)
			req := signup("ann@example.com")
			tc.edit(&req)
			_, err := svc.Signup(context.Background(), req)
			var ve *account.ValidationError
			if !errors.As(err, &ve) || ve.Field != tc.field {
				t.Errorf("Signup = %v, want ValidationError(%s)", err, tc.field)
			}
		})
	}
}

func TestSignup_Duplicate(t *testing.T) {
	t.Parallel()

	svc, _ := newService(t)
	ctx := context.Background()
	if _, err := svc.Signup(ctx, signup("ann@example.com")); err != nil {
		t.Fatalf("Signup: %v", err)
	}
	if _, err := svc.Signup(ctx, signup("ann@example.com")); !errors.Is(err, account.ErrUserExists) {
		t.Errorf("second Signup = %v, want ErrUserExists", err)
	}
}

func TestSignup_ConcurrentSameEmail(t *testing.T) {
	t.Parallel()

	svc, _ := newService(t)
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		created int
	)
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := svc.Signup(context.Background(), signup("race@example.com")); err == nil {
				mu.Lock()
				created++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	if created != 1 {
		t.Errorf("created %d accounts, want 1", created)
	}
}

func TestLogin_Rejects(t *testing.T) {
	t.Parallel()

	svc, _ := newService(t)
	ctx := context.Background()
	if _, err := svc.Signup(ctx, signup("ann@example.com")); err != nil {
		t.Fatalf("Signup: %v", err)
	}

	if _, err := svc.Login(ctx, "ann@example.com", "wrong"); !errors.Is(err, account.ErrInvalidCredentials) {
		t.Errorf("wrong password = %v, want ErrInvalidCredentials", err)
	}
	if _, err := svc.Login(ctx, "nobody@example.com", "hunter22"); !errors.Is(err, account.ErrInvalidCredentials) {
		t.Errorf("unknown email = %v, want ErrInvalidCredentials", err)
	}
}

type failingStore struct{ err error }

func (f failingStore) Create(context.Context, account.User) error { return f.err }
func (f failingStore) ByEmail(context.Context, string) (account.User, error) {
	return account.User{}, f.err
}

func TestStoreFailure(t *testing.T) {
	t.Parallel()

	boom := errors.New("disk full")
	svc := account.NewService(failingStore{err: boom}, account.WithCost(bcrypt.MinCost))
	ctx := context.Background()

	if _, err := svc.Signup(ctx, signup("ann@example.com")); !errors.Is(err, boom) {
		t.Errorf("Signup = %v, want wrapped %v", err, boom)
	}
	if _, err := svc.Login(ctx, "ann@example.com", "x"); !errors.Is(err, boom) || errors.Is(err, account.ErrInvalidCredentials) {
		t.Errorf("Login = %v, want wrapped %v", err, boom)
	}
}
