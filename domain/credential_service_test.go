package domain

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"
)

func newTestCredentials(fs *fakeStore) *CredentialService {
	return NewCredentialService(fs, fs, bcrypt.MinCost, time.Hour)
}

func TestRegisterThenAuthenticate(t *testing.T) {
	fs := newFakeStore()
	svc := newTestCredentials(fs)
	ctx := context.Background()

	u, err := svc.Register(ctx, "alice", "pw1")
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if u.ID == 0 {
		t.Fatalf("expected id to be assigned")
	}
	if u.PasswordHash == "pw1" || !strings.HasPrefix(u.PasswordHash, "$2") {
		t.Fatalf("password not hashed: %q", u.PasswordHash)
	}

	sess, err := svc.Authenticate(ctx, "alice", "pw1")
	if err != nil {
		t.Fatalf("authenticate: %v", err)
	}
	if sess.UserID != u.ID || sess.Username != "alice" || sess.ID == "" {
		t.Fatalf("unexpected session: %#v", sess)
	}

	resolved, err := svc.ResolveSession(ctx, sess.ID)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if resolved.ID != u.ID {
		t.Fatalf("resolved user %d, want %d", resolved.ID, u.ID)
	}
}

func TestRegisterDuplicateUsername(t *testing.T) {
	svc := newTestCredentials(newFakeStore())
	ctx := context.Background()

	if _, err := svc.Register(ctx, "alice", "pw1"); err != nil {
		t.Fatalf("register: %v", err)
	}
	if _, err := svc.Register(ctx, "alice", "other"); !errors.Is(err, ErrDuplicateUsername) {
		t.Fatalf("expected ErrDuplicateUsername, got %v", err)
	}
	if _, err := svc.Register(ctx, "Alice", "pw1"); err != nil {
		t.Fatalf("usernames are case-sensitive, got %v", err)
	}
}

func TestRegisterValidation(t *testing.T) {
	tests := []struct {
		name     string
		username string
		password string
		field    string
	}{
		{name: "empty username", username: "", password: "pw", field: "username"},
		{name: "blank username", username: "  ", password: "pw", field: "username"},
		{name: "long username", username: strings.Repeat("u", MaxUsernameLength+1), password: "pw", field: "username"},
		{name: "empty password", username: "alice", password: "", field: "password"},
		{name: "long password", username: "alice", password: strings.Repeat("p", MaxPasswordBytes+1), field: "password"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fs := newFakeStore()
			svc := newTestCredentials(fs)
			_, err := svc.Register(context.Background(), tt.username, tt.password)
			var verr *ValidationError
			if !errors.As(err, &verr) || verr.Field != tt.field {
				t.Fatalf("expected %s validation error, got %v", tt.field, err)
			}
			if len(fs.users) != 0 {
				t.Fatalf("expected no user to be stored")
			}
		})
	}
}

func TestAuthenticateFailuresAreIndistinguishable(t *testing.T) {
	svc := newTestCredentials(newFakeStore())
	ctx := context.Background()
	if _, err := svc.Register(ctx, "alice", "pw1"); err != nil {
		t.Fatalf("register: %v", err)
	}

	_, wrongPw := svc.Authenticate(ctx, "alice", "nope")
	_, unknown := svc.Authenticate(ctx, "mallory", "pw1")
	if !errors.Is(wrongPw, ErrInvalidCredentials) || !errors.Is(unknown, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v / %v", wrongPw, unknown)
	}
	if wrongPw.Error() != unknown.Error() {
		t.Fatalf("error text reveals account existence: %q vs %q", wrongPw, unknown)
	}
}

func TestEndSessionIsIdempotent(t *testing.T) {
	fs := newFakeStore()
	svc := newTestCredentials(fs)
	ctx := context.Background()
	if _, err := svc.Register(ctx, "alice", "pw1"); err != nil {
		t.Fatalf("register: %v", err)
	}
	sess, err := svc.Authenticate(ctx, "alice", "pw1")
	if err != nil {
		t.Fatalf("authenticate: %v", err)
	}

	for i := 0; i < 2; i++ {
		if err := svc.EndSession(ctx, sess.ID); err != nil {
			t.Fatalf("end session (%d): %v", i, err)
		}
	}
	if _, err := svc.ResolveSession(ctx, sess.ID); !errors.Is(err, ErrUnauthenticated) {
		t.Fatalf("expected ErrUnauthenticated after logout, got %v", err)
	}
}

func TestResolveSessionExpired(t *testing.T) {
	fs := newFakeStore()
	svc := newTestCredentials(fs)
	ctx := context.Background()
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	svc.now = fixedClock(start)

	if _, err := svc.Register(ctx, "alice", "pw1"); err != nil {
		t.Fatalf("register: %v", err)
	}
	sess, err := svc.Authenticate(ctx, "alice", "pw1")
	if err != nil {
		t.Fatalf("authenticate: %v", err)
	}

	svc.now = fixedClock(start.Add(time.Hour))
	if _, err := svc.ResolveSession(ctx, sess.ID); !errors.Is(err, ErrUnauthenticated) {
		t.Fatalf("expected expired session to be rejected, got %v", err)
	}
}

func TestResolveSessionUnknown(t *testing.T) {
	svc := newTestCredentials(newFakeStore())
	for _, id := range []string{"", "does-not-exist"} {
		if _, err := svc.ResolveSession(context.Background(), id); !errors.Is(err, ErrUnauthenticated) {
			t.Fatalf("ResolveSession(%q): expected ErrUnauthenticated, got %v", id, err)
		}
	}
}
