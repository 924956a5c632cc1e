package user_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/docsage/docsage/internal/log"
	"github.com/docsage/docsage/internal/testutil"
	"github.com/docsage/docsage/internal/user"
)

func newStore(t *testing.T) *user.Store {
	t.Helper()
	db := testutil.SetupTestDB(t)
	store, err := user.NewStore(db.Pool, log.NewNop())
	if err != nil {
		t.Fatalf("NewStore() error: %v", err)
	}
	return store
}

func TestRegisterAndAuthenticate(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	id, err := store.Register(ctx, "alice@example.com", "correct-horse")
	if err != nil {
		t.Fatalf("Register() error: %v", err)
	}
	if id == "" {
		t.Fatal("Register() returned empty id")
	}

	u, err := store.Authenticate(ctx, "alice@example.com", "correct-horse")
	if err != nil {
		t.Fatalf("Authenticate() error: %v", err)
	}
	if u.ID != id {
		t.Errorf("Authenticate() id = %q, want %q", u.ID, id)
	}
	if u.Email != "alice@example.com" {
		t.Errorf("Authenticate() email = %q", u.Email)
	}
}

func TestRegisterNormalizesEmail(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	if _, err := store.Register(ctx, "  Bob@Example.COM ", "correct-horse"); err != nil {
		t.Fatalf("Register() error: %v", err)
	}

	// Different casing must authenticate and must collide on re-register.
	if _, err := store.Authenticate(ctx, "bob@example.com", "correct-horse"); err != nil {
		t.Fatalf("Authenticate() with normalized email: %v", err)
	}
	if _, err := store.Register(ctx, "BOB@example.com", "other-password"); !errors.Is(err, user.ErrDuplicateEmail) {
		t.Fatalf("Register() duplicate = %v, want ErrDuplicateEmail", err)
	}
}

func TestRegisterValidation(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	tests := []struct {
		name, email, password string
	}{
		{"no at sign", "not-an-email", "correct-horse"},
		{"empty email", "", "correct-horse"},
		{"short password", "carol@example.com", "short"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := store.Register(ctx, tt.email, tt.password); err == nil {
				t.Errorf("Register(%q, %q) did not fail", tt.email, tt.password)
			}
		})
	}
}

func TestAuthenticateFailures(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	if _, err := store.Register(ctx, "dave@example.com", "correct-horse"); err != nil {
		t.Fatalf("Register() error: %v", err)
	}

	tests := []struct {
		name, email, password string
	}{
		{"wrong password", "dave@example.com", "wrong-password"},
		{"unknown email", "nobody@example.com", "correct-horse"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := store.Authenticate(ctx, tt.email, tt.password)
			if !errors.Is(err, user.ErrInvalidCredentials) {
				t.Errorf("Authenticate() = %v, want ErrInvalidCredentials", err)
			}
		})
	}
}

func TestPasswordReset(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	if _, err := store.Register(ctx, "erin@example.com", "old-password"); err != nil {
		t.Fatalf("Register() error: %v", err)
	}

	tok, err := store.BeginReset(ctx, "erin@example.com")
	if err != nil {
		t.Fatalf("BeginReset() error: %v", err)
	}
	if len(tok) < 40 {
		t.Errorf("reset token suspiciously short: %d bytes", len(tok))
	}

	if err := store.CompleteReset(ctx, tok, "new-password"); err != nil {
		t.Fatalf("CompleteReset() error: %v", err)
	}

	// Old password is dead, new one works.
	if _, err := store.Authenticate(ctx, "erin@example.com", "old-password"); !errors.Is(err, user.ErrInvalidCredentials) {
		t.Errorf("old password still authenticates, err = %v", err)
	}
	if _, err := store.Authenticate(ctx, "erin@example.com", "new-password"); err != nil {
		t.Errorf("new password rejected: %v", err)
	}

	// Token is single-use.
	if err := store.CompleteReset(ctx, tok, "third-password"); !errors.Is(err, user.ErrInvalidResetToken) {
		t.Errorf("CompleteReset() reuse = %v, want ErrInvalidResetToken", err)
	}
}

func TestBeginResetUnknownEmail(t *testing.T) {
	store := newStore(t)
	if _, err := store.BeginReset(context.Background(), "ghost@example.com"); !errors.Is(err, user.ErrNotFound) {
		t.Fatalf("BeginReset() = %v, want ErrNotFound", err)
	}
}

func TestCompleteResetConcurrentExactlyOneWins(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	if _, err := store.Register(ctx, "grace@example.com", "old-password"); err != nil {
		t.Fatalf("Register() error: %v", err)
	}
	tok, err := store.BeginReset(ctx, "grace@example.com")
	if err != nil {
		t.Fatalf("BeginReset() error: %v", err)
	}

	// Race several completions of the same token. The conditional UPDATE
	// consumes the token atomically, so exactly one may succeed.
	const racers = 8
	start := make(chan struct{})
	errs := make(chan error, racers)
	var wg sync.WaitGroup
	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			<-start
			errs <- store.CompleteReset(ctx, tok, fmt.Sprintf("new-password-%d", n))
		}(i)
	}
	close(start)
	wg.Wait()
	close(errs)

	var wins, losses int
	for err := range errs {
		switch {
		case err == nil:
			wins++
		case errors.Is(err, user.ErrInvalidResetToken):
			losses++
		default:
			t.Errorf("unexpected CompleteReset() error: %v", err)
		}
	}
	if wins != 1 {
		t.Errorf("successful completions = %d, want exactly 1", wins)
	}
	if losses != racers-1 {
		t.Errorf("rejected completions = %d, want %d", losses, racers-1)
	}
}

func TestCompleteResetRejectsEmptyToken(t *testing.T) {
	store := newStore(t)
	// An empty token must not match accounts whose reset_token is NULL.
	if err := store.CompleteReset(context.Background(), "", "new-password"); !errors.Is(err, user.ErrInvalidResetToken) {
		t.Fatalf("CompleteReset(\"\") = %v, want ErrInvalidResetToken", err)
	}
}

func TestByID(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	id, err := store.Register(ctx, "frank@example.com", "correct-horse")
	if err != nil {
		t.Fatalf("Register() error: %v", err)
	}

	u, err := store.ByID(ctx, id)
	if err != nil {
		t.Fatalf("ByID() error: %v", err)
	}
	if u.Email != "frank@example.com" {
		t.Errorf("ByID() email = %q", u.Email)
	}

	if _, err := store.ByID(ctx, "00000000-0000-0000-0000-000000000000"); !errors.Is(err, user.ErrNotFound) {
		t.Errorf("ByID() unknown = %v, want ErrNotFound", err)
	}
}
