package history_test

import (
	"context"
	"fmt"
	"testing"

	"github.com/docsage/docsage/internal/history"
	"github.com/docsage/docsage/internal/log"
	"github.com/docsage/docsage/internal/testutil"
	"github.com/docsage/docsage/internal/user"
)

func setup(t *testing.T) (*history.Ledger, string) {
	t.Helper()
	db := testutil.SetupTestDB(t)

	users, err := user.NewStore(db.Pool, log.NewNop())
	if err != nil {
		t.Fatalf("NewStore() error: %v", err)
	}
	uid, err := users.Register(context.Background(), "history@example.com", "correct-horse")
	if err != nil {
		t.Fatalf("Register() error: %v", err)
	}

	ledger, err := history.NewLedger(db.Pool, log.NewNop())
	if err != nil {
		t.Fatalf("NewLedger() error: %v", err)
	}
	return ledger, uid
}

func TestAppendAndList(t *testing.T) {
	ledger, uid := setup(t)
	ctx := context.Background()

	for i := 1; i <= 3; i++ {
		q := fmt.Sprintf("question %d", i)
		a := fmt.Sprintf("answer %d", i)
		if err := ledger.Append(ctx, uid, "fastapi", q, a); err != nil {
			t.Fatalf("Append(%d) error: %v", i, err)
		}
	}

	records, err := ledger.List(ctx, uid, "fastapi", 10)
	if err != nil {
		t.Fatalf("List() error: %v", err)
	}
	if len(records) != 3 {
		t.Fatalf("List() returned %d records, want 3", len(records))
	}
	// Newest first.
	if records[0].Question != "question 3" || records[2].Question != "question 1" {
		t.Errorf("records not newest-first: %q .. %q", records[0].Question, records[2].Question)
	}
	for _, r := range records {
		if r.ID == "" || r.CreatedAt.IsZero() {
			t.Errorf("record missing id or timestamp: %+v", r)
		}
	}
}

func TestListScopesNamespaceAndUser(t *testing.T) {
	ledger, uid := setup(t)
	ctx := context.Background()

	if err := ledger.Append(ctx, uid, "fastapi", "q", "a"); err != nil {
		t.Fatalf("Append() error: %v", err)
	}

	records, err := ledger.List(ctx, uid, "django", 10)
	if err != nil {
		t.Fatalf("List() error: %v", err)
	}
	if len(records) != 0 {
		t.Errorf("django history leaked %d fastapi records", len(records))
	}

	records, err = ledger.List(ctx, "00000000-0000-0000-0000-000000000000", "fastapi", 10)
	if err != nil {
		t.Fatalf("List() error: %v", err)
	}
	if len(records) != 0 {
		t.Errorf("history leaked %d records across users", len(records))
	}
}

func TestListLimit(t *testing.T) {
	ledger, uid := setup(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		if err := ledger.Append(ctx, uid, "rails", fmt.Sprintf("q%d", i), "a"); err != nil {
			t.Fatalf("Append() error: %v", err)
		}
	}

	records, err := ledger.List(ctx, uid, "rails", 2)
	if err != nil {
		t.Fatalf("List() error: %v", err)
	}
	if len(records) != 2 {
		t.Errorf("List(limit=2) returned %d records", len(records))
	}
}

func TestAppendValidation(t *testing.T) {
	ledger, uid := setup(t)
	if err := ledger.Append(context.Background(), uid, "fastapi", "", "a"); err == nil {
		t.Error("Append() with empty question did not fail")
	}
	if err := ledger.Append(context.Background(), "", "fastapi", "q", "a"); err == nil {
		t.Error("Append() with empty user did not fail")
	}
}
