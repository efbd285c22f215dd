package review

import (
	"errors"
	"testing"

	"github.com/dgraph-io/badger/v4"
	"github.com/rs/zerolog"

	"github.com/parlwatch/verity/internal/model"
)

func openTestDB(t *testing.T) *badger.DB {
	t.Helper()
	opts := badger.DefaultOptions("").WithInMemory(true).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		t.Fatalf("open badger: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func flagged(t *testing.T, q *Queue, statementID string) model.ReviewItem {
	t.Helper()
	item, err := q.Flag(model.VerifiedAnalysis{
		StatementID: statementID,
		Attempt:     1,
		Disposition: model.DispositionRejected,
	}, []model.FlagReason{model.ReasonZeroVerifiedCitations})
	if err != nil {
		t.Fatalf("flag: %v", err)
	}
	return item
}

func TestFlag_CreatesPendingItem(t *testing.T) {
	q := NewQueue(openTestDB(t), zerolog.Nop())
	item := flagged(t, q, "stmt-1")

	if item.Status != model.ReviewPending {
		t.Errorf("expected pending, got %s", item.Status)
	}
	if item.ID == "" {
		t.Error("item id must be assigned")
	}

	pending, err := q.List(ListFilters{})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(pending) != 1 || pending[0].ID != item.ID {
		t.Errorf("pending list = %+v", pending)
	}
}

func TestResolve_Approve(t *testing.T) {
	q := NewQueue(openTestDB(t), zerolog.Nop())
	item := flagged(t, q, "stmt-1")

	resolved, err := q.Resolve(item.ID, model.ReviewApproved, "reviewer@example.org", "checked against hansard")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if resolved.Status != model.ReviewApproved {
		t.Errorf("expected approved, got %s", resolved.Status)
	}
	if resolved.ResolvedAt.IsZero() {
		t.Error("resolution timestamp must be set")
	}

	pending, err := q.List(ListFilters{})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(pending) != 0 {
		t.Errorf("resolved item must leave the pending list, got %d", len(pending))
	}
}

func TestResolve_TerminalStatesAreFinal(t *testing.T) {
	q := NewQueue(openTestDB(t), zerolog.Nop())
	item := flagged(t, q, "stmt-1")

	if _, err := q.Resolve(item.ID, model.ReviewRejected, "reviewer", ""); err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if _, err := q.Resolve(item.ID, model.ReviewApproved, "reviewer", ""); err == nil {
		t.Error("resolving a terminal item must fail")
	}
}

func TestResolve_Validation(t *testing.T) {
	q := NewQueue(openTestDB(t), zerolog.Nop())
	item := flagged(t, q, "stmt-1")

	if _, err := q.Resolve(item.ID, model.ReviewStatus("maybe"), "reviewer", ""); err == nil {
		t.Error("unknown decision must fail")
	}
	if _, err := q.Resolve(item.ID, model.ReviewApproved, "", ""); err == nil {
		t.Error("missing reviewer identity must fail")
	}
	if _, err := q.Resolve("nope", model.ReviewApproved, "reviewer", ""); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestList_FilterByStatement(t *testing.T) {
	q := NewQueue(openTestDB(t), zerolog.Nop())
	flagged(t, q, "stmt-1")
	flagged(t, q, "stmt-2")

	got, err := q.List(ListFilters{StatementID: "stmt-2"})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(got) != 1 || got[0].StatementID != "stmt-2" {
		t.Errorf("filtered list = %+v", got)
	}
}
