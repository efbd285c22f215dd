package audit

import (
	"testing"
	"time"

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

func TestRecord_AssignsIDAndTimestamp(t *testing.T) {
	l := NewLog(openTestDB(t), zerolog.Nop())

	entry, err := l.Record(model.AuditLogEntry{
		StatementID: "stmt-1",
		Attempt:     1,
		Disposition: model.DispositionPublished,
	})
	if err != nil {
		t.Fatalf("record: %v", err)
	}
	if entry.ID == "" {
		t.Error("entry id must be assigned")
	}
	if entry.RecordedAt.IsZero() {
		t.Error("timestamp must be assigned")
	}
}

func TestQuery_ByStatementAndDisposition(t *testing.T) {
	l := NewLog(openTestDB(t), zerolog.Nop())

	seed := []model.AuditLogEntry{
		{StatementID: "stmt-1", Attempt: 1, Disposition: model.DispositionRejected},
		{StatementID: "stmt-1", Attempt: 2, Disposition: model.DispositionPublished},
		{StatementID: "stmt-2", Attempt: 1, Disposition: model.DispositionPublished},
	}
	for _, e := range seed {
		if _, err := l.Record(e); err != nil {
			t.Fatalf("record: %v", err)
		}
	}

	got, err := l.Query(model.AuditQuery{StatementID: "stmt-1"})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 entries for stmt-1, got %d", len(got))
	}
	if got[0].Attempt != 1 || got[1].Attempt != 2 {
		t.Errorf("entries should iterate in attempt order, got %d then %d", got[0].Attempt, got[1].Attempt)
	}

	published, err := l.Query(model.AuditQuery{Disposition: model.DispositionPublished})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(published) != 2 {
		t.Errorf("expected 2 published entries, got %d", len(published))
	}
}

func TestQuery_DateRange(t *testing.T) {
	l := NewLog(openTestDB(t), zerolog.Nop())

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	stamps := []time.Time{base, base.Add(24 * time.Hour), base.Add(48 * time.Hour)}
	for i, ts := range stamps {
		l.now = func() time.Time { return ts }
		if _, err := l.Record(model.AuditLogEntry{StatementID: "s", Attempt: uint64(i + 1)}); err != nil {
			t.Fatalf("record: %v", err)
		}
	}

	got, err := l.Query(model.AuditQuery{
		From: base.Add(12 * time.Hour),
		To:   base.Add(36 * time.Hour),
	})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(got) != 1 || got[0].Attempt != 2 {
		t.Errorf("expected only the middle entry, got %+v", got)
	}
}

func TestRecord_AppendOnly(t *testing.T) {
	l := NewLog(openTestDB(t), zerolog.Nop())

	// Same statement/attempt recorded twice (e.g. cache hit after the
	// original call) yields two distinct entries, never an overwrite.
	for i := 0; i < 2; i++ {
		if _, err := l.Record(model.AuditLogEntry{StatementID: "s", Attempt: 1}); err != nil {
			t.Fatalf("record: %v", err)
		}
	}
	n, err := l.CountForStatement("s")
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if n != 2 {
		t.Errorf("expected 2 entries, got %d", n)
	}
}
