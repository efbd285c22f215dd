package engine

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/rs/zerolog"

	"github.com/parlwatch/verity/internal/analysis"
	"github.com/parlwatch/verity/internal/audit"
	"github.com/parlwatch/verity/internal/gate"
	"github.com/parlwatch/verity/internal/ledger"
	"github.com/parlwatch/verity/internal/model"
	"github.com/parlwatch/verity/internal/review"
	"github.com/parlwatch/verity/internal/verify"
)

type fakeRetriever struct {
	bundle *model.ContextBundle
}

func (f *fakeRetriever) Retrieve(ctx context.Context, stmt model.Statement) *model.ContextBundle {
	if f.bundle != nil {
		b := *f.bundle
		b.StatementID = stmt.ID
		return &b
	}
	return &model.ContextBundle{StatementID: stmt.ID, RetrievedAt: time.Now()}
}

type harness struct {
	engine  *Engine
	audits  *audit.Log
	reviews *review.Queue
	costs   *ledger.CostLedger
	db      *badger.DB
}

func newHarness(t *testing.T, provider analysis.Provider, mutate func(*model.Config)) *harness {
	t.Helper()
	db, err := badger.Open(badger.DefaultOptions("").WithInMemory(true).WithLogger(nil))
	if err != nil {
		t.Fatalf("open badger: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	cfg := model.DefaultConfig()
	cfg.Analysis.Provider = "stub"
	if mutate != nil {
		mutate(cfg)
	}

	nop := zerolog.Nop()
	costs, err := ledger.NewCostLedger(db, cfg.Budget, nop)
	if err != nil {
		t.Fatalf("cost ledger: %v", err)
	}
	cache := ledger.NewResultCache(db, costs, cfg.Cache, nop)
	audits := audit.NewLog(db, nop)
	reviews := review.NewQueue(db, nop)
	verifier := verify.NewVerifier(cfg.Verify, nop)
	eng := New(&fakeRetriever{}, provider, verifier, gate.NewGate(cfg.Gate, nop), audits, reviews, cache, costs, db, cfg, nop)
	return &harness{engine: eng, audits: audits, reviews: reviews, costs: costs, db: db}
}

func publishableFixture(stmt model.Statement) *model.RawResult {
	return &model.RawResult{
		Labels: model.Labels{Sentiment: "critical", Quality: "argument", Topic: "finance"},
		Confidences: map[string]float64{
			"sentiment": 0.95,
			"quality":   0.9,
			"topic":     0.92,
		},
		Citations: []model.Citation{{Quote: stmt.Text, SourceRef: stmt.ID}},
		Model:     "stub",
	}
}

func TestAnalyzeStatement_PublishesAndAudits(t *testing.T) {
	stmt := model.Statement{ID: "stmt-1", Text: "the minister misled the House on the budget figures"}
	h := newHarness(t, &analysis.StubProvider{Fixture: publishableFixture(stmt)}, nil)

	va, err := h.engine.AnalyzeStatement(context.Background(), stmt)
	if err != nil {
		t.Fatalf("AnalyzeStatement: %v", err)
	}
	if va.Disposition != model.DispositionPublished {
		t.Fatalf("disposition = %s, want published", va.Disposition)
	}
	if va.Attempt != 1 {
		t.Errorf("attempt = %d, want 1", va.Attempt)
	}

	pub, err := h.engine.Published(stmt.ID)
	if err != nil {
		t.Fatalf("Published: %v", err)
	}
	if pub == nil || pub.Attempt != 1 {
		t.Fatalf("published result missing or wrong attempt: %+v", pub)
	}
	if pub.PublishedAt.IsZero() {
		t.Error("PublishedAt not set on published result")
	}

	n, err := h.audits.CountForStatement(stmt.ID)
	if err != nil {
		t.Fatalf("CountForStatement: %v", err)
	}
	if n != 1 {
		t.Errorf("audit entries = %d, want exactly 1", n)
	}
	entries, _ := h.audits.Query(model.AuditQuery{StatementID: stmt.ID})
	if entries[0].RawResponse == "" {
		t.Error("full attempt entry should carry the raw response")
	}
	if entries[0].CacheHit {
		t.Error("first attempt must not be marked a cache hit")
	}
}

func TestAnalyzeStatement_LowConfidenceFlagged(t *testing.T) {
	stmt := model.Statement{ID: "stmt-2", Text: "I thank the honourable member for the question"}
	// Default stub verdict carries 0.5 confidence, below the 0.75 gate.
	h := newHarness(t, &analysis.StubProvider{}, nil)

	va, err := h.engine.AnalyzeStatement(context.Background(), stmt)
	if err != nil {
		t.Fatalf("AnalyzeStatement: %v", err)
	}
	if va.Disposition != model.DispositionFlagged {
		t.Fatalf("disposition = %s, want flagged", va.Disposition)
	}

	items, err := h.reviews.List(review.ListFilters{StatementID: stmt.ID})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(items) != 1 {
		t.Fatalf("review items = %d, want 1", len(items))
	}
	if items[0].Reasons[0] != model.ReasonLowConfidence {
		t.Errorf("reason = %s, want low_confidence", items[0].Reasons[0])
	}
	if pub, _ := h.engine.Published(stmt.ID); pub != nil {
		t.Error("flagged result must not be published")
	}
}

func TestAnalyzeStatement_SecondRunServedFromCache(t *testing.T) {
	stmt := model.Statement{ID: "stmt-3", Text: "this bill fails every family in the country"}
	stub := &analysis.StubProvider{Fixture: publishableFixture(stmt)}
	h := newHarness(t, stub, nil)

	if _, err := h.engine.AnalyzeStatement(context.Background(), stmt); err != nil {
		t.Fatalf("first run: %v", err)
	}
	if _, err := h.engine.AnalyzeStatement(context.Background(), stmt); err != nil {
		t.Fatalf("second run: %v", err)
	}
	if got := stub.Calls.Load(); got != 1 {
		t.Fatalf("model calls = %d, want 1 (second run must hit the cache)", got)
	}

	entries, err := h.audits.Query(model.AuditQuery{StatementID: stmt.ID})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("audit entries = %d, want one per attempt", len(entries))
	}
	var hits int
	for _, e := range entries {
		if e.CacheHit {
			hits++
			if e.RawResponse != "" {
				t.Error("cache-hit entry should be lightweight, no raw response")
			}
		}
	}
	if hits != 1 {
		t.Errorf("cache-hit entries = %d, want 1", hits)
	}
}

func TestAnalyzeStatement_ConcurrentCallersSingleModelCall(t *testing.T) {
	stmt := model.Statement{ID: "stmt-4", Text: "the evidence before the committee was unambiguous"}
	provider := &analysis.StubProvider{Fixture: publishableFixture(stmt)}
	h := newHarness(t, provider, nil)

	const callers = 8
	var wg sync.WaitGroup
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = h.engine.AnalyzeStatement(context.Background(), stmt)
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Fatalf("caller %d: %v", i, err)
		}
	}
	if got := provider.Calls.Load(); got != 1 {
		t.Fatalf("model calls = %d, want exactly 1 across concurrent callers", got)
	}
	n, err := h.audits.CountForStatement(stmt.ID)
	if err != nil {
		t.Fatalf("CountForStatement: %v", err)
	}
	if n != callers {
		t.Errorf("audit entries = %d, want one per attempt (%d)", n, callers)
	}
}

func TestAnalyzeStatement_BudgetExhausted(t *testing.T) {
	first := model.Statement{ID: "stmt-5", Text: "the member opposite knows the numbers do not add up"}
	h := newHarness(t, &analysis.StubProvider{Fixture: publishableFixture(first)}, func(cfg *model.Config) {
		cfg.Budget.MonthlyCeilingUSD = 0.000001
		cfg.Budget.Rates = map[string]model.TokenRate{
			"stub": {PromptPer1K: 1, CompletionPer1K: 1},
		}
	})

	if _, err := h.engine.AnalyzeStatement(context.Background(), first); err != nil {
		t.Fatalf("first statement should fit under the ceiling: %v", err)
	}
	if err := h.costs.Charge(ledger.Usage{Model: "stub", PromptTokens: 1000, CompletionTokens: 1000}, nil); err != nil {
		t.Fatalf("Charge: %v", err)
	}

	second := model.Statement{ID: "stmt-6", Text: "a completely different statement requiring a fresh call"}
	_, err := h.engine.AnalyzeStatement(context.Background(), second)
	if !errors.Is(err, ledger.ErrBudgetExhausted) {
		t.Fatalf("err = %v, want ErrBudgetExhausted", err)
	}

	entries, _ := h.audits.Query(model.AuditQuery{StatementID: second.ID})
	if len(entries) != 1 {
		t.Fatalf("audit entries = %d, want 1 failure entry", len(entries))
	}
	if entries[0].FailureKind != model.FailureBudgetExhausted {
		t.Errorf("failure kind = %s, want budget_exhausted", entries[0].FailureKind)
	}
	// Deferred statements are not review material.
	items, _ := h.reviews.List(review.ListFilters{StatementID: second.ID})
	if len(items) != 0 {
		t.Errorf("review items = %d, want none for budget refusal", len(items))
	}

	// Cached results keep serving even at the ceiling.
	stub := &analysis.StubProvider{Fixture: publishableFixture(first)}
	h.engine.provider = stub
	if _, err := h.engine.AnalyzeStatement(context.Background(), first); err != nil {
		t.Fatalf("cache hit under exhausted budget: %v", err)
	}
	if got := stub.Calls.Load(); got != 0 {
		t.Errorf("model calls = %d, want 0 for cached statement", got)
	}
}

func TestAnalyzeStatement_MalformedAfterRetries(t *testing.T) {
	stmt := model.Statement{ID: "stmt-7", Text: "order, order, the member will resume their seat"}
	stub := &analysis.StubProvider{Err: analysis.ErrMalformedResponse}
	h := newHarness(t, stub, func(cfg *model.Config) {
		cfg.Analysis.MaxRetries = 2
	})

	_, err := h.engine.AnalyzeStatement(context.Background(), stmt)
	if !errors.Is(err, analysis.ErrMalformedResponse) {
		t.Fatalf("err = %v, want ErrMalformedResponse", err)
	}
	if got := stub.Calls.Load(); got != 3 {
		t.Errorf("model calls = %d, want initial + 2 retries", got)
	}

	entries, _ := h.audits.Query(model.AuditQuery{StatementID: stmt.ID})
	if len(entries) != 1 || entries[0].FailureKind != model.FailureMalformedResponse {
		t.Fatalf("want one malformed_response audit entry, got %+v", entries)
	}
	items, _ := h.reviews.List(review.ListFilters{StatementID: stmt.ID})
	if len(items) != 1 || items[0].Reasons[0] != model.ReasonMalformedResponse {
		t.Fatalf("want one malformed_response review item, got %+v", items)
	}
}

func TestAnalyzeStatement_DegradedRetrievalAudited(t *testing.T) {
	stmt := model.Statement{ID: "stmt-10", Text: "the minister misled the House on the budget figures"}
	h := newHarness(t, &analysis.StubProvider{Fixture: publishableFixture(stmt)}, nil)
	h.engine.retriever = &fakeRetriever{bundle: &model.ContextBundle{Degraded: true}}

	va, err := h.engine.AnalyzeStatement(context.Background(), stmt)
	if err != nil {
		t.Fatalf("AnalyzeStatement: %v", err)
	}
	// Degraded context caps confidence below the publish threshold.
	if va.Disposition == model.DispositionPublished {
		t.Fatalf("degraded-context result must not publish, got %s", va.Disposition)
	}

	entries, err := h.audits.Query(model.AuditQuery{StatementID: stmt.ID})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("audit entries = %d, want 1", len(entries))
	}
	if entries[0].FailureKind != model.FailureRetrievalUnavailable {
		t.Errorf("failure kind = %s, want retrieval_unavailable", entries[0].FailureKind)
	}
}

func TestAnalyzeStatement_CacheWriteFailureSingleAuditEntry(t *testing.T) {
	stmt := model.Statement{ID: "stmt-11", Text: "the contract figures were tabled in full"}
	h := newHarness(t, &analysis.StubProvider{Fixture: publishableFixture(stmt)}, nil)

	// A result cache over an already-closed store: the pipeline completes
	// and audits the attempt, then the cache write fails.
	nop := zerolog.Nop()
	cfg := model.DefaultConfig()
	cacheDB, err := badger.Open(badger.DefaultOptions("").WithInMemory(true).WithLogger(nil))
	if err != nil {
		t.Fatalf("open badger: %v", err)
	}
	cacheCosts, err := ledger.NewCostLedger(cacheDB, cfg.Budget, nop)
	if err != nil {
		t.Fatalf("cost ledger: %v", err)
	}
	h.engine.cache = ledger.NewResultCache(cacheDB, cacheCosts, cfg.Cache, nop)
	cacheDB.Close()

	if _, err := h.engine.AnalyzeStatement(context.Background(), stmt); err == nil {
		t.Fatal("expected the cache write failure to surface")
	}

	entries, err := h.audits.Query(model.AuditQuery{StatementID: stmt.ID})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("audit entries = %d, want the computing attempt's single entry", len(entries))
	}
	if entries[0].Disposition == model.DispositionFailed {
		t.Error("the attempt completed; its entry must not be a failure entry")
	}
	if pub, _ := h.engine.Published(stmt.ID); pub == nil {
		t.Error("publish precedes the cache write and must survive its failure")
	}
}

func TestTryPublish_OlderAttemptCannotOverwrite(t *testing.T) {
	h := newHarness(t, &analysis.StubProvider{}, nil)

	newer := &model.VerifiedAnalysis{StatementID: "stmt-8", Attempt: 3, Confidence: 0.9}
	ok, err := h.engine.tryPublish("stmt-8", 3, newer)
	if err != nil || !ok {
		t.Fatalf("newer attempt should publish: ok=%v err=%v", ok, err)
	}

	older := &model.VerifiedAnalysis{StatementID: "stmt-8", Attempt: 1, Confidence: 0.95}
	ok, err = h.engine.tryPublish("stmt-8", 1, older)
	if err != nil {
		t.Fatalf("tryPublish: %v", err)
	}
	if ok {
		t.Fatal("older attempt overwrote a newer publish")
	}

	pub, err := h.engine.Published("stmt-8")
	if err != nil {
		t.Fatalf("Published: %v", err)
	}
	if pub.Attempt != 3 {
		t.Errorf("published attempt = %d, want 3", pub.Attempt)
	}
}

func TestNextAttempt_Monotonic(t *testing.T) {
	h := newHarness(t, &analysis.StubProvider{}, nil)
	for want := uint64(1); want <= 4; want++ {
		got, err := h.engine.nextAttempt("stmt-9")
		if err != nil {
			t.Fatalf("nextAttempt: %v", err)
		}
		if got != want {
			t.Fatalf("attempt = %d, want %d", got, want)
		}
	}
	if got, _ := h.engine.nextAttempt("stmt-other"); got != 1 {
		t.Errorf("counter leaked across statements: got %d", got)
	}
}
