package ledger

import (
	"errors"
	"math"
	"sync"
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

// centsEqual compares USD amounts without tripping over float rounding.
func centsEqual(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func testBudget() model.BudgetConfig {
	return model.BudgetConfig{
		MonthlyCeilingUSD: 1.0,
		Rates: map[string]model.TokenRate{
			"gpt-4o-mini": {PromptPer1K: 0.1, CompletionPer1K: 0.2},
		},
	}
}

func TestCost(t *testing.T) {
	l, err := NewCostLedger(openTestDB(t), testBudget(), zerolog.Nop())
	if err != nil {
		t.Fatalf("new ledger: %v", err)
	}

	got := l.Cost(Usage{Model: "gpt-4o-mini", PromptTokens: 2000, CompletionTokens: 1000})
	want := 0.1*2 + 0.2*1
	if !centsEqual(got, want) {
		t.Errorf("cost = %f, want %f", got, want)
	}

	if c := l.Cost(Usage{Model: "unpriced-model", PromptTokens: 5000}); c != 0 {
		t.Errorf("unpriced model must cost zero, got %f", c)
	}
}

func TestCharge_PersistsAcrossReopen(t *testing.T) {
	db := openTestDB(t)
	l, err := NewCostLedger(db, testBudget(), zerolog.Nop())
	if err != nil {
		t.Fatalf("new ledger: %v", err)
	}

	if err := l.Charge(Usage{Model: "gpt-4o-mini", PromptTokens: 3000}, nil); err != nil {
		t.Fatalf("charge: %v", err)
	}

	// A second ledger over the same db must see the spend.
	l2, err := NewCostLedger(db, testBudget(), zerolog.Nop())
	if err != nil {
		t.Fatalf("reopen ledger: %v", err)
	}
	_, spent, _ := l2.Spent()
	if !centsEqual(spent, 0.3) {
		t.Errorf("reloaded spend = %f, want 0.3", spent)
	}
}

func TestReserve_BudgetExhausted(t *testing.T) {
	l, err := NewCostLedger(openTestDB(t), testBudget(), zerolog.Nop())
	if err != nil {
		t.Fatalf("new ledger: %v", err)
	}

	if err := l.Reserve(); err != nil {
		t.Fatalf("fresh ledger must accept calls: %v", err)
	}

	// 10k tokens at 0.1/1k = 1.0 USD: exactly the ceiling.
	if err := l.Charge(Usage{Model: "gpt-4o-mini", PromptTokens: 10000}, nil); err != nil {
		t.Fatalf("charge: %v", err)
	}
	if err := l.Reserve(); !errors.Is(err, ErrBudgetExhausted) {
		t.Errorf("expected ErrBudgetExhausted, got %v", err)
	}
}

func TestReserve_ExhaustionHoldsUnderConcurrency(t *testing.T) {
	l, err := NewCostLedger(openTestDB(t), testBudget(), zerolog.Nop())
	if err != nil {
		t.Fatalf("new ledger: %v", err)
	}
	if err := l.Charge(Usage{Model: "gpt-4o-mini", PromptTokens: 10000}, nil); err != nil {
		t.Fatalf("charge: %v", err)
	}

	var wg sync.WaitGroup
	failures := make(chan error, 32)
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			failures <- l.Reserve()
		}()
	}
	wg.Wait()
	close(failures)

	for err := range failures {
		if !errors.Is(err, ErrBudgetExhausted) {
			t.Errorf("concurrent Reserve must fail once exhausted, got %v", err)
		}
	}
}

func TestRollover_ResetsSpend(t *testing.T) {
	l, err := NewCostLedger(openTestDB(t), testBudget(), zerolog.Nop())
	if err != nil {
		t.Fatalf("new ledger: %v", err)
	}
	if err := l.Charge(Usage{Model: "gpt-4o-mini", PromptTokens: 10000}, nil); err != nil {
		t.Fatalf("charge: %v", err)
	}
	if err := l.Reserve(); !errors.Is(err, ErrBudgetExhausted) {
		t.Fatalf("expected exhaustion before rollover, got %v", err)
	}

	// Move the clock into the next month.
	l.now = func() time.Time { return time.Now().UTC().AddDate(0, 1, 0) }

	if err := l.Reserve(); err != nil {
		t.Errorf("new billing month must accept calls again, got %v", err)
	}
	_, spent, _ := l.Spent()
	if spent != 0 {
		t.Errorf("spend must reset on rollover, got %f", spent)
	}
}
