// Package ledger deduplicates identical analysis requests, tracks model
// spend against the monthly budget ceiling, and refuses new model calls once
// the ceiling is reached. Cache hits are always served, budget or not.
package ledger

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/rs/zerolog"

	"github.com/parlwatch/verity/internal/metrics"
	"github.com/parlwatch/verity/internal/model"
)

// ErrBudgetExhausted is returned when accumulated spend has reached the
// monthly ceiling. Callers must surface it, not swallow it: the statement is
// deferred to the next billing cycle, never silently dropped.
var ErrBudgetExhausted = errors.New("monthly budget ceiling reached")

const spendPrefix = "spend:"

// Usage is the capability-reported resource consumption for one call.
type Usage struct {
	Model            string
	PromptTokens     int
	CompletionTokens int
}

// CostLedger tracks running monthly spend. The counter is the one piece of
// truly shared mutable state in the engine, so every read and update is
// serialized behind the mutex, and every update is persisted in the same
// badger transaction that stores the result it paid for.
type CostLedger struct {
	db      *badger.DB
	ceiling float64
	rates   map[string]model.TokenRate
	log     zerolog.Logger
	now     func() time.Time

	mu    sync.Mutex
	month string
	spent float64
}

// NewCostLedger opens the ledger and loads the current month's spend.
func NewCostLedger(db *badger.DB, cfg model.BudgetConfig, log zerolog.Logger) (*CostLedger, error) {
	l := &CostLedger{
		db:      db,
		ceiling: cfg.MonthlyCeilingUSD,
		rates:   cfg.Rates,
		log:     log.With().Str("component", "ledger").Logger(),
		now:     time.Now,
	}
	l.month = l.monthKey()
	if err := l.load(); err != nil {
		return nil, err
	}
	return l, nil
}

func (l *CostLedger) monthKey() string {
	return l.now().UTC().Format("2006-01")
}

func (l *CostLedger) load() error {
	return l.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(spendPrefix + l.month))
		if errors.Is(err, badger.ErrKeyNotFound) {
			l.spent = 0
			return nil
		}
		if err != nil {
			return fmt.Errorf("load spend: %w", err)
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &l.spent)
		})
	})
}

// rollover resets the counter when the billing month changes.
// Caller must hold the mutex.
func (l *CostLedger) rollover() {
	if current := l.monthKey(); current != l.month {
		l.log.Info().Str("month", current).Float64("prior_spend", l.spent).Msg("budget cycle reset")
		l.month = current
		l.spent = 0
	}
}

// Reserve checks the ceiling before a new model call. It does not hold
// budget; two racing callers may both pass and both be charged, which is
// acceptable because charges happen after real usage is known and the next
// Reserve sees the updated total.
func (l *CostLedger) Reserve() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.rollover()
	if l.ceiling > 0 && l.spent >= l.ceiling {
		return fmt.Errorf("%w: spent %.4f of %.2f USD in %s", ErrBudgetExhausted, l.spent, l.ceiling, l.month)
	}
	return nil
}

// Cost converts reported usage to USD via the configured rate table.
// Unknown models cost zero and are logged, so a missing rate is visible in
// operations rather than silently inflating the budget.
func (l *CostLedger) Cost(u Usage) float64 {
	rate, ok := l.rates[u.Model]
	if !ok {
		if u.Model != "" {
			l.log.Warn().Str("model", u.Model).Msg("no rate configured for model, charging zero")
		}
		return 0
	}
	return float64(u.PromptTokens)/1000*rate.PromptPer1K +
		float64(u.CompletionTokens)/1000*rate.CompletionPer1K
}

// chargeTxn adds cost to the running spend inside an existing transaction.
// Caller must hold the mutex for the in-memory counter.
func (l *CostLedger) chargeTxn(txn *badger.Txn, cost float64) error {
	data, err := json.Marshal(l.spent + cost)
	if err != nil {
		return err
	}
	return txn.Set([]byte(spendPrefix+l.month), data)
}

// Charge records usage as spend, atomically with fn (typically the cache
// write for the result the call produced).
func (l *CostLedger) Charge(u Usage, fn func(txn *badger.Txn) error) error {
	cost := l.Cost(u)
	l.mu.Lock()
	defer l.mu.Unlock()
	l.rollover()

	err := l.db.Update(func(txn *badger.Txn) error {
		if err := l.chargeTxn(txn, cost); err != nil {
			return err
		}
		if fn != nil {
			return fn(txn)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("charge ledger: %w", err)
	}
	l.spent += cost
	metrics.SpendUSD.Add(cost)
	l.log.Debug().
		Float64("cost_usd", cost).
		Float64("month_spend_usd", l.spent).
		Str("model", u.Model).
		Msg("spend recorded")
	return nil
}

// Spent reports the current month key, accumulated spend, and ceiling.
func (l *CostLedger) Spent() (string, float64, float64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.rollover()
	return l.month, l.spent, l.ceiling
}
