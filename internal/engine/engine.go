// Package engine runs the per-statement analysis pipeline: retrieval,
// classification, citation verification, confidence gating, audit logging,
// and caching. Failures in one statement never abort another; each
// statement's processing is sequential through the stages.
package engine

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/rs/zerolog"

	"github.com/parlwatch/verity/internal/analysis"
	"github.com/parlwatch/verity/internal/audit"
	"github.com/parlwatch/verity/internal/gate"
	"github.com/parlwatch/verity/internal/ledger"
	"github.com/parlwatch/verity/internal/metrics"
	"github.com/parlwatch/verity/internal/model"
	"github.com/parlwatch/verity/internal/retrieve"
	"github.com/parlwatch/verity/internal/review"
	"github.com/parlwatch/verity/internal/verify"
	"github.com/parlwatch/verity/internal/worker"
)

const (
	attemptPrefix   = "attempt:"
	publishedPrefix = "published:"
)

// Retriever assembles context for a statement.
type Retriever interface {
	Retrieve(ctx context.Context, stmt model.Statement) *model.ContextBundle
}

var _ Retriever = (*retrieve.Retriever)(nil)

// Engine wires the pipeline components together.
type Engine struct {
	retriever Retriever
	provider  analysis.Provider
	verifier  *verify.Verifier
	gate      *gate.Gate
	auditLog  *audit.Log
	reviews   *review.Queue
	cache     *ledger.ResultCache
	costs     *ledger.CostLedger
	cfg       *model.Config
	db        *badger.DB
	limiter   *worker.Limiter
	log       zerolog.Logger

	attemptMu sync.Mutex // Serializes the per-statement attempt counter
	now       func() time.Time
}

// New creates an engine over already-constructed components.
func New(
	retriever Retriever,
	provider analysis.Provider,
	verifier *verify.Verifier,
	g *gate.Gate,
	auditLog *audit.Log,
	reviews *review.Queue,
	cache *ledger.ResultCache,
	costs *ledger.CostLedger,
	db *badger.DB,
	cfg *model.Config,
	log zerolog.Logger,
) *Engine {
	return &Engine{
		retriever: retriever,
		provider:  provider,
		verifier:  verifier,
		gate:      g,
		auditLog:  auditLog,
		reviews:   reviews,
		cache:     cache,
		costs:     costs,
		cfg:       cfg,
		db:        db,
		log:       log.With().Str("component", "engine").Logger(),
		now:       time.Now,
	}
}

// SetLimiter installs a shared model-call rate limiter. Without one, calls
// go out unthrottled.
func (e *Engine) SetLimiter(l *worker.Limiter) {
	e.limiter = l
}

// AnalyzeStatement runs one attempt for a statement and returns the verified
// analysis. Exactly one audit entry is recorded for the attempt whatever the
// outcome. A budget-exhausted failure is surfaced as ledger.ErrBudgetExhausted
// so the caller can defer the statement to the next cycle.
func (e *Engine) AnalyzeStatement(ctx context.Context, stmt model.Statement) (*model.VerifiedAnalysis, error) {
	attempt, err := e.nextAttempt(stmt.ID)
	if err != nil {
		return nil, fmt.Errorf("allocate attempt: %w", err)
	}
	metrics.Attempts.Inc()
	log := e.log.With().Str("statement_id", stmt.ID).Uint64("attempt", attempt).Logger()

	bundle := e.retriever.Retrieve(ctx, stmt)
	req := analysis.BuildRequest(stmt, bundle, e.cfg.Analysis.MaxContext)
	key := req.Fingerprint()

	var computed bool
	va, status, err := e.cache.GetOrCompute(ctx, key, func(cctx context.Context) (*model.VerifiedAnalysis, ledger.Usage, error) {
		res, usage, cerr := e.compute(cctx, stmt, bundle, req, attempt)
		if cerr == nil {
			computed = true
		}
		return res, usage, cerr
	})
	if err != nil {
		if computed {
			// compute finished and audited the attempt; the cache or
			// ledger write after it failed. A second entry here would
			// double-count the attempt.
			log.Error().Err(err).Msg("post-compute cache write failed")
		} else {
			e.recordFailure(stmt.ID, attempt, key, err)
		}
		return nil, err
	}

	switch status {
	case ledger.CacheHit, ledger.CacheShared:
		// Re-served results get a lightweight entry referencing the
		// original via the shared fingerprint.
		metrics.CacheHits.Inc()
		_, aerr := e.auditLog.Record(model.AuditLogEntry{
			StatementID: stmt.ID,
			Attempt:     attempt,
			Fingerprint: key,
			Confidence:  va.Confidence,
			Disposition: va.Disposition,
			CacheHit:    true,
		})
		if aerr != nil {
			log.Error().Err(aerr).Msg("audit entry for cache hit failed")
		}
	default:
		// The computing attempt recorded its full entry inside compute.
	}

	log.Info().
		Str("disposition", string(va.Disposition)).
		Float64("confidence", va.Confidence).
		Str("cache", string(status)).
		Msg("analysis attempt complete")
	return va, nil
}

// compute is the cache-miss path: the one place a model call is issued.
func (e *Engine) compute(ctx context.Context, stmt model.Statement, bundle *model.ContextBundle, req model.AnalysisRequest, attempt uint64) (*model.VerifiedAnalysis, ledger.Usage, error) {
	if err := e.costs.Reserve(); err != nil {
		metrics.BudgetRefusals.Inc()
		return nil, ledger.Usage{}, err
	}

	raw, err := e.analyzeWithRetry(ctx, req)
	if err != nil {
		e.flagFailure(stmt.ID, attempt, err)
		return nil, ledger.Usage{}, err
	}

	va := e.verifier.Verify(raw, stmt, bundle)
	va.Attempt = attempt
	va.Fingerprint = req.Fingerprint()

	disposition, reasons := e.gate.Decide(va)
	va.Disposition = disposition
	va.ReviewRequired = disposition != model.DispositionPublished

	if disposition == model.DispositionPublished {
		published, err := e.tryPublish(stmt.ID, attempt, &va)
		if err != nil {
			return nil, ledger.Usage{}, err
		}
		if !published {
			// A newer attempt already published; this result is kept
			// for audit but never becomes canonical.
			e.log.Warn().
				Str("statement_id", stmt.ID).
				Uint64("attempt", attempt).
				Msg("stale attempt completed after a newer publish, suppressed")
		}
	} else {
		if _, err := e.reviews.Flag(va, reasons); err != nil {
			e.log.Error().Err(err).Str("statement_id", stmt.ID).Msg("flagging for review failed")
		}
	}
	metrics.Dispositions.WithLabelValues(string(disposition)).Inc()

	failure := failureKindFor(disposition)
	if failure == model.FailureNone && bundle.Degraded {
		failure = model.FailureRetrievalUnavailable
	}

	rawJSON, _ := json.Marshal(raw)
	if _, err := e.auditLog.Record(model.AuditLogEntry{
		StatementID:       stmt.ID,
		Attempt:           attempt,
		Fingerprint:       va.Fingerprint,
		Provider:          raw.Provider,
		Model:             raw.Model,
		RawResponse:       string(rawJSON),
		CitationsClaimed:  len(raw.Citations),
		CitationsVerified: len(va.Citations),
		Confidence:        va.Confidence,
		Disposition:       disposition,
		FailureKind:       failure,
	}); err != nil {
		return nil, ledger.Usage{}, fmt.Errorf("audit record: %w", err)
	}

	usage := ledger.Usage{
		Model:            raw.Model,
		PromptTokens:     raw.PromptTokens,
		CompletionTokens: raw.CompletionTokens,
	}
	return &va, usage, nil
}

// analyzeWithRetry calls the capability with a bounded retry on timeouts and
// malformed responses.
func (e *Engine) analyzeWithRetry(ctx context.Context, req model.AnalysisRequest) (*model.RawResult, error) {
	retries := e.cfg.Analysis.MaxRetries
	if retries < 0 {
		retries = 0
	}
	var lastErr error
	for i := 0; i <= retries; i++ {
		if e.limiter != nil {
			if err := e.limiter.Wait(ctx, e.provider.Name()); err != nil {
				return nil, fmt.Errorf("rate limit wait: %w", err)
			}
		}
		raw, err := e.provider.Analyze(ctx, req)
		if err == nil {
			return raw, nil
		}
		lastErr = err
		if !errors.Is(err, analysis.ErrCapabilityTimeout) && !errors.Is(err, analysis.ErrMalformedResponse) {
			break
		}
		if ctx.Err() != nil {
			break
		}
		e.log.Warn().Err(err).Int("retry", i+1).Msg("capability failure, retrying")
	}
	return nil, lastErr
}

// flagFailure opens a review item for a capability failure that exhausted
// its retries. Budget refusals are not review material; they resolve on the
// next cycle.
func (e *Engine) flagFailure(statementID string, attempt uint64, err error) {
	var reason model.FlagReason
	switch {
	case errors.Is(err, analysis.ErrCapabilityTimeout):
		reason = model.ReasonCapabilityTimeout
	case errors.Is(err, analysis.ErrMalformedResponse):
		reason = model.ReasonMalformedResponse
	default:
		return
	}
	_, ferr := e.reviews.Flag(model.VerifiedAnalysis{
		StatementID:    statementID,
		Attempt:        attempt,
		Disposition:    model.DispositionFailed,
		ReviewRequired: true,
	}, []model.FlagReason{reason})
	if ferr != nil {
		e.log.Error().Err(ferr).Str("statement_id", statementID).Msg("flagging failed attempt failed")
	}
}

// recordFailure writes the attempt's single audit entry for the error path.
func (e *Engine) recordFailure(statementID string, attempt uint64, fingerprint string, err error) {
	entry := model.AuditLogEntry{
		StatementID: statementID,
		Attempt:     attempt,
		Fingerprint: fingerprint,
		Disposition: model.DispositionFailed,
		FailureKind: classifyFailure(err),
	}
	if _, aerr := e.auditLog.Record(entry); aerr != nil {
		e.log.Error().Err(aerr).Str("statement_id", statementID).Msg("audit entry for failure failed")
	}
	metrics.Dispositions.WithLabelValues(string(model.DispositionFailed)).Inc()
}

func classifyFailure(err error) model.FailureKind {
	switch {
	case errors.Is(err, ledger.ErrBudgetExhausted):
		return model.FailureBudgetExhausted
	case errors.Is(err, analysis.ErrCapabilityTimeout):
		return model.FailureCapabilityTimeout
	case errors.Is(err, analysis.ErrMalformedResponse):
		return model.FailureMalformedResponse
	default:
		return model.FailureKind("error")
	}
}

func failureKindFor(d model.Disposition) model.FailureKind {
	if d == model.DispositionRejected {
		return model.FailureVerification
	}
	return model.FailureNone
}

// nextAttempt increments and returns the statement's monotonically
// increasing attempt counter.
func (e *Engine) nextAttempt(statementID string) (uint64, error) {
	e.attemptMu.Lock()
	defer e.attemptMu.Unlock()

	key := []byte(attemptPrefix + statementID)
	var next uint64
	err := e.db.Update(func(txn *badger.Txn) error {
		item, err := txn.Get(key)
		switch {
		case errors.Is(err, badger.ErrKeyNotFound):
			next = 1
		case err != nil:
			return err
		default:
			if err := item.Value(func(val []byte) error {
				next = binary.BigEndian.Uint64(val) + 1
				return nil
			}); err != nil {
				return err
			}
		}
		buf := make([]byte, 8)
		binary.BigEndian.PutUint64(buf, next)
		return txn.Set(key, buf)
	})
	return next, err
}

// tryPublish makes the attempt's result canonical unless a higher-numbered
// attempt already published: an older in-flight analysis can never
// overwrite a newer one.
func (e *Engine) tryPublish(statementID string, attempt uint64, va *model.VerifiedAnalysis) (bool, error) {
	key := []byte(publishedPrefix + statementID)
	published := false
	err := e.db.Update(func(txn *badger.Txn) error {
		item, err := txn.Get(key)
		if err == nil {
			var current model.VerifiedAnalysis
			if verr := item.Value(func(val []byte) error {
				return json.Unmarshal(val, &current)
			}); verr != nil {
				return verr
			}
			if current.Attempt >= attempt {
				return nil
			}
		} else if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}

		va.PublishedAt = e.now().UTC()
		data, err := json.Marshal(va)
		if err != nil {
			return err
		}
		published = true
		return txn.Set(key, data)
	})
	return published, err
}

// Published returns the canonical verified analysis for a statement, if one
// has been published. Downstream consumers read nothing else.
func (e *Engine) Published(statementID string) (*model.VerifiedAnalysis, error) {
	var va model.VerifiedAnalysis
	err := e.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(publishedPrefix + statementID))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &va)
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &va, nil
}
