// Package verify checks every citation claimed by the classifier against the
// immutable source text it claims to quote. Nothing the capability returns
// is trusted until it survives this package.
package verify

import (
	"github.com/rs/zerolog"

	"github.com/parlwatch/verity/internal/model"
)

// Verifier verifies raw analysis results against source text.
type Verifier struct {
	fuzzyThreshold float64
	degradedCap    float64
	log            zerolog.Logger
}

// NewVerifier creates a verifier with the configured thresholds.
func NewVerifier(cfg model.VerifyConfig, log zerolog.Logger) *Verifier {
	threshold := cfg.FuzzyThreshold
	if threshold <= 0 || threshold > 1 {
		threshold = 0.90
	}
	degradedCap := cfg.DegradedConfidenceCap
	if degradedCap <= 0 || degradedCap > 1 {
		degradedCap = 0.5
	}
	return &Verifier{
		fuzzyThreshold: threshold,
		degradedCap:    degradedCap,
		log:            log.With().Str("component", "verifier").Logger(),
	}
}

// Verify checks each claimed citation in order, keeps the verified ones, and
// derives the aggregate confidence. Acceptable sources are the statement
// itself and fragments inside the bundle; a citation claiming anything else
// is unverified outright.
//
// If zero citations survive while the raw result required them, the whole
// result is rejected: confidence forced to 0 regardless of what the
// capability reported.
func (v *Verifier) Verify(raw *model.RawResult, stmt model.Statement, bundle *model.ContextBundle) model.VerifiedAnalysis {
	out := model.VerifiedAnalysis{
		StatementID: stmt.ID,
		Labels:      raw.Labels,
	}

	weakest := 1.0
	for _, c := range raw.Citations {
		source, ok := v.resolveSource(c.SourceRef, stmt, bundle)
		if !ok {
			v.log.Warn().
				Str("statement_id", stmt.ID).
				Str("source_ref", c.SourceRef).
				Msg("citation claims unknown source, dropped")
			continue
		}

		m := Score(c.Quote, source)
		if m.Score < v.fuzzyThreshold {
			v.log.Debug().
				Str("statement_id", stmt.ID).
				Str("source_ref", c.SourceRef).
				Float64("similarity", m.Score).
				Msg("citation below fuzzy threshold, dropped")
			continue
		}

		quote := c.Quote
		if !m.Exact {
			// The model's quotation was imprecise; the matched source
			// span becomes the canonical quote.
			quote = m.Canonical
		}
		out.Citations = append(out.Citations, model.Citation{
			Quote:      quote,
			SourceRef:  c.SourceRef,
			Similarity: m.Score,
			Verified:   true,
		})
		if m.Score < weakest {
			weakest = m.Score
		}
	}

	citationsRequired := !raw.Labels.IsNeutral() || len(raw.Citations) > 0
	if len(out.Citations) == 0 && citationsRequired {
		out.Confidence = 0
		out.Disposition = model.DispositionRejected
		out.ReviewRequired = true
		return out
	}

	confidence := raw.Confidence()
	if confidence > weakest {
		// A single borderline citation caps the whole result.
		confidence = weakest
	}
	if bundle != nil && bundle.Degraded && confidence > v.degradedCap {
		confidence = v.degradedCap
	}
	out.Confidence = confidence
	return out
}

// resolveSource maps a claimed source identifier to immutable source text.
func (v *Verifier) resolveSource(ref string, stmt model.Statement, bundle *model.ContextBundle) (string, bool) {
	if ref == stmt.ID {
		return stmt.Text, true
	}
	if bundle != nil {
		if f, ok := bundle.Fragment(ref); ok {
			return f.Text, true
		}
	}
	return "", false
}
