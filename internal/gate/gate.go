// Package gate decides publish-versus-review for verified analyses.
// Thresholds come from configuration; the gate itself holds no judgment.
package gate

import (
	"github.com/rs/zerolog"

	"github.com/parlwatch/verity/internal/model"
)

// Gate routes verified-but-uncertain or unverifiable results into review
// instead of publication.
type Gate struct {
	publishThreshold float64
	log              zerolog.Logger
}

// NewGate creates a gate with the configured publish threshold.
func NewGate(cfg model.GateConfig, log zerolog.Logger) *Gate {
	threshold := cfg.PublishThreshold
	if threshold <= 0 || threshold > 1 {
		threshold = 0.75
	}
	return &Gate{
		publishThreshold: threshold,
		log:              log.With().Str("component", "gate").Logger(),
	}
}

// Decide returns the final disposition for a verified analysis and, when it
// is not publishable, the reasons it must be reviewed.
func (g *Gate) Decide(va model.VerifiedAnalysis) (model.Disposition, []model.FlagReason) {
	if va.Disposition == model.DispositionRejected {
		return model.DispositionRejected, []model.FlagReason{model.ReasonZeroVerifiedCitations}
	}
	if va.Confidence < g.publishThreshold {
		g.log.Debug().
			Str("statement_id", va.StatementID).
			Float64("confidence", va.Confidence).
			Float64("threshold", g.publishThreshold).
			Msg("confidence below publish threshold")
		return model.DispositionFlagged, []model.FlagReason{model.ReasonLowConfidence}
	}
	return model.DispositionPublished, nil
}
