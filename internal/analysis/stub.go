package analysis

import (
	"context"
	"strings"
	"sync/atomic"

	"github.com/parlwatch/verity/internal/model"
)

// StubProvider returns deterministic fixtures without any network call.
// Useful in tests and for dry runs against a cold semantic store.
type StubProvider struct {
	// Fixture, when set, is returned verbatim for every request.
	Fixture *model.RawResult
	// Err, when set, is returned for every request.
	Err error
	// Calls counts Analyze invocations, safe for concurrent callers.
	Calls atomic.Int64
}

// Name returns the provider name.
func (p *StubProvider) Name() string { return "stub" }

// IsAvailable always reports true.
func (p *StubProvider) IsAvailable(ctx context.Context) bool { return true }

// Analyze returns the fixture if configured, otherwise a neutral verdict
// with a verbatim citation of the statement's opening words, so the result
// always survives verification.
func (p *StubProvider) Analyze(ctx context.Context, req model.AnalysisRequest) (*model.RawResult, error) {
	p.Calls.Add(1)
	if p.Err != nil {
		return nil, p.Err
	}
	if p.Fixture != nil {
		out := *p.Fixture
		out.Provider = p.Name()
		return &out, nil
	}

	words := strings.Fields(req.StatementText)
	if len(words) > 6 {
		words = words[:6]
	}
	return &model.RawResult{
		Labels:      model.Labels{Sentiment: "neutral", Quality: "unknown", Topic: "unknown"},
		Confidences: map[string]float64{"sentiment": 0.5},
		Citations: []model.Citation{
			{Quote: strings.Join(words, " "), SourceRef: req.StatementID},
		},
		Provider: p.Name(),
		Model:    "stub",
	}, nil
}
