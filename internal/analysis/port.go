// Package analysis is the port to the external structured-classification
// capability. The engine builds a deterministic request, and treats whatever
// comes back as untrusted until it parses, validates, and is verified.
package analysis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"

	"github.com/parlwatch/verity/internal/model"
)

// Sentinel errors for the failure taxonomy. Callers classify with errors.Is.
var (
	ErrMalformedResponse = errors.New("malformed capability response")
	ErrCapabilityTimeout = errors.New("capability timeout")
)

// Provider is the pluggable classification capability. Implementations must
// be safe for concurrent use.
type Provider interface {
	// Name returns the provider name for audit entries.
	Name() string

	// Analyze sends one request and returns the raw structured verdict.
	// The response is already parsed and shape-validated; it is NOT yet
	// verified against source text.
	Analyze(ctx context.Context, req model.AnalysisRequest) (*model.RawResult, error)

	// IsAvailable checks the provider is configured and reachable.
	IsAvailable(ctx context.Context) bool
}

// BuildRequest assembles the deterministic request payload: statement text,
// a bounded serialization of the bundle, and the schema version. Identical
// statement and context snapshot always produce an identical request.
func BuildRequest(stmt model.Statement, bundle *model.ContextBundle, maxContext int) model.AnalysisRequest {
	req := model.AnalysisRequest{
		StatementID:   stmt.ID,
		StatementText: stmt.Text,
		SchemaVersion: model.SchemaVersion,
	}
	if bundle == nil {
		return req
	}
	// Partition order is fixed, so the serialization is stable.
	for _, p := range []model.Partition{
		model.PartitionSpeakerHistory,
		model.PartitionSubjectContext,
		model.PartitionRelatedRecords,
	} {
		for _, f := range bundle.ByPartition(p) {
			if maxContext > 0 && len(req.Context) >= maxContext {
				return req
			}
			req.Context = append(req.Context, model.ContextFragment{
				Text:      f.Text,
				SourceRef: f.ID,
			})
		}
	}
	return req
}

// wireResponse is the only response shape the port accepts. Anything else is
// a hard failure. Free text the capability embeds outside these fields never
// leaves this package.
type wireResponse struct {
	Labels struct {
		Sentiment string `json:"sentiment,omitempty" validate:"omitempty,max=64"`
		Quality   string `json:"quality,omitempty" validate:"omitempty,max=64"`
		Topic     string `json:"topic,omitempty" validate:"omitempty,max=128"`
	} `json:"labels"`
	Confidences map[string]float64 `json:"confidences" validate:"required,dive,gte=0,lte=1"`
	Citations []struct {
		Quote     string `json:"quote" validate:"required"`
		SourceRef string `json:"source_ref" validate:"required"`
	} `json:"citations" validate:"omitempty,dive"`
}

var validate = validator.New()

// ParseResponse decodes and shape-validates a capability response. Unknown
// fields are discarded; a body that fails to decode or validate is
// ErrMalformedResponse.
func ParseResponse(body []byte) (*model.RawResult, error) {
	var wire wireResponse
	if err := json.Unmarshal(body, &wire); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	if err := validate.Struct(wire); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}

	out := &model.RawResult{
		Labels: model.Labels{
			Sentiment: wire.Labels.Sentiment,
			Quality:   wire.Labels.Quality,
			Topic:     wire.Labels.Topic,
		},
		Confidences: wire.Confidences,
	}
	for _, c := range wire.Citations {
		out.Citations = append(out.Citations, model.Citation{
			Quote:     c.Quote,
			SourceRef: c.SourceRef,
		})
	}

	// Non-neutral classifications must come with citations.
	if !out.Labels.IsNeutral() && len(out.Citations) == 0 {
		return nil, fmt.Errorf("%w: non-neutral classification without citations", ErrMalformedResponse)
	}
	return out, nil
}
