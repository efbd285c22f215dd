// Package semstore provides access to the semantic store holding embedded
// representations of ingested documents: statements, bill versions, votes,
// and questions. The engine only reads it; ingestion writes it through the
// same schema.
package semstore

import (
	"context"
	"time"

	"github.com/parlwatch/verity/internal/model"
)

// Filters narrow a semantic search before ranking by similarity.
// Zero values mean "no constraint".
type Filters struct {
	SpeakerRef string          // Same-author filter
	SubjectRef string          // Same-bill/subject filter
	Kind       model.Partition // Record kind the fragment was ingested as
	After      time.Time       // Date window lower bound
	ExcludeID  string          // Never return the target statement itself
}

// Store is the semantic store port.
type Store interface {
	// Search runs a vector search with metadata filters applied before
	// ranking, returning at most topK fragments ordered by similarity.
	Search(ctx context.Context, embedding []float32, filters Filters, topK int) ([]model.Fragment, error)

	// Upsert writes a fragment and its embedding. Called by ingestion,
	// not by the analysis pipeline, but the schema is shared.
	Upsert(ctx context.Context, frag model.Fragment, embedding []float32, spokenAt time.Time, speakerRef, subjectRef string) error
}

// Embedder computes the vector representation of a piece of text.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}
