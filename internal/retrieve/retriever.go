// Package retrieve assembles the bounded context bundle for a target
// statement: speaker history, subject-document context, and related records,
// ranked by similarity after metadata filtering.
package retrieve

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/parlwatch/verity/internal/model"
	"github.com/parlwatch/verity/internal/semstore"
)

// ErrRetrievalUnavailable wraps embedder and store failures that degrade a
// bundle. It never aborts an attempt; it names the degradation cause in logs
// and the audit trail.
var ErrRetrievalUnavailable = errors.New("retrieval unavailable")

// Retriever builds context bundles from the semantic store. Read-only: it
// has no side effects on the store.
type Retriever struct {
	store    semstore.Store
	embedder semstore.Embedder
	cfg      model.RetrievalConfig
	log      zerolog.Logger
	now      func() time.Time // injectable for tests
}

// NewRetriever creates a retriever.
func NewRetriever(store semstore.Store, embedder semstore.Embedder, cfg model.RetrievalConfig, log zerolog.Logger) *Retriever {
	if cfg.TopK <= 0 {
		cfg.TopK = 8
	}
	if cfg.MinSimilarity <= 0 {
		cfg.MinSimilarity = 0.5
	}
	return &Retriever{
		store:    store,
		embedder: embedder,
		cfg:      cfg,
		log:      log.With().Str("component", "retriever").Logger(),
		now:      time.Now,
	}
}

// Retrieve assembles a fresh bundle for the statement. If the semantic store
// or the embedder is unreachable the bundle comes back empty and marked
// degraded rather than failing the attempt: downstream confidence is capped
// instead.
func (r *Retriever) Retrieve(ctx context.Context, stmt model.Statement) *model.ContextBundle {
	bundle := &model.ContextBundle{
		StatementID: stmt.ID,
		RetrievedAt: r.now().UTC(),
	}

	embedding, err := r.embedder.Embed(ctx, stmt.Text)
	if err != nil {
		err = fmt.Errorf("%w: embed: %v", ErrRetrievalUnavailable, err)
		r.log.Warn().Err(err).Str("statement_id", stmt.ID).Msg("degraded bundle")
		bundle.Degraded = true
		return bundle
	}

	type partitionQuery struct {
		partition model.Partition
		filters   semstore.Filters
	}
	queries := []partitionQuery{
		{
			partition: model.PartitionSpeakerHistory,
			filters: semstore.Filters{
				SpeakerRef: stmt.SpeakerRef,
				Kind:       model.PartitionSpeakerHistory,
				ExcludeID:  stmt.ID,
			},
		},
		{
			partition: model.PartitionSubjectContext,
			filters: semstore.Filters{
				SubjectRef: stmt.SubjectRef,
				Kind:       model.PartitionSubjectContext,
			},
		},
		{
			partition: model.PartitionRelatedRecords,
			filters: semstore.Filters{
				SubjectRef: stmt.SubjectRef,
				Kind:       model.PartitionRelatedRecords,
				After:      r.now().Add(-r.cfg.DateWindow),
				ExcludeID:  stmt.ID,
			},
		},
	}

	for _, q := range queries {
		frags, err := r.store.Search(ctx, embedding, q.filters, r.cfg.TopK)
		if err != nil {
			err = fmt.Errorf("%w: search: %v", ErrRetrievalUnavailable, err)
			r.log.Warn().Err(err).
				Str("statement_id", stmt.ID).
				Str("partition", string(q.partition)).
				Msg("degraded bundle")
			bundle.Degraded = true
			continue
		}
		for _, f := range frags {
			if f.Score < r.cfg.MinSimilarity {
				continue // Irrelevant material dilutes context
			}
			f.Partition = q.partition
			bundle.Fragments = append(bundle.Fragments, f)
		}
	}

	r.log.Debug().
		Str("statement_id", stmt.ID).
		Int("fragments", len(bundle.Fragments)).
		Bool("degraded", bundle.Degraded).
		Msg("context bundle assembled")
	return bundle
}
