package semstore

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/auth"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/filters"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/graphql"
	"github.com/weaviate/weaviate/entities/models"

	"github.com/parlwatch/verity/internal/model"
)

// WeaviateStore implements Store backed by a Weaviate instance.
// Fragments live in a single class; partitioning and metadata filters are
// expressed as where-clauses so filtering happens before ranking.
type WeaviateStore struct {
	client *weaviate.Client
	class  string
	log    zerolog.Logger
}

// NewWeaviateStore connects to Weaviate using the configured host and scheme.
func NewWeaviateStore(cfg model.SemStoreConfig, log zerolog.Logger) (*WeaviateStore, error) {
	wcfg := weaviate.Config{
		Host:   cfg.Host,
		Scheme: cfg.Scheme,
	}
	if cfg.APIKey != "" {
		wcfg.AuthConfig = auth.ApiKey{Value: cfg.APIKey}
	}
	client, err := weaviate.NewClient(wcfg)
	if err != nil {
		return nil, fmt.Errorf("create weaviate client: %w", err)
	}
	class := cfg.Class
	if class == "" {
		class = "HansardFragment"
	}
	return &WeaviateStore{
		client: client,
		class:  class,
		log:    log.With().Str("component", "semstore").Logger(),
	}, nil
}

// EnsureSchema creates the fragment class if it does not exist yet.
func (s *WeaviateStore) EnsureSchema(ctx context.Context) error {
	exists, err := s.client.Schema().ClassExistenceChecker().WithClassName(s.class).Do(ctx)
	if err != nil {
		return fmt.Errorf("check class %s: %w", s.class, err)
	}
	if exists {
		return nil
	}

	class := &models.Class{
		Class:      s.class,
		Vectorizer: "none", // Embeddings are computed by the engine
		Properties: []*models.Property{
			{Name: "fragmentId", DataType: []string{"text"}},
			{Name: "content", DataType: []string{"text"}},
			{Name: "sourceUrl", DataType: []string{"text"}},
			{Name: "sourceHash", DataType: []string{"text"}},
			{Name: "page", DataType: []string{"int"}},
			{Name: "line", DataType: []string{"int"}},
			{Name: "recordKind", DataType: []string{"text"}},
			{Name: "speakerRef", DataType: []string{"text"}},
			{Name: "subjectRef", DataType: []string{"text"}},
			{Name: "spokenAt", DataType: []string{"date"}},
		},
	}
	if err := s.client.Schema().ClassCreator().WithClass(class).Do(ctx); err != nil {
		return fmt.Errorf("create class %s: %w", s.class, err)
	}
	s.log.Info().Str("class", s.class).Msg("created semantic store schema")
	return nil
}

// Search runs a nearVector query with the metadata filters applied as a
// where-clause, requesting certainty so scores are always in [0,1].
func (s *WeaviateStore) Search(ctx context.Context, embedding []float32, f Filters, topK int) ([]model.Fragment, error) {
	if topK <= 0 {
		topK = 8
	}

	where := buildWhere(f)

	nearVector := s.client.GraphQL().NearVectorArgBuilder().
		WithVector(embedding)

	fields := []graphql.Field{
		{Name: "fragmentId"},
		{Name: "content"},
		{Name: "sourceUrl"},
		{Name: "sourceHash"},
		{Name: "page"},
		{Name: "line"},
		{Name: "recordKind"},
		{Name: "_additional", Fields: []graphql.Field{
			{Name: "certainty"},
		}},
	}

	query := s.client.GraphQL().Get().
		WithClassName(s.class).
		WithFields(fields...).
		WithNearVector(nearVector).
		WithLimit(topK)
	if where != nil {
		query = query.WithWhere(where)
	}

	result, err := query.Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("weaviate search: %w", err)
	}
	if len(result.Errors) > 0 {
		return nil, fmt.Errorf("weaviate search: %s", result.Errors[0].Message)
	}

	return parseFragments(result, s.class)
}

// Upsert writes one fragment with its embedding and filter metadata.
func (s *WeaviateStore) Upsert(ctx context.Context, frag model.Fragment, embedding []float32, spokenAt time.Time, speakerRef, subjectRef string) error {
	props := map[string]interface{}{
		"fragmentId": frag.ID,
		"content":    frag.Text,
		"sourceUrl":  frag.Source.URL,
		"sourceHash": frag.Source.ContentHash,
		"page":       frag.Source.Page,
		"line":       frag.Source.Line,
		"recordKind": string(frag.Partition),
		"speakerRef": speakerRef,
		"subjectRef": subjectRef,
		"spokenAt":   spokenAt.UTC().Format(time.RFC3339),
	}

	_, err := s.client.Data().Creator().
		WithClassName(s.class).
		WithProperties(props).
		WithVector(embedding).
		Do(ctx)
	if err != nil {
		return fmt.Errorf("upsert fragment %s: %w", frag.ID, err)
	}
	return nil
}

// buildWhere combines the non-zero filters with AND. Returns nil when no
// filter applies.
func buildWhere(f Filters) *filters.WhereBuilder {
	var operands []*filters.WhereBuilder

	if f.SpeakerRef != "" {
		operands = append(operands, filters.Where().
			WithPath([]string{"speakerRef"}).
			WithOperator(filters.Equal).
			WithValueString(f.SpeakerRef))
	}
	if f.SubjectRef != "" {
		operands = append(operands, filters.Where().
			WithPath([]string{"subjectRef"}).
			WithOperator(filters.Equal).
			WithValueString(f.SubjectRef))
	}
	if f.Kind != "" {
		operands = append(operands, filters.Where().
			WithPath([]string{"recordKind"}).
			WithOperator(filters.Equal).
			WithValueString(string(f.Kind)))
	}
	if !f.After.IsZero() {
		operands = append(operands, filters.Where().
			WithPath([]string{"spokenAt"}).
			WithOperator(filters.GreaterThanEqual).
			WithValueDate(f.After))
	}
	if f.ExcludeID != "" {
		operands = append(operands, filters.Where().
			WithPath([]string{"fragmentId"}).
			WithOperator(filters.NotEqual).
			WithValueString(f.ExcludeID))
	}

	switch len(operands) {
	case 0:
		return nil
	case 1:
		return operands[0]
	default:
		return filters.Where().
			WithOperator(filters.And).
			WithOperands(operands)
	}
}

// parseFragments unpacks the GraphQL response into fragments.
func parseFragments(result *models.GraphQLResponse, class string) ([]model.Fragment, error) {
	data, ok := result.Data["Get"].(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("unexpected response shape: missing Get")
	}
	rows, ok := data[class].([]interface{})
	if !ok {
		return []model.Fragment{}, nil
	}

	out := make([]model.Fragment, 0, len(rows))
	for _, row := range rows {
		obj, ok := row.(map[string]interface{})
		if !ok {
			continue
		}
		frag := model.Fragment{
			ID:   str(obj["fragmentId"]),
			Text: str(obj["content"]),
			Source: model.SourceRef{
				URL:         str(obj["sourceUrl"]),
				ContentHash: str(obj["sourceHash"]),
				Page:        asInt(obj["page"]),
				Line:        asInt(obj["line"]),
			},
			Partition: model.Partition(str(obj["recordKind"])),
		}
		if add, ok := obj["_additional"].(map[string]interface{}); ok {
			if c, ok := add["certainty"].(float64); ok {
				frag.Score = c
			}
		}
		out = append(out, frag)
	}
	return out, nil
}

func str(v interface{}) string {
	s, _ := v.(string)
	return s
}

func asInt(v interface{}) int {
	f, _ := v.(float64)
	return int(f)
}
