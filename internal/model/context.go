package model

import (
	"sort"
	"time"
)

// Partition identifies which slice of the retrieved context a fragment
// belongs to.
type Partition string

const (
	PartitionSpeakerHistory Partition = "speaker_history" // Prior statements by the same speaker
	PartitionSubjectContext Partition = "subject_context" // Bill text, amendments, motions
	PartitionRelatedRecords Partition = "related_records" // Votes, questions, related statements
)

// Fragment is one retrieved document fragment with its own source reference
// and similarity score against the target statement.
type Fragment struct {
	ID        string    `json:"id"`
	Text      string    `json:"text"`
	Source    SourceRef `json:"source"`
	Score     float64   `json:"score"`     // Similarity in [0,1]
	Partition Partition `json:"partition"`
}

// ContextBundle is the ephemeral context assembled for a single analysis
// request. It is built fresh per attempt and never mutated after construction.
type ContextBundle struct {
	StatementID string     `json:"statement_id"`
	Fragments   []Fragment `json:"fragments"`
	Degraded    bool       `json:"degraded"` // Semantic store was unreachable
	RetrievedAt time.Time  `json:"retrieved_at"`
}

// FragmentIDs returns the fragment identifiers in sorted order so that the
// same retrieval snapshot always yields the same cache key.
func (b ContextBundle) FragmentIDs() []string {
	ids := make([]string, 0, len(b.Fragments))
	for _, f := range b.Fragments {
		ids = append(ids, f.ID)
	}
	sort.Strings(ids)
	return ids
}

// Fragment returns the fragment with the given id, if present.
func (b ContextBundle) Fragment(id string) (Fragment, bool) {
	for _, f := range b.Fragments {
		if f.ID == id {
			return f, true
		}
	}
	return Fragment{}, false
}

// ByPartition returns the fragments belonging to a single partition,
// preserving retrieval order.
func (b ContextBundle) ByPartition(p Partition) []Fragment {
	var out []Fragment
	for _, f := range b.Fragments {
		if f.Partition == p {
			out = append(out, f)
		}
	}
	return out
}
