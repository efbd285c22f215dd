package model

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strings"
	"time"
)

// SchemaVersion is the current Analysis Port wire contract version. It is
// part of every request fingerprint, so a contract change naturally misses
// the cache and triggers re-analysis.
const SchemaVersion = "v1"

// keyPrefix namespaces every fingerprint-derived key.
const keyPrefix = "verity:" + SchemaVersion + ":"

// ContextFragment is the bounded serialization of one retrieved fragment as
// it appears on the wire. Only the text and its source identifier cross the
// boundary.
type ContextFragment struct {
	Text      string `json:"text"`
	SourceRef string `json:"source_ref"` // Fragment id, or the statement id itself
}

// AnalysisRequest is the exact payload sent through the Analysis Port.
// Identical statement text plus an identical context snapshot must produce
// an identical request.
type AnalysisRequest struct {
	StatementID   string            `json:"-"` // Not on the wire; kept for audit
	StatementText string            `json:"statement_text"`
	Context       []ContextFragment `json:"context"`
	SchemaVersion string            `json:"schema_version"`
}

// Fingerprint returns the deterministic cache/audit key for this request:
// sha256 over statement text, sorted context source refs, and schema version.
func (r AnalysisRequest) Fingerprint() string {
	h := sha256.New()
	h.Write([]byte(r.StatementText))
	h.Write([]byte{0})
	refs := make([]string, 0, len(r.Context))
	for _, c := range r.Context {
		refs = append(refs, c.SourceRef)
	}
	// Context order is already deterministic, but sorting makes the key
	// independent of partition interleaving.
	sort.Strings(refs)
	h.Write([]byte(strings.Join(refs, ",")))
	h.Write([]byte{0})
	h.Write([]byte(r.SchemaVersion))
	return keyPrefix + hex.EncodeToString(h.Sum(nil))
}

// Labels holds the classification labels the capability may return.
// Empty strings mean the label was not assigned.
type Labels struct {
	Sentiment string `json:"sentiment,omitempty"`
	Quality   string `json:"quality,omitempty"`
	Topic     string `json:"topic,omitempty"`
}

// IsNeutral reports whether every assigned label is a neutral/default value.
// Non-neutral classifications always require citations.
func (l Labels) IsNeutral() bool {
	neutral := func(v string) bool {
		return v == "" || v == "neutral" || v == "unknown"
	}
	return neutral(l.Sentiment) && neutral(l.Quality) && neutral(l.Topic)
}

// Citation is a quoted span plus the source it claims to come from.
type Citation struct {
	Quote      string  `json:"quote"`
	SourceRef  string  `json:"source_ref"`           // Statement id or fragment id
	Similarity float64 `json:"similarity,omitempty"` // Set by the verifier
	Verified   bool    `json:"verified"`
}

// RawResult is the capability's structured verdict before verification.
// Nothing in it is trusted until the verifier has run.
type RawResult struct {
	Labels           Labels             `json:"labels"`
	Confidences      map[string]float64 `json:"confidences"` // Per-label, each in [0,1]
	Citations        []Citation         `json:"citations"`
	Provider         string             `json:"provider,omitempty"`
	Model            string             `json:"model,omitempty"`
	PromptTokens     int                `json:"prompt_tokens,omitempty"`
	CompletionTokens int                `json:"completion_tokens,omitempty"`
}

// Confidence returns the lowest per-label confidence, which is the value the
// verifier bounds and the gate compares against the publish threshold.
func (r RawResult) Confidence() float64 {
	if len(r.Confidences) == 0 {
		return 0
	}
	low := 1.0
	for _, c := range r.Confidences {
		if c < low {
			low = c
		}
	}
	return low
}

// Disposition is the final outcome of an analysis attempt.
type Disposition string

const (
	DispositionPublished Disposition = "published"
	DispositionFlagged   Disposition = "flagged"
	DispositionRejected  Disposition = "rejected"
	DispositionFailed    Disposition = "failed" // Capability failure, nothing to verify
)

// VerifiedAnalysis is the only artifact ever exposed downstream. Citations
// are filtered to verified-only, confidence is bounded by the weakest
// verified citation, and the struct is immutable once stored.
type VerifiedAnalysis struct {
	StatementID    string      `json:"statement_id"`
	Attempt        uint64      `json:"attempt"`
	Fingerprint    string      `json:"fingerprint"`
	Labels         Labels      `json:"labels"`
	Confidence     float64     `json:"confidence"`
	Citations      []Citation  `json:"citations"` // Verified only
	Disposition    Disposition `json:"disposition"`
	ReviewRequired bool        `json:"review_required"`
	PublishedAt    time.Time   `json:"published_at,omitzero"`
}
