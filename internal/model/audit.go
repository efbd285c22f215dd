package model

import "time"

// FailureKind classifies why an attempt did not produce a verified result.
type FailureKind string

const (
	FailureNone                 FailureKind = ""
	FailureRetrievalUnavailable FailureKind = "retrieval_unavailable"
	FailureCapabilityTimeout    FailureKind = "capability_timeout"
	FailureMalformedResponse    FailureKind = "malformed_response"
	FailureVerification         FailureKind = "verification_failure"
	FailureBudgetExhausted      FailureKind = "budget_exhausted"
)

// AuditLogEntry records one analysis attempt. Entries are append-only:
// never deleted, never rewritten. Cache re-serves record a lightweight entry
// with CacheHit set, referencing the original fingerprint.
type AuditLogEntry struct {
	ID                string      `json:"id"`
	StatementID       string      `json:"statement_id"`
	Attempt           uint64      `json:"attempt"`
	Fingerprint       string      `json:"fingerprint"`
	Provider          string      `json:"provider,omitempty"`
	Model             string      `json:"model,omitempty"`
	RawResponse       string      `json:"raw_response,omitempty"` // Verbatim capability response
	CitationsClaimed  int         `json:"citations_claimed"`
	CitationsVerified int         `json:"citations_verified"`
	Confidence        float64     `json:"confidence"`
	Disposition       Disposition `json:"disposition"`
	FailureKind       FailureKind `json:"failure_kind,omitempty"`
	CacheHit          bool        `json:"cache_hit,omitempty"`
	RecordedAt        time.Time   `json:"recorded_at"`
}

// AuditQuery filters audit entries. Zero values mean "no constraint".
type AuditQuery struct {
	StatementID string
	Disposition Disposition
	From        time.Time
	To          time.Time
	Limit       int
}
