package model

import (
	"fmt"
	"time"
)

// FlagReason enumerates why a result was routed to human review.
type FlagReason string

const (
	ReasonZeroVerifiedCitations FlagReason = "zero_verified_citations"
	ReasonLowConfidence         FlagReason = "low_confidence"
	ReasonMalformedResponse     FlagReason = "malformed_response"
	ReasonCapabilityTimeout     FlagReason = "capability_timeout"
)

// ReviewStatus is the mutable state of a review item.
type ReviewStatus string

const (
	ReviewPending  ReviewStatus = "pending"
	ReviewApproved ReviewStatus = "approved"
	ReviewModified ReviewStatus = "modified" // Approved after reviewer edits to labels
	ReviewRejected ReviewStatus = "rejected" // Result permanently suppressed
)

// ReviewItem holds a disputed analysis awaiting a human decision. It is the
// only entity in the model that legitimately mutates after creation, and it
// does so only through Resolve.
type ReviewItem struct {
	ID          string           `json:"id"`
	StatementID string           `json:"statement_id"`
	Attempt     uint64           `json:"attempt"`
	Result      VerifiedAnalysis `json:"result"`
	Reasons     []FlagReason     `json:"reasons"`
	Status      ReviewStatus     `json:"status"`
	Reviewer    string           `json:"reviewer,omitempty"`
	Notes       string           `json:"notes,omitempty"`
	CreatedAt   time.Time        `json:"created_at"`
	ResolvedAt  time.Time        `json:"resolved_at,omitzero"`
}

// Resolve transitions the item out of pending. Pending is the only state
// that accepts a transition; approved, modified and rejected are terminal.
func (r *ReviewItem) Resolve(decision ReviewStatus, reviewer, notes string, at time.Time) error {
	if r.Status != ReviewPending {
		return fmt.Errorf("review item %s already resolved as %s", r.ID, r.Status)
	}
	switch decision {
	case ReviewApproved, ReviewModified, ReviewRejected:
	default:
		return fmt.Errorf("invalid review decision: %s", decision)
	}
	if reviewer == "" {
		return fmt.Errorf("reviewer identity is required")
	}
	r.Status = decision
	r.Reviewer = reviewer
	r.Notes = notes
	r.ResolvedAt = at
	return nil
}
