package model

import (
	"crypto/sha256"
	"encoding/hex"
)

// SourceRef anchors a piece of text to its original document.
// All fields are write-once: populated when the statement is ingested
// and never altered afterwards.
type SourceRef struct {
	URL         string `json:"url"`                    // Origin document URL
	ContentHash string `json:"content_hash"`           // sha256 of the origin document
	Page        int    `json:"page,omitempty"`         // Page locator within the document
	Line        int    `json:"line,omitempty"`         // Line locator within the page
}

// Statement is an immutable unit of speech handed to the engine by ingestion.
type Statement struct {
	ID         string    `json:"id"`                   // Stable statement identifier
	Text       string    `json:"text"`                 // Raw transcribed text, never rewritten
	SpeakerRef string    `json:"speaker_ref"`          // Member/official identifier
	SittingRef string    `json:"sitting_ref"`          // Sitting/session identifier
	SubjectRef string    `json:"subject_ref,omitempty"` // Bill or subject identifier, if known
	Source     SourceRef `json:"source"`               // Write-once source reference
}

// TextHash returns the sha256 of the statement text, used in cache keys
// and audit fingerprints.
func (s Statement) TextHash() string {
	sum := sha256.Sum256([]byte(s.Text))
	return hex.EncodeToString(sum[:])
}
