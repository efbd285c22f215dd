package analysis

import (
	"fmt"
	"strings"

	"github.com/parlwatch/verity/internal/model"
)

// systemPrompt pins the capability to classification. It must never produce
// statement text of its own; only labels and citations are trusted, and
// every citation must be quoted verbatim from the supplied material.
const systemPrompt = `You classify transcribed legislative statements. You never paraphrase, summarize, or generate statement text.

Respond with a single JSON object and nothing else:
{
  "labels": {"sentiment": "...", "quality": "...", "topic": "..."},
  "confidences": {"sentiment": 0.0-1.0, "quality": 0.0-1.0, "topic": 0.0-1.0},
  "citations": [{"quote": "...", "source_ref": "..."}]
}

Rules:
1. sentiment is one of: positive, negative, neutral. quality is one of: substantive, procedural, rhetorical, unknown. topic is a short subject phrase or "unknown".
2. Every quote MUST be copied verbatim from the target statement or a context fragment, and source_ref MUST be the id given for that text. Never quote anything else.
3. Any non-neutral classification requires at least one citation supporting it.
4. If the material does not support a classification, use the neutral/unknown value.`

// userPrompt renders the target statement and the bounded context in a fixed
// order so identical requests serialize identically.
func userPrompt(req model.AnalysisRequest, statementID string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Target statement (source_ref: %s):\n%s\n", statementID, req.StatementText)
	if len(req.Context) > 0 {
		b.WriteString("\nContext fragments:\n")
		for _, c := range req.Context {
			fmt.Fprintf(&b, "[%s] %s\n", c.SourceRef, c.Text)
		}
	}
	fmt.Fprintf(&b, "\nSchema version: %s\n", req.SchemaVersion)
	return b.String()
}
