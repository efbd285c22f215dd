package analysis

import (
	"fmt"
	"strings"

	"github.com/parlwatch/verity/internal/model"
)

// NewProvider creates a provider from configuration.
func NewProvider(cfg model.AnalysisConfig) (Provider, error) {
	switch strings.ToLower(cfg.Provider) {
	case "openai":
		return NewOpenAIProvider(cfg)
	case "stub":
		return &StubProvider{}, nil
	default:
		return nil, fmt.Errorf("unknown analysis provider: %s (supported: openai, stub)", cfg.Provider)
	}
}
