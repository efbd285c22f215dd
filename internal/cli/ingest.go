package cli

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/parlwatch/verity/internal/model"
	"github.com/parlwatch/verity/internal/semstore"
)

var ingestTimeout time.Duration

// ingestFragment is one line of an ingest file: a fragment plus the
// metadata the retrieval filters run on.
type ingestFragment struct {
	model.Fragment
	SpeakerRef string    `json:"speaker_ref,omitempty"`
	SubjectRef string    `json:"subject_ref,omitempty"`
	SpokenAt   time.Time `json:"spoken_at,omitzero"`
}

// ingestCmd represents the ingest command
var ingestCmd = &cobra.Command{
	Use:   "ingest <file>",
	Short: "Embed and load document fragments into the semantic store",
	Long: `Ingest reads fragments from a JSONL file, embeds each one, and writes
it to the semantic store. The store schema is created if missing.

Each line is a fragment object:
  {"id":"frag-1","text":"...","partition":"speaker_history",
   "source":{"url":"...","content_hash":"..."},
   "speaker_ref":"mp-42","spoken_at":"2026-03-12T14:00:00Z"}

Example:
  verity ingest hansard-2026-03-12.jsonl`,
	Args: cobra.ExactArgs(1),
	RunE: runIngest,
}

func init() {
	rootCmd.AddCommand(ingestCmd)
	ingestCmd.Flags().DurationVar(&ingestTimeout, "timeout", 30*time.Minute, "total ingest timeout")
}

func runIngest(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	log := newLogger()

	store, err := semstore.NewWeaviateStore(cfg.SemStore, log)
	if err != nil {
		return err
	}
	var embedder semstore.Embedder
	if cfg.Analysis.Provider == "stub" && cfg.Analysis.APIKey == "" {
		embedder = semstore.HashEmbedder{}
	} else {
		embedder, err = semstore.NewOpenAIEmbedder(cfg.Analysis.APIKey, cfg.Analysis.BaseURL, "")
		if err != nil {
			return err
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), ingestTimeout)
	defer cancel()

	if err := store.EnsureSchema(ctx); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}

	file, err := os.Open(args[0])
	if err != nil {
		return fmt.Errorf("open file: %w", err)
	}
	defer func() { _ = file.Close() }()

	var loaded, skipped int
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		var frag ingestFragment
		if err := json.Unmarshal([]byte(line), &frag); err != nil {
			return fmt.Errorf("parse line %d: %w", lineNo, err)
		}
		if frag.ID == "" || frag.Text == "" {
			log.Warn().Int("line", lineNo).Msg("fragment missing id or text, skipped")
			skipped++
			continue
		}

		embedding, err := embedder.Embed(ctx, frag.Text)
		if err != nil {
			return fmt.Errorf("embed fragment %s: %w", frag.ID, err)
		}
		if err := store.Upsert(ctx, frag.Fragment, embedding, frag.SpokenAt, frag.SpeakerRef, frag.SubjectRef); err != nil {
			return fmt.Errorf("upsert fragment %s: %w", frag.ID, err)
		}
		loaded++
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("scan file: %w", err)
	}

	fmt.Fprintf(os.Stderr, "✓ Ingested %d fragments (%d skipped)\n", loaded, skipped)
	return nil
}
