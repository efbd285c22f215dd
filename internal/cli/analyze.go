package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/parlwatch/verity/internal/model"
)

var (
	analyzeTimeout time.Duration
	analyzeOutJSON string

	stmtText    string
	stmtSpeaker string
	stmtSitting string
	stmtSubject string
	stmtSource  string
)

// analyzeCmd represents the analyze command
var analyzeCmd = &cobra.Command{
	Use:   "analyze <statement-id>",
	Short: "Analyze a single statement and verify its citations",
	Long: `Analyze classifies one statement against its retrieved context:
- Retrieve speaker history, subject context, and related records
- Classify via the configured model provider
- Verify every claimed citation verbatim against the sources
- Publish, flag for review, or reject based on verified confidence

The statement can be given inline with flags, or read as JSON from a file
with --file.

Example:
  verity analyze stmt-4412 --text "the minister misled the House" --speaker mp-42
  verity analyze stmt-4412 --file statement.json --json result.json`,
	Args: cobra.ExactArgs(1),
	RunE: runAnalyze,
}

var stmtFile string

func init() {
	rootCmd.AddCommand(analyzeCmd)

	analyzeCmd.Flags().StringVar(&stmtFile, "file", "", "read the statement from a JSON file")
	analyzeCmd.Flags().StringVar(&stmtText, "text", "", "statement text")
	analyzeCmd.Flags().StringVar(&stmtSpeaker, "speaker", "", "speaker reference")
	analyzeCmd.Flags().StringVar(&stmtSitting, "sitting", "", "sitting reference")
	analyzeCmd.Flags().StringVar(&stmtSubject, "subject", "", "subject or bill reference")
	analyzeCmd.Flags().StringVar(&stmtSource, "source-url", "", "origin document URL")
	analyzeCmd.Flags().DurationVar(&analyzeTimeout, "timeout", 2*time.Minute, "overall analysis timeout")
	analyzeCmd.Flags().StringVar(&analyzeOutJSON, "json", "", "write the verified analysis to a JSON file")
}

func runAnalyze(cmd *cobra.Command, args []string) error {
	stmt, err := statementFromFlags(args[0])
	if err != nil {
		return err
	}

	a, err := openApp()
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	ctx, cancel := context.WithTimeout(context.Background(), analyzeTimeout)
	defer cancel()

	va, err := a.engine.AnalyzeStatement(ctx, stmt)
	if err != nil {
		return fmt.Errorf("analyze failed: %w", err)
	}

	data, err := json.MarshalIndent(va, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal result: %w", err)
	}
	if analyzeOutJSON != "" {
		if err := os.WriteFile(analyzeOutJSON, data, 0o644); err != nil {
			return fmt.Errorf("write result: %w", err)
		}
	} else {
		fmt.Println(string(data))
	}

	if verbose {
		fmt.Fprintf(os.Stderr, "✓ Disposition: %s (confidence %.2f, %d verified citations)\n",
			va.Disposition, va.Confidence, len(va.Citations))
	}
	return nil
}

func statementFromFlags(id string) (model.Statement, error) {
	if stmtFile != "" {
		data, err := os.ReadFile(stmtFile)
		if err != nil {
			return model.Statement{}, fmt.Errorf("read statement file: %w", err)
		}
		var stmt model.Statement
		if err := json.Unmarshal(data, &stmt); err != nil {
			return model.Statement{}, fmt.Errorf("parse statement file: %w", err)
		}
		if stmt.ID == "" {
			stmt.ID = id
		}
		return stmt, nil
	}

	if stmtText == "" {
		return model.Statement{}, fmt.Errorf("either --file or --text is required")
	}
	return model.Statement{
		ID:         id,
		Text:       stmtText,
		SpeakerRef: stmtSpeaker,
		SittingRef: stmtSitting,
		SubjectRef: stmtSubject,
		Source:     model.SourceRef{URL: stmtSource},
	}, nil
}
