package worker

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/parlwatch/verity/internal/model"
)

// Analyzer runs one analysis attempt for a statement.
type Analyzer interface {
	AnalyzeStatement(ctx context.Context, stmt model.Statement) (*model.VerifiedAnalysis, error)
}

// StatementJob analyzes a single statement.
type StatementJob struct {
	Statement model.Statement
	Analyzer  Analyzer
}

// Execute runs the analysis attempt.
func (j *StatementJob) Execute(ctx context.Context) Result {
	va, err := j.Analyzer.AnalyzeStatement(ctx, j.Statement)
	return &AnalysisResult{
		StatementID: j.Statement.ID,
		Analysis:    va,
		Error:       err,
	}
}

// AnalysisResult is the outcome of one statement job.
type AnalysisResult struct {
	StatementID string
	Analysis    *model.VerifiedAnalysis
	Error       error
}

// GetError returns the job error, if any.
func (r *AnalysisResult) GetError() error {
	return r.Error
}

// BatchProcessor analyzes many statements concurrently.
type BatchProcessor struct {
	analyzer    Analyzer
	concurrency int
}

// NewBatchProcessor creates a batch processor over an analyzer.
func NewBatchProcessor(analyzer Analyzer, concurrency int) *BatchProcessor {
	return &BatchProcessor{
		analyzer:    analyzer,
		concurrency: concurrency,
	}
}

// ProcessStatements runs the statements through the worker pool and returns
// one result per statement, order unspecified.
func (b *BatchProcessor) ProcessStatements(ctx context.Context, statements []model.Statement) []*AnalysisResult {
	if len(statements) == 0 {
		return []*AnalysisResult{}
	}

	pool := NewPool(b.concurrency)
	pool.Start()

	for _, stmt := range statements {
		pool.Submit(&StatementJob{
			Statement: stmt,
			Analyzer:  b.analyzer,
		})
	}

	results := pool.Wait()

	out := make([]*AnalysisResult, len(results))
	for i, result := range results {
		out[i] = result.(*AnalysisResult)
	}

	return out
}

// ProcessFile reads statements from a JSONL file and analyzes them
// concurrently.
func (b *BatchProcessor) ProcessFile(ctx context.Context, filePath string) ([]*AnalysisResult, error) {
	statements, err := ReadStatementsFromFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("read statements: %w", err)
	}

	return b.ProcessStatements(ctx, statements), nil
}

// ReadStatementsFromFile reads statements from a JSONL file, one JSON object
// per line. Blank lines and #-comments are skipped; duplicate statement ids
// keep the first occurrence.
func ReadStatementsFromFile(filePath string) ([]model.Statement, error) {
	file, err := os.Open(filePath)
	if err != nil {
		return nil, fmt.Errorf("open file: %w", err)
	}
	defer func() { _ = file.Close() }()

	var statements []model.Statement
	seen := make(map[string]bool)

	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		var stmt model.Statement
		if err := json.Unmarshal([]byte(line), &stmt); err != nil {
			return nil, fmt.Errorf("parse line %d: %w", lineNo, err)
		}
		if stmt.ID == "" {
			return nil, fmt.Errorf("parse line %d: statement id is required", lineNo)
		}
		if !seen[stmt.ID] {
			seen[stmt.ID] = true
			statements = append(statements, stmt)
		}
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan file: %w", err)
	}

	return statements, nil
}
