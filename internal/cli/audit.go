package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/parlwatch/verity/internal/model"
)

var (
	auditDisposition string
	auditSince       string
	auditUntil       string
	auditLimit       int
	auditJSON        bool
)

// auditCmd represents the audit command
var auditCmd = &cobra.Command{
	Use:   "audit <statement-id>",
	Short: "Show the audit trail for a statement",
	Long: `Audit lists every analysis attempt recorded for a statement,
including failures and cache re-serves. Entries are append-only and never
rewritten, so the trail is the complete history of how each published
result came to be.

Example:
  verity audit stmt-4412
  verity audit stmt-4412 --disposition rejected --since 2026-01-01
  verity audit stmt-4412 --json`,
	Args: cobra.ExactArgs(1),
	RunE: runAudit,
}

func init() {
	rootCmd.AddCommand(auditCmd)

	auditCmd.Flags().StringVar(&auditDisposition, "disposition", "", "filter by disposition (published, flagged, rejected, failed)")
	auditCmd.Flags().StringVar(&auditSince, "since", "", "only entries on or after this date (YYYY-MM-DD)")
	auditCmd.Flags().StringVar(&auditUntil, "until", "", "only entries before this date (YYYY-MM-DD)")
	auditCmd.Flags().IntVar(&auditLimit, "limit", 0, "maximum entries to return (0 = all)")
	auditCmd.Flags().BoolVar(&auditJSON, "json", false, "output as JSON")
}

func runAudit(cmd *cobra.Command, args []string) error {
	q := model.AuditQuery{
		StatementID: args[0],
		Disposition: model.Disposition(auditDisposition),
		Limit:       auditLimit,
	}
	var err error
	if q.From, err = parseDate(auditSince); err != nil {
		return fmt.Errorf("invalid --since: %w", err)
	}
	if q.To, err = parseDate(auditUntil); err != nil {
		return fmt.Errorf("invalid --until: %w", err)
	}

	a, err := openApp()
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	entries, err := a.audits.Query(q)
	if err != nil {
		return err
	}

	if auditJSON {
		data, err := json.MarshalIndent(entries, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(data))
		return nil
	}

	if len(entries) == 0 {
		fmt.Println("No audit entries.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ATTEMPT\tRECORDED\tDISPOSITION\tCONFIDENCE\tCITATIONS\tCACHE\tFAILURE")
	for _, e := range entries {
		cache := ""
		if e.CacheHit {
			cache = "hit"
		}
		fmt.Fprintf(w, "%d\t%s\t%s\t%.2f\t%d/%d\t%s\t%s\n",
			e.Attempt, e.RecordedAt.Format("2006-01-02 15:04:05"),
			e.Disposition, e.Confidence,
			e.CitationsVerified, e.CitationsClaimed, cache, e.FailureKind)
	}
	return w.Flush()
}

func parseDate(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	return time.Parse("2006-01-02", s)
}
