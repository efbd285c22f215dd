package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/parlwatch/verity/internal/model"
	"github.com/parlwatch/verity/internal/review"
)

var (
	reviewStatement string
	reviewStatus    string
	reviewJSON      bool

	resolveDecision string
	resolveReviewer string
	resolveNotes    string
)

// reviewCmd represents the review command
var reviewCmd = &cobra.Command{
	Use:   "review",
	Short: "Inspect and resolve flagged analyses",
	Long: `Review manages the queue of analyses that could not be published:
rejected results, low-confidence results, and capability failures.

A reviewer approves, modifies, or rejects each pending item. Resolved items
are final and cannot be reopened.`,
}

var reviewListCmd = &cobra.Command{
	Use:   "list",
	Short: "List review items (pending by default)",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp()
		if err != nil {
			return err
		}
		defer func() { _ = a.Close() }()

		items, err := a.reviews.List(review.ListFilters{
			StatementID: reviewStatement,
			Status:      model.ReviewStatus(reviewStatus),
		})
		if err != nil {
			return err
		}

		if reviewJSON {
			data, err := json.MarshalIndent(items, "", "  ")
			if err != nil {
				return err
			}
			fmt.Println(string(data))
			return nil
		}

		if len(items) == 0 {
			fmt.Println("No review items.")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tSTATEMENT\tATTEMPT\tREASONS\tCONFIDENCE\tCREATED")
		for _, item := range items {
			fmt.Fprintf(w, "%s\t%s\t%d\t%v\t%.2f\t%s\n",
				item.ID, item.StatementID, item.Attempt, item.Reasons,
				item.Result.Confidence, item.CreatedAt.Format("2006-01-02 15:04"))
		}
		return w.Flush()
	},
}

var reviewResolveCmd = &cobra.Command{
	Use:   "resolve <review-id>",
	Short: "Resolve a pending review item",
	Long: `Resolve applies a reviewer decision to a pending item.

Decisions: approved, modified, rejected.

Example:
  verity review resolve 7f3a... --decision approved --reviewer jdoe
  verity review resolve 7f3a... --decision rejected --reviewer jdoe --notes "citation out of context"`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp()
		if err != nil {
			return err
		}
		defer func() { _ = a.Close() }()

		item, err := a.reviews.Resolve(args[0], model.ReviewStatus(resolveDecision), resolveReviewer, resolveNotes)
		if err != nil {
			return fmt.Errorf("resolve failed: %w", err)
		}
		fmt.Printf("✓ Review %s resolved as %s by %s\n", item.ID, item.Status, item.Reviewer)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(reviewCmd)
	reviewCmd.AddCommand(reviewListCmd)
	reviewCmd.AddCommand(reviewResolveCmd)

	reviewListCmd.Flags().StringVar(&reviewStatement, "statement", "", "filter by statement id")
	reviewListCmd.Flags().StringVar(&reviewStatus, "status", "", "filter by status (pending, approved, modified, rejected)")
	reviewListCmd.Flags().BoolVar(&reviewJSON, "json", false, "output as JSON")

	reviewResolveCmd.Flags().StringVar(&resolveDecision, "decision", "", "reviewer decision (approved, modified, rejected)")
	reviewResolveCmd.Flags().StringVar(&resolveReviewer, "reviewer", "", "reviewer identifier")
	reviewResolveCmd.Flags().StringVar(&resolveNotes, "notes", "", "reviewer notes")
	_ = reviewResolveCmd.MarkFlagRequired("decision")
	_ = reviewResolveCmd.MarkFlagRequired("reviewer")
}
