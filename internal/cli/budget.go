package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

// budgetCmd represents the budget command
var budgetCmd = &cobra.Command{
	Use:   "budget",
	Short: "Show this month's model spend against the ceiling",
	Long: `Budget reports accumulated model spend for the current month.

Once spend reaches the configured ceiling, new model calls are refused
until the next month; cached results keep serving.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp()
		if err != nil {
			return err
		}
		defer func() { _ = a.Close() }()

		month, spent, ceiling := a.costs.Spent()
		fmt.Printf("Month:    %s\n", month)
		fmt.Printf("Spent:    $%.4f\n", spent)
		fmt.Printf("Ceiling:  $%.2f\n", ceiling)
		if remaining := ceiling - spent; remaining > 0 {
			fmt.Printf("Remaining: $%.4f\n", remaining)
		} else {
			fmt.Println("Budget exhausted: new model calls are refused until next month.")
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(budgetCmd)
}
