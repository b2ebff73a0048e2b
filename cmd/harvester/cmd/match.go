package cmd

import (
	"fmt"
	"os"
	"time"

	"receipt-reconciler/cmd/harvester/config"
	"receipt-reconciler/internal/matcher"
	"receipt-reconciler/internal/models"
	"receipt-reconciler/pkg/logger"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// Flags for the match command
var (
	ordersFile    string
	expensesFile  string
	matchYear     int
	matchMonth    int
	matchFormat   string
	matchOutput   string
	minScore      int
	maxCandidates int
	dateWindow    int
)

// matchCmd represents the match command
var matchCmd = &cobra.Command{
	Use:   "match",
	Short: "Match expense-ledger entries against harvested receipts",
	Long: `Match proposes ranked receipt candidates for expense-ledger entries
that still lack attached evidence. Candidates require an exact amount
match; date proximity, item-name keywords, and an order id appearing in
the entry memo adjust the ranking.

The report never writes back to the expense ledger; attaching evidence
stays a human decision.

Examples:
  # Propose candidates for January 2026
  harvester match --orders harvest/ledger.jsonl --expenses expenses.jsonl \
    --year 2026 --month 1

  # CSV for spreadsheet review
  harvester match --orders harvest/ledger.jsonl --expenses expenses.jsonl \
    --year 2026 --month 1 --format csv --output-file candidates.csv`,

	PreRunE: validateMatchFlags,
	RunE:    runMatch,
}

func init() {
	rootCmd.AddCommand(matchCmd)

	// Required flags
	matchCmd.Flags().StringVar(&ordersFile, "orders", "", "harvested order ledger JSONL file (required)")
	matchCmd.Flags().StringVar(&expensesFile, "expenses", "", "expense-ledger entries JSONL file (required)")
	matchCmd.Flags().IntVarP(&matchYear, "year", "y", 0, "target year (required)")
	matchCmd.Flags().IntVarP(&matchMonth, "month", "m", 0, "target month 1-12 (required)")

	// Output flags
	matchCmd.Flags().StringVarP(&matchFormat, "format", "f", "json", "output format: json, csv")
	matchCmd.Flags().StringVarP(&matchOutput, "output-file", "o", "", "output file path (default: stdout)")

	// Scoring flags
	matchCmd.Flags().IntVar(&minScore, "min-score", 0, "minimum candidate score (default: engine default)")
	matchCmd.Flags().IntVar(&maxCandidates, "max-candidates", 0, "maximum candidates per entry (default: engine default)")
	matchCmd.Flags().IntVar(&dateWindow, "date-window", 0, "date proximity window in days (default: engine default)")

	matchCmd.MarkFlagRequired("orders")
	matchCmd.MarkFlagRequired("expenses")
	matchCmd.MarkFlagRequired("year")
	matchCmd.MarkFlagRequired("month")
}

func validateMatchFlags(cmd *cobra.Command, args []string) error {
	if ordersFile == "" {
		return fmt.Errorf("orders file is required")
	}
	if expensesFile == "" {
		return fmt.Errorf("expenses file is required")
	}
	for _, path := range []string{ordersFile, expensesFile} {
		info, err := os.Stat(path)
		if os.IsNotExist(err) {
			return fmt.Errorf("file does not exist: %s", path)
		}
		if err != nil {
			return fmt.Errorf("error accessing %s: %w", path, err)
		}
		if info.IsDir() {
			return fmt.Errorf("expected a file, got a directory: %s", path)
		}
	}

	if matchYear < 2000 || matchYear > 2100 {
		return fmt.Errorf("year must be between 2000 and 2100, got %d", matchYear)
	}
	if matchMonth < 1 || matchMonth > 12 {
		return fmt.Errorf("month must be between 1 and 12, got %d", matchMonth)
	}
	if matchFormat != "json" && matchFormat != "csv" {
		return fmt.Errorf("invalid format %q. Valid formats: json, csv", matchFormat)
	}
	return nil
}

func runMatch(cmd *cobra.Command, args []string) error {
	log := logger.GetGlobalLogger().WithComponent("match_cmd")

	records, err := models.ReadOrderRecords(ordersFile)
	if err != nil {
		return fmt.Errorf("failed to read harvested orders: %w", err)
	}

	expenseResult, err := models.ReadExpenseEntries(expensesFile)
	if err != nil {
		return fmt.Errorf("failed to read expense entries: %w", err)
	}
	if expenseResult.SkippedLines > 0 {
		log.WithField("skipped", expenseResult.SkippedLines).
			Warn("Skipped malformed expense-ledger lines")
		for _, lineErr := range expenseResult.LineErrors {
			log.WithField("error", lineErr).Debug("Malformed expense line")
		}
	}

	// Closed-world matching: only this month's still-unevidenced entries.
	entries := models.FilterEntriesByMonth(
		models.FilterUnevidenced(expenseResult.Entries),
		matchYear, time.Month(matchMonth))

	engine := matcher.NewEngine(config.CreateMatchConfig(minScore, maxCandidates, dateWindow), log)
	engine.LoadOrders(records)

	report, err := engine.MatchAll(entries)
	if err != nil {
		return fmt.Errorf("matching failed: %w", err)
	}

	output := os.Stdout
	if matchOutput != "" {
		output, err = os.Create(matchOutput)
		if err != nil {
			return fmt.Errorf("failed to create output file: %w", err)
		}
		defer output.Close()
	}

	switch matchFormat {
	case "csv":
		err = report.WriteCSV(output)
	default:
		err = report.WriteJSON(output)
	}
	if err != nil {
		return fmt.Errorf("failed to write match report: %w", err)
	}

	if viper.GetBool("verbose") {
		fmt.Fprintf(os.Stderr, "\nMatched %d of %d entries; %d harvested orders unmatched.\n",
			report.Summary.EntriesWithCandidates, report.Summary.TotalEntries,
			len(report.UnmatchedOrders))
	}
	return nil
}
