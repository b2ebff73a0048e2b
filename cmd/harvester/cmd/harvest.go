package cmd

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"receipt-reconciler/cmd/harvester/config"
	"receipt-reconciler/internal/ledger"
	"receipt-reconciler/internal/run"
	"receipt-reconciler/pkg/logger"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// Flags for the harvest command
var (
	harvestProviders []string
	harvestYear      int
	harvestMonth     int
	receiptName      string
	ledgerPath       string
	outputDir        string
	debugDir         string
	minPDFRate       float64
	sessionDir       string
	authHandoff      bool
	authTimeout      time.Duration
)

// harvestCmd represents the harvest command
var harvestCmd = &cobra.Command{
	Use:   "harvest",
	Short: "Harvest receipt evidence for one month",
	Long: `Harvest walks each provider's order or billing history for the target
month, extracts totals and dates, and saves every acquirable receipt as
a validated PDF. Progress is ledgered per order, so re-running the same
command after an interruption resumes where it stopped.

The run summary is written to stdout as JSON. The run fails (exit 3)
when the share of eligible orders with a saved PDF falls below the
coverage threshold.

Examples:
  # Harvest two marketplaces for January 2026
  harvester harvest --providers amazon,rakuten --year 2026 --month 1

  # Include the expense-ledger product and a billing portal
  harvester harvest --providers freee,portal:adobe --year 2026 --month 1 \
    --receipt-name "株式会社Acme"

  # Resume an interrupted run (same ledger, already-done orders skip)
  harvester harvest --providers amazon --year 2026 --month 1 \
    --ledger harvest/ledger.jsonl

  # Fail only below half coverage
  harvester harvest --providers amazon --year 2026 --month 1 \
    --min-pdf-success-rate 0.5`,

	PreRunE: validateHarvestFlags,
	RunE:    runHarvest,
}

func init() {
	rootCmd.AddCommand(harvestCmd)

	// Required flags
	harvestCmd.Flags().StringSliceVarP(&harvestProviders, "providers", "p", []string{}, "comma-separated providers: amazon, rakuten, freee, portal:<profile> (required)")
	harvestCmd.Flags().IntVarP(&harvestYear, "year", "y", 0, "target year (required)")
	harvestCmd.Flags().IntVarP(&harvestMonth, "month", "m", 0, "target month 1-12 (required)")

	// Output flags
	harvestCmd.Flags().StringVar(&ledgerPath, "ledger", "", "resume ledger path (default: <output-dir>/ledger.jsonl)")
	harvestCmd.Flags().StringVarP(&outputDir, "output-dir", "o", "harvest", "directory receiving the PDFs")
	harvestCmd.Flags().StringVar(&debugDir, "debug-dir", "", "directory for failure page snapshots (default: disabled)")

	// Run behavior flags
	harvestCmd.Flags().StringVar(&receiptName, "receipt-name", "", "addressee name to apply on providers that support it")
	harvestCmd.Flags().Float64Var(&minPDFRate, "min-pdf-success-rate", ledger.DefaultMinPDFSuccessRate, "coverage threshold over eligible orders (0 disables)")

	// Session flags
	harvestCmd.Flags().StringVar(&sessionDir, "session-dir", "sessions", "directory holding per-provider session files")
	harvestCmd.Flags().BoolVar(&authHandoff, "auth-handoff", true, "wait for an external login when a session has expired")
	harvestCmd.Flags().DurationVar(&authTimeout, "auth-timeout", 15*time.Minute, "how long to wait for the login handoff")

	harvestCmd.MarkFlagRequired("providers")
	harvestCmd.MarkFlagRequired("year")
	harvestCmd.MarkFlagRequired("month")

	// Bind flags to viper
	viper.BindPFlag("providers", harvestCmd.Flags().Lookup("providers"))
	viper.BindPFlag("year", harvestCmd.Flags().Lookup("year"))
	viper.BindPFlag("month", harvestCmd.Flags().Lookup("month"))
	viper.BindPFlag("ledger", harvestCmd.Flags().Lookup("ledger"))
	viper.BindPFlag("output-dir", harvestCmd.Flags().Lookup("output-dir"))
	viper.BindPFlag("debug-dir", harvestCmd.Flags().Lookup("debug-dir"))
	viper.BindPFlag("receipt-name", harvestCmd.Flags().Lookup("receipt-name"))
	viper.BindPFlag("min-pdf-success-rate", harvestCmd.Flags().Lookup("min-pdf-success-rate"))
	viper.BindPFlag("session-dir", harvestCmd.Flags().Lookup("session-dir"))
	viper.BindPFlag("auth-handoff", harvestCmd.Flags().Lookup("auth-handoff"))
	viper.BindPFlag("auth-timeout", harvestCmd.Flags().Lookup("auth-timeout"))
}

func validateHarvestFlags(cmd *cobra.Command, args []string) error {
	// Get values from viper (allows override from config file and env)
	harvestProviders = viper.GetStringSlice("providers")
	harvestYear = viper.GetInt("year")
	harvestMonth = viper.GetInt("month")
	ledgerPath = viper.GetString("ledger")
	outputDir = viper.GetString("output-dir")
	debugDir = viper.GetString("debug-dir")
	receiptName = viper.GetString("receipt-name")
	minPDFRate = viper.GetFloat64("min-pdf-success-rate")
	sessionDir = viper.GetString("session-dir")
	authHandoff = viper.GetBool("auth-handoff")
	authTimeout = viper.GetDuration("auth-timeout")

	if len(harvestProviders) == 0 {
		return fmt.Errorf("at least one provider is required")
	}
	for _, name := range harvestProviders {
		name = strings.TrimSpace(name)
		if name == "" {
			return fmt.Errorf("provider name cannot be empty")
		}
		if profile, ok := strings.CutPrefix(name, "portal:"); ok {
			if _, err := config.GetPortalProfile(profile); err != nil {
				return err
			}
			continue
		}
		switch name {
		case "amazon", "rakuten", "freee":
		default:
			return fmt.Errorf("unknown provider %q (expected amazon, rakuten, freee, or portal:<profile>)", name)
		}
	}

	if harvestYear < 2000 || harvestYear > 2100 {
		return fmt.Errorf("year must be between 2000 and 2100, got %d", harvestYear)
	}
	if harvestMonth < 1 || harvestMonth > 12 {
		return fmt.Errorf("month must be between 1 and 12, got %d", harvestMonth)
	}
	if minPDFRate < 0 || minPDFRate > 1 {
		return fmt.Errorf("min-pdf-success-rate must be between 0 and 1, got %g", minPDFRate)
	}
	if outputDir == "" {
		return fmt.Errorf("output-dir cannot be empty")
	}
	return nil
}

func runHarvest(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	log := logger.GetGlobalLogger()
	handler := NewCLIErrorHandler()

	runConfig := config.CreateRunConfig(harvestYear, harvestMonth, receiptName,
		ledgerPath, outputDir, debugDir, minPDFRate)

	providerRuns, err := config.CreateProviderRuns(harvestProviders, config.ProviderOptions{
		Year:           harvestYear,
		Month:          time.Month(harvestMonth),
		SessionDir:     sessionDir,
		AuthHandoff:    authHandoff,
		AuthTimeout:    authTimeout,
		AmazonBaseURL:  viper.GetString("amazon-base-url"),
		RakutenBaseURL: viper.GetString("rakuten-base-url"),
		FreeeBaseURL:   viper.GetString("freee-base-url"),
	}, log)
	if err != nil {
		return fmt.Errorf("failed to build provider runs: %w", err)
	}

	runner, err := run.NewRunner(runConfig, log)
	if err != nil {
		os.Exit(handler.HandleError(err))
	}

	summary, runErr := runner.Execute(ctx, providerRuns)

	// The summary is emitted even when the coverage gate fails; the exit
	// code carries the verdict for scripting.
	if summary != nil {
		if err := summary.Write(os.Stdout); err != nil {
			return fmt.Errorf("failed to write run summary: %w", err)
		}
	}
	if runErr != nil {
		os.Exit(handler.HandleError(runErr))
	}
	return nil
}
