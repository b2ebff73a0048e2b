package cmd

import (
	"fmt"
	"os"
	"strings"

	harvesterrors "receipt-reconciler/pkg/errors"
	"receipt-reconciler/pkg/logger"

	"github.com/spf13/viper"
)

// CLIErrorHandler provides user-friendly error handling for CLI operations
type CLIErrorHandler struct {
	logger  logger.Logger
	verbose bool
}

// NewCLIErrorHandler creates a new CLI error handler
func NewCLIErrorHandler() *CLIErrorHandler {
	return &CLIErrorHandler{
		logger:  logger.GetGlobalLogger().WithComponent("cli"),
		verbose: viper.GetBool("verbose"),
	}
}

// HandleError prints a user-facing message and returns the process exit
// code for the error.
func (h *CLIErrorHandler) HandleError(err error) int {
	if err == nil {
		return 0
	}

	h.logger.WithError(err).Error("Command failed")

	if harvestErr, ok := harvesterrors.AsHarvestError(err); ok {
		return h.handleHarvestError(harvestErr)
	}
	return h.handleGenericError(err)
}

func (h *CLIErrorHandler) handleHarvestError(err *harvesterrors.HarvestError) int {
	fmt.Fprintf(os.Stderr, "Error: %s\n", err.Message)

	if len(err.Context) > 0 {
		fmt.Fprintf(os.Stderr, "\nContext:\n")
		for key, value := range err.Context {
			fmt.Fprintf(os.Stderr, "  %s: %v\n", key, value)
		}
	}

	if err.Suggestion != "" {
		fmt.Fprintf(os.Stderr, "\nSuggestion: %s\n", err.Suggestion)
	}

	fmt.Fprintf(os.Stderr, "\n%s\n", h.getCategoryHelp(err.Category))

	if h.verbose && err.Cause != nil {
		fmt.Fprintf(os.Stderr, "\nUnderlying error: %v\n", err.Cause)
	}

	return err.GetExitCode()
}

func (h *CLIErrorHandler) handleGenericError(err error) int {
	if os.IsNotExist(err) || strings.Contains(err.Error(), "no such file or directory") {
		fmt.Fprintf(os.Stderr, "Error: File not found\n")
		fmt.Fprintf(os.Stderr, "Suggestion: Check if the file path is correct and the file exists\n")
		return 2
	}

	if os.IsPermission(err) || strings.Contains(err.Error(), "permission denied") {
		fmt.Fprintf(os.Stderr, "Error: Permission denied\n")
		fmt.Fprintf(os.Stderr, "Suggestion: Check file permissions and ensure you have read access\n")
		return 2
	}

	fmt.Fprintf(os.Stderr, "Error: %v\n", err)

	if !h.verbose {
		fmt.Fprintf(os.Stderr, "\nFor more details, run with --verbose\n")
	}

	return 1
}

// getCategoryHelp returns category-specific help text
func (h *CLIErrorHandler) getCategoryHelp(category harvesterrors.ErrorCategory) string {
	switch category {
	case harvesterrors.CategoryAuth:
		return `Authentication error help:
• Log in to the provider in your browser, then export the session
• Check the session file in --session-dir belongs to this provider
• Increase --auth-timeout if logins take longer than the handoff wait
• Re-run the same command; completed orders resume from the ledger`

	case harvesterrors.CategoryCoverage:
		return `Coverage error help:
• Check the failed_orders list in the run summary for per-order reasons
• Re-run the same command; only failed and pending orders are retried
• Lower --min-pdf-success-rate if the month legitimately has gaps
• Inspect --debug-dir snapshots for pages that failed validation`

	case harvesterrors.CategoryConfiguration:
		return `Configuration error help:
• Check your command-line flags and arguments
• Verify configuration file syntax if using --config
• Use 'harvester harvest --help' to see all available options
• Try running with default settings first`

	case harvesterrors.CategoryLedger:
		return `Ledger error help:
• The resume ledger may be corrupted mid-file; inspect it as JSONL
• Move the damaged ledger aside and re-run to rebuild the month
• Check disk space and permissions on the ledger directory`

	case harvesterrors.CategoryNetwork:
		return `Network error help:
• Check your connection and the provider's availability
• Providers rate-limit aggressively; wait before retrying
• Re-run the same command to resume from the ledger`

	default:
		return `For more help:
• Use 'harvester --help' for general help
• Use 'harvester harvest --help' or 'harvester match --help' for command help
• Re-run with --verbose for underlying error detail`
	}
}
