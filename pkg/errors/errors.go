// Package errors defines the run and per-order error taxonomy.
//
// Per-order failures are normalized to a small closed set of reason
// codes so the resume ledger stays machine-readable; only authentication
// failures and the end-of-run coverage check may abort a whole run.
package errors

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"
)

// ErrorCategory represents different categories of errors
type ErrorCategory string

const (
	CategoryAuth          ErrorCategory = "auth"
	CategoryExtraction    ErrorCategory = "extraction"
	CategoryMaterialize   ErrorCategory = "materialize"
	CategoryLedger        ErrorCategory = "ledger"
	CategoryCoverage      ErrorCategory = "coverage"
	CategoryConfiguration ErrorCategory = "configuration"
	CategoryNetwork       ErrorCategory = "network"
	CategoryInternal      ErrorCategory = "internal"
)

// ErrorCode represents specific error codes within categories.
// Per-order codes double as the error_reason value written to the
// resume ledger.
type ErrorCode string

const (
	// Fatal, whole-run
	CodeAuthRequired        ErrorCode = "AUTH_REQUIRED"
	CodeCoverageThreshold   ErrorCode = "COVERAGE_THRESHOLD_NOT_MET"

	// Per-order extraction
	CodeLinkNotResolved     ErrorCode = "link_not_resolved"
	CodeNoReceiptPayment    ErrorCode = "no_receipt_payment_method"
	CodeUnknownOrderDate    ErrorCode = "unknown_order_date"

	// Per-order materialization
	CodeDocumentValidation  ErrorCode = "document_validation_failed"
	CodeSaveFailed          ErrorCode = "save_failed"

	// Per-order network
	CodeNetworkError        ErrorCode = "network_error"
	CodeTimeout             ErrorCode = "timeout"

	// Ledger / configuration / internal
	CodeLedgerWriteFailed   ErrorCode = "ledger_write_failed"
	CodeLedgerCorrupted     ErrorCode = "ledger_corrupted"
	CodeInvalidConfig       ErrorCode = "invalid_config"
	CodeMissingConfig       ErrorCode = "missing_config"
	CodeUnexpectedError     ErrorCode = "unexpected_error"
)

// HarvestError is the base error type for all application errors
type HarvestError struct {
	Category   ErrorCategory     `json:"category"`
	Code       ErrorCode         `json:"code"`
	Message    string            `json:"message"`
	Detail     string            `json:"detail,omitempty"`
	Suggestion string            `json:"suggestion,omitempty"`
	Context    Context           `json:"context,omitempty"`
	Cause      error             `json:"-"`
	StackTrace errors.StackTrace `json:"-"`
}

// Context provides additional information about the error
type Context map[string]interface{}

// Error implements the error interface
func (e *HarvestError) Error() string {
	if e.Suggestion != "" {
		return fmt.Sprintf("%s (suggestion: %s)", e.Message, e.Suggestion)
	}
	return e.Message
}

// Unwrap returns the underlying cause error
func (e *HarvestError) Unwrap() error {
	return e.Cause
}

// IsFatal reports whether the error must abort the whole run rather
// than just the current order.
func (e *HarvestError) IsFatal() bool {
	return e.Code == CodeAuthRequired || e.Code == CodeCoverageThreshold
}

// Reason returns the ledger error_reason string for the error. The
// document-validation code carries its detail as a suffix.
func (e *HarvestError) Reason() string {
	if e.Code == CodeDocumentValidation && e.Detail != "" {
		return fmt.Sprintf("%s:%s", e.Code, e.Detail)
	}
	return string(e.Code)
}

// GetExitCode returns an appropriate exit code for the error
func (e *HarvestError) GetExitCode() int {
	switch e.Category {
	case CategoryAuth:
		return 2
	case CategoryCoverage:
		return 3
	case CategoryConfiguration:
		return 4
	case CategoryExtraction, CategoryMaterialize, CategoryLedger, CategoryInternal:
		return 5
	case CategoryNetwork:
		return 6
	default:
		return 1
	}
}

// WithContext adds context information to the error
func (e *HarvestError) WithContext(key string, value interface{}) *HarvestError {
	if e.Context == nil {
		e.Context = make(Context)
	}
	e.Context[key] = value
	return e
}

// WithSuggestion adds a suggestion for fixing the error
func (e *HarvestError) WithSuggestion(suggestion string) *HarvestError {
	e.Suggestion = suggestion
	return e
}

// WithDetail attaches a short machine-readable detail fragment
func (e *HarvestError) WithDetail(detail string) *HarvestError {
	e.Detail = detail
	return e
}

// New creates a new HarvestError
func New(category ErrorCategory, code ErrorCode, message string) *HarvestError {
	return &HarvestError{
		Category:   category,
		Code:       code,
		Message:    message,
		StackTrace: errors.New("").(stackTracer).StackTrace(),
	}
}

// Wrap wraps an existing error with HarvestError context
func Wrap(err error, category ErrorCategory, code ErrorCode, message string) *HarvestError {
	if err == nil {
		return nil
	}

	return &HarvestError{
		Category:   category,
		Code:       code,
		Message:    message,
		Cause:      err,
		StackTrace: errors.WithStack(err).(stackTracer).StackTrace(),
	}
}

// stackTracer interface for extracting stack traces
type stackTracer interface {
	StackTrace() errors.StackTrace
}

// Specific error constructors

// AuthRequired creates the fatal authentication error for a provider.
func AuthRequired(provider string, err error) *HarvestError {
	message := fmt.Sprintf("authentication required for provider %s", provider)

	var result *HarvestError
	if err != nil {
		result = Wrap(err, CategoryAuth, CodeAuthRequired, message)
	} else {
		result = New(CategoryAuth, CodeAuthRequired, message)
	}

	return result.
		WithSuggestion("complete the login handoff in the provider session and re-run").
		WithContext("provider", provider)
}

// CoverageNotMet creates the fatal end-of-run coverage error.
func CoverageNotMet(coverage, threshold float64) *HarvestError {
	message := fmt.Sprintf("document coverage %.2f below required %.2f", coverage, threshold)

	return New(CategoryCoverage, CodeCoverageThreshold, message).
		WithSuggestion("inspect failed orders in the run summary; provider markup may have changed").
		WithContext("coverage", coverage).
		WithContext("threshold", threshold)
}

// LinkNotResolved creates a per-order error for an unresolvable document link.
func LinkNotResolved(detailURL string, err error) *HarvestError {
	message := fmt.Sprintf("no document link resolved on %s", detailURL)

	var result *HarvestError
	if err != nil {
		result = Wrap(err, CategoryExtraction, CodeLinkNotResolved, message)
	} else {
		result = New(CategoryExtraction, CodeLinkNotResolved, message)
	}

	return result.WithContext("detail_url", detailURL)
}

// DocumentValidation creates a per-order materialization validation error.
// The detail fragment is appended to the ledger reason code.
func DocumentValidation(detail, docURL string, err error) *HarvestError {
	message := fmt.Sprintf("document validation failed (%s) for %s", detail, docURL)

	var result *HarvestError
	if err != nil {
		result = Wrap(err, CategoryMaterialize, CodeDocumentValidation, message)
	} else {
		result = New(CategoryMaterialize, CodeDocumentValidation, message)
	}

	return result.
		WithDetail(detail).
		WithContext("doc_url", docURL)
}

// SaveFailed creates a per-order error for a failed PDF write.
func SaveFailed(path string, err error) *HarvestError {
	message := fmt.Sprintf("failed to save document to %s", path)

	var result *HarvestError
	if err != nil {
		result = Wrap(err, CategoryMaterialize, CodeSaveFailed, message)
	} else {
		result = New(CategoryMaterialize, CodeSaveFailed, message)
	}

	return result.
		WithSuggestion("check output directory permissions and free disk space").
		WithContext("path", path)
}

// NetworkError creates a per-order network error.
func NetworkError(code ErrorCode, endpoint string, err error) *HarvestError {
	var message string
	var suggestion string

	switch code {
	case CodeTimeout:
		message = fmt.Sprintf("timeout contacting %s", endpoint)
		suggestion = "the order is recorded as failed; re-run to retry only unledgered orders"
	default:
		code = CodeNetworkError
		message = fmt.Sprintf("network error contacting %s", endpoint)
		suggestion = "check connectivity; the run continues with the next order"
	}

	var result *HarvestError
	if err != nil {
		result = Wrap(err, CategoryNetwork, code, message)
	} else {
		result = New(CategoryNetwork, code, message)
	}

	return result.
		WithSuggestion(suggestion).
		WithContext("endpoint", endpoint)
}

// LedgerError creates a resume-ledger error.
func LedgerError(code ErrorCode, path string, err error) *HarvestError {
	var message string
	var suggestion string

	switch code {
	case CodeLedgerCorrupted:
		message = fmt.Sprintf("resume ledger appears corrupted: %s", path)
		suggestion = "remove the trailing partial line or start a fresh output target"
	default:
		code = CodeLedgerWriteFailed
		message = fmt.Sprintf("failed to append to resume ledger: %s", path)
		suggestion = "check output directory permissions"
	}

	var result *HarvestError
	if err != nil {
		result = Wrap(err, CategoryLedger, code, message)
	} else {
		result = New(CategoryLedger, code, message)
	}

	return result.
		WithSuggestion(suggestion).
		WithContext("path", path)
}

// ConfigurationError creates a configuration-related error.
func ConfigurationError(code ErrorCode, setting string, value interface{}) *HarvestError {
	var message string
	var suggestion string

	switch code {
	case CodeMissingConfig:
		message = fmt.Sprintf("missing required configuration: %s", setting)
		suggestion = "provide this setting via flag, environment, or config file"
	default:
		code = CodeInvalidConfig
		message = fmt.Sprintf("invalid configuration for '%s': %v", setting, value)
		suggestion = "check the configuration documentation for valid values"
	}

	return New(CategoryConfiguration, code, message).
		WithSuggestion(suggestion).
		WithContext("setting", setting).
		WithContext("value", value)
}

// InternalError creates an internal error.
func InternalError(operation string, err error) *HarvestError {
	message := fmt.Sprintf("unexpected error during %s", operation)

	var result *HarvestError
	if err != nil {
		result = Wrap(err, CategoryInternal, CodeUnexpectedError, message)
	} else {
		result = New(CategoryInternal, CodeUnexpectedError, message)
	}

	return result.
		WithSuggestion("this is likely a bug - please report it with the error details").
		WithContext("operation", operation)
}

// Utility functions

// IsHarvestError checks if an error is a HarvestError
func IsHarvestError(err error) bool {
	_, ok := err.(*HarvestError)
	return ok
}

// AsHarvestError extracts a HarvestError from an error chain
func AsHarvestError(err error) (*HarvestError, bool) {
	var harvestErr *HarvestError
	if errors.As(err, &harvestErr) {
		return harvestErr, true
	}
	return nil, false
}

// ReasonFor normalizes any error to a ledger reason code. Unknown
// errors collapse to unexpected_error so raw messages never leak into
// the machine-readable field.
func ReasonFor(err error) string {
	if harvestErr, ok := AsHarvestError(err); ok {
		return harvestErr.Reason()
	}
	return string(CodeUnexpectedError)
}

// ErrorSummary provides a summary of multiple errors
type ErrorSummary struct {
	Total      int                   `json:"total"`
	ByCategory map[ErrorCategory]int `json:"by_category"`
	ByCode     map[ErrorCode]int     `json:"by_code"`
	Errors     []*HarvestError       `json:"errors"`
}

// NewErrorSummary creates a new error summary
func NewErrorSummary(errs []*HarvestError) *ErrorSummary {
	summary := &ErrorSummary{
		Total:      len(errs),
		ByCategory: make(map[ErrorCategory]int),
		ByCode:     make(map[ErrorCode]int),
		Errors:     errs,
	}
	if errs == nil {
		summary.Errors = []*HarvestError{}
	}

	for _, err := range errs {
		summary.ByCategory[err.Category]++
		summary.ByCode[err.Code]++
	}

	return summary
}

// Error returns a formatted error message for the summary
func (es *ErrorSummary) Error() string {
	if es.Total == 0 {
		return "no errors"
	}

	if es.Total == 1 {
		return es.Errors[0].Error()
	}

	var categories []string
	for category, count := range es.ByCategory {
		categories = append(categories, fmt.Sprintf("%s: %d", category, count))
	}

	return fmt.Sprintf("%d errors occurred (%s)", es.Total, strings.Join(categories, ", "))
}

// HasCode checks if the summary contains errors with the given code
func (es *ErrorSummary) HasCode(code ErrorCode) bool {
	count, exists := es.ByCode[code]
	return exists && count > 0
}

// GetExitCode returns the highest priority exit code from all errors
func (es *ErrorSummary) GetExitCode() int {
	if es.Total == 0 {
		return 0
	}

	maxCode := 1
	for _, err := range es.Errors {
		if code := err.GetExitCode(); code > maxCode {
			maxCode = code
		}
	}

	return maxCode
}
