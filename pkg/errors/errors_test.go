package errors

import (
	"fmt"
	"testing"
)

func TestHarvestErrorReason(t *testing.T) {
	tests := []struct {
		name     string
		err      *HarvestError
		expected string
	}{
		{
			name:     "auth required",
			err:      AuthRequired("amazon", nil),
			expected: "AUTH_REQUIRED",
		},
		{
			name:     "validation carries detail suffix",
			err:      DocumentValidation("wrong_page", "https://example.com/doc", nil),
			expected: "document_validation_failed:wrong_page",
		},
		{
			name:     "validation without detail",
			err:      New(CategoryMaterialize, CodeDocumentValidation, "failed"),
			expected: "document_validation_failed",
		},
		{
			name:     "save failed",
			err:      SaveFailed("/tmp/out.pdf", fmt.Errorf("disk full")),
			expected: "save_failed",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Reason(); got != tt.expected {
				t.Errorf("Reason() = %s, want %s", got, tt.expected)
			}
		})
	}
}

func TestIsFatal(t *testing.T) {
	if !AuthRequired("rakuten", nil).IsFatal() {
		t.Error("Expected AUTH_REQUIRED to be fatal")
	}
	if !CoverageNotMet(0.7, 0.8).IsFatal() {
		t.Error("Expected coverage error to be fatal")
	}
	if LinkNotResolved("https://example.com/o/1", nil).IsFatal() {
		t.Error("Expected link_not_resolved to be per-order")
	}
	if NetworkError(CodeTimeout, "https://example.com", nil).IsFatal() {
		t.Error("Expected timeout to be per-order")
	}
}

func TestReasonForUnknownError(t *testing.T) {
	if got := ReasonFor(fmt.Errorf("raw failure with stack")); got != "unexpected_error" {
		t.Errorf("ReasonFor = %s, want unexpected_error", got)
	}

	wrapped := fmt.Errorf("outer: %w", SaveFailed("/tmp/x.pdf", nil))
	if got := ReasonFor(wrapped); got != "save_failed" {
		t.Errorf("ReasonFor wrapped = %s, want save_failed", got)
	}
}

func TestGetExitCode(t *testing.T) {
	tests := []struct {
		err      *HarvestError
		expected int
	}{
		{AuthRequired("amazon", nil), 2},
		{CoverageNotMet(0.5, 0.8), 3},
		{ConfigurationError(CodeMissingConfig, "year", nil), 4},
		{SaveFailed("/tmp/x", nil), 5},
		{NetworkError(CodeNetworkError, "https://example.com", nil), 6},
	}

	for _, tt := range tests {
		if got := tt.err.GetExitCode(); got != tt.expected {
			t.Errorf("GetExitCode(%s) = %d, want %d", tt.err.Code, got, tt.expected)
		}
	}
}

func TestErrorSummary(t *testing.T) {
	errs := []*HarvestError{
		AuthRequired("amazon", nil),
		LinkNotResolved("https://example.com/1", nil),
		LinkNotResolved("https://example.com/2", nil),
	}

	summary := NewErrorSummary(errs)
	if summary.Total != 3 {
		t.Errorf("Total = %d", summary.Total)
	}
	if !summary.HasCode(CodeAuthRequired) {
		t.Error("Expected AUTH_REQUIRED in summary")
	}
	if summary.ByCode[CodeLinkNotResolved] != 2 {
		t.Errorf("link_not_resolved count = %d", summary.ByCode[CodeLinkNotResolved])
	}
	if summary.GetExitCode() != 5 {
		t.Errorf("GetExitCode = %d, want 5", summary.GetExitCode())
	}

	empty := NewErrorSummary(nil)
	if empty.Error() != "no errors" || empty.GetExitCode() != 0 {
		t.Error("Empty summary should report no errors and exit 0")
	}
}
