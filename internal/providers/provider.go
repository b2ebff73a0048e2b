// Package providers defines the extraction adapter contract and the
// helpers shared by every concrete provider.
//
// An adapter drives an authenticated session through one provider's
// order or billing history for a target month and emits OrderRecord
// drafts in page-discovery order. Adapters classify and resolve; they
// never materialize, ledger, or abort the run themselves. The one
// exception is authentication: a login or challenge page surfaces as a
// fatal error through the sink.
package providers

import (
	"context"
	"regexp"
	"strings"
	"time"

	"receipt-reconciler/internal/classify"
	"receipt-reconciler/internal/models"
	"receipt-reconciler/internal/webpage"
	harvesterrors "receipt-reconciler/pkg/errors"
)

// RunParams carries the per-run inputs every adapter receives.
type RunParams struct {
	Year  int
	Month time.Month

	// ReceiptName is applied to providers that expose an editable
	// billing-name field. Best effort; adapters record a failed
	// application, they never fail the run over it.
	ReceiptName string
}

// Sink receives the adapter's output. ShouldSkip is consulted with the
// order's ledger key before the detail page is opened, so resumed runs
// do not re-navigate completed orders.
type Sink interface {
	ShouldSkip(key string) bool
	Emit(ctx context.Context, rec *models.OrderRecord) error
}

// Adapter is one provider's extraction implementation.
type Adapter interface {
	// Name is the provider name recorded in OrderRecord.Source.
	Name() string

	// Extract walks the provider's history for the requested month and
	// emits one draft per discovered order. The sequence is finite and
	// not restartable mid-pass; a restart re-runs from the list page and
	// relies on ShouldSkip.
	Extract(ctx context.Context, params RunParams, sink Sink) error
}

// Deduper tracks order keys seen across pagination, since providers
// repeat entries on page boundaries.
type Deduper struct {
	seen map[string]bool
}

// NewDeduper creates an empty dedup set.
func NewDeduper() *Deduper {
	return &Deduper{seen: make(map[string]bool)}
}

// Seen records the key and reports whether it was already present.
func (d *Deduper) Seen(key string) bool {
	if d.seen[key] {
		return true
	}
	d.seen[key] = true
	return false
}

var nextPageMarkers = []string{"次へ", "次のページ", "next", "›", "→"}

// NextPageLink finds the pagination link on a list page, nil when the
// walk is done. Providers render a disabled "next" as plain text, so
// absence of the link is the terminal condition.
func NextPageLink(page *webpage.Page) *webpage.Link {
	for i := range page.Links {
		text := strings.ToLower(strings.TrimSpace(page.Links[i].Text))
		for _, marker := range nextPageMarkers {
			if text == marker || strings.Contains(text, marker) {
				return &page.Links[i]
			}
		}
	}
	return nil
}

var datePatterns = []*regexp.Regexp{
	regexp.MustCompile(`\d{4}年\d{1,2}月\d{1,2}日`),
	regexp.MustCompile(`\d{4}/\d{1,2}/\d{1,2}`),
	regexp.MustCompile(`\d{4}-\d{2}-\d{2}`),
}

// ExtractLabeledDate finds the first parseable date following one of
// the labels in the page text.
func ExtractLabeledDate(text string, labels ...string) (time.Time, bool) {
	for _, label := range labels {
		idx := strings.Index(text, label)
		if idx < 0 {
			continue
		}
		window := text[idx+len(label):]
		if len(window) > 80 {
			window = window[:80]
		}
		for _, pattern := range datePatterns {
			if raw := pattern.FindString(window); raw != "" {
				if date, err := models.ParseDate(raw); err == nil {
					return date, true
				}
			}
		}
	}
	return time.Time{}, false
}

// ExtractAnyDate finds the first parseable date anywhere in the text.
// Used on list cards that show the order date without a label.
func ExtractAnyDate(text string) (time.Time, bool) {
	for _, pattern := range datePatterns {
		if raw := pattern.FindString(text); raw != "" {
			if date, err := models.ParseDate(raw); err == nil {
				return date, true
			}
		}
	}
	return time.Time{}, false
}

// ApplyError finalizes a record that failed extraction or
// materialization. The reason is always one of the closed reason
// codes; the human-readable detail rides in error_detail.
func ApplyError(rec *models.OrderRecord, err error) {
	rec.Status = models.StatusError
	rec.ErrorReason = harvesterrors.ReasonFor(err)
	if harvestErr, ok := harvesterrors.AsHarvestError(err); ok {
		rec.ErrorDetail = harvestErr.Message
	} else if err != nil {
		rec.ErrorDetail = err.Error()
	}
}

// AuthWaiter blocks until an external actor completes authentication
// in the shared session, or fails when the bounded wait expires.
type AuthWaiter func(ctx context.Context) error

// GetAuthenticated fetches a page and resolves a login or challenge
// interstitial through the auth handoff. One handoff round is allowed
// per fetch; a page that still resolves to login afterwards fails the
// run with AUTH_REQUIRED.
func GetAuthenticated(ctx context.Context, nav webpage.Navigator, url, provider string, waiter AuthWaiter) (*webpage.Page, error) {
	page, err := nav.Get(ctx, url)
	if err != nil {
		return nil, harvesterrors.NetworkError(harvesterrors.CodeNetworkError, url, err)
	}
	if classify.ClassifyPage(page) != classify.PageLogin {
		return page, nil
	}

	if waiter == nil {
		return nil, harvesterrors.AuthRequired(provider, nil)
	}
	if err := waiter(ctx); err != nil {
		return nil, harvesterrors.AuthRequired(provider, err)
	}
	page, err = nav.Get(ctx, url)
	if err != nil {
		return nil, harvesterrors.NetworkError(harvesterrors.CodeNetworkError, url, err)
	}
	if classify.ClassifyPage(page) == classify.PageLogin {
		return nil, harvesterrors.AuthRequired(provider, nil)
	}
	return page, nil
}

// ClassifyMonth sets the month-scoping status on a record whose date
// has been resolved (or not). Returns true when the order is in scope
// for further processing.
func ClassifyMonth(rec *models.OrderRecord, params RunParams) bool {
	if rec.OrderDate.IsZero() {
		rec.Status = models.StatusUnknownDate
		return false
	}
	if !rec.InMonth(params.Year, params.Month) {
		rec.Status = models.StatusOutOfMonth
		return false
	}
	return true
}
