// Package subscription extracts monthly invoices from subscription
// billing portals. The portals differ only in URLs and label wording,
// so one adapter is parameterized by a portal profile instead of one
// package per portal.
//
// Portals rarely expose order ids; records fall back to the invoice
// URL as their ledger key, and to a derived composite key when even
// that is missing.
package subscription

import (
	"context"
	"fmt"
	"strings"

	"receipt-reconciler/internal/classify"
	"receipt-reconciler/internal/models"
	"receipt-reconciler/internal/providers"
	"receipt-reconciler/internal/totals"
	"receipt-reconciler/internal/webpage"
	"receipt-reconciler/pkg/logger"
)

// Profile describes one billing portal.
type Profile struct {
	// Name is the provider name recorded on emitted records.
	Name string

	// BillingURLFormat is an fmt format with two integer verbs, year
	// then month, producing the month's billing page URL.
	BillingURLFormat string

	// InvoiceLinkMarkers identify invoice links by text or URL fragment
	// when the generic document classifier recognizes nothing.
	InvoiceLinkMarkers []string

	// DateLabels, BillingLabels and SummaryLabels are the portal's
	// wording for the invoice date and amounts on the billing page.
	DateLabels    []string
	BillingLabels []string
	SummaryLabels []string
}

// Validate checks the profile is usable.
func (p Profile) Validate() error {
	if p.Name == "" {
		return fmt.Errorf("portal profile name cannot be empty")
	}
	if p.BillingURLFormat == "" {
		return fmt.Errorf("portal %s: billing URL format cannot be empty", p.Name)
	}
	return nil
}

// Config configures the adapter.
type Config struct {
	Profile    Profile
	AuthWaiter providers.AuthWaiter
}

// Adapter extracts one portal's billing history.
type Adapter struct {
	nav    webpage.Navigator
	config Config
	log    logger.Logger
}

// New creates the adapter for one portal profile.
func New(nav webpage.Navigator, config Config, log logger.Logger) (*Adapter, error) {
	if err := config.Profile.Validate(); err != nil {
		return nil, err
	}
	if log == nil {
		log = logger.GetGlobalLogger()
	}
	return &Adapter{
		nav:    nav,
		config: config,
		log:    log.WithProvider(config.Profile.Name),
	}, nil
}

// Name implements providers.Adapter.
func (a *Adapter) Name() string {
	return a.config.Profile.Name
}

// Extract implements providers.Adapter. Portals list the whole billing
// history on one page; the month filter runs on the per-invoice dates.
func (a *Adapter) Extract(ctx context.Context, params providers.RunParams, sink providers.Sink) error {
	profile := a.config.Profile
	listURL := fmt.Sprintf(profile.BillingURLFormat, params.Year, int(params.Month))

	page, err := providers.GetAuthenticated(ctx, a.nav, listURL, profile.Name, a.config.AuthWaiter)
	if err != nil {
		return err
	}

	dedup := providers.NewDeduper()
	position := 0

	for _, link := range page.Links {
		if !a.isInvoiceLink(link) {
			continue
		}
		if dedup.Seen(link.URL) {
			continue
		}
		if sink.ShouldSkip(link.URL) {
			a.log.WithField("detail_url", link.URL).Debug("Invoice already ledgered, skipping")
			continue
		}

		rec := a.draftRecord(page, link, params, position)
		position++
		if err := sink.Emit(ctx, rec); err != nil {
			return err
		}
	}
	return nil
}

// draftRecord builds one invoice record from the billing page. The
// portal's invoice link is itself the document; no detail page exists.
func (a *Adapter) draftRecord(page *webpage.Page, link webpage.Link, params providers.RunParams, position int) *models.OrderRecord {
	profile := a.config.Profile

	rec := models.NewOrderRecord(profile.Name)
	rec.DetailURL = link.URL
	rec.Position = position

	if date, ok := providers.ExtractAnyDate(link.Text); ok {
		rec.OrderDate = date
	} else if date, ok := providers.ExtractLabeledDate(page.Text, profile.DateLabels...); ok {
		rec.OrderDate = date
	}
	if !providers.ClassifyMonth(rec, params) {
		return rec
	}

	resolution := totals.Resolve(totals.Observed{
		BillingYen: totals.ExtractLabeledYen(page.Text, profile.BillingLabels...),
		SummaryYen: totals.ExtractLabeledYen(page.Text, profile.SummaryLabels...),
	})
	rec.TotalYen = resolution.TotalYen
	rec.TotalSource = resolution.Source
	rec.TotalConflict = resolution.Conflict
	rec.ItemName = profile.Name + " subscription"

	rec.Documents = classify.BuildDocumentPlan([]webpage.Link{link})
	if len(rec.Documents) == 0 {
		// The profile marker matched but the generic families did not:
		// record the link as a receipt-like document rather than
		// degrading a known invoice to no_receipt.
		rec.Documents = []models.Document{{
			DocType: models.DocTypeReceiptLike,
			DocURL:  link.URL,
			Primary: true,
		}}
	}

	rec.Status = models.StatusOK
	return rec
}

func (a *Adapter) isInvoiceLink(link webpage.Link) bool {
	if _, ok := classify.ClassifyCandidate(link); ok {
		return true
	}
	haystack := strings.ToLower(link.Text + " " + link.URL)
	for _, marker := range a.config.Profile.InvoiceLinkMarkers {
		if marker != "" && strings.Contains(haystack, strings.ToLower(marker)) {
			return true
		}
	}
	return false
}
