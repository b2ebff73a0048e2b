// Package freee extracts billing documents from the corporate
// expense-ledger product's own billing history. Unlike the
// marketplaces, one account usually yields one invoice per month, but
// plan changes and per-seat adjustments can add more.
//
// The provider exposes an editable billing-name field; when a receipt
// name is configured the adapter applies it before extracting, best
// effort. A failed application is logged and the pass continues.
package freee

import (
	"context"
	"fmt"
	"net/url"
	"regexp"

	"receipt-reconciler/internal/classify"
	"receipt-reconciler/internal/models"
	"receipt-reconciler/internal/providers"
	"receipt-reconciler/internal/totals"
	"receipt-reconciler/internal/webpage"
	"receipt-reconciler/pkg/logger"
)

const providerName = "freee"

// Config configures the adapter.
type Config struct {
	BaseURL    string
	AuthWaiter providers.AuthWaiter
}

// Adapter is the expense-ledger-product extraction adapter.
type Adapter struct {
	nav    webpage.Navigator
	config Config
	log    logger.Logger
}

// New creates the adapter.
func New(nav webpage.Navigator, config Config, log logger.Logger) *Adapter {
	if config.BaseURL == "" {
		config.BaseURL = "https://secure.ledger.example.com"
	}
	if log == nil {
		log = logger.GetGlobalLogger()
	}
	return &Adapter{
		nav:    nav,
		config: config,
		log:    log.WithProvider(providerName),
	}
}

// Name implements providers.Adapter.
func (a *Adapter) Name() string {
	return providerName
}

var invoiceIDPattern = regexp.MustCompile(`/billing/invoices/([A-Za-z0-9-]+)`)

// Extract implements providers.Adapter.
func (a *Adapter) Extract(ctx context.Context, params providers.RunParams, sink providers.Sink) error {
	if params.ReceiptName != "" {
		a.applyReceiptName(ctx, params.ReceiptName)
	}

	listURL := fmt.Sprintf("%s/billing/history?year=%04d&month=%02d",
		a.config.BaseURL, params.Year, int(params.Month))
	page, err := providers.GetAuthenticated(ctx, a.nav, listURL, providerName, a.config.AuthWaiter)
	if err != nil {
		return err
	}

	dedup := providers.NewDeduper()
	position := 0

	for _, link := range page.Links {
		match := invoiceIDPattern.FindStringSubmatch(link.URL)
		if match == nil {
			continue
		}
		invoiceID := match[1]
		if dedup.Seen(invoiceID) {
			continue
		}
		if sink.ShouldSkip(invoiceID) {
			a.log.WithField("order_id", invoiceID).Debug("Invoice already ledgered, skipping")
			continue
		}

		rec := a.extractInvoice(ctx, params, invoiceID, link.URL, position)
		position++
		if err := sink.Emit(ctx, rec); err != nil {
			return err
		}
	}
	return nil
}

func (a *Adapter) extractInvoice(ctx context.Context, params providers.RunParams, invoiceID, detailURL string, position int) *models.OrderRecord {
	rec := models.NewOrderRecord(providerName)
	rec.OrderID = invoiceID
	rec.DetailURL = detailURL
	rec.Position = position

	page, err := providers.GetAuthenticated(ctx, a.nav, detailURL, providerName, a.config.AuthWaiter)
	if err != nil {
		providers.ApplyError(rec, err)
		return rec
	}

	if date, ok := providers.ExtractLabeledDate(page.Text, "発行日", "請求日", "利用月"); ok {
		rec.OrderDate = date
	} else if date, ok := providers.ExtractAnyDate(page.Text); ok {
		rec.OrderDate = date
	}
	if !providers.ClassifyMonth(rec, params) {
		return rec
	}

	resolution := totals.Resolve(totals.Observed{
		BillingYen: totals.ExtractLabeledYen(page.Text, "ご請求金額", "請求金額"),
		SummaryYen: totals.ExtractLabeledYen(page.Text, "合計金額", "合計"),
	})
	rec.TotalYen = resolution.TotalYen
	rec.TotalSource = resolution.Source
	rec.TotalConflict = resolution.Conflict
	rec.ItemName = extractPlanName(page.Text)

	rec.Documents = classify.BuildDocumentPlan(page.Links)
	if len(rec.Documents) == 0 {
		rec.Status = models.StatusNoReceipt
		return rec
	}

	rec.Status = models.StatusOK
	return rec
}

// applyReceiptName sets the billing-name field, best effort. The
// settings page echoes the current name; a page already showing the
// requested name needs no change. Any failure here is logged and never
// fails the pass.
func (a *Adapter) applyReceiptName(ctx context.Context, name string) {
	settingsURL := a.config.BaseURL + "/billing/settings/receipt-name?apply=" + url.QueryEscape(name)

	page, err := providers.GetAuthenticated(ctx, a.nav, settingsURL, providerName, a.config.AuthWaiter)
	if err != nil {
		a.log.WithError(err).Warn("Receipt name application failed, continuing without it")
		return
	}
	if !page.ContainsAny(name) {
		a.log.WithField("receipt_name", name).
			Warn("Receipt name not reflected on settings page, continuing without it")
		return
	}
	a.log.WithField("receipt_name", name).Debug("Receipt name applied")
}

var planNamePattern = regexp.MustCompile(`プラン[：:\s]*([^\s]+)`)

func extractPlanName(text string) string {
	if match := planNamePattern.FindStringSubmatch(text); match != nil {
		return match[1]
	}
	return ""
}
