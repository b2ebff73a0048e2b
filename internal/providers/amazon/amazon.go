// Package amazon extracts orders from the retail marketplace's order
// history. The provider runs two UI generations side by side, so the
// adapter probes the list page once and selects the matching DOM
// variant for the rest of the pass.
package amazon

import (
	"context"
	"fmt"

	"receipt-reconciler/internal/classify"
	"receipt-reconciler/internal/models"
	"receipt-reconciler/internal/providers"
	"receipt-reconciler/internal/totals"
	"receipt-reconciler/internal/webpage"
	harvesterrors "receipt-reconciler/pkg/errors"
	"receipt-reconciler/pkg/logger"
)

const providerName = "amazon"

// maxListPages bounds the pagination walk against a broken "next" link
// loop.
const maxListPages = 50

// Config configures the adapter.
type Config struct {
	// BaseURL is the marketplace origin, overridable for tests.
	BaseURL string

	// AuthWaiter resolves login interstitials; nil makes any login page
	// immediately fatal.
	AuthWaiter providers.AuthWaiter
}

// Adapter is the marketplace extraction adapter.
type Adapter struct {
	nav     webpage.Navigator
	config  Config
	log     logger.Logger
	payment *classify.PaymentClassifier
}

// New creates the adapter. The payment classifier carries the
// provider's extra "no receipt issued" classes beyond the shared set:
// pure digital content is billed without a receipt flow here.
func New(nav webpage.Navigator, config Config, log logger.Logger) *Adapter {
	if config.BaseURL == "" {
		config.BaseURL = "https://www.amazon.co.jp"
	}
	if log == nil {
		log = logger.GetGlobalLogger()
	}
	return &Adapter{
		nav:     nav,
		config:  config,
		log:     log.WithProvider(providerName),
		payment: classify.NewPaymentClassifier("デジタルコンテンツ", "digital content"),
	}
}

// Name implements providers.Adapter.
func (a *Adapter) Name() string {
	return providerName
}

// Extract implements providers.Adapter. Orders are emitted in
// page-discovery order; pagination duplicates are dropped by order id.
func (a *Adapter) Extract(ctx context.Context, params providers.RunParams, sink providers.Sink) error {
	variant, firstPage, err := a.probeVariant(ctx, params)
	if err != nil {
		return err
	}
	a.log.WithField("variant", variant.name()).Debug("List page variant selected")

	dedup := providers.NewDeduper()
	page := firstPage
	position := 0

	for pageCount := 0; pageCount < maxListPages; pageCount++ {
		for _, stub := range variant.orderStubs(page) {
			if dedup.Seen(stub.orderID) {
				continue
			}
			if sink.ShouldSkip(stub.orderID) {
				a.log.WithField("order_id", stub.orderID).Debug("Order already ledgered, skipping")
				continue
			}
			rec := a.extractOrder(ctx, variant, params, stub, position)
			position++
			if err := sink.Emit(ctx, rec); err != nil {
				return err
			}
		}

		next := providers.NextPageLink(page)
		if next == nil {
			break
		}
		page, err = providers.GetAuthenticated(ctx, a.nav, next.URL, providerName, a.config.AuthWaiter)
		if err != nil {
			return err
		}
	}
	return nil
}

// extractOrder opens one order's detail page and drafts its record.
// Per-order failures land in the record, never in the return path.
func (a *Adapter) extractOrder(ctx context.Context, variant domVariant, params providers.RunParams, stub orderStub, position int) *models.OrderRecord {
	rec := models.NewOrderRecord(providerName)
	rec.OrderID = stub.orderID
	rec.DetailURL = stub.detailURL
	rec.Position = position

	page, err := providers.GetAuthenticated(ctx, a.nav, stub.detailURL, providerName, a.config.AuthWaiter)
	if err != nil {
		providers.ApplyError(rec, err)
		return rec
	}

	if date, ok := providers.ExtractLabeledDate(page.Text, variant.dateLabels()...); ok {
		rec.OrderDate = date
	} else if date, ok := providers.ExtractAnyDate(page.Text); ok {
		rec.OrderDate = date
	}
	if !providers.ClassifyMonth(rec, params) {
		return rec
	}

	if classify.ClassifyPage(page) == classify.PageGiftCard {
		rec.Status = models.StatusGiftCard
		return rec
	}

	rec.PaymentMethod = extractPaymentMethod(page.Text)
	if a.payment.Classify(rec.PaymentMethod) == classify.PaymentNoReceipt {
		rec.Status = models.StatusNoReceipt
		return rec
	}

	rec.ItemName = stub.itemName

	resolution := totals.Resolve(totals.Observed{
		CardYen:    stub.cardYen,
		BillingYen: totals.ExtractLabeledYen(page.Text, variant.billingLabels()...),
		SummaryYen: totals.ExtractLabeledYen(page.Text, variant.summaryLabels()...),
	})
	rec.TotalYen = resolution.TotalYen
	rec.TotalSource = resolution.Source
	rec.TotalConflict = resolution.Conflict

	rec.Documents = classify.BuildDocumentPlan(page.Links)
	if len(rec.Documents) == 0 {
		rec.Status = models.StatusNoReceipt
		return rec
	}

	rec.Status = models.StatusOK
	return rec
}

// probeVariant fetches the month's list page and picks the DOM
// generation. The modern URL is tried first; a provider still on the
// legacy UI redirects or renders the legacy order list, which the
// modern stub extractor cannot read.
func (a *Adapter) probeVariant(ctx context.Context, params providers.RunParams) (domVariant, *webpage.Page, error) {
	modern := &modernVariant{baseURL: a.config.BaseURL}
	page, err := providers.GetAuthenticated(ctx, a.nav, modern.listURL(params), providerName, a.config.AuthWaiter)
	if err != nil {
		return nil, nil, err
	}
	if len(modern.orderStubs(page)) > 0 {
		return modern, page, nil
	}

	legacy := &legacyVariant{baseURL: a.config.BaseURL}
	if len(legacy.orderStubs(page)) > 0 {
		return legacy, page, nil
	}

	page, err = providers.GetAuthenticated(ctx, a.nav, legacy.listURL(params), providerName, a.config.AuthWaiter)
	if err != nil {
		return nil, nil, err
	}
	if len(legacy.orderStubs(page)) > 0 {
		return legacy, page, nil
	}

	// Neither generation recognized any order: an empty month renders
	// the modern shell, so treat it as modern with zero orders.
	if err := a.assertOrderHistory(page); err != nil {
		return nil, nil, err
	}
	return modern, page, nil
}

// assertOrderHistory guards against a silently changed list page. An
// unrecognizable page here would otherwise degrade every order in the
// month to no_receipt.
func (a *Adapter) assertOrderHistory(page *webpage.Page) error {
	if page.ContainsAny("注文履歴", "注文", "orders") {
		return nil
	}
	return harvesterrors.InternalError(
		fmt.Sprintf("order history page not recognized at %s", page.URL), nil)
}
