// Package rakuten extracts orders from the second retail marketplace's
// purchase history. One UI generation, but order numbers embed the shop
// and order date, so list-page filtering can pre-screen the month
// before any detail page is opened.
package rakuten

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"receipt-reconciler/internal/classify"
	"receipt-reconciler/internal/models"
	"receipt-reconciler/internal/providers"
	"receipt-reconciler/internal/totals"
	"receipt-reconciler/internal/webpage"
	"receipt-reconciler/pkg/logger"
)

const providerName = "rakuten"

const maxListPages = 50

// Config configures the adapter.
type Config struct {
	BaseURL    string
	AuthWaiter providers.AuthWaiter
}

// Adapter is the marketplace extraction adapter.
type Adapter struct {
	nav     webpage.Navigator
	config  Config
	log     logger.Logger
	payment *classify.PaymentClassifier
}

// New creates the adapter.
func New(nav webpage.Navigator, config Config, log logger.Logger) *Adapter {
	if config.BaseURL == "" {
		config.BaseURL = "https://order.my.rakuten.co.jp"
	}
	if log == nil {
		log = logger.GetGlobalLogger()
	}
	return &Adapter{
		nav:     nav,
		config:  config,
		log:     log.WithProvider(providerName),
		payment: classify.NewPaymentClassifier(),
	}
}

// Name implements providers.Adapter.
func (a *Adapter) Name() string {
	return providerName
}

// orderNumberPattern matches shop-date-sequence order numbers in detail
// URLs. The middle group is the order date as yyyymmdd.
var orderNumberPattern = regexp.MustCompile(`order_number=([0-9]{6})-([0-9]{8})-([0-9]{8})`)

// Extract implements providers.Adapter.
func (a *Adapter) Extract(ctx context.Context, params providers.RunParams, sink providers.Sink) error {
	listURL := a.listURL(params)
	page, err := providers.GetAuthenticated(ctx, a.nav, listURL, providerName, a.config.AuthWaiter)
	if err != nil {
		return err
	}

	dedup := providers.NewDeduper()
	position := 0

	for pageCount := 0; pageCount < maxListPages; pageCount++ {
		for _, link := range page.Links {
			match := orderNumberPattern.FindStringSubmatch(link.URL)
			if match == nil {
				continue
			}
			orderID := match[1] + "-" + match[2] + "-" + match[3]
			if dedup.Seen(orderID) {
				continue
			}
			if sink.ShouldSkip(orderID) {
				a.log.WithField("order_id", orderID).Debug("Order already ledgered, skipping")
				continue
			}

			rec := a.extractOrder(ctx, params, orderID, match[2], link.URL, position)
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

// extractOrder drafts one order's record. The embedded date from the
// order number pre-screens the month, so out-of-month orders never cost
// a detail-page fetch.
func (a *Adapter) extractOrder(ctx context.Context, params providers.RunParams, orderID, rawDate, detailURL string, position int) *models.OrderRecord {
	rec := models.NewOrderRecord(providerName)
	rec.OrderID = orderID
	rec.DetailURL = detailURL
	rec.Position = position

	if date, err := models.ParseDate(fmt.Sprintf("%s-%s-%s", rawDate[:4], rawDate[4:6], rawDate[6:8])); err == nil {
		rec.OrderDate = date
	}
	if !providers.ClassifyMonth(rec, params) {
		return rec
	}

	page, err := providers.GetAuthenticated(ctx, a.nav, detailURL, providerName, a.config.AuthWaiter)
	if err != nil {
		providers.ApplyError(rec, err)
		return rec
	}

	// The page date wins over the number-embedded one when both parse;
	// shops occasionally reuse stale numbers on resubmitted orders.
	if date, ok := providers.ExtractLabeledDate(page.Text, "注文日", "ご注文日"); ok {
		rec.OrderDate = date
		if !providers.ClassifyMonth(rec, params) {
			return rec
		}
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

	resolution := totals.Resolve(totals.Observed{
		BillingYen: totals.ExtractLabeledYen(page.Text, "請求金額", "ご請求金額"),
		SummaryYen: totals.ExtractLabeledYen(page.Text, "合計金額", "注文合計", "小計"),
	})
	rec.TotalYen = resolution.TotalYen
	rec.TotalSource = resolution.Source
	rec.TotalConflict = resolution.Conflict

	// Detail pages link each line item back to its shop page; the first
	// such anchor carries the item name.
	if link := page.FindLink("item.rakuten.co.jp"); link != nil {
		rec.ItemName = strings.TrimSpace(link.Text)
	}

	rec.Documents = classify.BuildDocumentPlan(page.Links)
	if len(rec.Documents) == 0 {
		rec.Status = models.StatusNoReceipt
		return rec
	}

	rec.Status = models.StatusOK
	return rec
}

func (a *Adapter) listURL(params providers.RunParams) string {
	return fmt.Sprintf("%s/purchase-history/order-list?year=%04d&month=%02d",
		a.config.BaseURL, params.Year, int(params.Month))
}

func extractPaymentMethod(text string) string {
	for _, label := range []string{"支払い方法", "支払方法", "お支払い"} {
		idx := strings.Index(text, label)
		if idx < 0 {
			continue
		}
		window := strings.TrimLeft(text[idx+len(label):], "：: ")
		if runes := []rune(window); len(runes) > 40 {
			window = string(runes[:40])
		}
		for _, stop := range []string{"合計", "請求", "注文", "配送", "ポイント"} {
			if cut := strings.Index(window, stop); cut >= 0 {
				window = window[:cut]
			}
		}
		return strings.TrimSpace(window)
	}
	return ""
}
