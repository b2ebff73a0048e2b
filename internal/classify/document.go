// Package classify holds the pure text/URL classifiers: document
// candidates, payment methods, and page states. Everything here is a
// function of (url, text) with no page access, so the provider
// heuristics stay unit-testable without a live session.
package classify

import (
	"strings"

	"receipt-reconciler/internal/models"
	"receipt-reconciler/internal/webpage"
)

// signal is one label marker with its score weight.
type signal struct {
	marker string
	weight int
}

// Candidate exclusions: links that are never documents even when their
// text mentions receipts (detail pages, ajax fragments, cancellation
// and gift-receipt flows).
var excludePatterns = []string{
	"注文の詳細",
	"order-details",
	"order_details",
	"popover",
	"ajax",
	"キャンセル",
	"cancel",
	"ギフトレシート",
	"gift-receipt",
	"返品",
}

// Tax-invoice signals rank above order-summary signals; within a
// family, more specific labels carry more weight.
var taxInvoiceSignals = []signal{
	{"適格請求書", 100},
	{"インボイス", 90},
	{"tax-invoice", 90},
	{"請求書", 80},
	{"invoice", 70},
}

var orderSummarySignals = []signal{
	{"購入明細書", 100},
	{"注文内容の表示", 90},
	{"order-summary", 90},
	{"ご購入明細", 80},
	{"注文概要", 80},
	{"summary", 60},
}

var receiptLikeSignals = []signal{
	{"領収書", 60},
	{"レシート", 50},
	{"receipt", 50},
}

// ScoredCandidate is one surviving candidate with its classification.
type ScoredCandidate struct {
	Link    webpage.Link
	DocType models.DocType
	Score   int
}

// ClassifyCandidate scores a single candidate link. ok is false when
// the link matches an exclusion or no label family.
func ClassifyCandidate(link webpage.Link) (ScoredCandidate, bool) {
	haystack := strings.ToLower(link.Text + " " + link.URL)

	for _, pattern := range excludePatterns {
		if strings.Contains(haystack, strings.ToLower(pattern)) {
			return ScoredCandidate{}, false
		}
	}

	if score := matchFamily(haystack, taxInvoiceSignals); score > 0 {
		return ScoredCandidate{Link: link, DocType: models.DocTypeTaxInvoice, Score: score}, true
	}
	if score := matchFamily(haystack, orderSummarySignals); score > 0 {
		return ScoredCandidate{Link: link, DocType: models.DocTypeOrderSummary, Score: score}, true
	}
	if score := matchFamily(haystack, receiptLikeSignals); score > 0 {
		return ScoredCandidate{Link: link, DocType: models.DocTypeReceiptLike, Score: score}, true
	}
	return ScoredCandidate{}, false
}

func matchFamily(haystack string, signals []signal) int {
	best := 0
	for _, s := range signals {
		if strings.Contains(haystack, strings.ToLower(s.marker)) && s.weight > best {
			best = s.weight
		}
	}
	return best
}

// BuildDocumentPlan turns the candidate links discovered on an order's
// receipt surface into the ranked, deduplicated set of Documents to
// materialize. The plan keeps the single best candidate per doc type;
// ties go to the candidate discovered earlier in DOM order. The primary
// is the order summary when present, else the tax invoice, else the
// lone receipt-like link; a tax invoice is retained alongside a summary
// primary since an order can require both. An empty plan means the
// order has no acquirable receipt.
func BuildDocumentPlan(links []webpage.Link) []models.Document {
	best := map[models.DocType]*ScoredCandidate{}

	for _, link := range links {
		cand, ok := ClassifyCandidate(link)
		if !ok {
			continue
		}
		current, exists := best[cand.DocType]
		if !exists || cand.Score > current.Score {
			c := cand
			best[cand.DocType] = &c
		}
		// Equal score keeps the earlier candidate: links arrive in DOM order.
	}

	summary := best[models.DocTypeOrderSummary]
	invoice := best[models.DocTypeTaxInvoice]
	receipt := best[models.DocTypeReceiptLike]

	var plan []models.Document
	switch {
	case summary != nil:
		plan = append(plan, newPlanDocument(summary, true))
		if invoice != nil {
			plan = append(plan, newPlanDocument(invoice, false))
		}
	case invoice != nil:
		plan = append(plan, newPlanDocument(invoice, true))
	case receipt != nil:
		plan = append(plan, newPlanDocument(receipt, true))
	}
	return plan
}

// RequiredMarkers returns the content-assertion texts the page behind a
// document URL must show before render-to-PDF accepts it.
func RequiredMarkers(docType models.DocType) []string {
	switch docType {
	case models.DocTypeTaxInvoice:
		return []string{"適格請求書", "請求書", "インボイス", "invoice"}
	case models.DocTypeOrderSummary:
		return []string{"購入明細", "注文内容", "明細書", "summary"}
	default:
		return []string{"領収書", "レシート", "receipt"}
	}
}

func newPlanDocument(cand *ScoredCandidate, primary bool) models.Document {
	return models.Document{
		DocType: cand.DocType,
		DocURL:  cand.Link.URL,
		Primary: primary,
	}
}
