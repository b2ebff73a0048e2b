// Package totals reconciles the independently observed monetary totals
// for one order into a single canonical total with provenance.
package totals

import (
	"regexp"
	"strings"

	"receipt-reconciler/internal/models"
)

// Observed holds the total signals collected for one order. Any field
// may be absent; InvoiceYens holds one entry per materialized
// tax-invoice document, nil where a document's total is unknown.
type Observed struct {
	CardYen     *int64
	BillingYen  *int64
	SummaryYen  *int64
	InvoiceYens []*int64
}

// Resolution is the canonical outcome: the chosen total, which signal
// produced it, and whether the billing total disagreed with the
// invoice sum.
type Resolution struct {
	TotalYen *int64
	Source   models.TotalSource
	Conflict bool
}

// InvoiceSum returns the sum of all per-document invoice totals. It is
// only usable when every invoice document has a known total; a single
// unknown makes the whole sum unusable.
func (o Observed) InvoiceSum() (int64, bool) {
	if len(o.InvoiceYens) == 0 {
		return 0, false
	}
	var sum int64
	for _, v := range o.InvoiceYens {
		if v == nil {
			return 0, false
		}
		sum += *v
	}
	return sum, true
}

// Resolve applies the precedence billing_total → summary_total →
// invoice_sum → card_fallback. The conflict flag is set when the
// billing total and invoice sum are both known and unequal; the billing
// total still wins, the disagreement is only surfaced for audit.
func Resolve(obs Observed) Resolution {
	invoiceSum, invoiceKnown := obs.InvoiceSum()

	conflict := obs.BillingYen != nil && invoiceKnown && *obs.BillingYen != invoiceSum

	switch {
	case obs.BillingYen != nil:
		return Resolution{TotalYen: obs.BillingYen, Source: models.TotalSourceBilling, Conflict: conflict}
	case obs.SummaryYen != nil:
		return Resolution{TotalYen: obs.SummaryYen, Source: models.TotalSourceSummary, Conflict: conflict}
	case invoiceKnown:
		return Resolution{TotalYen: models.Yen(invoiceSum), Source: models.TotalSourceInvoiceSum, Conflict: conflict}
	case obs.CardYen != nil:
		return Resolution{TotalYen: obs.CardYen, Source: models.TotalSourceCardFallback, Conflict: conflict}
	default:
		return Resolution{Source: models.TotalSourceUnknown, Conflict: conflict}
	}
}

// ReconcileDocuments folds the totals observed on materialized
// tax-invoice documents back into the record. Per-document totals only
// become visible when the document page is opened, after the initial
// resolution, so the record's total is revisited once before it is
// ledgered.
func ReconcileDocuments(rec *models.OrderRecord) {
	var invoiceYens []*int64
	for _, doc := range rec.Documents {
		if doc.DocType != models.DocTypeTaxInvoice {
			continue
		}
		invoiceYens = append(invoiceYens, doc.TotalYen)
	}
	obs := Observed{InvoiceYens: invoiceYens}
	sum, known := obs.InvoiceSum()
	if !known {
		return
	}

	switch rec.TotalSource {
	case models.TotalSourceBilling:
		if rec.TotalYen != nil && *rec.TotalYen != sum {
			rec.TotalConflict = true
		}
	case models.TotalSourceSummary:
		// Summary outranks the invoice sum; nothing to revisit.
	default:
		rec.TotalYen = models.Yen(sum)
		rec.TotalSource = models.TotalSourceInvoiceSum
	}
}

// amountPattern matches a yen amount following a label, tolerating
// currency marks, separators, and an optional tax annotation.
var amountPattern = `[：:\s]*([¥￥]?[0-9０-９][0-9０-９,，]*)\s*円?`

// ExtractLabeledYen scans page text for the first of the given labels
// followed by an amount and parses it. Labels are tried in order, so
// callers list the most specific label first.
func ExtractLabeledYen(text string, labels ...string) *int64 {
	for _, label := range labels {
		re, err := regexp.Compile(regexp.QuoteMeta(label) + amountPattern)
		if err != nil {
			continue
		}
		match := re.FindStringSubmatch(text)
		if match == nil {
			continue
		}
		yen, err := models.ParseYen(normalizeDigits(match[1]))
		if err != nil {
			continue
		}
		return models.Yen(yen)
	}
	return nil
}

// normalizeDigits folds full-width digits to ASCII.
func normalizeDigits(s string) string {
	return strings.Map(func(r rune) rune {
		if r >= '０' && r <= '９' {
			return '0' + (r - '０')
		}
		return r
	}, s)
}
