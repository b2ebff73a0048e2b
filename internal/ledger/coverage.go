package ledger

import (
	"encoding/json"
	"io"

	"receipt-reconciler/internal/models"
	harvesterrors "receipt-reconciler/pkg/errors"
)

// DefaultMinPDFSuccessRate is the coverage threshold applied when the
// configuration does not override it.
const DefaultMinPDFSuccessRate = 0.8

// FailedOrder identifies one eligible order that produced no PDF.
type FailedOrder struct {
	Key    string `json:"key"`
	Reason string `json:"reason"`
	Detail string `json:"detail,omitempty"`
}

// Stats aggregates one run's records for the coverage decision.
//
// Eligible orders are the in-month records the gate holds the run
// accountable for: out-of-month records and policy exclusions
// (no_receipt, gift_card) are not counted in the denominator, and
// policy exclusions never appear in the failed bucket.
type Stats struct {
	OrdersTotal   int           `json:"orders_total"`
	InMonthOrders int           `json:"in_month_orders"`
	PDFSaved      int           `json:"pdf_saved"`
	NoReceipt     int           `json:"no_receipt"`
	GiftCard      int           `json:"gift_card"`
	OutOfMonth    int           `json:"out_of_month"`
	FailedOrders  []FailedOrder `json:"failed_orders"`
}

// Collect builds run statistics from the full set of ledgered records.
func Collect(records []*models.OrderRecord) *Stats {
	stats := &Stats{FailedOrders: []FailedOrder{}}
	for _, rec := range records {
		stats.OrdersTotal++
		switch rec.Status {
		case models.StatusOutOfMonth:
			stats.OutOfMonth++
			continue
		case models.StatusNoReceipt:
			stats.NoReceipt++
			stats.InMonthOrders++
			continue
		case models.StatusGiftCard:
			stats.GiftCard++
			stats.InMonthOrders++
			continue
		}

		stats.InMonthOrders++
		if rec.Status == models.StatusOK && rec.HasMaterializedDocument() {
			stats.PDFSaved++
			continue
		}

		reason := rec.ErrorReason
		if reason == "" {
			reason = string(rec.Status)
		}
		stats.FailedOrders = append(stats.FailedOrders, FailedOrder{
			Key:    rec.LedgerKey(),
			Reason: reason,
			Detail: rec.ErrorDetail,
		})
	}
	return stats
}

// Eligible returns the coverage denominator: in-month orders minus
// policy exclusions.
func (s *Stats) Eligible() int {
	return s.InMonthOrders - s.NoReceipt - s.GiftCard
}

// Coverage returns the saved-PDF fraction over eligible orders. A month
// with no eligible orders trivially meets any threshold.
func (s *Stats) Coverage() float64 {
	eligible := s.Eligible()
	if eligible == 0 {
		return 1.0
	}
	return float64(s.PDFSaved) / float64(eligible)
}

// Gate enforces the minimum PDF success rate. Below the threshold it
// returns the fatal coverage error so the run exits non-zero and the
// month is not silently under-evidenced.
func (s *Stats) Gate(minRate float64) error {
	if minRate <= 0 {
		return nil
	}
	coverage := s.Coverage()
	if coverage < minRate {
		return harvesterrors.CoverageNotMet(coverage, minRate)
	}
	return nil
}

// RunStatus is the overall outcome reported in the run summary.
type RunStatus string

const (
	RunSuccess        RunStatus = "success"
	RunPartialSuccess RunStatus = "partial_success"
	RunFailed         RunStatus = "failed"
)

// RunSummary is the machine-readable run report written to stdout so a
// wrapping script can act on the outcome without parsing logs.
type RunSummary struct {
	Status RunStatus       `json:"status"`
	Data   *RunSummaryData `json:"data"`
}

// RunSummaryData carries the coverage numbers behind the status.
type RunSummaryData struct {
	OrdersTotal       int           `json:"orders_total"`
	InMonthOrders     int           `json:"in_month_orders"`
	PDFSaved          int           `json:"pdf_saved"`
	NoReceipt         int           `json:"no_receipt"`
	GiftCard          int           `json:"gift_card"`
	FailedOrders      []FailedOrder `json:"failed_orders"`
	Coverage          float64       `json:"coverage"`
	MinPDFSuccessRate float64       `json:"min_pdf_success_rate"`
}

// Summarize folds the stats and the gate decision into the final
// summary. A run that meets the threshold but still lost some eligible
// orders reports partial_success.
func Summarize(stats *Stats, minRate float64) *RunSummary {
	status := RunSuccess
	if stats.Gate(minRate) != nil {
		status = RunFailed
	} else if len(stats.FailedOrders) > 0 {
		status = RunPartialSuccess
	}

	return &RunSummary{
		Status: status,
		Data: &RunSummaryData{
			OrdersTotal:       stats.OrdersTotal,
			InMonthOrders:     stats.InMonthOrders,
			PDFSaved:          stats.PDFSaved,
			NoReceipt:         stats.NoReceipt,
			GiftCard:          stats.GiftCard,
			FailedOrders:      stats.FailedOrders,
			Coverage:          stats.Coverage(),
			MinPDFSuccessRate: minRate,
		},
	}
}

// Write emits the summary as indented JSON.
func (s *RunSummary) Write(w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(s)
}
