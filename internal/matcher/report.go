package matcher

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"receipt-reconciler/internal/models"
)

// EntryMatches is the ranked candidate list for one ledger entry.
type EntryMatches struct {
	ExpenseID  string                  `json:"expense_id"`
	UseDate    string                  `json:"use_date"`
	AmountYen  int64                   `json:"amount_yen"`
	Vendor     string                  `json:"vendor"`
	Candidates []models.MatchCandidate `json:"candidates"`
}

// ReportSummary aggregates the matching outcome.
type ReportSummary struct {
	TotalEntries          int `json:"total_entries"`
	EntriesWithCandidates int `json:"entries_with_candidates"`
	EntriesUnmatched      int `json:"entries_unmatched"`
}

// Report is the run's ranked-candidate report. It is recreated on
// every run and handed to the review/upload workflow; nothing here is
// authoritative state.
type Report struct {
	GeneratedAt     time.Time       `json:"generated_at"`
	Entries         []*EntryMatches `json:"entries"`
	UnmatchedOrders []string        `json:"unmatched_orders"`
	Summary         ReportSummary   `json:"summary"`
}

// NewReport creates an empty report stamped with the current time.
func NewReport() *Report {
	return &Report{
		GeneratedAt:     time.Now().UTC(),
		Entries:         []*EntryMatches{},
		UnmatchedOrders: []string{},
	}
}

// Add records the ranked results for one ledger entry.
func (r *Report) Add(entry *models.ExpenseLedgerEntry, results []*MatchResult) {
	matches := &EntryMatches{
		ExpenseID:  entry.ExpenseID,
		UseDate:    models.FormatDate(entry.UseDate),
		AmountYen:  entry.AmountYen,
		Vendor:     entry.Vendor,
		Candidates: []models.MatchCandidate{},
	}

	for i, result := range results {
		orderID := result.Order.OrderID
		if orderID == "" {
			orderID = result.Order.LedgerKey()
		}
		pdfPath := ""
		if doc := result.Order.PrimaryDocument(); doc != nil {
			pdfPath = doc.PDFPath
		}
		matches.Candidates = append(matches.Candidates, models.MatchCandidate{
			ExpenseID: entry.ExpenseID,
			OrderID:   orderID,
			PDFPath:   pdfPath,
			Rank:      i + 1,
			Score:     result.Score,
		})
	}

	r.Entries = append(r.Entries, matches)
	r.Summary.TotalEntries++
	if len(matches.Candidates) > 0 {
		r.Summary.EntriesWithCandidates++
	} else {
		r.Summary.EntriesUnmatched++
	}
}

// WriteJSON emits the full report as indented JSON.
func (r *Report) WriteJSON(w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(r)
}

// WriteCSV emits one row per candidate for spreadsheet review. Entries
// with no candidates still get a row so reviewers see the gap.
func (r *Report) WriteCSV(w io.Writer) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"expense_id", "use_date", "amount_yen", "vendor", "rank", "order_id", "score", "pdf_path"}); err != nil {
		return err
	}

	for _, entry := range r.Entries {
		if len(entry.Candidates) == 0 {
			if err := cw.Write([]string{entry.ExpenseID, entry.UseDate, fmt.Sprintf("%d", entry.AmountYen), entry.Vendor, "", "", "", ""}); err != nil {
				return err
			}
			continue
		}
		for _, cand := range entry.Candidates {
			row := []string{
				entry.ExpenseID,
				entry.UseDate,
				fmt.Sprintf("%d", entry.AmountYen),
				entry.Vendor,
				fmt.Sprintf("%d", cand.Rank),
				cand.OrderID,
				fmt.Sprintf("%d", cand.Score),
				cand.PDFPath,
			}
			if err := cw.Write(row); err != nil {
				return err
			}
		}
	}

	cw.Flush()
	return cw.Error()
}
