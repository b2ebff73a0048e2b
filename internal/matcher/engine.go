package matcher

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"

	"receipt-reconciler/internal/models"
	"receipt-reconciler/pkg/logger"
)

// Engine scores amount-equal candidates for each unevidenced ledger
// entry and ranks them.
type Engine struct {
	Config *MatchConfig
	Index  *OrderIndex
	log    logger.Logger
}

// MatchResult is one scored pairing of a ledger entry with an order.
type MatchResult struct {
	Entry        *models.ExpenseLedgerEntry
	Order        *models.OrderRecord
	Score        int
	DateDiffDays int
	Reasons      []string
}

// NewEngine creates a matching engine with the given configuration.
func NewEngine(config *MatchConfig, log logger.Logger) *Engine {
	if config == nil {
		config = DefaultMatchConfig()
	}
	if log == nil {
		log = logger.GetGlobalLogger()
	}
	return &Engine{
		Config: config,
		log:    log.WithComponent("matcher"),
	}
}

// LoadOrders indexes the month's matchable corpus.
func (e *Engine) LoadOrders(records []*models.OrderRecord) {
	e.Index = NewOrderIndex(records)
	stats := e.Index.GetStats()
	e.log.WithFields(logger.Fields{
		"orders":           stats.Orders,
		"distinct_amounts": stats.DistinctAmounts,
	}).Info("Matchable corpus indexed")
}

// MatchEntry returns the ranked candidates for one ledger entry, best
// first, already truncated to MaxCandidates and filtered by MinScore.
func (e *Engine) MatchEntry(entry *models.ExpenseLedgerEntry) ([]*MatchResult, error) {
	if e.Index == nil {
		return nil, fmt.Errorf("orders must be loaded before matching")
	}

	var results []*MatchResult
	for _, order := range e.Index.GetByAmount(entry.AmountYen) {
		result := e.scoreMatch(entry, order)
		if result.Score >= e.Config.MinScore {
			results = append(results, result)
		}
	}

	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		// Ties go to the earliest order date; a stable key ordering
		// breaks exact date ties so reruns produce identical reports.
		if !results[i].Order.OrderDate.Equal(results[j].Order.OrderDate) {
			return results[i].Order.OrderDate.Before(results[j].Order.OrderDate)
		}
		return results[i].Order.LedgerKey() < results[j].Order.LedgerKey()
	})

	if len(results) > e.Config.MaxCandidates {
		results = results[:e.Config.MaxCandidates]
	}
	return results, nil
}

// MatchAll produces the full run report for every unevidenced entry.
func (e *Engine) MatchAll(entries []*models.ExpenseLedgerEntry) (*Report, error) {
	if e.Index == nil {
		return nil, fmt.Errorf("orders must be loaded before matching")
	}

	report := NewReport()
	matchedOrderKeys := make(map[string]bool)

	for _, entry := range entries {
		if entry.HasEvidence {
			continue
		}
		results, err := e.MatchEntry(entry)
		if err != nil {
			return nil, err
		}
		report.Add(entry, results)
		for _, result := range results {
			matchedOrderKeys[result.Order.LedgerKey()] = true
		}
	}

	for _, order := range e.Index.AllOrders {
		if !matchedOrderKeys[order.LedgerKey()] {
			report.UnmatchedOrders = append(report.UnmatchedOrders, order.LedgerKey())
		}
	}

	e.log.WithFields(logger.Fields{
		"entries":          len(report.Entries),
		"with_candidates":  report.Summary.EntriesWithCandidates,
		"unmatched_orders": len(report.UnmatchedOrders),
	}).Info("Matching complete")
	return report, nil
}

// scoreMatch scores one amount-equal candidate.
func (e *Engine) scoreMatch(entry *models.ExpenseLedgerEntry, order *models.OrderRecord) *MatchResult {
	weights := e.Config.Weights
	result := &MatchResult{
		Entry:   entry,
		Order:   order,
		Score:   weights.AmountBase,
		Reasons: []string{"exact amount match"},
	}

	result.DateDiffDays = dateDiffDays(entry.UseDate, order.OrderDate)
	switch {
	case order.OrderDate.IsZero():
		// Unresolvable date is neutral: neither corroborates nor
		// contradicts the entry.
	case result.DateDiffDays <= e.Config.DateWindowDays:
		dateScore := weights.DateMax
		if e.Config.DateWindowDays > 0 {
			dateScore = weights.DateMax * (e.Config.DateWindowDays - result.DateDiffDays) / e.Config.DateWindowDays
		}
		result.Score += dateScore
		if result.DateDiffDays == 0 {
			result.Reasons = append(result.Reasons, "same date")
		} else {
			result.Reasons = append(result.Reasons, fmt.Sprintf("date within %d days", result.DateDiffDays))
		}
	default:
		result.Score -= weights.DatePenalty
		result.Reasons = append(result.Reasons, fmt.Sprintf("date drift of %d days", result.DateDiffDays))
	}

	if keywordScore, hits := e.keywordOverlap(entry, order); keywordScore > 0 {
		result.Score += keywordScore
		result.Reasons = append(result.Reasons, fmt.Sprintf("keyword overlap: %s", strings.Join(hits, ", ")))
	}

	if order.OrderID != "" && strings.Contains(strings.ToLower(entry.Memo), strings.ToLower(order.OrderID)) {
		result.Score += weights.OrderIDBonus
		result.Reasons = append(result.Reasons, "order id quoted in memo")
	}

	return result
}

var tokenSplit = regexp.MustCompile(`[^\p{L}\p{N}]+`)

// keywordOverlap scores vendor/memo tokens found in the order's item
// name or provider name, capped so a long memo cannot dominate.
func (e *Engine) keywordOverlap(entry *models.ExpenseLedgerEntry, order *models.OrderRecord) (int, []string) {
	haystack := strings.ToLower(order.ItemName + " " + order.Source)

	seen := make(map[string]bool)
	var hits []string
	score := 0
	for _, token := range tokenSplit.Split(strings.ToLower(entry.Vendor+" "+entry.Memo), -1) {
		if len([]rune(token)) < 2 || seen[token] {
			continue
		}
		seen[token] = true
		if strings.Contains(haystack, token) {
			score += e.Config.Weights.KeywordPerToken
			hits = append(hits, token)
			if score >= e.Config.Weights.KeywordCap {
				score = e.Config.Weights.KeywordCap
				break
			}
		}
	}
	return score, hits
}

// dateDiffDays returns the whole-day distance between two dates.
func dateDiffDays(a, b time.Time) int {
	a = time.Date(a.Year(), a.Month(), a.Day(), 0, 0, 0, 0, time.UTC)
	b = time.Date(b.Year(), b.Month(), b.Day(), 0, 0, 0, 0, time.UTC)
	diff := a.Sub(b)
	if diff < 0 {
		diff = -diff
	}
	return int(diff / (24 * time.Hour))
}
