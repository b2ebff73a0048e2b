package matcher

import (
	"receipt-reconciler/internal/models"
)

// OrderIndex provides exact-amount lookup over the matchable corpus.
// Amount equality is a hard requirement, so the amount index is the
// only candidate-selection structure needed.
type OrderIndex struct {
	// ExactAmountIndex maps total yen to orders with that total.
	ExactAmountIndex map[int64][]*models.OrderRecord

	// DateIndex maps ISO dates to orders on that date.
	DateIndex map[string][]*models.OrderRecord

	// AllOrders holds the full indexed corpus in discovery order.
	AllOrders []*models.OrderRecord
}

// IndexStats summarizes an index for logging.
type IndexStats struct {
	Orders          int
	DistinctAmounts int
	DistinctDates   int
}

// NewOrderIndex indexes the matchable corpus. Only records that ended
// the run with a saved PDF are matchable; everything else has no
// evidence to attach.
func NewOrderIndex(records []*models.OrderRecord) *OrderIndex {
	index := &OrderIndex{
		ExactAmountIndex: make(map[int64][]*models.OrderRecord),
		DateIndex:        make(map[string][]*models.OrderRecord),
	}

	for _, rec := range records {
		if rec.Status != models.StatusOK || !rec.HasMaterializedDocument() {
			continue
		}
		if rec.TotalYen == nil {
			continue
		}
		index.AllOrders = append(index.AllOrders, rec)
		index.ExactAmountIndex[*rec.TotalYen] = append(index.ExactAmountIndex[*rec.TotalYen], rec)
		if date := models.FormatDate(rec.OrderDate); date != "" {
			index.DateIndex[date] = append(index.DateIndex[date], rec)
		}
	}

	return index
}

// GetByAmount returns orders whose canonical total equals the amount.
func (oi *OrderIndex) GetByAmount(amountYen int64) []*models.OrderRecord {
	return oi.ExactAmountIndex[amountYen]
}

// GetByDate returns orders whose resolved date equals the ISO date.
func (oi *OrderIndex) GetByDate(date string) []*models.OrderRecord {
	return oi.DateIndex[date]
}

// GetStats returns index statistics.
func (oi *OrderIndex) GetStats() IndexStats {
	return IndexStats{
		Orders:          len(oi.AllOrders),
		DistinctAmounts: len(oi.ExactAmountIndex),
		DistinctDates:   len(oi.DateIndex),
	}
}
