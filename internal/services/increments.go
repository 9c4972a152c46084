package services

import (
	"auction-live/internal/domain"
)

// IncrementTable holds the tiered bid-increment rules applied when a lot
// carries no explicit increment.
type IncrementTable struct {
	rules map[string]float64
}

func DefaultIncrements() *IncrementTable {
	return &IncrementTable{
		rules: map[string]float64{
			"0-100":   5.0,
			"100-500": 10.0,
			"500+":    25.0,
		},
	}
}

func (t *IncrementTable) Increment(amount float64) float64 {
	if t == nil || t.rules == nil {
		return 5.0 // default
	}
	if amount < 100 {
		return t.rules["0-100"]
	} else if amount < 500 {
		return t.rules["100-500"]
	} else {
		return t.rules["500+"]
	}
}

// IncrementFor resolves the increment for a lot at the given amount; an
// explicit lot increment overrides the tiers.
func (t *IncrementTable) IncrementFor(lot domain.Lot, amount float64) float64 {
	if lot.BidIncrement > 0 {
		return lot.BidIncrement
	}
	return t.Increment(amount)
}

// MinimumBid is the lowest amount the server would accept on the lot:
// starting bid when no bid exists yet, otherwise high bid plus increment.
func (t *IncrementTable) MinimumBid(lot domain.Lot, high *domain.BidRecord) float64 {
	if high == nil {
		return lot.StartingBid
	}
	return high.Amount + t.IncrementFor(lot, high.Amount)
}
