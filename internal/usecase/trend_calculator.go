package usecase

import "github.com/shelfsignal/backend/internal/domain"

// TrendCalculator classifies rank movement between the two most recent observations
type TrendCalculator struct{}

// NewTrendCalculator creates a trend calculator
func NewTrendCalculator() *TrendCalculator {
	return &TrendCalculator{}
}

// Classify derives the trend of h. A lower position number is a better rank,
// so delta = previous - current is positive when the product climbs.
func (c *TrendCalculator) Classify(h *domain.ProductHistory) domain.TrendResult {
	if h == nil || len(h.Entries) == 0 {
		return domain.TrendResult{Kind: domain.TrendNew}
	}

	entries := append([]domain.PositionEntry(nil), h.Entries...)
	domain.SortEntriesDesc(entries)

	result := domain.TrendResult{
		ProductID:       h.ProductID,
		Kind:            domain.TrendNew,
		CurrentPosition: entries[0].Position,
	}
	if len(entries) < 2 {
		return result
	}

	previous := entries[1].Position
	result.PreviousPosition = &previous
	result.Delta = previous - result.CurrentPosition
	result.Magnitude = abs(result.Delta)

	switch {
	case result.Delta > 0:
		result.Kind = domain.TrendRising
	case result.Delta < 0:
		result.Kind = domain.TrendFalling
	default:
		result.Kind = domain.TrendFlat
	}
	return result
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}
