package usecase

import "github.com/shelfsignal/backend/internal/domain"

// Sales buckets
const (
	salesTopThreshold  = 10_000
	salesHighThreshold = 1_000
	salesMidThreshold  = 100
	salesTopPoints     = 35
	salesHighPoints    = 25
	salesMidPoints     = 15
	salesAnyPoints     = 5
)

// Rating buckets
const (
	ratingExcellent       = 4.5
	ratingGood            = 4.0
	ratingFair            = 3.0
	ratingExcellentPoints = 25
	ratingGoodPoints      = 15
	ratingFairPoints      = 5
)

// Review buckets
const (
	reviewsHighThreshold = 1_000
	reviewsMidThreshold  = 100
	reviewsLowThreshold  = 10
	reviewsHighPoints    = 20
	reviewsMidPoints     = 12
	reviewsLowPoints     = 5
)

// Position buckets
const (
	positionTop         = 3
	positionFirstPage   = 10
	positionSecondPage  = 20
	positionTopPoints   = 20
	positionFirstPoints = 12
	positionSecPoints   = 6
	sponsoredPenalty    = 10
)

// ScoreBreakdown lists the contribution of each rubric bucket
type ScoreBreakdown struct {
	Sales     int `json:"sales"`
	Rating    int `json:"rating"`
	Reviews   int `json:"reviews"`
	Position  int `json:"position"`
	Sponsored int `json:"sponsored"`
	Total     int `json:"total"`
}

// RankingAnalyzer scores product competitiveness with an additive bucketed rubric.
// Scores are for display ranking only and are never persisted.
type RankingAnalyzer struct{}

// NewRankingAnalyzer creates a ranking analyzer
func NewRankingAnalyzer() *RankingAnalyzer {
	return &RankingAnalyzer{}
}

// Score returns the competitiveness of p in [0, 100]
func (a *RankingAnalyzer) Score(p domain.ProductSnapshot) int {
	return a.Breakdown(p).Total
}

// Breakdown returns the per-bucket contributions behind Score
func (a *RankingAnalyzer) Breakdown(p domain.ProductSnapshot) ScoreBreakdown {
	b := ScoreBreakdown{}

	switch {
	case p.SalesCount > salesTopThreshold:
		b.Sales = salesTopPoints
	case p.SalesCount > salesHighThreshold:
		b.Sales = salesHighPoints
	case p.SalesCount > salesMidThreshold:
		b.Sales = salesMidPoints
	case p.SalesCount > 0:
		b.Sales = salesAnyPoints
	}

	switch {
	case p.Rating >= ratingExcellent:
		b.Rating = ratingExcellentPoints
	case p.Rating >= ratingGood:
		b.Rating = ratingGoodPoints
	case p.Rating >= ratingFair:
		b.Rating = ratingFairPoints
	}

	switch {
	case p.ReviewCount > reviewsHighThreshold:
		b.Reviews = reviewsHighPoints
	case p.ReviewCount > reviewsMidThreshold:
		b.Reviews = reviewsMidPoints
	case p.ReviewCount > reviewsLowThreshold:
		b.Reviews = reviewsLowPoints
	}

	switch {
	case p.Position <= 0:
	case p.Position <= positionTop:
		b.Position = positionTopPoints
	case p.Position <= positionFirstPage:
		b.Position = positionFirstPoints
	case p.Position <= positionSecondPage:
		b.Position = positionSecPoints
	}

	if p.Sponsored {
		b.Sponsored = -sponsoredPenalty
	}

	total := b.Sales + b.Rating + b.Reviews + b.Position + b.Sponsored
	b.Total = max(0, min(100, total))
	return b
}
