package domain

import "time"

// PlatformID identifies a marketplace
type PlatformID string

const (
	PlatformAmazon       PlatformID = "amazon"
	PlatformMercadoLivre PlatformID = "mercadolivre"
)

// Listing is one search-result snippet as handed over by the external scraper.
// All text fields are raw; nothing here has been validated.
type Listing struct {
	ProductID   string  `json:"productId"`
	Title       string  `json:"title"`
	SalesText   string  `json:"salesText,omitempty"`
	Rating      float64 `json:"rating,omitempty"`
	ReviewCount int     `json:"reviewCount,omitempty"`
	Sponsored   bool    `json:"sponsored,omitempty"`
	Position    int     `json:"position,omitempty"` // 0 when the scraper did not number it
}

// ProductSnapshot holds the numeric attributes the ranking rubric works on
type ProductSnapshot struct {
	ProductID   string     `json:"productId"`
	Platform    PlatformID `json:"platform,omitempty"`
	Title       string     `json:"title,omitempty"`
	Rating      float64    `json:"rating"`
	ReviewCount int        `json:"reviewCount"`
	SalesCount  int64      `json:"salesCount"`
	Sponsored   bool       `json:"sponsored"`
	Position    int        `json:"position"`
}

// ObservationBatch is a set of listings seen for one search term at one moment
type ObservationBatch struct {
	Platform   PlatformID `json:"platform" binding:"required"`
	SearchTerm string     `json:"searchTerm"`
	ObservedAt time.Time  `json:"observedAt,omitzero"`
	Listings   []Listing  `json:"listings" binding:"required"`
}

// ObservedProduct is the per-listing outcome of an observation batch
type ObservedProduct struct {
	ProductID  string        `json:"productId"`
	Title      string        `json:"title,omitempty"`
	Position   int           `json:"position"`
	SalesCount int64         `json:"salesCount"`
	Signal     SignalOutcome `json:"signal"`
	Score      int           `json:"score"`
	Trend      *TrendResult  `json:"trend,omitempty"`
	Error      string        `json:"error,omitempty"`
}

// ObservationReport summarizes an observation batch
type ObservationReport struct {
	SearchTerm string            `json:"searchTerm"`
	Date       Date              `json:"date"`
	Products   []ObservedProduct `json:"products"`
	Recorded   int               `json:"recorded"`
	Rejected   int               `json:"rejected"`
	Queued     int               `json:"queued"`
}

// CollectRequest asks for a multi-page collection of one search term
type CollectRequest struct {
	Platform   PlatformID `json:"platform" binding:"required"`
	SearchTerm string     `json:"searchTerm" binding:"required"`
	MaxPages   int        `json:"maxPages,omitempty"`
}

// CollectReport summarizes a multi-page collection
type CollectReport struct {
	SearchTerm string `json:"searchTerm"`
	Pages      int    `json:"pages"`
	Listings   int    `json:"listings"`
	Recorded   int    `json:"recorded"`
	Rejected   int    `json:"rejected"`
	Queued     int    `json:"queued"`
	Exhausted  bool   `json:"exhausted"` // an empty page ended the collection
	Cancelled  bool   `json:"cancelled"`
}
