package domain

import (
	"fmt"
	"sort"
	"time"
)

// DateLayout is the wire and storage format of a calendar day
const DateLayout = "2006-01-02"

// DefaultMaxEntries is the retention cap of a product history
const DefaultMaxEntries = 30

// Date is a calendar day without time component, formatted as YYYY-MM-DD.
// The format sorts lexicographically in chronological order.
type Date string

// DateOf returns the calendar day of t in UTC
func DateOf(t time.Time) Date {
	return Date(t.UTC().Format(DateLayout))
}

// ParseDate validates s as a calendar day
func ParseDate(s string) (Date, error) {
	t, err := time.Parse(DateLayout, s)
	if err != nil {
		return "", fmt.Errorf("%w: date %q: %v", ErrInvalidEntry, s, err)
	}
	return Date(t.Format(DateLayout)), nil
}

// Valid reports whether d is a well-formed calendar day
func (d Date) Valid() bool {
	_, err := time.Parse(DateLayout, string(d))
	return err == nil
}

// PositionEntry is one observed search position for a day
type PositionEntry struct {
	Date       Date      `json:"date"`
	Position   int       `json:"position"`
	ObservedAt time.Time `json:"observedAt"`
}

// Validate checks the entry invariants
func (e PositionEntry) Validate() error {
	if !e.Date.Valid() {
		return fmt.Errorf("%w: date %q", ErrInvalidEntry, e.Date)
	}
	if e.Position <= 0 {
		return fmt.Errorf("%w: position %d", ErrInvalidEntry, e.Position)
	}
	return nil
}

// Same reports whether two entries carry the same observation
func (e PositionEntry) Same(other PositionEntry) bool {
	return e.Date == other.Date && e.Position == other.Position && e.ObservedAt.Equal(other.ObservedAt)
}

// ProductHistory is the capped per-product time series of positions.
// Entries are unique by date and kept sorted descending by date.
type ProductHistory struct {
	ProductID  string          `json:"productId"`
	UserID     string          `json:"userId,omitempty"`
	Title      string          `json:"title,omitempty"`
	SearchTerm string          `json:"searchTerm,omitempty"`
	Entries    []PositionEntry `json:"entries"`
	CreatedAt  time.Time       `json:"createdAt"`
	UpdatedAt  time.Time       `json:"updatedAt"`
}

// ProductMeta carries the descriptive fields attached to a history
type ProductMeta struct {
	Title      string `json:"title,omitempty"`
	SearchTerm string `json:"searchTerm,omitempty"`
}

// SortEntriesDesc orders entries newest date first
func SortEntriesDesc(entries []PositionEntry) {
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].Date > entries[j].Date
	})
}

// Latest returns the most recent entry, if any
func (h *ProductHistory) Latest() (PositionEntry, bool) {
	if h == nil || len(h.Entries) == 0 {
		return PositionEntry{}, false
	}
	return h.Entries[0], true
}

// Clone returns a deep copy safe to mutate
func (h *ProductHistory) Clone() *ProductHistory {
	if h == nil {
		return nil
	}
	c := *h
	c.Entries = append([]PositionEntry(nil), h.Entries...)
	return &c
}

// TrendKind classifies rank movement between the two most recent observations
type TrendKind string

const (
	TrendNew     TrendKind = "new"
	TrendRising  TrendKind = "rising"
	TrendFalling TrendKind = "falling"
	TrendFlat    TrendKind = "flat"
)

// TrendResult is the display-ready trend of a product
type TrendResult struct {
	ProductID        string    `json:"productId,omitempty"`
	Kind             TrendKind `json:"kind"`
	CurrentPosition  int       `json:"currentPosition"`
	PreviousPosition *int      `json:"previousPosition,omitempty"`
	Delta            int       `json:"delta"`
	Magnitude        int       `json:"magnitude"`
}
