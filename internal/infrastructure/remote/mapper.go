package remote

import (
	"fmt"
	"time"

	"github.com/shelfsignal/backend/internal/domain"
)

// ObservedAtPrecision is the timestamp precision shared with the remote API.
// Timestamps are truncated to it on both sides so equal observations compare equal.
const ObservedAtPrecision = time.Millisecond

// NormalizeObservedAt converts t to UTC at the shared precision
func NormalizeObservedAt(t time.Time) time.Time {
	if t.IsZero() {
		return t
	}
	return t.UTC().Truncate(ObservedAtPrecision)
}

// RecordToEntry converts a remote record into a position entry
func RecordToEntry(record domain.PositionRecord) (domain.PositionEntry, error) {
	var date domain.Date
	switch {
	case record.Date != "":
		d, err := domain.ParseDate(record.Date)
		if err != nil {
			return domain.PositionEntry{}, fmt.Errorf("%w: %v", domain.ErrMalformedRemote, err)
		}
		date = d
	case !record.ObservedAt.IsZero():
		date = domain.DateOf(record.ObservedAt)
	default:
		return domain.PositionEntry{}, fmt.Errorf("%w: record for %s has neither date nor observedAt", domain.ErrMalformedRemote, record.ProductID)
	}

	if record.Position <= 0 {
		return domain.PositionEntry{}, fmt.Errorf("%w: record for %s has position %d", domain.ErrMalformedRemote, record.ProductID, record.Position)
	}

	return domain.PositionEntry{
		Date:       date,
		Position:   record.Position,
		ObservedAt: NormalizeObservedAt(record.ObservedAt),
	}, nil
}

// RecordsToEntries converts the remote history of productID. Any record of
// another product, or any unusable record, makes the whole payload malformed.
func RecordsToEntries(productID string, records []domain.PositionRecord) ([]domain.PositionEntry, error) {
	entries := make([]domain.PositionEntry, 0, len(records))
	for _, record := range records {
		if record.ProductID != "" && record.ProductID != productID {
			return nil, fmt.Errorf("%w: record for %s in history of %s", domain.ErrMalformedRemote, record.ProductID, productID)
		}
		entry, err := RecordToEntry(record)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

// EntryToRecord converts a position entry of h into the remote wire shape
func EntryToRecord(h *domain.ProductHistory, userID string, entry domain.PositionEntry) domain.PositionRecord {
	return domain.PositionRecord{
		ProductID:  h.ProductID,
		Title:      h.Title,
		Position:   entry.Position,
		SearchTerm: h.SearchTerm,
		UserID:     userID,
		Date:       string(entry.Date),
		ObservedAt: NormalizeObservedAt(entry.ObservedAt),
	}
}

// EntriesToRecords converts several entries of h
func EntriesToRecords(h *domain.ProductHistory, userID string, entries []domain.PositionEntry) []domain.PositionRecord {
	records := make([]domain.PositionRecord, 0, len(entries))
	for _, e := range entries {
		records = append(records, EntryToRecord(h, userID, e))
	}
	return records
}
