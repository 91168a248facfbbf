package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// RawPriceRecord represents a single record as delivered by a vendor feed
// connector, before any type coercion. All value fields are strings so a
// vendor sending garbage still produces a record we can flag instead of a
// parse failure inside the connector.
type RawPriceRecord struct {
	Symbol          string            `json:"symbol"`
	VendorID        string            `json:"vendor_id"`
	TradeDate       string            `json:"trade_date"`
	Price           string            `json:"price"`
	Volume          string            `json:"volume"`
	IngestTimestamp string            `json:"ingestion_timestamp"`
	RawFields       map[string]string `json:"raw_fields,omitempty"`
}

// PricePoint is the canonical per-vendor observation for one trade date.
// Immutable after normalization: at most one canonical point exists per
// (symbol, vendor, trade date).
type PricePoint struct {
	Symbol          string
	VendorID        string
	TradeDate       time.Time // UTC midnight
	Price           decimal.Decimal
	HasPrice        bool
	Volume          decimal.Decimal
	HasVolume       bool
	IngestTimestamp time.Time
	RawFields       map[string]string
}

// Field returns the named logical field of a point and whether it is set.
// Recognized names are the ones a QualityConfig can declare as required.
func (p PricePoint) Field(name string) (string, bool) {
	switch name {
	case "symbol":
		return p.Symbol, p.Symbol != ""
	case "vendor_id":
		return p.VendorID, p.VendorID != ""
	case "trade_date":
		if p.TradeDate.IsZero() {
			return "", false
		}
		return p.TradeDate.Format("2006-01-02"), true
	case "price":
		if !p.HasPrice {
			return "", false
		}
		return p.Price.String(), true
	case "volume":
		if !p.HasVolume {
			return "", false
		}
		return p.Volume.String(), true
	case "ingestion_timestamp":
		if p.IngestTimestamp.IsZero() {
			return "", false
		}
		return p.IngestTimestamp.Format(time.RFC3339), true
	}
	if v, ok := p.RawFields[name]; ok && v != "" {
		return v, true
	}
	return "", false
}

// NormalizedSeries is the ordered per (symbol, vendor) sequence of canonical
// price points. Trade dates are strictly increasing and unique; calendar
// gaps are permitted. Downstream alignment relies on this ordering.
type NormalizedSeries struct {
	Symbol   string
	VendorID string
	Points   []PricePoint
}

// Len reports the number of canonical points in the series.
func (s *NormalizedSeries) Len() int { return len(s.Points) }

// DateRange returns the first and last trade dates of the series. The
// second return is false for an empty series.
func (s *NormalizedSeries) DateRange() (time.Time, time.Time, bool) {
	if len(s.Points) == 0 {
		return time.Time{}, time.Time{}, false
	}
	return s.Points[0].TradeDate, s.Points[len(s.Points)-1].TradeDate, true
}
