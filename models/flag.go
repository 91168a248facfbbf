package models

import "time"

// FlagKind enumerates the structural defects the quality checks detect.
type FlagKind string

const (
	FlagDuplicate      FlagKind = "duplicate"
	FlagMissingField   FlagKind = "missing_field"
	FlagLatencyAnomaly FlagKind = "latency_anomaly"
)

// Severity of a quality flag. Flags are never fatal; severity only informs
// downstream confidence scoring.
type Severity string

const (
	SeverityWarn  Severity = "warn"
	SeverityError Severity = "error"
)

// QualityFlag marks a structural defect on a single data point. It
// references the point by (symbol, vendor, trade date) and never owns it.
type QualityFlag struct {
	Kind      FlagKind  `json:"kind"`
	Severity  Severity  `json:"severity"`
	Symbol    string    `json:"symbol"`
	VendorID  string    `json:"vendor_id"`
	TradeDate time.Time `json:"trade_date"`
	Detail    string    `json:"detail"`
}

// Key identifies the flagged point for lookups by downstream consumers.
func (f QualityFlag) Key() string {
	return f.Symbol + "|" + f.VendorID + "|" + f.TradeDate.Format("2006-01-02")
}
