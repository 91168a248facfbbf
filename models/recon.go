package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// ReconMode selects the comparison semantics for a vendor pair.
type ReconMode string

const (
	// ModeLevels compares raw price values directly between vendors.
	ModeLevels ReconMode = "levels"
	// ModeReturns compares day-over-day percentage price changes.
	ModeReturns ReconMode = "returns"
)

// ReconciliationResult is one per-date comparison between two vendors.
// Produced once per (symbol, date, vendor_a, vendor_b, mode), never
// mutated. PctDelta is null when the comparison is degenerate (levels
// reference price of zero).
type ReconciliationResult struct {
	Symbol    string
	TradeDate time.Time
	VendorA   string
	VendorB   string
	Mode      ReconMode
	ValueA    decimal.Decimal
	ValueB    decimal.Decimal
	Delta     decimal.Decimal
	PctDelta  decimal.NullDecimal
	Breached  bool

	// LowConfidence is set when either side of the pair carries a quality
	// flag for this (vendor, date). Flagged data is still compared.
	LowConfidence bool
}

// GapReason explains why a date could not be reconciled.
type GapReason string

const (
	GapMissingVendorA     GapReason = "missing_vendor_a"
	GapMissingVendorB     GapReason = "missing_vendor_b"
	GapMissingPredecessor GapReason = "missing_predecessor"
)

// CoverageGap records a date where reconciliation could not be computed:
// one vendor lacks the date, or returns mode lacks a predecessor. Gaps are
// kept separate from results so coverage ratios stay honest.
type CoverageGap struct {
	Symbol    string
	TradeDate time.Time
	VendorA   string
	VendorB   string
	Mode      ReconMode
	Reason    GapReason
}
