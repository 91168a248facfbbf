package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// KPISummary is a pure aggregate view over reconciliation results and
// coverage gaps. It is derived, recomputable at any time, and never the
// source of truth.
type KPISummary struct {
	VendorA        string
	VendorB        string
	SymbolScope    string
	DateRangeStart time.Time
	DateRangeEnd   time.Time
	Mode           ReconMode

	CountCompared   int
	CountBreached   int
	BreachRate      float64
	MeanAbsPctDelta decimal.Decimal
	MaxAbsPctDelta  decimal.Decimal
	CoverageRatio   float64

	// ReturnsCorrelation is the Pearson correlation of paired day-over-day
	// returns, a scale-invariant agreement diagnostic. Only populated for
	// returns mode and only when it is defined.
	ReturnsCorrelation    float64
	HasReturnsCorrelation bool
}
