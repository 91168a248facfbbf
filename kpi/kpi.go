package kpi

import (
	"time"

	"github.com/shopspring/decimal"

	"mdrecon/models"
)

// Filter narrows the result set an aggregation runs over. Zero values
// leave the corresponding dimension unfiltered.
type Filter struct {
	VendorA string
	VendorB string
	Symbol  string
	Mode    models.ReconMode
	From    time.Time
	To      time.Time
}

func (f Filter) matchesResult(r models.ReconciliationResult) bool {
	if f.VendorA != "" && r.VendorA != f.VendorA {
		return false
	}
	if f.VendorB != "" && r.VendorB != f.VendorB {
		return false
	}
	if f.Symbol != "" && r.Symbol != f.Symbol {
		return false
	}
	if f.Mode != "" && r.Mode != f.Mode {
		return false
	}
	return f.inRange(r.TradeDate)
}

func (f Filter) matchesGap(g models.CoverageGap) bool {
	if f.VendorA != "" && g.VendorA != f.VendorA {
		return false
	}
	if f.VendorB != "" && g.VendorB != f.VendorB {
		return false
	}
	if f.Symbol != "" && g.Symbol != f.Symbol {
		return false
	}
	if f.Mode != "" && g.Mode != f.Mode {
		return false
	}
	return f.inRange(g.TradeDate)
}

func (f Filter) inRange(date time.Time) bool {
	if !f.From.IsZero() && date.Before(f.From) {
		return false
	}
	if !f.To.IsZero() && date.After(f.To) {
		return false
	}
	return true
}

// Aggregate reduces reconciliation results and coverage gaps to one
// summary. It is a pure, stateless reduction: safe to recompute from
// scratch at any granularity without running state.
func Aggregate(results []models.ReconciliationResult, gaps []models.CoverageGap, filter Filter) models.KPISummary {
	summary := models.KPISummary{
		VendorA:     filter.VendorA,
		VendorB:     filter.VendorB,
		SymbolScope: filter.Symbol,
		Mode:        filter.Mode,
	}
	if summary.SymbolScope == "" {
		summary.SymbolScope = "all"
	}

	var sumAbs decimal.Decimal
	pctCount := 0

	for _, r := range results {
		if !filter.matchesResult(r) {
			continue
		}

		if summary.VendorA == "" {
			summary.VendorA = r.VendorA
		}
		if summary.VendorB == "" {
			summary.VendorB = r.VendorB
		}
		if summary.Mode == "" {
			summary.Mode = r.Mode
		}
		if summary.DateRangeStart.IsZero() || r.TradeDate.Before(summary.DateRangeStart) {
			summary.DateRangeStart = r.TradeDate
		}
		if r.TradeDate.After(summary.DateRangeEnd) {
			summary.DateRangeEnd = r.TradeDate
		}

		summary.CountCompared++
		if r.Breached {
			summary.CountBreached++
		}

		// Null pct_delta entries are excluded from the deviation stats.
		if r.PctDelta.Valid {
			abs := r.PctDelta.Decimal.Abs()
			sumAbs = sumAbs.Add(abs)
			pctCount++
			if abs.GreaterThan(summary.MaxAbsPctDelta) {
				summary.MaxAbsPctDelta = abs
			}
		}
	}

	gapCount := 0
	for _, g := range gaps {
		if filter.matchesGap(g) {
			gapCount++
		}
	}

	if summary.CountCompared > 0 {
		summary.BreachRate = float64(summary.CountBreached) / float64(summary.CountCompared)
	}
	if pctCount > 0 {
		summary.MeanAbsPctDelta = sumAbs.Div(decimal.NewFromInt(int64(pctCount)))
	}
	if summary.CountCompared+gapCount > 0 {
		summary.CoverageRatio = float64(summary.CountCompared) / float64(summary.CountCompared+gapCount)
	}

	return summary
}
