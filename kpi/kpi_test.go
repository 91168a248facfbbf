package kpi

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mdrecon/models"
)

func day(value string) time.Time {
	d, _ := time.Parse("2006-01-02", value)
	return d.UTC()
}

func result(symbol, date string, pctDelta string, breached bool) models.ReconciliationResult {
	r := models.ReconciliationResult{
		Symbol:    symbol,
		TradeDate: day(date),
		VendorA:   "binance",
		VendorB:   "bybit",
		Mode:      models.ModeLevels,
		Breached:  breached,
	}
	if pctDelta != "" {
		r.PctDelta = decimal.NewNullDecimal(decimal.RequireFromString(pctDelta))
	}
	return r
}

func gap(symbol, date string) models.CoverageGap {
	return models.CoverageGap{
		Symbol:    symbol,
		TradeDate: day(date),
		VendorA:   "binance",
		VendorB:   "bybit",
		Mode:      models.ModeLevels,
		Reason:    models.GapMissingVendorB,
	}
}

func TestAggregateComputesRatesAndExtremes(t *testing.T) {
	results := []models.ReconciliationResult{
		result("BTCUSDT", "2024-03-01", "0.001", false),
		result("BTCUSDT", "2024-03-02", "-0.02", true),
		result("BTCUSDT", "2024-03-03", "0.009", true),
		result("BTCUSDT", "2024-03-04", "", false), // null pct_delta
	}
	gaps := []models.CoverageGap{gap("BTCUSDT", "2024-03-05")}

	summary := Aggregate(results, gaps, Filter{})

	assert.Equal(t, "binance", summary.VendorA)
	assert.Equal(t, "bybit", summary.VendorB)
	assert.Equal(t, "all", summary.SymbolScope)
	assert.Equal(t, models.ModeLevels, summary.Mode)
	assert.Equal(t, day("2024-03-01"), summary.DateRangeStart)
	assert.Equal(t, day("2024-03-04"), summary.DateRangeEnd)

	assert.Equal(t, 4, summary.CountCompared)
	assert.Equal(t, 2, summary.CountBreached)
	assert.InDelta(t, 0.5, summary.BreachRate, 1e-12)

	// Null pct_delta rows count as compared but are excluded from the
	// deviation statistics.
	mean := decimal.RequireFromString("0.001").
		Add(decimal.RequireFromString("0.02")).
		Add(decimal.RequireFromString("0.009")).
		Div(decimal.NewFromInt(3))
	assert.True(t, summary.MeanAbsPctDelta.Equal(mean))
	assert.True(t, summary.MaxAbsPctDelta.Equal(decimal.RequireFromString("0.02")))

	assert.InDelta(t, 4.0/5.0, summary.CoverageRatio, 1e-12)
}

func TestAggregateEmptyInput(t *testing.T) {
	summary := Aggregate(nil, nil, Filter{})
	assert.Equal(t, 0, summary.CountCompared)
	assert.Zero(t, summary.BreachRate)
	assert.Zero(t, summary.CoverageRatio)
	assert.True(t, summary.MeanAbsPctDelta.IsZero())
}

func TestAggregateGapsOnly(t *testing.T) {
	summary := Aggregate(nil, []models.CoverageGap{gap("BTCUSDT", "2024-03-01")}, Filter{})
	assert.Equal(t, 0, summary.CountCompared)
	assert.Zero(t, summary.CoverageRatio)
}

func TestAggregateFilters(t *testing.T) {
	results := []models.ReconciliationResult{
		result("BTCUSDT", "2024-03-01", "0.001", false),
		result("ETHUSDT", "2024-03-01", "0.002", true),
		result("BTCUSDT", "2024-03-05", "0.003", true),
	}

	bySymbol := Aggregate(results, nil, Filter{Symbol: "ETHUSDT"})
	assert.Equal(t, "ETHUSDT", bySymbol.SymbolScope)
	assert.Equal(t, 1, bySymbol.CountCompared)
	assert.Equal(t, 1, bySymbol.CountBreached)

	byRange := Aggregate(results, nil, Filter{
		From: day("2024-03-02"),
		To:   day("2024-03-06"),
	})
	assert.Equal(t, 1, byRange.CountCompared)

	byMode := Aggregate(results, nil, Filter{Mode: models.ModeReturns})
	assert.Equal(t, 0, byMode.CountCompared)

	byVendor := Aggregate(results, nil, Filter{VendorA: "kraken"})
	assert.Equal(t, 0, byVendor.CountCompared)
}

func TestAggregateIsPureReduction(t *testing.T) {
	results := []models.ReconciliationResult{
		result("BTCUSDT", "2024-03-01", "0.001", false),
		result("BTCUSDT", "2024-03-02", "0.004", true),
	}
	gaps := []models.CoverageGap{gap("BTCUSDT", "2024-03-03")}

	first := Aggregate(results, gaps, Filter{})
	second := Aggregate(results, gaps, Filter{})
	require.Equal(t, first, second)
}
