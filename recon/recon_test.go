package recon

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mdrecon/models"
)

func day(t *testing.T, value string) time.Time {
	t.Helper()
	d, err := time.Parse("2006-01-02", value)
	require.NoError(t, err)
	return d.UTC()
}

// series builds a normalized series from (date, price) observations. An
// empty price string produces a point with no price.
func series(t *testing.T, symbol, vendor string, obs ...[2]string) *models.NormalizedSeries {
	t.Helper()
	points := make([]models.PricePoint, 0, len(obs))
	for _, o := range obs {
		p := models.PricePoint{
			Symbol:          symbol,
			VendorID:        vendor,
			TradeDate:       day(t, o[0]),
			IngestTimestamp: day(t, o[0]).Add(6 * time.Hour),
		}
		if o[1] != "" {
			p.Price = decimal.RequireFromString(o[1])
			p.HasPrice = true
		}
		points = append(points, p)
	}
	return &models.NormalizedSeries{Symbol: symbol, VendorID: vendor, Points: points}
}

func threshold(value string) decimal.Decimal {
	return decimal.RequireFromString(value)
}

func TestAlignRejectsMismatchedInput(t *testing.T) {
	a := series(t, "BTCUSDT", "binance", [2]string{"2024-03-01", "100"})

	_, err := Align(a, series(t, "ETHUSDT", "bybit", [2]string{"2024-03-01", "100"}), nil)
	require.ErrorIs(t, err, ErrSymbolMismatch)

	_, err = Align(a, series(t, "BTCUSDT", "binance", [2]string{"2024-03-01", "100"}), nil)
	require.ErrorIs(t, err, ErrSameVendor)

	_, err = Align(nil, a, nil)
	require.Error(t, err)
}

func TestEvaluateRejectsBadParameters(t *testing.T) {
	al, err := Align(
		series(t, "BTCUSDT", "binance", [2]string{"2024-03-01", "100"}),
		series(t, "BTCUSDT", "bybit", [2]string{"2024-03-01", "100"}),
		nil,
	)
	require.NoError(t, err)

	_, _, err = al.Evaluate(models.ModeLevels, decimal.NewFromInt(-1))
	require.ErrorIs(t, err, ErrInvalidThreshold)

	_, _, err = al.Evaluate(models.ReconMode("sideways"), decimal.Zero)
	require.ErrorIs(t, err, ErrUnknownMode)
}

func TestLevelsBreach(t *testing.T) {
	a := series(t, "BTCUSDT", "binance",
		[2]string{"2024-03-01", "100"},
		[2]string{"2024-03-02", "102"},
	)
	b := series(t, "BTCUSDT", "bybit",
		[2]string{"2024-03-01", "100"},
		[2]string{"2024-03-02", "101"},
	)

	al, err := Align(a, b, nil)
	require.NoError(t, err)
	require.Equal(t, 2, al.PairCount())

	results, gaps := al.Levels(threshold("0.005"))
	require.Len(t, results, 2)
	require.Empty(t, gaps)

	first := results[0]
	assert.True(t, first.Delta.IsZero())
	require.True(t, first.PctDelta.Valid)
	assert.True(t, first.PctDelta.Decimal.IsZero())
	assert.False(t, first.Breached)

	second := results[1]
	assert.Equal(t, models.ModeLevels, second.Mode)
	assert.True(t, second.Delta.Equal(decimal.NewFromInt(1)))
	require.True(t, second.PctDelta.Valid)
	assert.InDelta(t, 1.0/101.0, second.PctDelta.Decimal.InexactFloat64(), 1e-12)
	assert.True(t, second.Breached)
}

func TestLevelsBreachIsStrictInequality(t *testing.T) {
	a := series(t, "BTCUSDT", "binance", [2]string{"2024-03-01", "100.5"})
	b := series(t, "BTCUSDT", "bybit", [2]string{"2024-03-01", "100"})

	al, err := Align(a, b, nil)
	require.NoError(t, err)

	// pct_delta is exactly the threshold: equality is not a breach.
	results, _ := al.Levels(threshold("0.005"))
	require.Len(t, results, 1)
	require.True(t, results[0].PctDelta.Valid)
	assert.True(t, results[0].PctDelta.Decimal.Equal(threshold("0.005")))
	assert.False(t, results[0].Breached)

	results, _ = al.Levels(threshold("0.004"))
	assert.True(t, results[0].Breached)
}

func TestLevelsZeroReferenceYieldsNullPctDelta(t *testing.T) {
	a := series(t, "BTCUSDT", "binance", [2]string{"2024-03-01", "5"})
	b := series(t, "BTCUSDT", "bybit", [2]string{"2024-03-01", "0"})

	al, err := Align(a, b, nil)
	require.NoError(t, err)

	results, _ := al.Levels(decimal.Zero)
	require.Len(t, results, 1)
	assert.True(t, results[0].Delta.Equal(decimal.NewFromInt(5)))
	assert.False(t, results[0].PctDelta.Valid)
	// Null pct_delta is never a breach, even at threshold zero.
	assert.False(t, results[0].Breached)
}

func TestLevelsMissingPriceBecomesGap(t *testing.T) {
	a := series(t, "BTCUSDT", "binance",
		[2]string{"2024-03-01", "100"},
		[2]string{"2024-03-02", ""},
	)
	b := series(t, "BTCUSDT", "bybit",
		[2]string{"2024-03-01", "100"},
		[2]string{"2024-03-02", "101"},
	)

	al, err := Align(a, b, nil)
	require.NoError(t, err)

	results, gaps := al.Levels(threshold("0.005"))
	require.Len(t, results, 1)
	require.Len(t, gaps, 1)
	assert.Equal(t, models.GapMissingVendorA, gaps[0].Reason)
	assert.Equal(t, models.ModeLevels, gaps[0].Mode)
	assert.Equal(t, day(t, "2024-03-02"), gaps[0].TradeDate)
}

func TestAlignRecordsOneSidedDatesAsGaps(t *testing.T) {
	a := series(t, "BTCUSDT", "binance",
		[2]string{"2024-03-01", "100"},
		[2]string{"2024-03-03", "102"},
	)
	b := series(t, "BTCUSDT", "bybit",
		[2]string{"2024-03-02", "100"},
		[2]string{"2024-03-03", "101"},
	)

	al, err := Align(a, b, nil)
	require.NoError(t, err)
	require.Equal(t, 1, al.PairCount())

	results, gaps := al.Levels(threshold("0.005"))
	require.Len(t, results, 1)
	assert.Equal(t, day(t, "2024-03-03"), results[0].TradeDate)

	require.Len(t, gaps, 2)
	byDate := map[string]models.GapReason{}
	for _, g := range gaps {
		byDate[g.TradeDate.Format("2006-01-02")] = g.Reason
	}
	assert.Equal(t, models.GapMissingVendorB, byDate["2024-03-01"])
	assert.Equal(t, models.GapMissingVendorA, byDate["2024-03-02"])
}

func TestAlignDisjointSeriesProducesNoResults(t *testing.T) {
	a := series(t, "BTCUSDT", "binance", [2]string{"2024-03-01", "100"})
	b := series(t, "BTCUSDT", "bybit", [2]string{"2024-03-02", "100"})

	al, err := Align(a, b, nil)
	require.NoError(t, err)
	assert.Equal(t, 0, al.PairCount())

	results, gaps := al.Levels(threshold("0.005"))
	assert.Empty(t, results)
	assert.Len(t, gaps, 2)
}

func TestReturnsBreach(t *testing.T) {
	a := series(t, "BTCUSDT", "binance",
		[2]string{"2024-03-01", "100"},
		[2]string{"2024-03-02", "102"},
	)
	b := series(t, "BTCUSDT", "bybit",
		[2]string{"2024-03-01", "100"},
		[2]string{"2024-03-02", "101"},
	)

	al, err := Align(a, b, nil)
	require.NoError(t, err)

	results, gaps := al.Returns(threshold("0.005"))
	require.Len(t, results, 1)

	r := results[0]
	assert.Equal(t, day(t, "2024-03-02"), r.TradeDate)
	assert.True(t, r.ValueA.Equal(threshold("0.02")))
	assert.True(t, r.ValueB.Equal(threshold("0.01")))
	assert.True(t, r.Delta.Equal(threshold("0.01")))
	require.True(t, r.PctDelta.Valid)
	assert.True(t, r.PctDelta.Decimal.Equal(threshold("0.01")))
	assert.True(t, r.Breached)

	// The first aligned date has no predecessor.
	require.Len(t, gaps, 1)
	assert.Equal(t, models.GapMissingPredecessor, gaps[0].Reason)
	assert.Equal(t, day(t, "2024-03-01"), gaps[0].TradeDate)
	assert.Equal(t, models.ModeReturns, gaps[0].Mode)
}

func TestReturnsRequireConsecutiveObservationsInBothSeries(t *testing.T) {
	a := series(t, "BTCUSDT", "binance",
		[2]string{"2024-03-01", "100"},
		[2]string{"2024-03-02", "101"},
		[2]string{"2024-03-03", "102"},
	)
	b := series(t, "BTCUSDT", "bybit",
		[2]string{"2024-03-01", "100"},
		[2]string{"2024-03-03", "101"},
	)

	al, err := Align(a, b, nil)
	require.NoError(t, err)

	// 03-03 aligns, but vendor A observed 03-02 in between: its return
	// would span one day while vendor B's spans two. Not comparable.
	results, gaps := al.Returns(threshold("0.005"))
	assert.Empty(t, results)

	reasons := map[string]models.GapReason{}
	for _, g := range gaps {
		reasons[g.TradeDate.Format("2006-01-02")+"/"+string(g.Reason)] = g.Reason
	}
	assert.Contains(t, reasons, "2024-03-01/missing_predecessor")
	assert.Contains(t, reasons, "2024-03-03/missing_predecessor")
	assert.Contains(t, reasons, "2024-03-02/missing_vendor_b")
}

func TestEvaluateIsIdempotentAcrossThresholds(t *testing.T) {
	a := series(t, "BTCUSDT", "binance",
		[2]string{"2024-03-01", "100"},
		[2]string{"2024-03-02", "102"},
		[2]string{"2024-03-03", "99"},
	)
	b := series(t, "BTCUSDT", "bybit",
		[2]string{"2024-03-01", "100"},
		[2]string{"2024-03-02", "101"},
		[2]string{"2024-03-03", "100"},
	)

	al, err := Align(a, b, nil)
	require.NoError(t, err)

	first, gaps1, err := al.Evaluate(models.ModeReturns, threshold("0.005"))
	require.NoError(t, err)
	second, gaps2, err := al.Evaluate(models.ModeReturns, threshold("0.005"))
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Equal(t, gaps1, gaps2)

	// A looser threshold re-evaluates over the cached alignment: same
	// comparisons, different breach outcomes only.
	loose, _, err := al.Evaluate(models.ModeReturns, threshold("0.5"))
	require.NoError(t, err)
	require.Len(t, loose, len(first))
	for i := range loose {
		assert.True(t, loose[i].Delta.Equal(first[i].Delta))
		assert.False(t, loose[i].Breached)
	}
}

func TestReturnsCorrelation(t *testing.T) {
	// Identical movements correlate perfectly.
	a := series(t, "BTCUSDT", "binance",
		[2]string{"2024-03-01", "100"},
		[2]string{"2024-03-02", "102"},
		[2]string{"2024-03-03", "99"},
		[2]string{"2024-03-04", "105"},
	)
	b := series(t, "BTCUSDT", "bybit",
		[2]string{"2024-03-01", "200"},
		[2]string{"2024-03-02", "204"},
		[2]string{"2024-03-03", "198"},
		[2]string{"2024-03-04", "210"},
	)

	al, err := Align(a, b, nil)
	require.NoError(t, err)

	corr, ok := al.ReturnsCorrelation()
	require.True(t, ok)
	assert.InDelta(t, 1.0, corr, 1e-9)
}

func TestReturnsCorrelationUndefinedOnDegenerateInput(t *testing.T) {
	// A single paired return is not enough.
	al, err := Align(
		series(t, "BTCUSDT", "binance", [2]string{"2024-03-01", "100"}, [2]string{"2024-03-02", "102"}),
		series(t, "BTCUSDT", "bybit", [2]string{"2024-03-01", "100"}, [2]string{"2024-03-02", "101"}),
		nil,
	)
	require.NoError(t, err)
	_, ok := al.ReturnsCorrelation()
	assert.False(t, ok)

	// Zero variance on one side leaves the correlation undefined.
	al, err = Align(
		series(t, "BTCUSDT", "binance",
			[2]string{"2024-03-01", "100"},
			[2]string{"2024-03-02", "100"},
			[2]string{"2024-03-03", "100"},
		),
		series(t, "BTCUSDT", "bybit",
			[2]string{"2024-03-01", "100"},
			[2]string{"2024-03-02", "105"},
			[2]string{"2024-03-03", "95"},
		),
		nil,
	)
	require.NoError(t, err)
	_, ok = al.ReturnsCorrelation()
	assert.False(t, ok)
}

type stubFlags map[string]struct{}

func (s stubFlags) Flagged(symbol, vendor string, date time.Time) bool {
	_, ok := s[symbol+"|"+vendor+"|"+date.Format("2006-01-02")]
	return ok
}

func TestFlaggedPointsProduceLowConfidenceResults(t *testing.T) {
	a := series(t, "BTCUSDT", "binance",
		[2]string{"2024-03-01", "100"},
		[2]string{"2024-03-02", "102"},
	)
	b := series(t, "BTCUSDT", "bybit",
		[2]string{"2024-03-01", "100"},
		[2]string{"2024-03-02", "101"},
	)
	flags := stubFlags{"BTCUSDT|bybit|2024-03-02": {}}

	al, err := Align(a, b, flags)
	require.NoError(t, err)

	results, _ := al.Levels(threshold("0.005"))
	require.Len(t, results, 2)
	assert.False(t, results[0].LowConfidence)
	assert.True(t, results[1].LowConfidence)

	// Flagged data is still compared and can still breach.
	assert.True(t, results[1].Breached)

	// A flag on either endpoint of the return window taints the return.
	retResults, _ := al.Returns(threshold("0.005"))
	require.Len(t, retResults, 1)
	assert.True(t, retResults[0].LowConfidence)
}
