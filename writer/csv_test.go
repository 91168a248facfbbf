package writer

import (
	"encoding/csv"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mdrecon/models"
)

func testReport(t *testing.T) *models.RunReport {
	t.Helper()
	d1, _ := time.Parse("2006-01-02", "2024-03-01")
	d2, _ := time.Parse("2006-01-02", "2024-03-02")

	return &models.RunReport{
		RunID:     "test-run",
		StartedAt: d2.Add(12 * time.Hour),
		Flags: []models.QualityFlag{{
			Kind:      models.FlagLatencyAnomaly,
			Severity:  models.SeverityWarn,
			Symbol:    "BTCUSDT",
			VendorID:  "binance",
			TradeDate: d1,
			Detail:    "ingested 72h after trade date",
		}},
		Results: []models.ReconciliationResult{
			{
				Symbol:    "BTCUSDT",
				TradeDate: d2,
				VendorA:   "binance",
				VendorB:   "bybit",
				Mode:      models.ModeLevels,
				ValueA:    decimal.RequireFromString("102"),
				ValueB:    decimal.RequireFromString("101"),
				Delta:     decimal.RequireFromString("1"),
				PctDelta:  decimal.NewNullDecimal(decimal.RequireFromString("0.0099")),
				Breached:  true,
			},
			{
				Symbol:    "BTCUSDT",
				TradeDate: d1,
				VendorA:   "binance",
				VendorB:   "bybit",
				Mode:      models.ModeLevels,
				ValueA:    decimal.RequireFromString("5"),
				ValueB:    decimal.Zero,
				Delta:     decimal.RequireFromString("5"),
			},
		},
		Gaps: []models.CoverageGap{{
			Symbol:    "BTCUSDT",
			TradeDate: d1,
			VendorA:   "binance",
			VendorB:   "bybit",
			Mode:      models.ModeReturns,
			Reason:    models.GapMissingPredecessor,
		}},
		Summaries: []models.KPISummary{{
			VendorA:         "binance",
			VendorB:         "bybit",
			SymbolScope:     "BTCUSDT",
			DateRangeStart:  d1,
			DateRangeEnd:    d2,
			Mode:            models.ModeLevels,
			CountCompared:   2,
			CountBreached:   1,
			BreachRate:      0.5,
			MeanAbsPctDelta: decimal.RequireFromString("0.0099"),
			MaxAbsPctDelta:  decimal.RequireFromString("0.0099"),
			CoverageRatio:   1,
		}},
	}
}

func readCSV(t *testing.T, path string) [][]string {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	rows, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	return rows
}

func TestCSVWriterWritesAllTables(t *testing.T) {
	outputDir := t.TempDir()
	report := testReport(t)

	dir, err := NewCSVWriter(outputDir).Write(report)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(outputDir, "test-run"), dir)

	results := readCSV(t, filepath.Join(dir, "results.csv"))
	require.Len(t, results, 3)
	assert.Equal(t, []string{
		"symbol", "trade_date", "vendor_a", "vendor_b", "mode",
		"value_a", "value_b", "delta", "pct_delta", "breached", "low_confidence",
	}, results[0])
	assert.Equal(t, []string{
		"BTCUSDT", "2024-03-02", "binance", "bybit", "levels",
		"102", "101", "1", "0.0099", "true", "false",
	}, results[1])

	// Null pct_delta renders as empty, not as zero.
	assert.Equal(t, "", results[2][8])
	assert.Equal(t, "false", results[2][9])

	flags := readCSV(t, filepath.Join(dir, "flags.csv"))
	require.Len(t, flags, 2)
	assert.Equal(t, []string{"kind", "severity", "symbol", "vendor_id", "trade_date", "detail"}, flags[0])
	assert.Equal(t, "latency_anomaly", flags[1][0])

	gaps := readCSV(t, filepath.Join(dir, "gaps.csv"))
	require.Len(t, gaps, 2)
	assert.Equal(t, "missing_predecessor", gaps[1][5])

	kpis := readCSV(t, filepath.Join(dir, "kpi.csv"))
	require.Len(t, kpis, 2)
	assert.Equal(t, "0.5", kpis[1][8])
	// Correlation column is empty when the diagnostic is undefined.
	assert.Equal(t, "", kpis[1][12])
}

func TestCSVWriterEmptyReport(t *testing.T) {
	report := &models.RunReport{RunID: "empty-run"}

	dir, err := NewCSVWriter(t.TempDir()).Write(report)
	require.NoError(t, err)

	// Header-only files are still written so consumers see the schema.
	for _, name := range []string{"flags.csv", "results.csv", "gaps.csv", "kpi.csv"} {
		rows := readCSV(t, filepath.Join(dir, name))
		assert.Len(t, rows, 1, name)
	}
}

func TestParquetWriterEncodesResults(t *testing.T) {
	report := testReport(t)
	pq := NewParquetWriter(t.TempDir(), "snappy")

	data, err := pq.EncodeResults(report.Results)
	require.NoError(t, err)
	assert.NotEmpty(t, data)
	// Parquet magic bytes frame the file.
	assert.Equal(t, "PAR1", string(data[:4]))
	assert.Equal(t, "PAR1", string(data[len(data)-4:]))

	flagsData, err := pq.EncodeFlags(report.Flags)
	require.NoError(t, err)
	assert.NotEmpty(t, flagsData)
}

func TestParquetWriterWritesFiles(t *testing.T) {
	outputDir := t.TempDir()
	report := testReport(t)

	paths, err := NewParquetWriter(outputDir, "gzip").Write(report)
	require.NoError(t, err)
	require.Len(t, paths, 2)
	for _, p := range paths {
		info, err := os.Stat(p)
		require.NoError(t, err)
		assert.Greater(t, info.Size(), int64(0))
	}
}
