// Package writer renders a run report to its output surfaces: CSV and
// parquet files on disk, and optionally parquet in S3.
package writer

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"mdrecon/logger"
	"mdrecon/models"
)

const dateLayout = "2006-01-02"

// CSVWriter writes the run's flags, results, gaps and KPI tables as CSV
// files under a per-run directory.
type CSVWriter struct {
	outputDir string
	log       *logger.Log
}

func NewCSVWriter(outputDir string) *CSVWriter {
	return &CSVWriter{outputDir: outputDir, log: logger.GetLogger()}
}

// Write renders all tables for the run and returns the run directory.
func (w *CSVWriter) Write(report *models.RunReport) (string, error) {
	dir := filepath.Join(w.outputDir, report.RunID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create output dir %s: %w", dir, err)
	}

	log := w.log.WithComponent("csv_writer").WithFields(logger.Fields{
		"run_id": report.RunID,
		"dir":    dir,
	})

	if err := w.writeFlags(filepath.Join(dir, "flags.csv"), report.Flags); err != nil {
		return "", err
	}
	if err := w.writeResults(filepath.Join(dir, "results.csv"), report.Results); err != nil {
		return "", err
	}
	if err := w.writeGaps(filepath.Join(dir, "gaps.csv"), report.Gaps); err != nil {
		return "", err
	}
	if err := w.writeSummaries(filepath.Join(dir, "kpi.csv"), report.Summaries); err != nil {
		return "", err
	}

	log.WithFields(logger.Fields{
		"flags":     len(report.Flags),
		"results":   len(report.Results),
		"gaps":      len(report.Gaps),
		"summaries": len(report.Summaries),
	}).Info("csv report written")
	logger.IncrementReportWrite(len(report.Results))

	return dir, nil
}

func (w *CSVWriter) writeTable(path string, header []string, rows [][]string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	defer f.Close()

	cw := csv.NewWriter(f)
	if err := cw.Write(header); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	for _, row := range rows {
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("write %s: %w", path, err)
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return fmt.Errorf("flush %s: %w", path, err)
	}
	return nil
}

func (w *CSVWriter) writeFlags(path string, flags []models.QualityFlag) error {
	rows := make([][]string, 0, len(flags))
	for _, f := range flags {
		rows = append(rows, []string{
			string(f.Kind),
			string(f.Severity),
			f.Symbol,
			f.VendorID,
			f.TradeDate.Format(dateLayout),
			f.Detail,
		})
	}
	return w.writeTable(path, []string{"kind", "severity", "symbol", "vendor_id", "trade_date", "detail"}, rows)
}

func (w *CSVWriter) writeResults(path string, results []models.ReconciliationResult) error {
	rows := make([][]string, 0, len(results))
	for _, r := range results {
		pctDelta := ""
		if r.PctDelta.Valid {
			pctDelta = r.PctDelta.Decimal.String()
		}
		rows = append(rows, []string{
			r.Symbol,
			r.TradeDate.Format(dateLayout),
			r.VendorA,
			r.VendorB,
			string(r.Mode),
			r.ValueA.String(),
			r.ValueB.String(),
			r.Delta.String(),
			pctDelta,
			strconv.FormatBool(r.Breached),
			strconv.FormatBool(r.LowConfidence),
		})
	}
	return w.writeTable(path, []string{
		"symbol", "trade_date", "vendor_a", "vendor_b", "mode",
		"value_a", "value_b", "delta", "pct_delta", "breached", "low_confidence",
	}, rows)
}

func (w *CSVWriter) writeGaps(path string, gaps []models.CoverageGap) error {
	rows := make([][]string, 0, len(gaps))
	for _, g := range gaps {
		rows = append(rows, []string{
			g.Symbol,
			g.TradeDate.Format(dateLayout),
			g.VendorA,
			g.VendorB,
			string(g.Mode),
			string(g.Reason),
		})
	}
	return w.writeTable(path, []string{"symbol", "trade_date", "vendor_a", "vendor_b", "mode", "reason"}, rows)
}

func (w *CSVWriter) writeSummaries(path string, summaries []models.KPISummary) error {
	rows := make([][]string, 0, len(summaries))
	for _, s := range summaries {
		corr := ""
		if s.HasReturnsCorrelation {
			corr = strconv.FormatFloat(s.ReturnsCorrelation, 'f', -1, 64)
		}
		rows = append(rows, []string{
			s.VendorA,
			s.VendorB,
			s.SymbolScope,
			s.DateRangeStart.Format(dateLayout),
			s.DateRangeEnd.Format(dateLayout),
			string(s.Mode),
			strconv.Itoa(s.CountCompared),
			strconv.Itoa(s.CountBreached),
			strconv.FormatFloat(s.BreachRate, 'f', -1, 64),
			s.MeanAbsPctDelta.String(),
			s.MaxAbsPctDelta.String(),
			strconv.FormatFloat(s.CoverageRatio, 'f', -1, 64),
			corr,
		})
	}
	return w.writeTable(path, []string{
		"vendor_a", "vendor_b", "symbol_scope", "date_range_start", "date_range_end",
		"mode", "count_compared", "count_breached", "breach_rate",
		"mean_abs_pct_delta", "max_abs_pct_delta", "coverage_ratio", "returns_correlation",
	}, rows)
}
