// Package pipeline runs the batch flow: fetch raw records per symbol,
// normalize, quality-check, reconcile each configured vendor pair and
// aggregate KPIs. Symbols are independent work units; a defect in one
// never aborts the others.
package pipeline

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"mdrecon/config"
	"mdrecon/feed"
	"mdrecon/kpi"
	"mdrecon/logger"
	"mdrecon/models"
	"mdrecon/normalizer"
	"mdrecon/quality"
	"mdrecon/recon"
)

type correlation struct {
	symbol  string
	vendorA string
	vendorB string
	value   float64
	ok      bool
}

// unitOutput is everything one symbol's work unit produced.
type unitOutput struct {
	flags        []models.QualityFlag
	results      []models.ReconciliationResult
	gaps         []models.CoverageGap
	correlations []correlation
	err          error
}

// Runner executes one batch reconciliation run.
type Runner struct {
	cfg        *config.Config
	connectors []feed.Connector
	norm       *normalizer.Normalizer
	checker    *quality.Checker
	log        *logger.Log

	mu      sync.Mutex
	running bool
}

func NewRunner(cfg *config.Config, connectors []feed.Connector) *Runner {
	return &Runner{
		cfg:        cfg,
		connectors: connectors,
		norm:       normalizer.New(),
		checker:    quality.NewChecker(cfg.Quality),
		log:        logger.GetLogger(),
	}
}

// Run processes all configured symbols and returns the collected run
// report. Unit failures are recorded on the report, not returned.
func (r *Runner) Run(ctx context.Context) (*models.RunReport, error) {
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return nil, fmt.Errorf("pipeline already running")
	}
	r.running = true
	r.mu.Unlock()
	defer func() {
		r.mu.Lock()
		r.running = false
		r.mu.Unlock()
	}()

	report := &models.RunReport{
		RunID:     uuid.New().String(),
		StartedAt: time.Now().UTC(),
	}

	log := r.log.WithComponent("pipeline").WithFields(logger.Fields{
		"run_id":  report.RunID,
		"symbols": len(r.cfg.Pipeline.Symbols),
		"workers": r.cfg.Pipeline.MaxWorkers,
		"mode":    r.cfg.Recon.Mode,
	})
	log.Info("starting reconciliation run")

	outputs := make(map[string]*unitOutput, len(r.cfg.Pipeline.Symbols))
	var outMu sync.Mutex

	jobs := make(chan string)
	var wg sync.WaitGroup
	workers := r.cfg.Pipeline.MaxWorkers
	if workers < 1 {
		workers = 1
	}
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			for symbol := range jobs {
				out := r.runUnit(ctx, workerID, symbol)
				outMu.Lock()
				outputs[symbol] = out
				outMu.Unlock()
			}
		}(i)
	}

	for _, symbol := range r.cfg.Pipeline.Symbols {
		select {
		case <-ctx.Done():
			log.Warn("run cancelled before all symbols were dispatched")
		case jobs <- symbol:
			continue
		}
		break
	}
	close(jobs)
	wg.Wait()

	// Merge in configured symbol order so reports are deterministic
	// regardless of worker scheduling.
	var correlations []correlation
	for _, symbol := range r.cfg.Pipeline.Symbols {
		out, ok := outputs[symbol]
		if !ok {
			continue
		}
		if out.err != nil {
			report.UnitErrors = append(report.UnitErrors, models.UnitError{Symbol: symbol, Err: out.err})
			continue
		}
		report.Flags = append(report.Flags, out.flags...)
		report.Results = append(report.Results, out.results...)
		report.Gaps = append(report.Gaps, out.gaps...)
		correlations = append(correlations, out.correlations...)
	}

	report.Summaries = r.aggregate(report, correlations)
	report.FinishedAt = time.Now().UTC()

	log.WithFields(logger.Fields{
		"flags":       len(report.Flags),
		"results":     len(report.Results),
		"gaps":        len(report.Gaps),
		"summaries":   len(report.Summaries),
		"unit_errors": len(report.UnitErrors),
		"duration":    report.FinishedAt.Sub(report.StartedAt).String(),
	}).Info("reconciliation run finished")

	if err := ctx.Err(); err != nil {
		return report, err
	}
	return report, nil
}

// runUnit processes one symbol end to end.
func (r *Runner) runUnit(ctx context.Context, workerID int, symbol string) *unitOutput {
	log := r.log.WithComponent("pipeline").WithFields(logger.Fields{
		"worker_id": workerID,
		"symbol":    symbol,
	})

	start := time.Now()
	out := &unitOutput{}

	var raws []models.RawPriceRecord
	for _, conn := range r.connectors {
		if err := ctx.Err(); err != nil {
			out.err = err
			return out
		}
		records, err := conn.Fetch(ctx, symbol)
		if err != nil {
			// One vendor failing leaves the others comparable.
			log.WithError(err).WithFields(logger.Fields{"vendor": conn.Name()}).Warn("vendor fetch failed")
			continue
		}
		raws = append(raws, records...)
	}

	series, normFlags, err := r.norm.Normalize(raws)
	if err != nil {
		out.err = fmt.Errorf("normalize %s: %w", symbol, err)
		out.flags = normFlags
		return out
	}
	out.flags = append(out.flags, normFlags...)

	bySeries := make(map[string]*models.NormalizedSeries, len(series))
	for _, s := range series {
		bySeries[s.VendorID] = s
		out.flags = append(out.flags, r.checker.Check(s)...)
	}

	flagIndex := quality.NewFlagIndex(out.flags)

	threshold := decimal.NewFromFloat(r.cfg.Recon.BreachThreshold)
	for _, pair := range r.cfg.Recon.Pairs {
		a, okA := bySeries[pair.VendorA]
		b, okB := bySeries[pair.VendorB]
		if !okA || !okB {
			log.WithFields(logger.Fields{
				"vendor_a": pair.VendorA,
				"vendor_b": pair.VendorB,
			}).Warn("vendor pair has no data for symbol, skipping")
			continue
		}

		alignment, err := recon.Align(a, b, flagIndex)
		if err != nil {
			out.err = fmt.Errorf("align %s (%s/%s): %w", symbol, pair.VendorA, pair.VendorB, err)
			return out
		}

		for _, mode := range r.modes() {
			results, gaps, err := alignment.Evaluate(mode, threshold)
			if err != nil {
				out.err = fmt.Errorf("evaluate %s %s (%s/%s): %w", symbol, mode, pair.VendorA, pair.VendorB, err)
				return out
			}
			out.results = append(out.results, results...)
			out.gaps = append(out.gaps, gaps...)

			if mode == models.ModeReturns {
				value, ok := alignment.ReturnsCorrelation()
				out.correlations = append(out.correlations, correlation{
					symbol:  symbol,
					vendorA: pair.VendorA,
					vendorB: pair.VendorB,
					value:   value,
					ok:      ok,
				})
			}
		}
	}

	logger.IncrementResults(len(out.results))
	logger.IncrementGaps(len(out.gaps))
	logger.LogPerformanceEntry(log, "pipeline", "run_unit", time.Since(start), logger.Fields{
		"results": len(out.results),
		"gaps":    len(out.gaps),
		"flags":   len(out.flags),
	})

	return out
}

// aggregate produces one per-symbol summary per (pair, mode) plus an
// all-symbols rollup when more than one symbol is configured.
func (r *Runner) aggregate(report *models.RunReport, correlations []correlation) []models.KPISummary {
	var summaries []models.KPISummary

	corrFor := func(symbol, vendorA, vendorB string) (float64, bool) {
		for _, c := range correlations {
			if c.symbol == symbol && c.vendorA == vendorA && c.vendorB == vendorB {
				return c.value, c.ok
			}
		}
		return 0, false
	}

	gapCounts := make(map[string]int, len(report.Gaps))
	for _, g := range report.Gaps {
		gapCounts[g.Symbol+"|"+g.VendorA+"|"+g.VendorB+"|"+string(g.Mode)]++
	}

	for _, pair := range r.cfg.Recon.Pairs {
		for _, mode := range r.modes() {
			for _, symbol := range r.cfg.Pipeline.Symbols {
				summary := kpi.Aggregate(report.Results, report.Gaps, kpi.Filter{
					VendorA: pair.VendorA,
					VendorB: pair.VendorB,
					Symbol:  symbol,
					Mode:    mode,
				})
				gapKey := symbol + "|" + pair.VendorA + "|" + pair.VendorB + "|" + string(mode)
				if summary.CountCompared == 0 && gapCounts[gapKey] == 0 {
					continue
				}
				if mode == models.ModeReturns {
					if value, ok := corrFor(symbol, pair.VendorA, pair.VendorB); ok {
						summary.ReturnsCorrelation = value
						summary.HasReturnsCorrelation = true
					}
				}
				summaries = append(summaries, summary)
			}

			if len(r.cfg.Pipeline.Symbols) > 1 {
				rollup := kpi.Aggregate(report.Results, report.Gaps, kpi.Filter{
					VendorA: pair.VendorA,
					VendorB: pair.VendorB,
					Mode:    mode,
				})
				pairGaps := 0
				for _, symbol := range r.cfg.Pipeline.Symbols {
					pairGaps += gapCounts[symbol+"|"+pair.VendorA+"|"+pair.VendorB+"|"+string(mode)]
				}
				if rollup.CountCompared > 0 || pairGaps > 0 {
					summaries = append(summaries, rollup)
				}
			}
		}
	}

	return summaries
}

func (r *Runner) modes() []models.ReconMode {
	switch r.cfg.Recon.Mode {
	case "levels":
		return []models.ReconMode{models.ModeLevels}
	case "returns":
		return []models.ReconMode{models.ModeReturns}
	default:
		return []models.ReconMode{models.ModeLevels, models.ModeReturns}
	}
}
