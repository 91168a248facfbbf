package quality

import (
	"fmt"
	"time"

	"mdrecon/config"
	"mdrecon/logger"
	"mdrecon/models"
)

// Checker scans a normalized series for structural defects. Checks are
// independent and never mutate the series; running a subset must not alter
// the results of the others. Defects are always reported as flags, never
// as failures: the pipeline keeps going.
type Checker struct {
	cfg config.QualityConfig
	log *logger.Log
}

func NewChecker(cfg config.QualityConfig) *Checker {
	return &Checker{cfg: cfg, log: logger.GetLogger()}
}

// Check runs the enabled checks over one series and returns the flags in
// series order, missing-field first per point.
func (c *Checker) Check(series *models.NormalizedSeries) []models.QualityFlag {
	if series == nil || len(series.Points) == 0 {
		return nil
	}

	var flags []models.QualityFlag
	if c.cfg.MissingFieldCheck {
		flags = append(flags, c.missingFields(series)...)
	}
	if c.cfg.LatencyThreshold > 0 {
		flags = append(flags, c.latency(series)...)
	}
	if c.cfg.DuplicateCheck {
		flags = append(flags, c.duplicates(series)...)
	}

	if len(flags) > 0 {
		c.log.WithComponent("quality").WithFields(logger.Fields{
			"symbol": series.Symbol,
			"vendor": series.VendorID,
			"flags":  len(flags),
		}).Info("quality defects detected")
		logger.IncrementFlags(len(flags))
	}

	return flags
}

// missingFields flags canonical points whose declared-required field is
// null or absent.
func (c *Checker) missingFields(series *models.NormalizedSeries) []models.QualityFlag {
	var flags []models.QualityFlag
	for _, p := range series.Points {
		for _, field := range c.cfg.RequiredFields {
			if _, ok := p.Field(field); ok {
				continue
			}
			flags = append(flags, models.QualityFlag{
				Kind:      models.FlagMissingField,
				Severity:  models.SeverityError,
				Symbol:    series.Symbol,
				VendorID:  series.VendorID,
				TradeDate: p.TradeDate,
				Detail:    fmt.Sprintf("required field %q is null or absent", field),
			})
		}
	}
	return flags
}

// latency flags points ingested too long after their trade date. Severity
// escalates from warn to error at twice the threshold.
func (c *Checker) latency(series *models.NormalizedSeries) []models.QualityFlag {
	var flags []models.QualityFlag
	threshold := c.cfg.LatencyThreshold
	for _, p := range series.Points {
		if p.IngestTimestamp.IsZero() {
			continue
		}
		lag := p.IngestTimestamp.Sub(p.TradeDate)
		if lag <= threshold {
			continue
		}
		severity := models.SeverityWarn
		if lag >= 2*threshold {
			severity = models.SeverityError
		}
		flags = append(flags, models.QualityFlag{
			Kind:      models.FlagLatencyAnomaly,
			Severity:  severity,
			Symbol:    series.Symbol,
			VendorID:  series.VendorID,
			TradeDate: p.TradeDate,
			Detail:    fmt.Sprintf("ingested %s after trade date (threshold %s)", lag.Round(time.Minute), threshold),
		})
	}
	return flags
}

// duplicates re-scans the canonical series. The normalizer already
// deduplicates, so a repeated date here means the construction invariant
// was violated upstream.
func (c *Checker) duplicates(series *models.NormalizedSeries) []models.QualityFlag {
	var flags []models.QualityFlag
	seen := make(map[string]int, len(series.Points))
	for _, p := range series.Points {
		key := p.TradeDate.Format("2006-01-02")
		seen[key]++
		if seen[key] == 2 {
			flags = append(flags, models.QualityFlag{
				Kind:      models.FlagDuplicate,
				Severity:  models.SeverityError,
				Symbol:    series.Symbol,
				VendorID:  series.VendorID,
				TradeDate: p.TradeDate,
				Detail:    "duplicate trade date in canonical series",
			})
		}
	}
	return flags
}

// FlagIndex is a lookup over flags keyed by (symbol, vendor, date) so the
// reconciliation engine can mark results as low-confidence.
type FlagIndex map[string]struct{}

// NewFlagIndex builds the lookup from any number of flag slices.
func NewFlagIndex(flagSets ...[]models.QualityFlag) FlagIndex {
	idx := make(FlagIndex)
	for _, set := range flagSets {
		for _, f := range set {
			idx[f.Key()] = struct{}{}
		}
	}
	return idx
}

// Flagged reports whether the (symbol, vendor, date) point carries a flag.
func (idx FlagIndex) Flagged(symbol, vendor string, date time.Time) bool {
	if idx == nil {
		return false
	}
	_, ok := idx[symbol+"|"+vendor+"|"+date.Format("2006-01-02")]
	return ok
}
