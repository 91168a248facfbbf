package recon

import (
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"mdrecon/logger"
	"mdrecon/models"
)

var (
	// ErrSymbolMismatch is returned when the two series describe different
	// symbols; reconciliation is only defined per symbol.
	ErrSymbolMismatch = errors.New("series symbols do not match")
	// ErrSameVendor is returned when both series come from the same vendor.
	ErrSameVendor = errors.New("series vendors are identical")
	// ErrInvalidThreshold rejects a negative breach threshold before any
	// data is touched.
	ErrInvalidThreshold = errors.New("breach threshold must not be negative")
	// ErrUnknownMode rejects an unrecognized comparison mode.
	ErrUnknownMode = errors.New("unknown reconciliation mode")
)

// FlagLookup reports whether a (symbol, vendor, date) point carries a
// quality flag. Results touching flagged points are marked low-confidence
// instead of being excluded, preserving maximal comparability.
type FlagLookup interface {
	Flagged(symbol, vendor string, date time.Time) bool
}

type alignedPair struct {
	date time.Time
	a    models.PricePoint
	b    models.PricePoint
	// positions inside the source series, used to decide whether a
	// day-over-day return spans consecutive observations for both vendors
	aIdx int
	bIdx int
}

type pairedReturn struct {
	date     time.Time
	returnA  decimal.Decimal
	returnB  decimal.Decimal
	aFlagged bool
	bFlagged bool
}

// Alignment is the date-aligned view of two vendors' series for one
// symbol. It is built once per (symbol, pair) and reused across mode and
// threshold evaluations: changing the breach threshold never re-aligns.
type Alignment struct {
	Symbol  string
	VendorA string
	VendorB string

	pairs    []alignedPair
	sideGaps []models.CoverageGap // one-sided dates, mode stamped at evaluation

	retOnce    sync.Once
	retPairs   []pairedReturn
	retGaps    []models.CoverageGap
	flagLookup FlagLookup
}

// Align joins two normalized series on trade date with a two-pointer merge
// over the sorted-order invariant. Dates present in only one series are
// recorded as coverage gaps, never as one-sided results. The optional flag
// lookup marks low-confidence results during evaluation.
func Align(a, b *models.NormalizedSeries, flags FlagLookup) (*Alignment, error) {
	if a == nil || b == nil {
		return nil, errors.New("both series are required")
	}
	if a.Symbol != b.Symbol {
		return nil, fmt.Errorf("%w: %s vs %s", ErrSymbolMismatch, a.Symbol, b.Symbol)
	}
	if a.VendorID == b.VendorID {
		return nil, fmt.Errorf("%w: %s", ErrSameVendor, a.VendorID)
	}

	al := &Alignment{
		Symbol:     a.Symbol,
		VendorA:    a.VendorID,
		VendorB:    b.VendorID,
		flagLookup: flags,
	}

	i, j := 0, 0
	for i < len(a.Points) && j < len(b.Points) {
		pa, pb := a.Points[i], b.Points[j]
		switch {
		case pa.TradeDate.Equal(pb.TradeDate):
			al.pairs = append(al.pairs, alignedPair{date: pa.TradeDate, a: pa, b: pb, aIdx: i, bIdx: j})
			i++
			j++
		case pa.TradeDate.Before(pb.TradeDate):
			al.sideGaps = append(al.sideGaps, al.gap(pa.TradeDate, models.GapMissingVendorB))
			i++
		default:
			al.sideGaps = append(al.sideGaps, al.gap(pb.TradeDate, models.GapMissingVendorA))
			j++
		}
	}
	for ; i < len(a.Points); i++ {
		al.sideGaps = append(al.sideGaps, al.gap(a.Points[i].TradeDate, models.GapMissingVendorB))
	}
	for ; j < len(b.Points); j++ {
		al.sideGaps = append(al.sideGaps, al.gap(b.Points[j].TradeDate, models.GapMissingVendorA))
	}

	logger.GetLogger().WithComponent("recon").WithFields(logger.Fields{
		"symbol":   al.Symbol,
		"vendor_a": al.VendorA,
		"vendor_b": al.VendorB,
		"aligned":  len(al.pairs),
		"one_side": len(al.sideGaps),
	}).Debug("series aligned")

	return al, nil
}

func (al *Alignment) gap(date time.Time, reason models.GapReason) models.CoverageGap {
	return models.CoverageGap{
		Symbol:    al.Symbol,
		TradeDate: date,
		VendorA:   al.VendorA,
		VendorB:   al.VendorB,
		Reason:    reason,
	}
}

// PairCount reports the number of dates present in both series.
func (al *Alignment) PairCount() int { return len(al.pairs) }

// Evaluate dispatches to the requested mode after validating the inputs.
func (al *Alignment) Evaluate(mode models.ReconMode, threshold decimal.Decimal) ([]models.ReconciliationResult, []models.CoverageGap, error) {
	if threshold.IsNegative() {
		return nil, nil, ErrInvalidThreshold
	}
	switch mode {
	case models.ModeLevels:
		results, gaps := al.Levels(threshold)
		return results, gaps, nil
	case models.ModeReturns:
		results, gaps := al.Returns(threshold)
		return results, gaps, nil
	default:
		return nil, nil, fmt.Errorf("%w: %q", ErrUnknownMode, mode)
	}
}

// Levels compares raw prices per aligned date. pct_delta is delta divided
// by vendor B's price and is null when that price is zero; a null
// pct_delta is never a breach.
func (al *Alignment) Levels(threshold decimal.Decimal) ([]models.ReconciliationResult, []models.CoverageGap) {
	results := make([]models.ReconciliationResult, 0, len(al.pairs))
	gaps := stampMode(al.sideGaps, models.ModeLevels)

	for _, p := range al.pairs {
		// A null price is missing data, not a comparable zero.
		if !p.a.HasPrice {
			gaps = append(gaps, stampOne(al.gap(p.date, models.GapMissingVendorA), models.ModeLevels))
			continue
		}
		if !p.b.HasPrice {
			gaps = append(gaps, stampOne(al.gap(p.date, models.GapMissingVendorB), models.ModeLevels))
			continue
		}

		r := models.ReconciliationResult{
			Symbol:        al.Symbol,
			TradeDate:     p.date,
			VendorA:       al.VendorA,
			VendorB:       al.VendorB,
			Mode:          models.ModeLevels,
			ValueA:        p.a.Price,
			ValueB:        p.b.Price,
			Delta:         p.a.Price.Sub(p.b.Price),
			LowConfidence: al.lowConfidence(p.date),
		}
		if !p.b.Price.IsZero() {
			r.PctDelta = decimal.NewNullDecimal(r.Delta.Div(p.b.Price))
			r.Breached = r.PctDelta.Decimal.Abs().GreaterThan(threshold)
		}
		results = append(results, r)
	}

	return results, gaps
}

// Returns compares day-over-day returns per aligned date. A return is only
// defined when the previous aligned date is the immediately preceding
// observation in both vendors' own series; otherwise the date is a
// coverage gap, not a zero-valued result. pct_delta is the return
// difference directly, with no second division.
func (al *Alignment) Returns(threshold decimal.Decimal) ([]models.ReconciliationResult, []models.CoverageGap) {
	al.computeReturns()

	results := make([]models.ReconciliationResult, 0, len(al.retPairs))
	gaps := stampMode(al.sideGaps, models.ModeReturns)
	gaps = append(gaps, stampMode(al.retGaps, models.ModeReturns)...)

	for _, rp := range al.retPairs {
		delta := rp.returnA.Sub(rp.returnB)
		r := models.ReconciliationResult{
			Symbol:        al.Symbol,
			TradeDate:     rp.date,
			VendorA:       al.VendorA,
			VendorB:       al.VendorB,
			Mode:          models.ModeReturns,
			ValueA:        rp.returnA,
			ValueB:        rp.returnB,
			Delta:         delta,
			PctDelta:      decimal.NewNullDecimal(delta),
			Breached:      delta.Abs().GreaterThan(threshold),
			LowConfidence: rp.aFlagged || rp.bFlagged,
		}
		results = append(results, r)
	}

	return results, gaps
}

// computeReturns derives the paired day-over-day returns once per
// alignment; threshold re-evaluations reuse it.
func (al *Alignment) computeReturns() {
	al.retOnce.Do(func() {
		for i, p := range al.pairs {
			if i == 0 {
				al.retGaps = append(al.retGaps, al.gap(p.date, models.GapMissingPredecessor))
				continue
			}
			prev := al.pairs[i-1]
			consecutive := p.aIdx == prev.aIdx+1 && p.bIdx == prev.bIdx+1
			if !consecutive || !p.a.HasPrice || !p.b.HasPrice || !prev.a.HasPrice || !prev.b.HasPrice ||
				prev.a.Price.IsZero() || prev.b.Price.IsZero() {
				al.retGaps = append(al.retGaps, al.gap(p.date, models.GapMissingPredecessor))
				continue
			}

			al.retPairs = append(al.retPairs, pairedReturn{
				date:     p.date,
				returnA:  p.a.Price.Sub(prev.a.Price).Div(prev.a.Price),
				returnB:  p.b.Price.Sub(prev.b.Price).Div(prev.b.Price),
				aFlagged: al.flagged(al.VendorA, p.date) || al.flagged(al.VendorA, prev.date),
				bFlagged: al.flagged(al.VendorB, p.date) || al.flagged(al.VendorB, prev.date),
			})
		}
	})
}

// ReturnsCorrelation is the Pearson correlation of the paired returns, a
// scale-invariant agreement diagnostic. The second return is false when
// fewer than two pairs exist or either side has zero variance.
func (al *Alignment) ReturnsCorrelation() (float64, bool) {
	al.computeReturns()
	n := len(al.retPairs)
	if n < 2 {
		return 0, false
	}

	var sumA, sumB float64
	xs := make([]float64, n)
	ys := make([]float64, n)
	for i, rp := range al.retPairs {
		xs[i] = rp.returnA.InexactFloat64()
		ys[i] = rp.returnB.InexactFloat64()
		sumA += xs[i]
		sumB += ys[i]
	}
	meanA := sumA / float64(n)
	meanB := sumB / float64(n)

	var num, denA, denB float64
	for i := range xs {
		da := xs[i] - meanA
		db := ys[i] - meanB
		num += da * db
		denA += da * da
		denB += db * db
	}
	if denA == 0 || denB == 0 {
		return 0, false
	}
	return num / (math.Sqrt(denA) * math.Sqrt(denB)), true
}

func (al *Alignment) lowConfidence(date time.Time) bool {
	return al.flagged(al.VendorA, date) || al.flagged(al.VendorB, date)
}

func (al *Alignment) flagged(vendor string, date time.Time) bool {
	if al.flagLookup == nil {
		return false
	}
	return al.flagLookup.Flagged(al.Symbol, vendor, date)
}

func stampOne(g models.CoverageGap, mode models.ReconMode) models.CoverageGap {
	g.Mode = mode
	return g
}

func stampMode(gaps []models.CoverageGap, mode models.ReconMode) []models.CoverageGap {
	out := make([]models.CoverageGap, len(gaps))
	for i, g := range gaps {
		g.Mode = mode
		out[i] = g
	}
	return out
}
