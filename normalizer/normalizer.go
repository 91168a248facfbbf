package normalizer

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"mdrecon/logger"
	"mdrecon/models"
)

// ErrMalformedInput is returned when the raw input as a whole is not a
// usable sequence of records. Per-record defects never trigger it; they
// become quality flags instead.
var ErrMalformedInput = errors.New("malformed input: no parseable records")

var dateLayouts = []string{
	"2006-01-02",
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// Normalizer converts heterogeneous raw vendor records into canonical
// ordered series. Output points are immutable: downstream stages only read
// them.
type Normalizer struct {
	log *logger.Log
}

func New() *Normalizer {
	return &Normalizer{log: logger.GetLogger()}
}

type candidate struct {
	point    models.PricePoint
	inputIdx int
}

// Normalize produces one NormalizedSeries per (symbol, vendor) present in
// the input, plus quality flags for every record that was excluded or
// deduplicated. Series points are sorted ascending by trade date with
// unique dates, the invariant all downstream alignment relies on.
func (n *Normalizer) Normalize(raws []models.RawPriceRecord) ([]*models.NormalizedSeries, []models.QualityFlag, error) {
	if raws == nil {
		return nil, nil, ErrMalformedInput
	}

	log := n.log.WithComponent("normalizer").WithFields(logger.Fields{"records": len(raws)})

	var flags []models.QualityFlag
	groups := make(map[string]map[string]candidate) // symbol|vendor -> dateKey -> kept candidate
	order := make([]string, 0)
	parsed := 0

	for i, raw := range raws {
		point, flag, ok := n.coerce(raw)
		if !ok {
			flags = append(flags, flag...)
			continue
		}
		flags = append(flags, flag...)
		parsed++

		groupKey := point.Symbol + "|" + point.VendorID
		dates, exists := groups[groupKey]
		if !exists {
			dates = make(map[string]candidate)
			groups[groupKey] = dates
			order = append(order, groupKey)
		}

		dateKey := point.TradeDate.Format("2006-01-02")
		prev, dup := dates[dateKey]
		if !dup {
			dates[dateKey] = candidate{point: point, inputIdx: i}
			continue
		}

		// Duplicate date: keep the latest ingestion timestamp; on a tie the
		// record appearing last in input order wins.
		keepNew := point.IngestTimestamp.After(prev.point.IngestTimestamp) ||
			(point.IngestTimestamp.Equal(prev.point.IngestTimestamp) && i > prev.inputIdx)

		discarded := prev.point
		if keepNew {
			dates[dateKey] = candidate{point: point, inputIdx: i}
		} else {
			discarded = point
		}

		flags = append(flags, models.QualityFlag{
			Kind:      models.FlagDuplicate,
			Severity:  models.SeverityWarn,
			Symbol:    point.Symbol,
			VendorID:  point.VendorID,
			TradeDate: point.TradeDate,
			Detail: fmt.Sprintf("duplicate record discarded (ingested %s, kept %s)",
				discarded.IngestTimestamp.Format(time.RFC3339),
				dates[dateKey].point.IngestTimestamp.Format(time.RFC3339)),
		})
	}

	if parsed == 0 && len(raws) > 0 {
		log.WithFields(logger.Fields{"flags": len(flags)}).Warn("no record survived coercion")
		return nil, flags, ErrMalformedInput
	}

	sort.Strings(order)
	series := make([]*models.NormalizedSeries, 0, len(order))
	for _, groupKey := range order {
		dates := groups[groupKey]
		points := make([]models.PricePoint, 0, len(dates))
		for _, c := range dates {
			points = append(points, c.point)
		}
		sort.Slice(points, func(a, b int) bool {
			return points[a].TradeDate.Before(points[b].TradeDate)
		})
		series = append(series, &models.NormalizedSeries{
			Symbol:   points[0].Symbol,
			VendorID: points[0].VendorID,
			Points:   points,
		})
	}

	log.WithFields(logger.Fields{
		"series":        len(series),
		"points":        parsed,
		"quality_flags": len(flags),
	}).Info("normalization complete")

	return series, flags, nil
}

// coerce converts one raw record into a canonical point. The third return
// is false when the record must be excluded; any flags explain why.
func (n *Normalizer) coerce(raw models.RawPriceRecord) (models.PricePoint, []models.QualityFlag, bool) {
	flagExclude := func(field, detail string) (models.PricePoint, []models.QualityFlag, bool) {
		return models.PricePoint{}, []models.QualityFlag{{
			Kind:      models.FlagMissingField,
			Severity:  models.SeverityError,
			Symbol:    raw.Symbol,
			VendorID:  raw.VendorID,
			TradeDate: parseDateOrZero(raw.TradeDate),
			Detail:    fmt.Sprintf("%s: %s", field, detail),
		}}, false
	}

	if raw.Symbol == "" {
		return flagExclude("symbol", "missing")
	}
	if raw.VendorID == "" {
		return flagExclude("vendor_id", "missing")
	}

	tradeDate, err := parseDate(raw.TradeDate)
	if err != nil {
		return flagExclude("trade_date", fmt.Sprintf("unparseable value %q", raw.TradeDate))
	}

	ingestTS, err := parseTimestamp(raw.IngestTimestamp)
	if err != nil {
		return flagExclude("ingestion_timestamp", fmt.Sprintf("unparseable value %q", raw.IngestTimestamp))
	}

	point := models.PricePoint{
		Symbol:          raw.Symbol,
		VendorID:        raw.VendorID,
		TradeDate:       tradeDate,
		IngestTimestamp: ingestTS,
		RawFields:       raw.RawFields,
	}

	if raw.Price != "" && raw.Price != "null" {
		price, err := decimal.NewFromString(raw.Price)
		if err != nil {
			return flagExclude("price", fmt.Sprintf("unparseable value %q", raw.Price))
		}
		if !price.IsPositive() {
			return flagExclude("price", fmt.Sprintf("non-positive value %s", price))
		}
		point.Price = price
		point.HasPrice = true
	}

	var flags []models.QualityFlag
	if raw.Volume != "" && raw.Volume != "null" {
		volume, err := decimal.NewFromString(raw.Volume)
		if err != nil || volume.IsNegative() {
			// Volume is optional, so a bad value downgrades to a warning
			// instead of excluding the point.
			flags = append(flags, models.QualityFlag{
				Kind:      models.FlagMissingField,
				Severity:  models.SeverityWarn,
				Symbol:    raw.Symbol,
				VendorID:  raw.VendorID,
				TradeDate: tradeDate,
				Detail:    fmt.Sprintf("volume: invalid value %q dropped", raw.Volume),
			})
		} else {
			point.Volume = volume
			point.HasVolume = true
		}
	}

	return point, flags, true
}

func parseDate(value string) (time.Time, error) {
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, value); err == nil {
			return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC), nil
		}
	}
	return time.Time{}, fmt.Errorf("unparseable date %q", value)
}

func parseDateOrZero(value string) time.Time {
	t, err := parseDate(value)
	if err != nil {
		return time.Time{}
	}
	return t
}

func parseTimestamp(value string) (time.Time, error) {
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, value); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unparseable timestamp %q", value)
}
