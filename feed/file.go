package feed

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"mdrecon/config"
	"mdrecon/logger"
	"mdrecon/models"
)

// FileConnector reads vendor dumps from disk: a CSV with a header row or
// a JSON array of objects. Values pass through as strings; the normalizer
// owns coercion and flagging.
type FileConnector struct {
	cfg config.FileFeedConfig
	log *logger.Log
}

func NewFileConnector(cfg config.FileFeedConfig) *FileConnector {
	return &FileConnector{cfg: cfg, log: logger.GetLogger()}
}

func (c *FileConnector) Name() string { return c.cfg.VendorID }

func (c *FileConnector) Fetch(ctx context.Context, symbol string) ([]models.RawPriceRecord, error) {
	if symbol != c.cfg.Symbol {
		return nil, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	log := c.log.WithComponent("file_feed").WithFields(logger.Fields{
		"vendor": c.cfg.VendorID,
		"symbol": symbol,
		"path":   c.cfg.Path,
	})

	var records []models.RawPriceRecord
	var err error
	switch c.cfg.Format {
	case "json":
		records, err = c.readJSON()
	default:
		records, err = c.readCSV()
	}
	if err != nil {
		log.WithError(err).Warn("failed to read vendor file")
		return nil, err
	}

	log.WithFields(logger.Fields{"records": len(records)}).Info("vendor file read")
	logger.IncrementFeedRead(len(records))

	return records, nil
}

func (c *FileConnector) readCSV() ([]models.RawPriceRecord, error) {
	f, err := os.Open(c.cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", c.cfg.Path, err)
	}
	defer f.Close()

	reader := csv.NewReader(f)
	reader.FieldsPerRecord = -1
	rows, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", c.cfg.Path, err)
	}
	if len(rows) < 2 {
		return nil, nil
	}

	header := rows[0]
	col := make(map[string]int, len(header))
	for i, name := range header {
		col[strings.ToLower(strings.TrimSpace(name))] = i
	}

	cell := func(row []string, name string) string {
		i, ok := col[name]
		if !ok || i >= len(row) {
			return ""
		}
		return strings.TrimSpace(row[i])
	}

	ingestTS := time.Now().UTC().Format(time.RFC3339Nano)
	records := make([]models.RawPriceRecord, 0, len(rows)-1)
	for _, row := range rows[1:] {
		rec := models.RawPriceRecord{
			Symbol:          c.cfg.Symbol,
			VendorID:        c.cfg.VendorID,
			TradeDate:       cell(row, "date"),
			Price:           cell(row, "price"),
			Volume:          cell(row, "volume"),
			IngestTimestamp: ingestTS,
		}
		// Some vendors ship OHLC files; take close as the observation.
		if rec.Price == "" {
			rec.Price = cell(row, "close")
		}
		records = append(records, rec)
	}
	return records, nil
}

type fileRecord struct {
	Date      string `json:"date"`
	Price     string `json:"price"`
	Volume    string `json:"volume"`
	Timestamp string `json:"timestamp"`
}

func (c *FileConnector) readJSON() ([]models.RawPriceRecord, error) {
	data, err := os.ReadFile(c.cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", c.cfg.Path, err)
	}

	var rows []fileRecord
	if err := json.Unmarshal(data, &rows); err != nil {
		return nil, fmt.Errorf("parse %s: %w", c.cfg.Path, err)
	}

	ingestTS := time.Now().UTC().Format(time.RFC3339Nano)
	records := make([]models.RawPriceRecord, 0, len(rows))
	for _, row := range rows {
		ts := row.Timestamp
		if ts == "" {
			ts = ingestTS
		}
		records = append(records, models.RawPriceRecord{
			Symbol:          c.cfg.Symbol,
			VendorID:        c.cfg.VendorID,
			TradeDate:       row.Date,
			Price:           row.Price,
			Volume:          row.Volume,
			IngestTimestamp: ts,
		})
	}
	return records, nil
}
