package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"time"

	bybit "github.com/bybit-exchange/bybit.go.api"
	"golang.org/x/time/rate"

	"mdrecon/config"
	"mdrecon/logger"
	"mdrecon/models"
)

// BybitConnector fetches daily spot klines from Bybit v5.
type BybitConnector struct {
	cfg     config.ExchangeFeedConfig
	client  *bybit.Client
	limiter *rate.Limiter
	log     *logger.Log
}

func NewBybitConnector(appCfg *config.Config) *BybitConnector {
	cfg := appCfg.Feeds.Bybit

	base := cfg.URL
	if parsed, err := url.Parse(cfg.URL); err == nil && parsed.Host != "" {
		base = fmt.Sprintf("%s://%s", parsed.Scheme, parsed.Host)
	}

	var client *bybit.Client
	if base != "" {
		client = bybit.NewBybitHttpClient("", "", bybit.WithBaseURL(base))
	} else {
		client = bybit.NewBybitHttpClient("", "")
	}
	client.HTTPClient = newHTTPClient(cfg.ConnectionPool, appCfg.Feeds.Timeout)

	rps, burst := limiterSettings(cfg)

	log := logger.GetLogger()
	log.WithComponent("bybit_feed").WithFields(logger.Fields{
		"lookback_days": lookback(cfg),
		"rps":           rps,
	}).Info("bybit feed initialized")

	return &BybitConnector{
		cfg:     cfg,
		client:  client,
		limiter: rate.NewLimiter(rate.Limit(rps), burst),
		log:     log,
	}
}

func (c *BybitConnector) Name() string { return "bybit" }

// klinePayload is the v5 market kline result shape: each list row is
// [startTime, open, high, low, close, volume, turnover] as strings.
type klinePayload struct {
	Symbol string     `json:"symbol"`
	List   [][]string `json:"list"`
}

func (c *BybitConnector) Fetch(ctx context.Context, symbol string) ([]models.RawPriceRecord, error) {
	log := c.log.WithComponent("bybit_feed").WithFields(logger.Fields{
		"symbol":    symbol,
		"operation": "fetch_klines",
	})

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	params := map[string]interface{}{
		"category": "spot",
		"symbol":   exchangeSymbol(c.cfg, symbol),
		"interval": "D",
		"limit":    lookback(c.cfg),
	}

	start := time.Now()
	resp, err := c.client.NewUtaBybitServiceWithParams(params).GetMarketKline(ctx)
	if err != nil {
		log.WithError(err).Warn("failed to fetch klines")
		return nil, fmt.Errorf("bybit klines for %s: %w", symbol, err)
	}
	logger.LogPerformanceEntry(log, "bybit_feed", "api_request", time.Since(start), logger.Fields{
		"symbol": symbol,
	})

	payload, err := json.Marshal(resp.Result)
	if err != nil {
		return nil, fmt.Errorf("bybit kline payload for %s: %w", symbol, err)
	}
	var parsed klinePayload
	if err := json.Unmarshal(payload, &parsed); err != nil {
		return nil, fmt.Errorf("bybit kline payload for %s: %w", symbol, err)
	}

	ingestTS := time.Now().UTC().Format(time.RFC3339Nano)
	records := make([]models.RawPriceRecord, 0, len(parsed.List))
	for _, row := range parsed.List {
		if len(row) < 6 {
			log.WithFields(logger.Fields{"columns": len(row)}).Warn("short kline row skipped")
			continue
		}
		ms, err := strconv.ParseInt(row[0], 10, 64)
		if err != nil {
			log.WithFields(logger.Fields{"start_time": row[0]}).Warn("bad kline start time skipped")
			continue
		}
		records = append(records, models.RawPriceRecord{
			Symbol:          symbol,
			VendorID:        c.Name(),
			TradeDate:       time.UnixMilli(ms).UTC().Format("2006-01-02"),
			Price:           row[4],
			Volume:          row[5],
			IngestTimestamp: ingestTS,
			RawFields: map[string]string{
				"open": row[1],
				"high": row[2],
				"low":  row[3],
			},
		})
	}

	log.WithFields(logger.Fields{"records": len(records)}).Info("klines fetched")
	logger.IncrementFeedRead(len(records))

	return records, nil
}
