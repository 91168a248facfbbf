package feed

import (
	"context"
	"fmt"
	"time"

	binance "github.com/adshao/go-binance/v2"
	"golang.org/x/time/rate"

	"mdrecon/config"
	"mdrecon/logger"
	"mdrecon/models"
)

// BinanceConnector fetches daily klines from Binance spot and emits one
// raw record per trading day, close price as the observation.
type BinanceConnector struct {
	cfg     config.ExchangeFeedConfig
	client  *binance.Client
	limiter *rate.Limiter
	log     *logger.Log
}

func NewBinanceConnector(appCfg *config.Config) *BinanceConnector {
	cfg := appCfg.Feeds.Binance

	client := binance.NewClient("", "")
	client.HTTPClient = newHTTPClient(cfg.ConnectionPool, appCfg.Feeds.Timeout)
	if cfg.URL != "" {
		client.BaseURL = cfg.URL
	}

	rps, burst := limiterSettings(cfg)

	log := logger.GetLogger()
	log.WithComponent("binance_feed").WithFields(logger.Fields{
		"lookback_days": lookback(cfg),
		"rps":           rps,
	}).Info("binance feed initialized")

	return &BinanceConnector{
		cfg:     cfg,
		client:  client,
		limiter: rate.NewLimiter(rate.Limit(rps), burst),
		log:     log,
	}
}

func (c *BinanceConnector) Name() string { return "binance" }

func (c *BinanceConnector) Fetch(ctx context.Context, symbol string) ([]models.RawPriceRecord, error) {
	log := c.log.WithComponent("binance_feed").WithFields(logger.Fields{
		"symbol":    symbol,
		"operation": "fetch_klines",
	})

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	start := time.Now()
	klines, err := c.client.NewKlinesService().
		Symbol(exchangeSymbol(c.cfg, symbol)).
		Interval("1d").
		Limit(lookback(c.cfg)).
		Do(ctx)
	if err != nil {
		log.WithError(err).Warn("failed to fetch klines")
		return nil, fmt.Errorf("binance klines for %s: %w", symbol, err)
	}
	logger.LogPerformanceEntry(log, "binance_feed", "api_request", time.Since(start), logger.Fields{
		"symbol": symbol,
	})

	ingestTS := time.Now().UTC().Format(time.RFC3339Nano)
	records := make([]models.RawPriceRecord, 0, len(klines))
	for _, k := range klines {
		records = append(records, models.RawPriceRecord{
			Symbol:          symbol,
			VendorID:        c.Name(),
			TradeDate:       time.UnixMilli(k.OpenTime).UTC().Format("2006-01-02"),
			Price:           k.Close,
			Volume:          k.Volume,
			IngestTimestamp: ingestTS,
			RawFields: map[string]string{
				"open": k.Open,
				"high": k.High,
				"low":  k.Low,
			},
		})
	}

	log.WithFields(logger.Fields{"records": len(records)}).Info("klines fetched")
	logger.IncrementFeedRead(len(records))

	return records, nil
}
