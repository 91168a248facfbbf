package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	api "github.com/Kucoin/kucoin-universal-sdk/sdk/golang/pkg/api"
	spotmarket "github.com/Kucoin/kucoin-universal-sdk/sdk/golang/pkg/generate/spot/market"
	sdktype "github.com/Kucoin/kucoin-universal-sdk/sdk/golang/pkg/types"
	"golang.org/x/time/rate"

	"mdrecon/config"
	"mdrecon/logger"
	"mdrecon/models"
)

// KucoinConnector fetches daily spot klines from KuCoin through the
// universal SDK.
type KucoinConnector struct {
	cfg       config.ExchangeFeedConfig
	marketAPI spotmarket.MarketAPI
	limiter   *rate.Limiter
	log       *logger.Log
}

func NewKucoinConnector(appCfg *config.Config) *KucoinConnector {
	cfg := appCfg.Feeds.Kucoin

	baseURL := cfg.URL
	if baseURL == "" {
		baseURL = "https://api.kucoin.com"
	}

	timeout := appCfg.Feeds.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	transportOpt := sdktype.NewTransportOptionBuilder().
		SetMaxIdleConns(cfg.ConnectionPool.MaxIdleConns).
		SetMaxIdleConnsPerHost(cfg.ConnectionPool.MaxIdleConns).
		SetMaxConnsPerHost(cfg.ConnectionPool.MaxConnsPerHost).
		SetIdleConnTimeout(cfg.ConnectionPool.IdleConnTimeout).
		SetTimeout(timeout).
		Build()

	option := sdktype.NewClientOptionBuilder().
		WithSpotEndpoint(baseURL).
		WithTransportOption(transportOpt).
		Build()

	client := api.NewClient(option)
	marketAPI := client.RestService().GetSpotService().GetMarketAPI()

	rps, burst := limiterSettings(cfg)

	log := logger.GetLogger()
	log.WithComponent("kucoin_feed").WithFields(logger.Fields{
		"base_url":      baseURL,
		"lookback_days": lookback(cfg),
		"rps":           rps,
	}).Info("kucoin feed initialized")

	return &KucoinConnector{
		cfg:       cfg,
		marketAPI: marketAPI,
		limiter:   rate.NewLimiter(rate.Limit(rps), burst),
		log:       log,
	}
}

func (c *KucoinConnector) Name() string { return "kucoin" }

func (c *KucoinConnector) Fetch(ctx context.Context, symbol string) ([]models.RawPriceRecord, error) {
	log := c.log.WithComponent("kucoin_feed").WithFields(logger.Fields{
		"symbol":    symbol,
		"operation": "fetch_klines",
	})

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	days := lookback(c.cfg)
	end := time.Now().UTC()
	startAt := end.AddDate(0, 0, -days)

	req := spotmarket.NewGetKlinesReqBuilder().
		SetSymbol(exchangeSymbol(c.cfg, symbol)).
		SetType("1day").
		SetStartAt(startAt.Unix()).
		SetEndAt(end.Unix()).
		Build()

	start := time.Now()
	resp, err := c.marketAPI.GetKlines(req, ctx)
	if err != nil {
		log.WithError(err).Warn("failed to fetch klines")
		return nil, fmt.Errorf("kucoin klines for %s: %w", symbol, err)
	}
	logger.LogPerformanceEntry(log, "kucoin_feed", "api_request", time.Since(start), logger.Fields{
		"symbol": symbol,
	})

	// Kline rows are [time, open, close, high, low, volume, turnover]
	// as strings; decode through JSON to stay independent of the
	// generated model.
	payload, err := json.Marshal(resp)
	if err != nil {
		return nil, fmt.Errorf("kucoin kline payload for %s: %w", symbol, err)
	}
	var parsed struct {
		Data [][]string `json:"data"`
	}
	if err := json.Unmarshal(payload, &parsed); err != nil {
		return nil, fmt.Errorf("kucoin kline payload for %s: %w", symbol, err)
	}

	ingestTS := time.Now().UTC().Format(time.RFC3339Nano)
	records := make([]models.RawPriceRecord, 0, len(parsed.Data))
	for _, row := range parsed.Data {
		if len(row) < 6 {
			log.WithFields(logger.Fields{"columns": len(row)}).Warn("short kline row skipped")
			continue
		}
		sec, err := strconv.ParseInt(row[0], 10, 64)
		if err != nil {
			log.WithFields(logger.Fields{"start_time": row[0]}).Warn("bad kline start time skipped")
			continue
		}
		records = append(records, models.RawPriceRecord{
			Symbol:          symbol,
			VendorID:        c.Name(),
			TradeDate:       time.Unix(sec, 0).UTC().Format("2006-01-02"),
			Price:           row[2],
			Volume:          row[5],
			IngestTimestamp: ingestTS,
			RawFields: map[string]string{
				"open": row[1],
				"high": row[3],
				"low":  row[4],
			},
		})
	}

	log.WithFields(logger.Fields{"records": len(records)}).Info("klines fetched")
	logger.IncrementFeedRead(len(records))

	return records, nil
}
