// Package feed contains the vendor connectors that retrieve raw price
// records. Connectors are producers at the pipeline boundary: they do no
// normalization beyond mapping a vendor payload onto RawPriceRecord
// fields, so defective vendor data flows through to the normalizer where
// it is flagged instead of silently dropped.
package feed

import (
	"context"
	"net/http"
	"time"

	"mdrecon/config"
	"mdrecon/models"
)

// Connector fetches one symbol's raw records from a single vendor.
type Connector interface {
	Name() string
	Fetch(ctx context.Context, symbol string) ([]models.RawPriceRecord, error)
}

// Build assembles the enabled connectors from configuration.
func Build(cfg *config.Config) []Connector {
	var connectors []Connector
	if cfg.Feeds.Binance.Enabled {
		connectors = append(connectors, NewBinanceConnector(cfg))
	}
	if cfg.Feeds.Bybit.Enabled {
		connectors = append(connectors, NewBybitConnector(cfg))
	}
	if cfg.Feeds.Kucoin.Enabled {
		connectors = append(connectors, NewKucoinConnector(cfg))
	}
	for _, fc := range cfg.Feeds.Files {
		connectors = append(connectors, NewFileConnector(fc))
	}
	return connectors
}

func newHTTPClient(pool config.ConnectionPoolConfig, timeout time.Duration) *http.Client {
	transport := &http.Transport{
		MaxIdleConns:        pool.MaxIdleConns,
		MaxIdleConnsPerHost: pool.MaxIdleConns,
		MaxConnsPerHost:     pool.MaxConnsPerHost,
		IdleConnTimeout:     pool.IdleConnTimeout,
		DisableCompression:  false,
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &http.Client{Transport: transport, Timeout: timeout}
}

func exchangeSymbol(cfg config.ExchangeFeedConfig, symbol string) string {
	if mapped, ok := cfg.SymbolMap[symbol]; ok && mapped != "" {
		return mapped
	}
	return symbol
}

func lookback(cfg config.ExchangeFeedConfig) int {
	if cfg.LookbackDays > 0 {
		return cfg.LookbackDays
	}
	return 30
}

func limiterSettings(cfg config.ExchangeFeedConfig) (float64, int) {
	rps := float64(cfg.RequestsPerSecond)
	if rps <= 0 {
		rps = 5
	}
	burst := cfg.BurstSize
	if burst <= 0 {
		burst = 1
	}
	return rps, burst
}
