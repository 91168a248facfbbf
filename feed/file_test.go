package feed

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mdrecon/config"
)

func writeTempFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestFileConnectorReadsCSV(t *testing.T) {
	path := writeTempFile(t, "refdata.csv", "date,price,volume\n2024-03-01,100.5,12\n2024-03-02,101.25,\n")

	c := NewFileConnector(config.FileFeedConfig{
		VendorID: "refdata",
		Symbol:   "BTCUSDT",
		Format:   "csv",
		Path:     path,
	})
	assert.Equal(t, "refdata", c.Name())

	records, err := c.Fetch(context.Background(), "BTCUSDT")
	require.NoError(t, err)
	require.Len(t, records, 2)

	assert.Equal(t, "BTCUSDT", records[0].Symbol)
	assert.Equal(t, "refdata", records[0].VendorID)
	assert.Equal(t, "2024-03-01", records[0].TradeDate)
	assert.Equal(t, "100.5", records[0].Price)
	assert.Equal(t, "12", records[0].Volume)
	assert.NotEmpty(t, records[0].IngestTimestamp)

	assert.Equal(t, "", records[1].Volume)
}

func TestFileConnectorFallsBackToCloseColumn(t *testing.T) {
	path := writeTempFile(t, "ohlc.csv", "date,open,high,low,close\n2024-03-01,99,102,98,100.5\n")

	c := NewFileConnector(config.FileFeedConfig{
		VendorID: "ohlc",
		Symbol:   "BTCUSDT",
		Format:   "csv",
		Path:     path,
	})

	records, err := c.Fetch(context.Background(), "BTCUSDT")
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "100.5", records[0].Price)
}

func TestFileConnectorReadsJSON(t *testing.T) {
	path := writeTempFile(t, "dump.json",
		`[{"date":"2024-03-01","price":"100.5","volume":"7","timestamp":"2024-03-01T06:00:00Z"},
		  {"date":"2024-03-02","price":"101"}]`)

	c := NewFileConnector(config.FileFeedConfig{
		VendorID: "dump",
		Symbol:   "BTCUSDT",
		Format:   "json",
		Path:     path,
	})

	records, err := c.Fetch(context.Background(), "BTCUSDT")
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "2024-03-01T06:00:00Z", records[0].IngestTimestamp)
	assert.NotEmpty(t, records[1].IngestTimestamp)
}

func TestFileConnectorIgnoresOtherSymbols(t *testing.T) {
	c := NewFileConnector(config.FileFeedConfig{
		VendorID: "refdata",
		Symbol:   "BTCUSDT",
		Format:   "csv",
		Path:     "does-not-matter.csv",
	})

	records, err := c.Fetch(context.Background(), "ETHUSDT")
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestFileConnectorMissingFile(t *testing.T) {
	c := NewFileConnector(config.FileFeedConfig{
		VendorID: "refdata",
		Symbol:   "BTCUSDT",
		Format:   "csv",
		Path:     filepath.Join(t.TempDir(), "missing.csv"),
	})

	_, err := c.Fetch(context.Background(), "BTCUSDT")
	require.Error(t, err)
}

func TestBuildAssemblesEnabledConnectors(t *testing.T) {
	cfg := &config.Config{}
	cfg.Feeds.Binance.Enabled = true
	cfg.Feeds.Files = []config.FileFeedConfig{
		{VendorID: "refdata", Symbol: "BTCUSDT", Format: "csv", Path: "x.csv"},
	}

	connectors := Build(cfg)
	require.Len(t, connectors, 2)
	assert.Equal(t, "binance", connectors[0].Name())
	assert.Equal(t, "refdata", connectors[1].Name())
}
