package config

import (
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	App      AppConfig      `yaml:"app"`
	Quality  QualityConfig  `yaml:"quality"`
	Recon    ReconConfig    `yaml:"reconciliation"`
	Pipeline PipelineConfig `yaml:"pipeline"`
	Feeds    FeedsConfig    `yaml:"feeds"`
	Report   ReportConfig   `yaml:"report"`
	Storage  StorageConfig  `yaml:"storage"`
	Logging  LoggingConfig  `yaml:"logging"`
}

type AppConfig struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`
}

// QualityConfig is the recognized option surface of the quality checks.
// Checks are independent; disabling one never changes the others.
type QualityConfig struct {
	DuplicateCheck    bool          `yaml:"duplicate_check"`
	MissingFieldCheck bool          `yaml:"missing_field_check"`
	LatencyThreshold  time.Duration `yaml:"latency_threshold"`
	RequiredFields    []string      `yaml:"required_fields"`
}

type VendorPair struct {
	VendorA string `yaml:"vendor_a"`
	VendorB string `yaml:"vendor_b"`
}

type ReconConfig struct {
	// Mode is "levels", "returns" or "both".
	Mode            string       `yaml:"mode"`
	BreachThreshold float64      `yaml:"breach_threshold"`
	Pairs           []VendorPair `yaml:"pairs"`
}

type PipelineConfig struct {
	MaxWorkers int      `yaml:"max_workers"`
	Symbols    []string `yaml:"symbols"`
}

type ConnectionPoolConfig struct {
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	MaxConnsPerHost int           `yaml:"max_conns_per_host"`
	IdleConnTimeout time.Duration `yaml:"idle_conn_timeout"`
}

type FeedsConfig struct {
	Timeout time.Duration      `yaml:"timeout"`
	Binance ExchangeFeedConfig `yaml:"binance"`
	Bybit   ExchangeFeedConfig `yaml:"bybit"`
	Kucoin  ExchangeFeedConfig `yaml:"kucoin"`
	Files   []FileFeedConfig   `yaml:"files"`
}

type ExchangeFeedConfig struct {
	Enabled           bool                 `yaml:"enabled"`
	URL               string               `yaml:"url"`
	LookbackDays      int                  `yaml:"lookback_days"`
	RequestsPerSecond int                  `yaml:"requests_per_second"`
	BurstSize         int                  `yaml:"burst_size"`
	SymbolMap         map[string]string    `yaml:"symbol_map"`
	ConnectionPool    ConnectionPoolConfig `yaml:"connection_pool"`
}

type FileFeedConfig struct {
	VendorID string `yaml:"vendor_id"`
	Symbol   string `yaml:"symbol"`
	Format   string `yaml:"format"` // csv or json
	Path     string `yaml:"path"`
}

type ReportConfig struct {
	OutputDir string        `yaml:"output_dir"`
	CSV       bool          `yaml:"csv"`
	Parquet   ParquetConfig `yaml:"parquet"`
}

type ParquetConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Compression string `yaml:"compression"`
}

type StorageConfig struct {
	S3       S3Config       `yaml:"s3"`
	Postgres PostgresConfig `yaml:"postgres"`
}

type S3Config struct {
	Enabled         bool   `yaml:"enabled"`
	Bucket          string `yaml:"bucket"`
	Region          string `yaml:"region"`
	Endpoint        string `yaml:"endpoint"`
	PathStyle       bool   `yaml:"path_style"`
	Prefix          string `yaml:"prefix"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
}

type PostgresConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Name     string `yaml:"name"`
	SSLMode  string `yaml:"ssl_mode"`
	MinConns int    `yaml:"min_conns"`
	MaxConns int    `yaml:"max_conns"`
}

type LoggingConfig struct {
	Level         string `yaml:"level"`
	Format        string `yaml:"format"`
	Output        string `yaml:"output"`
	MaxAge        int    `yaml:"max_age"`
	DashboardName string `yaml:"dashboard_name"`
}

func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := Config{
		Quality: QualityConfig{
			DuplicateCheck:    true,
			MissingFieldCheck: true,
			LatencyThreshold:  48 * time.Hour,
			RequiredFields:    []string{"symbol", "vendor_id", "trade_date", "price"},
		},
		Recon: ReconConfig{
			Mode: "both",
		},
		Pipeline: PipelineConfig{
			MaxWorkers: 4,
		},
		Report: ReportConfig{
			OutputDir: "data/output",
			CSV:       true,
		},
	}
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	// Override S3 settings from environment variables if available
	if config.Storage.S3.Enabled {
		if v := os.Getenv("AWS_ACCESS_KEY_ID"); v != "" {
			config.Storage.S3.AccessKeyID = strings.TrimSpace(v)
		}
		if v := os.Getenv("AWS_SECRET_ACCESS_KEY"); v != "" {
			config.Storage.S3.SecretAccessKey = strings.TrimSpace(v)
		}
		if v := os.Getenv("AWS_REGION"); v != "" {
			config.Storage.S3.Region = strings.TrimSpace(v)
		}
		if v := os.Getenv("S3_BUCKET"); v != "" {
			config.Storage.S3.Bucket = strings.TrimSpace(v)
		}
	}
	config.Storage.S3.Bucket = strings.TrimSpace(config.Storage.S3.Bucket)

	if config.Storage.Postgres.Enabled {
		if v := os.Getenv("PGPASSWORD"); v != "" {
			config.Storage.Postgres.Password = v
		}
	}

	if err := validateConfig(&config); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &config, nil
}

// validateConfig fails fast on an invalid configuration so no data is
// processed with bad thresholds or an unknown mode.
func validateConfig(cfg *Config) error {
	if cfg.App.Name == "" {
		return fmt.Errorf("app.name is required")
	}
	if cfg.App.Version == "" {
		return fmt.Errorf("app.version is required")
	}

	switch cfg.Recon.Mode {
	case "levels", "returns", "both":
	default:
		return fmt.Errorf("reconciliation.mode '%s' is invalid (want levels, returns or both)", cfg.Recon.Mode)
	}
	if cfg.Recon.BreachThreshold < 0 {
		return fmt.Errorf("reconciliation.breach_threshold must not be negative")
	}
	if len(cfg.Recon.Pairs) == 0 {
		return fmt.Errorf("reconciliation.pairs must list at least one vendor pair")
	}
	for _, p := range cfg.Recon.Pairs {
		if p.VendorA == "" || p.VendorB == "" {
			return fmt.Errorf("reconciliation.pairs entries need both vendor_a and vendor_b")
		}
		if p.VendorA == p.VendorB {
			return fmt.Errorf("reconciliation.pairs entry compares vendor '%s' with itself", p.VendorA)
		}
	}

	if cfg.Quality.LatencyThreshold < 0 {
		return fmt.Errorf("quality.latency_threshold must not be negative")
	}

	if cfg.Pipeline.MaxWorkers <= 0 {
		return fmt.Errorf("pipeline.max_workers must be greater than 0")
	}
	if len(cfg.Pipeline.Symbols) == 0 {
		return fmt.Errorf("pipeline.symbols must list at least one symbol")
	}

	for _, f := range cfg.Feeds.Files {
		if f.VendorID == "" || f.Symbol == "" || f.Path == "" {
			return fmt.Errorf("feeds.files entries need vendor_id, symbol and path")
		}
		if f.Format != "csv" && f.Format != "json" {
			return fmt.Errorf("feeds.files format '%s' is invalid (want csv or json)", f.Format)
		}
	}

	if cfg.Storage.S3.Enabled {
		if cfg.Storage.S3.Bucket == "" {
			return fmt.Errorf("storage.s3.bucket is required when S3 is enabled")
		}
		if cfg.Storage.S3.Region == "" {
			return fmt.Errorf("storage.s3.region is required when S3 is enabled")
		}
		if !isValidS3Bucket(cfg.Storage.S3.Bucket) {
			return fmt.Errorf("storage.s3.bucket '%s' is invalid", cfg.Storage.S3.Bucket)
		}
	}

	if cfg.Storage.Postgres.Enabled {
		if cfg.Storage.Postgres.Host == "" || cfg.Storage.Postgres.Name == "" || cfg.Storage.Postgres.User == "" {
			return fmt.Errorf("storage.postgres requires host, name and user when enabled")
		}
	}

	return nil
}

var s3BucketRegexp = regexp.MustCompile(`^[a-z0-9][a-z0-9.-]{1,61}[a-z0-9]$`)

func isValidS3Bucket(name string) bool {
	if len(name) < 3 || len(name) > 63 {
		return false
	}
	if strings.Contains(name, "..") || strings.HasPrefix(name, ".") || strings.HasSuffix(name, ".") {
		return false
	}
	return s3BucketRegexp.MatchString(name)
}
