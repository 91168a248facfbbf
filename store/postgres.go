// Package store persists run artifacts to Postgres. Results are
// regenerated every run and keyed by run ID, so rows are append-only.
package store

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"mdrecon/config"
	"mdrecon/logger"
	"mdrecon/models"
)

// BuildConnString assembles a postgres connection URL from configuration.
func BuildConnString(cfg config.PostgresConfig) string {
	sslMode := cfg.SSLMode
	if sslMode == "" {
		sslMode = "prefer"
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		url.QueryEscape(cfg.User),
		url.QueryEscape(cfg.Password),
		cfg.Host,
		cfg.Port,
		cfg.Name,
		sslMode,
	)
}

// Store wraps a pgx connection pool.
type Store struct {
	pool *pgxpool.Pool
	log  *logger.Log
}

func New(ctx context.Context, cfg config.PostgresConfig) (*Store, error) {
	log := logger.GetLogger()

	poolCfg, err := pgxpool.ParseConfig(BuildConnString(cfg))
	if err != nil {
		return nil, fmt.Errorf("parse postgres config: %w", err)
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = int32(cfg.MinConns)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = int32(cfg.MaxConns)
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("create postgres pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	log.WithComponent("store").WithFields(logger.Fields{
		"host":     cfg.Host,
		"database": cfg.Name,
	}).Info("postgres store connected")

	return &Store{pool: pool, log: log}, nil
}

func (s *Store) Close() {
	s.pool.Close()
}

// EnsureSchema creates the run artifact tables when they do not exist.
func (s *Store) EnsureSchema(ctx context.Context) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS quality_flags (
			id BIGSERIAL PRIMARY KEY,
			run_id TEXT NOT NULL,
			kind TEXT NOT NULL,
			severity TEXT NOT NULL,
			symbol TEXT NOT NULL,
			vendor_id TEXT NOT NULL,
			trade_date DATE NOT NULL,
			detail TEXT NOT NULL DEFAULT ''
		)`,
		`CREATE TABLE IF NOT EXISTS recon_results (
			id BIGSERIAL PRIMARY KEY,
			run_id TEXT NOT NULL,
			symbol TEXT NOT NULL,
			trade_date DATE NOT NULL,
			vendor_a TEXT NOT NULL,
			vendor_b TEXT NOT NULL,
			mode TEXT NOT NULL,
			value_a NUMERIC NOT NULL,
			value_b NUMERIC NOT NULL,
			delta NUMERIC NOT NULL,
			pct_delta NUMERIC,
			breached BOOLEAN NOT NULL,
			low_confidence BOOLEAN NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS coverage_gaps (
			id BIGSERIAL PRIMARY KEY,
			run_id TEXT NOT NULL,
			symbol TEXT NOT NULL,
			trade_date DATE NOT NULL,
			vendor_a TEXT NOT NULL,
			vendor_b TEXT NOT NULL,
			mode TEXT NOT NULL,
			reason TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS kpi_summaries (
			id BIGSERIAL PRIMARY KEY,
			run_id TEXT NOT NULL,
			vendor_a TEXT NOT NULL,
			vendor_b TEXT NOT NULL,
			symbol_scope TEXT NOT NULL,
			date_range_start DATE,
			date_range_end DATE,
			mode TEXT NOT NULL,
			count_compared INT NOT NULL,
			count_breached INT NOT NULL,
			breach_rate DOUBLE PRECISION NOT NULL,
			mean_abs_pct_delta NUMERIC NOT NULL,
			max_abs_pct_delta NUMERIC NOT NULL,
			coverage_ratio DOUBLE PRECISION NOT NULL,
			returns_correlation DOUBLE PRECISION
		)`,
		`CREATE INDEX IF NOT EXISTS idx_recon_results_run ON recon_results (run_id)`,
		`CREATE INDEX IF NOT EXISTS idx_quality_flags_run ON quality_flags (run_id)`,
	}

	for _, stmt := range statements {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}

// SaveRun writes all artifacts of the run in one transaction.
func (s *Store) SaveRun(ctx context.Context, report *models.RunReport) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := s.saveFlags(ctx, tx, report.RunID, report.Flags); err != nil {
		return err
	}
	if err := s.saveResults(ctx, tx, report.RunID, report.Results); err != nil {
		return err
	}
	if err := s.saveGaps(ctx, tx, report.RunID, report.Gaps); err != nil {
		return err
	}
	if err := s.saveSummaries(ctx, tx, report.RunID, report.Summaries); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit run %s: %w", report.RunID, err)
	}

	rows := len(report.Flags) + len(report.Results) + len(report.Gaps) + len(report.Summaries)
	s.log.WithComponent("store").WithFields(logger.Fields{
		"run_id": report.RunID,
		"rows":   rows,
	}).Info("run persisted")
	logger.IncrementReportWrite(rows)

	return nil
}

func (s *Store) saveFlags(ctx context.Context, tx pgx.Tx, runID string, flags []models.QualityFlag) error {
	batch := &pgx.Batch{}
	for _, f := range flags {
		batch.Queue(
			`INSERT INTO quality_flags (run_id, kind, severity, symbol, vendor_id, trade_date, detail)
			 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			runID, string(f.Kind), string(f.Severity), f.Symbol, f.VendorID, f.TradeDate, f.Detail,
		)
	}
	return sendBatch(ctx, tx, batch, "quality_flags")
}

func (s *Store) saveResults(ctx context.Context, tx pgx.Tx, runID string, results []models.ReconciliationResult) error {
	batch := &pgx.Batch{}
	for _, r := range results {
		var pctDelta any
		if r.PctDelta.Valid {
			pctDelta = r.PctDelta.Decimal
		}
		batch.Queue(
			`INSERT INTO recon_results (run_id, symbol, trade_date, vendor_a, vendor_b, mode,
			 value_a, value_b, delta, pct_delta, breached, low_confidence)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
			runID, r.Symbol, r.TradeDate, r.VendorA, r.VendorB, string(r.Mode),
			r.ValueA, r.ValueB, r.Delta, pctDelta, r.Breached, r.LowConfidence,
		)
	}
	return sendBatch(ctx, tx, batch, "recon_results")
}

func (s *Store) saveGaps(ctx context.Context, tx pgx.Tx, runID string, gaps []models.CoverageGap) error {
	batch := &pgx.Batch{}
	for _, g := range gaps {
		batch.Queue(
			`INSERT INTO coverage_gaps (run_id, symbol, trade_date, vendor_a, vendor_b, mode, reason)
			 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			runID, g.Symbol, g.TradeDate, g.VendorA, g.VendorB, string(g.Mode), string(g.Reason),
		)
	}
	return sendBatch(ctx, tx, batch, "coverage_gaps")
}

func (s *Store) saveSummaries(ctx context.Context, tx pgx.Tx, runID string, summaries []models.KPISummary) error {
	batch := &pgx.Batch{}
	for _, k := range summaries {
		var corr any
		if k.HasReturnsCorrelation {
			corr = k.ReturnsCorrelation
		}
		batch.Queue(
			`INSERT INTO kpi_summaries (run_id, vendor_a, vendor_b, symbol_scope,
			 date_range_start, date_range_end, mode, count_compared, count_breached,
			 breach_rate, mean_abs_pct_delta, max_abs_pct_delta, coverage_ratio, returns_correlation)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
			runID, k.VendorA, k.VendorB, k.SymbolScope,
			nullableDate(k.DateRangeStart), nullableDate(k.DateRangeEnd), string(k.Mode),
			k.CountCompared, k.CountBreached,
			k.BreachRate, k.MeanAbsPctDelta, k.MaxAbsPctDelta, k.CoverageRatio, corr,
		)
	}
	return sendBatch(ctx, tx, batch, "kpi_summaries")
}

func sendBatch(ctx context.Context, tx pgx.Tx, batch *pgx.Batch, table string) error {
	if batch.Len() == 0 {
		return nil
	}
	results := tx.SendBatch(ctx, batch)
	defer results.Close()
	for i := 0; i < batch.Len(); i++ {
		if _, err := results.Exec(); err != nil {
			return fmt.Errorf("insert into %s: %w", table, err)
		}
	}
	return results.Close()
}

func nullableDate(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t
}
