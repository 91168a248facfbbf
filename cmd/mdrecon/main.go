package main

import (
	"context"
	"errors"
	"flag"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"mdrecon/config"
	"mdrecon/feed"
	"mdrecon/logger"
	"mdrecon/pipeline"
	"mdrecon/store"
	"mdrecon/writer"
)

func main() {
	log := logger.GetLogger()

	// Load environment variables from .env if present
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.WithError(err).Warn("Error loading .env file")
	}

	configPath := flag.String("config", "config/config.yml", "Path to configuration file")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.WithError(err).Error("Failed to load configuration")
		os.Exit(1)
	}

	if err := log.Configure(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.Output, cfg.Logging.MaxAge); err != nil {
		log.WithError(err).Error("Failed to configure logger")
		os.Exit(1)
	}

	log.WithFields(logger.Fields{
		"service": cfg.App.Name,
		"version": cfg.App.Version,
	}).Info("starting mdrecon")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go handleShutdown(log, cancel)

	if cfg.Storage.S3.Enabled {
		logger.InitCloudWatch(cfg.Storage.S3.Region, cfg.App.Name, cfg.Logging.DashboardName)
	}
	if strings.ToLower(cfg.Logging.Level) == "debug" {
		logger.StartReport(ctx, log, 30*time.Second)
	}

	connectors := feed.Build(cfg)
	if len(connectors) == 0 {
		log.Error("no feeds enabled, nothing to reconcile")
		os.Exit(1)
	}

	runner := pipeline.NewRunner(cfg, connectors)
	report, err := runner.Run(ctx)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			log.Warn("run cancelled, writing partial report")
		} else {
			log.WithError(err).Error("reconciliation run failed")
			os.Exit(1)
		}
	}

	for _, ue := range report.UnitErrors {
		log.WithError(ue.Err).WithFields(logger.Fields{"symbol": ue.Symbol}).Warn("work unit failed")
	}

	if cfg.Report.CSV {
		dir, err := writer.NewCSVWriter(cfg.Report.OutputDir).Write(report)
		if err != nil {
			log.WithError(err).Error("failed to write csv report")
			os.Exit(1)
		}
		log.WithFields(logger.Fields{"dir": dir}).Info("csv report written")
	}

	var parquetWriter *writer.ParquetWriter
	if cfg.Report.Parquet.Enabled {
		parquetWriter = writer.NewParquetWriter(cfg.Report.OutputDir, cfg.Report.Parquet.Compression)
		if _, err := parquetWriter.Write(report); err != nil {
			log.WithError(err).Error("failed to write parquet report")
			os.Exit(1)
		}
	}

	if cfg.Storage.S3.Enabled {
		if parquetWriter == nil {
			parquetWriter = writer.NewParquetWriter(cfg.Report.OutputDir, cfg.Report.Parquet.Compression)
		}
		uploader, err := writer.NewS3Uploader(ctx, cfg.Storage.S3)
		if err != nil {
			log.WithError(err).Error("failed to create S3 uploader")
			os.Exit(1)
		}
		if err := uploader.UploadRun(ctx, parquetWriter, report); err != nil {
			log.WithError(err).Error("failed to upload run artifacts")
			os.Exit(1)
		}
	}

	if cfg.Storage.Postgres.Enabled {
		db, err := store.New(ctx, cfg.Storage.Postgres)
		if err != nil {
			log.WithError(err).Error("failed to connect to postgres")
			os.Exit(1)
		}
		defer db.Close()
		if err := db.EnsureSchema(ctx); err != nil {
			log.WithError(err).Error("failed to ensure postgres schema")
			os.Exit(1)
		}
		if err := db.SaveRun(ctx, report); err != nil {
			log.WithError(err).Error("failed to persist run")
			os.Exit(1)
		}
	}

	logger.LogRunReport(ctx, log)
	log.WithFields(logger.Fields{"run_id": report.RunID}).Info("mdrecon finished")
}

func handleShutdown(log *logger.Log, cancel context.CancelFunc) {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigChan
	log.WithFields(logger.Fields{"signal": sig.String()}).Info("shutdown signal received")
	cancel()
}
