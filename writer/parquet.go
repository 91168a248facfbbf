package writer

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/source"
	pqwriter "github.com/xitongsys/parquet-go/writer"

	"mdrecon/logger"
	"mdrecon/models"
)

// ResultParquetRecord is the parquet row layout of a reconciliation
// result. Null pct_delta is encoded as an optional column.
type ResultParquetRecord struct {
	Symbol        string   `parquet:"name=symbol, type=BYTE_ARRAY, convertedtype=UTF8"`
	TradeDate     string   `parquet:"name=trade_date, type=BYTE_ARRAY, convertedtype=UTF8"`
	VendorA       string   `parquet:"name=vendor_a, type=BYTE_ARRAY, convertedtype=UTF8"`
	VendorB       string   `parquet:"name=vendor_b, type=BYTE_ARRAY, convertedtype=UTF8"`
	Mode          string   `parquet:"name=mode, type=BYTE_ARRAY, convertedtype=UTF8"`
	ValueA        float64  `parquet:"name=value_a, type=DOUBLE"`
	ValueB        float64  `parquet:"name=value_b, type=DOUBLE"`
	Delta         float64  `parquet:"name=delta, type=DOUBLE"`
	PctDelta      *float64 `parquet:"name=pct_delta, type=DOUBLE, repetitiontype=OPTIONAL"`
	Breached      bool     `parquet:"name=breached, type=BOOLEAN"`
	LowConfidence bool     `parquet:"name=low_confidence, type=BOOLEAN"`
}

// FlagParquetRecord is the parquet row layout of a quality flag.
type FlagParquetRecord struct {
	Kind      string `parquet:"name=kind, type=BYTE_ARRAY, convertedtype=UTF8"`
	Severity  string `parquet:"name=severity, type=BYTE_ARRAY, convertedtype=UTF8"`
	Symbol    string `parquet:"name=symbol, type=BYTE_ARRAY, convertedtype=UTF8"`
	VendorID  string `parquet:"name=vendor_id, type=BYTE_ARRAY, convertedtype=UTF8"`
	TradeDate string `parquet:"name=trade_date, type=BYTE_ARRAY, convertedtype=UTF8"`
	Detail    string `parquet:"name=detail, type=BYTE_ARRAY, convertedtype=UTF8"`
}

// memoryFileWriter implements the ParquetFile interface over a byte
// buffer so files can be encoded without touching disk.
type memoryFileWriter struct {
	buffer *bytes.Buffer
}

func newMemoryFileWriter() *memoryFileWriter {
	return &memoryFileWriter{buffer: &bytes.Buffer{}}
}

func (mfw *memoryFileWriter) Create(name string) (source.ParquetFile, error) { return mfw, nil }
func (mfw *memoryFileWriter) Open(name string) (source.ParquetFile, error)  { return mfw, nil }

func (mfw *memoryFileWriter) Seek(offset int64, whence int) (int64, error) {
	// Write-only usage; the parquet writer never seeks backwards here.
	return int64(mfw.buffer.Len()), nil
}

func (mfw *memoryFileWriter) Read(b []byte) (int, error)  { return mfw.buffer.Read(b) }
func (mfw *memoryFileWriter) Write(b []byte) (int, error) { return mfw.buffer.Write(b) }
func (mfw *memoryFileWriter) Close() error                { return nil }
func (mfw *memoryFileWriter) Bytes() []byte               { return mfw.buffer.Bytes() }

// ParquetWriter encodes results and flags as parquet files under the
// run directory.
type ParquetWriter struct {
	outputDir   string
	compression string
	log         *logger.Log
}

func NewParquetWriter(outputDir, compression string) *ParquetWriter {
	return &ParquetWriter{outputDir: outputDir, compression: compression, log: logger.GetLogger()}
}

// Write encodes the run's results and flags and returns the file paths.
func (w *ParquetWriter) Write(report *models.RunReport) ([]string, error) {
	dir := filepath.Join(w.outputDir, report.RunID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create output dir %s: %w", dir, err)
	}

	log := w.log.WithComponent("parquet_writer").WithFields(logger.Fields{
		"run_id":      report.RunID,
		"compression": w.compression,
	})

	resultsData, err := w.EncodeResults(report.Results)
	if err != nil {
		return nil, err
	}
	flagsData, err := w.EncodeFlags(report.Flags)
	if err != nil {
		return nil, err
	}

	resultsPath := filepath.Join(dir, "results.parquet")
	if err := os.WriteFile(resultsPath, resultsData, 0o644); err != nil {
		return nil, fmt.Errorf("write %s: %w", resultsPath, err)
	}
	flagsPath := filepath.Join(dir, "flags.parquet")
	if err := os.WriteFile(flagsPath, flagsData, 0o644); err != nil {
		return nil, fmt.Errorf("write %s: %w", flagsPath, err)
	}

	log.WithFields(logger.Fields{
		"results_bytes": len(resultsData),
		"flags_bytes":   len(flagsData),
	}).Info("parquet report written")
	logger.IncrementReportWrite(len(resultsData) + len(flagsData))

	return []string{resultsPath, flagsPath}, nil
}

// EncodeResults renders reconciliation results as a parquet file in
// memory.
func (w *ParquetWriter) EncodeResults(results []models.ReconciliationResult) ([]byte, error) {
	fw := newMemoryFileWriter()
	pw, err := pqwriter.NewParquetWriter(fw, new(ResultParquetRecord), 4)
	if err != nil {
		return nil, fmt.Errorf("create parquet writer: %w", err)
	}
	pw.CompressionType = w.compressionCodec()

	for _, r := range results {
		var pctDelta *float64
		if r.PctDelta.Valid {
			v := r.PctDelta.Decimal.InexactFloat64()
			pctDelta = &v
		}
		record := ResultParquetRecord{
			Symbol:        r.Symbol,
			TradeDate:     r.TradeDate.Format(dateLayout),
			VendorA:       r.VendorA,
			VendorB:       r.VendorB,
			Mode:          string(r.Mode),
			ValueA:        r.ValueA.InexactFloat64(),
			ValueB:        r.ValueB.InexactFloat64(),
			Delta:         r.Delta.InexactFloat64(),
			PctDelta:      pctDelta,
			Breached:      r.Breached,
			LowConfidence: r.LowConfidence,
		}
		if err := pw.Write(record); err != nil {
			pw.WriteStop()
			return nil, fmt.Errorf("write parquet record: %w", err)
		}
	}

	if err := pw.WriteStop(); err != nil {
		return nil, fmt.Errorf("finalize parquet file: %w", err)
	}
	return fw.Bytes(), nil
}

// EncodeFlags renders quality flags as a parquet file in memory.
func (w *ParquetWriter) EncodeFlags(flags []models.QualityFlag) ([]byte, error) {
	fw := newMemoryFileWriter()
	pw, err := pqwriter.NewParquetWriter(fw, new(FlagParquetRecord), 4)
	if err != nil {
		return nil, fmt.Errorf("create parquet writer: %w", err)
	}
	pw.CompressionType = w.compressionCodec()

	for _, f := range flags {
		record := FlagParquetRecord{
			Kind:      string(f.Kind),
			Severity:  string(f.Severity),
			Symbol:    f.Symbol,
			VendorID:  f.VendorID,
			TradeDate: f.TradeDate.Format(dateLayout),
			Detail:    f.Detail,
		}
		if err := pw.Write(record); err != nil {
			pw.WriteStop()
			return nil, fmt.Errorf("write parquet record: %w", err)
		}
	}

	if err := pw.WriteStop(); err != nil {
		return nil, fmt.Errorf("finalize parquet file: %w", err)
	}
	return fw.Bytes(), nil
}

func (w *ParquetWriter) compressionCodec() parquet.CompressionCodec {
	switch w.compression {
	case "snappy":
		return parquet.CompressionCodec_SNAPPY
	case "gzip":
		return parquet.CompressionCodec_GZIP
	case "lzo":
		return parquet.CompressionCodec_LZO
	default:
		return parquet.CompressionCodec_UNCOMPRESSED
	}
}
