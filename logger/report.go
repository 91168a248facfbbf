package logger

import (
	"context"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"
)

type counterStat struct {
	events int64
	items  int64
}

var (
	feedReads       int64
	recordsIngested int64
	flagsRaised     int64
	resultsProduced int64
	gapsRecorded    int64
	reportWrites    int64
	componentWarns  sync.Map // map[string]*int64
	componentErrors sync.Map // map[string]*int64
	counters        sync.Map // map[string]*counterStat
)

func recordWarn(component string) {
	v, _ := componentWarns.LoadOrStore(component, new(int64))
	atomic.AddInt64(v.(*int64), 1)
}

func recordError(component string) {
	v, _ := componentErrors.LoadOrStore(component, new(int64))
	atomic.AddInt64(v.(*int64), 1)
}

// IncrementFeedRead counts one successful vendor feed fetch yielding the
// given number of raw records.
func IncrementFeedRead(records int) {
	atomic.AddInt64(&feedReads, 1)
	atomic.AddInt64(&recordsIngested, int64(records))
	recordCounter("feed_read", records)
}

// IncrementFlags counts quality flags raised by a run stage.
func IncrementFlags(n int) {
	atomic.AddInt64(&flagsRaised, int64(n))
	recordCounter("quality_flags", n)
}

// IncrementResults counts reconciliation results produced.
func IncrementResults(n int) {
	atomic.AddInt64(&resultsProduced, int64(n))
	recordCounter("recon_results", n)
}

// IncrementGaps counts coverage gaps recorded.
func IncrementGaps(n int) {
	atomic.AddInt64(&gapsRecorded, int64(n))
	recordCounter("coverage_gaps", n)
}

// IncrementReportWrite counts one report artifact written (CSV, parquet,
// S3 object or database batch) of the given size in bytes or rows.
func IncrementReportWrite(size int) {
	atomic.AddInt64(&reportWrites, 1)
	recordCounter("report_write", size)
}

func recordCounter(name string, items int) {
	v, _ := counters.LoadOrStore(name, &counterStat{})
	cs := v.(*counterStat)
	atomic.AddInt64(&cs.events, 1)
	atomic.AddInt64(&cs.items, int64(items))
}

// StartReport begins periodic logging of pipeline statistics until the
// context is cancelled.
func StartReport(ctx context.Context, log *Log, interval time.Duration) {
	ticker := time.NewTicker(interval)
	go func() {
		for {
			select {
			case <-ctx.Done():
				ticker.Stop()
				return
			case <-ticker.C:
				logReport(ctx, log)
			}
		}
	}()
}

// LogRunReport emits one final statistics report, used at the end of a
// batch run where the periodic ticker may never have fired.
func LogRunReport(ctx context.Context, log *Log) {
	logReport(ctx, log)
}

func logReport(ctx context.Context, log *Log) {
	counterData := map[string]map[string]int64{}
	counters.Range(func(k, v any) bool {
		cs := v.(*counterStat)
		counterData[k.(string)] = map[string]int64{
			"events": atomic.LoadInt64(&cs.events),
			"items":  atomic.LoadInt64(&cs.items),
		}
		return true
	})

	warnTotal := int64(0)
	componentWarns.Range(func(_, v any) bool {
		warnTotal += atomic.LoadInt64(v.(*int64))
		return true
	})
	errorTotal := int64(0)
	componentErrors.Range(func(_, v any) bool {
		errorTotal += atomic.LoadInt64(v.(*int64))
		return true
	})

	fields := Fields{
		"feed_reads":       atomic.LoadInt64(&feedReads),
		"records_ingested": atomic.LoadInt64(&recordsIngested),
		"flags_raised":     atomic.LoadInt64(&flagsRaised),
		"results_produced": atomic.LoadInt64(&resultsProduced),
		"gaps_recorded":    atomic.LoadInt64(&gapsRecorded),
		"report_writes":    atomic.LoadInt64(&reportWrites),
		"warns":            warnTotal,
		"errors":           errorTotal,
		"goroutines":       runtime.NumGoroutine(),
		"counters":         counterData,
	}

	log.WithComponent("report").WithFields(fields).Info("pipeline report")

	data := []cwtypes.MetricDatum{
		{MetricName: aws.String("FeedReads"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(atomic.LoadInt64(&feedReads)))},
		{MetricName: aws.String("RecordsIngested"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(atomic.LoadInt64(&recordsIngested)))},
		{MetricName: aws.String("FlagsRaised"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(atomic.LoadInt64(&flagsRaised)))},
		{MetricName: aws.String("ResultsProduced"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(atomic.LoadInt64(&resultsProduced)))},
		{MetricName: aws.String("CoverageGaps"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(atomic.LoadInt64(&gapsRecorded)))},
		{MetricName: aws.String("ReportWrites"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(atomic.LoadInt64(&reportWrites)))},
		{MetricName: aws.String("Warns"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(warnTotal))},
		{MetricName: aws.String("Errors"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(errorTotal))},
	}

	publishMetrics(ctx, data)
}
