package backtest

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sourcegraph/conc/pool"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"

	"github.com/coachpo/meltica-replay/internal/schema"
	"github.com/coachpo/meltica-replay/internal/telemetry"
)

// Runner is one independent backtest.
type Runner interface {
	Run(ctx context.Context) error
	Summary() (schema.Summary, bool)
}

// Job names a runner within a batch.
type Job struct {
	Name   string
	Runner Runner
}

// Result is the outcome of one batch job.
type Result struct {
	Name    string
	Summary schema.Summary
	Err     error
	Elapsed time.Duration
}

// RunBatch executes jobs with at most maxParallel running at once. Runs share no state, so a
// failing job does not stop the others. Results keep the order of jobs and the returned error
// joins every job failure. WithLogger and WithMeter apply; other options are ignored.
func RunBatch(ctx context.Context, jobs []Job, maxParallel int, opts ...Option) ([]Result, error) {
	results := make([]Result, len(jobs))
	if len(jobs) == 0 {
		return results, nil
	}
	if maxParallel <= 0 || maxParallel > len(jobs) {
		maxParallel = len(jobs)
	}
	options := executorConfig{logger: logrus.StandardLogger(), meter: otel.Meter(component)}
	for _, opt := range opts {
		opt(&options)
	}
	runs, _ := options.meter.Int64Counter(telemetry.MetricRuns,
		metric.WithDescription("Backtest runs completed by a batch"),
		metric.WithUnit("{run}"))
	runDuration, _ := options.meter.Float64Histogram(telemetry.MetricRunDuration,
		metric.WithDescription("Wall time of one backtest run"),
		metric.WithUnit("ms"))

	p := pool.New().WithMaxGoroutines(maxParallel)
	for idx, job := range jobs {
		i, j := idx, job
		results[i].Name = j.Name
		if j.Runner == nil {
			results[i].Err = fmt.Errorf("job %s: runner required", j.Name)
			continue
		}
		p.Go(func() {
			defer func() {
				if r := recover(); r != nil {
					results[i].Err = fmt.Errorf("job %s panic: %v", j.Name, r)
				}
			}()
			if err := ctx.Err(); err != nil {
				results[i].Err = fmt.Errorf("job %s: %w", j.Name, err)
				return
			}
			start := time.Now()
			err := j.Runner.Run(ctx)
			results[i].Elapsed = time.Since(start)
			if err != nil {
				results[i].Err = fmt.Errorf("job %s: %w", j.Name, err)
				return
			}
			if summary, ok := j.Runner.Summary(); ok {
				results[i].Summary = summary
			}
		})
	}
	p.Wait()

	var failures []error
	for _, res := range results {
		result := telemetry.ResultOK
		entry := options.logger.WithFields(logrus.Fields{
			"job":     res.Name,
			"elapsed": res.Elapsed.String(),
		})
		if res.Err != nil {
			result = telemetry.ResultError
			failures = append(failures, res.Err)
			entry.WithError(res.Err).Warn("backtest job failed")
		} else {
			entry.Info("backtest job finished")
		}
		attrs := metric.WithAttributes(telemetry.RunAttributes(res.Name, res.Summary.InstrumentID, result)...)
		runs.Add(ctx, 1, attrs)
		runDuration.Record(ctx, float64(res.Elapsed)/float64(time.Millisecond), attrs)
	}
	return results, errors.Join(failures...)
}
