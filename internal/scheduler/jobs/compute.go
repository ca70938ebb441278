package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/wonny/metricengine/internal/batch"
	"github.com/wonny/metricengine/internal/contracts"
	"github.com/wonny/metricengine/pkg/logger"
)

// Runner runs one batch request end to end
type Runner interface {
	Run(ctx context.Context, req batch.Request) (*contracts.BatchResult, error)
}

// ComputeJob recomputes the trailing window of events, filling only missing values
type ComputeJob struct {
	runner       Runner
	schedule     string
	lookbackDays int
	now          func() time.Time
	logger       *logger.Logger
}

// NewComputeJob creates a new compute job
func NewComputeJob(runner Runner, schedule string, lookbackDays int, log *logger.Logger) *ComputeJob {
	if lookbackDays <= 0 {
		lookbackDays = 7
	}
	return &ComputeJob{
		runner:       runner,
		schedule:     schedule,
		lookbackDays: lookbackDays,
		now:          time.Now,
		logger:       log,
	}
}

// Name returns the job name
func (j *ComputeJob) Name() string {
	return "metric_compute"
}

// Schedule returns the cron schedule
func (j *ComputeJob) Schedule() string {
	return j.schedule
}

// Request builds the batch request for the current window
func (j *ComputeJob) Request() batch.Request {
	to := contracts.DateOnly(j.now())
	from := to.AddDate(0, 0, -j.lookbackDays)

	return batch.Request{
		Filter: contracts.EventFilter{From: &from, To: &to},
		Policy: contracts.OverwritePolicy{Mode: contracts.FillNullsOnly},
	}
}

// Run executes the computation.
// Partial ticker failures are reported but only a run where every ticker failed is retried.
func (j *ComputeJob) Run(ctx context.Context) error {
	req := j.Request()

	j.logger.WithFields(map[string]interface{}{
		"from": req.Filter.From.Format(contracts.DateLayout),
		"to":   req.Filter.To.Format(contracts.DateLayout),
	}).Info("Starting scheduled metric computation")

	result, err := j.runner.Run(ctx, req)
	if err != nil {
		return fmt.Errorf("compute batch: %w", err)
	}

	s := result.Summary
	j.logger.WithFields(map[string]interface{}{
		"ok":            s.OK,
		"fail":          s.Fail,
		"persisted":     s.Persisted,
		"config_errors": len(s.ConfigErrors),
		"duration":      s.Duration,
	}).Info("Scheduled metric computation completed")

	if s.OK == 0 && s.Fail > 0 {
		return fmt.Errorf("all %d tickers failed", s.Fail)
	}
	return nil
}
