package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wonny/metricengine/pkg/logger"
)

type testJob struct {
	name     string
	schedule string
	failures int32 // 처음 N번 실패
	calls    atomic.Int32
	block    chan struct{}
}

func (j *testJob) Name() string     { return j.name }
func (j *testJob) Schedule() string { return j.schedule }

func (j *testJob) Run(ctx context.Context) error {
	n := j.calls.Add(1)
	if j.block != nil {
		select {
		case <-j.block:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if n <= j.failures {
		return errors.New("transient")
	}
	return nil
}

func TestJobHistory(t *testing.T) {
	h := &JobHistory{}
	assert.Equal(t, 0.0, h.GetSuccessRate())
	assert.Empty(t, h.GetLatestResults(5))

	for i := 0; i < 120; i++ {
		h.AddResult(JobResult{JobName: "j", Success: i%4 != 0})
	}
	h.AddResult(JobResult{JobName: "j", Skipped: true})

	assert.Len(t, h.Results, historyLimit)
	assert.Len(t, h.GetLatestResults(3), 3)
	assert.True(t, h.GetLatestResults(1)[0].Skipped)
	assert.Len(t, h.GetFailedResults(), 24)
	assert.InDelta(t, 75.0/99.0, h.GetSuccessRate(), 1e-9)
}

func TestScheduler_AddRemove(t *testing.T) {
	s := New(logger.NewNop())

	require.NoError(t, s.AddJob(&testJob{name: "a", schedule: "0 30 6 * * *"}))
	require.NoError(t, s.AddJob(&testJob{name: "b", schedule: "@daily"}))
	assert.Error(t, s.AddJob(&testJob{name: "a", schedule: "@daily"}))
	assert.Error(t, s.AddJob(&testJob{name: "c", schedule: "not a cron"}))

	assert.Equal(t, []string{"a", "b"}, s.GetAllJobs())

	require.NoError(t, s.RemoveJob("a"))
	assert.Error(t, s.RemoveJob("a"))
	assert.Equal(t, []string{"b"}, s.GetAllJobs())
	assert.Len(t, s.cron.Entries(), 1)

	_, err := s.RunJobSync("a")
	assert.Error(t, err)
}

func TestScheduler_Retry(t *testing.T) {
	s := New(logger.NewNop(), WithRetry(2, time.Millisecond))

	flaky := &testJob{name: "flaky", schedule: "@daily", failures: 2}
	broken := &testJob{name: "broken", schedule: "@daily", failures: 100}
	require.NoError(t, s.AddJob(flaky))
	require.NoError(t, s.AddJob(broken))

	res, err := s.RunJobSync("flaky")
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, 3, res.Attempts)

	res, err = s.RunJobSync("broken")
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Equal(t, 3, res.Attempts)
	assert.Equal(t, "transient", res.Error)

	stats := s.GetJobStats()
	assert.Equal(t, 1, stats["flaky"].SuccessCount)
	assert.Equal(t, 1, stats["broken"].FailureCount)
	assert.NotNil(t, stats["broken"].LastFailure)
	assert.Nil(t, stats["broken"].LastSuccess)
}

func TestScheduler_SkipsOverlappingRun(t *testing.T) {
	s := New(logger.NewNop(), WithRetry(0, 0))
	job := &testJob{name: "slow", schedule: "@daily", block: make(chan struct{})}
	require.NoError(t, s.AddJob(job))

	require.NoError(t, s.RunJob("slow"))
	require.Eventually(t, func() bool { return job.calls.Load() == 1 }, time.Second, 5*time.Millisecond)

	res, err := s.RunJobSync("slow")
	require.NoError(t, err)
	assert.True(t, res.Skipped)

	close(job.block)
	require.Eventually(t, func() bool {
		h, _ := s.GetJobHistory("slow")
		return len(h.Results) == 2
	}, time.Second, 5*time.Millisecond)

	assert.Equal(t, int32(1), job.calls.Load())
}

func TestScheduler_StopCancelsRetries(t *testing.T) {
	s := New(logger.NewNop(), WithRetry(3, time.Hour))
	require.NoError(t, s.AddJob(&testJob{name: "broken", schedule: "@daily", failures: 100}))
	s.Start()

	done := make(chan JobResult)
	go func() {
		res, _ := s.RunJobSync("broken")
		done <- res
	}()

	time.Sleep(20 * time.Millisecond)
	s.Stop()

	select {
	case res := <-done:
		assert.False(t, res.Success)
		assert.Equal(t, 1, res.Attempts)
	case <-time.After(2 * time.Second):
		t.Fatal("retry wait was not cancelled by Stop")
	}
}
