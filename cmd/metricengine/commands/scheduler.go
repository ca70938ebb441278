package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/wonny/metricengine/internal/scheduler"
	"github.com/wonny/metricengine/internal/scheduler/jobs"
)

// schedulerCmd represents the scheduler command
var schedulerCmd = &cobra.Command{
	Use:   "scheduler",
	Short: "스케줄러 관리",
	Long: `정기 재계산 스케줄러를 시작하거나 작업을 즉시 실행합니다.

Subcommands:
  start   - 스케줄러 시작
  run     - 작업 즉시 실행 (완료까지 대기)

Example:
  go run ./cmd/metricengine scheduler start
  go run ./cmd/metricengine scheduler run metric_compute`,
}

var (
	schedulerStartCmd = &cobra.Command{
		Use:   "start",
		Short: "스케줄러 시작",
		Long: `스케줄러를 시작하고 등록된 작업을 스케줄합니다.

등록되는 작업:
- metric_compute: ENGINE_SCHEDULE (최근 ENGINE_LOOKBACK_DAYS일 이벤트, fill-nulls-only)

스케줄러는 Ctrl+C로 종료할 수 있습니다.`,
		RunE: runScheduler,
	}

	schedulerRunCmd = &cobra.Command{
		Use:   "run [job_name]",
		Short: "특정 작업 즉시 실행",
		Args:  cobra.ExactArgs(1),
		RunE:  runJob,
	}
)

func init() {
	rootCmd.AddCommand(schedulerCmd)
	schedulerCmd.AddCommand(schedulerStartCmd)
	schedulerCmd.AddCommand(schedulerRunCmd)
}

func runScheduler(cmd *cobra.Command, args []string) error {
	fmt.Println("=== Metric Engine Scheduler ===")

	a, sched, err := initScheduler()
	if err != nil {
		return fmt.Errorf("init scheduler: %w", err)
	}
	defer a.close()

	sched.Start()

	fmt.Println("\n✅ Scheduler started successfully")
	fmt.Println("\nRegistered jobs:")
	for name, stat := range sched.GetJobStats() {
		fmt.Printf("  - %s (%s)\n", name, stat.Schedule)
	}
	fmt.Println("\nPress Ctrl+C to stop")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	fmt.Println("\nShutting down scheduler...")
	sched.Stop()
	fmt.Println("Scheduler stopped")

	return nil
}

func runJob(cmd *cobra.Command, args []string) error {
	jobName := args[0]

	a, sched, err := initScheduler()
	if err != nil {
		return fmt.Errorf("init scheduler: %w", err)
	}
	defer a.close()

	fmt.Printf("Running job: %s\n", jobName)

	result, err := sched.RunJobSync(jobName)
	if err != nil {
		return fmt.Errorf("run job: %w", err)
	}
	if !result.Success {
		return fmt.Errorf("job %s failed after %d attempts: %s", jobName, result.Attempts, result.Error)
	}

	fmt.Printf("✅ Job %s completed in %.2fs\n", jobName, result.Duration.Seconds())
	return nil
}

func initScheduler() (*app, *scheduler.Scheduler, error) {
	a, err := newApp(context.Background())
	if err != nil {
		return nil, nil, err
	}

	sched := scheduler.New(a.log)
	job := jobs.NewComputeJob(a.processor, a.cfg.Engine.Schedule, a.cfg.Engine.LookbackDays, a.log)
	if err := sched.AddJob(job); err != nil {
		a.close()
		return nil, nil, err
	}

	return a, sched, nil
}
