package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/wonny/metricengine/internal/batch"
	"github.com/wonny/metricengine/internal/contracts"
)

// computeCmd represents the compute command
var computeCmd = &cobra.Command{
	Use:   "compute",
	Short: "이벤트 metric 계산",
	Long: `metrics.events에서 이벤트를 읽어 계산하고 metrics.event_values에 저장합니다.

기본은 fill-nulls-only (이미 채워진 값 유지), --force는 덮어쓰기.
--scope로 저장 대상 metric을 제한할 수 있습니다.

Example:
  go run ./cmd/metricengine compute --from 2024-01-01 --to 2024-03-31
  go run ./cmd/metricengine compute --tickers AAPL,MSFT --metrics per,fair_value --force
  go run ./cmd/metricengine compute --tickers AAPL --dry-run --json`,
	RunE: runCompute,
}

var (
	computeFrom    string
	computeTo      string
	computeTickers string
	computeMetrics string
	computeScope   string
	computeForce   bool
	computeDryRun  bool
	computeJSON    bool
)

func init() {
	rootCmd.AddCommand(computeCmd)

	computeCmd.Flags().StringVar(&computeFrom, "from", "", "시작일 (YYYY-MM-DD)")
	computeCmd.Flags().StringVar(&computeTo, "to", "", "종료일 (YYYY-MM-DD)")
	computeCmd.Flags().StringVar(&computeTickers, "tickers", "", "ticker 목록 (comma separated)")
	computeCmd.Flags().StringVar(&computeMetrics, "metrics", "", "계산할 metric id (comma separated, default: 전체)")
	computeCmd.Flags().StringVar(&computeScope, "scope", "", "저장할 metric id (comma separated, default: 전체)")
	computeCmd.Flags().BoolVar(&computeForce, "force", false, "기존 값 덮어쓰기")
	computeCmd.Flags().BoolVar(&computeDryRun, "dry-run", false, "계산만 하고 저장하지 않음")
	computeCmd.Flags().BoolVar(&computeJSON, "json", false, "결과 전체를 JSON으로 출력")
}

// buildComputeRequest converts the flags into a batch request
func buildComputeRequest() (batch.Request, error) {
	req := batch.Request{
		Metrics: splitList(computeMetrics, false),
		DryRun:  computeDryRun,
		Policy: contracts.OverwritePolicy{
			Mode:  contracts.FillNullsOnly,
			Scope: splitList(computeScope, false),
		},
	}
	if computeForce {
		req.Policy.Mode = contracts.ForceOverwrite
	}

	req.Filter.Tickers = splitList(computeTickers, true)

	if computeFrom != "" {
		from, err := time.Parse(contracts.DateLayout, computeFrom)
		if err != nil {
			return req, fmt.Errorf("invalid --from: %w", err)
		}
		req.Filter.From = &from
	}
	if computeTo != "" {
		to, err := time.Parse(contracts.DateLayout, computeTo)
		if err != nil {
			return req, fmt.Errorf("invalid --to: %w", err)
		}
		req.Filter.To = &to
	}

	return req, nil
}

func splitList(s string, upper bool) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		if upper {
			part = strings.ToUpper(part)
		}
		out = append(out, part)
	}
	return out
}

func runCompute(cmd *cobra.Command, args []string) error {
	req, err := buildComputeRequest()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.close()

	PrintRunHeader(req)

	result, err := a.processor.Run(ctx, req)
	if err != nil {
		return fmt.Errorf("compute: %w", err)
	}

	if computeJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(result)
	}

	PrintSummary(result.Summary, req.DryRun)
	return nil
}
