package commands

import (
	"github.com/spf13/cobra"
)

var (
	// Global flags
	definitionsPath string
	verbose         bool
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "metricengine",
	Short: "Metric Computation Engine - 이벤트 기반 재무 지표 계산",
	Long: `Metric Computation Engine CLI

선언형 metric 정의(YAML)를 읽어 이벤트(ticker, date)별로
재무 지표, 적정가치, position/disparity를 계산하고 저장합니다.

Usage:
  go run ./cmd/metricengine [command]

Examples:
  go run ./cmd/metricengine compute --from 2024-01-01 --tickers AAPL,MSFT
  go run ./cmd/metricengine validate-defs --path configs/metrics.yaml
  go run ./cmd/metricengine api
  go run ./cmd/metricengine scheduler start`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&definitionsPath, "definitions", "", "metric 정의 파일 (default: ENGINE_DEFINITIONS_PATH)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
}
