package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/wonny/metricengine/internal/definition"
	"github.com/wonny/metricengine/internal/engine"
)

// validateCmd represents the validate-defs command
var validateCmd = &cobra.Command{
	Use:   "validate-defs",
	Short: "metric 정의 검증",
	Long: `metric 정의 파일을 읽어 의존성 그래프와 실행 순서를 만들고
configuration error와 dependency cycle을 보고합니다. 네트워크/DB 접근 없음.

Example:
  go run ./cmd/metricengine validate-defs
  go run ./cmd/metricengine validate-defs --path configs/metrics.yaml --json`,
	RunE: runValidate,
}

var (
	validatePath string
	validateJSON bool
)

func init() {
	rootCmd.AddCommand(validateCmd)

	validateCmd.Flags().StringVar(&validatePath, "path", "", "정의 파일 경로 (default: ENGINE_DEFINITIONS_PATH)")
	validateCmd.Flags().BoolVar(&validateJSON, "json", false, "진단 결과를 JSON으로 출력")
}

func runValidate(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	path := cfg.Engine.DefinitionsPath
	if validatePath != "" {
		path = validatePath
	}

	cat, err := definition.NewFileStore(path).LoadCatalog(context.Background())
	if err != nil {
		return fmt.Errorf("load definitions: %w", err)
	}

	diag, err := engine.Diagnose(cat, newRegistry(cfg))
	if err != nil {
		return err
	}

	if validateJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(diag); err != nil {
			return err
		}
	} else {
		PrintDiagnostics(path, diag)
	}

	if !diag.OK() {
		return fmt.Errorf("definitions have %d configuration error(s), cycle=%v", len(diag.ConfigErrors), len(diag.Cycle) > 0)
	}
	fmt.Println("✅ Definitions valid")
	return nil
}
