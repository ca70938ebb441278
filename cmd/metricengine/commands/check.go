package commands

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/spf13/cobra"

	"github.com/wonny/metricengine/internal/definition"
	"github.com/wonny/metricengine/pkg/database"
	"github.com/wonny/metricengine/pkg/redis"
)

// checkCmd represents the check command
var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "의존 서비스 연결 점검",
	Long: `PostgreSQL, Redis, metric 정의 파일을 점검합니다.

이 명령어는:
- config에서 DATABASE_URL 로드
- 데이터베이스 연결 및 Health Check
- Redis 연결 (REDIS_ENABLED일 때)
- metric 정의 로드

Example:
  go run ./cmd/metricengine check`,
	RunE: runCheck,
}

func init() {
	rootCmd.AddCommand(checkCmd)
}

func runCheck(cmd *cobra.Command, args []string) error {
	fmt.Println("=== Metric Engine Dependency Check ===")

	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("❌ Failed to load config: %w", err)
	}
	fmt.Printf("✅ Config loaded (ENV: %s)\n", cfg.Env)
	fmt.Printf("   Database URL: %s\n\n", maskPassword(cfg.Database.URL))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	fmt.Println("Connecting to database...")
	db, err := database.New(ctx, cfg)
	if err != nil {
		return fmt.Errorf("❌ Failed to connect to database: %w", err)
	}
	defer db.Close()

	status := db.HealthCheck(ctx)
	if !status.Healthy {
		return fmt.Errorf("❌ Health check failed: %s", status.Error)
	}
	fmt.Println("✅ Database healthy")
	fmt.Printf("   Response Time: %v\n", status.ResponseTime)
	fmt.Printf("   Connections: %d total / %d idle\n\n", status.TotalConns, status.IdleConns)

	if cfg.Redis.Enabled {
		fmt.Println("Connecting to redis...")
		rc, err := redis.New(ctx, cfg)
		if err != nil {
			return fmt.Errorf("❌ Failed to connect to redis: %w", err)
		}
		defer rc.Close()
		fmt.Printf("✅ Redis connected (%s:%s)\n\n", cfg.Redis.Host, cfg.Redis.Port)
	} else {
		fmt.Println("⏭  Redis disabled (REDIS_ENABLED=false)")
		fmt.Println()
	}

	cat, err := definition.NewFileStore(cfg.Engine.DefinitionsPath).LoadCatalog(ctx)
	if err != nil {
		return fmt.Errorf("❌ Failed to load definitions: %w", err)
	}
	fmt.Printf("✅ Definitions loaded: %d metrics, %d endpoints (%s)\n", len(cat.Metrics), len(cat.Endpoints), shortHash(cat.Hash))

	fmt.Println("\n✅ All checks passed!")
	return nil
}

// maskPassword hides the password in the database URL for display
func maskPassword(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return "***"
	}
	return u.Redacted()
}
