package commands

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/wonny/metricengine/internal/batch"
	"github.com/wonny/metricengine/internal/contracts"
	"github.com/wonny/metricengine/internal/engine"
)

// ═══════════════════════════════════════════════════════════
// Common Formatting Utilities
// 모든 커맨드가 동일한 출력 포맷을 사용하도록 통일
// ═══════════════════════════════════════════════════════════

// PrintRunHeader prints a formatted batch header
func PrintRunHeader(req batch.Request) {
	fmt.Println()
	PrintDoubleSeparator()
	fmt.Println("  Metric Computation")
	PrintSeparator()

	period := "all"
	if req.Filter.From != nil || req.Filter.To != nil {
		period = fmt.Sprintf("%s ~ %s", formatDate(req.Filter.From), formatDate(req.Filter.To))
	}
	fmt.Printf("  Period    : %s\n", period)

	if len(req.Filter.Tickers) > 0 {
		fmt.Printf("  Tickers   : %s\n", strings.Join(req.Filter.Tickers, ","))
	}
	if len(req.Metrics) > 0 {
		fmt.Printf("  Metrics   : %s\n", strings.Join(req.Metrics, ","))
	}
	fmt.Printf("  Overwrite : %s", req.Policy.Mode)
	if len(req.Policy.Scope) > 0 {
		fmt.Printf(" (scope: %s)", strings.Join(req.Policy.Scope, ","))
	}
	fmt.Println()
	PrintSeparator()
}

// PrintSummary prints the batch summary
func PrintSummary(s contracts.BatchSummary, dryRun bool) {
	fmt.Println()
	fmt.Printf("  Tickers   : %d ok / %d fail\n", s.OK, s.Fail)
	if dryRun {
		fmt.Println("  Persisted : (dry run)")
	} else {
		fmt.Printf("  Persisted : %d\n", s.Persisted)
	}
	fmt.Printf("  Catalog   : %s\n", shortHash(s.CatalogHash))

	for _, name := range sortedKeys(s.Domains) {
		d := s.Domains[name]
		if d.Status != contracts.TickerOK {
			PrintWarning(fmt.Sprintf("domain %s skipped: %s", name, d.Error))
		}
	}

	for _, msg := range s.ConfigErrors {
		PrintWarning(msg)
	}

	for _, t := range s.Tickers {
		if t.Status == contracts.TickerFail {
			fmt.Printf("  ❌ %-8s %d events: %s\n", t.Ticker, t.Events, t.Error)
		}
	}

	fmt.Println()
	fmt.Printf("✅ Completed in %.2fs\n", s.Duration.Seconds())
}

// PrintDiagnostics prints the offline catalog report
func PrintDiagnostics(path string, d *engine.Diagnostics) {
	fmt.Println()
	PrintDoubleSeparator()
	fmt.Printf("  Definitions: %s\n", path)
	PrintSeparator()
	fmt.Printf("  Metrics   : %d (%d scheduled)\n", d.Metrics, len(d.Order))
	fmt.Printf("  Endpoints : %s\n", strings.Join(d.Endpoints, ", "))
	if len(d.Mandatory) > 0 {
		fmt.Printf("  Mandatory : %s\n", strings.Join(d.Mandatory, ", "))
	}
	fmt.Printf("  Catalog   : %s\n", shortHash(d.CatalogHash))

	for _, name := range sortedKeys(d.Domains) {
		status := "✅"
		if d.Domains[name].Status != contracts.TickerOK {
			status = "❌"
		}
		fmt.Printf("  %s %s\n", status, name)
	}

	if len(d.Cycle) > 0 {
		PrintWarning("dependency cycle: " + strings.Join(d.Cycle, " → "))
	}
	for _, msg := range d.ConfigErrors {
		PrintWarning(msg)
	}
	PrintSeparator()
}

// PrintSeparator prints a visual separator
func PrintSeparator() {
	fmt.Println("───────────────────────────────────────────────────────────")
}

// PrintDoubleSeparator prints a double-line separator
func PrintDoubleSeparator() {
	fmt.Println("═══════════════════════════════════════════════════════════")
}

// PrintWarning prints a warning message
func PrintWarning(message string) {
	fmt.Printf("⚠️  %s\n", message)
}

func formatDate(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return t.Format(contracts.DateLayout)
}

func shortHash(h string) string {
	if len(h) > 12 {
		return h[:12]
	}
	return h
}

func sortedKeys(m map[string]contracts.DomainSummary) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
