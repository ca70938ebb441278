package main

import (
	"os"

	"github.com/wonny/metricengine/cmd/metricengine/commands"
)

// main is the entry point for the metric engine CLI
// ⭐ 통합 CLI 진입점: go run ./cmd/metricengine [command]
func main() {
	if err := commands.Execute(); err != nil {
		os.Exit(1)
	}
}
