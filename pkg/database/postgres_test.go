package database

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wonny/metricengine/pkg/config"
)

func TestNew_RequiresURL(t *testing.T) {
	_, err := New(context.Background(), &config.Config{})
	assert.Error(t, err)
}

func TestHealthCheck(t *testing.T) {
	if os.Getenv("DATABASE_URL") == "" {
		t.Skip("DATABASE_URL not set, skipping integration test")
	}

	cfg, err := config.Load()
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	db, err := New(ctx, cfg)
	require.NoError(t, err)
	defer db.Close()

	status := db.HealthCheck(ctx)
	assert.True(t, status.Healthy)
	assert.Empty(t, status.Error)
}
