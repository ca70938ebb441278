package redis

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wonny/metricengine/pkg/config"
)

func disabledClient(t *testing.T) *Client {
	t.Helper()
	client, err := New(context.Background(), &config.Config{
		Redis: config.RedisConfig{Enabled: false},
	})
	require.NoError(t, err)
	return client
}

func TestNewClient_Disabled(t *testing.T) {
	client := disabledClient(t)
	assert.False(t, client.Enabled())
	assert.NoError(t, client.Close())
}

func TestSlidingWindow_Disabled(t *testing.T) {
	window := NewSlidingWindow(disabledClient(t), "test", ProviderWindowName("fmp"), time.Minute)

	n, err := window.Record(context.Background(), time.Now())
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	n, err = window.Count(context.Background(), time.Now())
	require.NoError(t, err)
	assert.Equal(t, 0, n)
	assert.Equal(t, "test:window:provider:fmp", window.key)
}

func TestCache_Disabled(t *testing.T) {
	cache := NewCache(disabledClient(t), "test")

	var peers []string
	found, err := cache.Get(context.Background(), PeerGroupKey("AAPL"), &peers)
	require.NoError(t, err)
	assert.False(t, found, "Expected cache miss when Redis disabled")

	assert.NoError(t, cache.Set(context.Background(), PeerGroupKey("AAPL"), []string{"MSFT"}, TTLDaily))
}

func TestCacheKeys(t *testing.T) {
	tests := []struct {
		name     string
		fn       func() string
		expected string
	}{
		{"PeerGroupKey", func() string { return PeerGroupKey("AAPL") }, "peers:AAPL"},
		{"ProviderWindowName", func() string { return ProviderWindowName("fmp") }, "provider:fmp"},
		{"fullKey", func() string { return NewCache(&Client{}, "me").fullKey("peers:AAPL") }, "me:cache:peers:AAPL"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.fn())
		})
	}
}
