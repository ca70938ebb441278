package provider

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wonny/metricengine/internal/contracts"
	"github.com/wonny/metricengine/internal/ratelimit"
	"github.com/wonny/metricengine/internal/telemetry"
	"github.com/wonny/metricengine/pkg/config"
	"github.com/wonny/metricengine/pkg/httputil"
	"github.com/wonny/metricengine/pkg/logger"
)

type stubProvider struct {
	calls atomic.Int32
	body  string
	err   error
	delay time.Duration
}

func (s *stubProvider) Get(ctx context.Context, ticker string, ep Endpoint) ([]byte, error) {
	s.calls.Add(1)
	if s.delay > 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(s.delay):
		}
	}
	if s.err != nil {
		return nil, s.err
	}
	return []byte(s.body), nil
}

func newTestFetcher(p Provider, timeout time.Duration) *Fetcher {
	limiter := ratelimit.New(1000, ratelimit.WithoutPacing())
	return NewFetcher(p, limiter, timeout, telemetry.New(), logger.NewNop())
}

func TestFetcher_Fetch(t *testing.T) {
	stub := &stubProvider{body: `[{"symbol":"AAPL","price":190.1}]`}
	f := newTestFetcher(stub, time.Second)

	p, err := f.Fetch(context.Background(), "AAPL", Endpoint{ID: "quote", Kind: KindObject})
	require.NoError(t, err)

	price, ok := p.Object.Float("price")
	require.True(t, ok)
	assert.Equal(t, 190.1, price)
	assert.Equal(t, 1, f.Limiter().Count())
}

func TestFetcher_Errors(t *testing.T) {
	tests := []struct {
		name        string
		stub        *stubProvider
		timeout     time.Duration
		wantTimeout bool
		wantIs      error
	}{
		{
			name:        "deadline",
			stub:        &stubProvider{body: `[]`, delay: 200 * time.Millisecond},
			timeout:     10 * time.Millisecond,
			wantTimeout: true,
		},
		{
			name:    "malformed",
			stub:    &stubProvider{body: `{"Error Message":"limit"}`},
			timeout: time.Second,
			wantIs:  contracts.ErrMalformedPayload,
		},
		{
			name:    "transport",
			stub:    &stubProvider{err: errors.New("connection reset")},
			timeout: time.Second,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newTestFetcher(tt.stub, tt.timeout)

			_, err := f.Fetch(context.Background(), "AAPL", Endpoint{ID: "income", Kind: KindSeries})
			require.Error(t, err)

			var fetchErr *contracts.ExternalFetchError
			require.True(t, errors.As(err, &fetchErr))
			assert.Equal(t, "income", fetchErr.Endpoint)
			assert.Equal(t, "AAPL", fetchErr.Ticker)
			assert.Equal(t, tt.wantTimeout, fetchErr.Timeout())
			if tt.wantIs != nil {
				assert.ErrorIs(t, err, tt.wantIs)
			}
		})
	}
}

func TestFetcher_RetriesCountAgainstWindow(t *testing.T) {
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) < 3 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		_, _ = w.Write([]byte(`[{"symbol":"AAPL","price":190.1}]`))
	}))
	defer server.Close()

	limiter := ratelimit.New(1000, ratelimit.WithoutPacing())
	cfg := &config.Config{Provider: config.ProviderConfig{Timeout: time.Second}}
	client := NewLimitedClient(httputil.New(cfg, logger.NewNop()).WithRetry(2, time.Millisecond), limiter)
	p := NewHTTPProvider(client, server.URL, "", logger.NewNop())
	f := NewFetcher(p, limiter, time.Second, telemetry.New(), logger.NewNop())

	_, err := f.Fetch(context.Background(), "AAPL", Endpoint{ID: "quote", Path: "quote/{ticker}", Kind: KindObject})
	require.NoError(t, err)

	assert.Equal(t, int32(3), hits.Load())
	assert.Equal(t, int(hits.Load()), limiter.Count())
}

func TestHTTPProvider_Get(t *testing.T) {
	var gotPath, gotKey, gotPeriod string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotKey = r.URL.Query().Get("apikey")
		gotPeriod = r.URL.Query().Get("period")
		if r.URL.Path == "/income-statement/FAIL" {
			w.WriteHeader(http.StatusForbidden)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`[{"date":"2024-03-30","revenue":1}]`))
	}))
	defer server.Close()

	cfg := &config.Config{Provider: config.ProviderConfig{Timeout: time.Second}}
	client := httputil.New(cfg, logger.NewNop()).DisableRetry()
	p := NewHTTPProvider(client, server.URL+"/", "secret", logger.NewNop())

	ep := Endpoint{ID: "income", Path: "income-statement/{ticker}", Kind: KindSeries, Params: map[string]string{"period": "quarter"}}

	body, err := p.Get(context.Background(), "AAPL", ep)
	require.NoError(t, err)
	assert.Contains(t, string(body), "revenue")
	assert.Equal(t, "/income-statement/AAPL", gotPath)
	assert.Equal(t, "secret", gotKey)
	assert.Equal(t, "quarter", gotPeriod)

	_, err = p.Get(context.Background(), "FAIL", ep)
	var fetchErr *contracts.ExternalFetchError
	require.True(t, errors.As(err, &fetchErr))
	assert.Equal(t, http.StatusForbidden, fetchErr.StatusCode)
}
