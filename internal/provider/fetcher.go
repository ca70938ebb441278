package provider

import (
	"context"
	"errors"
	"time"

	"github.com/wonny/metricengine/internal/contracts"
	"github.com/wonny/metricengine/internal/ratelimit"
	"github.com/wonny/metricengine/internal/telemetry"
	"github.com/wonny/metricengine/pkg/logger"
)

// Fetcher performs rate-limited, deadline-bounded provider calls and
// normalizes the responses.
type Fetcher struct {
	provider Provider
	limiter  *ratelimit.RateLimiter
	timeout  time.Duration
	metrics  *telemetry.Metrics
	logger   *logger.Logger
}

// NewFetcher creates a fetcher. metrics may be nil.
func NewFetcher(p Provider, limiter *ratelimit.RateLimiter, timeout time.Duration, metrics *telemetry.Metrics, log *logger.Logger) *Fetcher {
	return &Fetcher{
		provider: p,
		limiter:  limiter,
		timeout:  timeout,
		metrics:  metrics,
		logger:   log.WithField("module", "fetcher"),
	}
}

// Limiter exposes the shared rate limiter (batch sizing)
func (f *Fetcher) Limiter() *ratelimit.RateLimiter {
	return f.limiter
}

// Fetch retrieves and normalizes one endpoint for one ticker.
// Every failure is returned as *contracts.ExternalFetchError.
func (f *Fetcher) Fetch(ctx context.Context, ticker string, ep Endpoint) (*Payload, error) {
	if f.limiter != nil {
		if err := f.limiter.Acquire(ctx); err != nil {
			return nil, &contracts.ExternalFetchError{Ticker: ticker, Endpoint: ep.ID, Cause: err}
		}
		// 재시도는 httputil OnRetry hook에서 Acquire (NewLimitedClient)
		defer func() { f.metrics.SetRateUsage(f.limiter.UsagePercent()) }()
	}

	fetchCtx := ctx
	if f.timeout > 0 {
		var cancel context.CancelFunc
		fetchCtx, cancel = context.WithTimeout(ctx, f.timeout)
		defer cancel()
	}

	start := time.Now()
	payload, err := f.fetch(fetchCtx, ticker, ep)
	f.metrics.ObserveFetch(ep.ID, err, time.Since(start))

	if err != nil {
		f.logger.WithTicker(ticker).WithFields(map[string]interface{}{
			"endpoint": ep.ID,
			"error":    err.Error(),
		}).Warn("Provider fetch failed")
		return nil, err
	}

	return payload, nil
}

func (f *Fetcher) fetch(ctx context.Context, ticker string, ep Endpoint) (*Payload, error) {
	body, err := f.provider.Get(ctx, ticker, ep)
	if err != nil {
		var fetchErr *contracts.ExternalFetchError
		if errors.As(err, &fetchErr) {
			return nil, fetchErr
		}
		return nil, &contracts.ExternalFetchError{Ticker: ticker, Endpoint: ep.ID, Cause: err}
	}

	payload, err := Normalize(ep, body)
	if err != nil {
		return nil, &contracts.ExternalFetchError{Ticker: ticker, Endpoint: ep.ID, Cause: err}
	}

	return payload, nil
}
