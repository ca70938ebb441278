package provider

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/wonny/metricengine/internal/contracts"
	"github.com/wonny/metricengine/internal/ratelimit"
	"github.com/wonny/metricengine/pkg/httputil"
	"github.com/wonny/metricengine/pkg/logger"
)

// Provider returns the raw body of one endpoint for one ticker
type Provider interface {
	Get(ctx context.Context, ticker string, ep Endpoint) ([]byte, error)
}

// HTTPProvider calls a REST financial data provider
// ⭐ SSOT: 외부 데이터 provider 호출은 이 클라이언트에서만
type HTTPProvider struct {
	httpClient *httputil.Client
	logger     *logger.Logger
	baseURL    string
	apiKey     string
}

// NewHTTPProvider creates a provider client
func NewHTTPProvider(httpClient *httputil.Client, baseURL, apiKey string, log *logger.Logger) *HTTPProvider {
	return &HTTPProvider{
		httpClient: httpClient,
		logger:     log.WithField("module", "provider"),
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
	}
}

// NewLimitedClient makes every retry of httpClient acquire a slot in limiter,
// so the window counts each upstream attempt. The first attempt is acquired by Fetcher.
func NewLimitedClient(httpClient *httputil.Client, limiter *ratelimit.RateLimiter) *httputil.Client {
	if limiter == nil {
		return httpClient
	}
	return httpClient.OnRetry(limiter.Acquire)
}

// Get fetches the endpoint body
func (p *HTTPProvider) Get(ctx context.Context, ticker string, ep Endpoint) ([]byte, error) {
	q := ep.Query(ticker)
	if p.apiKey != "" {
		q.Set("apikey", p.apiKey)
	}

	path := ep.ResolvePath(ticker)
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	fullURL := p.baseURL + path
	if len(q) > 0 {
		fullURL = fmt.Sprintf("%s?%s", fullURL, q.Encode())
	}

	resp, err := p.httpClient.Get(ctx, fullURL)
	if err != nil {
		return nil, &contracts.ExternalFetchError{Ticker: ticker, Endpoint: ep.ID, Cause: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil, &contracts.ExternalFetchError{Ticker: ticker, Endpoint: ep.ID, StatusCode: resp.StatusCode}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &contracts.ExternalFetchError{
			Ticker:   ticker,
			Endpoint: ep.ID,
			Cause:    fmt.Errorf("failed to read response body: %w", err),
		}
	}

	return body, nil
}
