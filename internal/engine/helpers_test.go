package engine

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/wonny/metricengine/internal/contracts"
	"github.com/wonny/metricengine/internal/definition"
	"github.com/wonny/metricengine/internal/fetchcache"
	"github.com/wonny/metricengine/internal/provider"
	"github.com/wonny/metricengine/pkg/logger"
)

// fakeFetcher serves canned JSON bodies keyed "TICKER|endpoint"
type fakeFetcher struct {
	mu     sync.Mutex
	bodies map[string]string
	fail   map[string]bool
	calls  map[string]int
}

func newFakeFetcher(bodies map[string]string) *fakeFetcher {
	return &fakeFetcher{bodies: bodies, fail: map[string]bool{}, calls: map[string]int{}}
}

func (f *fakeFetcher) Fetch(ctx context.Context, ticker string, ep provider.Endpoint) (*provider.Payload, error) {
	key := ticker + "|" + ep.ID

	f.mu.Lock()
	f.calls[key]++
	body, ok := f.bodies[key]
	failed := f.fail[key]
	f.mu.Unlock()

	if failed {
		return nil, &contracts.ExternalFetchError{Ticker: ticker, Endpoint: ep.ID, StatusCode: 503}
	}
	if !ok {
		body = "[]"
		if ep.Kind == provider.KindObject {
			body = "{}"
		}
	}
	return provider.Normalize(ep, []byte(body))
}

func (f *fakeFetcher) Calls(key string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[key]
}

func (f *fakeFetcher) TotalCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		n += c
	}
	return n
}

func mustCatalog(t *testing.T, yaml string) *definition.Catalog {
	t.Helper()
	cat, err := definition.Parse([]byte(yaml))
	require.NoError(t, err)
	return cat
}

func mustPlan(t *testing.T, cat *definition.Catalog, requested []string, calcs ...Calculator) *Plan {
	t.Helper()
	plan, err := NewPlan(cat, requested, NewRegistry(calcs...))
	require.NoError(t, err)
	return plan
}

func newTickerContext(plan *Plan, f *fakeFetcher, ticker string) *TickerContext {
	store := fetchcache.NewStore(f, nil, logger.NewNop())
	return NewTickerContext(context.Background(), plan, store, ticker, logger.NewNop())
}

func date(s string) time.Time {
	t, err := time.Parse(contracts.DateLayout, s)
	if err != nil {
		panic(fmt.Sprintf("bad date %s", s))
	}
	return t
}

const baseCatalog = `
endpoints:
  - id: income
    path: /income/{ticker}
  - id: prices
    path: /prices/{ticker}
    list_key: historical
  - id: balance
    path: /balance/{ticker}
    kind: object
transforms:
  - id: ttm4
    kind: ttm
    params: {window: 4, min_points: 1, scale_to: 4}
domains:
  - name: market
    metrics:
      - id: price
        api_field: {endpoint: prices, path: close}
  - name: fundamentals
    metrics:
      - id: eps_q
        api_field: {endpoint: income, path: eps}
      - id: eps_ttm
        aggregation: {base: eps_q, transform: ttm4}
      - id: eps_growth
        aggregation: {base: eps_q, transform: qoq}
      - id: equity
        api_field: {endpoint: balance, path: equity}
  - name: valuation
    metrics:
      - id: per
        expression: {formula: price / eps_ttm}
      - id: pbr
        expression: {formula: price * 10 / equity}
`

var baseBodies = map[string]string{
	"AAPL|income": `[
		{"date":"2024-03-30","eps":1.5},
		{"date":"2023-12-30","eps":2.0},
		{"date":"2023-09-30","eps":1.5},
		{"date":"2023-07-01","eps":1.0},
		{"date":"2023-04-01","eps":1.2}
	]`,
	"AAPL|prices": `{"symbol":"AAPL","historical":[
		{"date":"2024-05-03","close":183.0},
		{"date":"2024-05-02","close":173.0},
		{"date":"2024-02-01","close":186.0}
	]}`,
	"AAPL|balance": `{"equity":740}`,
}
