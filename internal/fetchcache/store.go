package fetchcache

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/wonny/metricengine/internal/provider"
	"github.com/wonny/metricengine/pkg/logger"
	"github.com/wonny/metricengine/pkg/redis"
)

// Fetcher retrieves one endpoint for one ticker
type Fetcher interface {
	Fetch(ctx context.Context, ticker string, ep provider.Endpoint) (*provider.Payload, error)
}

type result struct {
	payload *provider.Payload
	err     error
}

// Store memoizes provider payloads for the lifetime of one batch run.
// Concurrent requests for the same (ticker, endpoint) share one in-flight fetch,
// and failures are memoized as well so a failing endpoint is not retried within the run.
// ⭐ SSOT: run 단위 fetch 캐시는 여기서만
type Store struct {
	fetcher Fetcher
	peers   *redis.Cache // optional
	logger  *logger.Logger

	mu      sync.RWMutex
	results map[string]result
	group   singleflight.Group
	fetches atomic.Int64
}

// NewStore creates an empty run-scoped store. peerCache may be nil.
func NewStore(f Fetcher, peerCache *redis.Cache, log *logger.Logger) *Store {
	return &Store{
		fetcher: f,
		peers:   peerCache,
		logger:  log.WithField("module", "fetchcache"),
		results: make(map[string]result),
	}
}

func payloadKey(ticker, endpointID string) string {
	return ticker + "|" + endpointID
}

// Get returns the payload, fetching it at most once per run
func (s *Store) Get(ctx context.Context, ticker string, ep provider.Endpoint) (*provider.Payload, error) {
	key := payloadKey(ticker, ep.ID)
	if res, ok := s.lookup(key); ok {
		return res.payload, res.err
	}

	v, _, _ := s.group.Do(key, func() (interface{}, error) {
		// 대기 중 다른 호출이 이미 채웠을 수 있음
		if res, ok := s.lookup(key); ok {
			return res, nil
		}

		s.fetches.Add(1)
		payload, err := s.fetcher.Fetch(ctx, ticker, ep)
		res := result{payload: payload, err: err}

		s.mu.Lock()
		s.results[key] = res
		s.mu.Unlock()

		return res, nil
	})

	res := v.(result)
	return res.payload, res.err
}

func (s *Store) lookup(key string) (result, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	res, ok := s.results[key]
	return res, ok
}

// Fetches returns how many provider calls the store issued
func (s *Store) Fetches() int {
	return int(s.fetches.Load())
}

// Ticker returns the per-ticker view of the store
func (s *Store) Ticker(ticker string) *TickerCache {
	return &TickerCache{
		store:    s,
		ticker:   ticker,
		payloads: make(map[string]*provider.Payload),
		errs:     make(map[string]error),
	}
}

// Peers returns the peer tickers of ticker, excluding ticker itself.
// max <= 0 means no cap.
func (s *Store) Peers(ctx context.Context, ticker string, ep provider.Endpoint, field string, max int) ([]string, error) {
	v, err, _ := s.group.Do("peers|"+ticker, func() (interface{}, error) {
		var cached []string
		if s.peers != nil {
			hit, err := s.peers.Get(ctx, redis.PeerGroupKey(ticker), &cached)
			if err != nil {
				s.logger.WithTicker(ticker).WithError(err).Warn("Peer cache read failed")
			}
			if hit {
				return cached, nil
			}
		}

		payload, err := s.Get(ctx, ticker, ep)
		if err != nil {
			return nil, err
		}

		rec := payload.Object
		if payload.Kind == provider.KindSeries && len(payload.Series) > 0 {
			rec = payload.Series[0].Record
		}
		list := rec.Strings(field)

		if s.peers != nil {
			if err := s.peers.Set(ctx, redis.PeerGroupKey(ticker), list, redis.TTLDaily); err != nil {
				s.logger.WithTicker(ticker).WithError(err).Warn("Peer cache write failed")
			}
		}
		return list, nil
	})
	if err != nil {
		return nil, err
	}

	return cleanPeers(ticker, v.([]string), max), nil
}

func cleanPeers(ticker string, list []string, max int) []string {
	seen := map[string]bool{strings.ToUpper(ticker): true}
	out := make([]string, 0, len(list))

	for _, p := range list {
		p = strings.TrimSpace(p)
		key := strings.ToUpper(p)
		if p == "" || seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, p)
		if max > 0 && len(out) == max {
			break
		}
	}
	return out
}

// TickerCache is the set of payloads owned by one ticker's subtask
type TickerCache struct {
	store  *Store
	ticker string

	mu       sync.RWMutex
	payloads map[string]*provider.Payload
	errs     map[string]error
}

// Ticker returns the owning ticker
func (c *TickerCache) Ticker() string {
	return c.ticker
}

// Prefetch loads every endpoint concurrently and returns the failures by endpoint id.
// Endpoints already held by the cache are not requested again.
func (c *TickerCache) Prefetch(ctx context.Context, endpoints []provider.Endpoint) map[string]error {
	endpoints = c.missing(endpoints)
	results := make([]result, len(endpoints))

	var g errgroup.Group
	for i, ep := range endpoints {
		i, ep := i, ep
		g.Go(func() error {
			payload, err := c.store.Get(ctx, c.ticker, ep)
			results[i] = result{payload: payload, err: err}
			return nil
		})
	}
	_ = g.Wait()

	failures := make(map[string]error)

	c.mu.Lock()
	defer c.mu.Unlock()

	for i, ep := range endpoints {
		if results[i].err != nil {
			c.errs[ep.ID] = results[i].err
			failures[ep.ID] = results[i].err
			continue
		}
		c.payloads[ep.ID] = results[i].payload
	}

	return failures
}

func (c *TickerCache) missing(endpoints []provider.Endpoint) []provider.Endpoint {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]provider.Endpoint, 0, len(endpoints))
	for _, ep := range endpoints {
		_, ok := c.payloads[ep.ID]
		_, failed := c.errs[ep.ID]
		if !ok && !failed {
			out = append(out, ep)
		}
	}
	return out
}

// Payload returns a prefetched payload or the error its fetch ended with
func (c *TickerCache) Payload(endpointID string) (*provider.Payload, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if p, ok := c.payloads[endpointID]; ok {
		return p, nil
	}
	if err, ok := c.errs[endpointID]; ok {
		return nil, err
	}
	return nil, fmt.Errorf("endpoint %s not fetched for %s", endpointID, c.ticker)
}
