package batch

import (
	"context"
	"fmt"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/wonny/metricengine/internal/contracts"
	"github.com/wonny/metricengine/internal/definition"
	"github.com/wonny/metricengine/internal/engine"
	"github.com/wonny/metricengine/internal/fairvalue"
	"github.com/wonny/metricengine/internal/fetchcache"
	"github.com/wonny/metricengine/internal/ratelimit"
	"github.com/wonny/metricengine/internal/telemetry"
	"github.com/wonny/metricengine/pkg/logger"
	"github.com/wonny/metricengine/pkg/redis"
)

// BatchSizer picks how many tickers the next chunk may start
type BatchSizer interface {
	NextBatchSize(remaining int) (int, ratelimit.Mode)
}

// Config holds processor tunables
type Config struct {
	Workers int // 동시에 처리하는 ticker 수
}

// Processor is the top-level orchestrator of a batch run
// ⭐ SSOT: computeBatch 진입점은 여기서만
type Processor struct {
	definitions definition.Store
	registry    *engine.Registry
	fetcher     fetchcache.Fetcher
	sizer       BatchSizer
	peerCache   *redis.Cache
	events      contracts.EventSource
	sink        contracts.ResultSink
	metrics     *telemetry.Metrics
	logger      *logger.Logger
	cfg         Config
}

// Option customizes a Processor
type Option func(*Processor)

// WithPeerCache puts a shared peer-group cache beneath the run memo
func WithPeerCache(c *redis.Cache) Option {
	return func(p *Processor) { p.peerCache = c }
}

// WithEventSource enables Run
func WithEventSource(src contracts.EventSource) Option {
	return func(p *Processor) { p.events = src }
}

// WithSink persists results at the end of Run
func WithSink(sink contracts.ResultSink) Option {
	return func(p *Processor) { p.sink = sink }
}

// WithMetrics records run telemetry
func WithMetrics(m *telemetry.Metrics) Option {
	return func(p *Processor) { p.metrics = m }
}

// NewProcessor creates a processor
func NewProcessor(defs definition.Store, registry *engine.Registry, fetcher fetchcache.Fetcher, sizer BatchSizer, cfg Config, log *logger.Logger, opts ...Option) *Processor {
	if cfg.Workers <= 0 {
		cfg.Workers = 10
	}

	p := &Processor{
		definitions: defs,
		registry:    registry,
		fetcher:     fetcher,
		sizer:       sizer,
		cfg:         cfg,
		logger:      log.WithField("module", "batch"),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Request is one batch invocation
type Request struct {
	Filter  contracts.EventFilter
	Metrics []string // 비어 있으면 전체
	Policy  contracts.OverwritePolicy
	DryRun  bool // 계산만 하고 저장하지 않음
}

// Run loads events, computes them and hands the results to the sink
func (p *Processor) Run(ctx context.Context, req Request) (*contracts.BatchResult, error) {
	if p.events == nil {
		return nil, fmt.Errorf("no event source configured")
	}

	events, err := p.events.LoadEvents(ctx, req.Filter)
	if err != nil {
		return nil, fmt.Errorf("failed to load events: %w", err)
	}

	result, err := p.ComputeBatch(ctx, events, req.Metrics, req.Policy)
	if err != nil {
		return nil, err
	}

	// 실패한 ticker의 null 레코드는 기존 값을 덮어쓰지 않도록 저장하지 않음
	computed := contracts.Computed(result.Results)
	if p.sink != nil && !req.DryRun && len(computed) > 0 {
		n, err := p.sink.BatchUpsert(ctx, computed, req.Policy)
		if err != nil {
			return result, fmt.Errorf("failed to persist results: %w", err)
		}
		result.Summary.Persisted = n
	}

	p.metrics.ObserveRun(result.Summary.Duration, len(result.Results), len(result.Summary.ConfigErrors), result.Summary.Persisted)
	return result, nil
}

type tickerOutcome struct {
	summary contracts.TickerSummary
	results []contracts.EventResult
}

// ComputeBatch evaluates events grouped by ticker with bounded concurrency.
// A failed ticker contributes no results; the batch itself fails only on
// catalog load or an unknown requested metric id.
func (p *Processor) ComputeBatch(ctx context.Context, events []contracts.Event, requested []string, policy contracts.OverwritePolicy) (*contracts.BatchResult, error) {
	started := time.Now()

	cat, err := p.definitions.LoadCatalog(ctx)
	if err != nil {
		return nil, err
	}

	plan, err := engine.NewPlan(cat, requested, p.registry)
	if err != nil {
		return nil, err
	}

	p.reportPlan(plan)

	store := fetchcache.NewStore(p.fetcher, p.peerCache, p.logger)
	tickers, groups := contracts.GroupByTicker(events)
	outcomes := make([]tickerOutcome, len(tickers))

	for next := 0; next < len(tickers); {
		size, mode := p.sizer.NextBatchSize(len(tickers) - next)
		if size <= 0 {
			break
		}
		end := next + size
		if end > len(tickers) {
			end = len(tickers)
		}
		p.metrics.ObserveChunk(end-next, string(mode))

		p.logger.WithFields(map[string]interface{}{
			"chunk": end - next,
			"mode":  mode,
			"done":  next,
			"total": len(tickers),
		}).Debug("Processing ticker chunk")

		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(p.cfg.Workers)
		for i := next; i < end; i++ {
			i := i
			g.Go(func() error {
				outcomes[i] = p.processTicker(gctx, plan, store, tickers[i], groups[tickers[i]])
				return nil
			})
		}
		_ = g.Wait()

		next = end
	}

	result := &contracts.BatchResult{
		Summary: contracts.BatchSummary{
			Tickers:      make([]contracts.TickerSummary, 0, len(tickers)),
			Domains:      plan.Domains(),
			ConfigErrors: plan.ConfigErrorMessages(),
			CatalogHash:  cat.Hash,
			StartedAt:    started,
		},
		Results: make([]contracts.EventResult, 0, len(events)),
	}

	for i := range tickers {
		out := outcomes[i]
		if out.summary.Ticker == "" {
			// 청크 루프가 끝까지 돌지 못한 ticker
			out.summary = contracts.TickerSummary{Ticker: tickers[i], Status: contracts.TickerFail, Events: len(groups[tickers[i]]), Error: "not processed"}
		}
		result.Summary.Tickers = append(result.Summary.Tickers, out.summary)
		if out.summary.Status == contracts.TickerOK {
			result.Summary.OK++
			result.Results = append(result.Results, out.results...)
		} else {
			result.Summary.Fail++
			for _, ev := range groups[tickers[i]] {
				result.Results = append(result.Results, contracts.FailedEventResult(ev, out.summary.Error))
			}
		}
	}

	result.Summary.Duration = time.Since(started)

	p.logger.WithFields(map[string]interface{}{
		"tickers":  len(tickers),
		"events":   len(events),
		"ok":       result.Summary.OK,
		"fail":     result.Summary.Fail,
		"fetches":  store.Fetches(),
		"duration": result.Summary.Duration,
	}).Info("Batch computed")

	return result, nil
}

func (p *Processor) reportPlan(plan *engine.Plan) {
	if plan.Cycle != nil {
		p.logger.WithError(plan.Cycle).Error("Dependency cycle, affected domains skipped")
	}
	for _, cfgErr := range plan.ConfigErrors {
		p.logger.WithField("metric", cfgErr.MetricID).WithError(cfgErr).Warn("Metric configuration error")
	}
}

// processTicker fetches every endpoint of the plan once, then evaluates the
// ticker's events sequentially against the populated cache.
func (p *Processor) processTicker(ctx context.Context, plan *engine.Plan, store *fetchcache.Store, ticker string, events []contracts.Event) (out tickerOutcome) {
	log := p.logger.WithTicker(ticker)
	out.summary = contracts.TickerSummary{Ticker: ticker, Events: len(events)}

	defer func() {
		if r := recover(); r != nil {
			log.WithField("panic", fmt.Sprint(r)).Error("Ticker processing panicked")
			out = tickerOutcome{summary: contracts.TickerSummary{
				Ticker: ticker, Status: contracts.TickerFail, Events: len(events), Error: fmt.Sprintf("panic: %v", r),
			}}
		}
		p.metrics.ObserveTicker(string(out.summary.Status))
	}()

	fail := func(err error) tickerOutcome {
		log.WithError(err).Warn("Ticker failed")
		out.summary.Status = contracts.TickerFail
		out.summary.Error = err.Error()
		out.results = nil
		return out
	}

	tc := engine.NewTickerContext(ctx, plan, store, ticker, p.logger)
	failures, err := tc.Prefetch()
	if err != nil {
		return fail(err)
	}
	if len(failures) > 0 {
		ids := make([]string, 0, len(failures))
		for id := range failures {
			ids = append(ids, id)
		}
		sort.Strings(ids)
		log.WithField("endpoints", ids).Warn("Optional endpoints unavailable, dependents resolve to null")
	}

	position := plan.Catalog.Position
	out.results = make([]contracts.EventResult, 0, len(events))

	for _, ev := range events {
		if err := ctx.Err(); err != nil {
			return fail(err)
		}

		values := tc.Evaluate(ev.Date)
		res := contracts.EventResult{
			Event:    ev,
			Values:   tc.Results(values),
			Position: contracts.PositionUndefined,
		}
		if position.Enabled() {
			res.Position, res.Disparity = fairvalue.Derive(
				values[position.FairValueMetric].Value,
				values[position.PriceMetric].Value,
			)
		}
		out.results = append(out.results, res)
	}

	out.summary.Status = contracts.TickerOK
	return out
}
