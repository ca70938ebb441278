package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/guregu/null/v6"

	"github.com/wonny/metricengine/internal/contracts"
	"github.com/wonny/metricengine/internal/definition"
	"github.com/wonny/metricengine/internal/fetchcache"
	"github.com/wonny/metricengine/internal/provider"
	"github.com/wonny/metricengine/pkg/logger"
)

// TickerContext is everything one ticker's subtask owns during a run:
// its payload cache and the caches of the peers it pulled in.
// It is not safe for concurrent use; events of a ticker are evaluated sequentially.
type TickerContext struct {
	ctx    context.Context
	ticker string
	plan   *Plan
	store  *fetchcache.Store
	cache  *fetchcache.TickerCache
	logger *logger.Logger

	peerCaches map[string]*fetchcache.TickerCache
	peerLists  map[string][]string
}

// NewTickerContext creates the subtask state for ticker
func NewTickerContext(ctx context.Context, plan *Plan, store *fetchcache.Store, ticker string, log *logger.Logger) *TickerContext {
	return &TickerContext{
		ctx:        ctx,
		ticker:     ticker,
		plan:       plan,
		store:      store,
		cache:      store.Ticker(ticker),
		logger:     log.WithTicker(ticker),
		peerCaches: make(map[string]*fetchcache.TickerCache),
		peerLists:  make(map[string][]string),
	}
}

// Ticker returns the active ticker
func (tc *TickerContext) Ticker() string {
	return tc.ticker
}

// Prefetch loads every endpoint of the plan. It returns the error of the first
// failed mandatory endpoint (which aborts the ticker) and all failures by endpoint.
func (tc *TickerContext) Prefetch() (map[string]error, error) {
	failures := tc.cache.Prefetch(tc.ctx, tc.plan.Endpoints)

	for _, ep := range tc.plan.Endpoints {
		if err, failed := failures[ep.ID]; failed && tc.plan.Mandatory[ep.ID] {
			return failures, fmt.Errorf("mandatory endpoint %s: %w", ep.ID, err)
		}
	}
	return failures, nil
}

// Evaluate computes every metric of the plan for one event date
func (tc *TickerContext) Evaluate(date time.Time) map[string]contracts.ComputedValue {
	run := newEvaluation(tc.plan, tc.ticker, contracts.DateOnly(date), tc.cache, tc)
	run.evaluate(tc.plan.Order)
	return run.values
}

// Results keeps only the requested metrics of a full evaluation
func (tc *TickerContext) Results(values map[string]contracts.ComputedValue) map[string]contracts.ComputedValue {
	out := make(map[string]contracts.ComputedValue, len(tc.plan.Requested))
	for _, id := range tc.plan.Requested {
		if v, ok := values[id]; ok {
			out[id] = v
		}
	}
	return out
}

// peerCache returns the prefetched cache of a peer, created on first use
func (tc *TickerContext) peerCache(peer string, endpoints []provider.Endpoint) *fetchcache.TickerCache {
	cache, ok := tc.peerCaches[peer]
	if !ok {
		cache = tc.store.Ticker(peer)
		tc.peerCaches[peer] = cache
	}
	cache.Prefetch(tc.ctx, endpoints)
	return cache
}

// evaluation is the per-event state machine over the plan order
type evaluation struct {
	plan   *Plan
	ticker string
	date   time.Time
	cache  *fetchcache.TickerCache
	tc     *TickerContext // nil for peer evaluations

	states  map[string]contracts.EvalState
	values  map[string]contracts.ComputedValue
	periods map[string][]contracts.Period
}

func newEvaluation(plan *Plan, ticker string, date time.Time, cache *fetchcache.TickerCache, tc *TickerContext) *evaluation {
	return &evaluation{
		plan:    plan,
		ticker:  ticker,
		date:    date,
		cache:   cache,
		tc:      tc,
		states:  make(map[string]contracts.EvalState),
		values:  make(map[string]contracts.ComputedValue),
		periods: make(map[string][]contracts.Period),
	}
}

func (e *evaluation) evaluate(order []string) {
	for _, id := range order {
		e.states[id] = contracts.StatePending
	}
	for _, id := range order {
		e.states[id] = contracts.StateEvaluating
		v := e.evaluateOne(e.plan.compiled[id])
		e.states[id] = v.State
		e.values[id] = v
	}
}

// value returns a dependency value; anything not resolved is null
func (e *evaluation) value(id string) null.Float {
	if e.states[id] != contracts.StateResolved {
		return null.Float{}
	}
	return e.values[id].Value
}

func resolved(id string, v null.Float, reason string, prov contracts.Provenance) contracts.ComputedValue {
	if !v.Valid && reason == "" {
		reason = "no value"
	}
	if v.Valid {
		reason = ""
	}
	return contracts.ComputedValue{MetricID: id, Value: v, State: contracts.StateResolved, Reason: reason, Provenance: prov}
}

func (e *evaluation) evaluateOne(c *compiled) contracts.ComputedValue {
	id := c.metric.ID

	if c.cfgErr != nil {
		return contracts.ComputedValue{MetricID: id, State: contracts.StateFailed, Reason: c.cfgErr.Error()}
	}

	switch {
	case c.formula != nil:
		return e.evaluateExpression(c)
	case c.transform != nil:
		return e.evaluateAggregation(c)
	case c.custom != nil:
		return e.evaluateCustom(c)
	default:
		return e.evaluateAPIField(c)
	}
}

func (e *evaluation) evaluateAPIField(c *compiled) contracts.ComputedValue {
	id := c.metric.ID
	prov := contracts.Provenance{Endpoint: c.endpoint.ID}

	payload, err := e.cache.Payload(c.endpoint.ID)
	if err != nil {
		return resolved(id, null.Float{}, fmt.Sprintf("fetch failed: %v", err), prov)
	}

	if payload.Kind == provider.KindObject {
		v, ok := payload.Object.Float(c.path)
		if !ok {
			return resolved(id, null.Float{}, fmt.Sprintf("field %s missing", c.path), prov)
		}
		return resolved(id, finite(v), "", prov)
	}

	entries := payload.Until(e.date)
	if len(entries) == 0 {
		return resolved(id, null.Float{}, "no entry on or before event date", prov)
	}

	asOf := entries[0].Date
	prov.AsOf = &asOf

	// 최신 기간에 값이 없으면 과거 기간으로 transform 하지 않음
	v, ok := entries[0].Record.Float(c.path)
	if !ok {
		e.periods[id] = nil
		return resolved(id, null.Float{}, fmt.Sprintf("field %s missing", c.path), prov)
	}

	periods := make([]contracts.Period, 0, len(entries))
	for _, entry := range entries {
		if pv, ok := entry.Record.Float(c.path); ok {
			periods = append(periods, contracts.Period{Date: entry.Date, Value: pv})
		}
	}
	e.periods[id] = periods

	return resolved(id, finite(v), "", prov)
}

func (e *evaluation) evaluateAggregation(c *compiled) contracts.ComputedValue {
	id := c.metric.ID
	agg := c.metric.Source
	base := c.refs[0]
	prov := contracts.Provenance{Dependencies: []string{base}, Transform: transformName(agg)}

	periods := e.periods[base]
	if len(periods) == 0 {
		bv := e.value(base)
		if !bv.Valid {
			return resolved(id, null.Float{}, fmt.Sprintf("base %s is null", base), prov)
		}
		periods = []contracts.Period{{Date: e.date, Value: bv.Float64}}
	}

	v, used := c.transform(periods)
	if used > 0 {
		prov.Periods = append([]contracts.Period(nil), periods[:used]...)
		asOf := periods[0].Date
		prov.AsOf = &asOf
	}
	if !v.Valid {
		return resolved(id, v, fmt.Sprintf("insufficient periods (%d available)", len(periods)), prov)
	}
	return resolved(id, v, "", prov)
}

func (e *evaluation) evaluateExpression(c *compiled) contracts.ComputedValue {
	id := c.metric.ID
	prov := contracts.Provenance{Dependencies: c.formula.Identifiers()}

	v := c.formula.Eval(func(ref string) (float64, bool) {
		val := e.value(ref)
		return val.Float64, val.Valid
	})
	if !v.Valid {
		return resolved(id, v, "operand null or undefined result", prov)
	}
	return resolved(id, v, "", prov)
}

func (e *evaluation) evaluateCustom(c *compiled) contracts.ComputedValue {
	id := c.metric.ID
	prov := contracts.Provenance{Dependencies: c.refs, Calculator: customName(c.metric.Source)}

	if e.tc == nil {
		return resolved(id, null.Float{}, "custom metrics are not evaluated for peers", prov)
	}

	ec := &EvalContext{eval: e, tc: e.tc, metricID: id}
	v, detail, err := c.custom.Evaluate(ec)
	prov.Detail = detail
	if err != nil {
		return resolved(id, null.Float{}, err.Error(), prov)
	}
	return resolved(id, v, "", prov)
}

// EvalContext is what a custom calculator sees while evaluating one metric
type EvalContext struct {
	eval     *evaluation
	tc       *TickerContext
	metricID string
}

// Context returns the run context
func (ec *EvalContext) Context() context.Context {
	return ec.tc.ctx
}

// Ticker returns the active ticker
func (ec *EvalContext) Ticker() string {
	return ec.eval.ticker
}

// Date returns the event date
func (ec *EvalContext) Date() time.Time {
	return ec.eval.date
}

// MetricID returns the id of the metric being evaluated
func (ec *EvalContext) MetricID() string {
	return ec.metricID
}

// Value returns an already evaluated dependency (null when unresolved)
func (ec *EvalContext) Value(id string) null.Float {
	return ec.eval.value(id)
}

// Peers resolves the peer group of the active ticker once per subtask
func (ec *EvalContext) Peers(endpointID, field string, max int) ([]string, error) {
	if peers, ok := ec.tc.peerLists[endpointID]; ok {
		return peers, nil
	}

	ep, ok := ec.tc.plan.Catalog.Endpoint(endpointID)
	if !ok {
		return nil, fmt.Errorf("unknown peer endpoint %q", endpointID)
	}

	peers, err := ec.tc.store.Peers(ec.tc.ctx, ec.tc.ticker, ep, field, max)
	if err != nil {
		return nil, err
	}
	ec.tc.peerLists[endpointID] = peers
	return peers, nil
}

// EvaluatePeer evaluates ids for peer at the event date with the peer's own cache.
// Custom metrics are not evaluated for peers and resolve to null.
func (ec *EvalContext) EvaluatePeer(peer string, ids []string) map[string]null.Float {
	sp := ec.tc.plan.peerPlan(ids)
	cache := ec.tc.peerCache(peer, sp.endpoints)

	run := newEvaluation(ec.tc.plan, peer, ec.eval.date, cache, nil)
	run.evaluate(sp.order)

	out := make(map[string]null.Float, len(ids))
	for _, id := range ids {
		out[id] = run.value(id)
	}
	return out
}

func transformName(src definition.Source) string {
	if agg, ok := src.(definition.Aggregation); ok {
		return agg.Transform
	}
	return ""
}

func customName(src definition.Source) string {
	if c, ok := src.(definition.Custom); ok {
		return c.Calculator
	}
	return ""
}
