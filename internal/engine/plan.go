package engine

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/wonny/metricengine/internal/contracts"
	"github.com/wonny/metricengine/internal/definition"
	"github.com/wonny/metricengine/internal/expr"
	"github.com/wonny/metricengine/internal/provider"
)

// compiled is one metric bound to its executable parts
type compiled struct {
	metric    definition.Metric
	refs      []string
	endpoint  provider.Endpoint
	path      string
	transform Transform
	formula   *expr.Expression
	custom    Prepared
	cfgErr    *contracts.ConfigurationError
}

// Plan is the run-wide evaluation plan.
// Configuration errors and cycles are detected once here, never per event.
// ⭐ SSOT: 그래프 빌드/스케줄링은 run당 한 번만
type Plan struct {
	Catalog *definition.Catalog

	// Order is the evaluation order of every metric needed by Requested
	Order []string
	// Requested are the metric ids emitted in results
	Requested []string
	// Endpoints are the provider resources Order reads for the active ticker
	Endpoints []provider.Endpoint
	// Mandatory endpoint ids: a failure aborts the ticker
	Mandatory map[string]bool

	ConfigErrors    []*contracts.ConfigurationError
	Cycle           *contracts.DependencyCycleError
	DisabledDomains map[string]bool

	graph    *Graph
	compiled map[string]*compiled

	subMu    sync.Mutex
	subPlans map[string]*subPlan
}

// subPlan is the custom-free closure used for peer evaluation
type subPlan struct {
	order     []string
	endpoints []provider.Endpoint
}

// NewPlan compiles the catalog for the requested metric ids (all when empty)
func NewPlan(cat *definition.Catalog, requested []string, registry *Registry) (*Plan, error) {
	for _, id := range requested {
		if _, ok := cat.Metric(id); !ok {
			return nil, fmt.Errorf("%w %q", contracts.ErrUnknownMetric, id)
		}
	}

	p := &Plan{
		Catalog:         cat,
		Mandatory:       make(map[string]bool),
		DisabledDomains: make(map[string]bool),
		compiled:        make(map[string]*compiled, len(cat.Metrics)),
		subPlans:        make(map[string]*subPlan),
	}

	refs := make(map[string][]string, len(cat.Metrics))
	for _, m := range cat.Metrics {
		c := compileMetric(m, cat, registry)
		p.compiled[m.ID] = c
		refs[m.ID] = c.refs
		if c.cfgErr != nil {
			p.ConfigErrors = append(p.ConfigErrors, c.cfgErr)
		}
	}

	ids := cat.MetricIDs()
	p.graph = BuildGraph(ids, refs)

	all := func(string) bool { return true }
	sched := p.graph.TopologicalOrder(all)
	if len(sched.Cyclic) > 0 {
		domains := make([]string, 0)
		for _, id := range sched.Cyclic {
			d := p.compiled[id].metric.Domain
			if !p.DisabledDomains[d] {
				p.DisabledDomains[d] = true
				domains = append(domains, d)
			}
		}
		sort.Strings(domains)
		p.Cycle = &contracts.DependencyCycleError{Domains: domains, Nodes: sched.Cyclic}
	}

	enabled := func(id string) bool {
		return !p.DisabledDomains[p.compiled[id].metric.Domain]
	}

	if len(requested) == 0 {
		requested = ids
	}
	for _, id := range requested {
		if enabled(id) {
			p.Requested = append(p.Requested, id)
		}
	}

	closure := p.graph.Closure(p.Requested, enabled)
	full := p.graph.TopologicalOrder(func(id string) bool { return closure[id] })
	p.Order = full.Order

	p.Endpoints = p.endpointsFor(p.Order, true)
	p.markMandatory()

	return p, nil
}

func compileMetric(m definition.Metric, cat *definition.Catalog, registry *Registry) *compiled {
	c := &compiled{metric: m}
	fail := func(reason string, cause error) {
		c.cfgErr = &contracts.ConfigurationError{MetricID: m.ID, Reason: reason, Cause: cause}
	}

	switch src := m.Source.(type) {
	case definition.APIField:
		ep, ok := cat.Endpoint(src.Endpoint)
		switch {
		case !ok:
			fail(fmt.Sprintf("unknown endpoint %q", src.Endpoint), nil)
		case strings.TrimSpace(src.Path) == "":
			fail("api_field path is required", nil)
		default:
			c.endpoint = ep
			c.path = src.Path
		}

	case definition.Aggregation:
		c.refs = []string{src.Base}
		if src.Base == "" {
			fail("aggregation base is required", nil)
			break
		}
		t, err := ResolveTransform(cat, src.Transform, src.Params)
		if err != nil {
			fail("invalid transform", err)
			break
		}
		c.transform = t

	case definition.Expression:
		e, err := expr.Parse(src.Formula)
		if err != nil {
			fail("malformed formula", err)
			break
		}
		c.formula = e
		c.refs = e.Identifiers()

	case definition.Custom:
		c.refs = append([]string(nil), src.DependsOn...)
		if registry == nil {
			fail(fmt.Sprintf("unknown calculator %q", src.Calculator), nil)
			break
		}
		calc, err := registry.Get(src.Calculator)
		if err != nil {
			fail(err.Error(), nil)
			break
		}
		prepared, err := calc.Prepare(src, cat)
		if err != nil {
			fail(fmt.Sprintf("invalid %s params", src.Calculator), err)
			break
		}
		c.custom = prepared
		c.refs = append(c.refs, prepared.Dependencies()...)

	default:
		fail(fmt.Sprintf("unsupported source %T", m.Source), nil)
	}

	return c
}

// endpointsFor collects the endpoints read by ids, in first-use order
func (p *Plan) endpointsFor(ids []string, withCustom bool) []provider.Endpoint {
	seen := make(map[string]bool)
	var out []provider.Endpoint

	add := func(ep provider.Endpoint) {
		if ep.ID == "" || seen[ep.ID] {
			return
		}
		seen[ep.ID] = true
		out = append(out, ep)
	}

	for _, id := range ids {
		c := p.compiled[id]
		if c.cfgErr != nil {
			continue
		}
		add(c.endpoint)
		if withCustom && c.custom != nil {
			for _, ep := range c.custom.Endpoints() {
				add(ep)
			}
		}
	}
	return out
}

// markMandatory flags endpoints declared required or read by every requested metric
func (p *Plan) markMandatory() {
	inOrder := make(map[string]bool, len(p.Order))
	for _, id := range p.Order {
		inOrder[id] = true
	}

	for _, ep := range p.Endpoints {
		if ep.Required {
			p.Mandatory[ep.ID] = true
		}
	}

	counts := make(map[string]int)
	considered := 0
	for _, id := range p.Requested {
		if p.compiled[id].cfgErr != nil {
			continue
		}
		considered++
		closure := p.graph.Closure([]string{id}, func(dep string) bool { return inOrder[dep] })
		ids := make([]string, 0, len(closure))
		for dep := range closure {
			ids = append(ids, dep)
		}
		for _, ep := range p.endpointsFor(ids, true) {
			counts[ep.ID]++
		}
	}

	if considered == 0 {
		return
	}
	for epID, n := range counts {
		if n == considered {
			p.Mandatory[epID] = true
		}
	}
}

// peerPlan returns the custom-free evaluation order for ids
func (p *Plan) peerPlan(ids []string) *subPlan {
	key := strings.Join(ids, ",")

	p.subMu.Lock()
	defer p.subMu.Unlock()

	if sp, ok := p.subPlans[key]; ok {
		return sp
	}

	include := func(id string) bool {
		c, ok := p.compiled[id]
		return ok && c.custom == nil && !p.DisabledDomains[c.metric.Domain]
	}
	closure := p.graph.Closure(ids, include)
	sched := p.graph.TopologicalOrder(func(id string) bool { return closure[id] })

	sp := &subPlan{order: sched.Order, endpoints: p.endpointsFor(sched.Order, false)}
	p.subPlans[key] = sp
	return sp
}

// Domains reports the per-domain status of the run
func (p *Plan) Domains() map[string]contracts.DomainSummary {
	out := make(map[string]contracts.DomainSummary, len(p.Catalog.Domains))
	for _, d := range p.Catalog.Domains {
		if p.DisabledDomains[d.Name] {
			out[d.Name] = contracts.DomainSummary{Status: contracts.TickerFail, Error: p.Cycle.Error()}
			continue
		}
		out[d.Name] = contracts.DomainSummary{Status: contracts.TickerOK}
	}
	return out
}

// ConfigErrorMessages renders the configuration errors for the summary
func (p *Plan) ConfigErrorMessages() []string {
	out := make([]string, 0, len(p.ConfigErrors))
	for _, err := range p.ConfigErrors {
		out = append(out, err.Error())
	}
	return out
}

// Graph exposes the dependency graph
func (p *Plan) Graph() *Graph {
	return p.graph
}
