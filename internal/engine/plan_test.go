package engine

import (
	"errors"
	"testing"

	"github.com/guregu/null/v6"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wonny/metricengine/internal/contracts"
	"github.com/wonny/metricengine/internal/definition"
	"github.com/wonny/metricengine/internal/provider"
)

func TestNewPlan_OrderAndEndpoints(t *testing.T) {
	cat := mustCatalog(t, baseCatalog)

	plan := mustPlan(t, cat, nil)
	assert.Equal(t, cat.MetricIDs(), plan.Requested)
	assert.Len(t, plan.Order, len(cat.Metrics))
	assertValidOrder(t, plan.Graph(), plan.Order)
	assert.Empty(t, plan.ConfigErrors)
	assert.Nil(t, plan.Cycle)

	var epIDs []string
	for _, ep := range plan.Endpoints {
		epIDs = append(epIDs, ep.ID)
	}
	assert.ElementsMatch(t, []string{"income", "prices", "balance"}, epIDs)
	assert.Empty(t, plan.Mandatory)

	for _, d := range plan.Domains() {
		assert.Equal(t, contracts.TickerOK, d.Status)
	}
}

func TestNewPlan_RequestedSubset(t *testing.T) {
	cat := mustCatalog(t, baseCatalog)

	plan := mustPlan(t, cat, []string{"per"})
	assert.Equal(t, []string{"per"}, plan.Requested)
	assert.Equal(t, []string{"price", "eps_q", "eps_ttm", "per"}, plan.Order)

	// per 하나만 요청 → per가 읽는 endpoint는 모두 필수
	assert.True(t, plan.Mandatory["prices"])
	assert.True(t, plan.Mandatory["income"])
	assert.False(t, plan.Mandatory["balance"])

	_, err := NewPlan(cat, []string{"nope"}, NewRegistry())
	assert.ErrorIs(t, err, contracts.ErrUnknownMetric)
}

func TestNewPlan_MandatoryNeededByAll(t *testing.T) {
	cat := mustCatalog(t, baseCatalog)

	plan := mustPlan(t, cat, []string{"per", "pbr"})
	assert.True(t, plan.Mandatory["prices"])
	assert.False(t, plan.Mandatory["income"])
	assert.False(t, plan.Mandatory["balance"])
}

func TestNewPlan_ConfigurationErrors(t *testing.T) {
	cat := mustCatalog(t, `
endpoints:
  - id: income
    path: /income/{ticker}
domains:
  - name: d
    metrics:
      - id: ok
        api_field: {endpoint: income, path: eps}
      - id: bad_formula
        expression: {formula: "ok * (2"}
      - id: bad_calc
        custom: {calculator: magic}
      - id: bad_transform
        aggregation: {base: ok, transform: median}
      - id: bad_endpoint
        api_field: {endpoint: quotes, path: price}
      - id: uses_bad
        expression: {formula: bad_formula + ok}
`)

	plan := mustPlan(t, cat, nil)
	require.Len(t, plan.ConfigErrors, 4)

	ids := make([]string, 0, len(plan.ConfigErrors))
	for _, err := range plan.ConfigErrors {
		ids = append(ids, err.MetricID)
	}
	assert.Equal(t, []string{"bad_formula", "bad_calc", "bad_transform", "bad_endpoint"}, ids)
	assert.Contains(t, plan.ConfigErrorMessages()[1], `unknown calculator "magic"`)

	// 설정 오류 metric은 failed, 의존 metric은 null
	f := newFakeFetcher(map[string]string{"AAPL|income": `[{"date":"2024-01-01","eps":2}]`})
	tc := newTickerContext(plan, f, "AAPL")
	_, err := tc.Prefetch()
	require.NoError(t, err)

	values := tc.Evaluate(date("2024-02-01"))
	assert.Equal(t, contracts.StateFailed, values["bad_formula"].State)
	assert.Equal(t, contracts.StateResolved, values["uses_bad"].State)
	assert.False(t, values["uses_bad"].Value.Valid)
	assert.Equal(t, null.FloatFrom(2), values["ok"].Value)
}

func TestNewPlan_CycleDisablesDomainOnce(t *testing.T) {
	cat := mustCatalog(t, `
endpoints:
  - id: income
    path: /income/{ticker}
domains:
  - name: base
    metrics:
      - id: eps
        api_field: {endpoint: income, path: eps}
  - name: loop
    metrics:
      - id: a
        expression: {formula: b + eps}
      - id: b
        expression: {formula: a * 2}
  - name: consumer
    metrics:
      - id: c
        expression: {formula: a + eps}
      - id: d
        expression: {formula: eps * 2}
`)

	plan := mustPlan(t, cat, nil)
	require.NotNil(t, plan.Cycle)
	assert.Equal(t, []string{"loop"}, plan.Cycle.Domains)
	assert.Equal(t, []string{"a", "b"}, plan.Cycle.Nodes)

	var cycleErr *contracts.DependencyCycleError
	assert.True(t, errors.As(error(plan.Cycle), &cycleErr))

	domains := plan.Domains()
	assert.Equal(t, contracts.TickerFail, domains["loop"].Status)
	assert.Equal(t, contracts.TickerOK, domains["consumer"].Status)
	assert.Equal(t, []string{"eps", "c", "d"}, plan.Requested)
	assertValidOrder(t, plan.Graph(), []string{"eps", "c", "d"})

	f := newFakeFetcher(map[string]string{"AAPL|income": `[{"date":"2024-01-01","eps":2}]`})
	tc := newTickerContext(plan, f, "AAPL")
	_, err := tc.Prefetch()
	require.NoError(t, err)

	values := tc.Evaluate(date("2024-02-01"))
	_, evaluated := values["a"]
	assert.False(t, evaluated)
	assert.False(t, values["c"].Value.Valid)
	assert.Equal(t, null.FloatFrom(4), values["d"].Value)
}

type stubCalculator struct {
	deps []string
}

func (s stubCalculator) Name() string { return "stub" }

func (s stubCalculator) Prepare(spec definition.Custom, cat *definition.Catalog) (Prepared, error) {
	var params struct {
		Fail bool `yaml:"fail"`
	}
	if err := spec.DecodeParams(&params); err != nil {
		return nil, err
	}
	if params.Fail {
		return nil, errors.New("bad params")
	}
	return stubPrepared{deps: s.deps}, nil
}

type stubPrepared struct {
	deps []string
}

func (s stubPrepared) Dependencies() []string         { return s.deps }
func (s stubPrepared) Endpoints() []provider.Endpoint { return nil }
func (s stubPrepared) Evaluate(ec *EvalContext) (null.Float, map[string]interface{}, error) {
	sum := 0.0
	for _, dep := range s.deps {
		v := ec.Value(dep)
		if !v.Valid {
			return null.Float{}, nil, errors.New("dependency missing")
		}
		sum += v.Float64
	}
	return null.FloatFrom(sum), map[string]interface{}{"deps": len(s.deps)}, nil
}

func TestNewPlan_CustomDependencies(t *testing.T) {
	cat := mustCatalog(t, `
endpoints:
  - id: income
    path: /income/{ticker}
domains:
  - name: d
    metrics:
      - id: total
        custom: {calculator: stub}
      - id: broken
        custom: {calculator: stub, params: {fail: true}}
      - id: eps
        api_field: {endpoint: income, path: eps}
`)

	plan := mustPlan(t, cat, []string{"total"}, stubCalculator{deps: []string{"eps"}})
	assert.Equal(t, []string{"eps", "total"}, plan.Order)
	require.Len(t, plan.ConfigErrors, 1)
	assert.Equal(t, "broken", plan.ConfigErrors[0].MetricID)

	f := newFakeFetcher(map[string]string{"AAPL|income": `[{"date":"2024-01-01","eps":2.5}]`})
	tc := newTickerContext(plan, f, "AAPL")
	_, err := tc.Prefetch()
	require.NoError(t, err)

	values := tc.Evaluate(date("2024-01-02"))
	assert.Equal(t, null.FloatFrom(2.5), values["total"].Value)
	assert.Equal(t, "stub", values["total"].Provenance.Calculator)
	assert.Equal(t, 1, values["total"].Provenance.Detail["deps"])
}
