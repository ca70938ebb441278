package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wonny/metricengine/internal/contracts"
)

func TestEvaluate_SourceKinds(t *testing.T) {
	plan := mustPlan(t, mustCatalog(t, baseCatalog), nil)
	f := newFakeFetcher(baseBodies)
	tc := newTickerContext(plan, f, "AAPL")

	failures, err := tc.Prefetch()
	require.NoError(t, err)
	require.Empty(t, failures)

	values := tc.Evaluate(date("2024-02-15"))

	price := values["price"]
	require.True(t, price.Value.Valid)
	assert.Equal(t, 186.0, price.Value.Float64)
	assert.Equal(t, "prices", price.Provenance.Endpoint)
	require.NotNil(t, price.Provenance.AsOf)
	assert.Equal(t, date("2024-02-01"), *price.Provenance.AsOf)

	assert.Equal(t, 2.0, values["eps_q"].Value.Float64)

	ttm := values["eps_ttm"]
	require.True(t, ttm.Value.Valid)
	assert.InDelta(t, 5.7, ttm.Value.Float64, 1e-9)
	assert.Equal(t, "ttm4", ttm.Provenance.Transform)
	assert.Len(t, ttm.Provenance.Periods, 4)
	assert.Equal(t, []string{"eps_q"}, ttm.Provenance.Dependencies)

	assert.InDelta(t, 0.5/1.5, values["eps_growth"].Value.Float64, 1e-9)
	assert.InDelta(t, 186/5.7, values["per"].Value.Float64, 1e-9)
	assert.Equal(t, []string{"price", "eps_ttm"}, values["per"].Provenance.Dependencies)
	assert.InDelta(t, 1860.0/740.0, values["pbr"].Value.Float64, 1e-9)

	for id, v := range values {
		assert.Equal(t, contracts.StateResolved, v.State, id)
	}
}

func TestEvaluate_NearestPriorInclusive(t *testing.T) {
	plan := mustPlan(t, mustCatalog(t, baseCatalog), nil)
	tc := newTickerContext(plan, newFakeFetcher(baseBodies), "AAPL")
	_, err := tc.Prefetch()
	require.NoError(t, err)

	values := tc.Evaluate(date("2024-05-02"))
	assert.Equal(t, 173.0, values["price"].Value.Float64)
	assert.Equal(t, 1.5, values["eps_q"].Value.Float64)
	assert.InDelta(t, 6.0, values["eps_ttm"].Value.Float64, 1e-9)
}

func TestEvaluate_SparseHistory(t *testing.T) {
	plan := mustPlan(t, mustCatalog(t, baseCatalog), nil)
	tc := newTickerContext(plan, newFakeFetcher(baseBodies), "AAPL")
	_, err := tc.Prefetch()
	require.NoError(t, err)

	values := tc.Evaluate(date("2023-05-01"))

	assert.False(t, values["price"].Value.Valid)
	assert.Equal(t, "no entry on or before event date", values["price"].Reason)
	assert.InDelta(t, 4.8, values["eps_ttm"].Value.Float64, 1e-9)
	assert.False(t, values["eps_growth"].Value.Valid)

	// null operand → null, 예외 없음
	per := values["per"]
	assert.Equal(t, contracts.StateResolved, per.State)
	assert.False(t, per.Value.Valid)
	assert.NotEmpty(t, per.Reason)
}

func TestEvaluate_LatestPeriodMissingField(t *testing.T) {
	bodies := map[string]string{}
	for k, v := range baseBodies {
		bodies[k] = v
	}
	bodies["AAPL|income"] = `[
		{"date":"2024-03-30","revenue":100},
		{"date":"2023-12-30","eps":2.0},
		{"date":"2023-09-30","eps":1.5},
		{"date":"2023-07-01","eps":1.0},
		{"date":"2023-04-01","eps":1.2}
	]`

	plan := mustPlan(t, mustCatalog(t, baseCatalog), nil)
	tc := newTickerContext(plan, newFakeFetcher(bodies), "AAPL")
	_, err := tc.Prefetch()
	require.NoError(t, err)

	tests := []struct {
		name    string
		date    string
		wantQ   bool
		wantTTM bool
	}{
		{name: "latest quarter lacks field", date: "2024-05-02", wantQ: false, wantTTM: false},
		{name: "earlier event sees complete quarter", date: "2024-02-15", wantQ: true, wantTTM: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			values := tc.Evaluate(date(tt.date))

			assert.Equal(t, tt.wantQ, values["eps_q"].Value.Valid)
			assert.Equal(t, tt.wantTTM, values["eps_ttm"].Value.Valid)
			if !tt.wantQ {
				assert.Equal(t, "field eps missing", values["eps_q"].Reason)
				assert.Empty(t, values["eps_ttm"].Provenance.Periods)
			}
		})
	}
}

func TestEvaluate_FetchOncePerTickerEndpoint(t *testing.T) {
	plan := mustPlan(t, mustCatalog(t, baseCatalog), nil)
	f := newFakeFetcher(baseBodies)
	tc := newTickerContext(plan, f, "AAPL")
	_, err := tc.Prefetch()
	require.NoError(t, err)

	for _, d := range []string{"2023-05-01", "2023-10-15", "2024-02-15", "2024-05-03"} {
		tc.Evaluate(date(d))
	}

	assert.Equal(t, 1, f.Calls("AAPL|income"))
	assert.Equal(t, 1, f.Calls("AAPL|prices"))
	assert.Equal(t, 1, f.Calls("AAPL|balance"))
	assert.Equal(t, 3, f.TotalCalls())
}

func TestEvaluate_OptionalFetchFailure(t *testing.T) {
	plan := mustPlan(t, mustCatalog(t, baseCatalog), nil)
	f := newFakeFetcher(baseBodies)
	f.fail["AAPL|balance"] = true

	tc := newTickerContext(plan, f, "AAPL")
	failures, err := tc.Prefetch()
	require.NoError(t, err)
	assert.Contains(t, failures, "balance")

	values := tc.Evaluate(date("2024-02-15"))
	assert.False(t, values["equity"].Value.Valid)
	assert.Contains(t, values["equity"].Reason, "fetch failed")
	assert.False(t, values["pbr"].Value.Valid)
	assert.True(t, values["per"].Value.Valid)
}

func TestEvaluate_MandatoryFetchFailure(t *testing.T) {
	plan := mustPlan(t, mustCatalog(t, baseCatalog), []string{"per", "pbr"})
	f := newFakeFetcher(baseBodies)
	f.fail["AAPL|prices"] = true

	tc := newTickerContext(plan, f, "AAPL")
	_, err := tc.Prefetch()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "mandatory endpoint prices")

	var fetchErr *contracts.ExternalFetchError
	assert.ErrorAs(t, err, &fetchErr)
}

func TestResults_OnlyRequested(t *testing.T) {
	plan := mustPlan(t, mustCatalog(t, baseCatalog), []string{"per"})
	tc := newTickerContext(plan, newFakeFetcher(baseBodies), "AAPL")
	_, err := tc.Prefetch()
	require.NoError(t, err)

	values := tc.Evaluate(date("2024-02-15"))
	assert.Len(t, values, 4)

	out := tc.Results(values)
	require.Len(t, out, 1)
	assert.Contains(t, out, "per")
}
