package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func all(string) bool { return true }

func assertValidOrder(t *testing.T, g *Graph, order []string) {
	t.Helper()
	pos := make(map[string]int, len(order))
	for i, id := range order {
		pos[id] = i
	}
	for _, id := range order {
		for _, dep := range g.Deps(id) {
			depPos, ok := pos[dep]
			require.True(t, ok, "%s depends on %s which is not scheduled", id, dep)
			assert.Less(t, depPos, pos[id], "%s must come after %s", id, dep)
		}
	}
}

func TestTopologicalOrder(t *testing.T) {
	ids := []string{"per", "price", "eps_ttm", "eps_q", "roe", "equity", "net_income"}
	refs := map[string][]string{
		"per":     {"price", "eps_ttm"},
		"eps_ttm": {"eps_q"},
		"roe":     {"net_income", "equity", "missing_metric"},
	}

	g := BuildGraph(ids, refs)
	sched := g.TopologicalOrder(all)

	require.Empty(t, sched.Cyclic)
	require.Len(t, sched.Order, len(ids))
	assertValidOrder(t, g, sched.Order)

	// 동률은 선언 순서
	assert.Equal(t, []string{"price", "eps_q", "eps_ttm", "per", "equity", "net_income", "roe"}, sched.Order)
	assert.Equal(t, []string{"missing_metric"}, g.Undefined("roe"))
}

func TestTopologicalOrder_Deterministic(t *testing.T) {
	ids := []string{"a", "b", "c", "d", "e", "f"}
	refs := map[string][]string{"f": {"a"}, "e": {"b", "c"}, "d": {"a", "b"}}

	first := BuildGraph(ids, refs).TopologicalOrder(all).Order
	for i := 0; i < 20; i++ {
		assert.Equal(t, first, BuildGraph(ids, refs).TopologicalOrder(all).Order)
	}
}

func TestTopologicalOrder_Cycle(t *testing.T) {
	ids := []string{"x", "a", "b", "c", "downstream"}
	refs := map[string][]string{
		"a":          {"c"},
		"b":          {"a"},
		"c":          {"b"},
		"downstream": {"a"},
	}

	g := BuildGraph(ids, refs)
	sched := g.TopologicalOrder(all)

	assert.Equal(t, []string{"x"}, sched.Order)
	assert.Equal(t, []string{"a", "b", "c"}, sched.Cyclic)

	// 순환 노드를 제외하면 정상 스케줄
	cyclic := map[string]bool{"a": true, "b": true, "c": true, "downstream": true}
	rest := g.TopologicalOrder(func(id string) bool { return !cyclic[id] })
	assert.Equal(t, []string{"x"}, rest.Order)
	assert.Empty(t, rest.Cyclic)
}

func TestTopologicalOrder_SelfLoop(t *testing.T) {
	g := BuildGraph([]string{"a", "b"}, map[string][]string{"a": {"a"}})
	sched := g.TopologicalOrder(all)

	assert.Equal(t, []string{"b"}, sched.Order)
	assert.Equal(t, []string{"a"}, sched.Cyclic)
}

func TestClosure(t *testing.T) {
	ids := []string{"a", "b", "c", "d"}
	g := BuildGraph(ids, map[string][]string{"c": {"b"}, "b": {"a"}})

	assert.Equal(t, map[string]bool{"a": true, "b": true, "c": true}, g.Closure([]string{"c"}, all))
	assert.Equal(t, map[string]bool{"c": true}, g.Closure([]string{"c"}, func(id string) bool { return id != "b" }))
	assert.Empty(t, g.Closure([]string{"nope"}, all))
}
