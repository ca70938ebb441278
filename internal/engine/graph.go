package engine

import (
	"container/heap"
	"sort"
)

// Graph is the metric dependency graph.
// Edges point from a metric to the defined metrics it depends on; references
// to undefined ids are kept aside and evaluate to null.
type Graph struct {
	ids        []string // 선언 순서
	order      map[string]int
	deps       map[string][]string
	dependents map[string][]string
	undefined  map[string][]string
}

// BuildGraph creates the graph from ids in declaration order and their raw references
func BuildGraph(ids []string, refs map[string][]string) *Graph {
	g := &Graph{
		ids:        ids,
		order:      make(map[string]int, len(ids)),
		deps:       make(map[string][]string, len(ids)),
		dependents: make(map[string][]string, len(ids)),
		undefined:  make(map[string][]string),
	}
	for i, id := range ids {
		g.order[id] = i
	}

	for _, id := range ids {
		seen := make(map[string]bool)
		for _, ref := range refs[id] {
			if seen[ref] {
				continue
			}
			seen[ref] = true

			if _, ok := g.order[ref]; !ok {
				g.undefined[id] = append(g.undefined[id], ref)
				continue
			}
			g.deps[id] = append(g.deps[id], ref)
			g.dependents[ref] = append(g.dependents[ref], id)
		}
	}

	return g
}

// Deps returns the defined dependencies of id
func (g *Graph) Deps(id string) []string {
	return g.deps[id]
}

// Undefined returns the references of id that name no metric
func (g *Graph) Undefined(id string) []string {
	return g.undefined[id]
}

// Closure returns roots plus everything they transitively depend on,
// restricted to ids accepted by include
func (g *Graph) Closure(roots []string, include func(string) bool) map[string]bool {
	out := make(map[string]bool)
	stack := append([]string(nil), roots...)

	for len(stack) > 0 {
		id := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		if out[id] || !include(id) {
			continue
		}
		if _, ok := g.order[id]; !ok {
			continue
		}
		out[id] = true
		stack = append(stack, g.deps[id]...)
	}

	return out
}

// Schedule is the outcome of topological ordering
type Schedule struct {
	Order  []string // 의존성 순서, 동률은 선언 순서
	Cyclic []string // 순환에 걸린 노드 (선언 순서)
}

// TopologicalOrder runs Kahn's algorithm over the ids accepted by include.
// Ties among ready nodes are broken by declaration order.
func (g *Graph) TopologicalOrder(include func(string) bool) Schedule {
	inDegree := make(map[string]int)
	for _, id := range g.ids {
		if !include(id) {
			continue
		}
		inDegree[id] = 0
	}
	for id := range inDegree {
		for _, dep := range g.deps[id] {
			if _, ok := inDegree[dep]; ok {
				inDegree[id]++
			}
		}
	}

	ready := &readyQueue{order: g.order}
	for id, d := range inDegree {
		if d == 0 {
			heap.Push(ready, id)
		}
	}

	order := make([]string, 0, len(inDegree))
	for ready.Len() > 0 {
		id := heap.Pop(ready).(string)
		order = append(order, id)

		for _, next := range g.dependents[id] {
			if _, ok := inDegree[next]; !ok {
				continue
			}
			inDegree[next]--
			if inDegree[next] == 0 {
				heap.Push(ready, next)
			}
		}
	}

	if len(order) == len(inDegree) {
		return Schedule{Order: order}
	}

	emitted := make(map[string]bool, len(order))
	for _, id := range order {
		emitted[id] = true
	}
	remaining := make(map[string]bool)
	for id := range inDegree {
		if !emitted[id] {
			remaining[id] = true
		}
	}

	return Schedule{Order: order, Cyclic: g.sortByDeclaration(g.peelDownstream(remaining))}
}

// peelDownstream drops nodes that only sit behind a cycle: repeatedly remove
// remaining nodes that no other remaining node depends on.
func (g *Graph) peelDownstream(remaining map[string]bool) []string {
	for {
		removed := false
		for id := range remaining {
			needed := false
			for _, dep := range g.dependents[id] {
				if remaining[dep] {
					needed = true
					break
				}
			}
			if !needed {
				delete(remaining, id)
				removed = true
			}
		}
		if !removed {
			break
		}
	}

	out := make([]string, 0, len(remaining))
	for id := range remaining {
		out = append(out, id)
	}
	return out
}

func (g *Graph) sortByDeclaration(ids []string) []string {
	sort.Slice(ids, func(i, j int) bool {
		return g.order[ids[i]] < g.order[ids[j]]
	})
	return ids
}

type readyQueue struct {
	ids   []string
	order map[string]int
}

func (q *readyQueue) Len() int           { return len(q.ids) }
func (q *readyQueue) Less(i, j int) bool { return q.order[q.ids[i]] < q.order[q.ids[j]] }
func (q *readyQueue) Swap(i, j int)      { q.ids[i], q.ids[j] = q.ids[j], q.ids[i] }
func (q *readyQueue) Push(x interface{}) { q.ids = append(q.ids, x.(string)) }
func (q *readyQueue) Pop() interface{} {
	n := len(q.ids)
	id := q.ids[n-1]
	q.ids = q.ids[:n-1]
	return id
}
