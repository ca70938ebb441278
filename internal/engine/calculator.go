package engine

import (
	"fmt"
	"sort"
	"sync"

	"github.com/guregu/null/v6"

	"github.com/wonny/metricengine/internal/definition"
	"github.com/wonny/metricengine/internal/provider"
)

// Calculator is a named implementation of custom metrics
type Calculator interface {
	Name() string
	// Prepare validates the parameter bag once per run
	Prepare(spec definition.Custom, cat *definition.Catalog) (Prepared, error)
}

// Prepared is a calculator bound to one metric's parameters
type Prepared interface {
	// Dependencies are graph edges in addition to the declared depends_on
	Dependencies() []string
	// Endpoints are provider resources the calculator reads for the active ticker
	Endpoints() []provider.Endpoint
	// Evaluate computes the value. An error resolves the metric to null with the error as reason.
	Evaluate(ec *EvalContext) (null.Float, map[string]interface{}, error)
}

// Registry holds the available calculators by name
type Registry struct {
	mu    sync.RWMutex
	calcs map[string]Calculator
}

// NewRegistry creates a registry with the given calculators
func NewRegistry(calcs ...Calculator) *Registry {
	r := &Registry{calcs: make(map[string]Calculator)}
	for _, c := range calcs {
		r.Register(c)
	}
	return r
}

// Register adds or replaces a calculator
func (r *Registry) Register(c Calculator) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calcs[c.Name()] = c
}

// Get looks up a calculator
func (r *Registry) Get(name string) (Calculator, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	c, ok := r.calcs[name]
	if !ok {
		return nil, fmt.Errorf("unknown calculator %q", name)
	}
	return c, nil
}

// Names returns the registered calculator names, sorted
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.calcs))
	for name := range r.calcs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
