package engine

import (
	"sort"

	"github.com/wonny/metricengine/internal/contracts"
	"github.com/wonny/metricengine/internal/definition"
)

// Diagnostics is the offline report of a catalog: what a run would schedule
// and which metrics or domains it would fail, without touching the network.
type Diagnostics struct {
	CatalogHash  string                             `json:"catalog_hash"`
	Metrics      int                                `json:"metrics"`
	Endpoints    []string                           `json:"endpoints"`
	Mandatory    []string                           `json:"mandatory"`
	Order        []string                           `json:"order"`
	Domains      map[string]contracts.DomainSummary `json:"domains"`
	ConfigErrors []string                           `json:"config_errors"`
	Cycle        []string                           `json:"cycle,omitempty"`
}

// OK reports whether every metric is schedulable
func (d *Diagnostics) OK() bool {
	return len(d.ConfigErrors) == 0 && len(d.Cycle) == 0
}

// Diagnose builds the full plan of cat
func Diagnose(cat *definition.Catalog, registry *Registry) (*Diagnostics, error) {
	plan, err := NewPlan(cat, nil, registry)
	if err != nil {
		return nil, err
	}

	d := &Diagnostics{
		CatalogHash:  cat.Hash,
		Metrics:      len(cat.Metrics),
		Endpoints:    make([]string, 0, len(plan.Endpoints)),
		Mandatory:    make([]string, 0, len(plan.Mandatory)),
		Order:        plan.Order,
		Domains:      plan.Domains(),
		ConfigErrors: plan.ConfigErrorMessages(),
	}
	for _, ep := range plan.Endpoints {
		d.Endpoints = append(d.Endpoints, ep.ID)
	}
	for id := range plan.Mandatory {
		d.Mandatory = append(d.Mandatory, id)
	}
	sort.Strings(d.Mandatory)

	if plan.Cycle != nil {
		d.Cycle = plan.Cycle.Nodes
	}
	return d, nil
}
