package definition

import (
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/wonny/metricengine/internal/provider"
)

// SourceKind names how a metric obtains its value
type SourceKind string

const (
	KindAPIField    SourceKind = "api_field"
	KindAggregation SourceKind = "aggregation"
	KindExpression  SourceKind = "expression"
	KindCustom      SourceKind = "custom"
)

// Source is the closed set of metric sources.
// Only the types in this package implement it.
type Source interface {
	Kind() SourceKind
	isSource()
}

// APIField reads one field of a provider endpoint
type APIField struct {
	Endpoint string
	Path     string
}

// Aggregation applies a transform to the periods of a base metric
type Aggregation struct {
	Base      string
	Transform string
	Params    map[string]float64 // transform params override
}

// Expression is an arithmetic formula over other metric ids
type Expression struct {
	Formula string
}

// Custom delegates to a named calculator
type Custom struct {
	Calculator string
	DependsOn  []string
	Params     yaml.Node
}

func (APIField) Kind() SourceKind    { return KindAPIField }
func (Aggregation) Kind() SourceKind { return KindAggregation }
func (Expression) Kind() SourceKind  { return KindExpression }
func (Custom) Kind() SourceKind      { return KindCustom }

func (APIField) isSource()    {}
func (Aggregation) isSource() {}
func (Expression) isSource()  {}
func (Custom) isSource()      {}

// DecodeParams decodes the calculator parameter bag into v
func (c Custom) DecodeParams(v interface{}) error {
	if c.Params.Kind == 0 {
		return nil
	}
	if err := c.Params.Decode(v); err != nil {
		return fmt.Errorf("custom %s params: %w", c.Calculator, err)
	}
	return nil
}

// Metric is one configured metric
// ⭐ SSOT: 메트릭 정의는 catalog YAML에서만
type Metric struct {
	ID          string
	Domain      string
	Description string
	Source      Source
	Order       int // 선언 순서 (스케줄 tie-break)
}

// Domain groups metrics in declaration order
type Domain struct {
	Name    string
	Metrics []Metric
}

// TransformKind selects a built-in transform implementation
type TransformKind string

const (
	TransformTTM  TransformKind = "ttm"
	TransformQoQ  TransformKind = "qoq"
	TransformYoY  TransformKind = "yoy"
	TransformLast TransformKind = "last"
	TransformMean TransformKind = "mean"
)

// KnownTransformKind reports whether k has an implementation
func KnownTransformKind(k TransformKind) bool {
	switch k {
	case TransformTTM, TransformQoQ, TransformYoY, TransformLast, TransformMean:
		return true
	}
	return false
}

// TransformDefinition is a parameterized transform consumed by aggregations
type TransformDefinition struct {
	ID     string             `yaml:"id" json:"id"`
	Kind   TransformKind      `yaml:"kind" json:"kind"`
	Params map[string]float64 `yaml:"params" json:"params,omitempty"`
}

// PositionConfig names the metrics position/disparity are derived from
type PositionConfig struct {
	FairValueMetric string `yaml:"fair_value_metric" json:"fair_value_metric"`
	PriceMetric     string `yaml:"price_metric" json:"price_metric"`
}

// Enabled reports whether position derivation is configured
func (p PositionConfig) Enabled() bool {
	return p.FairValueMetric != "" && p.PriceMetric != ""
}

// Catalog is the full read-only definition set of one run
type Catalog struct {
	Endpoints  map[string]provider.Endpoint
	Transforms map[string]TransformDefinition
	Domains    []Domain
	Metrics    []Metric // 선언 순서
	Position   PositionConfig
	Hash       string

	byID map[string]int
}

// Metric looks up a metric by id
func (c *Catalog) Metric(id string) (Metric, bool) {
	idx, ok := c.byID[id]
	if !ok {
		return Metric{}, false
	}
	return c.Metrics[idx], true
}

// Endpoint looks up an endpoint by id
func (c *Catalog) Endpoint(id string) (provider.Endpoint, bool) {
	ep, ok := c.Endpoints[id]
	return ep, ok
}

// MetricIDs returns every metric id in declaration order
func (c *Catalog) MetricIDs() []string {
	ids := make([]string, len(c.Metrics))
	for i, m := range c.Metrics {
		ids[i] = m.ID
	}
	return ids
}
