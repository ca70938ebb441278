package provider

import (
	"fmt"
	"net/url"
	"strings"
)

// Kind describes the shape a provider endpoint returns
type Kind string

const (
	KindSeries Kind = "series" // dated entries, e.g. quarterly statements
	KindObject Kind = "object" // one current snapshot, e.g. profile or peers
)

const tickerPlaceholder = "{ticker}"

// Endpoint is one named provider resource
// ⭐ SSOT: endpoint 정의는 metric catalog(YAML)에서만 로드
type Endpoint struct {
	ID        string            `yaml:"id" json:"id"`
	Path      string            `yaml:"path" json:"path"`
	Kind      Kind              `yaml:"kind" json:"kind"`
	DateField string            `yaml:"date_field" json:"date_field,omitempty"`
	ListKey   string            `yaml:"list_key" json:"list_key,omitempty"` // 객체 안의 배열을 series로 사용
	Params    map[string]string `yaml:"params" json:"params,omitempty"`
	Required  bool              `yaml:"required" json:"required,omitempty"`
}

// Normalize fills defaults
func (e *Endpoint) Normalize() {
	if e.Kind == "" {
		e.Kind = KindSeries
	}
	if e.DateField == "" {
		e.DateField = "date"
	}
}

// Validate checks the endpoint is usable
func (e Endpoint) Validate() error {
	if strings.TrimSpace(e.ID) == "" {
		return fmt.Errorf("endpoint id is required")
	}
	if strings.TrimSpace(e.Path) == "" {
		return fmt.Errorf("endpoint %s: path is required", e.ID)
	}
	switch e.Kind {
	case KindSeries, KindObject:
	default:
		return fmt.Errorf("endpoint %s: unknown kind %q", e.ID, e.Kind)
	}
	return nil
}

// ResolvePath substitutes the ticker into the path template
func (e Endpoint) ResolvePath(ticker string) string {
	return strings.ReplaceAll(e.Path, tickerPlaceholder, url.PathEscape(ticker))
}

// Query renders the endpoint params for ticker
func (e Endpoint) Query(ticker string) url.Values {
	q := url.Values{}
	for k, v := range e.Params {
		q.Set(k, strings.ReplaceAll(v, tickerPlaceholder, ticker))
	}
	return q
}
