package definition

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/wonny/metricengine/internal/provider"
)

// ValidationError is a fatal catalog error
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

type fileSpec struct {
	Endpoints  []provider.Endpoint   `yaml:"endpoints"`
	Transforms []TransformDefinition `yaml:"transforms"`
	Domains    []domainSpec          `yaml:"domains"`
	Position   PositionConfig        `yaml:"position"`
}

type domainSpec struct {
	Name    string       `yaml:"name"`
	Metrics []metricSpec `yaml:"metrics"`
}

type metricSpec struct {
	ID          string           `yaml:"id"`
	Description string           `yaml:"description"`
	APIField    *apiFieldSpec    `yaml:"api_field"`
	Aggregation *aggregationSpec `yaml:"aggregation"`
	Expression  *expressionSpec  `yaml:"expression"`
	Custom      *customSpec      `yaml:"custom"`
}

type apiFieldSpec struct {
	Endpoint string `yaml:"endpoint"`
	Path     string `yaml:"path"`
}

type aggregationSpec struct {
	Base      string             `yaml:"base"`
	Transform string             `yaml:"transform"`
	Params    map[string]float64 `yaml:"params"`
}

type expressionSpec struct {
	Formula string `yaml:"formula"`
}

type customSpec struct {
	Calculator string    `yaml:"calculator"`
	DependsOn  []string  `yaml:"depends_on"`
	Params     yaml.Node `yaml:"params"`
}

// Load reads and validates a catalog file
// KnownFields(true)로 오타/미사용 필드 즉시 실패
func Load(path string) (*Catalog, []byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, err
	}

	cat, err := Parse(data)
	if err != nil {
		return nil, data, err
	}
	return cat, data, nil
}

// Parse decodes and validates catalog YAML
func Parse(data []byte) (*Catalog, error) {
	var spec fileSpec
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&spec); err != nil {
		return nil, fmt.Errorf("decode definitions: %w", err)
	}

	cat := &Catalog{
		Endpoints:  make(map[string]provider.Endpoint, len(spec.Endpoints)),
		Transforms: make(map[string]TransformDefinition, len(spec.Transforms)),
		Position:   spec.Position,
		Hash:       Hash(data),
		byID:       make(map[string]int),
	}

	for i, ep := range spec.Endpoints {
		ep.Normalize()
		if err := ep.Validate(); err != nil {
			return nil, ValidationError{fmt.Sprintf("endpoints[%d]", i), err.Error()}
		}
		if _, dup := cat.Endpoints[ep.ID]; dup {
			return nil, ValidationError{fmt.Sprintf("endpoints[%d]", i), fmt.Sprintf("duplicate endpoint id %q", ep.ID)}
		}
		cat.Endpoints[ep.ID] = ep
	}

	for i, tr := range spec.Transforms {
		field := fmt.Sprintf("transforms[%d]", i)
		if tr.ID == "" {
			return nil, ValidationError{field, "id is required"}
		}
		if !KnownTransformKind(tr.Kind) {
			return nil, ValidationError{field, fmt.Sprintf("unknown transform kind %q", tr.Kind)}
		}
		if _, dup := cat.Transforms[tr.ID]; dup {
			return nil, ValidationError{field, fmt.Sprintf("duplicate transform id %q", tr.ID)}
		}
		cat.Transforms[tr.ID] = tr
	}

	seenDomain := make(map[string]bool)
	for di, ds := range spec.Domains {
		field := fmt.Sprintf("domains[%d]", di)
		name := strings.TrimSpace(ds.Name)
		if name == "" {
			return nil, ValidationError{field, "name is required"}
		}
		if seenDomain[name] {
			return nil, ValidationError{field, fmt.Sprintf("duplicate domain %q", name)}
		}
		seenDomain[name] = true

		domain := Domain{Name: name}
		for mi, ms := range ds.Metrics {
			mfield := fmt.Sprintf("%s.metrics[%d]", field, mi)
			m, err := buildMetric(ms, name, len(cat.Metrics))
			if err != nil {
				return nil, ValidationError{mfield, err.Error()}
			}
			if _, dup := cat.byID[m.ID]; dup {
				return nil, ValidationError{mfield, fmt.Sprintf("duplicate metric id %q", m.ID)}
			}
			cat.byID[m.ID] = len(cat.Metrics)
			cat.Metrics = append(cat.Metrics, m)
			domain.Metrics = append(domain.Metrics, m)
		}
		cat.Domains = append(cat.Domains, domain)
	}

	if p := cat.Position; p.FairValueMetric != "" || p.PriceMetric != "" {
		if !p.Enabled() {
			return nil, ValidationError{"position", "fair_value_metric and price_metric must be set together"}
		}
	}

	return cat, nil
}

func buildMetric(ms metricSpec, domain string, order int) (Metric, error) {
	id := strings.TrimSpace(ms.ID)
	if id == "" {
		return Metric{}, fmt.Errorf("id is required")
	}

	var sources []Source
	if ms.APIField != nil {
		sources = append(sources, APIField{Endpoint: ms.APIField.Endpoint, Path: ms.APIField.Path})
	}
	if ms.Aggregation != nil {
		sources = append(sources, Aggregation{
			Base:      ms.Aggregation.Base,
			Transform: ms.Aggregation.Transform,
			Params:    ms.Aggregation.Params,
		})
	}
	if ms.Expression != nil {
		sources = append(sources, Expression{Formula: ms.Expression.Formula})
	}
	if ms.Custom != nil {
		sources = append(sources, Custom{
			Calculator: ms.Custom.Calculator,
			DependsOn:  ms.Custom.DependsOn,
			Params:     ms.Custom.Params,
		})
	}

	if len(sources) != 1 {
		return Metric{}, fmt.Errorf("metric %q must declare exactly one of api_field, aggregation, expression, custom (got %d)", id, len(sources))
	}

	return Metric{
		ID:          id,
		Domain:      domain,
		Description: ms.Description,
		Source:      sources[0],
		Order:       order,
	}, nil
}

// Hash returns the SHA256 of the catalog source bytes
func Hash(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// Store loads definitions once per run
type Store interface {
	LoadCatalog(ctx context.Context) (*Catalog, error)
}

// FileStore reads the catalog from a YAML file on every load
type FileStore struct {
	path string
}

// NewFileStore creates a file-backed definition store
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

// Path returns the catalog file path
func (s *FileStore) Path() string {
	return s.path
}

// LoadCatalog reads the whole catalog
func (s *FileStore) LoadCatalog(ctx context.Context) (*Catalog, error) {
	cat, _, err := Load(s.path)
	if err != nil {
		return nil, fmt.Errorf("load definitions %s: %w", s.path, err)
	}
	return cat, nil
}

// LoadMetricDefinitions returns the metrics grouped by domain
func (s *FileStore) LoadMetricDefinitions(ctx context.Context) ([]Domain, error) {
	cat, err := s.LoadCatalog(ctx)
	if err != nil {
		return nil, err
	}
	return cat.Domains, nil
}

// LoadTransformDefinitions returns the transforms by id
func (s *FileStore) LoadTransformDefinitions(ctx context.Context) (map[string]TransformDefinition, error) {
	cat, err := s.LoadCatalog(ctx)
	if err != nil {
		return nil, err
	}
	return cat.Transforms, nil
}

// StaticStore serves an already parsed catalog
type StaticStore struct {
	Catalog *Catalog
}

// LoadCatalog returns the wrapped catalog
func (s StaticStore) LoadCatalog(ctx context.Context) (*Catalog, error) {
	if s.Catalog == nil {
		return nil, fmt.Errorf("no catalog loaded")
	}
	return s.Catalog, nil
}
