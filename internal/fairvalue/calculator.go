package fairvalue

import (
	"fmt"
	"math"

	"github.com/guregu/null/v6"

	"github.com/wonny/metricengine/internal/contracts"
	"github.com/wonny/metricengine/internal/definition"
	"github.com/wonny/metricengine/internal/engine"
	"github.com/wonny/metricengine/internal/provider"
)

// Name is the calculator name used in catalogs
const Name = "sector_fair_value"

// Multiple is one candidate valuation multiple
type Multiple struct {
	Name   string `yaml:"name"`
	Metric string `yaml:"metric"`
}

// Config is the parameter bag of a sector fair value metric
type Config struct {
	PeerEndpoint  string     `yaml:"peer_endpoint"`
	PeerField     string     `yaml:"peer_field"`
	MaxPeers      int        `yaml:"max_peers"`
	IQRFactor     float64    `yaml:"iqr_factor"`
	MinPeerValues int        `yaml:"min_peer_values"`
	PriceMetric   string     `yaml:"price_metric"`
	Multiples     []Multiple `yaml:"multiples"` // 우선순위 순
}

// DefaultMultiples is the PER > PBR > PSR priority
var DefaultMultiples = []Multiple{
	{Name: "PER", Metric: "per"},
	{Name: "PBR", Metric: "pbr"},
	{Name: "PSR", Metric: "psr"},
}

// Calculator derives a fair price from peer sector-average multiples
// ⭐ SSOT: 적정가 계산은 여기서만
type Calculator struct {
	defaultMaxPeers int
}

// New creates the calculator. defaultMaxPeers applies when a metric sets no max_peers.
func New(defaultMaxPeers int) *Calculator {
	return &Calculator{defaultMaxPeers: defaultMaxPeers}
}

// Name implements engine.Calculator
func (c *Calculator) Name() string {
	return Name
}

// Prepare validates the parameters of one fair value metric
func (c *Calculator) Prepare(spec definition.Custom, cat *definition.Catalog) (engine.Prepared, error) {
	cfg := Config{}
	if err := spec.DecodeParams(&cfg); err != nil {
		return nil, err
	}

	if cfg.PeerEndpoint == "" {
		cfg.PeerEndpoint = "peers"
	}
	if cfg.PeerField == "" {
		cfg.PeerField = "peers"
	}
	if cfg.MaxPeers == 0 {
		cfg.MaxPeers = c.defaultMaxPeers
	}
	if cfg.IQRFactor == 0 {
		cfg.IQRFactor = 1.5
	}
	if cfg.MinPeerValues == 0 {
		cfg.MinPeerValues = 2
	}
	if cfg.PriceMetric == "" {
		cfg.PriceMetric = "price"
	}
	if len(cfg.Multiples) == 0 {
		cfg.Multiples = append([]Multiple(nil), DefaultMultiples...)
	}

	ep, ok := cat.Endpoint(cfg.PeerEndpoint)
	if !ok {
		return nil, fmt.Errorf("unknown peer endpoint %q", cfg.PeerEndpoint)
	}
	if cfg.MaxPeers < 0 || cfg.IQRFactor < 0 || cfg.MinPeerValues < 1 {
		return nil, fmt.Errorf("max_peers, iqr_factor must be >= 0 and min_peer_values >= 1")
	}
	for i, m := range cfg.Multiples {
		if m.Metric == "" {
			return nil, fmt.Errorf("multiples[%d]: metric is required", i)
		}
		if m.Name == "" {
			cfg.Multiples[i].Name = m.Metric
		}
	}

	return &prepared{cfg: cfg, peerEndpoint: ep}, nil
}

type prepared struct {
	cfg          Config
	peerEndpoint provider.Endpoint
}

func (p *prepared) Dependencies() []string {
	deps := []string{p.cfg.PriceMetric}
	for _, m := range p.cfg.Multiples {
		deps = append(deps, m.Metric)
	}
	return deps
}

// Endpoints is empty: the peer list is resolved through the run store, not the ticker prefetch
func (p *prepared) Endpoints() []provider.Endpoint {
	return nil
}

func (p *prepared) multipleIDs() []string {
	ids := make([]string, len(p.cfg.Multiples))
	for i, m := range p.cfg.Multiples {
		ids[i] = m.Metric
	}
	return ids
}

// Evaluate runs peer evaluation, IQR averaging and the priority formula
func (p *prepared) Evaluate(ec *engine.EvalContext) (null.Float, map[string]interface{}, error) {
	detail := map[string]interface{}{}

	peers, err := ec.Peers(p.peerEndpoint.ID, p.cfg.PeerField, p.cfg.MaxPeers)
	if err != nil {
		return null.Float{}, detail, fmt.Errorf("%w: %v", contracts.ErrPeerDataUnavailable, err)
	}
	detail["peers"] = peers
	if len(peers) == 0 {
		return null.Float{}, detail, fmt.Errorf("%w: no peers", contracts.ErrPeerDataUnavailable)
	}

	ids := p.multipleIDs()
	samples := make(map[string][]float64, len(ids))
	for _, peer := range peers {
		values := ec.EvaluatePeer(peer, ids)
		for _, id := range ids {
			v := values[id]
			if v.Valid && !math.IsNaN(v.Float64) && !math.IsInf(v.Float64, 0) {
				samples[id] = append(samples[id], v.Float64)
			}
		}
	}

	price := ec.Value(p.cfg.PriceMetric)
	averages := make(map[string]interface{}, len(p.cfg.Multiples))

	for _, m := range p.cfg.Multiples {
		avg, kept := TrimmedMean(samples[m.Metric], p.cfg.IQRFactor, p.cfg.MinPeerValues)
		if !avg.Valid {
			averages[m.Name] = nil
			continue
		}
		averages[m.Name] = avg.Float64

		current := ec.Value(m.Metric)
		if !current.Valid || current.Float64 == 0 || !price.Valid {
			continue
		}

		fair := avg.Float64 * (price.Float64 / current.Float64)
		if math.IsNaN(fair) || math.IsInf(fair, 0) {
			continue
		}

		detail["multiple"] = m.Name
		detail["sector_average"] = avg.Float64
		detail["current_multiple"] = current.Float64
		detail["peer_values"] = kept
		detail["sector_averages"] = averages
		return null.FloatFrom(fair), detail, nil
	}

	detail["sector_averages"] = averages
	return null.Float{}, detail, fmt.Errorf("%w: no candidate multiple resolved", contracts.ErrPeerDataUnavailable)
}

// Derive computes position and disparity from fair value and price
func Derive(fair, price null.Float) (contracts.Position, null.Float) {
	if !fair.Valid || !price.Valid {
		return contracts.PositionUndefined, null.Float{}
	}

	position := contracts.PositionUndefined
	switch {
	case fair.Float64 > price.Float64:
		position = contracts.PositionLong
	case fair.Float64 < price.Float64:
		position = contracts.PositionShort
	}

	if price.Float64 == 0 {
		return position, null.Float{}
	}
	return position, null.FloatFrom(fair.Float64/price.Float64 - 1)
}
