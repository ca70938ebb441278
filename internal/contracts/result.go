package contracts

import (
	"time"

	"github.com/guregu/null/v6"
)

// EvalState is the per-metric evaluation state
type EvalState string

const (
	StatePending    EvalState = "pending"
	StateEvaluating EvalState = "evaluating"
	StateResolved   EvalState = "resolved"
	StateFailed     EvalState = "failed"
)

// Period is one dated observation of a series-valued metric
type Period struct {
	Date  time.Time `json:"date"`
	Value float64   `json:"value"`
}

// Provenance explains which data vintage produced a value
type Provenance struct {
	Endpoint     string                 `json:"endpoint,omitempty"`
	AsOf         *time.Time             `json:"as_of,omitempty"`
	Dependencies []string               `json:"dependencies,omitempty"`
	Transform    string                 `json:"transform,omitempty"`
	Calculator   string                 `json:"calculator,omitempty"`
	Periods      []Period               `json:"periods,omitempty"` // transform이 사용한 구간, 최신순
	Detail       map[string]interface{} `json:"detail,omitempty"`
}

// ComputedValue is one metric's outcome for one event
// ⭐ SSOT: 메트릭 계산 결과는 이 구조체로만 전달
type ComputedValue struct {
	MetricID   string     `json:"metric_id"`
	Value      null.Float `json:"value"`
	State      EvalState  `json:"state"`
	Reason     string     `json:"reason,omitempty"`
	Provenance Provenance `json:"provenance"`
}

// Resolved reports whether evaluation finished without a configuration failure
func (v ComputedValue) Resolved() bool {
	return v.State == StateResolved
}

// Position is the long/short stance derived from fair value vs price
type Position string

const (
	PositionLong      Position = "long"
	PositionShort     Position = "short"
	PositionUndefined Position = "undefined"
)

// EventResult carries every requested value for one event.
// Error is set when the event's ticker failed; Values is then empty.
type EventResult struct {
	Event     Event                    `json:"event"`
	Values    map[string]ComputedValue `json:"values"`
	Position  Position                 `json:"position"`
	Disparity null.Float               `json:"disparity"`
	Error     string                   `json:"error,omitempty"`
}

// FailedEventResult is the null record emitted for an event of a failed ticker
func FailedEventResult(ev Event, reason string) EventResult {
	return EventResult{
		Event:    ev,
		Values:   map[string]ComputedValue{},
		Position: PositionUndefined,
		Error:    reason,
	}
}

// Computed keeps only results that carry computed values (persistable)
func Computed(results []EventResult) []EventResult {
	out := make([]EventResult, 0, len(results))
	for _, r := range results {
		if r.Error == "" {
			out = append(out, r)
		}
	}
	return out
}

// OverwriteMode selects how persisted values are replaced
type OverwriteMode string

const (
	FillNullsOnly  OverwriteMode = "fill_nulls_only"
	ForceOverwrite OverwriteMode = "force"
)

// OverwritePolicy is handed to the persistence sink together with results
type OverwritePolicy struct {
	Mode  OverwriteMode `json:"mode"`
	Scope []string      `json:"scope,omitempty"` // 비어 있으면 전체 metric
}

// InScope reports whether metricID is covered by the policy scope
func (p OverwritePolicy) InScope(metricID string) bool {
	if len(p.Scope) == 0 {
		return true
	}
	for _, id := range p.Scope {
		if id == metricID {
			return true
		}
	}
	return false
}

// TickerStatus is the per-ticker outcome in the batch summary
type TickerStatus string

const (
	TickerOK   TickerStatus = "ok"
	TickerFail TickerStatus = "fail"
)

// TickerSummary reports how one ticker's subtask ended
type TickerSummary struct {
	Ticker string       `json:"ticker"`
	Status TickerStatus `json:"status"`
	Events int          `json:"events"`
	Error  string       `json:"error,omitempty"`
}

// DomainSummary reports whether a metric domain could be scheduled
type DomainSummary struct {
	Status TickerStatus `json:"status"`
	Error  string       `json:"error,omitempty"`
}

// BatchSummary aggregates the run outcome
type BatchSummary struct {
	OK           int                      `json:"ok"`
	Fail         int                      `json:"fail"`
	Tickers      []TickerSummary          `json:"tickers"`
	Domains      map[string]DomainSummary `json:"domains"`
	ConfigErrors []string                 `json:"config_errors,omitempty"`
	CatalogHash  string                   `json:"catalog_hash"`
	Persisted    int                      `json:"persisted"`
	StartedAt    time.Time                `json:"started_at"`
	Duration     time.Duration            `json:"duration"`
}

// BatchResult is the value returned by a batch computation
type BatchResult struct {
	Summary BatchSummary  `json:"summary"`
	Results []EventResult `json:"results"`
}
