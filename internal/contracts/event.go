package contracts

import (
	"fmt"
	"time"
)

// DateLayout is the calendar-day format used across events and provider series
const DateLayout = "2006-01-02"

// Event identifies one (ticker, date, source, source-id) unit of work
// ⭐ SSOT: 계산 대상 이벤트 정의는 여기서만
type Event struct {
	Ticker   string    `json:"ticker"`
	Date     time.Time `json:"event_date"`
	Source   string    `json:"source"`    // e.g. "earnings", "consensus"
	SourceID string    `json:"source_id"` // 원천 테이블의 id
}

// Key returns the merge key of the event
func (e Event) Key() string {
	return fmt.Sprintf("%s|%s|%s|%s", e.Ticker, e.Date.Format(DateLayout), e.Source, e.SourceID)
}

// DateOnly drops the time-of-day so that dates compare as calendar days
func DateOnly(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// EventFilter narrows which events are loaded for a run
type EventFilter struct {
	From    *time.Time
	To      *time.Time
	Tickers []string
}

// GroupByTicker partitions events by ticker, keeping first-seen ticker order
func GroupByTicker(events []Event) ([]string, map[string][]Event) {
	order := make([]string, 0)
	groups := make(map[string][]Event)

	for _, ev := range events {
		if _, seen := groups[ev.Ticker]; !seen {
			order = append(order, ev.Ticker)
		}
		groups[ev.Ticker] = append(groups[ev.Ticker], ev)
	}

	return order, groups
}
