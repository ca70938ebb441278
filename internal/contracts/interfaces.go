package contracts

import "context"

// EventSource loads the events that need computed metrics
// ⭐ SSOT: 이벤트 로딩 인터페이스
type EventSource interface {
	LoadEvents(ctx context.Context, filter EventFilter) ([]Event, error)
}

// ResultSink persists computed results
// ⭐ SSOT: 결과 저장 인터페이스
type ResultSink interface {
	BatchUpsert(ctx context.Context, results []EventResult, policy OverwritePolicy) (int, error)
}
