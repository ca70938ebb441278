package store

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/wonny/metricengine/internal/contracts"
	"github.com/wonny/metricengine/pkg/logger"
)

// Querier is the subset of pgxpool.Pool used by the event repository
type Querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// EventRepository implements contracts.EventSource
// ⭐ SSOT: 이벤트 조회는 여기서만
type EventRepository struct {
	db     Querier
	logger *logger.Logger
}

// NewEventRepository creates a new event repository
func NewEventRepository(db Querier, log *logger.Logger) *EventRepository {
	return &EventRepository{
		db:     db,
		logger: log.WithField("module", "store"),
	}
}

// LoadEvents returns the events matching filter ordered by ticker, date and source
func (r *EventRepository) LoadEvents(ctx context.Context, filter contracts.EventFilter) ([]contracts.Event, error) {
	query, args := buildEventQuery(filter)

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	defer rows.Close()

	events := make([]contracts.Event, 0)
	for rows.Next() {
		var ev contracts.Event
		if err := rows.Scan(&ev.Ticker, &ev.Date, &ev.Source, &ev.SourceID); err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		ev.Date = contracts.DateOnly(ev.Date)
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read events: %w", err)
	}

	r.logger.WithFields(map[string]interface{}{
		"events":  len(events),
		"tickers": len(filter.Tickers),
	}).Debug("Events loaded")

	return events, nil
}

func buildEventQuery(filter contracts.EventFilter) (string, []any) {
	var (
		where []string
		args  []any
	)

	if filter.From != nil {
		args = append(args, contracts.DateOnly(*filter.From))
		where = append(where, fmt.Sprintf("event_date >= $%d", len(args)))
	}
	if filter.To != nil {
		args = append(args, contracts.DateOnly(*filter.To))
		where = append(where, fmt.Sprintf("event_date <= $%d", len(args)))
	}
	if len(filter.Tickers) > 0 {
		args = append(args, filter.Tickers)
		where = append(where, fmt.Sprintf("ticker = ANY($%d)", len(args)))
	}

	query := `
		SELECT ticker, event_date, source, source_id
		FROM metrics.events`
	if len(where) > 0 {
		query += "\n\t\tWHERE " + strings.Join(where, " AND ")
	}
	query += "\n\t\tORDER BY ticker, event_date, source, source_id"

	return query, args
}
