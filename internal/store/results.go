package store

import (
	"context"
	"fmt"

	"github.com/guregu/null/v6"
	"github.com/jackc/pgx/v5"

	"github.com/wonny/metricengine/internal/contracts"
	"github.com/wonny/metricengine/pkg/logger"
)

// BatchSender is the subset of pgxpool.Pool used by the result repository
type BatchSender interface {
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
}

// 기존 값과 상관없이 덮어씀 (scope 밖 metric은 EXCLUDED에 없으므로 유지)
const forceUpsertSQL = `
		INSERT INTO metrics.event_values
			(ticker, event_date, source, source_id, computed, provenance, position, disparity, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NOW())
		ON CONFLICT (ticker, event_date, source, source_id) DO UPDATE SET
			computed = metrics.event_values.computed || EXCLUDED.computed,
			provenance = metrics.event_values.provenance || EXCLUDED.provenance,
			position = CASE WHEN $9 THEN EXCLUDED.position ELSE metrics.event_values.position END,
			disparity = CASE WHEN $9 THEN EXCLUDED.disparity ELSE metrics.event_values.disparity END,
			updated_at = NOW()`

// 기존 값이 없거나 null인 key만 채움. position/disparity는 한 쌍으로 채움
const fillNullsUpsertSQL = `
		INSERT INTO metrics.event_values
			(ticker, event_date, source, source_id, computed, provenance, position, disparity, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NOW())
		ON CONFLICT (ticker, event_date, source, source_id) DO UPDATE SET
			computed = metrics.event_values.computed || COALESCE((
				SELECT jsonb_object_agg(n.key, n.value)
				FROM jsonb_each(EXCLUDED.computed) n
				WHERE COALESCE(metrics.event_values.computed -> n.key, 'null'::jsonb) = 'null'::jsonb
			), '{}'::jsonb),
			provenance = metrics.event_values.provenance || COALESCE((
				SELECT jsonb_object_agg(n.key, n.value)
				FROM jsonb_each(EXCLUDED.provenance) n
				WHERE COALESCE(metrics.event_values.computed -> n.key, 'null'::jsonb) = 'null'::jsonb
			), '{}'::jsonb),
			position = CASE
				WHEN $9 AND COALESCE(metrics.event_values.position, 'undefined') = 'undefined' THEN EXCLUDED.position
				ELSE metrics.event_values.position END,
			disparity = CASE
				WHEN $9 AND COALESCE(metrics.event_values.position, 'undefined') = 'undefined' THEN EXCLUDED.disparity
				ELSE metrics.event_values.disparity END,
			updated_at = NOW()`

// Row is one event_values upsert
type Row struct {
	Event           contracts.Event
	Computed        map[string]null.Float
	Provenance      map[string]contracts.Provenance
	Position        contracts.Position
	Disparity       null.Float
	IncludePosition bool // position/disparity도 갱신 대상인지
}

// BuildRows converts results into upsert rows restricted to the policy scope.
// Position and disparity follow the fair value metric: they are written only
// when the scope is empty or names one of positionMetrics.
func BuildRows(results []contracts.EventResult, policy contracts.OverwritePolicy, positionMetrics ...string) []Row {
	includePosition := len(policy.Scope) == 0
	for _, id := range positionMetrics {
		if id != "" && policy.InScope(id) {
			includePosition = true
		}
	}

	rows := make([]Row, 0, len(results))
	for _, res := range results {
		if res.Error != "" {
			continue
		}
		row := Row{
			Event:           res.Event,
			Computed:        make(map[string]null.Float, len(res.Values)),
			Provenance:      make(map[string]contracts.Provenance, len(res.Values)),
			Position:        res.Position,
			Disparity:       res.Disparity,
			IncludePosition: includePosition,
		}
		for id, v := range res.Values {
			if !policy.InScope(id) {
				continue
			}
			row.Computed[id] = v.Value
			row.Provenance[id] = v.Provenance
		}
		if len(row.Computed) == 0 && !includePosition {
			continue
		}
		rows = append(rows, row)
	}
	return rows
}

// ResultRepository implements contracts.ResultSink
// ⭐ SSOT: 계산 결과 저장은 여기서만
type ResultRepository struct {
	db              BatchSender
	positionMetrics []string
	logger          *logger.Logger
}

// NewResultRepository creates a new result repository.
// positionMetrics are the metric ids position/disparity are derived from.
func NewResultRepository(db BatchSender, log *logger.Logger, positionMetrics ...string) *ResultRepository {
	return &ResultRepository{
		db:              db,
		positionMetrics: positionMetrics,
		logger:          log.WithField("module", "store"),
	}
}

// BatchUpsert writes results in one pgx batch and returns the number of rows written
func (r *ResultRepository) BatchUpsert(ctx context.Context, results []contracts.EventResult, policy contracts.OverwritePolicy) (int, error) {
	rows := BuildRows(results, policy, r.positionMetrics...)
	if len(rows) == 0 {
		return 0, nil
	}

	query := fillNullsUpsertSQL
	if policy.Mode == contracts.ForceOverwrite {
		query = forceUpsertSQL
	}

	batch := &pgx.Batch{}
	for _, row := range rows {
		batch.Queue(query,
			row.Event.Ticker, row.Event.Date, row.Event.Source, row.Event.SourceID,
			row.Computed, row.Provenance, string(row.Position), row.Disparity,
			row.IncludePosition,
		)
	}

	br := r.db.SendBatch(ctx, batch)
	defer br.Close()

	written := 0
	for _, row := range rows {
		if _, err := br.Exec(); err != nil {
			return written, fmt.Errorf("failed to upsert %s: %w", row.Event.Key(), err)
		}
		written++
	}

	r.logger.WithFields(map[string]interface{}{
		"rows":  written,
		"mode":  policy.Mode,
		"scope": policy.Scope,
	}).Info("Results upserted")

	return written, nil
}
