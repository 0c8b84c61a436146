package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/ashita-ai/senro/internal/model"
)

// UpsertSpan persists a span row keyed by (trace_id, span_id). Re-exporting
// the same span replaces the row in place, so retried export batches leave
// exactly one row per span.
func (db *DB) UpsertSpan(ctx context.Context, row model.SpanRow) error {
	err := db.withWriteRetry(ctx, func() error {
		_, err := db.pool.Exec(ctx,
			`INSERT INTO spans (trace_id, span_id, name, span_type, parent_span_id, session_id, experiment, content, created_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
			 ON CONFLICT (trace_id, span_id) DO UPDATE
			 SET name = EXCLUDED.name,
			     span_type = EXCLUDED.span_type,
			     parent_span_id = EXCLUDED.parent_span_id,
			     experiment = EXCLUDED.experiment,
			     content = EXCLUDED.content`,
			row.TraceID, row.SpanID, row.Name, row.SpanType, row.ParentSpanID,
			row.SessionID, row.Experiment, row.Content, time.Now().UTC(),
		)
		return err
	})
	if err != nil {
		return fmt.Errorf("storage: upsert span %s/%s: %w", row.TraceID, row.SpanID, err)
	}
	return nil
}

// ListSpansByTrace returns all spans belonging to the given traces, ordered
// by trace then span id for deterministic reconstruction input.
func (db *DB) ListSpansByTrace(ctx context.Context, traceIDs []string) ([]model.SpanRow, error) {
	if len(traceIDs) == 0 {
		return nil, nil
	}
	rows, err := db.pool.Query(ctx,
		`SELECT trace_id, span_id, name, span_type, parent_span_id, session_id, experiment, content
		 FROM spans WHERE trace_id = ANY($1)
		 ORDER BY trace_id, span_id`, traceIDs,
	)
	if err != nil {
		return nil, fmt.Errorf("storage: list spans by trace: %w", err)
	}
	defer rows.Close()
	return scanSpanRows(rows)
}

// ListSpansBySession returns all spans recorded for a session.
func (db *DB) ListSpansBySession(ctx context.Context, sessionID string) ([]model.SpanRow, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT trace_id, span_id, name, span_type, parent_span_id, session_id, experiment, content
		 FROM spans WHERE session_id = $1
		 ORDER BY trace_id, span_id`, sessionID,
	)
	if err != nil {
		return nil, fmt.Errorf("storage: list spans by session: %w", err)
	}
	defer rows.Close()
	return scanSpanRows(rows)
}

type rowScanner interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
}

func scanSpanRows(rows rowScanner) ([]model.SpanRow, error) {
	var out []model.SpanRow
	for rows.Next() {
		var r model.SpanRow
		if err := rows.Scan(
			&r.TraceID, &r.SpanID, &r.Name, &r.SpanType, &r.ParentSpanID,
			&r.SessionID, &r.Experiment, &r.Content,
		); err != nil {
			return nil, fmt.Errorf("storage: scan span row: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
