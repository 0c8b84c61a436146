// Package localdb provides a local SQLite span store for single-machine
// use, when no Postgres backend is configured. It mirrors the storage
// package's contracts: idempotent span upsert, insert-if-absent summary
// rows, targeted evaluation patches.
package localdb

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	_ "modernc.org/sqlite"

	"github.com/ashita-ai/senro/internal/model"
	"github.com/ashita-ai/senro/internal/storage"
)

const schema = `
CREATE TABLE IF NOT EXISTS spans (
    trace_id        TEXT NOT NULL,
    span_id         TEXT NOT NULL,
    name            TEXT NOT NULL,
    span_type       TEXT NOT NULL DEFAULT 'default',
    parent_span_id  TEXT NOT NULL DEFAULT '',
    session_id      TEXT NOT NULL,
    experiment      TEXT NOT NULL DEFAULT '',
    content         TEXT NOT NULL,
    created_at      TEXT NOT NULL,
    PRIMARY KEY (trace_id, span_id)
);

CREATE INDEX IF NOT EXISTS idx_spans_session ON spans (session_id);

CREATE TABLE IF NOT EXISTS line_summaries (
    session_id   TEXT NOT NULL,
    line_run_id  TEXT NOT NULL,
    trace_id     TEXT NOT NULL,
    content      TEXT NOT NULL,
    evaluations  TEXT NOT NULL DEFAULT '{}',
    created_at   TEXT NOT NULL,
    updated_at   TEXT NOT NULL,
    PRIMARY KEY (session_id, line_run_id)
);
`

// Store is a SQLite-backed span and summary store.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

// Open opens (and initializes) the local database at path. Use ":memory:"
// for an ephemeral store.
func Open(ctx context.Context, path string, logger *slog.Logger) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("localdb: open %s: %w", path, err)
	}
	// SQLite allows one writer; serialize through a single connection to
	// avoid SQLITE_BUSY under concurrent exports.
	db.SetMaxOpenConns(1)
	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("localdb: init schema: %w", err)
	}
	return &Store{db: db, logger: logger}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// UpsertSpan persists a span row keyed by (trace_id, span_id). Same
// contract as the Postgres store: re-export replaces in place.
func (s *Store) UpsertSpan(ctx context.Context, row model.SpanRow) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO spans (trace_id, span_id, name, span_type, parent_span_id, session_id, experiment, content, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (trace_id, span_id) DO UPDATE
		 SET name = excluded.name,
		     span_type = excluded.span_type,
		     parent_span_id = excluded.parent_span_id,
		     experiment = excluded.experiment,
		     content = excluded.content`,
		row.TraceID, row.SpanID, row.Name, row.SpanType, row.ParentSpanID,
		row.SessionID, row.Experiment, string(row.Content), time.Now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("localdb: upsert span %s/%s: %w", row.TraceID, row.SpanID, err)
	}
	return nil
}

// ListSpansByTrace returns all spans belonging to the given traces.
func (s *Store) ListSpansByTrace(ctx context.Context, traceIDs []string) ([]model.SpanRow, error) {
	if len(traceIDs) == 0 {
		return nil, nil
	}
	query := `SELECT trace_id, span_id, name, span_type, parent_span_id, session_id, experiment, content
	          FROM spans WHERE trace_id IN (?` // length >= 1
	args := []any{traceIDs[0]}
	for _, id := range traceIDs[1:] {
		query += ", ?"
		args = append(args, id)
	}
	query += ") ORDER BY trace_id, span_id"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("localdb: list spans by trace: %w", err)
	}
	defer rows.Close()
	return scanSpanRows(rows)
}

// ListSpansBySession returns all spans recorded for a session.
func (s *Store) ListSpansBySession(ctx context.Context, sessionID string) ([]model.SpanRow, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT trace_id, span_id, name, span_type, parent_span_id, session_id, experiment, content
		 FROM spans WHERE session_id = ?
		 ORDER BY trace_id, span_id`, sessionID,
	)
	if err != nil {
		return nil, fmt.Errorf("localdb: list spans by session: %w", err)
	}
	defer rows.Close()
	return scanSpanRows(rows)
}

func scanSpanRows(rows *sql.Rows) ([]model.SpanRow, error) {
	var out []model.SpanRow
	for rows.Next() {
		var (
			r       model.SpanRow
			content string
		)
		if err := rows.Scan(
			&r.TraceID, &r.SpanID, &r.Name, &r.SpanType, &r.ParentSpanID,
			&r.SessionID, &r.Experiment, &content,
		); err != nil {
			return nil, fmt.Errorf("localdb: scan span row: %w", err)
		}
		r.Content = []byte(content)
		out = append(out, r)
	}
	return out, rows.Err()
}

// CreateSummaryLine inserts the main summary row, insert-if-absent.
func (s *Store) CreateSummaryLine(ctx context.Context, sessionID string, data model.LineRunData) error {
	content, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("localdb: marshal summary line %s: %w", data.LineRunID, err)
	}
	now := time.Now().UTC().Format(time.RFC3339Nano)
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO line_summaries (session_id, line_run_id, trace_id, content, evaluations, created_at, updated_at)
		 VALUES (?, ?, ?, ?, '{}', ?, ?)
		 ON CONFLICT (session_id, line_run_id) DO NOTHING`,
		sessionID, data.LineRunID, data.TraceID, string(content), now, now,
	)
	if err != nil {
		return fmt.Errorf("localdb: create summary line %s: %w", data.LineRunID, err)
	}
	return nil
}

// PatchEvaluation attaches one evaluation under the given display name via
// a targeted json_set, same contract as the Postgres store.
func (s *Store) PatchEvaluation(ctx context.Context, sessionID, mainLineRunID, name string, eval model.LineRunData) error {
	content, err := json.Marshal(eval)
	if err != nil {
		return fmt.Errorf("localdb: marshal evaluation %q: %w", name, err)
	}
	path := "$." + strconv.Quote(name)
	res, err := s.db.ExecContext(ctx,
		`UPDATE line_summaries
		 SET evaluations = json_set(evaluations, ?, json(?)),
		     updated_at = ?
		 WHERE session_id = ? AND line_run_id = ?`,
		path, string(content), time.Now().UTC().Format(time.RFC3339Nano), sessionID, mainLineRunID,
	)
	if err != nil {
		return fmt.Errorf("localdb: patch evaluation %q onto %s: %w", name, mainLineRunID, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("localdb: patch evaluation %q: rows affected: %w", name, err)
	}
	if affected == 0 {
		return &storage.ErrMainLineRunMissing{LineRunID: mainLineRunID, Evaluator: name}
	}
	return nil
}

// GetSummaryLine retrieves one line run's summary, scoped to a session.
func (s *Store) GetSummaryLine(ctx context.Context, sessionID, lineRunID string) (storage.SummaryLine, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT session_id, line_run_id, trace_id, content, evaluations, created_at, updated_at
		 FROM line_summaries WHERE session_id = ? AND line_run_id = ?`,
		sessionID, lineRunID,
	)
	return scanSummaryLine(row, lineRunID)
}

// FindSummaryLine retrieves one line run's summary by line run ID alone,
// without a session scope.
func (s *Store) FindSummaryLine(ctx context.Context, lineRunID string) (storage.SummaryLine, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT session_id, line_run_id, trace_id, content, evaluations, created_at, updated_at
		 FROM line_summaries WHERE line_run_id = ?
		 ORDER BY created_at DESC LIMIT 1`,
		lineRunID,
	)
	return scanSummaryLine(row, lineRunID)
}

// ListSummaryLines returns a session's line runs ordered by start time
// descending, newest first.
func (s *Store) ListSummaryLines(ctx context.Context, sessionID string, limit, offset int) ([]storage.SummaryLine, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT session_id, line_run_id, trace_id, content, evaluations, created_at, updated_at
		 FROM line_summaries WHERE session_id = ?
		 ORDER BY json_extract(content, '$.start_time') DESC
		 LIMIT ? OFFSET ?`,
		sessionID, limit, offset,
	)
	if err != nil {
		return nil, fmt.Errorf("localdb: list summary lines: %w", err)
	}
	defer rows.Close()

	var out []storage.SummaryLine
	for rows.Next() {
		line, err := scanSummaryLine(rows, "")
		if err != nil {
			return nil, err
		}
		out = append(out, line)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSummaryLine(row rowScanner, lineRunID string) (storage.SummaryLine, error) {
	var (
		line        storage.SummaryLine
		content     string
		evaluations string
		createdAt   string
		updatedAt   string
	)
	err := row.Scan(&line.SessionID, &line.LineRunID, &line.TraceID, &content, &evaluations, &createdAt, &updatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return storage.SummaryLine{}, fmt.Errorf("localdb: summary line %s: %w", lineRunID, storage.ErrNotFound)
		}
		return storage.SummaryLine{}, fmt.Errorf("localdb: scan summary line: %w", err)
	}
	if err := json.Unmarshal([]byte(content), &line.Data); err != nil {
		return storage.SummaryLine{}, fmt.Errorf("localdb: unmarshal summary line %s: %w", line.LineRunID, err)
	}
	line.Evaluations = map[string]model.LineRunData{}
	if err := json.Unmarshal([]byte(evaluations), &line.Evaluations); err != nil {
		return storage.SummaryLine{}, fmt.Errorf("localdb: unmarshal evaluations for %s: %w", line.LineRunID, err)
	}
	line.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	line.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updatedAt)
	return line, nil
}
