package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/ashita-ai/senro/internal/model"
)

// SummaryLine is the persisted denormalized view of one line run within a
// session: the main run's data plus evaluations keyed by display name.
type SummaryLine struct {
	SessionID   string
	LineRunID   string
	TraceID     string
	Data        model.LineRunData
	Evaluations map[string]model.LineRunData
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// CreateSummaryLine inserts the main summary row for a line run. The write
// is insert-if-absent: a retried export of the same root span finds the row
// already present and succeeds without touching it.
func (db *DB) CreateSummaryLine(ctx context.Context, sessionID string, data model.LineRunData) error {
	content, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("storage: marshal summary line %s: %w", data.LineRunID, err)
	}
	now := time.Now().UTC()
	_, err = db.pool.Exec(ctx,
		`INSERT INTO line_summaries (session_id, line_run_id, trace_id, content, evaluations, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, '{}'::jsonb, $5, $5)
		 ON CONFLICT (session_id, line_run_id) DO NOTHING`,
		sessionID, data.LineRunID, data.TraceID, content, now,
	)
	if err != nil {
		return fmt.Errorf("storage: create summary line %s: %w", data.LineRunID, err)
	}
	return nil
}

// PatchEvaluation attaches one evaluation to an existing main summary row
// under the given display name. The update is a single targeted jsonb_set so
// concurrent evaluators patching different names never clobber each other.
//
// Returns *ErrMainLineRunMissing when the main row does not exist.
func (db *DB) PatchEvaluation(ctx context.Context, sessionID, mainLineRunID, name string, eval model.LineRunData) error {
	content, err := json.Marshal(eval)
	if err != nil {
		return fmt.Errorf("storage: marshal evaluation %q: %w", name, err)
	}
	var tag pgconn.CommandTag
	err = db.withWriteRetry(ctx, func() error {
		var execErr error
		tag, execErr = db.pool.Exec(ctx,
			`UPDATE line_summaries
			 SET evaluations = jsonb_set(evaluations, ARRAY[$1], $2::jsonb, true),
			     updated_at = $3
			 WHERE session_id = $4 AND line_run_id = $5`,
			name, content, time.Now().UTC(), sessionID, mainLineRunID,
		)
		return execErr
	})
	if err != nil {
		return fmt.Errorf("storage: patch evaluation %q onto %s: %w", name, mainLineRunID, err)
	}
	if tag.RowsAffected() == 0 {
		return &ErrMainLineRunMissing{LineRunID: mainLineRunID, Evaluator: name}
	}
	return nil
}

// GetSummaryLine retrieves one line run's summary, scoped to a session.
func (db *DB) GetSummaryLine(ctx context.Context, sessionID, lineRunID string) (SummaryLine, error) {
	var (
		line        SummaryLine
		content     []byte
		evaluations []byte
	)
	err := db.pool.QueryRow(ctx,
		`SELECT session_id, line_run_id, trace_id, content, evaluations, created_at, updated_at
		 FROM line_summaries WHERE session_id = $1 AND line_run_id = $2`,
		sessionID, lineRunID,
	).Scan(&line.SessionID, &line.LineRunID, &line.TraceID, &content, &evaluations, &line.CreatedAt, &line.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return SummaryLine{}, fmt.Errorf("storage: summary line %s: %w", lineRunID, ErrNotFound)
		}
		return SummaryLine{}, fmt.Errorf("storage: get summary line %s: %w", lineRunID, err)
	}
	if err := unmarshalSummary(&line, content, evaluations); err != nil {
		return SummaryLine{}, err
	}
	return line, nil
}

// FindSummaryLine retrieves one line run's summary by line run ID alone,
// without a session scope. Resolved line-run ids (explicit attribute, batch
// id plus line number, or trace id) do not repeat across sessions in
// practice; should they ever collide, the newest row wins.
func (db *DB) FindSummaryLine(ctx context.Context, lineRunID string) (SummaryLine, error) {
	var (
		line        SummaryLine
		content     []byte
		evaluations []byte
	)
	err := db.pool.QueryRow(ctx,
		`SELECT session_id, line_run_id, trace_id, content, evaluations, created_at, updated_at
		 FROM line_summaries WHERE line_run_id = $1
		 ORDER BY created_at DESC LIMIT 1`,
		lineRunID,
	).Scan(&line.SessionID, &line.LineRunID, &line.TraceID, &content, &evaluations, &line.CreatedAt, &line.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return SummaryLine{}, fmt.Errorf("storage: summary line %s: %w", lineRunID, ErrNotFound)
		}
		return SummaryLine{}, fmt.Errorf("storage: find summary line %s: %w", lineRunID, err)
	}
	if err := unmarshalSummary(&line, content, evaluations); err != nil {
		return SummaryLine{}, err
	}
	return line, nil
}

// ListSummaryLines returns a session's line runs ordered by start time
// descending, newest first.
func (db *DB) ListSummaryLines(ctx context.Context, sessionID string, limit, offset int) ([]SummaryLine, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := db.pool.Query(ctx,
		`SELECT session_id, line_run_id, trace_id, content, evaluations, created_at, updated_at
		 FROM line_summaries WHERE session_id = $1
		 ORDER BY (content->>'start_time') DESC
		 LIMIT $2 OFFSET $3`,
		sessionID, limit, offset,
	)
	if err != nil {
		return nil, fmt.Errorf("storage: list summary lines: %w", err)
	}
	defer rows.Close()

	var out []SummaryLine
	for rows.Next() {
		var (
			line        SummaryLine
			content     []byte
			evaluations []byte
		)
		if err := rows.Scan(&line.SessionID, &line.LineRunID, &line.TraceID, &content, &evaluations, &line.CreatedAt, &line.UpdatedAt); err != nil {
			return nil, fmt.Errorf("storage: scan summary line: %w", err)
		}
		if err := unmarshalSummary(&line, content, evaluations); err != nil {
			return nil, err
		}
		out = append(out, line)
	}
	return out, rows.Err()
}

func unmarshalSummary(line *SummaryLine, content, evaluations []byte) error {
	if err := json.Unmarshal(content, &line.Data); err != nil {
		return fmt.Errorf("storage: unmarshal summary line %s: %w", line.LineRunID, err)
	}
	line.Evaluations = map[string]model.LineRunData{}
	if len(evaluations) > 0 {
		if err := json.Unmarshal(evaluations, &line.Evaluations); err != nil {
			return fmt.Errorf("storage: unmarshal evaluations for %s: %w", line.LineRunID, err)
		}
	}
	return nil
}
