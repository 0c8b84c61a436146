// Package summary mirrors root spans into denormalized line-run summary
// rows as they arrive on the ingest path.
package summary

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/ashita-ai/senro/internal/model"
)

// Store is the summary write contract. Both the Postgres and local SQLite
// stores satisfy it.
type Store interface {
	CreateSummaryLine(ctx context.Context, sessionID string, data model.LineRunData) error
	PatchEvaluation(ctx context.Context, sessionID, mainLineRunID, name string, eval model.LineRunData) error
}

// StoreResolver maps a session to its summary store. Returning false means
// the session has no store association and the span is skipped without
// error: spans from unregistered sessions are expected during local runs.
type StoreResolver interface {
	StoreFor(ctx context.Context, sessionID string) (Store, bool)
}

// StaticResolver resolves every session to one fixed store.
type StaticResolver struct {
	Store Store
}

func (r StaticResolver) StoreFor(context.Context, string) (Store, bool) {
	return r.Store, r.Store != nil
}

// Persister writes line-run summaries for root spans.
type Persister struct {
	resolver StoreResolver
	logger   *slog.Logger
}

// NewPersister builds a Persister.
func NewPersister(resolver StoreResolver, logger *slog.Logger) *Persister {
	return &Persister{resolver: resolver, logger: logger}
}

// Persist mirrors one span into the summary table.
//
// Non-root spans are skipped: only a trace's root carries line-run
// identity. The span's own summary row is always written first; if the
// span evaluates another line run, the evaluation is then attached to that
// run's row with a separate targeted patch. The two writes are deliberately
// not transactional: the create is idempotent and the patch retries safely.
func (p *Persister) Persist(ctx context.Context, span *model.Span) error {
	if !span.IsRoot() {
		return nil
	}
	store, ok := p.resolver.StoreFor(ctx, span.SessionID)
	if !ok {
		p.logger.Debug("summary: no store for session, skipping span",
			"session_id", span.SessionID, "span_id", span.SpanID)
		return nil
	}

	data := model.LineRunDataFromRootSpan(span)
	if err := store.CreateSummaryLine(ctx, span.SessionID, data); err != nil {
		return fmt.Errorf("summary: persist line run %s: %w", data.LineRunID, err)
	}

	if span.HasEvaluationReference() {
		mainID := span.ReferencedLineRunID()
		if err := store.PatchEvaluation(ctx, span.SessionID, mainID, span.Name, data); err != nil {
			return fmt.Errorf("summary: attach evaluation %q to %s: %w", span.Name, mainID, err)
		}
	}
	return nil
}
