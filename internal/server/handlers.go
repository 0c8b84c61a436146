package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	coltracepb "go.opentelemetry.io/proto/otlp/collector/trace/v1"
	"google.golang.org/protobuf/proto"

	"github.com/ashita-ai/senro/internal/auth"
	"github.com/ashita-ai/senro/internal/model"
	"github.com/ashita-ai/senro/internal/otlp"
	"github.com/ashita-ai/senro/internal/storage"
	"github.com/ashita-ai/senro/internal/summary"
)

// SpanStore is the storage contract the handlers need. Both the Postgres
// store and the local SQLite store satisfy it.
type SpanStore interface {
	UpsertSpan(ctx context.Context, row model.SpanRow) error
	ListSpansByTrace(ctx context.Context, traceIDs []string) ([]model.SpanRow, error)
	ListSpansBySession(ctx context.Context, sessionID string) ([]model.SpanRow, error)
	FindSummaryLine(ctx context.Context, lineRunID string) (storage.SummaryLine, error)
	GetSummaryLine(ctx context.Context, sessionID, lineRunID string) (storage.SummaryLine, error)
	ListSummaryLines(ctx context.Context, sessionID string, limit, offset int) ([]storage.SummaryLine, error)
}

// HandlersDeps carries the dependencies handlers need.
type HandlersDeps struct {
	Store     SpanStore
	Persister *summary.Persister // nil disables summary mirroring
	JWTMgr    *auth.JWTManager
	Logger    *slog.Logger

	// IngestKeyHash is the Argon2id hash of the bootstrap ingest key that
	// /auth/token accepts. Empty disables token minting.
	IngestKeyHash string

	// MaxBodyBytes bounds request bodies on the ingest path.
	MaxBodyBytes int64

	// Ping checks storage liveness for /health. Optional.
	Ping func(ctx context.Context) error
}

// --- Auth ---

type tokenRequest struct {
	Workspace string `json:"workspace"`
	Scope     string `json:"scope"`
	IngestKey string `json:"ingest_key"`
}

type tokenResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

// handleIssueToken exchanges the bootstrap ingest key for a scoped JWT.
func (d *HandlersDeps) handleIssueToken(w http.ResponseWriter, r *http.Request) {
	var req tokenRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeBadRequest, "invalid request body")
		return
	}
	if req.Workspace == "" {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeBadRequest, "workspace is required")
		return
	}

	if d.IngestKeyHash == "" {
		auth.DummyVerify()
		writeError(w, r, http.StatusUnauthorized, model.ErrCodeUnauthorized, "token minting is not configured")
		return
	}
	valid, err := auth.VerifyIngestKey(req.IngestKey, d.IngestKeyHash)
	if err != nil || !valid {
		writeError(w, r, http.StatusUnauthorized, model.ErrCodeUnauthorized, "invalid ingest key")
		return
	}

	token, expiresAt, err := d.JWTMgr.IssueToken(req.Workspace, req.Scope)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeBadRequest, err.Error())
		return
	}
	writeJSON(w, r, http.StatusOK, tokenResponse{Token: token, ExpiresAt: expiresAt})
}

// --- Ingest ---

// handleExportTraces is the OTLP/HTTP trace export endpoint. The body is a
// protobuf ExportTraceServiceRequest; the response follows OTLP partial
// success semantics, so one bad span never rejects a whole batch.
func (d *HandlersDeps) handleExportTraces(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, d.MaxBodyBytes))
	if err != nil {
		writeError(w, r, http.StatusRequestEntityTooLarge, model.ErrCodeBadRequest, "request body too large")
		return
	}

	var req coltracepb.ExportTraceServiceRequest
	if err := proto.Unmarshal(body, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeBadRequest, "invalid protobuf payload")
		return
	}

	var spans []*model.Span
	var rejected []error
	for _, rs := range req.GetResourceSpans() {
		converted, errs := otlp.SpansFromResourceSpans(rs)
		spans = append(spans, converted...)
		rejected = append(rejected, errs...)
	}

	// Cumulative token counts are filled per trace so an LLM call's usage
	// rolls up through its own lineage only.
	for _, group := range groupByTrace(spans) {
		model.EnrichCumulativeTokenCounts(group)
	}

	ctx := r.Context()
	stored := 0
	for _, span := range spans {
		row, err := span.ToRow()
		if err != nil {
			rejected = append(rejected, err)
			continue
		}
		if err := d.Store.UpsertSpan(ctx, row); err != nil {
			rejected = append(rejected, err)
			continue
		}
		stored++

		if d.Persister != nil {
			if err := d.Persister.Persist(ctx, span); err != nil {
				// Summary mirroring is best-effort on the ingest path: the
				// span itself is stored, so log and keep going.
				d.Logger.Warn("summary persist failed",
					"span_id", span.SpanID,
					"session_id", span.SessionID,
					"error", err,
					"request_id", RequestIDFromContext(ctx),
				)
			}
		}
	}

	d.Logger.Info("trace export",
		"stored", stored,
		"rejected", len(rejected),
		"request_id", RequestIDFromContext(ctx),
	)

	resp := &coltracepb.ExportTraceServiceResponse{}
	if len(rejected) > 0 {
		resp.PartialSuccess = &coltracepb.ExportTracePartialSuccess{
			RejectedSpans: int64(len(rejected)),
			ErrorMessage:  joinErrors(rejected),
		}
	}
	out, err := proto.Marshal(resp)
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, model.ErrCodeInternal, "marshal response")
		return
	}
	w.Header().Set("Content-Type", "application/x-protobuf")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(out)
}

func groupByTrace(spans []*model.Span) map[string][]*model.Span {
	groups := make(map[string][]*model.Span)
	for _, s := range spans {
		groups[s.TraceID] = append(groups[s.TraceID], s)
	}
	return groups
}

func joinErrors(errs []error) string {
	msgs := make([]string, 0, len(errs))
	for _, err := range errs {
		msgs = append(msgs, err.Error())
	}
	return strings.Join(msgs, "; ")
}

// --- Line runs ---

// handleGetLineRun reconstructs one line run from its stored spans: the
// summary row locates the main and evaluation traces, and the live span
// set is regrouped on read.
func (d *HandlersDeps) handleGetLineRun(w http.ResponseWriter, r *http.Request) {
	lineRunID := r.PathValue("line_run_id")
	ctx := r.Context()

	line, err := d.Store.FindSummaryLine(ctx, lineRunID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeError(w, r, http.StatusNotFound, model.ErrCodeNotFound, fmt.Sprintf("line run %s not found", lineRunID))
			return
		}
		d.Logger.Error("find summary line", "line_run_id", lineRunID, "error", err)
		writeError(w, r, http.StatusInternalServerError, model.ErrCodeInternal, "lookup failed")
		return
	}

	traceIDs := []string{line.TraceID}
	for _, eval := range line.Evaluations {
		if eval.TraceID != line.TraceID {
			traceIDs = append(traceIDs, eval.TraceID)
		}
	}

	rows, err := d.Store.ListSpansByTrace(ctx, traceIDs)
	if err != nil {
		d.Logger.Error("list spans by trace", "line_run_id", lineRunID, "error", err)
		writeError(w, r, http.StatusInternalServerError, model.ErrCodeInternal, "span lookup failed")
		return
	}

	spans := make([]*model.Span, 0, len(rows))
	for _, row := range rows {
		span, err := model.SpanFromRow(row)
		if err != nil {
			d.Logger.Warn("skipping undecodable span row",
				"trace_id", row.TraceID, "span_id", row.SpanID, "error", err)
			continue
		}
		spans = append(spans, span)
	}

	run, err := model.ReconstructLineRun(spans)
	if err != nil {
		if errors.Is(err, model.ErrAmbiguousRoot) {
			writeError(w, r, http.StatusConflict, model.ErrCodeConflict, err.Error())
			return
		}
		d.Logger.Error("reconstruct line run", "line_run_id", lineRunID, "error", err)
		writeError(w, r, http.StatusInternalServerError, model.ErrCodeInternal, "reconstruction failed")
		return
	}
	if run == nil {
		// The summary row exists but the main root span has not arrived.
		writeError(w, r, http.StatusNotFound, model.ErrCodeNotFound,
			fmt.Sprintf("line run %s has no root span yet", lineRunID))
		return
	}
	writeJSON(w, r, http.StatusOK, run)
}

type summaryLineResponse struct {
	SessionID   string                       `json:"session_id"`
	LineRunID   string                       `json:"line_run_id"`
	TraceID     string                       `json:"trace_id"`
	Data        model.LineRunData            `json:"data"`
	Evaluations map[string]model.LineRunData `json:"evaluations"`
	CreatedAt   time.Time                    `json:"created_at"`
	UpdatedAt   time.Time                    `json:"updated_at"`
}

// handleListLineRuns lists a session's line-run summaries, newest first.
func (d *HandlersDeps) handleListLineRuns(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("session_id")

	limit := queryInt(r, "limit", 50)
	offset := queryInt(r, "offset", 0)

	lines, err := d.Store.ListSummaryLines(r.Context(), sessionID, limit, offset)
	if err != nil {
		d.Logger.Error("list summary lines", "session_id", sessionID, "error", err)
		writeError(w, r, http.StatusInternalServerError, model.ErrCodeInternal, "list failed")
		return
	}

	out := make([]summaryLineResponse, 0, len(lines))
	for _, line := range lines {
		out = append(out, summaryLineResponse{
			SessionID:   line.SessionID,
			LineRunID:   line.LineRunID,
			TraceID:     line.TraceID,
			Data:        line.Data,
			Evaluations: line.Evaluations,
			CreatedAt:   line.CreatedAt,
			UpdatedAt:   line.UpdatedAt,
		})
	}
	writeJSON(w, r, http.StatusOK, out)
}

func queryInt(r *http.Request, key string, def int) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return def
	}
	return n
}

// --- Health ---

func (d *HandlersDeps) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := map[string]string{"status": "ok"}
	code := http.StatusOK
	if d.Ping != nil {
		if err := d.Ping(r.Context()); err != nil {
			status["status"] = "degraded"
			status["storage"] = err.Error()
			code = http.StatusServiceUnavailable
		}
	}
	writeJSON(w, r, code, status)
}
