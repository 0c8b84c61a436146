package localdb_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashita-ai/senro/internal/localdb"
	"github.com/ashita-ai/senro/internal/model"
	"github.com/ashita-ai/senro/internal/storage"
	"github.com/ashita-ai/senro/internal/testutil"
)

func openStore(t *testing.T) *localdb.Store {
	t.Helper()
	s, err := localdb.Open(context.Background(), ":memory:", testutil.TestLogger())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func testSpan(t *testing.T, traceID, spanID string, attrs map[string]string) *model.Span {
	t.Helper()
	start := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)
	s, err := model.NewSpan(model.SpanParams{
		Name:       "hello_flow",
		TraceID:    traceID,
		SpanID:     spanID,
		SpanType:   model.SpanTypeFlow,
		StartTime:  start,
		EndTime:    start.Add(time.Second),
		Status:     model.SpanStatusOK,
		SessionID:  "session-local",
		Attributes: attrs,
	})
	require.NoError(t, err)
	return s
}

func TestUpsertSpan_Idempotent(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()

	s := testSpan(t, "trace-1", "span-1", map[string]string{model.AttrLineRunID: "L1"})
	row, err := s.ToRow()
	require.NoError(t, err)

	require.NoError(t, store.UpsertSpan(ctx, row))
	require.NoError(t, store.UpsertSpan(ctx, row))

	rows, err := store.ListSpansByTrace(ctx, []string{"trace-1"})
	require.NoError(t, err)
	require.Len(t, rows, 1)

	restored, err := model.SpanFromRow(rows[0])
	require.NoError(t, err)
	assert.Equal(t, s, restored)
}

func TestListSpansBySession(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()

	for _, id := range []string{"span-a", "span-b"} {
		row, err := testSpan(t, "trace-1", id, nil).ToRow()
		require.NoError(t, err)
		require.NoError(t, store.UpsertSpan(ctx, row))
	}

	rows, err := store.ListSpansBySession(ctx, "session-local")
	require.NoError(t, err)
	assert.Len(t, rows, 2)

	rows, err = store.ListSpansBySession(ctx, "other-session")
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestSummaryLine_CreateAndPatch(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()

	main := model.LineRunDataFromRootSpan(testSpan(t, "trace-main", "root-1", map[string]string{
		model.AttrLineRunID: "L1",
	}))
	require.NoError(t, store.CreateSummaryLine(ctx, "session-local", main))
	require.NoError(t, store.CreateSummaryLine(ctx, "session-local", main))

	eval := model.LineRunDataFromRootSpan(testSpan(t, "trace-eval", "eval-root", map[string]string{
		model.AttrReferencedLineRunID: "L1",
	}))
	require.NoError(t, store.PatchEvaluation(ctx, "session-local", "L1", "relevance", eval))

	line, err := store.GetSummaryLine(ctx, "session-local", "L1")
	require.NoError(t, err)
	assert.Equal(t, "trace-main", line.TraceID)
	assert.Equal(t, "root-1", line.Data.RootSpanID)
	require.Contains(t, line.Evaluations, "relevance")
	assert.Equal(t, "eval-root", line.Evaluations["relevance"].RootSpanID)
}

func TestPatchEvaluation_MainLineRunMissing(t *testing.T) {
	store := openStore(t)
	eval := model.LineRunDataFromRootSpan(testSpan(t, "trace-eval", "eval-root", map[string]string{
		model.AttrReferencedLineRunID: "L-missing",
	}))
	err := store.PatchEvaluation(context.Background(), "session-local", "L-missing", "groundedness", eval)
	require.Error(t, err)

	var missing *storage.ErrMainLineRunMissing
	require.True(t, errors.As(err, &missing))
	assert.Equal(t, "L-missing", missing.LineRunID)
}

func TestGetSummaryLine_NotFound(t *testing.T) {
	store := openStore(t)
	_, err := store.GetSummaryLine(context.Background(), "session-local", "nope")
	require.ErrorIs(t, err, storage.ErrNotFound)
}

func TestFindSummaryLine_NoSessionScope(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()

	main := model.LineRunDataFromRootSpan(testSpan(t, "trace-main", "root-1", map[string]string{
		model.AttrLineRunID: "L1",
	}))
	require.NoError(t, store.CreateSummaryLine(ctx, "session-local", main))

	line, err := store.FindSummaryLine(ctx, "L1")
	require.NoError(t, err)
	assert.Equal(t, "session-local", line.SessionID)
	assert.Equal(t, "trace-main", line.TraceID)

	_, err = store.FindSummaryLine(ctx, "nope")
	require.ErrorIs(t, err, storage.ErrNotFound)
}

func TestListSummaryLines_NewestFirst(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()

	early := testSpan(t, "trace-early", "root-early", map[string]string{model.AttrLineRunID: "L-early"})
	late := testSpan(t, "trace-late", "root-late", map[string]string{model.AttrLineRunID: "L-late"})
	late.StartTime = late.StartTime.Add(time.Hour)
	late.EndTime = late.EndTime.Add(time.Hour)

	require.NoError(t, store.CreateSummaryLine(ctx, "session-local", model.LineRunDataFromRootSpan(early)))
	require.NoError(t, store.CreateSummaryLine(ctx, "session-local", model.LineRunDataFromRootSpan(late)))

	lines, err := store.ListSummaryLines(ctx, "session-local", 10, 0)
	require.NoError(t, err)
	require.Len(t, lines, 2)
	assert.Equal(t, "L-late", lines[0].LineRunID)
	assert.Equal(t, "L-early", lines[1].LineRunID)

	lines, err = store.ListSummaryLines(ctx, "session-local", 1, 0)
	require.NoError(t, err)
	assert.Len(t, lines, 1)
}
