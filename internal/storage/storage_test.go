package storage_test

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashita-ai/senro/internal/model"
	"github.com/ashita-ai/senro/internal/storage"
	"github.com/ashita-ai/senro/internal/testutil"
)

var testDB *storage.DB

func TestMain(m *testing.M) {
	if os.Getenv("SENRO_INTEGRATION") == "" {
		os.Exit(0)
	}
	tc := testutil.MustStartPostgres()
	defer tc.Terminate()

	var err error
	testDB, err = tc.NewTestDB(context.Background(), testutil.TestLogger())
	if err != nil {
		tc.Terminate()
		panic(err)
	}
	code := m.Run()
	testDB.Close()
	tc.Terminate()
	os.Exit(code)
}

func testSpan(t *testing.T, traceID, spanID, parentID string, attrs map[string]string) *model.Span {
	t.Helper()
	start := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)
	s, err := model.NewSpan(model.SpanParams{
		Name:         "hello_flow",
		TraceID:      traceID,
		SpanID:       spanID,
		ParentSpanID: parentID,
		SpanType:     model.SpanTypeFlow,
		StartTime:    start,
		EndTime:      start.Add(time.Second),
		Status:       model.SpanStatusOK,
		SessionID:    "session-storage",
		Attributes:   attrs,
	})
	require.NoError(t, err)
	return s
}

func TestUpsertSpan_Idempotent(t *testing.T) {
	ctx := context.Background()
	s := testSpan(t, "trace-upsert", "span-1", "", nil)
	row, err := s.ToRow()
	require.NoError(t, err)

	require.NoError(t, testDB.UpsertSpan(ctx, row))
	require.NoError(t, testDB.UpsertSpan(ctx, row))

	rows, err := testDB.ListSpansByTrace(ctx, []string{"trace-upsert"})
	require.NoError(t, err)
	require.Len(t, rows, 1)

	restored, err := model.SpanFromRow(rows[0])
	require.NoError(t, err)
	assert.Equal(t, s, restored)
}

func TestListSpansBySession(t *testing.T) {
	ctx := context.Background()
	for _, id := range []string{"span-a", "span-b"} {
		row, err := testSpan(t, "trace-session", id, "", nil).ToRow()
		require.NoError(t, err)
		require.NoError(t, testDB.UpsertSpan(ctx, row))
	}

	rows, err := testDB.ListSpansBySession(ctx, "session-storage")
	require.NoError(t, err)
	assert.GreaterOrEqual(t, len(rows), 2)
}

func TestCreateSummaryLine_InsertIfAbsent(t *testing.T) {
	ctx := context.Background()
	data := model.LineRunDataFromRootSpan(testSpan(t, "trace-sum", "root-1", "", map[string]string{
		model.AttrLineRunID: "L-sum",
	}))

	require.NoError(t, testDB.CreateSummaryLine(ctx, "session-storage", data))
	// Retried export of the same root span is not an error.
	require.NoError(t, testDB.CreateSummaryLine(ctx, "session-storage", data))

	line, err := testDB.GetSummaryLine(ctx, "session-storage", "L-sum")
	require.NoError(t, err)
	assert.Equal(t, "L-sum", line.LineRunID)
	assert.Equal(t, "trace-sum", line.TraceID)
	assert.Equal(t, data.RootSpanID, line.Data.RootSpanID)
	assert.Empty(t, line.Evaluations)
}

func TestPatchEvaluation(t *testing.T) {
	ctx := context.Background()
	main := model.LineRunDataFromRootSpan(testSpan(t, "trace-patch", "root-1", "", map[string]string{
		model.AttrLineRunID: "L-patch",
	}))
	require.NoError(t, testDB.CreateSummaryLine(ctx, "session-storage", main))

	eval := model.LineRunDataFromRootSpan(testSpan(t, "trace-eval", "eval-root", "", map[string]string{
		model.AttrReferencedLineRunID: "L-patch",
	}))
	require.NoError(t, testDB.PatchEvaluation(ctx, "session-storage", "L-patch", "relevance", eval))

	line, err := testDB.GetSummaryLine(ctx, "session-storage", "L-patch")
	require.NoError(t, err)
	require.Contains(t, line.Evaluations, "relevance")
	assert.Equal(t, "eval-root", line.Evaluations["relevance"].RootSpanID)
}

func TestPatchEvaluation_MainLineRunMissing(t *testing.T) {
	ctx := context.Background()
	eval := model.LineRunDataFromRootSpan(testSpan(t, "trace-orphan-eval", "eval-root", "", map[string]string{
		model.AttrReferencedLineRunID: "L-never-created",
	}))
	err := testDB.PatchEvaluation(ctx, "session-storage", "L-never-created", "groundedness", eval)
	require.Error(t, err)

	var missing *storage.ErrMainLineRunMissing
	require.True(t, errors.As(err, &missing))
	assert.Equal(t, "L-never-created", missing.LineRunID)
	assert.Equal(t, "groundedness", missing.Evaluator)
}

func TestGetSummaryLine_NotFound(t *testing.T) {
	_, err := testDB.GetSummaryLine(context.Background(), "session-storage", "L-missing")
	require.ErrorIs(t, err, storage.ErrNotFound)
}

func TestFindSummaryLine_NoSessionScope(t *testing.T) {
	ctx := context.Background()
	data := model.LineRunDataFromRootSpan(testSpan(t, "trace-find", "root-1", "", map[string]string{
		model.AttrLineRunID: "L-find",
	}))
	require.NoError(t, testDB.CreateSummaryLine(ctx, "session-storage", data))

	line, err := testDB.FindSummaryLine(ctx, "L-find")
	require.NoError(t, err)
	assert.Equal(t, "session-storage", line.SessionID)
	assert.Equal(t, "trace-find", line.TraceID)

	_, err = testDB.FindSummaryLine(ctx, "L-nowhere")
	require.ErrorIs(t, err, storage.ErrNotFound)
}

func TestListSummaryLines(t *testing.T) {
	ctx := context.Background()
	data := model.LineRunDataFromRootSpan(testSpan(t, "trace-list", "root-1", "", map[string]string{
		model.AttrLineRunID: "L-list",
	}))
	require.NoError(t, testDB.CreateSummaryLine(ctx, "session-storage", data))

	lines, err := testDB.ListSummaryLines(ctx, "session-storage", 100, 0)
	require.NoError(t, err)
	require.NotEmpty(t, lines)
	ids := make([]string, 0, len(lines))
	for _, l := range lines {
		ids = append(ids, l.LineRunID)
	}
	assert.Contains(t, ids, "L-list")
}
