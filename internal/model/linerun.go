package model

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// ErrAmbiguousRoot is returned when a span set contains more than one
// non-evaluation root. The caller scoped the set too broadly (e.g. a flow
// execution and an unrelated traced function sharing one export batch).
var ErrAmbiguousRoot = errors.New("model: multiple main root spans in span set")

// LineRunData is the flattened view of one root span's essential fields.
// It is derived on demand and never persisted directly.
type LineRunData struct {
	LineRunID            string         `json:"line_run_id"`
	TraceID              string         `json:"trace_id"`
	RootSpanID           string         `json:"root_span_id"`
	Inputs               map[string]any `json:"inputs"`
	Outputs              map[string]any `json:"outputs"`
	StartTime            time.Time      `json:"start_time"`
	EndTime              time.Time      `json:"end_time"`
	Status               SpanStatus     `json:"status"`
	Latency              float64        `json:"latency"`
	DisplayName          string         `json:"display_name"`
	Kind                 string         `json:"kind"`
	CumulativeTokenCount *TokenCount    `json:"cumulative_token_count,omitempty"`
}

// LineRun is one main execution plus the evaluations referencing it.
type LineRun struct {
	LineRunData
	Evaluations []LineRunData `json:"evaluations"`
}

// LineRunDataFromRootSpan flattens a root span. The identity is the span's
// own resolved line-run id; an evaluation root never inherits the id of the
// run it references, that id only says which run to attach to.
func LineRunDataFromRootSpan(s *Span) LineRunData {
	return LineRunData{
		LineRunID:  s.ResolvedLineRunID(),
		TraceID:    s.TraceID,
		RootSpanID: s.SpanID,
		// Standard OTEL traces carry no inputs/outputs attributes.
		Inputs:               jsonAttr(s.Attributes, AttrInputs),
		Outputs:              jsonAttr(s.Attributes, AttrOutput),
		StartTime:            s.StartTime,
		EndTime:              s.EndTime,
		Status:               s.Status,
		Latency:              s.EndTime.Sub(s.StartTime).Seconds(),
		DisplayName:          s.Name,
		Kind:                 spanKindLabel(s),
		CumulativeTokenCount: s.CumulativeTokenCount(),
	}
}

// ReconstructLineRun groups a span set (already scoped to one logical
// session/run lineage by the caller) into a single LineRun.
//
// A nil LineRun with a nil error means the main execution's root span has
// not arrived yet (line still executing, or killed before export). That
// absence is an expected outcome, not a failure. Evaluations appear in
// discovery order; the order is stable for identical input but carries no
// contractual meaning.
func ReconstructLineRun(spans []*Span) (*LineRun, error) {
	var main *Span
	var evaluations []LineRunData
	for _, s := range spans {
		if !s.IsRoot() {
			continue
		}
		if s.HasEvaluationReference() {
			evaluations = append(evaluations, LineRunDataFromRootSpan(s))
			continue
		}
		if main != nil {
			return nil, fmt.Errorf("%w: %s and %s", ErrAmbiguousRoot, main.SpanID, s.SpanID)
		}
		// A root without any flow attributes is still the main execution:
		// eager flows and arbitrary scripts carry none.
		main = s
	}
	if main == nil {
		return nil, nil
	}
	return &LineRun{
		LineRunData: LineRunDataFromRootSpan(main),
		Evaluations: evaluations,
	}, nil
}

// jsonAttr parses a JSON-object attribute, defaulting to an empty map on
// absence or malformed content.
func jsonAttr(attrs map[string]string, key string) map[string]any {
	out := map[string]any{}
	raw, ok := attrs[key]
	if !ok {
		return out
	}
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return map[string]any{}
	}
	return out
}

// spanKindLabel prefers the span_type attribute over the entity field so
// foreign instrumentation that sets only the attribute still labels
// correctly.
func spanKindLabel(s *Span) string {
	if v, ok := s.Attributes[AttrSpanType]; ok {
		return v
	}
	return string(s.SpanType)
}
