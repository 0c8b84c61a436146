// Package model defines the core domain types for Senro.
//
// A Span is one observed unit of work inside a flow execution; a LineRun is
// the denormalized view of one input row through one flow execution,
// reconstructed from the root span(s) of a trace. Types use strong typing
// (time.Time, enums) with a residual open attribute map for
// instrumentation-specific data.
package model

import (
	"encoding/json"
	"fmt"
	"maps"
	"time"
)

// SpanType classifies what a span represents inside a flow execution.
type SpanType string

const (
	// SpanTypeDefault marks spans from non-Senro instrumentation
	// (arbitrary scripts, LangChain, plain OTEL SDKs).
	SpanTypeDefault   SpanType = "default"
	SpanTypeFlow      SpanType = "Flow"
	SpanTypeTool      SpanType = "Tool"
	SpanTypeFunction  SpanType = "Function"
	SpanTypeLLM       SpanType = "LLM"
	SpanTypeEmbedding SpanType = "Embedding"
)

// SpanStatus represents the OTEL span status code.
type SpanStatus string

const (
	SpanStatusOK    SpanStatus = "Ok"
	SpanStatusError SpanStatus = "Error"
	SpanStatusUnset SpanStatus = "Unset"
)

// Span is an OTEL-compatible trace entry. Immutable once built; the only
// sanctioned mutation is cumulative token enrichment before persistence
// (see EnrichCumulativeTokenCounts).
type Span struct {
	Name         string
	TraceID      string
	SpanID       string
	TraceState   string
	ParentSpanID string // empty marks a root span
	SpanType     SpanType
	Kind         string
	StartTime    time.Time
	EndTime      time.Time
	Status       SpanStatus
	SessionID    string
	Experiment   string

	Attributes map[string]string
	Resource   map[string]any
	Events     []map[string]any
	Links      []map[string]any
}

// SpanParams holds the inputs for NewSpan. Mutable fields are deep-copied
// so the live tracer's working state never aliases the persisted snapshot.
type SpanParams struct {
	Name         string
	TraceID      string
	SpanID       string
	TraceState   string
	ParentSpanID string
	SpanType     SpanType
	Kind         string
	StartTime    time.Time
	EndTime      time.Time
	Status       SpanStatus
	SessionID    string
	Experiment   string
	Attributes   map[string]string
	Resource     map[string]any
	Events       []map[string]any
	Links        []map[string]any
}

// NewSpan builds a Span from live tracer fields.
// SessionID, TraceID and SpanID are required; SpanType defaults to
// SpanTypeDefault so spans from foreign instrumentation are accepted.
func NewSpan(p SpanParams) (*Span, error) {
	if p.TraceID == "" {
		return nil, fmt.Errorf("model: span %q: trace id is required", p.Name)
	}
	if p.SpanID == "" {
		return nil, fmt.Errorf("model: span %q: span id is required", p.Name)
	}
	if p.SessionID == "" {
		return nil, fmt.Errorf("model: span %q: session id is required", p.Name)
	}
	if !p.EndTime.IsZero() && p.EndTime.Before(p.StartTime) {
		return nil, fmt.Errorf("model: span %q: end time before start time", p.Name)
	}
	if p.SpanType == "" {
		p.SpanType = SpanTypeDefault
	}
	if p.Status == "" {
		p.Status = SpanStatusUnset
	}

	s := &Span{
		Name:         p.Name,
		TraceID:      p.TraceID,
		SpanID:       p.SpanID,
		TraceState:   p.TraceState,
		ParentSpanID: p.ParentSpanID,
		SpanType:     p.SpanType,
		Kind:         p.Kind,
		StartTime:    p.StartTime.UTC(),
		EndTime:      p.EndTime.UTC(),
		Status:       p.Status,
		SessionID:    p.SessionID,
		Experiment:   p.Experiment,
		Attributes:   map[string]string{},
		Resource:     map[string]any{},
	}
	maps.Copy(s.Attributes, p.Attributes)
	maps.Copy(s.Resource, p.Resource)
	s.Events = copyMapSlice(p.Events)
	s.Links = copyMapSlice(p.Links)
	return s, nil
}

// IsRoot reports whether this span is the root of its trace.
func (s *Span) IsRoot() bool {
	return s.ParentSpanID == ""
}

// Attr returns a span-level attribute value.
func (s *Span) Attr(key string) (string, bool) {
	v, ok := s.Attributes[key]
	return v, ok
}

// spanContent is the JSON content blob stored alongside the indexed row
// columns. Field order is fixed so persist(reconstruct(row)) round-trips
// byte-for-byte.
type spanContent struct {
	Name       string            `json:"name"`
	Context    spanContext       `json:"context"`
	Kind       string            `json:"kind"`
	ParentID   string            `json:"parent_id,omitempty"`
	StartTime  time.Time         `json:"start_time"`
	EndTime    time.Time         `json:"end_time"`
	Status     spanStatus        `json:"status"`
	Attributes map[string]string `json:"attributes"`
	Events     []map[string]any  `json:"events,omitempty"`
	Links      []map[string]any  `json:"links,omitempty"`
	Resource   map[string]any    `json:"resource,omitempty"`
}

type spanContext struct {
	TraceID    string `json:"trace_id"`
	SpanID     string `json:"span_id"`
	TraceState string `json:"trace_state,omitempty"`
}

type spanStatus struct {
	StatusCode string `json:"status_code"`
}

// SpanRow is the persisted projection of a Span: indexed columns plus the
// full content as a JSON blob.
type SpanRow struct {
	TraceID      string
	SpanID       string
	Name         string
	SpanType     string
	ParentSpanID string
	SessionID    string
	Experiment   string
	Content      []byte
}

// ToRow serializes the span for storage.
func (s *Span) ToRow() (SpanRow, error) {
	content, err := json.Marshal(spanContent{
		Name: s.Name,
		Context: spanContext{
			TraceID:    s.TraceID,
			SpanID:     s.SpanID,
			TraceState: s.TraceState,
		},
		Kind:       s.Kind,
		ParentID:   s.ParentSpanID,
		StartTime:  s.StartTime,
		EndTime:    s.EndTime,
		Status:     spanStatus{StatusCode: string(s.Status)},
		Attributes: s.Attributes,
		Events:     s.Events,
		Links:      s.Links,
		Resource:   s.Resource,
	})
	if err != nil {
		return SpanRow{}, fmt.Errorf("model: marshal span content: %w", err)
	}
	return SpanRow{
		TraceID:      s.TraceID,
		SpanID:       s.SpanID,
		Name:         s.Name,
		SpanType:     string(s.SpanType),
		ParentSpanID: s.ParentSpanID,
		SessionID:    s.SessionID,
		Experiment:   s.Experiment,
		Content:      content,
	}, nil
}

// SpanFromRow rebuilds a Span from a persisted row.
func SpanFromRow(row SpanRow) (*Span, error) {
	var c spanContent
	if err := json.Unmarshal(row.Content, &c); err != nil {
		return nil, fmt.Errorf("model: unmarshal span content for %s/%s: %w", row.TraceID, row.SpanID, err)
	}
	return NewSpan(SpanParams{
		Name:         c.Name,
		TraceID:      c.Context.TraceID,
		SpanID:       c.Context.SpanID,
		TraceState:   c.Context.TraceState,
		ParentSpanID: c.ParentID,
		SpanType:     SpanType(row.SpanType),
		Kind:         c.Kind,
		StartTime:    c.StartTime,
		EndTime:      c.EndTime,
		Status:       SpanStatus(c.Status.StatusCode),
		SessionID:    row.SessionID,
		Experiment:   row.Experiment,
		Attributes:   c.Attributes,
		Resource:     c.Resource,
		Events:       c.Events,
		Links:        c.Links,
	})
}

func copyMapSlice(in []map[string]any) []map[string]any {
	if in == nil {
		return nil
	}
	out := make([]map[string]any, len(in))
	for i, m := range in {
		cp := make(map[string]any, len(m))
		maps.Copy(cp, m)
		out[i] = cp
	}
	return out
}
