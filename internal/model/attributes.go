package model

// Well-known span attribute keys. Everything else in Span.Attributes is
// opaque instrumentation data and passes through untouched.
const (
	AttrFramework = "framework"
	AttrSpanType  = "span_type"
	AttrFunction  = "function"
	AttrInputs    = "inputs"
	AttrOutput    = "output"
	AttrSessionID = "session_id"

	AttrLineRunID            = "line_run_id"
	AttrReferencedLineRunID  = "referenced.line_run_id"
	AttrBatchRunID           = "batch_run_id"
	AttrReferencedBatchRunID = "referenced.batch_run_id"
	AttrLineNumber           = "line_number"

	// Raw per-span LLM usage, recorded on LLM/Embedding spans only.
	AttrUsagePromptTokens     = "llm.usage.prompt_tokens"
	AttrUsageCompletionTokens = "llm.usage.completion_tokens"
	AttrUsageTotalTokens      = "llm.usage.total_tokens"

	// Cumulative usage over the span's subtree, written by the tracing
	// layer (or EnrichCumulativeTokenCounts) before export.
	AttrCumulativePromptTokens     = "__computed__.cumulative_token_count.prompt"
	AttrCumulativeCompletionTokens = "__computed__.cumulative_token_count.completion"
	AttrCumulativeTotalTokens      = "__computed__.cumulative_token_count.total"
)

// Resource-level attribute keys. Session id lives on the resource, not the
// span: one exported batch shares a single resource descriptor.
const (
	ResourceAttrServiceName    = "service.name"
	ResourceAttrSessionID      = "session.id"
	ResourceAttrExperimentName = "experiment.name"
)

// HasEvaluationReference reports whether the span's attributes reference
// another line run, marking it as an evaluation of that run.
func (s *Span) HasEvaluationReference() bool {
	if _, ok := s.Attributes[AttrReferencedLineRunID]; ok {
		return true
	}
	_, hasRef := s.Attributes[AttrReferencedBatchRunID]
	_, hasLine := s.Attributes[AttrLineNumber]
	return hasRef && hasLine
}

// ResolvedLineRunID derives the span's own line-run identity: an explicit
// line_run_id attribute wins, then batch_run_id + line_number, then the
// trace id (eager/scriptless executions carry no flow attributes at all).
func (s *Span) ResolvedLineRunID() string {
	if id, ok := s.Attributes[AttrLineRunID]; ok {
		return id
	}
	if batch, ok := s.Attributes[AttrBatchRunID]; ok {
		if line, ok := s.Attributes[AttrLineNumber]; ok {
			return BatchLineRunID(batch, line)
		}
	}
	return s.TraceID
}

// ReferencedLineRunID derives the identity of the line run this span
// evaluates, or "" when the span carries no reference.
func (s *Span) ReferencedLineRunID() string {
	if id, ok := s.Attributes[AttrReferencedLineRunID]; ok {
		return id
	}
	if batch, ok := s.Attributes[AttrReferencedBatchRunID]; ok {
		if line, ok := s.Attributes[AttrLineNumber]; ok {
			return BatchLineRunID(batch, line)
		}
	}
	return ""
}

// BatchLineRunID composes the line-run identity used when a batch run has
// no explicit line_run_id attribute.
func BatchLineRunID(batchRunID, lineNumber string) string {
	return batchRunID + "_" + lineNumber
}
