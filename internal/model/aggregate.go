package model

import "strconv"

// AggregateTokenCounts computes cumulative token usage per span over a
// span tree: each span's count is its own recorded usage plus the usage of
// its entire subtree. Each span's own usage is counted exactly once no
// matter how deep the tree is.
//
// Spans whose parents are missing from the set (partial traces) aggregate
// over whatever subtree is present. Spans with no LLM usage anywhere
// below them have no entry in the result.
func AggregateTokenCounts(spans []*Span) map[string]*TokenCount {
	children := make(map[string][]*Span, len(spans))
	byID := make(map[string]*Span, len(spans))
	for _, s := range spans {
		byID[s.SpanID] = s
		if s.ParentSpanID != "" {
			children[s.ParentSpanID] = append(children[s.ParentSpanID], s)
		}
	}

	totals := make(map[string]*TokenCount)
	var walk func(s *Span) *TokenCount
	walk = func(s *Span) *TokenCount {
		var sum *TokenCount
		if own := s.OwnTokenUsage(); own != nil {
			sum = &TokenCount{}
			sum.Add(*own)
		}
		for _, child := range children[s.SpanID] {
			if ct := walk(child); ct != nil {
				if sum == nil {
					sum = &TokenCount{}
				}
				sum.Add(*ct)
			}
		}
		if sum != nil {
			totals[s.SpanID] = sum
		}
		return sum
	}
	for _, s := range spans {
		if s.IsRoot() {
			walk(s)
		}
	}
	// Orphaned subtrees (parent not exported yet) still aggregate.
	for _, s := range spans {
		if s.ParentSpanID != "" && byID[s.ParentSpanID] == nil {
			if _, done := totals[s.SpanID]; !done {
				walk(s)
			}
		}
	}
	return totals
}

// EnrichCumulativeTokenCounts writes the __computed__ cumulative token
// attributes onto spans that do not already carry them. This runs before
// persistence; persisted spans are never mutated.
func EnrichCumulativeTokenCounts(spans []*Span) {
	totals := AggregateTokenCounts(spans)
	for _, s := range spans {
		if _, ok := s.Attributes[AttrCumulativeTotalTokens]; ok {
			continue
		}
		tc := totals[s.SpanID]
		if tc == nil || tc.Total == 0 {
			continue
		}
		s.Attributes[AttrCumulativePromptTokens] = strconv.Itoa(tc.Prompt)
		s.Attributes[AttrCumulativeCompletionTokens] = strconv.Itoa(tc.Completion)
		s.Attributes[AttrCumulativeTotalTokens] = strconv.Itoa(tc.Total)
	}
}
