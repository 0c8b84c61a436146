package model

import "strconv"

// TokenCount is LLM token usage aggregated over a span's subtree.
// A nil *TokenCount means "no LLM usage", which is distinct from a zero
// count: reconstruction reports nil when the total is zero so non-LLM
// spans never surface a spurious usage triple.
type TokenCount struct {
	Prompt     int `json:"prompt"`
	Completion int `json:"completion"`
	Total      int `json:"total"`
}

// Add accumulates another count into this one.
func (t *TokenCount) Add(other TokenCount) {
	t.Prompt += other.Prompt
	t.Completion += other.Completion
	t.Total += other.Total
}

// CumulativeTokenCount reads the pre-aggregated usage triple off the
// span's attributes. Returns nil when the total is zero or absent.
func (s *Span) CumulativeTokenCount() *TokenCount {
	total := attrInt(s.Attributes, AttrCumulativeTotalTokens)
	if total == 0 {
		return nil
	}
	return &TokenCount{
		Prompt:     attrInt(s.Attributes, AttrCumulativePromptTokens),
		Completion: attrInt(s.Attributes, AttrCumulativeCompletionTokens),
		Total:      total,
	}
}

// OwnTokenUsage reads the span's own (non-cumulative) usage, recorded by
// the LLM instrumentation on LLM and Embedding spans. Returns nil when
// the span recorded no usage.
func (s *Span) OwnTokenUsage() *TokenCount {
	total := attrInt(s.Attributes, AttrUsageTotalTokens)
	if total == 0 {
		return nil
	}
	return &TokenCount{
		Prompt:     attrInt(s.Attributes, AttrUsagePromptTokens),
		Completion: attrInt(s.Attributes, AttrUsageCompletionTokens),
		Total:      total,
	}
}

// attrInt parses an integer attribute, defaulting to 0 on absence or
// malformed input.
func attrInt(attrs map[string]string, key string) int {
	v, ok := attrs[key]
	if !ok {
		return 0
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0
	}
	return n
}
