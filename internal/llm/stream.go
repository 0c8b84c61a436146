package llm

import (
	"bufio"
	"encoding/json"
	"io"
	"strings"
)

// Stream is a forward-only, single-pass iterator over the text deltas of a
// streaming chat completion. Usage mirrors bufio.Scanner:
//
//	for stream.Next() {
//	    fmt.Print(stream.Current())
//	}
//	if err := stream.Err(); err != nil { ... }
//
// Once exhausted it cannot be rewound; the body is consumed as it is read.
type Stream struct {
	body    io.ReadCloser
	scanner *bufio.Scanner
	current string
	err     error
	done    bool
}

func newStream(body io.ReadCloser) *Stream {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	return &Stream{body: body, scanner: scanner}
}

// streamChunk is one SSE data payload.
type streamChunk struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
}

// Next advances to the next non-empty text delta. It returns false at end
// of stream or on error; check Err afterwards.
func (s *Stream) Next() bool {
	if s.done {
		return false
	}
	for s.scanner.Scan() {
		line := strings.TrimSpace(s.scanner.Text())
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		payload := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if payload == "[DONE]" {
			s.finish()
			return false
		}
		var chunk streamChunk
		if err := json.Unmarshal([]byte(payload), &chunk); err != nil {
			// Tolerate malformed keep-alive chunks; only text deltas matter.
			continue
		}
		if len(chunk.Choices) == 0 {
			continue
		}
		if delta := chunk.Choices[0].Delta.Content; delta != "" {
			s.current = delta
			return true
		}
	}
	if err := s.scanner.Err(); err != nil {
		s.err = &ConnectionError{Err: err}
	}
	s.finish()
	return false
}

// Current returns the delta produced by the last successful Next.
func (s *Stream) Current() string {
	return s.current
}

// Err returns the first error hit while streaming, nil on clean EOF.
func (s *Stream) Err() error {
	return s.err
}

// Close releases the underlying connection. Safe to call at any point;
// abandoning a stream without Close leaks the connection.
func (s *Stream) Close() error {
	s.finish()
	return nil
}

// Text drains the remainder of the stream into one string.
func (s *Stream) Text() (string, error) {
	var b strings.Builder
	for s.Next() {
		b.WriteString(s.current)
	}
	return b.String(), s.err
}

func (s *Stream) finish() {
	if !s.done {
		s.done = true
		_ = s.body.Close()
	}
}
