package prompt

import (
	"encoding/base64"
	"fmt"
	"regexp"
	"strings"

	"github.com/ashita-ai/senro/internal/llm"
)

// roleMarkerRe matches a role separator line: an optional leading '#',
// the role name, a colon, nothing else on the line.
var roleMarkerRe = regexp.MustCompile(`(?i)^\s*#?\s*(system|user|assistant|function)\s*:\s*$`)

// functionBodyRe extracts the name/content substructure of a function
// message.
var functionBodyRe = regexp.MustCompile(`(?is)^\s*#{0,2}\s*name\s*:\s*\n+\s*(\S+)\s*\n+\s*#{0,2}\s*content\s*:\s*\n?(.*)$`)

// imageLineRe matches a line that is exactly one image placeholder.
var imageLineRe = regexp.MustCompile(`^\s*!\[image\]\(([^)]+)\)\s*$`)

// Image is a named image input available to the chat template. SourceURL
// is preferred when present; otherwise Data is inlined as a base64 data
// URL.
type Image struct {
	Name      string
	SourceURL string
	Data      []byte
	MimeType  string
}

func (img Image) urlValue() string {
	if img.SourceURL != "" {
		return img.SourceURL
	}
	mime := img.MimeType
	if mime == "" {
		mime = "image/png"
	}
	return fmt.Sprintf("data:%s;base64,%s", mime, base64.StdEncoding.EncodeToString(img.Data))
}

// ParseChat splits rendered template text into chat messages on role
// marker lines. Text before the first marker must be blank; the rendered
// prompt otherwise has no unambiguous owner.
//
// Function messages require a name:/content: substructure. Lines that are
// exactly an image placeholder become image_url content parts; messages
// without images keep their content as a plain string.
func ParseChat(rendered string, images []Image) ([]llm.Message, error) {
	lines := strings.Split(rendered, "\n")

	var messages []llm.Message
	var role string
	var chunk []string

	flush := func() error {
		if role == "" {
			if strings.TrimSpace(strings.Join(chunk, "\n")) != "" {
				return &llm.UserError{Message: "the chat template must start with a role marker " +
					`such as "system:" or "user:"; found text before the first marker`}
			}
			return nil
		}
		msg, err := buildMessage(role, strings.Join(chunk, "\n"), images)
		if err != nil {
			return err
		}
		messages = append(messages, msg)
		return nil
	}

	for _, line := range lines {
		if m := roleMarkerRe.FindStringSubmatch(line); m != nil {
			if err := flush(); err != nil {
				return nil, err
			}
			role = strings.ToLower(m[1])
			chunk = chunk[:0]
			continue
		}
		chunk = append(chunk, line)
	}
	if err := flush(); err != nil {
		return nil, err
	}
	if len(messages) == 0 {
		return nil, &llm.UserError{Message: "the chat template produced no messages"}
	}
	return messages, nil
}

func buildMessage(role, body string, images []Image) (llm.Message, error) {
	if role == "function" {
		m := functionBodyRe.FindStringSubmatch(body)
		if m == nil {
			return llm.Message{}, &llm.UserError{Message: `a function message requires "name:" and "content:" sections, e.g.` +
				"\nfunction:\nname:\nget_weather\ncontent:\n{\"temperature\": 21}"}
		}
		return llm.Message{
			Role:    role,
			Name:    m[1],
			Content: strings.TrimSpace(m[2]),
		}, nil
	}

	content, err := buildContent(body, images)
	if err != nil {
		return llm.Message{}, err
	}
	return llm.Message{Role: role, Content: content}, nil
}

// buildContent returns a plain string for text-only messages, or a part
// list when the message includes images.
func buildContent(body string, images []Image) (any, error) {
	byName := make(map[string]Image, len(images))
	for _, img := range images {
		byName[img.Name] = img
	}

	var parts []llm.ContentPart
	var text []string
	flushText := func() {
		joined := strings.TrimSpace(strings.Join(text, "\n"))
		text = text[:0]
		if joined != "" {
			parts = append(parts, llm.ContentPart{Type: "text", Text: joined})
		}
	}

	hasImage := false
	for _, line := range strings.Split(body, "\n") {
		m := imageLineRe.FindStringSubmatch(line)
		if m == nil {
			text = append(text, line)
			continue
		}
		hasImage = true
		flushText()
		ref := m[1]
		url := ref
		if img, ok := byName[ref]; ok {
			url = img.urlValue()
		}
		parts = append(parts, llm.ContentPart{
			Type:     "image_url",
			ImageURL: &llm.ImageURL{URL: url},
		})
	}
	flushText()

	if !hasImage {
		return strings.TrimSpace(body), nil
	}
	return parts, nil
}
