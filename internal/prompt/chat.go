package prompt

import (
	"github.com/ashita-ai/senro/internal/llm"
)

// ChatSpec is everything needed to format one chat call: the template and
// its inputs plus the API parameters that shape the request.
type ChatSpec struct {
	Template     string
	Vars         map[string]any
	Images       []Image
	Model        string
	Temperature  *float64
	TopP         *float64
	MaxTokens    int
	Stop         []string
	Stream       bool
	Functions    []llm.FunctionDef
	FunctionCall any
}

// BuildChatRequest renders, parses and validates a ChatSpec into a wire
// request. No network is touched: configuration conflicts (streaming with
// functions) and formatting errors fail here, before any call is made.
func BuildChatRequest(spec ChatSpec) (llm.ChatRequest, error) {
	if spec.Stream && len(spec.Functions) > 0 {
		return llm.ChatRequest{}, &llm.UserError{
			Message: "streaming cannot be combined with functions; a function call arrives as a single message",
		}
	}

	rendered, err := RenderTemplate(PreprocessTemplate(spec.Template), spec.Vars)
	if err != nil {
		return llm.ChatRequest{}, err
	}
	messages, err := ParseChat(rendered, spec.Images)
	if err != nil {
		return llm.ChatRequest{}, err
	}

	req := llm.ChatRequest{
		Model:       spec.Model,
		Messages:    messages,
		Temperature: spec.Temperature,
		TopP:        spec.TopP,
		MaxTokens:   spec.MaxTokens,
		Stop:        spec.Stop,
		Stream:      spec.Stream,
	}
	if len(spec.Functions) > 0 {
		if err := ValidateFunctions(spec.Functions); err != nil {
			return llm.ChatRequest{}, err
		}
		fc, err := ProcessFunctionCall(spec.FunctionCall)
		if err != nil {
			return llm.ChatRequest{}, err
		}
		req.Functions = spec.Functions
		req.FunctionCall = fc
	}
	return req, nil
}

// ChatResult extracts the caller-facing result from a non-streaming
// response: the full message when functions were requested (the function
// call lives on it), otherwise the assistant text, "" when absent.
func ChatResult(resp *llm.ChatResponse, withFunctions bool) any {
	if len(resp.Choices) == 0 {
		if withFunctions {
			return llm.Message{}
		}
		return ""
	}
	msg := resp.Choices[0].Message
	if withFunctions {
		return msg
	}
	if s, ok := msg.Content.(string); ok {
		return s
	}
	return ""
}

// CompletionResult extracts the text of a non-streaming completion, ""
// when absent.
func CompletionResult(resp *llm.CompletionResponse) string {
	if len(resp.Choices) == 0 {
		return ""
	}
	return resp.Choices[0].Text
}
