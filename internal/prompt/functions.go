package prompt

import (
	"fmt"

	"github.com/ashita-ai/senro/internal/llm"
)

const functionExample = `{"name": "get_weather", "parameters": {"type": "object", "properties": {"city": {"type": "string"}}}}`

// ValidateFunctions checks a function list before it goes on the wire: the
// list must be non-empty and each entry needs a name plus a JSON-Schema
// object for parameters. Error messages include a concrete valid example.
func ValidateFunctions(functions []llm.FunctionDef) error {
	if len(functions) == 0 {
		return &llm.UserError{Message: "functions cannot be an empty list; omit the field entirely or provide entries like " + functionExample}
	}
	for i, fn := range functions {
		if fn.Name == "" {
			return &llm.UserError{Message: fmt.Sprintf("functions[%d] is missing a name; each function must look like %s", i, functionExample)}
		}
		if err := validateParameters(fn.Parameters); err != nil {
			return &llm.UserError{Message: fmt.Sprintf("functions[%d] (%s): %v; expected parameters like %s", i, fn.Name, err, functionExample)}
		}
	}
	return nil
}

func validateParameters(params map[string]any) error {
	if params == nil {
		return fmt.Errorf("parameters are required")
	}
	typ, ok := params["type"].(string)
	if !ok || typ != "object" {
		return fmt.Errorf(`parameters must declare "type": "object"`)
	}
	if _, ok := params["properties"].(map[string]any); !ok {
		return fmt.Errorf(`parameters must carry a "properties" object`)
	}
	return nil
}

// ProcessFunctionCall normalizes the function_call request field: nil means
// "auto", the literal modes "auto" and "none" pass through, and anything
// else must be a map naming one function.
func ProcessFunctionCall(fc any) (any, error) {
	switch v := fc.(type) {
	case nil:
		return "auto", nil
	case string:
		if v == "auto" || v == "none" {
			return v, nil
		}
		return nil, &llm.UserError{Message: fmt.Sprintf(`function_call %q is invalid; use "auto", "none", or {"name": "my_function"}`, v)}
	case map[string]any:
		if _, ok := v["name"].(string); ok {
			return v, nil
		}
		return nil, &llm.UserError{Message: `function_call object must contain "name", e.g. {"name": "my_function"}`}
	default:
		return nil, &llm.UserError{Message: fmt.Sprintf(`function_call has unsupported type %T; use "auto", "none", or {"name": "my_function"}`, fc)}
	}
}
