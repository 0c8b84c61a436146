package prompt_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashita-ai/senro/internal/llm"
	"github.com/ashita-ai/senro/internal/prompt"
)

func weatherFn() llm.FunctionDef {
	return llm.FunctionDef{
		Name: "get_weather",
		Parameters: map[string]any{
			"type":       "object",
			"properties": map[string]any{"city": map[string]any{"type": "string"}},
		},
	}
}

func TestValidateFunctions(t *testing.T) {
	require.NoError(t, prompt.ValidateFunctions([]llm.FunctionDef{weatherFn()}))
}

func TestValidateFunctions_Empty(t *testing.T) {
	err := prompt.ValidateFunctions(nil)
	var user *llm.UserError
	require.ErrorAs(t, err, &user)
	assert.Contains(t, err.Error(), "get_weather")
}

func TestValidateFunctions_MissingName(t *testing.T) {
	fn := weatherFn()
	fn.Name = ""
	err := prompt.ValidateFunctions([]llm.FunctionDef{fn})
	var user *llm.UserError
	require.ErrorAs(t, err, &user)
}

func TestValidateFunctions_BadParameters(t *testing.T) {
	for name, params := range map[string]map[string]any{
		"nil":           nil,
		"wrong type":    {"type": "array", "properties": map[string]any{}},
		"no properties": {"type": "object"},
	} {
		t.Run(name, func(t *testing.T) {
			fn := weatherFn()
			fn.Parameters = params
			err := prompt.ValidateFunctions([]llm.FunctionDef{fn})
			var user *llm.UserError
			require.ErrorAs(t, err, &user)
		})
	}
}

func TestProcessFunctionCall(t *testing.T) {
	out, err := prompt.ProcessFunctionCall(nil)
	require.NoError(t, err)
	assert.Equal(t, "auto", out)

	out, err = prompt.ProcessFunctionCall("none")
	require.NoError(t, err)
	assert.Equal(t, "none", out)

	out, err = prompt.ProcessFunctionCall(map[string]any{"name": "get_weather"})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"name": "get_weather"}, out)
}

func TestProcessFunctionCall_Invalid(t *testing.T) {
	for name, fc := range map[string]any{
		"bad string":  "always",
		"nameless":    map[string]any{"function": "x"},
		"wrong type":  42,
	} {
		t.Run(name, func(t *testing.T) {
			_, err := prompt.ProcessFunctionCall(fc)
			var user *llm.UserError
			require.ErrorAs(t, err, &user)
		})
	}
}
