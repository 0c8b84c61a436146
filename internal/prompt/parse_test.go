package prompt_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashita-ai/senro/internal/llm"
	"github.com/ashita-ai/senro/internal/prompt"
)

func TestParseChat_Roles(t *testing.T) {
	rendered := `system:
You are helpful.

user:
What is Go?

assistant:
A language.`

	msgs, err := prompt.ParseChat(rendered, nil)
	require.NoError(t, err)
	require.Len(t, msgs, 3)
	assert.Equal(t, "system", msgs[0].Role)
	assert.Equal(t, "You are helpful.", msgs[0].Content)
	assert.Equal(t, "user", msgs[1].Role)
	assert.Equal(t, "What is Go?", msgs[1].Content)
	assert.Equal(t, "assistant", msgs[2].Role)
}

func TestParseChat_MarkerVariants(t *testing.T) {
	// Case-insensitive, optional leading '#', surrounding whitespace.
	rendered := "# System :\nrules\n USER:\nquestion"
	msgs, err := prompt.ParseChat(rendered, nil)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "system", msgs[0].Role)
	assert.Equal(t, "user", msgs[1].Role)
}

func TestParseChat_InlineColonIsNotAMarker(t *testing.T) {
	// "user: text" on one line is content, not a separator.
	rendered := "user:\nnote that system: is mentioned here"
	msgs, err := prompt.ParseChat(rendered, nil)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "note that system: is mentioned here", msgs[0].Content)
}

func TestParseChat_TextBeforeFirstMarker(t *testing.T) {
	_, err := prompt.ParseChat("stray text\nuser:\nhi", nil)
	var user *llm.UserError
	require.ErrorAs(t, err, &user)
}

func TestParseChat_Empty(t *testing.T) {
	_, err := prompt.ParseChat("   \n \n", nil)
	var user *llm.UserError
	require.ErrorAs(t, err, &user)
}

func TestParseChat_FunctionRole(t *testing.T) {
	rendered := `function:
name:
get_weather
content:
{"temperature": 21}`

	msgs, err := prompt.ParseChat(rendered, nil)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "function", msgs[0].Role)
	assert.Equal(t, "get_weather", msgs[0].Name)
	assert.Equal(t, `{"temperature": 21}`, msgs[0].Content)
}

func TestParseChat_FunctionRoleMissingName(t *testing.T) {
	_, err := prompt.ParseChat("function:\njust some text", nil)
	var user *llm.UserError
	require.ErrorAs(t, err, &user)
	assert.Contains(t, err.Error(), "name")
}

func TestParseChat_ImageByName(t *testing.T) {
	rendered := "user:\nWhat is in this picture?\n![image](photo)\nBe specific."
	images := []prompt.Image{{Name: "photo", SourceURL: "https://example.com/cat.png"}}

	msgs, err := prompt.ParseChat(rendered, images)
	require.NoError(t, err)
	require.Len(t, msgs, 1)

	parts, ok := msgs[0].Content.([]llm.ContentPart)
	require.True(t, ok)
	require.Len(t, parts, 3)
	assert.Equal(t, "text", parts[0].Type)
	assert.Equal(t, "What is in this picture?", parts[0].Text)
	assert.Equal(t, "image_url", parts[1].Type)
	assert.Equal(t, "https://example.com/cat.png", parts[1].ImageURL.URL)
	assert.Equal(t, "Be specific.", parts[2].Text)
}

func TestParseChat_ImageBase64Fallback(t *testing.T) {
	rendered := "user:\n![image](photo)"
	images := []prompt.Image{{Name: "photo", Data: []byte{1, 2, 3}, MimeType: "image/jpeg"}}

	msgs, err := prompt.ParseChat(rendered, images)
	require.NoError(t, err)
	parts := msgs[0].Content.([]llm.ContentPart)
	require.Len(t, parts, 1)
	assert.Contains(t, parts[0].ImageURL.URL, "data:image/jpeg;base64,")
}

func TestParseChat_UnknownImageRefUsedAsURL(t *testing.T) {
	rendered := "user:\n![image](https://example.com/direct.png)"
	msgs, err := prompt.ParseChat(rendered, nil)
	require.NoError(t, err)
	parts := msgs[0].Content.([]llm.ContentPart)
	require.Len(t, parts, 1)
	assert.Equal(t, "https://example.com/direct.png", parts[0].ImageURL.URL)
}

func TestParseChat_TextOnlyStaysString(t *testing.T) {
	msgs, err := prompt.ParseChat("user:\nplain text", nil)
	require.NoError(t, err)
	_, isString := msgs[0].Content.(string)
	assert.True(t, isString)
}
