package llm_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashita-ai/senro/internal/llm"
	"github.com/ashita-ai/senro/internal/testutil"
)

func fastRetry(maxTries int) llm.ClientOption {
	return llm.WithRetryConfig(llm.RetryConfig{
		MaxTries: maxTries,
		Sleep:    func(time.Duration) {},
		Logger:   testutil.TestLogger(),
	})
}

func newTestClient(t *testing.T, handler http.HandlerFunc, opts ...llm.ClientOption) *llm.Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	opts = append([]llm.ClientOption{fastRetry(3)}, opts...)
	c, err := llm.NewClient(llm.OpenAIConnection{APIKey: "sk-test", BaseURL: srv.URL}, opts...)
	require.NoError(t, err)
	return c
}

func chatOK(w http.ResponseWriter, content string) {
	_ = json.NewEncoder(w).Encode(llm.ChatResponse{
		Choices: []llm.ChatChoice{{Message: llm.Message{Role: "assistant", Content: content}}},
		Usage:   llm.TokenUsage{PromptTokens: 2, CompletionTokens: 3, TotalTokens: 5},
	})
}

func TestChat(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		chatOK(w, "hello")
	})

	resp, err := c.Chat(context.Background(), llm.ChatRequest{
		Model:    "gpt-4o",
		Messages: []llm.Message{{Role: "user", Content: "hi"}},
	})
	require.NoError(t, err)
	require.Len(t, resp.Choices, 1)
	assert.Equal(t, "hello", resp.Choices[0].Message.Content)
	assert.Equal(t, 5, resp.Usage.TotalTokens)
}

func TestChat_RetriesServerError(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			http.Error(w, `{"error":{"message":"upstream hiccup"}}`, http.StatusBadGateway)
			return
		}
		chatOK(w, "recovered")
	})

	resp, err := c.Chat(context.Background(), llm.ChatRequest{Model: "gpt-4o"})
	require.NoError(t, err)
	assert.Equal(t, "recovered", resp.Choices[0].Message.Content)
	assert.Equal(t, int32(2), calls.Load())
}

func TestChat_InsufficientQuotaTerminal(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error":{"message":"You exceeded your current quota","type":"insufficient_quota"}}`))
	})

	_, err := c.Chat(context.Background(), llm.ChatRequest{Model: "gpt-4o"})
	var rateLimit *llm.RateLimitError
	require.ErrorAs(t, err, &rateLimit)
	assert.True(t, rateLimit.InsufficientQuota)
	assert.Equal(t, int32(1), calls.Load())
}

func TestChat_RetryAfterHeaderParsed(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "12")
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error":{"message":"throttled"}}`))
	}, fastRetry(1))

	_, err := c.Chat(context.Background(), llm.ChatRequest{Model: "gpt-4o"})
	var rateLimit *llm.RateLimitError
	require.ErrorAs(t, err, &rateLimit)
	assert.Equal(t, 12*time.Second, rateLimit.RetryAfter)
}

func TestAzureURLAndHeaders(t *testing.T) {
	var gotPath, gotQuery, gotKey string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotQuery = r.URL.RawQuery
		gotKey = r.Header.Get("api-key")
		chatOK(w, "ok")
	}))
	defer srv.Close()

	c, err := llm.NewClient(llm.AzureConnection{
		APIKey:     "azure-key",
		Endpoint:   srv.URL,
		APIVersion: "2024-02-01",
	}, fastRetry(1))
	require.NoError(t, err)

	_, err = c.Chat(context.Background(), llm.ChatRequest{Model: "my-deployment"})
	require.NoError(t, err)
	assert.Equal(t, "/openai/deployments/my-deployment/chat/completions", gotPath)
	assert.Equal(t, "api-version=2024-02-01", gotQuery)
	assert.Equal(t, "azure-key", gotKey)
}

func TestEmbeddings(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/embeddings", r.URL.Path)
		_ = json.NewEncoder(w).Encode(llm.EmbeddingsResponse{
			Data: []llm.Embedding{{Index: 0, Embedding: []float64{0.1, 0.2}}},
		})
	})

	resp, err := c.Embeddings(context.Background(), llm.EmbeddingsRequest{Model: "ada", Input: "hello"})
	require.NoError(t, err)
	require.Len(t, resp.Data, 1)
	assert.Len(t, resp.Data[0].Embedding, 2)
}

func TestRecordReplay(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		chatOK(w, "recorded answer")
	}))
	defer srv.Close()

	cassette := llm.NewCassette()
	conn := llm.OpenAIConnection{APIKey: "sk-test", BaseURL: srv.URL}

	recorder, err := llm.NewClient(conn, fastRetry(1), llm.WithMode(llm.ModeRecord, cassette))
	require.NoError(t, err)
	req := llm.ChatRequest{Model: "gpt-4o", Messages: []llm.Message{{Role: "user", Content: "hi"}}}
	_, err = recorder.Chat(context.Background(), req)
	require.NoError(t, err)
	require.Equal(t, int32(1), calls.Load())

	replayer, err := llm.NewClient(conn, fastRetry(1), llm.WithMode(llm.ModeReplay, cassette))
	require.NoError(t, err)
	resp, err := replayer.Chat(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, "recorded answer", resp.Choices[0].Message.Content)
	// Replay never hit the network.
	assert.Equal(t, int32(1), calls.Load())
}

func TestReplayMissingRecording(t *testing.T) {
	c, err := llm.NewClient(
		llm.OpenAIConnection{APIKey: "sk-test", BaseURL: "http://127.0.0.1:1"},
		fastRetry(1), llm.WithMode(llm.ModeReplay, llm.NewCassette()),
	)
	require.NoError(t, err)
	_, err = c.Chat(context.Background(), llm.ChatRequest{Model: "gpt-4o"})
	var system *llm.SystemError
	require.ErrorAs(t, err, &system)
}

func TestModeRequiresCassette(t *testing.T) {
	_, err := llm.NewClient(llm.OpenAIConnection{APIKey: "k"}, llm.WithMode(llm.ModeReplay, nil))
	var user *llm.UserError
	require.ErrorAs(t, err, &user)
}
