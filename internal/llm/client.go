package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"
)

// Mode selects how the client executes requests. Replay serves recorded
// responses without touching the network; Record performs live calls and
// captures them. The mode is fixed at construction.
type Mode string

const (
	ModeLive   Mode = "live"
	ModeRecord Mode = "record"
	ModeReplay Mode = "replay"
)

// Client issues chat, completion and embedding requests against one
// connection. All calls go through the retry layer; errors surface as the
// package's typed taxonomy.
type Client struct {
	cfg        ConnectionConfig
	httpClient *http.Client
	retry      RetryConfig
	mode       Mode
	cassette   *Cassette
	logger     *slog.Logger
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithHTTPClient overrides the transport (timeouts, proxies, test servers).
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) { c.httpClient = hc }
}

// WithRetryConfig overrides the retry budget and sleeper.
func WithRetryConfig(rc RetryConfig) ClientOption {
	return func(c *Client) { c.retry = rc }
}

// WithMode sets the execution mode. Record and Replay require a cassette.
func WithMode(mode Mode, cassette *Cassette) ClientOption {
	return func(c *Client) {
		c.mode = mode
		c.cassette = cassette
	}
}

// WithLogger overrides the client logger.
func WithLogger(logger *slog.Logger) ClientOption {
	return func(c *Client) { c.logger = logger }
}

// NewClient builds a Client for the given connection.
func NewClient(conn Connection, opts ...ClientOption) (*Client, error) {
	cfg, err := NormalizeConnection(conn)
	if err != nil {
		return nil, err
	}
	c := &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: 5 * time.Minute},
		mode:       ModeLive,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.mode != ModeLive && c.cassette == nil {
		return nil, &UserError{Message: fmt.Sprintf("mode %q requires a cassette", c.mode)}
	}
	c.retry.Logger = c.logger
	return c, nil
}

// Chat performs a non-streaming chat completion.
func (c *Client) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	req.Stream = false
	return Call(ctx, c.retry, func(ctx context.Context) (*ChatResponse, error) {
		var out ChatResponse
		if err := c.post(ctx, c.url("chat/completions", req.Model), req, &out); err != nil {
			return nil, err
		}
		return &out, nil
	})
}

// ChatStream performs a streaming chat completion and returns a forward-only
// iterator over text deltas. The retry layer covers connection setup only;
// a stream broken mid-flight is not resumed.
func (c *Client) ChatStream(ctx context.Context, req ChatRequest) (*Stream, error) {
	req.Stream = true
	return Call(ctx, c.retry, func(ctx context.Context) (*Stream, error) {
		body, err := c.postRaw(ctx, c.url("chat/completions", req.Model), req)
		if err != nil {
			return nil, err
		}
		return newStream(body), nil
	})
}

// Completion performs a non-streaming legacy completion.
func (c *Client) Completion(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
	req.Stream = false
	return Call(ctx, c.retry, func(ctx context.Context) (*CompletionResponse, error) {
		var out CompletionResponse
		if err := c.post(ctx, c.url("completions", req.Model), req, &out); err != nil {
			return nil, err
		}
		return &out, nil
	})
}

// Embeddings embeds one or more inputs.
func (c *Client) Embeddings(ctx context.Context, req EmbeddingsRequest) (*EmbeddingsResponse, error) {
	return Call(ctx, c.retry, func(ctx context.Context) (*EmbeddingsResponse, error) {
		var out EmbeddingsResponse
		if err := c.post(ctx, c.url("embeddings", req.Model), req, &out); err != nil {
			return nil, err
		}
		return &out, nil
	})
}

// url builds the endpoint URL. Azure routes through the deployment path and
// pins the api-version; OpenAI uses the flat path.
func (c *Client) url(path, model string) string {
	if c.cfg.IsAzure() {
		return fmt.Sprintf("%s/openai/deployments/%s/%s?api-version=%s",
			c.cfg.Endpoint, model, path, c.cfg.APIVersion)
	}
	return c.cfg.BaseURL + "/" + path
}

func (c *Client) post(ctx context.Context, url string, payload, out any) error {
	body, err := c.postRaw(ctx, url, payload)
	if err != nil {
		return err
	}
	defer body.Close()
	if err := json.NewDecoder(body).Decode(out); err != nil {
		return &SystemError{Message: "decode response", Err: err}
	}
	return nil
}

func (c *Client) postRaw(ctx context.Context, url string, payload any) (io.ReadCloser, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, &SystemError{Message: "encode request", Err: err}
	}

	if c.mode == ModeReplay {
		rec, ok := c.cassette.lookup(url, raw)
		if !ok {
			return nil, &SystemError{Message: fmt.Sprintf("replay: no recording for %s", url)}
		}
		return io.NopCloser(bytes.NewReader(rec)), nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(raw))
	if err != nil {
		return nil, &SystemError{Message: "build request", Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	if c.cfg.IsAzure() {
		req.Header.Set("api-key", c.cfg.APIKey)
	} else {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
		if c.cfg.Organization != "" {
			req.Header.Set("OpenAI-Organization", c.cfg.Organization)
		}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, classifyTransportError(err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer resp.Body.Close()
		return nil, classifyStatus(resp)
	}

	if c.mode == ModeRecord {
		recorded, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			return nil, &ConnectionError{Err: err}
		}
		c.cassette.store(url, raw, recorded)
		return io.NopCloser(bytes.NewReader(recorded)), nil
	}
	return resp.Body, nil
}

func classifyTransportError(err error) error {
	var netErr net.Error
	if errors.As(err, &netErr) {
		return &ConnectionError{Err: err, Timeout: netErr.Timeout()}
	}
	return &ConnectionError{Err: err}
}

// apiErrorBody is the wire shape of OpenAI-style error responses.
type apiErrorBody struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    string `json:"code"`
	} `json:"error"`
}

func classifyStatus(resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	var body apiErrorBody
	_ = json.Unmarshal(raw, &body)
	message := body.Error.Message
	if message == "" {
		message = string(raw)
	}
	retryAfter := parseRetryAfter(resp.Header.Get("Retry-After"))

	if resp.StatusCode == http.StatusTooManyRequests {
		return &RateLimitError{
			RetryAfter:        retryAfter,
			InsufficientQuota: body.Error.Type == "insufficient_quota" || body.Error.Code == "insufficient_quota",
			Message:           message,
		}
	}
	return &StatusError{
		StatusCode: resp.StatusCode,
		RetryAfter: retryAfter,
		Message:    message,
	}
}

func parseRetryAfter(header string) time.Duration {
	if header == "" {
		return 0
	}
	secs, err := strconv.Atoi(header)
	if err != nil || secs <= 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}
