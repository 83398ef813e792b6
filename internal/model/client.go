package model

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"kbchat/internal/domain"
)

const defaultBackoff = 3 * time.Second

// RetryPolicy bounds the retry loop applied to remote model calls.
// MaxAttempts 0 retries until the context is cancelled.
type RetryPolicy struct {
	MaxAttempts int
	Backoff     time.Duration
}

// Client performs chat and embedding calls against one OpenAI-compatible
// endpoint, classifying every failure and retrying transient kinds. It is
// safe for concurrent use.
type Client struct {
	cfg           ModelConfig
	httpClient    *http.Client
	policy        RetryPolicy
	contextWindow int
	refreshKey    func() (string, error)
	log           *zap.Logger

	mu        sync.RWMutex
	apiKey    string
	dimension int
}

// Option configures a Client.
type Option func(*Client)

// WithRetryPolicy overrides the default retry policy.
func WithRetryPolicy(p RetryPolicy) Option {
	return func(c *Client) { c.policy = p }
}

// WithHTTPClient substitutes the underlying HTTP client.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.httpClient = h }
}

// WithLogger attaches a structured logger.
func WithLogger(log *zap.Logger) Option {
	return func(c *Client) { c.log = log }
}

// WithContextWindow sets the character budget applied to each batched
// embedding input.
func WithContextWindow(n int) Option {
	return func(c *Client) { c.contextWindow = n }
}

// WithCredentialRefresh installs a hook invoked on authentication failures.
// Without it an authentication failure is terminal.
func WithCredentialRefresh(fn func() (string, error)) Option {
	return func(c *Client) { c.refreshKey = fn }
}

// NewClient creates a client for the resolved model configuration.
func NewClient(cfg ModelConfig, opts ...Option) *Client {
	c := &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: 60 * time.Second},
		policy:     RetryPolicy{MaxAttempts: 5, Backoff: defaultBackoff},
		log:        zap.NewNop(),
		apiKey:     cfg.APIKey,
		dimension:  cfg.EmbedSize(0),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.policy.Backoff <= 0 {
		c.policy.Backoff = defaultBackoff
	}
	return c
}

// Dimension returns the embedding dimensionality: the configured metadata
// value, refined by the first successful embed call.
func (c *Client) Dimension() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.dimension
}

// Chat sends the message sequence to the chat-completions endpoint and
// returns the generated text. Terminal failures return an empty string and a
// classified *Error.
func (c *Client) Chat(ctx context.Context, messages []domain.Message, opts domain.ChatOptions) (string, error) {
	var out string
	err := c.call(ctx, func(ctx context.Context) error {
		var err error
		out, err = c.doChat(ctx, messages, opts)
		return err
	})
	if err != nil {
		return "", err
	}
	return out, nil
}

// Embed returns the embedding vector for a single text.
func (c *Client) Embed(ctx context.Context, text string) ([]float64, error) {
	vecs, err := c.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedBatch embeds all texts in one remote round trip. Each element is
// truncated to the configured context window before sending; the result
// matches the input in cardinality and order.
func (c *Client) EmbedBatch(ctx context.Context, texts []string) ([][]float64, error) {
	if len(texts) == 0 {
		return nil, &Error{Kind: KindInvalidRequest, Message: "no texts to embed"}
	}
	input := make([]string, len(texts))
	for i, t := range texts {
		input[i] = truncate(t, c.contextWindow)
	}
	var out [][]float64
	err := c.call(ctx, func(ctx context.Context) error {
		var err error
		out, err = c.doEmbed(ctx, input)
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// call applies the retry policy to one remote invocation. Retryable kinds
// re-invoke the same call with identical arguments after a fixed backoff;
// terminal kinds return immediately. Authentication failures retry only when
// a credential refresh hook is configured.
func (c *Client) call(ctx context.Context, fn func(context.Context) error) error {
	attempt := 0
	for {
		attempt++
		err := fn(ctx)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		var me *Error
		if !errors.As(err, &me) {
			c.log.Error("uncategorized model call failure",
				zap.String("model", c.cfg.ModelName), zap.Error(err))
			return &Error{Kind: KindUnknown, Message: err.Error()}
		}

		retryable := me.Kind.Retryable()
		if me.Kind == KindAuth && c.refreshKey != nil {
			key, rerr := c.refreshKey()
			if rerr != nil {
				c.log.Error("credential refresh failed", zap.Error(rerr))
				return me
			}
			c.mu.Lock()
			c.apiKey = key
			c.mu.Unlock()
			retryable = true
		}
		if !retryable {
			c.log.Error("terminal model call failure",
				zap.String("model", c.cfg.ModelName),
				zap.String("kind", me.Kind.String()),
				zap.String("message", me.Message))
			return me
		}
		if c.policy.MaxAttempts > 0 && attempt >= c.policy.MaxAttempts {
			c.log.Error("model call retries exhausted",
				zap.String("model", c.cfg.ModelName),
				zap.String("kind", me.Kind.String()),
				zap.Int("attempts", attempt))
			return me
		}

		c.log.Warn("retrying model call",
			zap.String("model", c.cfg.ModelName),
			zap.String("kind", me.Kind.String()),
			zap.Int("attempt", attempt),
			zap.Duration("backoff", c.policy.Backoff))
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(c.policy.Backoff):
		}
	}
}

func (c *Client) doChat(ctx context.Context, messages []domain.Message, opts domain.ChatOptions) (string, error) {
	body := struct {
		Model       string           `json:"model"`
		Messages    []domain.Message `json:"messages"`
		Temperature float64          `json:"temperature"`
		MaxTokens   int              `json:"max_tokens,omitempty"`
	}{
		Model:       c.cfg.ModelName,
		Messages:    messages,
		Temperature: opts.Temperature,
		MaxTokens:   opts.MaxTokens,
	}
	var out struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := c.post(ctx, "/chat/completions", body, &out); err != nil {
		return "", err
	}
	if len(out.Choices) == 0 {
		return "", &Error{Kind: KindRemote, Message: "no choices returned"}
	}
	return out.Choices[0].Message.Content, nil
}

func (c *Client) doEmbed(ctx context.Context, input []string) ([][]float64, error) {
	body := struct {
		Model string   `json:"model"`
		Input []string `json:"input"`
	}{Model: c.cfg.ModelName, Input: input}
	var out struct {
		Data []struct {
			Index     int       `json:"index"`
			Embedding []float64 `json:"embedding"`
		} `json:"data"`
	}
	if err := c.post(ctx, "/embeddings", body, &out); err != nil {
		return nil, err
	}
	if len(out.Data) != len(input) {
		return nil, &Error{Kind: KindRemote,
			Message: fmt.Sprintf("embedding count mismatch: sent %d, got %d", len(input), len(out.Data))}
	}
	sort.Slice(out.Data, func(i, j int) bool { return out.Data[i].Index < out.Data[j].Index })
	vecs := make([][]float64, len(out.Data))
	for i, d := range out.Data {
		vecs[i] = d.Embedding
	}
	c.mu.Lock()
	if len(vecs[0]) > 0 {
		c.dimension = len(vecs[0])
	}
	c.mu.Unlock()
	return vecs, nil
}

func (c *Client) post(ctx context.Context, path string, body, out any) error {
	data, err := json.Marshal(body)
	if err != nil {
		return &Error{Kind: KindInvalidRequest, Message: err.Error()}
	}
	url := strings.TrimSuffix(c.cfg.APIBaseURL, "/") + path
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return &Error{Kind: KindInvalidRequest, Message: err.Error()}
	}
	req.Header.Set("Content-Type", "application/json")
	c.mu.RLock()
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	c.mu.RUnlock()

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return classifyTransport(err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return classifyTransport(err)
	}
	if resp.StatusCode >= 300 {
		return classifyStatus(resp.StatusCode, payload)
	}
	if err := json.Unmarshal(payload, out); err != nil {
		return &Error{Kind: KindRemote, Status: resp.StatusCode,
			Message: "malformed response body: " + err.Error()}
	}
	return nil
}

func classifyTransport(err error) *Error {
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return &Error{Kind: KindTimeout, Message: err.Error()}
	}
	if strings.Contains(err.Error(), "timeout") {
		return &Error{Kind: KindTimeout, Message: err.Error()}
	}
	return &Error{Kind: KindConnection, Message: err.Error()}
}

// classifyStatus maps an HTTP error response to an error kind. Checks run in
// a fixed order: content filter before generic bad request, then rate limit,
// authentication, timeout-by-message, missing deployment, and finally the
// generic remote kind, which is treated as transient.
func classifyStatus(status int, payload []byte) *Error {
	var body struct {
		Error struct {
			Code    string `json:"code"`
			Type    string `json:"type"`
			Message string `json:"message"`
		} `json:"error"`
	}
	_ = json.Unmarshal(payload, &body)
	msg := body.Error.Message
	if msg == "" {
		msg = strings.TrimSpace(string(payload))
	}

	switch {
	case status == http.StatusBadRequest && body.Error.Code == "content_filter":
		return &Error{Kind: KindContentFilter, Status: status, Message: msg}
	case status == http.StatusBadRequest:
		return &Error{Kind: KindInvalidRequest, Status: status, Message: msg}
	case status == http.StatusTooManyRequests:
		return &Error{Kind: KindRateLimit, Status: status, Message: msg}
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return &Error{Kind: KindAuth, Status: status, Message: msg}
	case strings.Contains(msg, "timeout"):
		return &Error{Kind: KindTimeout, Status: status, Message: msg}
	case status == http.StatusNotFound || strings.Contains(msg, "DeploymentNotFound"):
		return &Error{Kind: KindDeploymentNotFound, Status: status, Message: msg}
	default:
		return &Error{Kind: KindRemote, Status: status, Message: msg}
	}
}

// truncate caps a string at n runes. n <= 0 means no limit.
func truncate(s string, n int) string {
	if n <= 0 {
		return s
	}
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
