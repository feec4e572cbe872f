// Package vlm asks a vision language model to describe captured screens.
// It speaks the OpenAI-compatible chat completions protocol, streaming the
// answer when the server supports it.
package vlm

import (
	"bufio"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
)

var (
	// ErrConnectionFailed means the endpoint could not be reached.
	ErrConnectionFailed = errors.New("vlm: connection failed")
	// ErrActivityTimeout means a streaming response stalled.
	ErrActivityTimeout = errors.New("vlm: no response activity")
	// ErrInvalidResponse means the server answered with something that is
	// not a chat completion.
	ErrInvalidResponse = errors.New("vlm: invalid response")
)

// NoDescription is returned when the model produced no text.
const NoDescription = "No description available"

// Config holds the endpoint and limits of a Client.
type Config struct {
	Endpoint  string
	Model     string
	MaxTokens int
	// ConnectTimeout bounds establishing the connection. There is no bound
	// on the total request time.
	ConnectTimeout time.Duration
	// ActivityTimeout bounds the gap between streamed chunks.
	ActivityTimeout time.Duration
	RetryCount      int
}

// DefaultConfig returns settings for a local llama.cpp style server.
func DefaultConfig() Config {
	return Config{
		Endpoint:        "http://127.0.0.1:8080/v1/chat/completions",
		Model:           "qwen3",
		MaxTokens:       400,
		ConnectTimeout:  10 * time.Second,
		ActivityTimeout: 60 * time.Second,
		RetryCount:      2,
	}
}

// Client talks to one chat completions endpoint.
type Client struct {
	cfg    Config
	http   *resty.Client
	probe  *resty.Client
	logger *zap.Logger
}

// New returns a client. A nil logger disables logging.
func New(cfg Config, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	transport := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		DialContext:         (&net.Dialer{Timeout: cfg.ConnectTimeout}).DialContext,
		TLSHandshakeTimeout: cfg.ConnectTimeout,
		MaxIdleConns:        4,
		IdleConnTimeout:     90 * time.Second,
	}
	client := resty.New().
		SetTransport(transport).
		SetRetryCount(max(cfg.RetryCount, 0)).
		SetRetryWaitTime(500*time.Millisecond).
		SetRetryMaxWaitTime(5*time.Second).
		SetHeader("User-Agent", "termsnap-vlm/1.0")

	// Health probes share the transport but are never retried.
	probe := resty.New().SetTransport(transport)

	return &Client{cfg: cfg, http: client, probe: probe, logger: logger}
}

type imageURL struct {
	URL string `json:"url"`
}

type contentPart struct {
	Type     string    `json:"type"`
	ImageURL *imageURL `json:"image_url,omitempty"`
	Text     string    `json:"text,omitempty"`
}

type message struct {
	Role    string        `json:"role"`
	Content []contentPart `json:"content"`
}

type chatRequest struct {
	Model     string    `json:"model"`
	Messages  []message `json:"messages"`
	MaxTokens int       `json:"max_tokens"`
	Stream    bool      `json:"stream,omitempty"`
}

type streamChunk struct {
	Choices []struct {
		Delta struct {
			Content          string `json:"content"`
			ReasoningContent string `json:"reasoning_content"`
		} `json:"delta"`
	} `json:"choices"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content          string `json:"content"`
			ReasoningContent string `json:"reasoning_content"`
		} `json:"message"`
	} `json:"choices"`
}

func (c *Client) request(png []byte, prompt string, stream bool) chatRequest {
	return chatRequest{
		Model: c.cfg.Model,
		Messages: []message{{
			Role: "user",
			Content: []contentPart{
				{Type: "image_url", ImageURL: &imageURL{URL: "data:image/png;base64," + base64.StdEncoding.EncodeToString(png)}},
				{Type: "text", Text: prompt},
			},
		}},
		MaxTokens: c.cfg.MaxTokens,
		Stream:    stream,
	}
}

// Analyze describes a PNG screenshot according to prompt. It streams the
// answer first and falls back to a plain request when the stream yielded
// no text.
func (c *Client) Analyze(ctx context.Context, png []byte, prompt string) (string, error) {
	return c.AnalyzeWithProgress(ctx, png, prompt, nil)
}

// AnalyzeWithProgress is Analyze with a callback that receives the text
// accumulated so far after each streamed chunk.
func (c *Client) AnalyzeWithProgress(ctx context.Context, png []byte, prompt string, progress func(partial string)) (string, error) {
	start := time.Now()
	text, err := c.stream(ctx, png, prompt, progress)
	if err != nil {
		return "", err
	}
	if text != "" {
		c.logger.Debug("vlm analysis streamed",
			zap.Int("chars", len(text)),
			zap.Duration("elapsed", time.Since(start)))
		return text, nil
	}

	c.logger.Debug("vlm stream empty, retrying without streaming")
	return c.complete(ctx, png, prompt)
}

func (c *Client) stream(ctx context.Context, png []byte, prompt string, progress func(string)) (string, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	resp, err := c.http.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "text/event-stream").
		SetBody(c.request(png, prompt, true)).
		SetDoNotParseResponse(true).
		Post(c.cfg.Endpoint)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrConnectionFailed, err)
	}
	body := resp.RawBody()
	defer body.Close()

	if resp.StatusCode() >= 300 {
		c.logger.Debug("vlm stream rejected", zap.Int("status", resp.StatusCode()))
		_, _ = io.Copy(io.Discard, io.LimitReader(body, 64*1024))
		return "", nil
	}

	lines := make(chan string)
	readErr := make(chan error, 1)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(body)
		sc.Buffer(make([]byte, 64*1024), 4*1024*1024)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-ctx.Done():
				readErr <- ctx.Err()
				return
			}
		}
		readErr <- sc.Err()
	}()

	idle := c.cfg.ActivityTimeout
	if idle <= 0 {
		idle = DefaultConfig().ActivityTimeout
	}
	timer := time.NewTimer(idle)
	defer timer.Stop()

	var text strings.Builder
	for {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-timer.C:
			cancel()
			return "", fmt.Errorf("%w: nothing received for %v", ErrActivityTimeout, idle)
		case line, ok := <-lines:
			if !ok {
				if err := <-readErr; err != nil && text.Len() == 0 {
					return "", fmt.Errorf("%w: %v", ErrConnectionFailed, err)
				}
				return text.String(), nil
			}
			timer.Reset(idle)

			data, found := strings.CutPrefix(line, "data:")
			if !found {
				continue
			}
			data = strings.TrimSpace(data)
			if data == "[DONE]" {
				return text.String(), nil
			}
			var chunk streamChunk
			if json.Unmarshal([]byte(data), &chunk) != nil || len(chunk.Choices) == 0 {
				continue
			}
			delta := chunk.Choices[0].Delta
			if delta.Content == "" && delta.ReasoningContent == "" {
				continue
			}
			text.WriteString(delta.Content)
			text.WriteString(delta.ReasoningContent)
			if progress != nil {
				progress(text.String())
			}
		}
	}
}

func (c *Client) complete(ctx context.Context, png []byte, prompt string) (string, error) {
	var out chatResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(c.request(png, prompt, false)).
		SetResult(&out).
		Post(c.cfg.Endpoint)
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", fmt.Errorf("%w: %v", ErrConnectionFailed, err)
	}
	if resp.IsError() {
		return "", fmt.Errorf("%w: status %d: %s", ErrInvalidResponse, resp.StatusCode(), truncate(resp.String(), 200))
	}
	if len(out.Choices) == 0 {
		if !strings.Contains(resp.Header().Get("Content-Type"), "json") || !json.Valid(resp.Body()) {
			return "", fmt.Errorf("%w: %s", ErrInvalidResponse, truncate(resp.String(), 200))
		}
		return NoDescription, nil
	}
	msg := out.Choices[0].Message
	switch {
	case msg.Content != "":
		return msg.Content, nil
	case msg.ReasoningContent != "":
		return msg.ReasoningContent, nil
	default:
		return NoDescription, nil
	}
}

// CheckHealth reports whether the endpoint's server accepts connections. It
// sends a HEAD request to the server root; any HTTP response counts as
// reachable, since a full completion can take far longer than a health
// check should.
func (c *Client) CheckHealth(ctx context.Context) error {
	u, err := url.Parse(c.cfg.Endpoint)
	if err != nil || u.Host == "" {
		return fmt.Errorf("%w: bad endpoint %q", ErrConnectionFailed, c.cfg.Endpoint)
	}
	target := u.Scheme + "://" + u.Host

	if c.cfg.ConnectTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.cfg.ConnectTimeout)
		defer cancel()
	}
	if _, err := c.probe.R().SetContext(ctx).Head(target); err != nil {
		return fmt.Errorf("%w: %v", ErrConnectionFailed, err)
	}
	return nil
}

// BuildPrompt returns the question asked about a step. A custom prompt has
// {step} and {input} replaced; input reads "none" when empty.
func BuildPrompt(step int, input, custom string) string {
	if custom != "" {
		in := input
		if in == "" {
			in = "none"
		}
		return strings.NewReplacer("{step}", strconv.Itoa(step), "{input}", in).Replace(custom)
	}
	if step == 0 {
		return "Describe the initial state of this terminal application. What UI elements are visible? What is selected or highlighted?"
	}
	in := input
	if in == "" {
		in = "unknown"
	}
	return fmt.Sprintf("The user pressed '%s'. Describe what changed in this terminal application. What is the current state? What is now selected or highlighted?", in)
}

// ParseStepPrompts decodes a JSON object mapping step numbers to prompts,
// such as {"1": "Is the menu open?"}.
func ParseStepPrompts(data []byte) (map[int]string, error) {
	var raw map[string]string
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("step prompts: %w", err)
	}
	out := make(map[int]string, len(raw))
	for k, v := range raw {
		n, err := strconv.Atoi(strings.TrimSpace(k))
		if err != nil || n < 0 {
			return nil, fmt.Errorf("step prompts: %q is not a step number", k)
		}
		out[n] = v
	}
	return out, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
