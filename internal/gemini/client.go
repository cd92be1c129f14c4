package gemini

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"
	"unicode/utf8"
)

const (
	defaultBaseURL     = "https://generativelanguage.googleapis.com"
	defaultMinInterval = 1200 * time.Millisecond
	chatTimeout        = 120 * time.Second
	titleTimeout       = 15 * time.Second

	// maxTitleLen is the longest conversation title we accept before
	// asking the model to compress it.
	maxTitleLen = 50
)

// BackendError wraps a transport or provider failure from the Gemini API.
// Pipeline stages match on it to distinguish backend outages from local
// parsing problems.
type BackendError struct {
	Err error
}

func (e *BackendError) Error() string {
	return fmt.Sprintf("gemini backend: %v", e.Err)
}

func (e *BackendError) Unwrap() error {
	return e.Err
}

// Client communicates with the Gemini generateContent API over HTTP.
//
// A single Client is shared by every pipeline stage; its minimum-interval
// throttle is the one piece of cross-request shared state in the service.
// Each outbound call reserves the next slot in a global schedule under the
// mutex, then sleeps outside it, so concurrent callers cannot both read a
// stale timestamp and burst the provider.
type Client struct {
	apiKey      string
	baseURL     string
	model       string
	minInterval time.Duration
	httpClient  *http.Client

	mu   sync.Mutex
	next time.Time // earliest start for the next outbound call
}

// New creates a Client for the given API key and model using the public
// Gemini endpoint and the default 1.2s call interval.
func New(apiKey, model string) *Client {
	return &Client{
		apiKey:      apiKey,
		baseURL:     defaultBaseURL,
		model:       model,
		minInterval: defaultMinInterval,
		httpClient:  &http.Client{Timeout: 0},
	}
}

// NewWithBaseURL creates a Client pointing at a custom base URL (for testing).
func NewWithBaseURL(apiKey, model, baseURL string) *Client {
	c := New(apiKey, model)
	c.baseURL = strings.TrimRight(baseURL, "/")
	return c
}

// SetMinInterval overrides the minimum wall-clock interval between
// consecutive outbound calls. Values <= 0 disable the throttle.
func (c *Client) SetMinInterval(d time.Duration) {
	c.mu.Lock()
	c.minInterval = d
	c.mu.Unlock()
}

// waitTurn blocks until this caller's reserved slot in the global call
// schedule arrives, or the context is cancelled. The slot is reserved
// atomically so two concurrent callers never compute the same wait.
func (c *Client) waitTurn(ctx context.Context) error {
	c.mu.Lock()
	now := time.Now()
	start := c.next
	if start.Before(now) {
		start = now
	}
	c.next = start.Add(c.minInterval)
	c.mu.Unlock()

	wait := time.Until(start)
	if wait <= 0 {
		return ctx.Err()
	}
	slog.Debug("gemini: throttling outbound call", "wait", wait)
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(wait):
		return nil
	}
}

// --- request/response wire types ---

type generateRequest struct {
	Contents         []content         `json:"contents"`
	GenerationConfig *generationConfig `json:"generationConfig,omitempty"`
	Tools            []tool            `json:"tools,omitempty"`
}

type content struct {
	Role  string `json:"role"`
	Parts []part `json:"parts"`
}

type part struct {
	Text string `json:"text"`
}

type generationConfig struct {
	Temperature     float64 `json:"temperature"`
	MaxOutputTokens int     `json:"maxOutputTokens,omitempty"`
}

type tool struct {
	GoogleSearch *struct{} `json:"google_search,omitempty"`
}

type generateResponse struct {
	Candidates []struct {
		Content content `json:"content"`
	} `json:"candidates"`
}

// Chat sends a system+user prompt pair to the model and returns the
// generated text. Output is streamed from the provider and concatenated.
// An empty provider response yields an empty string, not an error; callers
// that cannot tolerate empty output substitute their own fallback.
// Transport and provider failures are returned as *BackendError.
func (c *Client) Chat(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	if err := c.waitTurn(ctx); err != nil {
		return "", &BackendError{Err: err}
	}

	req := generateRequest{
		Contents: []content{
			{Role: "user", Parts: []part{{Text: systemPrompt + "\n\n" + userPrompt}}},
		},
		GenerationConfig: &generationConfig{
			Temperature:     1.0,
			MaxOutputTokens: 2048,
		},
		// Search grounding lets the generation stage cite from the
		// model's own knowledge when no passage was retrieved.
		Tools: []tool{{GoogleSearch: &struct{}{}}},
	}

	url := fmt.Sprintf("%s/v1beta/models/%s:streamGenerateContent?alt=sse", c.baseURL, c.model)
	body, err := c.do(ctx, url, req, chatTimeout)
	if err != nil {
		return "", err
	}
	defer body.Close()

	text, err := collectStream(body)
	if err != nil {
		return "", &BackendError{Err: err}
	}
	if text == "" {
		slog.Warn("gemini: provider returned empty response")
	}
	return text, nil
}

// GenerateTitle compresses a conversation's first message into a short
// label of at most 50 characters. Messages already within the limit are
// returned unchanged without a backend call. Any backend failure falls
// back to a local truncation; title generation never returns an error.
func (c *Client) GenerateTitle(ctx context.Context, firstMessage string) string {
	msg := strings.TrimSpace(firstMessage)
	if utf8.RuneCountInString(msg) <= maxTitleLen {
		return msg
	}

	title, err := c.generateTitle(ctx, msg)
	if err != nil {
		slog.Warn("gemini: title generation failed, falling back to truncation", "error", err)
		return truncateTitle(msg)
	}
	title = strings.TrimSpace(strings.Trim(strings.TrimSpace(title), `"`))
	if title == "" || utf8.RuneCountInString(title) > maxTitleLen {
		return truncateTitle(msg)
	}
	return title
}

const titlePrompt = "Tóm tắt tin nhắn sau thành một tiêu đề ngắn gọn, tối đa 50 ký tự. " +
	"Chỉ trả về tiêu đề, không giải thích, không thêm dấu ngoặc kép."

func (c *Client) generateTitle(ctx context.Context, msg string) (string, error) {
	if err := c.waitTurn(ctx); err != nil {
		return "", err
	}

	req := generateRequest{
		Contents: []content{
			{Role: "user", Parts: []part{{Text: titlePrompt + "\n\n" + msg}}},
		},
		GenerationConfig: &generationConfig{
			Temperature:     0.2,
			MaxOutputTokens: 64,
		},
	}

	url := fmt.Sprintf("%s/v1beta/models/%s:generateContent", c.baseURL, c.model)
	body, err := c.do(ctx, url, req, titleTimeout)
	if err != nil {
		return "", err
	}
	defer body.Close()

	var resp generateResponse
	if err := json.NewDecoder(body).Decode(&resp); err != nil {
		return "", fmt.Errorf("decoding response: %w", err)
	}
	return firstCandidateText(resp), nil
}

func truncateTitle(msg string) string {
	runes := []rune(msg)
	return string(runes[:47]) + "..."
}

// do performs the HTTP POST and returns the response body. Non-200
// statuses and transport errors come back as *BackendError.
func (c *Client) do(ctx context.Context, url string, req generateRequest, timeout time.Duration) (io.ReadCloser, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, &BackendError{Err: fmt.Errorf("marshaling request: %w", err)}
	}

	reqCtx, cancel := context.WithTimeout(ctx, timeout)

	httpReq, err := http.NewRequestWithContext(reqCtx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		cancel()
		return nil, &BackendError{Err: fmt.Errorf("creating request: %w", err)}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-goog-api-key", c.apiKey)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		cancel()
		return nil, &BackendError{Err: fmt.Errorf("executing request: %w", err)}
	}

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		resp.Body.Close()
		cancel()
		return nil, &BackendError{Err: fmt.Errorf("unexpected status %d: %s", resp.StatusCode, string(respBody))}
	}

	return &cancelOnClose{ReadCloser: resp.Body, cancel: cancel}, nil
}

// cancelOnClose wraps a ReadCloser and cancels a context on Close.
type cancelOnClose struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (c *cancelOnClose) Close() error {
	err := c.ReadCloser.Close()
	c.cancel()
	return err
}

// collectStream reads SSE events from a streamGenerateContent response and
// concatenates the text of every candidate part. Lines that are not data
// events or fail to decode are skipped; a read error aborts the stream.
func collectStream(r io.Reader) (string, error) {
	var sb strings.Builder
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)

	for scanner.Scan() {
		line := scanner.Text()
		const prefix = "data: "
		if !strings.HasPrefix(line, prefix) {
			continue
		}
		var chunk generateResponse
		if err := json.Unmarshal([]byte(line[len(prefix):]), &chunk); err != nil {
			slog.Debug("gemini: skipping malformed stream chunk", "error", err)
			continue
		}
		sb.WriteString(firstCandidateText(chunk))
	}
	if err := scanner.Err(); err != nil {
		return "", fmt.Errorf("reading stream: %w", err)
	}
	return strings.TrimSpace(sb.String()), nil
}

func firstCandidateText(resp generateResponse) string {
	if len(resp.Candidates) == 0 {
		return ""
	}
	var sb strings.Builder
	for _, p := range resp.Candidates[0].Content.Parts {
		sb.WriteString(p.Text)
	}
	return sb.String()
}
