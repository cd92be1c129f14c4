package search

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const defaultTimeout = 30 * time.Second

// Result is one retrieved legal-text passage with its relevance score.
type Result struct {
	ID    string  `json:"id"`
	Title string  `json:"tieu_de"`
	Body  string  `json:"noi_dung"`
	Score float64 `json:"score"`
}

// Client calls the semantic-search service over HTTP.
type Client struct {
	baseURL    string
	timeout    time.Duration
	httpClient *http.Client
}

// New creates a Client targeting the given search-service base URL.
// timeout bounds each individual search call; pass 0 for the default 30s.
func New(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		timeout:    timeout,
		httpClient: &http.Client{Timeout: 0},
	}
}

// searchRequest is the JSON body for POST /search.
type searchRequest struct {
	Text string `json:"text"`
	TopK int    `json:"top_k"`
}

// searchResponse mirrors the JSON returned by POST /search.
type searchResponse struct {
	Results []Result `json:"results"`
}

// Search returns up to topK passages matching the query text, in the order
// the search service ranks them. A timeout or transport error is returned
// as-is; retrieval treats it as a per-query soft failure.
func (c *Client) Search(ctx context.Context, text string, topK int) ([]Result, error) {
	body, err := json.Marshal(searchRequest{Text: text, TopK: topK})
	if err != nil {
		return nil, fmt.Errorf("marshaling request: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/search", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("search request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("search: unexpected status %d: %s", resp.StatusCode, string(respBody))
	}

	var result searchResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decoding search response: %w", err)
	}
	return result.Results, nil
}
