package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
)

// maxSubQueries caps how many search queries a single question can expand
// into, bounding downstream retrieval fan-out.
const maxSubQueries = 4

// Decomposer splits a legal question into independent search queries.
type Decomposer struct {
	backend Chatter
}

// NewDecomposer creates a Decomposer using the given backend.
func NewDecomposer(backend Chatter) *Decomposer {
	return &Decomposer{backend: backend}
}

// Decompose asks the backend to split the question into search queries.
// It never fails: on backend error or unparseable output the original
// question is returned as the single query. The query list is capped at
// maxSubQueries.
func (d *Decomposer) Decompose(ctx context.Context, question string) []string {
	userPrompt := fmt.Sprintf(`Câu hỏi: %s

Hãy phân tách câu hỏi trên thành các truy vấn tìm kiếm độc lập. Trả về JSON đúng định dạng: {"queries": ["truy vấn 1", "truy vấn 2"]}`, question)

	raw, err := d.backend.Chat(ctx, decompositionPrompt, userPrompt)
	if err != nil {
		slog.Warn("decompose: backend failed, using original question", "error", err)
		return []string{question}
	}

	queries := parseQueries(raw)
	if len(queries) == 0 {
		slog.Warn("decompose: no queries parsed, using original question", "raw", truncate(raw, 200))
		return []string{question}
	}
	if len(queries) > maxSubQueries {
		queries = queries[:maxSubQueries]
	}
	slog.Debug("decompose: split question", "queries", len(queries))
	return queries
}

// parseQueries extracts the query list from model output. The model is
// asked for a bare JSON object but habitually wraps it in markdown fences
// or leading prose, so the parse strips fences and falls back to the
// outermost brace pair before decoding.
func parseQueries(raw string) []string {
	s := strings.TrimSpace(raw)
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	s = strings.TrimSpace(s)

	var payload struct {
		Queries []string `json:"queries"`
	}
	if err := json.Unmarshal([]byte(s), &payload); err != nil {
		start := strings.Index(s, "{")
		end := strings.LastIndex(s, "}")
		if start < 0 || end <= start {
			return nil
		}
		if err := json.Unmarshal([]byte(s[start:end+1]), &payload); err != nil {
			return nil
		}
	}

	out := make([]string, 0, len(payload.Queries))
	for _, q := range payload.Queries {
		q = strings.TrimSpace(q)
		if q != "" {
			out = append(out, q)
		}
	}
	return out
}
