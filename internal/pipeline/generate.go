package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/hienhds/LegalSystem2/internal/search"
)

// Generator produces the final answer from the retrieved passages.
type Generator struct {
	backend Chatter
}

// NewGenerator creates a Generator using the given backend.
func NewGenerator(backend Chatter) *Generator {
	return &Generator{backend: backend}
}

// Answer composes the final response grounded in the retrieved passages.
// It never fails: backend errors and empty outputs are converted into
// user-facing fallback messages so the pipeline always has something to
// record against the turn.
func (g *Generator) Answer(ctx context.Context, question string, passages []search.Result) string {
	userPrompt := fmt.Sprintf(`Câu hỏi của người dùng:
%s

Các điều luật liên quan:
%s

Hãy trả lời câu hỏi dựa trên các điều luật trên.`, question, formatContext(passages))

	answer, err := g.backend.Chat(ctx, generationPrompt, userPrompt)
	if err != nil {
		slog.Error("generate: backend failed", "error", err)
		return fmt.Sprintf("Đã xảy ra lỗi khi xử lý câu hỏi. Vui lòng thử lại sau. Chi tiết: %v", err)
	}
	answer = strings.TrimSpace(answer)
	if answer == "" {
		slog.Warn("generate: backend returned empty answer")
		return msgEmptyGeneration
	}
	return answer
}

// formatContext renders the passages as numbered blocks with their
// relevance scores, the layout the generation prompt is written against.
func formatContext(passages []search.Result) string {
	if len(passages) == 0 {
		return emptyContextMarker
	}
	var b strings.Builder
	for i, p := range passages {
		if i > 0 {
			b.WriteString("\n\n")
		}
		fmt.Fprintf(&b, "--- ĐIỀU LUẬT %d (Độ liên quan: %.2f) ---\n", i+1, p.Score)
		fmt.Fprintf(&b, "Tiêu đề: %s\n", p.Title)
		fmt.Fprintf(&b, "Nội dung:\n%s", p.Body)
	}
	return b.String()
}
