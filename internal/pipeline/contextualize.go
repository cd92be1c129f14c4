package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
)

// maxHistoryLines bounds how much conversation history goes into the
// rewrite prompt.
const maxHistoryLines = 5

// Contextualizer rewrites a follow-up question into a self-contained one
// using recent conversation history.
type Contextualizer struct {
	backend Chatter
}

// NewContextualizer creates a Contextualizer using the given backend.
func NewContextualizer(backend Chatter) *Contextualizer {
	return &Contextualizer{backend: backend}
}

// Rewrite produces a self-contained version of the question. At most the
// last 5 history lines are included; an empty history is replaced by an
// explicit marker so the model never sees an empty block. The model output
// is taken as-is: an already self-contained question passes through
// materially unchanged. Backend failures propagate to the orchestrator.
func (c *Contextualizer) Rewrite(ctx context.Context, question string, history []string) (string, error) {
	if len(history) > maxHistoryLines {
		history = history[len(history)-maxHistoryLines:]
	}
	historyText := noHistoryMarker
	if len(history) > 0 {
		historyText = strings.Join(history, "\n")
	}

	userPrompt := fmt.Sprintf(`Câu hỏi hiện tại:
%s

Lịch sử hội thoại gần đây:
%s

Hãy tái cấu trúc câu hỏi hiện tại thành một câu hỏi độc lập, rõ ràng, chứa đủ ngữ cảnh từ lịch sử.`, question, historyText)

	result, err := c.backend.Chat(ctx, contextualizePrompt, userPrompt)
	if err != nil {
		return "", fmt.Errorf("contextualize: %w", err)
	}

	rewritten := strings.TrimSpace(result)
	if rewritten == "" {
		// An empty rewrite would starve every downstream stage.
		rewritten = question
	}
	slog.Debug("contextualize: rewrote question", "history_lines", len(history), "rewritten", truncate(rewritten, 100))
	return rewritten, nil
}
