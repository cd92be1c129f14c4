package pipeline

import (
	"context"
	"log/slog"
	"strings"
)

// Label is the three-way intent category assigned to an incoming question.
type Label string

const (
	LabelLegal    Label = "LEGAL"
	LabelNonLegal Label = "NON_LEGAL"
	LabelToxic    Label = "TOXIC"
)

// Chatter is the generation-backend surface the pipeline stages depend on.
type Chatter interface {
	Chat(ctx context.Context, systemPrompt, userPrompt string) (string, error)
}

// Classifier gates incoming questions with a single classification call.
type Classifier struct {
	backend Chatter
}

// NewClassifier creates a Classifier using the given backend.
func NewClassifier(backend Chatter) *Classifier {
	return &Classifier{backend: backend}
}

// Classify maps a free-form question to one of the three labels. The raw
// model output is normalized and matched in priority order TOXIC >
// NON_LEGAL > LEGAL, so a response containing several keywords resolves
// predictably. Unrecognized output fails closed to NON_LEGAL. Backend
// failures propagate to the orchestrator.
func (c *Classifier) Classify(ctx context.Context, question string) (Label, error) {
	raw, err := c.backend.Chat(ctx, classificationPrompt, question)
	if err != nil {
		return "", err
	}

	result := strings.ToUpper(strings.TrimSpace(raw))
	switch {
	case strings.Contains(result, "TOXIC"):
		slog.Warn("classify: toxic content detected")
		return LabelToxic, nil
	case strings.Contains(result, "NON_LEGAL"), strings.Contains(result, "NON-LEGAL"):
		return LabelNonLegal, nil
	case strings.Contains(result, "LEGAL"):
		return LabelLegal, nil
	default:
		slog.Warn("classify: unrecognized label, defaulting to NON_LEGAL", "response", truncate(result, 80))
		return LabelNonLegal, nil
	}
}

func truncate(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n]) + "..."
}
