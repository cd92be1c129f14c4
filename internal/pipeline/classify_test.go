package pipeline

import (
	"context"
	"errors"
	"testing"
)

type chatCall struct {
	system string
	user   string
}

type fakeChat struct {
	calls []chatCall
	fn    func(system, user string) (string, error)
}

func (f *fakeChat) Chat(ctx context.Context, system, user string) (string, error) {
	f.calls = append(f.calls, chatCall{system: system, user: user})
	return f.fn(system, user)
}

func TestClassifyLabels(t *testing.T) {
	cases := []struct {
		name     string
		response string
		want     Label
	}{
		{"plain legal", "LEGAL", LabelLegal},
		{"plain non legal", "NON_LEGAL", LabelNonLegal},
		{"plain toxic", "TOXIC", LabelToxic},
		{"lowercase", "legal", LabelLegal},
		{"surrounded by prose", "Phân loại: LEGAL.", LabelLegal},
		{"hyphenated variant", "non-legal", LabelNonLegal},
		{"toxic wins over legal", "TOXIC (mentions LEGAL topics)", LabelToxic},
		{"non legal wins over legal", "NON_LEGAL not LEGAL", LabelNonLegal},
		{"unrecognized fails closed", "UNKNOWN", LabelNonLegal},
		{"empty fails closed", "", LabelNonLegal},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			backend := &fakeChat{fn: func(system, user string) (string, error) {
				return tc.response, nil
			}}
			c := NewClassifier(backend)
			got, err := c.Classify(context.Background(), "Tội trộm cắp bị phạt như thế nào?")
			if err != nil {
				t.Fatalf("Classify() error = %v", err)
			}
			if got != tc.want {
				t.Errorf("Classify() = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestClassifyBackendError(t *testing.T) {
	backend := &fakeChat{fn: func(system, user string) (string, error) {
		return "", errors.New("backend unavailable")
	}}
	c := NewClassifier(backend)
	if _, err := c.Classify(context.Background(), "câu hỏi"); err == nil {
		t.Fatal("Classify() expected error, got nil")
	}
}
