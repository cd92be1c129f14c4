package gemini

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"
	"unicode/utf8"
)

func sseChunk(text string) string {
	return fmt.Sprintf(`data: {"candidates":[{"content":{"role":"model","parts":[{"text":%q}]}}]}`, text) + "\n\n"
}

func newTestClient(t *testing.T, handler http.HandlerFunc) (*Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	c := NewWithBaseURL("test-key", "test-model", srv.URL)
	c.SetMinInterval(0)
	return c, srv
}

func TestChatConcatenatesStream(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if !strings.Contains(r.URL.Path, "streamGenerateContent") {
			t.Errorf("unexpected path %q", r.URL.Path)
		}
		if got := r.Header.Get("x-goog-api-key"); got != "test-key" {
			t.Errorf("api key header = %q, want test-key", got)
		}
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, sseChunk("Điều 173 "))
		fmt.Fprint(w, sseChunk("Bộ luật Hình sự"))
	})

	got, err := c.Chat(context.Background(), "system", "user")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "Điều 173 Bộ luật Hình sự" {
		t.Errorf("Chat = %q", got)
	}
}

func TestChatEmptyResponseIsNotAnError(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		// No data events at all.
	})

	got, err := c.Chat(context.Background(), "system", "user")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "" {
		t.Errorf("Chat = %q, want empty string", got)
	}
}

func TestChatBackendErrorOnBadStatus(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":{"message":"quota exceeded"}}`, http.StatusTooManyRequests)
	})

	_, err := c.Chat(context.Background(), "system", "user")
	var be *BackendError
	if !errors.As(err, &be) {
		t.Fatalf("error = %v, want *BackendError", err)
	}
	if !strings.Contains(be.Error(), "429") {
		t.Errorf("error %q does not mention status", be.Error())
	}
}

func TestChatSkipsMalformedChunks(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "data: {not json}\n\n")
		fmt.Fprint(w, sseChunk("ok"))
	})

	got, err := c.Chat(context.Background(), "system", "user")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "ok" {
		t.Errorf("Chat = %q, want ok", got)
	}
}

func TestThrottleSpacesConsecutiveCalls(t *testing.T) {
	var calls atomic.Int32
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, sseChunk("x"))
	})
	c.SetMinInterval(60 * time.Millisecond)

	start := time.Now()
	for range 3 {
		if _, err := c.Chat(context.Background(), "s", "u"); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	elapsed := time.Since(start)

	// First call is immediate; the next two wait one interval each.
	if elapsed < 120*time.Millisecond {
		t.Errorf("3 calls took %v, want >= 120ms", elapsed)
	}
	if calls.Load() != 3 {
		t.Errorf("backend called %d times, want 3", calls.Load())
	}
}

func TestThrottleRespectsCancellation(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, sseChunk("x"))
	})
	c.SetMinInterval(time.Hour)

	// Consume the immediate slot so the next call must wait.
	if _, err := c.Chat(context.Background(), "s", "u"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := c.Chat(ctx, "s", "u")
	if err == nil {
		t.Fatal("expected error from cancelled throttle wait")
	}
}

func TestGenerateTitleShortMessageSkipsBackend(t *testing.T) {
	var calls atomic.Int32
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
	})

	msg := "Ly hôn cần những giấy tờ gì?"
	if got := c.GenerateTitle(context.Background(), msg); got != msg {
		t.Errorf("GenerateTitle = %q, want unchanged input", got)
	}
	if calls.Load() != 0 {
		t.Errorf("backend called %d times, want 0", calls.Load())
	}
}

func TestGenerateTitleBackendFailureFallsBackToTruncation(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	})

	msg := strings.Repeat("a", 80)
	got := c.GenerateTitle(context.Background(), msg)
	want := strings.Repeat("a", 47) + "..."
	if got != want {
		t.Errorf("GenerateTitle = %q, want %q", got, want)
	}
}

func TestGenerateTitleUsesBackendForLongMessages(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, ":generateContent") {
			t.Errorf("unexpected path %q", r.URL.Path)
		}
		fmt.Fprint(w, `{"candidates":[{"content":{"role":"model","parts":[{"text":"Thủ tục ly hôn"}]}}]}`)
	})

	msg := strings.Repeat("x", 80)
	got := c.GenerateTitle(context.Background(), msg)
	if got != "Thủ tục ly hôn" {
		t.Errorf("GenerateTitle = %q", got)
	}
}

func TestGenerateTitleOverlongBackendOutputTruncatesLocally(t *testing.T) {
	long := strings.Repeat("b", 60)
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, `{"candidates":[{"content":{"role":"model","parts":[{"text":%q}]}}]}`, long)
	})

	msg := strings.Repeat("x", 80)
	got := c.GenerateTitle(context.Background(), msg)
	if utf8.RuneCountInString(got) != 50 {
		t.Errorf("title length = %d, want 50", utf8.RuneCountInString(got))
	}
	if !strings.HasSuffix(got, "...") {
		t.Errorf("title %q does not end with ellipsis", got)
	}
}
