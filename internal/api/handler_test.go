package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/golang-jwt/jwt/v5"

	"github.com/hienhds/LegalSystem2/internal/conversation"
	"github.com/hienhds/LegalSystem2/internal/memory"
	"github.com/hienhds/LegalSystem2/internal/pipeline"
	"github.com/hienhds/LegalSystem2/internal/search"
)

const testSecret = "test-secret"

type mockPipeline struct {
	result pipeline.Result
	calls  []string
	fn     func(userID, question string) pipeline.Result
}

func (m *mockPipeline) Process(ctx context.Context, userID, question string) pipeline.Result {
	m.calls = append(m.calls, question)
	if m.fn != nil {
		return m.fn(userID, question)
	}
	return m.result
}

type mockMemory struct {
	clearErr  error
	cleared   []string
	stats     memory.Stats
	fullTurns []memory.Turn
}

func (m *mockMemory) Clear(ctx context.Context, userID string) error {
	m.cleared = append(m.cleared, userID)
	return m.clearErr
}

func (m *mockMemory) Stats(ctx context.Context, userID string) memory.Stats { return m.stats }

func (m *mockMemory) FullHistory(ctx context.Context, userID string) []memory.Turn {
	return m.fullTurns
}

type mockTitler struct {
	title string
	calls int
}

func (m *mockTitler) GenerateTitle(ctx context.Context, firstMessage string) string {
	m.calls++
	return m.title
}

func newTestDeps(t *testing.T) (Deps, *mockPipeline, *mockMemory, *mockTitler) {
	t.Helper()
	store, err := conversation.Open(":memory:")
	if err != nil {
		t.Fatalf("opening store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	p := &mockPipeline{result: pipeline.Result{
		Status:  pipeline.StatusOK,
		Answer:  "câu trả lời",
		Context: []search.Result{{ID: "d1", Score: 0.8}},
		Metadata: pipeline.Metadata{
			Classification: "LEGAL",
			NumQueries:     2,
			NumDocs:        1,
		},
	}}
	mem := &mockMemory{}
	titler := &mockTitler{title: "Tư vấn trộm cắp tài sản"}

	return Deps{
		Pipeline:      p,
		Memory:        mem,
		Conversations: store,
		Titler:        titler,
		JWTSecret:     testSecret,
	}, p, mem, titler
}

func signToken(t *testing.T, userID, secret string) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"user_id": userID}).SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("signing token: %v", err)
	}
	return token
}

func doRequest(t *testing.T, handler http.Handler, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encoding body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestHealthNeedsNoAuth(t *testing.T) {
	deps, _, _, _ := newTestDeps(t)
	rec := doRequest(t, NewHandler(deps), http.MethodGet, "/health", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
}

func TestAuthRejectsBadTokens(t *testing.T) {
	deps, _, _, _ := newTestDeps(t)
	handler := NewHandler(deps)

	cases := []struct {
		name  string
		token string
	}{
		{"missing token", ""},
		{"garbage token", "not-a-jwt"},
		{"wrong secret", signToken(t, "u1", "other-secret")},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := doRequest(t, handler, http.MethodGet, "/api/chatbot/memory/stats", tc.token, nil)
			if rec.Code != http.StatusUnauthorized {
				t.Errorf("status = %d, want 401", rec.Code)
			}
		})
	}
}

func TestAuthRejectsMissingUserIDClaim(t *testing.T) {
	deps, _, _, _ := newTestDeps(t)
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"sub": "u1"}).SignedString([]byte(testSecret))
	if err != nil {
		t.Fatalf("signing token: %v", err)
	}
	rec := doRequest(t, NewHandler(deps), http.MethodGet, "/api/chatbot/memory/stats", token, nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
}

func TestAskCreatesConversationWithTitle(t *testing.T) {
	deps, p, _, titler := newTestDeps(t)
	handler := NewHandler(deps)
	token := signToken(t, "u1", testSecret)

	rec := doRequest(t, handler, http.MethodPost, "/api/chatbot/ask", token,
		map[string]string{"question": "Tội trộm cắp bị phạt thế nào?"})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}

	var resp askResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if resp.Answer != "câu trả lời" || resp.ConversationID == "" {
		t.Errorf("response = %+v", resp)
	}
	if len(p.calls) != 1 || p.calls[0] != "Tội trộm cắp bị phạt thế nào?" {
		t.Errorf("pipeline calls = %v", p.calls)
	}
	if titler.calls != 1 {
		t.Errorf("titler called %d times, want 1", titler.calls)
	}

	conv, err := deps.Conversations.Get(resp.ConversationID, "u1")
	if err != nil {
		t.Fatalf("Get conversation: %v", err)
	}
	if conv.Title != "Tư vấn trộm cắp tài sản" {
		t.Errorf("Title = %q", conv.Title)
	}

	msgs, err := deps.Conversations.Messages(resp.ConversationID, "u1", 0)
	if err != nil {
		t.Fatalf("Messages: %v", err)
	}
	if len(msgs) != 2 {
		t.Fatalf("got %d messages, want user and assistant pair", len(msgs))
	}
	if msgs[0].Role != conversation.RoleUser || msgs[1].Role != conversation.RoleAssistant {
		t.Errorf("roles = %s, %s", msgs[0].Role, msgs[1].Role)
	}

	var meta map[string]interface{}
	if err := json.Unmarshal([]byte(msgs[1].Metadata), &meta); err != nil {
		t.Fatalf("decoding metadata: %v", err)
	}
	if meta["classification"] != "LEGAL" {
		t.Errorf("metadata = %v", meta)
	}
}

func TestAskReusesActiveConversation(t *testing.T) {
	deps, _, _, titler := newTestDeps(t)
	handler := NewHandler(deps)
	token := signToken(t, "u1", testSecret)

	first := doRequest(t, handler, http.MethodPost, "/api/chatbot/ask", token,
		map[string]string{"question": "câu hỏi 1"})
	second := doRequest(t, handler, http.MethodPost, "/api/chatbot/ask", token,
		map[string]string{"question": "câu hỏi 2"})

	var r1, r2 askResponse
	json.Unmarshal(first.Body.Bytes(), &r1)
	json.Unmarshal(second.Body.Bytes(), &r2)
	if r1.ConversationID != r2.ConversationID {
		t.Errorf("conversation IDs differ: %s vs %s", r1.ConversationID, r2.ConversationID)
	}
	if titler.calls != 1 {
		t.Errorf("titler called %d times, want 1 (first message only)", titler.calls)
	}
}

func TestAskSurvivesTranscriptPersistenceFailure(t *testing.T) {
	deps, p, _, _ := newTestDeps(t)
	handler := NewHandler(deps)
	token := signToken(t, "u1", testSecret)

	conv, err := deps.Conversations.Create("u1", "tiêu đề")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	// The conversation disappears while the pipeline runs, so both
	// message writes fail afterward.
	p.fn = func(userID, question string) pipeline.Result {
		if err := deps.Conversations.Delete(conv.ID, "u1"); err != nil {
			t.Fatalf("Delete: %v", err)
		}
		return p.result
	}

	rec := doRequest(t, handler, http.MethodPost, "/api/chatbot/ask", token,
		map[string]string{"question": "câu hỏi", "conversation_id": conv.ID})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 despite persistence failure; body %s", rec.Code, rec.Body.String())
	}
	var resp askResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if resp.Answer != "câu trả lời" {
		t.Errorf("Answer = %q", resp.Answer)
	}
}

func TestAskWithExplicitConversation(t *testing.T) {
	deps, _, _, _ := newTestDeps(t)
	handler := NewHandler(deps)
	token := signToken(t, "u1", testSecret)

	conv, err := deps.Conversations.Create("u1", "sẵn có")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	rec := doRequest(t, handler, http.MethodPost, "/api/chatbot/ask", token,
		map[string]string{"question": "câu hỏi", "conversation_id": conv.ID})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}

	var resp askResponse
	json.Unmarshal(rec.Body.Bytes(), &resp)
	if resp.ConversationID != conv.ID {
		t.Errorf("ConversationID = %s, want %s", resp.ConversationID, conv.ID)
	}
}

func TestAskUnknownConversation(t *testing.T) {
	deps, _, _, _ := newTestDeps(t)
	rec := doRequest(t, NewHandler(deps), http.MethodPost, "/api/chatbot/ask", signToken(t, "u1", testSecret),
		map[string]string{"question": "câu hỏi", "conversation_id": "missing"})
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

func TestAskValidatesQuestion(t *testing.T) {
	deps, _, _, _ := newTestDeps(t)
	rec := doRequest(t, NewHandler(deps), http.MethodPost, "/api/chatbot/ask", signToken(t, "u1", testSecret),
		map[string]string{"question": ""})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestClearMemory(t *testing.T) {
	deps, _, mem, _ := newTestDeps(t)
	rec := doRequest(t, NewHandler(deps), http.MethodDelete, "/api/chatbot/memory", signToken(t, "u1", testSecret), nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if len(mem.cleared) != 1 || mem.cleared[0] != "u1" {
		t.Errorf("cleared = %v, want [u1]", mem.cleared)
	}
}

func TestMemoryStats(t *testing.T) {
	deps, _, mem, _ := newTestDeps(t)
	mem.stats = memory.Stats{UserID: "u1", TurnCount: 3, MaxTurns: 10, Exists: true}

	rec := doRequest(t, NewHandler(deps), http.MethodGet, "/api/chatbot/memory/stats", signToken(t, "u1", testSecret), nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var stats memory.Stats
	if err := json.Unmarshal(rec.Body.Bytes(), &stats); err != nil {
		t.Fatalf("decoding stats: %v", err)
	}
	if stats.TurnCount != 3 || !stats.Exists {
		t.Errorf("stats = %+v", stats)
	}
}

func TestMemoryHistoryEmpty(t *testing.T) {
	deps, _, _, _ := newTestDeps(t)
	rec := doRequest(t, NewHandler(deps), http.MethodGet, "/api/chatbot/memory/history", signToken(t, "u1", testSecret), nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var resp struct {
		Turns []memory.Turn `json:"turns"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decoding history: %v", err)
	}
	if resp.Turns == nil {
		t.Error("turns is null, want empty array")
	}
}

func TestConversationCRUD(t *testing.T) {
	deps, _, _, _ := newTestDeps(t)
	handler := NewHandler(deps)
	token := signToken(t, "u1", testSecret)

	created := doRequest(t, handler, http.MethodPost, "/api/conversations", token,
		map[string]string{"title": "mới"})
	if created.Code != http.StatusCreated {
		t.Fatalf("create status = %d", created.Code)
	}
	var conv conversation.Conversation
	json.Unmarshal(created.Body.Bytes(), &conv)

	renamed := doRequest(t, handler, http.MethodPatch, "/api/conversations/"+conv.ID, token,
		map[string]string{"title": "đổi tên"})
	if renamed.Code != http.StatusOK {
		t.Fatalf("rename status = %d", renamed.Code)
	}

	list := doRequest(t, handler, http.MethodGet, "/api/conversations", token, nil)
	var convs []conversation.Conversation
	json.Unmarshal(list.Body.Bytes(), &convs)
	if len(convs) != 1 || convs[0].Title != "đổi tên" {
		t.Errorf("list = %+v", convs)
	}

	deleted := doRequest(t, handler, http.MethodDelete, "/api/conversations/"+conv.ID, token, nil)
	if deleted.Code != http.StatusOK {
		t.Fatalf("delete status = %d", deleted.Code)
	}

	// Soft delete keeps the record but drops it from the active list.
	active := doRequest(t, handler, http.MethodGet, "/api/conversations?active_only=true", token, nil)
	var activeConvs []conversation.Conversation
	json.Unmarshal(active.Body.Bytes(), &activeConvs)
	if len(activeConvs) != 0 {
		t.Errorf("active list = %+v, want empty", activeConvs)
	}

	hard := doRequest(t, handler, http.MethodDelete, "/api/conversations/"+conv.ID+"?hard=true", token, nil)
	if hard.Code != http.StatusOK {
		t.Fatalf("hard delete status = %d", hard.Code)
	}
	missing := doRequest(t, handler, http.MethodGet, "/api/conversations/"+conv.ID, token, nil)
	if missing.Code != http.StatusNotFound {
		t.Fatalf("get after hard delete = %d, want 404", missing.Code)
	}
}

func TestConversationIsolation(t *testing.T) {
	deps, _, _, _ := newTestDeps(t)
	handler := NewHandler(deps)

	conv, err := deps.Conversations.Create("u1", "riêng")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	rec := doRequest(t, handler, http.MethodGet, "/api/conversations/"+conv.ID, signToken(t, "u2", testSecret), nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404 for another user", rec.Code)
	}
}
