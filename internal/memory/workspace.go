package memory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

const keyPrefix = "chatbot:memory:"

// ErrMiss is returned by Store.Get when the key does not exist.
var ErrMiss = errors.New("memory: key not found")

// ErrNoPendingTurn is returned by UpdateAnswer when there is no turn
// waiting for an answer (empty log, or the last turn is already answered).
var ErrNoPendingTurn = errors.New("memory: no pending turn to answer")

// Turn is one question/answer pair in a user's conversation memory.
// A turn is created with an empty answer when the question is accepted
// and answered exactly once when the pipeline completes.
type Turn struct {
	Question  string    `json:"question"`
	Answer    string    `json:"answer,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Answered reports whether the turn has received its answer.
func (t Turn) Answered() bool {
	return t.Answer != ""
}

// Store is the key-value surface the workspace needs from its backing
// store. The production implementation is Redis; tests use an in-memory
// fake.
type Store interface {
	Get(ctx context.Context, key string) (string, error)
	SetEx(ctx context.Context, key, value string, ttl time.Duration) error
	Del(ctx context.Context, key string) error
	TTL(ctx context.Context, key string) (time.Duration, error)
}

// Stats summarizes a user's memory log.
type Stats struct {
	UserID       string     `json:"user_id"`
	TurnCount    int        `json:"turn_count"`
	MaxTurns     int        `json:"max_turns"`
	MessageCount int        `json:"message_count"`
	TTLSeconds   int64      `json:"ttl_seconds"`
	Exists       bool       `json:"exists"`
	OldestTurn   *time.Time `json:"oldest_turn,omitempty"`
	NewestTurn   *time.Time `json:"newest_turn,omitempty"`
}

// Workspace manages per-user conversation memory: a bounded, expiring log
// of question/answer turns. Every write refreshes the sliding expiry.
// Read paths degrade to empty defaults when the backing store is
// unavailable; write paths surface the failure to the caller.
type Workspace struct {
	store    Store
	maxTurns int
	ttl      time.Duration
}

// NewWorkspace creates a Workspace over the given store. maxTurns <= 0
// defaults to 10 and ttl <= 0 defaults to 7 days.
func NewWorkspace(store Store, maxTurns int, ttl time.Duration) *Workspace {
	if maxTurns <= 0 {
		maxTurns = 10
	}
	if ttl <= 0 {
		ttl = 7 * 24 * time.Hour
	}
	return &Workspace{store: store, maxTurns: maxTurns, ttl: ttl}
}

func key(userID string) string {
	return keyPrefix + userID
}

type memoryData struct {
	Turns []Turn `json:"conversations"`
}

// load reads and decodes a user's memory log. Missing keys and decode or
// store failures all yield an empty log; a corrupted log is not worth
// failing a request over.
func (w *Workspace) load(ctx context.Context, userID string) memoryData {
	raw, err := w.store.Get(ctx, key(userID))
	if err != nil {
		if !errors.Is(err, ErrMiss) {
			slog.Warn("memory: load failed, using empty log", "user", userID, "error", err)
		}
		return memoryData{}
	}
	var data memoryData
	if err := json.Unmarshal([]byte(raw), &data); err != nil {
		slog.Warn("memory: corrupted log, using empty log", "user", userID, "error", err)
		return memoryData{}
	}
	return data
}

func (w *Workspace) save(ctx context.Context, userID string, data memoryData) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("encoding memory log: %w", err)
	}
	if err := w.store.SetEx(ctx, key(userID), string(raw), w.ttl); err != nil {
		return fmt.Errorf("saving memory log: %w", err)
	}
	return nil
}

// History flattens the 5 most recent turns into alternating "Q:"/"A:"
// lines for the contextualization stage. Turns without an answer yet
// contribute only their question line. Store failures yield nil.
func (w *Workspace) History(ctx context.Context, userID string) []string {
	data := w.load(ctx, userID)
	turns := data.Turns
	if len(turns) > 5 {
		turns = turns[len(turns)-5:]
	}

	var lines []string
	for _, t := range turns {
		lines = append(lines, "Q: "+t.Question)
		if t.Answered() {
			lines = append(lines, "A: "+t.Answer)
		}
	}
	return lines
}

// AppendQuestion adds a new unanswered turn and refreshes the expiry.
// When the log is full the oldest turn is evicted so the bound holds.
func (w *Workspace) AppendQuestion(ctx context.Context, userID, question string) error {
	data := w.load(ctx, userID)
	data.Turns = append(data.Turns, Turn{
		Question:  question,
		Timestamp: time.Now().UTC(),
	})

	if len(data.Turns) > w.maxTurns {
		evicted := data.Turns[0]
		data.Turns = data.Turns[1:]
		slog.Info("memory: evicted oldest turn", "user", userID, "question", truncate(evicted.Question, 50))
	}

	if err := w.save(ctx, userID, data); err != nil {
		return err
	}
	slog.Debug("memory: appended question", "user", userID, "turns", len(data.Turns))
	return nil
}

// UpdateAnswer fills in the answer on the most recently appended turn.
// Returns ErrNoPendingTurn when the log is empty or the last turn already
// has its answer; callers treat that as a warning, not a failure.
func (w *Workspace) UpdateAnswer(ctx context.Context, userID, answer string) error {
	data := w.load(ctx, userID)
	if len(data.Turns) == 0 {
		slog.Warn("memory: update_answer with empty log", "user", userID)
		return ErrNoPendingTurn
	}
	last := &data.Turns[len(data.Turns)-1]
	if last.Answered() {
		slog.Warn("memory: last turn already answered", "user", userID)
		return ErrNoPendingTurn
	}
	last.Answer = answer
	return w.save(ctx, userID, data)
}

// Clear deletes the user's entire memory log.
func (w *Workspace) Clear(ctx context.Context, userID string) error {
	if err := w.store.Del(ctx, key(userID)); err != nil {
		return fmt.Errorf("clearing memory: %w", err)
	}
	slog.Info("memory: cleared", "user", userID)
	return nil
}

// Stats returns summary statistics for the user's memory log. Store
// failures degrade to zero-value stats with Exists=false.
func (w *Workspace) Stats(ctx context.Context, userID string) Stats {
	data := w.load(ctx, userID)
	st := Stats{
		UserID:    userID,
		TurnCount: len(data.Turns),
		MaxTurns:  w.maxTurns,
		Exists:    len(data.Turns) > 0,
	}
	for _, t := range data.Turns {
		st.MessageCount++
		if t.Answered() {
			st.MessageCount++
		}
	}
	if len(data.Turns) > 0 {
		oldest := data.Turns[0].Timestamp
		newest := data.Turns[len(data.Turns)-1].Timestamp
		st.OldestTurn = &oldest
		st.NewestTurn = &newest
	}
	if ttl, err := w.store.TTL(ctx, key(userID)); err == nil && ttl > 0 {
		st.TTLSeconds = int64(ttl / time.Second)
	}
	return st
}

// FullHistory returns every stored turn, oldest first. Store failures
// yield nil.
func (w *Workspace) FullHistory(ctx context.Context, userID string) []Turn {
	return w.load(ctx, userID).Turns
}

func truncate(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n]) + "..."
}
