// Package pipeline implements the staged question-answering flow:
// classify, contextualize, decompose, retrieve, generate. Each stage is a
// small component over a shared chat backend; the Pipeline orchestrates
// them and records the exchange in per-user conversation memory.
package pipeline

import (
	"context"
	"log/slog"
	"time"

	"github.com/hienhds/LegalSystem2/internal/memory"
	"github.com/hienhds/LegalSystem2/internal/observability"
	"github.com/hienhds/LegalSystem2/internal/search"
)

// Status is the terminal outcome of a pipeline run.
type Status string

const (
	StatusOK       Status = "OK"
	StatusRejected Status = "REJECTED"
	StatusError    Status = "ERROR"
)

// Memory is the conversation memory contract the pipeline needs.
type Memory interface {
	History(ctx context.Context, userID string) []string
	Stats(ctx context.Context, userID string) memory.Stats
	AppendQuestion(ctx context.Context, userID, question string) error
	UpdateAnswer(ctx context.Context, userID, answer string) error
}

// Metadata carries per-run diagnostics alongside the answer.
type Metadata struct {
	Classification         string       `json:"classification"`
	MemoryStats            memory.Stats `json:"memory_stats"`
	ContextualizedQuestion string       `json:"contextualized_question,omitempty"`
	Queries                []string     `json:"queries,omitempty"`
	NumQueries             int          `json:"num_queries"`
	NumDocs                int          `json:"num_docs"`
	Error                  string       `json:"error,omitempty"`
}

// Result is the outcome of a full pipeline run.
type Result struct {
	Status   Status          `json:"status"`
	Answer   string          `json:"answer"`
	Context  []search.Result `json:"context"`
	Metadata Metadata        `json:"metadata"`
}

// Pipeline wires the five stages together over shared backends.
type Pipeline struct {
	classifier     *Classifier
	contextualizer *Contextualizer
	decomposer     *Decomposer
	retriever      *Retriever
	generator      *Generator
	mem            Memory
	metrics        *observability.Metrics
}

// New builds a Pipeline from a chat backend, a search backend, and
// conversation memory. topKPerQuery and maxTotal bound retrieval.
func New(backend Chatter, searcher Searcher, mem Memory, topKPerQuery, maxTotal int) *Pipeline {
	return &Pipeline{
		classifier:     NewClassifier(backend),
		contextualizer: NewContextualizer(backend),
		decomposer:     NewDecomposer(backend),
		retriever:      NewRetriever(searcher, topKPerQuery, maxTotal),
		generator:      NewGenerator(backend),
		mem:            mem,
	}
}

// SetMetrics attaches pipeline metrics. Without it the pipeline runs
// unobserved, which keeps tests free of global registry collisions.
func (p *Pipeline) SetMetrics(m *observability.Metrics) {
	p.metrics = m
	p.retriever.onQueryFailure = func() { m.RetrievalFailures.Inc() }
}

// Process runs the full pipeline for one question.
//
// Rejected questions (toxic or off-topic) return their canned message and
// leave memory untouched. Accepted questions are appended to memory before
// the expensive stages so that a crash mid-run still shows the question in
// history; the answer, or a fallback message on failure, is written back
// to the pending turn at the end.
func (p *Pipeline) Process(ctx context.Context, userID, question string) Result {
	start := time.Now()
	res := p.process(ctx, userID, question)
	if p.metrics != nil {
		p.metrics.PipelineDuration.Observe(time.Since(start).Seconds())
		p.metrics.PipelineRequests.WithLabelValues(string(res.Status)).Inc()
	}
	return res
}

func (p *Pipeline) process(ctx context.Context, userID, question string) Result {
	history := p.mem.History(ctx, userID)
	stats := p.mem.Stats(ctx, userID)
	meta := Metadata{MemoryStats: stats}

	label, err := p.timedClassify(ctx, question)
	if err != nil {
		return p.fail(ctx, userID, meta, "classification failed", err)
	}
	meta.Classification = string(label)

	switch label {
	case LabelToxic:
		slog.Info("pipeline: rejected toxic question", "user_id", userID)
		return Result{Status: StatusRejected, Answer: msgToxic, Context: []search.Result{}, Metadata: meta}
	case LabelNonLegal:
		slog.Info("pipeline: rejected non-legal question", "user_id", userID)
		return Result{Status: StatusRejected, Answer: msgNonLegal, Context: []search.Result{}, Metadata: meta}
	}

	if err := p.mem.AppendQuestion(ctx, userID, question); err != nil {
		return p.fail(ctx, userID, meta, "memory write failed", err)
	}

	rewritten, err := p.timedRewrite(ctx, question, history)
	if err != nil {
		return p.fail(ctx, userID, meta, "contextualization failed", err)
	}
	meta.ContextualizedQuestion = rewritten

	queries := p.timedDecompose(ctx, rewritten)
	meta.Queries = queries
	meta.NumQueries = len(queries)

	docs := p.timedRetrieve(ctx, queries)
	meta.NumDocs = len(docs)
	if p.metrics != nil {
		p.metrics.DocsRetrieved.Observe(float64(len(docs)))
	}

	if len(docs) == 0 {
		p.writeAnswer(ctx, userID, msgNoResults)
		return Result{Status: StatusOK, Answer: msgNoResults, Context: []search.Result{}, Metadata: meta}
	}

	// The answer is generated against the user's original wording; the
	// rewritten question exists only to drive retrieval.
	answer := p.timedGenerate(ctx, question, docs)
	p.writeAnswer(ctx, userID, answer)
	return Result{Status: StatusOK, Answer: answer, Context: docs, Metadata: meta}
}

// fail finalizes an ERROR result and best-effort records the fallback
// message against any pending turn.
func (p *Pipeline) fail(ctx context.Context, userID string, meta Metadata, msg string, err error) Result {
	slog.Error("pipeline: "+msg, "user_id", userID, "error", err)
	meta.Error = err.Error()
	p.writeAnswer(ctx, userID, msgPipelineError)
	return Result{Status: StatusError, Answer: msgPipelineError, Context: []search.Result{}, Metadata: meta}
}

// writeAnswer records the answer against the pending turn. A missing
// pending turn or a storage failure only costs history, not the response,
// so it is logged and swallowed.
func (p *Pipeline) writeAnswer(ctx context.Context, userID, answer string) {
	if err := p.mem.UpdateAnswer(ctx, userID, answer); err != nil {
		if err != memory.ErrNoPendingTurn {
			slog.Warn("pipeline: failed to record answer", "user_id", userID, "error", err)
		}
	}
}

func (p *Pipeline) timedClassify(ctx context.Context, question string) (Label, error) {
	start := time.Now()
	label, err := p.classifier.Classify(ctx, question)
	p.observeStage("classify", start)
	return label, err
}

func (p *Pipeline) timedRewrite(ctx context.Context, question string, history []string) (string, error) {
	start := time.Now()
	rewritten, err := p.contextualizer.Rewrite(ctx, question, history)
	p.observeStage("contextualize", start)
	return rewritten, err
}

func (p *Pipeline) timedDecompose(ctx context.Context, question string) []string {
	start := time.Now()
	queries := p.decomposer.Decompose(ctx, question)
	p.observeStage("decompose", start)
	return queries
}

func (p *Pipeline) timedRetrieve(ctx context.Context, queries []string) []search.Result {
	start := time.Now()
	docs := p.retriever.Retrieve(ctx, queries)
	p.observeStage("retrieve", start)
	return docs
}

func (p *Pipeline) timedGenerate(ctx context.Context, question string, docs []search.Result) string {
	start := time.Now()
	answer := p.generator.Answer(ctx, question, docs)
	p.observeStage("generate", start)
	return answer
}

func (p *Pipeline) observeStage(stage string, start time.Time) {
	if p.metrics != nil {
		p.metrics.ObserveStage(stage, time.Since(start))
	}
}
