package pipeline

import (
	"context"
	"log/slog"
	"sort"

	"golang.org/x/sync/errgroup"

	"github.com/hienhds/LegalSystem2/internal/search"
)

// Searcher is the retrieval backend contract.
type Searcher interface {
	Search(ctx context.Context, text string, topK int) ([]search.Result, error)
}

// Retriever fans search queries out to the backend and merges the results.
type Retriever struct {
	searcher       Searcher
	topKPerQuery   int
	maxTotal       int
	onQueryFailure func()
}

// NewRetriever creates a Retriever. topKPerQuery bounds each individual
// search; maxTotal bounds the merged result set.
func NewRetriever(searcher Searcher, topKPerQuery, maxTotal int) *Retriever {
	if topKPerQuery <= 0 {
		topKPerQuery = 5
	}
	if maxTotal <= 0 {
		maxTotal = 10
	}
	return &Retriever{searcher: searcher, topKPerQuery: topKPerQuery, maxTotal: maxTotal}
}

// Retrieve runs all queries concurrently and merges their results.
// A failed query is logged and skipped; only the case where every query
// fails yields an empty set. Duplicates are collapsed to the first
// occurrence in query order, so a document surfaced by an earlier query
// keeps that query's score. The merged set is sorted by score descending
// and truncated to maxTotal. The returned slice is never nil.
func (r *Retriever) Retrieve(ctx context.Context, queries []string) []search.Result {
	perQuery := make([][]search.Result, len(queries))

	var g errgroup.Group
	for i, q := range queries {
		g.Go(func() error {
			results, err := r.searcher.Search(ctx, q, r.topKPerQuery)
			if err != nil {
				slog.Warn("retrieve: query failed", "query", truncate(q, 80), "error", err)
				if r.onQueryFailure != nil {
					r.onQueryFailure()
				}
				return nil
			}
			// The backend is not trusted to honor topK.
			if len(results) > r.topKPerQuery {
				results = results[:r.topKPerQuery]
			}
			perQuery[i] = results
			return nil
		})
	}
	g.Wait()

	seen := make(map[string]struct{})
	merged := make([]search.Result, 0, r.maxTotal)
	for _, results := range perQuery {
		for _, res := range results {
			if res.ID == "" {
				continue
			}
			if _, dup := seen[res.ID]; dup {
				continue
			}
			seen[res.ID] = struct{}{}
			merged = append(merged, res)
		}
	}

	sort.SliceStable(merged, func(i, j int) bool {
		return merged[i].Score > merged[j].Score
	})
	if len(merged) > r.maxTotal {
		merged = merged[:r.maxTotal]
	}
	slog.Debug("retrieve: merged results", "queries", len(queries), "docs", len(merged))
	return merged
}
