package evidence

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"

	llmc "github.com/basegraphhq/dossier/common/llm"
	"github.com/basegraphhq/dossier/internal/budget"
	"github.com/basegraphhq/dossier/internal/execlog"
	"github.com/basegraphhq/dossier/internal/model"
)

// filterResult is the structured shape the relevance-filter call must
// return. Score is on a 0-10 scale; goals compare it against
// Constraints.FilterThreshold.
type filterResult struct {
	Score     int    `json:"score"`
	Rationale string `json:"rationale"`
}

var filterJSONSchema = llmc.GenerateSchema[filterResult]()

// Filterer runs the strict, goal-focused relevance filter applied to every
// raw result before extraction. It is deliberately never allowed to fall
// back to keyword overlap when the LLM call fails: a failed filter call
// rejects the result, not silently loosens the rubric.
type Filterer struct {
	llm         llmc.Client
	cache       *lru.Cache[string, filterResult]
	costPerCall float64
}

// NewFilterer builds a Filterer backed by client, with a bounded digest
// cache (capacity entries) of (goal description, raw content) pairs this
// run has already scored. The cache is purely an optimization to avoid
// re-scoring identical content seen via two different source queries in
// the same run; it is never consulted as the source of truth for what
// evidence exists — internal/evidence.Index owns that.
func NewFilterer(client llmc.Client, capacity int, costPerCall float64) (*Filterer, error) {
	if capacity <= 0 {
		capacity = 512
	}
	cache, err := lru.New[string, filterResult](capacity)
	if err != nil {
		return nil, fmt.Errorf("build filter cache: %w", err)
	}
	return &Filterer{llm: client, cache: cache, costPerCall: costPerCall}, nil
}

// Score returns the relevance score and rationale for a raw result
// against a goal description. Scoring is strict: the model is instructed
// to penalize tangential matches, and callers reject anything below
// Constraints.FilterThreshold.
func (f *Filterer) Score(ctx context.Context, goalDescription string, raw model.RawResult, ledger *budget.Controller, log *execlog.Logger, goalID string) (int, string, error) {
	key := digestKey(goalDescription, raw)
	if cached, ok := f.cache.Get(key); ok {
		return cached.Score, cached.Rationale, nil
	}

	var result filterResult
	_, err := f.llm.Chat(ctx, llmc.Request{
		SystemPrompt: "You are a strict relevance filter for an investigative research agent. " +
			"Score how directly the given source result addresses the research goal, on a 0-10 scale. " +
			"If the goal names a specific entity (a person, organization, or place), the result must " +
			"name that same entity to score above zero; merely overlapping on keywords or general topic " +
			"is not sufficient. Never invent facts not present in the content.",
		UserPrompt: fmt.Sprintf("Goal: %s\n\nTitle: %s\nSnippet: %s\nContent: %s",
			goalDescription, raw.Title, raw.Snippet, truncate(raw.RawContent, 4000)),
		SchemaName:  "relevance_filter",
		Schema:      filterJSONSchema,
		CostLedger:  ledger,
		CostPerCall: f.costPerCall,
		Log:         log,
		GoalID:      goalID,
	}, &result)
	if err != nil {
		return 0, "", fmt.Errorf("relevance filter: %w", err)
	}

	f.cache.Add(key, result)
	return result.Score, result.Rationale, nil
}

func digestKey(goalDescription string, raw model.RawResult) string {
	h := sha256.New()
	h.Write([]byte(goalDescription))
	h.Write([]byte{0})
	h.Write([]byte(raw.URL))
	h.Write([]byte{0})
	h.Write([]byte(raw.RawContent))
	return hex.EncodeToString(h.Sum(nil))
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
