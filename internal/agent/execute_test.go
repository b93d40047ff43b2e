package agent

import (
	"context"
	"encoding/json"
	"sync"
	"testing"

	"github.com/basegraphhq/dossier/internal/execlog"
	"github.com/basegraphhq/dossier/internal/model"
	"github.com/basegraphhq/dossier/internal/source"
)

// testAdapter returns one scripted HTTP code per ExecuteSearch call; code 0
// means success with the configured results.
type testAdapter struct {
	id      string
	mu      sync.Mutex
	codes   []int
	calls   int
	results []model.RawResult
}

func (a *testAdapter) Metadata() source.Metadata {
	return source.Metadata{ID: a.id, DisplayName: a.id, Category: "test"}
}

func (a *testAdapter) IsRelevant(ctx context.Context, question string) (bool, error) {
	return true, nil
}

func (a *testAdapter) GenerateQuery(ctx context.Context, question string, paramHints map[string]any) (source.QueryParams, error) {
	raw, _ := json.Marshal(map[string]string{"q": question})
	return source.QueryParams(raw), nil
}

func (a *testAdapter) ExecuteSearch(ctx context.Context, params source.QueryParams, limit int, extractFullContent bool) (source.QueryResult, error) {
	a.mu.Lock()
	code := 0
	if a.calls < len(a.codes) {
		code = a.codes[a.calls]
	}
	a.calls++
	a.mu.Unlock()

	if code != 0 {
		return source.QueryResult{Success: false, SourceID: a.id, HTTPCode: code, Error: "scripted failure"}, nil
	}
	return source.QueryResult{Success: true, SourceID: a.id, Total: len(a.results), Results: a.results}, nil
}

func registerTestAdapter(rc *RunContext, adapter *testAdapter) {
	rc.Registry.Register(adapter.Metadata(), true, func() (source.Adapter, error) { return adapter, nil })
}

func countEvents(events []execlog.Event, et execlog.EventType) int {
	n := 0
	for _, e := range events {
		if e.EventType == et {
			n++
		}
	}
	return n
}

func TestRateLimitedSourceIsCooledDownNotReformulated(t *testing.T) {
	llm := &scriptedLLM{responses: map[string][]string{}}
	rc, logPath := newTestRunContext(t, llm, model.Constraints{
		MaxDepth: 1, MaxGoals: 10, MaxCostUSD: 10, MaxConcurrent: 2,
		DefaultResultLimit: 5, MaxRetriesPerGoal: 2, FilterThreshold: 6,
	})
	adapter := &testAdapter{id: "flaky", codes: []int{429}}
	registerTestAdapter(rc, adapter)

	goal := RootGoal("some question")
	ids := pursueSource(context.Background(), rc, goal, assessOutcome{}, "flaky", 5)

	if len(ids) != 0 {
		t.Fatalf("expected no evidence from a rate-limited source, got %d", len(ids))
	}
	if !rc.IsRateLimited("flaky") {
		t.Fatal("source must be under cooldown after a 429")
	}

	events := readEvents(t, logPath)
	if countEvents(events, execlog.EventRateLimitHit) != 1 {
		t.Fatal("expected exactly one rate_limit_hit event")
	}
	if countEvents(events, execlog.EventReformulation) != 0 {
		t.Fatal("a 429 must never trigger reformulation")
	}
}

func TestValidationErrorReformulatesAtMostMaxRetries(t *testing.T) {
	llm := &scriptedLLM{responses: map[string][]string{
		"reformulation": {`{"field":"q","value":"corrected query"}`},
	}}
	rc, logPath := newTestRunContext(t, llm, model.Constraints{
		MaxDepth: 1, MaxGoals: 10, MaxCostUSD: 10, MaxConcurrent: 2,
		DefaultResultLimit: 5, MaxRetriesPerGoal: 2, FilterThreshold: 6,
	})
	adapter := &testAdapter{id: "picky", codes: []int{422, 422, 422, 422}}
	registerTestAdapter(rc, adapter)

	goal := RootGoal("some question")
	pursueSource(context.Background(), rc, goal, assessOutcome{}, "picky", 5)

	events := readEvents(t, logPath)
	if got := countEvents(events, execlog.EventReformulation); got != 2 {
		t.Fatalf("reformulation events = %d, want max_retries_per_goal (2)", got)
	}
}

func TestAuthErrorNeverReformulates(t *testing.T) {
	llm := &scriptedLLM{responses: map[string][]string{}}
	rc, logPath := newTestRunContext(t, llm, model.Constraints{
		MaxDepth: 1, MaxGoals: 10, MaxCostUSD: 10, MaxConcurrent: 2,
		DefaultResultLimit: 5, MaxRetriesPerGoal: 2, FilterThreshold: 6,
	})
	adapter := &testAdapter{id: "locked", codes: []int{403}}
	registerTestAdapter(rc, adapter)

	goal := RootGoal("some question")
	pursueSource(context.Background(), rc, goal, assessOutcome{}, "locked", 5)

	events := readEvents(t, logPath)
	if countEvents(events, execlog.EventReformulation) != 0 {
		t.Fatal("a 403 must never produce a reformulation event")
	}
	if adapter.calls != 1 {
		t.Fatalf("auth failure must not be retried, got %d calls", adapter.calls)
	}
}

func TestDuplicateURLBecomesIndexReference(t *testing.T) {
	llm := &scriptedLLM{responses: map[string][]string{
		"relevance_filter":    {`{"score":8,"rationale":"names the entity directly"}`},
		"evidence_extraction": {`{"summary":"a summary","facts":["fact"],"entities":[{"name":"Acme","type":"organization"}],"dates":[]}`},
	}}
	rc, logPath := newTestRunContext(t, llm, model.Constraints{
		MaxDepth: 1, MaxGoals: 10, MaxCostUSD: 10, MaxConcurrent: 2,
		DefaultResultLimit: 5, MaxRetriesPerGoal: 2, FilterThreshold: 6,
	})
	hit := model.RawResult{URL: "https://example.com/doc", Title: "Doc", RawAPIResponse: json.RawMessage(`{}`)}
	adapter := &testAdapter{id: "steady", results: []model.RawResult{hit}}
	registerTestAdapter(rc, adapter)

	first := pursueSource(context.Background(), rc, RootGoal("about Acme"), assessOutcome{}, "steady", 5)
	if len(first) != 1 {
		t.Fatalf("first query should admit one evidence item, got %d", len(first))
	}

	second := pursueSource(context.Background(), rc, model.ResearchGoal{ID: "0.1", Description: "more about Acme", Depth: 1}, assessOutcome{}, "steady", 5)
	if len(second) != 1 || second[0] != first[0] {
		t.Fatalf("second goal must reference the existing evidence id %d, got %v", first[0], second)
	}

	events := readEvents(t, logPath)
	if got := countEvents(events, execlog.EventEvidenceAccepted); got != 1 {
		t.Fatalf("evidence_accepted events = %d, want 1 (duplicate URL is a reference, not a record)", got)
	}
}
