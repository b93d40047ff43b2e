package agent

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	llmc "github.com/basegraphhq/dossier/common/llm"
	"github.com/basegraphhq/dossier/internal/classify"
	"github.com/basegraphhq/dossier/internal/execlog"
	"github.com/basegraphhq/dossier/internal/model"
	"github.com/basegraphhq/dossier/internal/source"
)

type sourceSelection struct {
	Sources []string `json:"sources"`
}

var selectorJSONSchema = llmc.GenerateSchema[sourceSelection]()

// executeResult is what runExecute returns to pursueGoal: the evidence IDs
// it admitted or referenced across every queried source.
type executeResult struct {
	EvidenceIDs []int64
}

// runExecute is the EXECUTE action: select sources, fan out bounded by
// max_concurrent, reformulate on reformulable errors, dedupe by normalized
// URL, filter, extract, and append to the run index.
func runExecute(ctx context.Context, rc *RunContext, goal model.ResearchGoal, outcome assessOutcome) (executeResult, error) {
	candidates := selectSources(ctx, rc, goal, outcome)
	rc.Log.Log(goal.ID, execlog.EventActionSelected, map[string]any{"action": "EXECUTE", "sources": candidates})

	var wg sync.WaitGroup
	var mu sync.Mutex
	var evidenceIDs []int64

	sem := make(chan struct{}, max(1, rc.Constraints.MaxConcurrent))

	for _, sourceID := range candidates {
		if rc.IsRateLimited(sourceID) {
			rc.Log.Log(goal.ID, execlog.EventSourceSkipped, map[string]any{"source_id": sourceID, "reason": "rate_limited"})
			continue
		}

		sem <- struct{}{}
		wg.Add(1)
		go func(sourceID string) {
			defer wg.Done()
			defer func() { <-sem }()

			ids := pursueSource(ctx, rc, goal, outcome, sourceID, rc.Constraints.ResultLimitFor(sourceID))
			mu.Lock()
			evidenceIDs = append(evidenceIDs, ids...)
			mu.Unlock()
		}(sourceID)
	}
	wg.Wait()

	return executeResult{EvidenceIDs: evidenceIDs}, nil
}

// selectSources asks the LLM to choose a source subset given suggested
// sources, registered metadata, and this run's per-source performance so
// far.
func selectSources(ctx context.Context, rc *RunContext, goal model.ResearchGoal, outcome assessOutcome) []string {
	all := rc.Registry.All()
	if len(all) == 0 {
		return nil
	}

	stats := rc.SourceStatsSnapshot()
	var sb strings.Builder
	for _, m := range all {
		s := stats[m.ID]
		fmt.Fprintf(&sb, "- %s (%s): %s. success=%d zero_results=%d low_quality=%d\n",
			m.ID, m.Category, m.Characteristics, s.Success, s.ZeroResults, s.LowQuality)
	}

	prompt := fmt.Sprintf("Goal: %s\nSuggested sources: %s\nAvailable sources:\n%s",
		goal.Description, strings.Join(outcome.SuggestedSources, ", "), sb.String())

	var result sourceSelection
	_, err := rc.LLM.Chat(ctx, llmc.Request{
		SystemPrompt: "Select which of the available sources to query for this goal. Drop sources with a " +
			"history of errors or zero/low-quality results for similar goals this run; prefer untried sources " +
			"over ones that have already failed repeatedly.",
		UserPrompt:  prompt,
		SchemaName:  "source_selection",
		Schema:      selectorJSONSchema,
		CostLedger:  rc.Budget,
		CostPerCall: 0.005,
		Log:         rc.Log,
		GoalID:      goal.ID,
	}, &result)
	if err != nil {
		// Conservative fallback: try every relevant registered source.
		ids := make([]string, 0, len(all))
		for _, m := range all {
			ids = append(ids, m.ID)
		}
		return ids
	}
	return result.Sources
}

// pursueSource runs generateQuery/executeSearch/classify/reformulate for
// one source against one goal, returning the evidence IDs it admitted.
func pursueSource(ctx context.Context, rc *RunContext, goal model.ResearchGoal, outcome assessOutcome, sourceID string, limit int) []int64 {
	adapter, err := rc.Registry.Get(sourceID)
	if err != nil {
		rc.Log.Log(goal.ID, execlog.EventSourceSkipped, map[string]any{"source_id": sourceID, "reason": err.Error()})
		return nil
	}
	meta := adapter.Metadata()

	// A relevance veto from the adapter skips the source outright; an error
	// from the check defaults to relevant so a flaky LLM call never hides a
	// source that might have answered the goal.
	if relevant, relErr := adapter.IsRelevant(ctx, goal.Description); relErr == nil && !relevant {
		rc.Log.Log(goal.ID, execlog.EventSourceSkipped, map[string]any{"source_id": sourceID, "reason": "irrelevant"})
		return nil
	}

	paramHints := map[string]any{}
	if outcome.ParamHints != "" {
		paramHints["hint"] = outcome.ParamHints
	}

	params, err := adapter.GenerateQuery(ctx, goal.Description, paramHints)
	if err != nil || params == nil {
		rc.Log.Log(goal.ID, execlog.EventSourceSkipped, map[string]any{"source_id": sourceID, "reason": "irrelevant_or_no_query"})
		return nil
	}
	rc.Log.Log(goal.ID, execlog.EventQueryGenerated, map[string]any{"source_id": sourceID, "params": string(params)})

	var evidenceIDs []int64
	attempts := 0
	for {
		if stop, reason := rc.Budget.ShouldStop(); stop {
			rc.Log.Log(goal.ID, execlog.EventBudgetBreach, map[string]any{"reason": reason, "source_id": sourceID})
			return evidenceIDs
		}

		if rc.CheckDoomLoop(goal.ID, sourceID, string(params)) {
			rc.Log.Log(goal.ID, execlog.EventSourceSkipped, map[string]any{"source_id": sourceID, "reason": "doom_loop"})
			return evidenceIDs
		}

		rc.Log.Log(goal.ID, execlog.EventSourceQuery, map[string]any{"source_id": sourceID, "attempt": attempts})

		qr, searchErr := rc.Registry.ExecuteSearch(ctx, sourceID, func(ctx context.Context) (source.QueryResult, error) {
			return adapter.ExecuteSearch(ctx, params, limit, false)
		})

		if searchErr != nil && !qr.Success && qr.HTTPCode == 0 {
			qr.Error = searchErr.Error()
		}

		rc.Log.Log(goal.ID, execlog.EventSourceResponse, map[string]any{"source_id": sourceID, "success": qr.Success, "total": qr.Total})

		if qr.Success {
			rc.RecordSourceOutcome(sourceID, qr.Total, false, "")
			ids := admitResults(ctx, rc, goal, sourceID, qr.Results)
			evidenceIDs = append(evidenceIDs, ids...)
			return evidenceIDs
		}

		var qrErr error
		if qr.Error != "" {
			qrErr = fmt.Errorf("%s", qr.Error)
		}
		apiErr := classify.Classify(classify.QueryOutcome{HTTPCode: qr.HTTPCode, Err: qrErr})
		rc.Log.Log(goal.ID, execlog.EventErrorClassified, map[string]any{"source_id": sourceID, "category": apiErr.Category, "http_code": apiErr.HTTPCode})
		rc.RecordSourceOutcome(sourceID, 0, false, apiErr.Category)

		if apiErr.Category == model.CategoryRateLimit {
			retryAfter := apiErr.RetryAfter
			if retryAfter <= 0 {
				retryAfter = classify.DefaultRetryAfter
			}
			rc.MarkRateLimited(sourceID, time.Now().Add(retryAfter))
			rc.Log.Log(goal.ID, execlog.EventRateLimitHit, map[string]any{"source_id": sourceID, "retry_after_s": retryAfter.Seconds()})
			return evidenceIDs
		}

		if !apiErr.IsReformulable || attempts >= rc.Constraints.MaxRetriesPerGoal {
			return evidenceIDs
		}

		newParams, reformErr := reformulateQuery(ctx, rc, adapter, meta, goal, apiErr, params)
		if reformErr != nil {
			return evidenceIDs
		}
		params = newParams
		attempts++
		rc.Log.Log(goal.ID, execlog.EventReformulation, map[string]any{"source_id": sourceID, "attempt": attempts})
	}
}

// admitResults deduplicates raw results against the run-wide seen-URL set,
// then runs filter+extract for every newly admitted one, in that order,
// and appends accepted evidence to the run index before returning.
func admitResults(ctx context.Context, rc *RunContext, goal model.ResearchGoal, sourceID string, results []model.RawResult) []int64 {
	var ids []int64
	for _, raw := range results {
		raw.SourceID = sourceID
		if raw.FetchedAt.IsZero() {
			raw.FetchedAt = time.Now()
		}

		if existingID, seen := rc.Index.SeenURL(raw.URL); seen {
			ids = append(ids, existingID)
			continue
		}

		score, rationale, err := rc.Filter.Score(ctx, goal.Description, raw, rc.Budget, rc.Log, goal.ID)
		rc.Log.Log(goal.ID, execlog.EventRelevanceFiltering, map[string]any{"source_id": sourceID, "url": raw.URL, "error": errString(err)})
		if err != nil || score < rc.Constraints.FilterThreshold {
			rc.Log.Log(goal.ID, execlog.EventEvidenceRejected, map[string]any{"source_id": sourceID, "url": raw.URL, "score": score, "rationale": rationale})
			continue
		}

		ev, err := rc.Extract.Extract(ctx, goal.ID, goal.Description, raw, score, rationale, rc.Budget, rc.Log)
		if err != nil {
			rc.Log.Log(goal.ID, execlog.EventEvidenceRejected, map[string]any{"source_id": sourceID, "url": raw.URL, "reason": "extraction_failed"})
			continue
		}

		id := rc.Index.Append(ev, ev.LLMSummary, keywordsFrom(ev))
		ids = append(ids, id)
		rc.Log.Log(goal.ID, execlog.EventEvidenceAccepted, map[string]any{"source_id": sourceID, "evidence_id": id, "score": score})
	}
	return ids
}

func keywordsFrom(ev model.ProcessedEvidence) []string {
	kw := make([]string, 0, len(ev.ExtractedEntities))
	for _, e := range ev.ExtractedEntities {
		kw = append(kw, e.Name)
	}
	return kw
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
