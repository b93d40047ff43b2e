package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/basegraphhq/dossier/common/logger"
	"github.com/basegraphhq/dossier/internal/budget"
	"github.com/basegraphhq/dossier/internal/execlog"
	"github.com/basegraphhq/dossier/internal/model"
)

// PursueGoal drives one goal through the full loop: assess an action,
// run it (EXECUTE, DECOMPOSE, or ANALYZE), check achievement, spawn
// follow-ups while budget remains, and return a GoalResult.
//
// Every exit path is a value, never a panic: a recovered panic becomes a
// failed GoalResult with reason "panic" so the caller can still persist
// whatever the rest of the tree collected.
func PursueGoal(ctx context.Context, rc *RunContext, goal model.ResearchGoal) model.GoalResult {
	return pursueGoal(ctx, rc, goal, nil)
}

func pursueGoal(ctx context.Context, rc *RunContext, goal model.ResearchGoal, siblingSummaries []string) (result model.GoalResult) {
	start := time.Now()

	ctx = logger.WithLogFields(ctx, logger.LogFields{
		RunID:     logger.Ptr(rc.RunID),
		GoalID:    logger.Ptr(goal.ID),
		Component: "dossier.agent.pursue_goal",
	})
	sc := logger.StartSpan(ctx, "dossier.agent.pursue_goal")
	ctx = sc.Context()
	defer sc.End()

	defer func() {
		if r := recover(); r != nil {
			result = model.GoalResult{
				Goal:       goal,
				Status:     model.GoalFailed,
				Error:      &model.GoalError{Reason: model.ReasonPanic, Message: fmt.Sprintf("panic: %v", r)},
				DurationMS: time.Since(start).Milliseconds(),
			}
			rc.Log.Log(goal.ID, execlog.EventGoalFailed, map[string]any{"reason": "panic", "detail": fmt.Sprintf("%v", r)})
			sc.RecordError(fmt.Errorf("panic: %v", r))
		}
	}()

	rc.RegisterGoal(goal)
	rc.Budget.RecordGoalStart()
	rc.Log.Log(goal.ID, execlog.EventGoalStarted, map[string]any{"description": goal.Description, "depth": goal.Depth})

	permit, err := rc.Budget.Acquire(ctx)
	if err != nil {
		return cancelledResult(goal, start, "acquire permit: "+err.Error())
	}
	defer func() { permit.Release() }()

	if stop, reason := rc.Budget.ShouldStop(); stop {
		return stoppedResult(rc, goal, start, reason)
	}

	outcome, err := assessAction(ctx, rc, goal, siblingSummaries)
	if err != nil {
		return llmFailureResult(rc, goal, start, err)
	}
	rc.Log.Log(goal.ID, execlog.EventActionSelected, map[string]any{"action": outcome.Action, "rationale": outcome.Rationale})

	// runChildren releases this goal's permit while its children hold
	// theirs, then reacquires before the parent's own work resumes. A
	// parent blocking on children while holding a permit would deadlock
	// the run at max_concurrent=1.
	runChildren := func(groups [][]model.ResearchGoal) ([]model.GoalResult, error) {
		permit.Release()
		results := runDependencyGroups(ctx, rc, groups)
		var acqErr error
		permit, acqErr = rc.Budget.Acquire(ctx)
		if acqErr != nil {
			permit = &budget.Permit{}
		}
		return results, acqErr
	}

	var evidenceIDs []int64
	var children []model.ResearchGoal
	var subResults []model.GoalResult
	analyzeFired := false
	var answer string
	var baseConfidence float64 = 0.5

	switch outcome.Action {
	case model.ActionExecute:
		if stop, reason := rc.Budget.ShouldStop(); stop {
			return stoppedResult(rc, goal, start, reason)
		}
		execOut, err := runExecute(ctx, rc, goal, outcome)
		if err != nil {
			return failedResult(rc, goal, start, model.ReasonSource, err)
		}
		evidenceIDs = execOut.EvidenceIDs

	case model.ActionDecompose:
		childGoals, groups, ok, err := runDecompose(ctx, rc, goal)
		if err != nil {
			return llmFailureResult(rc, goal, start, err)
		}
		if !ok {
			// Invalid decomposition falls back to EXECUTE on the same goal.
			execOut, err := runExecute(ctx, rc, goal, outcome)
			if err != nil {
				return failedResult(rc, goal, start, model.ReasonSource, err)
			}
			evidenceIDs = execOut.EvidenceIDs
			break
		}
		children = childGoals
		subResults, err = runChildren(groups)
		if err != nil {
			return cancelledResult(goal, start, "reacquire permit: "+err.Error())
		}
		for _, sr := range subResults {
			evidenceIDs = append(evidenceIDs, sr.EvidenceIDs...)
			if containsSynthesisMarker(sr.Goal) && sr.Status == model.GoalCompleted {
				analyzeFired = analyzeFired || strings.HasPrefix(sr.Reasoning, analyzeFiredMarker)
			}
		}

	case model.ActionAnalyze:
		analyzeOut, err := runAnalyze(ctx, rc, goal)
		if err != nil {
			return llmFailureResult(rc, goal, start, err)
		}
		evidenceIDs = analyzeOut.EvidenceIDs
		answer = analyzeOut.Answer
		baseConfidence = analyzeOut.Confidence
		analyzeFired = analyzeOut.Fired
	}

	if cancelled, reason := rc.Budget.ShouldStop(); cancelled && reason == budget.StopCancelled {
		return cancelledResult(goal, start, "cancelled mid-goal")
	}

	achievement, err := checkAchievement(ctx, rc, goal, evidenceIDs, analyzeFired)
	if err != nil {
		return llmFailureResult(rc, goal, start, err)
	}

	// An EXECUTE goal that gathered less than min_results_to_continue has
	// too thin a basis to justify spawning follow-up goals; it returns
	// unachieved as-is and lets its parent decide what to do next.
	enoughToContinue := outcome.Action != model.ActionExecute || len(evidenceIDs) >= rc.Constraints.MinResultsToContinue

	if !achievement.Achieved && enoughToContinue && goal.Depth < rc.Constraints.MaxDepth {
		if stop, _ := rc.Budget.ShouldStop(); !stop {
			followUps, ferr := generateFollowUps(ctx, rc, goal, achievement.Gaps, len(children))
			if ferr == nil && len(followUps) > 0 {
				followResults, racqErr := runChildren([][]model.ResearchGoal{followUps})
				if racqErr != nil {
					return cancelledResult(goal, start, "reacquire permit: "+racqErr.Error())
				}
				subResults = append(subResults, followResults...)
				for _, sr := range followResults {
					evidenceIDs = append(evidenceIDs, sr.EvidenceIDs...)
				}
				achievement, err = checkAchievement(ctx, rc, goal, evidenceIDs, analyzeFired)
				if err != nil {
					return llmFailureResult(rc, goal, start, err)
				}
			}
		}
	}

	confidence := achievement.Confidence
	if confidence == 0 {
		confidence = baseConfidence
	}
	reasoning := achievement.Reasoning
	if answer != "" {
		reasoning = answer + "\n\n" + reasoning
	}
	if containsSynthesisMarker(goal) && analyzeFired {
		reasoning = analyzeFiredMarker + "\n" + reasoning
	}

	status := model.GoalCompleted
	if !achievement.Achieved && len(evidenceIDs) == 0 && len(subResults) == 0 {
		status = model.GoalFailed
	}

	gr := model.GoalResult{
		Goal:        goal,
		Status:      status,
		EvidenceIDs: evidenceIDs,
		SubResults:  subResults,
		Confidence:  confidence,
		Reasoning:   reasoning,
		CostUSD:     rc.Budget.Snapshot().SpentCostUSD,
		DurationMS:  time.Since(start).Milliseconds(),
	}
	rc.Log.Log(goal.ID, execlog.EventGoalCompleted, map[string]any{"status": status, "confidence": confidence, "evidence_count": len(evidenceIDs)})
	return gr
}

// analyzeFiredMarker is stashed in a synthesis sub-goal's Reasoning so its
// parent's DECOMPOSE branch can detect that ANALYZE actually fired in that
// subtree, without re-walking the whole tree structurally.
const analyzeFiredMarker = "__analyze_fired__"

func containsSynthesisMarker(goal model.ResearchGoal) bool {
	return isComparativeGoal(goal)
}

// runDependencyGroups executes each dependency group's goals concurrently
// (bounded by the shared budget semaphore via each pursueGoal's own
// Acquire call), waiting for group k to fully complete before starting
// group k+1. Goals in group k+1 see a one-line summary of every result
// from the groups before them.
func runDependencyGroups(ctx context.Context, rc *RunContext, groups [][]model.ResearchGoal) []model.GoalResult {
	var all []model.GoalResult
	var priorSummaries []string
	for _, group := range groups {
		type indexedResult struct {
			idx int
			res model.GoalResult
		}
		summaries := make([]string, len(priorSummaries))
		copy(summaries, priorSummaries)
		resultsCh := make(chan indexedResult, len(group))
		for i, g := range group {
			go func(i int, g model.ResearchGoal) {
				resultsCh <- indexedResult{idx: i, res: pursueGoal(ctx, rc, g, summaries)}
			}(i, g)
		}
		ordered := make([]model.GoalResult, len(group))
		for range group {
			ir := <-resultsCh
			ordered[ir.idx] = ir.res
		}
		for _, r := range ordered {
			priorSummaries = append(priorSummaries, summarizeResult(r))
		}
		all = append(all, ordered...)
	}
	return all
}

// summarizeResult renders one completed sibling for the next dependency
// group's assess prompt.
func summarizeResult(r model.GoalResult) string {
	reasoning := strings.TrimPrefix(r.Reasoning, analyzeFiredMarker+"\n")
	return fmt.Sprintf("[%s, %s, %d evidence] %s: %s",
		r.Goal.ID, r.Status, len(r.EvidenceIDs), r.Goal.Description, logger.Truncate(reasoning, 300))
}

// llmFailureResult routes an LLM-call error to the right GoalResult: a
// budget.ErrBudgetExceeded is a budget short-circuit (reason "budget"),
// never the generic "llm_schema" failure a third repair retry produces.
func llmFailureResult(rc *RunContext, goal model.ResearchGoal, start time.Time, err error) model.GoalResult {
	if errors.Is(err, budget.ErrBudgetExceeded) {
		return stoppedResult(rc, goal, start, budget.StopCost)
	}
	return failedResult(rc, goal, start, model.ReasonLLMSchema, err)
}

func failedResult(rc *RunContext, goal model.ResearchGoal, start time.Time, reason model.FailureReason, err error) model.GoalResult {
	rc.Log.Log(goal.ID, execlog.EventGoalFailed, map[string]any{"reason": reason, "error": err.Error()})
	return model.GoalResult{
		Goal:       goal,
		Status:     model.GoalFailed,
		Error:      &model.GoalError{Reason: reason, Message: err.Error()},
		DurationMS: time.Since(start).Milliseconds(),
	}
}

func stoppedResult(rc *RunContext, goal model.ResearchGoal, start time.Time, reason budget.StopReason) model.GoalResult {
	if reason == budget.StopCancelled {
		return cancelledResult(goal, start, "run cancelled")
	}
	rc.Log.Log(goal.ID, execlog.EventBudgetBreach, map[string]any{"reason": reason})
	return model.GoalResult{
		Goal:       goal,
		Status:     model.GoalFailed,
		Error:      &model.GoalError{Reason: model.ReasonBudget, Message: string(reason)},
		DurationMS: time.Since(start).Milliseconds(),
	}
}

func cancelledResult(goal model.ResearchGoal, start time.Time, message string) model.GoalResult {
	return model.GoalResult{
		Goal:       goal,
		Status:     model.GoalCancelled,
		Error:      &model.GoalError{Reason: model.ReasonCancelled, Message: message},
		DurationMS: time.Since(start).Milliseconds(),
	}
}
