package agent

import (
	"context"
	"fmt"

	llmc "github.com/basegraphhq/dossier/common/llm"
	"github.com/basegraphhq/dossier/internal/execlog"
	"github.com/basegraphhq/dossier/internal/model"
)

type subgoalSpec struct {
	Description  string `json:"description"`
	Dependencies []int  `json:"dependencies"`
}

type decomposeResult struct {
	Subgoals []subgoalSpec `json:"subgoals"`
}

var decomposeJSONSchema = llmc.GenerateSchema[decomposeResult]()

// synthesisMarker is appended to a sub-goal's description by
// appendSynthesisGoal so checkAchievement can recognize which sub-goal is
// the comparative question's terminal synthesis step.
const synthesisMarker = "[synthesis]"

// runDecompose is the DECOMPOSE action: one LLM call producing sub-goals
// with dependency indices, validated for cycles and range, grouped
// topologically, and (for comparative questions) augmented with an
// implicit synthesis goal when the model omitted one.
func runDecompose(ctx context.Context, rc *RunContext, goal model.ResearchGoal) ([]model.ResearchGoal, [][]model.ResearchGoal, bool, error) {
	var result decomposeResult
	_, err := rc.LLM.Chat(ctx, llmc.Request{
		SystemPrompt: "Break the research goal into dependent sub-goals. Each sub-goal's \"dependencies\" field " +
			"lists the indices (into this same list) of sub-goals whose results it needs first. For comparative " +
			"or \"compare X and Y\" style goals, include at least one terminal synthesis sub-goal that depends " +
			"on the data-collection sub-goals and explicitly says it synthesizes/compares their findings.",
		UserPrompt:  fmt.Sprintf("Goal: %s", goal.Description),
		SchemaName:  "decomposition",
		Schema:      decomposeJSONSchema,
		CostLedger:  rc.Budget,
		CostPerCall: 0.015,
		Log:         rc.Log,
		GoalID:      goal.ID,
	}, &result)
	if err != nil {
		return nil, nil, false, fmt.Errorf("decompose: %w", err)
	}
	rc.DebugDump(goal.ID, "decompose", goal.Description, fmt.Sprintf("%+v", result))

	if !validSubgoals(result.Subgoals) {
		rc.Log.Log(goal.ID, execlog.EventDecomposition, map[string]any{"status": "invalid", "fallback": "execute"})
		return nil, nil, false, nil
	}

	isComparative := looksComparative(goal.Description)
	if isComparative && !hasSynthesisGoal(result.Subgoals) {
		result.Subgoals = appendSynthesisGoal(result.Subgoals)
	}

	children := make([]model.ResearchGoal, len(result.Subgoals))
	for i, sg := range result.Subgoals {
		children[i] = newChildGoal(goal, i, sg.Description, sg.Dependencies)
		rc.RegisterGoal(children[i])
	}

	groups, err := topologicalGroups(result.Subgoals)
	if err != nil {
		rc.Log.Log(goal.ID, execlog.EventDecomposition, map[string]any{"status": "invalid", "fallback": "execute", "error": err.Error()})
		return nil, nil, false, nil
	}

	groupedGoals := make([][]model.ResearchGoal, len(groups))
	for gi, idxs := range groups {
		for _, idx := range idxs {
			groupedGoals[gi] = append(groupedGoals[gi], children[idx])
		}
	}

	rc.Log.Log(goal.ID, execlog.EventDecomposition, map[string]any{"status": "ok", "subgoal_count": len(children), "groups": len(groups)})
	for gi, g := range groupedGoals {
		ids := make([]string, len(g))
		for i, cg := range g {
			ids[i] = cg.ID
		}
		rc.Log.Log(goal.ID, execlog.EventDependencyGroup, map[string]any{"group_index": gi, "goal_ids": ids})
	}

	return children, groupedGoals, true, nil
}

func validSubgoals(subgoals []subgoalSpec) bool {
	if len(subgoals) == 0 {
		return false
	}
	for _, sg := range subgoals {
		for _, dep := range sg.Dependencies {
			if dep < 0 || dep >= len(subgoals) {
				return false
			}
		}
	}
	return true
}

// topologicalGroups computes dependency-rank groups: group 0 has no
// dependencies, group k depends only on groups < k. Returns an error if a
// cycle is detected (should not happen once validSubgoals passed, but
// validSubgoals only checks range, not cyclicity).
func topologicalGroups(subgoals []subgoalSpec) ([][]int, error) {
	n := len(subgoals)
	rank := make([]int, n)
	resolved := make([]bool, n)

	for iter := 0; iter < n; iter++ {
		progressed := false
		for i := 0; i < n; i++ {
			if resolved[i] {
				continue
			}
			ready := true
			maxDepRank := -1
			for _, dep := range subgoals[i].Dependencies {
				if !resolved[dep] {
					ready = false
					break
				}
				if rank[dep] > maxDepRank {
					maxDepRank = rank[dep]
				}
			}
			if ready {
				rank[i] = maxDepRank + 1
				resolved[i] = true
				progressed = true
			}
		}
		if !progressed {
			break
		}
	}

	for i, r := range resolved {
		if !r {
			return nil, fmt.Errorf("dependency cycle detected involving sub-goal %d", i)
		}
	}

	maxRank := 0
	for _, r := range rank {
		if r > maxRank {
			maxRank = r
		}
	}
	groups := make([][]int, maxRank+1)
	for i, r := range rank {
		groups[r] = append(groups[r], i)
	}
	return groups, nil
}

func looksComparative(description string) bool {
	for _, kw := range []string{"compare", "versus", " vs ", "difference between", "contrast"} {
		if containsFold(description, kw) {
			return true
		}
	}
	return false
}

func hasSynthesisGoal(subgoals []subgoalSpec) bool {
	for _, sg := range subgoals {
		if len(sg.Dependencies) > 0 && containsFold(sg.Description, "synthes") {
			return true
		}
		if len(sg.Dependencies) > 0 && containsFold(sg.Description, "compar") {
			return true
		}
	}
	return false
}

// appendSynthesisGoal adds an implicit terminal synthesis sub-goal
// depending on every existing sub-goal. A comparative decomposition always
// ends in one, whether the model proposed it or not.
func appendSynthesisGoal(subgoals []subgoalSpec) []subgoalSpec {
	deps := make([]int, len(subgoals))
	for i := range subgoals {
		deps[i] = i
	}
	return append(subgoals, subgoalSpec{
		Description:  "Synthesize and compare the findings from the preceding sub-goals. " + synthesisMarker,
		Dependencies: deps,
	})
}
