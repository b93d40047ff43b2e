package agent

import (
	"context"
	"fmt"
	"strings"

	llmc "github.com/basegraphhq/dossier/common/llm"
	"github.com/basegraphhq/dossier/internal/execlog"
	"github.com/basegraphhq/dossier/internal/model"
)

type achievementResult struct {
	Achieved   bool     `json:"achieved"`
	Confidence float64  `json:"confidence"`
	Reasoning  string   `json:"reasoning"`
	Gaps       []string `json:"gaps"`
}

var achievementJSONSchema = llmc.GenerateSchema[achievementResult]()

// checkAchievement runs the single LLM call that decides whether goal has
// been sufficiently answered. For comparative/analytical goals, achieved
// is forced false unless analyzeFired is true (an ANALYZE action already
// produced a synthesis somewhere in this goal's subtree) — the model's own
// judgment is overridden in that one case.
func checkAchievement(ctx context.Context, rc *RunContext, goal model.ResearchGoal, evidenceIDs []int64, analyzeFired bool) (achievementResult, error) {
	evidence := rc.Index.GetMany(evidenceIDs)
	var sb strings.Builder
	for _, ev := range evidence {
		fmt.Fprintf(&sb, "[evidence_id=%d] %s\n", ev.EvidenceID, ev.LLMSummary)
	}

	var result achievementResult
	_, err := rc.LLM.Chat(ctx, llmc.Request{
		SystemPrompt: "Decide whether the collected evidence sufficiently achieves the research goal. " +
			"List concrete gaps when it does not.",
		UserPrompt:  fmt.Sprintf("Goal: %s\n\nEvidence collected:\n%s", goal.Description, sb.String()),
		SchemaName:  "check_achievement",
		Schema:      achievementJSONSchema,
		CostLedger:  rc.Budget,
		CostPerCall: 0.01,
		Log:         rc.Log,
		GoalID:      goal.ID,
	}, &result)
	if err != nil {
		return achievementResult{}, fmt.Errorf("check achievement: %w", err)
	}
	rc.DebugDump(goal.ID, "check_achievement", goal.Description, fmt.Sprintf("%+v", result))

	if isComparativeGoal(goal) && !analyzeFired {
		result.Achieved = false
	}

	return result, nil
}

func isComparativeGoal(goal model.ResearchGoal) bool {
	return looksComparative(goal.Description) || strings.Contains(goal.Description, synthesisMarker)
}

// maxFollowUpsPerGoal caps how many follow-up sub-goals a single
// checkAchievement gap list may spawn.
const maxFollowUpsPerGoal = 3

// generateFollowUps turns checkAchievement's gaps into additional
// sub-goals when the remaining budget permits, seeing every existing goal
// in the run so it can avoid duplicating one already being pursued.
func generateFollowUps(ctx context.Context, rc *RunContext, goal model.ResearchGoal, gaps []string, existingChildCount int) ([]model.ResearchGoal, error) {
	if len(gaps) == 0 {
		return nil, nil
	}
	if stop, _ := rc.Budget.ShouldStop(); stop {
		return nil, nil
	}

	existing := rc.AllGoals()
	var existingDescs strings.Builder
	for _, g := range existing {
		fmt.Fprintf(&existingDescs, "- %s\n", g.Description)
	}

	type followUpSpec struct {
		Descriptions []string `json:"descriptions"`
	}
	schema := llmc.GenerateSchema[followUpSpec]()

	var result followUpSpec
	_, err := rc.LLM.Chat(ctx, llmc.Request{
		SystemPrompt: fmt.Sprintf("Propose up to %d new follow-up sub-goals that would close the given gaps. "+
			"Never propose a goal that duplicates one already in progress.", maxFollowUpsPerGoal),
		UserPrompt:  fmt.Sprintf("Goal: %s\nGaps:\n- %s\n\nGoals already in this run:\n%s", goal.Description, strings.Join(gaps, "\n- "), existingDescs.String()),
		SchemaName:  "follow_ups",
		Schema:      schema,
		CostLedger:  rc.Budget,
		CostPerCall: 0.01,
		Log:         rc.Log,
		GoalID:      goal.ID,
	}, &result)
	if err != nil {
		return nil, fmt.Errorf("generate follow-ups: %w", err)
	}

	descriptions := result.Descriptions
	if len(descriptions) > maxFollowUpsPerGoal {
		rc.Log.Log(goal.ID, execlog.EventEvidenceTruncated, map[string]any{
			"artifact":       "follow_ups",
			"original_count": len(descriptions),
			"kept_count":     maxFollowUpsPerGoal,
		})
		descriptions = descriptions[:maxFollowUpsPerGoal]
	}

	children := make([]model.ResearchGoal, 0, len(descriptions))
	for i, desc := range descriptions {
		child := newChildGoal(goal, existingChildCount+i, desc, nil)
		rc.RegisterGoal(child)
		children = append(children, child)
	}
	return children, nil
}
