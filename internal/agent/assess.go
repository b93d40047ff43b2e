package agent

import (
	"context"
	"fmt"
	"strings"

	llmc "github.com/basegraphhq/dossier/common/llm"
	"github.com/basegraphhq/dossier/internal/model"
)

type assessResult struct {
	Action           string   `json:"action"`
	Rationale        string   `json:"rationale"`
	SuggestedSources []string `json:"suggested_sources"`
	ParamHints       string   `json:"param_hints"`
}

var assessJSONSchema = llmc.GenerateSchema[assessResult]()

// assessOutcome is assessAction's return value, model.Action plus the
// rationale and hints the caller forwards into EXECUTE/DECOMPOSE.
type assessOutcome struct {
	Action           model.Action
	Rationale        string
	SuggestedSources []string
	ParamHints       string
}

// assessAction runs the single LLM call that chooses EXECUTE, DECOMPOSE,
// or ANALYZE for goal. Depth at or beyond max_depth forces EXECUTE or
// ANALYZE — DECOMPOSE is never offered to the model past that depth.
func assessAction(ctx context.Context, rc *RunContext, goal model.ResearchGoal, siblingSummaries []string) (assessOutcome, error) {
	atMaxDepth := goal.Depth >= rc.Constraints.MaxDepth

	allowedActions := "EXECUTE, DECOMPOSE, ANALYZE"
	if atMaxDepth {
		allowedActions = "EXECUTE, ANALYZE"
	}

	digest := keywordDigest(rc.Index.Entries(), goal.Description, 15)

	prompt := fmt.Sprintf(
		"Research goal: %s\nDepth: %d (max %d)\nRemaining cost budget: $%.2f\nAllowed actions: %s\n",
		goal.Description, goal.Depth, rc.Constraints.MaxDepth,
		rc.Constraints.MaxCostUSD-rc.Budget.Snapshot().SpentCostUSD, allowedActions)
	if len(siblingSummaries) > 0 {
		prompt += "\nSibling goal summaries:\n" + strings.Join(siblingSummaries, "\n")
	}
	if len(digest) > 0 {
		prompt += "\nRelevant prior evidence already collected this run:\n" + strings.Join(digest, "\n")
	}

	var result assessResult
	_, err := rc.LLM.Chat(ctx, llmc.Request{
		SystemPrompt: "You choose one action for a research goal: EXECUTE (query external sources directly), " +
			"DECOMPOSE (break the goal into dependent sub-goals), or ANALYZE (synthesize from evidence already " +
			"collected this run without querying new sources). Prefer ANALYZE only when the run index already " +
			"plausibly contains what is needed.",
		UserPrompt:  prompt,
		SchemaName:  "assess_action",
		Schema:      assessJSONSchema,
		CostLedger:  rc.Budget,
		CostPerCall: 0.01,
		Log:         rc.Log,
		GoalID:      goal.ID,
	}, &result)
	if err != nil {
		return assessOutcome{}, fmt.Errorf("assess action: %w", err)
	}
	rc.DebugDump(goal.ID, "assess", prompt, fmt.Sprintf("%+v", result))

	action := model.Action(strings.ToUpper(result.Action))
	if atMaxDepth && action == model.ActionDecompose {
		action = model.ActionExecute
	}
	switch action {
	case model.ActionExecute, model.ActionDecompose, model.ActionAnalyze:
	default:
		action = model.ActionExecute
	}

	return assessOutcome{
		Action:           action,
		Rationale:        result.Rationale,
		SuggestedSources: result.SuggestedSources,
		ParamHints:       result.ParamHints,
	}, nil
}

// keywordDigest selects up to n IndexEntry summaries whose keywords
// overlap with goalDescription, a cheap pre-filter so the assess prompt
// never has to embed the entire run index.
func keywordDigest(entries []model.IndexEntry, goalDescription string, n int) []string {
	lower := strings.ToLower(goalDescription)
	var out []string
	for _, e := range entries {
		for _, kw := range e.Keywords {
			if kw == "" {
				continue
			}
			if strings.Contains(lower, strings.ToLower(kw)) {
				out = append(out, fmt.Sprintf("[evidence_id=%d] %s", e.EvidenceID, e.SummaryForSelection))
				break
			}
		}
		if len(out) >= n {
			break
		}
	}
	return out
}
