package agent

import (
	"context"
	"fmt"
	"strings"

	llmc "github.com/basegraphhq/dossier/common/llm"
	"github.com/basegraphhq/dossier/internal/execlog"
	"github.com/basegraphhq/dossier/internal/model"
)

type evidenceSelection struct {
	EvidenceIDs []int64 `json:"evidence_ids"`
}

var evidenceSelectionJSONSchema = llmc.GenerateSchema[evidenceSelection]()

type synthesisResult struct {
	Answer                string  `json:"answer"`
	Confidence            float64 `json:"confidence"`
	CriticalSourceFailure bool    `json:"critical_source_failure"`
}

var synthesisJSONSchema = llmc.GenerateSchema[synthesisResult]()

// analyzeResult is what runAnalyze returns to pursueGoal.
type analyzeResult struct {
	EvidenceIDs []int64
	Answer      string
	Confidence  float64
	Fired       bool // true once a synthesis call actually ran; checkAchievement consults this
}

// runAnalyze is the ANALYZE action: a global-evidence-selection call over
// the whole run index, a synthesis call over just the selected evidence,
// and a closing self-assessment that can only lower the synthesis
// confidence. It is the only path that consults cross-branch evidence.
func runAnalyze(ctx context.Context, rc *RunContext, goal model.ResearchGoal) (analyzeResult, error) {
	entries := rc.Index.Entries()
	if len(entries) == 0 {
		return analyzeResult{}, nil
	}

	var sb strings.Builder
	for _, e := range entries {
		fmt.Fprintf(&sb, "[evidence_id=%d goal=%s] %s\n", e.EvidenceID, e.GoalID, e.SummaryForSelection)
	}

	var selection evidenceSelection
	_, err := rc.LLM.Chat(ctx, llmc.Request{
		SystemPrompt: "Select which evidence items (by evidence_id) are relevant to answering the goal, " +
			"across all research branches collected so far in this run.",
		UserPrompt:  fmt.Sprintf("Goal: %s\n\nAvailable evidence:\n%s", goal.Description, sb.String()),
		SchemaName:  "global_evidence_selection",
		Schema:      evidenceSelectionJSONSchema,
		CostLedger:  rc.Budget,
		CostPerCall: 0.01,
		Log:         rc.Log,
		GoalID:      goal.ID,
	}, &selection)
	if err != nil {
		return analyzeResult{}, fmt.Errorf("global evidence selection: %w", err)
	}

	truncated := false
	selected := selection.EvidenceIDs
	const maxSelected = 40
	if len(selected) > maxSelected {
		rc.Log.Log(goal.ID, execlog.EventEvidenceTruncated, map[string]any{"original_count": len(selected), "kept_count": maxSelected})
		selected = selected[:maxSelected]
		truncated = true
	}
	rc.Log.Log(goal.ID, execlog.EventGlobalEvidenceSelection, map[string]any{"evidence_ids": selected, "truncated": truncated})

	picked := rc.Index.GetMany(selected)
	if len(picked) == 0 {
		return analyzeResult{EvidenceIDs: nil}, nil
	}

	var evidenceText strings.Builder
	for _, ev := range picked {
		fmt.Fprintf(&evidenceText, "[evidence_id=%d] %s\nFacts: %s\n\n", ev.EvidenceID, ev.LLMSummary, strings.Join(ev.ExtractedFacts, "; "))
	}

	var synth synthesisResult
	_, err = rc.LLM.Chat(ctx, llmc.Request{
		SystemPrompt: "Synthesize an answer to the goal from the given evidence, citing evidence_id inline. " +
			"Report a 0-1 confidence. Lower confidence substantially whenever a source critical to this goal " +
			"failed or was rate-limited in this run; set critical_source_failure to true in that case.",
		UserPrompt:  fmt.Sprintf("Goal: %s\n\nEvidence:\n%s", goal.Description, evidenceText.String()),
		SchemaName:  "synthesis",
		Schema:      synthesisJSONSchema,
		CostLedger:  rc.Budget,
		CostPerCall: 0.02,
		Log:         rc.Log,
		GoalID:      goal.ID,
	}, &synth)
	if err != nil {
		return analyzeResult{}, fmt.Errorf("synthesis: %w", err)
	}
	rc.DebugDump(goal.ID, "analyze", goal.Description, synth.Answer)

	confidence := synth.Confidence
	if synth.CriticalSourceFailure && confidence > 0.6 {
		confidence = 0.6
	}
	confidence = reviewConfidence(ctx, rc, goal, synth.Answer, confidence)

	return analyzeResult{
		EvidenceIDs: selected,
		Answer:      synth.Answer,
		Confidence:  confidence,
		Fired:       true,
	}, nil
}

type confidenceReview struct {
	Level   string   `json:"level"` // "high" | "medium" | "low"
	Caveats []string `json:"caveats"`
}

var confidenceReviewJSONSchema = llmc.GenerateSchema[confidenceReview]()

// reviewConfidence asks the model to rate its own synthesis once more
// before the answer is finalized. The review can only lower the reported
// confidence, never raise it, and a failed review leaves the synthesis
// value untouched.
func reviewConfidence(ctx context.Context, rc *RunContext, goal model.ResearchGoal, answer string, confidence float64) float64 {
	rateLimited := rc.RateLimitedSources()

	var review confidenceReview
	_, err := rc.LLM.Chat(ctx, llmc.Request{
		SystemPrompt: "Rate the confidence of the research answer you are shown as high, medium, or low, with " +
			"caveats. Rate low whenever sources that were critical to the goal failed or were rate-limited.",
		UserPrompt: fmt.Sprintf("Goal: %s\n\nAnswer:\n%s\n\nSources rate-limited this run: %s",
			goal.Description, answer, strings.Join(rateLimited, ", ")),
		SchemaName:  "confidence_review",
		Schema:      confidenceReviewJSONSchema,
		CostLedger:  rc.Budget,
		CostPerCall: 0.005,
		Log:         rc.Log,
		GoalID:      goal.ID,
	}, &review)
	if err != nil {
		return confidence
	}

	switch strings.ToLower(review.Level) {
	case "low":
		return min(confidence, 0.4)
	case "medium":
		return min(confidence, 0.7)
	default:
		return confidence
	}
}
