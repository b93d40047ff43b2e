package report

import (
	"time"

	"github.com/basegraphhq/dossier/internal/model"
)

// Totals summarizes a run for metadata.json.
type Totals struct {
	Goals    int     `json:"goals"`
	Evidence int     `json:"evidence"`
	CostUSD  float64 `json:"cost_usd"`
}

// Metadata is the metadata.json shape.
type Metadata struct {
	RunID       string            `json:"run_id"`
	Constraints model.Constraints `json:"constraints"`
	StartedAt   time.Time         `json:"started_at"`
	EndedAt     time.Time         `json:"ended_at"`
	Status      model.GoalStatus  `json:"status"`
	Totals      Totals            `json:"totals"`
	Limitations []Limitation      `json:"limitations,omitempty"`
}

// Limitation records one failure mode surfaced both in metadata.json and
// in the report's "Research Limitations" section: its kind, the
// sources/goals affected, and whether the overall result is partial
// because of it.
type Limitation struct {
	Kind    string `json:"kind"` // "source_error" | "rate_limit" | "budget" | "cancelled" | "llm_schema"
	GoalID  string `json:"goal_id,omitempty"`
	Source  string `json:"source,omitempty"`
	Detail  string `json:"detail"`
	Partial bool   `json:"partial"`
}

// BuildMetadata assembles metadata.json from the run's identifying
// information, the final root GoalResult, and whatever sources are still
// rate-limited cooled-down at run end.
func BuildMetadata(runID string, constraints model.Constraints, startedAt, endedAt time.Time, root model.GoalResult, goalCount int, evidenceCount int, costUSD float64, rateLimitedSources []string) Metadata {
	limitations := collectLimitations(root)
	for _, src := range rateLimitedSources {
		limitations = append(limitations, Limitation{
			Kind:    "rate_limit",
			Source:  src,
			Detail:  "source was rate-limited and skipped for the remainder of the run",
			Partial: true,
		})
	}

	return Metadata{
		RunID:       runID,
		Constraints: constraints,
		StartedAt:   startedAt,
		EndedAt:     endedAt,
		Status:      root.Status,
		Totals:      Totals{Goals: goalCount, Evidence: evidenceCount, CostUSD: costUSD},
		Limitations: limitations,
	}
}

// collectLimitations walks the GoalResult tree recording every failed or
// cancelled goal as a limitation; a failure anywhere in the tree makes the
// overall result partial even when the root itself completed.
func collectLimitations(gr model.GoalResult) []Limitation {
	var out []Limitation
	if gr.Status == model.GoalFailed || gr.Status == model.GoalCancelled {
		kind := "source_error"
		detail := gr.Reasoning
		if gr.Error != nil {
			kind = string(gr.Error.Reason)
			detail = gr.Error.Message
		}
		out = append(out, Limitation{
			Kind:    kind,
			GoalID:  gr.Goal.ID,
			Detail:  detail,
			Partial: true,
		})
	}
	for _, sub := range gr.SubResults {
		out = append(out, collectLimitations(sub)...)
	}
	return out
}

// CountGoals returns the number of goals (root plus every descendant) in
// the tree, for metadata.json's totals.goals.
func CountGoals(gr model.GoalResult) int {
	n := 1
	for _, sub := range gr.SubResults {
		n += CountGoals(sub)
	}
	return n
}
