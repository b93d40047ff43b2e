// Package report assembles a finished run's result.json/evidence.json/
// report.md artifacts from a completed GoalResult tree and the run's
// evidence index.
package report

import (
	"github.com/basegraphhq/dossier/internal/model"
)

// Bundle is the result.json shape.
type Bundle struct {
	RootGoalResult  model.GoalResult   `json:"root_goal_result"`
	ByGoal          map[string][]int64 `json:"by_goal"`
	FlatEvidenceIDs []int64            `json:"flat_evidence_ids"`
}

// BuildBundle walks root's GoalResult tree and produces the result.json
// shape: a per-goal evidence map and the deduplicated, first-seen-order
// union of every evidence_id referenced anywhere in the tree.
func BuildBundle(root model.GoalResult) Bundle {
	byGoal := make(map[string][]int64)
	seen := make(map[int64]bool)
	var flat []int64

	var walk func(gr model.GoalResult)
	walk = func(gr model.GoalResult) {
		byGoal[gr.Goal.ID] = gr.EvidenceIDs
		for _, id := range gr.EvidenceIDs {
			if !seen[id] {
				seen[id] = true
				flat = append(flat, id)
			}
		}
		for _, sub := range gr.SubResults {
			walk(sub)
		}
	}
	walk(root)

	return Bundle{RootGoalResult: root, ByGoal: byGoal, FlatEvidenceIDs: flat}
}
