package agent

import (
	"fmt"

	"github.com/basegraphhq/dossier/internal/model"
)

// childGoalID builds a child's hierarchical dotted ID from its parent's
// ID and its index among siblings ("0" + ".2" -> "0.2").
func childGoalID(parentID string, index int) string {
	if parentID == "" {
		return fmt.Sprintf("%d", index)
	}
	return fmt.Sprintf("%s.%d", parentID, index)
}

// RootGoal builds the run's single root ResearchGoal from the user's
// question.
func RootGoal(question string) model.ResearchGoal {
	return model.ResearchGoal{ID: "0", Description: question, Depth: 0}
}

// newChildGoal builds a child goal under parent at the given sibling
// index, with the given dependency indices (into the same sibling list).
func newChildGoal(parent model.ResearchGoal, index int, description string, dependencies []int) model.ResearchGoal {
	return model.ResearchGoal{
		ID:           childGoalID(parent.ID, index),
		Description:  description,
		Depth:        parent.Depth + 1,
		ParentID:     parent.ID,
		Dependencies: dependencies,
	}
}
