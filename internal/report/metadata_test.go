package report

import (
	"testing"
	"time"

	"github.com/basegraphhq/dossier/internal/model"
)

func TestBuildMetadataCollectsLimitations(t *testing.T) {
	root := model.GoalResult{
		Goal:   model.ResearchGoal{ID: "0"},
		Status: model.GoalCompleted,
		SubResults: []model.GoalResult{
			{
				Goal:   model.ResearchGoal{ID: "0.0"},
				Status: model.GoalFailed,
				Error:  &model.GoalError{Reason: model.ReasonBudget, Message: "hard cost cap reached"},
			},
		},
	}

	meta := BuildMetadata("run-1", model.Constraints{MaxCostUSD: 1}, time.Now(), time.Now(), root, 2, 0, 0.01, []string{"sam"})

	if len(meta.Limitations) != 2 {
		t.Fatalf("len(limitations) = %d, want 2", len(meta.Limitations))
	}
	foundBudget, foundRateLimit := false, false
	for _, l := range meta.Limitations {
		if l.Kind == string(model.ReasonBudget) {
			foundBudget = true
		}
		if l.Kind == "rate_limit" && l.Source == "sam" {
			foundRateLimit = true
		}
	}
	if !foundBudget || !foundRateLimit {
		t.Fatalf("missing expected limitations: %+v", meta.Limitations)
	}
	if meta.Status != model.GoalCompleted {
		t.Fatalf("status = %v, want completed", meta.Status)
	}
}
