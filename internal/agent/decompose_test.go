package agent

import "testing"

func TestTopologicalGroupsOrdersByDependencyRank(t *testing.T) {
	subgoals := []subgoalSpec{
		{Description: "a"},
		{Description: "b"},
		{Description: "c depends on a,b", Dependencies: []int{0, 1}},
	}
	groups, err := topologicalGroups(subgoals)
	if err != nil {
		t.Fatal(err)
	}
	if len(groups) != 2 {
		t.Fatalf("expected 2 groups, got %d: %v", len(groups), groups)
	}
	if len(groups[0]) != 2 {
		t.Fatalf("expected group 0 to contain both independent sub-goals, got %v", groups[0])
	}
	if len(groups[1]) != 1 || groups[1][0] != 2 {
		t.Fatalf("expected group 1 to contain sub-goal 2, got %v", groups[1])
	}
}

func TestTopologicalGroupsDetectsCycle(t *testing.T) {
	subgoals := []subgoalSpec{
		{Description: "a", Dependencies: []int{1}},
		{Description: "b", Dependencies: []int{0}},
	}
	if _, err := topologicalGroups(subgoals); err == nil {
		t.Fatal("expected cycle detection error")
	}
}

func TestValidSubgoalsRejectsOutOfRangeDependency(t *testing.T) {
	subgoals := []subgoalSpec{
		{Description: "a", Dependencies: []int{5}},
	}
	if validSubgoals(subgoals) {
		t.Fatal("expected out-of-range dependency to be invalid")
	}
}

func TestChildGoalID(t *testing.T) {
	if got := childGoalID("0", 2); got != "0.2" {
		t.Fatalf("childGoalID(0,2) = %q, want 0.2", got)
	}
	if got := childGoalID("0.2", 1); got != "0.2.1" {
		t.Fatalf("childGoalID(0.2,1) = %q, want 0.2.1", got)
	}
}
