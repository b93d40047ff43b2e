package budget

import (
	"context"
	"testing"
	"time"

	"github.com/basegraphhq/dossier/internal/model"
)

func TestAcquireBoundsConcurrency(t *testing.T) {
	c := New(model.Constraints{MaxConcurrent: 2})
	ctx := context.Background()

	p1, err := c.Acquire(ctx)
	if err != nil {
		t.Fatal(err)
	}
	p2, err := c.Acquire(ctx)
	if err != nil {
		t.Fatal(err)
	}

	acquired := make(chan struct{})
	go func() {
		p3, err := c.Acquire(ctx)
		if err == nil {
			p3.Release()
		}
		close(acquired)
	}()

	select {
	case <-acquired:
		t.Fatal("third acquire should have blocked while two permits are held")
	case <-time.After(50 * time.Millisecond):
	}

	p1.Release()
	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatal("third acquire should unblock after a release")
	}
	p2.Release()
}

func TestPermitReleaseIdempotent(t *testing.T) {
	c := New(model.Constraints{MaxConcurrent: 1})
	p, err := c.Acquire(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	p.Release()
	p.Release() // must not panic or double-count
}

func TestShouldStopCost(t *testing.T) {
	c := New(model.Constraints{MaxCostUSD: 1.0})
	if stop, _ := c.ShouldStop(); stop {
		t.Fatal("should not stop before any spend")
	}
	c.AddCost(0.5)
	if stop, _ := c.ShouldStop(); stop {
		t.Fatal("should not stop under budget")
	}
	c.AddCost(0.6) // first call that breaches is still permitted to record
	stop, reason := c.ShouldStop()
	if !stop || reason != StopCost {
		t.Fatalf("expected cost stop after breach, got stop=%v reason=%s", stop, reason)
	}
}

func TestShouldStopGoals(t *testing.T) {
	c := New(model.Constraints{MaxGoals: 1, MaxConcurrent: 5})
	c.RecordGoalStart()
	if stop, _ := c.ShouldStop(); stop {
		t.Fatal("should not stop after exactly max_goals starts")
	}
	c.RecordGoalStart()
	stop, reason := c.ShouldStop()
	if !stop || reason != StopGoals {
		t.Fatalf("expected goals stop, got stop=%v reason=%s", stop, reason)
	}
}

func TestReacquireDoesNotDoubleCountGoals(t *testing.T) {
	c := New(model.Constraints{MaxGoals: 1, MaxConcurrent: 1})
	c.RecordGoalStart()
	p, err := c.Acquire(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	p.Release()
	p, err = c.Acquire(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	defer p.Release()
	if stop, reason := c.ShouldStop(); stop {
		t.Fatalf("release/reacquire must not count a new goal, got stop with reason %s", reason)
	}
}

func TestCancel(t *testing.T) {
	c := New(model.Constraints{})
	c.Cancel("user requested")
	stop, reason := c.ShouldStop()
	if !stop || reason != StopCancelled {
		t.Fatalf("expected cancelled stop, got stop=%v reason=%s", stop, reason)
	}
}
