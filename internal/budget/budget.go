// Package budget enforces a run's time, cost, goal-count, and concurrency
// caps. One Controller is shared by every goal in a run; permits bound how
// many goals hold the right to do LLM or source work at once, and
// ShouldStop is the single check every call site consults before starting
// new work.
package budget

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/basegraphhq/dossier/internal/model"
)

// StopReason names why shouldStop returned true.
type StopReason string

const (
	StopTime      StopReason = "time"
	StopCost      StopReason = "cost"
	StopGoals     StopReason = "goals"
	StopCancelled StopReason = "cancelled"
)

// ErrBudgetExceeded is the sentinel LLMClient.call and source callers must
// propagate once a hard budget breach is observed.
var ErrBudgetExceeded = errors.New("budget exceeded")

// Permit must be released on every exit path: normal return, error, or
// cancellation.
type Permit struct {
	release func()
	once    sync.Once
}

// Release returns the permit to the controller's semaphore. Safe to call
// more than once; only the first call has effect.
func (p *Permit) Release() {
	p.once.Do(func() {
		if p.release != nil {
			p.release()
		}
	})
}

// Controller tracks spend and enforces every cap named in
// model.Constraints. A zero Controller is not usable; construct with New.
type Controller struct {
	constraints model.Constraints
	startedAt   time.Time

	sem chan struct{}

	mu           sync.Mutex
	spentCostUSD float64
	startedGoals int
	inFlight     int
	cancelled    bool
	cancelReason string
}

// New creates a Controller bounded by the given constraints. MaxConcurrent
// <= 0 is treated as 1 to guarantee forward progress.
func New(constraints model.Constraints) *Controller {
	concurrency := constraints.MaxConcurrent
	if concurrency <= 0 {
		concurrency = 1
	}
	return &Controller{
		constraints: constraints,
		startedAt:   time.Now(),
		sem:         make(chan struct{}, concurrency),
	}
}

// Acquire blocks on the concurrency semaphore, bounded by max_concurrent,
// then returns a Permit. The caller must Release it on every exit path.
func (c *Controller) Acquire(ctx context.Context) (*Permit, error) {
	select {
	case c.sem <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	c.mu.Lock()
	c.inFlight++
	c.mu.Unlock()

	return &Permit{release: func() {
		c.mu.Lock()
		c.inFlight--
		c.mu.Unlock()
		<-c.sem
	}}, nil
}

// RecordGoalStart counts a goal against max_goals. Called exactly once per
// goal, separately from Acquire, because a goal that releases and
// reacquires its permit around child execution must not be counted twice.
func (c *Controller) RecordGoalStart() {
	c.mu.Lock()
	c.startedGoals++
	c.mu.Unlock()
}

// ShouldStop is checked before every new LLM call, every new source call,
// and before admitting a new sub-goal.
func (c *Controller) ShouldStop() (bool, StopReason) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.cancelled {
		return true, StopCancelled
	}
	if c.constraints.MaxTime > 0 && time.Since(c.startedAt) > c.constraints.MaxTime {
		return true, StopTime
	}
	if c.constraints.MaxCostUSD <= 0 {
		if c.spentCostUSD > 0 {
			return true, StopCost
		}
	} else if c.spentCostUSD > c.constraints.MaxCostUSD {
		return true, StopCost
	}
	if c.constraints.MaxGoals > 0 && c.startedGoals > c.constraints.MaxGoals {
		return true, StopGoals
	}
	return false, ""
}

// AddCost records spend against the budget. The call that pushes spend
// over max_cost_usd is still permitted to record (so cost observation is
// possible); the breach is only surfaced on the next ShouldStop check.
func (c *Controller) AddCost(usd float64) {
	c.mu.Lock()
	c.spentCostUSD += usd
	c.mu.Unlock()
}

// Cancel trips the cancellation token; in-flight work completes or aborts
// at its next ShouldStop check.
func (c *Controller) Cancel(reason string) {
	c.mu.Lock()
	c.cancelled = true
	c.cancelReason = reason
	c.mu.Unlock()
}

// Snapshot is a read-only view of current spend, used for metadata.json
// totals and for log enrichment.
type Snapshot struct {
	SpentCostUSD float64
	StartedGoals int
	InFlight     int
	Elapsed      time.Duration
	Cancelled    bool
	CancelReason string
}

func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Snapshot{
		SpentCostUSD: c.spentCostUSD,
		StartedGoals: c.startedGoals,
		InFlight:     c.inFlight,
		Elapsed:      time.Since(c.startedAt),
		Cancelled:    c.cancelled,
		CancelReason: c.cancelReason,
	}
}
