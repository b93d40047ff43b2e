// Package agent implements the recursive goal-pursuit core: pursueGoal
// and the assess/decompose/execute/analyze/checkAchievement/follow-up
// steps that drive one research run.
package agent

import (
	"sync"
	"time"

	llmc "github.com/basegraphhq/dossier/common/llm"
	"github.com/basegraphhq/dossier/internal/budget"
	"github.com/basegraphhq/dossier/internal/evidence"
	"github.com/basegraphhq/dossier/internal/execlog"
	"github.com/basegraphhq/dossier/internal/model"
	"github.com/basegraphhq/dossier/internal/source"
)

// SourceStats are the per-source performance counters the EXECUTE source
// selector consults, keyed by source ID.
type SourceStats struct {
	Success     int
	ZeroResults int
	LowQuality  int
	Errors      map[model.ErrorCategory]int
}

// RunContext is the session-wide shared state threaded through every
// recursive pursueGoal invocation by reference. All mutating access goes
// through its methods, which take runMu only for the update itself —
// reads that need a consistent snapshot (the source selector, the
// decomposition follow-up step) call the corresponding Snapshot method.
type RunContext struct {
	RunID       string
	StartedAt   time.Time
	Constraints model.Constraints

	LLM      llmc.Client
	Registry *source.Registry
	Log      *execlog.Logger
	Budget   *budget.Controller
	Index    *evidence.Index
	Filter   *evidence.Filterer
	Extract  *evidence.Extractor

	runMu         sync.Mutex
	rateLimited   map[string]time.Time // source_id -> cooldown expiry
	sourceStats   map[string]*SourceStats
	allGoals      map[string]model.ResearchGoal // every goal created this run, by id, for follow-up dedup
	recentQueries []queryFingerprint            // doom-loop detection window

	DebugDir string // optional; when set, per-goal debug artifacts are written here
}

type queryFingerprint struct {
	GoalID           string
	SourceID         string
	NormalizedParams string
}

// NewRunContext constructs an empty, ready-to-use RunContext.
func NewRunContext(runID string, constraints model.Constraints, llm llmc.Client, registry *source.Registry, log *execlog.Logger, budgetCtl *budget.Controller, idx *evidence.Index, filter *evidence.Filterer, extract *evidence.Extractor) *RunContext {
	return &RunContext{
		RunID:       runID,
		StartedAt:   time.Now(),
		Constraints: constraints,
		LLM:         llm,
		Registry:    registry,
		Log:         log,
		Budget:      budgetCtl,
		Index:       idx,
		Filter:      filter,
		Extract:     extract,
		rateLimited: make(map[string]time.Time),
		sourceStats: make(map[string]*SourceStats),
		allGoals:    make(map[string]model.ResearchGoal),
	}
}

// RegisterGoal records a newly created goal so future follow-up steps can
// see the full set of goals in the run and avoid duplicating one.
func (rc *RunContext) RegisterGoal(g model.ResearchGoal) {
	rc.runMu.Lock()
	defer rc.runMu.Unlock()
	rc.allGoals[g.ID] = g
}

// AllGoals returns a snapshot of every goal created so far in the run.
func (rc *RunContext) AllGoals() []model.ResearchGoal {
	rc.runMu.Lock()
	defer rc.runMu.Unlock()
	out := make([]model.ResearchGoal, 0, len(rc.allGoals))
	for _, g := range rc.allGoals {
		out = append(out, g)
	}
	return out
}

// MarkRateLimited places a source under cooldown until expiry.
func (rc *RunContext) MarkRateLimited(sourceID string, expiry time.Time) {
	rc.runMu.Lock()
	defer rc.runMu.Unlock()
	rc.rateLimited[sourceID] = expiry
}

// IsRateLimited reports whether sourceID is currently under cooldown.
func (rc *RunContext) IsRateLimited(sourceID string) bool {
	rc.runMu.Lock()
	defer rc.runMu.Unlock()
	expiry, ok := rc.rateLimited[sourceID]
	if !ok {
		return false
	}
	if time.Now().After(expiry) {
		delete(rc.rateLimited, sourceID)
		return false
	}
	return true
}

// RateLimitedSources returns the IDs of every source currently under
// cooldown, for the report writer's "Research Limitations" section.
func (rc *RunContext) RateLimitedSources() []string {
	rc.runMu.Lock()
	defer rc.runMu.Unlock()
	now := time.Now()
	out := make([]string, 0, len(rc.rateLimited))
	for id, expiry := range rc.rateLimited {
		if now.Before(expiry) {
			out = append(out, id)
		}
	}
	return out
}

// RecordSourceOutcome updates the per-source performance counters the
// EXECUTE source selector reads on subsequent goals in this run.
func (rc *RunContext) RecordSourceOutcome(sourceID string, resultCount int, lowQuality bool, errCategory model.ErrorCategory) {
	rc.runMu.Lock()
	defer rc.runMu.Unlock()
	st, ok := rc.sourceStats[sourceID]
	if !ok {
		st = &SourceStats{Errors: make(map[model.ErrorCategory]int)}
		rc.sourceStats[sourceID] = st
	}
	switch {
	case errCategory != "":
		st.Errors[errCategory]++
	case resultCount == 0:
		st.ZeroResults++
	case lowQuality:
		st.LowQuality++
	default:
		st.Success++
	}
}

// SourceStatsSnapshot returns a copy of the accumulated per-source stats.
func (rc *RunContext) SourceStatsSnapshot() map[string]SourceStats {
	rc.runMu.Lock()
	defer rc.runMu.Unlock()
	out := make(map[string]SourceStats, len(rc.sourceStats))
	for id, st := range rc.sourceStats {
		errs := make(map[model.ErrorCategory]int, len(st.Errors))
		for k, v := range st.Errors {
			errs[k] = v
		}
		out[id] = SourceStats{Success: st.Success, ZeroResults: st.ZeroResults, LowQuality: st.LowQuality, Errors: errs}
	}
	return out
}

// maxDoomLoopRepeats is how many times the same (goal, source, params)
// triple may be attempted before the agent refuses further tries for
// that combination and logs a doom_loop skip.
const maxDoomLoopRepeats = 3

// CheckDoomLoop records an attempted query fingerprint and reports
// whether this exact (goal, source, normalized params) triple has now
// been attempted maxDoomLoopRepeats times or more in this run.
func (rc *RunContext) CheckDoomLoop(goalID, sourceID, normalizedParams string) bool {
	rc.runMu.Lock()
	defer rc.runMu.Unlock()
	rc.recentQueries = append(rc.recentQueries, queryFingerprint{GoalID: goalID, SourceID: sourceID, NormalizedParams: normalizedParams})
	count := 0
	for _, q := range rc.recentQueries {
		if q.GoalID == goalID && q.SourceID == sourceID && q.NormalizedParams == normalizedParams {
			count++
		}
	}
	return count >= maxDoomLoopRepeats
}
