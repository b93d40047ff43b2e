// Package model holds the data types shared by every stage of a research
// run: goals, constraints, evidence, and the results each stage produces.
package model

import (
	"encoding/json"
	"time"
)

// Action is the decision made by the assessor LLM for a given goal.
type Action string

const (
	ActionExecute   Action = "EXECUTE"
	ActionDecompose Action = "DECOMPOSE"
	ActionAnalyze   Action = "ANALYZE"
)

// GoalStatus is the terminal or in-flight state of a ResearchGoal.
type GoalStatus string

const (
	GoalPending   GoalStatus = "pending"
	GoalRunning   GoalStatus = "running"
	GoalCompleted GoalStatus = "completed"
	GoalFailed    GoalStatus = "failed"
	GoalSkipped   GoalStatus = "skipped"
	GoalCancelled GoalStatus = "cancelled"
)

// FailureReason classifies why a GoalResult ended up failed or cancelled.
type FailureReason string

const (
	ReasonBudget     FailureReason = "budget"
	ReasonLLMSchema  FailureReason = "llm_schema"
	ReasonCancelled  FailureReason = "cancelled"
	ReasonSource     FailureReason = "source"
	ReasonValidation FailureReason = "validation"
	ReasonPanic      FailureReason = "panic"
)

// ResearchGoal is immutable once created. ID is a stable, hierarchical
// dotted string ("0.2.1") built from the parent's ID and the child's index
// in its sibling list; it is structural, never a surrogate key.
type ResearchGoal struct {
	ID           string `json:"id"`
	Description  string `json:"description"`
	Depth        int    `json:"depth"`
	ParentID     string `json:"parent_id,omitempty"`
	Dependencies []int  `json:"dependencies,omitempty"` // indices into the parent's sibling list
}

// Constraints are the user-configurable budget and behavior caps. Every
// field here must be enforced somewhere in the agent core.
type Constraints struct {
	MaxDepth             int            `json:"max_depth" mapstructure:"max_depth"`
	MaxTime              time.Duration  `json:"max_time" mapstructure:"max_time"`
	MaxGoals             int            `json:"max_goals" mapstructure:"max_goals"`
	MaxCostUSD           float64        `json:"max_cost_usd" mapstructure:"max_cost_usd"`
	MaxConcurrent        int            `json:"max_concurrent" mapstructure:"max_concurrent"`
	PerSourceResultLimit map[string]int `json:"per_source_result_limit,omitempty" mapstructure:"per_source_result_limit"`
	DefaultResultLimit   int            `json:"default_result_limit" mapstructure:"default_result_limit"`
	MaxRetriesPerGoal    int            `json:"max_retries_per_goal" mapstructure:"max_retries_per_goal"`
	FilterThreshold      int            `json:"filter_threshold" mapstructure:"filter_threshold"`
	MinResultsToContinue int            `json:"min_results_to_continue" mapstructure:"min_results_to_continue"`
}

// ResultLimitFor returns the configured per-source cap, falling back to the
// default when the source has no specific override.
func (c Constraints) ResultLimitFor(sourceID string) int {
	if n, ok := c.PerSourceResultLimit[sourceID]; ok {
		return n
	}
	return c.DefaultResultLimit
}

// RawResult is a source's output preserved verbatim, before any filtering or
// extraction is applied to it.
type RawResult struct {
	SourceID       string          `json:"source_id"`
	FetchedAt      time.Time       `json:"fetched_at"`
	URL            string          `json:"url,omitempty"`
	Title          string          `json:"title,omitempty"`
	Snippet        string          `json:"snippet,omitempty"`
	Date           string          `json:"date,omitempty"`
	RawAPIResponse json.RawMessage `json:"raw_api_response"`
	RawContent     string          `json:"raw_content,omitempty"`
}

// Entity is a named thing extracted from a piece of evidence ("Acme Corp",
// "organization").
type Entity struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

// ProcessedEvidence is the goal-focused view of one raw result once it has
// passed the relevance filter and been extracted. Immutable once appended
// to a RunContext's run index.
type ProcessedEvidence struct {
	EvidenceID        int64     `json:"evidence_id"`
	GoalID            string    `json:"goal_id"`
	Raw               RawResult `json:"raw"`
	LLMSummary        string    `json:"llm_summary"`
	ExtractedFacts    []string  `json:"extracted_facts"`
	ExtractedEntities []Entity  `json:"extracted_entities"`
	ExtractedDates    []string  `json:"extracted_dates"`
	RelevanceScore    int       `json:"relevance_score"`
	FilterRationale   string    `json:"filter_rationale"`
}

// IndexEntry is the lightweight, cross-branch-visible summary of one
// ProcessedEvidence, kept in RunContext.Index so sibling and cousin
// goals can reuse it via ANALYZE without re-querying the source.
type IndexEntry struct {
	EvidenceID          int64    `json:"evidence_id"`
	GoalID              string   `json:"goal_id"`
	SummaryForSelection string   `json:"summary_for_selection"`
	URLHash             string   `json:"url_hash"`
	Keywords            []string `json:"keywords"`
}

// GoalResult is what pursueGoal returns for a single ResearchGoal, including
// the recursively collected results of its sub-goals.
type GoalResult struct {
	Goal        ResearchGoal `json:"goal"`
	Status      GoalStatus   `json:"status"`
	EvidenceIDs []int64      `json:"evidence_ids"`
	SubResults  []GoalResult `json:"sub_results,omitempty"`
	Confidence  float64      `json:"confidence"`
	Reasoning   string       `json:"reasoning"`
	CostUSD     float64      `json:"cost_usd"`
	DurationMS  int64        `json:"duration_ms"`
	Error       *GoalError   `json:"error,omitempty"`
}

// GoalError records why a goal ended in failed/cancelled status.
type GoalError struct {
	Reason  FailureReason `json:"reason"`
	Message string        `json:"message"`
}

func (e *GoalError) Error() string {
	if e == nil {
		return ""
	}
	return string(e.Reason) + ": " + e.Message
}

// ErrorCategory is the classifier's verdict on a source failure.
type ErrorCategory string

const (
	CategoryAuth       ErrorCategory = "auth"
	CategoryRateLimit  ErrorCategory = "rate_limit"
	CategoryValidation ErrorCategory = "validation"
	CategoryNotFound   ErrorCategory = "not_found"
	CategoryTimeout    ErrorCategory = "timeout"
	CategoryServer     ErrorCategory = "server"
	CategoryNetwork    ErrorCategory = "network"
	CategoryOther      ErrorCategory = "other"
)

// APIError is the classifier's structured verdict about one source failure.
type APIError struct {
	Category       ErrorCategory `json:"category"`
	HTTPCode       int           `json:"http_code,omitempty"`
	Message        string        `json:"message"`
	IsReformulable bool          `json:"is_reformulable"`
	IsRetryable    bool          `json:"is_retryable"`
	RetryAfter     time.Duration `json:"retry_after,omitempty"`
}

func (e *APIError) Error() string {
	return string(e.Category) + ": " + e.Message
}
