// Package execlog writes a run's append-only, schema-versioned JSONL
// execution log: one typed event per line, serialized writes, synchronous
// durability at goal and run completion boundaries.
package execlog

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"
)

// SchemaVersion is written as the first line of every execution_log.jsonl.
const SchemaVersion = 1

// EventType enumerates the documented event-type set. Any event type
// observed in a run log must be one of these.
type EventType string

const (
	EventSchemaVersion           EventType = "schema_version"
	EventRunStarted              EventType = "run_started"
	EventRunCompleted            EventType = "run_completed"
	EventGoalStarted             EventType = "goal_started"
	EventGoalCompleted           EventType = "goal_completed"
	EventGoalFailed              EventType = "goal_failed"
	EventActionSelected          EventType = "action_selected"
	EventSourceSkipped           EventType = "source_skipped"
	EventQueryGenerated          EventType = "query_generated"
	EventSourceQuery             EventType = "source_query"
	EventSourceResponse          EventType = "source_response"
	EventRelevanceFiltering      EventType = "relevance_filtering"
	EventEvidenceAccepted        EventType = "evidence_accepted"
	EventEvidenceRejected        EventType = "evidence_rejected"
	EventEvidenceTruncated       EventType = "evidence_truncated"
	EventGlobalEvidenceSelection EventType = "global_evidence_selection"
	EventDecomposition           EventType = "decomposition"
	EventDependencyGroup         EventType = "dependency_group"
	EventReformulation           EventType = "reformulation"
	EventErrorClassified         EventType = "error_classified"
	EventBudgetBreach            EventType = "budget_breach"
	EventRateLimitHit            EventType = "rate_limit_hit"
	EventCostTick                EventType = "cost_tick"
	EventReportWritten           EventType = "report_written"
)

var validEvents = map[EventType]bool{
	EventSchemaVersion: true,
	EventRunStarted:    true, EventRunCompleted: true, EventGoalStarted: true,
	EventGoalCompleted: true, EventGoalFailed: true, EventActionSelected: true,
	EventSourceSkipped: true, EventQueryGenerated: true, EventSourceQuery: true,
	EventSourceResponse: true, EventRelevanceFiltering: true, EventEvidenceAccepted: true,
	EventEvidenceRejected: true, EventEvidenceTruncated: true, EventGlobalEvidenceSelection: true,
	EventDecomposition: true, EventDependencyGroup: true, EventReformulation: true,
	EventErrorClassified: true, EventBudgetBreach: true, EventRateLimitHit: true,
	EventCostTick: true, EventReportWritten: true,
}

// IsValidEventType reports whether t is one of the documented event types.
func IsValidEventType(t EventType) bool {
	return validEvents[t]
}

// Event is the envelope every log line shares.
type Event struct {
	SchemaVersion int       `json:"schema_version,omitempty"`
	TS            time.Time `json:"ts"`
	RunID         string    `json:"run_id"`
	GoalID        string    `json:"goal_id,omitempty"`
	EventType     EventType `json:"event_type"`
	Data          any       `json:"data,omitempty"`
}

// Logger writes events synchronously to durable storage at event
// boundaries; it serializes writes with a mutex so concurrent goals never
// interleave partial lines, and timestamps are monotonic within a goal
// because each Log call stamps `ts` at call time under the same lock.
type Logger struct {
	runID string
	file  *os.File
	mu    sync.Mutex
}

// Open creates (or truncates) execution_log.jsonl at path and writes the
// schema-version header event.
func Open(path string, runID string) (*Logger, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open execution log: %w", err)
	}
	l := &Logger{runID: runID, file: f}
	if err := l.writeLine(Event{SchemaVersion: SchemaVersion, TS: time.Now(), RunID: runID, EventType: EventSchemaVersion}); err != nil {
		f.Close()
		return nil, err
	}
	return l, nil
}

// Log appends one event. eventType must be one of the documented types;
// an unrecognized type is still written (never silently dropped) so the
// defect is visible in the log rather than hidden by it.
func (l *Logger) Log(goalID string, eventType EventType, data any) error {
	return l.writeLine(Event{TS: time.Now(), RunID: l.runID, GoalID: goalID, EventType: eventType, Data: data})
}

func (l *Logger) writeLine(e Event) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	enc := json.NewEncoder(l.file)
	if err := enc.Encode(e); err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	// goal_completed and run_completed tolerate zero loss: fsync now rather
	// than relying on buffered-writer flush timing.
	if e.EventType == EventGoalCompleted || e.EventType == EventRunCompleted {
		return l.file.Sync()
	}
	return nil
}

// Close flushes and closes the underlying file.
func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.file.Close()
}
