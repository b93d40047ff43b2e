package execlog

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
)

func TestOpenWritesSchemaHeader(t *testing.T) {
	path := filepath.Join(t.TempDir(), "execution_log.jsonl")
	l, err := Open(path, "run-1")
	if err != nil {
		t.Fatal(err)
	}
	defer l.Close()

	lines := readLines(t, path)
	if len(lines) != 1 {
		t.Fatalf("expected 1 header line, got %d", len(lines))
	}
	var e Event
	if err := json.Unmarshal([]byte(lines[0]), &e); err != nil {
		t.Fatal(err)
	}
	if e.SchemaVersion != SchemaVersion {
		t.Errorf("schema_version = %d, want %d", e.SchemaVersion, SchemaVersion)
	}
}

func TestLogAppendsJSONL(t *testing.T) {
	path := filepath.Join(t.TempDir(), "execution_log.jsonl")
	l, err := Open(path, "run-1")
	if err != nil {
		t.Fatal(err)
	}
	defer l.Close()

	if err := l.Log("0", EventGoalStarted, map[string]string{"description": "root"}); err != nil {
		t.Fatal(err)
	}
	if err := l.Log("0", EventGoalCompleted, nil); err != nil {
		t.Fatal(err)
	}

	lines := readLines(t, path)
	if len(lines) != 3 {
		t.Fatalf("expected header + 2 events, got %d lines", len(lines))
	}

	var started Event
	if err := json.Unmarshal([]byte(lines[1]), &started); err != nil {
		t.Fatal(err)
	}
	if started.EventType != EventGoalStarted || started.GoalID != "0" {
		t.Errorf("unexpected event: %+v", started)
	}
}

func TestAllEnumeratedTypesAreValid(t *testing.T) {
	for _, et := range []EventType{
		EventSchemaVersion,
		EventRunStarted, EventRunCompleted, EventGoalStarted, EventGoalCompleted,
		EventGoalFailed, EventActionSelected, EventSourceSkipped, EventQueryGenerated,
		EventSourceQuery, EventSourceResponse, EventRelevanceFiltering, EventEvidenceAccepted,
		EventEvidenceRejected, EventEvidenceTruncated, EventGlobalEvidenceSelection,
		EventDecomposition, EventDependencyGroup, EventReformulation, EventErrorClassified,
		EventBudgetBreach, EventRateLimitHit, EventCostTick, EventReportWritten,
	} {
		if !IsValidEventType(et) {
			t.Errorf("%s should be a valid documented event type", et)
		}
	}
}

func readLines(t *testing.T, path string) []string {
	t.Helper()
	f, err := os.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	var lines []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	return lines
}
