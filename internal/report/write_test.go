package report

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/basegraphhq/dossier/internal/model"
)

func TestWriteRunDirProducesExpectedArtifacts(t *testing.T) {
	dir := t.TempDir()

	evidence := []model.ProcessedEvidence{
		{
			EvidenceID: 1,
			GoalID:     "0",
			Raw: model.RawResult{
				SourceID:       "websearch",
				URL:            "https://example.com/a",
				RawAPIResponse: json.RawMessage(`{"ok":true}`),
			},
			LLMSummary: "summary",
		},
	}
	root := model.GoalResult{Goal: model.ResearchGoal{ID: "0"}, Status: model.GoalCompleted, EvidenceIDs: []int64{1}}
	bundle := BuildBundle(root)
	meta := BuildMetadata("run-1", model.Constraints{}, time.Now(), time.Now(), root, 1, 1, 0, nil)

	if err := WriteRunDir(dir, meta, bundle, evidence, "# Report\n"); err != nil {
		t.Fatalf("WriteRunDir: %v", err)
	}

	for _, f := range []string{"metadata.json", "evidence.json", "result.json", "report.md"} {
		if _, err := os.Stat(filepath.Join(dir, f)); err != nil {
			t.Errorf("expected %s to exist: %v", f, err)
		}
	}

	rawPath := filepath.Join(dir, "raw_responses", "websearch", "1.json")
	data, err := os.ReadFile(rawPath)
	if err != nil {
		t.Fatalf("raw response missing: %v", err)
	}
	if string(data) != `{"ok":true}` {
		t.Errorf("raw response content = %s", data)
	}
}
