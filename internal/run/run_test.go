package run

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	llmc "github.com/basegraphhq/dossier/common/llm"
	"github.com/basegraphhq/dossier/internal/model"
	"github.com/basegraphhq/dossier/internal/source"
)

// fakeLLM returns a canned JSON response keyed by the request's schema
// name, so a test can script an entire multi-call run deterministically
// without a real model.
type fakeLLM struct {
	responses map[string]string
}

func (f *fakeLLM) Chat(ctx context.Context, req llmc.Request, result any) (*llmc.Response, error) {
	raw, ok := f.responses[req.SchemaName]
	if !ok {
		return nil, fmt.Errorf("fakeLLM: no canned response for schema %q", req.SchemaName)
	}
	if err := json.Unmarshal([]byte(raw), result); err != nil {
		return nil, fmt.Errorf("fakeLLM: unmarshal canned response: %w", err)
	}
	if req.CostLedger != nil {
		req.CostLedger.AddCost(req.CostPerCall)
	}
	return &llmc.Response{CostUSD: req.CostPerCall}, nil
}

func (f *fakeLLM) Model() string { return "fake-model" }

func TestRunProducesCompletedRunDirectory(t *testing.T) {
	llm := &fakeLLM{responses: map[string]string{
		"assess_action":     `{"action":"EXECUTE","rationale":"no decomposition needed","suggested_sources":[],"param_hints":""}`,
		"check_achievement": `{"achieved":true,"confidence":0.8,"reasoning":"sufficient","gaps":[]}`,
		"report_draft":      `{"title":"Test Report","summary":"A short summary.","sections":[{"heading":"Findings","body":"nothing to report"}]}`,
	}}

	registry := source.NewRegistry(nil) // no sources registered

	outDir := t.TempDir()
	constraints := model.Constraints{
		MaxDepth:             0,
		MaxGoals:             10,
		MaxCostUSD:           5,
		MaxConcurrent:        2,
		DefaultResultLimit:   5,
		MaxRetriesPerGoal:    1,
		FilterThreshold:      6,
		MinResultsToContinue: 1,
	}

	result, err := Run(context.Background(), "Who runs agency X?", constraints, Options{
		LLM:      llm,
		Registry: registry,
		OutDir:   outDir,
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if result.Metadata.Status != model.GoalCompleted {
		t.Fatalf("status = %v, want completed", result.Metadata.Status)
	}

	for _, f := range []string{"metadata.json", "evidence.json", "result.json", "report.md", "execution_log.jsonl"} {
		if _, err := os.Stat(filepath.Join(result.RunDir, f)); err != nil {
			t.Errorf("expected %s to exist in run dir: %v", f, err)
		}
	}
}

func TestRunBudgetExhaustionCancelsRun(t *testing.T) {
	llm := &fakeLLM{responses: map[string]string{
		"assess_action": `{"action":"EXECUTE","rationale":"go","suggested_sources":[],"param_hints":""}`,
	}}

	constraints := model.Constraints{
		MaxDepth:      1,
		MaxGoals:      10,
		MaxCostUSD:    0, // the first LLM call may record cost, then the run stops
		MaxConcurrent: 1,
	}

	result, err := Run(context.Background(), "q", constraints, Options{
		LLM:      llm,
		Registry: source.NewRegistry(nil),
		OutDir:   t.TempDir(),
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if result.Metadata.Status != model.GoalCancelled {
		t.Fatalf("status = %v, want cancelled after budget exhaustion", result.Metadata.Status)
	}
	foundBudget := false
	for _, l := range result.Metadata.Limitations {
		if l.Kind == string(model.ReasonBudget) {
			foundBudget = true
		}
	}
	if !foundBudget {
		t.Fatalf("expected a budget limitation, got %+v", result.Metadata.Limitations)
	}
}

func TestRunRejectsMissingCollaborators(t *testing.T) {
	if _, err := Run(context.Background(), "q", model.Constraints{}, Options{}); err == nil {
		t.Fatal("expected error when LLM and Registry are both nil")
	}
}
