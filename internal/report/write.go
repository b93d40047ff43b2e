package report

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/basegraphhq/dossier/internal/model"
)

// WriteRunDir persists the run's artifacts under dir, which must already
// exist (the caller creates it before opening execution_log.jsonl, so the
// directory is live for the whole run rather than appearing only at the
// end). evidence.json is never truncated, regardless of what report.md's
// citation list or any LLM-facing digest chose to include.
func WriteRunDir(dir string, meta Metadata, bundle Bundle, evidence []model.ProcessedEvidence, reportMD string) error {
	if err := writeJSON(filepath.Join(dir, "metadata.json"), meta); err != nil {
		return err
	}
	if err := writeJSON(filepath.Join(dir, "evidence.json"), evidence); err != nil {
		return err
	}
	if err := writeJSON(filepath.Join(dir, "result.json"), bundle); err != nil {
		return err
	}
	if err := os.WriteFile(filepath.Join(dir, "report.md"), []byte(reportMD), 0o644); err != nil {
		return fmt.Errorf("write report.md: %w", err)
	}
	if err := writeRawResponses(dir, evidence); err != nil {
		return err
	}
	return nil
}

// writeRawResponses persists every ProcessedEvidence's opaque raw API
// payload under raw_responses/<source_id>/<evidence_id>.json, so every
// accepted evidence item has its verbatim source payload on disk.
func writeRawResponses(dir string, evidence []model.ProcessedEvidence) error {
	for _, ev := range evidence {
		sourceDir := filepath.Join(dir, "raw_responses", ev.Raw.SourceID)
		if err := os.MkdirAll(sourceDir, 0o755); err != nil {
			return fmt.Errorf("create raw_responses dir: %w", err)
		}
		path := filepath.Join(sourceDir, fmt.Sprintf("%d.json", ev.EvidenceID))
		payload := ev.Raw.RawAPIResponse
		if len(payload) == 0 {
			payload = []byte("{}")
		}
		if err := os.WriteFile(path, payload, 0o644); err != nil {
			return fmt.Errorf("write raw response %s: %w", path, err)
		}
	}
	return nil
}

func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal %s: %w", filepath.Base(path), err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", filepath.Base(path), err)
	}
	return nil
}
