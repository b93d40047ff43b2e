package agent

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"
)

// DebugDump writes one LLM stage's prompt/response transcript under the
// configured debug directory, as <debug_dir>/<date>/<run_id>/<goal>_<stage>.txt.
// It is an operator aid gated on RunContext.DebugDir and never a substitute
// for the execution log; failures are logged and swallowed so a full disk
// can't fail a goal.
func (rc *RunContext) DebugDump(goalID, stage, prompt, response string) {
	if rc.DebugDir == "" {
		return
	}

	dir := filepath.Join(rc.DebugDir, time.Now().Format("2006-01-02"), rc.RunID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		slog.Warn("debug dump dir", "error", err)
		return
	}
	path := filepath.Join(dir, fmt.Sprintf("%s_%s.txt", goalID, stage))
	content := fmt.Sprintf("=== PROMPT ===\n%s\n\n=== RESPONSE ===\n%s\n", prompt, response)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		slog.Warn("debug dump write", "path", path, "error", err)
	}
}
