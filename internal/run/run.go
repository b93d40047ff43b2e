// Package run is the composition root for a single research run: it wires
// an LLM client, a source registry, and a set of constraints together,
// drives the recursive agent core from the root goal, and persists the
// run directory artifacts.
package run

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/google/uuid"

	dossiercommon "github.com/basegraphhq/dossier/common"
	llmc "github.com/basegraphhq/dossier/common/llm"
	"github.com/basegraphhq/dossier/internal/agent"
	"github.com/basegraphhq/dossier/internal/budget"
	"github.com/basegraphhq/dossier/internal/evidence"
	"github.com/basegraphhq/dossier/internal/execlog"
	"github.com/basegraphhq/dossier/internal/model"
	"github.com/basegraphhq/dossier/internal/report"
	"github.com/basegraphhq/dossier/internal/source"
)

// Options configures one research run's collaborators. LLM and Registry
// are required; the rest have sane defaults.
type Options struct {
	LLM      llmc.Client
	Registry *source.Registry
	OutDir   string // defaults to "./runs"
	DebugDir string // optional; forwarded to RunContext.DebugDir

	FilterCostPerCall  float64 // default 0.01
	ExtractCostPerCall float64 // default 0.015
	FilterCacheSize    int     // default 512
}

// Result is what Run returns to its caller: the run directory
// path plus the same data persisted there, so a programmatic caller never
// has to re-read the files it just wrote.
type Result struct {
	RunDir         string
	Metadata       report.Metadata
	Bundle         report.Bundle
	Evidence       []model.ProcessedEvidence
	ReportMarkdown string
}

// Run executes one full research run for question under constraints and
// returns its Result. The run directory is created and the execution
// log opened before any goal work starts, so execution_log.jsonl captures
// every event from run_started onward even if the run ends in a panic
// recovered at the root goal.
func Run(ctx context.Context, question string, constraints model.Constraints, opts Options) (Result, error) {
	if opts.LLM == nil {
		return Result{}, fmt.Errorf("run: LLM client is required")
	}
	if opts.Registry == nil {
		return Result{}, fmt.Errorf("run: source registry is required")
	}

	runID := uuid.NewString()
	startedAt := time.Now()

	outDir := opts.OutDir
	if outDir == "" {
		outDir = "./runs"
	}
	slug, err := dossiercommon.Slugify(question, runID)
	if err != nil {
		slug = runID
	}
	dirName := fmt.Sprintf("%s_%s", startedAt.Format("2006-01-02_15-04-05"), slug)
	runDir := filepath.Join(outDir, dirName)
	if err := os.MkdirAll(runDir, 0o755); err != nil {
		return Result{}, fmt.Errorf("run: create run directory: %w", err)
	}

	logger, err := execlog.Open(filepath.Join(runDir, "execution_log.jsonl"), runID)
	if err != nil {
		return Result{}, fmt.Errorf("run: open execution log: %w", err)
	}
	defer logger.Close()

	logger.Log("", execlog.EventRunStarted, map[string]any{"question": question, "constraints": constraints})

	budgetCtl := budget.New(constraints)
	idx := evidence.NewIndex()

	filterCost := opts.FilterCostPerCall
	if filterCost == 0 {
		filterCost = 0.01
	}
	extractCost := opts.ExtractCostPerCall
	if extractCost == 0 {
		extractCost = 0.015
	}
	filterer, err := evidence.NewFilterer(opts.LLM, opts.FilterCacheSize, filterCost)
	if err != nil {
		return Result{}, fmt.Errorf("run: build filterer: %w", err)
	}
	extractor := evidence.NewExtractor(opts.LLM, extractCost)

	rc := agent.NewRunContext(runID, constraints, opts.LLM, opts.Registry, logger, budgetCtl, idx, filterer, extractor)
	rc.DebugDir = opts.DebugDir

	root := agent.RootGoal(question)
	rootResult := agent.PursueGoal(ctx, rc, root)

	// A budget breach fails inner goals so their parents can continue with
	// partial evidence, but when it reaches the root the run as a whole is
	// cancelled, not failed: the question wasn't unanswerable, the run ran
	// out of time or money.
	if rootResult.Status == model.GoalFailed && rootResult.Error != nil && rootResult.Error.Reason == model.ReasonBudget {
		rootResult.Status = model.GoalCancelled
	}

	bundle := report.BuildBundle(rootResult)
	evidenceList := idx.All()
	sort.Slice(evidenceList, func(i, j int) bool { return evidenceList[i].EvidenceID < evidenceList[j].EvidenceID })

	endedAt := time.Now()
	snapshot := budgetCtl.Snapshot()
	meta := report.BuildMetadata(runID, constraints, startedAt, endedAt, rootResult,
		report.CountGoals(rootResult), len(evidenceList), snapshot.SpentCostUSD, rc.RateLimitedSources())

	markdown, synthErr := report.Synthesize(ctx, opts.LLM, question, rootResult, evidenceList, meta.Limitations, budgetCtl, logger)
	if synthErr != nil {
		markdown = fallbackReport(question, rootResult, meta)
	}

	if err := report.WriteRunDir(runDir, meta, bundle, evidenceList, markdown); err != nil {
		return Result{}, fmt.Errorf("run: write run directory: %w", err)
	}
	logger.Log("", execlog.EventReportWritten, map[string]any{"path": filepath.Join(runDir, "report.md")})
	finalStatus := string(rootResult.Status)
	if rootResult.Error != nil && rootResult.Error.Reason == model.ReasonPanic {
		finalStatus = "crashed"
	}
	logger.Log("", execlog.EventRunCompleted, map[string]any{"status": finalStatus, "cost_usd": snapshot.SpentCostUSD})

	return Result{
		RunDir:         runDir,
		Metadata:       meta,
		Bundle:         bundle,
		Evidence:       evidenceList,
		ReportMarkdown: markdown,
	}, nil
}

// fallbackReport renders a minimal report.md when the final synthesis LLM
// call itself fails (e.g. a budget breach mid-synthesis) — a run's report
// is never entirely absent just because its last LLM call was the one
// that ran out of budget.
func fallbackReport(question string, root model.GoalResult, meta report.Metadata) string {
	return fmt.Sprintf("# %s\n\n**Status:** %s\n**Confidence:** %.2f\n\n%s\n\n## Research Limitations\n\nThe final report synthesis call itself failed; this is a minimal summary assembled from the root goal's own reasoning.\n",
		question, root.Status, root.Confidence, root.Reasoning)
}
