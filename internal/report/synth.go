package report

import (
	"context"
	"fmt"
	"strings"

	llmc "github.com/basegraphhq/dossier/common/llm"
	"github.com/basegraphhq/dossier/internal/budget"
	"github.com/basegraphhq/dossier/internal/execlog"
	"github.com/basegraphhq/dossier/internal/model"
)

type reportSection struct {
	Heading string `json:"heading"`
	Body    string `json:"body"` // cites evidence inline as [evidence_id=N]
}

type reportDraft struct {
	Title    string          `json:"title"`
	Summary  string          `json:"summary"`
	Sections []reportSection `json:"sections"`
}

var reportDraftJSONSchema = llmc.GenerateSchema[reportDraft]()

// Synthesize produces the markdown report.md body: an LLM call drafts the
// narrative (title, summary, sections) citing evidence_id inline, and this
// function renders it to markdown followed by a mandatory "Research
// Limitations" section and a citation appendix — the LLM never owns the
// limitations text, so an optimistic model can't omit a real failure.
func Synthesize(ctx context.Context, llm llmc.Client, question string, root model.GoalResult, evidence []model.ProcessedEvidence, limitations []Limitation, ledger *budget.Controller, log *execlog.Logger) (string, error) {
	var evidenceText strings.Builder
	for _, ev := range evidence {
		fmt.Fprintf(&evidenceText, "[evidence_id=%d] %s\nFacts: %s\n\n", ev.EvidenceID, ev.LLMSummary, strings.Join(ev.ExtractedFacts, "; "))
	}

	var draft reportDraft
	_, err := llm.Chat(ctx, llmc.Request{
		SystemPrompt: "You write an investigative research report in markdown sections. Cite evidence inline " +
			"as [evidence_id=N] wherever a claim depends on a specific source. Never state a claim the given " +
			"evidence does not support.",
		UserPrompt:  fmt.Sprintf("Research question: %s\n\nRoot finding: %s\n\nEvidence:\n%s", question, root.Reasoning, evidenceText.String()),
		SchemaName:  "report_draft",
		Schema:      reportDraftJSONSchema,
		CostLedger:  ledger,
		CostPerCall: 0.02,
		Log:         log,
		GoalID:      root.Goal.ID,
	}, &draft)
	if err != nil {
		return "", fmt.Errorf("synthesize report: %w", err)
	}

	var md strings.Builder
	title := draft.Title
	if title == "" {
		title = question
	}
	fmt.Fprintf(&md, "# %s\n\n", title)
	fmt.Fprintf(&md, "**Confidence:** %.2f\n\n", root.Confidence)
	if draft.Summary != "" {
		fmt.Fprintf(&md, "%s\n\n", draft.Summary)
	}
	for _, s := range draft.Sections {
		fmt.Fprintf(&md, "## %s\n\n%s\n\n", s.Heading, s.Body)
	}

	md.WriteString(renderLimitations(limitations))
	md.WriteString(renderCitations(evidence))

	return md.String(), nil
}

func renderLimitations(limitations []Limitation) string {
	var sb strings.Builder
	sb.WriteString("## Research Limitations\n\n")
	if len(limitations) == 0 {
		sb.WriteString("No failures were recorded during this run.\n\n")
		return sb.String()
	}
	budgetLimited := false
	for _, l := range limitations {
		if l.Kind == "budget" {
			budgetLimited = true
		}
		scope := l.GoalID
		if l.Source != "" {
			if scope != "" {
				scope += ", source=" + l.Source
			} else {
				scope = "source=" + l.Source
			}
		}
		fmt.Fprintf(&sb, "- **%s** (%s): %s — result is %s\n", l.Kind, scope, l.Detail, partialWord(l.Partial))
	}
	if budgetLimited {
		sb.WriteString("\nThis run was cut short by its cost budget; some branches may be underexplored.\n")
	}
	sb.WriteString("\n")
	return sb.String()
}

func partialWord(partial bool) string {
	if partial {
		return "partial because of this"
	}
	return "unaffected"
}

func renderCitations(evidence []model.ProcessedEvidence) string {
	if len(evidence) == 0 {
		return ""
	}
	var sb strings.Builder
	sb.WriteString("## Sources\n\n")
	for _, ev := range evidence {
		title := ev.Raw.Title
		if title == "" {
			title = ev.Raw.URL
		}
		fmt.Fprintf(&sb, "- [evidence_id=%d] %s (%s) — %s\n", ev.EvidenceID, title, ev.Raw.SourceID, ev.Raw.URL)
	}
	return sb.String()
}
