package evidence

import (
	"context"
	"fmt"

	llmc "github.com/basegraphhq/dossier/common/llm"
	"github.com/basegraphhq/dossier/internal/budget"
	"github.com/basegraphhq/dossier/internal/execlog"
	"github.com/basegraphhq/dossier/internal/model"
)

// extractResult is the structured shape the extraction call returns:
// a goal-focused summary plus the facts, entities, and dates the content
// supports.
type extractResult struct {
	Summary  string         `json:"summary"`
	Facts    []string       `json:"facts"`
	Entities []entityResult `json:"entities"`
	Dates    []string       `json:"dates"`
}

type entityResult struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

var extractJSONSchema = llmc.GenerateSchema[extractResult]()

// Extractor turns a filtered-in RawResult into a ProcessedEvidence's
// summary/facts/entities/dates fields, via a single structured LLM call.
type Extractor struct {
	llm         llmc.Client
	costPerCall float64
}

// NewExtractor builds an Extractor backed by client.
func NewExtractor(client llmc.Client, costPerCall float64) *Extractor {
	return &Extractor{llm: client, costPerCall: costPerCall}
}

// Extract runs goal-focused extraction over raw, populating the
// LLMSummary/ExtractedFacts/ExtractedEntities/ExtractedDates fields of a
// ProcessedEvidence. The caller supplies goalID and the score/rationale
// already computed by Filterer.
func (e *Extractor) Extract(ctx context.Context, goalID, goalDescription string, raw model.RawResult, score int, rationale string, ledger *budget.Controller, log *execlog.Logger) (model.ProcessedEvidence, error) {
	var result extractResult
	_, err := e.llm.Chat(ctx, llmc.Request{
		SystemPrompt: "You extract structured facts from one research source, focused tightly on the " +
			"stated research goal. Only extract what the content actually supports; dates must be in " +
			"ISO 8601 form (YYYY-MM-DD) or omitted entirely rather than guessed.",
		UserPrompt: fmt.Sprintf("Goal: %s\n\nTitle: %s\nContent: %s",
			goalDescription, raw.Title, truncate(raw.RawContent, 6000)),
		SchemaName:  "evidence_extraction",
		Schema:      extractJSONSchema,
		CostLedger:  ledger,
		CostPerCall: e.costPerCall,
		Log:         log,
		GoalID:      goalID,
	}, &result)
	if err != nil {
		return model.ProcessedEvidence{}, fmt.Errorf("evidence extraction: %w", err)
	}

	entities := make([]model.Entity, 0, len(result.Entities))
	for _, ent := range result.Entities {
		entities = append(entities, model.Entity{Name: ent.Name, Type: ent.Type})
	}

	return model.ProcessedEvidence{
		GoalID:            goalID,
		Raw:               raw,
		LLMSummary:        result.Summary,
		ExtractedFacts:    result.Facts,
		ExtractedEntities: entities,
		ExtractedDates:    result.Dates,
		RelevanceScore:    score,
		FilterRationale:   rationale,
	}, nil
}
