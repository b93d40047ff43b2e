package agent

import (
	"context"
	"fmt"

	llmc "github.com/basegraphhq/dossier/common/llm"
	"github.com/basegraphhq/dossier/internal/model"
	"github.com/basegraphhq/dossier/internal/source"
)

type reformulationResult struct {
	Field string `json:"field"`
	Value string `json:"value"`
}

var reformulationJSONSchema = llmc.GenerateSchema[reformulationResult]()

// reformulateQuery asks the LLM for a single corrected field/value pair in
// response to a validation error, then patches only that field into prior
// via source.PatchField rather than asking the model to regenerate the
// whole params document. Never called for auth/rate-limit/server errors:
// the caller only reaches this path when apiErr.IsReformulable is true.
func reformulateQuery(ctx context.Context, rc *RunContext, adapter source.Adapter, meta source.Metadata, goal model.ResearchGoal, apiErr *model.APIError, prior source.QueryParams) (source.QueryParams, error) {
	prompt := fmt.Sprintf(
		"Source %q rejected the query with: %s\nGoal: %s\nCurrent query parameters: %s\n"+
			"Return the single field and corrected value that should fix this.",
		meta.ID, apiErr.Message, goal.Description, string(prior))

	var result reformulationResult
	_, err := rc.LLM.Chat(ctx, llmc.Request{
		SystemPrompt: "You correct one invalid field in a source query after a validation error. Never return " +
			"the literal string \"null\" as a date value; omit the field instead if no date is known.",
		UserPrompt:  prompt,
		SchemaName:  "reformulation",
		Schema:      reformulationJSONSchema,
		CostLedger:  rc.Budget,
		CostPerCall: 0.005,
		Log:         rc.Log,
		GoalID:      goal.ID,
	}, &result)
	if err != nil {
		return nil, fmt.Errorf("reformulate query: %w", err)
	}

	patched, err := source.PatchField(prior, result.Field, result.Value)
	if err != nil {
		return nil, fmt.Errorf("patch reformulated field: %w", err)
	}
	return patched, nil
}
