package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/invopop/jsonschema"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/basegraphhq/dossier/internal/budget"
	"github.com/basegraphhq/dossier/internal/execlog"
)

// Client is the schema-validated structured-output gateway. Every
// structured LLM call in the system flows through it; no adapter calls
// the transport directly.
type Client interface {
	Chat(ctx context.Context, req Request, result any) (*Response, error)
	Model() string
}

// Request is one structured call. SchemaName/Schema describe the expected
// JSON shape; a SystemPrompt containing the {{temporal}} marker opts into
// a current_date/current_year header injected in its place.
type Request struct {
	SystemPrompt string
	UserPrompt   string
	SchemaName   string
	Schema       any
	MaxTokens    int
	Temperature  *float64 // nil = model default, explicit 0 = deterministic
	CostLedger   *budget.Controller
	CostPerCall  float64 // flat per-call cost estimate charged to the ledger; real deployments would price per token

	// Log and GoalID are optional; when Log is non-nil, Chat emits a
	// cost_tick event alongside every CostLedger.AddCost so
	// sum(cost_tick.cost_usd) reconciles against metadata.totals.cost_usd.
	Log    *execlog.Logger
	GoalID string
}

// Response reports token usage and the cost actually recorded.
type Response struct {
	PromptTokens     int
	CompletionTokens int
	CostUSD          float64
}

// Config holds LLM client configuration.
type Config struct {
	APIKey  string
	BaseURL string
	Model   string
	Timeout time.Duration // per-call wall-clock timeout; defaults to 180s
}

type client struct {
	openai  openai.Client
	model   string
	timeout time.Duration
}

// New creates a Client backed by the OpenAI chat-completions API.
func New(cfg Config) (Client, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("API key is required")
	}

	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	model := cfg.Model
	if model == "" {
		model = "gpt-4o-mini"
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 180 * time.Second
	}

	return &client{
		openai:  openai.NewClient(opts...),
		model:   model,
		timeout: timeout,
	}, nil
}

// maxRepairRetries is the number of times Chat will append the schema
// validation error to the prompt and ask the model to try again before
// giving up with llm_schema.
const maxRepairRetries = 2

// ErrSchemaValidation is returned after exhausting repair retries.
var ErrSchemaValidation = errors.New("llm: schema validation failed after repair retries")

// Chat issues a single structured call, enforcing the per-call timeout,
// sending req.Schema as a strict structured-output schema, decoding the
// reply into result, retrying up to maxRepairRetries times when decoding
// fails, and recording cost against
// req.CostLedger. If the ledger reports the run is already over its hard
// cost budget, Chat refuses to call and returns budget.ErrBudgetExceeded
// immediately — the caller must propagate that sentinel. The reply is not
// checked against req.Schema locally; a reply that decodes into result is
// accepted.
func (c *client) Chat(ctx context.Context, req Request, result any) (*Response, error) {
	if req.CostLedger != nil {
		if stop, reason := req.CostLedger.ShouldStop(); stop && reason == budget.StopCost {
			return nil, budget.ErrBudgetExceeded
		}
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	systemPrompt := injectTemporalHeader(req.SystemPrompt)

	var lastErr error
	userPrompt := req.UserPrompt
	for attempt := 0; attempt <= maxRepairRetries; attempt++ {
		resp, usage, err := c.callOnce(ctx, systemPrompt, userPrompt, req)
		if err != nil {
			if !IsRetryable(ctx, err) || attempt == maxRepairRetries {
				return nil, fmt.Errorf("llm chat: %w", err)
			}
			if waitErr := backoffSleep(ctx, attempt); waitErr != nil {
				return nil, waitErr
			}
			lastErr = err
			continue
		}

		if err := json.Unmarshal([]byte(resp), result); err != nil {
			lastErr = err
			userPrompt = fmt.Sprintf("%s\n\nYour previous response failed schema validation: %v\nPrevious response:\n%s\n\nReturn only valid JSON matching the schema.", req.UserPrompt, err, resp)
			continue
		}

		if req.CostLedger != nil {
			req.CostLedger.AddCost(req.CostPerCall)
			if req.Log != nil {
				req.Log.Log(req.GoalID, execlog.EventCostTick, map[string]any{"cost_usd": req.CostPerCall, "schema": req.SchemaName})
			}
		}
		return &Response{PromptTokens: usage.prompt, CompletionTokens: usage.completion, CostUSD: req.CostPerCall}, nil
	}

	return nil, fmt.Errorf("%w: %v", ErrSchemaValidation, lastErr)
}

type tokenUsage struct {
	prompt     int
	completion int
}

func (c *client) callOnce(ctx context.Context, systemPrompt, userPrompt string, req Request) (string, tokenUsage, error) {
	maxTokens := req.MaxTokens
	if maxTokens == 0 {
		maxTokens = 1000
	}

	schemaParam := openai.ResponseFormatJSONSchemaJSONSchemaParam{
		Name:        req.SchemaName,
		Description: openai.String("Structured response schema"),
		Schema:      req.Schema,
		Strict:      openai.Bool(true),
	}

	messages := []openai.ChatCompletionMessageParamUnion{
		openai.SystemMessage(systemPrompt),
		openai.UserMessage(userPrompt),
	}

	params := openai.ChatCompletionNewParams{
		Model:    c.model,
		Messages: messages,
		ResponseFormat: openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONSchema: &openai.ResponseFormatJSONSchemaParam{
				JSONSchema: schemaParam,
			},
		},
	}
	// Reasoning models count reasoning tokens against the completion
	// budget; capping them starves the reasoning phase and yields empty
	// content, so the cap is only applied to non-reasoning models.
	if !isReasoningModel(c.model) {
		params.MaxTokens = openai.Int(int64(maxTokens))
	}
	if req.Temperature != nil {
		params.Temperature = openai.Float(*req.Temperature)
	}

	start := time.Now()
	resp, err := c.openai.Chat.Completions.New(ctx, params)
	if err != nil {
		return "", tokenUsage{}, err
	}

	slog.DebugContext(ctx, "llm chat completed",
		"model", c.model,
		"duration_ms", time.Since(start).Milliseconds(),
		"prompt_tokens", resp.Usage.PromptTokens,
		"completion_tokens", resp.Usage.CompletionTokens)

	if len(resp.Choices) == 0 {
		return "", tokenUsage{}, fmt.Errorf("no choices in response")
	}

	return resp.Choices[0].Message.Content, tokenUsage{
		prompt:     int(resp.Usage.PromptTokens),
		completion: int(resp.Usage.CompletionTokens),
	}, nil
}

func (c *client) Model() string {
	return c.model
}

// isReasoningModel reports whether the model's token budget includes
// reasoning tokens.
func isReasoningModel(model string) bool {
	for _, prefix := range []string{"o1", "o3", "o4", "gpt-5"} {
		if strings.HasPrefix(model, prefix) {
			return true
		}
	}
	return false
}

// injectTemporalHeader prepends a current_date/current_year header to any
// template containing the {{temporal}} opt-in marker.
func injectTemporalHeader(systemPrompt string) string {
	const marker = "{{temporal}}"
	if !strings.Contains(systemPrompt, marker) {
		return systemPrompt
	}
	now := time.Now().UTC()
	header := fmt.Sprintf("current_date: %s\ncurrent_year: %d\n", now.Format("2006-01-02"), now.Year())
	return strings.ReplaceAll(systemPrompt, marker, header)
}

// backoffSleep waits according to an exponential-backoff-with-jitter
// policy before a retry, or returns ctx.Err() if the context gives out
// first.
func backoffSleep(ctx context.Context, attempt int) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 500 * time.Millisecond

	var d time.Duration
	for i := 0; i <= attempt; i++ {
		d = b.NextBackOff()
	}

	select {
	case <-time.After(d):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// GenerateSchema reflects a JSON schema from a Go type for use as
// Request.Schema.
func GenerateSchema[T any]() any {
	reflector := jsonschema.Reflector{
		AllowAdditionalProperties: false,
		DoNotReference:            true,
	}
	var v T
	return reflector.Reflect(v)
}

// Temp is a helper to build Request.Temperature inline.
func Temp(t float64) *float64 {
	return &t
}

// IsRetryable classifies an LLM transport error as worth a backoff retry:
// rate limits and server errors are, auth/validation/other client errors
// are not.
func IsRetryable(ctx context.Context, err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.StatusCode == 429:
			slog.WarnContext(ctx, "llm rate limited, will retry", "status_code", apiErr.StatusCode)
			return true
		case apiErr.StatusCode >= 500:
			slog.WarnContext(ctx, "llm server error, will retry", "status_code", apiErr.StatusCode)
			return true
		default:
			slog.ErrorContext(ctx, "llm client error, not retryable", "status_code", apiErr.StatusCode)
			return false
		}
	}

	// No structured API error: treat as a transport-level failure and retry.
	return true
}
