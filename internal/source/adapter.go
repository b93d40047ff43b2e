// Package source defines the adapter capability contract every external
// data source implements, and the Registry that lazily constructs,
// feature-flags, and normalizes adapters by name.
package source

import (
	"context"
	"encoding/json"

	"github.com/basegraphhq/dossier/internal/model"
)

// Category groups sources for prompt-building and selector reasoning
// ("government", "social", "web_search", "document_repository", ...).
type Category string

// Metadata describes a source's shape to the assessor, selector, and
// registry without requiring the adapter to be constructed.
type Metadata struct {
	ID                 string            `json:"id"` // canonical, lowercase; normalized form of itself
	DisplayName        string            `json:"display_name"`
	Category           Category          `json:"category"`
	RequiresAPIKey     bool              `json:"requires_api_key"`
	APIKeyEnvVar       string            `json:"api_key_env_var,omitempty"`
	SupportsDateFilter bool              `json:"supports_date_filter"`
	Characteristics    string            `json:"characteristics"`
	QueryStrategies    []string          `json:"query_strategies"`
	UnfixableHTTPCodes []int             `json:"unfixable_http_codes,omitempty"`
}

// QueryResult is what executeSearch returns; it never throws for expected
// failures, carrying success=false plus an optional http_code instead.
type QueryResult struct {
	Success  bool              `json:"success"`
	SourceID string            `json:"source_id"`
	Total    int               `json:"total"`
	Results  []model.RawResult `json:"results,omitempty"`
	Error    string            `json:"error,omitempty"`
	HTTPCode int               `json:"http_code,omitempty"`
}

// QueryParams is a source-specific, opaque parameter bag. It travels as
// json.RawMessage so the agent core never needs a per-source schema type;
// reformulation patches individual fields with gjson/sjson instead of a
// full unmarshal/remarshal round trip.
type QueryParams json.RawMessage

// Adapter is the four-capability contract every source implements.
// Implementations own their own HTTP/transport details; the core never
// calls a transport directly.
type Adapter interface {
	Metadata() Metadata
	IsRelevant(ctx context.Context, question string) (bool, error)
	GenerateQuery(ctx context.Context, question string, paramHints map[string]any) (QueryParams, error)
	ExecuteSearch(ctx context.Context, params QueryParams, limit int, extractFullContent bool) (QueryResult, error)
}

// Constructor builds an Adapter on first use. Registry stores constructors,
// not instances, so an unused or misconfigured source never pays
// construction cost and never blocks the rest of the registry from
// loading.
type Constructor func() (Adapter, error)
