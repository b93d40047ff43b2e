// Package docarchive adapts a Typesense-backed local document repository
// (filings, reports, transcripts ingested out of band) into a source the
// agent can query like any external API.
package docarchive

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/typesense/typesense-go/v4/typesense"
	"github.com/typesense/typesense-go/v4/typesense/api"
	"github.com/typesense/typesense-go/v4/typesense/api/pointer"

	"github.com/basegraphhq/dossier/internal/model"
	"github.com/basegraphhq/dossier/internal/source"
)

const sourceID = "docarchive"

// Config configures the Typesense connection and the collection this
// adapter searches.
type Config struct {
	ServerURL      string
	APIKey         string
	Collection     string
	RequestTimeout time.Duration
}

type adapter struct {
	client     *typesense.Client
	collection string
	timeout    time.Duration
}

// New constructs the docarchive adapter. It is wrapped as a
// source.Constructor so the registry only pays this cost on first use.
func New(cfg Config) source.Constructor {
	return func() (source.Adapter, error) {
		if cfg.ServerURL == "" {
			return nil, fmt.Errorf("docarchive: server url required")
		}
		client := typesense.NewClient(
			typesense.WithServer(cfg.ServerURL),
			typesense.WithAPIKey(cfg.APIKey),
		)
		timeout := cfg.RequestTimeout
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		collection := cfg.Collection
		if collection == "" {
			collection = "documents"
		}
		return &adapter{client: client, collection: collection, timeout: timeout}, nil
	}
}

func (a *adapter) Metadata() source.Metadata {
	return source.Metadata{
		ID:                 sourceID,
		DisplayName:        "Local Document Archive",
		Category:           "document_repository",
		RequiresAPIKey:     true,
		APIKeyEnvVar:       "DOCARCHIVE_API_KEY",
		SupportsDateFilter: true,
		Characteristics:    "Full-text index over locally ingested documents (filings, reports, transcripts).",
		QueryStrategies:    []string{"keyword", "phrase"},
	}
}

func (a *adapter) IsRelevant(ctx context.Context, question string) (bool, error) {
	// The archive is a generic full-text index; it is a plausible candidate
	// for almost any factual question, so the conservative default applies
	// without spending an LLM call here.
	return true, nil
}

type queryParams struct {
	Q       string `json:"q"`
	DateMin string `json:"date_min,omitempty"`
	DateMax string `json:"date_max,omitempty"`
}

func (a *adapter) GenerateQuery(ctx context.Context, question string, paramHints map[string]any) (source.QueryParams, error) {
	qp := queryParams{Q: question}
	if v, ok := paramHints["date_min"].(string); ok {
		qp.DateMin = v
	}
	if v, ok := paramHints["date_max"].(string); ok {
		qp.DateMax = v
	}
	raw, err := json.Marshal(qp)
	if err != nil {
		return nil, err
	}
	return source.QueryParams(raw), nil
}

func (a *adapter) ExecuteSearch(ctx context.Context, params source.QueryParams, limit int, extractFullContent bool) (source.QueryResult, error) {
	var qp queryParams
	if err := json.Unmarshal(params, &qp); err != nil {
		return source.QueryResult{Success: false, SourceID: sourceID, Error: "invalid query params: " + err.Error(), HTTPCode: 400}, nil
	}
	if source.HasLiteralNull(params, "date_min") || source.HasLiteralNull(params, "date_max") {
		return source.QueryResult{Success: false, SourceID: sourceID, Error: "literal null date in query params", HTTPCode: 422}, nil
	}

	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	perPage := limit
	if perPage <= 0 {
		perPage = 10
	}
	searchParams := &api.SearchCollectionParams{
		Q:       pointer.String(qp.Q),
		QueryBy: pointer.String("content,title"),
		PerPage: pointer.Int(perPage),
	}

	resp, err := a.client.Collection(a.collection).Documents().Search(ctx, searchParams)
	if err != nil {
		return source.QueryResult{}, fmt.Errorf("docarchive search: %w", err)
	}

	var results []model.RawResult
	if resp.Hits != nil {
		for _, hit := range *resp.Hits {
			doc := map[string]any{}
			if hit.Document != nil {
				doc = *hit.Document
			}
			rawDoc, _ := json.Marshal(doc)
			title, _ := doc["title"].(string)
			content, _ := doc["content"].(string)
			snippet := content
			if len(snippet) > 500 {
				snippet = snippet[:500]
			}
			results = append(results, model.RawResult{
				SourceID:       sourceID,
				FetchedAt:      time.Now(),
				Title:          title,
				Snippet:        snippet,
				RawAPIResponse: json.RawMessage(rawDoc),
				RawContent:     conditionalFullContent(content, extractFullContent),
			})
		}
	}

	total := 0
	if resp.Found != nil {
		total = *resp.Found
	}

	return source.QueryResult{Success: true, SourceID: sourceID, Total: total, Results: results}, nil
}

func conditionalFullContent(content string, extractFull bool) string {
	if extractFull {
		return content
	}
	return ""
}
