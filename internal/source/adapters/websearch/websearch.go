// Package websearch adapts a generic web-search HTTP API to the source
// contract. When full-content extraction is requested it also fetches each
// result page and stores the visible text of the parsed DOM as the result's
// content; the search API's own snippet is kept, and page text fills the
// snippet only when the API returned none.
package websearch

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/net/html"

	"github.com/basegraphhq/dossier/internal/model"
	"github.com/basegraphhq/dossier/internal/source"
)

const sourceID = "websearch"

// Config configures the upstream search API this adapter calls. The API
// itself is out of scope for this module; only the HTTP shape needed to
// drive it is assumed.
type Config struct {
	APIEndpoint string
	APIKey      string
	HTTPClient  *http.Client
}

type adapter struct {
	endpoint string
	apiKey   string
	client   *http.Client
}

// New constructs the websearch adapter as a lazily-built source.Constructor.
func New(cfg Config) source.Constructor {
	return func() (source.Adapter, error) {
		if cfg.APIEndpoint == "" {
			return nil, fmt.Errorf("websearch: api endpoint required")
		}
		client := cfg.HTTPClient
		if client == nil {
			client = &http.Client{Timeout: 15 * time.Second}
		}
		return &adapter{endpoint: cfg.APIEndpoint, apiKey: cfg.APIKey, client: client}, nil
	}
}

func (a *adapter) Metadata() source.Metadata {
	return source.Metadata{
		ID:                 sourceID,
		DisplayName:        "Web Search",
		Category:           "web_search",
		RequiresAPIKey:     true,
		APIKeyEnvVar:       "WEBSEARCH_API_KEY",
		SupportsDateFilter: false,
		Characteristics:    "General-purpose web search; broad coverage, lower precision than specialized sources.",
		QueryStrategies:    []string{"keyword"},
	}
}

func (a *adapter) IsRelevant(ctx context.Context, question string) (bool, error) {
	return true, nil
}

type queryParams struct {
	Q string `json:"q"`
}

func (a *adapter) GenerateQuery(ctx context.Context, question string, paramHints map[string]any) (source.QueryParams, error) {
	raw, err := json.Marshal(queryParams{Q: question})
	if err != nil {
		return nil, err
	}
	return source.QueryParams(raw), nil
}

type searchAPIHit struct {
	URL     string `json:"url"`
	Title   string `json:"title"`
	Snippet string `json:"snippet"`
}

type searchAPIResponse struct {
	Results []searchAPIHit `json:"results"`
}

func (a *adapter) ExecuteSearch(ctx context.Context, params source.QueryParams, limit int, extractFullContent bool) (source.QueryResult, error) {
	var qp queryParams
	if err := json.Unmarshal(params, &qp); err != nil {
		return source.QueryResult{Success: false, SourceID: sourceID, Error: "invalid query params: " + err.Error(), HTTPCode: 400}, nil
	}

	reqURL := fmt.Sprintf("%s?q=%s&limit=%d", a.endpoint, url.QueryEscape(qp.Q), limit)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return source.QueryResult{}, err
	}
	if a.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+a.apiKey)
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return source.QueryResult{}, fmt.Errorf("websearch request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return source.QueryResult{Success: false, SourceID: sourceID, HTTPCode: resp.StatusCode, Error: resp.Status}, nil
	}

	var parsed searchAPIResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return source.QueryResult{}, fmt.Errorf("decode websearch response: %w", err)
	}

	results := make([]model.RawResult, 0, len(parsed.Results))
	for _, hit := range parsed.Results {
		snippet := hit.Snippet
		var fullText string
		if extractFullContent {
			if text, err := a.fetchAndExtract(ctx, hit.URL); err == nil {
				fullText = text
				if snippet == "" && len(text) > 0 {
					snippet = firstN(text, 500)
				}
			}
		}
		raw, _ := json.Marshal(hit)
		results = append(results, model.RawResult{
			SourceID:       sourceID,
			FetchedAt:      time.Now(),
			URL:            hit.URL,
			Title:          hit.Title,
			Snippet:        snippet,
			RawAPIResponse: json.RawMessage(raw),
			RawContent:     fullText,
		})
	}

	return source.QueryResult{Success: true, SourceID: sourceID, Total: len(results), Results: results}, nil
}

// fetchAndExtract downloads a result page and pulls its visible text out of
// the parsed DOM, skipping script/style nodes.
func (a *adapter) fetchAndExtract(ctx context.Context, pageURL string) (string, error) {
	if pageURL == "" {
		return "", fmt.Errorf("empty url")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return "", err
	}
	resp, err := a.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return "", fmt.Errorf("fetch %s: status %d", pageURL, resp.StatusCode)
	}

	limited := io.LimitReader(resp.Body, 2<<20) // cap at 2MB
	doc, err := html.Parse(limited)
	if err != nil {
		return "", err
	}

	var sb strings.Builder
	extractText(doc, &sb)
	return strings.Join(strings.Fields(sb.String()), " "), nil
}

func extractText(n *html.Node, sb *strings.Builder) {
	if n.Type == html.ElementNode && (n.Data == "script" || n.Data == "style") {
		return
	}
	if n.Type == html.TextNode {
		sb.WriteString(n.Data)
		sb.WriteString(" ")
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		extractText(c, sb)
	}
}

func firstN(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
