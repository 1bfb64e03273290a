package websearch

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/haasonsaas/subagent/internal/agent"
)

// SearchBackend names a search provider.
type SearchBackend string

const (
	BackendSearXNG     SearchBackend = "searxng"
	BackendDuckDuckGo  SearchBackend = "duckduckgo"
	BackendBraveSearch SearchBackend = "brave"
)

// maxCacheSize bounds the response cache so a long-running agent host
// can't grow it without limit.
const maxCacheSize = 1000

// Config holds web_search configuration: backend credentials, caching,
// and default behavior. The tool is deliberately web-text-only — image
// and news verticals serve a chat product, not a researching sub-agent.
type Config struct {
	// SearXNGURL points at a SearXNG instance with the JSON format
	// enabled. When set it becomes the default backend.
	SearXNGURL string `json:"searxng_url,omitempty"`

	// BraveAPIKey enables the Brave Search backend.
	BraveAPIKey string `json:"brave_api_key,omitempty"`

	// DefaultBackend is used when a call names none.
	DefaultBackend SearchBackend `json:"default_backend"`

	// ExtractContent fetches and attaches readable page content to every
	// result by default.
	ExtractContent bool `json:"extract_content"`

	// DefaultResultCount is used when a call names no count.
	DefaultResultCount int `json:"default_result_count"`

	// CacheTTL is the response cache lifetime in seconds.
	CacheTTL int `json:"cache_ttl"`
}

// SearchResult is one hit, normalized across backends.
type SearchResult struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Snippet string `json:"snippet"`

	// Content is the extracted page text, present only when content
	// extraction ran for this result.
	Content string `json:"content,omitempty"`
}

// SearchResponse is a full answer to one query.
type SearchResponse struct {
	Query       string         `json:"query"`
	Results     []SearchResult `json:"results"`
	ResultCount int            `json:"result_count"`
	Backend     SearchBackend  `json:"backend"`
}

type cacheEntry struct {
	response  *SearchResponse
	expiresAt time.Time
}

// WebSearchTool implements agent.Tool over pluggable search backends with
// a TTL cache and optional page-content enrichment through the shared
// (egress-guarded) ContentExtractor.
type WebSearchTool struct {
	config     *Config
	httpClient *http.Client
	extractor  *ContentExtractor

	cacheMu sync.RWMutex
	cache   map[string]*cacheEntry
}

// NewWebSearchTool creates the tool, applying defaults: five results,
// five-minute cache, SearXNG when configured, DuckDuckGo otherwise.
func NewWebSearchTool(config *Config) *WebSearchTool {
	if config == nil {
		config = &Config{}
	}
	if config.DefaultResultCount == 0 {
		config.DefaultResultCount = 5
	}
	if config.CacheTTL == 0 {
		config.CacheTTL = 300
	}
	if config.DefaultBackend == "" {
		if config.SearXNGURL != "" {
			config.DefaultBackend = BackendSearXNG
		} else {
			config.DefaultBackend = BackendDuckDuckGo
		}
	}
	return &WebSearchTool{
		config:     config,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		extractor:  NewContentExtractor(),
		cache:      make(map[string]*cacheEntry),
	}
}

// Name returns the tool name.
func (t *WebSearchTool) Name() string {
	return "web_search"
}

// Description returns the tool description.
func (t *WebSearchTool) Description() string {
	return "Search the web for information. Optionally extracts readable content from result pages."
}

// Schema returns the JSON schema for tool parameters.
func (t *WebSearchTool) Schema() json.RawMessage {
	schema := map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"query": map[string]interface{}{
				"type":        "string",
				"description": "The search query.",
			},
			"result_count": map[string]interface{}{
				"type":        "integer",
				"description": "How many results to return.",
				"minimum":     1,
				"maximum":     20,
			},
			"extract_content": map[string]interface{}{
				"type":        "boolean",
				"description": "Fetch each result page and attach its readable text.",
			},
			"backend": map[string]interface{}{
				"type":        "string",
				"enum":        []string{string(BackendSearXNG), string(BackendDuckDuckGo), string(BackendBraveSearch)},
				"description": "Override the configured search backend.",
			},
		},
		"required": []string{"query"},
	}
	payload, err := json.Marshal(schema)
	if err != nil {
		return json.RawMessage(`{"type":"object"}`)
	}
	return payload
}

// searchArgs is the decoded parameter set for one call.
type searchArgs struct {
	Query          string        `json:"query"`
	ResultCount    int           `json:"result_count"`
	ExtractContent *bool         `json:"extract_content"`
	Backend        SearchBackend `json:"backend"`
}

// Execute runs the search: normalize arguments, consult the cache,
// dispatch to the chosen backend, optionally enrich with page content,
// and cache the answer.
func (t *WebSearchTool) Execute(ctx context.Context, params json.RawMessage) (*agent.ToolResult, error) {
	var args searchArgs
	if err := json.Unmarshal(params, &args); err != nil {
		return &agent.ToolResult{Content: fmt.Sprintf("Invalid parameters: %v", err), IsError: true}, nil
	}
	args.Query = strings.TrimSpace(args.Query)
	if args.Query == "" {
		return &agent.ToolResult{Content: "Missing required parameter: query", IsError: true}, nil
	}
	if args.ResultCount <= 0 {
		args.ResultCount = t.config.DefaultResultCount
	}
	if args.ResultCount > 20 {
		args.ResultCount = 20
	}
	if args.Backend == "" {
		args.Backend = t.config.DefaultBackend
	}
	extract := t.config.ExtractContent
	if args.ExtractContent != nil {
		extract = *args.ExtractContent
	}

	key := cacheKey(args, extract)
	if cached := t.cachedResponse(key); cached != nil {
		return formatResponse(cached), nil
	}

	var response *SearchResponse
	var err error
	switch args.Backend {
	case BackendSearXNG:
		response, err = t.searchSearXNG(ctx, args)
	case BackendBraveSearch:
		response, err = t.searchBrave(ctx, args)
	case BackendDuckDuckGo:
		response, err = t.searchDuckDuckGo(ctx, args)
	default:
		return &agent.ToolResult{Content: fmt.Sprintf("Unknown backend: %s", args.Backend), IsError: true}, nil
	}
	if err != nil {
		return &agent.ToolResult{Content: fmt.Sprintf("Search failed: %v", err), IsError: true}, nil
	}

	if extract && len(response.Results) > 0 {
		t.attachContent(ctx, response)
	}

	t.storeResponse(key, response)
	return formatResponse(response), nil
}

func formatResponse(response *SearchResponse) *agent.ToolResult {
	payload, err := json.MarshalIndent(response, "", "  ")
	if err != nil {
		return &agent.ToolResult{Content: fmt.Sprintf("Failed to format response: %v", err), IsError: true}
	}
	return &agent.ToolResult{Content: string(payload)}
}

func cacheKey(args searchArgs, extract bool) string {
	return fmt.Sprintf("%s|%s|%d|%t", args.Backend, strings.ToLower(args.Query), args.ResultCount, extract)
}

func (t *WebSearchTool) cachedResponse(key string) *SearchResponse {
	t.cacheMu.RLock()
	defer t.cacheMu.RUnlock()
	entry, ok := t.cache[key]
	if !ok || time.Now().After(entry.expiresAt) {
		return nil
	}
	return entry.response
}

func (t *WebSearchTool) storeResponse(key string, response *SearchResponse) {
	t.cacheMu.Lock()
	defer t.cacheMu.Unlock()

	// At capacity, evict the soonest-to-expire entries; precision doesn't
	// matter here, staying bounded does.
	if len(t.cache) >= maxCacheSize {
		type aging struct {
			key string
			at  time.Time
		}
		entries := make([]aging, 0, len(t.cache))
		for k, v := range t.cache {
			entries = append(entries, aging{key: k, at: v.expiresAt})
		}
		sort.Slice(entries, func(i, j int) bool { return entries[i].at.Before(entries[j].at) })
		for i := 0; i < len(entries)/2; i++ {
			delete(t.cache, entries[i].key)
		}
	}

	t.cache[key] = &cacheEntry{
		response:  response,
		expiresAt: time.Now().Add(time.Duration(t.config.CacheTTL) * time.Second),
	}
}

// attachContent enriches results with extracted page text, best-effort.
func (t *WebSearchTool) attachContent(ctx context.Context, response *SearchResponse) {
	urls := make([]string, 0, len(response.Results))
	for _, r := range response.Results {
		if r.URL != "" {
			urls = append(urls, r.URL)
		}
	}
	contents := t.extractor.ExtractBatch(ctx, urls)
	for i := range response.Results {
		if content, ok := contents[response.Results[i].URL]; ok {
			response.Results[i].Content = content
		}
	}
}

// getJSON issues one GET with optional headers and decodes the JSON body
// into out. Non-200 statuses surface the response body for diagnosis.
func (t *WebSearchTool) getJSON(ctx context.Context, rawURL string, headers map[string]string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("backend returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}
	return nil
}

// searchSearXNG queries a SearXNG instance's JSON API.
func (t *WebSearchTool) searchSearXNG(ctx context.Context, args searchArgs) (*SearchResponse, error) {
	if t.config.SearXNGURL == "" {
		return nil, fmt.Errorf("SearXNG URL not configured")
	}
	base, err := url.Parse(t.config.SearXNGURL)
	if err != nil {
		return nil, fmt.Errorf("invalid SearXNG URL: %w", err)
	}
	base.Path = "/search"
	q := url.Values{}
	q.Set("q", args.Query)
	q.Set("format", "json")
	q.Set("pageno", "1")
	q.Set("categories", "general")
	base.RawQuery = q.Encode()

	var decoded struct {
		Results []struct {
			Title   string `json:"title"`
			URL     string `json:"url"`
			Content string `json:"content"`
		} `json:"results"`
	}
	if err := t.getJSON(ctx, base.String(), nil, &decoded); err != nil {
		return nil, err
	}

	results := make([]SearchResult, 0, args.ResultCount)
	for _, r := range decoded.Results {
		if len(results) >= args.ResultCount {
			break
		}
		results = append(results, SearchResult{Title: r.Title, URL: r.URL, Snippet: r.Content})
	}
	return &SearchResponse{
		Query:       args.Query,
		Results:     results,
		ResultCount: len(results),
		Backend:     BackendSearXNG,
	}, nil
}

// searchDuckDuckGo queries the Instant Answer API. Coverage is shallow
// (abstracts and related topics, not a full index) but it needs no key,
// which makes it the zero-config default.
func (t *WebSearchTool) searchDuckDuckGo(ctx context.Context, args searchArgs) (*SearchResponse, error) {
	endpoint := fmt.Sprintf("https://api.duckduckgo.com/?q=%s&format=json&no_html=1", url.QueryEscape(args.Query))

	var decoded struct {
		AbstractText  string `json:"AbstractText"`
		AbstractURL   string `json:"AbstractURL"`
		Heading       string `json:"Heading"`
		RelatedTopics []struct {
			Text     string `json:"Text"`
			FirstURL string `json:"FirstURL"`
		} `json:"RelatedTopics"`
	}
	if err := t.getJSON(ctx, endpoint, nil, &decoded); err != nil {
		return nil, err
	}

	results := make([]SearchResult, 0, args.ResultCount)
	if decoded.AbstractText != "" && decoded.AbstractURL != "" {
		results = append(results, SearchResult{
			Title:   decoded.Heading,
			URL:     decoded.AbstractURL,
			Snippet: decoded.AbstractText,
		})
	}
	for _, topic := range decoded.RelatedTopics {
		if len(results) >= args.ResultCount {
			break
		}
		if topic.FirstURL == "" || topic.Text == "" {
			continue
		}
		title := topic.Text
		if len(title) > 100 {
			title = title[:100]
		}
		results = append(results, SearchResult{
			Title:   title,
			URL:     topic.FirstURL,
			Snippet: topic.Text,
		})
	}
	return &SearchResponse{
		Query:       args.Query,
		Results:     results,
		ResultCount: len(results),
		Backend:     BackendDuckDuckGo,
	}, nil
}

// searchBrave queries the Brave Search web API.
func (t *WebSearchTool) searchBrave(ctx context.Context, args searchArgs) (*SearchResponse, error) {
	if t.config.BraveAPIKey == "" {
		return nil, fmt.Errorf("Brave API key not configured")
	}
	endpoint := fmt.Sprintf("https://api.search.brave.com/res/v1/web/search?q=%s&count=%d",
		url.QueryEscape(args.Query), args.ResultCount)

	var decoded struct {
		Web struct {
			Results []struct {
				Title       string `json:"title"`
				URL         string `json:"url"`
				Description string `json:"description"`
			} `json:"results"`
		} `json:"web"`
	}
	headers := map[string]string{
		"Accept":               "application/json",
		"X-Subscription-Token": t.config.BraveAPIKey,
	}
	if err := t.getJSON(ctx, endpoint, headers, &decoded); err != nil {
		return nil, err
	}

	results := make([]SearchResult, 0, args.ResultCount)
	for _, r := range decoded.Web.Results {
		if len(results) >= args.ResultCount {
			break
		}
		results = append(results, SearchResult{Title: r.Title, URL: r.URL, Snippet: r.Description})
	}
	return &SearchResponse{
		Query:       args.Query,
		Results:     results,
		ResultCount: len(results),
		Backend:     BackendBraveSearch,
	}, nil
}
