// Package memorysearch implements the memory tools of the non-interactive
// allow-list: memory_search ranks paragraphs of the agent's markdown
// memory files against a query, memory_get reads an exact line range
// back. Ranking is deliberately offline — substring scoring blended with
// a TF-IDF cosine — so a search never adds a second network dependency to
// a turn that is already bounded by wall clock.
package memorysearch

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"unicode"

	"github.com/haasonsaas/subagent/internal/agent"
)

// Config points the memory tools at their store.
type Config struct {
	// Directory holds per-day memory notes (memory/*.md).
	Directory string

	// MemoryFile is the long-lived index file (MEMORY.md).
	MemoryFile string

	// WorkspacePath anchors the relative paths above.
	WorkspacePath string

	// MaxResults bounds one search's hits. Default 5.
	MaxResults int

	// MaxSnippetLen bounds each hit's snippet, in runes. Default 200.
	MaxSnippetLen int

	// Mode selects ranking: "lexical", "tfidf", or "hybrid" (default).
	Mode string
}

func (c *Config) normalized() Config {
	cfg := Config{}
	if c != nil {
		cfg = *c
	}
	if cfg.MaxResults <= 0 {
		cfg.MaxResults = 5
	}
	if cfg.MaxSnippetLen <= 0 {
		cfg.MaxSnippetLen = 200
	}
	cfg.Mode = strings.ToLower(strings.TrimSpace(cfg.Mode))
	if cfg.Mode == "" {
		cfg.Mode = "hybrid"
	}
	return cfg
}

// MemorySearchTool implements agent.Tool for searching memory files.
type MemorySearchTool struct {
	config Config
}

// NewMemorySearchTool creates a memory_search tool.
func NewMemorySearchTool(cfg *Config) *MemorySearchTool {
	return &MemorySearchTool{config: cfg.normalized()}
}

// Name returns the tool name.
func (t *MemorySearchTool) Name() string {
	return "memory_search"
}

// Description returns the tool description.
func (t *MemorySearchTool) Description() string {
	return "Search the agent's memory files (MEMORY.md and memory/*.md) for relevant notes."
}

// Schema returns the JSON schema for tool parameters.
func (t *MemorySearchTool) Schema() json.RawMessage {
	schema := map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"query": map[string]interface{}{
				"type":        "string",
				"description": "What to look for.",
			},
			"max_results": map[string]interface{}{
				"type":        "integer",
				"description": "How many hits to return.",
				"minimum":     1,
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

// SearchResult is one ranked hit.
type SearchResult struct {
	File    string  `json:"file"`
	Snippet string  `json:"snippet"`
	Score   float64 `json:"score"`
}

// Execute ranks memory paragraphs against the query.
func (t *MemorySearchTool) Execute(ctx context.Context, params json.RawMessage) (*agent.ToolResult, error) {
	var input struct {
		Query      string `json:"query"`
		MaxResults int    `json:"max_results"`
	}
	if err := json.Unmarshal(params, &input); err != nil {
		return &agent.ToolResult{Content: fmt.Sprintf("Invalid parameters: %v", err), IsError: true}, nil
	}
	query := strings.TrimSpace(input.Query)
	if query == "" {
		return &agent.ToolResult{Content: "query is required", IsError: true}, nil
	}
	limit := input.MaxResults
	if limit <= 0 || limit > t.config.MaxResults {
		limit = t.config.MaxResults
	}

	paragraphs := loadParagraphs(t.memoryFiles())
	if len(paragraphs) == 0 {
		return &agent.ToolResult{Content: `{"results": []}`}, nil
	}
	if ctx.Err() != nil {
		return &agent.ToolResult{Content: "cancelled", IsError: true}, nil
	}

	hits := rank(paragraphs, query, t.config.Mode, limit, t.config.MaxSnippetLen)

	payload, err := json.MarshalIndent(map[string]interface{}{
		"query":   query,
		"mode":    t.config.Mode,
		"results": hits,
	}, "", "  ")
	if err != nil {
		return &agent.ToolResult{Content: fmt.Sprintf("encode result: %v", err), IsError: true}, nil
	}
	return &agent.ToolResult{Content: string(payload)}, nil
}

// memoryFiles enumerates the store: the index file first, then every .md
// in the notes directory.
func (t *MemorySearchTool) memoryFiles() []string {
	root := strings.TrimSpace(t.config.WorkspacePath)
	if root == "" {
		root = "."
	}

	var files []string
	if t.config.MemoryFile != "" {
		files = append(files, joinIfRelative(root, t.config.MemoryFile))
	}
	if t.config.Directory != "" {
		dir := joinIfRelative(root, t.config.Directory)
		entries, err := os.ReadDir(dir)
		if err == nil {
			for _, entry := range entries {
				if entry.IsDir() {
					continue
				}
				if strings.HasSuffix(strings.ToLower(entry.Name()), ".md") {
					files = append(files, filepath.Join(dir, entry.Name()))
				}
			}
		}
	}

	seen := make(map[string]bool, len(files))
	out := files[:0]
	for _, f := range files {
		if !seen[f] {
			seen[f] = true
			out = append(out, f)
		}
	}
	return out
}

func joinIfRelative(base, path string) string {
	if filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(base, path)
}

// paragraph is the unit of ranking: one blank-line-separated block of a
// memory file, with its token bag precomputed.
type paragraph struct {
	file   string
	text   string
	tokens []string
}

func loadParagraphs(files []string) []paragraph {
	var out []paragraph
	for _, path := range files {
		content, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		for _, block := range strings.Split(string(content), "\n\n") {
			block = strings.TrimSpace(block)
			if block == "" {
				continue
			}
			tokens := tokenize(block)
			if len(tokens) == 0 {
				continue
			}
			out = append(out, paragraph{file: path, text: block, tokens: tokens})
		}
	}
	return out
}

func tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

// rank scores every paragraph and returns the top hits. Lexical scoring
// counts exact substring occurrences; tfidf scores cosine similarity over
// the corpus; hybrid sums both so literal recall of a name beats a
// vocabulary coincidence but near-miss wording still surfaces.
func rank(paragraphs []paragraph, query, mode string, limit, snippetLen int) []SearchResult {
	needle := strings.ToLower(query)
	queryTokens := tokenize(query)

	var idx *tfidfIndex
	if mode != "lexical" {
		idx = buildTFIDF(paragraphs)
	}

	type scored struct {
		p     paragraph
		score float64
	}
	var candidates []scored
	for _, p := range paragraphs {
		var score float64
		if mode != "tfidf" {
			score += float64(strings.Count(strings.ToLower(p.text), needle))
		}
		if idx != nil {
			score += cosine(idx.vectorize(queryTokens), idx.vectorize(p.tokens))
		}
		if score > 0 {
			candidates = append(candidates, scored{p: p, score: score})
		}
	}

	sort.SliceStable(candidates, func(i, j int) bool { return candidates[i].score > candidates[j].score })
	if len(candidates) > limit {
		candidates = candidates[:limit]
	}

	hits := make([]SearchResult, 0, len(candidates))
	for _, c := range candidates {
		hits = append(hits, SearchResult{
			File:    c.p.file,
			Snippet: snippetAround(c.p.text, needle, snippetLen),
			Score:   c.score,
		})
	}
	return hits
}

// snippetAround returns a window of text centered on the first occurrence
// of needle, or the paragraph's head when it doesn't occur literally.
func snippetAround(text, needle string, maxLen int) string {
	runes := []rune(text)
	center := 0
	if i := strings.Index(strings.ToLower(text), needle); i >= 0 {
		center = len([]rune(text[:i]))
	}

	start := center - maxLen/4
	if start < 0 {
		start = 0
	}
	end := start + maxLen
	if end > len(runes) {
		end = len(runes)
	}

	snippet := strings.TrimSpace(string(runes[start:end]))
	if start > 0 {
		snippet = "..." + snippet
	}
	if end < len(runes) {
		snippet += "..."
	}
	return snippet
}

// tfidfIndex holds document frequencies over the loaded paragraphs.
type tfidfIndex struct {
	docFreq map[string]int
	docs    int
}

func buildTFIDF(paragraphs []paragraph) *tfidfIndex {
	idx := &tfidfIndex{docFreq: make(map[string]int), docs: len(paragraphs)}
	for _, p := range paragraphs {
		seen := make(map[string]bool, len(p.tokens))
		for _, tok := range p.tokens {
			if !seen[tok] {
				seen[tok] = true
				idx.docFreq[tok]++
			}
		}
	}
	return idx
}

func (idx *tfidfIndex) vectorize(tokens []string) map[string]float64 {
	counts := make(map[string]int, len(tokens))
	for _, tok := range tokens {
		counts[tok]++
	}
	vec := make(map[string]float64, len(counts))
	for tok, n := range counts {
		df := idx.docFreq[tok]
		if df == 0 {
			continue
		}
		vec[tok] = float64(n) * math.Log(1+float64(idx.docs)/float64(df))
	}
	return vec
}

func cosine(a, b map[string]float64) float64 {
	var dot, na, nb float64
	for tok, av := range a {
		dot += av * b[tok]
		na += av * av
	}
	for _, bv := range b {
		nb += bv * bv
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
