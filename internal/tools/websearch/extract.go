package websearch

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"
)

// ContentExtractor turns a web page into the plain text a model can read:
// fetch, strip chrome, pull title/description, flatten the main content
// container. Every fetch passes the egress guard first — sub-agents browse
// unattended, so a model steered toward localhost, a private subnet, or a
// cloud metadata endpoint has to be refused here rather than by an
// operator who isn't watching.
type ContentExtractor struct {
	client     *http.Client
	allowLocal bool // tests run against httptest servers on loopback
}

// NewContentExtractor creates an extractor with the egress guard enabled.
func NewContentExtractor() *ContentExtractor {
	return &ContentExtractor{
		client: &http.Client{Timeout: 15 * time.Second},
	}
}

// NewContentExtractorForTesting creates an extractor that permits loopback
// targets. Only tests should construct one.
func NewContentExtractorForTesting() *ContentExtractor {
	e := NewContentExtractor()
	e.allowLocal = true
	return e
}

// deniedHostnames are never fetched regardless of what they resolve to.
var deniedHostnames = map[string]bool{
	"localhost":                true,
	"metadata.google.internal": true,
}

// deniedHostSuffixes mark name spaces that only exist inside a network.
var deniedHostSuffixes = []string{".localhost", ".local", ".internal"}

// guardURL is the egress check: http/https only, no denied hostname
// classes, no literal private addresses, and no public names that resolve
// to private addresses. Unresolvable names pass — an egress proxy may own
// DNS — and the dial then fails on its own.
func guardURL(raw string) error {
	parsed, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid URL: %w", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("URL scheme must be http or https, got: %s", parsed.Scheme)
	}
	host := strings.ToLower(strings.TrimSuffix(parsed.Hostname(), "."))
	if host == "" {
		return fmt.Errorf("URL must have a hostname")
	}

	if deniedHostnames[host] {
		return fmt.Errorf("hostname %q is not allowed", host)
	}
	for _, suffix := range deniedHostSuffixes {
		if strings.HasSuffix(host, suffix) {
			return fmt.Errorf("hostname %q is not allowed", host)
		}
	}

	if ip := net.ParseIP(strings.Trim(host, "[]")); ip != nil {
		if isReservedIP(ip) {
			return fmt.Errorf("URL targets a private/reserved IP address")
		}
		return nil
	}

	ips, err := net.LookupIP(host)
	if err != nil {
		return nil
	}
	for _, ip := range ips {
		if isReservedIP(ip) {
			return fmt.Errorf("URL resolves to private/reserved IP address")
		}
	}
	return nil
}

// isReservedIP reports whether an address must never be fetched: loopback,
// link-local (which covers the 169.254.169.254 metadata endpoint),
// private ranges, unspecified, and multicast.
func isReservedIP(ip net.IP) bool {
	if ip == nil {
		return false
	}
	return ip.IsLoopback() ||
		ip.IsLinkLocalUnicast() ||
		ip.IsLinkLocalMulticast() ||
		ip.IsPrivate() ||
		ip.IsUnspecified() ||
		ip.IsMulticast()
}

// fetchLimit caps how much of a response body is read.
const fetchLimit = 10 * 1024 * 1024

// extractCap bounds the returned text.
const extractCap = 10000

// Extract fetches targetURL and returns its readable text.
func (e *ContentExtractor) Extract(ctx context.Context, targetURL string) (string, error) {
	if !e.allowLocal {
		if err := guardURL(targetURL); err != nil {
			return "", fmt.Errorf("URL validation failed: %w", err)
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, targetURL, nil)
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", "Mozilla/5.0 (compatible; SubagentBot/1.0)")

	resp, err := e.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to fetch URL: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("HTTP %d", resp.StatusCode)
	}
	contentType := resp.Header.Get("Content-Type")
	if !strings.Contains(contentType, "text/html") && !strings.Contains(contentType, "text/plain") {
		return "", fmt.Errorf("unsupported content type: %s", contentType)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, fetchLimit))
	if err != nil {
		return "", fmt.Errorf("failed to read body: %w", err)
	}

	content := readablePage(string(body))
	if len(content) > extractCap {
		content = content[:extractCap] + "..."
	}
	return content, nil
}

// chromeTags are stripped wholesale before any content extraction: they
// hold navigation, styling, and scripts, never the article.
var chromeTags = []string{"script", "style", "noscript", "iframe", "nav", "header", "footer", "aside"}

// contentPatterns locate the main content container, most specific first.
var contentPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?is)<main[^>]*>(.*?)</main>`),
	regexp.MustCompile(`(?is)<article[^>]*>(.*?)</article>`),
	regexp.MustCompile(`(?is)<div[^>]*class=["'][^"']*content[^"']*["'][^>]*>(.*?)</div>`),
	regexp.MustCompile(`(?is)<div[^>]*class=["'][^"']*article[^"']*["'][^>]*>(.*?)</div>`),
	regexp.MustCompile(`(?is)<div[^>]*id=["']content["'][^>]*>(.*?)</div>`),
	regexp.MustCompile(`(?is)<div[^>]*id=["']main["'][^>]*>(.*?)</div>`),
	regexp.MustCompile(`(?is)<div[^>]*role=["']main["'][^>]*>(.*?)</div>`),
}

var (
	titlePatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)<title[^>]*>(.*?)</title>`),
		regexp.MustCompile(`(?i)<meta[^>]*property=["']og:title["'][^>]*content=["']([^"']*)["']`),
		regexp.MustCompile(`(?i)<h1[^>]*>(.*?)</h1>`),
	}
	descriptionPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)<meta[^>]*name=["']description["'][^>]*content=["']([^"']*)["']`),
		regexp.MustCompile(`(?i)<meta[^>]*property=["']og:description["'][^>]*content=["']([^"']*)["']`),
	}
	bodyPattern = regexp.MustCompile(`(?is)<body[^>]*>(.*?)</body>`)
	anyTag      = regexp.MustCompile(`<[^>]*>`)
	runSpaces   = regexp.MustCompile(`[^\S\n]+`)
	runNewlines = regexp.MustCompile(`\n{3,}`)
)

// minContainerText is how much text a content container must hold before
// it is trusted over falling back to the whole body.
const minContainerText = 200

// readablePage implements the simplified readability pass: strip chrome,
// take the first match of a title/description pattern, flatten the best
// content container (or the body) to text, and assemble the result.
func readablePage(html string) string {
	for _, tag := range chromeTags {
		html = stripTag(html, tag)
	}

	title := firstMatch(titlePatterns, html)
	description := firstMatch(descriptionPatterns, html)

	var content string
	for _, re := range contentPatterns {
		if m := re.FindStringSubmatch(html); len(m) > 1 {
			text := flattenHTML(m[1])
			if len(strings.TrimSpace(text)) > minContainerText {
				content = text
				break
			}
		}
	}
	if content == "" {
		if m := bodyPattern.FindStringSubmatch(html); len(m) > 1 {
			content = flattenHTML(m[1])
		}
	}
	content = tidyText(content)

	var out strings.Builder
	if title != "" {
		out.WriteString("Title: ")
		out.WriteString(title)
		out.WriteString("\n\n")
	}
	if description != "" {
		out.WriteString("Description: ")
		out.WriteString(description)
		out.WriteString("\n\n")
	}
	out.WriteString(content)
	return out.String()
}

func firstMatch(patterns []*regexp.Regexp, html string) string {
	for _, re := range patterns {
		if m := re.FindStringSubmatch(html); len(m) > 1 {
			if text := tidyText(m[1]); text != "" {
				return text
			}
		}
	}
	return ""
}

// stripTag removes a tag and everything inside it.
func stripTag(html, tag string) string {
	re := regexp.MustCompile(`(?i)<` + tag + `[^>]*>.*?</` + tag + `>`)
	return re.ReplaceAllString(html, "")
}

// blockBoundary matches open or close tags of block-level elements, which
// become newlines so paragraph structure survives tag stripping.
var blockBoundary = regexp.MustCompile(`(?i)</?(?:p|div|h[1-6]|li|br)[^>]*>`)

// flattenHTML converts an HTML fragment to plain text.
func flattenHTML(html string) string {
	html = blockBoundary.ReplaceAllString(html, "\n")
	return anyTag.ReplaceAllString(html, "")
}

// htmlEntities maps the handful of entities that actually show up in page
// text worth keeping.
var htmlEntities = [][2]string{
	{"&nbsp;", " "},
	{"&amp;", "&"},
	{"&lt;", "<"},
	{"&gt;", ">"},
	{"&quot;", `"`},
	{"&#39;", "'"},
	{"&apos;", "'"},
}

// tidyText decodes entities and normalizes whitespace while preserving
// paragraph breaks (at most one blank line).
func tidyText(text string) string {
	for _, ent := range htmlEntities {
		text = strings.ReplaceAll(text, ent[0], ent[1])
	}

	lines := strings.Split(text, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimSpace(runSpaces.ReplaceAllString(line, " "))
	}
	text = strings.Join(lines, "\n")
	text = runNewlines.ReplaceAllString(text, "\n\n")
	return strings.TrimSpace(text)
}

// maxBatchConcurrency limits concurrent extractions in ExtractBatch.
const maxBatchConcurrency = 5

// ExtractBatch extracts several URLs concurrently. Failed URLs are simply
// absent from the result map; search-result enrichment is best-effort.
func (e *ContentExtractor) ExtractBatch(ctx context.Context, urls []string) map[string]string {
	type extracted struct {
		url     string
		content string
	}
	results := make(chan extracted, len(urls))
	sem := make(chan struct{}, maxBatchConcurrency)

	for _, u := range urls {
		sem <- struct{}{}
		go func(target string) {
			defer func() { <-sem }()
			content, err := e.Extract(ctx, target)
			if err != nil {
				content = ""
			}
			results <- extracted{url: target, content: content}
		}(u)
	}

	out := make(map[string]string)
	for range urls {
		r := <-results
		if r.content != "" {
			out[r.url] = r.content
		}
	}
	return out
}
