package welltool

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"regexp"
	"strings"

	"github.com/agentcore/core/internal/registry"
)

var webSearchSchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"query":       map[string]any{"type": "string", "minLength": 1},
		"provider":    map[string]any{"type": "string", "enum": []any{"duckduckgo", "brave", "google", "bing"}},
		"max_results": map[string]any{"type": "integer", "minimum": 1},
	},
	"required": []any{"query"},
}

// WebSearchDef builds the WebSearch tool: provider-switched search
// (duckduckgo's HTML endpoint needs no API key, brave/google/bing read
// their API keys from the environment), per spec.md §4.F. Grounded on
// Dhanuzh-dcode's tool/websearch.go.
func WebSearchDef() *registry.Def {
	return &registry.Def{
		Name:            "websearch",
		Description:     "Search the web and return titles, URLs, and snippets. Providers: duckduckgo (default), brave, google, bing.",
		Schema:          webSearchSchema,
		ReadOnly:        true,
		ConcurrencySafe: true,
		Validate:        mustValidate("websearch", webSearchSchema),
		Invoke: func(ctx context.Context, ec registry.ExecContext, input map[string]any) <-chan registry.InvokeEvent {
			ch := make(chan registry.InvokeEvent, 1)
			go func() {
				defer close(ch)
				ch <- registry.InvokeEvent{Result: doWebSearch(ctx, input)}
			}()
			return ch
		},
	}
}

type searchResult struct {
	Title   string
	URL     string
	Snippet string
}

func doWebSearch(ctx context.Context, input map[string]any) *registry.Result {
	query, _ := input["query"].(string)
	provider := "duckduckgo"
	if p, _ := input["provider"].(string); p != "" {
		provider = strings.ToLower(p)
	}
	maxResults := 10
	if n, ok := asInt(input["max_results"]); ok && n > 0 {
		maxResults = n
	}

	var (
		results []searchResult
		err     error
	)
	switch provider {
	case "duckduckgo":
		results, err = searchDuckDuckGo(ctx, query, maxResults)
	case "brave":
		results, err = searchBrave(ctx, query, maxResults)
	case "google":
		results, err = searchGoogle(ctx, query, maxResults)
	case "bing":
		results, err = searchBing(ctx, query, maxResults)
	default:
		return &registry.Result{Output: fmt.Sprintf("unknown search provider: %s", provider), IsError: true}
	}
	if err != nil {
		return &registry.Result{Output: fmt.Sprintf("search error: %v", err), IsError: true}
	}

	return &registry.Result{Output: formatSearchResults(results, query, provider)}
}

func searchDuckDuckGo(ctx context.Context, query string, maxResults int) ([]searchResult, error) {
	searchURL := fmt.Sprintf("https://html.duckduckgo.com/html/?q=%s", url.QueryEscape(query))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, searchURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", "agentcore/1.0")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("search failed with status: %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	return parseDuckDuckGoHTML(string(body), maxResults), nil
}

var ddgResultRe = regexp.MustCompile(`(?is)<a[^>]*class="result__a"[^>]*href="([^"]*)"[^>]*>(.*?)</a>.*?<a[^>]*class="result__snippet"[^>]*>(.*?)</a>`)

// parseDuckDuckGoHTML extracts title/url/snippet triples from DuckDuckGo's
// server-rendered HTML results page via a single combined regex rather
// than a full HTML parser, matching the teacher's simplified approach.
func parseDuckDuckGoHTML(html string, maxResults int) []searchResult {
	matches := ddgResultRe.FindAllStringSubmatch(html, maxResults)
	results := make([]searchResult, 0, len(matches))
	for _, m := range matches {
		results = append(results, searchResult{
			URL:     m[1],
			Title:   stripTags(m[2]),
			Snippet: stripTags(m[3]),
		})
	}
	return results
}

func stripTags(s string) string {
	return strings.TrimSpace(webFetchTagRe.ReplaceAllString(s, ""))
}

func searchBrave(ctx context.Context, query string, maxResults int) ([]searchResult, error) {
	apiKey := os.Getenv("BRAVE_API_KEY")
	if apiKey == "" {
		return nil, fmt.Errorf("BRAVE_API_KEY environment variable not set")
	}
	searchURL := fmt.Sprintf("https://api.search.brave.com/res/v1/web/search?q=%s&count=%d", url.QueryEscape(query), maxResults)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, searchURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("X-Subscription-Token", apiKey)
	req.Header.Set("Accept", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("brave search failed (%d): %s", resp.StatusCode, string(body))
	}

	var braveResp struct {
		Web struct {
			Results []struct {
				Title       string `json:"title"`
				URL         string `json:"url"`
				Description string `json:"description"`
			} `json:"results"`
		} `json:"web"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&braveResp); err != nil {
		return nil, err
	}

	results := make([]searchResult, 0, len(braveResp.Web.Results))
	for _, r := range braveResp.Web.Results {
		results = append(results, searchResult{Title: r.Title, URL: r.URL, Snippet: r.Description})
	}
	return results, nil
}

func searchGoogle(ctx context.Context, query string, maxResults int) ([]searchResult, error) {
	apiKey := os.Getenv("GOOGLE_API_KEY")
	searchEngineID := os.Getenv("GOOGLE_SEARCH_ENGINE_ID")
	if apiKey == "" || searchEngineID == "" {
		return nil, fmt.Errorf("GOOGLE_API_KEY and GOOGLE_SEARCH_ENGINE_ID required")
	}
	searchURL := fmt.Sprintf("https://www.googleapis.com/customsearch/v1?key=%s&cx=%s&q=%s&num=%d",
		apiKey, searchEngineID, url.QueryEscape(query), maxResults)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, searchURL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("google search failed (%d): %s", resp.StatusCode, string(body))
	}

	var googleResp struct {
		Items []struct {
			Title   string `json:"title"`
			Link    string `json:"link"`
			Snippet string `json:"snippet"`
		} `json:"items"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&googleResp); err != nil {
		return nil, err
	}
	results := make([]searchResult, 0, len(googleResp.Items))
	for _, r := range googleResp.Items {
		results = append(results, searchResult{Title: r.Title, URL: r.Link, Snippet: r.Snippet})
	}
	return results, nil
}

func searchBing(ctx context.Context, query string, maxResults int) ([]searchResult, error) {
	apiKey := os.Getenv("BING_API_KEY")
	if apiKey == "" {
		return nil, fmt.Errorf("BING_API_KEY environment variable not set")
	}
	searchURL := fmt.Sprintf("https://api.bing.microsoft.com/v7.0/search?q=%s&count=%d", url.QueryEscape(query), maxResults)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, searchURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Ocp-Apim-Subscription-Key", apiKey)

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("bing search failed (%d): %s", resp.StatusCode, string(body))
	}

	var bingResp struct {
		WebPages struct {
			Value []struct {
				Name    string `json:"name"`
				URL     string `json:"url"`
				Snippet string `json:"snippet"`
			} `json:"value"`
		} `json:"webPages"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&bingResp); err != nil {
		return nil, err
	}
	results := make([]searchResult, 0, len(bingResp.WebPages.Value))
	for _, r := range bingResp.WebPages.Value {
		results = append(results, searchResult{Title: r.Name, URL: r.URL, Snippet: r.Snippet})
	}
	return results, nil
}

func formatSearchResults(results []searchResult, query, provider string) string {
	if len(results) == 0 {
		return fmt.Sprintf("no results for %q via %s", query, provider)
	}
	var b strings.Builder
	fmt.Fprintf(&b, "search results for %q (%s):\n\n", query, provider)
	for i, r := range results {
		fmt.Fprintf(&b, "%d. %s\n   %s\n   %s\n\n", i+1, r.Title, r.URL, r.Snippet)
	}
	return strings.TrimSpace(b.String())
}
