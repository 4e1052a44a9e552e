package welltool

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/agentcore/core/internal/registry"
	"github.com/agentcore/core/internal/stream"
)

const (
	webFetchMaxBodyBytes   = 5 * 1024 * 1024
	webFetchMaxOutputBytes = 100 * 1024
	webFetchTimeout        = 30 * time.Second
)

var webFetchSchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"url":    map[string]any{"type": "string", "minLength": 1},
		"format": map[string]any{"type": "string", "enum": []any{"text", "markdown", "html"}},
	},
	"required": []any{"url"},
}

// WebFetchDef builds the WebFetch tool: fetches a URL with a 5MB/30s
// cap, converts HTML to readable text unless format=html, and reports
// cross-host redirects instead of silently following them, per
// spec.md §4.F. Grounded on Dhanuzh-dcode's tool/webfetch.go, with its
// bare http.Client swapped for internal/stream's redirect-reporting
// client.
func WebFetchDef() *registry.Def {
	return &registry.Def{
		Name:            "webfetch",
		Description:     "Fetch a URL and return its content as text or markdown. 5MB/30s limits. Cross-host redirects are reported, not followed.",
		Schema:          webFetchSchema,
		ReadOnly:        true,
		ConcurrencySafe: true,
		Validate:        mustValidate("webfetch", webFetchSchema),
		Invoke: func(ctx context.Context, ec registry.ExecContext, input map[string]any) <-chan registry.InvokeEvent {
			ch := make(chan registry.InvokeEvent, 1)
			go func() {
				defer close(ch)
				ch <- registry.InvokeEvent{Result: doWebFetch(ctx, input)}
			}()
			return ch
		},
	}
}

func doWebFetch(ctx context.Context, input map[string]any) *registry.Result {
	url, _ := input["url"].(string)
	if !strings.HasPrefix(url, "http://") && !strings.HasPrefix(url, "https://") {
		url = "https://" + url
	}
	format, _ := input["format"].(string)
	if format == "" {
		format = "text"
	}

	var redirected *stream.Redirect
	client := stream.NewClientWithRedirectPolicy(&http.Client{Timeout: webFetchTimeout}, func(r stream.Redirect) {
		redirected = &r
	})

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return &registry.Result{Output: fmt.Sprintf("error creating request: %v", err), IsError: true}
	}
	req.Header.Set("User-Agent", "agentcore/1.0 (AI coding agent)")
	req.Header.Set("Accept", "text/html,application/json,text/plain,*/*")

	resp, err := client.Do(req)
	if err != nil {
		return &registry.Result{Output: fmt.Sprintf("error fetching url: %v", err), IsError: true}
	}
	defer resp.Body.Close()

	if redirected != nil {
		return &registry.Result{
			Output: fmt.Sprintf("redirected to a different host: %s -> %s (not followed)", redirected.Original, redirected.Target),
			Data:   map[string]any{"redirect": redirected},
		}
	}

	if resp.StatusCode != http.StatusOK {
		return &registry.Result{Output: fmt.Sprintf("HTTP %d: %s", resp.StatusCode, resp.Status), IsError: true}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, webFetchMaxBodyBytes))
	if err != nil {
		return &registry.Result{Output: fmt.Sprintf("error reading response: %v", err), IsError: true}
	}

	content := string(body)
	contentType := resp.Header.Get("Content-Type")
	if strings.Contains(contentType, "text/html") && format != "html" {
		content = htmlToText(content)
	}
	if len(content) > webFetchMaxOutputBytes {
		content = content[:webFetchMaxOutputBytes] + fmt.Sprintf("\n\n... (content truncated at %d bytes)", webFetchMaxOutputBytes)
	}

	header := fmt.Sprintf("URL: %s\nContent-Type: %s\nSize: %d bytes\n\n", url, contentType, len(body))
	return &registry.Result{Output: header + content}
}

var (
	webFetchScriptRe  = regexp.MustCompile(`(?is)<script[^>]*>.*?</script>`)
	webFetchStyleRe   = regexp.MustCompile(`(?is)<style[^>]*>.*?</style>`)
	webFetchPOpenRe   = regexp.MustCompile(`(?is)<(?:p|div)[^>]*>`)
	webFetchPCloseRe  = regexp.MustCompile(`(?is)</(?:p|div)>`)
	webFetchBrRe      = regexp.MustCompile(`(?is)<br\s*/?>`)
	webFetchLiRe      = regexp.MustCompile(`(?is)<li[^>]*>`)
	webFetchLinkRe    = regexp.MustCompile(`(?is)<a[^>]*href="([^"]*)"[^>]*>(.*?)</a>`)
	webFetchBoldRe    = regexp.MustCompile(`(?is)<(?:b|strong)[^>]*>(.*?)</(?:b|strong)>`)
	webFetchItalicRe  = regexp.MustCompile(`(?is)<(?:i|em)[^>]*>(.*?)</(?:i|em)>`)
	webFetchCodeRe    = regexp.MustCompile(`(?is)<code[^>]*>(.*?)</code>`)
	webFetchPreRe     = regexp.MustCompile(`(?is)<pre[^>]*>(.*?)</pre>`)
	webFetchTagRe     = regexp.MustCompile(`<[^>]+>`)
	webFetchNewlineRe = regexp.MustCompile(`\n{3,}`)
)

// htmlToText converts HTML to readable plain text via a fixed sequence
// of tag substitutions, grounded on Dhanuzh-dcode's htmlToText.
func htmlToText(html string) string {
	html = webFetchScriptRe.ReplaceAllString(html, "")
	html = webFetchStyleRe.ReplaceAllString(html, "")
	for i := 6; i >= 1; i-- {
		re := regexp.MustCompile(fmt.Sprintf(`(?is)<h%d[^>]*>(.*?)</h%d>`, i, i))
		html = re.ReplaceAllString(html, "\n"+strings.Repeat("#", i)+" $1\n")
	}
	html = webFetchPOpenRe.ReplaceAllString(html, "\n")
	html = webFetchPCloseRe.ReplaceAllString(html, "\n")
	html = webFetchBrRe.ReplaceAllString(html, "\n")
	html = webFetchLiRe.ReplaceAllString(html, "\n- ")
	html = webFetchLinkRe.ReplaceAllString(html, "$2 ($1)")
	html = webFetchBoldRe.ReplaceAllString(html, "**$1**")
	html = webFetchItalicRe.ReplaceAllString(html, "*$1*")
	html = webFetchCodeRe.ReplaceAllString(html, "`$1`")
	html = webFetchPreRe.ReplaceAllString(html, "\n```\n$1\n```\n")
	html = webFetchTagRe.ReplaceAllString(html, "")

	html = strings.NewReplacer(
		"&amp;", "&", "&lt;", "<", "&gt;", ">", "&quot;", "\"", "&#39;", "'", "&nbsp;", " ",
	).Replace(html)

	html = webFetchNewlineRe.ReplaceAllString(html, "\n\n")
	return strings.TrimSpace(html)
}
