package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	md "github.com/JohannesKaufmann/html-to-markdown"
	"github.com/PuerkitoBio/goquery"
	einotool "github.com/cloudwego/eino/components/tool"
)

const webfetchDescription = `Fetches content from a URL and returns it in the requested format.

Usage notes:
  - The URL must be a fully-formed valid URL starting with http:// or https://
  - This tool is read-only and does not modify any files
  - Results may be truncated if the content is very large (>5MB limit)
  - Use format "markdown" for readable content, "text" for plain text, "html" for raw HTML`

const (
	maxResponseSize    = 5 * 1024 * 1024
	defaultHTTPTimeout = 30 * time.Second
	maxHTTPTimeout     = 120 * time.Second
)

// WebFetchTool fetches web content.
type WebFetchTool struct {
	client *http.Client
}

// WebFetchInput represents the input for the webfetch tool.
type WebFetchInput struct {
	URL     string `json:"url"`
	Format  string `json:"format"`
	Timeout int    `json:"timeout,omitempty"` // seconds
}

// NewWebFetchTool creates a new webfetch tool.
func NewWebFetchTool() *WebFetchTool {
	return &WebFetchTool{
		client: &http.Client{Timeout: defaultHTTPTimeout},
	}
}

func (t *WebFetchTool) ID() string          { return "webfetch" }
func (t *WebFetchTool) Description() string { return webfetchDescription }

func (t *WebFetchTool) Parameters() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"url": {
				"type": "string",
				"description": "The URL to fetch content from"
			},
			"format": {
				"type": "string",
				"description": "The format to return the content in (text, markdown, or html)"
			},
			"timeout": {
				"type": "integer",
				"description": "Optional timeout in seconds (max 120)"
			}
		},
		"required": ["url", "format"]
	}`)
}

func (t *WebFetchTool) Execute(ctx context.Context, input json.RawMessage, toolCtx *Context) (*Result, error) {
	var params WebFetchInput
	if err := json.Unmarshal(input, &params); err != nil {
		return nil, fmt.Errorf("invalid input: %w", err)
	}

	if !strings.HasPrefix(params.URL, "http://") && !strings.HasPrefix(params.URL, "https://") {
		return nil, fmt.Errorf("URL must start with http:// or https://")
	}
	if params.Format != "text" && params.Format != "markdown" && params.Format != "html" {
		return nil, fmt.Errorf("format must be 'text', 'markdown', or 'html'")
	}

	timeout := defaultHTTPTimeout
	if params.Timeout > 0 {
		timeout = time.Duration(params.Timeout) * time.Second
		if timeout > maxHTTPTimeout {
			timeout = maxHTTPTimeout
		}
	}

	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, "GET", params.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36")
	req.Header.Set("Accept-Language", "en-US,en;q=0.9")

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("request failed with status code: %d", resp.StatusCode)
	}
	if resp.ContentLength > maxResponseSize {
		return nil, fmt.Errorf("response too large (exceeds 5MB limit)")
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize+1))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if len(body) > maxResponseSize {
		return nil, fmt.Errorf("response too large (exceeds 5MB limit)")
	}

	content := string(body)
	contentType := resp.Header.Get("Content-Type")
	isHTML := strings.Contains(contentType, "text/html")

	var output string
	switch params.Format {
	case "markdown":
		if isHTML {
			output, err = convertHTMLToMarkdown(content)
			if err != nil {
				return nil, fmt.Errorf("convert HTML to markdown: %w", err)
			}
		} else {
			output = content
		}
	case "text":
		if isHTML {
			output, err = extractTextFromHTML(content)
			if err != nil {
				return nil, fmt.Errorf("extract text from HTML: %w", err)
			}
		} else {
			output = content
		}
	default:
		output = content
	}

	return &Result{
		Title:  fmt.Sprintf("%s (%s)", params.URL, contentType),
		Output: output,
	}, nil
}

func (t *WebFetchTool) EinoTool() einotool.InvokableTool {
	return &einoToolWrapper{tool: t}
}

// extractTextFromHTML strips scripts, styles and other non-content elements
// and returns the remaining text.
func extractTextFromHTML(html string) (string, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return "", err
	}

	doc.Find("script, style, noscript, iframe, object, embed").Remove()
	return strings.TrimSpace(doc.Text()), nil
}

func convertHTMLToMarkdown(html string) (string, error) {
	converter := md.NewConverter("", true, &md.Options{
		HeadingStyle:     "atx",
		HorizontalRule:   "---",
		BulletListMarker: "-",
		CodeBlockStyle:   "fenced",
		EmDelimiter:      "*",
	})
	converter.Remove("script", "style", "meta", "link")

	return converter.ConvertString(html)
}
