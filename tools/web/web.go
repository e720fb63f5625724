// Package web provides the fetch_web_page tool: download a page and return it as Markdown.
package web

import (
	"context"
	"errors"
	"fmt"
	"html"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	htmltomarkdown "github.com/JohannesKaufmann/html-to-markdown/v2"
	"github.com/JohannesKaufmann/html-to-markdown/v2/converter"

	"github.com/tgsearchbot/toolloop"
)

const (
	defaultMaxChars = 20000
	defaultTimeout  = 10 * time.Second
	maxTimeout      = 30 * time.Second
	maxBodyBytes    = 5 << 20
	maxRedirects    = 10
	userAgent       = "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/122.0.0.0 Safari/537.36"
)

var titlePattern = regexp.MustCompile(`(?is)<title[^>]*>(.*?)</title>`)

// Option configures the fetcher.
type Option func(*Fetcher)

// WithHTTPClient sets the client used for requests.
func WithHTTPClient(c *http.Client) Option {
	return func(f *Fetcher) {
		if c != nil {
			f.client = c
		}
	}
}

// WithLogger sets the logger. Default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(f *Fetcher) {
		if logger != nil {
			f.logger = logger
		}
	}
}

// Fetcher implements fetch_web_page.
type Fetcher struct {
	client *http.Client
	logger *slog.Logger
}

// New returns a Fetcher with a redirect-limited client.
func New(opts ...Option) *Fetcher {
	f := &Fetcher{
		client: &http.Client{
			CheckRedirect: func(_ *http.Request, via []*http.Request) error {
				if len(via) >= maxRedirects {
					return fmt.Errorf("stopped after %d redirects", maxRedirects)
				}
				return nil
			},
		},
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Entry returns the tool registration for fetch_web_page.
func (f *Fetcher) Entry() toolloop.Entry {
	return toolloop.Entry{
		Definition: toolloop.ToolDefinition{
			Name:        "fetch_web_page",
			Description: "Fetch a web page and return its content as Markdown",
			Category:    "web",
			Enabled:     true,
			Parameters: []toolloop.ToolParameterSpec{
				{Name: "url", Type: toolloop.String, Required: true, Description: "page URL; https:// is assumed when no scheme is given"},
				{Name: "max_chars", Type: toolloop.Number, Description: "maximum characters of content to return", Default: defaultMaxChars},
				{Name: "timeout_secs", Type: toolloop.Number, Description: "request timeout in seconds (max 30)", Default: int(defaultTimeout / time.Second)},
			},
		},
		Handler: f.handle,
	}
}

// Register adds fetch_web_page to reg.
func (f *Fetcher) Register(reg *toolloop.Registry) error {
	if err := reg.RegisterAll(f.Entry()); err != nil {
		return fmt.Errorf("web: %w", err)
	}
	return nil
}

// Page is the result of fetching one URL.
type Page struct {
	URL       string `json:"url"`
	Domain    string `json:"domain"`
	Title     string `json:"title,omitempty"`
	Content   string `json:"content"`
	Truncated bool   `json:"truncated,omitempty"`
}

func (f *Fetcher) handle(ctx context.Context, args map[string]any) (any, error) {
	raw, _ := args["url"].(string)
	maxChars := intArg(args, "max_chars", defaultMaxChars)
	timeout := time.Duration(intArg(args, "timeout_secs", 0)) * time.Second
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return f.Fetch(ctx, raw, maxChars, min(timeout, maxTimeout))
}

// Fetch downloads target and converts it to Markdown, keeping at most maxChars characters.
func (f *Fetcher) Fetch(ctx context.Context, target string, maxChars int, timeout time.Duration) (Page, error) {
	u, err := normalizeURL(target)
	if err != nil {
		return Page{}, err
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return Page{}, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,text/plain;q=0.9,*/*;q=0.8")
	req.Header.Set("Accept-Language", "en-US,en;q=0.5")

	start := time.Now()
	resp, err := f.client.Do(req)
	if err != nil {
		return Page{}, fmt.Errorf("fetch %s: %w", u, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= http.StatusBadRequest {
		return Page{}, fmt.Errorf("fetch %s: HTTP status %d", u, resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return Page{}, fmt.Errorf("read %s: %w", u, err)
	}

	final := resp.Request.URL
	page := Page{URL: final.String(), Domain: final.Hostname()}
	mediaType, _, _ := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	switch {
	case mediaType == "" || strings.Contains(mediaType, "html"):
		page.Title = extractTitle(body)
		page.Content, err = toMarkdown(string(body), final)
		if err != nil {
			return Page{}, err
		}
	case strings.HasPrefix(mediaType, "text/"), mediaType == "application/json":
		page.Content = string(body)
	default:
		return Page{}, fmt.Errorf("unsupported content type %q", mediaType)
	}
	if !utf8.ValidString(page.Content) {
		return Page{}, errors.New("page content is not valid UTF-8")
	}

	page.Content, page.Truncated = truncate(strings.TrimSpace(page.Content), maxChars)
	f.logger.DebugContext(ctx, "web page fetched",
		"url", page.URL, "status", resp.StatusCode, "bytes", len(body), "duration", time.Since(start))
	return page, nil
}

func normalizeURL(raw string) (*url.URL, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, errors.New("url must not be empty")
	}
	if !strings.HasPrefix(raw, "http://") && !strings.HasPrefix(raw, "https://") {
		raw = "https://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return nil, fmt.Errorf("invalid url %q", raw)
	}
	return u, nil
}

func toMarkdown(doc string, base *url.URL) (string, error) {
	domain := base.Scheme + "://" + base.Host
	md, err := htmltomarkdown.ConvertString(doc, converter.WithDomain(domain))
	if err != nil {
		return "", fmt.Errorf("convert html: %w", err)
	}
	return md, nil
}

func extractTitle(body []byte) string {
	m := titlePattern.FindSubmatch(body)
	if m == nil {
		return ""
	}
	return strings.Join(strings.Fields(html.UnescapeString(string(m[1]))), " ")
}

func truncate(s string, maxChars int) (string, bool) {
	if maxChars <= 0 || utf8.RuneCountInString(s) <= maxChars {
		return s, false
	}
	runes := []rune(s)
	return string(runes[:maxChars]), true
}

func intArg(args map[string]any, key string, fallback int) int {
	if f, ok := args[key].(float64); ok && f > 0 {
		return int(f)
	}
	return fallback
}
