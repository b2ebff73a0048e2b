package webpage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"receipt-reconciler/internal/session"
)

const defaultUserAgent = "receipt-reconciler/1.0"

// maxBodyBytes bounds how much of a response we read; provider pages
// and receipt PDFs are far below this.
const maxBodyBytes = 32 << 20

// ClientConfig configures the HTTP-session navigator.
type ClientConfig struct {
	// BaseURL scopes cookie export back to the session store.
	BaseURL string
	// Timeout applies per operation (tens of seconds per the
	// scheduling model); the run-level deadline comes from the context.
	Timeout   time.Duration
	UserAgent string
}

// DefaultClientConfig returns the default navigator configuration.
func DefaultClientConfig(baseURL string) ClientConfig {
	return ClientConfig{
		BaseURL:   baseURL,
		Timeout:   30 * time.Second,
		UserAgent: defaultUserAgent,
	}
}

// Client is the HTTP cookie-session Navigator implementation.
type Client struct {
	config ClientConfig
	http   *http.Client
	jar    *cookiejar.Jar
}

var _ Navigator = (*Client)(nil)

// NewClient creates a navigator seeded with the persisted session state.
func NewClient(config ClientConfig, state *session.State) (*Client, error) {
	if strings.TrimSpace(config.BaseURL) == "" {
		return nil, fmt.Errorf("navigator base URL cannot be empty")
	}
	base, err := url.Parse(config.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid base URL %s: %w", config.BaseURL, err)
	}
	if config.Timeout <= 0 {
		config.Timeout = DefaultClientConfig(config.BaseURL).Timeout
	}
	if config.UserAgent == "" {
		config.UserAgent = defaultUserAgent
	}

	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, fmt.Errorf("create cookie jar: %w", err)
	}
	if state != nil && !state.IsEmpty() {
		jar.SetCookies(base, state.HTTPCookies())
	}

	return &Client{
		config: config,
		jar:    jar,
		http: &http.Client{
			Jar:     jar,
			Timeout: config.Timeout,
		},
	}, nil
}

// ImportState seeds the live cookie jar from a session state. Used
// when an external actor refreshes the persisted session mid-run.
func (c *Client) ImportState(state *session.State) error {
	base, err := url.Parse(c.config.BaseURL)
	if err != nil {
		return fmt.Errorf("invalid base URL: %w", err)
	}
	if state != nil && !state.IsEmpty() {
		c.jar.SetCookies(base, state.HTTPCookies())
	}
	return nil
}

// ExportState writes the live cookie jar back into a session state for
// persistence after the provider pass completes.
func (c *Client) ExportState(state *session.State) error {
	base, err := url.Parse(c.config.BaseURL)
	if err != nil {
		return fmt.Errorf("invalid base URL: %w", err)
	}
	state.SetHTTPCookies(c.jar.Cookies(base))
	return nil
}

// Get implements Navigator.
func (c *Client) Get(ctx context.Context, pageURL string) (*Page, error) {
	body, _, finalURL, err := c.fetch(ctx, pageURL)
	if err != nil {
		return nil, err
	}
	return ExtractPage(finalURL, bytes.NewReader(body))
}

// Download implements Navigator.
func (c *Client) Download(ctx context.Context, fileURL string) ([]byte, string, error) {
	body, contentType, _, err := c.fetch(ctx, fileURL)
	if err != nil {
		return nil, "", err
	}
	return body, contentType, nil
}

// RenderPDF implements Navigator. A plain HTTP session has no print
// engine; callers fall back or plug in a driver-backed Navigator.
func (c *Client) RenderPDF(ctx context.Context, pageURL string) ([]byte, error) {
	return nil, ErrRenderUnsupported
}

func (c *Client) fetch(ctx context.Context, rawURL string) (body []byte, contentType, finalURL string, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, "", "", fmt.Errorf("build request for %s: %w", rawURL, err)
	}
	req.Header.Set("User-Agent", c.config.UserAgent)
	req.Header.Set("Accept-Language", "ja,en;q=0.8")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, "", "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 400 {
		return nil, "", "", fmt.Errorf("unexpected status %d for %s", resp.StatusCode, rawURL)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, "", "", fmt.Errorf("read body of %s: %w", rawURL, err)
	}

	final := rawURL
	if resp.Request != nil && resp.Request.URL != nil {
		final = resp.Request.URL.String()
	}
	return data, resp.Header.Get("Content-Type"), final, nil
}

var whitespaceRun = regexp.MustCompile(`[\s\x{3000}]+`)

// ExtractPage parses an HTML document into the Page view: title,
// whitespace-normalized visible text, and anchors in DOM order with
// URLs resolved against the page URL.
func ExtractPage(pageURL string, r io.Reader) (*Page, error) {
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return nil, fmt.Errorf("parse page %s: %w", pageURL, err)
	}

	base, err := url.Parse(pageURL)
	if err != nil {
		return nil, fmt.Errorf("invalid page URL %s: %w", pageURL, err)
	}

	doc.Find("script, style, noscript").Remove()

	page := &Page{
		URL:   pageURL,
		Title: strings.TrimSpace(doc.Find("title").First().Text()),
		Text:  whitespaceRun.ReplaceAllString(strings.TrimSpace(doc.Find("body").Text()), " "),
	}

	position := 0
	doc.Find("a[href]").Each(func(_ int, sel *goquery.Selection) {
		href, _ := sel.Attr("href")
		href = strings.TrimSpace(href)
		if href == "" || strings.HasPrefix(href, "javascript:") || strings.HasPrefix(href, "#") {
			return
		}
		ref, err := url.Parse(href)
		if err != nil {
			return
		}
		page.Links = append(page.Links, Link{
			Text:     whitespaceRun.ReplaceAllString(strings.TrimSpace(sel.Text()), " "),
			URL:      base.ResolveReference(ref).String(),
			Position: position,
		})
		position++
	})

	return page, nil
}
