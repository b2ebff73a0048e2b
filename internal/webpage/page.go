// Package webpage abstracts authenticated page access behind a small
// Navigator interface. Provider adapters only see extracted page views
// (title, visible text, links in DOM order), which keeps their
// heuristics independent of whatever drives the session. The bundled
// implementation is a plain HTTP cookie-session client; a
// browser-driver-backed Navigator can be swapped in without touching
// the adapters.
package webpage

import (
	"context"
	"errors"
	"strings"
)

// ErrRenderUnsupported is returned by navigators that cannot render a
// page to PDF. The materializer treats it as "this strategy is
// unavailable", not as an order failure.
var ErrRenderUnsupported = errors.New("navigator does not support render-to-pdf")

// Link is one candidate anchor discovered on a page. Position is the
// zero-based DOM order, which the classifier uses as a deterministic
// tie-break.
type Link struct {
	Text     string
	URL      string
	Position int
}

// Page is the extracted view of one fetched page.
type Page struct {
	URL   string
	Title string
	Text  string
	Links []Link
}

// ContainsAny reports whether the page's visible text contains any of
// the given markers.
func (p *Page) ContainsAny(markers ...string) bool {
	for _, m := range markers {
		if m != "" && strings.Contains(p.Text, m) {
			return true
		}
	}
	return false
}

// FindLink returns the first link (in DOM order) whose text or URL
// contains the given marker, or nil.
func (p *Page) FindLink(marker string) *Link {
	for i := range p.Links {
		if strings.Contains(p.Links[i].Text, marker) || strings.Contains(p.Links[i].URL, marker) {
			return &p.Links[i]
		}
	}
	return nil
}

// Navigator drives an authenticated session through provider pages.
// All operations honor the context's deadline; every call is a
// suspension point in the sequential per-provider schedule.
type Navigator interface {
	// Get fetches a page and returns its extracted view.
	Get(ctx context.Context, url string) (*Page, error)

	// Download fetches a URL as raw bytes, returning the response
	// content type alongside the body.
	Download(ctx context.Context, url string) ([]byte, string, error)

	// RenderPDF renders the page at the URL to PDF bytes, or returns
	// ErrRenderUnsupported.
	RenderPDF(ctx context.Context, url string) ([]byte, error)
}
