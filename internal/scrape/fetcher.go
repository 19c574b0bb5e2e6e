package scrape

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/rs/zerolog/log"
)

const (
	// DefaultSelector selects the whole page body when the caller does not
	// narrow the extraction.
	DefaultSelector = "body"

	// DefaultCacheSize bounds the per-process fetch cache.
	DefaultCacheSize = 512

	fetchUserAgent = "Mozilla/5.0 (Macintosh; Intel Mac OS X 14_7_2) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"
)

// Page is the extracted content of a URL.
type Page struct {
	Title           string
	Content         string
	MarkdownContent string
}

// Renderer executes a page's scripts in a headless browser before
// extraction. It is injected so tests can substitute a fake.
type Renderer interface {
	Render(ctx context.Context, url, selector string) (Page, error)
}

// Fetcher retrieves page content with a fast static strategy and a
// rendered fallback, memoizing results per (url, selector) for the
// lifetime of the process. Entries are never invalidated; the LRU only
// bounds memory.
type Fetcher struct {
	http     *http.Client
	renderer Renderer
	cache    *lru.Cache[string, Page]
}

// NewFetcher creates a Fetcher. renderer may be nil, in which case pages
// that need script execution are returned as extracted statically.
func NewFetcher(renderer Renderer, cacheSize int) (*Fetcher, error) {
	if cacheSize <= 0 {
		cacheSize = DefaultCacheSize
	}
	cache, err := lru.New[string, Page](cacheSize)
	if err != nil {
		return nil, err
	}
	return &Fetcher{
		http:     &http.Client{Timeout: 30 * time.Second},
		renderer: renderer,
		cache:    cache,
	}, nil
}

// Fetch returns the page at rawURL extracted through selector. The static
// strategy runs first; when its result looks like an unrendered
// script-driven page the renderer takes over.
func (f *Fetcher) Fetch(ctx context.Context, rawURL, selector string) (Page, error) {
	if selector == "" {
		selector = DefaultSelector
	}
	key := rawURL + "::" + selector
	if page, ok := f.cache.Get(key); ok {
		return page, nil
	}

	page, err := f.fetchStatic(ctx, rawURL, selector)
	if err != nil {
		return Page{}, err
	}

	if !needsRendering(page) {
		log.Debug().Str("url", rawURL).Msg("static fetch sufficient")
		f.cache.Add(key, page)
		return page, nil
	}

	if f.renderer == nil {
		log.Warn().Str("url", rawURL).Msg("page needs script execution but no renderer is configured")
		f.cache.Add(key, page)
		return page, nil
	}

	log.Info().Str("url", rawURL).Msg("page requires script execution, rendering")
	rendered, err := f.renderer.Render(ctx, rawURL, selector)
	if err != nil {
		return Page{}, fmt.Errorf("render %s: %w", rawURL, err)
	}
	f.cache.Add(key, rendered)
	return rendered, nil
}

// fetchStatic performs a plain HTTP GET and extracts content through the
// selector without executing any page scripts.
func (f *Fetcher) fetchStatic(ctx context.Context, rawURL, selector string) (Page, error) {
	doc, err := f.getDocument(ctx, rawURL)
	if err != nil {
		return Page{}, err
	}

	title := strings.TrimSpace(doc.Find("title").First().Text())
	selected := doc.Find(selector)
	content := selected.Text()
	html, err := selected.Html()
	if err != nil {
		html = ""
	}

	return Page{
		Title:           title,
		Content:         content,
		MarkdownContent: htmlToMarkdown(html),
	}, nil
}

// getDocument fetches rawURL and parses the response body.
func (f *Fetcher) getDocument(ctx context.Context, rawURL string) (*goquery.Document, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", fetchUserAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")

	resp, err := f.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("fetch %s: %s", rawURL, resp.Status)
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", rawURL, err)
	}
	return doc, nil
}

// needsRendering classifies a statically fetched page as an unrendered
// script-driven page: no extracted text, a no-script marker, or an
// implausibly short markdown body that still carries a bare SPA root.
func needsRendering(p Page) bool {
	if len(p.Content) == 0 {
		return true
	}
	if strings.Contains(p.Content, "You need to enable JavaScript") ||
		strings.Contains(p.Content, "noscript") {
		return true
	}
	return len(p.MarkdownContent) < 200 && strings.Contains(p.MarkdownContent, `id="root"`)
}
