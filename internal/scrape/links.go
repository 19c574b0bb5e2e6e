package scrape

import (
	"context"
	"fmt"
	"net/url"
	"sort"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// DiscoverLinks fetches startingURL once (static fetch only) and returns
// the same-origin, non-file hyperlinks reachable from it, fragments
// stripped and duplicates removed. startingURL itself is always included.
// This is breadth-one discovery; the caller decides whether to re-invoke on
// the results.
func (f *Fetcher) DiscoverLinks(ctx context.Context, startingURL string) ([]string, error) {
	base, err := url.Parse(startingURL)
	if err != nil {
		return nil, fmt.Errorf("parse starting url: %w", err)
	}

	doc, err := f.getDocument(ctx, startingURL)
	if err != nil {
		return nil, err
	}

	links := map[string]struct{}{startingURL: {}}
	doc.Find("a").Each(func(_ int, a *goquery.Selection) {
		href, ok := a.Attr("href")
		if !ok || href == "" {
			return
		}
		u, err := base.Parse(href)
		if err != nil {
			return
		}
		if isFile(u) {
			return
		}
		if u.Scheme != base.Scheme || u.Host != base.Host {
			return
		}
		u.Fragment = ""
		links[u.String()] = struct{}{}
	})

	out := make([]string, 0, len(links))
	for l := range links {
		out = append(out, l)
	}
	sort.Strings(out)
	return out, nil
}

// isFile reports whether the URL's last path segment carries a file
// extension. Extension-bearing links are treated as direct file
// references and skipped during discovery.
func isFile(u *url.URL) bool {
	segments := strings.Split(u.Path, "/")
	last := segments[len(segments)-1]
	if last == "" {
		return false
	}
	dot := strings.LastIndex(last, ".")
	return dot >= 0 && dot < len(last)-1
}
