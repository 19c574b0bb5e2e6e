package scrape

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"reflect"
	"sort"
	"testing"
)

func TestDiscoverLinks(t *testing.T) {
	mux := http.NewServeMux()
	srv := httptest.NewServer(mux)
	defer srv.Close()

	mux.HandleFunc("/docs/", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`<html><body>
<a href="/docs/intro">Intro</a>
<a href="guide">Relative guide</a>
<a href="/docs/intro#section">Intro with fragment</a>
<a href="/docs/manual.pdf">Manual</a>
<a href="/docs/page.html">HTML page</a>
<a href="https://other.example.com/docs">External</a>
<a href="">Empty</a>
<a>No href</a>
</body></html>`))
	})

	f, err := NewFetcher(nil, 10)
	if err != nil {
		t.Fatalf("NewFetcher failed: %v", err)
	}

	start := srv.URL + "/docs/"
	links, err := f.DiscoverLinks(context.Background(), start)
	if err != nil {
		t.Fatalf("DiscoverLinks failed: %v", err)
	}

	expected := []string{
		start,
		srv.URL + "/docs/guide",
		srv.URL + "/docs/intro",
	}
	sort.Strings(expected)
	if !reflect.DeepEqual(links, expected) {
		t.Errorf("Expected links %v, got %v", expected, links)
	}
}

func TestDiscoverLinks_BadStartingURL(t *testing.T) {
	f, err := NewFetcher(nil, 10)
	if err != nil {
		t.Fatalf("NewFetcher failed: %v", err)
	}

	if _, err := f.DiscoverLinks(context.Background(), "http://\x7f"); err == nil {
		t.Error("Expected an error for an unparseable starting URL")
	}
}

func TestIsFile(t *testing.T) {
	tests := []struct {
		path     string
		expected bool
	}{
		{"/docs/manual.pdf", true},
		{"/images/logo.png", true},
		{"/archive.tar.gz", true},
		{"/docs/page.html", true},
		{"/docs/page.htm", true},
		{"/docs/guide", false},
		{"/docs/", false},
		{"/", false},
		{"/v1.2/guide", false},
		{"/docs/trailing.", false},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			u := &url.URL{Path: tt.path}
			if got := isFile(u); got != tt.expected {
				t.Errorf("isFile(%q) = %v, expected %v", tt.path, got, tt.expected)
			}
		})
	}
}
