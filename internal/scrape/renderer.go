package scrape

import (
	"context"
	"fmt"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"github.com/rs/zerolog/log"
)

const (
	// navigationTimeout bounds page load including network quiescence.
	navigationTimeout = 30 * time.Second
	// readinessTimeout bounds the wait for an SPA root or the requested
	// selector after load; expiry degrades gracefully.
	readinessTimeout = 5 * time.Second
)

// RodRenderer drives a headless Chrome through go-rod. A fresh browser is
// launched per Render call and torn down on every path, including timeouts.
type RodRenderer struct{}

// NewRodRenderer creates a RodRenderer.
func NewRodRenderer() *RodRenderer {
	return &RodRenderer{}
}

// extractScript pulls text and inner HTML out of the first element matching
// the selector, absolutizing image sources and guaranteeing an alt
// attribute first. Images are kept because alt text can carry meaning.
const extractScript = `(sel) => {
	const el = document.querySelector(sel);
	if (!el) {
		return { found: false, title: document.title, text: "", html: "" };
	}
	for (const img of el.getElementsByTagName("img")) {
		if (img.src) {
			img.setAttribute("src", img.src);
		}
		if (!img.getAttribute("alt")) {
			img.setAttribute("alt", "");
		}
	}
	return { found: true, title: document.title, text: el.textContent || "", html: el.innerHTML };
}`

// Render navigates to url in a headless browser, waits for the page's
// scripts to produce content and extracts through selector, falling back to
// the document body when the selector yields nothing.
func (r *RodRenderer) Render(ctx context.Context, url, selector string) (Page, error) {
	l := launcher.New().
		Headless(true).
		Set("no-sandbox").
		Set("disable-setuid-sandbox").
		Set("disable-dev-shm-usage").
		Set("window-size", "1920,1080")

	controlURL, err := l.Launch()
	if err != nil {
		return Page{}, fmt.Errorf("launch browser: %w", err)
	}
	defer l.Cleanup()

	browser := rod.New().ControlURL(controlURL).Context(ctx)
	if err := browser.Connect(); err != nil {
		return Page{}, fmt.Errorf("connect browser: %w", err)
	}
	defer func() {
		if err := browser.Close(); err != nil {
			log.Debug().Err(err).Msg("browser close failed")
		}
	}()

	page, err := browser.Page(proto.TargetCreateTarget{})
	if err != nil {
		return Page{}, fmt.Errorf("open page: %w", err)
	}

	// Block non-essential subresources to cut load time. Images stay: alt
	// text survives into the markdown.
	router := page.HijackRequests()
	err = router.Add("*", "", func(h *rod.Hijack) {
		switch h.Request.Type() {
		case proto.NetworkResourceTypeStylesheet,
			proto.NetworkResourceTypeFont,
			proto.NetworkResourceTypeMedia:
			h.Response.Fail(proto.NetworkErrorReasonBlockedByClient)
		default:
			h.ContinueRequest(&proto.FetchContinueRequest{})
		}
	})
	if err != nil {
		return Page{}, fmt.Errorf("install request filter: %w", err)
	}
	go router.Run()
	defer func() { _ = router.Stop() }()

	nav := page.Timeout(navigationTimeout)
	if err := nav.Navigate(url); err != nil {
		return Page{}, fmt.Errorf("navigate %s: %w", url, err)
	}
	if err := nav.WaitLoad(); err != nil {
		return Page{}, fmt.Errorf("wait load %s: %w", url, err)
	}
	// Let in-flight XHRs settle; expiry is not a failure.
	nav.WaitRequestIdle(time.Second, nil, nil, nil)()

	// Wait for an SPA root child first, then the requested selector.
	// Neither appearing is fine: extraction proceeds with whatever the DOM
	// holds.
	if _, err := page.Timeout(readinessTimeout).Element("#root > *"); err != nil {
		if _, err := page.Timeout(readinessTimeout).Element(selector); err != nil {
			log.Debug().Str("url", url).Str("selector", selector).
				Msg("no specific content found, proceeding with current page state")
		}
	}

	result, err := r.extract(page, selector)
	if err != nil {
		return Page{}, err
	}
	if result.Content == "" && selector != DefaultSelector {
		log.Debug().Str("url", url).Msg("selector yielded no content, falling back to body")
		return r.extract(page, DefaultSelector)
	}
	return result, nil
}

func (r *RodRenderer) extract(page *rod.Page, selector string) (Page, error) {
	obj, err := page.Eval(extractScript, selector)
	if err != nil {
		return Page{}, fmt.Errorf("extract content: %w", err)
	}
	v := obj.Value
	return Page{
		Title:           v.Get("title").Str(),
		Content:         v.Get("text").Str(),
		MarkdownContent: htmlToMarkdown(v.Get("html").Str()),
	}, nil
}
