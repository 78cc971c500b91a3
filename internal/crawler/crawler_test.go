// File: internal/crawler/crawler_test.go
package crawler

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/browserpilot/internal/actions"
	"github.com/xkilldash9x/browserpilot/internal/config"
)

// fakePage is one page of the in-memory site served by fakeBrowser.
type fakePage struct {
	title  string
	hrefs  []string
	navErr error
	// scriptFails forces the evaluation path to error so the crawl falls
	// back to parsing the raw document.
	scriptFails bool
	html        string
}

// fakeBrowser serves a scripted site to the crawler, recording every visit.
type fakeBrowser struct {
	pages   map[string]*fakePage
	current string
	visits  []string
}

func newFakeBrowser() *fakeBrowser {
	return &fakeBrowser{pages: make(map[string]*fakePage)}
}

func (b *fakeBrowser) page(url, title string, hrefs ...string) *fakePage {
	p := &fakePage{title: title, hrefs: hrefs}
	b.pages[url] = p
	return p
}

func (b *fakeBrowser) Navigate(ctx context.Context, url string) error {
	b.visits = append(b.visits, url)
	p, ok := b.pages[url]
	if !ok {
		return fmt.Errorf("net::ERR_NAME_NOT_RESOLVED for %s", url)
	}
	if p.navErr != nil {
		return p.navErr
	}
	b.current = url
	return nil
}

func (b *fakeBrowser) Wait(ctx context.Context, target string, timeout time.Duration) error {
	return nil
}

func (b *fakeBrowser) Evaluate(ctx context.Context, expression string) (actions.EvalResult, error) {
	p := b.pages[b.current]
	if p == nil {
		return actions.EvalResult{Kind: actions.KindError, Message: "no page loaded"}, nil
	}
	if expression == extractScript {
		if p.scriptFails {
			return actions.EvalResult{Kind: actions.KindError, Message: "ReferenceError: blocked"}, nil
		}
		payload, err := json.Marshal(map[string]any{
			"title":   p.title,
			"links":   p.hrefs,
			"actions": []string{},
		})
		if err != nil {
			return actions.EvalResult{}, err
		}
		return actions.EvalResult{Kind: actions.KindValue, Value: payload}, nil
	}
	if expression == "document.documentElement.outerHTML" {
		doc, err := json.Marshal(p.html)
		if err != nil {
			return actions.EvalResult{}, err
		}
		return actions.EvalResult{Kind: actions.KindValue, Value: doc}, nil
	}
	return actions.EvalResult{Kind: actions.KindNull}, nil
}

func testCrawlerConfig() config.CrawlerConfig {
	return config.CrawlerConfig{
		MaxPages:       10,
		SettleWait:     10 * time.Millisecond,
		PagesPerSecond: 1000,
	}
}

func newTestCrawler(t *testing.T, b Browser) *Crawler {
	t.Helper()
	return New(b, testCrawlerConfig(), zaptest.NewLogger(t))
}

func pageURLs(pages []*PageNode) []string {
	out := make([]string, len(pages))
	for i, p := range pages {
		out[i] = p.URL
	}
	return out
}

func TestCanonicalize(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		want    string
		wantErr bool
	}{
		{name: "LowercasesSchemeAndHost", in: "HTTPS://Example.COM/Path", want: "https://example.com/Path"},
		{name: "StripsFragment", in: "https://example.com/page#section", want: "https://example.com/page"},
		{name: "StripsDefaultHTTPSPort", in: "https://example.com:443/x", want: "https://example.com/x"},
		{name: "StripsDefaultHTTPPort", in: "http://example.com:80/x", want: "http://example.com/x"},
		{name: "KeepsNonDefaultPort", in: "https://example.com:8443/x", want: "https://example.com:8443/x"},
		{name: "TrimsTrailingSlash", in: "https://example.com/docs/", want: "https://example.com/docs"},
		{name: "RootPathSurvives", in: "https://example.com", want: "https://example.com/"},
		{name: "RootSlashSurvives", in: "https://example.com/", want: "https://example.com/"},
		{name: "KeepsQuery", in: "https://example.com/search?q=go&page=2", want: "https://example.com/search?q=go&page=2"},
		{name: "TrimsWhitespace", in: "  https://example.com/x  ", want: "https://example.com/x"},
		{name: "RejectsMailto", in: "mailto:a@b.c", wantErr: true},
		{name: "RejectsJavascript", in: "javascript:void(0)", wantErr: true},
		{name: "RejectsRelative", in: "/just/a/path", wantErr: true},
		{name: "RejectsEmpty", in: "", wantErr: true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := Canonicalize(tc.in)
			if tc.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}

	t.Run("EquivalentFormsCollapse", func(t *testing.T) {
		forms := []string{
			"https://example.com/docs/",
			"https://example.com/docs#intro",
			"HTTPS://EXAMPLE.com:443/docs",
		}
		for _, f := range forms {
			got, err := Canonicalize(f)
			require.NoError(t, err)
			assert.Equal(t, "https://example.com/docs", got, "form %q", f)
		}
	})
}

func TestCrawlBFSOrderAndDepth(t *testing.T) {
	b := newFakeBrowser()
	b.page("https://site.test/", "Home", "/a", "/b")
	b.page("https://site.test/a", "A", "/c")
	b.page("https://site.test/b", "B")
	b.page("https://site.test/c", "C")

	pages, err := newTestCrawler(t, b).Crawl(context.Background(), "https://site.test", 0)
	require.NoError(t, err)

	assert.Equal(t, []string{
		"https://site.test/",
		"https://site.test/a",
		"https://site.test/b",
		"https://site.test/c",
	}, pageURLs(pages), "all pages at depth N must be visited before any at N+1")

	depths := map[string]int{}
	for _, p := range pages {
		depths[p.URL] = p.Depth
	}
	assert.Equal(t, 0, depths["https://site.test/"])
	assert.Equal(t, 1, depths["https://site.test/a"])
	assert.Equal(t, 1, depths["https://site.test/b"])
	assert.Equal(t, 2, depths["https://site.test/c"])

	home := pages[0]
	assert.Equal(t, "Home", home.Title)
	assert.Equal(t, []string{"https://site.test/a", "https://site.test/b"}, home.Links)
}

func TestCrawlBudgetStopsExactly(t *testing.T) {
	b := newFakeBrowser()
	// Five pages, each linking to all five. Without the budget this crawl
	// would visit all of them.
	all := []string{"/", "/p1", "/p2", "/p3", "/p4"}
	b.page("https://site.test/", "Home", all...)
	for _, path := range all[1:] {
		b.page("https://site.test"+path, "Page "+path, all...)
	}

	pages, err := newTestCrawler(t, b).Crawl(context.Background(), "https://site.test/", 3)
	require.NoError(t, err)

	require.Len(t, pages, 3, "budget must bound visited pages exactly")
	seen := map[string]bool{}
	for _, p := range pages {
		assert.False(t, seen[p.URL], "page %s visited twice", p.URL)
		seen[p.URL] = true
	}
	assert.Len(t, b.visits, 3, "no page may be fetched beyond the budget")
}

func TestCrawlNeverRevisits(t *testing.T) {
	b := newFakeBrowser()
	// A cycle: home <-> about, both also linking themselves.
	b.page("https://site.test/", "Home", "/about", "/")
	b.page("https://site.test/about", "About", "/", "/about")

	pages, err := newTestCrawler(t, b).Crawl(context.Background(), "https://site.test/", 0)
	require.NoError(t, err)

	assert.Len(t, pages, 2)
	assert.Len(t, b.visits, 2, "cycles must not cause refetches")
}

func TestCrawlErrorPageRecordedNotExpanded(t *testing.T) {
	b := newFakeBrowser()
	b.page("https://site.test/", "Home", "/broken", "/ok")
	b.page("https://site.test/ok", "OK")
	broken := b.page("https://site.test/broken", "Broken", "/unreachable")
	broken.navErr = fmt.Errorf("net::ERR_CONNECTION_REFUSED")
	b.page("https://site.test/unreachable", "Never visited")

	pages, err := newTestCrawler(t, b).Crawl(context.Background(), "https://site.test/", 0)
	require.NoError(t, err, "one broken page must not abort the crawl")

	require.Len(t, pages, 3)
	byURL := map[string]*PageNode{}
	for _, p := range pages {
		byURL[p.URL] = p
	}

	require.Contains(t, byURL, "https://site.test/broken")
	assert.Contains(t, byURL["https://site.test/broken"].Err, "ERR_CONNECTION_REFUSED")
	assert.Empty(t, byURL["https://site.test/broken"].Links)

	assert.NotContains(t, byURL, "https://site.test/unreachable",
		"links behind a failed page must stay unvisited")
	assert.Contains(t, byURL, "https://site.test/ok",
		"traversal must continue past the failure")
}

func TestCrawlFiltersAndDedupesLinks(t *testing.T) {
	b := newFakeBrowser()
	b.page("https://site.test/", "Home",
		"/docs",
		"/docs/",             // canonical duplicate
		"/docs#install",      // fragment duplicate
		"https://other.test/elsewhere", // off-origin
		"http://site.test/insecure",    // scheme differs, other origin
		"mailto:team@site.test",
		"javascript:void(0)",
		"/contact",
	)
	b.page("https://site.test/docs", "Docs")
	b.page("https://site.test/contact", "Contact")

	pages, err := newTestCrawler(t, b).Crawl(context.Background(), "https://site.test/", 0)
	require.NoError(t, err)

	require.NotEmpty(t, pages)
	assert.Equal(t, []string{
		"https://site.test/docs",
		"https://site.test/contact",
	}, pages[0].Links, "links must be same-origin, canonical, deduplicated, in document order")

	assert.Len(t, pages, 3, "off-origin targets must never enter the frontier")
}

func TestCrawlHTMLFallback(t *testing.T) {
	b := newFakeBrowser()
	home := b.page("https://site.test/", "")
	home.scriptFails = true
	home.html = `<html><head><title>Fallback Home</title></head>
<body><a href="/a">A</a><form action="/submit"><input></form></body></html>`
	b.page("https://site.test/a", "A")
	b.page("https://site.test/submit", "Submit")

	pages, err := newTestCrawler(t, b).Crawl(context.Background(), "https://site.test/", 0)
	require.NoError(t, err)

	require.NotEmpty(t, pages)
	assert.Equal(t, "Fallback Home", pages[0].Title)
	assert.Equal(t, []string{"https://site.test/a", "https://site.test/submit"}, pages[0].Links)
	assert.Len(t, pages, 3)
}

func TestCrawlRejectsBadSeed(t *testing.T) {
	_, err := newTestCrawler(t, newFakeBrowser()).Crawl(context.Background(), "ftp://site.test/", 0)
	require.Error(t, err)
}

func TestSiteMapGraph(t *testing.T) {
	b := newFakeBrowser()
	b.page("https://site.test/", "Home", "/a", "/b")
	b.page("https://site.test/a", "A", "/b")
	bad := b.page("https://site.test/b", "B")
	bad.navErr = fmt.Errorf("boom")

	c := newTestCrawler(t, b)
	_, err := c.Crawl(context.Background(), "https://site.test/", 0)
	require.NoError(t, err)

	sm := c.GetSiteMap()
	require.NotNil(t, sm)
	assert.Equal(t, "https://site.test/", sm.Seed())

	want := map[string][]string{
		"https://site.test/":  {"https://site.test/a", "https://site.test/b"},
		"https://site.test/a": {"https://site.test/b"},
		"https://site.test/b": {},
	}
	if diff := cmp.Diff(want, sm.Graph()); diff != "" {
		t.Errorf("graph mismatch (-want +got):\n%s", diff)
	}

	page, ok := sm.Page("https://site.test/a")
	require.True(t, ok)
	assert.Equal(t, "A", page.Title)
	_, ok = sm.Page("https://site.test/nope")
	assert.False(t, ok)
}

func TestWriteSitemapXML(t *testing.T) {
	sm := newSiteMap("https://site.test/")
	sm.record(&PageNode{URL: "https://site.test/", Title: "Home"})
	sm.record(&PageNode{URL: "https://site.test/docs", Title: "Docs"})
	sm.record(&PageNode{URL: "https://site.test/broken", Err: "boom"})

	var buf bytes.Buffer
	require.NoError(t, sm.WriteSitemapXML(&buf))

	out := buf.String()
	assert.Contains(t, out, `<?xml version="1.0" encoding="UTF-8"?>`)
	assert.Contains(t, out, `xmlns="http://www.sitemaps.org/schemas/sitemap/0.9"`)
	assert.Contains(t, out, "<loc>https://site.test/</loc>")
	assert.Contains(t, out, "<loc>https://site.test/docs</loc>")
	assert.NotContains(t, out, "broken", "error-marked pages must be left out")
}

func TestParseAnchors(t *testing.T) {
	doc := `<html><head><title>  My Site  </title></head><body>
<a href="/one">one</a>
<a href="https://ext.test/two">two</a>
<a name="no-href">skip</a>
<a href="">empty</a>
<form action="/login" method="post"></form>
<form method="get"></form>
</body></html>`

	title, hrefs := parseAnchors(doc)
	assert.Equal(t, "My Site", title)
	assert.Equal(t, []string{"/one", "https://ext.test/two", "/login"}, hrefs)
}
