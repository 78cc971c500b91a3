// File: internal/crawler/crawler.go

// Package crawler builds a same-origin link graph by driving the action
// executor through a breadth-first traversal bounded by a page budget. One
// broken page never aborts the crawl: it is recorded with an error marker,
// excluded from expansion, and traversal continues.
package crawler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/net/html"
	"golang.org/x/time/rate"

	"github.com/xkilldash9x/browserpilot/internal/actions"
	"github.com/xkilldash9x/browserpilot/internal/config"
)

// Browser is the slice of the action executor the crawler drives.
type Browser interface {
	Navigate(ctx context.Context, url string) error
	Wait(ctx context.Context, target string, timeout time.Duration) error
	Evaluate(ctx context.Context, expression string) (actions.EvalResult, error)
}

// PageNode is one visited page. Immutable once recorded.
type PageNode struct {
	// URL is the canonical form, the deduplication key.
	URL   string `json:"url"`
	Title string `json:"title,omitempty"`
	// Links are the page's outbound same-origin targets, canonicalized,
	// in document order, deduplicated within the page.
	Links []string `json:"links,omitempty"`
	Depth int      `json:"depth"`
	// Err marks a page whose navigation or extraction failed. Such pages
	// are recorded but never expanded.
	Err string `json:"error,omitempty"`
}

// extractScript pulls the title plus every anchor href and form action in one
// round trip.
const extractScript = `(() => ({
	title: document.title,
	links: Array.from(document.querySelectorAll('a[href]')).map(a => a.href),
	actions: Array.from(document.querySelectorAll('form[action]')).map(f => f.action)
}))()`

// Crawler drives breadth-first same-origin discovery.
type Crawler struct {
	browser Browser
	logger  *zap.Logger
	cfg     config.CrawlerConfig
	limiter *rate.Limiter

	siteMap *SiteMap
}

// New creates a Crawler over the given browser surface.
func New(b Browser, cfg config.CrawlerConfig, logger *zap.Logger) *Crawler {
	pps := cfg.PagesPerSecond
	if pps <= 0 {
		pps = 2.0
	}
	return &Crawler{
		browser: b,
		logger:  logger.Named("crawler"),
		cfg:     cfg,
		limiter: rate.NewLimiter(rate.Limit(pps), 1),
	}
}

type frontierItem struct {
	url   string
	depth int
}

// Crawl traverses breadth-first from seed until the frontier empties or
// maxPages distinct pages have been visited, whichever comes first. A
// maxPages of zero falls back to the configured budget.
func (c *Crawler) Crawl(ctx context.Context, seed string, maxPages int) ([]*PageNode, error) {
	if maxPages <= 0 {
		maxPages = c.cfg.MaxPages
	}

	canonicalSeed, err := Canonicalize(seed)
	if err != nil {
		return nil, err
	}

	sm := newSiteMap(canonicalSeed)
	frontier := []frontierItem{{url: canonicalSeed, depth: 0}}
	queued := map[string]bool{canonicalSeed: true}

	for len(frontier) > 0 && len(sm.pages) < maxPages {
		item := frontier[0]
		frontier = frontier[1:]

		if err := c.limiter.Wait(ctx); err != nil {
			return sm.Pages(), fmt.Errorf("crawler: %w", err)
		}

		node := c.visit(ctx, item)
		sm.record(node)

		if node.Err != "" {
			continue
		}
		for _, link := range node.Links {
			if queued[link] {
				continue
			}
			queued[link] = true
			frontier = append(frontier, frontierItem{url: link, depth: item.depth + 1})
		}
	}

	c.siteMap = sm
	c.logger.Info("Crawl finished",
		zap.String("seed", canonicalSeed),
		zap.Int("pages", len(sm.pages)),
		zap.Int("frontier_left", len(frontier)))
	return sm.Pages(), nil
}

// GetSiteMap returns the most recent crawl's site map, or nil before any
// crawl completed.
func (c *Crawler) GetSiteMap() *SiteMap {
	return c.siteMap
}

// visit loads one page and extracts its title and same-origin links. Failures
// come back as an error-marked node, never as a Go error: per-page problems
// are locally recoverable by design.
func (c *Crawler) visit(ctx context.Context, item frontierItem) *PageNode {
	node := &PageNode{URL: item.url, Depth: item.depth}
	log := c.logger.With(zap.String("url", item.url), zap.Int("depth", item.depth))
	log.Debug("Visiting page")

	if err := c.browser.Navigate(ctx, item.url); err != nil {
		log.Warn("Navigation failed", zap.Error(err))
		node.Err = err.Error()
		return node
	}

	// Bounded settle; a page that never reaches readyState complete is still
	// worth scraping.
	if err := c.browser.Wait(ctx, "js:document.readyState === 'complete'", c.cfg.SettleWait); err != nil {
		if !errors.Is(err, actions.ErrWaitTimeout) {
			node.Err = err.Error()
			return node
		}
		log.Debug("Page did not settle; extracting anyway")
	}

	title, hrefs, err := c.extract(ctx, item.url)
	if err != nil {
		log.Warn("Extraction failed", zap.Error(err))
		node.Err = err.Error()
		return node
	}
	node.Title = title

	seen := make(map[string]bool, len(hrefs))
	for _, href := range hrefs {
		abs, err := resolveRef(item.url, href)
		if err != nil {
			continue
		}
		canon, err := Canonicalize(abs)
		if err != nil || !sameOrigin(canon, item.url) {
			continue
		}
		if seen[canon] {
			continue
		}
		seen[canon] = true
		node.Links = append(node.Links, canon)
	}
	return node
}

// extract pulls title and raw hrefs via script evaluation, falling back to
// parsing the document HTML when the script path fails.
func (c *Crawler) extract(ctx context.Context, pageURL string) (string, []string, error) {
	res, err := c.browser.Evaluate(ctx, extractScript)
	if err != nil {
		return "", nil, err
	}

	if res.Kind == actions.KindValue {
		var out struct {
			Title   string   `json:"title"`
			Links   []string `json:"links"`
			Actions []string `json:"actions"`
		}
		if err := jsonAPI.Unmarshal(res.Value, &out); err == nil {
			return out.Title, append(out.Links, out.Actions...), nil
		}
	}

	c.logger.Debug("Script extraction failed; parsing document HTML",
		zap.String("url", pageURL), zap.String("eval_error", res.Message))
	return c.extractFromHTML(ctx)
}

// extractFromHTML is the fallback path: fetch the serialized document and
// walk it with the html tokenizer.
func (c *Crawler) extractFromHTML(ctx context.Context) (string, []string, error) {
	res, err := c.browser.Evaluate(ctx, "document.documentElement.outerHTML")
	if err != nil {
		return "", nil, err
	}
	if res.Kind != actions.KindValue {
		return "", nil, fmt.Errorf("crawler: page HTML unavailable: %w", res.Err())
	}
	var doc string
	if err := jsonAPI.Unmarshal(res.Value, &doc); err != nil {
		return "", nil, fmt.Errorf("crawler: decoding page HTML: %w", err)
	}
	title, hrefs := parseAnchors(doc)
	return title, hrefs, nil
}

// parseAnchors extracts the title text and every a[href] / form[action]
// target from raw HTML.
func parseAnchors(doc string) (string, []string) {
	var (
		title   string
		hrefs   []string
		inTitle bool
	)
	z := html.NewTokenizer(strings.NewReader(doc))
	for {
		switch z.Next() {
		case html.ErrorToken:
			return title, hrefs
		case html.StartTagToken, html.SelfClosingTagToken:
			tok := z.Token()
			switch tok.Data {
			case "title":
				inTitle = true
			case "a":
				for _, attr := range tok.Attr {
					if attr.Key == "href" && attr.Val != "" {
						hrefs = append(hrefs, attr.Val)
					}
				}
			case "form":
				for _, attr := range tok.Attr {
					if attr.Key == "action" && attr.Val != "" {
						hrefs = append(hrefs, attr.Val)
					}
				}
			}
		case html.EndTagToken:
			if z.Token().Data == "title" {
				inTitle = false
			}
		case html.TextToken:
			if inTitle {
				title += strings.TrimSpace(z.Token().Data)
			}
		}
	}
}
