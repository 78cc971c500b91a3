// File: internal/crawler/sitemap.go
package crawler

import (
	"fmt"
	"io"

	"github.com/beevik/etree"
	jsoniter "github.com/json-iterator/go"
)

var jsonAPI = jsoniter.ConfigCompatibleWithStandardLibrary

// SiteMap is the directed graph produced by one crawl: canonical URL to its
// outbound same-origin URLs. Discarded state (frontier, budget) does not
// survive the crawl; only visited pages do.
type SiteMap struct {
	seed  string
	pages []*PageNode
	byURL map[string]*PageNode
}

func newSiteMap(seed string) *SiteMap {
	return &SiteMap{seed: seed, byURL: make(map[string]*PageNode)}
}

func (s *SiteMap) record(node *PageNode) {
	if _, dup := s.byURL[node.URL]; dup {
		return
	}
	s.pages = append(s.pages, node)
	s.byURL[node.URL] = node
}

// Seed returns the canonical seed URL.
func (s *SiteMap) Seed() string { return s.seed }

// Pages returns the visited pages in visit order.
func (s *SiteMap) Pages() []*PageNode {
	out := make([]*PageNode, len(s.pages))
	copy(out, s.pages)
	return out
}

// Page looks up a visited page by canonical URL.
func (s *SiteMap) Page(url string) (*PageNode, bool) {
	p, ok := s.byURL[url]
	return p, ok
}

// Graph returns the adjacency view: URL to outbound same-origin URLs.
// Error-marked pages appear with no edges.
func (s *SiteMap) Graph() map[string][]string {
	g := make(map[string][]string, len(s.pages))
	for _, p := range s.pages {
		links := make([]string, len(p.Links))
		copy(links, p.Links)
		g[p.URL] = links
	}
	return g
}

// WriteSitemapXML writes the successfully visited pages as a sitemap.org
// urlset document, useful for feeding downstream route discovery.
func (s *SiteMap) WriteSitemapXML(w io.Writer) error {
	doc := etree.NewDocument()
	doc.CreateProcInst("xml", `version="1.0" encoding="UTF-8"`)
	urlset := doc.CreateElement("urlset")
	urlset.CreateAttr("xmlns", "http://www.sitemaps.org/schemas/sitemap/0.9")

	for _, p := range s.pages {
		if p.Err != "" {
			continue
		}
		u := urlset.CreateElement("url")
		u.CreateElement("loc").SetText(p.URL)
	}

	doc.Indent(2)
	if _, err := doc.WriteTo(w); err != nil {
		return fmt.Errorf("crawler: writing sitemap: %w", err)
	}
	return nil
}
