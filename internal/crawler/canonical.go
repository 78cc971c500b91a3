// File: internal/crawler/canonical.go
package crawler

import (
	"fmt"
	"net/url"
	"strings"
)

// Canonicalize normalizes a URL into the crawl's deduplication key: lowercase
// scheme and host, default port stripped, fragment dropped, trailing slash
// trimmed off non-root paths. Query strings are kept because two query
// variants are usually distinct routes.
func Canonicalize(raw string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return "", fmt.Errorf("crawler: parsing url %q: %w", raw, err)
	}

	u.Scheme = strings.ToLower(u.Scheme)
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", fmt.Errorf("crawler: unsupported scheme %q in %q", u.Scheme, raw)
	}
	if u.Host == "" {
		return "", fmt.Errorf("crawler: url %q has no host", raw)
	}

	host := strings.ToLower(u.Hostname())
	if port := u.Port(); port != "" && !isDefaultPort(u.Scheme, port) {
		host = host + ":" + port
	}
	u.Host = host

	u.Fragment = ""
	if u.Path == "" {
		u.Path = "/"
	} else if u.Path != "/" {
		u.Path = strings.TrimSuffix(u.Path, "/")
	}

	return u.String(), nil
}

func isDefaultPort(scheme, port string) bool {
	return (scheme == "http" && port == "80") || (scheme == "https" && port == "443")
}

// sameOrigin reports whether both canonical URLs share scheme and host.
func sameOrigin(a, b string) bool {
	ua, err := url.Parse(a)
	if err != nil {
		return false
	}
	ub, err := url.Parse(b)
	if err != nil {
		return false
	}
	return ua.Scheme == ub.Scheme && ua.Host == ub.Host
}

// resolveRef resolves a possibly relative href against a base page URL.
func resolveRef(base, href string) (string, error) {
	bu, err := url.Parse(base)
	if err != nil {
		return "", err
	}
	hu, err := url.Parse(strings.TrimSpace(href))
	if err != nil {
		return "", err
	}
	return bu.ResolveReference(hu).String(), nil
}
