package scrape

import (
	"bytes"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// Link is an anchor found on a page.
type Link struct {
	URL  string
	Text string
}

// SameSiteLinks returns the absolute http(s) links in body whose host is
// domain or one of its subdomains. Fragments are dropped and duplicates
// removed, keeping document order.
func SameSiteLinks(baseURL string, body []byte, domain string) []Link {
	base, err := url.Parse(baseURL)
	if err != nil {
		return nil
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil
	}

	domain = strings.ToLower(domain)
	seen := make(map[string]bool)
	var links []Link
	doc.Find("a[href]").Each(func(_ int, s *goquery.Selection) {
		href, _ := s.Attr("href")
		ref, err := url.Parse(strings.TrimSpace(href))
		if err != nil {
			return
		}
		u := base.ResolveReference(ref)
		if u.Scheme != "http" && u.Scheme != "https" {
			return
		}
		if !OnDomain(u.Hostname(), domain) {
			return
		}
		u.Fragment = ""
		abs := u.String()
		if seen[abs] {
			return
		}
		seen[abs] = true
		links = append(links, Link{URL: abs, Text: strings.Join(strings.Fields(s.Text()), " ")})
	})
	return links
}

// OnDomain reports whether host is domain or a subdomain of it.
func OnDomain(host, domain string) bool {
	host = strings.ToLower(host)
	return host == domain || strings.HasSuffix(host, "."+domain)
}
