package crawler

import (
	"bytes"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// ExtractLinks returns the absolute URLs of every a[href] in body that share
// scheme and host with origin, in document order and without duplicates.
// Hosts are lower-cased so one page has one spelling.
// Relative references resolve against baseURL. Unparseable input yields no
// links.
func ExtractLinks(baseURL string, body []byte, origin *url.URL) []string {
	if origin == nil || len(body) == 0 {
		return nil
	}
	base, err := url.Parse(baseURL)
	if err != nil {
		return nil
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil
	}

	seen := make(map[string]struct{})
	var links []string
	doc.Find("a[href]").Each(func(_ int, s *goquery.Selection) {
		href, _ := s.Attr("href")
		href = strings.TrimSpace(href)
		if href == "" || strings.HasPrefix(href, "#") {
			return
		}
		lower := strings.ToLower(href)
		if strings.HasPrefix(lower, "javascript:") || strings.HasPrefix(lower, "mailto:") || strings.HasPrefix(lower, "tel:") {
			return
		}

		abs, err := base.Parse(href)
		if err != nil {
			return
		}
		abs.Fragment = ""
		abs.RawFragment = ""
		abs.Host = strings.ToLower(abs.Host)
		if !SameOrigin(origin, abs) {
			return
		}

		link := abs.String()
		if _, ok := seen[link]; ok {
			return
		}
		seen[link] = struct{}{}
		links = append(links, link)
	})
	return links
}

// SameOrigin reports whether u is an http(s) URL with the same scheme and host
// as origin. Subdomains are different hosts.
func SameOrigin(origin, u *url.URL) bool {
	if u.Scheme != "http" && u.Scheme != "https" {
		return false
	}
	return u.Scheme == origin.Scheme && strings.EqualFold(u.Host, origin.Host)
}
