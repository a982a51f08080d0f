// Package markup holds the HTML helpers shared by discovery and resolution.
package markup

import (
	"bytes"
	"fmt"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// Parse parses an HTML body
func Parse(body []byte) (*goquery.Document, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}
	return doc, nil
}

// Absolute resolves ref against base. Protocol-relative references take the
// base scheme. Only http and https results are returned.
func Absolute(base *url.URL, ref string) (*url.URL, bool) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return nil, false
	}
	u, err := url.Parse(ref)
	if err != nil {
		return nil, false
	}
	abs := base.ResolveReference(u)
	if abs.Scheme != "http" && abs.Scheme != "https" {
		return nil, false
	}
	return abs, true
}

// Title extracts a human title: og:title, else the first h1, else <title>
// cut at its first separator.
func Title(doc *goquery.Document) string {
	if og, ok := doc.Find(`meta[property="og:title"]`).First().Attr("content"); ok {
		if og = collapse(og); og != "" {
			return og
		}
	}
	if h1 := collapse(doc.Find("h1").First().Text()); h1 != "" {
		return h1
	}
	title := doc.Find("title").First().Text()
	if i := strings.IndexAny(title, "|–"); i >= 0 {
		title = title[:i]
	}
	if i := strings.Index(title, " - "); i >= 0 {
		title = title[:i]
	}
	return collapse(title)
}

func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
