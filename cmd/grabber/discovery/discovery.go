package discovery

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/lyzr/mediagrab/cmd/grabber/markup"
	"github.com/lyzr/mediagrab/common/clients"
	"github.com/lyzr/mediagrab/common/logger"
	"github.com/lyzr/mediagrab/common/models"
)

// ErrNoLinks is returned by callers that need at least one link
var ErrNoLinks = errors.New("no video links found")

// PageFetcher fetches a page through the safety gate
type PageFetcher interface {
	GetPage(ctx context.Context, url string) (*clients.Page, error)
}

// Options tunes the content-link heuristics
type Options struct {
	MaxResults       int
	ContentMarkers   []string
	MinSegmentLength int
	MinIDDigits      int
	// NoImplicitPage disables the page=2 guess for listings without any
	// pagination marker
	NoImplicitPage bool
}

// DefaultOptions returns the stock heuristics
func DefaultOptions() Options {
	return Options{
		MaxResults:       20,
		ContentMarkers:   []string{"-video-", "-porn-"},
		MinSegmentLength: 40,
		MinIDDigits:      5,
	}
}

var nonContentKeywords = []string{
	"search", "category", "categories", "tag", "tags", "login", "signup",
	"register", "account", "profile", "settings", "dmca", "terms", "privacy",
	"about", "contact", "upload",
}

var nextPageWords = []string{"next", "selanjutnya", "suivant", "siguiente", "weiter"}

var nextPageGlyphs = map[string]bool{"›": true, "»": true, ">": true, "→": true}

var trailingID = regexp.MustCompile(`_(\d+)$`)

// Discoverer extracts video-page links from listing pages
type Discoverer struct {
	fetcher PageFetcher
	opts    Options
	log     logger.Interface
}

// New creates a Discoverer
func New(fetcher PageFetcher, opts Options, log logger.Interface) *Discoverer {
	def := DefaultOptions()
	if opts.MaxResults <= 0 {
		opts.MaxResults = def.MaxResults
	}
	if opts.MinSegmentLength <= 0 {
		opts.MinSegmentLength = def.MinSegmentLength
	}
	if opts.MinIDDigits <= 0 {
		opts.MinIDDigits = def.MinIDDigits
	}
	if opts.ContentMarkers == nil {
		opts.ContentMarkers = def.ContentMarkers
	}
	return &Discoverer{fetcher: fetcher, opts: opts, log: log}
}

// DiscoverLinks fetches pageURL and returns its content links and next page.
// An empty result is not an error here; callers decide what empty means.
func (d *Discoverer) DiscoverLinks(ctx context.Context, pageURL string) (*models.LinkSet, error) {
	page, err := d.fetcher.GetPage(ctx, pageURL)
	if err != nil {
		return nil, fmt.Errorf("discover links on %s: %w", pageURL, err)
	}

	base, err := url.Parse(page.URL)
	if err != nil {
		return nil, fmt.Errorf("discover links on %s: bad final url: %w", pageURL, err)
	}

	doc, err := markup.Parse(page.Body)
	if err != nil {
		return nil, fmt.Errorf("discover links on %s: %w", pageURL, err)
	}

	links, skipped := ExtractLinks(doc, base, d.opts)
	next := FindNextPage(doc, base, !d.opts.NoImplicitPage)

	d.log.Info("links discovered",
		"url", pageURL,
		"links", len(links),
		"skipped", skipped,
		"next_page", next)

	return &models.LinkSet{
		Links:       links,
		NextPageURL: next,
		Title:       markup.Title(doc),
	}, nil
}

// ExtractLinks returns the unique content links on the page, capped at
// opts.MaxResults, and the number of same-host anchors rejected.
func ExtractLinks(doc *goquery.Document, base *url.URL, opts Options) ([]string, int) {
	seen := make(map[string]bool)
	links := make([]string, 0)
	skipped := 0

	doc.Find("a[href]").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		href, _ := s.Attr("href")
		if strings.ContainsAny(href, "?#") {
			return true
		}
		abs, ok := markup.Absolute(base, href)
		if !ok || !sameHost(abs, base) {
			return true
		}
		if !IsContentPath(abs.EscapedPath(), opts) {
			skipped++
			return true
		}

		link := abs.String()
		if !seen[link] {
			seen[link] = true
			links = append(links, link)
		}
		return len(links) < opts.MaxResults
	})

	return links, skipped
}

// IsContentPath applies the single-segment, trailing-id heuristic
func IsContentPath(path string, opts Options) bool {
	var parts []string
	for _, p := range strings.Split(path, "/") {
		if p != "" {
			parts = append(parts, p)
		}
	}
	if len(parts) != 1 {
		return false
	}

	segment := strings.ToLower(parts[0])
	for _, kw := range nonContentKeywords {
		if segment == kw || strings.HasPrefix(segment, kw+"-") || strings.HasPrefix(segment, kw+"_") {
			return false
		}
	}

	m := trailingID.FindStringSubmatch(segment)
	if m == nil || len(m[1]) < opts.MinIDDigits {
		return false
	}

	if len(segment) >= opts.MinSegmentLength {
		return true
	}
	for _, marker := range opts.ContentMarkers {
		if strings.Contains(segment, marker) {
			return true
		}
	}
	return false
}

// FindNextPage detects the next listing page. Anchor text wins, then the
// page query parameter, then a numeric path token. When none apply it
// returns page 2 if implicitPage is set, else "".
func FindNextPage(doc *goquery.Document, base *url.URL, implicitPage bool) string {
	if next := nextFromAnchors(doc, base); next != "" {
		return next
	}

	q := base.Query()
	if raw, ok := q["page"]; ok && len(raw) > 0 {
		n, err := strconv.Atoi(raw[0])
		if err != nil {
			return ""
		}
		return withPage(base, n+1)
	}

	if next, ok := incrementPathToken(base); ok {
		return next
	}

	if !implicitPage {
		return ""
	}
	// A first listing page without any pagination marker is treated as page 1.
	return withPage(base, 2)
}

func nextFromAnchors(doc *goquery.Document, base *url.URL) string {
	var next string
	doc.Find("a[href]").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		if !isNextAnchor(s) {
			return true
		}
		href, _ := s.Attr("href")
		abs, ok := markup.Absolute(base, href)
		if !ok || !sameHost(abs, base) {
			return true
		}
		abs.Fragment = ""
		if abs.String() == base.String() {
			return true
		}
		next = abs.String()
		return false
	})
	return next
}

func isNextAnchor(s *goquery.Selection) bool {
	if rel, ok := s.Attr("rel"); ok {
		for _, r := range strings.Fields(strings.ToLower(rel)) {
			if r == "next" {
				return true
			}
		}
	}
	text := strings.ToLower(strings.TrimSpace(s.Text()))
	if nextPageGlyphs[text] {
		return true
	}
	for _, w := range nextPageWords {
		if strings.Contains(text, w) {
			return true
		}
	}
	return false
}

func withPage(base *url.URL, n int) string {
	u := *base
	q := u.Query()
	q.Set("page", strconv.Itoa(n))
	u.RawQuery = q.Encode()
	u.Fragment = ""
	return u.String()
}

// incrementPathToken bumps the last path segment when it is numeric, e.g.
// /latest/page/3/ -> /latest/page/4/.
func incrementPathToken(base *url.URL) (string, bool) {
	parts := strings.Split(base.Path, "/")
	for i := len(parts) - 1; i >= 0; i-- {
		if parts[i] == "" {
			continue
		}
		n, err := strconv.Atoi(parts[i])
		if err != nil || n < 0 {
			return "", false
		}
		parts[i] = strconv.Itoa(n + 1)
		u := *base
		u.Path = strings.Join(parts, "/")
		u.RawPath = ""
		u.Fragment = ""
		return u.String(), true
	}
	return "", false
}

// PageNumber returns the numeric page query parameter, defaulting to 1
func PageNumber(rawURL string) int {
	u, err := url.Parse(rawURL)
	if err != nil {
		return 1
	}
	n, err := strconv.Atoi(u.Query().Get("page"))
	if err != nil || n < 1 {
		return 1
	}
	return n
}

func sameHost(a, b *url.URL) bool {
	return strings.EqualFold(a.Hostname(), b.Hostname())
}
