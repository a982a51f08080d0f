package resolver

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"path"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/lyzr/mediagrab/cmd/grabber/markup"
	"github.com/lyzr/mediagrab/common/clients"
	"github.com/lyzr/mediagrab/common/logger"
	"github.com/lyzr/mediagrab/common/models"
)

var (
	// ErrNoMedia means the page references no playable source
	ErrNoMedia = errors.New("no video found on page")
	// ErrAllBlocked means every source the page referenced was rejected by the gate
	ErrAllBlocked = errors.New("no valid video found on page")
	// ErrManifest means an HLS playlist could not be turned into segments
	ErrManifest = errors.New("invalid playlist")
)

// MediaExtensions are the suffixes treated as direct media files
var MediaExtensions = []string{".mp4", ".webm", ".mkv", ".avi", ".mov", ".flv", ".wmv", ".m4v", ".3gp"}

var scriptMediaURL = regexp.MustCompile(`(?i)https?://[^\s"'<>]+?\.(?:mp4|webm|mkv|m3u8)`)

// PageFetcher fetches a page through the safety gate
type PageFetcher interface {
	GetPage(ctx context.Context, url string) (*clients.Page, error)
}

// Gate validates a URL before it is used
type Gate interface {
	Validate(ctx context.Context, rawURL string) error
}

// Resolver turns a page or manifest URL into media locators
type Resolver struct {
	fetcher PageFetcher
	gate    Gate
	log     logger.Interface
}

// New creates a Resolver
func New(fetcher PageFetcher, gate Gate, log logger.Interface) *Resolver {
	return &Resolver{fetcher: fetcher, gate: gate, log: log}
}

// IsDirectMedia reports whether the URL path ends in a media extension
func IsDirectMedia(rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	ext := strings.ToLower(path.Ext(u.Path))
	for _, e := range MediaExtensions {
		if ext == e {
			return true
		}
	}
	return false
}

// IsPlaylistURL reports whether the URL path ends in .m3u8
func IsPlaylistURL(rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	return strings.EqualFold(path.Ext(u.Path), ".m3u8")
}

// Resolve fetches rawURL and returns what can be downloaded from it.
// Direct media URLs resolve without a fetch.
func (r *Resolver) Resolve(ctx context.Context, rawURL string) (*models.Resolution, error) {
	if IsDirectMedia(rawURL) {
		return &models.Resolution{
			Locators: []models.Locator{{Kind: models.KindDirect, URL: rawURL}},
		}, nil
	}

	page, err := r.fetcher.GetPage(ctx, rawURL)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", rawURL, err)
	}

	if IsManifest(page.Body) {
		plan, err := r.segmentPlan(ctx, page.URL, page.Body)
		if err != nil {
			return nil, fmt.Errorf("resolve %s: %w", rawURL, err)
		}
		return &models.Resolution{
			Locators:   []models.Locator{{Kind: models.KindPlaylist, URL: page.URL, Segments: plan}},
			Title:      "HLS Stream",
			IsPlaylist: true,
		}, nil
	}

	base, err := url.Parse(page.URL)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", rawURL, err)
	}
	doc, err := markup.Parse(page.Body)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", rawURL, err)
	}

	title := markup.Title(doc)
	candidates := collectSources(doc)
	if len(candidates) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNoMedia, rawURL)
	}

	seen := make(map[string]bool)
	var locators []models.Locator
	blocked := 0
	for _, raw := range candidates {
		abs, ok := markup.Absolute(base, raw)
		if !ok {
			continue
		}
		loc := abs.String()
		if seen[loc] {
			continue
		}
		seen[loc] = true

		if err := r.gate.Validate(ctx, loc); err != nil {
			blocked++
			r.log.Warn("source blocked", "page", rawURL, "source", loc, "error", err)
			continue
		}

		kind := models.KindDirect
		if IsPlaylistURL(loc) {
			kind = models.KindPlaylist
		}
		locators = append(locators, models.Locator{Kind: kind, URL: loc})
	}

	if len(locators) == 0 {
		if blocked > 0 {
			return nil, fmt.Errorf("%w: %d sources on %s rejected", ErrAllBlocked, blocked, rawURL)
		}
		return nil, fmt.Errorf("%w: %s", ErrNoMedia, rawURL)
	}

	r.log.Info("page resolved", "url", rawURL, "locators", len(locators), "blocked", blocked, "title", title)
	return &models.Resolution{
		Locators:   locators,
		Title:      title,
		IsPlaylist: locators[0].Kind == models.KindPlaylist,
	}, nil
}

// ResolvePlaylist fetches a manifest and returns its segment plan
func (r *Resolver) ResolvePlaylist(ctx context.Context, manifestURL string) ([]string, error) {
	page, err := r.fetcher.GetPage(ctx, manifestURL)
	if err != nil {
		return nil, fmt.Errorf("fetch playlist: %w", err)
	}
	if !IsManifest(page.Body) {
		return nil, fmt.Errorf("%w: %s is not an HLS playlist", ErrManifest, manifestURL)
	}
	return r.segmentPlan(ctx, page.URL, page.Body)
}

// collectSources gathers raw source references in document order per kind
func collectSources(doc *goquery.Document) []string {
	var out []string
	add := func(s string) {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}

	doc.Find("video[src]").Each(func(_ int, s *goquery.Selection) { add(s.AttrOr("src", "")) })
	doc.Find("video source[src]").Each(func(_ int, s *goquery.Selection) { add(s.AttrOr("src", "")) })
	doc.Find("video[data-src]").Each(func(_ int, s *goquery.Selection) { add(s.AttrOr("data-src", "")) })
	doc.Find("iframe[src]").Each(func(_ int, s *goquery.Selection) {
		if src := s.AttrOr("src", ""); IsDirectMedia(src) || IsPlaylistURL(src) {
			add(src)
		}
	})
	doc.Find("[data-video-url]").Each(func(_ int, s *goquery.Selection) { add(s.AttrOr("data-video-url", "")) })
	doc.Find("script").Each(func(_ int, s *goquery.Selection) {
		text := strings.ReplaceAll(s.Text(), `\/`, `/`)
		for _, m := range scriptMediaURL.FindAllString(text, -1) {
			add(m)
		}
	})

	return out
}
