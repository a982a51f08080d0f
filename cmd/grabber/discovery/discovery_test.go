package discovery

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lyzr/mediagrab/cmd/grabber/markup"
	"github.com/lyzr/mediagrab/common/clients"
	"github.com/lyzr/mediagrab/common/logger"
)

type fakeFetcher struct {
	pages map[string]string
}

func (f *fakeFetcher) GetPage(_ context.Context, u string) (*clients.Page, error) {
	body, ok := f.pages[u]
	if !ok {
		return nil, &clients.FetchError{URL: u, StatusCode: 404, Message: "HTTP 404"}
	}
	return &clients.Page{URL: u, ContentType: "text/html", Body: []byte(body)}, nil
}

const listing = `<html><head><title>Results | Site</title></head><body>
<a href="/amazing-holiday-video-at-the-beach-in-summer_123456">ok long</a>
<a href="/short-video-clip_98765">ok marker</a>
<a href="https://site.example/short-video-clip_98765">dup absolute</a>
<a href="/short_12345">too short no marker</a>
<a href="/some-really-long-slug-that-has-a-tiny-id-number_1234">id too short</a>
<a href="/category-amazing-holiday-video-at-the-beach_123456">keyword prefix</a>
<a href="/tags">keyword</a>
<a href="/two/segments-video-clip_123456">two segments</a>
<a href="/query-video-clip_123456?ref=1">query</a>
<a href="/frag-video-clip_123456#t">fragment</a>
<a href="https://other.example/cross-video-clip_123456">cross host</a>
<a href="/porn-free-video-title-here-at-length_55555">ok second</a>
<a href="/search?q=cats&page=2">Next</a>
</body></html>`

func TestDiscoverLinksHeuristics(t *testing.T) {
	f := &fakeFetcher{pages: map[string]string{"https://site.example/search?q=cats": listing}}
	d := New(f, DefaultOptions(), logger.Discard())

	set, err := d.DiscoverLinks(context.Background(), "https://site.example/search?q=cats")
	require.NoError(t, err)

	assert.Equal(t, []string{
		"https://site.example/amazing-holiday-video-at-the-beach-in-summer_123456",
		"https://site.example/short-video-clip_98765",
		"https://site.example/porn-free-video-title-here-at-length_55555",
	}, set.Links)
	assert.Equal(t, "https://site.example/search?q=cats&page=2", set.NextPageURL)
	assert.Equal(t, "Results", set.Title)
}

func TestDiscoverLinksCap(t *testing.T) {
	var b strings.Builder
	for i := 0; i < 30; i++ {
		fmt.Fprintf(&b, `<a href="/clip-number-%d-video-here_1000%02d">x</a>`, i, i)
	}
	f := &fakeFetcher{pages: map[string]string{"https://site.example/latest": b.String()}}
	d := New(f, Options{MaxResults: 20}, logger.Discard())

	set, err := d.DiscoverLinks(context.Background(), "https://site.example/latest")
	require.NoError(t, err)
	assert.Len(t, set.Links, 20)
}

func TestDiscoverLinksFetchFailure(t *testing.T) {
	d := New(&fakeFetcher{}, DefaultOptions(), logger.Discard())
	_, err := d.DiscoverLinks(context.Background(), "https://site.example/missing")

	var fe *clients.FetchError
	assert.True(t, errors.As(err, &fe))
}

func TestFindNextPage(t *testing.T) {
	tests := []struct {
		name string
		page string
		html string
		want string
		// strict turns off the implicit page 2
		strict bool
	}{
		{"anchor text", "https://s.example/list", `<a href="/list/2">Next »</a>`, "https://s.example/list/2", false},
		{"localized anchor", "https://s.example/list", `<a href="/list?p=2">Selanjutnya</a>`, "https://s.example/list?p=2", false},
		{"glyph anchor", "https://s.example/list", `<a href="/list/p2">›</a>`, "https://s.example/list/p2", false},
		{"rel next", "https://s.example/list", `<a rel="next" href="/list/p2">2</a>`, "https://s.example/list/p2", false},
		{"cross host anchor ignored", "https://s.example/list?page=4", `<a href="https://evil.example/">next</a>`, "https://s.example/list?page=5", false},
		{"page param", "https://s.example/search?q=x&page=3", ``, "https://s.example/search?page=4&q=x", false},
		{"non numeric page param", "https://s.example/search?page=last", ``, "", false},
		{"path token", "https://s.example/latest/page/3/", ``, "https://s.example/latest/page/4/", false},
		{"first page", "https://s.example/search?q=x", ``, "https://s.example/search?page=2&q=x", false},
		{"first page without implicit page", "https://s.example/search?q=x", ``, "", true},
		{"page param still applies without implicit page", "https://s.example/search?page=3", ``, "https://s.example/search?page=4", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			doc, err := markup.Parse([]byte(tt.html))
			require.NoError(t, err)
			base, _ := url.Parse(tt.page)
			assert.Equal(t, tt.want, FindNextPage(doc, base, !tt.strict))
		})
	}
}

func TestIsContentPath(t *testing.T) {
	opts := DefaultOptions()
	assert.True(t, IsContentPath("/my-video-clip_12345", opts))
	assert.True(t, IsContentPath("/my-video-clip_12345/", opts))
	assert.False(t, IsContentPath("/", opts))
	assert.False(t, IsContentPath("/login_123456789-video-", opts))
	assert.False(t, IsContentPath("/profile_video-of-someone-with-long-name_123456", opts))
}

func TestPageNumber(t *testing.T) {
	assert.Equal(t, 1, PageNumber("https://s.example/search?q=x"))
	assert.Equal(t, 7, PageNumber("https://s.example/search?q=x&page=7"))
	assert.Equal(t, 1, PageNumber("https://s.example/search?page=zero"))
}
