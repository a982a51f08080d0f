package clients

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testLogger struct{ t *testing.T }

func (l testLogger) Info(msg string, kv ...interface{})  { l.t.Logf("INFO %s %v", msg, kv) }
func (l testLogger) Error(msg string, kv ...interface{}) { l.t.Logf("ERROR %s %v", msg, kv) }
func (l testLogger) Warn(msg string, kv ...interface{})  { l.t.Logf("WARN %s %v", msg, kv) }
func (l testLogger) Debug(msg string, kv ...interface{}) { l.t.Logf("DEBUG %s %v", msg, kv) }

var errBlocked = errors.New("blocked")

// pathGate blocks any URL whose path contains "forbidden".
type pathGate struct{ calls []string }

func (g *pathGate) Validate(_ context.Context, raw string) error {
	g.calls = append(g.calls, raw)
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if strings.Contains(u.Path, "forbidden") {
		return fmt.Errorf("%w: %s", errBlocked, raw)
	}
	return nil
}

func TestParseHeaderRules(t *testing.T) {
	rules := ParseHeaderRules("erome.com=https://www.erome.com/|https://www.erome.com, bad, example.org=https://example.org/")
	require.Len(t, rules, 2)

	rule, ok := rules.Match("cdn.erome.com")
	require.True(t, ok)
	assert.Equal(t, "https://www.erome.com/", rule.Referer)
	assert.Equal(t, "https://www.erome.com", rule.Origin)

	_, ok = rules.Match("notexample.org")
	assert.False(t, ok, "suffix match requires a dot boundary")

	rule, ok = rules.Match("example.org")
	require.True(t, ok)
	assert.Empty(t, rule.Origin)
}

func TestGetPageSendsBrowserHeaders(t *testing.T) {
	var gotUA, gotReferer string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUA = r.Header.Get("User-Agent")
		gotReferer = r.Header.Get("Referer")
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write([]byte("<html>ok</html>"))
	}))
	defer srv.Close()

	gate := &pathGate{}
	c := NewHTTPClient(ClientConfig{
		UserAgent:    "test-agent",
		MaxRedirects: 5,
		HeaderRules:  HeaderRules{{HostSuffix: "127.0.0.1", Referer: "https://ref.example/"}},
	}, gate, testLogger{t})

	page, err := c.GetPage(context.Background(), srv.URL+"/watch")
	require.NoError(t, err)
	assert.Equal(t, "<html>ok</html>", string(page.Body))
	assert.Contains(t, page.ContentType, "text/html")
	assert.Equal(t, "test-agent", gotUA)
	assert.Equal(t, "https://ref.example/", gotReferer)
	assert.Equal(t, []string{srv.URL + "/watch"}, gate.calls)
}

func TestRedirectHopsAreGated(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/start" {
			http.Redirect(w, r, "/forbidden", http.StatusFound)
			return
		}
		t.Errorf("blocked target was contacted: %s", r.URL.Path)
	}))
	defer srv.Close()

	c := NewHTTPClient(ClientConfig{MaxRedirects: 5}, &pathGate{}, testLogger{t})
	_, err := c.GetPage(context.Background(), srv.URL+"/start")
	require.Error(t, err)
	assert.ErrorIs(t, err, errBlocked)

	var fe *FetchError
	assert.True(t, errors.As(err, &fe))
}

func TestRedirectCap(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, r.URL.Path+"x", http.StatusFound)
	}))
	defer srv.Close()

	c := NewHTTPClient(ClientConfig{MaxRedirects: 5}, &pathGate{}, testLogger{t}).WithMaxRedirects(2)
	_, err := c.GetPage(context.Background(), srv.URL+"/r")
	assert.ErrorIs(t, err, ErrTooManyRedirects)
}

func TestGetPageNon2xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	c := NewHTTPClient(ClientConfig{}, &pathGate{}, testLogger{t})
	_, err := c.GetPage(context.Background(), srv.URL)

	var fe *FetchError
	require.True(t, errors.As(err, &fe))
	assert.Equal(t, http.StatusNotFound, fe.StatusCode)
}

func TestRequesterContext(t *testing.T) {
	_, ok := GetRequesterID(context.Background())
	assert.False(t, ok)

	id, ok := GetRequesterID(WithRequesterID(context.Background(), "r1"))
	assert.True(t, ok)
	assert.Equal(t, "r1", id)
}
