package downloader

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"unicode"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSanitizeFilename(t *testing.T) {
	tests := []struct {
		in   string
		max  int
		want string
	}{
		{"My Video.mp4", 0, "My_Video.mp4"},
		{"  spaced   out  ", 0, "spaced_out"},
		{"../../etc/passwd", 0, "etc_passwd"},
		{`a<b>c:d"e|f?g*h`, 0, "a_b_c_d_e_f_g_h"},
		{"tab\tnew\nline\x00", 0, "tab_new_line"},
		{"zero\u200bwidth", 0, "zero_width"},
		{"CON", 0, "file_CON"},
		{"nul.mp4", 0, "file_nul.mp4"},
		{"...", 0, "video"},
		{"", 0, "video"},
		{"a_very_long_name.mp4", 10, "a_very.mp4"},
		{"CONSOLE.mp4", 7, "fil.mp4"},
		{"Ünïcödé ok", 0, "Ünïcödé_ok"},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, SanitizeFilename(tt.in, tt.max))
		})
	}
}

func TestSanitizeFilenameIdempotent(t *testing.T) {
	inputs := []string{
		"My Video.mp4", "../../x", "__a__b__", "a..b..c", "CON.txt", "-._lead and trail_.-",
		strings.Repeat("long name ", 40) + ".webm", "\xff\xfeinvalid", "x/y\\z", "COM1",
	}
	for _, in := range inputs {
		for _, maxLen := range []int{0, 5, 12, 60} {
			once := SanitizeFilename(in, maxLen)
			assert.Equal(t, once, SanitizeFilename(once, maxLen), "input %q max %d", in, maxLen)

			limit := maxLen
			if limit == 0 {
				limit = DefaultFilenameMaxLength
			}
			assert.LessOrEqual(t, utf8.RuneCountInString(once), limit)
			assert.False(t, strings.ContainsAny(once, `/\`))
			for _, r := range once {
				assert.False(t, unicode.IsControl(r), "control rune in %q", once)
			}
		}
	}
}

func TestDeriveFilename(t *testing.T) {
	tests := []struct {
		name     string
		title    string
		url      string
		playlist bool
		want     string
	}{
		{"title wins", "Nice Clip", "https://h/x/abc.mp4", false, "Nice_Clip.mp4"},
		{"decoded path segment", "", "https://h/x/My%20Movie.mkv", false, "My_Movie.mkv"},
		{"unknown extension gets mp4", "", "https://h/x/stream.php", false, "stream.php.mp4"},
		{"title with a dot", "Mr. Smith", "https://h/x", false, "Mr._Smith.mp4"},
		{"playlist extension replaced", "", "https://h/hls/index.m3u8", true, "index.mp4"},
		{"empty path falls back", "", "https://h/", false, "video.mp4"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, DeriveFilename(tt.title, tt.url, tt.playlist, 0))
		})
	}
}

func TestUniquePathOnCollision(t *testing.T) {
	dir := t.TempDir()
	assert.Equal(t, filepath.Join(dir, "a.mp4"), uniquePath(dir, "a.mp4"))

	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.mp4"), []byte("x"), 0o644))
	p := uniquePath(dir, "a.mp4")
	assert.NotEqual(t, filepath.Join(dir, "a.mp4"), p)
	assert.True(t, strings.HasPrefix(filepath.Base(p), "a_"))
	assert.Equal(t, ".mp4", filepath.Ext(p))
}
