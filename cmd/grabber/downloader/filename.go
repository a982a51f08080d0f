package downloader

import (
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/lyzr/mediagrab/cmd/grabber/resolver"
)

// DefaultFilenameMaxLength caps sanitized names when no limit is configured
const DefaultFilenameMaxLength = 200

const (
	unsafeChars  = `<>:"/\|?*`
	edgeChars    = "._-"
	fallbackName = "video"
	playlistExt  = ".mp4"
)

var reservedNames = map[string]bool{
	"CON": true, "PRN": true, "AUX": true, "NUL": true,
	"COM1": true, "COM2": true, "COM3": true, "COM4": true, "COM5": true,
	"COM6": true, "COM7": true, "COM8": true, "COM9": true,
	"LPT1": true, "LPT2": true, "LPT3": true, "LPT4": true, "LPT5": true,
	"LPT6": true, "LPT7": true, "LPT8": true, "LPT9": true,
}

// SanitizeFilename makes name safe to use as a single path element.
// The result never contains separators or control characters, is at most
// maxLen runes long and SanitizeFilename(SanitizeFilename(x)) == SanitizeFilename(x).
func SanitizeFilename(name string, maxLen int) string {
	if maxLen <= 0 {
		maxLen = DefaultFilenameMaxLength
	}

	var b strings.Builder
	for _, r := range name {
		switch {
		case r == utf8.RuneError,
			unicode.IsControl(r),
			unicode.Is(unicode.Cf, r),
			unicode.IsSpace(r),
			strings.ContainsRune(unsafeChars, r):
			b.WriteRune('_')
		default:
			b.WriteRune(r)
		}
	}

	s := collapseRuns(b.String())
	s = strings.Trim(s, edgeChars)
	s = truncateName(s, maxLen)
	if isReservedName(s) {
		s = truncateName("file_"+s, maxLen)
	}
	if s == "" {
		return fallbackName
	}
	return s
}

func collapseRuns(s string) string {
	for strings.Contains(s, "__") {
		s = strings.ReplaceAll(s, "__", "_")
	}
	for strings.Contains(s, "..") {
		s = strings.ReplaceAll(s, "..", ".")
	}
	return s
}

// truncateName cuts s to maxLen runes, keeping the extension when it fits
func truncateName(s string, maxLen int) string {
	if utf8.RuneCountInString(s) <= maxLen {
		return s
	}

	ext := filepath.Ext(s)
	extLen := utf8.RuneCountInString(ext)
	if ext == "" || extLen >= maxLen {
		return strings.Trim(string([]rune(s)[:maxLen]), edgeChars)
	}

	base := []rune(strings.TrimSuffix(s, ext))
	trimmed := strings.Trim(string(base[:maxLen-extLen]), edgeChars)
	if trimmed == "" {
		return strings.Trim(ext, edgeChars)
	}
	return trimmed + ext
}

func isReservedName(s string) bool {
	stem, _, _ := strings.Cut(s, ".")
	return reservedNames[strings.ToUpper(stem)]
}

// DeriveFilename picks the on-disk name for a download: the title when there
// is one, else the decoded last path segment of rawURL. Playlists always
// become .mp4; direct files keep a known media extension or get .mp4.
func DeriveFilename(title, rawURL string, playlist bool, maxLen int) string {
	name := strings.TrimSpace(title)
	if name == "" {
		name = lastSegment(rawURL)
	}
	if name == "" {
		name = fallbackName
	}

	ext := strings.ToLower(filepath.Ext(name))
	switch {
	case playlist:
		if ext == ".m3u8" || isMediaExt(ext) {
			name = strings.TrimSuffix(name, filepath.Ext(name))
		}
		name += playlistExt
	case !isMediaExt(ext):
		name += playlistExt
	}

	return SanitizeFilename(name, maxLen)
}

func lastSegment(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	seg := path.Base(u.EscapedPath())
	if seg == "/" || seg == "." {
		return ""
	}
	if decoded, err := url.PathUnescape(seg); err == nil {
		seg = decoded
	}
	return seg
}

func isMediaExt(ext string) bool {
	for _, m := range resolver.MediaExtensions {
		if ext == m {
			return true
		}
	}
	return false
}

// uniquePath returns dir/name, or dir/<base>_<id><ext> when that name (or its
// partial file) is already taken
func uniquePath(dir, name string) string {
	candidate := filepath.Join(dir, name)
	if !exists(candidate) && !exists(candidate+partSuffix) {
		return candidate
	}
	ext := filepath.Ext(name)
	base := strings.TrimSuffix(name, ext)
	return filepath.Join(dir, base+"_"+uuid.NewString()[:8]+ext)
}

func exists(p string) bool {
	_, err := os.Lstat(p)
	return err == nil
}
