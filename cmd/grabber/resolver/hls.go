package resolver

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"
)

const (
	manifestMarker = "#EXTM3U"
	streamInfTag   = "#EXT-X-STREAM-INF"
)

// playlistState bounds manifest recursion: a master may be followed once,
// and whatever it points at must be a media playlist.
type playlistState int

const (
	stateUnresolved playlistState = iota
	stateMasterSeen
	stateVariantResolved
)

func (s playlistState) String() string {
	switch s {
	case stateUnresolved:
		return "unresolved"
	case stateMasterSeen:
		return "master-seen"
	case stateVariantResolved:
		return "variant-resolved"
	}
	return "unknown"
}

// Variant is one rendition listed in a master playlist
type Variant struct {
	URL        string
	Resolution string
	Bandwidth  int64
}

var (
	bandwidthAttr  = regexp.MustCompile(`(?:^|[:,])BANDWIDTH=(\d+)`)
	resolutionAttr = regexp.MustCompile(`RESOLUTION=(\d+x\d+)`)
)

// IsManifest reports whether body looks like an HLS playlist
func IsManifest(body []byte) bool {
	return bytes.Contains(body, []byte(manifestMarker))
}

// IsMaster reports whether body lists stream variants
func IsMaster(body []byte) bool {
	return bytes.Contains(body, []byte("EXT-X-STREAM-INF"))
}

// ParseMaster returns the variants of a master playlist in encounter order
func ParseMaster(body []byte, base *url.URL) ([]Variant, error) {
	lines := manifestLines(body)
	var variants []Variant

	for i := 0; i < len(lines); i++ {
		line := lines[i]
		if !strings.HasPrefix(line, streamInfTag) || i+1 >= len(lines) {
			continue
		}
		next := lines[i+1]
		if next == "" || strings.HasPrefix(next, "#") {
			continue
		}
		abs, err := base.Parse(next)
		if err != nil {
			continue
		}

		v := Variant{URL: abs.String(), Resolution: "unknown"}
		if m := bandwidthAttr.FindStringSubmatch(line); m != nil {
			v.Bandwidth, _ = strconv.ParseInt(m[1], 10, 64)
		}
		if m := resolutionAttr.FindStringSubmatch(line); m != nil {
			v.Resolution = m[1]
		}
		variants = append(variants, v)
		i++
	}

	if len(variants) == 0 {
		return nil, fmt.Errorf("%w: master playlist has no variants", ErrManifest)
	}
	return variants, nil
}

// SelectVariant picks the highest bandwidth; ties go to the earliest entry
func SelectVariant(variants []Variant) Variant {
	best := variants[0]
	for _, v := range variants[1:] {
		if v.Bandwidth > best.Bandwidth {
			best = v
		}
	}
	return best
}

// ParseMedia returns the segment plan of a media playlist: every non-comment
// line resolved against the playlist's own URL, in order.
func ParseMedia(body []byte, base *url.URL) ([]string, error) {
	var plan []string
	for _, line := range manifestLines(body) {
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		abs, err := base.Parse(line)
		if err != nil {
			continue
		}
		plan = append(plan, abs.String())
	}
	if len(plan) == 0 {
		return nil, fmt.Errorf("%w: media playlist has no segments", ErrManifest)
	}
	return plan, nil
}

func manifestLines(body []byte) []string {
	var lines []string
	sc := bufio.NewScanner(bytes.NewReader(body))
	sc.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for sc.Scan() {
		lines = append(lines, strings.TrimSpace(sc.Text()))
	}
	return lines
}

// segmentPlan walks a manifest to its segment plan. body is the already
// fetched manifest at manifestURL.
func (r *Resolver) segmentPlan(ctx context.Context, manifestURL string, body []byte) ([]string, error) {
	base, err := url.Parse(manifestURL)
	if err != nil {
		return nil, fmt.Errorf("%w: bad manifest url: %v", ErrManifest, err)
	}

	state := stateUnresolved
	for {
		if !IsMaster(body) {
			plan, err := ParseMedia(body, base)
			if err != nil {
				return nil, err
			}
			state = stateVariantResolved
			r.log.Info("media playlist parsed", "url", base.String(), "segments", len(plan), "state", state)
			return plan, nil
		}

		if state != stateUnresolved {
			return nil, fmt.Errorf("%w: variant %s is itself a master playlist", ErrManifest, base)
		}

		variants, err := ParseMaster(body, base)
		if err != nil {
			return nil, err
		}
		best := SelectVariant(variants)
		state = stateMasterSeen
		r.log.Info("variant selected",
			"master", base.String(),
			"variants", len(variants),
			"resolution", best.Resolution,
			"bandwidth", best.Bandwidth)

		page, err := r.fetcher.GetPage(ctx, best.URL)
		if err != nil {
			return nil, fmt.Errorf("fetch variant playlist: %w", err)
		}
		if base, err = url.Parse(page.URL); err != nil {
			return nil, fmt.Errorf("%w: bad variant url: %v", ErrManifest, err)
		}
		body = page.Body
	}
}
