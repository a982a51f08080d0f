package models

import "time"

// LocatorKind distinguishes a single media file from an HLS playlist
type LocatorKind string

const (
	KindDirect   LocatorKind = "direct"
	KindPlaylist LocatorKind = "playlist"
)

// Locator points at a retrievable media resource
type Locator struct {
	Kind LocatorKind `json:"kind"`
	URL  string      `json:"url"`

	// Segments is the ordered segment plan for a playlist locator,
	// filled once the playlist has been resolved.
	Segments []string `json:"segments,omitempty"`
}

// Resolution is what a page or manifest resolved to
type Resolution struct {
	Locators   []Locator `json:"locators"`
	Title      string    `json:"title,omitempty"`
	IsPlaylist bool      `json:"is_playlist"`
}

// Artifact is a completed download on local disk.
// MinFileSize <= Size <= MaxFileSize always holds for an Artifact handed to
// a sink; anything else is deleted by the download engine.
type Artifact struct {
	Path      string    `json:"path,omitempty"`
	Filename  string    `json:"filename"`
	Size      int64     `json:"size"`
	SourceURL string    `json:"source_url"`
	CreatedAt time.Time `json:"created_at"`
}

// SizeMB returns the size in megabytes for captions and logs
func (a *Artifact) SizeMB() float64 {
	return float64(a.Size) / (1024 * 1024)
}

// HostVerdict is the gate's decision for one URL
type HostVerdict struct {
	Allowed bool   `json:"allowed"`
	Reason  string `json:"reason,omitempty"`
}

// LinkSet is the output of discovery on a listing page.
// Links are unique and capped.
type LinkSet struct {
	Links       []string `json:"links"`
	NextPageURL string   `json:"next_page_url,omitempty"`
	Title       string   `json:"title,omitempty"`
}

// Empty reports whether there is nothing to download and nowhere to go next
func (l *LinkSet) Empty() bool {
	return l == nil || (len(l.Links) == 0 && l.NextPageURL == "")
}
