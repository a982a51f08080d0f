package models

import "time"

// SnapshotVersion is the current on-disk schema version
const SnapshotVersion = 1

// DeliveryStatus tracks an item through delivery
type DeliveryStatus string

const (
	StatusPending DeliveryStatus = "pending"
	StatusSent    DeliveryStatus = "sent"
	StatusFailed  DeliveryStatus = "failed"
)

// Valid reports whether s is a known status
func (s DeliveryStatus) Valid() bool {
	switch s {
	case StatusPending, StatusSent, StatusFailed:
		return true
	}
	return false
}

// HistoryEntry records one download attempt by a requester
type HistoryEntry struct {
	URL         string         `json:"url"`
	RequesterID string         `json:"requester_id"`
	Filename    string         `json:"filename"`
	Status      DeliveryStatus `json:"status"`
	CreatedAt   time.Time      `json:"created_at"`
	SentAt      *time.Time     `json:"sent_at,omitempty"`
}

// SessionEntry is the last listing a requester browsed
type SessionEntry struct {
	RequesterID string    `json:"requester_id"`
	Links       []string  `json:"links"`
	NextPageURL string    `json:"next_page_url,omitempty"`
	OriginURL   string    `json:"origin_url,omitempty"`
	PageNumber  int       `json:"page_number,omitempty"`
	Title       string    `json:"title,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// Empty reports whether the session carries nothing actionable
func (s *SessionEntry) Empty() bool {
	return s == nil || (len(s.Links) == 0 && s.NextPageURL == "")
}

// Snapshot is the whole persisted ledger
type Snapshot struct {
	Version   int            `json:"version"`
	Downloads []HistoryEntry `json:"downloads"`
	Sessions  []SessionEntry `json:"sessions"`
}

// NewSnapshot returns an empty snapshot at the current version
func NewSnapshot() *Snapshot {
	return &Snapshot{
		Version:   SnapshotVersion,
		Downloads: []HistoryEntry{},
		Sessions:  []SessionEntry{},
	}
}

// Clone returns a deep copy
func (s *Snapshot) Clone() *Snapshot {
	out := &Snapshot{
		Version:   s.Version,
		Downloads: make([]HistoryEntry, len(s.Downloads)),
		Sessions:  make([]SessionEntry, len(s.Sessions)),
	}
	copy(out.Downloads, s.Downloads)
	for i, e := range out.Downloads {
		if e.SentAt != nil {
			t := *e.SentAt
			out.Downloads[i].SentAt = &t
		}
	}
	for i, sess := range s.Sessions {
		sess.Links = append([]string(nil), sess.Links...)
		out.Sessions[i] = sess
	}
	return out
}
