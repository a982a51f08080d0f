// Package ledger records what was delivered to whom and the listing each
// requester is browsing, both bounded by retention windows.
package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/lyzr/mediagrab/common/cache"
	"github.com/lyzr/mediagrab/common/config"
	"github.com/lyzr/mediagrab/common/logger"
	"github.com/lyzr/mediagrab/common/metrics"
	"github.com/lyzr/mediagrab/common/models"
)

const cacheKey = "ledger:snapshot"

// errUnchanged aborts an update that has nothing to write
var errUnchanged = errors.New("ledger unchanged")

// Options are the ledger's retention and caching windows
type Options struct {
	HistoryRetention time.Duration
	SessionRetention time.Duration
	CacheTTL         time.Duration
}

// OptionsFrom maps ledger config onto options
func OptionsFrom(cfg config.LedgerConfig) Options {
	return Options{
		HistoryRetention: cfg.HistoryRetention,
		SessionRetention: cfg.SessionRetention,
		CacheTTL:         cfg.CacheTTL,
	}
}

// Option customizes a Ledger
type Option func(*Ledger)

// WithClock replaces time.Now
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) {
		l.now = now
	}
}

// Ledger is the history and session record. Store failures are logged and
// reads fall back to the last snapshot that loaded successfully.
type Ledger struct {
	store Store
	cache cache.Cache
	opts  Options
	now   func() time.Time
	log   logger.Interface

	mu       sync.Mutex
	lastGood *models.Snapshot
}

// New creates a ledger over store, reading through c
func New(store Store, c cache.Cache, opts Options, log logger.Interface, options ...Option) *Ledger {
	l := &Ledger{
		store:    store,
		cache:    c,
		opts:     opts,
		now:      time.Now,
		log:      log,
		lastGood: models.NewSnapshot(),
	}
	for _, opt := range options {
		opt(l)
	}
	return l
}

// IsDuplicate reports whether url was delivered to requester within the
// history retention window
func (l *Ledger) IsDuplicate(ctx context.Context, url, requester string) bool {
	snap := l.snapshot(ctx)
	now := l.now()
	for _, e := range snap.Downloads {
		if e.URL == url && e.RequesterID == requester &&
			e.Status == models.StatusSent && l.live(e.CreatedAt, now, l.opts.HistoryRetention) {
			return true
		}
	}
	return false
}

// Record appends a history entry
func (l *Ledger) Record(ctx context.Context, url, requester, filename string, status models.DeliveryStatus) {
	now := l.now()
	entry := models.HistoryEntry{
		URL:         url,
		RequesterID: requester,
		Filename:    filename,
		Status:      status,
		CreatedAt:   now,
	}
	if status == models.StatusSent {
		entry.SentAt = &now
	}

	l.update(ctx, "record", func(s *models.Snapshot) error {
		s.Downloads = append(s.Downloads, entry)
		return nil
	})
}

// UpdateStatus sets the status of the newest entry for filename and reports
// whether one was found
func (l *Ledger) UpdateStatus(ctx context.Context, filename string, status models.DeliveryStatus) bool {
	now := l.now()
	return l.update(ctx, "update_status", func(s *models.Snapshot) error {
		for i := len(s.Downloads) - 1; i >= 0; i-- {
			if s.Downloads[i].Filename != filename {
				continue
			}
			s.Downloads[i].Status = status
			if status == models.StatusSent {
				s.Downloads[i].SentAt = &now
			}
			return nil
		}
		return errUnchanged
	})
}

// GetSession returns the requester's live session, or nil
func (l *Ledger) GetSession(ctx context.Context, requester string) *models.SessionEntry {
	snap := l.snapshot(ctx)
	now := l.now()
	for _, s := range snap.Sessions {
		if s.RequesterID != requester {
			continue
		}
		if s.Empty() || !l.live(s.CreatedAt, now, l.opts.SessionRetention) {
			return nil
		}
		out := s
		out.Links = append([]string(nil), s.Links...)
		return &out
	}
	return nil
}

// PutSession replaces the requester's session. A session with no links and
// no next page is not stored.
func (l *Ledger) PutSession(ctx context.Context, requester string, entry models.SessionEntry) {
	if entry.Empty() {
		l.log.Debug("empty session not stored", "requester_id", requester)
		return
	}
	entry.RequesterID = requester
	entry.Links = append([]string(nil), entry.Links...)
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = l.now()
	}

	l.update(ctx, "put_session", func(s *models.Snapshot) error {
		for i := range s.Sessions {
			if s.Sessions[i].RequesterID == requester {
				s.Sessions[i] = entry
				return nil
			}
		}
		s.Sessions = append(s.Sessions, entry)
		return nil
	})
}

// DeleteSession removes the requester's session and reports whether one existed
func (l *Ledger) DeleteSession(ctx context.Context, requester string) bool {
	return l.update(ctx, "delete_session", func(s *models.Snapshot) error {
		for i := range s.Sessions {
			if s.Sessions[i].RequesterID == requester {
				s.Sessions = append(s.Sessions[:i], s.Sessions[i+1:]...)
				return nil
			}
		}
		return errUnchanged
	})
}

// Sweep drops expired history and sessions and returns how many were removed
func (l *Ledger) Sweep(ctx context.Context) int {
	removed := 0
	l.update(ctx, "sweep", func(s *models.Snapshot) error {
		removed = l.prune(s)
		if removed == 0 {
			return errUnchanged
		}
		return nil
	})
	if removed > 0 {
		l.log.Info("ledger swept", "removed", removed)
	}
	return removed
}

// Pending lists undelivered entries still inside the retention window
func (l *Ledger) Pending(ctx context.Context) []models.HistoryEntry {
	snap := l.snapshot(ctx)
	now := l.now()
	var out []models.HistoryEntry
	for _, e := range snap.Downloads {
		if e.Status == models.StatusPending && l.live(e.CreatedAt, now, l.opts.HistoryRetention) {
			out = append(out, e)
		}
	}
	return out
}

// fresh keeps an entry from being purged until it is strictly older than retention
func (l *Ledger) fresh(at, now time.Time, retention time.Duration) bool {
	return retention <= 0 || now.Sub(at) <= retention
}

// live reports whether an entry still counts for lookups; at exactly
// retention age it no longer does
func (l *Ledger) live(at, now time.Time, retention time.Duration) bool {
	return retention <= 0 || now.Sub(at) < retention
}

func (l *Ledger) prune(s *models.Snapshot) int {
	now := l.now()
	before := len(s.Downloads) + len(s.Sessions)

	downloads := s.Downloads[:0]
	for _, e := range s.Downloads {
		if l.fresh(e.CreatedAt, now, l.opts.HistoryRetention) {
			downloads = append(downloads, e)
		}
	}
	s.Downloads = downloads

	sessions := s.Sessions[:0]
	for _, sess := range s.Sessions {
		if l.fresh(sess.CreatedAt, now, l.opts.SessionRetention) {
			sessions = append(sessions, sess)
		}
	}
	s.Sessions = sessions

	return before - len(s.Downloads) - len(s.Sessions)
}

// update applies fn plus an opportunistic prune and reports whether anything was written
func (l *Ledger) update(ctx context.Context, op string, fn func(*models.Snapshot) error) bool {
	err := l.store.Update(ctx, func(s *models.Snapshot) error {
		if err := fn(s); err != nil {
			return err
		}
		l.prune(s)
		return nil
	})
	l.invalidate(ctx)

	if err != nil {
		if !errors.Is(err, errUnchanged) {
			metrics.RecordLedgerError(op)
			l.log.Error("ledger write failed", "op", op, "error", err)
		}
		return false
	}
	return true
}

func (l *Ledger) snapshot(ctx context.Context) *models.Snapshot {
	if l.cache != nil {
		if data, ok, err := l.cache.Get(ctx, cacheKey); err == nil && ok {
			snap := models.NewSnapshot()
			if err := json.Unmarshal(data, snap); err == nil {
				return snap
			}
		}
	}

	snap, err := l.store.Load(ctx)
	if err != nil {
		metrics.RecordLedgerError("load")
		l.log.Error("ledger load failed, using last known snapshot", "error", err)
		l.mu.Lock()
		defer l.mu.Unlock()
		return l.lastGood.Clone()
	}

	l.mu.Lock()
	l.lastGood = snap.Clone()
	l.mu.Unlock()
	if l.cache != nil && l.opts.CacheTTL > 0 {
		if data, err := json.Marshal(snap); err == nil {
			_ = l.cache.Set(ctx, cacheKey, data, l.opts.CacheTTL)
		}
	}
	return snap
}

func (l *Ledger) invalidate(ctx context.Context) {
	if l.cache != nil {
		_ = l.cache.Delete(ctx, cacheKey)
	}
}
