package pipeline

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lyzr/mediagrab/cmd/grabber/batch"
	"github.com/lyzr/mediagrab/cmd/grabber/delivery"
	"github.com/lyzr/mediagrab/cmd/grabber/discovery"
	"github.com/lyzr/mediagrab/cmd/grabber/state"
	"github.com/lyzr/mediagrab/common/logger"
	"github.com/lyzr/mediagrab/common/models"
)

type stubGate struct{ blocked map[string]bool }

func (g stubGate) Validate(ctx context.Context, rawURL string) error {
	if g.blocked[rawURL] {
		return errors.New("blocked")
	}
	return nil
}

type stubClassifier struct{ listings map[string]bool }

func (c stubClassifier) IsListing(rawURL string) (bool, error) {
	return c.listings[rawURL], nil
}

type stubDiscoverer struct{ pages map[string]*models.LinkSet }

func (d stubDiscoverer) DiscoverLinks(ctx context.Context, pageURL string) (*models.LinkSet, error) {
	if set, ok := d.pages[pageURL]; ok {
		return set, nil
	}
	return &models.LinkSet{}, nil
}

type stubResolver struct{ res map[string]*models.Resolution }

func (r stubResolver) Resolve(ctx context.Context, rawURL string) (*models.Resolution, error) {
	if res, ok := r.res[rawURL]; ok {
		return res, nil
	}
	return nil, errors.New("no media")
}

type fakeRunner struct {
	mu      sync.Mutex
	items   []batch.Item
	batches []batch.Request
	release chan struct{}
}

func (f *fakeRunner) ProcessOne(ctx context.Context, requester string, item batch.Item) (batch.Outcome, *models.Artifact, error) {
	f.mu.Lock()
	f.items = append(f.items, item)
	f.mu.Unlock()
	return batch.OutcomeSuccess, &models.Artifact{Filename: "clip.mp4", SourceURL: item.URL}, nil
}

func (f *fakeRunner) Run(ctx context.Context, req batch.Request) models.BatchResult {
	if f.release != nil {
		<-f.release
	}
	f.mu.Lock()
	f.batches = append(f.batches, req)
	f.mu.Unlock()
	req.Progress <- models.BatchProgress{BatchID: req.BatchID, RequesterID: req.RequesterID, Total: len(req.Links), Completed: len(req.Links), Success: len(req.Links), Done: true}
	return models.BatchResult{BatchID: req.BatchID, Total: len(req.Links), Success: len(req.Links), NextPageURL: req.NextPageURL}
}

type memLedger struct {
	mu       sync.Mutex
	sessions map[string]models.SessionEntry
	pending  []models.HistoryEntry
	statuses map[string]models.DeliveryStatus
}

func newMemLedger() *memLedger {
	return &memLedger{sessions: map[string]models.SessionEntry{}, statuses: map[string]models.DeliveryStatus{}}
}

func (l *memLedger) GetSession(ctx context.Context, requester string) *models.SessionEntry {
	l.mu.Lock()
	defer l.mu.Unlock()
	s, ok := l.sessions[requester]
	if !ok {
		return nil
	}
	return &s
}

func (l *memLedger) PutSession(ctx context.Context, requester string, entry models.SessionEntry) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.sessions[requester] = entry
}

func (l *memLedger) DeleteSession(ctx context.Context, requester string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.sessions[requester]
	delete(l.sessions, requester)
	return ok
}

func (l *memLedger) Pending(ctx context.Context) []models.HistoryEntry {
	return l.pending
}

func (l *memLedger) UpdateStatus(ctx context.Context, filename string, status models.DeliveryStatus) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.statuses[filename] = status
	return true
}

type recordingSink struct {
	mu        sync.Mutex
	delivered []string
	notes     []string
	fail      bool
}

func (s *recordingSink) Deliver(ctx context.Context, recipient string, a *models.Artifact, md delivery.Metadata) error {
	if s.fail {
		return delivery.ErrPermanent
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.delivered = append(s.delivered, a.Filename)
	return nil
}

func (s *recordingSink) Notify(ctx context.Context, recipient, text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.notes = append(s.notes, text)
	return nil
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []models.BatchProgress
}

func (p *recordingPublisher) Publish(ctx context.Context, progress models.BatchProgress) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, progress)
	return nil
}

type fixture struct {
	svc    *Service
	runner *fakeRunner
	ledger *memLedger
	sink   *recordingSink
	pub    *recordingPublisher
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		runner: &fakeRunner{},
		ledger: newMemLedger(),
		sink:   &recordingSink{},
		pub:    &recordingPublisher{},
	}
	f.svc = NewService(context.Background(), Deps{
		Gate:       stubGate{blocked: map[string]bool{"http://127.0.0.1/x.mp4": true}},
		Classifier: stubClassifier{listings: map[string]bool{"https://site.test/videos?page=2": true, "https://site.test/empty": true}},
		Discoverer: stubDiscoverer{pages: map[string]*models.LinkSet{
			"https://site.test/videos?page=2": {
				Links:       []string{"https://site.test/v/1", "https://site.test/v/2", "https://site.test/v/3"},
				NextPageURL: "https://site.test/videos?page=3",
			},
			"https://site.test/videos?page=3": {Links: []string{"https://site.test/v/4"}},
			"https://site.test/collection": {Links: []string{"https://site.test/v/5", "https://site.test/v/6"}},
		}},
		Resolver: stubResolver{res: map[string]*models.Resolution{
			"https://site.test/watch": {Locators: []models.Locator{{Kind: models.KindDirect, URL: "https://cdn.test/a.mp4"}}, Title: "Watch"},
			"https://site.test/multi": {Locators: []models.Locator{
				{Kind: models.KindDirect, URL: "https://cdn.test/hd.mp4"},
				{Kind: models.KindPlaylist, URL: "https://cdn.test/index.m3u8"},
			}},
		}},
		Runner:      f.runner,
		Ledger:      f.ledger,
		Selections:  state.NewMemoryStore[Selection](time.Hour, 100, time.Now),
		Sink:        f.sink,
		Publisher:   f.pub,
		Log:         logger.Discard(),
		DownloadDir: t.TempDir(),
	})
	return f
}

func TestSubmit_DirectMediaGoesStraightToDelivery(t *testing.T) {
	f := newFixture(t)

	res, err := f.svc.Submit(context.Background(), "r1", "https://cdn.test/movie.mp4")
	require.NoError(t, err)
	assert.Equal(t, KindDelivered, res.Kind)
	require.Len(t, f.runner.items, 1)
	assert.Nil(t, f.runner.items[0].Resolution)
}

func TestSubmit_GateRejectsFirst(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.Submit(context.Background(), "r1", "http://127.0.0.1/x.mp4")
	require.Error(t, err)
	assert.Empty(t, f.runner.items)
}

func TestSubmit_ListingOpensSession(t *testing.T) {
	f := newFixture(t)

	res, err := f.svc.Submit(context.Background(), "r1", "https://site.test/videos?page=2")
	require.NoError(t, err)
	assert.Equal(t, KindSession, res.Kind)
	assert.Len(t, res.Session.Links, 3)
	assert.Equal(t, 2, res.Session.PageNumber)

	sess, err := f.svc.Session(context.Background(), "r1")
	require.NoError(t, err)
	assert.Equal(t, "https://site.test/videos?page=3", sess.NextPageURL)
}

func TestSubmit_EmptyListing(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.Submit(context.Background(), "r1", "https://site.test/empty")
	assert.ErrorIs(t, err, discovery.ErrNoLinks)
}

func TestSubmit_CollectionPageOpensSession(t *testing.T) {
	f := newFixture(t)

	res, err := f.svc.Submit(context.Background(), "r1", "https://site.test/collection")
	require.NoError(t, err)
	assert.Equal(t, KindSession, res.Kind)
	assert.Equal(t, []string{"https://site.test/v/5", "https://site.test/v/6"}, res.Session.Links)
}

func TestSubmit_ResolvedPage(t *testing.T) {
	f := newFixture(t)

	res, err := f.svc.Submit(context.Background(), "r1", "https://site.test/watch")
	require.NoError(t, err)
	assert.Equal(t, KindDelivered, res.Kind)
	require.Len(t, f.runner.items, 1)
	require.NotNil(t, f.runner.items[0].Resolution)
	assert.Equal(t, "Watch", f.runner.items[0].Resolution.Title)
}

func TestSubmit_SeveralSourcesOpenSession(t *testing.T) {
	f := newFixture(t)

	res, err := f.svc.Submit(context.Background(), "r1", "https://site.test/multi")
	require.NoError(t, err)
	assert.Equal(t, KindSession, res.Kind)
	assert.Equal(t, []string{"https://cdn.test/hd.mp4", "https://cdn.test/index.m3u8"}, res.Session.Links)
}

func TestSelectAndDownload(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Submit(ctx, "r1", "https://site.test/videos?page=2")
	require.NoError(t, err)

	_, err = f.svc.Select(ctx, "r1", []int{4})
	assert.ErrorIs(t, err, ErrBadSelection)

	picked, err := f.svc.Select(ctx, "r1", []int{3, 1, 3})
	require.NoError(t, err)
	assert.Equal(t, []string{"https://site.test/v/1", "https://site.test/v/3"}, picked)

	id, n, err := f.svc.StartDownload(ctx, "r1", false)
	require.NoError(t, err)
	assert.NotEmpty(t, id)
	assert.Equal(t, 2, n)
	f.svc.Wait()

	require.Len(t, f.runner.batches, 1)
	assert.Equal(t, picked, f.runner.batches[0].Links)
	assert.Equal(t, id, f.runner.batches[0].BatchID)

	require.Len(t, f.pub.events, 1)
	assert.True(t, f.pub.events[0].Done)
	require.Len(t, f.sink.notes, 1)
	assert.Contains(t, f.sink.notes[0], "2 sent")
	assert.Contains(t, f.sink.notes[0], "Another page")

	_, _, err = f.svc.StartDownload(ctx, "r1", false)
	assert.ErrorIs(t, err, ErrBadSelection, "selection is consumed by a download")

	_, err = f.svc.Session(ctx, "r1")
	assert.NoError(t, err, "a session with another page outlives its batch")
}

func TestSubmit_UnrelatedURLEndsSession(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Submit(ctx, "r1", "https://site.test/videos?page=2")
	require.NoError(t, err)
	_, err = f.svc.Select(ctx, "r1", []int{1})
	require.NoError(t, err)

	_, err = f.svc.Submit(ctx, "r1", "https://site.test/watch")
	require.NoError(t, err)

	_, err = f.svc.Session(ctx, "r1")
	assert.ErrorIs(t, err, ErrNoSession)
	_, ok, err := f.svc.Selections.Get(ctx, "r1")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSubmit_SessionLinkKeepsSession(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Submit(ctx, "r1", "https://site.test/videos?page=2")
	require.NoError(t, err)

	_, err = f.svc.Submit(ctx, "r1", "https://site.test/v/2")
	require.Error(t, err)

	sess, err := f.svc.Session(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, "https://site.test/videos?page=2", sess.OriginURL)
}

func TestDownload_LastPageEndsSession(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Submit(ctx, "r1", "https://site.test/collection")
	require.NoError(t, err)

	_, _, err = f.svc.StartDownload(ctx, "r1", true)
	require.NoError(t, err)
	f.svc.Wait()

	_, err = f.svc.Session(ctx, "r1")
	assert.ErrorIs(t, err, ErrNoSession)
}

func TestRunBatch_KeepsNewerSession(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Submit(ctx, "r1", "https://site.test/collection")
	require.NoError(t, err)
	old, err := f.svc.Session(ctx, "r1")
	require.NoError(t, err)

	_, err = f.svc.Submit(ctx, "r1", "https://site.test/videos?page=2")
	require.NoError(t, err)

	f.svc.RunBatch(ctx, "r1", old.Links, old)

	sess, err := f.svc.Session(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, "https://site.test/videos?page=2", sess.OriginURL)
}

func TestStartDownload_AllAndBusy(t *testing.T) {
	f := newFixture(t)
	f.runner.release = make(chan struct{})
	ctx := context.Background()

	_, err := f.svc.Submit(ctx, "r1", "https://site.test/videos?page=2")
	require.NoError(t, err)

	id, n, err := f.svc.StartDownload(ctx, "r1", true)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	active, ok := f.svc.ActiveBatch("r1")
	assert.True(t, ok)
	assert.Equal(t, id, active)

	_, _, err = f.svc.StartDownload(ctx, "r1", true)
	assert.ErrorIs(t, err, ErrBusy)

	close(f.runner.release)
	f.svc.Wait()
	_, ok = f.svc.ActiveBatch("r1")
	assert.False(t, ok)
}

func TestNoSession(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Select(ctx, "nobody", []int{1})
	assert.ErrorIs(t, err, ErrNoSession)
	_, _, err = f.svc.StartDownload(ctx, "nobody", true)
	assert.ErrorIs(t, err, ErrNoSession)
	_, err = f.svc.NextPage(ctx, "nobody")
	assert.ErrorIs(t, err, ErrNoSession)
	assert.False(t, f.svc.EndSession(ctx, "nobody"))
}

func TestNextPage(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Submit(ctx, "r1", "https://site.test/videos?page=2")
	require.NoError(t, err)

	next, err := f.svc.NextPage(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, []string{"https://site.test/v/4"}, next.Links)
	assert.Equal(t, 3, next.PageNumber)
	assert.Equal(t, "https://site.test/videos?page=3", next.OriginURL)

	_, err = f.svc.NextPage(ctx, "r1")
	assert.ErrorIs(t, err, ErrNoNextPage)
}

func TestRecover(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, os.WriteFile(filepath.Join(f.svc.DownloadDir, "kept.mp4"), []byte("data"), 0o644))
	f.ledger.pending = []models.HistoryEntry{
		{URL: "https://site.test/v/1", RequesterID: "r1", Filename: "kept.mp4", Status: models.StatusPending},
		{URL: "https://site.test/v/2", RequesterID: "r1", Filename: "gone.mp4", Status: models.StatusPending},
	}

	delivered, failed := f.svc.Recover(context.Background())
	assert.Equal(t, 1, delivered)
	assert.Equal(t, 1, failed)
	assert.Equal(t, []string{"kept.mp4"}, f.sink.delivered)
	assert.Equal(t, models.StatusSent, f.ledger.statuses["kept.mp4"])
	assert.Equal(t, models.StatusFailed, f.ledger.statuses["gone.mp4"])
	assert.NoFileExists(t, filepath.Join(f.svc.DownloadDir, "kept.mp4"))
}
