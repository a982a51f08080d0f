// Package pipeline turns a requester's URL into deliveries or a browsable
// session, and runs batches over sessions.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/lyzr/mediagrab/cmd/grabber/batch"
	"github.com/lyzr/mediagrab/cmd/grabber/delivery"
	"github.com/lyzr/mediagrab/cmd/grabber/discovery"
	"github.com/lyzr/mediagrab/cmd/grabber/resolver"
	"github.com/lyzr/mediagrab/cmd/grabber/state"
	"github.com/lyzr/mediagrab/common/logger"
	"github.com/lyzr/mediagrab/common/models"
)

var (
	// ErrNoSession means the requester has nothing to select from
	ErrNoSession = errors.New("no active session")
	// ErrNoNextPage means the session has no further page
	ErrNoNextPage = errors.New("no next page")
	// ErrBadSelection means a selected index is out of range
	ErrBadSelection = errors.New("invalid selection")
	// ErrBusy means the requester already has a batch running
	ErrBusy = errors.New("a batch is already running")
)

// Gate validates a URL before it is fetched
type Gate interface {
	Validate(ctx context.Context, rawURL string) error
}

// Classifier decides whether a URL is a listing page
type Classifier interface {
	IsListing(rawURL string) (bool, error)
}

// Discoverer extracts content links from a page
type Discoverer interface {
	DiscoverLinks(ctx context.Context, pageURL string) (*models.LinkSet, error)
}

// Runner executes batches and single items
type Runner interface {
	Run(ctx context.Context, req batch.Request) models.BatchResult
	ProcessOne(ctx context.Context, requester string, item batch.Item) (batch.Outcome, *models.Artifact, error)
}

// Ledger is the part of the history ledger the service uses
type Ledger interface {
	GetSession(ctx context.Context, requester string) *models.SessionEntry
	PutSession(ctx context.Context, requester string, entry models.SessionEntry)
	DeleteSession(ctx context.Context, requester string) bool
	Pending(ctx context.Context) []models.HistoryEntry
	UpdateStatus(ctx context.Context, filename string, status models.DeliveryStatus) bool
}

// Selection is the set of session indices (1-based) a requester picked
type Selection struct {
	Indices []int `json:"indices"`
}

// Deps are the service's collaborators
type Deps struct {
	Gate       Gate
	Classifier Classifier
	Discoverer Discoverer
	Resolver   batch.Resolver
	Runner     Runner
	Ledger     Ledger
	Selections state.Store[Selection]
	Sink       delivery.Sink
	Publisher  Publisher
	Log        logger.Interface

	// DownloadDir is where pending artifacts are looked up on recovery
	DownloadDir string
}

// Service is the acquisition front door
type Service struct {
	Deps

	baseCtx context.Context
	wg      sync.WaitGroup
	active  sync.Map // requester -> batch id
}

// NewService creates a service. Async batches run under baseCtx.
func NewService(baseCtx context.Context, deps Deps) *Service {
	if deps.Publisher == nil {
		deps.Publisher = NewLogPublisher(deps.Log)
	}
	return &Service{Deps: deps, baseCtx: baseCtx}
}

// SubmitKind says what a submission turned into
type SubmitKind string

const (
	KindDelivered SubmitKind = "delivered"
	KindSkipped   SubmitKind = "skipped"
	KindSession   SubmitKind = "session"
)

// SubmitResult is the outcome of Submit
type SubmitResult struct {
	Kind     SubmitKind           `json:"kind"`
	Artifact *models.Artifact     `json:"artifact,omitempty"`
	Session  *models.SessionEntry `json:"session,omitempty"`
}

// Submit handles one URL from a requester. Direct media is downloaded
// straight away; listings and pages with several items become a session the
// requester can select from; anything else is resolved and delivered.
func (s *Service) Submit(ctx context.Context, requester, rawURL string) (*SubmitResult, error) {
	if err := s.Gate.Validate(ctx, rawURL); err != nil {
		return nil, err
	}
	s.dropUnrelatedSession(ctx, requester, rawURL)
	log := s.Log

	if resolver.IsDirectMedia(rawURL) {
		return s.deliverOne(ctx, requester, batch.Item{URL: rawURL})
	}

	listing, err := s.Classifier.IsListing(rawURL)
	if err != nil {
		log.Warn("listing classifier failed, treating as content page", "url", rawURL, "error", err)
	}

	if listing {
		set, err := s.Discoverer.DiscoverLinks(ctx, rawURL)
		if err != nil {
			return nil, err
		}
		if len(set.Links) == 0 {
			return nil, fmt.Errorf("%w: %s", discovery.ErrNoLinks, rawURL)
		}
		return s.openSession(ctx, requester, rawURL, set), nil
	}

	if set, err := s.Discoverer.DiscoverLinks(ctx, rawURL); err == nil && len(set.Links) > 1 {
		log.Info("page is a collection", "url", rawURL, "links", len(set.Links))
		return s.openSession(ctx, requester, rawURL, set), nil
	}

	res, err := s.Resolver.Resolve(ctx, rawURL)
	if err != nil {
		return nil, err
	}
	if len(res.Locators) > 1 {
		sources := make([]string, 0, len(res.Locators))
		for _, loc := range res.Locators {
			sources = append(sources, loc.URL)
		}
		log.Info("page has several sources", "url", rawURL, "sources", len(sources))
		return s.openSession(ctx, requester, rawURL, &models.LinkSet{Links: sources, Title: res.Title}), nil
	}

	return s.deliverOne(ctx, requester, batch.Item{URL: rawURL, Resolution: res})
}

func (s *Service) deliverOne(ctx context.Context, requester string, item batch.Item) (*SubmitResult, error) {
	outcome, artifact, err := s.Runner.ProcessOne(ctx, requester, item)
	switch outcome {
	case batch.OutcomeSkipped:
		return &SubmitResult{Kind: KindSkipped}, nil
	case batch.OutcomeSuccess:
		return &SubmitResult{Kind: KindDelivered, Artifact: artifact}, nil
	default:
		return nil, err
	}
}

func (s *Service) openSession(ctx context.Context, requester, origin string, set *models.LinkSet) *SubmitResult {
	entry := models.SessionEntry{
		RequesterID: requester,
		Links:       set.Links,
		NextPageURL: set.NextPageURL,
		OriginURL:   origin,
		PageNumber:  discovery.PageNumber(origin),
		Title:       set.Title,
		CreatedAt:   time.Now(),
	}
	s.Ledger.PutSession(ctx, requester, entry)
	s.clearSelection(ctx, requester)
	return &SubmitResult{Kind: KindSession, Session: &entry}
}

// dropUnrelatedSession ends the requester's session unless rawURL is one of its links
func (s *Service) dropUnrelatedSession(ctx context.Context, requester, rawURL string) {
	sess := s.Ledger.GetSession(ctx, requester)
	if sess == nil || slices.Contains(sess.Links, rawURL) {
		return
	}
	s.EndSession(ctx, requester)
	s.Log.Debug("session ended by unrelated url", "requester_id", requester, "origin", sess.OriginURL, "url", rawURL)
}

// Session returns the requester's session
func (s *Service) Session(ctx context.Context, requester string) (*models.SessionEntry, error) {
	sess := s.Ledger.GetSession(ctx, requester)
	if sess == nil {
		return nil, ErrNoSession
	}
	return sess, nil
}

// EndSession drops the session and any selection
func (s *Service) EndSession(ctx context.Context, requester string) bool {
	s.clearSelection(ctx, requester)
	return s.Ledger.DeleteSession(ctx, requester)
}

// Select replaces the requester's selection with indices (1-based)
func (s *Service) Select(ctx context.Context, requester string, indices []int) ([]string, error) {
	sess, err := s.Session(ctx, requester)
	if err != nil {
		return nil, err
	}

	seen := make(map[int]bool, len(indices))
	clean := make([]int, 0, len(indices))
	for _, i := range indices {
		if i < 1 || i > len(sess.Links) {
			return nil, fmt.Errorf("%w: %d not in 1..%d", ErrBadSelection, i, len(sess.Links))
		}
		if !seen[i] {
			seen[i] = true
			clean = append(clean, i)
		}
	}
	sort.Ints(clean)

	if err := s.Selections.Set(ctx, requester, Selection{Indices: clean}); err != nil {
		return nil, fmt.Errorf("store selection: %w", err)
	}
	return pick(sess.Links, clean), nil
}

func pick(links []string, indices []int) []string {
	out := make([]string, 0, len(indices))
	for _, i := range indices {
		out = append(out, links[i-1])
	}
	return out
}

func (s *Service) clearSelection(ctx context.Context, requester string) {
	if err := s.Selections.Delete(ctx, requester); err != nil {
		s.Log.Warn("clear selection failed", "requester_id", requester, "error", err)
	}
}

// StartDownload launches a batch over the selection, or over every session
// link when all is set, and returns the batch id without waiting
func (s *Service) StartDownload(ctx context.Context, requester string, all bool) (string, int, error) {
	sess, err := s.Session(ctx, requester)
	if err != nil {
		return "", 0, err
	}

	links := sess.Links
	if !all {
		sel, ok, err := s.Selections.Get(ctx, requester)
		if err != nil {
			return "", 0, fmt.Errorf("load selection: %w", err)
		}
		if !ok || len(sel.Indices) == 0 {
			return "", 0, fmt.Errorf("%w: nothing selected", ErrBadSelection)
		}
		for _, i := range sel.Indices {
			if i > len(links) {
				return "", 0, fmt.Errorf("%w: selection no longer matches session", ErrBadSelection)
			}
		}
		links = pick(links, sel.Indices)
	}

	batchID := uuid.NewString()
	if _, busy := s.active.LoadOrStore(requester, batchID); busy {
		return "", 0, ErrBusy
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.active.Delete(requester)
		s.runBatch(s.baseCtx, requester, batchID, links, sess)
	}()

	s.clearSelection(ctx, requester)
	return batchID, len(links), nil
}

// RunBatch processes links synchronously. sess is the session the links
// came from, or nil for an ad-hoc list.
func (s *Service) RunBatch(ctx context.Context, requester string, links []string, sess *models.SessionEntry) models.BatchResult {
	return s.runBatch(ctx, requester, uuid.NewString(), links, sess)
}

func (s *Service) runBatch(ctx context.Context, requester, batchID string, links []string, sess *models.SessionEntry) models.BatchResult {
	var nextPage string
	if sess != nil {
		nextPage = sess.NextPageURL
	}

	progress := make(chan models.BatchProgress, 8)
	relayed := make(chan struct{})
	go func() {
		defer close(relayed)
		for p := range progress {
			if err := s.Publisher.Publish(ctx, p); err != nil {
				s.Log.Warn("progress publish failed", "batch_id", p.BatchID, "error", err)
			}
		}
	}()

	result := s.Runner.Run(ctx, batch.Request{
		BatchID:     batchID,
		RequesterID: requester,
		Links:       links,
		NextPageURL: nextPage,
		Progress:    progress,
	})
	close(progress)
	<-relayed

	summary := fmt.Sprintf("Batch finished: %d sent, %d failed, %d skipped of %d",
		result.Success, result.Failed, result.Skipped, result.Total)
	if result.NextPageURL != "" {
		summary += ". Another page is available."
	}
	if err := s.Sink.Notify(ctx, requester, summary); err != nil {
		s.Log.Warn("batch summary not delivered", "batch_id", batchID, "error", err)
	}
	if sess != nil && result.NextPageURL == "" {
		s.endFinishedSession(ctx, requester, sess)
	}
	return result
}

// endFinishedSession ends the session a batch drained, unless the requester
// has opened another one meanwhile
func (s *Service) endFinishedSession(ctx context.Context, requester string, sess *models.SessionEntry) {
	current := s.Ledger.GetSession(ctx, requester)
	if current == nil || current.OriginURL != sess.OriginURL || !current.CreatedAt.Equal(sess.CreatedAt) {
		return
	}
	s.EndSession(ctx, requester)
}

// NextPage replaces the session with the following listing page
func (s *Service) NextPage(ctx context.Context, requester string) (*models.SessionEntry, error) {
	sess, err := s.Session(ctx, requester)
	if err != nil {
		return nil, err
	}
	if sess.NextPageURL == "" {
		return nil, ErrNoNextPage
	}
	if err := s.Gate.Validate(ctx, sess.NextPageURL); err != nil {
		return nil, err
	}

	set, err := s.Discoverer.DiscoverLinks(ctx, sess.NextPageURL)
	if err != nil {
		return nil, err
	}
	if len(set.Links) == 0 {
		return nil, fmt.Errorf("%w: %s", discovery.ErrNoLinks, sess.NextPageURL)
	}

	page := sess.PageNumber + 1
	if n := discovery.PageNumber(sess.NextPageURL); n > page {
		page = n
	}
	entry := models.SessionEntry{
		RequesterID: requester,
		Links:       set.Links,
		NextPageURL: set.NextPageURL,
		OriginURL:   sess.NextPageURL,
		PageNumber:  page,
		Title:       set.Title,
		CreatedAt:   time.Now(),
	}
	s.Ledger.PutSession(ctx, requester, entry)
	s.clearSelection(ctx, requester)
	return &entry, nil
}

// Recover re-delivers pending artifacts still on disk and marks the rest
// failed. It returns how many were delivered and failed.
func (s *Service) Recover(ctx context.Context) (int, int) {
	delivered, failed := 0, 0
	for _, e := range s.Ledger.Pending(ctx) {
		path := filepath.Join(s.DownloadDir, e.Filename)
		info, err := os.Stat(path)
		if err != nil {
			s.Ledger.UpdateStatus(ctx, e.Filename, models.StatusFailed)
			failed++
			continue
		}

		a := &models.Artifact{Path: path, Filename: e.Filename, Size: info.Size(), SourceURL: e.URL, CreatedAt: info.ModTime()}
		md := delivery.Metadata{Index: 1, Total: 1, SourceURL: e.URL, Caption: delivery.Caption(a.Filename, a.Size, 1, 1)}
		if err := s.Sink.Deliver(ctx, e.RequesterID, a, md); err != nil {
			s.Log.Warn("recovery delivery failed", "file", e.Filename, "requester_id", e.RequesterID, "error", err)
			s.Ledger.UpdateStatus(ctx, e.Filename, models.StatusFailed)
			failed++
			continue
		}
		s.Ledger.UpdateStatus(ctx, e.Filename, models.StatusSent)
		_ = os.Remove(path)
		delivered++
	}

	if delivered+failed > 0 {
		s.Log.Info("pending deliveries recovered", "delivered", delivered, "failed", failed)
	}
	return delivered, failed
}

// ActiveBatch returns the id of the requester's running batch
func (s *Service) ActiveBatch(requester string) (string, bool) {
	v, ok := s.active.Load(requester)
	if !ok {
		return "", false
	}
	return v.(string), true
}

// Wait blocks until background batches finish
func (s *Service) Wait() {
	s.wg.Wait()
}
