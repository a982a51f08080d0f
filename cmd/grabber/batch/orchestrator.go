// Package batch runs resolve, download and deliver over a list of links
// with a bounded worker pool.
package batch

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/lyzr/mediagrab/cmd/grabber/delivery"
	"github.com/lyzr/mediagrab/common/config"
	"github.com/lyzr/mediagrab/common/logger"
	"github.com/lyzr/mediagrab/common/metrics"
	"github.com/lyzr/mediagrab/common/models"
)

// ErrDuplicate is returned by ProcessOne for links already delivered
var ErrDuplicate = errors.New("already delivered")

// Resolver turns a page URL into locators
type Resolver interface {
	Resolve(ctx context.Context, rawURL string) (*models.Resolution, error)
}

// Fetcher downloads a locator and disposes of artifacts afterwards
type Fetcher interface {
	Fetch(ctx context.Context, loc models.Locator, title string) (*models.Artifact, error)
	Discard(a *models.Artifact) error
}

// Ledger is the subset of the history ledger a batch needs
type Ledger interface {
	IsDuplicate(ctx context.Context, url, requester string) bool
	Record(ctx context.Context, url, requester, filename string, status models.DeliveryStatus)
	UpdateStatus(ctx context.Context, filename string, status models.DeliveryStatus) bool
}

// Options configure the pool
type Options struct {
	Workers          int
	ProgressInterval int // completed items between progress events
	ResolveTimeout   time.Duration
}

// OptionsFrom maps batch config onto options
func OptionsFrom(batch config.BatchConfig, acq config.AcquisitionConfig) Options {
	return Options{
		Workers:          batch.MaxConcurrent,
		ProgressInterval: batch.ProgressInterval,
		ResolveTimeout:   acq.ScrapeTimeout,
	}
}

// Outcome is what happened to one item
type Outcome string

const (
	OutcomeSuccess Outcome = metrics.OutcomeSuccess
	OutcomeFailed  Outcome = metrics.OutcomeFailed
	OutcomeSkipped Outcome = metrics.OutcomeSkipped
)

// Item is one unit of work. Resolution, when set, skips resolving URL again.
type Item struct {
	URL        string
	Resolution *models.Resolution
	Index      int // 1-based
	Total      int
}

// Request is a batch submitted on behalf of a requester
type Request struct {
	BatchID     string
	RequesterID string
	Links       []string
	NextPageURL string

	// Progress receives periodic events and a final Done event. Intermediate
	// events are dropped when the receiver is not ready.
	Progress chan<- models.BatchProgress
}

// Orchestrator runs batches
type Orchestrator struct {
	resolver Resolver
	fetcher  Fetcher
	sink     delivery.Sink
	ledger   Ledger
	opts     Options
	log      logger.Interface
}

// New creates an orchestrator
func New(resolver Resolver, fetcher Fetcher, sink delivery.Sink, ledger Ledger, opts Options, log logger.Interface) *Orchestrator {
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	return &Orchestrator{
		resolver: resolver,
		fetcher:  fetcher,
		sink:     sink,
		ledger:   ledger,
		opts:     opts,
		log:      log,
	}
}

type tally struct {
	completed, success, failed, skipped atomic.Int64
}

func (t *tally) progress(req Request, total int, done bool) models.BatchProgress {
	p := models.BatchProgress{
		BatchID:     req.BatchID,
		RequesterID: req.RequesterID,
		Total:       total,
		Success:     int(t.success.Load()),
		Failed:      int(t.failed.Load()),
		Skipped:     int(t.skipped.Load()),
		Done:        done,
	}
	p.Completed = p.Success + p.Failed + p.Skipped
	if done {
		p.NextPageURL = req.NextPageURL
	}
	return p
}

// Run processes every link once and returns exact counts. A failing item
// never stops the batch; the next page is reported, not followed.
func (o *Orchestrator) Run(ctx context.Context, req Request) models.BatchResult {
	if req.BatchID == "" {
		req.BatchID = uuid.NewString()
	}
	total := len(req.Links)
	o.log.Info("batch started",
		"batch_id", req.BatchID,
		"requester_id", req.RequesterID,
		"links", total,
		"workers", min(o.opts.Workers, max(total, 1)),
	)

	var (
		next  atomic.Int64
		count tally
		g     errgroup.Group
	)
	for w := 0; w < min(o.opts.Workers, total); w++ {
		g.Go(func() error {
			for {
				i := int(next.Add(1)) - 1
				if i >= total {
					return nil
				}

				outcome, _, err := o.ProcessOne(ctx, req.RequesterID, Item{URL: req.Links[i], Index: i + 1, Total: total})
				switch outcome {
				case OutcomeSuccess:
					count.success.Add(1)
				case OutcomeSkipped:
					count.skipped.Add(1)
				default:
					count.failed.Add(1)
					o.log.Warn("batch item failed", "batch_id", req.BatchID, "index", i+1, "url", req.Links[i], "error", err)
				}

				done := count.completed.Add(1)
				if o.opts.ProgressInterval > 0 && done%int64(o.opts.ProgressInterval) == 0 && done < int64(total) {
					o.trySend(req.Progress, count.progress(req, total, false))
				}
			}
		})
	}
	_ = g.Wait()

	final := count.progress(req, total, true)
	o.sendFinal(ctx, req.Progress, final)

	o.log.Info("batch finished",
		"batch_id", req.BatchID,
		"requester_id", req.RequesterID,
		"success", final.Success,
		"failed", final.Failed,
		"skipped", final.Skipped,
		"next_page", req.NextPageURL != "",
	)
	return models.BatchResult{
		BatchID:     req.BatchID,
		Total:       total,
		Success:     final.Success,
		Failed:      final.Failed,
		Skipped:     final.Skipped,
		NextPageURL: req.NextPageURL,
	}
}

func (o *Orchestrator) trySend(ch chan<- models.BatchProgress, p models.BatchProgress) {
	if ch == nil {
		return
	}
	select {
	case ch <- p:
	default:
		o.log.Debug("progress event dropped", "batch_id", p.BatchID, "completed", p.Completed)
	}
}

func (o *Orchestrator) sendFinal(ctx context.Context, ch chan<- models.BatchProgress, p models.BatchProgress) {
	if ch == nil {
		return
	}
	select {
	case ch <- p:
	case <-ctx.Done():
	}
}

// ProcessOne runs a single item: dedupe, resolve, download, record,
// deliver. The artifact is removed from the download folder either way.
func (o *Orchestrator) ProcessOne(ctx context.Context, requester string, item Item) (Outcome, *models.Artifact, error) {
	outcome, artifact, err := o.process(ctx, requester, item)
	metrics.RecordBatchItem(string(outcome))
	return outcome, artifact, err
}

func (o *Orchestrator) process(ctx context.Context, requester string, item Item) (Outcome, *models.Artifact, error) {
	if o.ledger.IsDuplicate(ctx, item.URL, requester) {
		return OutcomeSkipped, nil, fmt.Errorf("%w: %s", ErrDuplicate, item.URL)
	}

	res := item.Resolution
	if res == nil {
		var err error
		res, err = o.resolve(ctx, item.URL)
		if err != nil {
			return OutcomeFailed, nil, err
		}
	}
	if len(res.Locators) == 0 {
		return OutcomeFailed, nil, fmt.Errorf("nothing to download for %s", item.URL)
	}

	artifact, err := o.fetcher.Fetch(ctx, res.Locators[0], res.Title)
	if err != nil {
		return OutcomeFailed, nil, err
	}
	defer func() {
		if err := o.fetcher.Discard(artifact); err != nil {
			o.log.Warn("artifact cleanup failed", "file", artifact.Filename, "error", err)
		}
	}()

	o.ledger.Record(ctx, item.URL, requester, artifact.Filename, models.StatusPending)

	index, total := item.Index, item.Total
	if index == 0 {
		index, total = 1, 1
	}
	md := delivery.Metadata{
		Index:     index,
		Total:     total,
		Title:     res.Title,
		SourceURL: item.URL,
		Caption:   delivery.Caption(artifact.Filename, artifact.Size, index, total),
	}
	if err := o.sink.Deliver(ctx, requester, artifact, md); err != nil {
		o.ledger.UpdateStatus(ctx, artifact.Filename, models.StatusFailed)
		return OutcomeFailed, released(artifact), fmt.Errorf("deliver %s: %w", artifact.Filename, err)
	}

	o.ledger.UpdateStatus(ctx, artifact.Filename, models.StatusSent)
	return OutcomeSuccess, released(artifact), nil
}

// released copies a without its path; the file is discarded before ProcessOne returns
func released(a *models.Artifact) *models.Artifact {
	out := *a
	out.Path = ""
	return &out
}

func (o *Orchestrator) resolve(ctx context.Context, rawURL string) (*models.Resolution, error) {
	if o.opts.ResolveTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.opts.ResolveTimeout)
		defer cancel()
	}
	return o.resolver.Resolve(ctx, rawURL)
}
