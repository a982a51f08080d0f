package container

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/lyzr/mediagrab/cmd/grabber/batch"
	"github.com/lyzr/mediagrab/cmd/grabber/condition"
	"github.com/lyzr/mediagrab/cmd/grabber/delivery"
	"github.com/lyzr/mediagrab/cmd/grabber/discovery"
	"github.com/lyzr/mediagrab/cmd/grabber/downloader"
	"github.com/lyzr/mediagrab/cmd/grabber/ledger"
	"github.com/lyzr/mediagrab/cmd/grabber/pipeline"
	"github.com/lyzr/mediagrab/cmd/grabber/resolver"
	"github.com/lyzr/mediagrab/cmd/grabber/security"
	"github.com/lyzr/mediagrab/cmd/grabber/state"
	"github.com/lyzr/mediagrab/common/bootstrap"
	"github.com/lyzr/mediagrab/common/clients"
	"github.com/lyzr/mediagrab/common/config"
	"github.com/lyzr/mediagrab/common/ratelimit"
)

// Container holds all initialized services (singleton pattern)
type Container struct {
	// Components
	Components *bootstrap.Components

	// Acquisition
	Gate       *security.URLValidator
	Client     *clients.HTTPClient
	Classifier *condition.ListingClassifier
	Discoverer *discovery.Discoverer
	Resolver   *resolver.Resolver
	Engine     *downloader.Engine
	Janitor    *downloader.Janitor

	// Bookkeeping
	Ledger     *ledger.Ledger
	Selections state.Store[pipeline.Selection]
	Limiter    ratelimit.Limiter

	// Delivery
	Sink         delivery.Sink
	Orchestrator *batch.Orchestrator
	Service      *pipeline.Service
}

// NewContainer wires every service once. Background batches started by the
// service run under ctx.
func NewContainer(ctx context.Context, components *bootstrap.Components) (*Container, error) {
	cfg := components.Config
	log := components.Logger

	gate := security.NewURLValidator(net.DefaultResolver, log.WithComponent("gate"))

	clientCfg := clients.ClientConfigFrom(cfg.Acquisition)
	clientCfg.Transport = guardedTransport()
	client := clients.NewHTTPClient(clientCfg, gate, log.WithComponent("http"))
	segments := client.WithMaxRedirects(cfg.Acquisition.SegmentRedirects)

	rules, err := condition.LoadHostRules(cfg.Listing.RulesFile)
	if err != nil {
		return nil, err
	}
	classifier, err := condition.NewListingClassifier(cfg.Listing.Expression, rules)
	if err != nil {
		return nil, fmt.Errorf("failed to build listing classifier: %w", err)
	}

	discoverer := discovery.New(client, discovery.Options{
		MaxResults:     cfg.Acquisition.MaxSearchResults,
		ContentMarkers: cfg.Acquisition.ContentMarkers,
		NoImplicitPage: !cfg.Acquisition.ImplicitNextPage,
	}, log.WithComponent("discovery"))
	res := resolver.New(client, gate, log.WithComponent("resolver"))
	engine := downloader.New(client, segments, res, downloader.OptionsFrom(cfg.Acquisition), log.WithComponent("downloader"))

	store, err := ledgerStore(ctx, components)
	if err != nil {
		return nil, err
	}
	hist := ledger.New(store, components.Cache, ledger.OptionsFrom(cfg.Ledger), log.WithComponent("ledger"))

	sink, err := newSink(cfg.Delivery, components)
	if err != nil {
		return nil, err
	}

	orch := batch.New(res, engine, sink, hist, batch.OptionsFrom(cfg.Batch, cfg.Acquisition), log.WithComponent("batch"))

	selections := newSelections(cfg.State, components)

	var publisher pipeline.Publisher
	if components.Redis != nil {
		publisher = pipeline.NewRedisPublisher(components.Redis)
	} else {
		publisher = pipeline.NewLogPublisher(log)
	}

	svc := pipeline.NewService(ctx, pipeline.Deps{
		Gate:        gate,
		Classifier:  classifier,
		Discoverer:  discoverer,
		Resolver:    res,
		Runner:      orch,
		Ledger:      hist,
		Selections:  selections,
		Sink:        sink,
		Publisher:   publisher,
		Log:         log.WithComponent("pipeline"),
		DownloadDir: cfg.Acquisition.DownloadFolder,
	})

	return &Container{
		Components:   components,
		Gate:         gate,
		Client:       client,
		Classifier:   classifier,
		Discoverer:   discoverer,
		Resolver:     res,
		Engine:       engine,
		Janitor:      downloader.NewJanitor(cfg.Acquisition.DownloadFolder, cfg.Acquisition.FileCleanupAge, log),
		Ledger:       hist,
		Selections:   selections,
		Limiter:      newLimiter(cfg.RateLimit, components),
		Sink:         sink,
		Orchestrator: orch,
		Service:      svc,
	}, nil
}

// guardedTransport refuses reserved addresses at dial time
func guardedTransport() *http.Transport {
	dialer := &net.Dialer{
		Timeout:   10 * time.Second,
		KeepAlive: 30 * time.Second,
		Control:   security.NewIPValidator().DialControl,
	}
	return &http.Transport{
		DialContext:           dialer.DialContext,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   10,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
}

func ledgerStore(ctx context.Context, components *bootstrap.Components) (ledger.Store, error) {
	cfg := components.Config.Ledger
	switch cfg.Backend {
	case "postgres":
		if components.DB == nil {
			return nil, fmt.Errorf("postgres ledger requested but database is not initialized")
		}
		if err := ledger.EnsureSchema(ctx, components.DB); err != nil {
			return nil, fmt.Errorf("failed to prepare ledger schema: %w", err)
		}
		return ledger.NewPostgresStore(components.DB), nil
	case "file", "":
		return ledger.NewFileStore(cfg.FilePath), nil
	default:
		return nil, fmt.Errorf("unknown ledger backend %q", cfg.Backend)
	}
}

func newSink(cfg config.DeliveryConfig, components *bootstrap.Components) (delivery.Sink, error) {
	log := components.Logger.WithComponent("delivery")

	var inner delivery.Sink
	switch cfg.Sink {
	case "webhook":
		if cfg.WebhookURL == "" {
			return nil, fmt.Errorf("webhook sink requires WEBHOOK_URL")
		}
		inner = delivery.NewWebhookSink(cfg.WebhookURL, cfg.Timeout, cfg.MaxFileSize, log)
	case "outbox", "":
		inner = delivery.NewOutboxSink(cfg.OutboxDir, cfg.MaxFileSize, log)
	default:
		return nil, fmt.Errorf("unknown delivery sink %q", cfg.Sink)
	}
	return delivery.NewRetryingSink(inner, delivery.PolicyFromConfig(cfg), log), nil
}

func newSelections(cfg config.StateConfig, components *bootstrap.Components) state.Store[pipeline.Selection] {
	if cfg.Backend == "redis" && components.Redis != nil {
		return state.NewRedisStore[pipeline.Selection](components.Redis, "grab:selection", cfg.TTL)
	}
	if cfg.Backend == "redis" {
		components.Logger.Warn("redis state backend requested without redis, using memory")
	}
	return state.NewMemoryStore[pipeline.Selection](cfg.TTL, cfg.MaxKeys, nil)
}

func newLimiter(cfg config.RateLimitConfig, components *bootstrap.Components) ratelimit.Limiter {
	if !cfg.Enabled {
		return nil
	}
	policy := ratelimit.PolicyFromConfig(cfg)
	if cfg.Backend == "redis" && components.Redis != nil {
		return ratelimit.NewRateLimiter(components.Redis.GetUnderlying(), policy, components.Logger)
	}
	return ratelimit.NewMemoryLimiter(policy, nil)
}
