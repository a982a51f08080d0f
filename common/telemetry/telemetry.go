package telemetry

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/pprof"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/lyzr/mediagrab/common/logger"
)

// Telemetry holds observability components
type Telemetry struct {
	log        *logger.Logger
	pprofAddr  string
	pprofSrv   *http.Server
	enablePprof bool
}

// New creates telemetry components
func New(enablePprof bool, pprofPort int, log *logger.Logger) *Telemetry {
	return &Telemetry{
		log:        log,
		pprofAddr:  fmt.Sprintf("localhost:%d", pprofPort),
		enablePprof: enablePprof,
	}
}

// MetricsHandler serves the Prometheus registry
func MetricsHandler() http.Handler {
	return promhttp.Handler()
}

// Start starts the pprof endpoint when enabled
func (t *Telemetry) Start(ctx context.Context) error {
	if !t.enablePprof {
		return nil
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/debug/pprof/", pprof.Index)
	mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
	mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
	t.pprofSrv = &http.Server{Addr: t.pprofAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		t.log.Info("pprof server starting", "addr", t.pprofAddr)
		if err := t.pprofSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			t.log.Error("pprof server error", "error", err)
		}
	}()

	return nil
}

// Stop shuts the pprof endpoint down
func (t *Telemetry) Stop(ctx context.Context) error {
	if t.pprofSrv == nil {
		return nil
	}
	return t.pprofSrv.Shutdown(ctx)
}

// RecordDuration records operation duration
func (t *Telemetry) RecordDuration(operation string, start time.Time) {
	t.log.Debug("operation completed",
		"operation", operation,
		"duration_ms", time.Since(start).Milliseconds(),
	)
}
