// Package lifecycle drives the periodic tick loop that advances every
// registered thing's state machine.
package lifecycle

import (
	"context"
	"time"

	"go.uber.org/zap"

	"thinghub/internal/metrics"
	"thinghub/internal/store"
	"thinghub/internal/thing"
)

// Runner ticks the registry on a fixed interval, matching the original's
// 250ms sleep loop (spec.md §4.5) but observing context cancellation for a
// clean shutdown instead of running forever.
type Runner struct {
	registry  *thing.Registry
	creds     *store.CredentialsStore
	api       thing.ThingsAPI
	connector thing.Connector
	config    thing.CareConfig
	logger    *zap.Logger
	metrics   *metrics.Registry
	sink      thing.EventSink
	interval  time.Duration
}

// NewRunner builds a Runner. interval defaults to 250ms when zero. sink may
// be nil when nothing needs the WebSocket event feed.
func NewRunner(registry *thing.Registry, creds *store.CredentialsStore, api thing.ThingsAPI, connector thing.Connector, config thing.CareConfig, logger *zap.Logger, metricsReg *metrics.Registry, sink thing.EventSink, interval time.Duration) *Runner {
	if interval == 0 {
		interval = 250 * time.Millisecond
	}
	return &Runner{
		registry:  registry,
		creds:     creds,
		api:       api,
		connector: connector,
		config:    config,
		logger:    logger,
		metrics:   metricsReg,
		sink:      sink,
		interval:  interval,
	}
}

// Run blocks, ticking until ctx is canceled.
func (r *Runner) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.step(ctx)
		}
	}
}

func (r *Runner) step(ctx context.Context) {
	start := time.Now()

	creds := r.creds.Snapshot()
	care := thing.CarePackage{
		Token:     creds.Token,
		Config:    r.config,
		API:       r.api,
		Connector: r.connector,
		Logger:    r.logger,
		Sink:      r.sink,
		Metrics:   r.metrics,
	}

	r.registry.Advance(ctx, care)

	if r.metrics != nil {
		r.metrics.TickDuration.Observe(time.Since(start).Seconds())
		r.metrics.ActiveThings.Set(float64(r.registry.ActiveCount()))
	}
}
