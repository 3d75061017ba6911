package txsharvest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/peterbourgon/txsample"
	"github.com/zoobzio/clockz"
	"go.uber.org/zap"
)

// Source provides the slowest trace since the last harvest. It's satisfied by
// *txsample.Sampler.
type Source interface {
	HarvestSlowest(previous *txsample.Trace) *txsample.Trace
}

// Reporter delivers a harvested trace somewhere: a log, a file, a database, a
// remote collector.
type Reporter interface {
	Report(ctx context.Context, tr *txsample.Trace) error
}

// HarvesterConfig defines the configuration parameters for a harvester.
type HarvesterConfig struct {
	// Source is harvested on every cycle. Required.
	Source Source

	// Reporter receives each harvested trace. Required.
	Reporter Reporter

	// Interval between harvest cycles. Optional. By default, 1 minute.
	Interval time.Duration

	// FlushTimeout bounds the final harvest performed when Run returns.
	// Optional. By default, 5 seconds.
	FlushTimeout time.Duration

	// Logger receives harvest failures. Optional. By default, failures are
	// discarded.
	Logger *zap.Logger

	// Clock drives the harvest interval. Optional. By default, the real clock.
	Clock clockz.Clock
}

const (
	harvestIntervalDef = time.Minute
	flushTimeoutDef    = 5 * time.Second
)

// Harvester periodically takes the slowest trace from a source and reports it.
// A trace which fails to be reported is kept as pending, and competes with the
// slowest trace of the next cycle, so a slow trace isn't lost to a transient
// reporting failure.
type Harvester struct {
	source       Source
	reporter     Reporter
	interval     time.Duration
	flushTimeout time.Duration
	logger       *zap.Logger
	clock        clockz.Clock

	mtx     sync.Mutex
	pending *txsample.Trace
}

// NewHarvester returns a harvester based on the provided config.
func NewHarvester(cfg HarvesterConfig) (*Harvester, error) {
	if cfg.Source == nil {
		return nil, errors.New("source is required")
	}

	if cfg.Reporter == nil {
		return nil, errors.New("reporter is required")
	}

	if cfg.Interval <= 0 {
		cfg.Interval = harvestIntervalDef
	}

	if cfg.FlushTimeout <= 0 {
		cfg.FlushTimeout = flushTimeoutDef
	}

	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	if cfg.Clock == nil {
		cfg.Clock = clockz.RealClock
	}

	return &Harvester{
		source:       cfg.Source,
		reporter:     cfg.Reporter,
		interval:     cfg.Interval,
		flushTimeout: cfg.FlushTimeout,
		logger:       cfg.Logger.Named("harvester"),
		clock:        cfg.Clock,
	}, nil
}

// HarvestOnce performs a single harvest cycle. If there's nothing to report,
// it returns nil without calling the reporter.
func (h *Harvester) HarvestOnce(ctx context.Context) error {
	h.mtx.Lock()
	defer h.mtx.Unlock()

	tr := h.source.HarvestSlowest(h.pending)
	if tr == nil {
		return nil
	}

	if err := h.reporter.Report(ctx, tr); err != nil {
		h.pending = tr
		return fmt.Errorf("report trace %s: %w", tr.ID(), err)
	}

	h.pending = nil
	return nil
}

// Pending returns the trace that failed to be reported in the most recent
// cycle, if any.
func (h *Harvester) Pending() *txsample.Trace {
	h.mtx.Lock()
	defer h.mtx.Unlock()
	return h.pending
}

// Run harvests on every interval until the context is canceled. A final
// harvest is performed before returning, so the slowest trace of the last
// partial interval is still reported.
func (h *Harvester) Run(ctx context.Context) error {
	ticker := h.clock.NewTicker(h.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C():
			if err := h.HarvestOnce(ctx); err != nil {
				h.logger.Warn("harvest failed", zap.Error(err))
			}

		case <-ctx.Done():
			flushCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), h.flushTimeout)
			defer cancel()
			if err := h.HarvestOnce(flushCtx); err != nil {
				h.logger.Error("final harvest failed", zap.Error(err))
			}
			return ctx.Err()
		}
	}
}
