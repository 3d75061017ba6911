// Package txsweb provides HTTP diagnostics for a transaction sampler: recent
// samples, archived slowest traces, a live stream of completed traces, and
// sampler metrics.
package txsweb

import (
	"net/http"

	"github.com/peterbourgon/txsample"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Config for the diagnostics handler.
type Config struct {
	// Sampler to expose. Required.
	Sampler *txsample.Sampler

	// Archive of harvested traces. Optional. If nil, /slowest isn't served.
	Archive Archive

	// Gatherer provides metrics. Optional. If nil, /metrics isn't served.
	Gatherer prometheus.Gatherer

	// Logger receives diagnostics. Optional.
	Logger *zap.Logger
}

// NewHandler returns an HTTP handler serving the following routes.
//
//	GET /samples  recent traces, see SamplesServer
//	GET /stats    sampler stats
//	GET /slowest  archived slowest traces, see ArchiveServer
//	GET /stream   live traces as server-sent events, see StreamServer
//	GET /metrics  Prometheus metrics
func NewHandler(cfg Config) http.Handler {
	logger := loggerOrNop(cfg.Logger).Named("web")

	mux := http.NewServeMux()
	mux.Handle("/samples", &SamplesServer{Sampler: cfg.Sampler, Logger: logger})
	mux.Handle("/stream", &StreamServer{Sampler: cfg.Sampler, Logger: logger})
	mux.HandleFunc("/stats", func(w http.ResponseWriter, r *http.Request) {
		renderJSON(logger, w, http.StatusOK, cfg.Sampler.Stats())
	})

	if cfg.Archive != nil {
		mux.Handle("/slowest", &ArchiveServer{Archive: cfg.Archive, Logger: logger})
	}

	if cfg.Gatherer != nil {
		mux.Handle("/metrics", promhttp.HandlerFor(cfg.Gatherer, promhttp.HandlerOpts{}))
	}

	return mux
}
