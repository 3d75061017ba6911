package txsweb

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/peterbourgon/txsample"
	"go.uber.org/zap"
)

// SamplesServer serves the sampler's recent traces as JSON. Traces are listed
// newest first, and can be filtered with the following query parameters.
//
//	n     maximum number of traces, 1 to 1000, default 10
//	min   minimum trace duration, e.g. 250ms
//	path  transaction path prefix
//	id    exact trace ID (repeatable)
type SamplesServer struct {
	// Sampler provides the recent traces. Required.
	Sampler *txsample.Sampler

	// Logger receives diagnostics. Optional.
	Logger *zap.Logger
}

// SamplesResponse is returned by the samples server.
type SamplesResponse struct {
	Stats   txsample.Stats    `json:"stats"`
	Total   int               `json:"total"`
	Matched int               `json:"matched"`
	Samples []*txsample.Trace `json:"samples"`
}

type samplesFilter struct {
	limit       int
	minDuration *time.Duration
	pathPrefix  string
	ids         map[string]bool
}

func parseSamplesFilter(r *http.Request) samplesFilter {
	urlquery := r.URL.Query()

	f := samplesFilter{
		limit:       parseRange(urlquery.Get("n"), strconv.Atoi, 1, 10, 1000),
		minDuration: parseDefault(urlquery.Get("min"), parseDurationPointer, nil),
		pathPrefix:  urlquery.Get("path"),
	}

	if ids := urlquery["id"]; len(ids) > 0 {
		f.ids = make(map[string]bool, len(ids))
		for _, id := range ids {
			f.ids[id] = true
		}
	}

	return f
}

func (f samplesFilter) allow(tr *txsample.Trace) bool {
	if f.minDuration != nil && tr.Duration() < *f.minDuration {
		return false
	}

	if f.pathPrefix != "" && !strings.HasPrefix(tr.Path(), f.pathPrefix) {
		return false
	}

	if f.ids != nil && !f.ids[tr.ID()] {
		return false
	}

	return true
}

func (s *SamplesServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	logger := loggerOrNop(s.Logger)

	if r.Method != "GET" {
		http.Error(w, "only GET is supported", http.StatusMethodNotAllowed)
		return
	}

	var (
		f       = parseSamplesFilter(r)
		samples = s.Sampler.GetSamples() // oldest first
		res     = SamplesResponse{
			Stats:   s.Sampler.Stats(),
			Total:   len(samples),
			Samples: []*txsample.Trace{},
		}
	)

	for i := len(samples) - 1; i >= 0; i-- {
		tr := samples[i]
		if !f.allow(tr) {
			continue
		}
		res.Matched++
		if len(res.Samples) < f.limit {
			res.Samples = append(res.Samples, tr)
		}
	}

	logger.Debug("samples",
		zap.Int("total", res.Total),
		zap.Int("matched", res.Matched),
		zap.Int("returned", len(res.Samples)),
	)

	renderJSON(logger, w, http.StatusOK, res)
}

func loggerOrNop(logger *zap.Logger) *zap.Logger {
	if logger == nil {
		return zap.NewNop()
	}
	return logger
}
