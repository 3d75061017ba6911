package txsweb

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/bernerdschaefer/eventsource"
	"github.com/peterbourgon/txsample"
	"go.uber.org/zap"
)

// StreamServer streams completed traces to clients as server-sent events. It
// accepts the same min, path, and id filters as the samples server, and also
// the following query parameters.
//
//	sendbuf  per-client send buffer, 0 to 10000, default 100
//	stats    interval between stats events, default 10s
//
// The stream begins with an "init" event, followed by "trace" events for each
// completed trace which passes the filter, interleaved with "stats" events.
type StreamServer struct {
	// Sampler publishes completed traces. Required.
	Sampler *txsample.Sampler

	// Logger receives diagnostics. Optional.
	Logger *zap.Logger
}

func (s *StreamServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var (
		ctx    = r.Context()
		logger = loggerOrNop(s.Logger)
	)

	if r.Method != "GET" {
		http.Error(w, "only GET is supported", http.StatusMethodNotAllowed)
		return
	}

	if !requestExplicitlyAccepts(r, "text/event-stream") {
		http.Error(w, "request must Accept: text/event-stream", http.StatusPreconditionRequired)
		return
	}

	var (
		urlquery = r.URL.Query()
		f        = parseSamplesFilter(r)
		stats    = parseDefault(urlquery.Get("stats"), time.ParseDuration, 10*time.Second)
		sendbuf  = parseRange(urlquery.Get("sendbuf"), strconv.Atoi, 0, 100, 10000)
		tracec   = make(chan *txsample.Trace, sendbuf)
		donec    = make(chan struct{})
	)

	if stats <= 0 {
		stats = 10 * time.Second
	}

	logger.Debug("stream starting", zap.Duration("stats", stats), zap.Int("sendbuf", sendbuf))

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	go func() {
		defer close(donec)
		stats, err := s.Sampler.Subscribe(ctx, f.allow, tracec)
		logger.Debug("stream done", zap.Stringer("stats", stats), zap.Error(err))
	}()
	defer func() {
		cancel()
		<-donec
	}()

	eventsource.Handler(func(lastId string, encoder *eventsource.Encoder, stop <-chan bool) {
		statsTicker := time.NewTicker(stats)
		defer statsTicker.Stop()

		initc := make(chan struct{}, 1)
		initc <- struct{}{}

		var seq uint64
		for {
			select {
			case <-initc:
				data, err := json.Marshal(map[string]any{
					"sendbuf": cap(tracec),
					"sampler": s.Sampler.Stats(),
				})
				if err != nil {
					logger.Error("JSON marshal init", zap.Error(err))
					continue
				}
				if err := encoder.Encode(eventsource.Event{Type: "init", Data: data}); err != nil {
					logger.Debug("encode init", zap.Error(err))
					return
				}

			case <-statsTicker.C:
				current, err := s.Sampler.StreamStats(tracec)
				if err != nil {
					logger.Debug("stream stats", zap.Error(err))
					continue
				}
				data, err := json.Marshal(current)
				if err != nil {
					logger.Error("JSON marshal stats", zap.Error(err))
					continue
				}
				if err := encoder.Encode(eventsource.Event{Type: "stats", Data: data}); err != nil {
					logger.Debug("encode stats", zap.Error(err))
					return
				}

			case tr := <-tracec:
				data, err := json.Marshal(tr)
				if err != nil {
					logger.Error("JSON marshal trace", zap.String("id", tr.ID()), zap.Error(err))
					continue
				}
				seq++
				if err := encoder.Encode(eventsource.Event{
					Type: "trace",
					ID:   strconv.FormatUint(seq, 10),
					Data: data,
				}); err != nil {
					logger.Debug("encode trace", zap.Error(err))
					return
				}

			case <-donec:
				logger.Debug("stopping: subscription done")
				return

			case <-stop:
				logger.Debug("stopping: client went away")
				return

			case <-ctx.Done():
				logger.Debug("stopping: context done", zap.Error(ctx.Err()))
				return
			}
		}
	}).ServeHTTP(w, r)
}
