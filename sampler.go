package txsample

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"github.com/peterbourgon/txsample/internal/txspubsub"
	"github.com/peterbourgon/txsample/internal/txsringbuf"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/zoobzio/clockz"
	"go.uber.org/zap"
)

// Sampler is the process-wide transaction sampler. It routes events from the
// instrumentation layer to the builder of the calling execution context, keeps
// a bounded set of recent traces, tracks the slowest trace since the last
// harvest, and serves harvest requests.
//
// Sampler is safe for concurrent use. Events for a given ExecID must come from
// one goroutine at a time, in the order they occurred.
type Sampler struct {
	clock         clockz.Clock
	logger        *zap.Logger
	developerMode bool
	stackSkip     int
	builders      sync.Map // ExecID -> *Builder
	active        atomic.Int64
	broker        *txspubsub.Broker[*Trace]
	metrics       *samplerMetrics

	mtx     sync.Mutex
	recent  *txsringbuf.RingBuffer[*Trace]
	slowest *Trace
}

// Config defines the configuration parameters for a sampler. It's read once,
// when the sampler is constructed.
type Config struct {
	// MaxSamples is the maximum number of recent traces retained in developer
	// mode. Optional. By default, 100. The minimum is 1, and the maximum is
	// 10000.
	MaxSamples int

	// DeveloperMode enables the expensive features of the sampler: capturing a
	// backtrace for every segment, and retaining recent traces for diagnostics.
	// Optional. By default, developer mode is disabled, and only the slowest
	// trace is tracked.
	DeveloperMode bool

	// StackSkip is the number of frames, above the caller of NoticeEntry,
	// which belong to the instrumentation layer and are omitted from
	// backtraces. Optional. By default, 8. Negative values omit no frames.
	StackSkip int

	// Clock provides timestamps for traces. Optional. By default, the real
	// clock is used.
	Clock clockz.Clock

	// Logger receives diagnostics about anomalies. Optional. By default,
	// diagnostics are discarded.
	Logger *zap.Logger

	// Registerer is used to register sampler metrics. Optional. By default,
	// metrics are maintained but not registered.
	Registerer prometheus.Registerer
}

const (
	maxSamplesMin = 1
	maxSamplesDef = 100
	maxSamplesMax = 10000

	stackSkipDef  = 8
	stackDepthMax = 40
)

// MaxSQLLength is the maximum number of characters of a single SQL statement
// attached to a segment. Longer statements are truncated, and marked with
// sqlTruncatedMarker.
const MaxSQLLength = 16384

const (
	sqlTruncatedMarker = "..."
	sqlSeparator       = ";\n"
)

// NewSampler returns a sampler based on the provided config.
func NewSampler(cfg Config) *Sampler {
	cfg.MaxSamples = normalizeMaxSamples(cfg.MaxSamples)

	switch {
	case cfg.StackSkip == 0:
		cfg.StackSkip = stackSkipDef
	case cfg.StackSkip < 0:
		cfg.StackSkip = 0
	}

	if cfg.Clock == nil {
		cfg.Clock = clockz.RealClock
	}

	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	return &Sampler{
		clock:         cfg.Clock,
		logger:        cfg.Logger.Named("transaction_sampler"),
		developerMode: cfg.DeveloperMode,
		stackSkip:     cfg.StackSkip,
		broker:        txspubsub.NewBroker[*Trace](),
		metrics:       newSamplerMetrics(cfg.Registerer),
		recent:        txsringbuf.New[*Trace](cfg.MaxSamples),
	}
}

// NewDefaultSampler is a convenience function that calls NewSampler with a
// zero value config.
func NewDefaultSampler() *Sampler {
	return NewSampler(Config{})
}

func normalizeMaxSamples(n int) int {
	switch {
	case n <= 0:
		return maxSamplesDef
	case n < maxSamplesMin:
		return maxSamplesMin
	case n > maxSamplesMax:
		return maxSamplesMax
	default:
		return n
	}
}

// DeveloperMode returns true if the sampler was configured in developer mode.
func (s *Sampler) DeveloperMode() bool {
	return s.developerMode
}

func (s *Sampler) getBuilder(id ExecID) (*Builder, bool) {
	v, ok := s.builders.Load(id)
	if !ok {
		return nil, false
	}
	return v.(*Builder), true
}

func (s *Sampler) detach(id ExecID) bool {
	if _, ok := s.builders.LoadAndDelete(id); !ok {
		return false
	}
	s.active.Add(-1)
	s.metrics.activeBuilders.Dec()
	return true
}

func (s *Sampler) observeError(err error) error {
	if errors.Is(err, ErrProtocolViolation) {
		s.metrics.protocolViolations.Inc()
	}
	return err
}

// NoticeFirstEntry starts a new trace for the execution context, unless one is
// already being built.
func (s *Sampler) NoticeFirstEntry(id ExecID) {
	if _, ok := s.builders.Load(id); ok {
		return
	}
	if _, loaded := s.builders.LoadOrStore(id, NewBuilder(s.clock, s.logger)); loaded {
		return
	}
	s.active.Add(1)
	s.metrics.activeBuilders.Inc()
}

// NoticeEntry records that the execution context entered the named operation.
// If no trace is being built for the execution context, it does nothing. In
// developer mode, a backtrace is captured for the new segment.
func (s *Sampler) NoticeEntry(id ExecID, metricName string) error {
	b, ok := s.getBuilder(id)
	if !ok {
		return nil
	}

	if err := b.TraceEntry(metricName); err != nil {
		return s.observeError(err)
	}

	if s.developerMode {
		if err := b.setBacktrace(captureStack(s.stackSkip, stackDepthMax)); err != nil {
			return s.observeError(err)
		}
	}

	return nil
}

// NoticeExit records that the execution context exited the named operation.
// If no trace is being built for the execution context, it does nothing. The
// name must match the most recent unexited entry, otherwise the returned error
// satisfies ErrProtocolViolation.
func (s *Sampler) NoticeExit(id ExecID, metricName string) error {
	b, ok := s.getBuilder(id)
	if !ok {
		return nil
	}

	if err := b.TraceExit(metricName); err != nil {
		return s.observeError(err)
	}

	return nil
}

// NoticeCompletion finishes the trace for the execution context, folds it
// into the recent and slowest samples, and detaches the builder. If no trace
// is being built for the execution context, it does nothing.
//
// If the trace can't be finished, because some entry was never exited, the
// builder is detached anyway, no trace is produced, and the returned error
// satisfies ErrProtocolViolation.
func (s *Sampler) NoticeCompletion(id ExecID) error {
	b, ok := s.getBuilder(id)
	if !ok {
		return nil
	}

	if err := b.FinishTrace(); err != nil {
		if s.detach(id) {
			s.metrics.abandoned.Inc()
		}
		return s.observeError(err)
	}

	tr, err := b.Sample()
	s.detach(id)
	if err != nil {
		return err
	}

	s.fold(tr)
	s.metrics.completed.Inc()
	s.broker.Publish(tr)

	return nil
}

func (s *Sampler) fold(tr *Trace) {
	s.mtx.Lock()
	defer s.mtx.Unlock()

	if s.developerMode && tr.Path() != "" {
		if _, evicted := s.recent.Add(tr); evicted {
			s.metrics.evicted.Inc()
		}
		s.metrics.retained.Inc()
	}

	if s.slowest == nil || s.slowest.Duration() < tr.Duration() {
		s.slowest = tr
		s.metrics.slowestSeconds.Set(tr.Duration().Seconds())
	}
}

// NoticeTransactionInfo records the transaction path, the request URI path,
// and the request params for the execution context's trace. The request may
// be nil. If no trace is being built for the execution context, it does
// nothing.
func (s *Sampler) NoticeTransactionInfo(id ExecID, path string, r *http.Request, params map[string]any) error {
	b, ok := s.getBuilder(id)
	if !ok {
		return nil
	}

	var uri string
	if r != nil && r.URL != nil {
		uri = r.URL.Path
	}

	return s.observeError(b.SetTransactionInfo(path, uri, params))
}

// NoticeSQL attaches SQL text to the current segment of the execution
// context's trace. Statements longer than MaxSQLLength characters are
// truncated. Multiple statements noticed within the same segment are joined
// with a statement separator, in call order. If no trace is being built for
// the execution context, it does nothing.
func (s *Sampler) NoticeSQL(id ExecID, sql string) error {
	b, ok := s.getBuilder(id)
	if !ok {
		return nil
	}

	return s.observeError(b.appendSQL(truncateSQL(sql)))
}

func truncateSQL(sql string) string {
	if len(sql) <= MaxSQLLength { // byte length bounds rune count
		return sql
	}
	if utf8.RuneCountInString(sql) <= MaxSQLLength {
		return sql
	}

	var n int
	for i := range sql {
		if n == MaxSQLLength {
			return sql[:i] + sqlTruncatedMarker
		}
		n++
	}
	return sql
}

// Abandon detaches the execution context's builder, if any, without producing
// a trace. It returns true if a builder was detached. Hosts which reuse an
// execution context after a unit of work failed to complete should call
// Abandon, otherwise the stale builder absorbs the next unit's events.
func (s *Sampler) Abandon(id ExecID) bool {
	if !s.detach(id) {
		return false
	}
	s.metrics.abandoned.Inc()
	return true
}

// HarvestSlowest takes the slowest trace completed since the last harvest, and
// returns whichever of it and previous has the greater duration. On a tie,
// previous is returned. Either may be nil. The sampler's slowest trace is
// always cleared.
//
// Callers typically pass the result of the previous harvest when it couldn't
// be reported, so a slow trace isn't lost to a faster one.
func (s *Sampler) HarvestSlowest(previous *Trace) *Trace {
	s.mtx.Lock()
	defer s.mtx.Unlock()

	taken := s.slowest
	s.slowest = nil
	s.metrics.harvests.Inc()
	s.metrics.slowestSeconds.Set(0)

	switch {
	case taken == nil:
		return previous
	case previous == nil:
		return taken
	case previous.Duration() < taken.Duration():
		return taken
	default:
		return previous
	}
}

// GetSamples returns a copy of the recent samples, oldest first. The sampler's
// samples are unaffected.
func (s *Sampler) GetSamples() []*Trace {
	s.mtx.Lock()
	defer s.mtx.Unlock()

	return s.recent.Slice()
}

// SetMaxSamples changes the maximum number of recent samples, evicting the
// oldest samples if necessary. The value is normalized the same way as
// Config.MaxSamples.
func (s *Sampler) SetMaxSamples(n int) {
	n = normalizeMaxSamples(n)

	s.mtx.Lock()
	defer s.mtx.Unlock()

	evicted := s.recent.Resize(n)
	s.metrics.evicted.Add(float64(len(evicted)))
}

// Stats is a point-in-time summary of the sampler's state.
type Stats struct {
	ActiveBuilders int           `json:"active_builders"`
	Samples        int           `json:"samples"`
	MaxSamples     int           `json:"max_samples"`
	Slowest        time.Duration `json:"slowest"`
	DeveloperMode  bool          `json:"developer_mode"`
}

// Stats returns a summary of the sampler's state.
func (s *Sampler) Stats() Stats {
	s.mtx.Lock()
	defer s.mtx.Unlock()

	var slowest time.Duration
	if s.slowest != nil {
		slowest = s.slowest.Duration()
	}

	return Stats{
		ActiveBuilders: int(s.active.Load()),
		Samples:        s.recent.Len(),
		MaxSamples:     s.recent.Cap(),
		Slowest:        slowest,
		DeveloperMode:  s.developerMode,
	}
}

// StreamStats describes what happened to completed traces offered to a
// subscriber.
type StreamStats = txspubsub.Stats

// Subscribe sends every completed trace which satisfies allow to ch, or every
// completed trace if allow is nil. Sends never block: if ch is full, the trace
// is dropped for that subscriber. Subscribe blocks until the context is
// canceled, and then returns the stats of the subscription.
func (s *Sampler) Subscribe(ctx context.Context, allow func(*Trace) bool, ch chan<- *Trace) (StreamStats, error) {
	return s.broker.Subscribe(ctx, allow, ch)
}

// StreamStats returns the current stats of an active subscription.
func (s *Sampler) StreamStats(ch chan<- *Trace) (StreamStats, error) {
	return s.broker.Stats(ch)
}
