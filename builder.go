package txsample

import (
	"fmt"
	"time"

	"github.com/zoobzio/clockz"
	"go.uber.org/zap"
)

// Builder incrementally constructs a single trace from entry and exit events.
// It tracks a cursor, the current segment, which is the innermost segment that
// has been entered but not yet exited.
//
// A builder is owned by exactly one execution context for its entire lifetime,
// and is not safe for concurrent use.
type Builder struct {
	clock   clockz.Clock
	logger  *zap.Logger
	sample  *Trace
	current SegmentID
}

// NewBuilder returns a builder with a new trace, which starts immediately. If
// clock is nil, the real clock is used. If logger is nil, diagnostics are
// discarded.
func NewBuilder(clock clockz.Clock, logger *zap.Logger) *Builder {
	if clock == nil {
		clock = clockz.RealClock
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	tr := newTrace()
	root := tr.beginBuilding(clock.Now())
	return &Builder{
		clock:   clock,
		logger:  logger,
		sample:  tr,
		current: root,
	}
}

func (b *Builder) relativeTimestamp() time.Duration {
	return b.clock.Now().Sub(b.sample.start)
}

// TraceEntry creates a new segment with the given metric name as the last
// child of the current segment, and makes it the current segment.
func (b *Builder) TraceEntry(metricName string) error {
	id, err := b.sample.createSegment(b.relativeTimestamp(), metricName)
	if err != nil {
		return fmt.Errorf("trace entry: %w", err)
	}
	if err := b.sample.addCalledSegment(b.current, id); err != nil {
		return fmt.Errorf("trace entry: %w", err)
	}
	b.current = id
	return nil
}

// TraceExit ends the current segment, and moves the cursor to its parent. The
// metric name must match the name of the current segment, otherwise the exit
// is unbalanced, and an error satisfying ErrProtocolViolation is returned. An
// unbalanced exit doesn't modify the trace.
func (b *Builder) TraceExit(metricName string) error {
	if b.sample.frozen {
		return fmt.Errorf("trace exit: %w", ErrFrozen)
	}

	cur := &b.sample.segments[b.current]
	if cur.parent == noSegment {
		return &UnbalancedExitError{Have: metricName}
	}
	if metricName != cur.name {
		return &UnbalancedExitError{Have: metricName, Want: cur.name}
	}

	if err := b.sample.endSegment(b.current, b.relativeTimestamp()); err != nil {
		return fmt.Errorf("trace exit: %w", err)
	}
	b.current = cur.parent
	return nil
}

// FinishTrace ends the root segment and freezes the trace. Every entry must
// have been exited, otherwise an error satisfying ErrProtocolViolation is
// returned, and the trace is left unfinished.
//
// Finishing an already-finished trace shouldn't happen, but it isn't fatal:
// the anomaly is logged along with the trace metadata, and the trace is left
// as it was.
func (b *Builder) FinishTrace() error {
	if b.sample.frozen {
		b.logger.Warn("unexpected double-freeze of transaction trace")
		b.logger.Info("transaction trace diagnostic data", zap.Stringer("trace", b.sample))
		return nil
	}

	if b.current != 0 {
		return &OpenSegmentError{Name: b.sample.segments[b.current].name}
	}

	if err := b.sample.endSegment(0, b.relativeTimestamp()); err != nil {
		return fmt.Errorf("finish trace: %w", err)
	}
	b.sample.freeze()
	return nil
}

// Finished returns true once FinishTrace has succeeded.
func (b *Builder) Finished() bool {
	return b.sample.frozen
}

// Sample returns the finished trace. It returns ErrNotFinished if the trace is
// still being built.
func (b *Builder) Sample() (*Trace, error) {
	if !b.sample.frozen {
		return nil, ErrNotFinished
	}
	return b.sample, nil
}

// CurrentSegment returns the current segment, i.e. the innermost open one. It
// returns false once the trace is finished.
func (b *Builder) CurrentSegment() (Segment, bool) {
	if b.sample.frozen {
		return Segment{}, false
	}
	return Segment{tr: b.sample, id: b.current}, true
}

// SetTransactionInfo records the transaction path, request URI, and request
// params. Params are copied, and the controller and action params are
// removed from the copy.
func (b *Builder) SetTransactionInfo(path, uri string, params map[string]any) error {
	if err := b.sample.setTransactionInfo(path, uri, params); err != nil {
		return fmt.Errorf("set transaction info: %w", err)
	}
	return nil
}

// appendSQL attaches the SQL text to the current segment, joining it to any
// existing SQL with a statement separator.
func (b *Builder) appendSQL(sql string) error {
	if b.sample.frozen {
		return fmt.Errorf("append SQL: %w", ErrFrozen)
	}
	if existing, ok := b.sample.segments[b.current].meta[MetadataSQL].(string); ok {
		sql = existing + sqlSeparator + sql
	}
	return b.sample.setSegmentMetadata(b.current, MetadataSQL, sql)
}

func (b *Builder) setBacktrace(frames []Frame) error {
	if len(frames) <= 0 {
		return nil
	}
	return b.sample.setSegmentMetadata(b.current, MetadataBacktrace, frames)
}
