package txsharvest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/peterbourgon/txsample"
	"go.uber.org/zap"
)

// ReporterFunc adapts a function to a Reporter.
type ReporterFunc func(ctx context.Context, tr *txsample.Trace) error

// Report implements Reporter.
func (f ReporterFunc) Report(ctx context.Context, tr *txsample.Trace) error {
	return f(ctx, tr)
}

// LogReporter reports a summary of each trace as a structured log entry.
type LogReporter struct {
	Logger *zap.Logger
}

// Report implements Reporter.
func (r *LogReporter) Report(ctx context.Context, tr *txsample.Trace) error {
	r.Logger.Info("slowest transaction",
		zap.String("id", tr.ID()),
		zap.String("path", tr.Path()),
		zap.String("uri", tr.RequestURI()),
		zap.Duration("duration", tr.Duration()),
		zap.Int("segments", tr.SegmentCount()),
	)
	return nil
}

// JSONReporter writes each trace, including its segment tree, as a single line
// of JSON to the writer.
type JSONReporter struct {
	mtx sync.Mutex
	enc *json.Encoder
}

// NewJSONReporter returns a reporter writing newline-delimited JSON to w.
func NewJSONReporter(w io.Writer) *JSONReporter {
	return &JSONReporter{enc: json.NewEncoder(w)}
}

// Report implements Reporter.
func (r *JSONReporter) Report(ctx context.Context, tr *txsample.Trace) error {
	r.mtx.Lock()
	defer r.mtx.Unlock()

	if err := r.enc.Encode(tr); err != nil {
		return fmt.Errorf("encode trace: %w", err)
	}

	return nil
}

// MultiReporter reports each trace to every reporter, in order. Every reporter
// is called even if an earlier one fails, and all errors are returned.
type MultiReporter []Reporter

// Report implements Reporter.
func (mr MultiReporter) Report(ctx context.Context, tr *txsample.Trace) error {
	var errs []error
	for _, r := range mr {
		if err := r.Report(ctx, tr); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
