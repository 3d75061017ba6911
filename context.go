package txsample

import (
	"context"
	"sync/atomic"
)

// ExecID identifies an execution context, i.e. one goroutine (or other
// independent unit) processing one transaction at a time. The sampler keeps at
// most one active builder per ExecID.
//
// An ExecID may be reused for a subsequent transaction once the previous one
// has completed. If a transaction never completes, its builder remains
// attached to the ExecID until it's abandoned, see [Sampler.Abandon].
type ExecID uint64

var execIDSeq atomic.Uint64

// NewExecID returns a new, process-unique execution context ID.
func NewExecID() ExecID {
	return ExecID(execIDSeq.Add(1))
}

type execIDContextKey struct{}

var execIDContextVal execIDContextKey

// WithExecID returns a new context carrying the given execution context ID.
func WithExecID(ctx context.Context, id ExecID) context.Context {
	return context.WithValue(ctx, execIDContextVal, id)
}

// ExecIDFrom returns the execution context ID in the context, if it exists.
func ExecIDFrom(ctx context.Context) (ExecID, bool) {
	id, ok := ctx.Value(execIDContextVal).(ExecID)
	return id, ok
}
