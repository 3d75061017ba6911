// Package txsample provides an embedded transaction sampler: a low-overhead
// tracer that builds a nested timing tree for each unit of work processed by a
// host application, keeps a bounded set of completed traces in memory, and
// hands the slowest trace to a periodic harvester.
//
// The host's instrumentation layer reports events to a [Sampler] on behalf of
// an execution context, identified by an [ExecID]. A unit of work begins with
// NoticeFirstEntry, reports nested operations with NoticeEntry and NoticeExit,
// optionally attaches request metadata and SQL text, and ends with
// NoticeCompletion. Each execution context gets its own [Builder], which is
// never shared, so the hot path takes no locks. Only completion and harvest
// touch shared state.
//
// Entry and exit events must nest like parentheses. An exit whose name doesn't
// match the innermost open segment is a protocol violation, reported as an
// error which satisfies errors.Is(err, [ErrProtocolViolation]). Events for an
// execution context without an active builder are silently ignored.
//
// Completed traces are frozen, and safe for concurrent reads by any number of
// goroutines. The harvester in [github.com/peterbourgon/txsample/txsharvest]
// periodically drains the slowest trace, and the handlers in
// [github.com/peterbourgon/txsample/txsweb] expose retained traces to
// diagnostics tooling.
package txsample
