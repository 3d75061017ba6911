package txsample

import (
	"time"
)

// SegmentID indexes a segment within its trace.
type SegmentID int32

const noSegment SegmentID = -1

// Well-known segment metadata keys.
const (
	MetadataSQL       = "sql"
	MetadataBacktrace = "backtrace"
)

// segmentNode is the storage for a single segment. Nodes live in an arena
// owned by the trace, and refer to each other by index.
type segmentNode struct {
	name     string
	entry    time.Duration
	exit     time.Duration
	exited   bool
	parent   SegmentID
	children []SegmentID
	meta     map[string]any
}

// end sets the exit timestamp. Wall clocks can step backwards, so the exit is
// never allowed to precede the entry.
func (n *segmentNode) end(ts time.Duration) error {
	if n.exited {
		return &SegmentExitedError{Name: n.name}
	}
	if ts < n.entry {
		ts = n.entry
	}
	n.exit = ts
	n.exited = true
	return nil
}

func (n *segmentNode) set(key string, val any) {
	if n.meta == nil {
		n.meta = map[string]any{}
	}
	n.meta[key] = val
}

//
//
//

// Segment is a read-only view of a single node in a trace's call tree. It's a
// small value type, and can be copied freely.
//
// Segments of a finished trace are immutable and safe for concurrent use.
// Segments of a trace that's still being built must only be accessed by the
// goroutine building it.
type Segment struct {
	tr *Trace
	id SegmentID
}

func (s Segment) node() *segmentNode {
	return &s.tr.segments[s.id]
}

// ID returns the index of the segment within its trace. The root segment is
// always ID 0.
func (s Segment) ID() SegmentID {
	return s.id
}

// Name returns the metric name of the operation.
func (s Segment) Name() string {
	return s.node().name
}

// EntryTimestamp returns the time the segment was entered, relative to the
// start of the trace.
func (s Segment) EntryTimestamp() time.Duration {
	return s.node().entry
}

// ExitTimestamp returns the time the segment was exited, relative to the start
// of the trace. It returns zero if the segment hasn't exited yet.
func (s Segment) ExitTimestamp() time.Duration {
	return s.node().exit
}

// Exited returns true if the segment has been exited.
func (s Segment) Exited() bool {
	return s.node().exited
}

// Duration returns the time between entry and exit, or zero if the segment
// hasn't exited yet.
func (s Segment) Duration() time.Duration {
	n := s.node()
	if !n.exited {
		return 0
	}
	return n.exit - n.entry
}

// ExclusiveDuration returns the duration of the segment minus the durations of
// its direct children, i.e. the time spent in the operation itself.
func (s Segment) ExclusiveDuration() time.Duration {
	d := s.Duration()
	for _, c := range s.Children() {
		d -= c.Duration()
	}
	if d < 0 {
		d = 0
	}
	return d
}

// Children returns the direct children of the segment, in entry order.
func (s Segment) Children() []Segment {
	n := s.node()
	if len(n.children) <= 0 {
		return nil
	}
	res := make([]Segment, len(n.children))
	for i, id := range n.children {
		res[i] = Segment{tr: s.tr, id: id}
	}
	return res
}

// Parent returns the parent of the segment. The root segment has no parent.
func (s Segment) Parent() (Segment, bool) {
	p := s.node().parent
	if p == noSegment {
		return Segment{}, false
	}
	return Segment{tr: s.tr, id: p}, true
}

// Metadata returns a copy of the segment's metadata.
func (s Segment) Metadata() map[string]any {
	n := s.node()
	if len(n.meta) <= 0 {
		return nil
	}
	res := make(map[string]any, len(n.meta))
	for k, v := range n.meta {
		res[k] = v
	}
	return res
}

// SQL returns the SQL text attached to the segment, if any. Multiple
// statements are separated by ";\n".
func (s Segment) SQL() string {
	sql, _ := s.node().meta[MetadataSQL].(string)
	return sql
}

// Backtrace returns the call stack captured when the segment was entered, if
// any. Backtraces are only captured in developer mode.
func (s Segment) Backtrace() []Frame {
	frames, _ := s.node().meta[MetadataBacktrace].([]Frame)
	return frames
}
