package txsample

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"
)

// Trace is a transaction sample: the call tree of segments recorded for one
// unit of work, plus transaction metadata like the path and request params.
//
// A trace is built by exactly one [Builder], and is mutable only while it's
// being built. Once finished, the trace is frozen: every accessor is safe for
// concurrent use, and no segment reachable from the trace will change.
type Trace struct {
	id       ulid.ULID
	start    time.Time
	frozen   bool
	segments []segmentNode // arena, root at index 0
	path     string
	uri      string
	params   map[string]any
}

const rootSegmentName = "ROOT"

// blockedParams are removed from request params by setTransactionInfo. They
// identify the dispatch target, and are routing artifacts rather than params
// provided by the user.
var blockedParams = []string{"controller", "action"}

var traceIDEntropy = ulid.DefaultEntropy()

func newTrace() *Trace {
	return &Trace{}
}

// beginBuilding captures the start time, and creates the root segment.
func (tr *Trace) beginBuilding(now time.Time) SegmentID {
	tr.id = ulid.MustNew(ulid.Timestamp(now), traceIDEntropy)
	tr.start = now
	tr.segments = tr.segments[:0]
	return tr.appendSegment(0, rootSegmentName)
}

func (tr *Trace) appendSegment(ts time.Duration, name string) SegmentID {
	id := SegmentID(len(tr.segments))
	tr.segments = append(tr.segments, segmentNode{
		name:   name,
		entry:  ts,
		parent: noSegment,
	})
	return id
}

// createSegment allocates a new segment with the given entry timestamp and
// name. The segment isn't attached to a parent.
func (tr *Trace) createSegment(ts time.Duration, name string) (SegmentID, error) {
	if tr.frozen {
		return noSegment, fmt.Errorf("create segment %q: %w", name, ErrFrozen)
	}
	return tr.appendSegment(ts, name), nil
}

// addCalledSegment attaches child as the last child of parent.
func (tr *Trace) addCalledSegment(parent, child SegmentID) error {
	if tr.frozen {
		return fmt.Errorf("add called segment: %w", ErrFrozen)
	}
	tr.segments[parent].children = append(tr.segments[parent].children, child)
	tr.segments[child].parent = parent
	return nil
}

func (tr *Trace) endSegment(id SegmentID, ts time.Duration) error {
	if tr.frozen {
		return fmt.Errorf("end segment: %w", ErrFrozen)
	}
	return tr.segments[id].end(ts)
}

func (tr *Trace) setSegmentMetadata(id SegmentID, key string, val any) error {
	if tr.frozen {
		return fmt.Errorf("set segment metadata: %w", ErrFrozen)
	}
	tr.segments[id].set(key, val)
	return nil
}

// setTransactionInfo stores transaction metadata. The params are copied, and
// the copy has the blocked params removed.
func (tr *Trace) setTransactionInfo(path, uri string, params map[string]any) error {
	if tr.frozen {
		return fmt.Errorf("set transaction info: %w", ErrFrozen)
	}

	copied := make(map[string]any, len(params))
	for k, v := range params {
		copied[k] = v
	}
	for _, k := range blockedParams {
		delete(copied, k)
	}

	tr.path = path
	tr.uri = uri
	tr.params = copied
	return nil
}

func (tr *Trace) freeze() {
	tr.frozen = true
}

//
//
//

// ID returns a unique identifier for the trace, as a ULID string.
func (tr *Trace) ID() string {
	return tr.id.String()
}

// StartTime returns the wall-clock time the trace began.
func (tr *Trace) StartTime() time.Time {
	return tr.start
}

// Frozen returns true once the trace has been finished.
func (tr *Trace) Frozen() bool {
	return tr.frozen
}

// Root returns the root segment, which represents the whole unit of work.
func (tr *Trace) Root() Segment {
	return Segment{tr: tr, id: 0}
}

// Segment returns the segment with the given ID.
func (tr *Trace) Segment(id SegmentID) (Segment, bool) {
	if id < 0 || int(id) >= len(tr.segments) {
		return Segment{}, false
	}
	return Segment{tr: tr, id: id}, true
}

// SegmentCount returns the total number of segments, including the root.
func (tr *Trace) SegmentCount() int {
	return len(tr.segments)
}

// Duration of the trace, which is the exit timestamp of the root segment.
// It's zero until the trace is finished.
func (tr *Trace) Duration() time.Duration {
	if len(tr.segments) <= 0 {
		return 0
	}
	return tr.segments[0].exit
}

// Path returns the transaction path, e.g. the controller path that served a
// request. It's empty if transaction info was never provided.
func (tr *Trace) Path() string {
	return tr.path
}

// RequestURI returns the path of the request URI.
func (tr *Trace) RequestURI() string {
	return tr.uri
}

// RequestParams returns a copy of the request params.
func (tr *Trace) RequestParams() map[string]any {
	if tr.params == nil {
		return nil
	}
	res := make(map[string]any, len(tr.params))
	for k, v := range tr.params {
		res[k] = v
	}
	return res
}

// Walk calls fn for every segment in the trace, depth-first, parents before
// children, starting with the root at depth 0. If fn returns an error, the
// walk stops and that error is returned.
func (tr *Trace) Walk(fn func(s Segment, depth int) error) error {
	if len(tr.segments) <= 0 {
		return nil
	}
	return tr.walk(0, 0, fn)
}

func (tr *Trace) walk(id SegmentID, depth int, fn func(Segment, int) error) error {
	if err := fn(Segment{tr: tr, id: id}, depth); err != nil {
		return err
	}
	for _, c := range tr.segments[id].children {
		if err := tr.walk(c, depth+1, fn); err != nil {
			return err
		}
	}
	return nil
}

// String returns the trace metadata, without segments, as JSON.
func (tr *Trace) String() string {
	buf, err := json.Marshal(jsonTraceMetadataFrom(tr))
	if err != nil {
		return fmt.Sprintf("<trace %s: %v>", tr.ID(), err)
	}
	return string(buf)
}

// MarshalJSON implements json.Marshaler, producing the metadata and the full
// segment tree.
func (tr *Trace) MarshalJSON() ([]byte, error) {
	jtr := jsonTrace{
		jsonTraceMetadata: jsonTraceMetadataFrom(tr),
	}
	if len(tr.segments) > 0 {
		root := jsonSegmentFrom(tr.Root())
		jtr.Root = &root
	}
	return json.Marshal(jtr)
}

//
//
//

type jsonTraceMetadata struct {
	ID           string         `json:"id"`
	Start        time.Time      `json:"start"`
	Duration     time.Duration  `json:"duration"`
	Path         string         `json:"path,omitempty"`
	URI          string         `json:"uri,omitempty"`
	Params       map[string]any `json:"params,omitempty"`
	SegmentCount int            `json:"segment_count"`
	Frozen       bool           `json:"frozen"`
}

func jsonTraceMetadataFrom(tr *Trace) jsonTraceMetadata {
	return jsonTraceMetadata{
		ID:           tr.ID(),
		Start:        tr.start,
		Duration:     tr.Duration(),
		Path:         tr.path,
		URI:          tr.uri,
		Params:       tr.params,
		SegmentCount: len(tr.segments),
		Frozen:       tr.frozen,
	}
}

type jsonTrace struct {
	jsonTraceMetadata
	Root *jsonSegment `json:"root,omitempty"`
}

type jsonSegment struct {
	Name     string         `json:"name"`
	Entry    time.Duration  `json:"entry"`
	Exit     time.Duration  `json:"exit"`
	Metadata map[string]any `json:"metadata,omitempty"`
	Children []jsonSegment  `json:"children,omitempty"`
}

func jsonSegmentFrom(s Segment) jsonSegment {
	js := jsonSegment{
		Name:     s.Name(),
		Entry:    s.EntryTimestamp(),
		Exit:     s.ExitTimestamp(),
		Metadata: s.node().meta,
	}
	for _, c := range s.Children() {
		js.Children = append(js.Children, jsonSegmentFrom(c))
	}
	return js
}
