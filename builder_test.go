package txsample_test

import (
	"errors"
	"testing"
	"time"

	"github.com/peterbourgon/txsample"
	"github.com/zoobzio/clockz"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestBuilderNesting(t *testing.T) {
	t.Parallel()

	clock := clockz.NewFakeClockAt(epoch)
	b := txsample.NewBuilder(clock, nil)

	clock.Advance(1 * time.Millisecond)
	AssertNoError(t, b.TraceEntry("A"))
	clock.Advance(2 * time.Millisecond)
	AssertNoError(t, b.TraceEntry("B"))
	clock.Advance(3 * time.Millisecond)
	AssertNoError(t, b.TraceExit("B"))
	clock.Advance(4 * time.Millisecond)
	AssertNoError(t, b.TraceExit("A"))
	clock.Advance(5 * time.Millisecond)
	AssertNoError(t, b.FinishTrace())

	tr, err := b.Sample()
	AssertNoError(t, err)

	AssertEqual(t, shape{Name: "ROOT", Children: []shape{
		{Name: "A", Children: []shape{
			{Name: "B"},
		}},
	}}, shapeOf(tr.Root()))

	a := tr.Root().Children()[0]
	AssertEqual(t, 1*time.Millisecond, a.EntryTimestamp())
	AssertEqual(t, 10*time.Millisecond, a.ExitTimestamp())
	AssertEqual(t, 9*time.Millisecond, a.Duration())
	AssertEqual(t, 6*time.Millisecond, a.ExclusiveDuration())

	bseg := a.Children()[0]
	AssertEqual(t, 3*time.Millisecond, bseg.EntryTimestamp())
	AssertEqual(t, 6*time.Millisecond, bseg.ExitTimestamp())

	parent, ok := bseg.Parent()
	AssertEqual(t, true, ok)
	AssertEqual(t, "A", parent.Name())

	_, ok = tr.Root().Parent()
	AssertEqual(t, false, ok)

	AssertEqual(t, 15*time.Millisecond, tr.Duration())
	AssertEqual(t, epoch, tr.StartTime())
	AssertEqual(t, 3, tr.SegmentCount())
	AssertEqual(t, true, tr.Frozen())
}

func TestBuilderUnbalancedExit(t *testing.T) {
	t.Parallel()

	b := txsample.NewBuilder(nil, nil)
	AssertNoError(t, b.TraceEntry("A"))

	err := b.TraceExit("B")
	AssertErrorIs(t, err, txsample.ErrProtocolViolation)

	var unbalanced *txsample.UnbalancedExitError
	if !errors.As(err, &unbalanced) {
		t.Fatalf("want UnbalancedExitError, have %T", err)
	}
	AssertEqual(t, "B", unbalanced.Have)
	AssertEqual(t, "A", unbalanced.Want)

	// The tree is unchanged: A is still open, and can be exited normally.
	cur, ok := b.CurrentSegment()
	AssertEqual(t, true, ok)
	AssertEqual(t, "A", cur.Name())
	AssertEqual(t, false, cur.Exited())
	AssertNoError(t, b.TraceExit("A"))
}

func TestBuilderExitWithoutEntry(t *testing.T) {
	t.Parallel()

	b := txsample.NewBuilder(nil, nil)
	AssertErrorIs(t, b.TraceExit("ROOT"), txsample.ErrProtocolViolation)
	AssertNoError(t, b.FinishTrace())
}

func TestBuilderFinishWithOpenSegment(t *testing.T) {
	t.Parallel()

	b := txsample.NewBuilder(nil, nil)
	AssertNoError(t, b.TraceEntry("A"))

	err := b.FinishTrace()
	AssertErrorIs(t, err, txsample.ErrProtocolViolation)

	var open *txsample.OpenSegmentError
	if !errors.As(err, &open) {
		t.Fatalf("want OpenSegmentError, have %T", err)
	}
	AssertEqual(t, "A", open.Name)
	AssertEqual(t, false, b.Finished())
}

func TestBuilderSampleBeforeFinish(t *testing.T) {
	t.Parallel()

	b := txsample.NewBuilder(nil, nil)
	_, err := b.Sample()
	AssertErrorIs(t, err, txsample.ErrNotFinished)

	AssertNoError(t, b.FinishTrace())
	tr, err := b.Sample()
	AssertNoError(t, err)
	AssertEqual(t, true, tr.Frozen())
}

func TestBuilderDoubleFinish(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zapcore.InfoLevel)
	clock := clockz.NewFakeClockAt(epoch)
	b := txsample.NewBuilder(clock, zap.New(core))

	clock.Advance(time.Second)
	AssertNoError(t, b.SetTransactionInfo("/users/show", "/users/1", nil))
	AssertNoError(t, b.FinishTrace())
	AssertEqual(t, 0, logs.Len())

	clock.Advance(time.Second)
	AssertNoError(t, b.FinishTrace())

	tr, err := b.Sample()
	AssertNoError(t, err)
	AssertEqual(t, time.Second, tr.Duration()) // not re-ended

	entries := logs.AllUntimed()
	AssertEqual(t, 2, len(entries))
	AssertEqual(t, zapcore.WarnLevel, entries[0].Level)
	AssertEqual(t, zapcore.InfoLevel, entries[1].Level)
	AssertEqual[any](t, tr.String(), entries[1].ContextMap()["trace"])
}

func TestBuilderFrozen(t *testing.T) {
	t.Parallel()

	b := txsample.NewBuilder(nil, nil)
	AssertNoError(t, b.FinishTrace())

	AssertErrorIs(t, b.TraceEntry("A"), txsample.ErrFrozen)
	AssertErrorIs(t, b.TraceExit("A"), txsample.ErrFrozen)
	AssertErrorIs(t, b.SetTransactionInfo("/x", "/x", nil), txsample.ErrFrozen)

	_, ok := b.CurrentSegment()
	AssertEqual(t, false, ok)
}

func TestBuilderTransactionInfo(t *testing.T) {
	t.Parallel()

	params := map[string]any{
		"controller": "users",
		"action":     "show",
		"id":         "1",
		"format":     "json",
	}

	b := txsample.NewBuilder(nil, nil)
	AssertNoError(t, b.SetTransactionInfo("Controller/users/show", "/users/1", params))
	AssertNoError(t, b.FinishTrace())

	tr, err := b.Sample()
	AssertNoError(t, err)
	AssertEqual(t, "Controller/users/show", tr.Path())
	AssertEqual(t, "/users/1", tr.RequestURI())
	AssertEqual(t, map[string]any{"id": "1", "format": "json"}, tr.RequestParams())

	// The caller's map is untouched.
	AssertEqual(t, 4, len(params))
	AssertEqual[any](t, "users", params["controller"])
}
