package txsample_test

import (
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/peterbourgon/txsample"
	"github.com/zoobzio/clockz"
)

func AssertEqual[T any](t *testing.T, want, have T, opts ...cmp.Option) {
	t.Helper()
	if !cmp.Equal(want, have, opts...) {
		t.Fatal(cmp.Diff(want, have, opts...))
	}
}

// AssertSame compares by identity, for values like traces which can't be
// compared structurally.
func AssertSame[T comparable](t *testing.T, want, have T) {
	t.Helper()
	if want != have {
		t.Fatalf("want %v, have %v", want, have)
	}
}

func AssertNoError(t *testing.T, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func AssertErrorIs(t *testing.T, err, target error) {
	t.Helper()
	if !errors.Is(err, target) {
		t.Fatalf("want error matching %v, have %v", target, err)
	}
}

var epoch = time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

// shape renders a trace's segment tree as a nested structure of names, which
// is easy to compare.
type shape struct {
	Name     string
	Children []shape
}

func shapeOf(s txsample.Segment) shape {
	sh := shape{Name: s.Name()}
	for _, c := range s.Children() {
		sh.Children = append(sh.Children, shapeOf(c))
	}
	return sh
}

// runTransaction reports a complete, well-nested transaction to the sampler,
// with a total duration of d on the fake clock.
func runTransaction(t *testing.T, s *txsample.Sampler, clock *clockz.FakeClock, path string, d time.Duration) {
	t.Helper()
	id := txsample.NewExecID()
	s.NoticeFirstEntry(id)
	AssertNoError(t, s.NoticeTransactionInfo(id, path, nil, nil))
	AssertNoError(t, s.NoticeEntry(id, "Controller"+path))
	if clock != nil {
		clock.Advance(d)
	}
	AssertNoError(t, s.NoticeExit(id, "Controller"+path))
	AssertNoError(t, s.NoticeCompletion(id))
}
