package txsringbuf

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func assertEqual[T any](t *testing.T, have, want T) {
	t.Helper()
	if !cmp.Equal(have, want) {
		t.Fatal(cmp.Diff(have, want))
	}
}

func TestRingBuffer(t *testing.T) {
	t.Parallel()

	rb := New[int](3)

	top := func(k int) []int {
		res := []int{}
		rb.Walk(func(i int) error {
			if k >= 0 && len(res) >= k {
				return errors.New("done")
			}
			res = append(res, i)
			return nil
		})
		return res
	}

	assertEqual(t, top(-1), []int{})
	assertEqual(t, rb.Slice(), []int{})

	rb.Add(1)
	rb.Add(2)

	assertEqual(t, top(-1), []int{2, 1})
	assertEqual(t, top(1), []int{2})
	assertEqual(t, rb.Slice(), []int{1, 2})

	rb.Add(3)

	assertEqual(t, top(-1), []int{3, 2, 1})
	assertEqual(t, rb.Len(), 3)

	evicted, ok := rb.Add(4)
	assertEqual(t, ok, true)
	assertEqual(t, evicted, 1)
	assertEqual(t, top(-1), []int{4, 3, 2})
	assertEqual(t, rb.Slice(), []int{2, 3, 4})

	rb.Add(5)
	rb.Add(6)

	assertEqual(t, top(99), []int{6, 5, 4})
	assertEqual(t, rb.Slice(), []int{4, 5, 6})
	assertEqual(t, rb.Len(), 3)
	assertEqual(t, rb.Cap(), 3)
}

func TestRingBufferMinimumCapacity(t *testing.T) {
	t.Parallel()

	rb := New[string](0)
	assertEqual(t, rb.Cap(), 1)

	_, ok := rb.Add("a")
	assertEqual(t, ok, false)

	evicted, ok := rb.Add("b")
	assertEqual(t, ok, true)
	assertEqual(t, evicted, "a")
	assertEqual(t, rb.Slice(), []string{"b"})
}

func TestRingBufferResize(t *testing.T) {
	t.Parallel()

	for _, tc := range []struct {
		name    string
		adds    int
		from    int
		to      int
		want    []int
		evicted []int
	}{
		{name: "grow empty", adds: 0, from: 3, to: 5, want: []int{}, evicted: nil},
		{name: "grow partial", adds: 2, from: 3, to: 5, want: []int{1, 2}, evicted: nil},
		{name: "grow wrapped", adds: 5, from: 3, to: 5, want: []int{3, 4, 5}, evicted: nil},
		{name: "shrink partial", adds: 2, from: 5, to: 3, want: []int{1, 2}, evicted: nil},
		{name: "shrink full", adds: 5, from: 5, to: 3, want: []int{3, 4, 5}, evicted: []int{1, 2}},
		{name: "shrink wrapped", adds: 7, from: 5, to: 2, want: []int{6, 7}, evicted: []int{3, 4, 5}},
		{name: "same", adds: 4, from: 3, to: 3, want: []int{2, 3, 4}, evicted: nil},
		{name: "invalid", adds: 4, from: 3, to: 0, want: []int{2, 3, 4}, evicted: nil},
	} {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			rb := New[int](tc.from)
			for i := 1; i <= tc.adds; i++ {
				rb.Add(i)
			}

			evicted := rb.Resize(tc.to)
			assertEqual(t, evicted, tc.evicted)
			assertEqual(t, rb.Slice(), tc.want)

			// The write cursor must still be correct after a resize.
			rb.Add(100)
			want := append(tc.want, 100)
			if len(want) > rb.Cap() {
				want = want[len(want)-rb.Cap():]
			}
			assertEqual(t, rb.Slice(), want)
		})
	}
}
