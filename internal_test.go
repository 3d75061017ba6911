package txsample

import (
	"errors"
	"strings"
	"testing"
	"time"
)

func TestSegmentEndClampsToEntry(t *testing.T) {
	t.Parallel()

	n := segmentNode{name: "A", entry: 10 * time.Millisecond}
	if err := n.end(5 * time.Millisecond); err != nil {
		t.Fatal(err)
	}
	if want, have := n.entry, n.exit; want != have {
		t.Errorf("exit: want %s, have %s", want, have)
	}

	err := n.end(20 * time.Millisecond)
	if !errors.Is(err, ErrProtocolViolation) {
		t.Errorf("second end: want protocol violation, have %v", err)
	}
	if want, have := 10*time.Millisecond, n.exit; want != have {
		t.Errorf("exit after second end: want %s, have %s", want, have)
	}
}

func TestTruncateSQL(t *testing.T) {
	t.Parallel()

	for _, tc := range []struct {
		name string
		sql  string
		want string
	}{
		{"empty", "", ""},
		{"short", "SELECT 1", "SELECT 1"},
		{"at limit", strings.Repeat("a", MaxSQLLength), strings.Repeat("a", MaxSQLLength)},
		{"over limit", strings.Repeat("a", MaxSQLLength+1), strings.Repeat("a", MaxSQLLength) + sqlTruncatedMarker},
		{"way over limit", strings.Repeat("b", 3*MaxSQLLength), strings.Repeat("b", MaxSQLLength) + sqlTruncatedMarker},
		{"multibyte at limit", strings.Repeat("é", MaxSQLLength), strings.Repeat("é", MaxSQLLength)},
		{"multibyte over limit", strings.Repeat("é", MaxSQLLength+2), strings.Repeat("é", MaxSQLLength) + sqlTruncatedMarker},
	} {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if want, have := tc.want, truncateSQL(tc.sql); want != have {
				t.Errorf("want %d bytes, have %d bytes", len(want), len(have))
			}
		})
	}
}

func TestFuncNameOnly(t *testing.T) {
	t.Parallel()

	for input, want := range map[string]string{
		"github.com/peterbourgon/txsample.(*Sampler).NoticeEntry": "(*Sampler).NoticeEntry",
		"github.com/peterbourgon/txsample_test.testStackFoo":      "testStackFoo",
		"main.main":          "main",
		"main.run.func1":     "run.func1",
		"no/package/dots":    "dots",
		"nothing-to-extract": "nothing-to-extract",
	} {
		if have := funcNameOnly(input); want != have {
			t.Errorf("%s: want %q, have %q", input, want, have)
		}
	}
}

func BenchmarkNoticeEntryExit(b *testing.B) {
	b.ReportAllocs()

	for _, tc := range []struct {
		name string
		cfg  Config
	}{
		{"production", Config{}},
		{"developer", Config{DeveloperMode: true, StackSkip: -1}},
	} {
		b.Run(tc.name, func(b *testing.B) {
			s := NewSampler(tc.cfg)
			id := NewExecID()
			s.NoticeFirstEntry(id)
			for i := 0; i < b.N; i++ {
				s.NoticeEntry(id, "op")
				s.NoticeExit(id, "op")
			}
			s.NoticeCompletion(id)
		})
	}

	b.Run("inactive", func(b *testing.B) {
		s := NewDefaultSampler()
		id := NewExecID()
		for i := 0; i < b.N; i++ {
			s.NoticeEntry(id, "op")
			s.NoticeExit(id, "op")
		}
	})
}
