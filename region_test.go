package txsample_test

import (
	"context"
	"testing"

	"github.com/peterbourgon/txsample"
)

func TestRegion(t *testing.T) {
	t.Parallel()

	s := txsample.NewSampler(txsample.Config{DeveloperMode: true})
	id := txsample.NewExecID()
	ctx := txsample.WithExecID(context.Background(), id)

	have, ok := txsample.ExecIDFrom(ctx)
	AssertEqual(t, true, ok)
	AssertEqual(t, id, have)

	s.NoticeFirstEntry(id)
	AssertNoError(t, s.NoticeTransactionInfo(id, "/region", nil, nil))
	func() {
		defer s.Region(ctx, "outer")()
		func() {
			defer s.Region(ctx, "inner")()
			AssertNoError(t, s.NoticeSQLContext(ctx, "SELECT 1"))
		}()
	}()
	AssertNoError(t, s.NoticeCompletion(id))

	tr := s.GetSamples()[0]
	AssertEqual(t, shape{Name: "ROOT", Children: []shape{
		{Name: "outer", Children: []shape{{Name: "inner"}}},
	}}, shapeOf(tr.Root()))
	AssertEqual(t, "SELECT 1", tr.Root().Children()[0].Children()[0].SQL())
}

func TestRegionWithoutExecID(t *testing.T) {
	t.Parallel()

	s := txsample.NewDefaultSampler()
	ctx := context.Background()

	_, ok := txsample.ExecIDFrom(ctx)
	AssertEqual(t, false, ok)

	s.Region(ctx, "ignored")()
	AssertNoError(t, s.NoticeSQLContext(ctx, "SELECT 1"))
	AssertEqual(t, 0, s.Stats().ActiveBuilders)
}
