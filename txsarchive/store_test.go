package txsarchive_test

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/peterbourgon/txsample"
	"github.com/peterbourgon/txsample/txsarchive"
	"github.com/peterbourgon/txsample/txsharvest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zoobzio/clockz"
)

var _ txsharvest.Reporter = (*txsarchive.Store)(nil)

var epoch = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func harvest(t *testing.T, path string, d time.Duration) *txsample.Trace {
	t.Helper()

	clock := clockz.NewFakeClockAt(epoch)
	s := txsample.NewSampler(txsample.Config{Clock: clock})
	id := txsample.NewExecID()
	s.NoticeFirstEntry(id)
	require.NoError(t, s.NoticeTransactionInfo(id, path, nil, nil))
	require.NoError(t, s.NoticeEntry(id, "Database/query"))
	require.NoError(t, s.NoticeSQL(id, "SELECT * FROM users"))
	clock.Advance(d)
	require.NoError(t, s.NoticeExit(id, "Database/query"))
	require.NoError(t, s.NoticeCompletion(id))

	tr := s.HarvestSlowest(nil)
	require.NotNil(t, tr)
	return tr
}

func openStore(t *testing.T) *txsarchive.Store {
	t.Helper()
	store, err := txsarchive.Open(context.Background(), filepath.Join(t.TempDir(), "archive.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestStoreReportAndGet(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := openStore(t)
	tr := harvest(t, "/users", 12*time.Millisecond)

	require.NoError(t, store.Report(ctx, tr))
	require.NoError(t, store.Report(ctx, tr)) // idempotent

	rec, err := store.Get(ctx, tr.ID())
	require.NoError(t, err)
	assert.Equal(t, tr.ID(), rec.ID)
	assert.True(t, epoch.Equal(rec.Start))
	assert.Equal(t, 12*time.Millisecond, rec.Duration)
	assert.Equal(t, "/users", rec.Path)
	assert.Equal(t, 2, rec.SegmentCount)

	var body struct {
		Root struct {
			Children []struct {
				Metadata map[string]any `json:"metadata"`
			} `json:"children"`
		} `json:"root"`
	}
	require.NoError(t, json.Unmarshal(rec.Trace, &body))
	require.Len(t, body.Root.Children, 1)
	assert.Equal(t, "SELECT * FROM users", body.Root.Children[0].Metadata["sql"])

	records, err := store.List(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, records, 1)
}

func TestStoreGetNotFound(t *testing.T) {
	t.Parallel()

	_, err := openStore(t).Get(context.Background(), "01HNOSUCHTRACE0000000000000")
	require.ErrorIs(t, err, txsarchive.ErrNotFound)
}

func TestStoreList(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := openStore(t)

	for i := 0; i < 5; i++ {
		require.NoError(t, store.Report(ctx, harvest(t, fmt.Sprintf("/%d", i), time.Duration(i+1)*time.Millisecond)))
	}

	records, err := store.List(ctx, 3)
	require.NoError(t, err)
	require.Len(t, records, 3)
	assert.Equal(t, "/4", records[0].Path)
	assert.Equal(t, "/3", records[1].Path)
	assert.Equal(t, "/2", records[2].Path)
	for _, rec := range records {
		assert.Nil(t, rec.Trace)
	}
}

func TestStoreSlowest(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := openStore(t)

	_, err := store.Slowest(ctx)
	require.ErrorIs(t, err, txsarchive.ErrNotFound)

	for _, d := range []time.Duration{3, 8, 5} {
		require.NoError(t, store.Report(ctx, harvest(t, fmt.Sprintf("/%d", d), d*time.Millisecond)))
	}

	rec, err := store.Slowest(ctx)
	require.NoError(t, err)
	assert.Equal(t, "/8", rec.Path)
	assert.NotEmpty(t, rec.Trace)
}

func TestStoreReopen(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "archive.db")

	store, err := txsarchive.Open(ctx, path)
	require.NoError(t, err)
	tr := harvest(t, "/persisted", time.Millisecond)
	require.NoError(t, store.Report(ctx, tr))
	require.NoError(t, store.Close())

	store, err = txsarchive.Open(ctx, path)
	require.NoError(t, err)
	defer store.Close()

	rec, err := store.Get(ctx, tr.ID())
	require.NoError(t, err)
	assert.Equal(t, "/persisted", rec.Path)
}
