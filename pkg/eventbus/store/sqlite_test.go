package store_test

import (
	"context"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/randalmurphal/eventbus/pkg/eventbus/store"
)

func newSQLiteStore(t *testing.T) *store.SQLiteStore {
	t.Helper()
	st, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "bus.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return st
}

func TestSQLiteStore_Persistence(t *testing.T) {
	tmpDir := t.TempDir()
	dbPath := filepath.Join(tmpDir, "bus.db")
	ctx := context.Background()

	st1, err := store.NewSQLiteStore(dbPath)
	require.NoError(t, err)

	created := time.Now().UTC()
	evt := newEvent("ev-1", "order.created", created)
	evt.CorrelationID = "corr-1"
	require.NoError(t, st1.InsertEvent(ctx, evt))

	w, err := st1.RegisterWorker(ctx, store.NewWorker("indexer", "index"))
	require.NoError(t, err)
	require.NoError(t, st1.Close())

	// Reopen: everything must survive.
	st2, err := store.NewSQLiteStore(dbPath)
	require.NoError(t, err)
	defer st2.Close()

	reloaded, err := st2.GetEvent(ctx, "ev-1")
	require.NoError(t, err)
	assert.Equal(t, "order.created", reloaded.Type)
	assert.Equal(t, "corr-1", reloaded.CorrelationID)
	assert.Equal(t, store.StatusPending, reloaded.Status)
	assert.True(t, reloaded.CreatedAt.Equal(created))

	worker, err := st2.GetWorkerByName(ctx, "indexer")
	require.NoError(t, err)
	assert.Equal(t, w.ID, worker.ID)
	assert.Equal(t, store.DefaultTimeout, worker.Timeout)
}

func TestSQLiteStore_InvalidPath(t *testing.T) {
	st, err := store.NewSQLiteStore("/nonexistent/path/bus.db")
	if err == nil {
		// Some drivers defer the failure to the first statement.
		defer st.Close()
		ierr := st.InsertEvent(context.Background(), newEvent("ev-1", "t", time.Now()))
		assert.Error(t, ierr)
		return
	}
	assert.Error(t, err)
}

func TestSQLiteStore_CloseIdempotent(t *testing.T) {
	st, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "bus.db"))
	require.NoError(t, err)

	assert.NoError(t, st.Close())
	assert.NoError(t, st.Close())
}

func TestSQLiteStore_PendingEventsOrderAndLimit(t *testing.T) {
	st := newSQLiteStore(t)
	ctx := context.Background()

	base := time.Now().UTC()
	require.NoError(t, st.InsertEvent(ctx, newEvent("ev-new", "t", base.Add(2*time.Second))))
	require.NoError(t, st.InsertEvent(ctx, newEvent("ev-old", "t", base)))
	require.NoError(t, st.InsertEvent(ctx, newEvent("ev-mid", "t", base.Add(time.Second))))

	events, err := st.PendingEvents(ctx, "t", 10)
	require.NoError(t, err)
	require.Len(t, events, 3)
	assert.Equal(t, "ev-old", events[0].ID)
	assert.Equal(t, "ev-mid", events[1].ID)
	assert.Equal(t, "ev-new", events[2].ID)

	limited, err := st.PendingEvents(ctx, "t", 1)
	require.NoError(t, err)
	require.Len(t, limited, 1)
	assert.Equal(t, "ev-old", limited[0].ID)
}

func TestSQLiteStore_ClaimEventConcurrent(t *testing.T) {
	st := newSQLiteStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	require.NoError(t, st.InsertEvent(ctx, newEvent("ev-1", "t", now)))

	const claimants = 16
	var wins atomic.Int32
	var wg sync.WaitGroup
	wg.Add(claimants)
	for i := 0; i < claimants; i++ {
		go func() {
			defer wg.Done()
			claimed, err := st.ClaimEvent(ctx, "ev-1", now)
			if err == nil && claimed {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), wins.Load())

	evt, err := st.GetEvent(ctx, "ev-1")
	require.NoError(t, err)
	assert.Equal(t, store.StatusProcessing, evt.Status)
}

func TestSQLiteStore_ClaimConsumptionLifecycle(t *testing.T) {
	st := newSQLiteStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	c, claimed, err := st.ClaimConsumption(ctx, "ev-1", "cons-1", "key-1", now)
	require.NoError(t, err)
	assert.True(t, claimed)
	assert.Equal(t, 1, c.Attempt)

	_, claimed, err = st.ClaimConsumption(ctx, "ev-1", "cons-1", "key-1", now)
	require.NoError(t, err)
	assert.False(t, claimed)

	c.Status = store.StatusFailedRetryable
	require.NoError(t, st.UpdateConsumption(ctx, c))

	c2, claimed, err := st.ClaimConsumption(ctx, "ev-1", "cons-1", "key-1", now)
	require.NoError(t, err)
	assert.True(t, claimed)
	assert.Equal(t, 2, c2.Attempt)

	byKey, err := st.GetConsumptionByKey(ctx, "key-1")
	require.NoError(t, err)
	assert.Equal(t, "ev-1", byKey.EventID)
}

func TestSQLiteStore_ArchiveEventsBefore(t *testing.T) {
	st := newSQLiteStore(t)
	ctx := context.Background()

	cutoff := time.Date(2026, 8, 20, 0, 0, 0, 0, time.UTC)
	now := cutoff.AddDate(0, 0, 30)

	old := newEvent("ev-old", "t", cutoff.Add(-time.Minute))
	old.Status = store.StatusSuccess
	atCutoff := newEvent("ev-cutoff", "t", cutoff)
	atCutoff.Status = store.StatusFailedPermanent
	pending := newEvent("ev-pending", "t", cutoff.Add(-time.Hour))

	for _, e := range []*store.Event{old, atCutoff, pending} {
		require.NoError(t, st.InsertEvent(ctx, e))
	}

	n, err := st.ArchiveEventsBefore(ctx, cutoff, now)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	archived, err := st.GetEvent(ctx, "ev-old")
	require.NoError(t, err)
	assert.Equal(t, store.StatusArchived, archived.Status)

	kept, err := st.GetEvent(ctx, "ev-cutoff")
	require.NoError(t, err)
	assert.Equal(t, store.StatusFailedPermanent, kept.Status)
}

func TestSQLiteStore_RecordMetricUpsert(t *testing.T) {
	st := newSQLiteStore(t)
	ctx := context.Background()

	require.NoError(t, st.RecordMetric(ctx, "2026-08-29", "t", "cons-1", store.StatusSuccess, 100))
	require.NoError(t, st.RecordMetric(ctx, "2026-08-29", "t", "cons-1", store.StatusSuccess, 200))
	require.NoError(t, st.RecordMetric(ctx, "2026-08-29", "t", "cons-1", store.StatusSuccess, 600))

	metrics, err := st.MetricsRange(ctx, "t", "2026-08-29", "2026-08-29")
	require.NoError(t, err)
	require.Len(t, metrics, 1)
	assert.Equal(t, int64(3), metrics[0].Count)
	assert.Equal(t, int64(900), metrics[0].TotalDurationMs)
	assert.Equal(t, int64(300), metrics[0].AvgDurationMs)

	count, err := st.DailySuccessCount(ctx, "t", "2026-08-29")
	require.NoError(t, err)
	assert.Equal(t, int64(3), count)

	// Day with no rollup reads as zero.
	empty, err := st.DailySuccessCount(ctx, "t", "2026-01-01")
	require.NoError(t, err)
	assert.Equal(t, int64(0), empty)
}

func TestSQLiteStore_WorkerRoundTrip(t *testing.T) {
	st := newSQLiteStore(t)
	ctx := context.Background()

	w := store.NewWorker("csv-processor", "csv")
	w.Metadata = map[string]string{"team": "ingest"}
	registered, err := st.RegisterWorker(ctx, w)
	require.NoError(t, err)
	require.NotEmpty(t, registered.ID)

	again, err := st.RegisterWorker(ctx, store.NewWorker("csv-processor", "csv"))
	require.NoError(t, err)
	assert.Equal(t, registered.ID, again.ID)

	registered.MaxRetries = 7
	require.NoError(t, st.UpdateWorker(ctx, registered))

	reloaded, err := st.GetWorker(ctx, registered.ID)
	require.NoError(t, err)
	assert.Equal(t, 7, reloaded.MaxRetries)
	assert.Equal(t, map[string]string{"team": "ingest"}, reloaded.Metadata)
	assert.True(t, reloaded.Enabled)
}

func TestSQLiteStore_UpdateMissingRows(t *testing.T) {
	st := newSQLiteStore(t)
	ctx := context.Background()

	err := st.UpdateEvent(ctx, newEvent("missing", "t", time.Now()))
	assert.ErrorIs(t, err, store.ErrNotFound)

	err = st.UpdateConsumption(ctx, &store.Consumption{EventID: "missing", ConsumerID: "c"})
	assert.ErrorIs(t, err, store.ErrNotFound)

	w := store.NewWorker("ghost", "cap")
	w.ID = "no-such-id"
	err = st.UpdateWorker(ctx, w)
	assert.ErrorIs(t, err, store.ErrNotFound)
}
