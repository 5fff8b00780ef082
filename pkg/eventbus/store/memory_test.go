package store_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/randalmurphal/eventbus/pkg/eventbus/store"
)

func newEvent(id, eventType string, created time.Time) *store.Event {
	return &store.Event{
		ID:            id,
		Type:          eventType,
		SchemaVersion: 1,
		Payload:       []byte(`{"n":1}`),
		Status:        store.StatusPending,
		CreatedAt:     created,
		UpdatedAt:     created,
	}
}

func TestMemoryStore_EventRoundTrip(t *testing.T) {
	st := store.NewMemoryStore()
	defer st.Close()
	ctx := context.Background()

	created := time.Now().UTC()
	require.NoError(t, st.InsertEvent(ctx, newEvent("ev-1", "order.created", created)))

	evt, err := st.GetEvent(ctx, "ev-1")
	require.NoError(t, err)
	assert.Equal(t, "order.created", evt.Type)
	assert.Equal(t, store.StatusPending, evt.Status)
	assert.Equal(t, []byte(`{"n":1}`), evt.Payload)

	evt.Status = store.StatusSuccess
	require.NoError(t, st.UpdateEvent(ctx, evt))

	reloaded, err := st.GetEvent(ctx, "ev-1")
	require.NoError(t, err)
	assert.Equal(t, store.StatusSuccess, reloaded.Status)
}

func TestMemoryStore_GetEventNotFound(t *testing.T) {
	st := store.NewMemoryStore()
	defer st.Close()

	_, err := st.GetEvent(context.Background(), "missing")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestMemoryStore_ClonesOnReturn(t *testing.T) {
	st := store.NewMemoryStore()
	defer st.Close()
	ctx := context.Background()

	require.NoError(t, st.InsertEvent(ctx, newEvent("ev-1", "t", time.Now())))

	evt, err := st.GetEvent(ctx, "ev-1")
	require.NoError(t, err)

	// Mutating the returned copy must not affect stored state.
	evt.Status = store.StatusArchived
	evt.Payload[0] = 'X'

	fresh, err := st.GetEvent(ctx, "ev-1")
	require.NoError(t, err)
	assert.Equal(t, store.StatusPending, fresh.Status)
	assert.Equal(t, byte('{'), fresh.Payload[0])
}

func TestMemoryStore_PendingEventsOrderAndLimit(t *testing.T) {
	st := store.NewMemoryStore()
	defer st.Close()
	ctx := context.Background()

	base := time.Now().UTC()
	require.NoError(t, st.InsertEvent(ctx, newEvent("ev-new", "t", base.Add(2*time.Second))))
	require.NoError(t, st.InsertEvent(ctx, newEvent("ev-old", "t", base)))
	require.NoError(t, st.InsertEvent(ctx, newEvent("ev-mid", "t", base.Add(time.Second))))
	require.NoError(t, st.InsertEvent(ctx, newEvent("ev-other", "other", base)))

	events, err := st.PendingEvents(ctx, "t", 10)
	require.NoError(t, err)
	require.Len(t, events, 3)
	assert.Equal(t, "ev-old", events[0].ID)
	assert.Equal(t, "ev-mid", events[1].ID)
	assert.Equal(t, "ev-new", events[2].ID)

	limited, err := st.PendingEvents(ctx, "t", 2)
	require.NoError(t, err)
	require.Len(t, limited, 2)
	assert.Equal(t, "ev-old", limited[0].ID)
}

func TestMemoryStore_PendingEventsExcludesNonPending(t *testing.T) {
	st := store.NewMemoryStore()
	defer st.Close()
	ctx := context.Background()

	evt := newEvent("ev-1", "t", time.Now())
	evt.Status = store.StatusProcessing
	require.NoError(t, st.InsertEvent(ctx, evt))

	events, err := st.PendingEvents(ctx, "t", 10)
	require.NoError(t, err)
	assert.Empty(t, events)
}

func TestMemoryStore_ClaimEvent(t *testing.T) {
	st := store.NewMemoryStore()
	defer st.Close()
	ctx := context.Background()
	now := time.Now().UTC()

	require.NoError(t, st.InsertEvent(ctx, newEvent("ev-1", "t", now)))

	claimed, err := st.ClaimEvent(ctx, "ev-1", now)
	require.NoError(t, err)
	assert.True(t, claimed)

	evt, err := st.GetEvent(ctx, "ev-1")
	require.NoError(t, err)
	assert.Equal(t, store.StatusProcessing, evt.Status)
	require.NotNil(t, evt.ProcessingStartedAt)

	// Already PROCESSING: second claim loses.
	again, err := st.ClaimEvent(ctx, "ev-1", now)
	require.NoError(t, err)
	assert.False(t, again)
}

func TestMemoryStore_ClaimEventRetryable(t *testing.T) {
	st := store.NewMemoryStore()
	defer st.Close()
	ctx := context.Background()
	now := time.Now().UTC()

	evt := newEvent("ev-1", "t", now)
	evt.Status = store.StatusFailedRetryable
	require.NoError(t, st.InsertEvent(ctx, evt))

	claimed, err := st.ClaimEvent(ctx, "ev-1", now)
	require.NoError(t, err)
	assert.True(t, claimed)
}

func TestMemoryStore_ClaimEventTerminal(t *testing.T) {
	st := store.NewMemoryStore()
	defer st.Close()
	ctx := context.Background()
	now := time.Now().UTC()

	for _, status := range []store.Status{
		store.StatusSuccess, store.StatusFailedPermanent, store.StatusArchived,
	} {
		evt := newEvent("ev-"+string(status), "t", now)
		evt.Status = status
		require.NoError(t, st.InsertEvent(ctx, evt))

		claimed, err := st.ClaimEvent(ctx, evt.ID, now)
		require.NoError(t, err)
		assert.False(t, claimed, "status %s must not be claimable", status)
	}
}

func TestMemoryStore_ClaimEventMissing(t *testing.T) {
	st := store.NewMemoryStore()
	defer st.Close()

	claimed, err := st.ClaimEvent(context.Background(), "missing", time.Now())
	require.NoError(t, err)
	assert.False(t, claimed)
}

func TestMemoryStore_ClaimEventConcurrent(t *testing.T) {
	st := store.NewMemoryStore()
	defer st.Close()
	ctx := context.Background()
	now := time.Now().UTC()

	require.NoError(t, st.InsertEvent(ctx, newEvent("ev-1", "t", now)))

	const claimants = 32
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
}

func TestMemoryStore_ClaimConsumptionLifecycle(t *testing.T) {
	st := store.NewMemoryStore()
	defer st.Close()
	ctx := context.Background()
	now := time.Now().UTC()

	c, claimed, err := st.ClaimConsumption(ctx, "ev-1", "cons-1", "key-1", now)
	require.NoError(t, err)
	assert.True(t, claimed)
	assert.Equal(t, 1, c.Attempt)
	assert.Equal(t, store.StatusProcessing, c.Status)
	assert.Equal(t, "key-1", c.IdempotencyKey)

	// In-flight row blocks a second claim.
	_, claimed, err = st.ClaimConsumption(ctx, "ev-1", "cons-1", "key-1", now)
	require.NoError(t, err)
	assert.False(t, claimed)

	// After a retryable failure the pair is re-claimable with the attempt
	// incremented and the key unchanged.
	c.Status = store.StatusFailedRetryable
	require.NoError(t, st.UpdateConsumption(ctx, c))

	c2, claimed, err := st.ClaimConsumption(ctx, "ev-1", "cons-1", "other-key", now)
	require.NoError(t, err)
	assert.True(t, claimed)
	assert.Equal(t, 2, c2.Attempt)
	assert.Equal(t, "key-1", c2.IdempotencyKey)
}

func TestMemoryStore_GetConsumptionByKey(t *testing.T) {
	st := store.NewMemoryStore()
	defer st.Close()
	ctx := context.Background()

	_, _, err := st.ClaimConsumption(ctx, "ev-1", "cons-1", "key-1", time.Now())
	require.NoError(t, err)

	c, err := st.GetConsumptionByKey(ctx, "key-1")
	require.NoError(t, err)
	assert.Equal(t, "ev-1", c.EventID)
	assert.Equal(t, "cons-1", c.ConsumerID)

	_, err = st.GetConsumptionByKey(ctx, "missing")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestMemoryStore_ConsumptionsForEvent(t *testing.T) {
	st := store.NewMemoryStore()
	defer st.Close()
	ctx := context.Background()
	now := time.Now()

	_, _, err := st.ClaimConsumption(ctx, "ev-1", "cons-b", "key-b", now)
	require.NoError(t, err)
	_, _, err = st.ClaimConsumption(ctx, "ev-1", "cons-a", "key-a", now)
	require.NoError(t, err)
	_, _, err = st.ClaimConsumption(ctx, "ev-2", "cons-a", "key-c", now)
	require.NoError(t, err)

	out, err := st.ConsumptionsForEvent(ctx, "ev-1")
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Equal(t, "cons-a", out[0].ConsumerID)
	assert.Equal(t, "cons-b", out[1].ConsumerID)
}

func TestMemoryStore_ArchiveEventsBefore(t *testing.T) {
	st := store.NewMemoryStore()
	defer st.Close()
	ctx := context.Background()

	cutoff := time.Date(2026, 8, 20, 0, 0, 0, 0, time.UTC)
	now := cutoff.AddDate(0, 0, 30)

	old := newEvent("ev-old", "t", cutoff.Add(-time.Hour))
	old.Status = store.StatusSuccess
	atCutoff := newEvent("ev-cutoff", "t", cutoff)
	atCutoff.Status = store.StatusSuccess
	oldPending := newEvent("ev-old-pending", "t", cutoff.Add(-time.Hour))
	oldFailed := newEvent("ev-old-failed", "t", cutoff.Add(-2*time.Hour))
	oldFailed.Status = store.StatusFailedPermanent

	for _, e := range []*store.Event{old, atCutoff, oldPending, oldFailed} {
		require.NoError(t, st.InsertEvent(ctx, e))
	}

	n, err := st.ArchiveEventsBefore(ctx, cutoff, now)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	archived, err := st.GetEvent(ctx, "ev-old")
	require.NoError(t, err)
	assert.Equal(t, store.StatusArchived, archived.Status)
	require.NotNil(t, archived.ArchivedAt)

	// Created exactly at the cutoff: retained.
	kept, err := st.GetEvent(ctx, "ev-cutoff")
	require.NoError(t, err)
	assert.Equal(t, store.StatusSuccess, kept.Status)

	// Non-terminal events are never archived regardless of age.
	pending, err := st.GetEvent(ctx, "ev-old-pending")
	require.NoError(t, err)
	assert.Equal(t, store.StatusPending, pending.Status)
}

func TestMemoryStore_RegisterWorkerUpsertByName(t *testing.T) {
	st := store.NewMemoryStore()
	defer st.Close()
	ctx := context.Background()

	first, err := st.RegisterWorker(ctx, store.NewWorker("csv-processor", "csv"))
	require.NoError(t, err)
	require.NotEmpty(t, first.ID)
	assert.Equal(t, store.DefaultMaxRetries, first.MaxRetries)

	// Same name: existing row wins, ID is stable.
	second, err := st.RegisterWorker(ctx, store.NewWorker("csv-processor", "csv"))
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)

	byName, err := st.GetWorkerByName(ctx, "csv-processor")
	require.NoError(t, err)
	assert.Equal(t, first.ID, byName.ID)
}

func TestMemoryStore_UpdateWorker(t *testing.T) {
	st := store.NewMemoryStore()
	defer st.Close()
	ctx := context.Background()

	w, err := st.RegisterWorker(ctx, store.NewWorker("w", "cap"))
	require.NoError(t, err)

	w.MaxRetries = 9
	w.Timeout = 10 * time.Second
	require.NoError(t, st.UpdateWorker(ctx, w))

	reloaded, err := st.GetWorker(ctx, w.ID)
	require.NoError(t, err)
	assert.Equal(t, 9, reloaded.MaxRetries)
	assert.Equal(t, 10*time.Second, reloaded.Timeout)
}

func TestMemoryStore_RecordMetricRollup(t *testing.T) {
	st := store.NewMemoryStore()
	defer st.Close()
	ctx := context.Background()

	require.NoError(t, st.RecordMetric(ctx, "2026-08-29", "t", "cons-1", store.StatusSuccess, 100))
	require.NoError(t, st.RecordMetric(ctx, "2026-08-29", "t", "cons-1", store.StatusSuccess, 300))
	require.NoError(t, st.RecordMetric(ctx, "2026-08-29", "t", "cons-1", store.StatusFailedRetryable, 50))

	metrics, err := st.MetricsRange(ctx, "t", "2026-08-29", "2026-08-29")
	require.NoError(t, err)
	require.Len(t, metrics, 2)

	var success *store.Metric
	for _, m := range metrics {
		if m.Status == store.StatusSuccess {
			success = m
		}
	}
	require.NotNil(t, success)
	assert.Equal(t, int64(2), success.Count)
	assert.Equal(t, int64(400), success.TotalDurationMs)
	assert.Equal(t, int64(200), success.AvgDurationMs)

	count, err := st.DailySuccessCount(ctx, "t", "2026-08-29")
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)
}

func TestMemoryStore_Closed(t *testing.T) {
	st := store.NewMemoryStore()
	require.NoError(t, st.Close())

	_, err := st.GetEvent(context.Background(), "ev-1")
	assert.ErrorIs(t, err, store.ErrStoreClosed)

	err = st.InsertEvent(context.Background(), newEvent("ev-1", "t", time.Now()))
	assert.ErrorIs(t, err, store.ErrStoreClosed)
}
