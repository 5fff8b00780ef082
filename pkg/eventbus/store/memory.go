package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore is an in-memory store for testing and examples.
// Data is lost when the process exits.
type MemoryStore struct {
	mu     sync.Mutex
	closed bool

	nextSeq      int64
	events       map[string]*storedEvent
	consumptions map[consumptionKey]*Consumption
	byIdemKey    map[string]consumptionKey
	workers      map[string]*Worker // by ID
	workerNames  map[string]string  // name -> ID
	metrics      map[metricKey]*Metric
}

// storedEvent tracks insertion order so PendingEvents can break
// created-at ties deterministically.
type storedEvent struct {
	evt *Event
	seq int64
}

type consumptionKey struct {
	eventID    string
	consumerID string
}

type metricKey struct {
	date       string
	eventType  string
	consumerID string
	status     Status
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		events:       make(map[string]*storedEvent),
		consumptions: make(map[consumptionKey]*Consumption),
		byIdemKey:    make(map[string]consumptionKey),
		workers:      make(map[string]*Worker),
		workerNames:  make(map[string]string),
		metrics:      make(map[metricKey]*Metric),
	}
}

// InsertEvent implements Store.
func (m *MemoryStore) InsertEvent(_ context.Context, evt *Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrStoreClosed
	}

	m.nextSeq++
	m.events[evt.ID] = &storedEvent{evt: evt.Clone(), seq: m.nextSeq}
	return nil
}

// GetEvent implements Store.
func (m *MemoryStore) GetEvent(_ context.Context, eventID string) (*Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, ErrStoreClosed
	}

	se, ok := m.events[eventID]
	if !ok {
		return nil, ErrNotFound
	}
	return se.evt.Clone(), nil
}

// UpdateEvent implements Store.
func (m *MemoryStore) UpdateEvent(_ context.Context, evt *Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrStoreClosed
	}

	se, ok := m.events[evt.ID]
	if !ok {
		return ErrNotFound
	}
	se.evt = evt.Clone()
	return nil
}

// PendingEvents implements Store.
func (m *MemoryStore) PendingEvents(_ context.Context, eventType string, limit int) ([]*Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, ErrStoreClosed
	}

	matched := make([]*storedEvent, 0)
	for _, se := range m.events {
		if se.evt.Type == eventType && se.evt.Status == StatusPending {
			matched = append(matched, se)
		}
	}
	sort.Slice(matched, func(i, j int) bool {
		if matched[i].evt.CreatedAt.Equal(matched[j].evt.CreatedAt) {
			return matched[i].seq < matched[j].seq
		}
		return matched[i].evt.CreatedAt.Before(matched[j].evt.CreatedAt)
	})

	if limit > 0 && len(matched) > limit {
		matched = matched[:limit]
	}
	out := make([]*Event, len(matched))
	for i, se := range matched {
		out[i] = se.evt.Clone()
	}
	return out, nil
}

// ClaimEvent implements Store. The check-and-set happens under the store
// mutex, so exactly one concurrent claimant wins.
func (m *MemoryStore) ClaimEvent(_ context.Context, eventID string, now time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return false, ErrStoreClosed
	}

	se, ok := m.events[eventID]
	if !ok || !se.evt.Status.Claimable() {
		return false, nil
	}

	started := now
	se.evt.Status = StatusProcessing
	se.evt.ProcessingStartedAt = &started
	se.evt.UpdatedAt = now
	return true, nil
}

// ArchiveEventsBefore implements Store.
func (m *MemoryStore) ArchiveEventsBefore(_ context.Context, cutoff, now time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return 0, ErrStoreClosed
	}

	count := 0
	for _, se := range m.events {
		if se.evt.Status != StatusSuccess && se.evt.Status != StatusFailedPermanent {
			continue
		}
		if !se.evt.CreatedAt.Before(cutoff) {
			continue
		}
		archived := now
		se.evt.Status = StatusArchived
		se.evt.ArchivedAt = &archived
		se.evt.UpdatedAt = now
		count++
	}
	return count, nil
}

// ClaimConsumption implements Store.
func (m *MemoryStore) ClaimConsumption(_ context.Context, eventID, consumerID, idempotencyKey string, now time.Time) (*Consumption, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, false, ErrStoreClosed
	}

	key := consumptionKey{eventID: eventID, consumerID: consumerID}
	existing, ok := m.consumptions[key]
	if !ok {
		started := now
		c := &Consumption{
			EventID:             eventID,
			ConsumerID:          consumerID,
			IdempotencyKey:      idempotencyKey,
			Status:              StatusProcessing,
			Attempt:             1,
			CreatedAt:           now,
			ProcessingStartedAt: &started,
		}
		m.consumptions[key] = c
		m.byIdemKey[idempotencyKey] = key
		return c.Clone(), true, nil
	}

	if existing.Status == StatusProcessing {
		return existing.Clone(), false, nil
	}

	started := now
	existing.Status = StatusProcessing
	existing.Attempt++
	existing.ProcessingStartedAt = &started
	if existing.IdempotencyKey == "" {
		existing.IdempotencyKey = idempotencyKey
		m.byIdemKey[idempotencyKey] = key
	}
	return existing.Clone(), true, nil
}

// GetConsumption implements Store.
func (m *MemoryStore) GetConsumption(_ context.Context, eventID, consumerID string) (*Consumption, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, ErrStoreClosed
	}

	c, ok := m.consumptions[consumptionKey{eventID: eventID, consumerID: consumerID}]
	if !ok {
		return nil, ErrNotFound
	}
	return c.Clone(), nil
}

// GetConsumptionByKey implements Store.
func (m *MemoryStore) GetConsumptionByKey(_ context.Context, idempotencyKey string) (*Consumption, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, ErrStoreClosed
	}

	key, ok := m.byIdemKey[idempotencyKey]
	if !ok {
		return nil, ErrNotFound
	}
	return m.consumptions[key].Clone(), nil
}

// UpdateConsumption implements Store.
func (m *MemoryStore) UpdateConsumption(_ context.Context, c *Consumption) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrStoreClosed
	}

	key := consumptionKey{eventID: c.EventID, consumerID: c.ConsumerID}
	if _, ok := m.consumptions[key]; !ok {
		return ErrNotFound
	}
	m.consumptions[key] = c.Clone()
	if c.IdempotencyKey != "" {
		m.byIdemKey[c.IdempotencyKey] = key
	}
	return nil
}

// ConsumptionsForEvent implements Store.
func (m *MemoryStore) ConsumptionsForEvent(_ context.Context, eventID string) ([]*Consumption, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, ErrStoreClosed
	}

	out := make([]*Consumption, 0)
	for key, c := range m.consumptions {
		if key.eventID == eventID {
			out = append(out, c.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ConsumerID < out[j].ConsumerID })
	return out, nil
}

// RegisterWorker implements Store.
func (m *MemoryStore) RegisterWorker(_ context.Context, w *Worker) (*Worker, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, ErrStoreClosed
	}

	if id, ok := m.workerNames[w.Name]; ok {
		return m.workers[id].Clone(), nil
	}

	stored := w.Clone()
	if stored.ID == "" {
		stored.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	stored.CreatedAt = now
	stored.UpdatedAt = now
	m.workers[stored.ID] = stored
	m.workerNames[stored.Name] = stored.ID
	return stored.Clone(), nil
}

// GetWorker implements Store.
func (m *MemoryStore) GetWorker(_ context.Context, workerID string) (*Worker, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, ErrStoreClosed
	}

	w, ok := m.workers[workerID]
	if !ok {
		return nil, ErrNotFound
	}
	return w.Clone(), nil
}

// GetWorkerByName implements Store.
func (m *MemoryStore) GetWorkerByName(_ context.Context, name string) (*Worker, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, ErrStoreClosed
	}

	id, ok := m.workerNames[name]
	if !ok {
		return nil, ErrNotFound
	}
	return m.workers[id].Clone(), nil
}

// UpdateWorker implements Store.
func (m *MemoryStore) UpdateWorker(_ context.Context, w *Worker) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrStoreClosed
	}

	existing, ok := m.workers[w.ID]
	if !ok {
		return ErrNotFound
	}
	updated := w.Clone()
	updated.UpdatedAt = time.Now().UTC()
	m.workers[w.ID] = updated
	m.workerNames[updated.Name] = w.ID
	if existing.Name != updated.Name {
		delete(m.workerNames, existing.Name)
	}
	return nil
}

// RecordMetric implements Store.
func (m *MemoryStore) RecordMetric(_ context.Context, date, eventType, consumerID string, status Status, durationMs int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrStoreClosed
	}

	key := metricKey{date: date, eventType: eventType, consumerID: consumerID, status: status}
	now := time.Now().UTC()
	metric, ok := m.metrics[key]
	if !ok {
		metric = &Metric{
			Date:       date,
			EventType:  eventType,
			ConsumerID: consumerID,
			Status:     status,
			CreatedAt:  now,
		}
		m.metrics[key] = metric
	}
	metric.Count++
	metric.TotalDurationMs += durationMs
	metric.AvgDurationMs = metric.TotalDurationMs / metric.Count
	metric.UpdatedAt = now
	return nil
}

// MetricsRange implements Store.
func (m *MemoryStore) MetricsRange(_ context.Context, eventType, fromDate, toDate string) ([]*Metric, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, ErrStoreClosed
	}

	out := make([]*Metric, 0)
	for _, metric := range m.metrics {
		if metric.EventType != eventType {
			continue
		}
		if metric.Date < fromDate || metric.Date > toDate {
			continue
		}
		c := *metric
		out = append(out, &c)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Date != out[j].Date {
			return out[i].Date < out[j].Date
		}
		return out[i].ConsumerID < out[j].ConsumerID
	})
	return out, nil
}

// DailySuccessCount implements Store.
func (m *MemoryStore) DailySuccessCount(_ context.Context, eventType, date string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return 0, ErrStoreClosed
	}

	var total int64
	for _, metric := range m.metrics {
		if metric.EventType == eventType && metric.Date == date && metric.Status == StatusSuccess {
			total += metric.Count
		}
	}
	return total, nil
}

// Close implements Store.
func (m *MemoryStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.closed = true
	m.events = nil
	m.consumptions = nil
	m.byIdemKey = nil
	m.workers = nil
	m.workerNames = nil
	m.metrics = nil
	return nil
}

// EventCount returns the total number of stored events. Useful for testing.
func (m *MemoryStore) EventCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.events)
}
