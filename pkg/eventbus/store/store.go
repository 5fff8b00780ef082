// Package store provides persistent storage for events, consumptions,
// workers, and metric rollups.
//
// Two implementations are provided: MemoryStore for tests and examples,
// and SQLiteStore for single-process production use. Implementations must
// be safe for concurrent use, and the claim operations must be atomic with
// respect to concurrent callers — the claim protocol is the bus's only
// source of mutual exclusion.
package store

import (
	"context"
	"errors"
	"time"
)

// Status is the lifecycle state shared by events and consumptions.
type Status string

// Event and consumption lifecycle states.
const (
	StatusPending         Status = "PENDING"
	StatusProcessing      Status = "PROCESSING"
	StatusSuccess         Status = "SUCCESS"
	StatusFailedRetryable Status = "FAILED_RETRYABLE"
	StatusFailedPermanent Status = "FAILED_PERMANENT"
	StatusArchived        Status = "ARCHIVED"
)

// Claimable reports whether an event in this status may be claimed for
// processing. FAILED_RETRYABLE is claimable so retryable failures can be
// re-dispatched without an intermediate requeue step.
func (s Status) Claimable() bool {
	return s == StatusPending || s == StatusFailedRetryable
}

// Terminal reports whether the status is an end state for normal processing.
func (s Status) Terminal() bool {
	return s == StatusSuccess || s == StatusFailedPermanent || s == StatusArchived
}

// Event is one published occurrence of work. The event ID is immutable and
// globally unique; Status is written only by the bus service.
type Event struct {
	ID            string
	Type          string
	SchemaVersion int
	Payload       []byte
	CorrelationID string
	ParentEventID string
	PartNumber    int // 0 = not a multi-part event
	PartsCount    int
	ProducerID    string

	Status     Status
	RetryCount int

	CreatedAt           time.Time
	UpdatedAt           time.Time
	ProcessingStartedAt *time.Time
	ProcessedAt         *time.Time
	FailedAt            *time.Time
	ArchivedAt          *time.Time

	LastError      string
	LastErrorTrace string
}

// Clone returns an independent copy of the event.
func (e *Event) Clone() *Event {
	c := *e
	c.Payload = append([]byte(nil), e.Payload...)
	c.ProcessingStartedAt = cloneTime(e.ProcessingStartedAt)
	c.ProcessedAt = cloneTime(e.ProcessedAt)
	c.FailedAt = cloneTime(e.FailedAt)
	c.ArchivedAt = cloneTime(e.ArchivedAt)
	return &c
}

// Consumption records one consumer's attempts to process one event.
// At most one row exists per (event, consumer) pair; the idempotency key,
// once set, never changes.
type Consumption struct {
	EventID        string
	ConsumerID     string
	IdempotencyKey string

	Status  Status
	Attempt int

	CreatedAt           time.Time
	ProcessingStartedAt *time.Time
	CompletedAt         *time.Time
	FailedAt            *time.Time

	ErrorMessage string
	ErrorTrace   string
	ResultHash   string
}

// ProcessingDuration is the completion timestamp minus the processing-start
// timestamp, or zero if either is absent.
func (c *Consumption) ProcessingDuration() time.Duration {
	if c.ProcessingStartedAt == nil || c.CompletedAt == nil {
		return 0
	}
	return c.CompletedAt.Sub(*c.ProcessingStartedAt)
}

// Clone returns an independent copy of the consumption.
func (c *Consumption) Clone() *Consumption {
	cp := *c
	cp.ProcessingStartedAt = cloneTime(c.ProcessingStartedAt)
	cp.CompletedAt = cloneTime(c.CompletedAt)
	cp.FailedAt = cloneTime(c.FailedAt)
	return &cp
}

// Worker is a persisted registry entry. Rows are created on first
// registration and reused by name thereafter, so worker identity is stable
// across process restarts.
type Worker struct {
	ID          string
	Name        string
	Description string
	Capability  string // stable identifier of the implementing capability
	Version     int
	Enabled     bool

	MaxRetries int
	RetryDelay time.Duration
	Timeout    time.Duration

	CreatedAt       time.Time
	UpdatedAt       time.Time
	LastExecutionAt *time.Time

	Metadata map[string]string
}

// Default per-worker settings, applied by NewWorker.
const (
	DefaultMaxRetries = 3
	DefaultRetryDelay = 60 * time.Second
	DefaultTimeout    = 300 * time.Second
)

// NewWorker creates a worker entry with default settings. The ID is assigned
// by the store on first registration.
func NewWorker(name, capability string) *Worker {
	return &Worker{
		Name:       name,
		Capability: capability,
		Version:    1,
		Enabled:    true,
		MaxRetries: DefaultMaxRetries,
		RetryDelay: DefaultRetryDelay,
		Timeout:    DefaultTimeout,
	}
}

// Clone returns an independent copy of the worker.
func (w *Worker) Clone() *Worker {
	c := *w
	c.LastExecutionAt = cloneTime(w.LastExecutionAt)
	if w.Metadata != nil {
		c.Metadata = make(map[string]string, len(w.Metadata))
		for k, v := range w.Metadata {
			c.Metadata[k] = v
		}
	}
	return &c
}

// Metric is a daily rollup keyed by (date, event type, consumer, status).
// Date is a UTC calendar day in "2006-01-02" form.
type Metric struct {
	Date       string
	EventType  string
	ConsumerID string
	Status     Status

	Count           int64
	TotalDurationMs int64
	AvgDurationMs   int64

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Day formats a timestamp as the UTC calendar day used for metric keys.
func Day(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}

// Sentinel errors for store operations.
var (
	// ErrNotFound indicates the requested row doesn't exist.
	ErrNotFound = errors.New("store: not found")

	// ErrStoreClosed indicates the store has been closed.
	ErrStoreClosed = errors.New("store: closed")
)

// Store persists the event bus state. Implementations must be safe for
// concurrent use.
type Store interface {
	// InsertEvent stores a new event. The event ID must be unique.
	InsertEvent(ctx context.Context, evt *Event) error

	// GetEvent returns the event with the given ID, or ErrNotFound.
	GetEvent(ctx context.Context, eventID string) (*Event, error)

	// UpdateEvent overwrites the stored event row.
	// Returns ErrNotFound if the event doesn't exist.
	UpdateEvent(ctx context.Context, evt *Event) error

	// PendingEvents returns PENDING events of the given type in ascending
	// creation order, at most limit rows.
	PendingEvents(ctx context.Context, eventType string, limit int) ([]*Event, error)

	// ClaimEvent atomically transitions the event to PROCESSING if its
	// current status is claimable (PENDING or FAILED_RETRYABLE), stamping
	// the processing-started time. Returns false if the event is missing,
	// already claimed, or terminal. The check-and-set is serialized across
	// concurrent callers.
	ClaimEvent(ctx context.Context, eventID string, now time.Time) (bool, error)

	// ArchiveEventsBefore bulk-transitions SUCCESS and FAILED_PERMANENT
	// events created strictly before cutoff to ARCHIVED, stamping archivedAt
	// with now. Returns the number of events archived.
	ArchiveEventsBefore(ctx context.Context, cutoff, now time.Time) (int, error)

	// ClaimConsumption loads or creates the consumption row for the
	// (event, consumer) pair as part of a claim. A missing row is created at
	// attempt 1 with the supplied idempotency key. An existing PROCESSING
	// row means a concurrent claim won; the row is returned with claimed ==
	// false. Otherwise the attempt number is incremented, the
	// processing-started time re-stamped, and the key set only if absent.
	ClaimConsumption(ctx context.Context, eventID, consumerID, idempotencyKey string, now time.Time) (c *Consumption, claimed bool, err error)

	// GetConsumption returns the row for the (event, consumer) pair,
	// or ErrNotFound.
	GetConsumption(ctx context.Context, eventID, consumerID string) (*Consumption, error)

	// GetConsumptionByKey returns the row with the given idempotency key,
	// or ErrNotFound.
	GetConsumptionByKey(ctx context.Context, idempotencyKey string) (*Consumption, error)

	// UpdateConsumption overwrites the row for (EventID, ConsumerID).
	// Returns ErrNotFound if the row doesn't exist.
	UpdateConsumption(ctx context.Context, c *Consumption) error

	// ConsumptionsForEvent returns all consumption rows for an event,
	// for audit. Returns an empty slice if none exist.
	ConsumptionsForEvent(ctx context.Context, eventID string) ([]*Consumption, error)

	// RegisterWorker upserts a worker by name: an existing row is returned
	// unchanged, otherwise the worker is inserted with a freshly assigned ID.
	RegisterWorker(ctx context.Context, w *Worker) (*Worker, error)

	// GetWorker returns the worker with the given ID, or ErrNotFound.
	GetWorker(ctx context.Context, workerID string) (*Worker, error)

	// GetWorkerByName returns the worker with the given name, or ErrNotFound.
	GetWorkerByName(ctx context.Context, name string) (*Worker, error)

	// UpdateWorker overwrites the stored worker row.
	// Returns ErrNotFound if the worker doesn't exist.
	UpdateWorker(ctx context.Context, w *Worker) error

	// RecordMetric increments the rollup row for the key, creating it on
	// first occurrence, adding durationMs to the total and recomputing the
	// average as total/count.
	RecordMetric(ctx context.Context, date, eventType, consumerID string, status Status, durationMs int64) error

	// MetricsRange returns rollups for an event type across an inclusive
	// date range, ordered by date.
	MetricsRange(ctx context.Context, eventType, fromDate, toDate string) ([]*Metric, error)

	// DailySuccessCount returns the SUCCESS event count for a type on a day.
	// Returns zero if no rollup exists.
	DailySuccessCount(ctx context.Context, eventType, date string) (int64, error)

	// Close releases any resources (connections, files).
	Close() error
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	c := *t
	return &c
}
