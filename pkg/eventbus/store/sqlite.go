package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite" // Pure Go SQLite driver
)

// SQLiteStore persists the event bus to SQLite.
// It is suitable for single-process production use.
type SQLiteStore struct {
	db     *sql.DB
	mu     sync.Mutex
	closed bool
}

// Timestamps are stored as integer Unix nanoseconds so range scans and
// oldest-first ordering compare correctly.
const sqliteSchema = `
CREATE TABLE IF NOT EXISTS events (
	event_id              TEXT PRIMARY KEY,
	event_type            TEXT NOT NULL,
	schema_version        INTEGER NOT NULL DEFAULT 1,
	payload               BLOB,
	correlation_id        TEXT NOT NULL DEFAULT '',
	parent_event_id       TEXT NOT NULL DEFAULT '',
	part_number           INTEGER NOT NULL DEFAULT 0,
	parts_count           INTEGER NOT NULL DEFAULT 0,
	producer_id           TEXT NOT NULL DEFAULT '',
	status                TEXT NOT NULL,
	retry_count           INTEGER NOT NULL DEFAULT 0,
	created_at            INTEGER NOT NULL,
	updated_at            INTEGER NOT NULL,
	processing_started_at INTEGER,
	processed_at          INTEGER,
	failed_at             INTEGER,
	archived_at           INTEGER,
	last_error            TEXT NOT NULL DEFAULT '',
	last_error_trace      TEXT NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_events_type_status_created
	ON events(event_type, status, created_at);

CREATE TABLE IF NOT EXISTS consumptions (
	event_id              TEXT NOT NULL,
	consumer_id           TEXT NOT NULL,
	idempotency_key       TEXT NOT NULL,
	status                TEXT NOT NULL,
	attempt               INTEGER NOT NULL,
	created_at            INTEGER NOT NULL,
	processing_started_at INTEGER,
	completed_at          INTEGER,
	failed_at             INTEGER,
	error_message         TEXT NOT NULL DEFAULT '',
	error_trace           TEXT NOT NULL DEFAULT '',
	result_hash           TEXT NOT NULL DEFAULT '',
	PRIMARY KEY (event_id, consumer_id)
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_consumptions_idempotency_key
	ON consumptions(idempotency_key);

CREATE TABLE IF NOT EXISTS workers (
	worker_id           TEXT PRIMARY KEY,
	worker_name         TEXT NOT NULL UNIQUE,
	description         TEXT NOT NULL DEFAULT '',
	capability          TEXT NOT NULL,
	version             INTEGER NOT NULL DEFAULT 1,
	enabled             INTEGER NOT NULL DEFAULT 1,
	max_retries         INTEGER NOT NULL,
	retry_delay_seconds INTEGER NOT NULL,
	timeout_seconds     INTEGER NOT NULL,
	created_at          INTEGER NOT NULL,
	updated_at          INTEGER NOT NULL,
	last_execution_at   INTEGER,
	metadata            TEXT NOT NULL DEFAULT '{}'
);

CREATE TABLE IF NOT EXISTS event_metrics (
	metric_date       TEXT NOT NULL,
	event_type        TEXT NOT NULL,
	consumer_id       TEXT NOT NULL,
	status            TEXT NOT NULL,
	event_count       INTEGER NOT NULL DEFAULT 0,
	total_duration_ms INTEGER NOT NULL DEFAULT 0,
	avg_duration_ms   INTEGER NOT NULL DEFAULT 0,
	created_at        INTEGER NOT NULL,
	updated_at        INTEGER NOT NULL,
	PRIMARY KEY (metric_date, event_type, consumer_id, status)
);
`

// NewSQLiteStore creates a new SQLite-backed store.
// The path should be a file path (e.g., "./eventbus.db") or ":memory:" for testing.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// Enable WAL mode for better concurrent read performance
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}

	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// InsertEvent implements Store.
func (s *SQLiteStore) InsertEvent(ctx context.Context, evt *Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO events (
			event_id, event_type, schema_version, payload, correlation_id,
			parent_event_id, part_number, parts_count, producer_id, status,
			retry_count, created_at, updated_at, processing_started_at,
			processed_at, failed_at, archived_at, last_error, last_error_trace
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		evt.ID, evt.Type, evt.SchemaVersion, evt.Payload, evt.CorrelationID,
		evt.ParentEventID, evt.PartNumber, evt.PartsCount, evt.ProducerID, string(evt.Status),
		evt.RetryCount, ts(evt.CreatedAt), ts(evt.UpdatedAt), nts(evt.ProcessingStartedAt),
		nts(evt.ProcessedAt), nts(evt.FailedAt), nts(evt.ArchivedAt), evt.LastError, evt.LastErrorTrace,
	)
	if err != nil {
		return fmt.Errorf("insert event: %w", err)
	}
	return nil
}

// GetEvent implements Store.
func (s *SQLiteStore) GetEvent(ctx context.Context, eventID string) (*Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, ErrStoreClosed
	}

	row := s.db.QueryRowContext(ctx, selectEvent+` WHERE event_id = ?`, eventID)
	return scanEvent(row)
}

// UpdateEvent implements Store.
func (s *SQLiteStore) UpdateEvent(ctx context.Context, evt *Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE events SET
			event_type = ?, schema_version = ?, payload = ?, correlation_id = ?,
			parent_event_id = ?, part_number = ?, parts_count = ?, producer_id = ?,
			status = ?, retry_count = ?, updated_at = ?, processing_started_at = ?,
			processed_at = ?, failed_at = ?, archived_at = ?, last_error = ?,
			last_error_trace = ?
		WHERE event_id = ?
	`,
		evt.Type, evt.SchemaVersion, evt.Payload, evt.CorrelationID,
		evt.ParentEventID, evt.PartNumber, evt.PartsCount, evt.ProducerID,
		string(evt.Status), evt.RetryCount, ts(evt.UpdatedAt), nts(evt.ProcessingStartedAt),
		nts(evt.ProcessedAt), nts(evt.FailedAt), nts(evt.ArchivedAt), evt.LastError,
		evt.LastErrorTrace, evt.ID,
	)
	if err != nil {
		return fmt.Errorf("update event: %w", err)
	}
	return requireRow(res)
}

// PendingEvents implements Store.
func (s *SQLiteStore) PendingEvents(ctx context.Context, eventType string, limit int) ([]*Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, ErrStoreClosed
	}

	rows, err := s.db.QueryContext(ctx, selectEvent+`
		WHERE event_type = ? AND status = ?
		ORDER BY created_at ASC, rowid ASC
		LIMIT ?
	`, eventType, string(StatusPending), limit)
	if err != nil {
		return nil, fmt.Errorf("query pending events: %w", err)
	}
	defer rows.Close()

	events := make([]*Event, 0)
	for rows.Next() {
		evt, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, evt)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate pending events: %w", err)
	}
	return events, nil
}

// ClaimEvent implements Store. The claim is a single conditional UPDATE, so
// SQLite's write lock serializes concurrent claimants: exactly one sees a
// claimable row.
func (s *SQLiteStore) ClaimEvent(ctx context.Context, eventID string, now time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return false, ErrStoreClosed
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE events SET status = ?, processing_started_at = ?, updated_at = ?
		WHERE event_id = ? AND status IN (?, ?)
	`, string(StatusProcessing), ts(now), ts(now), eventID,
		string(StatusPending), string(StatusFailedRetryable))
	if err != nil {
		return false, fmt.Errorf("claim event: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("claim event rows: %w", err)
	}
	return n == 1, nil
}

// ArchiveEventsBefore implements Store.
func (s *SQLiteStore) ArchiveEventsBefore(ctx context.Context, cutoff, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return 0, ErrStoreClosed
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE events SET status = ?, archived_at = ?, updated_at = ?
		WHERE status IN (?, ?) AND created_at < ?
	`, string(StatusArchived), ts(now), ts(now),
		string(StatusSuccess), string(StatusFailedPermanent), ts(cutoff))
	if err != nil {
		return 0, fmt.Errorf("archive events: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("archive events rows: %w", err)
	}
	return int(n), nil
}

// ClaimConsumption implements Store. Runs in a transaction so the
// load-or-create and attempt increment are atomic.
func (s *SQLiteStore) ClaimConsumption(ctx context.Context, eventID, consumerID, idempotencyKey string, now time.Time) (*Consumption, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, false, ErrStoreClosed
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, false, fmt.Errorf("begin claim transaction: %w", err)
	}
	defer tx.Rollback()

	row := tx.QueryRowContext(ctx, selectConsumption+` WHERE event_id = ? AND consumer_id = ?`,
		eventID, consumerID)
	existing, err := scanConsumption(row)
	switch {
	case err == ErrNotFound:
		c := &Consumption{
			EventID:             eventID,
			ConsumerID:          consumerID,
			IdempotencyKey:      idempotencyKey,
			Status:              StatusProcessing,
			Attempt:             1,
			CreatedAt:           now.UTC(),
			ProcessingStartedAt: timePtr(now),
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO consumptions (
				event_id, consumer_id, idempotency_key, status, attempt,
				created_at, processing_started_at
			) VALUES (?, ?, ?, ?, ?, ?, ?)
		`, eventID, consumerID, idempotencyKey, string(StatusProcessing), 1, ts(now), ts(now))
		if err != nil {
			return nil, false, fmt.Errorf("insert consumption: %w", err)
		}
		if err := tx.Commit(); err != nil {
			return nil, false, fmt.Errorf("commit claim: %w", err)
		}
		return c, true, nil

	case err != nil:
		return nil, false, err
	}

	if existing.Status == StatusProcessing {
		return existing, false, nil
	}

	existing.Status = StatusProcessing
	existing.Attempt++
	existing.ProcessingStartedAt = timePtr(now)
	if existing.IdempotencyKey == "" {
		existing.IdempotencyKey = idempotencyKey
	}
	_, err = tx.ExecContext(ctx, `
		UPDATE consumptions SET status = ?, attempt = ?, processing_started_at = ?, idempotency_key = ?
		WHERE event_id = ? AND consumer_id = ?
	`, string(StatusProcessing), existing.Attempt, ts(now), existing.IdempotencyKey,
		eventID, consumerID)
	if err != nil {
		return nil, false, fmt.Errorf("update consumption claim: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, false, fmt.Errorf("commit claim: %w", err)
	}
	return existing, true, nil
}

// GetConsumption implements Store.
func (s *SQLiteStore) GetConsumption(ctx context.Context, eventID, consumerID string) (*Consumption, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, ErrStoreClosed
	}

	row := s.db.QueryRowContext(ctx, selectConsumption+` WHERE event_id = ? AND consumer_id = ?`,
		eventID, consumerID)
	return scanConsumption(row)
}

// GetConsumptionByKey implements Store.
func (s *SQLiteStore) GetConsumptionByKey(ctx context.Context, idempotencyKey string) (*Consumption, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, ErrStoreClosed
	}

	row := s.db.QueryRowContext(ctx, selectConsumption+` WHERE idempotency_key = ?`, idempotencyKey)
	return scanConsumption(row)
}

// UpdateConsumption implements Store.
func (s *SQLiteStore) UpdateConsumption(ctx context.Context, c *Consumption) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE consumptions SET
			idempotency_key = ?, status = ?, attempt = ?, processing_started_at = ?,
			completed_at = ?, failed_at = ?, error_message = ?, error_trace = ?,
			result_hash = ?
		WHERE event_id = ? AND consumer_id = ?
	`,
		c.IdempotencyKey, string(c.Status), c.Attempt, nts(c.ProcessingStartedAt),
		nts(c.CompletedAt), nts(c.FailedAt), c.ErrorMessage, c.ErrorTrace,
		c.ResultHash, c.EventID, c.ConsumerID,
	)
	if err != nil {
		return fmt.Errorf("update consumption: %w", err)
	}
	return requireRow(res)
}

// ConsumptionsForEvent implements Store.
func (s *SQLiteStore) ConsumptionsForEvent(ctx context.Context, eventID string) ([]*Consumption, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, ErrStoreClosed
	}

	rows, err := s.db.QueryContext(ctx, selectConsumption+` WHERE event_id = ? ORDER BY consumer_id`, eventID)
	if err != nil {
		return nil, fmt.Errorf("query consumptions: %w", err)
	}
	defer rows.Close()

	out := make([]*Consumption, 0)
	for rows.Next() {
		c, err := scanConsumption(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate consumptions: %w", err)
	}
	return out, nil
}

// RegisterWorker implements Store.
func (s *SQLiteStore) RegisterWorker(ctx context.Context, w *Worker) (*Worker, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, ErrStoreClosed
	}

	row := s.db.QueryRowContext(ctx, selectWorker+` WHERE worker_name = ?`, w.Name)
	existing, err := scanWorker(row)
	if err == nil {
		return existing, nil
	}
	if err != ErrNotFound {
		return nil, err
	}

	stored := w.Clone()
	if stored.ID == "" {
		stored.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	stored.CreatedAt = now
	stored.UpdatedAt = now

	meta, err := json.Marshal(stored.Metadata)
	if err != nil {
		return nil, fmt.Errorf("marshal worker metadata: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO workers (
			worker_id, worker_name, description, capability, version, enabled,
			max_retries, retry_delay_seconds, timeout_seconds, created_at,
			updated_at, last_execution_at, metadata
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		stored.ID, stored.Name, stored.Description, stored.Capability, stored.Version,
		boolInt(stored.Enabled), stored.MaxRetries, int(stored.RetryDelay.Seconds()),
		int(stored.Timeout.Seconds()), ts(stored.CreatedAt), ts(stored.UpdatedAt),
		nts(stored.LastExecutionAt), string(meta),
	)
	if err != nil {
		return nil, fmt.Errorf("insert worker: %w", err)
	}
	return stored.Clone(), nil
}

// GetWorker implements Store.
func (s *SQLiteStore) GetWorker(ctx context.Context, workerID string) (*Worker, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, ErrStoreClosed
	}

	row := s.db.QueryRowContext(ctx, selectWorker+` WHERE worker_id = ?`, workerID)
	return scanWorker(row)
}

// GetWorkerByName implements Store.
func (s *SQLiteStore) GetWorkerByName(ctx context.Context, name string) (*Worker, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, ErrStoreClosed
	}

	row := s.db.QueryRowContext(ctx, selectWorker+` WHERE worker_name = ?`, name)
	return scanWorker(row)
}

// UpdateWorker implements Store.
func (s *SQLiteStore) UpdateWorker(ctx context.Context, w *Worker) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}

	meta, err := json.Marshal(w.Metadata)
	if err != nil {
		return fmt.Errorf("marshal worker metadata: %w", err)
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE workers SET
			worker_name = ?, description = ?, capability = ?, version = ?,
			enabled = ?, max_retries = ?, retry_delay_seconds = ?,
			timeout_seconds = ?, updated_at = ?, last_execution_at = ?, metadata = ?
		WHERE worker_id = ?
	`,
		w.Name, w.Description, w.Capability, w.Version,
		boolInt(w.Enabled), w.MaxRetries, int(w.RetryDelay.Seconds()),
		int(w.Timeout.Seconds()), ts(time.Now()), nts(w.LastExecutionAt), string(meta),
		w.ID,
	)
	if err != nil {
		return fmt.Errorf("update worker: %w", err)
	}
	return requireRow(res)
}

// RecordMetric implements Store. The find-or-create plus increment runs as a
// single upsert; in DO UPDATE the unqualified columns are the pre-update
// values, so the average is (total + d) / (count + 1).
func (s *SQLiteStore) RecordMetric(ctx context.Context, date, eventType, consumerID string, status Status, durationMs int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}

	now := ts(time.Now())
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO event_metrics (
			metric_date, event_type, consumer_id, status, event_count,
			total_duration_ms, avg_duration_ms, created_at, updated_at
		) VALUES (?, ?, ?, ?, 1, ?, ?, ?, ?)
		ON CONFLICT(metric_date, event_type, consumer_id, status) DO UPDATE SET
			event_count = event_count + 1,
			total_duration_ms = total_duration_ms + excluded.total_duration_ms,
			avg_duration_ms = (total_duration_ms + excluded.total_duration_ms) / (event_count + 1),
			updated_at = excluded.updated_at
	`, date, eventType, consumerID, string(status), durationMs, durationMs, now, now)
	if err != nil {
		return fmt.Errorf("record metric: %w", err)
	}
	return nil
}

// MetricsRange implements Store.
func (s *SQLiteStore) MetricsRange(ctx context.Context, eventType, fromDate, toDate string) ([]*Metric, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, ErrStoreClosed
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT metric_date, event_type, consumer_id, status, event_count,
			total_duration_ms, avg_duration_ms, created_at, updated_at
		FROM event_metrics
		WHERE event_type = ? AND metric_date BETWEEN ? AND ?
		ORDER BY metric_date, consumer_id
	`, eventType, fromDate, toDate)
	if err != nil {
		return nil, fmt.Errorf("query metrics: %w", err)
	}
	defer rows.Close()

	out := make([]*Metric, 0)
	for rows.Next() {
		var m Metric
		var status string
		var created, updated int64
		if err := rows.Scan(&m.Date, &m.EventType, &m.ConsumerID, &status,
			&m.Count, &m.TotalDurationMs, &m.AvgDurationMs, &created, &updated); err != nil {
			return nil, fmt.Errorf("scan metric: %w", err)
		}
		m.Status = Status(status)
		m.CreatedAt = fromTs(created)
		m.UpdatedAt = fromTs(updated)
		out = append(out, &m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate metrics: %w", err)
	}
	return out, nil
}

// DailySuccessCount implements Store.
func (s *SQLiteStore) DailySuccessCount(ctx context.Context, eventType, date string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return 0, ErrStoreClosed
	}

	var count int64
	err := s.db.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(event_count), 0) FROM event_metrics
		WHERE event_type = ? AND metric_date = ? AND status = ?
	`, eventType, date, string(StatusSuccess)).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("daily success count: %w", err)
	}
	return count, nil
}

// Close implements Store.
func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}

// scanning helpers

const selectEvent = `
	SELECT event_id, event_type, schema_version, payload, correlation_id,
		parent_event_id, part_number, parts_count, producer_id, status,
		retry_count, created_at, updated_at, processing_started_at,
		processed_at, failed_at, archived_at, last_error, last_error_trace
	FROM events`

const selectConsumption = `
	SELECT event_id, consumer_id, idempotency_key, status, attempt, created_at,
		processing_started_at, completed_at, failed_at, error_message,
		error_trace, result_hash
	FROM consumptions`

const selectWorker = `
	SELECT worker_id, worker_name, description, capability, version, enabled,
		max_retries, retry_delay_seconds, timeout_seconds, created_at,
		updated_at, last_execution_at, metadata
	FROM workers`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEvent(row rowScanner) (*Event, error) {
	var evt Event
	var status string
	var created, updated int64
	var started, processed, failed, archived sql.NullInt64
	err := row.Scan(&evt.ID, &evt.Type, &evt.SchemaVersion, &evt.Payload, &evt.CorrelationID,
		&evt.ParentEventID, &evt.PartNumber, &evt.PartsCount, &evt.ProducerID, &status,
		&evt.RetryCount, &created, &updated, &started,
		&processed, &failed, &archived, &evt.LastError, &evt.LastErrorTrace)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan event: %w", err)
	}
	evt.Status = Status(status)
	evt.CreatedAt = fromTs(created)
	evt.UpdatedAt = fromTs(updated)
	evt.ProcessingStartedAt = fromNts(started)
	evt.ProcessedAt = fromNts(processed)
	evt.FailedAt = fromNts(failed)
	evt.ArchivedAt = fromNts(archived)
	return &evt, nil
}

func scanConsumption(row rowScanner) (*Consumption, error) {
	var c Consumption
	var status string
	var created int64
	var started, completed, failed sql.NullInt64
	err := row.Scan(&c.EventID, &c.ConsumerID, &c.IdempotencyKey, &status, &c.Attempt, &created,
		&started, &completed, &failed, &c.ErrorMessage, &c.ErrorTrace, &c.ResultHash)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan consumption: %w", err)
	}
	c.Status = Status(status)
	c.CreatedAt = fromTs(created)
	c.ProcessingStartedAt = fromNts(started)
	c.CompletedAt = fromNts(completed)
	c.FailedAt = fromNts(failed)
	return &c, nil
}

func scanWorker(row rowScanner) (*Worker, error) {
	var w Worker
	var enabled, retryDelay, timeout int
	var created, updated int64
	var lastExec sql.NullInt64
	var meta string
	err := row.Scan(&w.ID, &w.Name, &w.Description, &w.Capability, &w.Version, &enabled,
		&w.MaxRetries, &retryDelay, &timeout, &created, &updated, &lastExec, &meta)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan worker: %w", err)
	}
	w.Enabled = enabled != 0
	w.RetryDelay = time.Duration(retryDelay) * time.Second
	w.Timeout = time.Duration(timeout) * time.Second
	w.CreatedAt = fromTs(created)
	w.UpdatedAt = fromTs(updated)
	w.LastExecutionAt = fromNts(lastExec)
	if meta != "" && meta != "{}" {
		if err := json.Unmarshal([]byte(meta), &w.Metadata); err != nil {
			return nil, fmt.Errorf("unmarshal worker metadata: %w", err)
		}
	}
	return &w, nil
}

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func ts(t time.Time) int64 {
	return t.UTC().UnixNano()
}

func fromTs(n int64) time.Time {
	return time.Unix(0, n).UTC()
}

func nts(t *time.Time) any {
	if t == nil {
		return nil
	}
	return ts(*t)
}

func fromNts(n sql.NullInt64) *time.Time {
	if !n.Valid {
		return nil
	}
	t := fromTs(n.Int64)
	return &t
}

func timePtr(t time.Time) *time.Time {
	u := t.UTC()
	return &u
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
