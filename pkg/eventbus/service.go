package eventbus

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/randalmurphal/eventbus/pkg/eventbus/observability"
	"github.com/randalmurphal/eventbus/pkg/eventbus/store"
)

// pollBatchCeiling is the internal cap on a single pending-events fetch.
// Poll never returns more rows than this regardless of the caller's limit.
const pollBatchCeiling = 100

// Service owns the event and consumption state machine: publish, poll,
// claim, success/failure recording, replay, and archival. It is the only
// writer of event and consumption status fields.
//
// Service is safe for concurrent use; the underlying store's claim
// operations provide the mutual exclusion.
type Service struct {
	store    store.Store
	idem     *Idempotency
	metrics  *Metrics
	codec    Codec
	logger   *slog.Logger
	recorder observability.MetricsRecorder
}

// ServiceOption configures a Service.
type ServiceOption func(*Service)

// WithCodec sets the payload codec. Default: JSONCodec.
func WithCodec(c Codec) ServiceOption {
	return func(s *Service) {
		s.codec = c
	}
}

// WithLogger sets the logger. Default: no logging.
func WithLogger(l *slog.Logger) ServiceOption {
	return func(s *Service) {
		s.logger = l
	}
}

// WithMetrics sets the rollup metrics component. Success and failure marks
// trigger a rollup record. Default: rollups disabled.
func WithMetrics(m *Metrics) ServiceOption {
	return func(s *Service) {
		s.metrics = m
	}
}

// WithMetricsRecorder sets the OTel recorder for publish/failure/archive
// instruments. Default: no-op.
func WithMetricsRecorder(r observability.MetricsRecorder) ServiceOption {
	return func(s *Service) {
		s.recorder = r
	}
}

// NewService creates the event bus service over a store.
func NewService(st store.Store, idem *Idempotency, opts ...ServiceOption) *Service {
	s := &Service{
		store:    st,
		idem:     idem,
		codec:    JSONCodec{},
		recorder: observability.NoopMetrics{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// PublishOption configures event publication.
type PublishOption func(*publishConfig)

type publishConfig struct {
	correlationID string
	parentEventID string
	partNumber    int
	partsCount    int
	schemaVersion int
}

// WithCorrelationID groups related events under one correlation ID.
func WithCorrelationID(id string) PublishOption {
	return func(cfg *publishConfig) {
		cfg.correlationID = id
	}
}

// WithParentEvent marks the event as derived from a parent event.
func WithParentEvent(eventID string) PublishOption {
	return func(cfg *publishConfig) {
		cfg.parentEventID = eventID
	}
}

// WithParts marks the event as part number of a multi-part series of count.
func WithParts(number, count int) PublishOption {
	return func(cfg *publishConfig) {
		cfg.partNumber = number
		cfg.partsCount = count
	}
}

// WithSchemaVersion sets the payload schema version. Default: 1.
func WithSchemaVersion(v int) PublishOption {
	return func(cfg *publishConfig) {
		cfg.schemaVersion = v
	}
}

// Publish serializes the payload and inserts a PENDING event with a fresh
// unique ID, returning that ID. producerID may be empty; a non-empty
// producerID that doesn't resolve to a registered worker fails with
// ReferenceNotFoundError.
func (s *Service) Publish(ctx context.Context, producerID, eventType string, payload any, opts ...PublishOption) (string, error) {
	cfg := &publishConfig{schemaVersion: 1}
	for _, opt := range opts {
		opt(cfg)
	}

	if producerID != "" {
		if _, err := s.store.GetWorker(ctx, producerID); err != nil {
			if err == store.ErrNotFound {
				return "", &ReferenceNotFoundError{Kind: "producer", ID: producerID}
			}
			return "", err
		}
	}

	data, err := s.codec.Encode(payload)
	if err != nil {
		return "", &PayloadError{Op: "encode", Err: err}
	}

	now := time.Now().UTC()
	evt := &store.Event{
		ID:            uuid.New().String(),
		Type:          eventType,
		SchemaVersion: cfg.schemaVersion,
		Payload:       data,
		CorrelationID: cfg.correlationID,
		ParentEventID: cfg.parentEventID,
		PartNumber:    cfg.partNumber,
		PartsCount:    cfg.partsCount,
		ProducerID:    producerID,
		Status:        store.StatusPending,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := s.store.InsertEvent(ctx, evt); err != nil {
		return "", err
	}

	observability.LogPublish(s.logger, evt.ID, eventType, producerID)
	s.recorder.RecordPublish(ctx, eventType)
	return evt.ID, nil
}

// PollPending returns PENDING events of the given type, oldest first, at
// most limit (capped at an internal batch ceiling). Read-only: claiming is
// a separate step.
func (s *Service) PollPending(ctx context.Context, eventType string, limit int) ([]*store.Event, error) {
	if limit <= 0 || limit > pollBatchCeiling {
		limit = pollBatchCeiling
	}
	return s.store.PendingEvents(ctx, eventType, limit)
}

// Claim attempts to take exclusive ownership of processing an event for a
// consumer. Returns true only when the caller now owns processing: the event
// was atomically transitioned to PROCESSING and the consumption row was
// created (attempt 1) or re-claimed (attempt incremented). A false return is
// a lost race or an unclaimable event, never an error.
func (s *Service) Claim(ctx context.Context, eventID, consumerID string) (bool, error) {
	now := time.Now().UTC()

	claimed, err := s.store.ClaimEvent(ctx, eventID, now)
	if err != nil {
		return false, err
	}
	if !claimed {
		if _, gerr := s.store.GetEvent(ctx, eventID); gerr == store.ErrNotFound && s.logger != nil {
			s.logger.Warn("claim on unknown event", slog.String("event_id", eventID))
		}
		return false, nil
	}

	key := s.idem.Key(eventID, consumerID)
	_, claimed, err = s.store.ClaimConsumption(ctx, eventID, consumerID, key, now)
	if err != nil {
		return false, err
	}
	if !claimed {
		// A concurrent claim won on the consumption record. The event row is
		// already PROCESSING under that claim, so nothing to undo here.
		observability.LogClaimLost(s.logger, eventID, consumerID)
		return false, nil
	}
	return true, nil
}

// MarkSuccess records successful processing: the event becomes SUCCESS with
// its retry count reset, the consumption is completed with the result hash,
// and a metrics rollup is recorded. An empty resultHash leaves any previously
// recorded hash in place.
func (s *Service) MarkSuccess(ctx context.Context, eventID, consumerID, resultHash string) error {
	now := time.Now().UTC()

	evt, err := s.store.GetEvent(ctx, eventID)
	if err != nil {
		if err == store.ErrNotFound {
			return &ReferenceNotFoundError{Kind: "event", ID: eventID}
		}
		return err
	}
	evt.Status = store.StatusSuccess
	evt.ProcessedAt = &now
	evt.RetryCount = 0
	evt.UpdatedAt = now
	if err := s.store.UpdateEvent(ctx, evt); err != nil {
		return err
	}

	c, err := s.store.GetConsumption(ctx, eventID, consumerID)
	if err != nil {
		if err == store.ErrNotFound {
			return &ConsistencyError{EventID: eventID, ConsumerID: consumerID}
		}
		return err
	}
	c.Status = store.StatusSuccess
	c.CompletedAt = &now
	if resultHash != "" {
		c.ResultHash = resultHash
	}
	if err := s.store.UpdateConsumption(ctx, c); err != nil {
		return err
	}

	s.record(ctx, evt.Type, consumerID, store.StatusSuccess, c.ProcessingDuration())
	return nil
}

// MarkFailed records failed processing. The retryable flag decides between
// FAILED_RETRYABLE (retry count incremented, event re-claimable) and
// FAILED_PERMANENT (terminal). The same status is mirrored onto the
// consumption row.
func (s *Service) MarkFailed(ctx context.Context, eventID, consumerID string, cause error, retryable bool) error {
	now := time.Now().UTC()
	status := store.StatusFailedPermanent
	if retryable {
		status = store.StatusFailedRetryable
	}

	evt, err := s.store.GetEvent(ctx, eventID)
	if err != nil {
		if err == store.ErrNotFound {
			return &ReferenceNotFoundError{Kind: "event", ID: eventID}
		}
		return err
	}
	evt.Status = status
	evt.FailedAt = &now
	evt.LastError = cause.Error()
	evt.LastErrorTrace = errorTrace(cause)
	if retryable {
		evt.RetryCount++
	}
	evt.UpdatedAt = now
	if err := s.store.UpdateEvent(ctx, evt); err != nil {
		return err
	}

	c, err := s.store.GetConsumption(ctx, eventID, consumerID)
	if err != nil {
		if err == store.ErrNotFound {
			return &ConsistencyError{EventID: eventID, ConsumerID: consumerID}
		}
		return err
	}
	c.Status = status
	c.FailedAt = &now
	c.CompletedAt = &now
	c.ErrorMessage = cause.Error()
	c.ErrorTrace = errorTrace(cause)
	if err := s.store.UpdateConsumption(ctx, c); err != nil {
		return err
	}

	observability.LogConsumeFailure(s.logger, eventID, consumerID, cause, retryable)
	s.recorder.RecordFailure(ctx, evt.Type, consumerID, retryable)
	s.record(ctx, evt.Type, consumerID, status, c.ProcessingDuration())
	return nil
}

// Replay resets an event back to PENDING, clearing its retry count,
// processing timestamps, and error fields. Consumption history is left
// untouched for audit.
func (s *Service) Replay(ctx context.Context, eventID string) error {
	evt, err := s.store.GetEvent(ctx, eventID)
	if err != nil {
		if err == store.ErrNotFound {
			return &ReferenceNotFoundError{Kind: "event", ID: eventID}
		}
		return err
	}
	evt.Status = store.StatusPending
	evt.RetryCount = 0
	evt.ProcessingStartedAt = nil
	evt.ProcessedAt = nil
	evt.FailedAt = nil
	evt.LastError = ""
	evt.LastErrorTrace = ""
	evt.UpdatedAt = time.Now().UTC()
	return s.store.UpdateEvent(ctx, evt)
}

// Archive bulk-transitions SUCCESS and FAILED_PERMANENT events created
// before the cutoff (start of the UTC day, olderThanDays back) to ARCHIVED.
// Returns the number archived; zero matches is not an error.
func (s *Service) Archive(ctx context.Context, olderThanDays int) (int, error) {
	now := time.Now().UTC()
	cutoff := ArchiveCutoff(now, olderThanDays)

	archived, err := s.store.ArchiveEventsBefore(ctx, cutoff, now)
	if err != nil {
		return 0, err
	}
	observability.LogArchive(s.logger, archived, olderThanDays)
	s.recorder.RecordArchived(ctx, archived)
	return archived, nil
}

// ArchiveCutoff returns the archival threshold for a reference time: the
// start of the UTC calendar day, olderThanDays back. Events created exactly
// at the cutoff are retained.
func ArchiveCutoff(now time.Time, olderThanDays int) time.Time {
	now = now.UTC()
	midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	return midnight.AddDate(0, 0, -olderThanDays)
}

// Consumption returns the consumption row for an (event, consumer) pair.
func (s *Service) Consumption(ctx context.Context, eventID, consumerID string) (*store.Consumption, error) {
	return s.store.GetConsumption(ctx, eventID, consumerID)
}

// ConsumptionsForEvent returns every consumer's consumption row for an
// event, for audit.
func (s *Service) ConsumptionsForEvent(ctx context.Context, eventID string) ([]*store.Consumption, error) {
	return s.store.ConsumptionsForEvent(ctx, eventID)
}

// Event returns the stored event with the given ID.
func (s *Service) Event(ctx context.Context, eventID string) (*store.Event, error) {
	evt, err := s.store.GetEvent(ctx, eventID)
	if err == store.ErrNotFound {
		return nil, &ReferenceNotFoundError{Kind: "event", ID: eventID}
	}
	return evt, err
}

// DecodePayload decodes an event payload into v using the service codec.
func (s *Service) DecodePayload(evt *store.Event, v any) error {
	if err := s.codec.Decode(evt.Payload, v); err != nil {
		return &PayloadError{Op: "decode", Err: err}
	}
	return nil
}

// record sends a rollup to the metrics component when one is configured.
// Rollup failures are logged, never surfaced: metrics must not fail marks.
func (s *Service) record(ctx context.Context, eventType, consumerID string, status store.Status, d time.Duration) {
	if s.metrics == nil {
		return
	}
	if err := s.metrics.Record(ctx, eventType, consumerID, status, d); err != nil && s.logger != nil {
		s.logger.Warn("metrics rollup failed",
			slog.String("event_type", eventType),
			slog.String("error", err.Error()))
	}
}

// errorTrace extracts a stack trace from panic-derived errors.
func errorTrace(err error) string {
	if p, ok := err.(*PanicError); ok {
		return string(p.Stack)
	}
	return ""
}
