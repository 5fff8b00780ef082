package eventbus

import (
	"context"
	"log/slog"

	"github.com/randalmurphal/eventbus/pkg/eventbus/store"
)

// Producer publishes events under a registered worker identity. Optional
// validate and enrich stages run before serialization; a validation failure
// aborts the publish.
type Producer struct {
	worker   *store.Worker
	service  *Service
	validate func(payload any) error
	enrich   func(payload any) any
	logger   *slog.Logger
}

// ProducerOption configures a Producer.
type ProducerOption func(*Producer)

// WithPayloadValidator sets a validation stage run before publishing.
// A non-nil error aborts the publish.
func WithPayloadValidator(fn func(payload any) error) ProducerOption {
	return func(p *Producer) {
		p.validate = fn
	}
}

// WithPayloadEnricher sets a transformation applied to the payload after
// validation and before serialization.
func WithPayloadEnricher(fn func(payload any) any) ProducerOption {
	return func(p *Producer) {
		p.enrich = fn
	}
}

// WithProducerLogger sets the logger. Default: no logging.
func WithProducerLogger(l *slog.Logger) ProducerOption {
	return func(p *Producer) {
		p.logger = l
	}
}

// NewProducer creates a Producer for the given worker identity, publishing
// through the service. Register it with a Registry before publishing so the
// worker ID is persisted.
func NewProducer(worker *store.Worker, service *Service, opts ...ProducerOption) *Producer {
	p := &Producer{
		worker:  worker,
		service: service,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Worker returns the producer's registry entry.
func (p *Producer) Worker() *store.Worker {
	return p.worker
}

// Publish runs the validate and enrich stages, then publishes the payload
// as an event of the given type under the producer's worker ID. Returns the
// new event ID.
func (p *Producer) Publish(ctx context.Context, eventType string, payload any, opts ...PublishOption) (string, error) {
	if p.validate != nil {
		if err := p.validate(payload); err != nil {
			if p.logger != nil {
				p.logger.Warn("payload validation failed",
					slog.String("event_type", eventType),
					slog.String("producer", p.worker.Name),
					slog.String("error", err.Error()))
			}
			return "", &PayloadError{Op: "validate", Err: err}
		}
	}
	if p.enrich != nil {
		payload = p.enrich(payload)
	}
	return p.service.Publish(ctx, p.worker.ID, eventType, payload, opts...)
}
