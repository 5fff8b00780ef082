package eventbus

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"

	"github.com/randalmurphal/eventbus/pkg/eventbus/observability"
	"github.com/randalmurphal/eventbus/pkg/eventbus/store"
)

// Processor is the user-supplied handler that processes one event.
// Implementations report the outcome through the returned Result; panics
// are recovered by the surrounding Consumer.
type Processor interface {
	Process(ctx context.Context, evt *store.Event) Result
}

// ProcessorFunc adapts a function to the Processor interface.
type ProcessorFunc func(ctx context.Context, evt *store.Event) Result

// Process calls f.
func (f ProcessorFunc) Process(ctx context.Context, evt *store.Event) Result {
	return f(ctx, evt)
}

// RetryClassifier decides whether an error raised during processing (as
// opposed to a failure Result) should be retried. The default classifier
// treats every error as retryable.
type RetryClassifier func(err error) bool

// ConsumerHooks are optional callbacks invoked around consumption outcomes.
// Nil hooks are skipped. Hooks observe; they cannot change the outcome.
type ConsumerHooks struct {
	// OnSuccess fires after a successful processing run.
	OnSuccess func(evt *store.Event, res Result)

	// OnRetryableFailure fires when processing failed and will be retried.
	OnRetryableFailure func(evt *store.Event, res Result)

	// OnPermanentFailure fires when processing failed terminally.
	OnPermanentFailure func(evt *store.Event, res Result)

	// OnError fires when processing panicked, before classification.
	OnError func(evt *store.Event, err error)
}

// Consumer wraps a Processor with the bus-side consumption pipeline:
// idempotency short-circuit, panic recovery, outcome hooks, and retry
// classification. A Consumer composes a Processor rather than being
// subclassed by one; behavior is injected through options.
type Consumer struct {
	worker    *store.Worker
	processor Processor
	idem      *Idempotency
	hooks     ConsumerHooks
	classify  RetryClassifier
	logger    *slog.Logger

	// event type -> highest supported schema version, plus registration order
	types     map[string]int
	typeOrder []string
}

// ConsumerOption configures a Consumer.
type ConsumerOption func(*Consumer)

// ConsumesEventType declares an event type the consumer handles, with the
// highest payload schema version it supports. Call once per type.
func ConsumesEventType(eventType string, version int) ConsumerOption {
	return func(c *Consumer) {
		if _, ok := c.types[eventType]; !ok {
			c.typeOrder = append(c.typeOrder, eventType)
		}
		c.types[eventType] = version
	}
}

// WithConsumerHooks sets the outcome hooks.
func WithConsumerHooks(h ConsumerHooks) ConsumerOption {
	return func(c *Consumer) {
		c.hooks = h
	}
}

// WithRetryClassifier sets the error retry classifier.
// Default: every error is retryable.
func WithRetryClassifier(fn RetryClassifier) ConsumerOption {
	return func(c *Consumer) {
		c.classify = fn
	}
}

// WithConsumerLogger sets the logger. Default: no logging.
func WithConsumerLogger(l *slog.Logger) ConsumerOption {
	return func(c *Consumer) {
		c.logger = l
	}
}

// NewConsumer creates a Consumer for the given worker identity and processor.
func NewConsumer(worker *store.Worker, processor Processor, idem *Idempotency, opts ...ConsumerOption) *Consumer {
	c := &Consumer{
		worker:    worker,
		processor: processor,
		idem:      idem,
		classify:  func(error) bool { return true },
		types:     make(map[string]int),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Worker returns the consumer's registry entry.
func (c *Consumer) Worker() *store.Worker {
	return c.worker
}

// SupportedEventTypes returns the declared event types in registration order.
func (c *Consumer) SupportedEventTypes() []string {
	return append([]string(nil), c.typeOrder...)
}

// CanConsume reports whether the consumer handles the event's type at the
// event's schema version. An event with a newer schema than the consumer
// supports is not consumable.
func (c *Consumer) CanConsume(evt *store.Event) bool {
	v, ok := c.types[evt.Type]
	return ok && v >= evt.SchemaVersion
}

// Consume runs one processing attempt. The caller must hold the claim for
// (event, consumer) before calling.
//
// An event already successfully processed under the consumer's idempotency
// key short-circuits to success without invoking the processor. On success
// the result hash is recorded on the consumption row. Processor panics are
// recovered, reported through OnError, and classified into a failure Result.
func (c *Consumer) Consume(ctx context.Context, evt *store.Event, attempt int) Result {
	logger := observability.EnrichLogger(c.logger, evt.ID, c.worker.ID, attempt)

	key := c.idem.Key(evt.ID, c.worker.ID)
	done, err := c.idem.AlreadyProcessed(ctx, key)
	if err != nil {
		return FailureResult(fmt.Sprintf("idempotency check failed: %v", err), true)
	}
	if done {
		if logger != nil {
			logger.Debug("event already processed, skipping")
		}
		// No Data: the original result hash stays on the consumption row.
		return SuccessResult(nil)
	}

	observability.LogConsumeStart(c.logger, evt.ID, c.worker.ID, attempt)
	elapsed := observability.TimedOperation()

	res := c.process(ctx, evt)

	switch {
	case res.Success:
		c.recordResult(ctx, key, res, logger)
		observability.LogConsumeSuccess(c.logger, evt.ID, c.worker.ID, elapsed())
		if c.hooks.OnSuccess != nil {
			c.hooks.OnSuccess(evt, res)
		}
	case res.Retryable:
		if c.hooks.OnRetryableFailure != nil {
			c.hooks.OnRetryableFailure(evt, res)
		}
	default:
		if c.hooks.OnPermanentFailure != nil {
			c.hooks.OnPermanentFailure(evt, res)
		}
	}
	return res
}

// recordResult hashes the processing result and stores it on the consumption
// row. Best-effort: a hashing or store failure doesn't turn a successful
// consumption into a failed one.
func (c *Consumer) recordResult(ctx context.Context, key string, res Result, logger *slog.Logger) {
	hash, err := c.idem.HashResult(res.Data)
	if err == nil && hash != "" {
		err = c.idem.RecordResult(ctx, key, hash)
	}
	if err != nil && logger != nil {
		logger.Warn("result hash not recorded", slog.String("error", err.Error()))
	}
}

// process invokes the processor with panic recovery.
func (c *Consumer) process(ctx context.Context, evt *store.Event) (res Result) {
	defer func() {
		if r := recover(); r != nil {
			perr := &PanicError{EventID: evt.ID, Value: r, Stack: debug.Stack()}
			if c.logger != nil {
				c.logger.Error("processor panicked",
					slog.String("event_id", evt.ID),
					slog.String("consumer_id", c.worker.ID),
					slog.Any("panic", r))
			}
			if c.hooks.OnError != nil {
				c.hooks.OnError(evt, perr)
			}
			res = FailureResult(perr.Error(), c.classify(perr))
		}
	}()
	return c.processor.Process(ctx, evt)
}
