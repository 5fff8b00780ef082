/*
Package eventbus implements a durable, polling-based event bus with
persisted events, per-consumer consumption tracking, idempotent processing,
and scheduled dispatch.

# Overview

Producers publish typed events into a persistent store. A scheduler polls
for PENDING events and dispatches each one to the registered consumers of
its type over a bounded worker pool. Every consumption attempt is guarded
by an atomic claim, so concurrent pollers never double-process, and by an
idempotency key, so replays and retries of already-successful work
short-circuit without re-invoking the processor.

# Event Lifecycle

An event moves through a fixed state machine:

	PENDING → PROCESSING → SUCCESS
	                     → FAILED_RETRYABLE (re-claimable)
	                     → FAILED_PERMANENT
	SUCCESS / FAILED_PERMANENT → ARCHIVED (by retention passes)
	any non-archived state → PENDING (by Replay)

FAILED_RETRYABLE events are claimable again on the next poll cycle;
the retry count increments on every retryable failure and resets to zero
on success or replay.

# Basic Usage

	st, err := store.NewSQLiteStore("bus.db")
	if err != nil { ... }
	defer st.Close()

	idem := eventbus.NewIdempotency(st)
	svc := eventbus.NewService(st, idem)
	reg := eventbus.NewRegistry(st)

	producer := eventbus.NewProducer(store.NewWorker("orders-api", "orders"), svc)
	if err := reg.RegisterProducer(ctx, producer); err != nil { ... }

	consumer := eventbus.NewConsumer(
	    store.NewWorker("order-indexer", "indexer"),
	    eventbus.ProcessorFunc(func(ctx context.Context, evt *store.Event) eventbus.Result {
	        // ... process evt.Payload ...
	        return eventbus.SuccessResult(summary)
	    }),
	    idem,
	    eventbus.ConsumesEventType("order.created", 1),
	)
	if err := reg.RegisterConsumer(ctx, consumer); err != nil { ... }

	sched := eventbus.NewScheduler(eventbus.DefaultSchedulerConfig(), svc, reg)
	sched.Start(ctx)
	defer sched.Stop()

	id, err := producer.Publish(ctx, "order.created", order)

# Claims and Idempotency

Claiming is the bus's only source of mutual exclusion. A claim atomically
transitions the event to PROCESSING (only from PENDING or FAILED_RETRYABLE)
and creates or re-arms the per-(event, consumer) consumption record. Losing
a claim race is not an error; the loser simply skips the event.

The idempotency key is a deterministic digest of the event and consumer
IDs. A consumption that already completed with SUCCESS under that key is
never re-processed: the consumer returns success without calling the
processor.

# Retention and Replay

Archive transitions terminal events older than a retention window to
ARCHIVED, keeping the rows for audit. Replay resets a stuck or failed event
back to PENDING with its retry state cleared, leaving consumption history
intact.

# Observability

Structured logging uses log/slog throughout; all loggers are optional and
nil-safe. Metrics and tracing use OpenTelemetry through the observability
subpackage, with no-op implementations when disabled. Daily rollups of
processing counts and latencies are persisted alongside the events
themselves via the Metrics component.
*/
package eventbus
