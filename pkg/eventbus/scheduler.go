package eventbus

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/randalmurphal/eventbus/pkg/eventbus/config"
	"github.com/randalmurphal/eventbus/pkg/eventbus/observability"
	"github.com/randalmurphal/eventbus/pkg/eventbus/store"
)

// SchedulerConfig controls the polling dispatcher.
type SchedulerConfig struct {
	// Enabled gates the whole scheduler. When false, ticks are no-ops.
	Enabled bool

	// PoolSize is the number of concurrent dispatch workers.
	PoolSize int

	// PollBatchSize is the number of pending events fetched per event type
	// per tick. Capped by the service's internal poll ceiling.
	PollBatchSize int

	// TickInterval is the delay between poll cycles.
	TickInterval time.Duration

	// ShutdownGrace is how long Stop waits for in-flight work before
	// cancelling it.
	ShutdownGrace time.Duration
}

// DefaultSchedulerConfig returns the default scheduler settings:
// enabled, 4 workers, batches of 50, 5s between ticks, 5s shutdown grace.
func DefaultSchedulerConfig() SchedulerConfig {
	return SchedulerConfig{
		Enabled:       true,
		PoolSize:      4,
		PollBatchSize: 50,
		TickInterval:  5 * time.Second,
		ShutdownGrace: 5 * time.Second,
	}
}

// SchedulerConfigFromConfig reads the "scheduler" section of a Config,
// falling back to defaults for missing keys.
func SchedulerConfigFromConfig(cfg config.Config) SchedulerConfig {
	def := DefaultSchedulerConfig()
	sub := cfg.Sub("scheduler")
	return SchedulerConfig{
		Enabled:       sub.Bool("enabled", def.Enabled),
		PoolSize:      sub.Int("pool_size", def.PoolSize),
		PollBatchSize: sub.Int("poll_batch_size", def.PollBatchSize),
		TickInterval:  sub.Duration("tick_interval", def.TickInterval),
		ShutdownGrace: sub.Duration("shutdown_grace", def.ShutdownGrace),
	}
}

// dispatch is one (event, consumer) pairing queued for processing.
type dispatch struct {
	evt      *store.Event
	consumer *Consumer
}

// Scheduler polls for pending events and dispatches them to registered
// consumers over a bounded worker pool. Exactly-once dispatch per
// (event, consumer) attempt is enforced by the claim protocol, not by the
// scheduler: a lost claim is skipped silently.
type Scheduler struct {
	cfg      SchedulerConfig
	service  *Service
	registry *Registry
	logger   *slog.Logger
	recorder observability.MetricsRecorder
	spans    observability.SpanManager

	tasks   chan dispatch
	quit    chan struct{}
	wg      sync.WaitGroup
	started atomic.Bool
	stopped atomic.Bool
}

// SchedulerOption configures a Scheduler.
type SchedulerOption func(*Scheduler)

// WithSchedulerLogger sets the logger. Default: no logging.
func WithSchedulerLogger(l *slog.Logger) SchedulerOption {
	return func(s *Scheduler) {
		s.logger = l
	}
}

// WithSchedulerMetrics sets the OTel recorder for consume instruments.
// Default: no-op.
func WithSchedulerMetrics(r observability.MetricsRecorder) SchedulerOption {
	return func(s *Scheduler) {
		s.recorder = r
	}
}

// WithSchedulerSpans sets the span manager for tick and consume spans.
// Default: no-op.
func WithSchedulerSpans(m observability.SpanManager) SchedulerOption {
	return func(s *Scheduler) {
		s.spans = m
	}
}

// NewScheduler creates a scheduler over a service and registry.
func NewScheduler(cfg SchedulerConfig, service *Service, registry *Registry, opts ...SchedulerOption) *Scheduler {
	if cfg.PoolSize <= 0 {
		cfg.PoolSize = DefaultSchedulerConfig().PoolSize
	}
	if cfg.PollBatchSize <= 0 {
		cfg.PollBatchSize = DefaultSchedulerConfig().PollBatchSize
	}
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = DefaultSchedulerConfig().TickInterval
	}
	s := &Scheduler{
		cfg:      cfg,
		service:  service,
		registry: registry,
		recorder: observability.NoopMetrics{},
		spans:    observability.NoopSpanManager{},
		tasks:    make(chan dispatch),
		quit:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start launches the worker pool and the tick loop. It returns immediately;
// processing continues until Stop is called or ctx is cancelled. Start is
// a no-op when the scheduler is disabled or already started.
func (s *Scheduler) Start(ctx context.Context) {
	if !s.cfg.Enabled || !s.started.CompareAndSwap(false, true) {
		return
	}

	for i := 0; i < s.cfg.PoolSize; i++ {
		s.wg.Add(1)
		go s.worker(ctx)
	}

	s.wg.Add(1)
	go s.tickLoop(ctx)

	if s.logger != nil {
		s.logger.Info("scheduler started",
			slog.Int("pool_size", s.cfg.PoolSize),
			slog.Int("poll_batch_size", s.cfg.PollBatchSize),
			slog.Duration("tick_interval", s.cfg.TickInterval))
	}
}

// Stop shuts the scheduler down, waiting up to the shutdown grace period
// for in-flight consumptions to finish. Idempotent.
func (s *Scheduler) Stop() {
	if !s.started.Load() || !s.stopped.CompareAndSwap(false, true) {
		return
	}
	close(s.quit)

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		if s.logger != nil {
			s.logger.Info("scheduler stopped")
		}
	case <-time.After(s.cfg.ShutdownGrace):
		if s.logger != nil {
			s.logger.Warn("scheduler shutdown grace expired with work in flight",
				slog.Duration("grace", s.cfg.ShutdownGrace))
		}
	}
}

// tickLoop runs Tick on the configured interval until shutdown.
func (s *Scheduler) tickLoop(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.cfg.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.quit:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.Tick(ctx); err != nil && s.logger != nil {
				s.logger.Error("tick failed", slog.String("error", err.Error()))
			}
		}
	}
}

// Tick runs one poll cycle: for every event type with registered consumers,
// fetch a batch of pending events and hand each consumable (event, consumer)
// pairing to the pool. When the scheduler was never started, Tick processes
// the pairings synchronously, so callers can drive the bus manually.
func (s *Scheduler) Tick(ctx context.Context) error {
	if !s.cfg.Enabled {
		return nil
	}

	ctx, span := s.spans.StartTickSpan(ctx)
	var tickErr error
	defer func() { s.spans.EndSpanWithError(span, tickErr) }()

	for _, eventType := range s.registry.EventTypes() {
		events, err := s.service.PollPending(ctx, eventType, s.cfg.PollBatchSize)
		if err != nil {
			tickErr = err
			return err
		}
		for _, evt := range events {
			for _, c := range s.registry.ConsumersFor(eventType) {
				if !c.CanConsume(evt) {
					continue
				}
				d := dispatch{evt: evt, consumer: c}
				if !s.started.Load() {
					s.run(ctx, d)
					continue
				}
				select {
				case s.tasks <- d:
				case <-s.quit:
					return nil
				case <-ctx.Done():
					tickErr = ctx.Err()
					return tickErr
				}
			}
		}
	}
	return nil
}

// worker consumes dispatches from the task channel until shutdown.
func (s *Scheduler) worker(ctx context.Context) {
	defer s.wg.Done()
	for {
		select {
		case <-s.quit:
			return
		case <-ctx.Done():
			return
		case d := <-s.tasks:
			s.run(ctx, d)
		}
	}
}

// run processes one dispatch: claim, consume under the worker's timeout,
// then record the outcome. A lost claim is normal contention and is skipped.
func (s *Scheduler) run(ctx context.Context, d dispatch) {
	evt, consumer := d.evt, d.consumer
	worker := consumer.Worker()

	claimed, err := s.service.Claim(ctx, evt.ID, worker.ID)
	if err != nil {
		if s.logger != nil {
			s.logger.Error("claim failed",
				slog.String("event_id", evt.ID),
				slog.String("consumer_id", worker.ID),
				slog.String("error", err.Error()))
		}
		return
	}
	if !claimed {
		return
	}

	attempt := 1
	if c, cerr := s.service.Consumption(ctx, evt.ID, worker.ID); cerr == nil {
		attempt = c.Attempt
	}
	logger := observability.EnrichLogger(s.logger, evt.ID, worker.ID, attempt)

	cctx, span := s.spans.StartConsumeSpan(ctx, evt.Type, evt.ID, worker.ID)
	if worker.Timeout > 0 {
		var cancel context.CancelFunc
		cctx, cancel = context.WithTimeout(cctx, worker.Timeout)
		defer cancel()
	}

	elapsed := observability.TimedOperation()
	res := s.consume(cctx, consumer, evt, attempt)
	duration := time.Duration(elapsed() * float64(time.Millisecond))

	s.recorder.RecordConsume(ctx, evt.Type, worker.ID, res.Success, duration)
	if terr := s.registry.TouchWorker(ctx, worker.ID, time.Now()); terr != nil && logger != nil {
		logger.Debug("touch worker failed", slog.String("error", terr.Error()))
	}

	if res.Success {
		hash, herr := s.service.idem.HashResult(res.Data)
		if herr != nil {
			// Unhashable results are a programming error in the processor.
			s.markFailed(ctx, evt, worker.ID, herr, false)
			s.spans.EndSpanWithError(span, herr)
			return
		}
		if merr := s.service.MarkSuccess(ctx, evt.ID, worker.ID, hash); merr != nil && logger != nil {
			logger.Error("mark success failed", slog.String("error", merr.Error()))
		}
		s.spans.EndSpanWithError(span, nil)
		return
	}

	msg := res.ErrorMessage
	if msg == "" {
		msg = "event consumption failed"
	}
	ferr := errors.New(msg)
	s.markFailed(ctx, evt, worker.ID, ferr, res.Retryable)
	s.spans.EndSpanWithError(span, ferr)
}

// consume invokes the consumer, treating a panic that escaped the consumer's
// own recovery as a retryable failure.
func (s *Scheduler) consume(ctx context.Context, c *Consumer, evt *store.Event, attempt int) (res Result) {
	defer func() {
		if r := recover(); r != nil {
			if s.logger != nil {
				s.logger.Error("consumption panicked outside processor",
					slog.String("event_id", evt.ID),
					slog.Any("panic", r))
			}
			res = FailureResult("consumption panicked", true)
		}
	}()
	return c.Consume(ctx, evt, attempt)
}

func (s *Scheduler) markFailed(ctx context.Context, evt *store.Event, consumerID string, cause error, retryable bool) {
	if err := s.service.MarkFailed(ctx, evt.ID, consumerID, cause, retryable); err != nil && s.logger != nil {
		s.logger.Error("mark failed errored",
			slog.String("event_id", evt.ID),
			slog.String("error", err.Error()))
	}
}
