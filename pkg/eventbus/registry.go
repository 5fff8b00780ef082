package eventbus

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/randalmurphal/eventbus/pkg/eventbus/config"
	"github.com/randalmurphal/eventbus/pkg/eventbus/observability"
	"github.com/randalmurphal/eventbus/pkg/eventbus/store"
)

// Registry tracks the producers and consumers of a bus instance and persists
// their worker identities. Registration upserts by worker name, so a worker
// keeps its ID across process restarts.
//
// The registry is an explicit object: nothing registers implicitly, and
// lookup is by the names and event types given at registration time.
type Registry struct {
	store  store.Store
	logger *slog.Logger

	mu        sync.RWMutex
	producers map[string]*Producer   // by worker name
	consumers map[string][]*Consumer // by event type
}

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithRegistryLogger sets the logger. Default: no logging.
func WithRegistryLogger(l *slog.Logger) RegistryOption {
	return func(r *Registry) {
		r.logger = l
	}
}

// NewRegistry creates a Registry over the given store.
func NewRegistry(st store.Store, opts ...RegistryOption) *Registry {
	r := &Registry{
		store:     st,
		producers: make(map[string]*Producer),
		consumers: make(map[string][]*Consumer),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// RegisterProducer persists the producer's worker identity and makes it
// addressable by name. Re-registering the same name reuses the persisted
// worker row.
func (r *Registry) RegisterProducer(ctx context.Context, p *Producer) error {
	persisted, err := r.store.RegisterWorker(ctx, p.worker)
	if err != nil {
		return err
	}
	p.worker = persisted

	r.mu.Lock()
	r.producers[persisted.Name] = p
	r.mu.Unlock()

	observability.LogRegistered(r.logger, "producer", persisted.Name, nil)
	return nil
}

// RegisterConsumer persists the consumer's worker identity and indexes it
// under each event type it declared. Re-registering the same name reuses the
// persisted worker row.
func (r *Registry) RegisterConsumer(ctx context.Context, c *Consumer) error {
	persisted, err := r.store.RegisterWorker(ctx, c.worker)
	if err != nil {
		return err
	}
	c.worker = persisted

	r.mu.Lock()
	for _, t := range c.SupportedEventTypes() {
		if !containsConsumer(r.consumers[t], c) {
			r.consumers[t] = append(r.consumers[t], c)
		}
	}
	r.mu.Unlock()

	observability.LogRegistered(r.logger, "consumer", persisted.Name, c.SupportedEventTypes())
	return nil
}

// ProducerByName returns the registered producer with the given worker name,
// or nil.
func (r *Registry) ProducerByName(name string) *Producer {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.producers[name]
}

// ConsumersFor returns the consumers registered for an event type, in
// registration order. The returned slice is a copy.
func (r *Registry) ConsumersFor(eventType string) []*Consumer {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]*Consumer(nil), r.consumers[eventType]...)
}

// AllConsumers returns every registered consumer once, iterating event types
// in sorted order for determinism.
func (r *Registry) AllConsumers() []*Consumer {
	r.mu.RLock()
	defer r.mu.RUnlock()

	seen := make(map[*Consumer]struct{})
	var out []*Consumer
	for _, t := range sortedTypes(r.consumers) {
		for _, c := range r.consumers[t] {
			if _, ok := seen[c]; ok {
				continue
			}
			seen[c] = struct{}{}
			out = append(out, c)
		}
	}
	return out
}

// TouchWorker stamps a worker's last-execution time.
func (r *Registry) TouchWorker(ctx context.Context, workerID string, at time.Time) error {
	w, err := r.store.GetWorker(ctx, workerID)
	if err != nil {
		return err
	}
	at = at.UTC()
	w.LastExecutionAt = &at
	return r.store.UpdateWorker(ctx, w)
}

// EventTypes returns the event types that have at least one consumer.
func (r *Registry) EventTypes() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return sortedTypes(r.consumers)
}

// WorkerFromConfig builds a worker entry from a config section, falling back
// to the NewWorker defaults for missing keys. Recognized keys: name,
// capability, description, enabled, max_retries, retry_delay, timeout.
//
// Typical layout, one section per worker:
//
//	workers:
//	  csv-processor:
//	    name: csv-processor
//	    capability: csv-ingest
//	    timeout: 120s
func WorkerFromConfig(cfg config.Config) *store.Worker {
	w := store.NewWorker(cfg.String("name", ""), cfg.String("capability", ""))
	w.Description = cfg.String("description", "")
	w.Enabled = cfg.Bool("enabled", true)
	w.MaxRetries = cfg.Int("max_retries", store.DefaultMaxRetries)
	w.RetryDelay = cfg.Duration("retry_delay", store.DefaultRetryDelay)
	w.Timeout = cfg.Duration("timeout", store.DefaultTimeout)
	return w
}

func sortedTypes(m map[string][]*Consumer) []string {
	types := make([]string, 0, len(m))
	for t := range m {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}

func containsConsumer(list []*Consumer, c *Consumer) bool {
	for _, x := range list {
		if x == c {
			return true
		}
	}
	return false
}
