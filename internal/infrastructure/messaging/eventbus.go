// Package messaging implements the in-process completion event bus and the
// listener dispatcher built on top of it.
package messaging

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"

	"github.com/lingvohub/lingvo-engine/internal/domain/shared"
	"github.com/lingvohub/lingvo-engine/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// IN-MEMORY EVENT BUS
// ══════════════════════════════════════════════════════════════════════════════

// InMemoryEventBus delivers events to subscribers asynchronously.
//
// Every subscription owns its own set of lanes. An event goes to the lane
// chosen by hashing its aggregate ID, so events of one user reach a given
// subscriber in publish order, while different users and different
// subscribers proceed independently. Publish never waits for handlers.
type InMemoryEventBus struct {
	mu            sync.RWMutex
	subscriptions []*subscription
	lanes         int
	logger        *slog.Logger
	metrics       *EventBusMetrics
	closed        bool
	wg            sync.WaitGroup
}

// InMemoryEventBusConfig contains configuration for InMemoryEventBus.
type InMemoryEventBusConfig struct {
	// LanesPerSubscription is the number of ordered queues per subscriber.
	LanesPerSubscription int

	// Logger for structured logging
	Logger *slog.Logger

	// EnableMetrics enables metrics collection
	EnableMetrics bool
}

// DefaultInMemoryEventBusConfig returns sensible defaults.
func DefaultInMemoryEventBusConfig() InMemoryEventBusConfig {
	return InMemoryEventBusConfig{
		LanesPerSubscription: 8,
		EnableMetrics:        true,
	}
}

// NewInMemoryEventBus creates a new in-memory event bus.
func NewInMemoryEventBus(config InMemoryEventBusConfig) *InMemoryEventBus {
	if config.LanesPerSubscription <= 0 {
		config.LanesPerSubscription = 8
	}

	bus := &InMemoryEventBus{
		lanes:  config.LanesPerSubscription,
		logger: logger.OrDefault(config.Logger).With(logger.Component("eventbus")),
	}
	if config.EnableMetrics {
		bus.metrics = NewEventBusMetrics()
	}
	return bus
}

// Subscribe registers a handler for a specific event type.
func (b *InMemoryEventBus) Subscribe(eventType shared.EventType, handler shared.EventHandler) error {
	return b.subscribe(eventType, handler)
}

// SubscribeAll registers a handler for all events.
func (b *InMemoryEventBus) SubscribeAll(handler shared.EventHandler) error {
	return b.subscribe("", handler)
}

func (b *InMemoryEventBus) subscribe(eventType shared.EventType, handler shared.EventHandler) error {
	if handler == nil {
		return errors.New("handler cannot be nil")
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return ErrEventBusClosed
	}

	sub := &subscription{
		eventType: eventType,
		handler:   handler,
		lanes:     make([]*lane, b.lanes),
	}
	for i := range sub.lanes {
		l := newLane()
		sub.lanes[i] = l
		b.wg.Add(1)
		go b.runLane(sub, l)
	}
	b.subscriptions = append(b.subscriptions, sub)

	b.logger.Debug("subscribed handler", "event_type", eventType, "lanes", b.lanes)
	return nil
}

// Publish enqueues the event for every matching subscriber and returns.
//
// Handlers run with a context that keeps the values of ctx but not its
// cancellation: a finished HTTP request must not abort its listeners.
func (b *InMemoryEventBus) Publish(ctx context.Context, event shared.Event) error {
	if event == nil {
		return errors.New("event cannot be nil")
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return ErrEventBusClosed
	}

	if b.metrics != nil {
		b.metrics.RecordPublish(event.EventType())
	}

	key := xxhash.Sum64String(event.AggregateID())
	env := envelope{ctx: context.WithoutCancel(ctx), event: event, enqueuedAt: time.Now()}

	delivered := 0
	for _, sub := range b.subscriptions {
		if !sub.matches(event.EventType()) {
			continue
		}
		sub.lanes[key%uint64(len(sub.lanes))].push(env)
		delivered++
	}

	if delivered == 0 {
		b.logger.Debug("no handlers for event", "event_type", event.EventType())
	}
	return nil
}

func (b *InMemoryEventBus) runLane(sub *subscription, l *lane) {
	defer b.wg.Done()

	for {
		env, ok := l.pop()
		if !ok {
			return
		}

		start := time.Now()
		err := b.invoke(sub.handler, env)
		duration := time.Since(start)

		if b.metrics != nil {
			b.metrics.RecordHandlerExecution(env.event.EventType(), duration, time.Since(env.enqueuedAt), err == nil)
		}
		if err != nil {
			b.logger.Error("handler error",
				"event_type", env.event.EventType(),
				"aggregate_id", env.event.AggregateID(),
				"duration", duration,
				logger.Err(err),
			)
		}
	}
}

// invoke isolates a panicking handler so the lane keeps running.
func (b *InMemoryEventBus) invoke(handler shared.EventHandler, env envelope) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.Join(ErrHandlerPanic, panicError(r))
		}
	}()
	return handler(env.ctx, env.event)
}

// Close stops accepting events and waits until queued events are handled.
func (b *InMemoryEventBus) Close() error {
	return b.Shutdown(context.Background())
}

// Shutdown is Close bounded by ctx. Events still queued when ctx ends are
// left unprocessed.
func (b *InMemoryEventBus) Shutdown(ctx context.Context) error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	for _, sub := range b.subscriptions {
		for _, l := range sub.lanes {
			l.close()
		}
	}
	b.mu.Unlock()

	done := make(chan struct{})
	go func() {
		b.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		b.logger.Info("event bus closed")
		return nil
	case <-ctx.Done():
		pending := b.Pending()
		b.logger.Warn("event bus closed with pending events", "pending", pending)
		return ctx.Err()
	}
}

// Pending returns the number of queued, not yet handled deliveries.
func (b *InMemoryEventBus) Pending() int {
	b.mu.RLock()
	defer b.mu.RUnlock()

	n := 0
	for _, sub := range b.subscriptions {
		for _, l := range sub.lanes {
			n += l.len()
		}
	}
	return n
}

// Metrics returns the current metrics.
func (b *InMemoryEventBus) Metrics() *EventBusMetrics {
	return b.metrics
}

// ──────────────────────────────────────────────────────────────────────────────
// Subscriptions and lanes
// ──────────────────────────────────────────────────────────────────────────────

type subscription struct {
	// eventType is empty for SubscribeAll.
	eventType shared.EventType
	handler   shared.EventHandler
	lanes     []*lane
}

func (s *subscription) matches(t shared.EventType) bool {
	return s.eventType == "" || s.eventType == t
}

type envelope struct {
	ctx        context.Context
	event      shared.Event
	enqueuedAt time.Time
}

// lane is an unbounded FIFO drained by a single goroutine.
type lane struct {
	mu     sync.Mutex
	queue  []envelope
	notify chan struct{}
	closed bool
}

func newLane() *lane {
	return &lane{notify: make(chan struct{}, 1)}
}

func (l *lane) push(env envelope) {
	l.mu.Lock()
	l.queue = append(l.queue, env)
	l.mu.Unlock()

	select {
	case l.notify <- struct{}{}:
	default:
	}
}

// pop blocks until an event is available. It returns false once the lane is
// closed and empty.
func (l *lane) pop() (envelope, bool) {
	for {
		l.mu.Lock()
		if len(l.queue) > 0 {
			env := l.queue[0]
			l.queue[0] = envelope{}
			l.queue = l.queue[1:]
			l.mu.Unlock()
			return env, true
		}
		if l.closed {
			l.mu.Unlock()
			return envelope{}, false
		}
		l.mu.Unlock()
		<-l.notify
	}
}

func (l *lane) close() {
	l.mu.Lock()
	l.closed = true
	l.mu.Unlock()

	select {
	case l.notify <- struct{}{}:
	default:
	}
}

func (l *lane) len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.queue)
}

// ══════════════════════════════════════════════════════════════════════════════
// METRICS
// ══════════════════════════════════════════════════════════════════════════════

// EventBusMetrics tracks event bus performance metrics.
type EventBusMetrics struct {
	mu sync.RWMutex

	PublishedTotal map[shared.EventType]int64

	HandlerExecutions    int64
	HandlerSuccesses     int64
	HandlerFailures      int64
	HandlerTotalDuration time.Duration
	// QueueTotalWait is the summed time events spent queued before handling.
	QueueTotalWait time.Duration
	HandlersByType map[shared.EventType]int64

	LastReset time.Time
}

// NewEventBusMetrics creates new metrics tracker.
func NewEventBusMetrics() *EventBusMetrics {
	return &EventBusMetrics{
		PublishedTotal: make(map[shared.EventType]int64),
		HandlersByType: make(map[shared.EventType]int64),
		LastReset:      time.Now(),
	}
}

// RecordPublish records a publish event.
func (m *EventBusMetrics) RecordPublish(eventType shared.EventType) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.PublishedTotal[eventType]++
}

// RecordHandlerExecution records a handler execution.
func (m *EventBusMetrics) RecordHandlerExecution(eventType shared.EventType, duration, lag time.Duration, success bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.HandlerExecutions++
	m.HandlerTotalDuration += duration
	m.QueueTotalWait += lag - duration
	m.HandlersByType[eventType]++

	if success {
		m.HandlerSuccesses++
	} else {
		m.HandlerFailures++
	}
}

// Snapshot returns a copy of current metrics.
func (m *EventBusMetrics) Snapshot() EventBusMetricsSnapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var avgDuration, avgWait time.Duration
	if m.HandlerExecutions > 0 {
		avgDuration = m.HandlerTotalDuration / time.Duration(m.HandlerExecutions)
		avgWait = m.QueueTotalWait / time.Duration(m.HandlerExecutions)
	}

	var published int64
	for _, v := range m.PublishedTotal {
		published += v
	}

	successRate := 1.0
	if m.HandlerExecutions > 0 {
		successRate = float64(m.HandlerSuccesses) / float64(m.HandlerExecutions)
	}

	return EventBusMetricsSnapshot{
		TotalPublished:         published,
		TotalHandlerExecs:      m.HandlerExecutions,
		HandlerFailures:        m.HandlerFailures,
		HandlerSuccessRate:     successRate,
		AverageHandlerDuration: avgDuration,
		AverageQueueWait:       avgWait,
		LastReset:              m.LastReset,
	}
}

// EventBusMetricsSnapshot is a point-in-time snapshot of metrics.
type EventBusMetricsSnapshot struct {
	TotalPublished         int64         `json:"total_published"`
	TotalHandlerExecs      int64         `json:"total_handler_execs"`
	HandlerFailures        int64         `json:"handler_failures"`
	HandlerSuccessRate     float64       `json:"handler_success_rate"`
	AverageHandlerDuration time.Duration `json:"average_handler_duration"`
	AverageQueueWait       time.Duration `json:"average_queue_wait"`
	LastReset              time.Time     `json:"last_reset"`
}

// ══════════════════════════════════════════════════════════════════════════════
// ERRORS
// ══════════════════════════════════════════════════════════════════════════════

var (
	// ErrEventBusClosed is returned when operations are attempted on a closed bus.
	ErrEventBusClosed = errors.New("event bus is closed")

	// ErrHandlerPanic is returned when a handler panics.
	ErrHandlerPanic = errors.New("handler panicked")
)
