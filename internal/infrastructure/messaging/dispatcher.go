package messaging

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/lingvohub/lingvo-engine/internal/domain/shared"
	"github.com/lingvohub/lingvo-engine/pkg/logger"
	"github.com/lingvohub/lingvo-engine/pkg/retry"
)

// ══════════════════════════════════════════════════════════════════════════════
// DISPATCHER
// ══════════════════════════════════════════════════════════════════════════════

// Dispatcher wires named listeners onto the event bus with support for:
// - Middleware (recovery, logging, metrics, timeout)
// - Retry with exponential backoff
// - Dead letter queue for events a listener could not handle
//
// Each registration becomes its own bus subscription, so a slow or failing
// listener never delays another one.
type Dispatcher struct {
	eventBus    shared.EventSubscriber
	regs        []registered
	byName      map[string]shared.EventHandler
	middlewares []Middleware
	retryConfig RetryConfig
	deadLetterQ *DeadLetterQueue
	logger      *slog.Logger
	mu          sync.RWMutex
	started     bool
	metrics     *DispatcherMetrics
}

type registered struct {
	eventType shared.EventType
	reg       HandlerRegistration
}

// HandlerRegistration contains handler metadata.
type HandlerRegistration struct {
	Name       string
	Handler    shared.EventHandler
	MaxRetries int
	Timeout    time.Duration
}

// DispatcherConfig contains configuration for the Dispatcher.
type DispatcherConfig struct {
	// EventBus is the underlying event bus
	EventBus shared.EventSubscriber

	// RetryConfig configures retry behavior
	RetryConfig RetryConfig

	// EnableDeadLetterQueue enables DLQ for failed events
	EnableDeadLetterQueue bool

	// DeadLetterQueueSize is the max size of the DLQ
	DeadLetterQueueSize int

	// Logger for structured logging
	Logger *slog.Logger
}

// RetryConfig contains retry configuration.
type RetryConfig struct {
	// MaxRetries is the number of attempts after the first one.
	MaxRetries int

	// InitialBackoff is the initial wait between retries
	InitialBackoff time.Duration

	// HandlerTimeout bounds a single attempt.
	HandlerTimeout time.Duration
}

// DefaultRetryConfig returns sensible retry defaults.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:     3,
		InitialBackoff: 100 * time.Millisecond,
		HandlerTimeout: 30 * time.Second,
	}
}

// DefaultDispatcherConfig returns sensible defaults.
func DefaultDispatcherConfig(eventBus shared.EventSubscriber) DispatcherConfig {
	return DispatcherConfig{
		EventBus:              eventBus,
		RetryConfig:           DefaultRetryConfig(),
		EnableDeadLetterQueue: true,
		DeadLetterQueueSize:   1000,
	}
}

// NewDispatcher creates a new event dispatcher.
func NewDispatcher(config DispatcherConfig) *Dispatcher {
	if config.RetryConfig.HandlerTimeout <= 0 {
		config.RetryConfig.HandlerTimeout = 30 * time.Second
	}

	d := &Dispatcher{
		eventBus:    config.EventBus,
		byName:      make(map[string]shared.EventHandler),
		retryConfig: config.RetryConfig,
		logger:      logger.OrDefault(config.Logger).With(logger.Component("dispatcher")),
		metrics:     NewDispatcherMetrics(),
	}
	if config.EnableDeadLetterQueue {
		d.deadLetterQ = NewDeadLetterQueue(config.DeadLetterQueueSize)
	}
	return d
}

// ══════════════════════════════════════════════════════════════════════════════
// HANDLER REGISTRATION
// ══════════════════════════════════════════════════════════════════════════════

// RegisterHandler registers a listener for an event type. An empty event
// type registers the listener for every event.
func (d *Dispatcher) RegisterHandler(eventType shared.EventType, reg HandlerRegistration) error {
	if reg.Handler == nil {
		return errors.New("handler cannot be nil")
	}
	if reg.Name == "" {
		return errors.New("handler name is required")
	}
	if reg.MaxRetries < 0 {
		reg.MaxRetries = 0
	} else if reg.MaxRetries == 0 {
		reg.MaxRetries = d.retryConfig.MaxRetries
	}
	if reg.Timeout <= 0 {
		reg.Timeout = d.retryConfig.HandlerTimeout
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if d.started {
		return errors.New("dispatcher already started")
	}
	if _, dup := d.byName[reg.Name]; dup {
		return fmt.Errorf("handler %q already registered", reg.Name)
	}

	d.byName[reg.Name] = nil
	d.regs = append(d.regs, registered{eventType: eventType, reg: reg})
	d.logger.Debug("registered handler", "event_type", eventType, "handler_name", reg.Name)
	return nil
}

// Register is a convenience method for simple handler registration.
func (d *Dispatcher) Register(eventType shared.EventType, name string, handler shared.EventHandler) error {
	return d.RegisterHandler(eventType, HandlerRegistration{Name: name, Handler: handler})
}

// ══════════════════════════════════════════════════════════════════════════════
// MIDDLEWARE
// ══════════════════════════════════════════════════════════════════════════════

// Middleware wraps handler execution.
type Middleware func(shared.EventHandler) shared.EventHandler

// Use adds middleware to the dispatcher. Middleware wraps every attempt.
func (d *Dispatcher) Use(middleware Middleware) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.middlewares = append(d.middlewares, middleware)
}

// RecoveryMiddleware recovers from panics in handlers.
func RecoveryMiddleware(log *slog.Logger) Middleware {
	return func(next shared.EventHandler) shared.EventHandler {
		return func(ctx context.Context, event shared.Event) (err error) {
			defer func() {
				if r := recover(); r != nil {
					log.Error("handler panic recovered",
						"event_type", event.EventType(),
						"panic", r,
						"stack", string(debug.Stack()),
					)
					err = errors.Join(ErrHandlerPanic, panicError(r))
				}
			}()
			return next(ctx, event)
		}
	}
}

// LoggingMiddleware logs handler execution.
func LoggingMiddleware(log *slog.Logger) Middleware {
	return func(next shared.EventHandler) shared.EventHandler {
		return func(ctx context.Context, event shared.Event) error {
			start := time.Now()
			err := next(ctx, event)
			duration := time.Since(start)

			if err != nil {
				log.Warn("handler attempt failed",
					"event_type", event.EventType(),
					"aggregate_id", event.AggregateID(),
					"duration", duration,
					logger.Err(err),
				)
			} else {
				log.Debug("handler completed",
					"event_type", event.EventType(),
					"aggregate_id", event.AggregateID(),
					"duration", duration,
				)
			}
			return err
		}
	}
}

// MetricsMiddleware collects handler metrics.
func MetricsMiddleware(metrics *DispatcherMetrics) Middleware {
	return func(next shared.EventHandler) shared.EventHandler {
		return func(ctx context.Context, event shared.Event) error {
			start := time.Now()
			err := next(ctx, event)
			metrics.RecordExecution(event.EventType(), time.Since(start), err == nil)
			return err
		}
	}
}

// TimeoutMiddleware bounds each attempt with a context deadline.
func TimeoutMiddleware(timeout time.Duration) Middleware {
	return func(next shared.EventHandler) shared.EventHandler {
		return func(ctx context.Context, event shared.Event) error {
			ctx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()
			return next(ctx, event)
		}
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// EVENT DISPATCHING
// ══════════════════════════════════════════════════════════════════════════════

// Start subscribes every registered listener to the bus.
func (d *Dispatcher) Start() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.started {
		return nil
	}
	for _, r := range d.regs {
		handler := d.build(r.reg, d.middlewares)
		d.byName[r.reg.Name] = handler

		var err error
		if r.eventType == "" {
			err = d.eventBus.SubscribeAll(handler)
		} else {
			err = d.eventBus.Subscribe(r.eventType, handler)
		}
		if err != nil {
			return fmt.Errorf("subscribe %s: %w", r.reg.Name, err)
		}
	}
	d.started = true
	d.logger.Info("dispatcher started", "handlers", len(d.regs))
	return nil
}

// build composes middleware, timeout, retry and dead-lettering for one listener.
func (d *Dispatcher) build(reg HandlerRegistration, middlewares []Middleware) shared.EventHandler {
	attempt := TimeoutMiddleware(reg.Timeout)(reg.Handler)
	for i := len(middlewares) - 1; i >= 0; i-- {
		attempt = middlewares[i](attempt)
	}

	retrier := retry.ListenerRetrier(reg.MaxRetries+1, d.retryConfig.InitialBackoff).With(
		retry.WithRetryIf(func(error) bool { return true }),
		retry.WithOnRetry(func(n int, err error, delay time.Duration) {
			d.metrics.RecordRetry()
			d.logger.Debug("retrying handler", "handler", reg.Name, "attempt", n, "backoff", delay, logger.Err(err))
		}),
	)

	return func(ctx context.Context, event shared.Event) error {
		attempts := 0
		err := retrier.Do(ctx, func(ctx context.Context) error {
			attempts++
			return attempt(ctx, event)
		})
		if err == nil {
			if attempts > 1 {
				d.metrics.RecordRetrySuccess()
			}
			return nil
		}

		d.metrics.RecordFailure(event.EventType())
		if d.deadLetterQ != nil {
			d.deadLetterQ.Add(DeadLetterEntry{
				Event:       event,
				HandlerName: reg.Name,
				Error:       err,
				Attempts:    attempts,
				FailedAt:    time.Now(),
			})
		}
		d.logger.Error("handler gave up",
			"handler", reg.Name,
			"event_type", event.EventType(),
			"aggregate_id", event.AggregateID(),
			"attempts", attempts,
			logger.Err(err),
		)
		return fmt.Errorf("handler %s failed after %d attempts: %w", reg.Name, attempts, err)
	}
}

// ReplayDeadLetters re-runs dead-lettered events through their listeners, in
// the order they failed. Entries that fail again go back to the queue.
// It returns how many entries were handled successfully.
//
// Replayed events run outside the per-user lanes, so they may land after
// newer submissions of the same user. Stats treat such answers as late and
// leave the streak alone.
func (d *Dispatcher) ReplayDeadLetters(ctx context.Context, limit int) (int, error) {
	if d.deadLetterQ == nil {
		return 0, nil
	}

	d.mu.RLock()
	handlers := make(map[string]shared.EventHandler, len(d.byName))
	for name, h := range d.byName {
		handlers[name] = h
	}
	d.mu.RUnlock()

	entries := d.deadLetterQ.Drain(limit)
	replayed := 0
	for i, entry := range entries {
		if err := ctx.Err(); err != nil {
			for _, rest := range entries[i:] {
				d.deadLetterQ.Add(rest)
			}
			return replayed, err
		}

		handler := handlers[entry.HandlerName]
		if handler == nil {
			d.logger.Warn("dropping dead letter for unknown handler", "handler", entry.HandlerName)
			continue
		}
		// a failing replay is dead-lettered again by the handler itself
		if err := handler(ctx, entry.Event); err == nil {
			replayed++
		}
	}
	return replayed, nil
}

// Metrics returns dispatcher metrics.
func (d *Dispatcher) Metrics() *DispatcherMetrics {
	return d.metrics
}

// DeadLetterQueue returns the dead letter queue.
func (d *Dispatcher) DeadLetterQueue() *DeadLetterQueue {
	return d.deadLetterQ
}

// ══════════════════════════════════════════════════════════════════════════════
// DEAD LETTER QUEUE
// ══════════════════════════════════════════════════════════════════════════════

// DeadLetterEntry represents a failed event.
type DeadLetterEntry struct {
	Event       shared.Event
	HandlerName string
	Error       error
	Attempts    int
	FailedAt    time.Time
}

// DeadLetterQueue stores events that failed processing.
type DeadLetterQueue struct {
	mu      sync.RWMutex
	entries []DeadLetterEntry
	maxSize int
	dropped int64
}

// NewDeadLetterQueue creates a new dead letter queue.
func NewDeadLetterQueue(maxSize int) *DeadLetterQueue {
	if maxSize <= 0 {
		maxSize = 1000
	}
	return &DeadLetterQueue{maxSize: maxSize}
}

// Add adds an entry to the queue, evicting the oldest when full.
func (q *DeadLetterQueue) Add(entry DeadLetterEntry) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.entries) >= q.maxSize {
		q.entries = q.entries[1:]
		q.dropped++
	}
	q.entries = append(q.entries, entry)
}

// Entries returns all entries.
func (q *DeadLetterQueue) Entries() []DeadLetterEntry {
	q.mu.RLock()
	defer q.mu.RUnlock()

	result := make([]DeadLetterEntry, len(q.entries))
	copy(result, q.entries)
	return result
}

// Drain removes and returns up to limit oldest entries; limit <= 0 means all.
func (q *DeadLetterQueue) Drain(limit int) []DeadLetterEntry {
	q.mu.Lock()
	defer q.mu.Unlock()

	n := len(q.entries)
	if limit > 0 && limit < n {
		n = limit
	}
	out := make([]DeadLetterEntry, n)
	copy(out, q.entries[:n])
	q.entries = q.entries[n:]
	return out
}

// Size returns the current queue size.
func (q *DeadLetterQueue) Size() int {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return len(q.entries)
}

// Dropped returns how many entries were evicted because the queue was full.
func (q *DeadLetterQueue) Dropped() int64 {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return q.dropped
}

// ══════════════════════════════════════════════════════════════════════════════
// DISPATCHER METRICS
// ══════════════════════════════════════════════════════════════════════════════

// DispatcherMetrics tracks dispatcher performance.
type DispatcherMetrics struct {
	mu sync.RWMutex

	ExecutionsTotal int64
	SuccessTotal    int64
	AttemptFailures int64
	GaveUpTotal     int64
	RetriesTotal    int64
	RetrySuccesses  int64

	TotalDuration    time.Duration
	ExecutionsByType map[shared.EventType]int64
	GaveUpByType     map[shared.EventType]int64
}

// NewDispatcherMetrics creates new dispatcher metrics.
func NewDispatcherMetrics() *DispatcherMetrics {
	return &DispatcherMetrics{
		ExecutionsByType: make(map[shared.EventType]int64),
		GaveUpByType:     make(map[shared.EventType]int64),
	}
}

// RecordExecution records a single handler attempt.
func (m *DispatcherMetrics) RecordExecution(eventType shared.EventType, duration time.Duration, success bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.ExecutionsTotal++
	m.TotalDuration += duration
	m.ExecutionsByType[eventType]++
	if success {
		m.SuccessTotal++
	} else {
		m.AttemptFailures++
	}
}

// RecordRetry records a scheduled retry.
func (m *DispatcherMetrics) RecordRetry() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.RetriesTotal++
}

// RecordRetrySuccess records a delivery that succeeded after retrying.
func (m *DispatcherMetrics) RecordRetrySuccess() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.RetrySuccesses++
}

// RecordFailure records a delivery that exhausted its retries.
func (m *DispatcherMetrics) RecordFailure(eventType shared.EventType) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.GaveUpTotal++
	m.GaveUpByType[eventType]++
}

// Snapshot returns a point-in-time snapshot.
func (m *DispatcherMetrics) Snapshot() DispatcherMetricsSnapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()

	avgDuration := time.Duration(0)
	if m.ExecutionsTotal > 0 {
		avgDuration = m.TotalDuration / time.Duration(m.ExecutionsTotal)
	}
	successRate := 1.0
	if m.ExecutionsTotal > 0 {
		successRate = float64(m.SuccessTotal) / float64(m.ExecutionsTotal)
	}

	return DispatcherMetricsSnapshot{
		TotalExecutions: m.ExecutionsTotal,
		AttemptFailures: m.AttemptFailures,
		GaveUp:          m.GaveUpTotal,
		TotalRetries:    m.RetriesTotal,
		RetrySuccesses:  m.RetrySuccesses,
		SuccessRate:     successRate,
		AverageDuration: avgDuration,
	}
}

// DispatcherMetricsSnapshot is a point-in-time snapshot.
type DispatcherMetricsSnapshot struct {
	TotalExecutions int64         `json:"total_executions"`
	AttemptFailures int64         `json:"attempt_failures"`
	GaveUp          int64         `json:"gave_up"`
	TotalRetries    int64         `json:"total_retries"`
	RetrySuccesses  int64         `json:"retry_successes"`
	SuccessRate     float64       `json:"success_rate"`
	AverageDuration time.Duration `json:"average_duration"`
}

func panicError(r any) error {
	if err, ok := r.(error); ok {
		return err
	}
	return fmt.Errorf("%v", r)
}
