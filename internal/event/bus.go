package event

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/djames1987/DracoSoft-Server/pkg/logger"
)

// Bus errors.
var (
	ErrBusStopped = errors.New("event bus stopped")
	ErrQueueFull  = errors.New("event queue full")
)

const (
	// DefaultQueueSize bounds the number of enqueued, unprocessed events.
	DefaultQueueSize = 4096

	// DefaultHistorySize bounds the retained event history.
	DefaultHistorySize = 1000
)

// registration binds a handler to an event type with priority and owner.
type registration struct {
	handler  Handler
	filter   Filter
	owner    string
	priority Priority
	seq      uint64 // registration order, stable tiebreak
}

// queued carries an event through the FIFO queue. The completion channel is a
// side channel for EmitAndWait callers; it is never stored in the event
// payload.
type queued struct {
	event *Event
	done  chan struct{}
}

// Metrics receives bus telemetry. Implemented by internal/metrics; nil-safe.
type Metrics interface {
	EventEmitted(eventType string)
	EventProcessed(eventType string, handlers int, elapsed time.Duration)
	QueueDepth(n int)
}

// Bus routes events to prioritized handlers through one strictly ordered
// processing loop. Register/unregister are safe concurrently with delivery.
type Bus struct {
	log     *logger.Logger
	metrics Metrics

	mu       sync.RWMutex
	handlers map[string][]registration
	nextSeq  uint64
	stopped  bool

	queue chan queued
	quit  chan struct{}
	doneC chan struct{}

	histMu      sync.RWMutex
	history     []*Event
	historySize int
}

// Option configures a Bus.
type Option func(*Bus)

// WithQueueSize overrides the queue bound.
func WithQueueSize(n int) Option {
	return func(b *Bus) {
		if n > 0 {
			b.queue = make(chan queued, n)
		}
	}
}

// WithHistorySize overrides the history capacity.
func WithHistorySize(n int) Option {
	return func(b *Bus) {
		if n > 0 {
			b.historySize = n
		}
	}
}

// WithMetrics attaches a telemetry sink.
func WithMetrics(m Metrics) Option {
	return func(b *Bus) { b.metrics = m }
}

// NewBus creates a bus. Call Start before emitting.
func NewBus(log *logger.Logger, opts ...Option) *Bus {
	b := &Bus{
		log:         log.Named("bus"),
		handlers:    make(map[string][]registration),
		queue:       make(chan queued, DefaultQueueSize),
		quit:        make(chan struct{}),
		doneC:       make(chan struct{}),
		historySize: DefaultHistorySize,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Start launches the processing loop.
func (b *Bus) Start() {
	go b.run()
	b.log.Info("event bus started")
}

// Stop drains the queue synchronously before stopping, so enqueued events are
// not silently dropped. Emit fails after Stop returns.
func (b *Bus) Stop() {
	b.mu.Lock()
	if b.stopped {
		b.mu.Unlock()
		return
	}
	b.stopped = true
	b.mu.Unlock()

	close(b.quit)
	<-b.doneC
	b.log.Info("event bus stopped")
}

// Register inserts a handler for an event type. Handlers for a type are kept
// sorted descending by priority; equal priorities keep registration order.
func (b *Bus) Register(eventType string, handler Handler, owner string, priority Priority, filter Filter) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextSeq++
	regs := append(b.handlers[eventType], registration{
		handler:  handler,
		filter:   filter,
		owner:    owner,
		priority: priority,
		seq:      b.nextSeq,
	})
	sort.SliceStable(regs, func(i, j int) bool {
		if regs[i].priority != regs[j].priority {
			return regs[i].priority > regs[j].priority
		}
		return regs[i].seq < regs[j].seq
	})
	b.handlers[eventType] = regs

	b.log.WithFields(map[string]interface{}{
		"event_type": eventType,
		"owner":      owner,
		"priority":   priority.String(),
	}).Debug("handler registered")
}

// Unregister removes every handler the owner registered for one event type.
func (b *Bus) Unregister(eventType, owner string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[eventType] = removeOwner(b.handlers[eventType], owner)
}

// UnregisterAll removes every handler the owner registered, across all event
// types. The manager calls this on module unload. Delivery already in flight
// finishes; the owner is excluded from subsequent dispatch.
func (b *Bus) UnregisterAll(owner string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for eventType, regs := range b.handlers {
		b.handlers[eventType] = removeOwner(regs, owner)
	}
}

func removeOwner(regs []registration, owner string) []registration {
	out := regs[:0]
	for _, r := range regs {
		if r.owner != owner {
			out = append(out, r)
		}
	}
	return out
}

// HandlerCount returns the number of handlers registered for an event type.
func (b *Bus) HandlerCount(eventType string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.handlers[eventType])
}

// Emit enqueues an event and returns immediately. There is no delivery
// guarantee at return time.
func (b *Bus) Emit(e *Event) error {
	return b.enqueue(queued{event: e})
}

// EmitAndWait enqueues an event and blocks until the processing loop has
// delivered it to every handler, or the timeout elapses. It returns true when
// delivery finished in time. On timeout the event is still processed
// eventually.
func (b *Bus) EmitAndWait(e *Event, timeout time.Duration) bool {
	done := make(chan struct{})
	if err := b.enqueue(queued{event: e, done: done}); err != nil {
		return false
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-done:
		return true
	case <-timer.C:
		return false
	}
}

func (b *Bus) enqueue(item queued) error {
	// The send happens under the same lock Stop takes to flip stopped, so an
	// accepted event is always enqueued before Stop starts draining.
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.stopped {
		return fmt.Errorf("%w: dropping %s", ErrBusStopped, item.event.Type)
	}

	select {
	case b.queue <- item:
		if b.metrics != nil {
			b.metrics.EventEmitted(item.event.Type)
			b.metrics.QueueDepth(len(b.queue))
		}
		return nil
	default:
		b.log.WithField("event_type", item.event.Type).Warn("event queue full, dropping event")
		return fmt.Errorf("%w: dropping %s", ErrQueueFull, item.event.Type)
	}
}

// run is the single processing loop: strict FIFO over the queue, handlers in
// priority order per event.
func (b *Bus) run() {
	defer close(b.doneC)
	for {
		select {
		case item := <-b.queue:
			b.process(item)
		case <-b.quit:
			// Drain what was enqueued before the stop.
			for {
				select {
				case item := <-b.queue:
					b.process(item)
				default:
					return
				}
			}
		}
	}
}

func (b *Bus) process(item queued) {
	e := item.event
	start := time.Now()

	b.mu.RLock()
	regs := make([]registration, len(b.handlers[e.Type]))
	copy(regs, b.handlers[e.Type])
	b.mu.RUnlock()

	delivered := 0
	for _, reg := range regs {
		if !e.Propagating() {
			break
		}
		if reg.filter != nil && !reg.filter(e) {
			continue
		}
		b.invoke(reg, e)
		delivered++
	}

	b.appendHistory(e)

	if item.done != nil {
		close(item.done)
	}
	if b.metrics != nil {
		b.metrics.EventProcessed(e.Type, delivered, time.Since(start))
		b.metrics.QueueDepth(len(b.queue))
	}
}

// invoke runs one handler with panic isolation: a failing handler never
// aborts the remaining handlers or future events.
func (b *Bus) invoke(reg registration, e *Event) {
	defer func() {
		if r := recover(); r != nil {
			b.log.WithFields(map[string]interface{}{
				"event_type": e.Type,
				"owner":      reg.owner,
				"panic":      fmt.Sprint(r),
			}).Error("event handler panicked")
		}
	}()
	reg.handler(e)
}

func (b *Bus) appendHistory(e *Event) {
	b.histMu.Lock()
	defer b.histMu.Unlock()
	b.history = append(b.history, e)
	if len(b.history) > b.historySize {
		// Evict oldest first.
		b.history = b.history[len(b.history)-b.historySize:]
	}
}

// History returns retained events newest-first, optionally filtered by type
// and source, bounded by limit.
func (b *Bus) History(eventType, source string, limit int) []*Event {
	b.histMu.RLock()
	defer b.histMu.RUnlock()

	if limit <= 0 {
		limit = 100
	}
	out := make([]*Event, 0, limit)
	for i := len(b.history) - 1; i >= 0 && len(out) < limit; i-- {
		e := b.history[i]
		if eventType != "" && e.Type != eventType {
			continue
		}
		if source != "" && e.Source != source {
			continue
		}
		out = append(out, e)
	}
	return out
}
