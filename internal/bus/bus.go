package bus

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/latticehq/lattice/backend/internal/infrastructure/monitoring"
	"github.com/latticehq/lattice/backend/internal/logging"
	"github.com/latticehq/lattice/backend/internal/shared/types"
)

// Handler processes one dispatched event. Handlers run synchronously on
// the emitter's call stack and must not block.
type Handler func(ev types.Event)

// Unsubscribe removes a subscription. Safe to call more than once.
type Unsubscribe func()

// Drop reasons used for metrics and debug logging
const (
	dropHopLimit = "hop_limit"
	dropSeenBy   = "seen_by"
)

type subscription struct {
	id      uint64
	handler Handler
}

// Bus is the local event bus for one context (one canvas/host process).
// Constructor-injected everywhere; never a package-level singleton, so
// multiple hosts can coexist in one process.
type Bus struct {
	contextID string
	maxHops   int
	logger    *logging.Logger
	metrics   *monitoring.Metrics

	mu     sync.RWMutex
	nextID uint64
	subs   map[types.Scope]map[string][]subscription
}

// Option configures a Bus
type Option func(*Bus)

// WithMetrics attaches a metrics collector
func WithMetrics(m *monitoring.Metrics) Option {
	return func(b *Bus) { b.metrics = m }
}

// WithMaxHops overrides the default hop limit
func WithMaxHops(n int) Option {
	return func(b *Bus) { b.maxHops = n }
}

// New creates an event bus for the given local context id.
func New(contextID string, logger *logging.Logger, opts ...Option) *Bus {
	b := &Bus{
		contextID: contextID,
		maxHops:   types.MaxHops,
		logger:    logger.Component("bus"),
		subs:      make(map[types.Scope]map[string][]subscription),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// ContextID returns the local context id this bus stamps into seen-by sets.
func (b *Bus) ContextID() string {
	return b.contextID
}

// On subscribes a handler to events of the given scope and type. The
// wildcard type "*" matches every event of the scope. Returns an
// unsubscribe function.
func (b *Bus) On(scope types.Scope, eventType string, handler Handler) Unsubscribe {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.subs[scope] == nil {
		b.subs[scope] = make(map[string][]subscription)
	}

	b.nextID++
	sub := subscription{id: b.nextID, handler: handler}
	b.subs[scope][eventType] = append(b.subs[scope][eventType], sub)

	subID := sub.id
	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()

		list := b.subs[scope][eventType]
		for i, s := range list {
			if s.id == subID {
				b.subs[scope][eventType] = append(list[:i:i], list[i+1:]...)
				return
			}
		}
	}
}

// Emit dispatches an event synchronously to all matching subscribers.
// Metadata-bearing events are subject to the loop checks; an event
// failing either check is dropped and never re-emitted. Returns whether
// the event was dispatched.
func (b *Bus) Emit(ev types.Event) bool {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}

	if md := ev.Metadata; md != nil {
		if md.HopCount > b.maxHops {
			b.drop(ev, dropHopLimit)
			return false
		}
		if md.Seen(b.contextID) {
			b.drop(ev, dropSeenBy)
			return false
		}
		// Local processing is about to happen; the next boundary must
		// be able to refuse a re-delivery.
		md.MarkSeen(b.contextID)
	}

	handlers := b.match(ev.Scope, ev.Type)

	if b.metrics != nil {
		b.metrics.EventsEmitted.WithLabelValues(string(ev.Scope), ev.Type).Inc()
	}

	for _, h := range handlers {
		h(ev)
	}
	return true
}

// match snapshots the handler list so handlers can subscribe, emit, or
// unsubscribe re-entrantly without deadlocking.
func (b *Bus) match(scope types.Scope, eventType string) []Handler {
	b.mu.RLock()
	defer b.mu.RUnlock()

	byType := b.subs[scope]
	if byType == nil {
		return nil
	}

	exact := byType[eventType]
	wild := byType[types.EventTypeWildcard]

	out := make([]Handler, 0, len(exact)+len(wild))
	for _, s := range exact {
		out = append(out, s.handler)
	}
	for _, s := range wild {
		out = append(out, s.handler)
	}
	return out
}

// SubscriberCount reports how many handlers match the scope and type,
// wildcard included.
func (b *Bus) SubscriberCount(scope types.Scope, eventType string) int {
	return len(b.match(scope, eventType))
}

// drop records a loop-prevention rejection. Debug level: high-frequency
// and non-actionable for most callers.
func (b *Bus) drop(ev types.Event, reason string) {
	if b.metrics != nil {
		b.metrics.EventsDropped.WithLabelValues(reason).Inc()
	}
	fields := []zap.Field{
		zap.String("type", ev.Type),
		zap.String("reason", reason),
	}
	if ev.Metadata != nil {
		fields = append(fields,
			zap.String("event_id", ev.Metadata.EventID),
			zap.Int("hop_count", ev.Metadata.HopCount),
		)
	}
	b.logger.Debug("Dropped event", fields...)
}
