package router

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/latticehq/lattice/backend/internal/bus"
	"github.com/latticehq/lattice/backend/internal/infrastructure/config"
	"github.com/latticehq/lattice/backend/internal/infrastructure/monitoring"
	"github.com/latticehq/lattice/backend/internal/infrastructure/resilience"
	"github.com/latticehq/lattice/backend/internal/logging"
	"github.com/latticehq/lattice/backend/internal/shared/id"
	"github.com/latticehq/lattice/backend/internal/shared/types"
)

// ScopeTransport carries events and presence between scopes. The wire
// is an external collaborator (WebSocket bridge, in-process fake in
// tests).
type ScopeTransport interface {
	Send(targetScopeID string, ev types.Event) error
	Announce(localScopeID string) error
}

// DiscoveryHandler observes scope table changes
type DiscoveryHandler func(scopeID string, lost bool)

// RemoteScope is one entry in the live scope table
type RemoteScope struct {
	ScopeID   string    `json:"scope_id"`
	FirstSeen time.Time `json:"first_seen"`
	LastSeen  time.Time `json:"last_seen"`
}

type subscription struct {
	id      string
	scopeID string
	// nil set means every type
	eventTypes map[string]struct{}
}

// Router routes events across isolation boundaries for one local scope.
type Router struct {
	localScopeID string
	eventBus     *bus.Bus
	transport    ScopeTransport
	cfg          config.DiscoveryConfig
	logger       *logging.Logger
	metrics      *monitoring.Metrics

	mu        sync.RWMutex
	scopes    map[string]*RemoteScope
	subs      map[string]*subscription
	handlers  []DiscoveryHandler
	breakers  map[string]*resilience.Breaker
	heartbeat chan struct{}
	started   bool
}

// Option configures a Router
type Option func(*Router)

// WithMetrics attaches a metrics collector
func WithMetrics(m *monitoring.Metrics) Option {
	return func(r *Router) { r.metrics = m }
}

// New creates a router for the given local scope. The bus's context id
// is used as the loop-prevention origin.
func New(localScopeID string, eventBus *bus.Bus, transport ScopeTransport, cfg config.DiscoveryConfig, logger *logging.Logger, opts ...Option) *Router {
	r := &Router{
		localScopeID: localScopeID,
		eventBus:     eventBus,
		transport:    transport,
		cfg:          cfg,
		logger:       logger.Component("router"),
		scopes:       make(map[string]*RemoteScope),
		subs:         make(map[string]*subscription),
		breakers:     make(map[string]*resilience.Breaker),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Start launches the heartbeat loop: announce presence every interval,
// prune scopes whose heartbeat went stale.
func (r *Router) Start() {
	r.mu.Lock()
	if r.started {
		r.mu.Unlock()
		return
	}
	r.started = true
	r.heartbeat = make(chan struct{})
	stop := r.heartbeat
	r.mu.Unlock()

	go func() {
		ticker := time.NewTicker(r.cfg.HeartbeatInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if err := r.transport.Announce(r.localScopeID); err != nil {
					r.logger.Warn("Presence announce failed", zap.Error(err))
				}
				r.pruneStale()
			case <-stop:
				return
			}
		}
	}()
}

// Stop terminates the heartbeat loop. Safe to call without Start.
func (r *Router) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.started {
		return
	}
	r.started = false
	close(r.heartbeat)
}

// HandleAnnounce records a remote scope's presence. Idempotent:
// rediscovery refreshes LastSeen without duplicating the entry, and
// discovery handlers fire only on first sight.
func (r *Router) HandleAnnounce(scopeID string) {
	if scopeID == r.localScopeID {
		return
	}

	now := time.Now()
	r.mu.Lock()
	scope, known := r.scopes[scopeID]
	if known {
		scope.LastSeen = now
		r.mu.Unlock()
		return
	}
	r.scopes[scopeID] = &RemoteScope{ScopeID: scopeID, FirstSeen: now, LastSeen: now}
	handlers := append([]DiscoveryHandler(nil), r.handlers...)
	count := len(r.scopes)
	r.mu.Unlock()

	if r.metrics != nil {
		r.metrics.ScopesKnown.Set(float64(count))
	}
	r.logger.Info("Discovered remote scope", zap.String("scope_id", scopeID))
	r.eventBus.Emit(types.Event{
		Type:      types.EventScopeDiscovered,
		Scope:     types.ScopeSystem,
		Payload:   map[string]interface{}{"scopeId": scopeID},
		Timestamp: now,
	})
	for _, h := range handlers {
		h(scopeID, false)
	}
}

// pruneStale drops scopes whose heartbeat has not refreshed within the
// timeout.
func (r *Router) pruneStale() {
	cutoff := time.Now().Add(-r.cfg.ScopeTimeout)

	r.mu.Lock()
	var lost []string
	for sid, scope := range r.scopes {
		if scope.LastSeen.Before(cutoff) {
			lost = append(lost, sid)
			delete(r.scopes, sid)
			delete(r.breakers, sid)
		}
	}
	handlers := append([]DiscoveryHandler(nil), r.handlers...)
	count := len(r.scopes)
	r.mu.Unlock()

	if len(lost) == 0 {
		return
	}
	if r.metrics != nil {
		r.metrics.ScopesKnown.Set(float64(count))
	}
	for _, sid := range lost {
		r.logger.Info("Remote scope lost", zap.String("scope_id", sid))
		r.eventBus.Emit(types.Event{
			Type:      types.EventScopeLost,
			Scope:     types.ScopeSystem,
			Payload:   map[string]interface{}{"scopeId": sid},
			Timestamp: time.Now(),
		})
		for _, h := range handlers {
			h(sid, true)
		}
	}
}

// OnDiscovery registers a handler for scope discovery and loss
func (r *Router) OnDiscovery(h DiscoveryHandler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers = append(r.handlers, h)
}

// Scopes returns a snapshot of the known remote scope table
func (r *Router) Scopes() []RemoteScope {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]RemoteScope, 0, len(r.scopes))
	for _, s := range r.scopes {
		out = append(out, *s)
	}
	return out
}

// SendToScope delivers an event to one remote scope, stamping
// loop-prevention metadata if the event carries none.
func (r *Router) SendToScope(targetScopeID string, ev types.Event) types.RouteResult {
	r.mu.RLock()
	_, known := r.scopes[targetScopeID]
	r.mu.RUnlock()
	if !known {
		r.recordSend("unreachable")
		r.logger.Warn("Send to unreachable scope",
			zap.String("target_scope", targetScopeID),
			zap.String("event_type", ev.Type),
		)
		return types.RouteResult{Errors: []types.DeliveryError{{
			Code:   types.DeliveryUnreachable,
			Reason: fmt.Sprintf("scope %s not in route table", targetScopeID),
		}}}
	}

	ev = r.stamp(ev)
	if err := r.breakerFor(targetScopeID).Execute(func() error {
		return r.transport.Send(targetScopeID, ev)
	}); err != nil {
		r.recordSend("error")
		r.logger.Warn("Cross-boundary send failed",
			zap.String("target_scope", targetScopeID),
			zap.Error(err),
		)
		return types.RouteResult{Errors: []types.DeliveryError{{
			Code:   types.DeliveryUnreachable,
			Reason: err.Error(),
		}}}
	}

	r.recordSend("sent")
	return types.RouteResult{Delivered: []types.Delivery{{Code: types.DeliveryOK}}}
}

// BroadcastToAll sends an event to every known remote scope. One stamp
// for the whole broadcast, so every copy shares the logical event id.
func (r *Router) BroadcastToAll(ev types.Event) types.RouteResult {
	r.mu.RLock()
	targets := make([]string, 0, len(r.scopes))
	for sid := range r.scopes {
		targets = append(targets, sid)
	}
	r.mu.RUnlock()

	ev = r.stamp(ev)
	var result types.RouteResult
	for _, sid := range targets {
		sub := r.SendToScope(sid, ev)
		result.Delivered = append(result.Delivered, sub.Delivered...)
		result.Errors = append(result.Errors, sub.Errors...)
	}
	return result
}

// stamp fills in loop-prevention metadata when absent. Events that
// already carry metadata pass through untouched; they are mid-journey.
func (r *Router) stamp(ev types.Event) types.Event {
	if ev.Metadata != nil {
		return ev
	}
	ev.Metadata = &types.EventMetadata{
		EventID:         uuid.NewString(),
		OriginContextID: r.eventBus.ContextID(),
		SeenBy:          []string{r.eventBus.ContextID()},
		HopCount:        0,
		OriginTimestamp: time.Now().UnixMilli(),
	}
	return ev
}

// Receive accepts an event arriving from a remote scope: refresh the
// sender's table entry, increment the hop count, then hand it to the
// local bus, which applies the seen-by and hop-limit checks before
// dispatch.
func (r *Router) Receive(fromScopeID string, ev types.Event) bool {
	r.HandleAnnounce(fromScopeID)

	if ev.Metadata == nil {
		r.logger.Warn("Dropping cross-boundary event without metadata",
			zap.String("from_scope", fromScopeID),
			zap.String("event_type", ev.Type),
		)
		return false
	}
	if !r.subscribed(fromScopeID, ev.Type) {
		return false
	}

	ev.Metadata = ev.Metadata.Clone()
	ev.Metadata.HopCount++

	delivered := r.eventBus.Emit(ev)
	if !delivered && r.metrics != nil {
		r.metrics.LoopRejections.WithLabelValues("bus_check").Inc()
	}
	return delivered
}

// SubscribeToScope narrows which event types re-dispatch locally from a
// given remote scope. With no subscriptions for a scope, everything
// passes; the first subscription switches that scope to allow-list
// mode. Empty eventTypes subscribes to every type.
func (r *Router) SubscribeToScope(scopeID string, eventTypes []string) string {
	sub := &subscription{
		id:      string(id.NewSubscriptionID()),
		scopeID: scopeID,
	}
	if len(eventTypes) > 0 {
		sub.eventTypes = make(map[string]struct{}, len(eventTypes))
		for _, t := range eventTypes {
			sub.eventTypes[t] = struct{}{}
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.subs[sub.id] = sub
	return sub.id
}

// Unsubscribe removes a scope subscription. Unknown ids are a no-op.
func (r *Router) Unsubscribe(subscriptionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.subs, subscriptionID)
}

func (r *Router) subscribed(scopeID, eventType string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	scoped := false
	for _, sub := range r.subs {
		if sub.scopeID != scopeID {
			continue
		}
		scoped = true
		if sub.eventTypes == nil {
			return true
		}
		if _, ok := sub.eventTypes[eventType]; ok {
			return true
		}
	}
	return !scoped
}

// breakerFor returns the per-scope circuit breaker, creating it lazily
func (r *Router) breakerFor(scopeID string) *resilience.Breaker {
	r.mu.Lock()
	defer r.mu.Unlock()

	if b, ok := r.breakers[scopeID]; ok {
		return b
	}
	b := resilience.New("scope:"+scopeID, resilience.Settings{
		MaxRequests: 1,
		Timeout:     r.cfg.HeartbeatInterval,
	})
	r.breakers[scopeID] = b
	return b
}

func (r *Router) recordSend(outcome string) {
	if r.metrics != nil {
		r.metrics.RemoteSends.WithLabelValues(outcome).Inc()
	}
}
