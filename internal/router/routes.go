package router

import (
	"fmt"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"go.uber.org/zap"

	"github.com/latticehq/lattice/backend/internal/pipeline"
	"github.com/latticehq/lattice/backend/internal/shared/id"
	"github.com/latticehq/lattice/backend/internal/shared/types"
)

// EventTypeRouteDeliver wraps a canvas-route delivery crossing a scope
// boundary. Payload is a RouteEnvelope.
const EventTypeRouteDeliver = "route:deliver"

// RouteEnvelope is the cross-scope payload of a canvas-route delivery
type RouteEnvelope struct {
	RouteID string             `json:"routeId"`
	Target  types.ScopePortRef `json:"target"`
	Payload types.PortPayload  `json:"payload"`
}

// WidgetResolver finds the live instance of a widget within the local
// scope and pushes inputs into it. Implemented by host glue over the
// registry and the pipeline's channel adapters.
type WidgetResolver interface {
	// InstanceOf returns the live instance id for a manifest id, or
	// false when the widget is not mounted locally.
	InstanceOf(widgetID string) (string, bool)
	// WidgetOf returns the manifest id of a live instance.
	WidgetOf(instanceID string) (string, bool)
	// DeliverInput pushes a typed payload into a mounted instance.
	DeliverInput(instanceID string, payload types.PortPayload) (types.DeliveryCode, error)
}

// RouteTable owns CanvasRoutes: port-to-port links between scopes whose
// lifecycle is independent of any widget instance. Routes survive
// widget remounts; routing while an endpoint is unmounted is a no-op.
type RouteTable struct {
	router   *Router
	resolver WidgetResolver

	mu     sync.RWMutex
	routes map[string]*types.CanvasRoute
}

// NewRouteTable creates a route table bound to a router and a local
// widget resolver, and wires it to the router's inbound deliveries.
func NewRouteTable(r *Router, resolver WidgetResolver) *RouteTable {
	t := &RouteTable{
		router:   r,
		resolver: resolver,
		routes:   make(map[string]*types.CanvasRoute),
	}
	r.eventBus.On(types.ScopeSystem, EventTypeRouteDeliver, t.handleInbound)
	r.eventBus.On(types.ScopeCanvas, pipeline.EventTypePortOutput, t.handleLocalOutput)
	return t
}

// AddRoute links a source port in one scope to a target port in
// another. Either endpoint may be unmounted at creation time.
func (t *RouteTable) AddRoute(sourceScopeID string, source types.ScopePortRef, targetScopeID string, target types.ScopePortRef, bidirectional bool) (*types.CanvasRoute, error) {
	if sourceScopeID == targetScopeID {
		return nil, fmt.Errorf("canvas routes link distinct scopes, both endpoints are %s", sourceScopeID)
	}

	route := &types.CanvasRoute{
		ID:            string(id.NewRouteID()),
		SourceScopeID: sourceScopeID,
		SourcePortRef: source,
		TargetScopeID: targetScopeID,
		TargetPortRef: target,
		Enabled:       true,
		Bidirectional: bidirectional,
		CreatedAt:     time.Now(),
	}

	t.mu.Lock()
	t.routes[route.ID] = route
	t.mu.Unlock()

	t.router.logger.Info("Added canvas route",
		zap.String("route_id", route.ID),
		zap.String("source", sourceScopeID+":"+source.WidgetID+"."+source.PortID),
		zap.String("target", targetScopeID+":"+target.WidgetID+"."+target.PortID),
	)
	cp := *route
	return &cp, nil
}

// RemoveRoute deletes a route. Unknown ids fail.
func (t *RouteTable) RemoveRoute(routeID string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.routes[routeID]; !ok {
		return fmt.Errorf("unknown route %s", routeID)
	}
	delete(t.routes, routeID)
	return nil
}

// SetRouteEnabled toggles a route without removing it
func (t *RouteTable) SetRouteEnabled(routeID string, enabled bool) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	route, ok := t.routes[routeID]
	if !ok {
		return fmt.Errorf("unknown route %s", routeID)
	}
	route.Enabled = enabled
	return nil
}

// Routes returns a snapshot of the table
func (t *RouteTable) Routes() []types.CanvasRoute {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]types.CanvasRoute, 0, len(t.routes))
	for _, route := range t.routes {
		out = append(out, *route)
	}
	return out
}

// Import restores persisted routes, keeping their ids
func (t *RouteTable) Import(routes []types.CanvasRoute) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, route := range routes {
		if _, exists := t.routes[route.ID]; exists {
			return fmt.Errorf("route %s already present", route.ID)
		}
	}
	for i := range routes {
		cp := routes[i]
		t.routes[cp.ID] = &cp
	}
	return nil
}

// handleLocalOutput forwards local pipeline emissions across any route
// whose source endpoint matches the emitting widget's port. For
// bidirectional routes the target endpoint matches in reverse.
func (t *RouteTable) handleLocalOutput(ev types.Event) {
	payload, ok := ev.Payload.(types.PortPayload)
	if !ok {
		return
	}
	widgetID, ok := t.resolver.WidgetOf(ev.SourceInstanceID)
	if !ok {
		return
	}

	t.mu.RLock()
	type hop struct {
		routeID string
		scopeID string
		target  types.ScopePortRef
	}
	var hops []hop
	for _, route := range t.routes {
		if !route.Enabled {
			continue
		}
		if route.SourceScopeID == t.router.localScopeID &&
			route.SourcePortRef.WidgetID == widgetID &&
			route.SourcePortRef.PortID == payload.PortID {
			hops = append(hops, hop{route.ID, route.TargetScopeID, route.TargetPortRef})
		}
		if route.Bidirectional &&
			route.TargetScopeID == t.router.localScopeID &&
			route.TargetPortRef.WidgetID == widgetID &&
			route.TargetPortRef.PortID == payload.PortID {
			hops = append(hops, hop{route.ID, route.SourceScopeID, route.SourcePortRef})
		}
	}
	t.mu.RUnlock()

	for _, h := range hops {
		t.router.SendToScope(h.scopeID, types.Event{
			Type:  EventTypeRouteDeliver,
			Scope: types.ScopeSystem,
			Payload: RouteEnvelope{
				RouteID: h.routeID,
				Target:  h.target,
				Payload: types.PortPayload{PortID: h.target.PortID, Value: payload.Value},
			},
			Timestamp: time.Now(),
		})
	}
}

// decodeEnvelope recovers a RouteEnvelope from an event payload. Local
// emissions carry the struct directly; events that crossed the scope
// bridge arrive as decoded JSON.
func decodeEnvelope(payload interface{}) (RouteEnvelope, bool) {
	if env, ok := payload.(RouteEnvelope); ok {
		return env, true
	}
	raw, err := sonic.Marshal(payload)
	if err != nil {
		return RouteEnvelope{}, false
	}
	var env RouteEnvelope
	if err := sonic.Unmarshal(raw, &env); err != nil {
		return RouteEnvelope{}, false
	}
	return env, env.Target.WidgetID != ""
}

// handleInbound delivers a route envelope arriving from a remote scope
// to the local widget it targets. Unmounted target is a no-op, not an
// error; routes outlive instances.
func (t *RouteTable) handleInbound(ev types.Event) {
	env, ok := decodeEnvelope(ev.Payload)
	if !ok {
		return
	}
	instanceID, mounted := t.resolver.InstanceOf(env.Target.WidgetID)
	if !mounted {
		t.router.logger.Debug("Route target not mounted, skipping",
			zap.String("route_id", env.RouteID),
			zap.String("widget_id", env.Target.WidgetID),
		)
		return
	}
	if _, err := t.resolver.DeliverInput(instanceID, env.Payload); err != nil {
		t.router.logger.Warn("Route delivery failed",
			zap.String("route_id", env.RouteID),
			zap.String("instance_id", instanceID),
			zap.Error(err),
		)
	}
}
