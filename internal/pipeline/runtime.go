package pipeline

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/latticehq/lattice/backend/internal/infrastructure/monitoring"
	"github.com/latticehq/lattice/backend/internal/logging"
	"github.com/latticehq/lattice/backend/internal/shared/id"
	"github.com/latticehq/lattice/backend/internal/shared/types"
)

// EventTypePortOutput is published on the canvas scope for every routed
// output so observers (cross-boundary router, inspectors) see the same
// emission the connection graph does. Payload is a types.PortPayload.
const EventTypePortOutput = "pipeline:output"

// Deliverer pushes a typed input payload into one widget instance.
// Implemented by channel.Adapter.
type Deliverer interface {
	Deliver(payload types.PortPayload) (types.DeliveryCode, error)
}

// InstanceSource resolves live instances and their manifests.
// Implemented by registry.Manager.
type InstanceSource interface {
	Get(instanceID string) (*types.WidgetInstance, bool)
	ManifestFor(instanceID string) (*types.WidgetManifest, bool)
}

// PortChecker decides whether an output port may be wired to an input
// port. Implemented by capability.Matcher.
type PortChecker interface {
	Compatible(out, in types.PortDefinition) bool
}

// EventSink receives the events the runtime publishes (widget:error on
// undeclared ports, pipeline:output on every routed emission).
// Implemented by bus.Bus.
type EventSink interface {
	Emit(ev types.Event) bool
}

// Runtime owns the connection graph for one host and routes widget
// outputs through it. All methods are safe for concurrent use.
type Runtime struct {
	registry InstanceSource
	checker  PortChecker
	events   EventSink
	logger   *logging.Logger
	metrics  *monitoring.Metrics

	maxDepth int

	mu          sync.RWMutex
	connections map[string]*types.PipelineConnection
	order       []string // connection ids in creation order, drives delivery order
	deliverers  map[string]Deliverer

	deliveries    atomic.Int64
	routingErrors atomic.Int64
	depthAborts   atomic.Int64
}

// Option configures a Runtime
type Option func(*Runtime)

// WithMetrics attaches a metrics collector
func WithMetrics(m *monitoring.Metrics) Option {
	return func(r *Runtime) { r.metrics = m }
}

// WithMaxDepth overrides the routing chain length limit
func WithMaxDepth(n int) Option {
	return func(r *Runtime) { r.maxDepth = n }
}

// WithChecker installs a connection-time port compatibility check.
// Without one, AddConnection only verifies that the ports are declared.
func WithChecker(c PortChecker) Option {
	return func(r *Runtime) { r.checker = c }
}

// NewRuntime creates a pipeline runtime bound to a registry and an
// event sink.
func NewRuntime(registry InstanceSource, events EventSink, logger *logging.Logger, opts ...Option) *Runtime {
	r := &Runtime{
		registry:    registry,
		events:      events,
		logger:      logger.Component("pipeline"),
		maxDepth:    20,
		connections: make(map[string]*types.PipelineConnection),
		deliverers:  make(map[string]Deliverer),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// RegisterDeliverer binds an instance id to its channel adapter. Called
// by the host when a widget mounts.
func (r *Runtime) RegisterDeliverer(instanceID string, d Deliverer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.deliverers[instanceID] = d
}

// UnregisterDeliverer removes the binding. Connections referencing the
// instance stay in the graph; routing to them skips silently until a
// new instance registers.
func (r *Runtime) UnregisterDeliverer(instanceID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.deliverers, instanceID)
}

// AddConnection wires an output port to an input port. Both endpoints
// must be declared by their manifests when the instances are live, and
// the port types must be compatible; there is no coercion at routing
// time, so incompatibility is refused here. Direct cycles are legal.
func (r *Runtime) AddConnection(from, to types.PortRef) (*types.PipelineConnection, error) {
	outDef, err := r.declaredPort(from, true)
	if err != nil {
		return nil, err
	}
	inDef, err := r.declaredPort(to, false)
	if err != nil {
		return nil, err
	}
	if r.checker != nil && outDef != nil && inDef != nil {
		if !r.checker.Compatible(*outDef, *inDef) {
			return nil, fmt.Errorf("incompatible port types: %s.%s (%s) -> %s.%s (%s)",
				from.NodeID, from.PortID, outDef.Type, to.NodeID, to.PortID, inDef.Type)
		}
	}

	conn := &types.PipelineConnection{
		ID:      string(id.NewConnectionID()),
		From:    from,
		To:      to,
		Enabled: true,
	}

	r.mu.Lock()
	r.connections[conn.ID] = conn
	r.order = append(r.order, conn.ID)
	r.mu.Unlock()

	r.logger.Info("Added connection",
		zap.String("connection_id", conn.ID),
		zap.String("from", from.NodeID+"."+from.PortID),
		zap.String("to", to.NodeID+"."+to.PortID),
	)
	cp := *conn
	return &cp, nil
}

// declaredPort resolves a port definition when the node is a live
// instance. Unmounted nodes resolve to nil without error: connections
// may reference widgets that are not currently mounted.
func (r *Runtime) declaredPort(ref types.PortRef, output bool) (*types.PortDefinition, error) {
	manifest, ok := r.registry.ManifestFor(ref.NodeID)
	if !ok {
		return nil, nil
	}
	var def types.PortDefinition
	if output {
		def, ok = manifest.Output(ref.PortID)
	} else {
		def, ok = manifest.Input(ref.PortID)
	}
	if !ok {
		dir := "input"
		if output {
			dir = "output"
		}
		return nil, fmt.Errorf("widget %s declares no %s port %q", ref.NodeID, dir, ref.PortID)
	}
	return &def, nil
}

// RemoveConnection deletes a connection from the graph. Routing that
// already snapshotted it completes normally.
func (r *Runtime) RemoveConnection(connectionID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.connections[connectionID]; !ok {
		return fmt.Errorf("unknown connection %s", connectionID)
	}
	delete(r.connections, connectionID)
	for i, cid := range r.order {
		if cid == connectionID {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	return nil
}

// SetConnectionEnabled toggles a connection without removing it
func (r *Runtime) SetConnectionEnabled(connectionID string, enabled bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	conn, ok := r.connections[connectionID]
	if !ok {
		return fmt.Errorf("unknown connection %s", connectionID)
	}
	conn.Enabled = enabled
	return nil
}

// Connections returns a snapshot of the graph in creation order
func (r *Runtime) Connections() []types.PipelineConnection {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]types.PipelineConnection, 0, len(r.order))
	for _, cid := range r.order {
		if conn, ok := r.connections[cid]; ok {
			out = append(out, *conn)
		}
	}
	return out
}

// RouteOutput routes one widget output emission through the connection
// graph. It never returns a Go error to the emitting side; every
// outcome is recorded in the result. Unknown source or undeclared
// output port additionally emit exactly one widget:error event.
//
// Emissions that start a fresh chain route at depth zero; emissions a
// widget produces in reaction to a delivered input go through
// RouteOutputAt with the depth the delivery carried.
func (r *Runtime) RouteOutput(instanceID, portID string, value types.PortValue) types.RouteResult {
	return r.RouteOutputAt(instanceID, portID, value, 0)
}

// RouteOutputAt routes an emission that sits depth hops into a routing
// chain. Each delivered payload is stamped with depth+1 and the channel
// adapters echo that stamp back on the re-emissions it provokes, so the
// chain stays bounded whether handlers run on the calling goroutine or
// behind a channel pump. A chain reaching maxDepth aborts; unrelated
// chains are unaffected.
func (r *Runtime) RouteOutputAt(instanceID, portID string, value types.PortValue, depth int) types.RouteResult {
	start := time.Now()
	defer func() {
		if r.metrics != nil {
			r.metrics.RoutingDuration.Observe(time.Since(start).Seconds())
		}
	}()

	if depth >= r.maxDepth {
		r.depthAborts.Add(1)
		if r.metrics != nil {
			r.metrics.DepthAborts.Inc()
		}
		r.logger.Error("Routing chain exceeded depth limit",
			zap.String("instance_id", instanceID),
			zap.String("port_id", portID),
			zap.Int("max_depth", r.maxDepth),
		)
		return r.fail(types.DeliveryError{
			Code:   types.DeliveryDepthExceeded,
			Reason: fmt.Sprintf("routing chain deeper than %d, likely a connection cycle", r.maxDepth),
		})
	}

	source, ok := r.registry.Get(instanceID)
	if !ok {
		r.emitWidgetError(instanceID, portID, "output from unknown instance")
		return r.fail(types.DeliveryError{
			Code:   types.DeliveryUnknownSource,
			Reason: fmt.Sprintf("instance %s is not mounted", instanceID),
		})
	}

	manifest, ok := r.registry.ManifestFor(instanceID)
	if !ok {
		r.emitWidgetError(instanceID, portID, "instance has no manifest")
		return r.fail(types.DeliveryError{
			Code:   types.DeliveryUnknownSource,
			Reason: fmt.Sprintf("no manifest for instance %s", instanceID),
		})
	}
	if _, ok := manifest.Output(portID); !ok {
		r.emitWidgetError(instanceID, portID, "emission on undeclared output port")
		return r.fail(types.DeliveryError{
			Code:   types.DeliveryUnknownPort,
			Reason: fmt.Sprintf("manifest %s declares no output port %q", manifest.Key(), portID),
		})
	}

	// Suspended sources keep emitting without error, but nothing leaves
	// the widget until it resumes.
	if source.State == types.StateSuspended {
		r.record(types.DeliverySuppressed)
		return types.RouteResult{
			Errors: []types.DeliveryError{{
				Code:   types.DeliverySuppressed,
				Reason: "source suspended, output not forwarded",
			}},
		}
	}

	payload := types.PortPayload{PortID: portID, Value: value.Raw()}
	r.events.Emit(types.Event{
		Type:             EventTypePortOutput,
		Scope:            types.ScopeCanvas,
		Payload:          payload,
		SourceInstanceID: instanceID,
		Timestamp:        time.Now(),
	})

	// Snapshot matching connections; concurrent graph edits do not
	// affect this route.
	targets := r.connectionsFrom(instanceID, portID)

	var result types.RouteResult
	for _, conn := range targets {
		result = r.deliverTo(result, conn, value, depth)
	}
	return result
}

// deliverTo resolves one connection target and hands the value to its
// adapter. Dangling and torn-down targets skip silently; widgets
// unmount all the time and a stale edge is not the emitter's problem.
func (r *Runtime) deliverTo(result types.RouteResult, conn types.PipelineConnection, value types.PortValue, depth int) types.RouteResult {
	target, ok := r.registry.Get(conn.To.NodeID)
	if !ok || target.State == types.StateUnmounting || target.State == types.StateFailed {
		r.logger.Warn("Skipping dangling connection target",
			zap.String("connection_id", conn.ID),
			zap.String("target", conn.To.NodeID),
		)
		r.record(types.DeliveryDanglingTarget)
		return result
	}

	r.mu.RLock()
	deliverer, ok := r.deliverers[conn.To.NodeID]
	r.mu.RUnlock()
	if !ok {
		r.logger.Warn("No channel registered for connection target",
			zap.String("connection_id", conn.ID),
			zap.String("target", conn.To.NodeID),
		)
		r.record(types.DeliveryDanglingTarget)
		return result
	}

	code, err := deliverer.Deliver(types.PortPayload{PortID: conn.To.PortID, Value: value.Raw(), Depth: depth + 1})
	if err != nil {
		r.routingErrors.Add(1)
		r.record(types.DeliveryChannelError)
		r.logger.Error("Delivery failed",
			zap.String("connection_id", conn.ID),
			zap.String("target", conn.To.NodeID),
			zap.Error(err),
		)
		result.Errors = append(result.Errors, types.DeliveryError{
			TargetInstanceID: conn.To.NodeID,
			ConnectionID:     conn.ID,
			Code:             types.DeliveryChannelError,
			Reason:           err.Error(),
		})
		return result
	}

	r.deliveries.Add(1)
	r.record(code)
	result.Delivered = append(result.Delivered, types.Delivery{
		TargetInstanceID: conn.To.NodeID,
		ConnectionID:     conn.ID,
		Code:             code,
	})
	return result
}

// connectionsFrom snapshots the enabled connections whose source is the
// given (instance, port), in creation order.
func (r *Runtime) connectionsFrom(instanceID, portID string) []types.PipelineConnection {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []types.PipelineConnection
	for _, cid := range r.order {
		conn, ok := r.connections[cid]
		if !ok || !conn.Enabled {
			continue
		}
		if conn.From.NodeID == instanceID && conn.From.PortID == portID {
			out = append(out, *conn)
		}
	}
	return out
}

func (r *Runtime) emitWidgetError(instanceID, portID, reason string) {
	r.events.Emit(types.Event{
		Type:  types.EventWidgetError,
		Scope: types.ScopeCanvas,
		Payload: map[string]interface{}{
			"instanceId": instanceID,
			"portId":     portID,
			"reason":     reason,
		},
		SourceInstanceID: instanceID,
		Timestamp:        time.Now(),
	})
}

func (r *Runtime) fail(derr types.DeliveryError) types.RouteResult {
	r.routingErrors.Add(1)
	r.record(derr.Code)
	return types.RouteResult{Errors: []types.DeliveryError{derr}}
}

func (r *Runtime) record(code types.DeliveryCode) {
	if r.metrics != nil {
		r.metrics.Deliveries.WithLabelValues(string(code)).Inc()
	}
}

// Export captures the connection graph as a persistable pipeline owned
// by the given scope.
func (r *Runtime) Export(pipelineID, scopeID string) *types.Pipeline {
	now := time.Now()
	return &types.Pipeline{
		ID:          pipelineID,
		ScopeID:     scopeID,
		Connections: r.Connections(),
		Enabled:     true,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// Import restores a persisted pipeline's connections into the graph,
// keeping their ids. Existing connections are untouched; duplicate ids
// are refused.
func (r *Runtime) Import(p *types.Pipeline) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, conn := range p.Connections {
		if _, exists := r.connections[conn.ID]; exists {
			return fmt.Errorf("connection %s already present", conn.ID)
		}
	}
	for i := range p.Connections {
		cp := p.Connections[i]
		r.connections[cp.ID] = &cp
		r.order = append(r.order, cp.ID)
	}

	r.logger.Info("Imported pipeline",
		zap.String("pipeline_id", p.ID),
		zap.Int("connections", len(p.Connections)),
	)
	return nil
}

// Stats returns routing counters
func (r *Runtime) Stats() types.PipelineStats {
	r.mu.RLock()
	enabled := 0
	for _, conn := range r.connections {
		if conn.Enabled {
			enabled++
		}
	}
	total := len(r.connections)
	r.mu.RUnlock()

	return types.PipelineStats{
		Connections:        total,
		EnabledConnections: enabled,
		Deliveries:         r.deliveries.Load(),
		RoutingErrors:      r.routingErrors.Load(),
		DepthAborts:        r.depthAborts.Load(),
	}
}
