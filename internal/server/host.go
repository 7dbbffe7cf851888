package server

import (
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/latticehq/lattice/backend/internal/bundle"
	"github.com/latticehq/lattice/backend/internal/bus"
	"github.com/latticehq/lattice/backend/internal/capability"
	"github.com/latticehq/lattice/backend/internal/channel"
	"github.com/latticehq/lattice/backend/internal/infrastructure/config"
	"github.com/latticehq/lattice/backend/internal/infrastructure/monitoring"
	"github.com/latticehq/lattice/backend/internal/logging"
	"github.com/latticehq/lattice/backend/internal/pipeline"
	"github.com/latticehq/lattice/backend/internal/registry"
	"github.com/latticehq/lattice/backend/internal/router"
	"github.com/latticehq/lattice/backend/internal/sandbox"
	"github.com/latticehq/lattice/backend/internal/shared/id"
	"github.com/latticehq/lattice/backend/internal/shared/types"
	"github.com/latticehq/lattice/backend/internal/validator"
	"github.com/latticehq/lattice/backend/internal/ws"
)

// Host assembles the core into one running canvas: registry, bus,
// pipeline, router, validator, and the channel adapters of every
// mounted widget. Constructor-injected throughout; two Hosts coexist in
// one process, which is exactly how the tests drive cross-boundary
// behavior.
type Host struct {
	cfg       *config.Config
	logger    *logging.Logger
	metrics   *monitoring.Metrics
	bus       *bus.Bus
	registry  *registry.Manager
	matcher   *capability.Matcher
	pipeline  *pipeline.Runtime
	router    *router.Router
	routes    *router.RouteTable
	validator *validator.Validator
	loader    *bundle.Loader
	fetcher   *bundle.Fetcher
	channels  *ws.ChannelHandler
	bridge    *ws.ScopeBridge

	mu       sync.RWMutex
	adapters map[string]*channel.Adapter
	entries  map[string][]byte // manifest key -> entry script
}

// lateReceiver forwards bridge frames to a router assigned after both
// halves exist
type lateReceiver struct {
	router *router.Router
}

func (l *lateReceiver) HandleAnnounce(scopeID string) {
	if l.router != nil {
		l.router.HandleAnnounce(scopeID)
	}
}

func (l *lateReceiver) Receive(fromScopeID string, ev types.Event) bool {
	if l.router == nil {
		return false
	}
	return l.router.Receive(fromScopeID, ev)
}

// NewHost wires the core together for one scope
func NewHost(cfg *config.Config, logger *logging.Logger) (*Host, error) {
	metrics := monitoring.NewMetrics()
	contextID := cfg.Server.ScopeID + "/" + string(id.NewScopeID())
	eventBus := bus.New(contextID, logger,
		bus.WithMetrics(metrics),
		bus.WithMaxHops(cfg.Routing.MaxHops),
	)

	h := &Host{
		cfg:      cfg,
		logger:   logger.Component("host"),
		metrics:  metrics,
		bus:      eventBus,
		registry: registry.NewManager(eventBus, logger).WithMetrics(metrics),
		matcher:  capability.NewMatcher(),
		channels: ws.NewChannelHandler(logger),
		adapters: make(map[string]*channel.Adapter),
		entries:  make(map[string][]byte),
	}

	h.pipeline = pipeline.NewRuntime(h.registry, eventBus, logger,
		pipeline.WithMetrics(metrics),
		pipeline.WithMaxDepth(cfg.Routing.MaxDepth),
		pipeline.WithChecker(h.matcher),
	)

	// Bridge and router reference each other; the receiver shim breaks
	// the construction cycle.
	recv := &lateReceiver{}
	h.bridge = ws.NewScopeBridge(cfg.Server.ScopeID, recv, logger)
	h.router = router.New(cfg.Server.ScopeID, eventBus, h.bridge, cfg.Discovery, logger,
		router.WithMetrics(metrics),
	)
	recv.router = h.router
	h.routes = router.NewRouteTable(h.router, h)

	v, err := validator.New(logger)
	if err != nil {
		return nil, err
	}
	h.validator = v.WithMetrics(metrics)

	h.loader = bundle.NewLoader(logger)
	h.fetcher = bundle.NewFetcher(h.loader, logger)
	return h, nil
}

// Start launches the router heartbeat and dials configured peers
func (h *Host) Start() {
	h.router.Start()
	for _, peer := range h.cfg.Server.Peers {
		if err := h.bridge.Dial(peer); err != nil {
			h.logger.Warn("Peer dial failed", zap.String("peer", peer), zap.Error(err))
		}
	}
}

// Stop tears down the heartbeat and every live adapter
func (h *Host) Stop() {
	h.router.Stop()

	h.mu.Lock()
	adapters := make([]*channel.Adapter, 0, len(h.adapters))
	for _, a := range h.adapters {
		adapters = append(adapters, a)
	}
	h.adapters = make(map[string]*channel.Adapter)
	h.mu.Unlock()

	for _, a := range adapters {
		_ = a.Close()
	}
}

// RegisterBundle validates a bundle and, when it passes, registers its
// manifest and retains the entry script for sandbox mounts. The
// validation result is returned either way; score is advisory, errors
// are not.
func (h *Host) RegisterBundle(b *bundle.Bundle) (types.ValidationResult, error) {
	result := h.validator.Validate(b.RawManifest, b.Entry)
	if !result.Passed {
		return result, fmt.Errorf("bundle %s failed validation", b.Manifest.Key())
	}
	if err := h.registry.RegisterManifest(b.Manifest); err != nil {
		return result, err
	}

	h.mu.Lock()
	h.entries[b.Manifest.Key()] = b.Entry
	h.mu.Unlock()
	return result, nil
}

// MountWidget mounts a widget instance. Remote instances get a
// WebSocket transport the widget attaches to; local ones run their
// entry script in the in-process sandbox.
func (h *Host) MountWidget(manifestKey string, remote bool) (*types.WidgetInstance, error) {
	inst, err := h.registry.Mount(manifestKey, h.cfg.Server.ScopeID)
	if err != nil {
		return nil, err
	}

	var transport channel.Transport
	if remote {
		transport = h.channels.Register(inst.InstanceID)
	} else {
		h.mu.RLock()
		entry, ok := h.entries[manifestKey]
		h.mu.RUnlock()
		if !ok {
			_ = h.registry.Unmount(inst.InstanceID)
			return nil, fmt.Errorf("no entry script retained for %s; register its bundle first", manifestKey)
		}
		transport = sandbox.New(inst.InstanceID, string(entry), h.logger)
	}

	adapter := channel.NewAdapter(inst.InstanceID, transport, h.cfg.Handshake, channel.Callbacks{
		OnReady:         h.widgetReady,
		OnFailed:        h.widgetFailed,
		OnEmit:          h.widgetEmit,
		OnProtocolError: h.widgetProtocolError,
	}, h.logger).WithMetrics(h.metrics)

	h.mu.Lock()
	h.adapters[inst.InstanceID] = adapter
	h.mu.Unlock()
	h.pipeline.RegisterDeliverer(inst.InstanceID, adapter)

	// The isolated context exists as soon as the transport does
	if err := h.registry.Transition(inst.InstanceID, types.StateMounting); err != nil {
		return nil, err
	}
	if err := h.registry.Transition(inst.InstanceID, types.StateHandshake); err != nil {
		return nil, err
	}
	if err := adapter.Open(); err != nil {
		h.widgetFailed(inst.InstanceID, err.Error())
		return nil, err
	}

	mounted, _ := h.registry.Get(inst.InstanceID)
	return mounted, nil
}

// UnmountWidget tears an instance down and discards its buffers
func (h *Host) UnmountWidget(instanceID string) error {
	if err := h.registry.Unmount(instanceID); err != nil {
		return err
	}
	h.dropAdapter(instanceID)
	return nil
}

// SuspendWidget backgrounds an active instance
func (h *Host) SuspendWidget(instanceID string) error {
	if err := h.registry.Transition(instanceID, types.StateSuspended); err != nil {
		return err
	}
	if a := h.adapter(instanceID); a != nil {
		a.Suspend()
	}
	return nil
}

// ResumeWidget reactivates a suspended instance and flushes its buffer
func (h *Host) ResumeWidget(instanceID string) error {
	if err := h.registry.Transition(instanceID, types.StateActive); err != nil {
		return err
	}
	if a := h.adapter(instanceID); a != nil {
		a.Resume()
	}
	return nil
}

func (h *Host) adapter(instanceID string) *channel.Adapter {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.adapters[instanceID]
}

func (h *Host) dropAdapter(instanceID string) {
	h.mu.Lock()
	adapter := h.adapters[instanceID]
	delete(h.adapters, instanceID)
	h.mu.Unlock()

	h.pipeline.UnregisterDeliverer(instanceID)
	h.channels.Unregister(instanceID)
	if adapter != nil {
		_ = adapter.Close()
	}
}

// widgetReady completes the handshake: HANDSHAKE -> ACTIVE
func (h *Host) widgetReady(instanceID string) {
	if err := h.registry.Transition(instanceID, types.StateActive); err != nil {
		h.logger.Warn("Ready for instance not in handshake",
			zap.String("instance_id", instanceID),
			zap.Error(err),
		)
	}
}

// widgetFailed marks the instance FAILED and releases its channel
func (h *Host) widgetFailed(instanceID, reason string) {
	if err := h.registry.Fail(instanceID, reason); err != nil {
		h.logger.Warn("Fail on unknown instance",
			zap.String("instance_id", instanceID),
			zap.Error(err),
		)
	}
	h.dropAdapter(instanceID)
}

// widgetEmit routes a normalized widget output through the pipeline,
// at the chain depth the adapter observed for it
func (h *Host) widgetEmit(instanceID, portID string, value interface{}, depth int) {
	h.pipeline.RouteOutputAt(instanceID, portID, types.FromRaw(value), depth)
}

// widgetProtocolError surfaces malformed messages as widget:error
func (h *Host) widgetProtocolError(instanceID, detail string) {
	h.bus.Emit(types.Event{
		Type:  types.EventWidgetError,
		Scope: types.ScopeCanvas,
		Payload: map[string]interface{}{
			"instanceId": instanceID,
			"reason":     detail,
		},
		SourceInstanceID: instanceID,
	})
}

// InstanceOf finds the live, routable instance of a widget in this
// scope. Part of router.WidgetResolver.
func (h *Host) InstanceOf(widgetID string) (string, bool) {
	for _, inst := range h.registry.List(nil) {
		if inst.State.Terminal() || inst.State == types.StateUnmounting {
			continue
		}
		manifest, ok := h.registry.ManifestFor(inst.InstanceID)
		if !ok {
			continue
		}
		if manifest.ID == widgetID {
			return inst.InstanceID, true
		}
	}
	return "", false
}

// WidgetOf resolves a live instance back to its manifest's widget id.
// Part of router.WidgetResolver.
func (h *Host) WidgetOf(instanceID string) (string, bool) {
	manifest, ok := h.registry.ManifestFor(instanceID)
	if !ok {
		return "", false
	}
	return manifest.ID, true
}

// DeliverInput pushes a cross-scope payload into a local instance.
// Part of router.WidgetResolver.
func (h *Host) DeliverInput(instanceID string, payload types.PortPayload) (types.DeliveryCode, error) {
	a := h.adapter(instanceID)
	if a == nil {
		return types.DeliveryDanglingTarget, fmt.Errorf("no channel for instance %s", instanceID)
	}
	return a.Deliver(payload)
}
