package registry

import (
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/latticehq/lattice/backend/internal/bus"
	"github.com/latticehq/lattice/backend/internal/infrastructure/monitoring"
	"github.com/latticehq/lattice/backend/internal/logging"
	"github.com/latticehq/lattice/backend/internal/shared/id"
	"github.com/latticehq/lattice/backend/internal/shared/types"
	"github.com/latticehq/lattice/backend/internal/shared/utils"
)

// Manager orchestrates manifests and widget instance lifecycle
type Manager struct {
	mu        sync.RWMutex
	manifests map[string]*types.WidgetManifest // key: id@version, protected by mu
	instances map[string]*types.WidgetInstance // protected by mu

	eventBus *bus.Bus
	logger   *logging.Logger
	metrics  *monitoring.Metrics
}

// NewManager creates a new widget registry
func NewManager(eventBus *bus.Bus, logger *logging.Logger) *Manager {
	return &Manager{
		manifests: make(map[string]*types.WidgetManifest),
		instances: make(map[string]*types.WidgetInstance),
		eventBus:  eventBus,
		logger:    logger.Component("registry"),
	}
}

// WithMetrics adds metrics tracking to the manager
func (m *Manager) WithMetrics(metrics *monitoring.Metrics) *Manager {
	m.metrics = metrics
	return m
}

// RegisterManifest adds an immutable manifest. Re-registering the same
// id@version fails; publish a new version instead.
func (m *Manager) RegisterManifest(manifest *types.WidgetManifest) error {
	if err := validateManifest(manifest); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	key := manifest.Key()
	if _, exists := m.manifests[key]; exists {
		return fmt.Errorf("manifest %s already registered; manifests are immutable", key)
	}

	// Store a copy so later caller mutations cannot reach the registry
	cp := *manifest
	m.manifests[key] = &cp

	m.logger.Info("Registered manifest",
		zap.String("manifest", key),
		zap.Int("inputs", len(cp.Ports.Inputs)),
		zap.Int("outputs", len(cp.Ports.Outputs)),
	)
	return nil
}

// Manifest retrieves a manifest by its id@version key
func (m *Manager) Manifest(key string) (*types.WidgetManifest, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	manifest, ok := m.manifests[key]
	if !ok {
		return nil, false
	}
	cp := *manifest
	return &cp, true
}

// Manifests returns copies of every registered manifest
func (m *Manager) Manifests() []*types.WidgetManifest {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*types.WidgetManifest, 0, len(m.manifests))
	for _, manifest := range m.manifests {
		cp := *manifest
		out = append(out, &cp)
	}
	return out
}

// ManifestFor resolves the manifest of a live instance
func (m *Manager) ManifestFor(instanceID string) (*types.WidgetManifest, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	inst, ok := m.instances[instanceID]
	if !ok {
		return nil, false
	}
	manifest, ok := m.manifests[inst.ManifestID]
	if !ok {
		return nil, false
	}
	cp := *manifest
	return &cp, true
}

// Mount creates a new widget instance in the loading state
func (m *Manager) Mount(manifestKey, scopeID string) (*types.WidgetInstance, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.manifests[manifestKey]; !ok {
		return nil, fmt.Errorf("unknown manifest %s", manifestKey)
	}

	inst := &types.WidgetInstance{
		InstanceID: string(id.NewInstanceID()),
		ManifestID: manifestKey,
		ScopeID:    scopeID,
		State:      types.StateLoading,
		MountedAt:  time.Now(),
	}
	m.instances[inst.InstanceID] = inst

	if m.metrics != nil {
		m.metrics.WidgetsTotal.Inc()
	}

	cp := *inst
	return &cp, nil
}

// Get retrieves an instance by ID
func (m *Manager) Get(instanceID string) (*types.WidgetInstance, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	inst, ok := m.instances[instanceID]
	if !ok {
		return nil, false
	}
	cp := *inst
	return &cp, true
}

// List returns all instances, optionally filtered by state
func (m *Manager) List(state *types.State) []*types.WidgetInstance {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*types.WidgetInstance, 0, len(m.instances))
	for _, inst := range m.instances {
		if state == nil || inst.State == *state {
			cp := *inst
			out = append(out, &cp)
		}
	}
	return out
}

// Transition moves an instance to the next lifecycle state, enforcing
// the state machine. Destroyed instances leave the registry.
func (m *Manager) Transition(instanceID string, next types.State) error {
	m.mu.Lock()

	inst, ok := m.instances[instanceID]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("unknown instance %s", instanceID)
	}

	if !inst.State.CanTransition(next) {
		from := inst.State
		m.mu.Unlock()
		return fmt.Errorf("illegal transition %s → %s for %s", from, next, instanceID)
	}

	prev := inst.State
	inst.State = next

	if next == types.StateDestroyed {
		delete(m.instances, instanceID)
	}
	m.updateActiveGauge()
	scopeID := inst.ScopeID
	m.mu.Unlock()

	m.logger.Debug("Lifecycle transition",
		zap.String("instance_id", instanceID),
		zap.String("from", string(prev)),
		zap.String("to", string(next)),
	)

	m.announce(instanceID, scopeID, next)
	return nil
}

// Fail marks a handshake-stage instance as terminally failed and
// reports it on the bus. Reported, never thrown.
func (m *Manager) Fail(instanceID, reason string) error {
	m.mu.Lock()

	inst, ok := m.instances[instanceID]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("unknown instance %s", instanceID)
	}
	if !inst.State.CanTransition(types.StateFailed) {
		from := inst.State
		m.mu.Unlock()
		return fmt.Errorf("illegal transition %s → %s for %s", from, types.StateFailed, instanceID)
	}

	inst.State = types.StateFailed
	inst.FailReason = reason
	m.updateActiveGauge()
	scopeID := inst.ScopeID
	m.mu.Unlock()

	if m.metrics != nil {
		m.metrics.WidgetsFailed.Inc()
	}
	m.logger.Error("Widget failed",
		zap.String("instance_id", instanceID),
		zap.String("reason", reason),
	)

	if m.eventBus != nil {
		m.eventBus.Emit(types.Event{
			Type:             types.EventWidgetFailed,
			Scope:            types.ScopeCanvas,
			TargetInstanceID: instanceID,
			Payload:          map[string]interface{}{"instance_id": instanceID, "scope_id": scopeID, "reason": reason},
		})
	}
	return nil
}

// Unmount walks an instance through teardown and removes it. Pending
// buffered deliveries are the channel adapter's to discard; the registry
// only owns the state bookkeeping.
func (m *Manager) Unmount(instanceID string) error {
	m.mu.RLock()
	inst, ok := m.instances[instanceID]
	var current types.State
	if ok {
		current = inst.State
	}
	m.mu.RUnlock()

	if !ok {
		return fmt.Errorf("unknown instance %s", instanceID)
	}
	if current.Terminal() {
		return fmt.Errorf("instance %s already terminal (%s)", instanceID, current)
	}

	if current != types.StateUnmounting {
		if err := m.Transition(instanceID, types.StateUnmounting); err != nil {
			return err
		}
	}
	return m.Transition(instanceID, types.StateDestroyed)
}

// Stats returns registry statistics
func (m *Manager) Stats() types.RegistryStats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	byState := make(map[types.State]int)
	for _, inst := range m.instances {
		byState[inst.State]++
	}

	versions := make(map[string]int)
	for _, manifest := range m.manifests {
		versions[manifest.ID]++
	}

	return types.RegistryStats{
		Manifests:        len(m.manifests),
		TotalInstances:   len(m.instances),
		InstancesByState: byState,
		ManifestVersions: versions,
	}
}

// announce publishes lifecycle events other components react to
func (m *Manager) announce(instanceID, scopeID string, state types.State) {
	if m.eventBus == nil {
		return
	}

	var eventType string
	switch state {
	case types.StateSuspended:
		eventType = types.EventWidgetSuspended
	case types.StateActive:
		eventType = types.EventWidgetResumed
	case types.StateDestroyed:
		eventType = types.EventWidgetDestroyed
	default:
		return
	}

	m.eventBus.Emit(types.Event{
		Type:             eventType,
		Scope:            types.ScopeCanvas,
		TargetInstanceID: instanceID,
		Payload:          map[string]interface{}{"instance_id": instanceID, "scope_id": scopeID},
	})
}

// updateActiveGauge refreshes the active-widget gauge (must hold mu)
func (m *Manager) updateActiveGauge() {
	if m.metrics == nil {
		return
	}
	active := 0
	for _, inst := range m.instances {
		if inst.State == types.StateActive {
			active++
		}
	}
	m.metrics.WidgetsActive.Set(float64(active))
}

// validateManifest enforces the structural invariants a manifest must
// satisfy before registration. Deeper checks (schema, scoring) belong to
// the validator; these are the non-negotiables.
func validateManifest(manifest *types.WidgetManifest) error {
	if manifest == nil {
		return fmt.Errorf("manifest is nil")
	}
	if err := utils.ValidateWidgetID(manifest.ID); err != nil {
		return err
	}
	if manifest.Version == "" {
		return fmt.Errorf("manifest %s missing version", manifest.ID)
	}
	if manifest.Entry == "" {
		return fmt.Errorf("manifest %s missing entry", manifest.ID)
	}

	seen := make(map[string]bool)
	for _, p := range manifest.Ports.Inputs {
		if err := utils.ValidatePortID(p.ID); err != nil {
			return fmt.Errorf("input port: %w", err)
		}
		if !types.ValidPortType(p.Type) {
			return fmt.Errorf("input port %s has invalid type %q", p.ID, p.Type)
		}
		if seen[p.ID] {
			return fmt.Errorf("duplicate input port id %q", p.ID)
		}
		seen[p.ID] = true
	}

	seen = make(map[string]bool)
	for _, p := range manifest.Ports.Outputs {
		if err := utils.ValidatePortID(p.ID); err != nil {
			return fmt.Errorf("output port: %w", err)
		}
		if !types.ValidPortType(p.Type) {
			return fmt.Errorf("output port %s has invalid type %q", p.ID, p.Type)
		}
		if seen[p.ID] {
			return fmt.Errorf("duplicate output port id %q", p.ID)
		}
		seen[p.ID] = true
	}

	return nil
}
