package types

import "time"

// State represents widget lifecycle states
type State string

const (
	StateLoading    State = "loading"
	StateMounting   State = "mounting"
	StateHandshake  State = "handshake"
	StateActive     State = "active"
	StateSuspended  State = "suspended"
	StateUnmounting State = "unmounting"
	StateDestroyed  State = "destroyed"
	StateFailed     State = "failed"
)

// legalTransitions enumerates the lifecycle state machine. FAILED and
// DESTROYED are terminal.
var legalTransitions = map[State][]State{
	StateLoading:    {StateMounting},
	StateMounting:   {StateHandshake, StateUnmounting},
	StateHandshake:  {StateActive, StateFailed, StateUnmounting},
	StateActive:     {StateSuspended, StateUnmounting},
	StateSuspended:  {StateActive, StateUnmounting},
	StateUnmounting: {StateDestroyed},
}

// CanTransition reports whether moving from s to next is a legal
// lifecycle transition.
func (s State) CanTransition(next State) bool {
	for _, allowed := range legalTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Terminal reports whether the state admits no further transitions.
func (s State) Terminal() bool {
	return s == StateDestroyed || s == StateFailed
}

// PortDirection distinguishes manifest inputs from outputs
type PortDirection string

const (
	DirectionInput  PortDirection = "input"
	DirectionOutput PortDirection = "output"
)

// PortDefinition declares a typed named channel on a widget manifest.
// The ID must be unique within its direction on the manifest.
type PortDefinition struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Type        PortType `json:"type"`
	Capability  string   `json:"capability,omitempty"` // Namespaced <domain>.<action> tag
	Description string   `json:"description,omitempty"`
}

// WidgetPorts groups a manifest's declared inputs and outputs
type WidgetPorts struct {
	Inputs  []PortDefinition `json:"inputs"`
	Outputs []PortDefinition `json:"outputs"`
}

// WidgetManifest is the static declaration of a widget. Immutable once
// registered; a new version is a new manifest object, never an in-place
// mutation.
type WidgetManifest struct {
	ID              string      `json:"id"` // lowercase alphanumeric + hyphens
	Name            string      `json:"name"`
	Version         string      `json:"version"` // semver
	Entry           string      `json:"entry"`   // resource locator for the bundle entry
	Ports           WidgetPorts `json:"ports"`
	Capabilities    []string    `json:"capabilities,omitempty"`
	ProtocolVersion int         `json:"protocol_version"`
	Description     string      `json:"description,omitempty"`
	Author          string      `json:"author,omitempty"`
}

// Key returns the registry key for a manifest (id@version).
func (m *WidgetManifest) Key() string {
	return m.ID + "@" + m.Version
}

// Output finds a declared output port by id.
func (m *WidgetManifest) Output(portID string) (PortDefinition, bool) {
	for _, p := range m.Ports.Outputs {
		if p.ID == portID {
			return p, true
		}
	}
	return PortDefinition{}, false
}

// Input finds a declared input port by id.
func (m *WidgetManifest) Input(portID string) (PortDefinition, bool) {
	for _, p := range m.Ports.Inputs {
		if p.ID == portID {
			return p, true
		}
	}
	return PortDefinition{}, false
}

// WidgetInstance represents one live mount of a widget. Owned by the
// widget registry; created on mount, destroyed on unmount, never shared
// across canvases.
type WidgetInstance struct {
	InstanceID string    `json:"instance_id"`
	ManifestID string    `json:"manifest_id"` // registry key (id@version)
	ScopeID    string    `json:"scope_id"`
	State      State     `json:"state"`
	MountedAt  time.Time `json:"mounted_at"`
	FailReason string    `json:"fail_reason,omitempty"`
}

// RegistryStats contains widget registry statistics
type RegistryStats struct {
	Manifests        int            `json:"manifests"`
	TotalInstances   int            `json:"total_instances"`
	InstancesByState map[State]int  `json:"instances_by_state"`
	ManifestVersions map[string]int `json:"manifest_versions"`
}
