package types

import "time"

// Scope identifies the isolation level an event is addressed to
type Scope string

const (
	ScopeWidget Scope = "widget"
	ScopeCanvas Scope = "canvas"
	ScopeSystem Scope = "system"
	ScopeGlobal Scope = "global"
)

// Well-known event types emitted by the core itself. Widget-defined
// event types are arbitrary strings and never collide with these by
// convention (core types use the "widget:" / "scope:" prefixes).
const (
	EventWidgetReady     = "widget:ready"
	EventWidgetError     = "widget:error"
	EventWidgetFailed    = "widget:failed"
	EventWidgetSuspended = "widget:suspended"
	EventWidgetResumed   = "widget:resumed"
	EventWidgetDestroyed = "widget:destroyed"
	EventScopeDiscovered = "scope:discovered"
	EventScopeLost       = "scope:lost"

	// EventTypeWildcard subscribes a handler to every event of a scope.
	EventTypeWildcard = "*"
)

// MaxHops bounds how many isolation boundaries a single logical event
// may cross before delivery is refused.
const MaxHops = 10

// EventMetadata travels with events that may cross an isolation
// boundary. Purely local events carry none; the bus loop checks only
// apply when metadata is present.
type EventMetadata struct {
	EventID         string   `json:"event_id"`
	OriginContextID string   `json:"origin_context_id"`
	OriginDeviceID  string   `json:"origin_device_id,omitempty"`
	OriginSessionID string   `json:"origin_session_id,omitempty"`
	SeenBy          []string `json:"seen_by"`
	HopCount        int      `json:"hop_count"`
	OriginTimestamp int64    `json:"origin_timestamp"`
}

// Seen reports whether contextID already processed this event.
func (m *EventMetadata) Seen(contextID string) bool {
	for _, id := range m.SeenBy {
		if id == contextID {
			return true
		}
	}
	return false
}

// MarkSeen records contextID in the seen set. Idempotent.
func (m *EventMetadata) MarkSeen(contextID string) {
	if !m.Seen(contextID) {
		m.SeenBy = append(m.SeenBy, contextID)
	}
}

// Clone returns a deep copy so a hop never aliases the sender's metadata.
func (m *EventMetadata) Clone() *EventMetadata {
	if m == nil {
		return nil
	}
	cp := *m
	cp.SeenBy = append([]string(nil), m.SeenBy...)
	return &cp
}

// Event is the unit of communication on the bus. Value object: immutable
// once dispatched.
type Event struct {
	Type             string         `json:"type"`
	Scope            Scope          `json:"scope"`
	Payload          interface{}    `json:"payload,omitempty"`
	SourceInstanceID string         `json:"source_instance_id,omitempty"`
	TargetInstanceID string         `json:"target_instance_id,omitempty"`
	Timestamp        time.Time      `json:"timestamp"`
	Metadata         *EventMetadata `json:"metadata,omitempty"`
}

// PortPayload is the payload shape for pipeline input deliveries and
// sandbox emit messages: { portId, value }.
type PortPayload struct {
	PortID string      `json:"portId"`
	Value  interface{} `json:"value"`

	// Depth counts routing hops behind this delivery. Host-side only;
	// the channel adapter remembers it and stamps it on the emissions
	// the delivery provokes, so cyclic graphs abort instead of cascading.
	Depth int `json:"-"`
}
