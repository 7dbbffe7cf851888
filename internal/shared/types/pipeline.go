package types

import "time"

// PortRef addresses one port on one node of the connection graph.
// Nodes are widget instances or system nodes.
type PortRef struct {
	NodeID string `json:"node_id"`
	PortID string `json:"port_id"`
}

// PipelineConnection is a directed output→input edge. Many-to-one and
// one-to-many are both legal. A direct two-node cycle is legal to create;
// the validator flags it but never rejects it.
type PipelineConnection struct {
	ID      string  `json:"id"`
	From    PortRef `json:"from"`
	To      PortRef `json:"to"`
	Enabled bool    `json:"enabled"`
}

// Pipeline is the ordered connection set owned by one scope. Deleted
// when its scope is deleted. External stores must round-trip this shape
// byte-for-byte.
type Pipeline struct {
	ID          string               `json:"id"`
	ScopeID     string               `json:"scope_id"`
	Connections []PipelineConnection `json:"connections"`
	Enabled     bool                 `json:"enabled"`
	CreatedAt   time.Time            `json:"created_at"`
	UpdatedAt   time.Time            `json:"updated_at"`
}

// ScopePortRef addresses a port on a widget within a named scope,
// independent of any live instance.
type ScopePortRef struct {
	WidgetID string `json:"widget_id"` // manifest id, not instance id
	PortID   string `json:"port_id"`
}

// CanvasRoute links a port in one scope to a port in another. Its
// lifecycle is independent of any widget instance: it persists across
// remounts, and routing is a no-op (not an error) while either endpoint
// is unmounted.
type CanvasRoute struct {
	ID            string       `json:"id"`
	SourceScopeID string       `json:"source_scope_id"`
	SourcePortRef ScopePortRef `json:"source_port_ref"`
	TargetScopeID string       `json:"target_scope_id"`
	TargetPortRef ScopePortRef `json:"target_port_ref"`
	Enabled       bool         `json:"enabled"`
	Bidirectional bool         `json:"bidirectional"`
	CreatedAt     time.Time    `json:"created_at"`
}

// PipelineStats contains pipeline runtime statistics
type PipelineStats struct {
	Connections        int   `json:"connections"`
	EnabledConnections int   `json:"enabled_connections"`
	Deliveries         int64 `json:"deliveries"`
	RoutingErrors      int64 `json:"routing_errors"`
	DepthAborts        int64 `json:"depth_aborts"`
}
