// Package types provides shared data structures for the Lattice core.
//
// This package defines the domain types used across all core components,
// ensuring type safety and consistent data structures.
//
// Core Types:
//   - WidgetManifest: Immutable widget declaration (ports, capabilities)
//   - PortDefinition: Typed named channel on a manifest
//   - WidgetInstance: Live mounted widget with lifecycle state
//   - Event: Bus message with scope and optional boundary metadata
//   - EventMetadata: Loop-prevention envelope for cross-boundary events
//   - PortValue: Closed tagged union carried across isolation boundaries
//
// Graph Types:
//   - PipelineConnection: Directed output→input edge
//   - Pipeline: Ordered connection set owned by one scope
//   - CanvasRoute: Cross-scope route independent of instance lifetimes
//
// Validation Types:
//   - ValidationResult, ValidationCheck: Validator output with quality score
//
// State Management:
//   - State: Widget lifecycle enum (loading → ... → destroyed, failed)
//
// Example Usage:
//
//	ev := types.Event{
//	    Type:    types.EventWidgetReady,
//	    Scope:   types.ScopeWidget,
//	    Payload: map[string]interface{}{"instance_id": instID},
//	}
package types
