// Package id provides centralized ID generation for the core.
//
// This package offers type-safe ULID generation with:
//   - Lexicographic sortability: Enables efficient time-based queries
//   - Prefixed types: Type-specific prefixes for debugging (wdg_*, conn_*, evt_*)
//   - Type safety: Separate types prevent ID misuse
//   - Compatibility: Plain strings on the wire, typed in the core
//
// Design Principles:
//   - ULIDs only: Single ID format across the whole host
//   - K-sortable: Timeline queries without timestamps
//   - Debuggable: Prefixes make logs readable
package id

import (
	"crypto/rand"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// ============================================================================
// Type-Safe ID Wrappers
// ============================================================================

// InstanceID identifies a mounted widget instance
type InstanceID string

// EventID identifies a logical event across boundaries
type EventID string

// ConnectionID identifies a pipeline connection
type ConnectionID string

// PipelineID identifies a pipeline
type PipelineID string

// RouteID identifies a canvas route
type RouteID string

// SubscriptionID identifies a cross-boundary subscription
type SubscriptionID string

// ScopeID identifies an isolation boundary (canvas, tab, user session)
type ScopeID string

// ============================================================================
// ID Prefixes (for debugging and type identification)
// ============================================================================

const (
	InstancePrefix     = "wdg"
	EventPrefix        = "evt"
	ConnectionPrefix   = "conn"
	PipelinePrefix     = "pipe"
	RoutePrefix        = "route"
	SubscriptionPrefix = "sub"
	ScopePrefix        = "scope"
)

// ============================================================================
// ULID Generator
// ============================================================================

// Generator generates ULIDs with optional prefixes
type Generator struct {
	entropy   io.Reader
	entropyMu sync.Mutex // Protects entropy reader
}

var (
	defaultGenerator *Generator
	once             sync.Once
)

// Default returns the singleton generator instance
func Default() *Generator {
	once.Do(func() {
		defaultGenerator = NewGenerator()
	})
	return defaultGenerator
}

// NewGenerator creates a new ULID generator with secure entropy
func NewGenerator() *Generator {
	return &Generator{entropy: rand.Reader}
}

// NewGeneratorWithEntropy creates a generator with custom entropy source.
// Useful for testing with deterministic entropy.
func NewGeneratorWithEntropy(entropy io.Reader) *Generator {
	return &Generator{entropy: entropy}
}

// Generate creates a new ULID
func (g *Generator) Generate() ulid.ULID {
	g.entropyMu.Lock()
	defer g.entropyMu.Unlock()

	return ulid.MustNew(ulid.Timestamp(time.Now()), g.entropy)
}

// GenerateString creates a new ULID as a string
func (g *Generator) GenerateString() string {
	return g.Generate().String()
}

// GenerateWithPrefix creates a prefixed ULID string
func (g *Generator) GenerateWithPrefix(prefix string) string {
	return fmt.Sprintf("%s_%s", prefix, g.GenerateString())
}

// ============================================================================
// Typed ID Generators
// ============================================================================

// NewInstanceID generates a new widget instance ID
func NewInstanceID() InstanceID {
	return InstanceID(Default().GenerateWithPrefix(InstancePrefix))
}

// NewEventID generates a new event ID
func NewEventID() EventID {
	return EventID(Default().GenerateWithPrefix(EventPrefix))
}

// NewConnectionID generates a new pipeline connection ID
func NewConnectionID() ConnectionID {
	return ConnectionID(Default().GenerateWithPrefix(ConnectionPrefix))
}

// NewPipelineID generates a new pipeline ID
func NewPipelineID() PipelineID {
	return PipelineID(Default().GenerateWithPrefix(PipelinePrefix))
}

// NewRouteID generates a new canvas route ID
func NewRouteID() RouteID {
	return RouteID(Default().GenerateWithPrefix(RoutePrefix))
}

// NewSubscriptionID generates a new subscription ID
func NewSubscriptionID() SubscriptionID {
	return SubscriptionID(Default().GenerateWithPrefix(SubscriptionPrefix))
}

// NewScopeID generates a new scope ID
func NewScopeID() ScopeID {
	return ScopeID(Default().GenerateWithPrefix(ScopePrefix))
}

// ============================================================================
// Parsing and Validation
// ============================================================================

// IsValid checks whether s is a well-formed ULID
func IsValid(s string) bool {
	_, err := ulid.ParseStrict(s)
	return err == nil
}

// Parse parses a ULID from its string form
func Parse(s string) (ulid.ULID, error) {
	return ulid.ParseStrict(s)
}

// Timestamp extracts the embedded timestamp from a ULID string
func Timestamp(s string) (time.Time, error) {
	u, err := ulid.ParseStrict(s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid ULID: %w", err)
	}
	return ulid.Time(u.Time()), nil
}

// StripPrefix returns the bare ULID of a prefixed id, or the input
// unchanged when no prefix is present.
func StripPrefix(s string) string {
	for i := 0; i < len(s); i++ {
		if s[i] == '_' {
			return s[i+1:]
		}
	}
	return s
}
