package utils

import (
	"fmt"
	"regexp"
	"unicode/utf8"
)

// Payload size limits (in bytes)
const (
	MaxPayloadSize  = 1 * 1024 * 1024 // 1MB - maximum serialized event payload
	MaxManifestSize = 256 * 1024      // 256KB - manifest document limit
	MaxEntrySize    = 2 * 1024 * 1024 // 2MB - bundle entry resource limit
	MaxMessageSize  = 64 * 1024       // 64KB - single channel message limit
)

// String length limits
const (
	MaxWidgetIDLength    = 64
	MaxPortIDLength      = 64
	MaxNameLength        = 256
	MaxDescriptionLength = 2048
	MaxCapabilityLength  = 128
	MaxScopeIDLength     = 128
)

// Regular expressions for validation
var (
	// WidgetIDPattern allows lowercase alphanumeric and hyphens
	WidgetIDPattern = regexp.MustCompile(`^[a-z0-9-]+$`)
	// PortIDPattern allows alphanumeric, hyphens, underscores
	PortIDPattern = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)
	// CapabilityPattern enforces the <domain>.<action> shape
	CapabilityPattern = regexp.MustCompile(`^[a-z][a-z0-9]*\.[a-z][a-z0-9_]*$`)
)

// ValidateWidgetID checks a manifest id for shape and length.
func ValidateWidgetID(id string) error {
	if id == "" {
		return fmt.Errorf("widget id cannot be empty")
	}
	if len(id) > MaxWidgetIDLength {
		return fmt.Errorf("widget id exceeds %d characters", MaxWidgetIDLength)
	}
	if !WidgetIDPattern.MatchString(id) {
		return fmt.Errorf("widget id %q must be lowercase alphanumeric with hyphens", id)
	}
	return nil
}

// ValidatePortID checks a port id for shape and length.
func ValidatePortID(id string) error {
	if id == "" {
		return fmt.Errorf("port id cannot be empty")
	}
	if len(id) > MaxPortIDLength {
		return fmt.Errorf("port id exceeds %d characters", MaxPortIDLength)
	}
	if !PortIDPattern.MatchString(id) {
		return fmt.Errorf("port id %q contains invalid characters", id)
	}
	return nil
}

// ValidateCapability checks a capability id for the namespaced shape.
func ValidateCapability(capability string) error {
	if capability == "" {
		return fmt.Errorf("capability cannot be empty")
	}
	if len(capability) > MaxCapabilityLength {
		return fmt.Errorf("capability exceeds %d characters", MaxCapabilityLength)
	}
	if !CapabilityPattern.MatchString(capability) {
		return fmt.Errorf("capability %q must match <domain>.<action>", capability)
	}
	return nil
}

// PayloadSizeValidator validates serialized payload size limits
type PayloadSizeValidator struct {
	maxSize int
}

// NewPayloadSizeValidator creates a validator with the specified max size
func NewPayloadSizeValidator(maxSize int) *PayloadSizeValidator {
	return &PayloadSizeValidator{maxSize: maxSize}
}

// DefaultPayloadValidator returns a validator with the default 1MB limit
func DefaultPayloadValidator() *PayloadSizeValidator {
	return NewPayloadSizeValidator(MaxPayloadSize)
}

// Validate checks the serialized payload against the size limit and
// rejects invalid UTF-8, which cannot have come from a JSON serializer.
func (v *PayloadSizeValidator) Validate(data []byte) error {
	if len(data) > v.maxSize {
		return fmt.Errorf("payload size %d exceeds limit %d", len(data), v.maxSize)
	}
	if !utf8.Valid(data) {
		return fmt.Errorf("payload is not valid UTF-8")
	}
	return nil
}
