package types

import "fmt"

// PortType is the closed set of types a port may declare
type PortType string

const (
	TypeString  PortType = "string"
	TypeNumber  PortType = "number"
	TypeBoolean PortType = "boolean"
	TypeObject  PortType = "object"
	TypeArray   PortType = "array"
	TypeVoid    PortType = "void"
	TypeEvent   PortType = "event"
	TypeAny     PortType = "any"
)

// ValidPortType reports whether t is a member of the closed type set.
func ValidPortType(t PortType) bool {
	switch t {
	case TypeString, TypeNumber, TypeBoolean, TypeObject, TypeArray, TypeVoid, TypeEvent, TypeAny:
		return true
	}
	return false
}

// PortValue is the closed tagged union carried across isolation
// boundaries. The transport layer validates raw payloads into this shape
// before they enter the typed core.
type PortValue struct {
	Kind    PortType               `json:"kind"`
	Str     string                 `json:"str,omitempty"`
	Num     float64                `json:"num,omitempty"`
	Bool    bool                   `json:"bool,omitempty"`
	Object  map[string]interface{} `json:"object,omitempty"`
	Array   []interface{}          `json:"array,omitempty"`
	Generic interface{}            `json:"generic,omitempty"` // kind "event"/"any" carrier
}

// StringValue wraps a string payload.
func StringValue(s string) PortValue { return PortValue{Kind: TypeString, Str: s} }

// NumberValue wraps a numeric payload.
func NumberValue(n float64) PortValue { return PortValue{Kind: TypeNumber, Num: n} }

// BoolValue wraps a boolean payload.
func BoolValue(b bool) PortValue { return PortValue{Kind: TypeBoolean, Bool: b} }

// ObjectValue wraps a structured payload.
func ObjectValue(o map[string]interface{}) PortValue { return PortValue{Kind: TypeObject, Object: o} }

// ArrayValue wraps a list payload.
func ArrayValue(a []interface{}) PortValue { return PortValue{Kind: TypeArray, Array: a} }

// VoidValue is a payload-less signal.
func VoidValue() PortValue { return PortValue{Kind: TypeVoid} }

// AnyValue wraps an untyped payload.
func AnyValue(v interface{}) PortValue { return PortValue{Kind: TypeAny, Generic: v} }

// FromRaw classifies a decoded JSON value into the tagged union.
func FromRaw(v interface{}) PortValue {
	switch x := v.(type) {
	case nil:
		return VoidValue()
	case string:
		return StringValue(x)
	case float64:
		return NumberValue(x)
	case int:
		return NumberValue(float64(x))
	case int64:
		return NumberValue(float64(x))
	case bool:
		return BoolValue(x)
	case map[string]interface{}:
		return ObjectValue(x)
	case []interface{}:
		return ArrayValue(x)
	default:
		return AnyValue(v)
	}
}

// Raw unwraps the union back into a plain value for serialization.
func (v PortValue) Raw() interface{} {
	switch v.Kind {
	case TypeString:
		return v.Str
	case TypeNumber:
		return v.Num
	case TypeBoolean:
		return v.Bool
	case TypeObject:
		return v.Object
	case TypeArray:
		return v.Array
	case TypeVoid:
		return nil
	default:
		return v.Generic
	}
}

// Conforms checks the value against a declared port type. "any" and
// "event" accept everything; "void" accepts only void.
func (v PortValue) Conforms(declared PortType) error {
	if declared == TypeAny || declared == TypeEvent {
		return nil
	}
	if v.Kind == declared {
		return nil
	}
	return fmt.Errorf("value of kind %q does not conform to declared port type %q", v.Kind, declared)
}
