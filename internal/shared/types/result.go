package types

// DeliveryCode classifies routing outcomes the caller may branch on.
// Fire-and-forget semantics stay observable this way instead of hiding
// behind log lines.
type DeliveryCode string

const (
	DeliveryOK             DeliveryCode = "delivered"
	DeliveryBuffered       DeliveryCode = "buffered"
	DeliveryUnknownPort    DeliveryCode = "unknown_port"
	DeliveryUnknownSource  DeliveryCode = "unknown_source"
	DeliveryDanglingTarget DeliveryCode = "dangling_target"
	DeliveryDepthExceeded  DeliveryCode = "depth_exceeded"
	DeliveryLoopRejected   DeliveryCode = "loop_rejected"
	DeliveryUnreachable    DeliveryCode = "scope_unreachable"
	DeliverySuppressed     DeliveryCode = "suppressed" // source suspended, output held
	DeliveryChannelError   DeliveryCode = "channel_error"
)

// Delivery records one successful (or buffered) target delivery
type Delivery struct {
	TargetInstanceID string       `json:"target_instance_id"`
	ConnectionID     string       `json:"connection_id,omitempty"`
	Code             DeliveryCode `json:"code"`
}

// DeliveryError records one skipped or failed target
type DeliveryError struct {
	TargetInstanceID string       `json:"target_instance_id,omitempty"`
	ConnectionID     string       `json:"connection_id,omitempty"`
	Code             DeliveryCode `json:"code"`
	Reason           string       `json:"reason,omitempty"`
}

// RouteResult is the outcome of one RouteOutput or SendToScope call.
// Routing never throws across an isolation boundary; everything the
// caller needs to know is in here.
type RouteResult struct {
	Delivered []Delivery      `json:"delivered"`
	Errors    []DeliveryError `json:"errors,omitempty"`
}

// OK reports whether at least one delivery succeeded and none failed.
func (r RouteResult) OK() bool {
	return len(r.Errors) == 0 && len(r.Delivered) > 0
}
