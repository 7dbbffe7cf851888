/*
Package pipeline holds the typed connection graph and routes emitted
widget outputs to connected inputs.

RouteOutput is the hot path: validate the declared output port, look up
enabled connections from that (node, port), resolve each target to a
live instance, and deliver through the target's channel adapter. No type
coercion happens here; compatibility is checked once at
connection-creation time. Dangling targets are skipped silently since
widgets remount frequently, and nothing is ever thrown across the
isolation boundary.

Local widget-scope events carry no hop-count metadata, so a cyclic graph
cannot be bounded by the bus loop checks. The runtime therefore counts
chain depth through the delivery path itself: every delivered payload is
stamped with depth+1, the channel adapter echoes the stamp onto the
emissions that delivery provokes, and a chain reaching the configured
limit aborts with a reported error. The count rides the payload rather
than any process-global state, so the guard holds across asynchronous
widget handlers and concurrent unrelated chains never starve each other.
The limit is a tunable, not a constant; cycles can be legitimate
feedback loops.

Routing runs against the connection snapshot taken at call time. A
connection removed mid-route still completes delivery to the targets
resolved before removal.
*/
package pipeline
