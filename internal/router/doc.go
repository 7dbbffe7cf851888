/*
Package router extends event routing across isolated top-level contexts:
other canvases, other tabs, other authenticated users.

The router keeps a live table of reachable remote scopes fed by a
presence heartbeat. The transport delivering heartbeats and events is an
external collaborator behind the ScopeTransport interface; the router
only decides where events go and stamps the loop-prevention metadata
that makes cross-boundary delivery safe.

Metadata discipline: outbound events get an event id, hop count 0, and
a seen-by set containing the origin context. Each receipt increments the
hop count; the local bus performs the seen-by and hop-limit checks and
marks the context as seen during local dispatch. The router never marks
seen-by itself, otherwise an event would be rejected in its own origin
context.

Sends to an unreachable scope fail silently with a logged warning.
Remote availability is inherently racy; callers needing confirmation
must use an application-level acknowledgment event. Each remote scope
gets its own circuit breaker so a flapping peer cannot stall sends to
healthy ones.
*/
package router
