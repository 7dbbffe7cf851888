/*
Package bus implements the in-process publish/subscribe event bus.

Dispatch is synchronous: Emit invokes every matching local subscriber
before returning, in subscription order for a given event type. No
ordering is guaranteed across distinct event types. Subscriptions are
keyed by (scope, type); the wildcard type "*" receives every event of
its scope.

Loop prevention applies only to metadata-bearing events, i.e. events
that may re-enter from another isolation boundary. Before invoking
handlers the bus drops any event whose hop count exceeds the limit or
whose seen-by set already contains the local context id, then records
the local context id so the next boundary can refuse a re-delivery.
Purely local events carry no metadata and are exempt; they cannot loop
across boundaries.
*/
package bus
